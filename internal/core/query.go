package core

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/types"
)

// QueryParseError reports where a package query stopped making sense.
type QueryParseError struct {
	Pos int
	Msg string
}

func (e *QueryParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
}

func parseError(pos int, msg string) error {
	cause := &QueryParseError{Pos: pos, Msg: msg}
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("parsing failed: " + cause.Error()).
		WithCause(cause)
}

// PackageQuery is a predicate over package records.
type PackageQuery interface {
	Matches(pkg types.Package) bool
	String() string
}

type orQuery struct{ left, right PackageQuery }

func (q orQuery) Matches(pkg types.Package) bool {
	return q.left.Matches(pkg) || q.right.Matches(pkg)
}

func (q orQuery) String() string {
	return "(" + q.left.String() + ") | (" + q.right.String() + ")"
}

type andQuery struct{ left, right PackageQuery }

func (q andQuery) Matches(pkg types.Package) bool {
	return q.left.Matches(pkg) && q.right.Matches(pkg)
}

func (q andQuery) String() string {
	return "(" + q.left.String() + "), (" + q.right.String() + ")"
}

type notQuery struct{ inner PackageQuery }

func (q notQuery) Matches(pkg types.Package) bool {
	return !q.inner.Matches(pkg)
}

func (q notQuery) String() string {
	return "!(" + q.inner.String() + ")"
}

// fieldQuery compares a stanza or virtual field. A RelationNone query only
// checks that the field is present.
type fieldQuery struct {
	field    string
	relation types.Relation
	value    string
}

func (q fieldQuery) Matches(pkg types.Package) bool {
	value, present := packageField(pkg, q.field)
	if q.relation == types.RelationNone {
		return present
	}
	if !present {
		return false
	}
	if q.relation == types.RelationPattern {
		return globMatch(q.value, value)
	}
	if versionField(q.field) || (q.relation != types.RelationEq && q.relation != types.RelationNe) {
		return newVersionCache().satisfies(value, q.relation, q.value)
	}
	if q.relation == types.RelationEq {
		return value == q.value
	}
	return value != q.value
}

func (q fieldQuery) String() string {
	if q.relation == types.RelationNone {
		return q.field
	}
	return q.field + " (" + string(q.relation) + " " + q.value + ")"
}

// dependencyQuery matches packages by name, relation and architecture.
// Provides are not considered; queries select concrete packages.
type dependencyQuery struct {
	dep types.Dependency
}

func (q dependencyQuery) Matches(pkg types.Package) bool {
	if pkg.Name != q.dep.Pkg {
		return false
	}
	if q.dep.Architecture != "" && pkg.Architecture != q.dep.Architecture {
		return false
	}
	return newVersionCache().satisfies(pkg.Version, q.dep.Relation, q.dep.Version)
}

func (q dependencyQuery) String() string {
	return q.dep.String()
}

// exactQuery is the name_version_arch shorthand.
type exactQuery struct {
	name    string
	version string
	arch    string
}

func (q exactQuery) Matches(pkg types.Package) bool {
	if pkg.Name != q.name || pkg.Version != q.version {
		return false
	}
	return q.arch == "" || pkg.Architecture == q.arch
}

func (q exactQuery) String() string {
	if q.arch == "" {
		return q.name + "_" + q.version
	}
	return q.name + "_" + q.version + "_" + q.arch
}

type matchAllQuery struct{}

func (matchAllQuery) Matches(types.Package) bool { return true }
func (matchAllQuery) String() string             { return "" }

// MatchAll returns a query accepting every package.
func MatchAll() PackageQuery {
	return matchAllQuery{}
}

// QueryForDependency wraps a parsed relation as a query.
func QueryForDependency(dep types.Dependency) PackageQuery {
	return dependencyQuery{dep: dep}
}

// ParseQuery parses the package query language:
//
//	or      = and ("|" and)*
//	and     = unary ("," unary)*
//	unary   = "!" unary | primary
//	primary = "(" or ")" | field [cond] | package [cond] ["{" arch "}"]
//
// Identifiers starting with an upper-case letter or "$" are fields.
func ParseQuery(value string) (PackageQuery, error) {
	p := &queryParser{input: value}
	p.skipSpace()
	if p.eof() {
		return MatchAll(), nil
	}
	q, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, parseError(p.pos, fmt.Sprintf("unexpected input %q", p.input[p.pos:]))
	}
	return q, nil
}

// ParseQueries combines several query strings with "|".
func ParseQueries(values []string) (PackageQuery, error) {
	var out PackageQuery
	for _, value := range values {
		q, err := ParseQuery(value)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = q
			continue
		}
		out = orQuery{left: out, right: q}
	}
	if out == nil {
		return MatchAll(), nil
	}
	return out, nil
}

type queryParser struct {
	input string
	pos   int
}

func (p *queryParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *queryParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *queryParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *queryParser) expect(ch byte) error {
	p.skipSpace()
	if p.peek() != ch {
		if p.eof() {
			return parseError(p.pos, fmt.Sprintf("expected %q, got end of query", ch))
		}
		return parseError(p.pos, fmt.Sprintf("expected %q, got %q", ch, p.peek()))
	}
	p.pos++
	return nil
}

func (p *queryParser) parseOr() (PackageQuery, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.peek() != '|' {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orQuery{left: left, right: right}
	}
}

func (p *queryParser) parseAnd() (PackageQuery, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.peek() != ',' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andQuery{left: left, right: right}
	}
}

func (p *queryParser) parseUnary() (PackageQuery, error) {
	p.skipSpace()
	if p.peek() == '!' {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notQuery{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *queryParser) parsePrimary() (PackageQuery, error) {
	p.skipSpace()
	if p.eof() {
		return nil, parseError(p.pos, "unexpected end of query")
	}
	if p.peek() == '(' {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return inner, nil
	}
	start := p.pos
	word := p.readWord()
	if word == "" {
		return nil, parseError(start, fmt.Sprintf("unexpected %q", p.peek()))
	}
	if isFieldName(word) {
		return p.parseField(word)
	}
	return p.parsePackage(word, start)
}

// readWord consumes an identifier up to whitespace or a delimiter.
func (p *queryParser) readWord() string {
	start := p.pos
	for !p.eof() {
		ch := p.input[p.pos]
		if unicode.IsSpace(rune(ch)) || strings.IndexByte("()|,!{}", ch) >= 0 {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *queryParser) parseField(field string) (PackageQuery, error) {
	p.skipSpace()
	if p.peek() != '(' {
		return fieldQuery{field: field}, nil
	}
	p.pos++
	relation, value, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	return fieldQuery{field: field, relation: relation, value: value}, nil
}

func (p *queryParser) parsePackage(word string, start int) (PackageQuery, error) {
	if strings.Contains(word, "_") {
		parts := strings.Split(word, "_")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, parseError(start, fmt.Sprintf("invalid package reference %q", word))
		}
		q := exactQuery{name: parts[0], version: parts[1]}
		if len(parts) == 3 {
			q.arch = parts[2]
		}
		return q, nil
	}
	dep := types.Dependency{Pkg: word}
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		relation, value, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		dep.Relation = relation
		dep.Version = value
	}
	p.skipSpace()
	if p.peek() == '{' {
		p.pos++
		p.skipSpace()
		archStart := p.pos
		arch := p.readWord()
		if arch == "" {
			return nil, parseError(archStart, "expected architecture")
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		dep.Architecture = arch
	}
	return dependencyQuery{dep: dep}, nil
}

// parseCondition reads "op value)" after the opening parenthesis.
func (p *queryParser) parseCondition() (types.Relation, string, error) {
	p.skipSpace()
	opStart := p.pos
	for !p.eof() && strings.IndexByte("<>=!%", p.input[p.pos]) >= 0 {
		p.pos++
	}
	token := p.input[opStart:p.pos]
	relation, ok := relationFromToken(token)
	if !ok {
		return types.RelationNone, "", parseError(opStart, fmt.Sprintf("unknown operator %q", token))
	}
	p.skipSpace()
	valueStart := p.pos
	closing := strings.IndexByte(p.input[p.pos:], ')')
	if closing < 0 {
		return types.RelationNone, "", parseError(len(p.input), "expected ')', got end of query")
	}
	value := strings.TrimSpace(p.input[p.pos : p.pos+closing])
	if value == "" {
		return types.RelationNone, "", parseError(valueStart, "expected value")
	}
	p.pos += closing + 1
	return relation, value, nil
}

func isFieldName(word string) bool {
	if strings.HasPrefix(word, "$") {
		return true
	}
	return unicode.IsUpper(rune(word[0]))
}

func versionField(field string) bool {
	switch strings.TrimPrefix(field, "$") {
	case "Version", "SourceVersion":
		return true
	}
	return false
}

// packageField resolves virtual fields first, then the stanza.
func packageField(pkg types.Package, field string) (string, bool) {
	switch field {
	case "$Name", "Name", "Package":
		return pkg.Name, true
	case "$Version", "Version":
		return pkg.Version, true
	case "$Architecture", "Architecture":
		return pkg.Architecture, true
	case "$Source", "Source":
		return pkg.Source(), true
	case "$SourceVersion":
		return pkg.SourceVersion(), true
	case "$PackageType":
		return pkg.PackageType(), true
	}
	if !pkg.Stanza.Has(field) {
		return "", false
	}
	return pkg.Stanza.Get(field), true
}

// globMatch applies shell-style wildcards; a malformed pattern never
// matches.
func globMatch(pattern string, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
