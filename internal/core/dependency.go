package core

import (
	"strings"

	"aptkeeper/internal/types"
)

// depSpec is one parsed alternative with its optional architecture
// restriction list ("[amd64 !i386]").
type depSpec struct {
	Dep   types.Dependency
	Archs []string
}

// ParseDependency parses a single relation such as "libc6 (>= 2.31)".
// Architecture restrictions in brackets are dropped; use
// ParseDependencyVariants to honour them.
func ParseDependency(value string) (types.Dependency, error) {
	spec, err := parseDepSpec(value)
	if err != nil {
		return types.Dependency{}, err
	}
	return spec.Dep, nil
}

// ParseDependencyVariants splits an alternatives group ("a | b (>= 2)")
// and keeps only the alternatives that apply to arch. An empty arch keeps
// every alternative.
func ParseDependencyVariants(group string, arch string) ([]types.Dependency, error) {
	var out []types.Dependency
	for _, part := range strings.Split(group, "|") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		spec, err := parseDepSpec(part)
		if err != nil {
			return nil, err
		}
		if arch != "" && !archRestrictionApplies(spec.Archs, arch) {
			continue
		}
		out = append(out, spec.Dep)
	}
	return out, nil
}

// SplitRelationList splits a comma separated relation field into groups.
func SplitRelationList(value string) []string {
	var out []string
	for _, group := range strings.Split(value, ",") {
		group = strings.Join(strings.Fields(group), " ")
		if group == "" {
			continue
		}
		out = append(out, group)
	}
	return out
}

func parseDepSpec(value string) (depSpec, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return depSpec{}, invalidRelation(value)
	}
	var archs []string
	if open := strings.Index(raw, "["); open >= 0 {
		closing := strings.Index(raw[open:], "]")
		if closing < 0 {
			return depSpec{}, invalidRelation(value)
		}
		archs = strings.Fields(raw[open+1 : open+closing])
		raw = strings.TrimSpace(raw[:open] + raw[open+closing+1:])
	}
	if open := strings.Index(raw, "<"); open >= 0 && !strings.Contains(raw, "(") {
		// build profile restrictions ("<!nocheck>") carry no version
		raw = strings.TrimSpace(raw[:open])
	}
	if idx := strings.Index(raw, ") <"); idx >= 0 {
		raw = raw[:idx+1]
	}

	name := raw
	constraint := ""
	if before, after, ok := strings.Cut(raw, "("); ok {
		name = strings.TrimSpace(before)
		after, ok = strings.CutSuffix(strings.TrimSpace(after), ")")
		if !ok {
			return depSpec{}, invalidRelation(value)
		}
		constraint = strings.TrimSpace(after)
	}
	name = normalizeDepName(name)
	if name == "" || strings.ContainsAny(name, " ()") {
		return depSpec{}, invalidRelation(value)
	}
	dep := types.Dependency{Pkg: name}
	if constraint != "" {
		relation, version, ok := splitRelation(constraint)
		if !ok {
			return depSpec{}, invalidRelation(value)
		}
		dep.Relation = relation
		dep.Version = version
	}
	return depSpec{Dep: dep, Archs: archs}, nil
}

// splitRelation parses "op version", tolerating a missing space. The
// historical "<" and ">" mean "<=" and ">=". A bare version means "=".
func splitRelation(value string) (types.Relation, string, bool) {
	value = strings.TrimSpace(value)
	opLen := 0
	for opLen < len(value) && strings.ContainsRune("<>=!%", rune(value[opLen])) {
		opLen++
	}
	version := strings.TrimSpace(value[opLen:])
	if version == "" {
		return types.RelationNone, "", false
	}
	relation, ok := relationFromToken(value[:opLen])
	if !ok {
		return types.RelationNone, "", false
	}
	return relation, version, true
}

// relationFromToken maps a version relation token to a Relation.
func relationFromToken(token string) (types.Relation, bool) {
	switch token {
	case "", "=", "==":
		return types.RelationEq, true
	case "!=":
		return types.RelationNe, true
	case ">=", ">":
		return types.RelationGte, true
	case "<=", "<":
		return types.RelationLte, true
	case ">>":
		return types.RelationGt, true
	case "<<":
		return types.RelationLt, true
	case "%":
		return types.RelationPattern, true
	default:
		return types.RelationNone, false
	}
}

// normalizeDepName strips multiarch qualifiers (":any", ":native").
func normalizeDepName(value string) string {
	name := strings.TrimSpace(value)
	if idx := strings.Index(name, ":"); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}
	return name
}

// archRestrictionApplies evaluates a "[amd64 !i386]" list for arch.
func archRestrictionApplies(archs []string, arch string) bool {
	if len(archs) == 0 || arch == types.ArchitectureSource {
		return true
	}
	negated := false
	for _, entry := range archs {
		if strings.HasPrefix(entry, "!") {
			negated = true
			if strings.TrimPrefix(entry, "!") == arch {
				return false
			}
			continue
		}
		if entry == arch || entry == types.ArchitectureAny {
			return true
		}
	}
	return negated
}

// dependencyGroups returns the relation groups that the solver follows
// for pkg under flags.
func dependencyGroups(pkg types.Package, flags types.DependencyFlags) []string {
	var groups []string
	if pkg.IsSource {
		groups = append(groups, pkg.BuildDepends...)
		groups = append(groups, pkg.BuildDependsInDep...)
		return groups
	}
	groups = append(groups, pkg.PreDepends...)
	groups = append(groups, pkg.Depends...)
	if flags.FollowRecommends {
		groups = append(groups, pkg.Recommends...)
	}
	if flags.FollowSuggests {
		groups = append(groups, pkg.Suggests...)
	}
	return groups
}

// providesDependency reports whether pkg provides dep through its Provides
// field. Unversioned provides only satisfy unversioned relations.
func providesDependency(pkg types.Package, dep types.Dependency, cache *versionCache) bool {
	for _, provide := range pkg.Provides {
		spec, err := parseDepSpec(provide)
		if err != nil || spec.Dep.Pkg != dep.Pkg {
			continue
		}
		if dep.Relation == types.RelationNone {
			return true
		}
		if spec.Dep.Relation != types.RelationEq {
			continue
		}
		if cache.satisfies(spec.Dep.Version, dep.Relation, dep.Version) {
			return true
		}
	}
	return false
}

// architectureMatches reports whether a package of pkgArch can satisfy a
// relation evaluated for arch.
func architectureMatches(pkgArch string, arch string) bool {
	if arch == "" {
		return true
	}
	if pkgArch == arch {
		return true
	}
	return pkgArch == types.ArchitectureAll && arch != types.ArchitectureSource
}

func invalidRelation(value string) error {
	return parseError(0, "unable to parse relation "+strings.TrimSpace(value))
}
