package core

import (
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	debversion "github.com/knqyf263/go-deb-version"

	"aptkeeper/internal/types"
)

// versionCache memoizes parsed Debian versions to avoid repeated parsing
// during relation checks and sorting. It is not safe for concurrent use;
// every operation creates its own.
type versionCache struct {
	deb map[string]debversion.Version
	bad map[string]struct{}
}

// newVersionCache creates an empty cache.
func newVersionCache() *versionCache {
	return &versionCache{
		deb: map[string]debversion.Version{},
		bad: map[string]struct{}{},
	}
}

// debVersion returns a parsed Debian version, caching the result.
func (c *versionCache) debVersion(value string) (debversion.Version, error) {
	if parsed, ok := c.deb[value]; ok {
		return parsed, nil
	}
	if _, ok := c.bad[value]; ok {
		return debversion.Version{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid debian version " + value)
	}
	parsed, err := debversion.NewVersion(value)
	if err != nil {
		c.bad[value] = struct{}{}
		return debversion.Version{}, err
	}
	c.deb[value] = parsed
	return parsed, nil
}

// compare returns -1, 0, or 1 comparing two version strings. Versions
// that fail to parse fall back to lexicographic ordering so sorting stays
// total.
func (c *versionCache) compare(a string, b string) int {
	if a == b {
		return 0
	}
	v1, err1 := c.debVersion(a)
	v2, err2 := c.debVersion(b)
	if err1 != nil || err2 != nil {
		return strings.Compare(a, b)
	}
	return v1.Compare(v2)
}

// satisfies checks a version against one relation.
func (c *versionCache) satisfies(version string, relation types.Relation, want string) bool {
	switch relation {
	case types.RelationNone:
		return true
	case types.RelationPattern:
		return globMatch(want, version)
	}
	cmp := c.compare(version, want)
	switch relation {
	case types.RelationEq:
		return cmp == 0
	case types.RelationNe:
		return cmp != 0
	case types.RelationGte:
		return cmp >= 0
	case types.RelationLte:
		return cmp <= 0
	case types.RelationGt:
		return cmp > 0
	case types.RelationLt:
		return cmp < 0
	default:
		return false
	}
}

// CompareVersions compares two Debian versions.
func CompareVersions(a string, b string) int {
	return newVersionCache().compare(a, b)
}

// ValidVersion reports whether value parses as a Debian version.
func ValidVersion(value string) bool {
	_, err := debversion.NewVersion(value)
	return err == nil
}

// SortVersions returns a new slice sorted by Debian version ascending.
func SortVersions(values []string) []string {
	cache := newVersionCache()
	ordered := append([]string(nil), values...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return cache.compare(ordered[i], ordered[j]) < 0
	})
	return ordered
}

// sortPackagesByNameVersion orders packages by name, then Debian version,
// then architecture, then key. This is the emission order of index files.
func sortPackagesByNameVersion(pkgs []types.Package, cache *versionCache) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].Name != pkgs[j].Name {
			return pkgs[i].Name < pkgs[j].Name
		}
		if cmp := cache.compare(pkgs[i].Version, pkgs[j].Version); cmp != 0 {
			return cmp < 0
		}
		if pkgs[i].Architecture != pkgs[j].Architecture {
			return pkgs[i].Architecture < pkgs[j].Architecture
		}
		return pkgs[i].Key() < pkgs[j].Key()
	})
}
