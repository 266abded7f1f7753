package core

import (
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// PackageList is an in-memory set of packages indexed by name and by
// provided virtual name. It backs every algebra operation over reflists.
type PackageList struct {
	byKey      map[string]types.Package
	byName     map[string][]string
	providers  map[string][]string
	duplicates bool
	cache      *versionCache
}

// NewPackageList creates an empty list. When allowDuplicates is false, two
// packages with the same short key but different files are rejected.
func NewPackageList(allowDuplicates bool) *PackageList {
	return &PackageList{
		byKey:      map[string]types.Package{},
		byName:     map[string][]string{},
		providers:  map[string][]string{},
		duplicates: allowDuplicates,
		cache:      newVersionCache(),
	}
}

// PackageListFrom builds a list that accepts duplicates.
func PackageListFrom(pkgs []types.Package) *PackageList {
	list := NewPackageList(true)
	for _, pkg := range pkgs {
		_ = list.Add(pkg)
	}
	return list
}

// Add inserts pkg. Re-adding an identical key is a no-op.
func (l *PackageList) Add(pkg types.Package) error {
	key := pkg.Key()
	if _, ok := l.byKey[key]; ok {
		return nil
	}
	if !l.duplicates {
		for _, other := range l.byName[pkg.Name] {
			existing := l.byKey[other]
			if existing.ShortKey() == pkg.ShortKey() {
				return errbuilder.New().
					WithCode(shared.CodeConflict).
					WithMsg(fmt.Sprintf("conflict in package %s: files differ from %s", pkg.String(), existing.String()))
			}
		}
	}
	l.byKey[key] = pkg
	l.byName[pkg.Name] = append(l.byName[pkg.Name], key)
	for _, provide := range pkg.Provides {
		spec, err := parseDepSpec(provide)
		if err != nil {
			continue
		}
		l.providers[spec.Dep.Pkg] = append(l.providers[spec.Dep.Pkg], key)
	}
	return nil
}

// Remove drops the package with key, if present.
func (l *PackageList) Remove(key string) {
	pkg, ok := l.byKey[key]
	if !ok {
		return
	}
	delete(l.byKey, key)
	l.byName[pkg.Name] = removeString(l.byName[pkg.Name], key)
	if len(l.byName[pkg.Name]) == 0 {
		delete(l.byName, pkg.Name)
	}
	for _, provide := range pkg.Provides {
		spec, err := parseDepSpec(provide)
		if err != nil {
			continue
		}
		l.providers[spec.Dep.Pkg] = removeString(l.providers[spec.Dep.Pkg], key)
		if len(l.providers[spec.Dep.Pkg]) == 0 {
			delete(l.providers, spec.Dep.Pkg)
		}
	}
}

func removeString(values []string, value string) []string {
	out := values[:0]
	for _, v := range values {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the package count.
func (l *PackageList) Len() int {
	return len(l.byKey)
}

// Has reports whether key is present.
func (l *PackageList) Has(key string) bool {
	_, ok := l.byKey[key]
	return ok
}

// Get returns the package with key.
func (l *PackageList) Get(key string) (types.Package, bool) {
	pkg, ok := l.byKey[key]
	return pkg, ok
}

// RefList returns the keys as a reflist.
func (l *PackageList) RefList() RefList {
	keys := make([]string, 0, len(l.byKey))
	for key := range l.byKey {
		keys = append(keys, key)
	}
	return NewRefList(keys...)
}

// Packages returns packages ordered by name, version and architecture.
func (l *PackageList) Packages() []types.Package {
	out := make([]types.Package, 0, len(l.byKey))
	for _, pkg := range l.byKey {
		out = append(out, pkg)
	}
	sortPackagesByNameVersion(out, l.cache)
	return out
}

// Architectures returns the distinct concrete architectures, excluding
// "all", and "source" only when includeSource is set.
func (l *PackageList) Architectures(includeSource bool) []string {
	seen := map[string]struct{}{}
	for _, pkg := range l.byKey {
		if pkg.Architecture == types.ArchitectureAll {
			continue
		}
		if pkg.Architecture == types.ArchitectureSource && !includeSource {
			continue
		}
		seen[pkg.Architecture] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for arch := range seen {
		out = append(out, arch)
	}
	sort.Strings(out)
	return out
}

// Search returns packages satisfying dep for the given architecture,
// highest version first. Providers are included. Without allMatches only
// the best candidate is returned.
func (l *PackageList) Search(dep types.Dependency, arch string, allMatches bool) []types.Package {
	if dep.Architecture != "" {
		arch = dep.Architecture
	}
	var out []types.Package
	for _, key := range l.byName[dep.Pkg] {
		pkg := l.byKey[key]
		if !architectureMatches(pkg.Architecture, arch) {
			continue
		}
		if l.cache.satisfies(pkg.Version, dep.Relation, dep.Version) {
			out = append(out, pkg)
		}
	}
	for _, key := range l.providers[dep.Pkg] {
		pkg := l.byKey[key]
		if pkg.Name == dep.Pkg || !architectureMatches(pkg.Architecture, arch) {
			continue
		}
		if providesDependency(pkg, dep, l.cache) {
			out = append(out, pkg)
		}
	}
	l.sortBestFirst(out)
	if !allMatches && len(out) > 1 {
		out = out[:1]
	}
	return out
}

// sortBestFirst orders direct matches by descending version with the
// key as tiebreaker so that selection is deterministic.
func (l *PackageList) sortBestFirst(pkgs []types.Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		if cmp := l.cache.compare(pkgs[i].Version, pkgs[j].Version); cmp != 0 {
			return cmp > 0
		}
		return pkgs[i].Key() < pkgs[j].Key()
	})
}

// Query returns the packages matching q whose architecture is in archs
// (any architecture when archs is empty).
func (l *PackageList) Query(q PackageQuery, archs []string) []types.Package {
	var out []types.Package
	for _, pkg := range l.Packages() {
		if !inArchitectures(pkg.Architecture, archs) {
			continue
		}
		if q.Matches(pkg) {
			out = append(out, pkg)
		}
	}
	return out
}

func inArchitectures(pkgArch string, archs []string) bool {
	if len(archs) == 0 {
		return true
	}
	for _, arch := range archs {
		if pkgArch == arch {
			return true
		}
	}
	return pkgArch == types.ArchitectureAll
}

// satisfiedBy reports whether some package in the list satisfies any of
// the alternatives for arch.
func (l *PackageList) satisfiedBy(alternatives []types.Dependency, arch string) bool {
	for _, dep := range alternatives {
		if len(l.Search(dep, arch, false)) > 0 {
			return true
		}
	}
	return false
}

// VerifyDependencies returns unsatisfied relations of every package in l
// for each of archs, resolved against l plus extra lists. Results are
// deduplicated and sorted.
func (l *PackageList) VerifyDependencies(flags types.DependencyFlags, archs []string, extra ...*PackageList) ([]types.Dependency, error) {
	if len(archs) == 0 {
		archs = l.Architectures(true)
	}
	pools := append([]*PackageList{l}, extra...)
	seen := map[string]types.Dependency{}
	for _, arch := range archs {
		for _, pkg := range l.Packages() {
			if !packageBuildsFor(pkg, arch) {
				continue
			}
			for _, group := range dependencyGroups(pkg, flags) {
				alternatives, err := ParseDependencyVariants(group, arch)
				if err != nil {
					return nil, err
				}
				if len(alternatives) == 0 {
					continue
				}
				satisfied := false
				for _, pool := range pools {
					if pool.satisfiedBy(alternatives, resolveArch(arch)) {
						satisfied = true
						break
					}
				}
				if satisfied {
					continue
				}
				for _, dep := range alternatives {
					missing := dep
					missing.Architecture = arch
					seen[missing.String()] = missing
				}
			}
		}
	}
	out := make([]types.Dependency, 0, len(seen))
	for _, dep := range seen {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out, nil
}

// resolveArch maps the architecture a package is evaluated for to the
// architecture its relations are searched in. Build relations of source
// packages may be satisfied by any binary architecture.
func resolveArch(arch string) string {
	if arch == types.ArchitectureSource {
		return ""
	}
	return arch
}

// packageBuildsFor reports whether pkg participates in resolution for
// arch: its own architecture, "all" for binary arches, sources for
// "source".
func packageBuildsFor(pkg types.Package, arch string) bool {
	if arch == types.ArchitectureSource {
		return pkg.IsSource
	}
	return !pkg.IsSource && (pkg.Architecture == arch || pkg.Architecture == types.ArchitectureAll)
}
