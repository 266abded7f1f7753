package core

import (
	"sort"

	"aptkeeper/internal/types"
)

// Closure extends seed with the packages of universe needed to satisfy
// the dependencies of everything in the result, for each of archs. It
// computes the least fixed point: a relation already satisfied inside the
// result pulls nothing in, otherwise the best candidate of the first
// satisfiable alternative is added (every satisfiable alternative with
// FollowAllVariants). FollowSource adds the source package of each binary.
func Closure(seed []types.Package, universe *PackageList, flags types.DependencyFlags, archs []string) ([]types.Package, error) {
	result := PackageListFrom(seed)
	if len(archs) == 0 {
		archs = universe.Architectures(false)
	}
	for {
		added := 0
		for _, arch := range archs {
			count, err := closureStep(result, universe, flags, arch)
			if err != nil {
				return nil, err
			}
			added += count
		}
		if flags.FollowSource {
			added += addSources(result, universe)
		}
		if added == 0 {
			break
		}
	}
	return result.Packages(), nil
}

// closureStep adds one round of missing dependencies for arch and returns
// how many packages were added.
func closureStep(result *PackageList, universe *PackageList, flags types.DependencyFlags, arch string) (int, error) {
	added := 0
	for _, pkg := range result.Packages() {
		if !packageBuildsFor(pkg, arch) {
			continue
		}
		for _, group := range dependencyGroups(pkg, flags) {
			alternatives, err := ParseDependencyVariants(group, arch)
			if err != nil {
				return added, err
			}
			if len(alternatives) == 0 {
				continue
			}
			if !flags.FollowAllVariants && result.satisfiedBy(alternatives, arch) {
				continue
			}
			for _, dep := range alternatives {
				if flags.FollowAllVariants && len(result.Search(dep, arch, false)) > 0 {
					continue
				}
				candidates := universe.Search(dep, arch, false)
				if len(candidates) == 0 {
					continue
				}
				if !result.Has(candidates[0].Key()) {
					_ = result.Add(candidates[0])
					added++
				}
				if !flags.FollowAllVariants {
					break
				}
			}
		}
	}
	return added, nil
}

// addSources adds the matching source package of every binary present.
func addSources(result *PackageList, universe *PackageList) int {
	added := 0
	for _, pkg := range result.Packages() {
		if pkg.IsSource {
			continue
		}
		dep := types.Dependency{
			Pkg:          pkg.Source(),
			Relation:     types.RelationEq,
			Version:      pkg.SourceVersion(),
			Architecture: types.ArchitectureSource,
		}
		for _, src := range universe.Search(dep, types.ArchitectureSource, false) {
			if src.IsSource && !result.Has(src.Key()) {
				_ = result.Add(src)
				added++
			}
		}
	}
	return added
}

// Filter selects the packages of list matching q for archs and, with
// withDeps, closes the selection over list plus extra dependency sources.
func Filter(list *PackageList, q PackageQuery, withDeps bool, flags types.DependencyFlags, archs []string, extra ...*PackageList) ([]types.Package, error) {
	matched := list.Query(q, archs)
	if !withDeps {
		return matched, nil
	}
	universe := list
	if len(extra) > 0 {
		universe = PackageListFrom(list.Packages())
		for _, other := range extra {
			for _, pkg := range other.Packages() {
				_ = universe.Add(pkg)
			}
		}
	}
	if len(archs) == 0 {
		archs = list.Architectures(false)
	}
	closed, err := Closure(matched, universe, flags, archs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].Key() < closed[j].Key() })
	return closed, nil
}
