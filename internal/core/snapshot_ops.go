package core

import (
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/types"
)

// MergeOptions selects the conflict rule of Merge. Latest and NoRemove are
// mutually exclusive.
type MergeOptions struct {
	Latest   bool
	NoRemove bool
}

// Merge combines reflists in order. By default a (name, architecture)
// present in a later source replaces every version of it from earlier
// sources. Latest keeps only the highest version of each. NoRemove keeps
// every version.
func Merge(sources []RefList, opts MergeOptions) (RefList, error) {
	if opts.Latest && opts.NoRemove {
		return RefList{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("-no-remove and -latest can't be specified together")
	}
	var result RefList
	for _, source := range sources {
		switch {
		case opts.NoRemove || opts.Latest:
			result = result.Union(source)
		default:
			result = result.Override(source)
		}
	}
	if opts.Latest {
		result = result.FilterLatest()
	}
	return result, nil
}

// PullOptions tunes Pull.
type PullOptions struct {
	NoDeps        bool
	NoRemove      bool
	AllMatches    bool
	Architectures []string
	Flags         types.DependencyFlags
}

// PullResult lists the outcome of a pull. Added and Removed are reported
// for dry runs and progress output.
type PullResult struct {
	List    *PackageList
	Added   []types.Package
	Removed []types.Package
}

// Pull copies the packages of source matching queries into a copy of
// target. Each query contributes its highest version per (name, arch)
// unless AllMatches is set. Dependencies are resolved in source unless
// NoDeps. Unless NoRemove, packages of target that share (name, arch)
// with a pulled package are removed first.
func Pull(target *PackageList, source *PackageList, queries []PackageQuery, opts PullOptions) (PullResult, error) {
	archs := opts.Architectures
	if len(archs) == 0 {
		archs = target.Architectures(false)
		if len(archs) == 0 {
			archs = source.Architectures(false)
		}
	}
	if len(archs) == 0 {
		return PullResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unable to determine list of architectures, please specify explicitly")
	}

	selected := NewPackageList(true)
	for _, q := range queries {
		matches := source.Query(q, archs)
		if !opts.AllMatches {
			matches = latestPerNameArch(matches, source.cache)
		}
		for _, pkg := range matches {
			_ = selected.Add(pkg)
		}
	}
	pulled := selected.Packages()
	if !opts.NoDeps {
		closed, err := Closure(pulled, source, opts.Flags, archs)
		if err != nil {
			return PullResult{}, err
		}
		pulled = closed
	}

	result := PackageListFrom(target.Packages())
	out := PullResult{List: result}
	original := target
	handled := map[string]struct{}{}
	for _, pkg := range pulled {
		id := pkg.Name + " " + pkg.Architecture
		if _, ok := handled[id]; !ok && !opts.NoRemove {
			for _, existing := range original.Search(types.Dependency{Pkg: pkg.Name, Architecture: pkg.Architecture}, pkg.Architecture, true) {
				if existing.Name != pkg.Name || existing.Architecture != pkg.Architecture {
					continue
				}
				if existing.Key() == pkg.Key() {
					continue
				}
				if result.Has(existing.Key()) {
					result.Remove(existing.Key())
					out.Removed = append(out.Removed, existing)
				}
			}
		}
		handled[id] = struct{}{}
		if !result.Has(pkg.Key()) {
			_ = result.Add(pkg)
			out.Added = append(out.Added, pkg)
		}
	}
	return out, nil
}

// latestPerNameArch keeps the highest version of each (name, arch).
func latestPerNameArch(pkgs []types.Package, cache *versionCache) []types.Package {
	best := map[string]types.Package{}
	var order []string
	for _, pkg := range pkgs {
		id := pkg.Name + " " + pkg.Architecture
		current, ok := best[id]
		if !ok {
			order = append(order, id)
			best[id] = pkg
			continue
		}
		if cache.compare(pkg.Version, current.Version) > 0 {
			best[id] = pkg
		}
	}
	out := make([]types.Package, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

// DiffPackages resolves a reflist diff against lookup, producing rows with
// package records.
func DiffPackages(rows []RefListDiff, lookup func(key string) (types.Package, error)) ([]types.PackageDiff, error) {
	out := make([]types.PackageDiff, 0, len(rows))
	for _, row := range rows {
		diff := types.PackageDiff{}
		if row.Left != "" {
			pkg, err := lookup(row.Left)
			if err != nil {
				return nil, err
			}
			diff.Left = &pkg
		}
		if row.Right != "" {
			pkg, err := lookup(row.Right)
			if err != nil {
				return nil, err
			}
			diff.Right = &pkg
		}
		out = append(out, diff)
	}
	return out, nil
}

// DescribeDiff renders one diff row the way the CLI prints it.
func DescribeDiff(diff types.PackageDiff) string {
	switch {
	case diff.Left == nil:
		return fmt.Sprintf("+ %s", diff.Right.String())
	case diff.Right == nil:
		return fmt.Sprintf("- %s", diff.Left.String())
	default:
		return fmt.Sprintf("! %s -> %s", diff.Left.String(), diff.Right.Version)
	}
}
