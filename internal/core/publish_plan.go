package core

import (
	"fmt"
	"path"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// PublishFile places one pool file inside a published tree.
type PublishFile struct {
	Component string
	PoolPath  string
	DestPath  string
	Checksums types.Checksums
}

// ComponentPlan is the package set of one published component.
type ComponentPlan struct {
	Component string
	Packages  []types.Package
}

// PublishPlan is the validated layout of a publication write.
type PublishPlan struct {
	Architectures []string
	Components    []ComponentPlan
	Files         []PublishFile
}

// HasSources reports whether any component carries source packages.
func (p PublishPlan) HasSources() bool {
	for _, arch := range p.Architectures {
		if arch == types.ArchitectureSource {
			return true
		}
	}
	return false
}

// PackagePoolDir returns the published directory of pkg in component.
func PackagePoolDir(component string, pkg types.Package) string {
	return PublishedPoolDir(component, pkg.Source())
}

// PlanPublication restricts every component to archs, rejects duplicate
// short keys inside a component and, unless forceOverwrite, rejects two
// different files that would land on the same published path. When archs
// is empty the architectures of the packages are used.
func PlanPublication(sources map[string][]types.Package, archs []string, forceOverwrite bool) (PublishPlan, error) {
	if len(archs) == 0 {
		archs = detectArchitectures(sources)
		if len(archs) == 0 {
			return PublishPlan{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("unable to figure out list of architectures, please supply explicit list")
		}
	}
	archs = UniqueStrings(archs)

	components := make([]string, 0, len(sources))
	for component := range sources {
		components = append(components, component)
	}
	sort.Strings(components)

	plan := PublishPlan{Architectures: archs}
	placed := map[string]PublishFile{}
	for _, component := range components {
		list := NewPackageList(false)
		for _, pkg := range sources[component] {
			if !publishable(pkg, archs) {
				continue
			}
			if err := list.Add(pkg); err != nil {
				return PublishPlan{}, errbuilder.New().
					WithCode(shared.CodeConflict).
					WithMsg(fmt.Sprintf("duplicate package in component %s: %s", component, shared.Message(err))).
					WithCause(err)
			}
		}
		pkgs := list.Packages()
		plan.Components = append(plan.Components, ComponentPlan{Component: component, Packages: pkgs})

		for _, pkg := range pkgs {
			if pkg.IsInstaller {
				continue
			}
			dir := PackagePoolDir(component, pkg)
			for _, file := range pkg.Files {
				dest := path.Join(dir, file.Filename)
				candidate := PublishFile{
					Component: component,
					PoolPath:  file.PoolPath,
					DestPath:  dest,
					Checksums: file.Checksums,
				}
				if existing, ok := placed[dest]; ok {
					if SameContent(existing.Checksums, file.Checksums) {
						continue
					}
					if !forceOverwrite {
						return PublishPlan{}, errbuilder.New().
							WithCode(shared.CodeConflict).
							WithMsg(fmt.Sprintf("file conflict: %s is provided by different packages with different content", dest))
					}
				}
				placed[dest] = candidate
			}
		}
	}

	dests := make([]string, 0, len(placed))
	for dest := range placed {
		dests = append(dests, dest)
	}
	sort.Strings(dests)
	for _, dest := range dests {
		plan.Files = append(plan.Files, placed[dest])
	}
	return plan, nil
}

func publishable(pkg types.Package, archs []string) bool {
	for _, arch := range archs {
		if pkg.Architecture == arch {
			return true
		}
	}
	if pkg.Architecture == types.ArchitectureAll {
		for _, arch := range archs {
			if arch != types.ArchitectureSource {
				return true
			}
		}
	}
	return false
}

func detectArchitectures(sources map[string][]types.Package) []string {
	seen := map[string]struct{}{}
	for _, pkgs := range sources {
		for _, pkg := range pkgs {
			if pkg.Architecture == types.ArchitectureAll {
				continue
			}
			seen[pkg.Architecture] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for arch := range seen {
		out = append(out, arch)
	}
	sort.Strings(out)
	return out
}

// SameContent compares the strongest digest both sides know.
func SameContent(a types.Checksums, b types.Checksums) bool {
	switch {
	case a.SHA256 != "" && b.SHA256 != "":
		return a.SHA256 == b.SHA256
	case a.SHA1 != "" && b.SHA1 != "":
		return a.SHA1 == b.SHA1
	case a.MD5 != "" && b.MD5 != "":
		return a.MD5 == b.MD5
	default:
		return a.Size == b.Size
	}
}
