package app

import (
	"context"
	"sort"

	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
)

// ShowPackage returns a catalog record and, when asked, every repo, mirror
// and snapshot whose content includes it.
func (s *Service) ShowPackage(ctx context.Context, key string, withReferences bool) (PackageDetails, error) {
	pkg, err := s.Catalog.Get(ctx, key)
	if err != nil {
		if shared.IsNotFound(err) {
			return PackageDetails{}, shared.NotFound("package", key)
		}
		return PackageDetails{}, err
	}
	details := PackageDetails{Package: pkg}
	if !withReferences {
		return details, nil
	}
	check := func(kind SourceKind, name string, id string) error {
		refs, err := s.loadRefList(ctx, id)
		if err != nil {
			return err
		}
		if refs.Has(key) {
			details.References = append(details.References, PackageReference{Kind: kind, Name: name})
		}
		return nil
	}
	repos, err := s.Repos.List(ctx)
	if err != nil {
		return PackageDetails{}, err
	}
	for _, repo := range repos {
		if err := check(SourceRepo, repo.Name, repo.UUID); err != nil {
			return PackageDetails{}, err
		}
	}
	mirrors, err := s.Mirrors.List(ctx)
	if err != nil {
		return PackageDetails{}, err
	}
	for _, mirror := range mirrors {
		if err := check(SourceMirror, mirror.Name, mirror.UUID); err != nil {
			return PackageDetails{}, err
		}
	}
	snapshots, err := s.Snapshots.List(ctx)
	if err != nil {
		return PackageDetails{}, err
	}
	for _, snapshot := range snapshots {
		if err := check(SourceSnapshot, snapshot.Name, snapshot.UUID); err != nil {
			return PackageDetails{}, err
		}
	}
	sort.Slice(details.References, func(i, j int) bool {
		if details.References[i].Kind != details.References[j].Kind {
			return details.References[i].Kind < details.References[j].Kind
		}
		return details.References[i].Name < details.References[j].Name
	})
	return details, nil
}

// SearchCatalog matches a query against every package in the catalog.
func (s *Service) SearchCatalog(ctx context.Context, queries []string) ([]string, error) {
	q, err := core.ParseQueries(queries)
	if err != nil {
		return nil, err
	}
	pkgs, err := s.Catalog.Search(ctx, q.Matches)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		out = append(out, pkg.Key())
	}
	return out, nil
}
