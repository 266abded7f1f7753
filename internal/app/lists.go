package app

import (
	"context"

	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// loadRefList returns the stored reflist of an entity; an entity that never
// stored one has an empty list.
func (s *Service) loadRefList(ctx context.Context, id string) (core.RefList, error) {
	keys, err := s.RefLists.Load(ctx, id)
	if shared.IsNotFound(err) {
		return core.NewRefList(), nil
	}
	if err != nil {
		return core.RefList{}, err
	}
	return core.NewRefList(keys...), nil
}

func (s *Service) saveRefList(ctx context.Context, id string, list core.RefList) error {
	return s.RefLists.Save(ctx, id, list.Keys())
}

// packagesOf resolves every key of list through the catalog.
func (s *Service) packagesOf(ctx context.Context, list core.RefList) ([]types.Package, error) {
	out := make([]types.Package, 0, list.Len())
	err := list.ForEach(func(key string) error {
		pkg, err := s.Catalog.Get(ctx, key)
		if err != nil {
			if shared.IsNotFound(err) {
				return shared.Corrupted("reflist references missing package "+key, err)
			}
			return err
		}
		out = append(out, pkg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) packageList(ctx context.Context, list core.RefList) (*core.PackageList, error) {
	pkgs, err := s.packagesOf(ctx, list)
	if err != nil {
		return nil, err
	}
	return core.PackageListFrom(pkgs), nil
}

// SourceKind names the collections a package list can come from.
type SourceKind string

const (
	SourceRepo     SourceKind = "repo"
	SourceMirror   SourceKind = "mirror"
	SourceSnapshot SourceKind = "snapshot"
)

func collectionResource(kind SourceKind, name string) string {
	switch kind {
	case SourceMirror:
		return MirrorResource(name)
	case SourceSnapshot:
		return SnapshotResource(name)
	default:
		return RepoResource(name)
	}
}

// source is a resolved named collection.
type source struct {
	Kind SourceKind
	UUID string
	Name string
	// Architectures of a mirror, empty otherwise.
	Architectures []string
}

func (s *Service) resolveSource(ctx context.Context, kind SourceKind, name string) (source, error) {
	switch kind {
	case SourceRepo:
		repo, err := s.Repos.ByName(ctx, name)
		if err != nil {
			return source{}, err
		}
		return source{Kind: kind, UUID: repo.UUID, Name: repo.Name}, nil
	case SourceMirror:
		mirror, err := s.Mirrors.ByName(ctx, name)
		if err != nil {
			return source{}, err
		}
		return source{Kind: kind, UUID: mirror.UUID, Name: mirror.Name, Architectures: mirror.Architectures}, nil
	case SourceSnapshot:
		snapshot, err := s.Snapshots.ByName(ctx, name)
		if err != nil {
			return source{}, err
		}
		return source{Kind: kind, UUID: snapshot.UUID, Name: snapshot.Name}, nil
	default:
		return source{}, shared.InvalidArgument("unknown collection kind " + string(kind))
	}
}

// sourcePackages loads the package list of a named collection.
func (s *Service) sourcePackages(ctx context.Context, kind SourceKind, name string) (source, *core.PackageList, error) {
	src, err := s.resolveSource(ctx, kind, name)
	if err != nil {
		return source{}, nil, err
	}
	refs, err := s.loadRefList(ctx, src.UUID)
	if err != nil {
		return source{}, nil, err
	}
	list, err := s.packageList(ctx, refs)
	if err != nil {
		return source{}, nil, err
	}
	return src, list, nil
}

// architectures picks explicit values, then the configured default.
func (s *Service) architectures(explicit []string) []string {
	if len(explicit) > 0 {
		return shared.UniqueSorted(explicit)
	}
	return shared.UniqueSorted(s.Config.Architectures)
}

// SearchPackages runs query against a named collection. With withDeps the
// result is closed over the collection's dependencies.
func (s *Service) SearchPackages(ctx context.Context, req SearchRequest) ([]types.Package, error) {
	var result []types.Package
	err := s.Tasks.RunSync(ctx, Shared(collectionResource(req.Kind, req.Name)), func(ctx context.Context) error {
		var err error
		result, err = s.searchPackages(ctx, req)
		return err
	})
	return result, err
}

func (s *Service) searchPackages(ctx context.Context, req SearchRequest) ([]types.Package, error) {
	_, list, err := s.sourcePackages(ctx, req.Kind, req.Name)
	if err != nil {
		return nil, err
	}
	q := core.MatchAll()
	if len(req.Queries) > 0 {
		q, err = core.ParseQueries(req.Queries)
		if err != nil {
			return nil, err
		}
	}
	archs := s.architectures(req.Architectures)
	result, err := core.Filter(list, q, req.WithDeps, s.DependencyFlags(req.Flags), archs)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, shared.NotFound("package matching query in "+string(req.Kind), req.Name)
	}
	return result, nil
}
