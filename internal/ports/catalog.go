package ports

import (
	"context"

	"aptkeeper/internal/types"
)

// PackageCatalog maps fingerprints to package records.
type PackageCatalog interface {
	Put(ctx context.Context, pkg types.Package) error
	Get(ctx context.Context, key string) (types.Package, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Iterate(ctx context.Context, prefix string, fn func(key string, pkg types.Package) error) error
	Keys(ctx context.Context) ([]string, error)
	Touch(ctx context.Context, key string) error
	// ByShortKey returns every record sharing (name, version, arch).
	ByShortKey(ctx context.Context, name string, version string, arch string) ([]types.Package, error)
	// Search returns the records accepted by match, sorted by key.
	Search(ctx context.Context, match func(types.Package) bool) ([]types.Package, error)
}

// RefListStore persists reflists by id.
type RefListStore interface {
	Save(ctx context.Context, id string, keys []string) error
	Load(ctx context.Context, id string) ([]string, error)
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
	CleanupBuckets(ctx context.Context, dryRun bool) (int, error)
}

// RepoStore persists local repos.
type RepoStore interface {
	Add(ctx context.Context, repo types.LocalRepo) error
	Update(ctx context.Context, repo types.LocalRepo) error
	ByName(ctx context.Context, name string) (types.LocalRepo, error)
	ByUUID(ctx context.Context, uuid string) (types.LocalRepo, error)
	Rename(ctx context.Context, oldName string, newName string) error
	Drop(ctx context.Context, name string) error
	List(ctx context.Context) ([]types.LocalRepo, error)
}

// MirrorStore persists remote mirrors.
type MirrorStore interface {
	Add(ctx context.Context, mirror types.RemoteMirror) error
	Update(ctx context.Context, mirror types.RemoteMirror) error
	ByName(ctx context.Context, name string) (types.RemoteMirror, error)
	ByUUID(ctx context.Context, uuid string) (types.RemoteMirror, error)
	Rename(ctx context.Context, oldName string, newName string) error
	Drop(ctx context.Context, name string) error
	List(ctx context.Context) ([]types.RemoteMirror, error)
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	Add(ctx context.Context, snapshot types.Snapshot) error
	ByName(ctx context.Context, name string) (types.Snapshot, error)
	ByUUID(ctx context.Context, uuid string) (types.Snapshot, error)
	Rename(ctx context.Context, oldName string, newName string) error
	Drop(ctx context.Context, name string) error
	List(ctx context.Context) ([]types.Snapshot, error)
}

// PublishStore persists publications keyed by (storage, prefix, distribution).
type PublishStore interface {
	Add(ctx context.Context, repo types.PublishedRepo) error
	Update(ctx context.Context, repo types.PublishedRepo) error
	Get(ctx context.Context, storage string, prefix string, distribution string) (types.PublishedRepo, error)
	Drop(ctx context.Context, storage string, prefix string, distribution string) error
	List(ctx context.Context) ([]types.PublishedRepo, error)
}
