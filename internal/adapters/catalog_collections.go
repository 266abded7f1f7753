package adapters

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const (
	repoPrefix     = "repo:"
	mirrorPrefix   = "mirror:"
	snapshotPrefix = "snapshot:"
	publishPrefix  = "publish:"
)

// collection stores named records as msgpack under prefix+uuid. Names are
// unique within a collection; lookups by name scan the prefix, which is
// small compared to the package catalog.
type collection[T any] struct {
	kv     ports.KVStore
	prefix string
	kind   string
	uuid   func(T) string
	name   func(T) string
	rename func(*T, string)

	mu sync.Mutex
}

func (c *collection[T]) list(ctx context.Context) ([]T, error) {
	it, err := c.kv.Scan(ctx, c.prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []T
	for it.Next() {
		var item T
		if err := msgpack.Unmarshal(it.Value(), &item); err != nil {
			return nil, shared.Corrupted("failed to decode "+c.kind+" "+it.Key(), err)
		}
		out = append(out, item)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return c.name(out[i]) < c.name(out[j])
	})
	return out, nil
}

func (c *collection[T]) byName(ctx context.Context, name string) (T, error) {
	var zero T
	items, err := c.list(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if c.name(item) == name {
			return item, nil
		}
	}
	return zero, shared.NotFound(c.kind, name)
}

func (c *collection[T]) byUUID(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := c.kv.Get(ctx, c.prefix+id)
	if shared.IsNotFound(err) {
		return zero, shared.NotFound(c.kind, id)
	}
	if err != nil {
		return zero, err
	}
	var item T
	if err := msgpack.Unmarshal(data, &item); err != nil {
		return zero, shared.Corrupted("failed to decode "+c.kind+" "+id, err)
	}
	return item, nil
}

func (c *collection[T]) put(ctx context.Context, item T) error {
	data, err := msgpack.Marshal(item)
	if err != nil {
		return shared.Internal("failed to encode "+c.kind, err)
	}
	return c.kv.Put(ctx, c.prefix+c.uuid(item), data)
}

func (c *collection[T]) add(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.byName(ctx, c.name(item)); err == nil {
		return shared.AlreadyExists(c.kind, c.name(item))
	} else if !shared.IsNotFound(err) {
		return err
	}
	return c.put(ctx, item)
}

func (c *collection[T]) update(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.byUUID(ctx, c.uuid(item)); err != nil {
		return err
	}
	return c.put(ctx, item)
}

func (c *collection[T]) renameItem(ctx context.Context, oldName string, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, err := c.byName(ctx, oldName)
	if err != nil {
		return err
	}
	if _, err := c.byName(ctx, newName); err == nil {
		return shared.AlreadyExists(c.kind, newName)
	} else if !shared.IsNotFound(err) {
		return err
	}
	c.rename(&item, newName)
	return c.put(ctx, item)
}

func (c *collection[T]) drop(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, err := c.byName(ctx, name)
	if err != nil {
		return err
	}
	return c.kv.Delete(ctx, c.prefix+c.uuid(item))
}

// RepoStoreAdapter persists local repos.
type RepoStoreAdapter struct {
	c *collection[types.LocalRepo]
}

func NewRepoStoreAdapter(kv ports.KVStore) *RepoStoreAdapter {
	return &RepoStoreAdapter{c: &collection[types.LocalRepo]{
		kv:     kv,
		prefix: repoPrefix,
		kind:   "local repo",
		uuid:   func(r types.LocalRepo) string { return r.UUID },
		name:   func(r types.LocalRepo) string { return r.Name },
		rename: func(r *types.LocalRepo, name string) { r.Name = name },
	}}
}

func (s *RepoStoreAdapter) Add(ctx context.Context, repo types.LocalRepo) error {
	return s.c.add(ctx, repo)
}

func (s *RepoStoreAdapter) Update(ctx context.Context, repo types.LocalRepo) error {
	return s.c.update(ctx, repo)
}

func (s *RepoStoreAdapter) ByName(ctx context.Context, name string) (types.LocalRepo, error) {
	return s.c.byName(ctx, name)
}

func (s *RepoStoreAdapter) ByUUID(ctx context.Context, id string) (types.LocalRepo, error) {
	return s.c.byUUID(ctx, id)
}

func (s *RepoStoreAdapter) Rename(ctx context.Context, oldName string, newName string) error {
	return s.c.renameItem(ctx, oldName, newName)
}

func (s *RepoStoreAdapter) Drop(ctx context.Context, name string) error {
	return s.c.drop(ctx, name)
}

func (s *RepoStoreAdapter) List(ctx context.Context) ([]types.LocalRepo, error) {
	return s.c.list(ctx)
}

// MirrorStoreAdapter persists remote mirrors.
type MirrorStoreAdapter struct {
	c *collection[types.RemoteMirror]
}

func NewMirrorStoreAdapter(kv ports.KVStore) *MirrorStoreAdapter {
	return &MirrorStoreAdapter{c: &collection[types.RemoteMirror]{
		kv:     kv,
		prefix: mirrorPrefix,
		kind:   "mirror",
		uuid:   func(m types.RemoteMirror) string { return m.UUID },
		name:   func(m types.RemoteMirror) string { return m.Name },
		rename: func(m *types.RemoteMirror, name string) { m.Name = name },
	}}
}

func (s *MirrorStoreAdapter) Add(ctx context.Context, mirror types.RemoteMirror) error {
	return s.c.add(ctx, mirror)
}

func (s *MirrorStoreAdapter) Update(ctx context.Context, mirror types.RemoteMirror) error {
	return s.c.update(ctx, mirror)
}

func (s *MirrorStoreAdapter) ByName(ctx context.Context, name string) (types.RemoteMirror, error) {
	return s.c.byName(ctx, name)
}

func (s *MirrorStoreAdapter) ByUUID(ctx context.Context, id string) (types.RemoteMirror, error) {
	return s.c.byUUID(ctx, id)
}

func (s *MirrorStoreAdapter) Rename(ctx context.Context, oldName string, newName string) error {
	return s.c.renameItem(ctx, oldName, newName)
}

func (s *MirrorStoreAdapter) Drop(ctx context.Context, name string) error {
	return s.c.drop(ctx, name)
}

func (s *MirrorStoreAdapter) List(ctx context.Context) ([]types.RemoteMirror, error) {
	return s.c.list(ctx)
}

// SnapshotStoreAdapter persists snapshots. Snapshots are immutable apart
// from their name, so there is no Update.
type SnapshotStoreAdapter struct {
	c *collection[types.Snapshot]
}

func NewSnapshotStoreAdapter(kv ports.KVStore) *SnapshotStoreAdapter {
	return &SnapshotStoreAdapter{c: &collection[types.Snapshot]{
		kv:     kv,
		prefix: snapshotPrefix,
		kind:   "snapshot",
		uuid:   func(s types.Snapshot) string { return s.UUID },
		name:   func(s types.Snapshot) string { return s.Name },
		rename: func(s *types.Snapshot, name string) { s.Name = name },
	}}
}

func (s *SnapshotStoreAdapter) Add(ctx context.Context, snapshot types.Snapshot) error {
	return s.c.add(ctx, snapshot)
}

func (s *SnapshotStoreAdapter) ByName(ctx context.Context, name string) (types.Snapshot, error) {
	return s.c.byName(ctx, name)
}

func (s *SnapshotStoreAdapter) ByUUID(ctx context.Context, id string) (types.Snapshot, error) {
	return s.c.byUUID(ctx, id)
}

func (s *SnapshotStoreAdapter) Rename(ctx context.Context, oldName string, newName string) error {
	return s.c.renameItem(ctx, oldName, newName)
}

func (s *SnapshotStoreAdapter) Drop(ctx context.Context, name string) error {
	return s.c.drop(ctx, name)
}

func (s *SnapshotStoreAdapter) List(ctx context.Context) ([]types.Snapshot, error) {
	return s.c.list(ctx)
}

// PublishStoreAdapter persists publications under their
// (storage, prefix, distribution) identity.
type PublishStoreAdapter struct {
	kv ports.KVStore
	mu sync.Mutex
}

func NewPublishStoreAdapter(kv ports.KVStore) *PublishStoreAdapter {
	return &PublishStoreAdapter{kv: kv}
}

func publishKey(storage string, prefix string, distribution string) string {
	return publishPrefix + strings.Join([]string{storage, prefix, distribution}, "\x00")
}

func publishName(storage string, prefix string, distribution string) string {
	return types.PublishedRepo{Storage: storage, Prefix: prefix}.StoragePrefix() + "/" + distribution
}

func (s *PublishStoreAdapter) Add(ctx context.Context, repo types.PublishedRepo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := publishKey(repo.Storage, repo.Prefix, repo.Distribution)
	exists, err := s.kv.Has(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return shared.AlreadyExists("published repository", publishName(repo.Storage, repo.Prefix, repo.Distribution))
	}
	return s.put(ctx, repo)
}

func (s *PublishStoreAdapter) Update(ctx context.Context, repo types.PublishedRepo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Get(ctx, repo.Storage, repo.Prefix, repo.Distribution); err != nil {
		return err
	}
	return s.put(ctx, repo)
}

func (s *PublishStoreAdapter) put(ctx context.Context, repo types.PublishedRepo) error {
	data, err := msgpack.Marshal(repo)
	if err != nil {
		return shared.Internal("failed to encode published repository", err)
	}
	return s.kv.Put(ctx, publishKey(repo.Storage, repo.Prefix, repo.Distribution), data)
}

func (s *PublishStoreAdapter) Get(ctx context.Context, storage string, prefix string, distribution string) (types.PublishedRepo, error) {
	data, err := s.kv.Get(ctx, publishKey(storage, prefix, distribution))
	if shared.IsNotFound(err) {
		return types.PublishedRepo{}, shared.NotFound("published repository", publishName(storage, prefix, distribution))
	}
	if err != nil {
		return types.PublishedRepo{}, err
	}
	var repo types.PublishedRepo
	if err := msgpack.Unmarshal(data, &repo); err != nil {
		return types.PublishedRepo{}, shared.Corrupted("failed to decode published repository", err)
	}
	return repo, nil
}

func (s *PublishStoreAdapter) Drop(ctx context.Context, storage string, prefix string, distribution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Get(ctx, storage, prefix, distribution); err != nil {
		return err
	}
	return s.kv.Delete(ctx, publishKey(storage, prefix, distribution))
}

func (s *PublishStoreAdapter) List(ctx context.Context) ([]types.PublishedRepo, error) {
	it, err := s.kv.Scan(ctx, publishPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []types.PublishedRepo
	for it.Next() {
		var repo types.PublishedRepo
		if err := msgpack.Unmarshal(it.Value(), &repo); err != nil {
			return nil, shared.Corrupted("failed to decode published repository", err)
		}
		out = append(out, repo)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StoragePrefix() != out[j].StoragePrefix() {
			return out[i].StoragePrefix() < out[j].StoragePrefix()
		}
		return out[i].Distribution < out[j].Distribution
	})
	return out, nil
}

var (
	_ ports.RepoStore     = (*RepoStoreAdapter)(nil)
	_ ports.MirrorStore   = (*MirrorStoreAdapter)(nil)
	_ ports.SnapshotStore = (*SnapshotStoreAdapter)(nil)
	_ ports.PublishStore  = (*PublishStoreAdapter)(nil)
)
