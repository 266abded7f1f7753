package adapters

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/types"
)

func memoryKV(t *testing.T) ports.KVStore {
	t.Helper()
	kv, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func testPackage(name string, version string, arch string, sha string) types.Package {
	return types.Package{
		Name:         name,
		Version:      version,
		Architecture: arch,
		Files: []types.PackageFile{{
			Filename:  name + "_" + version + "_" + arch + ".deb",
			Checksums: types.Checksums{Size: 10, SHA256: sha},
		}},
	}
}

func repoNames(repos []types.LocalRepo) []string {
	out := make([]string, 0, len(repos))
	for _, repo := range repos {
		out = append(out, repo.Name)
	}
	return out
}

func TestRepoStore(t *testing.T) {
	store := NewRepoStoreAdapter(memoryKV(t))
	ctx := t.Context()

	require.NoError(t, store.Add(ctx, types.LocalRepo{UUID: "u2", Name: "testing"}))
	require.NoError(t, store.Add(ctx, types.LocalRepo{UUID: "u1", Name: "stable", Comment: "main line"}))

	err := store.Add(ctx, types.LocalRepo{UUID: "u3", Name: "stable"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))

	repos, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stable", "testing"}, repoNames(repos))

	repo, err := store.ByName(ctx, "stable")
	require.NoError(t, err)
	assert.Equal(t, "u1", repo.UUID)
	assert.Equal(t, "main line", repo.Comment)

	repo.Comment = "edited"
	require.NoError(t, store.Update(ctx, repo))
	repo, err = store.ByUUID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "edited", repo.Comment)

	err = store.Update(ctx, types.LocalRepo{UUID: "nope", Name: "nope"})
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

	err = store.Rename(ctx, "stable", "testing")
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))
	require.NoError(t, store.Rename(ctx, "stable", "bookworm"))
	repo, err = store.ByUUID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "bookworm", repo.Name)

	require.NoError(t, store.Drop(ctx, "bookworm"))
	_, err = store.ByName(ctx, "bookworm")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	err = store.Drop(ctx, "bookworm")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestSnapshotAndMirrorStores(t *testing.T) {
	kv := memoryKV(t)
	ctx := t.Context()
	snapshots := NewSnapshotStoreAdapter(kv)
	mirrors := NewMirrorStoreAdapter(kv)

	require.NoError(t, snapshots.Add(ctx, types.Snapshot{UUID: "s1", Name: "same", SourceKind: types.SnapshotSourceRepo, SourceIDs: []string{"r1"}}))
	// names are unique per collection only
	require.NoError(t, mirrors.Add(ctx, types.RemoteMirror{UUID: "m1", Name: "same", ArchiveRoot: "http://deb.example/debian/", Distribution: "bookworm"}))

	snapshot, err := snapshots.ByName(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, snapshot.SourceIDs)

	mirror, err := mirrors.ByName(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "bookworm", mirror.Distribution)

	mirror.Distribution = "trixie"
	require.NoError(t, mirrors.Update(ctx, mirror))
	list, err := mirrors.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "trixie", list[0].Distribution)

	require.NoError(t, snapshots.Rename(ctx, "same", "renamed"))
	all, err := snapshots.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].Name)
}

func TestPublishStore(t *testing.T) {
	store := NewPublishStoreAdapter(memoryKV(t))
	ctx := t.Context()

	published := types.PublishedRepo{
		UUID:          "p1",
		Prefix:        ".",
		Distribution:  "stable",
		SourceKind:    types.PublishSourceLocal,
		Sources:       map[string]string{"main": "r1"},
		Architectures: []string{"amd64"},
	}
	require.NoError(t, store.Add(ctx, published))
	err := store.Add(ctx, published)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))

	// same distribution under another prefix is a different publication
	other := published
	other.UUID = "p2"
	other.Prefix = "ppa"
	require.NoError(t, store.Add(ctx, other))

	got, err := store.Get(ctx, "", ".", "stable")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.UUID)
	assert.Equal(t, map[string]string{"main": "r1"}, got.Sources)

	got.Architectures = []string{"amd64", "arm64"}
	require.NoError(t, store.Update(ctx, got))
	got, err = store.Get(ctx, "", ".", "stable")
	require.NoError(t, err)
	assert.Equal(t, []string{"amd64", "arm64"}, got.Architectures)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Drop(ctx, "", "ppa", "stable"))
	_, err = store.Get(ctx, "", "ppa", "stable")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	err = store.Update(ctx, other)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestPackageCatalog(t *testing.T) {
	kv := memoryKV(t)
	catalog, err := NewPackageCatalogAdapter(kv, 2)
	require.NoError(t, err)
	ctx := t.Context()

	hello := testPackage("hello", "1.0-1", "amd64", "aaa")
	helloRebuilt := testPackage("hello", "1.0-1", "amd64", "bbb")
	libc := testPackage("libc6", "2.36-9", "amd64", "ccc")
	for _, pkg := range []types.Package{hello, helloRebuilt, libc} {
		require.NoError(t, catalog.Put(ctx, pkg))
	}
	// putting an existing record again is a no-op
	require.NoError(t, catalog.Put(ctx, hello))

	// a fresh adapter reads from the store instead of the cache
	fresh, err := NewPackageCatalogAdapter(kv, 0)
	require.NoError(t, err)
	got, err := fresh.Get(ctx, hello.Key())
	require.NoError(t, err)
	assert.Equal(t, hello.String(), got.String())
	assert.Equal(t, hello.Key(), got.Key())

	_, err = fresh.Get(ctx, "Pamd64 missing 1.0 0")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

	keys, err := fresh.Keys(ctx)
	require.NoError(t, err)
	want := []string{hello.Key(), helloRebuilt.Key(), libc.Key()}
	sort.Strings(want)
	assert.Equal(t, want, keys)

	same, err := fresh.ByShortKey(ctx, "hello", "1.0-1", "amd64")
	require.NoError(t, err)
	assert.Len(t, same, 2)

	found, err := fresh.Search(ctx, func(pkg types.Package) bool { return pkg.Name == "libc6" })
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, libc.Key(), found[0].Key())

	ok, err := catalog.Has(ctx, libc.Key())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, catalog.Delete(ctx, libc.Key()))
	ok, err = catalog.Has(ctx, libc.Key())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPackageCatalogAccessTimes(t *testing.T) {
	catalog, err := NewPackageCatalogAdapter(memoryKV(t), 0)
	require.NoError(t, err)
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	catalog.now = func() time.Time { return stamp }
	ctx := t.Context()

	key := testPackage("hello", "1.0-1", "amd64", "aaa").Key()
	last, err := catalog.LastAccess(ctx, key)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	require.NoError(t, catalog.Touch(ctx, key))
	last, err = catalog.LastAccess(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, stamp, last)
}

func TestRefListStoreInline(t *testing.T) {
	store := NewRefListStoreAdapter(memoryKV(t))
	ctx := t.Context()

	keys := []string{"Pamd64 hello 1.0 1", "Pamd64 libc6 2.36 2"}
	require.NoError(t, store.Save(ctx, "repo-1", keys))
	got, err := store.Load(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, keys, got)

	_, err = store.Load(ctx, "missing")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-1"}, ids)

	require.NoError(t, store.Delete(ctx, "repo-1"))
	ids, err = store.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRefListStoreBuckets(t *testing.T) {
	kv := memoryKV(t)
	store := NewRefListStoreAdapter(kv)
	ctx := t.Context()

	var keys []string
	for i := 0; i < refListBucketThreshold; i++ {
		name := string(rune('a'+i%3)) + fmt.Sprintf("pkg%04d", i)
		keys = append(keys, "Pamd64 "+name+" 1.0 0")
	}
	sort.Strings(keys)

	require.NoError(t, store.Save(ctx, "first", keys))
	require.NoError(t, store.Save(ctx, "second", keys))
	assert.Len(t, scanKeys(t, kv, refBucketPrefix), 3)

	got, err := store.Load(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, keys, got)

	// both lists share the same buckets, so dropping one frees nothing
	require.NoError(t, store.Delete(ctx, "first"))
	removed, err := store.CleanupBuckets(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, removed)

	require.NoError(t, store.Delete(ctx, "second"))
	removed, err = store.CleanupBuckets(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Len(t, scanKeys(t, kv, refBucketPrefix), 3)

	removed, err = store.CleanupBuckets(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Empty(t, scanKeys(t, kv, refBucketPrefix))
}
