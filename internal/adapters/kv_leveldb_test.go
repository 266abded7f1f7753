package adapters

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/types"
)

func openTestDBs(t *testing.T) map[string]ports.KVStore {
	t.Helper()
	onDisk, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	inMemory, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = onDisk.Close()
		_ = inMemory.Close()
	})
	return map[string]ports.KVStore{"leveldb": onDisk, "memory": inMemory}
}

func scanKeys(t *testing.T, kv ports.KVStore, prefix string) []string {
	t.Helper()
	it, err := kv.Scan(t.Context(), prefix)
	require.NoError(t, err)
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	return keys
}

func TestLevelDBBasicOperations(t *testing.T) {
	for name, kv := range openTestDBs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := kv.Get(ctx, "missing")
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

			require.NoError(t, kv.Put(ctx, "a:1", []byte("one")))
			value, err := kv.Get(ctx, "a:1")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), value)

			ok, err := kv.Has(ctx, "a:1")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, kv.Delete(ctx, "a:1"))
			ok, err = kv.Has(ctx, "a:1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Delete(ctx, "never-written"))
			require.NoError(t, kv.RecoverIfCorrupted(ctx))
		})
	}
}

func TestLevelDBScanAndBatch(t *testing.T) {
	for name, kv := range openTestDBs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, kv.Batch(ctx, []ports.KVOp{
				{Key: "pkg:b", Value: []byte("2")},
				{Key: "pkg:a", Value: []byte("1")},
				{Key: "other:c", Value: []byte("3")},
			}))
			assert.Equal(t, []string{"pkg:a", "pkg:b"}, scanKeys(t, kv, "pkg:"))

			it, err := kv.Scan(ctx, "pkg:")
			require.NoError(t, err)
			// writes after the scan started stay invisible to it
			require.NoError(t, kv.Put(ctx, "pkg:c", []byte("4")))
			var seen []string
			for it.Next() {
				seen = append(seen, it.Key()+"="+string(it.Value()))
			}
			require.NoError(t, it.Err())
			require.NoError(t, it.Close())
			if diff := cmp.Diff([]string{"pkg:a=1", "pkg:b=2"}, seen); diff != "" {
				t.Errorf("scan mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, kv.Batch(ctx, []ports.KVOp{
				{Key: "pkg:a", Delete: true},
				{Key: "pkg:d", Value: []byte("5")},
			}))
			assert.Equal(t, []string{"pkg:b", "pkg:c", "pkg:d"}, scanKeys(t, kv, "pkg:"))
			assert.Equal(t, []string{"other:c"}, scanKeys(t, kv, "other:"))
		})
	}
}

func TestLevelDBReopen(t *testing.T) {
	dir := t.TempDir()
	kv, err := OpenLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Put(t.Context(), "key", []byte("value")))
	require.NoError(t, kv.Close())

	kv, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer kv.Close()
	value, err := kv.Get(t.Context(), "key")
	require.NoError(t, err)
	assert.Equal(t, "value", string(value))
}

func TestChecksumStore(t *testing.T) {
	kv, err := OpenMemoryDB()
	require.NoError(t, err)
	defer kv.Close()
	store := NewChecksumStoreAdapter(kv)
	ctx := t.Context()

	sums, err := store.Get(ctx, "ab/cd/hello.deb")
	require.NoError(t, err)
	assert.Nil(t, sums)

	want := types.Checksums{Size: 42, MD5: "md5", SHA1: "sha1", SHA256: "sha256", SHA512: "sha512"}
	require.NoError(t, store.Update(ctx, "ab/cd/hello.deb", &want))
	require.NoError(t, store.Update(ctx, "ef/01/libc6.deb", &types.Checksums{Size: 1}))

	sums, err = store.Get(ctx, "ab/cd/hello.deb")
	require.NoError(t, err)
	require.NotNil(t, sums)
	if diff := cmp.Diff(want, *sums); diff != "" {
		t.Errorf("checksums mismatch (-want +got):\n%s", diff)
	}

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab/cd/hello.deb", "ef/01/libc6.deb"}, keys)

	require.NoError(t, store.Delete(ctx, "ab/cd/hello.deb"))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ef/01/libc6.deb"}, keys)
}
