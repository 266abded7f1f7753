package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/app"
	"aptkeeper/tests/testutil"
)

func catalogKeys(t *testing.T, svc *app.Service, query string) []string {
	t.Helper()
	keys, err := svc.SearchCatalog(t.Context(), []string{query})
	require.NoError(t, err)
	return keys
}

func TestCleanupDBRemovesUnreferencedPackages(t *testing.T) {
	svc := testutil.NewService(t)
	createRepo(t, svc, "main", hello, libc6)
	helloKeys := catalogKeys(t, svc, "hello")
	require.Len(t, helloKeys, 1)

	_, err := svc.RemovePackages(t.Context(), app.RepoRemoveRequest{Name: "main", Queries: []string{"hello"}})
	require.NoError(t, err)

	dry, err := svc.CleanupDB(t.Context(), app.DBCleanupRequest{DryRun: true, Verbose: true})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, helloKeys, dry.Packages)
	assert.Len(t, dry.PoolFiles, 1)
	assert.Positive(t, dry.FreedBytes)
	assert.Equal(t, 1, dry.ReferencedKeys)
	assert.Equal(t, helloKeys, catalogKeys(t, svc, "hello"))

	result, err := svc.CleanupDB(t.Context(), app.DBCleanupRequest{})
	require.NoError(t, err)
	assert.False(t, result.DryRun)
	assert.Equal(t, helloKeys, result.Packages)
	assert.Equal(t, dry.PoolFiles, result.PoolFiles)
	assert.Equal(t, dry.FreedBytes, result.FreedBytes)
	assert.Empty(t, catalogKeys(t, svc, "hello"))
	assert.Len(t, catalogKeys(t, svc, "libc6"), 1)

	files, err := svc.Pool.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.NotContains(t, files, result.PoolFiles[0])

	again, err := svc.CleanupDB(t.Context(), app.DBCleanupRequest{})
	require.NoError(t, err)
	assert.Empty(t, again.Packages)
	assert.Empty(t, again.PoolFiles)
}

func TestCleanupDBKeepsSnapshotContent(t *testing.T) {
	svc := testutil.NewService(t)
	snapshotOf(t, svc, "snap", "main", hello, libc6)
	_, err := svc.RemovePackages(t.Context(), app.RepoRemoveRequest{Name: "main", Queries: []string{"hello"}})
	require.NoError(t, err)

	result, err := svc.CleanupDB(t.Context(), app.DBCleanupRequest{})
	require.NoError(t, err)
	assert.Empty(t, result.Packages)
	assert.Empty(t, result.PoolFiles)
	assert.Equal(t, 2, result.ReferencedKeys)
	assert.Equal(t, []string{"hello_1.0-1_amd64", "libc6_2.36-9_amd64"}, snapshotPackages(t, svc, "snap"))

	require.NoError(t, svc.DropSnapshot(t.Context(), "snap", false))
	result, err = svc.CleanupDB(t.Context(), app.DBCleanupRequest{})
	require.NoError(t, err)
	assert.Len(t, result.Packages, 1)
}

func TestCleanupDBRemovesTempDirs(t *testing.T) {
	svc := testutil.NewService(t)
	leftover := filepath.Join(svc.Config.RootDir, "tmp", "mirror-interrupted")
	require.NoError(t, os.MkdirAll(leftover, 0o755))
	unrelated := filepath.Join(svc.Config.RootDir, "tmp", "keep-me")
	require.NoError(t, os.MkdirAll(unrelated, 0o755))

	dry, err := svc.CleanupDB(t.Context(), app.DBCleanupRequest{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, dry.TempFiles)
	assert.DirExists(t, leftover)

	result, err := svc.CleanupDB(t.Context(), app.DBCleanupRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.TempFiles, 1)
	assert.NoDirExists(t, leftover)
	assert.DirExists(t, unrelated)
}

func TestRecoverDB(t *testing.T) {
	svc := testutil.NewService(t)
	createRepo(t, svc, "main", hello)

	require.NoError(t, svc.RecoverDB(t.Context()))
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, repoPackages(t, svc, "main"))
}
