package app

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/types"
)

// reversedPool lists pool files in descending order, as remote stores may.
type reversedPool struct {
	ports.PackagePool
}

func (p reversedPool) List(ctx context.Context) ([]string, error) {
	files, err := p.PackagePool.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(files)
	return files, nil
}

func TestCleanupDBUnsortedPoolListing(t *testing.T) {
	ctx := t.Context()
	svc, err := Open(ctx, types.Config{RootDir: t.TempDir(), GpgDisableSign: true, GpgDisableVerify: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	svc.Pool = reversedPool{svc.Pool}

	src := t.TempDir()
	var imported []string
	for _, name := range []string{"a_1_all.deb", "b_1_all.deb", "c_1_all.deb"} {
		file := filepath.Join(src, name)
		require.NoError(t, os.WriteFile(file, []byte("body of "+name), 0o644))
		poolPath, err := svc.Pool.Import(ctx, file, name, nil, ports.ImportOptions{})
		require.NoError(t, err)
		imported = append(imported, poolPath)
	}

	result, err := svc.CleanupDB(ctx, DBCleanupRequest{DryRun: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, imported, result.PoolFiles)
	assert.Empty(t, result.ChecksumCache)
}
