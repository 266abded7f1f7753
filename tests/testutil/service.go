// Package testutil builds services, packages, keys and upstream archives
// for tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
)

// NewService opens a service on a fresh root directory with LevelDB and
// local storage. Signing and signature checks are off unless a mutator
// turns them on.
func NewService(tb testing.TB, mutate ...func(*types.Config)) *app.Service {
	tb.Helper()
	cfg := types.Config{
		RootDir:          tb.TempDir(),
		GpgDisableSign:   true,
		GpgDisableVerify: true,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := app.Open(tb.Context(), cfg)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		_ = svc.Close()
	})
	return svc
}
