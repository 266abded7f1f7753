package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// recordingPool records Link calls and fails the ones listed in fail.
type recordingPool struct {
	ports.PackagePool

	mu     sync.Mutex
	linked []string
	fail   map[string]bool
}

func (p *recordingPool) Link(ctx context.Context, poolPath string, _ ports.PublishEndpoint, destPath string, _ types.Checksums, _ ports.LinkOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linked = append(p.linked, destPath)
	if p.fail[poolPath] {
		return shared.Unavailable("link failed for "+poolPath, errors.New("boom"))
	}
	return nil
}

func TestLinkPool(t *testing.T) {
	files := []core.PublishFile{
		{PoolPath: "aa/bb/hello.deb", DestPath: "pool/main/h/hello/hello.deb"},
		{PoolPath: "cc/dd/libc6.deb", DestPath: "pool/main/g/glibc/libc6.deb"},
	}
	tests := []struct {
		name       string
		files      []core.PublishFile
		fail       map[string]bool
		wantErr    bool
		wantLinked int
	}{
		{name: "all linked", files: files, wantLinked: 2},
		{name: "link failure waits for every link", files: files, fail: map[string]bool{"aa/bb/hello.deb": true}, wantErr: true, wantLinked: 2},
		{
			name:    "file outside the pool starts nothing",
			files:   append(append([]core.PublishFile{}, files...), core.PublishFile{DestPath: "pool/main/t/tzdata/tzdata.deb"}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &recordingPool{fail: tt.fail}
			svc := &Service{Config: types.Config{DownloadConcurrency: 1}, Pool: pool}

			err := svc.linkPool(t.Context(), ports.PublishEndpoint{}, "debian", tt.files, false)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			pool.mu.Lock()
			defer pool.mu.Unlock()
			assert.Len(t, pool.linked, tt.wantLinked)
		})
	}
}
