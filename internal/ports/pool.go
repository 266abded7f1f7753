package ports

import (
	"context"
	"io"

	"aptkeeper/internal/types"
)

// ImportOptions tunes PackagePool.Import.
type ImportOptions struct {
	Move            bool
	IgnoreChecksums bool
}

// VerifyOptions tunes PackagePool.Verify.
type VerifyOptions struct {
	SkipLegacy bool
	// NoMigrate reports legacy hits in place instead of moving them.
	NoMigrate bool
}

// LinkOptions tunes PackagePool.Link.
type LinkOptions struct {
	Method string
	Verify string
	Force  bool
}

// PackagePool is the content-addressed store of package files.
type PackagePool interface {
	Import(ctx context.Context, srcPath string, basename string, checksums *types.Checksums, opts ImportOptions) (string, error)
	Verify(ctx context.Context, poolPath string, basename string, checksums *types.Checksums, opts VerifyOptions) (string, bool, error)
	Open(ctx context.Context, poolPath string) (io.ReadCloser, error)
	Stat(ctx context.Context, poolPath string) (BlobInfo, error)
	Remove(ctx context.Context, poolPath string) (int64, error)
	List(ctx context.Context) ([]string, error)
	Link(ctx context.Context, poolPath string, dest PublishEndpoint, destPath string, checksums types.Checksums, opts LinkOptions) error
	CleanupTemp(ctx context.Context) (int, error)
}

// ChecksumStore caches full checksums of pool files.
type ChecksumStore interface {
	Get(ctx context.Context, poolPath string) (*types.Checksums, error)
	Update(ctx context.Context, poolPath string, checksums *types.Checksums) error
	Delete(ctx context.Context, poolPath string) error
	Keys(ctx context.Context) ([]string, error)
}
