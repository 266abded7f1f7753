package ports

import (
	"context"
	"io"

	"aptkeeper/internal/types"
)

// Downloader fetches remote files.
type Downloader interface {
	// Fetch returns the body of url; NotFound when the server says so.
	Fetch(ctx context.Context, url string) ([]byte, error)
	// DownloadTo stores url at destPath verifying expected checksums when
	// given, and returns the computed checksums.
	DownloadTo(ctx context.Context, url string, destPath string, expected *types.Checksums) (types.Checksums, error)
	// Open streams url, following redirects.
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}
