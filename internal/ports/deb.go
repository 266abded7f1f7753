package ports

import (
	"context"
	"io"

	"aptkeeper/internal/types"
)

// PackageFileReader extracts metadata from package files on disk.
type PackageFileReader interface {
	ReadDebControl(ctx context.Context, path string) (types.Stanza, error)
	ReadDscControl(ctx context.Context, path string, verifier Verifier) (types.Stanza, error)
	ReadChanges(ctx context.Context, path string, verifier Verifier) (types.Stanza, error)
	ReadDebContents(ctx context.Context, r io.Reader) ([]string, error)
}
