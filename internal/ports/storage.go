package ports

import (
	"context"
	"io"
)

// BlobInfo describes a stored object. MD5 is empty when the back-end
// cannot report it without reading the object.
type BlobInfo struct {
	Size int64
	MD5  string
}

// BlobStorage is the surface every pool and publish back-end provides.
// Paths are slash separated and relative to the back-end root.
type BlobStorage interface {
	// PutFile writes r to a temporary object and renames it into place.
	PutFile(ctx context.Context, path string, r io.Reader) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (BlobInfo, error)
	Remove(ctx context.Context, path string) error
	RemoveDir(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Rename(ctx context.Context, oldPath string, newPath string) error
	String() string
}

// LocalBlobStorage is a BlobStorage on the local filesystem which can
// also link files instead of copying them.
type LocalBlobStorage interface {
	BlobStorage
	FullPath(path string) string
	HardLink(ctx context.Context, src string, path string) error
	SymLink(ctx context.Context, src string, path string) error
}

// PublishEndpoint is a publish storage together with the way pool files
// are placed on it.
type PublishEndpoint struct {
	Name         string
	Storage      BlobStorage
	LinkMethod   string
	VerifyMethod string
}

// StorageRegistry resolves publish storage names to endpoints.
type StorageRegistry interface {
	PublishEndpoint(ctx context.Context, name string) (PublishEndpoint, error)
}
