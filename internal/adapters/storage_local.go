package adapters

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/renameio"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
)

// LocalStorageAdapter keeps blobs below a directory on the local
// filesystem. Writes land in a temporary file which is renamed into place.
type LocalStorageAdapter struct {
	root string
}

func NewLocalStorageAdapter(root string) *LocalStorageAdapter {
	return &LocalStorageAdapter{root: filepath.Clean(root)}
}

func (a *LocalStorageAdapter) FullPath(path string) string {
	return filepath.Join(a.root, filepath.FromSlash(path))
}

func (a *LocalStorageAdapter) PutFile(ctx context.Context, path string, r io.Reader) error {
	full := a.FullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return shared.Internal("failed to create directory for "+path, err)
	}
	pending, err := renameio.TempFile(filepath.Dir(full), full)
	if err != nil {
		return shared.Internal("failed to create temporary file for "+path, err)
	}
	defer pending.Cleanup()
	if _, err := io.Copy(pending, r); err != nil {
		return shared.Internal("failed to write "+path, err)
	}
	if err := pending.Chmod(0o644); err != nil {
		return shared.Internal("failed to set mode of "+path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return shared.Internal("failed to rename "+path+" into place", err)
	}
	return nil
}

func (a *LocalStorageAdapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(a.FullPath(path))
	if err != nil {
		return nil, localError("open", path, err)
	}
	return file, nil
}

// Stat does not report MD5; callers hash the file when they need it.
func (a *LocalStorageAdapter) Stat(ctx context.Context, path string) (ports.BlobInfo, error) {
	info, err := os.Stat(a.FullPath(path))
	if err != nil {
		return ports.BlobInfo{}, localError("stat", path, err)
	}
	if info.IsDir() {
		return ports.BlobInfo{}, shared.InvalidArgument(path + " is a directory")
	}
	return ports.BlobInfo{Size: info.Size()}, nil
}

// Remove deletes path; removing a missing file is not an error.
func (a *LocalStorageAdapter) Remove(ctx context.Context, path string) error {
	err := os.Remove(a.FullPath(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return localError("remove", path, err)
	}
	return nil
}

func (a *LocalStorageAdapter) RemoveDir(ctx context.Context, path string) error {
	if err := os.RemoveAll(a.FullPath(path)); err != nil {
		return localError("remove directory", path, err)
	}
	return nil
}

// List returns the slash separated paths of all files below prefix,
// sorted. A missing prefix yields an empty list.
func (a *LocalStorageAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	base := a.FullPath(prefix)
	var out []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, localError("list", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

func (a *LocalStorageAdapter) Rename(ctx context.Context, oldPath string, newPath string) error {
	dest := a.FullPath(newPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return shared.Internal("failed to create directory for "+newPath, err)
	}
	if err := os.Rename(a.FullPath(oldPath), dest); err != nil {
		return localError("rename", oldPath, err)
	}
	return nil
}

// HardLink links the absolute file src at path, replacing what was there.
func (a *LocalStorageAdapter) HardLink(ctx context.Context, src string, path string) error {
	dest := a.FullPath(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return shared.Internal("failed to create directory for "+path, err)
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return localError("replace", path, err)
	}
	if err := os.Link(src, dest); err != nil {
		return localError("link", path, err)
	}
	return nil
}

func (a *LocalStorageAdapter) SymLink(ctx context.Context, src string, path string) error {
	dest := a.FullPath(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return shared.Internal("failed to create directory for "+path, err)
	}
	if err := renameio.Symlink(src, dest); err != nil {
		return localError("symlink", path, err)
	}
	return nil
}

func (a *LocalStorageAdapter) String() string {
	return a.root
}

func localError(op string, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("file not found: " + path).
			WithCause(err)
	}
	return shared.Internal("failed to "+op+" "+strings.TrimPrefix(path, "/"), err)
}

var _ ports.LocalBlobStorage = (*LocalStorageAdapter)(nil)
