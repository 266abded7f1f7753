package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
)

func (s *Service) uploadPath(dir string, name string) (string, error) {
	if err := core.ValidateName("upload directory", dir); err != nil {
		return "", err
	}
	if name == "" {
		return filepath.Join(s.UploadDir(), dir), nil
	}
	if err := core.ValidateName("file", name); err != nil {
		return "", err
	}
	return filepath.Join(s.UploadDir(), dir, name), nil
}

// SaveUpload stores one uploaded file under the upload directory dir.
func (s *Service) SaveUpload(ctx context.Context, dir string, name string, r io.Reader) (FileUpload, error) {
	full, err := s.uploadPath(dir, filepath.Base(name))
	if err != nil {
		return FileUpload{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return FileUpload{}, shared.Internal("failed to create upload directory "+dir, err)
	}
	pending, err := renameio.TempFile(filepath.Dir(full), full)
	if err != nil {
		return FileUpload{}, shared.Internal("failed to create temporary file for "+name, err)
	}
	defer pending.Cleanup()
	size, err := io.Copy(pending, r)
	if err != nil {
		return FileUpload{}, shared.Internal("failed to write upload "+name, err)
	}
	if err := pending.Chmod(0o644); err != nil {
		return FileUpload{}, shared.Internal("failed to set mode of "+name, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return FileUpload{}, shared.Internal("failed to store upload "+name, err)
	}
	log.Ctx(ctx).Debug().Str("dir", dir).Str("file", filepath.Base(full)).Int64("size", size).Msg("file uploaded")
	return FileUpload{Dir: dir, Name: filepath.Base(full), Size: size, Uploaded: s.Clock()}, nil
}

// ListUploadDirs returns the upload directories in name order.
func (s *Service) ListUploadDirs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.UploadDir())
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, shared.Internal("failed to list upload directory", err)
	}
	out := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListUploads returns the files of one upload directory in name order.
func (s *Service) ListUploads(ctx context.Context, dir string) ([]string, error) {
	full, err := s.uploadPath(dir, "")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, shared.NotFound("upload directory", dir)
	}
	if err != nil {
		return nil, shared.Internal("failed to list upload directory "+dir, err)
	}
	out := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeleteUpload removes a single file, or the whole directory when name is
// empty.
func (s *Service) DeleteUpload(ctx context.Context, dir string, name string) error {
	full, err := s.uploadPath(dir, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
		if name == "" {
			return shared.NotFound("upload directory", dir)
		}
		return shared.NotFound("file", dir+"/"+name)
	}
	if err := os.RemoveAll(full); err != nil {
		return shared.Internal("failed to remove upload "+full, err)
	}
	return nil
}

// AddFromUpload adds the files of an upload directory, or one file of it,
// to a repo. Consumed files are removed unless noRemove; an emptied
// directory goes with them.
func (s *Service) AddFromUpload(ctx context.Context, repo string, dir string, name string, noRemove bool, forceReplace bool) (AddResult, error) {
	full, err := s.uploadPath(dir, name)
	if err != nil {
		return AddResult{}, err
	}
	if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
		return AddResult{}, shared.NotFound("upload", filepath.Join(dir, name))
	}
	result, err := s.AddPackages(ctx, RepoAddRequest{
		Name:         repo,
		Paths:        []string{full},
		RemoveFiles:  !noRemove,
		ForceReplace: forceReplace,
	})
	if err != nil {
		return result, err
	}
	if !noRemove {
		dirPath := filepath.Join(s.UploadDir(), dir)
		if entries, err := os.ReadDir(dirPath); err == nil && len(entries) == 0 {
			_ = os.Remove(dirPath)
		}
	}
	return result, nil
}
