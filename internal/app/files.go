package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/policies"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

func isPackageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".deb", ".udeb", ".dsc":
		return true
	}
	return false
}

// collectPackageFiles expands directories into the package files below
// them. Paths that do not exist are reported as failed.
func collectPackageFiles(paths []string) ([]string, []string) {
	var files, failed []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			failed = append(failed, root)
			continue
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPackageFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			failed = append(failed, root)
		}
	}
	sort.Strings(files)
	return files, failed
}

// importPackageFile reads one .deb, .udeb or .dsc, imports it and the
// files it references into the pool and returns the catalog record
// together with every local file it consumed.
func (s *Service) importPackageFile(ctx context.Context, path string, verifier ports.Verifier, ignoreChecksums bool) (types.Package, []string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".deb", ".udeb":
		return s.importBinary(ctx, path, strings.EqualFold(filepath.Ext(path), ".udeb"))
	case ".dsc":
		return s.importSource(ctx, path, verifier, ignoreChecksums)
	default:
		return types.Package{}, nil, shared.InvalidArgument("unknown package file type: " + path)
	}
}

func (s *Service) importBinary(ctx context.Context, path string, udeb bool) (types.Package, []string, error) {
	stanza, err := s.Files.ReadDebControl(ctx, path)
	if err != nil {
		return types.Package{}, nil, err
	}
	sums, err := core.ChecksumsOfFile(path)
	if err != nil {
		return types.Package{}, nil, err
	}
	base := filepath.Base(path)
	core.SetBinaryChecksums(&stanza, sums)
	stanza.Set("Filename", base)
	pkg, err := core.PackageFromBinaryStanza(stanza, udeb)
	if err != nil {
		return types.Package{}, nil, err
	}
	imported := sums
	poolPath, err := s.Pool.Import(ctx, path, base, &imported, ports.ImportOptions{})
	if err != nil {
		return types.Package{}, nil, err
	}
	pkg.Stanza.Delete("Filename")
	pkg.Files[0].PoolPath = poolPath
	pkg.Files[0].DownloadPath = ""
	return pkg, []string{path}, nil
}

func (s *Service) importSource(ctx context.Context, path string, verifier ports.Verifier, ignoreChecksums bool) (types.Package, []string, error) {
	stanza, err := s.Files.ReadDscControl(ctx, path, verifier)
	if err != nil {
		return types.Package{}, nil, err
	}
	sums, err := core.ChecksumsOfFile(path)
	if err != nil {
		return types.Package{}, nil, err
	}
	base := filepath.Base(path)
	core.AddSourceFile(&stanza, base, sums)
	pkg, err := core.PackageFromSourceStanza(stanza)
	if err != nil {
		return types.Package{}, nil, err
	}
	dir := filepath.Dir(path)
	consumed := make([]string, 0, len(pkg.Files))
	for i := range pkg.Files {
		file := &pkg.Files[i]
		local := filepath.Join(dir, file.Filename)
		if _, err := os.Stat(local); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return types.Package{}, nil, shared.NotFound("source file", local)
			}
			return types.Package{}, nil, shared.Internal("failed to stat "+local, err)
		}
		expected := file.Checksums
		poolPath, err := s.Pool.Import(ctx, local, file.Filename, &expected, ports.ImportOptions{IgnoreChecksums: ignoreChecksums})
		if err != nil {
			return types.Package{}, nil, err
		}
		file.PoolPath = poolPath
		file.DownloadPath = ""
		consumed = append(consumed, local)
	}
	return pkg, consumed, nil
}

// addToList inserts pkg into list. A different package with the same
// (name, version, architecture) is a conflict unless forceReplace, in which
// case the old one is dropped and reported.
func addToList(list *core.PackageList, pkg types.Package, forceReplace bool) ([]types.Package, error) {
	if list.Has(pkg.Key()) {
		return nil, nil
	}
	action := policies.ActionBlock
	if forceReplace {
		action = policies.ActionReplace
	}
	var replaced []types.Package
	for _, existing := range list.Packages() {
		if existing.ShortKey() != pkg.ShortKey() {
			continue
		}
		replace, err := policies.ResolveConflict(existing, pkg, action)
		if err != nil {
			return nil, err
		}
		if !replace {
			return nil, nil
		}
		list.Remove(existing.Key())
		replaced = append(replaced, existing)
	}
	if err := list.Add(pkg); err != nil {
		return nil, err
	}
	return replaced, nil
}

// removeConsumed deletes imported source files, logging failures.
func removeConsumed(ctx context.Context, paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Ctx(ctx).Warn().Err(err).Str("file", path).Msg("unable to remove imported file")
		}
	}
}
