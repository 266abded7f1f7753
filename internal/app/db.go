package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
)

// collectionRefLists returns the ids of every live reflist.
func (s *Service) collectionRefLists(ctx context.Context) ([]string, error) {
	var ids []string
	repos, err := s.Repos.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		ids = append(ids, repo.UUID)
	}
	mirrors, err := s.Mirrors.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, mirror := range mirrors {
		ids = append(ids, mirror.UUID)
	}
	snapshots, err := s.Snapshots.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, snapshot := range snapshots {
		ids = append(ids, snapshot.UUID)
	}
	publications, err := s.Published.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, publication := range publications {
		for _, id := range publication.RefLists {
			ids = append(ids, id)
		}
	}
	return shared.UniqueSorted(ids), nil
}

// CleanupDB removes catalog records, pool files, reflists, reflist buckets
// and checksum entries that nothing references, plus leftover temp files.
func (s *Service) CleanupDB(ctx context.Context, req DBCleanupRequest) (DBCleanupResult, error) {
	result := DBCleanupResult{DryRun: req.DryRun}
	err := s.Tasks.RunSync(ctx, Exclusive(AllResources), func(ctx context.Context) error {
		var err error
		result, err = s.cleanupDB(ctx, req)
		return err
	})
	return result, err
}

func (s *Service) cleanupDB(ctx context.Context, req DBCleanupRequest) (DBCleanupResult, error) {
	logger := log.Ctx(ctx)
	progress := ProgressFrom(ctx)
	result := DBCleanupResult{DryRun: req.DryRun}
	deleted := func(kind string, name string) {
		if req.Verbose {
			logger.Info().Str(kind, name).Bool("dryRun", req.DryRun).Msg("deleting")
		}
	}

	progress.Stage("references", 1)
	live, err := s.collectionRefLists(ctx)
	if err != nil {
		return result, err
	}
	referenced := core.NewRefList()
	for _, id := range live {
		list, err := s.loadRefList(ctx, id)
		if err != nil {
			return result, err
		}
		referenced = referenced.Union(list)
	}
	result.ReferencedKeys = referenced.Len()
	progress.Add(1)

	ids, err := s.RefLists.IDs(ctx)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if shared.Contains(live, id) {
			continue
		}
		deleted("reflist", id)
		result.RefLists = append(result.RefLists, id)
		if !req.DryRun {
			if err := s.RefLists.Delete(ctx, id); err != nil {
				return result, err
			}
		}
	}

	keys, err := s.Catalog.Keys(ctx)
	if err != nil {
		return result, err
	}
	progress.Stage("packages", int64(len(keys)))
	usedFiles := map[string]bool{}
	for _, key := range keys {
		progress.Add(1)
		if referenced.Has(key) {
			pkg, err := s.Catalog.Get(ctx, key)
			if err != nil {
				return result, err
			}
			for _, file := range pkg.Files {
				usedFiles[file.PoolPath] = true
			}
			continue
		}
		deleted("package", key)
		result.Packages = append(result.Packages, key)
		if req.DryRun {
			continue
		}
		if err := s.Catalog.Delete(ctx, key); err != nil {
			return result, err
		}
		if err := s.KV.Delete(ctx, contentsKeyPrefix+key); err != nil && !shared.IsNotFound(err) {
			return result, err
		}
	}

	files, err := s.Pool.List(ctx)
	if err != nil {
		return result, err
	}
	present := make(map[string]bool, len(files))
	progress.Stage("pool", int64(len(files)))
	for _, file := range files {
		present[file] = true
		progress.Add(1)
		if usedFiles[file] {
			continue
		}
		deleted("file", file)
		result.PoolFiles = append(result.PoolFiles, file)
		if req.DryRun {
			if info, err := s.Pool.Stat(ctx, file); err == nil {
				result.FreedBytes += info.Size
			}
			continue
		}
		freed, err := s.Pool.Remove(ctx, file)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("unable to remove pool file")
			continue
		}
		result.FreedBytes += freed
	}

	cached, err := s.Checksums.Keys(ctx)
	if err != nil {
		return result, err
	}
	for _, poolPath := range cached {
		// entries of removed pool files went away with the file
		if usedFiles[poolPath] || present[poolPath] {
			continue
		}
		deleted("checksum", poolPath)
		result.ChecksumCache = append(result.ChecksumCache, poolPath)
		if !req.DryRun {
			if err := s.Checksums.Delete(ctx, poolPath); err != nil && !shared.IsNotFound(err) {
				return result, err
			}
		}
	}

	result.Buckets, err = s.RefLists.CleanupBuckets(ctx, req.DryRun)
	if err != nil {
		return result, err
	}
	if !req.DryRun {
		result.TempFiles, err = s.Pool.CleanupTemp(ctx)
		if err != nil {
			return result, err
		}
		result.TempFiles += s.cleanupTempDir(ctx)
	}

	logger.Info().
		Int("packages", len(result.Packages)).
		Int("files", len(result.PoolFiles)).
		Int("reflists", len(result.RefLists)).
		Int("buckets", result.Buckets).
		Str("freed", humanize.Bytes(uint64(result.FreedBytes))).
		Bool("dryRun", req.DryRun).
		Msg("database cleanup finished")
	return result, nil
}

// cleanupTempDir removes leftovers of interrupted mirror updates.
func (s *Service) cleanupTempDir(ctx context.Context) int {
	dir := filepath.Join(s.Config.RootDir, "tmp")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "mirror-") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("dir", entry.Name()).Msg("unable to remove temporary directory")
			continue
		}
		removed++
	}
	return removed
}

// RecoverDB checks the database and rebuilds it when it is corrupted.
func (s *Service) RecoverDB(ctx context.Context) error {
	return s.Tasks.RunSync(ctx, Exclusive(AllResources), func(ctx context.Context) error {
		if err := s.KV.RecoverIfCorrupted(ctx); err != nil {
			return err
		}
		log.Ctx(ctx).Info().Msg("database check finished")
		return nil
	})
}
