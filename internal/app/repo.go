package app

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/policies"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

func (s *Service) CreateRepo(ctx context.Context, req RepoCreateRequest) (types.LocalRepo, error) {
	if err := core.ValidateName("local repo", req.Name); err != nil {
		return types.LocalRepo{}, err
	}
	repo := types.LocalRepo{
		UUID:                uuid.NewString(),
		Name:                req.Name,
		Comment:             req.Comment,
		DefaultDistribution: req.DefaultDistribution,
		DefaultComponent:    req.DefaultComponent,
		CreatedAt:           s.Clock(),
	}
	if req.UploadersFile != "" {
		uploaders, err := policies.LoadUploaders(req.UploadersFile)
		if err != nil {
			return types.LocalRepo{}, err
		}
		repo.Uploaders = uploaders
	}
	leases := Exclusive(RepoResource(req.Name))
	if req.FromSnapshot != "" {
		leases = append(leases, Shared(SnapshotResource(req.FromSnapshot))...)
	}
	err := s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		if _, err := s.Repos.ByName(ctx, req.Name); err == nil {
			return shared.AlreadyExists("local repo", req.Name)
		} else if !shared.IsNotFound(err) {
			return err
		}
		if req.FromSnapshot != "" {
			snapshot, err := s.Snapshots.ByName(ctx, req.FromSnapshot)
			if err != nil {
				return err
			}
			refs, err := s.loadRefList(ctx, snapshot.UUID)
			if err != nil {
				return err
			}
			if err := s.saveRefList(ctx, repo.UUID, refs); err != nil {
				return err
			}
		}
		return s.Repos.Add(ctx, repo)
	})
	if err != nil {
		return types.LocalRepo{}, err
	}
	log.Ctx(ctx).Info().Str("repo", repo.Name).Msg("local repo created")
	return repo, nil
}

func (s *Service) EditRepo(ctx context.Context, req RepoEditRequest) (types.LocalRepo, error) {
	var repo types.LocalRepo
	err := s.Tasks.RunSync(ctx, Exclusive(RepoResource(req.Name)), func(ctx context.Context) error {
		var err error
		repo, err = s.Repos.ByName(ctx, req.Name)
		if err != nil {
			return err
		}
		if req.Comment != nil {
			repo.Comment = *req.Comment
		}
		if req.DefaultDistribution != nil {
			repo.DefaultDistribution = *req.DefaultDistribution
		}
		if req.DefaultComponent != nil {
			repo.DefaultComponent = *req.DefaultComponent
		}
		switch {
		case req.ClearUploaders:
			repo.Uploaders = nil
		case req.UploadersFile != nil && *req.UploadersFile != "":
			uploaders, err := policies.LoadUploaders(*req.UploadersFile)
			if err != nil {
				return err
			}
			repo.Uploaders = uploaders
		}
		return s.Repos.Update(ctx, repo)
	})
	return repo, err
}

// ShowRepo reports a local repo under a shared lease.
func (s *Service) ShowRepo(ctx context.Context, name string, withPackages bool) (RepoDetails, error) {
	var details RepoDetails
	err := s.Tasks.RunSync(ctx, Shared(RepoResource(name)), func(ctx context.Context) error {
		var err error
		details, err = s.showRepo(ctx, name, withPackages)
		return err
	})
	return details, err
}

func (s *Service) showRepo(ctx context.Context, name string, withPackages bool) (RepoDetails, error) {
	repo, err := s.Repos.ByName(ctx, name)
	if err != nil {
		return RepoDetails{}, err
	}
	refs, err := s.loadRefList(ctx, repo.UUID)
	if err != nil {
		return RepoDetails{}, err
	}
	details := RepoDetails{Repo: repo, PackageCount: refs.Len()}
	if withPackages {
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return RepoDetails{}, err
		}
		details.Packages = list.Packages()
	}
	return details, nil
}

func (s *Service) ListRepos(ctx context.Context) ([]types.LocalRepo, error) {
	repos, err := s.Repos.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

// DropRepo removes a local repo. A published repo can never be dropped; a
// repo that snapshots were taken from needs force.
func (s *Service) DropRepo(ctx context.Context, name string, force bool) error {
	return s.Tasks.RunSync(ctx, Exclusive(RepoResource(name)), func(ctx context.Context) error {
		repo, err := s.Repos.ByName(ctx, name)
		if err != nil {
			return err
		}
		published, err := s.publicationsUsing(ctx, types.PublishSourceLocal, repo.UUID)
		if err != nil {
			return err
		}
		if len(published) > 0 {
			return shared.InUse("unable to drop, local repo is published: " + published[0].StoragePrefix() + "/" + published[0].Distribution)
		}
		if !force {
			snapshots, err := s.snapshotsFrom(ctx, types.SnapshotSourceRepo, repo.UUID)
			if err != nil {
				return err
			}
			if len(snapshots) > 0 {
				return shared.InUse("local repo was used to create snapshot " + snapshots[0].Name + "; use force to drop it anyway")
			}
		}
		if err := s.RefLists.Delete(ctx, repo.UUID); err != nil && !shared.IsNotFound(err) {
			return err
		}
		if err := s.Repos.Drop(ctx, name); err != nil {
			return err
		}
		log.Ctx(ctx).Info().Str("repo", name).Msg("local repo dropped")
		return nil
	})
}

func (s *Service) RenameRepo(ctx context.Context, oldName string, newName string) error {
	if err := core.ValidateName("local repo", newName); err != nil {
		return err
	}
	return s.Tasks.RunSync(ctx, Exclusive(RepoResource(oldName), RepoResource(newName)), func(ctx context.Context) error {
		return s.Repos.Rename(ctx, oldName, newName)
	})
}

// AddPackages imports package files into a repo. Files that fail are
// reported and skipped; the reflist is saved once for the whole batch.
func (s *Service) AddPackages(ctx context.Context, req RepoAddRequest) (AddResult, error) {
	var result AddResult
	err := s.Tasks.RunSync(ctx, Exclusive(RepoResource(req.Name)), func(ctx context.Context) error {
		repo, err := s.Repos.ByName(ctx, req.Name)
		if err != nil {
			return err
		}
		refs, err := s.loadRefList(ctx, repo.UUID)
		if err != nil {
			return err
		}
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return err
		}
		files, failed := collectPackageFiles(req.Paths)
		result.Failed = append(result.Failed, failed...)
		progress := ProgressFrom(ctx)
		progress.Stage("import", int64(len(files)))

		var consumed []string
		for _, file := range files {
			progress.Add(1)
			pkg, used, err := s.importPackageFile(ctx, file, nil, false)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("file", file).Msg("unable to import file")
				result.Failed = append(result.Failed, file)
				result.Warnings = append(result.Warnings, file+": "+shared.Message(err))
				continue
			}
			replaced, err := addToList(list, pkg, req.ForceReplace)
			if err != nil {
				result.Failed = append(result.Failed, file)
				result.Warnings = append(result.Warnings, shared.Message(err))
				continue
			}
			if err := s.Catalog.Put(ctx, pkg); err != nil {
				return err
			}
			for _, old := range replaced {
				result.Removed = append(result.Removed, old.String())
			}
			result.Added = append(result.Added, pkg.String())
			consumed = append(consumed, used...)
		}
		if err := s.saveRefList(ctx, repo.UUID, list.RefList()); err != nil {
			return err
		}
		if req.RemoveFiles {
			removeConsumed(ctx, consumed)
		}
		log.Ctx(ctx).Info().Str("repo", repo.Name).Int("added", len(result.Added)).Int("failed", len(result.Failed)).Msg("packages added")
		return nil
	})
	return result, err
}

// RemovePackages drops packages matching queries from a repo.
func (s *Service) RemovePackages(ctx context.Context, req RepoRemoveRequest) (ChangeResult, error) {
	if len(req.Queries) == 0 {
		return ChangeResult{}, shared.InvalidArgument("at least one package query is required")
	}
	q, err := core.ParseQueries(req.Queries)
	if err != nil {
		return ChangeResult{}, err
	}
	var result ChangeResult
	err = s.Tasks.RunSync(ctx, Exclusive(RepoResource(req.Name)), func(ctx context.Context) error {
		repo, err := s.Repos.ByName(ctx, req.Name)
		if err != nil {
			return err
		}
		refs, err := s.loadRefList(ctx, repo.UUID)
		if err != nil {
			return err
		}
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return err
		}
		result.Removed = list.Query(q, nil)
		if req.DryRun {
			return nil
		}
		for _, pkg := range result.Removed {
			list.Remove(pkg.Key())
		}
		return s.saveRefList(ctx, repo.UUID, list.RefList())
	})
	return result, err
}

// EditRepoPackages adds and removes catalog packages by key. Unknown keys
// fail the whole change.
func (s *Service) EditRepoPackages(ctx context.Context, name string, add []string, remove []string) (ChangeResult, error) {
	var result ChangeResult
	err := s.Tasks.RunSync(ctx, Exclusive(RepoResource(name)), func(ctx context.Context) error {
		repo, err := s.Repos.ByName(ctx, name)
		if err != nil {
			return err
		}
		refs, err := s.loadRefList(ctx, repo.UUID)
		if err != nil {
			return err
		}
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return err
		}
		for _, key := range add {
			pkg, err := s.Catalog.Get(ctx, key)
			if err != nil {
				if shared.IsNotFound(err) {
					return shared.NotFound("package", key)
				}
				return err
			}
			if list.Has(key) {
				continue
			}
			replaced, err := addToList(list, pkg, false)
			if err != nil {
				return err
			}
			result.Added = append(result.Added, pkg)
			result.Removed = append(result.Removed, replaced...)
		}
		for _, key := range remove {
			pkg, ok := list.Get(key)
			if !ok {
				continue
			}
			list.Remove(key)
			result.Removed = append(result.Removed, pkg)
		}
		return s.saveRefList(ctx, repo.UUID, list.RefList())
	})
	return result, err
}

// ImportFromMirror copies packages matching queries from a mirror into a
// repo, optionally with their dependencies resolved inside the mirror.
func (s *Service) ImportFromMirror(ctx context.Context, req RepoImportRequest) (ChangeResult, error) {
	leases := append(Exclusive(RepoResource(req.Repo)), Shared(MirrorResource(req.Mirror))...)
	var result ChangeResult
	err := s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		_, source, err := s.sourcePackages(ctx, SourceMirror, req.Mirror)
		if err != nil {
			return err
		}
		result, err = s.transfer(ctx, source, req.Repo, req.Queries, req.WithDeps, req.DryRun, req.Architectures, req.Flags)
		return err
	})
	return result, err
}

// CopyPackages copies or moves packages between local repos.
func (s *Service) CopyPackages(ctx context.Context, req RepoCopyRequest) (ChangeResult, error) {
	if req.Source == req.Dest {
		return ChangeResult{}, shared.InvalidArgument("source and destination repo are the same")
	}
	var leases []Lease
	if req.Move {
		leases = Exclusive(RepoResource(req.Source), RepoResource(req.Dest))
	} else {
		leases = append(Exclusive(RepoResource(req.Dest)), Shared(RepoResource(req.Source))...)
	}
	var result ChangeResult
	err := s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		src, source, err := s.sourcePackages(ctx, SourceRepo, req.Source)
		if err != nil {
			return err
		}
		result, err = s.transfer(ctx, source, req.Dest, req.Queries, req.WithDeps, req.DryRun, req.Architectures, req.Flags)
		if err != nil || req.DryRun || !req.Move {
			return err
		}
		for _, pkg := range result.Added {
			source.Remove(pkg.Key())
		}
		return s.saveRefList(ctx, src.UUID, source.RefList())
	})
	return result, err
}

// transfer adds the packages of source selected by queries to the repo
// dest. Packages already present are not reported.
func (s *Service) transfer(ctx context.Context, source *core.PackageList, dest string, queries []string, withDeps bool, dryRun bool, archs []string, flags *types.DependencyFlags) (ChangeResult, error) {
	q, err := core.ParseQueries(queries)
	if err != nil {
		return ChangeResult{}, err
	}
	repo, err := s.Repos.ByName(ctx, dest)
	if err != nil {
		return ChangeResult{}, err
	}
	refs, err := s.loadRefList(ctx, repo.UUID)
	if err != nil {
		return ChangeResult{}, err
	}
	target, err := s.packageList(ctx, refs)
	if err != nil {
		return ChangeResult{}, err
	}
	selected, err := core.Filter(source, q, withDeps, s.DependencyFlags(flags), s.architectures(archs), target)
	if err != nil {
		return ChangeResult{}, err
	}
	var result ChangeResult
	for _, pkg := range selected {
		if target.Has(pkg.Key()) {
			continue
		}
		replaced, err := addToList(target, pkg, true)
		if err != nil {
			return ChangeResult{}, err
		}
		result.Added = append(result.Added, pkg)
		result.Removed = append(result.Removed, replaced...)
	}
	if dryRun {
		return result, nil
	}
	return result, s.saveRefList(ctx, repo.UUID, target.RefList())
}

// publicationsUsing lists publications of kind that reference id.
func (s *Service) publicationsUsing(ctx context.Context, kind types.PublishSourceKind, id string) ([]types.PublishedRepo, error) {
	all, err := s.Published.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.PublishedRepo
	for _, pub := range all {
		if pub.SourceKind != kind {
			continue
		}
		if referencesSource(pub.Sources, id) || referencesSource(pub.PendingSources, id) {
			out = append(out, pub)
		}
	}
	return out, nil
}

func referencesSource(sources map[string]string, id string) bool {
	for _, sourceID := range sources {
		if sourceID == id {
			return true
		}
	}
	return false
}

// snapshotsFrom lists snapshots created from the entity id.
func (s *Service) snapshotsFrom(ctx context.Context, kind types.SnapshotSourceKind, id string) ([]types.Snapshot, error) {
	all, err := s.Snapshots.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Snapshot
	for _, snapshot := range all {
		if snapshot.SourceKind == kind && shared.Contains(snapshot.SourceIDs, id) {
			out = append(out, snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
