package app

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// CreateSnapshot captures the current content of a mirror or repo, or
// creates an empty snapshot.
func (s *Service) CreateSnapshot(ctx context.Context, req SnapshotCreateRequest) (types.Snapshot, error) {
	if err := core.ValidateName("snapshot", req.Name); err != nil {
		return types.Snapshot{}, err
	}
	leases := Exclusive(SnapshotResource(req.Name))
	switch req.FromKind {
	case SourceMirror:
		leases = append(leases, Shared(MirrorResource(req.FromName))...)
	case SourceRepo:
		leases = append(leases, Shared(RepoResource(req.FromName))...)
	case "":
	default:
		return types.Snapshot{}, shared.InvalidArgument("snapshots can be created from a mirror, a repo or empty")
	}
	snapshot := types.Snapshot{
		UUID:        uuid.NewString(),
		Name:        req.Name,
		CreatedAt:   s.Clock(),
		Description: req.Description,
	}
	err := s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		if err := s.ensureNoSnapshot(ctx, req.Name); err != nil {
			return err
		}
		refs := core.NewRefList()
		if req.FromKind != "" {
			src, err := s.resolveSource(ctx, req.FromKind, req.FromName)
			if err != nil {
				return err
			}
			if req.FromKind == SourceMirror {
				mirror, err := s.Mirrors.ByUUID(ctx, src.UUID)
				if err != nil {
					return err
				}
				if mirror.LastDownloadDate.IsZero() {
					return shared.InUse("mirror " + mirror.Name + " has never been downloaded, update it first")
				}
				snapshot.SourceKind = types.SnapshotSourceMirror
			} else {
				snapshot.SourceKind = types.SnapshotSourceRepo
			}
			snapshot.SourceIDs = []string{src.UUID}
			if snapshot.Description == "" {
				snapshot.Description = "Snapshot from " + describeKind(req.FromKind) + " " + src.Name
			}
			refs, err = s.loadRefList(ctx, src.UUID)
			if err != nil {
				return err
			}
		} else if snapshot.Description == "" {
			snapshot.Description = "Created as empty"
		}
		return s.storeSnapshot(ctx, snapshot, refs)
	})
	if err != nil {
		return types.Snapshot{}, err
	}
	log.Ctx(ctx).Info().Str("snapshot", snapshot.Name).Msg("snapshot created")
	return snapshot, nil
}

func describeKind(kind SourceKind) string {
	if kind == SourceRepo {
		return "local repo"
	}
	return string(kind)
}

func (s *Service) ensureNoSnapshot(ctx context.Context, name string) error {
	if _, err := s.Snapshots.ByName(ctx, name); err == nil {
		return shared.AlreadyExists("snapshot", name)
	} else if !shared.IsNotFound(err) {
		return err
	}
	return nil
}

// storeSnapshot writes the reflist before the record, so a visible
// snapshot always has its content.
func (s *Service) storeSnapshot(ctx context.Context, snapshot types.Snapshot, refs core.RefList) error {
	if err := s.saveRefList(ctx, snapshot.UUID, refs); err != nil {
		return err
	}
	if err := s.Snapshots.Add(ctx, snapshot); err != nil {
		_ = s.RefLists.Delete(ctx, snapshot.UUID)
		return err
	}
	return nil
}

// snapshotRefs resolves snapshot names to records and reflists.
func (s *Service) snapshotRefs(ctx context.Context, names []string) ([]types.Snapshot, []core.RefList, error) {
	snapshots := make([]types.Snapshot, 0, len(names))
	lists := make([]core.RefList, 0, len(names))
	for _, name := range names {
		snapshot, err := s.Snapshots.ByName(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		refs, err := s.loadRefList(ctx, snapshot.UUID)
		if err != nil {
			return nil, nil, err
		}
		snapshots = append(snapshots, snapshot)
		lists = append(lists, refs)
	}
	return snapshots, lists, nil
}

func snapshotLeases(dest string, sources ...string) []Lease {
	leases := Exclusive(SnapshotResource(dest))
	for _, source := range sources {
		if source == dest {
			continue
		}
		leases = append(leases, Shared(SnapshotResource(source))...)
	}
	return leases
}

func snapshotIDs(snapshots []types.Snapshot) []string {
	out := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		out = append(out, snapshot.UUID)
	}
	return out
}

func (s *Service) MergeSnapshots(ctx context.Context, req SnapshotMergeRequest) (types.Snapshot, error) {
	if err := core.ValidateName("snapshot", req.Dest); err != nil {
		return types.Snapshot{}, err
	}
	if len(req.Sources) == 0 {
		return types.Snapshot{}, shared.InvalidArgument("at least one source snapshot is required")
	}
	var snapshot types.Snapshot
	err := s.Tasks.RunSync(ctx, snapshotLeases(req.Dest, req.Sources...), func(ctx context.Context) error {
		if err := s.ensureNoSnapshot(ctx, req.Dest); err != nil {
			return err
		}
		sources, lists, err := s.snapshotRefs(ctx, req.Sources)
		if err != nil {
			return err
		}
		merged, err := core.Merge(lists, core.MergeOptions{Latest: req.Latest, NoRemove: req.NoRemove})
		if err != nil {
			return err
		}
		snapshot = types.Snapshot{
			UUID:        uuid.NewString(),
			Name:        req.Dest,
			CreatedAt:   s.Clock(),
			SourceKind:  types.SnapshotSourceSnapshot,
			SourceIDs:   snapshotIDs(sources),
			Description: "Merged from sources: " + quotedNames(req.Sources),
		}
		return s.storeSnapshot(ctx, snapshot, merged)
	})
	return snapshot, err
}

func quotedNames(names []string) string {
	return "'" + strings.Join(names, "', '") + "'"
}

// PullSnapshot creates Dest from Target plus the packages of Source that
// match the queries.
func (s *Service) PullSnapshot(ctx context.Context, req SnapshotPullRequest) (SnapshotPullResult, error) {
	if !req.DryRun {
		if err := core.ValidateName("snapshot", req.Dest); err != nil {
			return SnapshotPullResult{}, err
		}
	}
	if len(req.Queries) == 0 {
		return SnapshotPullResult{}, shared.InvalidArgument("at least one package query is required")
	}
	queries := make([]core.PackageQuery, 0, len(req.Queries))
	for _, value := range req.Queries {
		q, err := core.ParseQuery(value)
		if err != nil {
			return SnapshotPullResult{}, err
		}
		queries = append(queries, q)
	}
	var result SnapshotPullResult
	err := s.Tasks.RunSync(ctx, snapshotLeases(req.Dest, req.Target, req.Source), func(ctx context.Context) error {
		if !req.DryRun {
			if err := s.ensureNoSnapshot(ctx, req.Dest); err != nil {
				return err
			}
		}
		snapshots, lists, err := s.snapshotRefs(ctx, []string{req.Target, req.Source})
		if err != nil {
			return err
		}
		target, err := s.packageList(ctx, lists[0])
		if err != nil {
			return err
		}
		source, err := s.packageList(ctx, lists[1])
		if err != nil {
			return err
		}
		pulled, err := core.Pull(target, source, queries, core.PullOptions{
			NoDeps:        req.NoDeps,
			NoRemove:      req.NoRemove,
			AllMatches:    req.AllMatches,
			Architectures: s.architectures(req.Architectures),
			Flags:         s.DependencyFlags(req.Flags),
		})
		if err != nil {
			return err
		}
		result.Added = pulled.Added
		result.Removed = pulled.Removed
		for _, pkg := range pulled.Removed {
			log.Ctx(ctx).Info().Str("package", pkg.String()).Msg("removed")
		}
		for _, pkg := range pulled.Added {
			log.Ctx(ctx).Info().Str("package", pkg.String()).Msg("added")
		}
		if req.DryRun {
			return nil
		}
		snapshot := types.Snapshot{
			UUID:        uuid.NewString(),
			Name:        req.Dest,
			CreatedAt:   s.Clock(),
			SourceKind:  types.SnapshotSourceSnapshot,
			SourceIDs:   snapshotIDs(snapshots),
			Description: "Pulled into '" + req.Target + "' with '" + req.Source + "' as source, pull request was: '" + strings.Join(req.Queries, " ") + "'",
		}
		if err := s.storeSnapshot(ctx, snapshot, pulled.List.RefList()); err != nil {
			return err
		}
		result.Snapshot = &snapshot
		return nil
	})
	return result, err
}

// FilterSnapshot creates Dest from the packages of Source matching the
// queries.
func (s *Service) FilterSnapshot(ctx context.Context, req SnapshotFilterRequest) (types.Snapshot, error) {
	if err := core.ValidateName("snapshot", req.Dest); err != nil {
		return types.Snapshot{}, err
	}
	if len(req.Queries) == 0 {
		return types.Snapshot{}, shared.InvalidArgument("at least one package query is required")
	}
	q, err := core.ParseQueries(req.Queries)
	if err != nil {
		return types.Snapshot{}, err
	}
	var snapshot types.Snapshot
	err = s.Tasks.RunSync(ctx, snapshotLeases(req.Dest, req.Source), func(ctx context.Context) error {
		if err := s.ensureNoSnapshot(ctx, req.Dest); err != nil {
			return err
		}
		sources, lists, err := s.snapshotRefs(ctx, []string{req.Source})
		if err != nil {
			return err
		}
		list, err := s.packageList(ctx, lists[0])
		if err != nil {
			return err
		}
		filtered, err := core.Filter(list, q, req.WithDeps, s.DependencyFlags(req.Flags), s.architectures(req.Architectures))
		if err != nil {
			return err
		}
		snapshot = types.Snapshot{
			UUID:        uuid.NewString(),
			Name:        req.Dest,
			CreatedAt:   s.Clock(),
			SourceKind:  types.SnapshotSourceSnapshot,
			SourceIDs:   snapshotIDs(sources),
			Description: "Filtered '" + req.Source + "', query was: '" + strings.Join(req.Queries, " ") + "'",
		}
		return s.storeSnapshot(ctx, snapshot, core.PackageListFrom(filtered).RefList())
	})
	return snapshot, err
}

// DiffSnapshots compares two snapshots by (name, architecture).
func (s *Service) DiffSnapshots(ctx context.Context, left string, right string, onlyMatching bool) ([]types.PackageDiff, error) {
	var diff []types.PackageDiff
	err := s.Tasks.RunSync(ctx, Shared(SnapshotResource(left), SnapshotResource(right)), func(ctx context.Context) error {
		var err error
		diff, err = s.diffSnapshots(ctx, left, right, onlyMatching)
		return err
	})
	return diff, err
}

func (s *Service) diffSnapshots(ctx context.Context, left string, right string, onlyMatching bool) ([]types.PackageDiff, error) {
	_, lists, err := s.snapshotRefs(ctx, []string{left, right})
	if err != nil {
		return nil, err
	}
	rows := lists[0].Diff(lists[1], onlyMatching)
	return core.DiffPackages(rows, func(key string) (types.Package, error) {
		pkg, err := s.Catalog.Get(ctx, key)
		if shared.IsNotFound(err) {
			return types.Package{}, shared.Corrupted("snapshot references missing package "+key, err)
		}
		return pkg, err
	})
}

// VerifySnapshots reports dependencies of the first snapshot that none of
// the listed snapshots satisfy.
func (s *Service) VerifySnapshots(ctx context.Context, req SnapshotVerifyRequest) ([]types.Dependency, error) {
	if len(req.Names) == 0 {
		return nil, shared.InvalidArgument("at least one snapshot is required")
	}
	resources := make([]string, 0, len(req.Names))
	for _, name := range req.Names {
		resources = append(resources, SnapshotResource(name))
	}
	var missing []types.Dependency
	err := s.Tasks.RunSync(ctx, Shared(resources...), func(ctx context.Context) error {
		var err error
		missing, err = s.verifySnapshots(ctx, req)
		return err
	})
	return missing, err
}

func (s *Service) verifySnapshots(ctx context.Context, req SnapshotVerifyRequest) ([]types.Dependency, error) {
	_, lists, err := s.snapshotRefs(ctx, req.Names)
	if err != nil {
		return nil, err
	}
	primary, err := s.packageList(ctx, lists[0])
	if err != nil {
		return nil, err
	}
	extra := make([]*core.PackageList, 0, len(lists)-1)
	for _, refs := range lists[1:] {
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return nil, err
		}
		extra = append(extra, list)
	}
	archs := s.architectures(req.Architectures)
	if len(archs) == 0 {
		archs = primary.Architectures(true)
	}
	if len(archs) == 0 {
		return nil, nil
	}
	return primary.VerifyDependencies(s.DependencyFlags(req.Flags), archs, extra...)
}

// ListSnapshots sorts by name, or by creation time with SortByTime.
func (s *Service) ListSnapshots(ctx context.Context, sortBy string) ([]types.Snapshot, error) {
	snapshots, err := s.Snapshots.List(ctx)
	if err != nil {
		return nil, err
	}
	switch sortBy {
	case "", SortByName:
		sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	case SortByTime:
		sort.SliceStable(snapshots, func(i, j int) bool { return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt) })
	default:
		return nil, shared.InvalidArgument("unknown sort method: " + sortBy)
	}
	return snapshots, nil
}

func (s *Service) ShowSnapshot(ctx context.Context, name string, withPackages bool) (SnapshotDetails, error) {
	var details SnapshotDetails
	err := s.Tasks.RunSync(ctx, Shared(SnapshotResource(name)), func(ctx context.Context) error {
		var err error
		details, err = s.showSnapshot(ctx, name, withPackages)
		return err
	})
	return details, err
}

func (s *Service) showSnapshot(ctx context.Context, name string, withPackages bool) (SnapshotDetails, error) {
	snapshot, err := s.Snapshots.ByName(ctx, name)
	if err != nil {
		return SnapshotDetails{}, err
	}
	refs, err := s.loadRefList(ctx, snapshot.UUID)
	if err != nil {
		return SnapshotDetails{}, err
	}
	details := SnapshotDetails{Snapshot: snapshot, PackageCount: refs.Len()}
	for _, id := range snapshot.SourceIDs {
		details.Sources = append(details.Sources, s.sourceName(ctx, snapshot.SourceKind, id))
	}
	if withPackages {
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return SnapshotDetails{}, err
		}
		details.Packages = list.Packages()
	}
	return details, nil
}

// sourceName names the origin of a snapshot, or reports the id when the
// origin is gone.
func (s *Service) sourceName(ctx context.Context, kind types.SnapshotSourceKind, id string) string {
	switch kind {
	case types.SnapshotSourceMirror:
		if mirror, err := s.Mirrors.ByUUID(ctx, id); err == nil {
			return "mirror " + mirror.Name
		}
	case types.SnapshotSourceRepo:
		if repo, err := s.Repos.ByUUID(ctx, id); err == nil {
			return "local repo " + repo.Name
		}
	case types.SnapshotSourceSnapshot:
		if snapshot, err := s.Snapshots.ByUUID(ctx, id); err == nil {
			return "snapshot " + snapshot.Name
		}
	}
	return "removed " + string(kind) + " " + id
}

// DropSnapshot removes a snapshot. Published snapshots can never be
// dropped; snapshots other snapshots derive from need force.
func (s *Service) DropSnapshot(ctx context.Context, name string, force bool) error {
	return s.Tasks.RunSync(ctx, Exclusive(SnapshotResource(name)), func(ctx context.Context) error {
		snapshot, err := s.Snapshots.ByName(ctx, name)
		if err != nil {
			return err
		}
		published, err := s.publicationsUsing(ctx, types.PublishSourceSnapshot, snapshot.UUID)
		if err != nil {
			return err
		}
		if len(published) > 0 {
			return shared.InUse("unable to drop: snapshot is published at " + published[0].StoragePrefix() + "/" + published[0].Distribution)
		}
		if !force {
			derived, err := s.snapshotsFrom(ctx, types.SnapshotSourceSnapshot, snapshot.UUID)
			if err != nil {
				return err
			}
			if len(derived) > 0 {
				return shared.InUse("snapshot was used as a source for snapshot " + derived[0].Name + "; use force to drop it anyway")
			}
		}
		if err := s.Snapshots.Drop(ctx, name); err != nil {
			return err
		}
		if err := s.RefLists.Delete(ctx, snapshot.UUID); err != nil && !shared.IsNotFound(err) {
			return err
		}
		log.Ctx(ctx).Info().Str("snapshot", name).Msg("snapshot dropped")
		return nil
	})
}

func (s *Service) RenameSnapshot(ctx context.Context, oldName string, newName string) error {
	if err := core.ValidateName("snapshot", newName); err != nil {
		return err
	}
	return s.Tasks.RunSync(ctx, Exclusive(SnapshotResource(oldName), SnapshotResource(newName)), func(ctx context.Context) error {
		return s.Snapshots.Rename(ctx, oldName, newName)
	})
}
