package app

import (
	"context"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const defaultComponent = "main"

// publishSource is a repo or snapshot resolved for publishing.
type publishSource struct {
	UUID                string
	Name                string
	DefaultDistribution string
	DefaultComponent    string
}

func (s *Service) resolvePublishSource(ctx context.Context, kind types.PublishSourceKind, name string) (publishSource, error) {
	switch kind {
	case types.PublishSourceLocal:
		repo, err := s.Repos.ByName(ctx, name)
		if err != nil {
			return publishSource{}, err
		}
		return publishSource{
			UUID:                repo.UUID,
			Name:                repo.Name,
			DefaultDistribution: repo.DefaultDistribution,
			DefaultComponent:    repo.DefaultComponent,
		}, nil
	case types.PublishSourceSnapshot:
		snapshot, err := s.Snapshots.ByName(ctx, name)
		if err != nil {
			return publishSource{}, err
		}
		out := publishSource{UUID: snapshot.UUID, Name: snapshot.Name}
		if snapshot.SourceKind == types.SnapshotSourceMirror && len(snapshot.SourceIDs) == 1 {
			if mirror, err := s.Mirrors.ByUUID(ctx, snapshot.SourceIDs[0]); err == nil && !mirror.IsFlat() {
				out.DefaultDistribution = mirror.Distribution
				if len(mirror.Components) == 1 {
					out.DefaultComponent = mirror.Components[0]
				}
			}
		}
		return out, nil
	default:
		return publishSource{}, shared.InvalidArgument("publish source kind must be local or snapshot")
	}
}

// sourceLabel returns the name behind a published source id.
func (s *Service) sourceLabel(ctx context.Context, kind types.PublishSourceKind, id string) string {
	if kind == types.PublishSourceLocal {
		if repo, err := s.Repos.ByUUID(ctx, id); err == nil {
			return repo.Name
		}
		return id
	}
	if snapshot, err := s.Snapshots.ByUUID(ctx, id); err == nil {
		return snapshot.Name
	}
	return id
}

func sourceResource(kind types.PublishSourceKind, name string) string {
	if kind == types.PublishSourceLocal {
		return RepoResource(name)
	}
	return SnapshotResource(name)
}

// publishLeases locks the publication prefix exclusively and its sources
// shared.
func (s *Service) publishLeases(ctx context.Context, storage string, prefix string, kind types.PublishSourceKind, ids ...string) []Lease {
	leases := Exclusive(PublishResource(storage, prefix))
	for _, id := range ids {
		leases = append(leases, Shared(sourceResource(kind, s.sourceLabel(ctx, kind, id)))...)
	}
	return leases
}

func (s *Service) publishTarget(ctx context.Context, target PublishTarget) (string, ports.PublishEndpoint, error) {
	prefix, err := core.NormalizePrefix(target.Prefix)
	if err != nil {
		return "", ports.PublishEndpoint{}, err
	}
	endpoint, err := s.Storage.PublishEndpoint(ctx, target.Storage)
	if err != nil {
		return "", ports.PublishEndpoint{}, err
	}
	return prefix, endpoint, nil
}

// Publish creates a publication from repos or snapshots, one per
// component, and writes it.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (types.PublishedRepo, error) {
	if len(req.Sources) == 0 {
		return types.PublishedRepo{}, shared.InvalidArgument("at least one source is required")
	}
	if len(req.Components) > 0 && len(req.Components) != len(req.Sources) {
		return types.PublishedRepo{}, shared.InvalidArgument("mismatch in number of components and sources")
	}
	if len(req.Sources) > 1 && len(req.Components) == 0 {
		return types.PublishedRepo{}, shared.InvalidArgument("components are required when publishing more than one source")
	}
	prefix, endpoint, err := s.publishTarget(ctx, PublishTarget{Storage: req.Storage, Prefix: req.Prefix})
	if err != nil {
		return types.PublishedRepo{}, err
	}

	repo := types.PublishedRepo{
		UUID:                 uuid.NewString(),
		Storage:              req.Storage,
		Prefix:               prefix,
		Distribution:         req.Distribution,
		SourceKind:           req.SourceKind,
		Sources:              map[string]string{},
		Architectures:        s.architectures(req.Architectures),
		Origin:               req.Origin,
		Label:                req.Label,
		Suite:                req.Suite,
		Codename:             req.Codename,
		NotAutomatic:         req.NotAutomatic,
		ButAutomaticUpgrades: req.ButAutomaticUpgrades,
		AcquireByHash:        req.AcquireByHash,
		SkipContents:         req.SkipContents,
		SkipBz2:              req.SkipBz2,
		Signing:              req.Signing,
	}
	leases := Exclusive(PublishResource(req.Storage, prefix))
	for i, name := range req.Sources {
		src, err := s.resolvePublishSource(ctx, req.SourceKind, name)
		if err != nil {
			return types.PublishedRepo{}, err
		}
		component := src.DefaultComponent
		if len(req.Components) > 0 {
			component = req.Components[i]
		}
		if component == "" {
			component = defaultComponent
		}
		if _, ok := repo.Sources[component]; ok {
			return types.PublishedRepo{}, shared.InvalidArgument("duplicate component " + component)
		}
		repo.Sources[component] = src.UUID
		if repo.Distribution == "" {
			repo.Distribution = src.DefaultDistribution
		}
		leases = append(leases, Shared(sourceResource(req.SourceKind, src.Name))...)
	}
	if repo.Distribution == "" {
		return types.PublishedRepo{}, shared.InvalidArgument("unable to guess distribution name, please specify it explicitly")
	}
	if err := core.ValidateDistribution(repo.Distribution); err != nil {
		return types.PublishedRepo{}, err
	}
	if err := core.ValidatePublication(ctx, repo); err != nil {
		return types.PublishedRepo{}, err
	}

	err = s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		if _, err := s.Published.Get(ctx, repo.Storage, repo.Prefix, repo.Distribution); err == nil {
			return shared.AlreadyExists("published repository", PublishTarget{Storage: repo.Storage, Prefix: repo.Prefix, Distribution: repo.Distribution}.String())
		} else if !shared.IsNotFound(err) {
			return err
		}
		if err := s.writePublication(ctx, &repo, endpoint, req.ForceOverwrite); err != nil {
			return err
		}
		return s.Published.Add(ctx, repo)
	})
	if err != nil {
		return types.PublishedRepo{}, err
	}
	return repo, nil
}

// loadPublication fetches a publication by user-facing target.
func (s *Service) loadPublication(ctx context.Context, target PublishTarget) (types.PublishedRepo, ports.PublishEndpoint, error) {
	prefix, endpoint, err := s.publishTarget(ctx, target)
	if err != nil {
		return types.PublishedRepo{}, ports.PublishEndpoint{}, err
	}
	repo, err := s.Published.Get(ctx, target.Storage, prefix, target.Distribution)
	if err != nil {
		return types.PublishedRepo{}, ports.PublishEndpoint{}, err
	}
	return repo, endpoint, nil
}

// rewrite writes repo again, stores it and cleans up the prefix.
func (s *Service) rewrite(ctx context.Context, repo *types.PublishedRepo, endpoint ports.PublishEndpoint, force bool, skipCleanup bool) error {
	if err := core.ValidatePublication(ctx, *repo); err != nil {
		return err
	}
	if err := s.writePublication(ctx, repo, endpoint, force); err != nil {
		return err
	}
	if err := s.Published.Update(ctx, *repo); err != nil {
		return err
	}
	if !skipCleanup {
		s.cleanupPrefix(ctx, repo.Storage, repo.Prefix, endpoint)
	}
	return nil
}

// UpdatePublished re-reads the sources of a publication, applying staged
// source edits, and rewrites it.
func (s *Service) UpdatePublished(ctx context.Context, req PublishUpdateRequest) (types.PublishedRepo, error) {
	repo, endpoint, err := s.loadPublication(ctx, req.PublishTarget)
	if err != nil {
		return types.PublishedRepo{}, err
	}
	sources := repo.Sources
	if repo.PendingSources != nil {
		sources = repo.PendingSources
	}
	leases := s.publishLeases(ctx, repo.Storage, repo.Prefix, repo.SourceKind, sortedValues(sources)...)
	err = s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		repo, err = s.Published.Get(ctx, repo.Storage, repo.Prefix, repo.Distribution)
		if err != nil {
			return err
		}
		if repo.PendingSources != nil {
			repo.Sources = repo.PendingSources
			repo.PendingSources = nil
		}
		if req.SkipContents != nil {
			repo.SkipContents = *req.SkipContents
		}
		if req.SkipBz2 != nil {
			repo.SkipBz2 = *req.SkipBz2
		}
		if req.AcquireByHash != nil {
			repo.AcquireByHash = *req.AcquireByHash
		}
		if req.Signing != nil {
			repo.Signing = *req.Signing
		}
		return s.rewrite(ctx, &repo, endpoint, req.ForceOverwrite, req.SkipCleanup)
	})
	if err != nil {
		return types.PublishedRepo{}, err
	}
	return repo, nil
}

// SwitchPublished points components of a snapshot publication at other
// snapshots and rewrites it.
func (s *Service) SwitchPublished(ctx context.Context, req PublishSwitchRequest) (types.PublishedRepo, error) {
	repo, endpoint, err := s.loadPublication(ctx, req.PublishTarget)
	if err != nil {
		return types.PublishedRepo{}, err
	}
	if repo.SourceKind != types.PublishSourceSnapshot {
		return types.PublishedRepo{}, shared.InvalidArgument("only snapshot publications can be switched, use update for local repos")
	}
	components := req.Components
	if len(components) == 0 && len(req.Snapshots) == 1 && len(repo.Sources) == 1 {
		components = repo.Components()
	}
	if len(components) != len(req.Snapshots) {
		return types.PublishedRepo{}, shared.InvalidArgument("mismatch in number of components and snapshots")
	}
	switched := map[string]string{}
	for i, name := range req.Snapshots {
		if _, ok := repo.Sources[components[i]]; !ok {
			return types.PublishedRepo{}, shared.NotFound("component in "+req.PublishTarget.String(), components[i])
		}
		snapshot, err := s.Snapshots.ByName(ctx, name)
		if err != nil {
			return types.PublishedRepo{}, err
		}
		switched[components[i]] = snapshot.UUID
	}
	leases := s.publishLeases(ctx, repo.Storage, repo.Prefix, repo.SourceKind, sortedValues(switched)...)
	err = s.Tasks.RunSync(ctx, leases, func(ctx context.Context) error {
		repo, err = s.Published.Get(ctx, repo.Storage, repo.Prefix, repo.Distribution)
		if err != nil {
			return err
		}
		for component, id := range switched {
			repo.Sources[component] = id
		}
		if req.Signing != nil {
			repo.Signing = *req.Signing
		}
		return s.rewrite(ctx, &repo, endpoint, req.ForceOverwrite, req.SkipCleanup)
	})
	if err != nil {
		return types.PublishedRepo{}, err
	}
	log.Ctx(ctx).Info().Str("publication", req.PublishTarget.String()).Strs("snapshots", req.Snapshots).Msg("publication switched")
	return repo, nil
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, value := range m {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

// editSources applies fn to the staged sources of a publication; staging
// starts from the current sources.
func (s *Service) editSources(ctx context.Context, target PublishTarget, fn func(repo types.PublishedRepo, pending map[string]string) error) (map[string]string, error) {
	prefix, _, err := s.publishTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	var pending map[string]string
	err = s.Tasks.RunSync(ctx, Exclusive(PublishResource(target.Storage, prefix)), func(ctx context.Context) error {
		repo, err := s.Published.Get(ctx, target.Storage, prefix, target.Distribution)
		if err != nil {
			return err
		}
		pending = map[string]string{}
		staged := repo.PendingSources
		if staged == nil {
			staged = repo.Sources
		}
		for component, id := range staged {
			pending[component] = id
		}
		if err := fn(repo, pending); err != nil {
			return err
		}
		repo.PendingSources = pending
		return s.Published.Update(ctx, repo)
	})
	return pending, err
}

func (s *Service) AddPublishedSource(ctx context.Context, req PublishSourceRequest) (map[string]string, error) {
	component := req.Component
	if component == "" {
		component = defaultComponent
	}
	return s.editSources(ctx, req.PublishTarget, func(repo types.PublishedRepo, pending map[string]string) error {
		if _, ok := pending[component]; ok {
			return shared.AlreadyExists("component in "+req.PublishTarget.String(), component)
		}
		src, err := s.resolvePublishSource(ctx, repo.SourceKind, req.Source)
		if err != nil {
			return err
		}
		pending[component] = src.UUID
		return nil
	})
}

func (s *Service) UpdatePublishedSource(ctx context.Context, req PublishSourceRequest) (map[string]string, error) {
	component := req.Component
	if component == "" {
		component = defaultComponent
	}
	return s.editSources(ctx, req.PublishTarget, func(repo types.PublishedRepo, pending map[string]string) error {
		if _, ok := pending[component]; !ok {
			return shared.NotFound("component in "+req.PublishTarget.String(), component)
		}
		src, err := s.resolvePublishSource(ctx, repo.SourceKind, req.Source)
		if err != nil {
			return err
		}
		pending[component] = src.UUID
		return nil
	})
}

func (s *Service) RemovePublishedSource(ctx context.Context, req PublishSourceRequest) (map[string]string, error) {
	return s.editSources(ctx, req.PublishTarget, func(repo types.PublishedRepo, pending map[string]string) error {
		if _, ok := pending[req.Component]; !ok {
			return shared.NotFound("component in "+req.PublishTarget.String(), req.Component)
		}
		if len(pending) == 1 {
			return shared.InvalidArgument("unable to remove the last component of a publication")
		}
		delete(pending, req.Component)
		return nil
	})
}

// ReplacePublishedSources stages exactly the given component to source
// name mapping.
func (s *Service) ReplacePublishedSources(ctx context.Context, target PublishTarget, sources map[string]string) (map[string]string, error) {
	if len(sources) == 0 {
		return nil, shared.InvalidArgument("at least one source is required")
	}
	return s.editSources(ctx, target, func(repo types.PublishedRepo, pending map[string]string) error {
		for component := range pending {
			delete(pending, component)
		}
		for component, name := range sources {
			if component == "" {
				component = defaultComponent
			}
			src, err := s.resolvePublishSource(ctx, repo.SourceKind, name)
			if err != nil {
				return err
			}
			pending[component] = src.UUID
		}
		return nil
	})
}

// ListPublishedSources returns component to source name, staged edits
// included.
func (s *Service) ListPublishedSources(ctx context.Context, target PublishTarget) (map[string]string, error) {
	repo, _, err := s.loadPublication(ctx, target)
	if err != nil {
		return nil, err
	}
	sources := repo.PendingSources
	if sources == nil {
		sources = repo.Sources
	}
	out := map[string]string{}
	for component, id := range sources {
		out[component] = s.sourceLabel(ctx, repo.SourceKind, id)
	}
	return out, nil
}

// DropPublishedSources discards staged source edits.
func (s *Service) DropPublishedSources(ctx context.Context, target PublishTarget) error {
	prefix, _, err := s.publishTarget(ctx, target)
	if err != nil {
		return err
	}
	return s.Tasks.RunSync(ctx, Exclusive(PublishResource(target.Storage, prefix)), func(ctx context.Context) error {
		repo, err := s.Published.Get(ctx, target.Storage, prefix, target.Distribution)
		if err != nil {
			return err
		}
		repo.PendingSources = nil
		return s.Published.Update(ctx, repo)
	})
}

// DropPublished removes dists/<dist> and the publication record. The pool
// below the prefix is cleaned up, or removed entirely once no publication
// uses the prefix.
func (s *Service) DropPublished(ctx context.Context, req PublishDropRequest) error {
	prefix, endpoint, err := s.publishTarget(ctx, req.PublishTarget)
	if err != nil {
		return err
	}
	logger := log.Ctx(ctx)
	return s.Tasks.RunSync(ctx, Exclusive(PublishResource(req.Storage, prefix)), func(ctx context.Context) error {
		repo, err := s.Published.Get(ctx, req.Storage, prefix, req.Distribution)
		if err != nil {
			return err
		}
		if err := endpoint.Storage.RemoveDir(ctx, distRoot(repo)); err != nil {
			if !req.Force {
				return err
			}
			logger.Warn().Err(err).Str("publication", req.PublishTarget.String()).Msg("unable to remove published files")
		}
		for _, id := range repo.RefLists {
			if err := s.RefLists.Delete(ctx, id); err != nil && !shared.IsNotFound(err) {
				return err
			}
		}
		if err := s.Published.Drop(ctx, repo.Storage, repo.Prefix, repo.Distribution); err != nil {
			return err
		}
		logger.Info().Str("publication", req.PublishTarget.String()).Msg("publication dropped")
		if req.SkipCleanup {
			return nil
		}
		remaining, err := s.Published.List(ctx)
		if err != nil {
			return err
		}
		for _, other := range remaining {
			if other.Storage == repo.Storage && other.Prefix == repo.Prefix {
				s.cleanupPrefix(ctx, repo.Storage, repo.Prefix, endpoint)
				return nil
			}
		}
		if err := endpoint.Storage.RemoveDir(ctx, poolRoot(repo.Prefix)); err != nil {
			logger.Warn().Err(err).Str("prefix", repo.Prefix).Msg("unable to remove published pool")
		}
		if repo.Prefix != "." {
			if err := endpoint.Storage.RemoveDir(ctx, path.Join(repo.Prefix, "dists")); err != nil {
				logger.Warn().Err(err).Str("prefix", repo.Prefix).Msg("unable to remove dists")
			}
		}
		return nil
	})
}

func (s *Service) ListPublished(ctx context.Context) ([]types.PublishedRepo, error) {
	repos, err := s.Published.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].StoragePrefix() != repos[j].StoragePrefix() {
			return repos[i].StoragePrefix() < repos[j].StoragePrefix()
		}
		return repos[i].Distribution < repos[j].Distribution
	})
	return repos, nil
}

func (s *Service) ShowPublished(ctx context.Context, target PublishTarget) (PublishDetails, error) {
	repo, _, err := s.loadPublication(ctx, target)
	if err != nil {
		return PublishDetails{}, err
	}
	details := PublishDetails{Repo: repo, Sources: map[string]string{}}
	for component, id := range repo.Sources {
		details.Sources[component] = s.sourceLabel(ctx, repo.SourceKind, id)
	}
	if repo.PendingSources != nil {
		details.Pending = map[string]string{}
		for component, id := range repo.PendingSources {
			details.Pending[component] = s.sourceLabel(ctx, repo.SourceKind, id)
		}
	}
	return details, nil
}
