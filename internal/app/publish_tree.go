package app

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack"
	"golang.org/x/sync/errgroup"

	"aptkeeper/internal/adapters"
	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const contentsKeyPrefix = "contents:"

// treeWriter writes the dists/<dist> part of one publication and keeps
// track of what went into the Release file.
type treeWriter struct {
	s        *Service
	endpoint ports.PublishEndpoint
	repo     *types.PublishedRepo
	entries  []core.ReleaseEntry
	written  map[string]bool
}

func newTreeWriter(s *Service, endpoint ports.PublishEndpoint, repo *types.PublishedRepo) *treeWriter {
	return &treeWriter{s: s, endpoint: endpoint, repo: repo, written: map[string]bool{}}
}

// distRoot is the dists/<dist> directory on the endpoint.
func distRoot(repo types.PublishedRepo) string {
	return path.Join(repo.Prefix, "dists", repo.Distribution)
}

func poolRoot(prefix string) string {
	return path.Join(prefix, "pool")
}

// put stores data at rel below dists/<dist>. Listed files become Release
// entries and, with acquire-by-hash, get by-hash copies.
func (w *treeWriter) put(ctx context.Context, rel string, data []byte, listed bool) error {
	sums, err := core.ChecksumsOfReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := w.endpoint.Storage.PutFile(ctx, path.Join(distRoot(*w.repo), rel), bytes.NewReader(data)); err != nil {
		return err
	}
	w.written[rel] = true
	if !listed {
		return nil
	}
	w.entries = append(w.entries, core.ReleaseEntry{Path: rel, Checksums: sums})
	if w.repo.AcquireByHash {
		return w.putByHash(ctx, rel, data, sums)
	}
	return nil
}

// putByHash keeps the current and the previous generation of an index
// under by-hash/<hash>/<digest>. The files <name> and <name>.old in the
// same directory record which digests those are.
func (w *treeWriter) putByHash(ctx context.Context, rel string, data []byte, sums types.Checksums) error {
	storage := w.endpoint.Storage
	dir, name := path.Split(rel)
	for hash, digest := range core.ByHashDirs(sums) {
		hashDir := path.Join(distRoot(*w.repo), dir, "by-hash", hash)
		previous := readPointer(ctx, storage, path.Join(hashDir, name))
		older := readPointer(ctx, storage, path.Join(hashDir, name+".old"))
		if err := storage.PutFile(ctx, path.Join(hashDir, digest), bytes.NewReader(data)); err != nil {
			return err
		}
		if previous != "" && previous != digest {
			if err := storage.PutFile(ctx, path.Join(hashDir, name+".old"), strings.NewReader(previous)); err != nil {
				return err
			}
			if older != "" && older != digest && older != previous {
				if err := storage.Remove(ctx, path.Join(hashDir, older)); err != nil && !shared.IsNotFound(err) {
					return err
				}
			}
		}
		if err := storage.PutFile(ctx, path.Join(hashDir, name), strings.NewReader(digest)); err != nil {
			return err
		}
	}
	return nil
}

func readPointer(ctx context.Context, storage ports.BlobStorage, p string) string {
	body, err := storage.Open(ctx, p)
	if err != nil {
		return ""
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// putIndex writes an index in plain, gzip and (unless skipped) bzip2 form.
func (w *treeWriter) putIndex(ctx context.Context, rel string, data []byte) error {
	if err := w.put(ctx, rel, data, true); err != nil {
		return err
	}
	compressions := []adapters.Compression{adapters.CompressionGZIP}
	if !w.repo.SkipBz2 && !w.s.Config.SkipBz2Publishing {
		compressions = append(compressions, adapters.CompressionBZIP)
	}
	for _, compression := range compressions {
		packed, err := compression.Compress(data)
		if err != nil {
			return err
		}
		if err := w.put(ctx, rel+compression.Extension(), packed, true); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWriter) releaseMeta() core.ReleaseMeta {
	origin := w.repo.Origin
	label := w.repo.Label
	defaultName := w.repo.Distribution
	if w.repo.Prefix != "." {
		defaultName = w.repo.Prefix + " " + w.repo.Distribution
	}
	if origin == "" {
		origin = defaultName
	}
	if label == "" {
		label = defaultName
	}
	suite := w.repo.Suite
	if suite == "" {
		suite = w.repo.Distribution
	}
	codename := w.repo.Codename
	if codename == "" {
		codename = w.repo.Distribution
	}
	var archs []string
	for _, arch := range w.repo.Architectures {
		if arch != types.ArchitectureSource {
			archs = append(archs, arch)
		}
	}
	return core.ReleaseMeta{
		Origin:               origin,
		Label:                label,
		Suite:                suite,
		Codename:             codename,
		NotAutomatic:         w.repo.NotAutomatic,
		ButAutomaticUpgrades: w.repo.ButAutomaticUpgrades,
		AcquireByHash:        w.repo.AcquireByHash,
		Architectures:        archs,
		Components:           w.repo.Components(),
		Date:                 w.s.Clock(),
	}
}

// writeComponent emits the indexes of one component.
func (w *treeWriter) writeComponent(ctx context.Context, meta core.ReleaseMeta, plan core.ComponentPlan, archs []string, contents map[string]*core.ContentsIndex) error {
	poolDir := func(pkg types.Package) string { return core.PackagePoolDir(plan.Component, pkg) }
	write := func(kind core.IndexKind, arch string, pkgs []types.Package) error {
		var buf bytes.Buffer
		if err := core.WriteIndex(&buf, pkgs, poolDir); err != nil {
			return err
		}
		dir := core.IndexDir(plan.Component, kind, arch)
		if err := w.putIndex(ctx, path.Join(dir, core.IndexBaseName(kind)), buf.Bytes()); err != nil {
			return err
		}
		releaseArch := arch
		if kind == core.IndexSource {
			releaseArch = types.ArchitectureSource
		}
		return w.put(ctx, path.Join(dir, "Release"), []byte(core.RenderComponentRelease(meta, plan.Component, releaseArch)), true)
	}

	for _, arch := range archs {
		if arch == types.ArchitectureSource {
			if err := write(core.IndexSource, "", core.PackagesForIndex(plan.Packages, core.IndexSource, "")); err != nil {
				return err
			}
			continue
		}
		binaries := core.PackagesForIndex(plan.Packages, core.IndexBinary, arch)
		if err := write(core.IndexBinary, arch, binaries); err != nil {
			return err
		}
		udebs := core.PackagesForIndex(plan.Packages, core.IndexInstaller, arch)
		if len(udebs) > 0 {
			if err := write(core.IndexInstaller, arch, udebs); err != nil {
				return err
			}
		}
		if contents == nil {
			continue
		}
		if err := w.addContents(ctx, plan.Component, core.IndexBinary, arch, binaries, contents); err != nil {
			return err
		}
		if err := w.addContents(ctx, plan.Component, core.IndexInstaller, arch, udebs, contents); err != nil {
			return err
		}
	}
	return w.linkInstallers(ctx, plan)
}

// addContents records the file lists of pkgs in the component Contents
// index and, for debs, in the top-level legacy one.
func (w *treeWriter) addContents(ctx context.Context, component string, kind core.IndexKind, arch string, pkgs []types.Package, contents map[string]*core.ContentsIndex) error {
	if len(pkgs) == 0 {
		return nil
	}
	name := path.Join(component, core.ContentsName(kind, arch))
	index, ok := contents[name]
	if !ok {
		index = core.NewContentsIndex()
		contents[name] = index
	}
	var legacy *core.ContentsIndex
	if kind == core.IndexBinary {
		legacyName := core.ContentsName(kind, arch)
		legacy, ok = contents[legacyName]
		if !ok {
			legacy = core.NewContentsIndex()
			contents[legacyName] = legacy
		}
	}
	for _, pkg := range pkgs {
		files, err := w.s.packageContents(ctx, pkg)
		if err != nil {
			return err
		}
		index.Add(pkg, files)
		if legacy != nil {
			legacy.Add(pkg, files)
		}
	}
	return nil
}

func (w *treeWriter) writeContents(ctx context.Context, contents map[string]*core.ContentsIndex) error {
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		index := contents[name]
		if index.Empty() {
			continue
		}
		var buf bytes.Buffer
		if _, err := index.WriteTo(&buf); err != nil {
			return shared.Internal("failed to render "+name, err)
		}
		packed, err := adapters.CompressionGZIP.Compress(buf.Bytes())
		if err != nil {
			return err
		}
		if err := w.put(ctx, name, packed, true); err != nil {
			return err
		}
	}
	return nil
}

// linkInstallers places installer images below
// <component>/installer-<arch>/current/images.
func (w *treeWriter) linkInstallers(ctx context.Context, plan core.ComponentPlan) error {
	for _, pkg := range plan.Packages {
		if !pkg.IsInstaller {
			continue
		}
		for _, file := range pkg.Files {
			rel := path.Join(plan.Component, "installer-"+pkg.Architecture, "current", "images", file.Filename)
			err := w.s.Pool.Link(ctx, file.PoolPath, w.endpoint, path.Join(distRoot(*w.repo), rel), file.Checksums, ports.LinkOptions{Force: true})
			if err != nil {
				return err
			}
			w.written[rel] = true
		}
	}
	return nil
}

// writeRelease renders the top-level Release and signs it.
func (w *treeWriter) writeRelease(ctx context.Context, meta core.ReleaseMeta) error {
	release := []byte(core.RenderRelease(meta, w.entries))
	if err := w.put(ctx, "Release", release, false); err != nil {
		return err
	}
	if w.repo.Signing.Skip || w.s.Config.GpgDisableSign {
		log.Ctx(ctx).Warn().Str("publication", distRoot(*w.repo)).Msg("signing skipped, Release is not signed")
		return nil
	}
	signing := w.repo.Signing
	keyRef := signing.GpgKey
	if keyRef == "" {
		keyRef = w.s.Config.GpgKey
	}
	passphrase := signing.Passphrase
	if passphrase == "" {
		passphrase = w.s.Config.GpgPassphrase
	}
	signer, err := w.s.Signers.Signer(keyRef, signing.SecretKeyring, passphrase)
	if err != nil {
		return err
	}
	var inline bytes.Buffer
	if err := signer.ClearSign(ctx, bytes.NewReader(release), &inline); err != nil {
		return err
	}
	if err := w.put(ctx, "InRelease", inline.Bytes(), false); err != nil {
		return err
	}
	var detached bytes.Buffer
	if err := signer.DetachedSign(ctx, bytes.NewReader(release), &detached); err != nil {
		return err
	}
	return w.put(ctx, "Release.gpg", detached.Bytes(), false)
}

// removeStale deletes files below dists/<dist> this write did not produce.
// by-hash directories rotate on their own.
func (w *treeWriter) removeStale(ctx context.Context) error {
	root := distRoot(*w.repo)
	existing, err := w.endpoint.Storage.List(ctx, root)
	if err != nil {
		return err
	}
	for _, full := range existing {
		rel := strings.TrimPrefix(strings.TrimPrefix(full, root), "/")
		if w.written[rel] || strings.Contains("/"+rel, "/by-hash/") {
			continue
		}
		if err := w.endpoint.Storage.Remove(ctx, full); err != nil && !shared.IsNotFound(err) {
			return err
		}
		log.Ctx(ctx).Debug().Str("file", full).Msg("removed stale published file")
	}
	return nil
}

// packageContents lists the files a deb installs, cached in the KV store.
func (s *Service) packageContents(ctx context.Context, pkg types.Package) ([]string, error) {
	if pkg.IsSource || len(pkg.Files) == 0 {
		return nil, nil
	}
	key := contentsKeyPrefix + pkg.Key()
	if data, err := s.KV.Get(ctx, key); err == nil {
		var files []string
		if err := msgpack.Unmarshal(data, &files); err == nil {
			return files, nil
		}
	} else if !shared.IsNotFound(err) {
		return nil, err
	}
	body, err := s.Pool.Open(ctx, pkg.Files[0].PoolPath)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	files, err := s.Files.ReadDebContents(ctx, body)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("package", pkg.String()).Msg("unable to read contents")
		return nil, nil
	}
	data, err := msgpack.Marshal(files)
	if err != nil {
		return nil, shared.Internal("failed to encode contents", err)
	}
	if err := s.KV.Put(ctx, key, data); err != nil {
		return nil, err
	}
	return files, nil
}

// linkPool places every planned file at <prefix>/<dest>.
func (s *Service) linkPool(ctx context.Context, endpoint ports.PublishEndpoint, prefix string, files []core.PublishFile, force bool) error {
	progress := ProgressFrom(ctx)
	progress.Stage("link", int64(len(files)))
	for _, file := range files {
		if file.PoolPath == "" {
			return shared.Corrupted("package file "+file.DestPath+" is not in the pool", nil)
		}
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.Config.DownloadConcurrency)
	for _, file := range files {
		group.Go(func() error {
			err := s.Pool.Link(gctx, file.PoolPath, endpoint, path.Join(prefix, file.DestPath), file.Checksums, ports.LinkOptions{Force: force})
			if err != nil {
				return err
			}
			progress.Add(1)
			return nil
		})
	}
	return group.Wait()
}

// writePublication materializes repo from the current reflists of its
// sources and records what was written in repo.RefLists.
func (s *Service) writePublication(ctx context.Context, repo *types.PublishedRepo, endpoint ports.PublishEndpoint, force bool) error {
	logger := log.Ctx(ctx)
	sources := map[string][]types.Package{}
	refs := map[string]core.RefList{}
	for component, id := range repo.Sources {
		list, err := s.loadRefList(ctx, id)
		if err != nil {
			return err
		}
		pkgs, err := s.packagesOf(ctx, list)
		if err != nil {
			return err
		}
		sources[component] = pkgs
		refs[component] = list
	}
	plan, err := core.PlanPublication(sources, repo.Architectures, force)
	if err != nil {
		return err
	}
	repo.Architectures = plan.Architectures

	logger.Info().Str("publication", distRoot(*repo)).Int("files", len(plan.Files)).Msg("linking pool files")
	if err := s.linkPool(ctx, endpoint, repo.Prefix, plan.Files, force); err != nil {
		return err
	}

	writer := newTreeWriter(s, endpoint, repo)
	meta := writer.releaseMeta()
	var contents map[string]*core.ContentsIndex
	if !repo.SkipContents && !s.Config.SkipContentsPublishing {
		contents = map[string]*core.ContentsIndex{}
	}
	ProgressFrom(ctx).Stage("indexes", int64(len(plan.Components)))
	for _, component := range plan.Components {
		if err := writer.writeComponent(ctx, meta, component, plan.Architectures, contents); err != nil {
			return err
		}
		ProgressFrom(ctx).Add(1)
	}
	if err := writer.writeContents(ctx, contents); err != nil {
		return err
	}
	if err := writer.writeRelease(ctx, meta); err != nil {
		return err
	}
	if err := writer.removeStale(ctx); err != nil {
		logger.Warn().Err(err).Msg("unable to remove stale published files")
	}

	saved := map[string]string{}
	for component, list := range refs {
		id := publishRefListID(repo.UUID, component)
		if err := s.saveRefList(ctx, id, list); err != nil {
			return err
		}
		saved[component] = id
	}
	for component, id := range repo.RefLists {
		if _, ok := saved[component]; !ok {
			if err := s.RefLists.Delete(ctx, id); err != nil && !shared.IsNotFound(err) {
				return err
			}
		}
	}
	repo.RefLists = saved
	repo.UpdatedAt = s.Clock()
	logger.Info().Str("publication", distRoot(*repo)).Strs("components", repo.Components()).Msg("published")
	return nil
}

func publishRefListID(publication string, component string) string {
	return "publish-" + publication + "-" + component
}

// cleanupPrefix removes pool files below <prefix>/pool that no publication
// on the same storage and prefix references. Failures are logged.
func (s *Service) cleanupPrefix(ctx context.Context, storage string, prefix string, endpoint ports.PublishEndpoint) int {
	logger := log.Ctx(ctx)
	publications, err := s.Published.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("cleanup skipped")
		return 0
	}
	referenced := map[string]bool{}
	for _, other := range publications {
		if other.Storage != storage || other.Prefix != prefix {
			continue
		}
		for component, id := range other.RefLists {
			list, err := s.loadRefList(ctx, id)
			if err != nil {
				logger.Warn().Err(err).Msg("cleanup skipped")
				return 0
			}
			pkgs, err := s.packagesOf(ctx, list)
			if err != nil {
				logger.Warn().Err(err).Msg("cleanup skipped")
				return 0
			}
			for _, pkg := range pkgs {
				dir := core.PackagePoolDir(component, pkg)
				for _, file := range pkg.Files {
					referenced[path.Join(prefix, dir, file.Filename)] = true
				}
			}
		}
	}
	existing, err := endpoint.Storage.List(ctx, poolRoot(prefix))
	if err != nil {
		logger.Warn().Err(err).Msg("cleanup skipped")
		return 0
	}
	removed := 0
	for _, file := range existing {
		if referenced[file] {
			continue
		}
		if err := endpoint.Storage.Remove(ctx, file); err != nil && !shared.IsNotFound(err) {
			logger.Warn().Err(err).Str("file", file).Msg("unable to remove published pool file")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().Int("files", removed).Str("prefix", prefix).Msg("cleaned up published pool")
	}
	return removed
}
