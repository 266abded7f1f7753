package app

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"aptkeeper/internal/adapters"
	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const (
	flatComponent     = "main"
	defaultPPADistrib = "ubuntu"
)

// CreateMirror records a remote repository. Unless SkipComponentCheck is
// set the upstream Release is fetched and the requested components and
// architectures are checked against it.
func (s *Service) CreateMirror(ctx context.Context, req MirrorCreateRequest) (types.RemoteMirror, error) {
	if err := core.ValidateName("mirror", req.Name); err != nil {
		return types.RemoteMirror{}, err
	}
	archiveURL, distribution, components, err := s.expandPPA(req.ArchiveURL, req.Distribution, req.Components)
	if err != nil {
		return types.RemoteMirror{}, err
	}
	if _, err := url.ParseRequestURI(archiveURL); err != nil {
		return types.RemoteMirror{}, shared.InvalidArgument("invalid archive url: " + archiveURL)
	}
	if distribution == "" {
		return types.RemoteMirror{}, shared.InvalidArgument("distribution is required")
	}
	if req.Filter != "" {
		if _, err := core.ParseQuery(req.Filter); err != nil {
			return types.RemoteMirror{}, err
		}
	}
	mirror := types.RemoteMirror{
		UUID:               uuid.NewString(),
		Name:               req.Name,
		ArchiveRoot:        strings.TrimSuffix(archiveURL, "/") + "/",
		Distribution:       distribution,
		Components:         shared.UniqueSorted(components),
		Architectures:      shared.UniqueSorted(req.Architectures),
		Filter:             req.Filter,
		FilterWithDeps:     req.FilterWithDeps,
		DownloadSources:    req.WithSources,
		DownloadUdebs:      req.WithUdebs,
		DownloadInstaller:  req.WithInstaller,
		ForceComponents:    req.ForceComponents,
		SkipComponentCheck: req.SkipComponentCheck,
		IgnoreSignatures:   req.IgnoreSignatures,
		Keyrings:           req.Keyrings,
		CreatedAt:          s.Clock(),
	}
	if mirror.IsFlat() && (len(mirror.Components) > 0 || mirror.DownloadUdebs || mirror.DownloadInstaller) {
		return types.RemoteMirror{}, shared.InvalidArgument("flat repositories have no components, udebs or installer")
	}
	err = s.Tasks.RunSync(ctx, Exclusive(MirrorResource(req.Name)), func(ctx context.Context) error {
		if _, err := s.Mirrors.ByName(ctx, req.Name); err == nil {
			return shared.AlreadyExists("mirror", req.Name)
		} else if !shared.IsNotFound(err) {
			return err
		}
		if !mirror.SkipComponentCheck {
			release, err := s.fetchRelease(ctx, mirror, false, nil)
			if err != nil {
				return err
			}
			if err := applyRelease(&mirror, release, false); err != nil {
				return err
			}
		}
		return s.Mirrors.Add(ctx, mirror)
	})
	if err != nil {
		return types.RemoteMirror{}, err
	}
	log.Ctx(ctx).Info().Str("mirror", mirror.Name).Str("url", mirror.ArchiveRoot).Msg("mirror created")
	return mirror, nil
}

// expandPPA turns "ppa:user/project" into the Launchpad archive URL.
func (s *Service) expandPPA(archiveURL string, distribution string, components []string) (string, string, []string, error) {
	rest, ok := strings.CutPrefix(archiveURL, "ppa:")
	if !ok {
		return archiveURL, distribution, components, nil
	}
	user, project, found := strings.Cut(rest, "/")
	if !found || user == "" || project == "" {
		return "", "", nil, shared.InvalidArgument("ppa should be in the form ppa:user/project")
	}
	distributor := s.Config.PpaDistributorID
	if distributor == "" {
		distributor = defaultPPADistrib
	}
	if distribution == "" {
		distribution = s.Config.PpaCodename
	}
	if distribution == "" {
		return "", "", nil, shared.InvalidArgument("ppa codename is not configured, pass a distribution")
	}
	if len(components) == 0 {
		components = []string{"main"}
	}
	return "http://ppa.launchpad.net/" + user + "/" + project + "/" + distributor, distribution, components, nil
}

func (s *Service) EditMirror(ctx context.Context, req MirrorEditRequest) (types.RemoteMirror, error) {
	if req.Filter != nil && *req.Filter != "" {
		if _, err := core.ParseQuery(*req.Filter); err != nil {
			return types.RemoteMirror{}, err
		}
	}
	var mirror types.RemoteMirror
	err := s.Tasks.RunSync(ctx, Exclusive(MirrorResource(req.Name)), func(ctx context.Context) error {
		var err error
		mirror, err = s.Mirrors.ByName(ctx, req.Name)
		if err != nil {
			return err
		}
		recheck := false
		if req.ArchiveURL != nil {
			mirror.ArchiveRoot = strings.TrimSuffix(*req.ArchiveURL, "/") + "/"
			recheck = true
		}
		if req.Filter != nil {
			mirror.Filter = *req.Filter
		}
		if req.FilterWithDeps != nil {
			mirror.FilterWithDeps = *req.FilterWithDeps
		}
		if req.WithSources != nil {
			mirror.DownloadSources = *req.WithSources
		}
		if req.WithUdebs != nil {
			mirror.DownloadUdebs = *req.WithUdebs
		}
		if req.WithInstaller != nil {
			mirror.DownloadInstaller = *req.WithInstaller
		}
		if req.IgnoreSignatures != nil {
			mirror.IgnoreSignatures = *req.IgnoreSignatures
		}
		if req.Architectures != nil {
			mirror.Architectures = shared.UniqueSorted(req.Architectures)
			recheck = true
		}
		if req.Components != nil {
			mirror.Components = shared.UniqueSorted(req.Components)
			recheck = true
		}
		if req.Keyrings != nil {
			mirror.Keyrings = req.Keyrings
		}
		if mirror.IsFlat() && (mirror.DownloadUdebs || mirror.DownloadInstaller) {
			return shared.InvalidArgument("flat repositories have no udebs or installer")
		}
		if recheck && !mirror.SkipComponentCheck {
			release, err := s.fetchRelease(ctx, mirror, false, nil)
			if err != nil {
				return err
			}
			if err := applyRelease(&mirror, release, false); err != nil {
				return err
			}
		}
		return s.Mirrors.Update(ctx, mirror)
	})
	return mirror, err
}

func (s *Service) ListMirrors(ctx context.Context) ([]types.RemoteMirror, error) {
	mirrors, err := s.Mirrors.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(mirrors, func(i, j int) bool { return mirrors[i].Name < mirrors[j].Name })
	return mirrors, nil
}

func (s *Service) ShowMirror(ctx context.Context, name string, withPackages bool) (MirrorDetails, error) {
	var details MirrorDetails
	err := s.Tasks.RunSync(ctx, Shared(MirrorResource(name)), func(ctx context.Context) error {
		var err error
		details, err = s.showMirror(ctx, name, withPackages)
		return err
	})
	return details, err
}

func (s *Service) showMirror(ctx context.Context, name string, withPackages bool) (MirrorDetails, error) {
	mirror, err := s.Mirrors.ByName(ctx, name)
	if err != nil {
		return MirrorDetails{}, err
	}
	refs, err := s.loadRefList(ctx, mirror.UUID)
	if err != nil {
		return MirrorDetails{}, err
	}
	details := MirrorDetails{Mirror: mirror, PackageCount: refs.Len()}
	if withPackages {
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return MirrorDetails{}, err
		}
		details.Packages = list.Packages()
	}
	return details, nil
}

func (s *Service) DropMirror(ctx context.Context, name string, force bool) error {
	return s.Tasks.RunSync(ctx, Exclusive(MirrorResource(name)), func(ctx context.Context) error {
		mirror, err := s.Mirrors.ByName(ctx, name)
		if err != nil {
			return err
		}
		if !force {
			snapshots, err := s.snapshotsFrom(ctx, types.SnapshotSourceMirror, mirror.UUID)
			if err != nil {
				return err
			}
			if len(snapshots) > 0 {
				return shared.InUse("mirror was used to create snapshot " + snapshots[0].Name + "; use force to drop it anyway")
			}
		}
		if err := s.RefLists.Delete(ctx, mirror.UUID); err != nil && !shared.IsNotFound(err) {
			return err
		}
		if err := s.Mirrors.Drop(ctx, name); err != nil {
			return err
		}
		log.Ctx(ctx).Info().Str("mirror", name).Msg("mirror dropped")
		return nil
	})
}

func (s *Service) RenameMirror(ctx context.Context, oldName string, newName string) error {
	if err := core.ValidateName("mirror", newName); err != nil {
		return err
	}
	return s.Tasks.RunSync(ctx, Exclusive(MirrorResource(oldName), MirrorResource(newName)), func(ctx context.Context) error {
		return s.Mirrors.Rename(ctx, oldName, newName)
	})
}

// distURL is the directory holding Release and indexes.
func distURL(m types.RemoteMirror) string {
	root := strings.TrimSuffix(m.ArchiveRoot, "/")
	if m.IsFlat() {
		dir := path.Clean(m.Distribution)
		if dir == "." {
			return root
		}
		return root + "/" + dir
	}
	return root + "/dists/" + m.Distribution
}

// packageURL resolves a Filename or Directory path against the archive root.
func packageURL(m types.RemoteMirror, rel string) string {
	return strings.TrimSuffix(m.ArchiveRoot, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// fetchRelease downloads InRelease, falling back to Release plus
// Release.gpg, and verifies the signature unless disabled.
func (s *Service) fetchRelease(ctx context.Context, m types.RemoteMirror, ignoreSignatures bool, keyrings []string) (core.ReleaseFile, error) {
	base := distURL(m)
	verify := !ignoreSignatures && !m.IgnoreSignatures && !s.Config.GpgDisableVerify
	var verifier ports.Verifier
	if verify {
		if len(keyrings) == 0 {
			keyrings = m.Keyrings
		}
		var err error
		verifier, err = s.Signers.Verifier(keyrings)
		if err != nil {
			return core.ReleaseFile{}, err
		}
	}

	body, err := s.Downloader.Fetch(ctx, base+"/InRelease")
	switch {
	case err == nil:
		var text []byte
		if verifier != nil {
			text, err = verifier.VerifyClearsigned(ctx, body)
		} else {
			text, err = adapters.NewPGPVerifier(nil).ExtractClearsigned(body)
		}
		if err != nil {
			return core.ReleaseFile{}, err
		}
		log.Ctx(ctx).Debug().Str("url", base+"/InRelease").Msg("using InRelease")
		return core.ParseRelease(text)
	case !shared.IsNotFound(err):
		return core.ReleaseFile{}, err
	}

	body, err = s.Downloader.Fetch(ctx, base+"/Release")
	if err != nil {
		return core.ReleaseFile{}, err
	}
	if verifier != nil {
		signature, err := s.Downloader.Fetch(ctx, base+"/Release.gpg")
		if err != nil {
			if shared.IsNotFound(err) {
				return core.ReleaseFile{}, errbuilder.New().
					WithCode(shared.CodeSignatureInvalid).
					WithMsg("no signature found for " + base + "/Release, use ignore-signatures to skip verification")
			}
			return core.ReleaseFile{}, err
		}
		if err := verifier.VerifyDetached(ctx, body, signature); err != nil {
			return core.ReleaseFile{}, err
		}
	}
	return core.ParseRelease(body)
}

// releaseComponent maps a mirror component to the form listed in Release,
// which may carry a path prefix like "updates/main".
func releaseComponent(component string, listed []string) (string, bool) {
	for _, candidate := range listed {
		if candidate == component {
			return candidate, true
		}
	}
	for _, candidate := range listed {
		if path.Base(candidate) == component {
			return candidate, true
		}
	}
	return component, false
}

// applyRelease fills defaults from Release and checks the requested
// components and architectures. force skips the check, as do the mirror's
// own force flags.
func applyRelease(m *types.RemoteMirror, release core.ReleaseFile, force bool) error {
	force = force || m.ForceComponents || m.SkipComponentCheck
	listedArchs := release.Architectures()
	if len(m.Architectures) == 0 {
		for _, arch := range listedArchs {
			if arch != types.ArchitectureSource && arch != types.ArchitectureAll {
				m.Architectures = append(m.Architectures, arch)
			}
		}
		m.Architectures = shared.UniqueSorted(m.Architectures)
	} else if !force && len(listedArchs) > 0 {
		for _, arch := range m.Architectures {
			if !shared.Contains(listedArchs, arch) {
				return shared.InvalidArgument("architecture " + arch + " not available in repo " + m.Name + ", use force-components to override")
			}
		}
	}
	if m.IsFlat() {
		return nil
	}
	listed := release.Components()
	if len(m.Components) == 0 {
		for _, component := range listed {
			m.Components = append(m.Components, path.Base(component))
		}
		m.Components = shared.UniqueSorted(m.Components)
		return nil
	}
	if force {
		return nil
	}
	for _, component := range m.Components {
		if _, ok := releaseComponent(component, listed); !ok {
			return shared.InvalidArgument("component " + component + " not available in repo " + m.Name + ", use force-components to override")
		}
	}
	return nil
}

// releaseMeta keeps the descriptive Release fields, without checksums.
func releaseMeta(release core.ReleaseFile) types.Stanza {
	var out types.Stanza
	for _, field := range release.Stanza {
		switch strings.ToLower(field.Name) {
		case "md5sum", "sha1", "sha256", "sha512":
			continue
		}
		out = append(out, field)
	}
	return out
}

// indexFile is one index of the mirror to download.
type indexFile struct {
	// Path is relative to the Release directory, without extension.
	Path      string
	Component string
	Kind      core.IndexKind
	Arch      string
}

func mirrorIndexes(m types.RemoteMirror, listed []string) []indexFile {
	if m.IsFlat() {
		out := []indexFile{{Path: "Packages", Component: flatComponent, Kind: core.IndexBinary}}
		if m.DownloadSources {
			out = append(out, indexFile{Path: "Sources", Component: flatComponent, Kind: core.IndexSource})
		}
		return out
	}
	var out []indexFile
	for _, component := range m.Components {
		remote, _ := releaseComponent(component, listed)
		for _, arch := range m.Architectures {
			out = append(out, indexFile{Path: path.Join(remote, "binary-"+arch, "Packages"), Component: component, Kind: core.IndexBinary, Arch: arch})
			if m.DownloadUdebs {
				out = append(out, indexFile{Path: path.Join(remote, "debian-installer", "binary-"+arch, "Packages"), Component: component, Kind: core.IndexInstaller, Arch: arch})
			}
		}
		if m.DownloadSources {
			out = append(out, indexFile{Path: path.Join(remote, "source", "Sources"), Component: component, Kind: core.IndexSource})
		}
	}
	return out
}

// pickVariant chooses the best compressed form of an index listed in
// Release. When Release lists no files the gzip form is tried unverified.
func pickVariant(release core.ReleaseFile, base string) (string, *types.Checksums, error) {
	for _, ext := range []string{".xz", ".gz", ".bz2", ""} {
		if sums, ok := release.Files[base+ext]; ok {
			sums := sums
			return base + ext, &sums, nil
		}
	}
	if len(release.Files) == 0 {
		return base + ".gz", nil, nil
	}
	return "", nil, shared.NotFound("index in Release", base)
}

// UpdateMirror downloads the upstream indexes and missing package files,
// then replaces the mirror content in one step. A failed or cancelled
// update leaves the previous content in place.
func (s *Service) UpdateMirror(ctx context.Context, req MirrorUpdateRequest) (MirrorUpdateResult, error) {
	var result MirrorUpdateResult
	err := s.Tasks.RunSync(ctx, Exclusive(MirrorResource(req.Name)), func(ctx context.Context) error {
		var err error
		result, err = s.updateMirror(ctx, req)
		return err
	})
	return result, err
}

func (s *Service) updateMirror(ctx context.Context, req MirrorUpdateRequest) (MirrorUpdateResult, error) {
	logger := log.Ctx(ctx)
	progress := ProgressFrom(ctx)
	mirror, err := s.Mirrors.ByName(ctx, req.Name)
	if err != nil {
		return MirrorUpdateResult{}, err
	}
	tmpDir := filepath.Join(s.Config.RootDir, "tmp", "mirror-"+uuid.NewString())
	defer os.RemoveAll(tmpDir)

	progress.Stage("release", 1)
	logger.Info().Str("mirror", mirror.Name).Str("url", distURL(mirror)).Msg("downloading release")
	release, err := s.fetchRelease(ctx, mirror, req.IgnoreSignatures, req.Keyrings)
	if err != nil {
		return MirrorUpdateResult{}, err
	}
	if err := applyRelease(&mirror, release, false); err != nil {
		return MirrorUpdateResult{}, err
	}
	if release.Expired(s.Clock()) {
		logger.Warn().Str("mirror", mirror.Name).Str("valid_until", release.Stanza.Get("Valid-Until")).
			Msg("upstream release has expired")
	}
	if date := release.Date(); !date.IsZero() {
		logger.Debug().Str("mirror", mirror.Name).Time("date", date).Msg("upstream release date")
	}
	progress.Add(1)

	list, err := s.downloadIndexes(ctx, mirror, release, tmpDir, req.IgnoreChecksums)
	if err != nil {
		return MirrorUpdateResult{}, err
	}
	if mirror.DownloadInstaller {
		installers, err := s.installerPackages(ctx, mirror, release, req.IgnoreChecksums)
		if err != nil {
			return MirrorUpdateResult{}, err
		}
		for _, pkg := range installers {
			_ = list.Add(pkg)
		}
	}

	if mirror.Filter != "" {
		q, err := core.ParseQuery(mirror.Filter)
		if err != nil {
			return MirrorUpdateResult{}, err
		}
		filtered, err := core.Filter(list, q, mirror.FilterWithDeps, s.DependencyFlags(nil), mirror.Architectures)
		if err != nil {
			return MirrorUpdateResult{}, err
		}
		list = core.PackageListFrom(filtered)
		logger.Info().Str("filter", mirror.Filter).Int("packages", list.Len()).Msg("applied filter")
	}

	previous, err := s.loadRefList(ctx, mirror.UUID)
	if err != nil {
		return MirrorUpdateResult{}, err
	}
	pkgs := list.Packages()
	result := MirrorUpdateResult{Packages: len(pkgs)}
	downloads, err := s.locateFiles(ctx, pkgs, previous, req, &result)
	if err != nil {
		return MirrorUpdateResult{}, err
	}
	for _, file := range downloads {
		result.DownloadedBytes += pkgs[file.pkg].Files[file.file].Checksums.Size
	}
	result.Downloaded = len(downloads)
	logger.Info().Int("packages", len(pkgs)).Int("downloads", len(downloads)).Msg("building download queue")
	if req.DryRun {
		return result, nil
	}

	if err := s.downloadFiles(ctx, mirror, pkgs, downloads, tmpDir, req.IgnoreChecksums); err != nil {
		return MirrorUpdateResult{}, err
	}
	for _, pkg := range pkgs {
		if err := s.Catalog.Put(ctx, pkg); err != nil {
			return MirrorUpdateResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return MirrorUpdateResult{}, shared.Unavailable("mirror update cancelled", err)
	}
	if err := s.saveRefList(ctx, mirror.UUID, core.PackageListFrom(pkgs).RefList()); err != nil {
		return MirrorUpdateResult{}, err
	}
	mirror.Meta = releaseMeta(release)
	mirror.LastDownloadDate = s.Clock()
	if err := s.Mirrors.Update(ctx, mirror); err != nil {
		return MirrorUpdateResult{}, err
	}
	logger.Info().Str("mirror", mirror.Name).Int("packages", len(pkgs)).Msg("mirror updated successfully")
	return result, nil
}

func (s *Service) downloadIndexes(ctx context.Context, mirror types.RemoteMirror, release core.ReleaseFile, tmpDir string, ignoreChecksums bool) (*core.PackageList, error) {
	indexes := mirrorIndexes(mirror, release.Components())
	progress := ProgressFrom(ctx)
	progress.Stage("indexes", int64(len(indexes)))
	list := core.NewPackageList(true)
	for _, index := range indexes {
		name, sums, err := pickVariant(release, index.Path)
		if err != nil {
			return nil, err
		}
		if ignoreChecksums {
			sums = nil
		}
		local := filepath.Join(tmpDir, "indexes", filepath.FromSlash(name))
		log.Ctx(ctx).Info().Str("index", name).Msg("downloading index")
		if _, err := s.Downloader.DownloadTo(ctx, distURL(mirror)+"/"+name, local, sums); err != nil {
			return nil, err
		}
		if err := readIndex(local, index, mirror, list); err != nil {
			return nil, err
		}
		progress.Add(1)
	}
	return list, nil
}

// readIndex parses a downloaded Packages or Sources file into list,
// skipping architectures the mirror does not carry.
func readIndex(local string, index indexFile, mirror types.RemoteMirror, list *core.PackageList) error {
	file, err := os.Open(local)
	if err != nil {
		return shared.Internal("failed to open "+local, err)
	}
	defer file.Close()
	reader, err := adapters.CompressionOf(local).NewReader(file)
	if err != nil {
		return err
	}
	defer reader.Close()

	control := core.NewControlReader(reader)
	for {
		stanza, err := control.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var pkg types.Package
		if index.Kind == core.IndexSource {
			pkg, err = core.PackageFromSourceStanza(stanza)
		} else {
			pkg, err = core.PackageFromBinaryStanza(stanza, index.Kind == core.IndexInstaller)
		}
		if err != nil {
			return err
		}
		if !pkg.IsSource && len(mirror.Architectures) > 0 &&
			pkg.Architecture != types.ArchitectureAll && !shared.Contains(mirror.Architectures, pkg.Architecture) {
			continue
		}
		if err := list.Add(pkg); err != nil {
			return err
		}
	}
}

// installerPackages describes the installer images of each component and
// architecture as one package whose files are listed in SHA256SUMS.
func (s *Service) installerPackages(ctx context.Context, mirror types.RemoteMirror, release core.ReleaseFile, ignoreChecksums bool) ([]types.Package, error) {
	var out []types.Package
	version := strings.ReplaceAll(release.Stanza.Get("Date"), " ", "_")
	if version == "" {
		version = "current"
	}
	for _, component := range mirror.Components {
		remote, _ := releaseComponent(component, release.Components())
		for _, arch := range mirror.Architectures {
			dir := path.Join(remote, "installer-"+arch, "current", "images")
			sumsPath := path.Join(dir, "SHA256SUMS")
			body, err := s.Downloader.Fetch(ctx, distURL(mirror)+"/"+sumsPath)
			if err != nil {
				return nil, err
			}
			if expected, ok := release.Files[sumsPath]; ok && !ignoreChecksums {
				actual, err := core.ChecksumsOfReader(strings.NewReader(string(body)))
				if err != nil {
					return nil, err
				}
				if field, ok := core.VerifyChecksums(expected, actual); !ok {
					return nil, errbuilder.New().
						WithCode(shared.CodeChecksumMismatch).
						WithMsg(sumsPath + ": " + field + " checksum mismatch")
				}
			}
			pkg := types.Package{
				Name:         "installer",
				Version:      version,
				Architecture: arch,
				IsInstaller:  true,
				Stanza: types.Stanza{
					{Name: "Package", Value: "installer"},
					{Name: "Component", Value: component},
				},
			}
			for _, line := range strings.Split(string(body), "\n") {
				parts := strings.Fields(line)
				if len(parts) != 2 {
					continue
				}
				rel := strings.TrimPrefix(parts[1], "./")
				pkg.Files = append(pkg.Files, types.PackageFile{
					Filename:     rel,
					Checksums:    types.Checksums{SHA256: parts[0]},
					DownloadPath: "dists/" + mirror.Distribution + "/" + path.Join(dir, rel),
				})
			}
			pkg.Files = append(pkg.Files, types.PackageFile{
				Filename:     "SHA256SUMS",
				Checksums:    must(core.ChecksumsOfReader(strings.NewReader(string(body)))),
				DownloadPath: "dists/" + mirror.Distribution + "/" + sumsPath,
			})
			out = append(out, pkg)
		}
	}
	return out, nil
}

func must(sums types.Checksums, err error) types.Checksums {
	if err != nil {
		return types.Checksums{}
	}
	return sums
}

// poolBasename is the name a package file is stored under in the pool.
// Installer files keep their directory in Filename.
func poolBasename(file types.PackageFile) string {
	return strings.ReplaceAll(file.Filename, "/", "_")
}

type fileRef struct {
	pkg  int
	file int
}

// locateFiles fills PoolPath of every file already present in the pool
// and returns the files that must be downloaded. Dry runs leave legacy pool
// files where they are.
func (s *Service) locateFiles(ctx context.Context, pkgs []types.Package, previous core.RefList, req MirrorUpdateRequest, result *MirrorUpdateResult) ([]fileRef, error) {
	verify := ports.VerifyOptions{SkipLegacy: s.Config.SkipLegacyPool, NoMigrate: req.DryRun}
	var downloads []fileRef
	for i := range pkgs {
		key := pkgs[i].Key()
		known, err := s.Catalog.Get(ctx, key)
		switch {
		case err == nil:
			if req.SkipExistingPackages && previous.Has(key) {
				pkgs[i] = known
				result.Reused++
				continue
			}
		case !shared.IsNotFound(err):
			return nil, err
		}
		for j := range pkgs[i].Files {
			file := &pkgs[i].Files[j]
			hint := ""
			if err == nil && j < len(known.Files) {
				hint = known.Files[j].PoolPath
			}
			sums := file.Checksums
			poolPath, found, verr := s.Pool.Verify(ctx, hint, poolBasename(*file), &sums, verify)
			if verr != nil {
				return nil, verr
			}
			if found {
				file.PoolPath = poolPath
				continue
			}
			downloads = append(downloads, fileRef{pkg: i, file: j})
		}
	}
	return downloads, nil
}

// downloadFiles fetches the queued files with bounded concurrency and
// imports each into the pool. Package files are retried once.
func (s *Service) downloadFiles(ctx context.Context, mirror types.RemoteMirror, pkgs []types.Package, downloads []fileRef, tmpDir string, ignoreChecksums bool) error {
	progress := ProgressFrom(ctx)
	progress.Stage("download", int64(len(downloads)))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.Config.DownloadConcurrency)
	for _, ref := range downloads {
		file := &pkgs[ref.pkg].Files[ref.file]
		group.Go(func() error {
			basename := poolBasename(*file)
			local := filepath.Join(tmpDir, "packages", uuid.NewString()+"_"+basename)
			var expected *types.Checksums
			if !ignoreChecksums {
				sums := file.Checksums
				expected = &sums
			}
			fileURL := packageURL(mirror, file.DownloadPath)
			sums, err := s.PackageDownloader.DownloadTo(gctx, fileURL, local, expected)
			if err != nil {
				return err
			}
			poolPath, err := s.Pool.Import(gctx, local, basename, &sums, ports.ImportOptions{Move: true, IgnoreChecksums: ignoreChecksums})
			if err != nil {
				return err
			}
			file.PoolPath = poolPath
			log.Ctx(gctx).Debug().Str("url", fileURL).Msg("downloaded")
			progress.Add(1)
			return nil
		})
	}
	return group.Wait()
}
