package adapters

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// PackagePoolAdapter is the content-addressed store of package files on
// top of any blob storage.
type PackagePoolAdapter struct {
	storage   ports.BlobStorage
	checksums ports.ChecksumStore
}

func NewPackagePoolAdapter(storage ports.BlobStorage, checksums ports.ChecksumStore) *PackagePoolAdapter {
	return &PackagePoolAdapter{storage: storage, checksums: checksums}
}

// Import copies (or moves) srcPath into the pool and returns its pool path.
// The source is always hashed: given digests are verified against it unless
// IgnoreChecksums is set, and missing ones are filled in. A file already at
// the pool path is reused only when its content matches.
func (p *PackagePoolAdapter) Import(ctx context.Context, srcPath string, basename string, checksums *types.Checksums, opts ports.ImportOptions) (string, error) {
	if checksums == nil {
		checksums = &types.Checksums{}
	}
	actual, err := core.ChecksumsOfFile(srcPath)
	if err != nil {
		return "", err
	}
	if !opts.IgnoreChecksums {
		if field, ok := core.VerifyChecksums(*checksums, actual); !ok {
			return "", errbuilder.New().
				WithCode(shared.CodeChecksumMismatch).
				WithMsg(field + " checksum mismatch for " + basename)
		}
	}
	*checksums = actual
	poolPath, err := core.PoolPath(basename, checksums.SHA256)
	if err != nil {
		return "", err
	}

	existing := actual
	same, err := p.matches(ctx, poolPath, &existing)
	if err != nil {
		return "", err
	}
	if same {
		log.Ctx(ctx).Debug().Str("pool_path", poolPath).Msg("file already in pool")
		if opts.Move {
			_ = os.Remove(srcPath)
		}
		return poolPath, nil
	}

	if err := p.put(ctx, srcPath, poolPath, opts.Move); err != nil {
		return "", err
	}
	if err := p.checksums.Update(ctx, poolPath, checksums); err != nil {
		return "", err
	}
	log.Ctx(ctx).Debug().Str("pool_path", poolPath).Str("file", basename).Msg("imported file into pool")
	return poolPath, nil
}

func (p *PackagePoolAdapter) put(ctx context.Context, srcPath string, poolPath string, move bool) error {
	if local, ok := p.storage.(ports.LocalBlobStorage); ok && move {
		dest := local.FullPath(poolPath)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return shared.Internal("failed to create pool directory", err)
		}
		if err := os.Rename(srcPath, dest); err == nil {
			return nil
		}
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return shared.Internal("failed to open "+srcPath, err)
	}
	defer src.Close()
	if err := p.storage.PutFile(ctx, poolPath, src); err != nil {
		return err
	}
	if move {
		_ = os.Remove(srcPath)
	}
	return nil
}

// Verify looks for a pool file matching checksums: first at poolPath,
// then at the canonical location, then (unless SkipLegacy) at the legacy
// location. Legacy hits are migrated to the canonical location unless
// NoMigrate is set. It returns the path found and fills in missing digests.
func (p *PackagePoolAdapter) Verify(ctx context.Context, poolPath string, basename string, checksums *types.Checksums, opts ports.VerifyOptions) (string, bool, error) {
	if checksums == nil {
		return "", false, shared.InvalidArgument("checksums are required to verify " + basename)
	}
	type candidate struct {
		path   string
		legacy bool
	}
	var candidates []candidate
	if poolPath != "" {
		candidates = append(candidates, candidate{path: poolPath})
	}
	if canonical, err := core.PoolPath(basename, checksums.SHA256); err == nil && canonical != poolPath {
		candidates = append(candidates, candidate{path: canonical})
	}
	if !opts.SkipLegacy {
		if legacy, err := core.LegacyPoolPath(basename, checksums.MD5); err == nil && legacy != poolPath {
			candidates = append(candidates, candidate{path: legacy, legacy: true})
		}
	}

	for _, c := range candidates {
		ok, err := p.matches(ctx, c.path, checksums)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		if !c.legacy || opts.NoMigrate {
			return c.path, true, nil
		}
		canonical, err := core.PoolPath(basename, checksums.SHA256)
		if err != nil {
			// Without SHA256 the legacy file cannot move.
			return c.path, true, nil
		}
		if err := p.storage.Rename(ctx, c.path, canonical); err != nil {
			return "", false, err
		}
		_ = p.checksums.Delete(ctx, c.path)
		if err := p.checksums.Update(ctx, canonical, checksums); err != nil {
			return "", false, err
		}
		log.Ctx(ctx).Info().Str("from", c.path).Str("to", canonical).Msg("migrated legacy pool file")
		return canonical, true, nil
	}
	return "", false, nil
}

func (p *PackagePoolAdapter) matches(ctx context.Context, poolPath string, checksums *types.Checksums) (bool, error) {
	info, err := p.storage.Stat(ctx, poolPath)
	if shared.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if checksums.Size > 0 && info.Size != checksums.Size {
		return false, nil
	}
	cached, err := p.checksums.Get(ctx, poolPath)
	if err != nil {
		return false, err
	}
	if cached == nil || !cached.Complete() {
		body, err := p.storage.Open(ctx, poolPath)
		if err != nil {
			return false, err
		}
		actual, err := core.ChecksumsOfReader(body)
		_ = body.Close()
		if err != nil {
			return false, err
		}
		cached = &actual
		if err := p.checksums.Update(ctx, poolPath, cached); err != nil {
			return false, err
		}
	}
	if _, ok := core.VerifyChecksums(*checksums, *cached); !ok {
		return false, nil
	}
	*checksums = *cached
	return true, nil
}

func (p *PackagePoolAdapter) Open(ctx context.Context, poolPath string) (io.ReadCloser, error) {
	return p.storage.Open(ctx, poolPath)
}

func (p *PackagePoolAdapter) Stat(ctx context.Context, poolPath string) (ports.BlobInfo, error) {
	return p.storage.Stat(ctx, poolPath)
}

// Remove deletes a pool file and returns the bytes freed.
func (p *PackagePoolAdapter) Remove(ctx context.Context, poolPath string) (int64, error) {
	info, err := p.storage.Stat(ctx, poolPath)
	if err != nil {
		return 0, err
	}
	if err := p.storage.Remove(ctx, poolPath); err != nil {
		return 0, err
	}
	if err := p.checksums.Delete(ctx, poolPath); err != nil {
		return 0, err
	}
	return info.Size, nil
}

// List returns every pool path except temporary files.
func (p *PackagePoolAdapter) List(ctx context.Context) ([]string, error) {
	paths, err := p.storage.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := paths[:0]
	for _, item := range paths {
		if isTempPoolFile(item) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// CleanupTemp removes temporary files left behind by interrupted writes.
func (p *PackagePoolAdapter) CleanupTemp(ctx context.Context) (int, error) {
	paths, err := p.storage.List(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range paths {
		if !isTempPoolFile(item) {
			continue
		}
		if err := p.storage.Remove(ctx, item); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func isTempPoolFile(poolPath string) bool {
	base := path.Base(poolPath)
	return strings.Contains(base, ".tmp-") || strings.HasPrefix(base, ".")
}

// Link places a pool file at destPath on a publish endpoint. An existing
// file that passes the verify method is kept; a different one is a
// conflict unless Force is set.
func (p *PackagePoolAdapter) Link(ctx context.Context, poolPath string, dest ports.PublishEndpoint, destPath string, checksums types.Checksums, opts ports.LinkOptions) error {
	method := opts.Method
	if method == "" {
		method = dest.LinkMethod
	}
	verify := opts.Verify
	if verify == "" {
		verify = dest.VerifyMethod
	}

	info, err := dest.Storage.Stat(ctx, destPath)
	switch {
	case err == nil:
		same, err := p.sameAsPublished(ctx, dest.Storage, destPath, info, checksums, verify)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		if !opts.Force {
			return errbuilder.New().
				WithCode(shared.CodeConflict).
				WithMsg("file conflict: " + destPath + " already exists and is different")
		}
	case !shared.IsNotFound(err):
		return err
	}

	poolLocal, poolIsLocal := p.storage.(ports.LocalBlobStorage)
	destLocal, destIsLocal := dest.Storage.(ports.LocalBlobStorage)
	if poolIsLocal && destIsLocal {
		switch types.LinkMethod(method) {
		case types.LinkMethodHardlink, "":
			return destLocal.HardLink(ctx, poolLocal.FullPath(poolPath), destPath)
		case types.LinkMethodSymlink:
			return destLocal.SymLink(ctx, poolLocal.FullPath(poolPath), destPath)
		}
	}
	body, err := p.storage.Open(ctx, poolPath)
	if err != nil {
		return err
	}
	defer body.Close()
	return dest.Storage.PutFile(ctx, destPath, body)
}

func (p *PackagePoolAdapter) sameAsPublished(ctx context.Context, storage ports.BlobStorage, destPath string, info ports.BlobInfo, checksums types.Checksums, verify string) (bool, error) {
	switch types.VerifyMethod(verify) {
	case types.VerifyMethodNone:
		return true, nil
	case types.VerifyMethodSize:
		return info.Size == checksums.Size, nil
	}
	if info.Size != checksums.Size {
		return false, nil
	}
	if checksums.MD5 == "" {
		return true, nil
	}
	if info.MD5 != "" {
		return info.MD5 == checksums.MD5, nil
	}
	body, err := storage.Open(ctx, destPath)
	if err != nil {
		return false, err
	}
	defer body.Close()
	actual, err := core.ChecksumsOfReader(body)
	if err != nil {
		return false, err
	}
	return actual.MD5 == checksums.MD5, nil
}

var _ ports.PackagePool = (*PackagePoolAdapter)(nil)
