package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/policies"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const defaultRepoTemplate = "{{.Distribution}}"

// changesFile is a parsed .changes upload description.
type changesFile struct {
	Path       string
	Stanza     types.Stanza
	SignerKeys []string
	Files      map[string]types.Checksums
}

// changesFields exposes the .changes fields to the repo name template.
type changesFields struct {
	Distribution string
	Source       string
	Version      string
	Architecture string
	Maintainer   string
	Changes      types.Stanza
}

// IncludeChanges imports the packages listed in .changes files into the
// repo named by the template, checking signatures, checksums and the
// uploaders policy of the target repo.
func (s *Service) IncludeChanges(ctx context.Context, req IncludeRequest) (IncludeResult, error) {
	tmplText := req.RepoTemplate
	if tmplText == "" {
		tmplText = defaultRepoTemplate
	}
	tmpl, err := template.New("repo").Parse(tmplText)
	if err != nil {
		return IncludeResult{}, shared.InvalidArgument("invalid repo template: " + err.Error())
	}
	var override *types.Uploaders
	if req.UploadersFile != "" {
		override, err = policies.LoadUploaders(req.UploadersFile)
		if err != nil {
			return IncludeResult{}, err
		}
	}
	var verifier ports.Verifier
	if !req.IgnoreSignatures && !s.Config.GpgDisableVerify {
		verifier, err = s.Signers.Verifier(req.Keyrings)
		if err != nil {
			return IncludeResult{}, err
		}
	}

	paths, failed := collectChangesFiles(req.Paths)
	result := IncludeResult{}
	result.Failed = append(result.Failed, failed...)
	for _, path := range paths {
		changes, err := s.readChanges(ctx, path, verifier, req.AcceptUnsigned)
		if err != nil {
			result.Failed = append(result.Failed, path)
			result.Warnings = append(result.Warnings, path+": "+shared.Message(err))
			continue
		}
		repoName, err := expandRepoName(tmpl, changes)
		if err != nil {
			return result, err
		}
		added, err := s.includeOne(ctx, changes, repoName, override, req)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("changes", path).Msg("unable to include changes")
			result.Failed = append(result.Failed, path)
			result.Warnings = append(result.Warnings, path+": "+shared.Message(err))
			continue
		}
		result.Added = append(result.Added, added.Added...)
		result.Removed = append(result.Removed, added.Removed...)
		result.Repos = append(result.Repos, repoName)
	}
	result.Repos = shared.UniqueSorted(result.Repos)
	return result, nil
}

func collectChangesFiles(paths []string) ([]string, []string) {
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
		matches, err := filepath.Glob(filepath.Join(root, "*.changes"))
		if err != nil {
			failed = append(failed, root)
			continue
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, failed
}

func (s *Service) readChanges(ctx context.Context, path string, verifier ports.Verifier, acceptUnsigned bool) (changesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return changesFile{}, shared.Internal("failed to read "+path, err)
	}
	signed := bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP SIGNED MESSAGE"))
	out := changesFile{Path: path}
	switch {
	case verifier == nil:
	case signed:
		out.SignerKeys, err = verifier.SignerKeys(ctx, data)
		if err != nil {
			return changesFile{}, err
		}
	case !acceptUnsigned:
		return changesFile{}, errbuilder.New().
			WithCode(shared.CodeSignatureInvalid).
			WithMsg(path + " is not signed")
	}
	out.Stanza, err = s.Files.ReadChanges(ctx, path, nil)
	if err != nil {
		return changesFile{}, err
	}
	out.Files, err = parseChangesFiles(out.Stanza)
	if err != nil {
		return changesFile{}, err
	}
	if len(out.Files) == 0 {
		return changesFile{}, shared.InvalidArgument(path + " lists no files")
	}
	return out, nil
}

// parseChangesFiles merges the "Files" section (md5 size section priority
// name) with the Checksums-* sections (digest size name).
func parseChangesFiles(stanza types.Stanza) (map[string]types.Checksums, error) {
	out := map[string]types.Checksums{}
	sections := []struct {
		field  string
		fields int
		set    func(*types.Checksums, string)
	}{
		{"Files", 5, func(c *types.Checksums, v string) { c.MD5 = v }},
		{"Checksums-Sha1", 3, func(c *types.Checksums, v string) { c.SHA1 = v }},
		{"Checksums-Sha256", 3, func(c *types.Checksums, v string) { c.SHA256 = v }},
		{"Checksums-Sha512", 3, func(c *types.Checksums, v string) { c.SHA512 = v }},
	}
	for _, section := range sections {
		for _, line := range strings.Split(stanza.Get(section.field), "\n") {
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if len(parts) != section.fields {
				return nil, shared.InvalidArgument("malformed " + section.field + " line in changes: " + line)
			}
			size, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, shared.InvalidArgument("malformed size in changes: " + line)
			}
			name := parts[len(parts)-1]
			sums := out[name]
			sums.Size = size
			section.set(&sums, parts[0])
			out[name] = sums
		}
	}
	return out, nil
}

func expandRepoName(tmpl *template.Template, changes changesFile) (string, error) {
	var buf bytes.Buffer
	fields := changesFields{
		Distribution: changes.Stanza.Get("Distribution"),
		Source:       changes.Stanza.Get("Source"),
		Version:      changes.Stanza.Get("Version"),
		Architecture: changes.Stanza.Get("Architecture"),
		Maintainer:   changes.Stanza.Get("Maintainer"),
		Changes:      changes.Stanza,
	}
	if err := tmpl.Execute(&buf, fields); err != nil {
		return "", shared.InvalidArgument("failed to expand repo template: " + err.Error())
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		return "", shared.InvalidArgument("repo template expanded to an empty name for " + changes.Path)
	}
	return name, nil
}

// includeOne imports every package file of one .changes into repoName.
// Nothing is saved unless every file passes.
func (s *Service) includeOne(ctx context.Context, changes changesFile, repoName string, override *types.Uploaders, req IncludeRequest) (AddResult, error) {
	var result AddResult
	err := s.Tasks.RunSync(ctx, Exclusive(RepoResource(repoName)), func(ctx context.Context) error {
		repo, err := s.Repos.ByName(ctx, repoName)
		if err != nil {
			return err
		}
		uploaders := repo.Uploaders
		if override != nil {
			uploaders = override
		}
		if uploaders != nil {
			if err := policies.CheckUploaders(uploaders, changes.SignerKeys, changesPackage(changes.Stanza)); err != nil {
				return err
			}
		}

		dir := filepath.Dir(changes.Path)
		names := make([]string, 0, len(changes.Files))
		for name := range changes.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		if !req.IgnoreChecksums {
			for _, name := range names {
				if err := verifyLocalFile(filepath.Join(dir, name), changes.Files[name]); err != nil {
					return err
				}
			}
		}

		refs, err := s.loadRefList(ctx, repo.UUID)
		if err != nil {
			return err
		}
		list, err := s.packageList(ctx, refs)
		if err != nil {
			return err
		}
		var pkgs []types.Package
		for _, name := range names {
			if !isPackageFile(name) {
				continue
			}
			pkg, _, err := s.importPackageFile(ctx, filepath.Join(dir, name), nil, req.IgnoreChecksums)
			if err != nil {
				return err
			}
			if uploaders != nil {
				if err := policies.CheckUploaders(uploaders, changes.SignerKeys, pkg); err != nil {
					return err
				}
			}
			replaced, err := addToList(list, pkg, req.ForceReplace)
			if err != nil {
				return err
			}
			for _, old := range replaced {
				result.Removed = append(result.Removed, old.String())
			}
			pkgs = append(pkgs, pkg)
		}
		for _, pkg := range pkgs {
			if err := s.Catalog.Put(ctx, pkg); err != nil {
				return err
			}
			result.Added = append(result.Added, pkg.String())
		}
		if err := s.saveRefList(ctx, repo.UUID, list.RefList()); err != nil {
			return err
		}
		if !req.NoRemoveFiles {
			consumed := []string{changes.Path}
			for _, name := range names {
				consumed = append(consumed, filepath.Join(dir, name))
			}
			removeConsumed(ctx, consumed)
		}
		log.Ctx(ctx).Info().Str("changes", changes.Path).Str("repo", repoName).Int("packages", len(pkgs)).Msg("changes included")
		return nil
	})
	return result, err
}

func verifyLocalFile(path string, expected types.Checksums) error {
	actual, err := core.ChecksumsOfFile(path)
	if err != nil {
		return err
	}
	if field, ok := core.VerifyChecksums(expected, actual); !ok {
		return errbuilder.New().
			WithCode(shared.CodeChecksumMismatch).
			WithMsg(filepath.Base(path) + ": " + field + " checksum mismatch")
	}
	return nil
}

// changesPackage lets uploaders conditions match the upload as a whole,
// with the source name as package name.
func changesPackage(stanza types.Stanza) types.Package {
	return types.Package{
		Name:         stanza.Get("Source"),
		Version:      stanza.Get("Version"),
		Architecture: types.ArchitectureSource,
		IsSource:     true,
		Stanza:       stanza,
	}
}
