package core

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/types"
)

// Checksum list fields of source stanzas, paired with the digest they
// carry.
var sourceChecksumFields = []struct {
	field string
	set   func(*types.Checksums, string)
	get   func(types.Checksums) string
}{
	{"Files", func(c *types.Checksums, v string) { c.MD5 = v }, func(c types.Checksums) string { return c.MD5 }},
	{"Checksums-Sha1", func(c *types.Checksums, v string) { c.SHA1 = v }, func(c types.Checksums) string { return c.SHA1 }},
	{"Checksums-Sha256", func(c *types.Checksums, v string) { c.SHA256 = v }, func(c types.Checksums) string { return c.SHA256 }},
	{"Checksums-Sha512", func(c *types.Checksums, v string) { c.SHA512 = v }, func(c types.Checksums) string { return c.SHA512 }},
}

// PackageFromBinaryStanza builds a catalog record from a Packages index
// stanza or a .deb control file with checksum fields added.
func PackageFromBinaryStanza(stanza types.Stanza, udeb bool) (types.Package, error) {
	pkg := types.Package{
		Name:         stanza.Get("Package"),
		Version:      stanza.Get("Version"),
		Architecture: stanza.Get("Architecture"),
		SourceName:   stanza.Get("Source"),
		IsUdeb:       udeb,
		Stanza:       stanza.Clone(),
	}
	if pkg.Name == "" || pkg.Version == "" || pkg.Architecture == "" {
		return types.Package{}, malformedStanza("Package, Version and Architecture are required")
	}
	fillRelations(&pkg, stanza)

	filename := stanza.Get("Filename")
	checksums, err := binaryChecksums(stanza)
	if err != nil {
		return types.Package{}, err
	}
	base := path.Base(filename)
	if filename == "" {
		base = fmt.Sprintf("%s_%s_%s.%s", pkg.Name, stripEpoch(pkg.Version), pkg.Architecture, pkg.PackageType())
	}
	pkg.Files = []types.PackageFile{{
		Filename:     base,
		Checksums:    checksums,
		DownloadPath: filename,
	}}
	return pkg, nil
}

func binaryChecksums(stanza types.Stanza) (types.Checksums, error) {
	out := types.Checksums{
		MD5:    firstNonEmpty(stanza.Get("MD5sum"), stanza.Get("MD5Sum")),
		SHA1:   stanza.Get("SHA1"),
		SHA256: stanza.Get("SHA256"),
		SHA512: stanza.Get("SHA512"),
	}
	if size := stanza.Get("Size"); size != "" {
		parsed, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return types.Checksums{}, malformedStanza("invalid Size " + size)
		}
		out.Size = parsed
	}
	return out, nil
}

// PackageFromSourceStanza builds a source record from a Sources index
// stanza or a .dsc control file. A .dsc carries the name in "Source"; the
// index carries it in "Package".
func PackageFromSourceStanza(stanza types.Stanza) (types.Package, error) {
	name := stanza.Get("Package")
	if name == "" {
		name = stanza.Get("Source")
	}
	pkg := types.Package{
		Name:         name,
		Version:      stanza.Get("Version"),
		Architecture: types.ArchitectureSource,
		IsSource:     true,
		Stanza:       stanza.Clone(),
	}
	if pkg.Name == "" || pkg.Version == "" {
		return types.Package{}, malformedStanza("Package and Version are required")
	}
	pkg.BuildDepends = SplitRelationList(stanza.Get("Build-Depends"))
	pkg.BuildDependsInDep = SplitRelationList(stanza.Get("Build-Depends-Indep"))

	files, err := sourceFiles(stanza)
	if err != nil {
		return types.Package{}, err
	}
	directory := stanza.Get("Directory")
	for i := range files {
		if directory != "" {
			files[i].DownloadPath = directory + "/" + files[i].Filename
		}
	}
	pkg.Files = files
	return pkg, nil
}

// sourceFiles merges the per-digest file lists of a source stanza.
func sourceFiles(stanza types.Stanza) ([]types.PackageFile, error) {
	byName := map[string]*types.PackageFile{}
	var order []string
	for _, spec := range sourceChecksumFields {
		for _, line := range multilineValues(stanza.Get(spec.field)) {
			parts := strings.Fields(line)
			if len(parts) != 3 {
				return nil, malformedStanza("invalid " + spec.field + " line: " + line)
			}
			size, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, malformedStanza("invalid size in " + spec.field + " line: " + line)
			}
			file, ok := byName[parts[2]]
			if !ok {
				file = &types.PackageFile{Filename: parts[2]}
				byName[parts[2]] = file
				order = append(order, parts[2])
			}
			file.Checksums.Size = size
			spec.set(&file.Checksums, parts[0])
		}
	}
	out := make([]types.PackageFile, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func fillRelations(pkg *types.Package, stanza types.Stanza) {
	pkg.Provides = SplitRelationList(stanza.Get("Provides"))
	pkg.Depends = SplitRelationList(stanza.Get("Depends"))
	pkg.PreDepends = SplitRelationList(stanza.Get("Pre-Depends"))
	pkg.Recommends = SplitRelationList(stanza.Get("Recommends"))
	pkg.Suggests = SplitRelationList(stanza.Get("Suggests"))
	pkg.Breaks = SplitRelationList(stanza.Get("Breaks"))
	pkg.Conflicts = SplitRelationList(stanza.Get("Conflicts"))
	pkg.Replaces = SplitRelationList(stanza.Get("Replaces"))
}

// SetBinaryChecksums records computed digests of a .deb in its control
// stanza so that a published index carries them.
func SetBinaryChecksums(stanza *types.Stanza, checksums types.Checksums) {
	stanza.Set("Size", strconv.FormatInt(checksums.Size, 10))
	stanza.Set("MD5sum", checksums.MD5)
	stanza.Set("SHA1", checksums.SHA1)
	stanza.Set("SHA256", checksums.SHA256)
	if checksums.SHA512 != "" {
		stanza.Set("SHA512", checksums.SHA512)
	}
}

// AddSourceFile appends a file (usually the .dsc itself) to every checksum
// list of a source stanza.
func AddSourceFile(stanza *types.Stanza, filename string, checksums types.Checksums) {
	for _, spec := range sourceChecksumFields {
		digest := spec.get(checksums)
		if digest == "" {
			continue
		}
		line := fmt.Sprintf(" %s %d %s", digest, checksums.Size, filename)
		current := stanza.Get(spec.field)
		stanza.Set(spec.field, current+"\n"+line)
	}
}

// PublishStanza renders the index stanza of pkg with files placed under
// poolDir (relative to the publication root).
func PublishStanza(pkg types.Package, poolDir string) types.Stanza {
	stanza := pkg.Stanza.Clone()
	if pkg.IsSource {
		if !stanza.Has("Package") {
			stanza = renameField(stanza, "Source", "Package")
		}
		stanza.Set("Directory", poolDir)
		files := append([]types.PackageFile(nil), pkg.Files...)
		sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
		for _, spec := range sourceChecksumFields {
			var lines []string
			for _, file := range files {
				digest := spec.get(file.Checksums)
				if digest == "" {
					continue
				}
				lines = append(lines, fmt.Sprintf(" %s %d %s", digest, file.Checksums.Size, file.Filename))
			}
			if len(lines) == 0 {
				stanza.Delete(spec.field)
				continue
			}
			stanza.Set(spec.field, "\n"+strings.Join(lines, "\n"))
		}
		return stanza
	}
	if len(pkg.Files) > 0 {
		file := pkg.Files[0]
		stanza.Set("Filename", poolDir+"/"+file.Filename)
		SetBinaryChecksums(&stanza, file.Checksums)
	}
	return stanza
}

// renameField replaces a field name keeping its position.
func renameField(stanza types.Stanza, from string, to string) types.Stanza {
	for i := range stanza {
		if strings.EqualFold(stanza[i].Name, from) {
			stanza[i].Name = to
			return stanza
		}
	}
	return stanza
}

func stripEpoch(version string) string {
	if idx := strings.Index(version, ":"); idx >= 0 {
		return version[idx+1:]
	}
	return version
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func malformedStanza(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("malformed package stanza: " + msg)
}
