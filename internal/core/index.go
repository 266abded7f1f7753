package core

import (
	"bufio"
	"io"
	"path"
	"sort"
	"strings"

	"aptkeeper/internal/types"
)

// IndexKind names the index families written per component.
type IndexKind string

const (
	IndexBinary    IndexKind = "binary"
	IndexInstaller IndexKind = "debian-installer"
	IndexSource    IndexKind = "source"
)

// IndexDir returns the directory of an index inside dists/<dist>/.
func IndexDir(component string, kind IndexKind, arch string) string {
	switch kind {
	case IndexSource:
		return path.Join(component, "source")
	case IndexInstaller:
		return path.Join(component, "debian-installer", "binary-"+arch)
	default:
		return path.Join(component, "binary-"+arch)
	}
}

// IndexBaseName returns "Packages" or "Sources".
func IndexBaseName(kind IndexKind) string {
	if kind == IndexSource {
		return "Sources"
	}
	return "Packages"
}

// ContentsName returns the Contents file name of a component index.
func ContentsName(kind IndexKind, arch string) string {
	if kind == IndexInstaller {
		return "Contents-udeb-" + arch + ".gz"
	}
	return "Contents-" + arch + ".gz"
}

// PackagesForIndex selects the packages of one (kind, arch) index.
// Packages of architecture "all" are included in every binary index.
func PackagesForIndex(pkgs []types.Package, kind IndexKind, arch string) []types.Package {
	var out []types.Package
	for _, pkg := range pkgs {
		if pkg.IsInstaller {
			continue
		}
		switch kind {
		case IndexSource:
			if pkg.IsSource {
				out = append(out, pkg)
			}
		case IndexInstaller:
			if pkg.IsUdeb && (pkg.Architecture == arch || pkg.Architecture == types.ArchitectureAll) {
				out = append(out, pkg)
			}
		default:
			if !pkg.IsSource && !pkg.IsUdeb && (pkg.Architecture == arch || pkg.Architecture == types.ArchitectureAll) {
				out = append(out, pkg)
			}
		}
	}
	sortPackagesByNameVersion(out, newVersionCache())
	return out
}

// WriteIndex emits the stanzas of pkgs in index order. poolDir maps a
// package to its directory relative to the publication root.
func WriteIndex(w io.Writer, pkgs []types.Package, poolDir func(types.Package) string) error {
	buffered := bufio.NewWriter(w)
	for _, pkg := range pkgs {
		if err := WriteStanza(buffered, PublishStanza(pkg, poolDir(pkg))); err != nil {
			return err
		}
	}
	return buffered.Flush()
}

// ContentsIndex accumulates file to package mappings for one Contents file.
type ContentsIndex struct {
	entries map[string][]string
}

// NewContentsIndex creates an empty index.
func NewContentsIndex() *ContentsIndex {
	return &ContentsIndex{entries: map[string][]string{}}
}

// Add records that pkg ships files. Section defaults to the package's
// Section field.
func (c *ContentsIndex) Add(pkg types.Package, files []string) {
	qualified := pkg.Name
	if section := pkg.Stanza.Get("Section"); section != "" {
		qualified = section + "/" + pkg.Name
	}
	for _, file := range files {
		file = strings.TrimPrefix(strings.TrimPrefix(file, "./"), "/")
		if file == "" || strings.HasSuffix(file, "/") {
			continue
		}
		c.entries[file] = append(c.entries[file], qualified)
	}
}

// Empty reports whether nothing was recorded.
func (c *ContentsIndex) Empty() bool {
	return len(c.entries) == 0
}

// WriteTo renders "path<tab>pkg,pkg" lines sorted by path.
func (c *ContentsIndex) WriteTo(w io.Writer) (int64, error) {
	paths := make([]string, 0, len(c.entries))
	for file := range c.entries {
		paths = append(paths, file)
	}
	sort.Strings(paths)
	var written int64
	buffered := bufio.NewWriter(w)
	for _, file := range paths {
		owners := UniqueStrings(c.entries[file])
		n, err := io.WriteString(buffered, file+"\t"+strings.Join(owners, ",")+"\n")
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, buffered.Flush()
}

// UniqueStrings sorts and deduplicates values.
func UniqueStrings(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return dedupSorted(out)
}

// ByHashDirs lists the by-hash subdirectories paired with the digest each
// holds.
func ByHashDirs(sums types.Checksums) map[string]string {
	out := map[string]string{}
	if sums.MD5 != "" {
		out["MD5Sum"] = sums.MD5
	}
	if sums.SHA1 != "" {
		out["SHA1"] = sums.SHA1
	}
	if sums.SHA256 != "" {
		out["SHA256"] = sums.SHA256
	}
	if sums.SHA512 != "" {
		out["SHA512"] = sums.SHA512
	}
	return out
}
