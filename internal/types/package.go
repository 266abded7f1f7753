package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Checksums holds the size and digests of a single file.
type Checksums struct {
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
}

// Complete reports whether every digest is known.
func (c Checksums) Complete() bool {
	return c.MD5 != "" && c.SHA1 != "" && c.SHA256 != "" && c.SHA512 != ""
}

// PackageFile is one file belonging to a package record.
type PackageFile struct {
	Filename  string
	Checksums Checksums
	// PoolPath is the path inside the package pool, empty until imported.
	PoolPath string
	// DownloadPath is relative to the upstream archive root.
	DownloadPath string
}

// Field is a single control file field.
type Field struct {
	Name  string
	Value string
}

// Stanza is a Debian control paragraph with field order preserved.
type Stanza []Field

// Get returns the value of the named field, matched case-insensitively.
func (s Stanza) Get(name string) string {
	for _, field := range s {
		if strings.EqualFold(field.Name, name) {
			return field.Value
		}
	}
	return ""
}

// Has reports whether the field is present.
func (s Stanza) Has(name string) bool {
	for _, field := range s {
		if strings.EqualFold(field.Name, name) {
			return true
		}
	}
	return false
}

// Set replaces the field in place or appends it.
func (s *Stanza) Set(name string, value string) {
	for i, field := range *s {
		if strings.EqualFold(field.Name, name) {
			(*s)[i].Value = value
			return
		}
	}
	*s = append(*s, Field{Name: name, Value: value})
}

// Delete removes the field if present.
func (s *Stanza) Delete(name string) {
	out := (*s)[:0]
	for _, field := range *s {
		if strings.EqualFold(field.Name, name) {
			continue
		}
		out = append(out, field)
	}
	*s = out
}

// Clone returns an independent copy.
func (s Stanza) Clone() Stanza {
	if s == nil {
		return nil
	}
	out := make(Stanza, len(s))
	copy(out, s)
	return out
}

const (
	ArchitectureAll    = "all"
	ArchitectureAny    = "any"
	ArchitectureSource = "source"
)

// Package is the catalog record for one binary, source, udeb or
// installer package.
type Package struct {
	Name         string
	Version      string
	Architecture string
	SourceName   string

	IsSource    bool
	IsUdeb      bool
	IsInstaller bool

	Provides          []string
	Depends           []string
	PreDepends        []string
	Recommends        []string
	Suggests          []string
	Breaks            []string
	Conflicts         []string
	Replaces          []string
	BuildDepends      []string
	BuildDependsInDep []string

	Files  []PackageFile
	Stanza Stanza
}

// PackageType names the kind of record: deb, udeb, source or installer.
func (p Package) PackageType() string {
	switch {
	case p.IsSource:
		return "source"
	case p.IsUdeb:
		return "udeb"
	case p.IsInstaller:
		return "installer"
	default:
		return "deb"
	}
}

// ShortKey identifies the package independent of file content.
func (p Package) ShortKey() string {
	return "P" + p.Architecture + " " + p.Name + " " + p.Version
}

// Key is the package fingerprint: the short key plus a digest of the files.
func (p Package) Key() string {
	return p.ShortKey() + " " + FilesHash(p.Files)
}

// String renders the name_version_arch shorthand.
func (p Package) String() string {
	return p.Name + "_" + p.Version + "_" + p.Architecture
}

// Source returns the source package name, defaulting to the package name.
// A "Source" value may carry a version in parentheses which is dropped.
func (p Package) Source() string {
	source := strings.TrimSpace(p.SourceName)
	if source == "" {
		return p.Name
	}
	if idx := strings.Index(source, " "); idx > 0 {
		source = source[:idx]
	}
	return source
}

// SourceVersion returns the source version when the Source field carries
// one, otherwise the package version.
func (p Package) SourceVersion() string {
	source := strings.TrimSpace(p.SourceName)
	open := strings.Index(source, "(")
	closing := strings.LastIndex(source, ")")
	if open > 0 && closing > open {
		return strings.TrimSpace(source[open+1 : closing])
	}
	return p.Version
}

// FilesHash digests the sorted (filename, size, md5, sha1, sha256, sha512)
// tuples into 16 hex digits.
func FilesHash(files []PackageFile) string {
	sorted := append([]PackageFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Filename < sorted[j].Filename
	})
	digest := xxhash.New()
	for _, file := range sorted {
		_, _ = digest.WriteString(file.Filename)
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(strconv.FormatInt(file.Checksums.Size, 10))
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(file.Checksums.MD5)
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(file.Checksums.SHA1)
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(file.Checksums.SHA256)
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(file.Checksums.SHA512)
		_, _ = digest.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", digest.Sum64())
}

// PackageDiff is one row of a snapshot diff. Either side may be nil.
type PackageDiff struct {
	Left  *Package
	Right *Package
}
