package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/types"
)

// ReleaseFile is a parsed Release or InRelease body.
type ReleaseFile struct {
	Stanza types.Stanza
	// Files maps a path relative to the distribution directory to its
	// size and digests, merged across the checksum sections.
	Files map[string]types.Checksums
}

var releaseChecksumSections = []struct {
	field string
	set   func(*types.Checksums, string)
	get   func(types.Checksums) string
}{
	{"MD5Sum", func(c *types.Checksums, v string) { c.MD5 = v }, func(c types.Checksums) string { return c.MD5 }},
	{"SHA1", func(c *types.Checksums, v string) { c.SHA1 = v }, func(c types.Checksums) string { return c.SHA1 }},
	{"SHA256", func(c *types.Checksums, v string) { c.SHA256 = v }, func(c types.Checksums) string { return c.SHA256 }},
	{"SHA512", func(c *types.Checksums, v string) { c.SHA512 = v }, func(c types.Checksums) string { return c.SHA512 }},
}

// ParseRelease parses a Release body (already stripped of any signature).
func ParseRelease(body []byte) (ReleaseFile, error) {
	stanzas, err := ParseControl(strings.NewReader(string(body)))
	if err != nil {
		return ReleaseFile{}, err
	}
	if len(stanzas) == 0 {
		return ReleaseFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("release file is empty")
	}
	out := ReleaseFile{Stanza: stanzas[0], Files: map[string]types.Checksums{}}
	for _, section := range releaseChecksumSections {
		for _, line := range multilineValues(out.Stanza.Get(section.field)) {
			parts := strings.Fields(line)
			if len(parts) != 3 {
				return ReleaseFile{}, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("malformed release checksum line: " + line)
			}
			size, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return ReleaseFile{}, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("malformed release checksum size: " + line)
			}
			sums := out.Files[parts[2]]
			sums.Size = size
			section.set(&sums, parts[0])
			out.Files[parts[2]] = sums
		}
	}
	return out, nil
}

// Components returns the Components field, with any "updates/" style
// prefix kept intact.
func (r ReleaseFile) Components() []string {
	return strings.Fields(r.Stanza.Get("Components"))
}

// Architectures returns the Architectures field.
func (r ReleaseFile) Architectures() []string {
	return strings.Fields(r.Stanza.Get("Architectures"))
}

// ReleaseMeta holds the header fields of a generated Release file.
type ReleaseMeta struct {
	Origin               string
	Label                string
	Suite                string
	Codename             string
	Version              string
	NotAutomatic         string
	ButAutomaticUpgrades string
	AcquireByHash        bool
	Architectures        []string
	Components           []string
	Description          string
	Date                 time.Time
}

// ReleaseEntry is one indexed file of a generated Release file.
type ReleaseEntry struct {
	Path      string
	Checksums types.Checksums
}

// RenderRelease produces the top-level Release body. Entries are emitted
// sorted by path within each checksum section.
func RenderRelease(meta ReleaseMeta, entries []ReleaseEntry) string {
	stanza := types.Stanza{}
	add := func(name string, value string) {
		if value != "" {
			stanza = append(stanza, types.Field{Name: name, Value: value})
		}
	}
	add("Origin", meta.Origin)
	add("Label", meta.Label)
	add("Suite", meta.Suite)
	add("Version", meta.Version)
	add("Codename", meta.Codename)
	add("Date", meta.Date.UTC().Format(time.RFC1123Z))
	add("Architectures", strings.Join(meta.Architectures, " "))
	add("Components", strings.Join(meta.Components, " "))
	add("Description", meta.Description)
	add("NotAutomatic", meta.NotAutomatic)
	add("ButAutomaticUpgrades", meta.ButAutomaticUpgrades)
	if meta.AcquireByHash {
		add("Acquire-By-Hash", "yes")
	}

	sorted := append([]ReleaseEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for _, section := range releaseChecksumSections {
		var lines []string
		for _, entry := range sorted {
			digest := section.get(entry.Checksums)
			if digest == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf(" %s %8d %s", digest, entry.Checksums.Size, entry.Path))
		}
		if len(lines) > 0 {
			stanza = append(stanza, types.Field{Name: section.field, Value: "\n" + strings.Join(lines, "\n")})
		}
	}
	return FormatStanza(stanza)
}

// RenderComponentRelease produces the per-architecture Release file that
// sits next to Packages or Sources.
func RenderComponentRelease(meta ReleaseMeta, component string, arch string) string {
	stanza := types.Stanza{}
	add := func(name string, value string) {
		if value != "" {
			stanza = append(stanza, types.Field{Name: name, Value: value})
		}
	}
	add("Origin", meta.Origin)
	add("Label", meta.Label)
	add("Archive", meta.Suite)
	add("Codename", meta.Codename)
	add("Component", component)
	add("Architecture", arch)
	add("Description", meta.Description)
	add("NotAutomatic", meta.NotAutomatic)
	add("ButAutomaticUpgrades", meta.ButAutomaticUpgrades)
	if meta.AcquireByHash {
		add("Acquire-By-Hash", "yes")
	}
	return FormatStanza(stanza)
}
