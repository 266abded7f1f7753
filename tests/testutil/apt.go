package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// Upstream describes a remote APT repository to serve over HTTP.
type Upstream struct {
	Distribution  string
	Architectures []string
	// Components maps a component name to its binary packages. A flat
	// repository uses a single entry whose key is ignored.
	Components map[string][]Deb
	Flat       bool
	// Keys signs InRelease and Release.gpg when set.
	Keys *Keys
}

// UpstreamServer serves a generated repository and counts requests.
type UpstreamServer struct {
	*httptest.Server
	Root string

	mu   sync.Mutex
	hits map[string]int
}

// Hits returns how often path was requested.
func (s *UpstreamServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// PoolPath returns the upstream location of a package file.
func PoolPath(component string, deb Deb) string {
	return path.Join("pool", component, deb.Name[:1], deb.Name, deb.Filename())
}

// ServeUpstream writes the repository into a temporary directory and
// serves it until the test ends.
func ServeUpstream(tb testing.TB, repo Upstream) *UpstreamServer {
	tb.Helper()
	root := tb.TempDir()
	WriteUpstream(tb, root, repo)
	server := &UpstreamServer{Root: root, hits: map[string]int{}}
	files := http.FileServer(http.Dir(root))
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.mu.Lock()
		server.hits[r.URL.Path]++
		server.mu.Unlock()
		files.ServeHTTP(w, r)
	}))
	tb.Cleanup(server.Close)
	return server
}

// WriteUpstream materializes repo under root.
func WriteUpstream(tb testing.TB, root string, repo Upstream) {
	tb.Helper()
	if repo.Flat {
		writeFlat(tb, root, repo)
		return
	}
	distDir := filepath.Join(root, "dists", repo.Distribution)
	components := make([]string, 0, len(repo.Components))
	for component := range repo.Components {
		components = append(components, component)
	}
	sort.Strings(components)

	indexes := map[string][]byte{}
	for _, component := range components {
		debs := repo.Components[component]
		for _, deb := range debs {
			dest := filepath.Join(root, filepath.FromSlash(PoolPath(component, deb)))
			require.NoError(tb, os.MkdirAll(filepath.Dir(dest), 0o755))
			require.NoError(tb, os.WriteFile(dest, deb.Bytes(tb), 0o644))
		}
		for _, arch := range repo.Architectures {
			body := packagesIndex(tb, component, debs, arch, false)
			indexes[path.Join(component, "binary-"+arch, "Packages")] = body
			indexes[path.Join(component, "binary-"+arch, "Packages.gz")] = gzipBytes(tb, body)
		}
	}
	for name, body := range indexes {
		dest := filepath.Join(distDir, filepath.FromSlash(name))
		require.NoError(tb, os.MkdirAll(filepath.Dir(dest), 0o755))
		require.NoError(tb, os.WriteFile(dest, body, 0o644))
	}
	header := fmt.Sprintf("Origin: test\nLabel: test\nSuite: %s\nCodename: %s\nArchitectures: %s\nComponents: %s\n",
		repo.Distribution, repo.Distribution, strings.Join(repo.Architectures, " "), strings.Join(components, " "))
	writeRelease(tb, distDir, header, indexes, repo.Keys)
}

func writeFlat(tb testing.TB, root string, repo Upstream) {
	dir := filepath.Join(root, filepath.FromSlash(strings.Trim(repo.Distribution, "/")))
	require.NoError(tb, os.MkdirAll(dir, 0o755))
	var debs []Deb
	for _, list := range repo.Components {
		debs = append(debs, list...)
	}
	for _, deb := range debs {
		require.NoError(tb, os.WriteFile(filepath.Join(dir, deb.Filename()), deb.Bytes(tb), 0o644))
	}
	body := packagesIndex(tb, strings.Trim(repo.Distribution, "/"), debs, "", true)
	indexes := map[string][]byte{
		"Packages":    body,
		"Packages.gz": gzipBytes(tb, body),
	}
	for name, data := range indexes {
		require.NoError(tb, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	writeRelease(tb, dir, "Origin: test\nLabel: flat\n", indexes, repo.Keys)
}

// packagesIndex renders a Packages file. arch "" keeps every package. For
// flat repositories component is the directory holding the files.
func packagesIndex(tb testing.TB, component string, debs []Deb, arch string, flat bool) []byte {
	sorted := append([]Deb(nil), debs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Version < sorted[j].Version
	})
	var b strings.Builder
	for _, deb := range sorted {
		if arch != "" && deb.Architecture != arch && deb.Architecture != "all" {
			continue
		}
		sums := Sums(deb.Bytes(tb))
		filename := PoolPath(component, deb)
		if flat {
			filename = path.Join(component, deb.Filename())
		}
		b.WriteString(deb.Control())
		b.WriteString("Filename: " + filename + "\n")
		b.WriteString("Size: " + strconv.FormatInt(sums.Size, 10) + "\n")
		b.WriteString("MD5sum: " + sums.MD5 + "\n")
		b.WriteString("SHA1: " + sums.SHA1 + "\n")
		b.WriteString("SHA256: " + sums.SHA256 + "\n")
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func writeRelease(tb testing.TB, dir string, header string, indexes map[string][]byte, keys *Keys) {
	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(header)
	sections := []struct {
		field  string
		digest func([]byte) string
	}{
		{"MD5Sum", func(data []byte) string { return Sums(data).MD5 }},
		{"SHA256", func(data []byte) string { return Sums(data).SHA256 }},
	}
	for _, section := range sections {
		b.WriteString(section.field + ":\n")
		for _, name := range names {
			fmt.Fprintf(&b, " %s %d %s\n", section.digest(indexes[name]), len(indexes[name]), name)
		}
	}
	release := []byte(b.String())
	require.NoError(tb, os.WriteFile(filepath.Join(dir, "Release"), release, 0o644))
	if keys == nil {
		return
	}

	var inRelease bytes.Buffer
	w, err := clearsign.Encode(&inRelease, keys.Entity.PrivateKey, nil)
	require.NoError(tb, err)
	_, err = w.Write(release)
	require.NoError(tb, err)
	require.NoError(tb, w.Close())
	require.NoError(tb, os.WriteFile(filepath.Join(dir, "InRelease"), inRelease.Bytes(), 0o644))

	var detached bytes.Buffer
	require.NoError(tb, openpgp.ArmoredDetachSign(&detached, keys.Entity, bytes.NewReader(release), nil))
	require.NoError(tb, os.WriteFile(filepath.Join(dir, "Release.gpg"), detached.Bytes(), 0o644))
}

func gzipBytes(tb testing.TB, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(tb, err)
	require.NoError(tb, w.Close())
	return buf.Bytes()
}
