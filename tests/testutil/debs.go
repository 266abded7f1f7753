package testutil

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// Deb describes a synthetic binary package.
type Deb struct {
	Name         string
	Version      string
	Architecture string
	Depends      string
	Source       string
	Provides     string
	// Files maps installed paths (without leading "./") to content.
	Files map[string]string
}

// Control renders the control paragraph of d.
func (d Deb) Control() string {
	var b strings.Builder
	b.WriteString("Package: " + d.Name + "\n")
	b.WriteString("Version: " + d.Version + "\n")
	b.WriteString("Architecture: " + d.Architecture + "\n")
	b.WriteString("Maintainer: Test <test@example.com>\n")
	if d.Source != "" {
		b.WriteString("Source: " + d.Source + "\n")
	}
	if d.Depends != "" {
		b.WriteString("Depends: " + d.Depends + "\n")
	}
	if d.Provides != "" {
		b.WriteString("Provides: " + d.Provides + "\n")
	}
	b.WriteString("Description: test package " + d.Name + "\n")
	return b.String()
}

// Filename is the conventional file name of the package.
func (d Deb) Filename() string {
	version := d.Version
	if idx := strings.Index(version, ":"); idx >= 0 {
		version = version[idx+1:]
	}
	return d.Name + "_" + version + "_" + d.Architecture + ".deb"
}

// Bytes builds the .deb archive in memory.
func (d Deb) Bytes(tb testing.TB) []byte {
	tb.Helper()
	control := tarGz(tb, map[string]string{"control": d.Control()})
	files := d.Files
	if files == nil {
		files = map[string]string{"usr/share/doc/" + d.Name + "/copyright": "test"}
	}
	data := tarGz(tb, files)

	var out bytes.Buffer
	w := ar.NewWriter(&out)
	require.NoError(tb, w.WriteGlobalHeader())
	members := []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", control},
		{"data.tar.gz", data},
	}
	for _, member := range members {
		require.NoError(tb, w.WriteHeader(&ar.Header{
			Name:    member.name,
			ModTime: time.Unix(0, 0),
			Mode:    0o644,
			Size:    int64(len(member.body)),
		}))
		_, err := w.Write(member.body)
		require.NoError(tb, err)
	}
	return out.Bytes()
}

// Write stores the package in dir and returns its path.
func (d Deb) Write(tb testing.TB, dir string) string {
	tb.Helper()
	path := filepath.Join(dir, d.Filename())
	require.NoError(tb, os.WriteFile(path, d.Bytes(tb), 0o644))
	return path
}

func tarGz(tb testing.TB, files map[string]string) []byte {
	tb.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	dirs := map[string]bool{}
	for _, name := range names {
		for dir := filepath.Dir(name); dir != "." && !dirs[dir]; dir = filepath.Dir(dir) {
			dirs[dir] = true
		}
	}
	sortedDirs := make([]string, 0, len(dirs))
	for dir := range dirs {
		sortedDirs = append(sortedDirs, dir)
	}
	sort.Strings(sortedDirs)
	for _, dir := range sortedDirs {
		require.NoError(tb, tw.WriteHeader(&tar.Header{
			Name:     "./" + dir + "/",
			Typeflag: tar.TypeDir,
			Mode:     0o755,
		}))
	}
	for _, name := range names {
		body := []byte(files[name])
		require.NoError(tb, tw.WriteHeader(&tar.Header{
			Name:     "./" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write(body)
		require.NoError(tb, err)
	}
	require.NoError(tb, tw.Close())
	require.NoError(tb, gz.Close())
	return buf.Bytes()
}

// Dsc describes a synthetic source package made of a .dsc and one tarball.
type Dsc struct {
	Name    string
	Version string
	Tarball string
}

// Write stores the .dsc and its tarball in dir and returns the .dsc path.
func (d Dsc) Write(tb testing.TB, dir string) string {
	tb.Helper()
	tarball := d.Tarball
	if tarball == "" {
		tarball = "source of " + d.Name
	}
	tarName := d.Name + "_" + d.Version + ".tar.gz"
	require.NoError(tb, os.WriteFile(filepath.Join(dir, tarName), []byte(tarball), 0o644))
	sums := Sums([]byte(tarball))

	var b strings.Builder
	b.WriteString("Format: 3.0 (native)\n")
	b.WriteString("Source: " + d.Name + "\n")
	b.WriteString("Binary: " + d.Name + "\n")
	b.WriteString("Architecture: any\n")
	b.WriteString("Version: " + d.Version + "\n")
	b.WriteString("Maintainer: Test <test@example.com>\n")
	b.WriteString("Build-Depends: debhelper-compat (= 13)\n")
	b.WriteString("Files:\n " + sums.MD5 + " " + strconv.FormatInt(sums.Size, 10) + " " + tarName + "\n")
	b.WriteString("Checksums-Sha256:\n " + sums.SHA256 + " " + strconv.FormatInt(sums.Size, 10) + " " + tarName + "\n")
	path := filepath.Join(dir, d.Name+"_"+d.Version+".dsc")
	require.NoError(tb, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}
