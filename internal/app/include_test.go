package app_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
	"aptkeeper/tests/testutil"
)

// writeChanges drops deb into dir together with a .changes file describing
// it. With keys the .changes is clearsigned.
func writeChanges(t *testing.T, dir string, distribution string, deb testutil.Deb, keys *testutil.Keys) string {
	t.Helper()
	data := deb.Bytes(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, deb.Filename()), data, 0o644))
	sums := testutil.Sums(data)

	var b strings.Builder
	b.WriteString("Format: 1.8\n")
	b.WriteString("Source: " + deb.Name + "\n")
	b.WriteString("Binary: " + deb.Name + "\n")
	b.WriteString("Architecture: " + deb.Architecture + "\n")
	b.WriteString("Version: " + deb.Version + "\n")
	b.WriteString("Distribution: " + distribution + "\n")
	b.WriteString("Maintainer: Test <test@example.com>\n")
	b.WriteString("Changes:\n .\n  new upload\n")
	fmt.Fprintf(&b, "Files:\n %s %d misc optional %s\n", sums.MD5, sums.Size, deb.Filename())
	fmt.Fprintf(&b, "Checksums-Sha256:\n %s %d %s\n", sums.SHA256, sums.Size, deb.Filename())
	content := []byte(b.String())

	if keys != nil {
		var signed bytes.Buffer
		w, err := clearsign.Encode(&signed, keys.Entity.PrivateKey, nil)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		content = signed.Bytes()
	}
	path := filepath.Join(dir, deb.Name+"_"+deb.Version+"_"+deb.Architecture+".changes")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestIncludeChanges(t *testing.T) {
	svc := testutil.NewService(t)
	createRepo(t, svc, "unstable")
	dir := t.TempDir()
	changes := writeChanges(t, dir, "unstable", hello, nil)

	result, err := svc.IncludeChanges(t.Context(), app.IncludeRequest{Paths: []string{dir}})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, result.Added)
	assert.Equal(t, []string{"unstable"}, result.Repos)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, repoPackages(t, svc, "unstable"))

	assert.NoFileExists(t, changes)
	assert.NoFileExists(t, filepath.Join(dir, hello.Filename()))
}

func TestIncludeChangesKeepsFiles(t *testing.T) {
	svc := testutil.NewService(t)
	createRepo(t, svc, "unstable")
	dir := t.TempDir()
	changes := writeChanges(t, dir, "unstable", hello, nil)

	result, err := svc.IncludeChanges(t.Context(), app.IncludeRequest{Paths: []string{changes}, NoRemoveFiles: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, result.Added)
	assert.FileExists(t, changes)
	assert.FileExists(t, filepath.Join(dir, hello.Filename()))
}

func TestIncludeChangesFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, dir string) string
		warning string
	}{
		{
			name: "unknown repo",
			prepare: func(t *testing.T, dir string) string {
				return writeChanges(t, dir, "experimental", hello, nil)
			},
			warning: "not found",
		},
		{
			name: "checksum mismatch",
			prepare: func(t *testing.T, dir string) string {
				path := writeChanges(t, dir, "unstable", hello, nil)
				require.NoError(t, os.WriteFile(filepath.Join(dir, hello.Filename()), hello2.Bytes(t), 0o644))
				return path
			},
			warning: "checksum mismatch",
		},
		{
			name: "no files listed",
			prepare: func(t *testing.T, dir string) string {
				path := filepath.Join(dir, "empty.changes")
				require.NoError(t, os.WriteFile(path, []byte("Source: hello\nDistribution: unstable\n"), 0o644))
				return path
			},
			warning: "lists no files",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewService(t)
			createRepo(t, svc, "unstable")
			dir := t.TempDir()
			changes := tt.prepare(t, dir)

			result, err := svc.IncludeChanges(t.Context(), app.IncludeRequest{Paths: []string{dir}})
			require.NoError(t, err)
			assert.Empty(t, result.Added)
			assert.Equal(t, []string{changes}, result.Failed)
			require.Len(t, result.Warnings, 1)
			assert.True(t, strings.HasPrefix(result.Warnings[0], changes+": "))
			assert.Contains(t, result.Warnings[0], tt.warning)
			assert.Empty(t, repoPackages(t, svc, "unstable"))
			assert.FileExists(t, changes)
		})
	}
}

func TestIncludeChangesMissingPath(t *testing.T) {
	svc := testutil.NewService(t)
	missing := filepath.Join(t.TempDir(), "nothing-here")

	result, err := svc.IncludeChanges(t.Context(), app.IncludeRequest{Paths: []string{missing}})
	require.NoError(t, err)
	assert.Equal(t, []string{missing}, result.Failed)
}

func TestIncludeChangesRepoTemplate(t *testing.T) {
	svc := testutil.NewService(t)
	createRepo(t, svc, "hello-uploads")
	dir := t.TempDir()
	writeChanges(t, dir, "unstable", hello, nil)

	result, err := svc.IncludeChanges(t.Context(), app.IncludeRequest{
		Paths:        []string{dir},
		RepoTemplate: "{{.Source}}-uploads",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello-uploads"}, result.Repos)
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, repoPackages(t, svc, "hello-uploads"))

	_, err = svc.IncludeChanges(t.Context(), app.IncludeRequest{Paths: []string{dir}, RepoTemplate: "{{.Source"})
	require.Error(t, err)
}

func TestIncludeChangesSignatures(t *testing.T) {
	keysDir := t.TempDir()
	keys := testutil.GenerateKeys(t, keysDir)
	other := testutil.GenerateKeys(t, t.TempDir())

	writeUploaders := func(t *testing.T, allowed string) string {
		path := filepath.Join(t.TempDir(), "uploaders.yaml")
		content := "groups:\n  team:\n    - " + allowed + "\nrules:\n  - condition: \"hello\"\n    allow: [\"group:team\"]\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	tests := []struct {
		name      string
		signed    bool
		accept    bool
		uploaders string
		wantAdded bool
		warning   string
	}{
		{name: "unsigned refused", warning: "is not signed"},
		{name: "unsigned accepted", accept: true, wantAdded: true},
		{name: "signed", signed: true, wantAdded: true},
		{name: "uploader allowed", signed: true, uploaders: keys.KeyID, wantAdded: true},
		{name: "uploader not listed", signed: true, uploaders: other.KeyID, warning: "is not allowed to upload"},
		{name: "unsigned upload with uploaders", accept: true, uploaders: keys.KeyID, warning: "unsigned upload is not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewService(t, func(cfg *types.Config) {
				cfg.GpgDisableVerify = false
			})
			createRepo(t, svc, "unstable")
			dir := t.TempDir()
			var signWith *testutil.Keys
			if tt.signed {
				signWith = &keys
			}
			writeChanges(t, dir, "unstable", hello, signWith)

			req := app.IncludeRequest{
				Paths:          []string{dir},
				Keyrings:       []string{keys.PublicKeyring},
				AcceptUnsigned: tt.accept,
			}
			if tt.uploaders != "" {
				req.UploadersFile = writeUploaders(t, tt.uploaders)
			}
			result, err := svc.IncludeChanges(t.Context(), req)
			require.NoError(t, err)
			if tt.wantAdded {
				assert.Equal(t, []string{"hello_1.0-1_amd64"}, result.Added)
				assert.Empty(t, result.Failed)
				return
			}
			assert.Empty(t, result.Added)
			require.Len(t, result.Warnings, 1)
			assert.Contains(t, result.Warnings[0], tt.warning)
		})
	}
}

func TestIncludeChangesIgnoreSignatures(t *testing.T) {
	svc := testutil.NewService(t, func(cfg *types.Config) {
		cfg.GpgDisableVerify = false
	})
	createRepo(t, svc, "unstable")
	dir := t.TempDir()
	writeChanges(t, dir, "unstable", hello, nil)

	result, err := svc.IncludeChanges(t.Context(), app.IncludeRequest{Paths: []string{dir}, IgnoreSignatures: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, result.Added)
}
