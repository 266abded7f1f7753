package adapters_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/adapters"
	"aptkeeper/internal/shared"
	"aptkeeper/tests/testutil"
)

func TestReadDebControl(t *testing.T) {
	deb := testutil.Deb{Name: "hello", Version: "1:2.10-3", Architecture: "amd64", Depends: "libc6 (>= 2.34)", Source: "hello-src"}
	path := deb.Write(t, t.TempDir())

	stanza, err := adapters.NewDebFileAdapter().ReadDebControl(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello", stanza.Get("Package"))
	assert.Equal(t, "1:2.10-3", stanza.Get("Version"))
	assert.Equal(t, "libc6 (>= 2.34)", stanza.Get("Depends"))
	assert.Equal(t, "hello-src", stanza.Get("Source"))
}

func TestReadDebControlRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.deb")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))

	_, err := adapters.NewDebFileAdapter().ReadDebControl(t.Context(), path)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestReadDebContents(t *testing.T) {
	deb := testutil.Deb{Name: "hello", Version: "1.0", Architecture: "amd64", Files: map[string]string{
		"usr/bin/hello":                 "#!/bin/sh",
		"usr/share/man/man1/hello.1.gz": "man",
		"usr/share/doc/hello/copyright": "c",
	}}

	files, err := adapters.NewDebFileAdapter().ReadDebContents(t.Context(), bytes.NewReader(deb.Bytes(t)))
	require.NoError(t, err)
	assert.Equal(t, []string{"usr/bin/hello", "usr/share/doc/hello/copyright", "usr/share/man/man1/hello.1.gz"}, files)
}

func TestReadDscControl(t *testing.T) {
	dir := t.TempDir()
	path := testutil.Dsc{Name: "hello", Version: "1.0-1"}.Write(t, dir)

	stanza, err := adapters.NewDebFileAdapter().ReadDscControl(t.Context(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", stanza.Get("Source"))
	assert.Contains(t, stanza.Get("Files"), "hello_1.0-1.tar.gz")
}

func TestReadChangesSigned(t *testing.T) {
	keys := testutil.GenerateKeys(t, t.TempDir())
	factory := adapters.NewSignerFactoryAdapter(keys.PublicKeyring, keys.SecretKeyring)
	signer, err := factory.Signer("", "", "")
	require.NoError(t, err)
	verifier, err := factory.Verifier(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	var signed bytes.Buffer
	require.NoError(t, signer.ClearSign(t.Context(), strings.NewReader("Source: hello\nDistribution: unstable\n"), &signed))
	signedPath := filepath.Join(dir, "signed.changes")
	require.NoError(t, os.WriteFile(signedPath, signed.Bytes(), 0o644))
	plainPath := filepath.Join(dir, "plain.changes")
	require.NoError(t, os.WriteFile(plainPath, []byte("Source: hello\nDistribution: unstable\n"), 0o644))

	reader := adapters.NewDebFileAdapter()
	tests := []struct {
		name     string
		path     string
		verify   bool
		wantCode errbuilder.ErrCode
		wantErr  bool
	}{
		{name: "signed verified", path: signedPath, verify: true},
		{name: "signed without verification", path: signedPath},
		{name: "plain without verification", path: plainPath},
		{name: "plain with verification", path: plainPath, verify: true, wantErr: true, wantCode: shared.CodeSignatureInvalid},
		{name: "missing file", path: filepath.Join(dir, "none.changes"), wantErr: true, wantCode: errbuilder.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := verifier
			if !tt.verify {
				v = nil
			}
			stanza, err := reader.ReadChanges(t.Context(), tt.path, v)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errbuilder.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "unstable", stanza.Get("Distribution"))
		})
	}
}
