package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/app"
	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
	"aptkeeper/tests/testutil"
)

func debianUpstream(keys *testutil.Keys) testutil.Upstream {
	return testutil.Upstream{
		Distribution:  "stable",
		Architectures: []string{"amd64", "arm64"},
		Components: map[string][]testutil.Deb{
			"main":    {hello, libc6, tzdata},
			"contrib": {{Name: "extras", Version: "0.1", Architecture: "arm64"}},
		},
		Keys: keys,
	}
}

func mirrorPackages(t *testing.T, svc *app.Service, name string) []string {
	t.Helper()
	details, err := svc.ShowMirror(t.Context(), name, true)
	require.NoError(t, err)
	return packageNames(details.Packages)
}

func TestCreateMirrorReadsRelease(t *testing.T) {
	server := testutil.ServeUpstream(t, debianUpstream(nil))
	svc := testutil.NewService(t)

	mirror, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{Name: "debian", ArchiveURL: server.URL, Distribution: "stable"})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/", mirror.ArchiveRoot)
	assert.Equal(t, []string{"contrib", "main"}, mirror.Components)
	assert.Equal(t, []string{"amd64", "arm64"}, mirror.Architectures)
	assert.Equal(t, 1, server.Hits("/dists/stable/Release"))

	tests := []struct {
		name string
		req  app.MirrorCreateRequest
		code errbuilder.ErrCode
	}{
		{"duplicate", app.MirrorCreateRequest{Name: "debian", ArchiveURL: server.URL, Distribution: "stable"}, errbuilder.CodeAlreadyExists},
		{"unknown component", app.MirrorCreateRequest{Name: "m1", ArchiveURL: server.URL, Distribution: "stable", Components: []string{"non-free"}}, errbuilder.CodeInvalidArgument},
		{"unknown architecture", app.MirrorCreateRequest{Name: "m2", ArchiveURL: server.URL, Distribution: "stable", Architectures: []string{"s390x"}}, errbuilder.CodeInvalidArgument},
		{"missing distribution", app.MirrorCreateRequest{Name: "m3", ArchiveURL: server.URL, Distribution: "oldstable"}, errbuilder.CodeNotFound},
		{"bad url", app.MirrorCreateRequest{Name: "m4", ArchiveURL: "not a url", Distribution: "stable"}, errbuilder.CodeInvalidArgument},
		{"bad filter", app.MirrorCreateRequest{Name: "m5", ArchiveURL: server.URL, Distribution: "stable", Filter: "hello (>= 1"}, errbuilder.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateMirror(t.Context(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errbuilder.CodeOf(err))
		})
	}

	forced, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{
		Name: "forced", ArchiveURL: server.URL, Distribution: "stable",
		Components: []string{"non-free"}, ForceComponents: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"non-free"}, forced.Components)
}

func TestCreateMirrorExpandsPPA(t *testing.T) {
	svc := testutil.NewService(t, func(cfg *types.Config) {
		cfg.PpaCodename = "noble"
	})
	mirror, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{Name: "ppa", ArchiveURL: "ppa:team/tools", SkipComponentCheck: true})
	require.NoError(t, err)
	assert.Equal(t, "http://ppa.launchpad.net/team/tools/ubuntu/", mirror.ArchiveRoot)
	assert.Equal(t, "noble", mirror.Distribution)
	assert.Equal(t, []string{"main"}, mirror.Components)

	_, err = svc.CreateMirror(t.Context(), app.MirrorCreateRequest{Name: "bad", ArchiveURL: "ppa:team", SkipComponentCheck: true})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestUpdateMirror(t *testing.T) {
	server := testutil.ServeUpstream(t, debianUpstream(nil))
	svc := testutil.NewService(t)
	_, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{
		Name: "debian", ArchiveURL: server.URL, Distribution: "stable",
		Components: []string{"main"}, Architectures: []string{"amd64"},
	})
	require.NoError(t, err)

	dry, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, dry.Packages)
	assert.Equal(t, 3, dry.Downloaded)
	assert.Empty(t, mirrorPackages(t, svc, "debian"))

	result, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Packages)
	assert.Equal(t, 3, result.Downloaded)
	assert.Positive(t, result.DownloadedBytes)
	assert.Equal(t, []string{helloV1, "libc6_2.36-9_amd64", "tzdata_2024a-1_all"}, mirrorPackages(t, svc, "debian"))
	assert.Equal(t, 1, server.Hits("/"+testutil.PoolPath("main", hello)))

	details, err := svc.ShowMirror(t.Context(), "debian", false)
	require.NoError(t, err)
	assert.False(t, details.Mirror.LastDownloadDate.IsZero())
	assert.Equal(t, "stable", details.Mirror.Meta.Get("Suite"))

	// files already in the pool are not fetched again
	again, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	assert.Zero(t, again.Downloaded)
	assert.Equal(t, 1, server.Hits("/"+testutil.PoolPath("main", hello)))

	skipped, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian", SkipExistingPackages: true})
	require.NoError(t, err)
	assert.Equal(t, 3, skipped.Reused)
	assert.Zero(t, skipped.Downloaded)

	_, err = svc.CreateSnapshot(t.Context(), app.SnapshotCreateRequest{Name: "snap", FromKind: app.SourceMirror, FromName: "debian"})
	require.NoError(t, err)
	assert.Equal(t, []string{helloV1, "libc6_2.36-9_amd64", "tzdata_2024a-1_all"}, snapshotPackages(t, svc, "snap"))
}

func TestUpdateMirrorLegacyPoolFiles(t *testing.T) {
	server := testutil.ServeUpstream(t, debianUpstream(nil))
	svc := testutil.NewService(t)
	_, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{
		Name: "debian", ArchiveURL: server.URL, Distribution: "stable",
		Components: []string{"main"}, Architectures: []string{"amd64"},
	})
	require.NoError(t, err)

	body := hello.Bytes(t)
	sums := testutil.Sums(body)
	legacy, err := core.LegacyPoolPath(hello.Filename(), sums.MD5)
	require.NoError(t, err)
	legacyFile := filepath.Join(svc.Config.RootDir, "pool", filepath.FromSlash(legacy))
	require.NoError(t, os.MkdirAll(filepath.Dir(legacyFile), 0o755))
	require.NoError(t, os.WriteFile(legacyFile, body, 0o644))

	dry, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, dry.Downloaded)
	assert.FileExists(t, legacyFile)

	result, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Downloaded)
	assert.Zero(t, server.Hits("/"+testutil.PoolPath("main", hello)))
	assert.NoFileExists(t, legacyFile)
	canonical, err := core.PoolPath(hello.Filename(), sums.SHA256)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(svc.Config.RootDir, "pool", filepath.FromSlash(canonical)))
}

func TestUpdateMirrorAppliesFilter(t *testing.T) {
	server := testutil.ServeUpstream(t, debianUpstream(nil))
	svc := testutil.NewService(t)
	_, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{
		Name: "debian", ArchiveURL: server.URL, Distribution: "stable",
		Components: []string{"main"}, Architectures: []string{"amd64"},
		Filter: "hello", FilterWithDeps: true,
	})
	require.NoError(t, err)

	result, err := svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Packages)
	assert.Equal(t, []string{helloV1, "libc6_2.36-9_amd64"}, mirrorPackages(t, svc, "debian"))
	assert.Zero(t, server.Hits("/"+testutil.PoolPath("main", tzdata)))

	filter := "tzdata"
	withDeps := false
	_, err = svc.EditMirror(t.Context(), app.MirrorEditRequest{Name: "debian", Filter: &filter, FilterWithDeps: &withDeps})
	require.NoError(t, err)
	_, err = svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tzdata_2024a-1_all"}, mirrorPackages(t, svc, "debian"))
}

func TestUpdateFlatMirror(t *testing.T) {
	server := testutil.ServeUpstream(t, testutil.Upstream{
		Distribution: "debs/",
		Flat:         true,
		Components:   map[string][]testutil.Deb{"": {hello, libc6}},
	})
	svc := testutil.NewService(t)
	mirror, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{Name: "flat", ArchiveURL: server.URL, Distribution: "debs/"})
	require.NoError(t, err)
	assert.True(t, mirror.IsFlat())
	assert.Empty(t, mirror.Components)

	_, err = svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "flat"})
	require.NoError(t, err)
	assert.Equal(t, []string{helloV1, "libc6_2.36-9_amd64"}, mirrorPackages(t, svc, "flat"))
	assert.Equal(t, 1, server.Hits("/debs/"+hello.Filename()))

	_, err = svc.CreateMirror(t.Context(), app.MirrorCreateRequest{Name: "flat2", ArchiveURL: server.URL, Distribution: "debs/", Components: []string{"main"}})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestMirrorSignatures(t *testing.T) {
	keys := testutil.GenerateKeys(t, t.TempDir())
	other := testutil.GenerateKeys(t, t.TempDir())
	signed := testutil.ServeUpstream(t, debianUpstream(&keys))
	unsigned := testutil.ServeUpstream(t, debianUpstream(nil))
	verifying := func(cfg *types.Config) { cfg.GpgDisableVerify = false }

	tests := []struct {
		name    string
		url     string
		req     app.MirrorCreateRequest
		invalid bool
	}{
		{"trusted key", signed.URL, app.MirrorCreateRequest{Keyrings: []string{keys.PublicKeyring}}, false},
		{"untrusted key", signed.URL, app.MirrorCreateRequest{Keyrings: []string{other.PublicKeyring}}, true},
		{"unsigned upstream", unsigned.URL, app.MirrorCreateRequest{Keyrings: []string{keys.PublicKeyring}}, true},
		{"unsigned upstream ignored", unsigned.URL, app.MirrorCreateRequest{IgnoreSignatures: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewService(t, verifying)
			req := tt.req
			req.Name = "debian"
			req.ArchiveURL = tt.url
			req.Distribution = "stable"
			req.Components = []string{"main"}
			req.Architectures = []string{"amd64"}
			_, err := svc.CreateMirror(t.Context(), req)
			if tt.invalid {
				require.Error(t, err)
				assert.Equal(t, shared.CodeSignatureInvalid, errbuilder.CodeOf(err))
				return
			}
			require.NoError(t, err)
			_, err = svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
			require.NoError(t, err)
			assert.Len(t, mirrorPackages(t, svc, "debian"), 3)
		})
	}

	// without InRelease the detached signature is checked
	svc := testutil.NewService(t, verifying)
	require.NoError(t, removeFile(signed.Root, "dists/stable/InRelease"))
	_, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{
		Name: "detached", ArchiveURL: signed.URL, Distribution: "stable",
		Keyrings: []string{keys.PublicKeyring},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, signed.Hits("/dists/stable/Release.gpg"))
}

func TestDropAndRenameMirror(t *testing.T) {
	server := testutil.ServeUpstream(t, debianUpstream(nil))
	svc := testutil.NewService(t)
	_, err := svc.CreateMirror(t.Context(), app.MirrorCreateRequest{Name: "debian", ArchiveURL: server.URL, Distribution: "stable", Components: []string{"main"}})
	require.NoError(t, err)
	_, err = svc.UpdateMirror(t.Context(), app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	_, err = svc.CreateSnapshot(t.Context(), app.SnapshotCreateRequest{Name: "snap", FromKind: app.SourceMirror, FromName: "debian"})
	require.NoError(t, err)

	require.NoError(t, svc.RenameMirror(t.Context(), "debian", "bookworm"))
	details, err := svc.ShowSnapshot(t.Context(), "snap", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"mirror bookworm"}, details.Sources)

	err = svc.DropMirror(t.Context(), "bookworm", false)
	assert.Equal(t, shared.CodeInUse, errbuilder.CodeOf(err))
	require.NoError(t, svc.DropMirror(t.Context(), "bookworm", true))

	mirrors, err := svc.ListMirrors(t.Context())
	require.NoError(t, err)
	assert.Empty(t, mirrors)
	err = svc.DropMirror(t.Context(), "bookworm", true)
	assert.True(t, shared.IsNotFound(err))
}
