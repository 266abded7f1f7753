package integration

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/app"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
	"aptkeeper/tests/testutil"
)

var (
	hello  = testutil.Deb{Name: "hello", Version: "1.0-1", Architecture: "amd64", Depends: "libc6 (>= 2.30)"}
	libc6  = testutil.Deb{Name: "libc6", Version: "2.36-9", Architecture: "amd64"}
	tzdata = testutil.Deb{Name: "tzdata", Version: "2024a-1", Architecture: "all"}
)

func names(pkgs []types.Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		out = append(out, pkg.Name)
	}
	sort.Strings(out)
	return out
}

func verifyingService(t *testing.T) *app.Service {
	return testutil.NewService(t, func(cfg *types.Config) {
		cfg.GpgDisableVerify = false
		cfg.GpgDisableSign = false
	})
}

// TestMirrorSnapshotPublishRoundTrip mirrors a signed archive, publishes a
// snapshot of it signed with another key and mirrors the published tree
// back with a second instance.
func TestMirrorSnapshotPublishRoundTrip(t *testing.T) {
	ctx := t.Context()
	upstreamKeys := testutil.GenerateKeys(t, t.TempDir())
	publisherKeys := testutil.GenerateKeys(t, t.TempDir())
	upstream := testutil.ServeUpstream(t, testutil.Upstream{
		Distribution:  "bookworm",
		Architectures: []string{"amd64"},
		Components:    map[string][]testutil.Deb{"main": {hello, libc6, tzdata}},
		Keys:          &upstreamKeys,
	})

	origin := verifyingService(t)
	_, err := origin.CreateMirror(ctx, app.MirrorCreateRequest{
		Name:         "upstream",
		ArchiveURL:   upstream.URL,
		Distribution: "bookworm",
		Keyrings:     []string{publisherKeys.PublicKeyring},
	})
	require.Error(t, err, "release signed by an untrusted key")
	assert.Equal(t, shared.CodeSignatureInvalid, errbuilder.CodeOf(err))

	_, err = origin.CreateMirror(ctx, app.MirrorCreateRequest{
		Name:         "upstream",
		ArchiveURL:   upstream.URL,
		Distribution: "bookworm",
		Keyrings:     []string{upstreamKeys.PublicKeyring},
	})
	require.NoError(t, err)
	updated, err := origin.UpdateMirror(ctx, app.MirrorUpdateRequest{Name: "upstream"})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Packages)
	assert.Equal(t, 3, updated.Downloaded)

	_, err = origin.CreateSnapshot(ctx, app.SnapshotCreateRequest{Name: "bookworm-1", FromKind: app.SourceMirror, FromName: "upstream"})
	require.NoError(t, err)
	published, err := origin.Publish(ctx, app.PublishRequest{
		Prefix:       "debian",
		Distribution: "bookworm",
		SourceKind:   types.PublishSourceSnapshot,
		Sources:      []string{"bookworm-1"},
		Signing:      types.SigningOptions{SecretKeyring: publisherKeys.SecretKeyring},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, published.Components())

	public := httptest.NewServer(http.FileServer(http.Dir(filepath.Join(origin.Config.RootDir, "public"))))
	t.Cleanup(public.Close)

	replica := verifyingService(t)
	_, err = replica.CreateMirror(ctx, app.MirrorCreateRequest{
		Name:         "replica",
		ArchiveURL:   public.URL + "/debian",
		Distribution: "bookworm",
		Keyrings:     []string{publisherKeys.PublicKeyring},
	})
	require.NoError(t, err)
	_, err = replica.UpdateMirror(ctx, app.MirrorUpdateRequest{Name: "replica"})
	require.NoError(t, err)
	details, err := replica.ShowMirror(ctx, "replica", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "libc6", "tzdata"}, names(details.Packages))

	again, err := replica.UpdateMirror(ctx, app.MirrorUpdateRequest{Name: "replica", SkipExistingPackages: true})
	require.NoError(t, err)
	assert.Zero(t, again.Downloaded)
	assert.Equal(t, 3, again.Reused)
}

func TestDropEverythingThenCleanup(t *testing.T) {
	ctx := t.Context()
	upstream := testutil.ServeUpstream(t, testutil.Upstream{
		Distribution:  "stable",
		Architectures: []string{"amd64"},
		Components:    map[string][]testutil.Deb{"main": {hello, libc6}},
	})
	svc := testutil.NewService(t)

	_, err := svc.CreateMirror(ctx, app.MirrorCreateRequest{Name: "debian", ArchiveURL: upstream.URL, Distribution: "stable"})
	require.NoError(t, err)
	_, err = svc.UpdateMirror(ctx, app.MirrorUpdateRequest{Name: "debian"})
	require.NoError(t, err)
	_, err = svc.CreateSnapshot(ctx, app.SnapshotCreateRequest{Name: "s1", FromKind: app.SourceMirror, FromName: "debian"})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, app.PublishRequest{SourceKind: types.PublishSourceSnapshot, Sources: []string{"s1"}, Distribution: "stable"})
	require.NoError(t, err)

	err = svc.DropSnapshot(ctx, "s1", false)
	require.Error(t, err, "published snapshot")
	assert.Equal(t, shared.CodeInUse, errbuilder.CodeOf(err))

	require.NoError(t, svc.DropPublished(ctx, app.PublishDropRequest{PublishTarget: app.PublishTarget{Distribution: "stable"}}))
	require.NoError(t, svc.DropSnapshot(ctx, "s1", false))
	require.NoError(t, svc.DropMirror(ctx, "debian", false))

	result, err := svc.CleanupDB(ctx, app.DBCleanupRequest{})
	require.NoError(t, err)
	assert.Len(t, result.Packages, 2)
	assert.Len(t, result.PoolFiles, 2)
	assert.Positive(t, result.FreedBytes)

	files, err := svc.Pool.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.NoDirExists(t, filepath.Join(svc.Config.RootDir, "public", "dists", "stable"))
}
