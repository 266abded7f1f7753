package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
	"aptkeeper/tests/testutil"
)

func newTestServer(t *testing.T) (*Server, *app.Service) {
	t.Helper()
	svc := testutil.NewService(t)
	return NewServer(svc, "1.2.3"), svc
}

func do(t *testing.T, handler http.Handler, method string, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestParseEscapedPrefix(t *testing.T) {
	tests := []struct {
		value       string
		wantStorage string
		wantPrefix  string
	}{
		{value: ":.", wantStorage: "", wantPrefix: "."},
		{value: ".", wantStorage: "", wantPrefix: "."},
		{value: "debian", wantStorage: "", wantPrefix: "debian"},
		{value: "ppa_stable", wantStorage: "", wantPrefix: "ppa/stable"},
		{value: "my__repo_main", wantStorage: "", wantPrefix: "my_repo/main"},
		{value: "s3:bucket:ubuntu", wantStorage: "s3:bucket", wantPrefix: "ubuntu"},
		{value: "filesystem:web:.", wantStorage: "filesystem:web", wantPrefix: "."},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			storage, prefix := parseEscapedPrefix(tt.value)
			assert.Equal(t, tt.wantStorage, storage)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestVersion(t *testing.T) {
	server, _ := newTestServer(t)
	rec := do(t, server, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, versionResponse{Version: "1.2.3"}, decode[versionResponse](t, rec))
}

func TestRepoErrors(t *testing.T) {
	server, _ := newTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/repos", repoCreateBody{Name: "main"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name       string
		method     string
		target     string
		body       any
		wantStatus int
	}{
		{name: "missing repo", method: http.MethodGet, target: "/api/repos/nope", wantStatus: http.StatusNotFound},
		{name: "duplicate repo", method: http.MethodPost, target: "/api/repos", body: repoCreateBody{Name: "main"}, wantStatus: http.StatusConflict},
		{name: "empty name", method: http.MethodPost, target: "/api/repos", body: repoCreateBody{}, wantStatus: http.StatusBadRequest},
		{name: "bad query", method: http.MethodGet, target: "/api/repos/main/packages?q=nginx+(%3E%3D+1", wantStatus: http.StatusBadRequest},
		{name: "bad task id", method: http.MethodGet, target: "/api/tasks/abc", wantStatus: http.StatusBadRequest},
		{name: "unknown task", method: http.MethodGet, target: "/api/tasks/99", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, tt.method, tt.target, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestQueryParseErrorCarriesPosition(t *testing.T) {
	server, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, server, http.MethodPost, "/api/repos", repoCreateBody{Name: "main"}).Code)

	rec := do(t, server, http.MethodGet, "/api/repos/main/packages?q=nginx+(%3E%3D+1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Contains(t, body.Meta, "position")
}

func TestRepoEditAndRename(t *testing.T) {
	server, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, server, http.MethodPost, "/api/repos", repoCreateBody{Name: "old", Comment: "first"}).Code)

	newName := "new"
	comment := "second"
	rec := do(t, server, http.MethodPut, "/api/repos/old", repoEditBody{Name: &newName, Comment: &comment})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	repo := decode[types.LocalRepo](t, rec)
	assert.Equal(t, "new", repo.Name)
	assert.Equal(t, "second", repo.Comment)

	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/repos/old", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/api/repos/new", nil).Code)
}

func upload(t *testing.T, handler http.Handler, dir string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := writer.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/files/"+dir, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadAddAndPublish(t *testing.T) {
	server, svc := newTestServer(t)
	deb := testutil.Deb{Name: "hello", Version: "1.0-1", Architecture: "amd64"}

	rec := upload(t, server, "incoming", map[string][]byte{deb.Filename(): deb.Bytes(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	if diff := cmp.Diff([]string{"incoming/" + deb.Filename()}, decode[[]string](t, rec)); diff != "" {
		t.Fatalf("unexpected upload response (-want +got):\n%s", diff)
	}
	rec = do(t, server, http.MethodGet, "/api/files/incoming", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{deb.Filename()}, decode[[]string](t, rec))

	require.Equal(t, http.StatusCreated, do(t, server, http.MethodPost, "/api/repos", repoCreateBody{Name: "main", DefaultDistribution: "stable"}).Code)
	rec = do(t, server, http.MethodPost, "/api/repos/main/file/incoming", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[addReport](t, rec)
	assert.Empty(t, report.FailedFiles)
	assert.Equal(t, []string{"hello_1.0-1_amd64"}, report.Report.Added)

	_, err := os.Stat(filepath.Join(svc.UploadDir(), "incoming"))
	assert.True(t, os.IsNotExist(err), "consumed upload directory should be removed")

	rec = do(t, server, http.MethodGet, "/api/repos/main/packages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := decode[[]string](t, rec)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "Pamd64 hello 1.0-1 "))

	rec = do(t, server, http.MethodPost, "/api/publish/:.", publishBody{
		SourceKind: string(types.PublishSourceLocal),
		Sources:    []publishSourceBody{{Name: "main"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[publishedView](t, rec)
	assert.Equal(t, "stable", view.Distribution)
	assert.Equal(t, []publishSourceBody{{Component: "main", Name: "main"}}, view.Sources)

	release := filepath.Join(svc.Config.RootDir, "public", "dists", "stable", "Release")
	_, err = os.Stat(release)
	require.NoError(t, err)

	rec = do(t, server, http.MethodGet, "/api/publish", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]publishedView](t, rec), 1)

	rec = do(t, server, http.MethodDelete, "/api/repos/main", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "a published repo cannot be dropped")

	rec = do(t, server, http.MethodDelete, "/api/publish/:./stable", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err = os.Stat(release)
	assert.True(t, os.IsNotExist(err))
}

func TestAsyncTaskLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, server, http.MethodPost, "/api/repos", repoCreateBody{Name: "scratch"}).Code)

	rec := do(t, server, http.MethodDelete, "/api/repos/scratch?_async=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	task := decode[types.Task](t, rec)
	require.NotZero(t, task.ID)

	rec = do(t, server, http.MethodGet, "/api/tasks/"+strconv.Itoa(task.ID)+"/wait", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	finished := decode[types.Task](t, rec)
	assert.Equal(t, types.TaskSucceeded, finished.State)

	rec = do(t, server, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.Task](t, rec), 1)

	rec = do(t, server, http.MethodGet, "/api/tasks/"+strconv.Itoa(task.ID)+"/output", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[string](t, rec), "local repo dropped")

	require.Equal(t, http.StatusOK, do(t, server, http.MethodDelete, "/api/tasks/"+strconv.Itoa(task.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/api/repos/scratch", nil).Code)
}

func TestBusyResourceConflicts(t *testing.T) {
	server, svc := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, server, http.MethodPost, "/api/repos", repoCreateBody{Name: "busy"}).Code)

	release := make(chan struct{})
	blocker, err := svc.Tasks.Run("hold", app.Exclusive(app.RepoResource("busy")), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	rec := do(t, server, http.MethodDelete, "/api/repos/busy?_async=true", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rec = do(t, server, http.MethodDelete, "/api/repos/busy", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	close(release)
	_, err = svc.Tasks.Wait(t.Context(), blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(t, server, http.MethodDelete, "/api/repos/busy", nil).Code)
}

func TestPublicHandlerServesFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dists", "stable"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dists", "stable", "Release"), []byte("Suite: stable\n"), 0o644))

	rec := do(t, PublicHandler(root), http.MethodGet, "/dists/stable/Release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Suite: stable\n", rec.Body.String())
}
