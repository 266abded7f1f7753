package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/app"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	svc     *app.Service
	version string
	mux     *chi.Mux
}

func NewServer(svc *app.Service, version string) *Server {
	s := &Server{
		svc:     svc,
		version: version,
		mux:     chi.NewRouter(),
	}
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(requestLogger)
	s.mux.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.Route("/api", func(r chi.Router) {
		r.Get("/version", s.Version)

		r.Route("/repos", func(r chi.Router) {
			r.Get("/", s.ListRepos)
			r.Post("/", s.CreateRepo)
			r.Get("/{name}", s.ShowRepo)
			r.Put("/{name}", s.EditRepo)
			r.Delete("/{name}", s.DropRepo)
			r.Get("/{name}/packages", s.RepoPackages)
			r.Post("/{name}/packages", s.AddRepoPackages)
			r.Delete("/{name}/packages", s.RemoveRepoPackages)
			r.Post("/{name}/file/{dir}", s.AddUploadedFiles)
			r.Post("/{name}/file/{dir}/{file}", s.AddUploadedFiles)
			r.Post("/{name}/include/{dir}", s.IncludeUploaded)
			r.Post("/{name}/include/{dir}/{file}", s.IncludeUploaded)
			r.Post("/{name}/snapshots", s.SnapshotRepo)
		})

		r.Route("/mirrors", func(r chi.Router) {
			r.Get("/", s.ListMirrors)
			r.Post("/", s.CreateMirror)
			r.Get("/{name}", s.ShowMirror)
			r.Put("/{name}", s.UpdateMirror)
			r.Delete("/{name}", s.DropMirror)
			r.Get("/{name}/packages", s.MirrorPackages)
			r.Post("/{name}/snapshots", s.SnapshotMirror)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.ListSnapshots)
			r.Post("/", s.CreateSnapshot)
			r.Post("/merge", s.MergeSnapshots)
			r.Post("/pull", s.PullSnapshot)
			r.Get("/{name}", s.ShowSnapshot)
			r.Put("/{name}", s.RenameSnapshot)
			r.Delete("/{name}", s.DropSnapshot)
			r.Get("/{name}/packages", s.SnapshotPackages)
			r.Get("/{name}/diff/{other}", s.DiffSnapshots)
		})

		r.Route("/publish", func(r chi.Router) {
			r.Get("/", s.ListPublished)
			r.Post("/", s.Publish)
			r.Post("/{prefix}", s.Publish)
			r.Get("/{prefix}/{dist}", s.ShowPublished)
			r.Put("/{prefix}/{dist}", s.UpdatePublished)
			r.Delete("/{prefix}/{dist}", s.DropPublished)
			r.Get("/{prefix}/{dist}/sources", s.ListPublishedSources)
			r.Post("/{prefix}/{dist}/sources", s.AddPublishedSource)
			r.Put("/{prefix}/{dist}/sources", s.ReplacePublishedSources)
			r.Delete("/{prefix}/{dist}/sources", s.DropPublishedSources)
			r.Put("/{prefix}/{dist}/sources/{component}", s.UpdatePublishedSource)
			r.Delete("/{prefix}/{dist}/sources/{component}", s.RemovePublishedSource)
		})

		r.Get("/packages", s.SearchPackages)
		r.Get("/packages/{key}", s.ShowPackage)

		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.ListUploadDirs)
			r.Get("/{dir}", s.ListUploads)
			r.Post("/{dir}", s.Upload)
			r.Delete("/{dir}", s.DeleteUploadDir)
			r.Delete("/{dir}/{file}", s.DeleteUpload)
		})

		r.Post("/db/cleanup", s.CleanupDB)
		r.Get("/graph.dot", s.Graph)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.ListTasks)
			r.Post("/clear", s.ClearTasks)
			r.Get("/wait", s.WaitAllTasks)
			r.Get("/{id}", s.ShowTask)
			r.Delete("/{id}", s.DeleteTask)
			r.Get("/{id}/output", s.TaskOutput)
			r.Get("/{id}/detail", s.TaskDetail)
			r.Get("/{id}/wait", s.WaitTask)
		})
	})
}

// ListenAndServe serves the API until ctx is done, then drains requests
// and running tasks.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s, func(shutdownCtx context.Context) {
		s.svc.Tasks.Shutdown(shutdownCtx)
	})
}

func serve(ctx context.Context, addr string, handler http.Handler, drain func(context.Context)) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	if drain != nil {
		drain(shutdownCtx)
	}
	return nil
}

// PublicHandler serves a published tree read-only.
func PublicHandler(root string) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Handle("/*", http.FileServer(http.Dir(root)))
	return mux
}

// ServePublic serves root on addr until ctx is done.
func ServePublic(ctx context.Context, addr string, root string) error {
	return serve(ctx, addr, PublicHandler(root), nil)
}

type versionResponse struct {
	Version string `json:"Version"`
}

func (s *Server) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{Version: s.version})
}
