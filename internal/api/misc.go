package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"aptkeeper/internal/app"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

func (s *Server) SearchPackages(w http.ResponseWriter, r *http.Request) {
	keys, err := s.svc.SearchCatalog(r.Context(), r.URL.Query()["q"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) ShowPackage(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.ShowPackage(r.Context(), chi.URLParam(r, "key"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, packageViews([]types.Package{details.Package})[0])
}

func (s *Server) CleanupDB(w http.ResponseWriter, r *http.Request) {
	req := app.DBCleanupRequest{DryRun: queryBool(r, "dryRun"), Verbose: queryBool(r, "verbose")}
	s.respond(w, r, "Clean up db", app.Exclusive(app.AllResources), http.StatusOK, func(ctx context.Context) (any, error) {
		return s.svc.CleanupDB(ctx, req)
	})
}

func (s *Server) Graph(w http.ResponseWriter, r *http.Request) {
	dot, err := s.svc.Graph(r.Context(), r.URL.Query().Get("layout"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	_, _ = w.Write([]byte(dot))
}

func taskID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, shared.InvalidArgument("invalid task id " + chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Tasks.List())
}

func (s *Server) ClearTasks(w http.ResponseWriter, r *http.Request) {
	s.svc.Tasks.Clear()
	writeJSON(w, http.StatusOK, struct{}{})
}

// WaitAllTasks blocks until every known task has finished.
func (s *Server) WaitAllTasks(w http.ResponseWriter, r *http.Request) {
	for _, task := range s.svc.Tasks.List() {
		if _, err := s.svc.Tasks.Wait(r.Context(), task.ID); err != nil && !shared.IsNotFound(err) {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) ShowTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.svc.Tasks.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Tasks.Delete(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) TaskOutput(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	output, err := s.svc.Tasks.Output(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output)
}

// TaskDetail returns the value a finished task produced.
func (s *Server) TaskDetail(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.svc.Tasks.Result(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) WaitTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.svc.Tasks.Wait(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
