package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aptkeeper/internal/app"
)

type snapshotCreateBody struct {
	Name        string
	Description string
}

type snapshotMergeBody struct {
	Destination string
	Sources     []string
	Latest      bool
	NoRemove    bool
}

type snapshotPullBody struct {
	Target        string
	Source        string
	Destination   string
	Queries       []string
	NoDeps        bool
	NoRemove      bool
	AllMatches    bool
	DryRun        bool
	Architectures []string
}

type snapshotRenameBody struct {
	Name string
}

func (s *Server) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	sortBy := r.URL.Query().Get("sort")
	if sortBy == "" {
		sortBy = app.SortByName
	}
	snapshots, err := s.svc.ListSnapshots(r.Context(), sortBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// CreateSnapshot creates an empty snapshot.
func (s *Server) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var body snapshotCreateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	snapshot, err := s.svc.CreateSnapshot(r.Context(), app.SnapshotCreateRequest{Name: body.Name, Description: body.Description})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) snapshotFrom(w http.ResponseWriter, r *http.Request, kind app.SourceKind) {
	source := chi.URLParam(r, "name")
	var body snapshotCreateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	leases := app.Exclusive(app.SnapshotResource(body.Name))
	if kind == app.SourceMirror {
		leases = append(leases, app.Shared(app.MirrorResource(source))...)
	} else {
		leases = append(leases, app.Shared(app.RepoResource(source))...)
	}
	s.respond(w, r, "Create snapshot "+body.Name, leases, http.StatusCreated, func(ctx context.Context) (any, error) {
		return s.svc.CreateSnapshot(ctx, app.SnapshotCreateRequest{
			Name:        body.Name,
			FromKind:    kind,
			FromName:    source,
			Description: body.Description,
		})
	})
}

func (s *Server) MergeSnapshots(w http.ResponseWriter, r *http.Request) {
	var body snapshotMergeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	leases := app.Exclusive(app.SnapshotResource(body.Destination))
	s.respond(w, r, "Merge snapshots into "+body.Destination, leases, http.StatusCreated, func(ctx context.Context) (any, error) {
		return s.svc.MergeSnapshots(ctx, app.SnapshotMergeRequest{
			Dest:     body.Destination,
			Sources:  body.Sources,
			Latest:   body.Latest,
			NoRemove: body.NoRemove,
		})
	})
}

func (s *Server) PullSnapshot(w http.ResponseWriter, r *http.Request) {
	var body snapshotPullBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	leases := app.Exclusive(app.SnapshotResource(body.Destination))
	s.respond(w, r, "Pull into snapshot "+body.Destination, leases, http.StatusCreated, func(ctx context.Context) (any, error) {
		return s.svc.PullSnapshot(ctx, app.SnapshotPullRequest{
			Target:        body.Target,
			Source:        body.Source,
			Dest:          body.Destination,
			Queries:       body.Queries,
			NoDeps:        body.NoDeps,
			NoRemove:      body.NoRemove,
			AllMatches:    body.AllMatches,
			DryRun:        body.DryRun,
			Architectures: body.Architectures,
		})
	})
}

func (s *Server) ShowSnapshot(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.ShowSnapshot(r.Context(), chi.URLParam(r, "name"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details.Snapshot)
}

func (s *Server) RenameSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body snapshotRenameBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if body.Name != "" && body.Name != name {
		if err := s.svc.RenameSnapshot(ctx, name, body.Name); err != nil {
			writeError(w, r, err)
			return
		}
		name = body.Name
	}
	details, err := s.svc.ShowSnapshot(ctx, name, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details.Snapshot)
}

func (s *Server) DropSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force := queryBool(r, "force")
	s.respond(w, r, "Delete snapshot "+name, app.Exclusive(app.SnapshotResource(name)), http.StatusOK, func(ctx context.Context) (any, error) {
		return struct{}{}, s.svc.DropSnapshot(ctx, name, force)
	})
}

func (s *Server) SnapshotPackages(w http.ResponseWriter, r *http.Request) {
	s.listPackages(w, r, app.SourceSnapshot)
}

func (s *Server) DiffSnapshots(w http.ResponseWriter, r *http.Request) {
	diff, err := s.svc.DiffSnapshots(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "other"), queryBool(r, "onlyMatching"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}
