package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aptkeeper/internal/app"
)

type mirrorCreateBody struct {
	Name               string
	ArchiveURL         string
	Distribution       string
	Components         []string
	Architectures      []string
	Filter             string
	FilterWithDeps     bool
	DownloadSources    bool
	DownloadUdebs      bool
	DownloadInstaller  bool
	SkipComponentCheck bool
	ForceComponents    bool
	IgnoreSignatures   bool
	Keyrings           []string
}

type mirrorUpdateBody struct {
	Name                 *string
	ArchiveURL           *string
	Filter               *string
	FilterWithDeps       *bool
	DownloadSources      *bool
	DownloadUdebs        *bool
	DownloadInstaller    *bool
	Architectures        []string
	Components           []string
	IgnoreSignatures     bool
	IgnoreChecksums      bool
	SkipExistingPackages bool
	Keyrings             []string
}

func (b mirrorUpdateBody) edits() bool {
	return b.ArchiveURL != nil || b.Filter != nil || b.FilterWithDeps != nil || b.DownloadSources != nil ||
		b.DownloadUdebs != nil || b.DownloadInstaller != nil || len(b.Architectures) > 0 || len(b.Components) > 0
}

func (s *Server) ListMirrors(w http.ResponseWriter, r *http.Request) {
	mirrors, err := s.svc.ListMirrors(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mirrors)
}

func (s *Server) CreateMirror(w http.ResponseWriter, r *http.Request) {
	var body mirrorCreateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	mirror, err := s.svc.CreateMirror(r.Context(), app.MirrorCreateRequest{
		Name:               body.Name,
		ArchiveURL:         body.ArchiveURL,
		Distribution:       body.Distribution,
		Components:         body.Components,
		Architectures:      body.Architectures,
		Filter:             body.Filter,
		FilterWithDeps:     body.FilterWithDeps,
		WithSources:        body.DownloadSources,
		WithUdebs:          body.DownloadUdebs,
		WithInstaller:      body.DownloadInstaller,
		ForceComponents:    body.ForceComponents,
		SkipComponentCheck: body.SkipComponentCheck,
		IgnoreSignatures:   body.IgnoreSignatures,
		Keyrings:           body.Keyrings,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mirror)
}

func (s *Server) ShowMirror(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.ShowMirror(r.Context(), chi.URLParam(r, "name"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details.Mirror)
}

// UpdateMirror applies optional edits from the body, then downloads the
// mirror again.
func (s *Server) UpdateMirror(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body mirrorUpdateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	s.respond(w, r, "Update mirror "+name, app.Exclusive(app.MirrorResource(name)), http.StatusOK, func(ctx context.Context) (any, error) {
		target := name
		if body.Name != nil && *body.Name != name {
			if err := s.svc.RenameMirror(ctx, name, *body.Name); err != nil {
				return nil, err
			}
			target = *body.Name
		}
		if body.edits() {
			_, err := s.svc.EditMirror(ctx, app.MirrorEditRequest{
				Name:           target,
				ArchiveURL:     body.ArchiveURL,
				Filter:         body.Filter,
				FilterWithDeps: body.FilterWithDeps,
				WithSources:    body.DownloadSources,
				WithUdebs:      body.DownloadUdebs,
				WithInstaller:  body.DownloadInstaller,
				Architectures:  body.Architectures,
				Components:     body.Components,
				Keyrings:       body.Keyrings,
			})
			if err != nil {
				return nil, err
			}
		}
		if _, err := s.svc.UpdateMirror(ctx, app.MirrorUpdateRequest{
			Name:                 target,
			IgnoreChecksums:      body.IgnoreChecksums,
			IgnoreSignatures:     body.IgnoreSignatures,
			SkipExistingPackages: body.SkipExistingPackages,
			Keyrings:             body.Keyrings,
		}); err != nil {
			return nil, err
		}
		details, err := s.svc.ShowMirror(ctx, target, false)
		if err != nil {
			return nil, err
		}
		return details.Mirror, nil
	})
}

func (s *Server) DropMirror(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force := queryBool(r, "force")
	s.respond(w, r, "Delete mirror "+name, app.Exclusive(app.MirrorResource(name)), http.StatusOK, func(ctx context.Context) (any, error) {
		return struct{}{}, s.svc.DropMirror(ctx, name, force)
	})
}

func (s *Server) MirrorPackages(w http.ResponseWriter, r *http.Request) {
	s.listPackages(w, r, app.SourceMirror)
}

func (s *Server) SnapshotMirror(w http.ResponseWriter, r *http.Request) {
	s.snapshotFrom(w, r, app.SourceMirror)
}
