package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
)

type repoCreateBody struct {
	Name                string
	Comment             string
	DefaultDistribution string
	DefaultComponent    string
	FromSnapshot        string
}

type repoEditBody struct {
	Name                *string
	Comment             *string
	DefaultDistribution *string
	DefaultComponent    *string
}

type packageRefsBody struct {
	PackageRefs []string
}

func (s *Server) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.svc.ListRepos(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) CreateRepo(w http.ResponseWriter, r *http.Request) {
	var body repoCreateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	repo, err := s.svc.CreateRepo(r.Context(), app.RepoCreateRequest{
		Name:                body.Name,
		Comment:             body.Comment,
		DefaultDistribution: body.DefaultDistribution,
		DefaultComponent:    body.DefaultComponent,
		FromSnapshot:        body.FromSnapshot,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) ShowRepo(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.ShowRepo(r.Context(), chi.URLParam(r, "name"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details.Repo)
}

// EditRepo changes repo settings; a Name in the body renames the repo.
func (s *Server) EditRepo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body repoEditBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if body.Name != nil && *body.Name != name {
		if err := s.svc.RenameRepo(ctx, name, *body.Name); err != nil {
			writeError(w, r, err)
			return
		}
		name = *body.Name
	}
	repo, err := s.svc.EditRepo(ctx, app.RepoEditRequest{
		Name:                name,
		Comment:             body.Comment,
		DefaultDistribution: body.DefaultDistribution,
		DefaultComponent:    body.DefaultComponent,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) DropRepo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force := queryBool(r, "force")
	s.respond(w, r, "Delete repo "+name, app.Exclusive(app.RepoResource(name)), http.StatusOK, func(ctx context.Context) (any, error) {
		return struct{}{}, s.svc.DropRepo(ctx, name, force)
	})
}

// listPackages answers the shared packages endpoint shape: keys by default,
// full records with format=details.
func (s *Server) listPackages(w http.ResponseWriter, r *http.Request, kind app.SourceKind) {
	query := r.URL.Query()
	pkgs, err := s.svc.SearchPackages(r.Context(), app.SearchRequest{
		Kind:          kind,
		Name:          chi.URLParam(r, "name"),
		Queries:       query["q"],
		WithDeps:      queryBool(r, "withDeps"),
		Architectures: query["arch"],
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if query.Get("format") == "details" {
		writeJSON(w, http.StatusOK, packageViews(pkgs))
		return
	}
	keys := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		keys = append(keys, pkg.Key())
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) RepoPackages(w http.ResponseWriter, r *http.Request) {
	s.listPackages(w, r, app.SourceRepo)
}

func (s *Server) AddRepoPackages(w http.ResponseWriter, r *http.Request) {
	s.editRepoPackages(w, r, true)
}

func (s *Server) RemoveRepoPackages(w http.ResponseWriter, r *http.Request) {
	s.editRepoPackages(w, r, false)
}

func (s *Server) editRepoPackages(w http.ResponseWriter, r *http.Request, add bool) {
	name := chi.URLParam(r, "name")
	var body packageRefsBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	label := "Remove packages from repo " + name
	if add {
		label = "Add packages to repo " + name
	}
	s.respond(w, r, label, app.Exclusive(app.RepoResource(name)), http.StatusOK, func(ctx context.Context) (any, error) {
		var err error
		if add {
			_, err = s.svc.EditRepoPackages(ctx, name, body.PackageRefs, nil)
		} else {
			_, err = s.svc.EditRepoPackages(ctx, name, nil, body.PackageRefs)
		}
		if err != nil {
			return nil, err
		}
		details, err := s.svc.ShowRepo(ctx, name, false)
		if err != nil {
			return nil, err
		}
		return details.Repo, nil
	})
}

type addReport struct {
	FailedFiles []string
	Report      struct {
		Warnings []string
		Added    []string
		Removed  []string
	}
}

func reportOf(result app.AddResult) addReport {
	var out addReport
	out.FailedFiles = nonNil(result.Failed)
	out.Report.Warnings = nonNil(result.Warnings)
	out.Report.Added = nonNil(result.Added)
	out.Report.Removed = nonNil(result.Removed)
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// AddUploadedFiles imports files previously sent to /api/files.
func (s *Server) AddUploadedFiles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dir := chi.URLParam(r, "dir")
	file := chi.URLParam(r, "file")
	noRemove := queryBool(r, "noRemove")
	forceReplace := queryBool(r, "forceReplace")
	s.respond(w, r, "Add packages from dir "+dir+" to repo "+name, app.Exclusive(app.RepoResource(name)), http.StatusOK, func(ctx context.Context) (any, error) {
		result, err := s.svc.AddFromUpload(ctx, name, dir, file, noRemove, forceReplace)
		if err != nil {
			return nil, err
		}
		return reportOf(result), nil
	})
}

// IncludeUploaded processes .changes files previously sent to /api/files.
// The repo name is expanded as a template against each .changes file.
func (s *Server) IncludeUploaded(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dir := chi.URLParam(r, "dir")
	path := filepath.Join(s.svc.UploadDir(), filepath.Base(dir))
	if file := chi.URLParam(r, "file"); file != "" {
		path = filepath.Join(path, filepath.Base(file))
	}
	req := app.IncludeRequest{
		Paths:            []string{path},
		RepoTemplate:     name,
		IgnoreSignatures: queryBool(r, "ignoreSignature"),
		AcceptUnsigned:   queryBool(r, "acceptUnsigned"),
		NoRemoveFiles:    queryBool(r, "noRemoveFiles"),
		ForceReplace:     queryBool(r, "forceReplace"),
	}
	s.respond(w, r, "Include changes from dir "+dir, nil, http.StatusOK, func(ctx context.Context) (any, error) {
		result, err := s.svc.IncludeChanges(ctx, req)
		if err != nil {
			return nil, err
		}
		return reportOf(result.AddResult), nil
	})
}

func (s *Server) SnapshotRepo(w http.ResponseWriter, r *http.Request) {
	s.snapshotFrom(w, r, app.SourceRepo)
}

type packageView struct {
	Key          string
	Package      string
	Version      string
	Architecture string
	Fields       map[string]string
}

func packageViews(pkgs []types.Package) []packageView {
	out := make([]packageView, 0, len(pkgs))
	for _, pkg := range pkgs {
		fields := make(map[string]string, len(pkg.Stanza))
		for _, field := range pkg.Stanza {
			fields[field.Name] = field.Value
		}
		out = append(out, packageView{
			Key:          pkg.Key(),
			Package:      pkg.Name,
			Version:      pkg.Version,
			Architecture: pkg.Architecture,
			Fields:       fields,
		})
	}
	return out
}
