package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aptkeeper/internal/app"
	"aptkeeper/internal/core"
	"aptkeeper/internal/types"
)

// parseEscapedPrefix decodes a publish prefix from a URL path element:
// "_" stands for "/", "__" for "_", and an optional "storage:" part may
// lead. ":." and "." name the root prefix.
func parseEscapedPrefix(value string) (string, string) {
	storage := ""
	if idx := strings.LastIndex(value, ":"); idx >= 0 {
		storage = value[:idx]
		value = value[idx+1:]
	}
	const placeholder = "\x00"
	value = strings.ReplaceAll(value, "__", placeholder)
	value = strings.ReplaceAll(value, "_", "/")
	value = strings.ReplaceAll(value, placeholder, "_")
	return storage, value
}

func targetOf(r *http.Request) app.PublishTarget {
	storage, prefix := parseEscapedPrefix(chi.URLParam(r, "prefix"))
	return app.PublishTarget{Storage: storage, Prefix: prefix, Distribution: chi.URLParam(r, "dist")}
}

func publishLeases(storage string, prefix string) []app.Lease {
	normalized, err := core.NormalizePrefix(prefix)
	if err != nil {
		normalized = prefix
	}
	return app.Exclusive(app.PublishResource(storage, normalized))
}

type publishSourceBody struct {
	Component string
	Name      string
}

type signingBody struct {
	Skip          bool
	GpgKey        string
	Keyring       string
	SecretKeyring string
	Passphrase    string
}

func (b *signingBody) options() *types.SigningOptions {
	if b == nil {
		return nil
	}
	return &types.SigningOptions{
		Skip:          b.Skip,
		GpgKey:        b.GpgKey,
		Keyring:       b.Keyring,
		SecretKeyring: b.SecretKeyring,
		Passphrase:    b.Passphrase,
	}
}

type publishBody struct {
	Storage              string
	SourceKind           string
	Sources              []publishSourceBody
	Distribution         string
	Architectures        []string
	Label                string
	Origin               string
	Suite                string
	Codename             string
	NotAutomatic         string
	ButAutomaticUpgrades string
	ForceOverwrite       bool
	AcquireByHash        bool
	SkipContents         bool
	SkipBz2              bool
	Signing              *signingBody
}

type publishUpdateBody struct {
	Snapshots      []publishSourceBody
	ForceOverwrite bool
	SkipCleanup    bool
	SkipContents   *bool
	SkipBz2        *bool
	AcquireByHash  *bool
	Signing        *signingBody
}

type publishedView struct {
	Storage              string
	Prefix               string
	Distribution         string
	SourceKind           types.PublishSourceKind
	Sources              []publishSourceBody
	PendingSources       []publishSourceBody `json:",omitempty"`
	Architectures        []string
	Label                string
	Origin               string
	Suite                string
	Codename             string
	NotAutomatic         string
	ButAutomaticUpgrades string
	AcquireByHash        bool
	SkipContents         bool
	SkipBz2              bool
	UpdatedAt            time.Time
}

func sourceList(sources map[string]string) []publishSourceBody {
	out := make([]publishSourceBody, 0, len(sources))
	for component, name := range sources {
		out = append(out, publishSourceBody{Component: component, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

func viewOf(details app.PublishDetails) publishedView {
	repo := details.Repo
	view := publishedView{
		Storage:              repo.Storage,
		Prefix:               repo.Prefix,
		Distribution:         repo.Distribution,
		SourceKind:           repo.SourceKind,
		Sources:              sourceList(details.Sources),
		Architectures:        repo.Architectures,
		Label:                repo.Label,
		Origin:               repo.Origin,
		Suite:                repo.Suite,
		Codename:             repo.Codename,
		NotAutomatic:         repo.NotAutomatic,
		ButAutomaticUpgrades: repo.ButAutomaticUpgrades,
		AcquireByHash:        repo.AcquireByHash,
		SkipContents:         repo.SkipContents,
		SkipBz2:              repo.SkipBz2,
		UpdatedAt:            repo.UpdatedAt,
	}
	if details.Pending != nil {
		view.PendingSources = sourceList(details.Pending)
	}
	return view
}

func (s *Server) showPublished(ctx context.Context, target app.PublishTarget) (any, error) {
	details, err := s.svc.ShowPublished(ctx, target)
	if err != nil {
		return nil, err
	}
	return viewOf(details), nil
}

func (s *Server) ListPublished(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repos, err := s.svc.ListPublished(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]publishedView, 0, len(repos))
	for _, repo := range repos {
		details, err := s.svc.ShowPublished(ctx, app.PublishTarget{Storage: repo.Storage, Prefix: repo.Prefix, Distribution: repo.Distribution})
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, viewOf(details))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ShowPublished(w http.ResponseWriter, r *http.Request) {
	view, err := s.showPublished(r.Context(), targetOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	storage, prefix := parseEscapedPrefix(chi.URLParam(r, "prefix"))
	if storage == "" {
		storage = body.Storage
	}
	req := app.PublishRequest{
		Storage:              storage,
		Prefix:               prefix,
		Distribution:         body.Distribution,
		SourceKind:           types.PublishSourceKind(body.SourceKind),
		Architectures:        body.Architectures,
		Origin:               body.Origin,
		Label:                body.Label,
		Suite:                body.Suite,
		Codename:             body.Codename,
		NotAutomatic:         body.NotAutomatic,
		ButAutomaticUpgrades: body.ButAutomaticUpgrades,
		AcquireByHash:        body.AcquireByHash,
		SkipContents:         body.SkipContents,
		SkipBz2:              body.SkipBz2,
		ForceOverwrite:       body.ForceOverwrite,
	}
	if signing := body.Signing.options(); signing != nil {
		req.Signing = *signing
	}
	withComponents := false
	for _, source := range body.Sources {
		req.Sources = append(req.Sources, source.Name)
		req.Components = append(req.Components, source.Component)
		withComponents = withComponents || source.Component != ""
	}
	if !withComponents {
		req.Components = nil
	}
	s.respond(w, r, "Publish "+string(req.SourceKind)+" to "+app.PublishTarget{Storage: storage, Prefix: prefix, Distribution: body.Distribution}.String(),
		publishLeases(storage, prefix), http.StatusCreated, func(ctx context.Context) (any, error) {
			repo, err := s.svc.Publish(ctx, req)
			if err != nil {
				return nil, err
			}
			return s.showPublished(ctx, app.PublishTarget{Storage: repo.Storage, Prefix: repo.Prefix, Distribution: repo.Distribution})
		})
}

// UpdatePublished switches snapshots when the body names any, otherwise
// republishes with the current or staged sources.
func (s *Server) UpdatePublished(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	var body publishUpdateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	s.respond(w, r, "Update published "+target.String(), publishLeases(target.Storage, target.Prefix), http.StatusOK, func(ctx context.Context) (any, error) {
		if len(body.Snapshots) > 0 {
			req := app.PublishSwitchRequest{
				PublishTarget:  target,
				ForceOverwrite: body.ForceOverwrite,
				SkipCleanup:    body.SkipCleanup,
				Signing:        body.Signing.options(),
			}
			for _, snapshot := range body.Snapshots {
				req.Components = append(req.Components, snapshot.Component)
				req.Snapshots = append(req.Snapshots, snapshot.Name)
			}
			if _, err := s.svc.SwitchPublished(ctx, req); err != nil {
				return nil, err
			}
		} else {
			if _, err := s.svc.UpdatePublished(ctx, app.PublishUpdateRequest{
				PublishTarget:  target,
				ForceOverwrite: body.ForceOverwrite,
				SkipCleanup:    body.SkipCleanup,
				SkipContents:   body.SkipContents,
				SkipBz2:        body.SkipBz2,
				AcquireByHash:  body.AcquireByHash,
				Signing:        body.Signing.options(),
			}); err != nil {
				return nil, err
			}
		}
		return s.showPublished(ctx, target)
	})
}

func (s *Server) DropPublished(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	req := app.PublishDropRequest{
		PublishTarget: target,
		Force:         queryBool(r, "force"),
		SkipCleanup:   queryBool(r, "SkipCleanup") || queryBool(r, "skipCleanup"),
	}
	s.respond(w, r, "Delete published "+target.String(), publishLeases(target.Storage, target.Prefix), http.StatusOK, func(ctx context.Context) (any, error) {
		return struct{}{}, s.svc.DropPublished(ctx, req)
	})
}

func (s *Server) ListPublishedSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.svc.ListPublishedSources(r.Context(), targetOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceList(sources))
}

// sourcesResponse answers every source edit with the staged list.
func (s *Server) sourcesResponse(w http.ResponseWriter, r *http.Request, target app.PublishTarget, status int, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	sources, err := s.svc.ListPublishedSources(r.Context(), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, sourceList(sources))
}

func (s *Server) AddPublishedSource(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	var body publishSourceBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	_, err := s.svc.AddPublishedSource(r.Context(), app.PublishSourceRequest{PublishTarget: target, Component: body.Component, Source: body.Name})
	s.sourcesResponse(w, r, target, http.StatusCreated, err)
}

func (s *Server) ReplacePublishedSources(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	var body []publishSourceBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sources := make(map[string]string, len(body))
	for _, source := range body {
		sources[source.Component] = source.Name
	}
	_, err := s.svc.ReplacePublishedSources(r.Context(), target, sources)
	s.sourcesResponse(w, r, target, http.StatusOK, err)
}

func (s *Server) UpdatePublishedSource(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	var body publishSourceBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	_, err := s.svc.UpdatePublishedSource(r.Context(), app.PublishSourceRequest{PublishTarget: target, Component: chi.URLParam(r, "component"), Source: body.Name})
	s.sourcesResponse(w, r, target, http.StatusOK, err)
}

func (s *Server) RemovePublishedSource(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	_, err := s.svc.RemovePublishedSource(r.Context(), app.PublishSourceRequest{PublishTarget: target, Component: chi.URLParam(r, "component")})
	s.sourcesResponse(w, r, target, http.StatusOK, err)
}

func (s *Server) DropPublishedSources(w http.ResponseWriter, r *http.Request) {
	target := targetOf(r)
	if err := s.svc.DropPublishedSources(r.Context(), target); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
