package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"aptkeeper/internal/shared"
)

const maxUploadMemory = 32 << 20

func (s *Server) ListUploadDirs(w http.ResponseWriter, r *http.Request) {
	dirs, err := s.svc.ListUploadDirs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

func (s *Server) ListUploads(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.ListUploads(r.Context(), chi.URLParam(r, "dir"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// Upload stores every file part of a multipart form under one directory
// and answers with the stored "dir/name" paths.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	dir := chi.URLParam(r, "dir")
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, r, shared.InvalidArgument("invalid multipart upload: "+err.Error()))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()
	stored := []string{}
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				writeError(w, r, shared.Internal("failed to open upload "+header.Filename, err))
				return
			}
			upload, err := s.svc.SaveUpload(r.Context(), dir, header.Filename, file)
			_ = file.Close()
			if err != nil {
				writeError(w, r, err)
				return
			}
			stored = append(stored, upload.Dir+"/"+upload.Name)
		}
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) DeleteUploadDir(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteUpload(r.Context(), chi.URLParam(r, "dir"), ""); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteUpload(r.Context(), chi.URLParam(r, "dir"), chi.URLParam(r, "file")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
