package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/app"
	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
)

type errorBody struct {
	Error string         `json:"error"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeNotFound:
		return http.StatusNotFound
	case errbuilder.CodeAlreadyExists, shared.CodeInUse, shared.CodeConflict:
		return http.StatusConflict
	case shared.CodeChecksumMismatch, shared.CodeSignatureInvalid:
		return http.StatusUnprocessableEntity
	case errbuilder.CodeInvalidArgument:
		return http.StatusBadRequest
	case errbuilder.CodeUnavailable:
		return http.StatusServiceUnavailable
	case shared.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: shared.Message(err)}
	var parseErr *core.QueryParseError
	if errors.As(err, &parseErr) {
		body.Meta = map[string]any{"position": parseErr.Pos}
	}
	if errors.Is(err, shared.ErrCorrupted) {
		body.Meta = map[string]any{"corrupted": true}
	}
	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid request body: " + err.Error())
	}
	return nil
}

func queryBool(r *http.Request, name string) bool {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return value == "yes"
	}
	return parsed
}

// operation is the body of a handler that may run as a task.
type operation func(ctx context.Context) (any, error)

// respond runs op inline, or as a background task when the request asks
// for _async. Task submission fails with 409 when a lease is taken.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, name string, leases []app.Lease, status int, op operation) {
	if queryBool(r, "_async") {
		task, err := s.svc.Tasks.Run(name, leases, app.TaskFunc(op))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, task)
		return
	}
	result, err := op(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, result)
}
