package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// requestLogger logs one line per request and attaches a request-scoped
// logger to the context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		started := time.Now()
		defer func() {
			level := zerolog.InfoLevel
			if ww.Status() >= http.StatusBadRequest {
				level = zerolog.WarnLevel
			}
			logger.WithLevel(level).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(started)).
				Msg("returned response")
		}()

		next.ServeHTTP(ww, r)
	})
}
