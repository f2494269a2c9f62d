package server

import (
	"net/http"
	"time"

	"github.com/rs/cors"
)

// corsMiddleware applies the configured origin allowlist to the HTTP API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", adminPasswordHeader},
	})
	return c.Handler(next)
}

// apiMiddleware wraps plain HTTP handlers. WebSocket routes must not use it:
// statusRecorder does not implement http.Hijacker.
func (s *Server) apiMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.recoverer(s.loggerMiddleware(next))
}

func (s *Server) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next(rec, r)

		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration", time.Since(start))
	}
}

func (s *Server) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic while handling request",
					"err", err,
					"method", r.Method,
					"path", r.URL.Path)
				s.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
