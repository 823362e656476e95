// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/config"
	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

// Runners are the synchronous pipeline entrypoints the server triggers.
// Each mirrors one CLI subcommand.
type Runners struct {
	Crawl     func(ctx context.Context) (harvest.CrawlSummary, error)
	Items     func(ctx context.Context) (harvest.CollectSummary, error)
	Transform func(ctx context.Context) (harvest.TransformSummary, error)
	Notify    func(ctx context.Context) (harvest.NotifySummary, error)
	Pipeline  func(ctx context.Context) (harvest.PipelineSummary, error)
}

// Server wires HTTP handlers to the pipeline runners.
type Server struct {
	router  chi.Router
	runners Runners
	ready   func(ctx context.Context) error
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready is probed
// by /readyz; nil means always ready.
func NewServer(runners Runners, ready func(ctx context.Context) error, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runners: runners,
		ready:   ready,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Run handlers block until the stage finishes; the cron caller wants the
	// summary in the response, exactly like the original scheduled handlers.
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/crawl", runHandler(s.runners.Crawl))
		r.Post("/items", runHandler(s.runners.Items))
		r.Post("/transform", runHandler(s.runners.Transform))
		r.Post("/notifications", runHandler(s.runners.Notify))
		r.Post("/pipeline", runHandler(s.runners.Pipeline))
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runHandler adapts one pipeline runner to an HTTP handler. A stage error
// still carries the partial summary so the caller sees what was processed
// before the failure.
func runHandler[T any](run func(ctx context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if run == nil {
			writeError(w, http.StatusNotImplemented, "stage not configured")
			return
		}
		summary, err := run(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"status":  "failed",
				"error":   err.Error(),
				"summary": summary,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "completed",
			"summary": summary,
		})
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
