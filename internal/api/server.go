package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/csrf"
	"github.com/mgrall/collector/internal/jobs"
	"github.com/mgrall/collector/internal/metrics"
	"github.com/mgrall/collector/internal/sandbox"
	"github.com/mgrall/collector/internal/session"
	"github.com/mgrall/collector/internal/store"
)

// Submitter hands a persisted job to the background executor.
type Submitter interface {
	Submit(jobID string) error
}

// Server wires HTTP handlers to the job service, the executor, and the
// file sandbox.
type Server struct {
	router   chi.Router
	root     context.Context
	service  *jobs.Service
	executor Submitter
	settings store.SettingsRepository
	box      *sandbox.Sandbox
	sessions *session.Manager
	guard    *csrf.Guard
	logger   *zap.Logger
}

// handlerTimeout bounds every JSON route. File downloads are served
// outside this budget since they stream arbitrarily large artifacts.
const handlerTimeout = 60 * time.Second

// NewServer constructs the router with middleware and all routes. root is
// the process lifetime context; once it is cancelled every request is
// rejected so shutdown can drain.
func NewServer(
	root context.Context,
	service *jobs.Service,
	exec Submitter,
	settings store.SettingsRepository,
	box *sandbox.Sandbox,
	sessions *session.Manager,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		root:     root,
		service:  service,
		executor: exec,
		settings: settings,
		box:      box,
		sessions: sessions,
		guard:    csrf.New(sessions),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.NewHTTP(registry).Middleware)
	r.Use(recoverMiddleware(logger))
	r.Use(s.shutdownMiddleware)
	r.Use(sessions.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Streams whole files; deliberately outside the timeout handler. The
	// bare path is the cross-job artifact listing.
	r.Get("/v1/files", s.listFiles)
	r.Get("/v1/files/*", s.serveFile)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(handlerTimeout))
		r.Route("/v1", func(r chi.Router) {
			r.Get("/csrf", s.csrfToken)

			r.Route("/jobs", func(r chi.Router) {
				r.With(s.guard.Middleware).Post("/", s.createJob)
				r.Get("/", s.listJobs)
				r.Get("/active", s.activeJobs)
				r.Get("/stats", s.jobStats)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/", s.getJob)
					r.Get("/files", s.getJobFiles)
					r.With(s.guard.Middleware).Post("/cancel", s.cancelJob)
					r.With(s.guard.Middleware).Post("/retry", s.retryJob)
					r.With(s.guard.Middleware).Delete("/", s.deleteJob)
				})
			})

			r.Get("/browse", s.browse)
			r.Get("/browse/*", s.browse)

			r.Get("/settings", s.listSettings)
			r.With(s.guard.Middleware).Put("/settings/{key}", s.putSetting)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) csrfToken(w http.ResponseWriter, r *http.Request) {
	token := s.guard.Token(r)
	if token == "" {
		s.writeError(w, http.StatusInternalServerError, "no session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// shutdownMiddleware rejects work once the process context is cancelled.
func (s *Server) shutdownMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.root.Err() != nil {
			s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
