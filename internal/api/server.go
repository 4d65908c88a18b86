// Package api exposes the HTTP side-port for probes, scraping and read-only
// status views.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/scheduler"
)

const (
	readyTimeout   = 3 * time.Second
	requestTimeout = 30 * time.Second
)

// TargetLister reads the watch list.
type TargetLister interface {
	Snapshot() []monitor.Target
	Len() int
	Capacity() int
}

// StateReporter reads the scheduler state.
type StateReporter interface {
	State() scheduler.State
}

// ReadinessCheck is a named dependency probe run by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// DropCounter reports activity events lost to a full buffer.
type DropCounter interface {
	Dropped() int64
}

// Deps are the server's collaborators. Stats, Activity, Logger and Checks are
// optional.
type Deps struct {
	Targets   TargetLister
	Scheduler StateReporter
	Stats     *monitor.Stats
	Activity  DropCounter
	Clock     monitor.Clock
	Checks    []ReadinessCheck
	// APIKey, when set, guards the /v1 routes.
	APIKey string
	Logger *zap.Logger
}

// Server wires HTTP handlers to the registry and scheduler.
type Server struct {
	router  chi.Router
	deps    Deps
	logger  *zap.Logger
	timeout time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger, timeout: readyTimeout}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if deps.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.APIKey))
		}
		r.Get("/targets", s.listTargets)
		r.Get("/stats", s.stats)
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

// readyz reports 200 with the scheduler state and target count, or 503 when
// any readiness check fails.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	failed := map[string]string{}
	for _, c := range s.deps.Checks {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			failed[c.Name] = err.Error()
		}
	}
	body := map[string]any{
		"status":     "ready",
		"monitoring": s.deps.Scheduler.State().String(),
		"targets":    s.deps.Targets.Len(),
		"capacity":   s.deps.Targets.Capacity(),
	}
	if len(failed) > 0 {
		body["status"] = "unavailable"
		body["failed"] = failed
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	targets := s.deps.Targets.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"targets": toTargetDTOs(targets)})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	snap := s.deps.Stats.Snapshot()
	now := time.Now()
	if s.deps.Clock != nil {
		now = s.deps.Clock.Now()
	}
	var dropped int64
	if s.deps.Activity != nil {
		dropped = s.deps.Activity.Dropped()
	}
	writeJSON(w, http.StatusOK, statsDTO{
		Monitoring:       s.deps.Scheduler.State().String(),
		Targets:          s.deps.Targets.Len(),
		Capacity:         s.deps.Targets.Capacity(),
		StartedAt:        snap.StartedAt,
		UptimeSeconds:    int64(now.Sub(snap.StartedAt).Seconds()),
		TotalChecks:      snap.TotalChecks,
		TotalChanges:     snap.TotalChanges,
		ProbeSuccess:     snap.ProbeSuccess,
		BrowserSuccess:   snap.BrowserSuccess,
		BrowserErrors:    snap.BrowserErrors,
		BrowserErrorRate: snap.BrowserErrorRate(),
		DroppedEvents:    dropped,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
