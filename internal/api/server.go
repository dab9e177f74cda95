// Package api serves the HTTP interface for ingest, queue administration,
// review, and revenue timelines.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/document"
	"github.com/sells-group/therapy-intel/internal/queue"
	"github.com/sells-group/therapy-intel/internal/revenue"
	"github.com/sells-group/therapy-intel/internal/review"
	"github.com/sells-group/therapy-intel/internal/store"
)

// ActorHeader carries the reviewer identity for decisions.
const ActorHeader = "X-Actor"

const defaultMaxUploadBytes = 64 << 20

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the services behind the routes.
type Deps struct {
	Queue     *queue.Service
	Review    *review.Engine
	Documents *document.Service
	Revenue   *revenue.Service
	Therapies store.TherapyStore
	Health    Pinger
	// Metrics serves /metrics when set.
	Metrics http.Handler

	MaxUploadBytes int64
	RetentionDays  int
	AllowedOrigins []string
}

// Server holds the route handlers.
type Server struct {
	deps Deps
	log  *zap.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	return &Server{deps: deps, log: zap.L().With(zap.String("component", "api"))}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Post("/documents", s.uploadDocument)
	r.Get("/documents/{id}", s.getDocument)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Get("/stats", s.jobStats)
		r.Post("/cleanup", s.cleanupJobs)
		r.Get("/{id}", s.getJob)
		r.Post("/{id}/retry", s.retryJob)
		r.Post("/{id}/reset", s.resetJob)
		r.Post("/{id}/cancel", s.cancelJob)
	})

	r.Route("/extractions", func(r chi.Router) {
		r.Get("/", s.listExtractions)
		r.Get("/{id}", s.getExtraction)
		r.Post("/{id}/approve", s.approveExtraction)
		r.Post("/{id}/reject", s.rejectExtraction)
		r.Delete("/{id}", s.deleteExtraction)
	})

	r.Route("/therapies", func(r chi.Router) {
		r.Get("/", s.listTherapies)
		r.Get("/{id}", s.getTherapy)
		r.Get("/{id}/approvals", s.listApprovals)
		r.Get("/{id}/revenue-timeline", s.revenueTimeline)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
