package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	jobs, err := s.deps.Queue.List(r.Context(), store.JobFilter{
		Status:     model.JobStatus(r.URL.Query().Get("status")),
		DocumentID: r.URL.Query().Get("document_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Queue.Retry)
}

func (s *Server) resetJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Queue.Reset)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Queue.Cancel)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*model.Job, error)) {
	job, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) cleanupJobs(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", s.deps.RetentionDays)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	deleted, err := s.deps.Queue.Cleanup(r.Context(), days)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "days": days})
}
