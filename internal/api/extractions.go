package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

type decisionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) listExtractions(w http.ResponseWriter, r *http.Request) {
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

	exts, err := s.deps.Review.List(r.Context(), store.ExtractionFilter{
		Status: model.ReviewStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if exts == nil {
		exts = []model.Extraction{}
	}
	respondJSON(w, http.StatusOK, exts)
}

func (s *Server) getExtraction(w http.ResponseWriter, r *http.Request) {
	ext, err := s.deps.Review.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ext)
}

func (s *Server) approveExtraction(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	summary, err := s.deps.Review.Approve(r.Context(), chi.URLParam(r, "id"), actor(r), req.Notes)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) rejectExtraction(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	ext, err := s.deps.Review.Reject(r.Context(), chi.URLParam(r, "id"), actor(r), req.Notes)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ext)
}

func (s *Server) deleteExtraction(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Review.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}
