package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/export"
	"github.com/sells-group/therapy-intel/internal/model"
)

func (s *Server) listTherapies(w http.ResponseWriter, r *http.Request) {
	therapies, err := s.deps.Therapies.ListTherapies(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if therapies == nil {
		therapies = []model.Therapy{}
	}
	respondJSON(w, http.StatusOK, therapies)
}

func (s *Server) getTherapy(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Therapies.GetTherapy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Therapies.GetTherapy(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	approvals, err := s.deps.Therapies.ListApprovals(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if approvals == nil {
		approvals = []model.TherapyApproval{}
	}
	respondJSON(w, http.StatusOK, approvals)
}

// revenueTimeline serves the resolved timeline as JSON, or CSV/XLSX with
// ?format=.
func (s *Server) revenueTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.deps.Therapies.GetTherapy(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rows, err := s.deps.Revenue.Timeline(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	names := export.Names{t.ID: t.Name}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		if rows == nil {
			rows = []model.ProcessedRevenue{}
		}
		respondJSON(w, http.StatusOK, rows)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-revenue.csv"))
		if err := export.WriteCSV(w, rows, names); err != nil {
			s.log.Error("write csv timeline", zap.String("therapy_id", id), zap.Error(err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-revenue.xlsx"))
		if err := export.WriteXLSX(w, rows, names); err != nil {
			s.log.Error("write xlsx timeline", zap.String("therapy_id", id), zap.Error(err))
		}
	default:
		s.respondError(w, r, apperr.BadRequest("unknown format %q", format))
	}
}
