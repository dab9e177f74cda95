package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/therapy-intel/internal/apperr"
)

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, apperr.BadRequest("upload exceeds %d bytes", s.deps.MaxUploadBytes))
			return
		}
		s.respondError(w, r, apperr.BadRequest("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, apperr.BadRequest("missing file field"))
		return
	}
	defer file.Close() //nolint:errcheck

	priority := 0
	if raw := r.FormValue("priority"); raw != "" {
		priority, err = strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, r, apperr.BadRequest("priority must be an integer, got %q", raw))
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, apperr.BadRequest("read upload: %v", err))
		return
	}

	res, err := s.deps.Documents.Ingest(r.Context(), header.Filename, header.Header.Get("Content-Type"), data, priority)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}
