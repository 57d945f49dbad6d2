package web

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/logging"
	"github.com/JonMunkholm/segexport/internal/segment"
)

// BeginResponse is returned by POST /api/exports.
type BeginResponse struct {
	OperationID uuid.UUID `json:"operation_id"`
}

// ContinueResponse is returned for each stored or exhausted page.
type ContinueResponse struct {
	OperationID uuid.UUID `json:"operation_id"`
	Page        int       `json:"page"`
	HasMore     bool      `json:"has_more"`
	RowCount    int       `json:"row_count"`
}

// StatusResponse describes an operation.
type StatusResponse struct {
	OperationID uuid.UUID `json:"operation_id"`
	State       string    `json:"state"`
	Segments    int       `json:"segments"`
	WillZip     bool      `json:"will_zip"`
}

// operationID parses the {id} URL parameter. Malformed ids can never name
// an operation, so they are reported as unknown.
func operationID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", segment.ErrUnknownOperation, raw)
	}
	return id, nil
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	id, err := s.exports.Begin(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/exports/"+id.String())
	writeJSON(w, http.StatusCreated, BeginResponse{OperationID: id})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	id, err := operationID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %q", download.ErrInvalidPage, chi.URLParam(r, "page")))
		return
	}

	more, rows, err := s.exports.Continue(r.Context(), id, page)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContinueResponse{
		OperationID: id,
		Page:        page,
		HasMore:     more,
		RowCount:    rows,
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := operationID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	forceZip := false
	if v := r.URL.Query().Get("zip"); v != "" {
		forceZip, err = strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, fmt.Errorf("%w: zip=%q", ErrInvalidQuery, v))
			return
		}
	}

	// The server write timeout counts from the request headers, but the
	// body is only written once assembly is done.
	if s.opts.WriteTimeout > 0 {
		deadline := time.Now().Add(s.opts.CompleteTimeout + s.opts.WriteTimeout)
		if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logging.FromContext(r.Context()).Warn("extend write deadline", "error", err)
		}
	}

	res, err := s.exports.Complete(r.Context(), id, download.WithForceZip(forceZip))
	if err != nil {
		respondError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.ContentType())
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}))
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("X-Export-Segments", strconv.Itoa(res.Segments))
	if res.Format == download.FormatZip {
		h.Set("X-Export-Entries", strconv.Itoa(res.Entries))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := operationID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	st, err := s.exports.Status(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		OperationID: id,
		State:       st.State.String(),
		Segments:    st.Segments,
		WillZip:     st.WillZip,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id, err := operationID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.exports.Cleanup(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
