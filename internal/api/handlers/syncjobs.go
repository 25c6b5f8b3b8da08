package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/syncjob"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

type SyncJobHandler struct {
	tracker *syncjob.Tracker
	errorWriter
}

func NewSyncJobHandler(tracker *syncjob.Tracker, production bool) *SyncJobHandler {
	return &SyncJobHandler{tracker: tracker, errorWriter: errorWriter{production: production}}
}

func (h *SyncJobHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}

	q := r.URL.Query()
	f := syncjob.ListFilter{
		Status:   models.SyncStatus(q.Get("status")),
		Provider: q.Get("provider"),
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		h.write(w, r, err)
		return
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		h.write(w, r, err)
		return
	}

	jobs, err := h.tracker.List(r.Context(), scope, f)
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *SyncJobHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.write(w, r, apperr.Validation("invalid_job_id", "job id must be a UUID"))
		return
	}
	job, err := h.tracker.Get(r.Context(), scope, id)
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func intParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid_query", name+" must be a non-negative integer").With("param", name)
	}
	return n, nil
}
