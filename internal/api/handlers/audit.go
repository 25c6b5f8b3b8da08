package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/paysync/internal/audit"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

type AuditHandler struct {
	logs audit.Reader
	errorWriter
}

func NewAuditHandler(logs audit.Reader, production bool) *AuditHandler {
	return &AuditHandler{logs: logs, errorWriter: errorWriter{production: production}}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}

	q := audit.Query{Action: r.URL.Query().Get("action")}
	if q.Limit, err = intParam(r.URL.Query(), "limit"); err != nil {
		h.write(w, r, err)
		return
	}
	if q.Offset, err = intParam(r.URL.Query(), "offset"); err != nil {
		h.write(w, r, err)
		return
	}

	logs, err := h.logs.List(r.Context(), scope, q)
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auditLogs": logs, "count": len(logs)})
}
