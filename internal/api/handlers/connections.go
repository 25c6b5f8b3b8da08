package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

var (
	errInvalidBody = apperr.Validation("invalid_request_body", "request body must be valid JSON")
	errNotSyncable = apperr.Conflict("connection_not_connected", "connection is not in the connected state")
)

type ConnectionHandler struct {
	flow  *connection.Flow
	conns *connection.Service
	sync  connection.SyncScheduler
	errorWriter
}

func NewConnectionHandler(flow *connection.Flow, conns *connection.Service, sync connection.SyncScheduler, production bool) *ConnectionHandler {
	return &ConnectionHandler{flow: flow, conns: conns, sync: sync, errorWriter: errorWriter{production: production}}
}

type initiateRequest struct {
	ReturnURL string `json:"returnUrl"`
}

type callbackResponse struct {
	Message           string `json:"message"`
	ProviderAccountID string `json:"providerAccountId"`
	Provider          string `json:"provider"`
	SyncJobID         string `json:"syncJobId,omitempty"`
}

func (h *ConnectionHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.write(w, r, errInvalidBody)
		return
	}

	res, err := h.flow.Initiate(r.Context(), scope, chi.URLParam(r, "provider"), strings.TrimSpace(req.ReturnURL))
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Callback receives the provider redirect. The scope may be empty here;
// the flow reports a provider error before it insists on a tenant.
func (h *ConnectionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	scope, _ := tenant.ScopeFromContext(r.Context())
	provider := connector.Normalize(chi.URLParam(r, "provider"))

	res, err := h.flow.HandleCallback(r.Context(), scope, provider, callbackParams(r))

	if r.Method == http.MethodGet && res != nil && res.ReturnURL != "" {
		if target := redirectURL(res.ReturnURL, provider, err); target != "" {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}
	if err != nil {
		h.write(w, r, err)
		return
	}

	out := callbackResponse{
		Message:           "connection established",
		ProviderAccountID: res.Connection.ProviderAccountID,
		Provider:          res.Connection.ProviderName,
	}
	if res.InitialJob != nil {
		out.SyncJobID = res.InitialJob.ID.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}
	c, err := h.conns.GetConnection(r.Context(), scope, chi.URLParam(r, "provider"))
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}
	conns, err := h.conns.GetConnections(r.Context(), scope)
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}
	ok, err := h.conns.Disconnect(r.Context(), scope, chi.URLParam(r, "provider"))
	if err != nil {
		h.write(w, r, err)
		return
	}
	if !ok {
		h.write(w, r, connection.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSync enqueues a manual sync for a live connection.
func (h *ConnectionHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		h.write(w, r, err)
		return
	}
	c, err := h.conns.GetConnection(r.Context(), scope, chi.URLParam(r, "provider"))
	if err != nil {
		h.write(w, r, err)
		return
	}
	if c.Status != models.ConnectionConnected {
		h.write(w, r, errNotSyncable.With("status", string(c.Status)))
		return
	}

	job, err := h.sync.ScheduleSync(r.Context(), scope, c.ProviderName, models.JobTypeManualSync)
	if err != nil {
		h.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func callbackParams(r *http.Request) connection.CallbackParams {
	var body struct {
		Code                string `json:"code"`
		State               string `json:"state"`
		Error               string `json:"error"`
		ErrorDescription    string `json:"error_description"`
		ErrorDescriptionAlt string `json:"errorDescription"`
	}
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&body)
	} else {
		_ = r.ParseForm()
	}

	return connection.CallbackParams{
		Code:             first(body.Code, r.FormValue("code")),
		State:            first(body.State, r.FormValue("state")),
		Error:            first(body.Error, r.FormValue("error")),
		ErrorDescription: first(body.ErrorDescription, body.ErrorDescriptionAlt, r.FormValue("error_description"), r.FormValue("errorDescription")),
	}
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func redirectURL(returnURL, provider string, err error) string {
	u, perr := url.Parse(returnURL)
	if perr != nil {
		return ""
	}
	q := u.Query()
	q.Set("provider", provider)
	if err != nil {
		q.Set("status", "error")
		q.Set("reason", apperr.ReasonOf(err))
	} else {
		q.Set("status", "connected")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
