package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/logger"
)

const internalMessage = "internal server error"

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorWriter renders apperr values. In production internal failures
// keep their reason but lose message and details.
type errorWriter struct {
	production bool
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	log := logger.FromContext(r.Context())

	switch ae.Kind {
	case apperr.KindInternal:
		log.Error("request failed", zap.String("reason", ae.Reason), zap.Error(err))
	case apperr.KindProvider:
		log.Warn("provider error", zap.String("reason", ae.Reason), zap.Error(err))
	}

	body := errorResponse{Error: ae.Reason, Message: ae.Message, Details: ae.Details}
	if e.production && ae.Kind == apperr.KindInternal {
		body.Message = internalMessage
		body.Details = nil
	}
	writeJSON(w, ae.Kind.HTTPStatus(), body)
}
