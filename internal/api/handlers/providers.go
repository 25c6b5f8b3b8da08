package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/paysync/internal/connector"
)

type ProviderHandler struct {
	registry *connector.Registry
}

func NewProviderHandler(registry *connector.Registry) *ProviderHandler {
	return &ProviderHandler{registry: registry}
}

func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Providers())
}
