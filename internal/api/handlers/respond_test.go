package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/paysync/internal/apperr"
)

func render(t *testing.T, production bool, err error) (int, errorResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	errorWriter{production: production}.write(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestErrorWriter_StatusByKind(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.Validation("bad", "bad input"), http.StatusBadRequest},
		{apperr.Provider("access_denied", "denied", nil), http.StatusBadGateway},
		{apperr.Conflict("taken", "already linked"), http.StatusConflict},
		{apperr.NotFound("missing", "not here"), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, _ := render(t, false, tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestErrorWriter_MasksInternalInProduction(t *testing.T) {
	err := apperr.Internal("decrypt credentials for tenant 42", errors.New("cipher: message authentication failed")).
		With("provider", "stripe")

	_, body := render(t, false, err)
	assert.Equal(t, "decrypt credentials for tenant 42", body.Message)
	assert.Equal(t, "stripe", body.Details["provider"])

	_, body = render(t, true, err)
	assert.Equal(t, "internal_error", body.Error)
	assert.Equal(t, internalMessage, body.Message)
	assert.Nil(t, body.Details)
}

func TestErrorWriter_KeepsProviderMessageInProduction(t *testing.T) {
	err := apperr.Provider("access_denied", "The user denied your request", nil).With("provider", "paypal")
	code, body := render(t, true, err)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "The user denied your request", body.Message)
	assert.Equal(t, "paypal", body.Details["provider"])
}
