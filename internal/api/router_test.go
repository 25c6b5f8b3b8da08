package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/paysync/internal/audit"
	"github.com/nikhilbhutani/paysync/internal/connection"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/connector/connectortest"
	"github.com/nikhilbhutani/paysync/internal/crypto"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/oauthstate"
	"github.com/nikhilbhutani/paysync/internal/queue"
	"github.com/nikhilbhutani/paysync/internal/syncjob"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

type activeTenants struct{}

func (activeTenants) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	return &models.Tenant{ID: id, IsActive: true}, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	runs []queue.SyncRunPayload
}

func (q *fakeQueue) EnqueueSyncRun(_ context.Context, p queue.SyncRunPayload, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.runs = append(q.runs, p)
	return nil
}

type testServer struct {
	srv    *httptest.Server
	stripe *connectortest.Fake
	q      *fakeQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cipher, err := crypto.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	stripe := connectortest.NewFake("stripe")
	stripe.Display = "Stripe"
	paypal := connectortest.NewFake("paypal")
	paypal.Display = "PayPal"
	reg, err := connector.NewRegistry(stripe, paypal)
	require.NoError(t, err)

	q := &fakeQueue{}
	tracker := syncjob.NewTracker(syncjob.NewMemoryRepository(), 3)
	sched := syncjob.NewScheduler(tracker, q, time.Second)
	logs := audit.NewMemory()
	conns := connection.NewService(connection.NewMemoryRepository(), cipher, logs)
	flow := connection.NewFlow(reg, oauthstate.NewMemoryStore(time.Minute), conns, sched, activeTenants{})

	router := NewRouter(Deps{
		Gatherer:       prometheus.NewRegistry(),
		Registry:       reg,
		Flow:           flow,
		Connections:    conns,
		Scheduler:      sched,
		Tracker:        tracker,
		Audit:          logs,
		AllowedOrigins: []string{"*"},
	})
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, stripe: stripe, q: q}
}

func (s *testServer) do(t *testing.T, method, path string, tenantID uuid.UUID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != uuid.Nil {
		req.Header.Set(tenant.DefaultHeader, tenantID.String())
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type errBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func (s *testServer) initiate(t *testing.T, tenantID uuid.UUID, provider, body string) connection.InitiateResult {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/connections/"+provider+"/initiate", tenantID, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res connection.InitiateResult
	decode(t, resp, &res)
	return res
}

func callbackPath(provider string, tenantID uuid.UUID, q url.Values) string {
	q.Set("tenantId", tenantID.String())
	return "/api/v1/connections/" + provider + "/callback?" + q.Encode()
}

func TestProviders(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/v1/providers", uuid.Nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []connector.ProviderInfo
	decode(t, resp, &got)
	assert.Equal(t, []connector.ProviderInfo{
		{ProviderName: "paypal", DisplayName: "PayPal", SupportsOAuth: true},
		{ProviderName: "stripe", DisplayName: "Stripe", SupportsOAuth: true},
	}, got)
}

func TestInitiate_RequiresTenant(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/v1/connections/stripe/initiate", uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errBody
	decode(t, resp, &body)
	assert.Equal(t, "tenant_not_found", body.Error)
}

func TestInitiate_UnsupportedProvider(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/v1/connections/square/initiate", uuid.New(), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errBody
	decode(t, resp, &body)
	assert.Equal(t, "unsupported_provider", body.Error)
}

func TestConnectionLifecycle(t *testing.T) {
	s := newTestServer(t)
	tenantID := uuid.New()

	init := s.initiate(t, tenantID, "Stripe", "")
	assert.Equal(t, "stripe", init.Provider)
	assert.NotEmpty(t, init.AuthorizationURL)

	s.stripe.Authorize("code-1", "acct_1")
	resp := s.do(t, http.MethodGet, callbackPath("stripe", tenantID, url.Values{"code": {"code-1"}, "state": {init.State}}), uuid.Nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cb map[string]string
	decode(t, resp, &cb)
	assert.Equal(t, "acct_1", cb["providerAccountId"])
	assert.Equal(t, "stripe", cb["provider"])
	assert.NotEmpty(t, cb["message"])
	assert.NotEmpty(t, cb["syncJobId"])

	// A repeated authorization for the same account updates in place.
	init = s.initiate(t, tenantID, "stripe", "")
	s.stripe.Authorize("code-2", "acct_1")
	resp = s.do(t, http.MethodPost, "/api/v1/connections/stripe/callback?tenantId="+tenantID.String(), uuid.Nil,
		`{"code":"code-2","state":"`+init.State+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/connections", tenantID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.ProviderConnection
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "acct_1", list[0].ProviderAccountID)
	assert.Equal(t, models.ConnectionConnected, list[0].Status)

	resp = s.do(t, http.MethodGet, "/api/v1/connections/STRIPE", tenantID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]interface{}
	decode(t, resp, &raw)
	assert.NotContains(t, raw, "accessToken")
	assert.NotContains(t, raw, "refreshToken")

	resp = s.do(t, http.MethodPost, "/api/v1/connections/stripe/sync", tenantID, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job models.SyncJob
	decode(t, resp, &job)
	assert.Equal(t, models.JobTypeManualSync, job.JobType)
	assert.Equal(t, models.SyncPending, job.Status)

	resp = s.do(t, http.MethodGet, "/api/v1/sync-jobs/"+job.ID.String(), tenantID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/sync-jobs?status=pending", tenantID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []models.SyncJob
	decode(t, resp, &jobs)
	assert.Len(t, jobs, 3)
	assert.Len(t, s.q.runs, 3)

	resp = s.do(t, http.MethodDelete, "/api/v1/connections/stripe", tenantID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodDelete, "/api/v1/connections/stripe", tenantID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/v1/connections/stripe", tenantID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/v1/connections/stripe/sync", tenantID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/audit-logs?action="+audit.ActionDisconnected, tenantID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs struct {
		AuditLogs []models.AuditLog `json:"auditLogs"`
		Count     int               `json:"count"`
	}
	decode(t, resp, &logs)
	assert.Equal(t, 1, logs.Count)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	a, b := uuid.New(), uuid.New()

	init := s.initiate(t, a, "stripe", "")
	s.stripe.Authorize("code-a", "acct_A")
	resp := s.do(t, http.MethodGet, callbackPath("stripe", a, url.Values{"code": {"code-a"}, "state": {init.State}}), uuid.Nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/connections/stripe", b, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/v1/sync-jobs", b, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []models.SyncJob
	decode(t, resp, &jobs)
	assert.Empty(t, jobs)

	// State issued to tenant a cannot be redeemed by tenant b.
	init = s.initiate(t, a, "stripe", "")
	s.stripe.Authorize("code-b", "acct_B")
	resp = s.do(t, http.MethodGet, callbackPath("stripe", b, url.Values{"code": {"code-b"}, "state": {init.State}}), uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errBody
	decode(t, resp, &body)
	assert.Equal(t, "invalid_state", body.Error)

	// The same provider account cannot be linked to a second tenant.
	init = s.initiate(t, b, "stripe", "")
	s.stripe.Authorize("code-a2", "acct_A")
	resp = s.do(t, http.MethodGet, callbackPath("stripe", b, url.Values{"code": {"code-a2"}, "state": {init.State}}), uuid.Nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, "account_already_linked", body.Error)
}

func TestCallback_ProviderError(t *testing.T) {
	s := newTestServer(t)
	q := url.Values{"error": {"access_denied"}, "error_description": {"The user denied your request"}}
	resp := s.do(t, http.MethodGet, "/api/v1/connections/stripe/callback?"+q.Encode(), uuid.Nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body errBody
	decode(t, resp, &body)
	assert.Equal(t, "access_denied", body.Error)
	assert.Equal(t, "The user denied your request", body.Message)
	assert.Equal(t, "access_denied", body.Details["error"])
	assert.Equal(t, "stripe", body.Details["provider"])
}

func TestCallback_MissingParams(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, callbackPath("stripe", uuid.New(), url.Values{"code": {"x"}}), uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errBody
	decode(t, resp, &body)
	assert.Equal(t, "missing_oauth_parameters", body.Error)
}

func TestCallback_RejectedCode(t *testing.T) {
	s := newTestServer(t)
	tenantID := uuid.New()
	init := s.initiate(t, tenantID, "stripe", "")

	resp := s.do(t, http.MethodGet, callbackPath("stripe", tenantID, url.Values{"code": {"bogus"}, "state": {init.State}}), uuid.Nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body errBody
	decode(t, resp, &body)
	assert.Equal(t, "invalid_grant", body.Error)
}

func TestCallback_RedirectsToReturnURL(t *testing.T) {
	s := newTestServer(t)
	tenantID := uuid.New()
	init := s.initiate(t, tenantID, "stripe", `{"returnUrl":"https://app.example.com/settings?tab=payments"}`)

	s.stripe.Authorize("code-1", "acct_1")
	resp := s.do(t, http.MethodGet, callbackPath("stripe", tenantID, url.Values{"code": {"code-1"}, "state": {init.State}}), uuid.Nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "connected", loc.Query().Get("status"))
	assert.Equal(t, "stripe", loc.Query().Get("provider"))
	assert.Equal(t, "payments", loc.Query().Get("tab"))

	init = s.initiate(t, tenantID, "stripe", `{"returnUrl":"https://app.example.com/settings"}`)
	resp = s.do(t, http.MethodGet, callbackPath("stripe", tenantID, url.Values{"code": {"bogus"}, "state": {init.State}}), uuid.Nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err = url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "error", loc.Query().Get("status"))
	assert.Equal(t, "invalid_grant", loc.Query().Get("reason"))
}

func TestInitiate_RejectsRelativeReturnURL(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/v1/connections/stripe/initiate", uuid.New(), `{"returnUrl":"/settings"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncJobs_BadQuery(t *testing.T) {
	s := newTestServer(t)
	tenantID := uuid.New()

	resp := s.do(t, http.MethodGet, "/api/v1/sync-jobs?limit=-1", tenantID, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/v1/sync-jobs/not-a-uuid", tenantID, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/v1/sync-jobs/"+uuid.NewString(), tenantID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", uuid.Nil, "").StatusCode)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", uuid.Nil, "").StatusCode)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", uuid.Nil, "").StatusCode)
}
