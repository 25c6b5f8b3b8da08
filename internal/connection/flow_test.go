package connection

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/paysync/internal/apperr"
	"github.com/nikhilbhutani/paysync/internal/connector"
	"github.com/nikhilbhutani/paysync/internal/connector/connectortest"
	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/oauthstate"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []models.SyncJob
}

func (s *recordingScheduler) ScheduleSync(_ context.Context, scope tenant.Scope, provider, jobType string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := provider
	job := models.SyncJob{ID: uuid.New(), TenantID: scope.TenantID(), JobType: jobType, Status: models.SyncPending, ProviderName: &p}
	s.jobs = append(s.jobs, job)
	return &job, nil
}

// tenantDirectory treats every tenant as active unless told otherwise.
type tenantDirectory struct {
	mu       sync.Mutex
	inactive map[uuid.UUID]bool
	missing  map[uuid.UUID]bool
}

func (d *tenantDirectory) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.missing[id] {
		return nil, tenant.ErrTenantNotFound
	}
	return &models.Tenant{ID: id, IsActive: !d.inactive[id]}, nil
}

func (d *tenantDirectory) deactivate(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inactive[id] = true
}

func (d *tenantDirectory) remove(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missing[id] = true
}

type flowHarness struct {
	*harness
	stripe  *connectortest.Fake
	sched   *recordingScheduler
	tenants *tenantDirectory
	flow    *Flow
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	h := newHarness(t)
	stripe := connectortest.NewFake("stripe")
	noOAuth := connectortest.NewFake("manual")
	noOAuth.NoOAuth = true
	reg, err := connector.NewRegistry(stripe, noOAuth)
	require.NoError(t, err)
	sched := &recordingScheduler{}
	tenants := &tenantDirectory{inactive: map[uuid.UUID]bool{}, missing: map[uuid.UUID]bool{}}
	return &flowHarness{
		harness: h,
		stripe:  stripe,
		sched:   sched,
		tenants: tenants,
		flow:    NewFlow(reg, oauthstate.NewMemoryStore(time.Minute), h.svc, sched, tenants),
	}
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestFlow_EndToEnd(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	scope := newScope(t)

	init, err := f.flow.Initiate(ctx, scope, "stripe", "")
	require.NoError(t, err)
	require.NotEmpty(t, init.State)
	assert.Equal(t, init.State, stateFromURL(t, init.AuthorizationURL))

	f.stripe.Authorize("code-1", "acct_T")
	res, err := f.flow.HandleCallback(ctx, scope, "stripe", CallbackParams{Code: "code-1", State: init.State})
	require.NoError(t, err)
	assert.Equal(t, "acct_T", res.Connection.ProviderAccountID)
	assert.Equal(t, models.ConnectionConnected, res.Connection.Status)
	require.NotNil(t, res.InitialJob)
	assert.Equal(t, models.JobTypeInitialSync, res.InitialJob.JobType)

	// Repeat with a fresh code and the same state.
	f.stripe.Authorize("code-2", "acct_T")
	res2, err := f.flow.HandleCallback(ctx, scope, "stripe", CallbackParams{Code: "code-2", State: init.State})
	require.NoError(t, err)
	assert.Equal(t, res.Connection.ID, res2.Connection.ID)

	list, err := f.svc.GetConnections(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, 1)
	creds, err := f.svc.Credentials(ctx, scope, "stripe")
	require.NoError(t, err)
	assert.Equal(t, "at_code-2_2", creds.AccessToken)

	ok, err := f.svc.Disconnect(ctx, scope, "stripe")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.svc.GetConnection(ctx, scope, "stripe")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = f.svc.Disconnect(ctx, scope, "stripe")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlow_InitiateErrors(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	scope := newScope(t)

	_, err := f.flow.Initiate(ctx, scope, "square", "")
	assert.Equal(t, "unsupported_provider", apperr.ReasonOf(err))

	_, err = f.flow.Initiate(ctx, scope, "manual", "")
	assert.ErrorIs(t, err, ErrOAuthUnsupported)

	_, err = f.flow.Initiate(ctx, scope, "stripe", "javascript:alert(1)")
	assert.ErrorIs(t, err, ErrInvalidReturnURL)

	_, err = f.flow.Initiate(ctx, tenant.Scope{}, "stripe", "")
	assert.ErrorIs(t, err, tenant.ErrTenantRequired)
}

func TestFlow_ProviderReportedError(t *testing.T) {
	f := newFlowHarness(t)
	scope := newScope(t)
	init, err := f.flow.Initiate(context.Background(), scope, "stripe", "https://app.example.com/settings")
	require.NoError(t, err)

	res, err := f.flow.HandleCallback(context.Background(), scope, "stripe", CallbackParams{
		State: init.State, Error: "access_denied", ErrorDescription: "The user denied your request",
	})
	require.Error(t, err)
	ae := apperr.From(err)
	assert.Equal(t, apperr.KindProvider, ae.Kind)
	assert.Equal(t, "access_denied", ae.Details["error"])
	assert.Equal(t, "The user denied your request", ae.Details["error_description"])
	assert.Equal(t, "https://app.example.com/settings", res.ReturnURL)
	assert.Zero(t, f.stripe.Calls())
}

func TestFlow_MissingParams(t *testing.T) {
	f := newFlowHarness(t)
	scope := newScope(t)

	_, err := f.flow.HandleCallback(context.Background(), scope, "stripe", CallbackParams{Code: "x"})
	assert.ErrorIs(t, err, ErrMissingOAuthParams)
	_, err = f.flow.HandleCallback(context.Background(), scope, "stripe", CallbackParams{State: "x"})
	assert.ErrorIs(t, err, ErrMissingOAuthParams)
}

func TestFlow_StateBoundToTenantAndProvider(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	owner, intruder := newScope(t), newScope(t)
	f.stripe.Authorize("code", "acct_1")

	init, err := f.flow.Initiate(ctx, owner, "stripe", "")
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(ctx, intruder, "stripe", CallbackParams{Code: "code", State: init.State})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.flow.HandleCallback(ctx, owner, "stripe", CallbackParams{Code: "code", State: "forged"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, f.stripe.Calls())
}

func TestFlow_ExchangeFailures(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	scope := newScope(t)
	init, err := f.flow.Initiate(ctx, scope, "stripe", "")
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(ctx, scope, "stripe", CallbackParams{Code: "unknown", State: init.State})
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))
	assert.Equal(t, "invalid_grant", apperr.ReasonOf(err))
	assert.ErrorIs(t, err, connector.ErrProviderRejected)

	f.stripe.FailNext(connector.Unavailable("stripe", context.DeadlineExceeded))
	_, err = f.flow.HandleCallback(ctx, scope, "stripe", CallbackParams{Code: "any", State: init.State})
	assert.Equal(t, "provider_unavailable", apperr.ReasonOf(err))
	assert.ErrorIs(t, err, connector.ErrProviderUnavailable)

	list, err := f.svc.GetConnections(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.sched.jobs)
}

func TestFlow_AccountLinkedElsewhere(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	t1, t2 := newScope(t), newScope(t)
	f.stripe.Authorize("c1", "acct_shared")
	f.stripe.Authorize("c2", "acct_shared")

	s1, err := f.flow.Initiate(ctx, t1, "stripe", "")
	require.NoError(t, err)
	_, err = f.flow.HandleCallback(ctx, t1, "stripe", CallbackParams{Code: "c1", State: s1.State})
	require.NoError(t, err)

	s2, err := f.flow.Initiate(ctx, t2, "stripe", "")
	require.NoError(t, err)
	_, err = f.flow.HandleCallback(ctx, t2, "stripe", CallbackParams{Code: "c2", State: s2.State})
	assert.ErrorIs(t, err, ErrAccountLinked)
}

func TestFlow_InitiateRejectsUnknownTenant(t *testing.T) {
	f := newFlowHarness(t)
	scope := newScope(t)
	f.tenants.remove(scope.TenantID())

	_, err := f.flow.Initiate(context.Background(), scope, "stripe", "")
	assert.ErrorIs(t, err, tenant.ErrTenantRequired)
	assert.Equal(t, "tenant_not_found", apperr.ReasonOf(err))
}

func TestFlow_InitiateRejectsInactiveTenant(t *testing.T) {
	f := newFlowHarness(t)
	scope := newScope(t)
	f.tenants.deactivate(scope.TenantID())

	_, err := f.flow.Initiate(context.Background(), scope, "stripe", "")
	assert.ErrorIs(t, err, tenant.ErrTenantRequired)
}

func TestFlow_CallbackRejectsTenantDeactivatedMidFlow(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	scope := newScope(t)

	init, err := f.flow.Initiate(ctx, scope, "stripe", "")
	require.NoError(t, err)
	f.tenants.deactivate(scope.TenantID())

	f.stripe.Authorize("code-1", "acct_T")
	_, err = f.flow.HandleCallback(ctx, scope, "stripe", CallbackParams{Code: "code-1", State: init.State})
	assert.ErrorIs(t, err, tenant.ErrTenantRequired)
	assert.Equal(t, 0, f.stripe.Calls(), "the code is not exchanged")

	_, err = f.svc.GetConnection(ctx, scope, "stripe")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.sched.jobs)
}

func TestFlow_CallbackRejectsUnknownTenant(t *testing.T) {
	f := newFlowHarness(t)
	ctx := context.Background()
	scope := newScope(t)

	init, err := f.flow.Initiate(ctx, scope, "stripe", "")
	require.NoError(t, err)
	f.tenants.remove(scope.TenantID())

	f.stripe.Authorize("code-1", "acct_T")
	_, err = f.flow.HandleCallback(ctx, scope, "stripe", CallbackParams{Code: "code-1", State: init.State})
	assert.ErrorIs(t, err, tenant.ErrTenantRequired)
	assert.Equal(t, 0, f.stripe.Calls())
}
