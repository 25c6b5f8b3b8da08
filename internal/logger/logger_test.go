package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info("dropped")
}

func TestWithRequestIDAndTenant(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx, _ := WithRequestID(context.Background(), base, "req-1")
	ctx, _ = WithTenantID(ctx, FromContext(ctx), "t-1")
	FromContext(ctx).Info("hello")

	assert.Equal(t, "req-1", RequestID(ctx))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "t-1", fields["tenant_id"])
}

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		l, err := New(env)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}
