package oauthstate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IssueLookup(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	tenantID := uuid.New()

	state, err := s.Issue(ctx, Entry{TenantID: tenantID, Provider: "stripe", ReturnURL: "https://app/x"})
	require.NoError(t, err)
	assert.Len(t, state, 43)

	e, err := s.Lookup(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, tenantID, e.TenantID)
	assert.Equal(t, "stripe", e.Provider)
	assert.Equal(t, "https://app/x", e.ReturnURL)
	assert.False(t, e.IssuedAt.IsZero())

	again, err := s.Lookup(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, e.TenantID, again.TenantID)
}

func TestMemoryStore_UniqueStates(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		st, err := s.Issue(context.Background(), Entry{TenantID: uuid.New(), Provider: "paypal"})
		require.NoError(t, err)
		assert.False(t, seen[st])
		seen[st] = true
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	st, err := s.Issue(context.Background(), Entry{TenantID: uuid.New(), Provider: "stripe"})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = s.Lookup(context.Background(), st)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Lookup(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrNotFound)
}
