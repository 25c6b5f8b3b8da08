package oauthstate

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps states in process. Only valid for a single replica.
type MemoryStore struct {
	c   *gocache.Cache
	ttl time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{c: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (s *MemoryStore) Issue(_ context.Context, e Entry) (string, error) {
	state, err := newToken()
	if err != nil {
		return "", err
	}
	e.IssuedAt = time.Now().UTC()
	if err := s.c.Add(state, e, s.ttl); err != nil {
		return "", err
	}
	return state, nil
}

func (s *MemoryStore) Lookup(_ context.Context, state string) (*Entry, error) {
	v, ok := s.c.Get(state)
	if !ok {
		return nil, ErrNotFound
	}
	e := v.(Entry)
	return &e, nil
}
