package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nikhilbhutani/paysync/internal/cache"
)

type RedisStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewRedisStore(c *cache.Cache, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context, e Entry) (string, error) {
	state, err := newToken()
	if err != nil {
		return "", err
	}
	e.IssuedAt = time.Now().UTC()
	ok, err := s.cache.SetNX(ctx, state, e, s.ttl)
	if err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("store oauth state: token collision")
	}
	return state, nil
}

func (s *RedisStore) Lookup(ctx context.Context, state string) (*Entry, error) {
	var e Entry
	if err := s.cache.Get(ctx, state, &e); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load oauth state: %w", err)
	}
	return &e, nil
}
