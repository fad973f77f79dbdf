package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activity_ingest/internal/cache"
)

// ResponseCache keeps provider responses per account and resource.
type ResponseCache struct {
	store   cache.Store
	service string
}

func NewResponseCache(store cache.Store, service string) *ResponseCache {
	return &ResponseCache{store: store, service: service}
}

func (c *ResponseCache) key(account, resource string) string {
	return fmt.Sprintf("response:%s:%s:%s", c.service, account, resource)
}

// Get returns the cached body and whether it was found.
func (c *ResponseCache) Get(ctx context.Context, account, resource string) ([]byte, bool, error) {
	body, err := c.store.Get(ctx, c.key(account, resource))
	if errors.Is(err, cache.ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read response cache: %w", err)
	}
	return body, true, nil
}

func (c *ResponseCache) Put(ctx context.Context, account, resource string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.store.Set(ctx, c.key(account, resource), body, ttl); err != nil {
		return fmt.Errorf("write response cache: %w", err)
	}
	return nil
}
