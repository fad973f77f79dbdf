package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"activity_ingest/internal/cache"
)

const DefaultTTL = 10 * time.Minute

// Key derives a stable marker key for one unit of work.
func Key(service, jobType, integrationID, fingerprint string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{service, jobType, integrationID, fingerprint}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is the content hash of a raw payload.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Guard consults short-lived "processed recently" markers. The store-level unique
// constraints remain the correctness guarantee; markers only skip redundant work.
type Guard struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewGuard(store cache.Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl, now: time.Now}
}

func markerKey(key string) string {
	return "idempotency:done:" + key
}

func claimKey(key string) string {
	return "idempotency:claim:" + key
}

func (g *Guard) HasBeenProcessedRecently(ctx context.Context, key string) (bool, error) {
	_, err := g.store.Get(ctx, markerKey(key))
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check idempotency marker: %w", err)
	}
	return true, nil
}

// CleanupAfterSuccess records the marker and drops any claim held for the key.
func (g *Guard) CleanupAfterSuccess(ctx context.Context, key string) error {
	stamp := []byte(g.now().UTC().Format(time.RFC3339Nano))
	if err := g.store.Set(ctx, markerKey(key), stamp, g.ttl); err != nil {
		return fmt.Errorf("set idempotency marker: %w", err)
	}
	if err := g.store.Del(ctx, claimKey(key)); err != nil {
		return fmt.Errorf("release idempotency claim: %w", err)
	}
	return nil
}

// Claim takes a short exclusive hold on key. False means another worker is on it.
func (g *Guard) Claim(ctx context.Context, key string, hold time.Duration) (bool, error) {
	ok, err := g.store.SetNX(ctx, claimKey(key), []byte("1"), hold)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Release drops a claim after a failed attempt so a retry can take it again.
func (g *Guard) Release(ctx context.Context, key string) error {
	return g.store.Del(ctx, claimKey(key))
}
