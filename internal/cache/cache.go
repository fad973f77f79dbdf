package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMiss = errors.New("cache miss")

// Store is a shared key-value store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// GetDel returns the value and removes the key in one step.
	GetDel(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	// DelIfEqual removes key only while it still holds value.
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}

// Ledger keeps timestamped entries per key for windowed counting.
type Ledger interface {
	Record(ctx context.Context, key string, at time.Time) error
	Count(ctx context.Context, key string, from, to time.Time) (int64, error)
	Prune(ctx context.Context, key string, before time.Time) error
	// Reserve records an entry at `at` only while fewer than limit entries fall in
	// [from, to). It returns the entry id to hand back to Release.
	Reserve(ctx context.Context, key string, at, from, to time.Time, limit int64) (string, bool, error)
	Release(ctx context.Context, key, id string) error
}

type Backend interface {
	Store
	Ledger
	Ping(ctx context.Context) error
	Close() error
}

// New returns the in-process backend for addr "memory" and a redis backend otherwise.
func New(addr, password string, db int) Backend {
	if addr == "memory" {
		return NewMemory(nil)
	}
	return NewRedis(addr, password, db)
}

// Locker hands out named locks with a lease.
type Locker struct {
	store Store
}

func NewLocker(store Store) *Locker {
	return &Locker{store: store}
}

// Acquire takes the lock if it is free. The returned release function gives it back
// only while this holder still owns it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := "lock:" + name
	token := []byte(uuid.NewString())

	ok, err := l.store.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}

	release := func(ctx context.Context) error {
		_, err := l.store.DelIfEqual(ctx, key, token)
		return err
	}
	return release, true, nil
}
