package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

type mark struct {
	id string
	at time.Time
}

// Memory is an in-process backend for development and tests.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
	ledgers map[string][]mark
}

// NewMemory builds a Memory backend. A nil clock uses time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		now:     clock,
		entries: make(map[string]entry),
		ledgers: make(map[string][]mark),
	}
}

// lookup must be called with mu held.
func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) store(key string, value []byte, ttl time.Duration) {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store(key, value, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

func (m *Memory) GetDel(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrMiss
	}
	delete(m.entries, key)
	return e.value, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	delete(m.ledgers, key)
	return nil
}

func (m *Memory) DelIfEqual(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) Record(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ledgers[key] = append(m.ledgers[key], mark{id: uuid.NewString(), at: at})
	return nil
}

// count must be called with mu held.
func (m *Memory) count(key string, from, to time.Time) int64 {
	var n int64
	for _, e := range m.ledgers[key] {
		if !e.at.Before(from) && e.at.Before(to) {
			n++
		}
	}
	return n
}

func (m *Memory) Count(_ context.Context, key string, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.count(key, from, to), nil
}

func (m *Memory) Reserve(_ context.Context, key string, at, from, to time.Time, limit int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count(key, from, to) >= limit {
		return "", false, nil
	}
	id := uuid.NewString()
	m.ledgers[key] = append(m.ledgers[key], mark{id: id, at: at})
	return id, true, nil
}

func (m *Memory) Release(_ context.Context, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	marks := m.ledgers[key]
	for i, e := range marks {
		if e.id == id {
			m.ledgers[key] = append(marks[:i], marks[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Prune(_ context.Context, key string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.ledgers[key][:0]
	for _, e := range m.ledgers[key] {
		if !e.at.Before(before) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(m.ledgers, key)
		return nil
	}
	m.ledgers[key] = kept
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
