package ratelimit

import (
	"context"
	"fmt"
	"time"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
)

const quotaRetention = 7 * 24 * time.Hour

// QuotaTracker enforces a hard daily call cap per provider account and endpoint.
type QuotaTracker struct {
	ledger  cache.Ledger
	service string
	cap     int64
	now     func() time.Time
}

func NewQuotaTracker(ledger cache.Ledger, service string, cap int, clock func() time.Time) *QuotaTracker {
	if clock == nil {
		clock = time.Now
	}
	return &QuotaTracker{ledger: ledger, service: service, cap: int64(cap), now: clock}
}

func (q *QuotaTracker) key(account, endpoint string) string {
	return fmt.Sprintf("quota:%s:%s:%s", q.service, account, endpoint)
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Used returns today's recorded calls.
func (q *QuotaTracker) Used(ctx context.Context, account, endpoint string) (int64, error) {
	from, to := dayBounds(q.now())
	n, err := q.ledger.Count(ctx, q.key(account, endpoint), from, to)
	if err != nil {
		return 0, fmt.Errorf("count quota: %w", err)
	}
	return n, nil
}

func (q *QuotaTracker) exhausted(account, endpoint string, used int64) error {
	return fmt.Errorf("%s %s for account %s: %d/%d calls today: %w",
		q.service, endpoint, account, used, q.cap, domain.ErrQuotaExhausted)
}

// Allow fails with ErrQuotaExhausted once today's calls reach the cap. It does not
// hold a slot; use Reserve before a call.
func (q *QuotaTracker) Allow(ctx context.Context, account, endpoint string) error {
	used, err := q.Used(ctx, account, endpoint)
	if err != nil {
		return err
	}
	if used >= q.cap {
		return q.exhausted(account, endpoint, used)
	}
	return nil
}

// Reservation is one call slot taken against today's cap.
type Reservation struct {
	tracker *QuotaTracker
	key     string
	id      string
}

// Release hands the slot back, for calls that did not succeed.
func (r *Reservation) Release(ctx context.Context) error {
	if err := r.tracker.ledger.Release(ctx, r.key, r.id); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

// Reserve takes one slot under the cap atomically, failing with ErrQuotaExhausted
// when none is left.
func (q *QuotaTracker) Reserve(ctx context.Context, account, endpoint string) (*Reservation, error) {
	now := q.now()
	key := q.key(account, endpoint)
	from, to := dayBounds(now)

	id, ok, err := q.ledger.Reserve(ctx, key, now, from, to, q.cap)
	if err != nil {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}
	if !ok {
		return nil, q.exhausted(account, endpoint, q.cap)
	}
	if err := q.ledger.Prune(ctx, key, now.Add(-quotaRetention)); err != nil {
		return nil, fmt.Errorf("prune quota: %w", err)
	}
	return &Reservation{tracker: q, key: key, id: id}, nil
}

// Record counts one call outside of a reservation and prunes entries past retention.
func (q *QuotaTracker) Record(ctx context.Context, account, endpoint string) error {
	now := q.now()
	key := q.key(account, endpoint)
	if err := q.ledger.Record(ctx, key, now); err != nil {
		return fmt.Errorf("record quota: %w", err)
	}
	if err := q.ledger.Prune(ctx, key, now.Add(-quotaRetention)); err != nil {
		return fmt.Errorf("prune quota: %w", err)
	}
	return nil
}
