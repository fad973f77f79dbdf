// Package jobstest provides an in-memory queue for deterministic tests.
package jobstest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"activity_ingest/internal/jobs"
)

type Enqueued struct {
	Env   *jobs.Envelope
	Delay time.Duration
}

// Queue records enqueued envelopes and drops duplicates of work still pending, like the real transport.
type Queue struct {
	mu      sync.Mutex
	pending map[string]bool
	jobs    []Enqueued
	// Err, when set, is returned by every Enqueue.
	Err error
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string]bool)}
}

func (q *Queue) Enqueue(_ context.Context, env *jobs.Envelope, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Err != nil {
		return q.Err
	}
	if !env.Redispatch {
		id := env.UniqueID()
		if q.pending[id] {
			return nil
		}
		q.pending[id] = true
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	q.jobs = append(q.jobs, Enqueued{Env: env, Delay: delay})
	return nil
}

// Jobs returns everything enqueued so far.
func (q *Queue) Jobs() []Enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Enqueued(nil), q.jobs...)
}

// Kind returns the enqueued envelopes of one kind.
func (q *Queue) Kind(kind jobs.Kind) []*jobs.Envelope {
	var out []*jobs.Envelope
	for _, j := range q.Jobs() {
		if j.Env.Kind == kind {
			out = append(out, j.Env)
		}
	}
	return out
}

// Pop removes and returns the oldest job, releasing its unique id.
func (q *Queue) Pop() (Enqueued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Enqueued{}, false
	}
	next := q.jobs[0]
	q.jobs = q.jobs[1:]
	if !next.Env.Redispatch {
		delete(q.pending, next.Env.UniqueID())
	}
	return next, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
	q.pending = make(map[string]bool)
}
