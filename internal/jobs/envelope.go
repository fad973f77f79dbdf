package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindFetch         Kind = "fetch"
	KindProcess       Kind = "process"
	KindWebhook       Kind = "webhook"
	KindInit          Kind = "initialize"
	KindMigrationPage Kind = "migration_page"
	KindBatchMonitor  Kind = "batch_monitor"
)

var Kinds = []Kind{KindFetch, KindProcess, KindWebhook, KindInit, KindMigrationPage, KindBatchMonitor}

// TaskType is the queue-level type name of a kind.
func TaskType(kind Kind) string {
	return "ingest:" + string(kind)
}

// Policy is the retry contract of one job kind.
type Policy struct {
	Timeout time.Duration
	Tries   int
	Backoff []time.Duration
}

var policies = map[Kind]Policy{
	KindFetch:         {Timeout: 120 * time.Second, Tries: 3, Backoff: []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second}},
	KindProcess:       {Timeout: 300 * time.Second, Tries: 2, Backoff: []time.Duration{120 * time.Second, 300 * time.Second}},
	KindWebhook:       {Timeout: 60 * time.Second, Tries: 3, Backoff: []time.Duration{30 * time.Second, 120 * time.Second, 300 * time.Second}},
	KindInit:          {Timeout: 600 * time.Second, Tries: 1},
	KindMigrationPage: {Timeout: 120 * time.Second, Tries: 3, Backoff: []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second}},
	KindBatchMonitor:  {Timeout: 60 * time.Second, Tries: 1},
}

func PolicyFor(kind Kind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return policies[KindFetch]
}

// Delay returns the wait before retry number n (0-based). The last step repeats.
func (p Policy) Delay(n int) time.Duration {
	if len(p.Backoff) == 0 {
		return time.Minute
	}
	if n < 0 {
		n = 0
	}
	if n >= len(p.Backoff) {
		n = len(p.Backoff) - 1
	}
	return p.Backoff[n]
}

// Envelope is the payload every job carries on the queue.
type Envelope struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Service       string          `json:"service"`
	Type          string          `json:"type"`
	IntegrationID string          `json:"integration_id"`
	Discriminator string          `json:"discriminator,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	// Retried counts attempts spent by earlier dispatches of the same logical job.
	Retried int    `json:"retried,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
	// Then is dispatched in order once this job succeeds.
	Then []*Envelope `json:"then,omitempty"`
	// Redispatch marks a re-enqueue of a job that is still running; it skips deduplication.
	Redispatch bool `json:"redispatch,omitempty"`
}

// UniqueID is <service>_<jobType>_<integrationId>_<discriminator>.
func (e *Envelope) UniqueID() string {
	jobType := string(e.Kind)
	if e.Type != "" {
		jobType += ":" + e.Type
	}
	return strings.Join([]string{e.Service, jobType, e.IntegrationID, e.Discriminator}, "_")
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s/%s integration=%s", e.Kind, e.Service, e.Type, e.IntegrationID)
}

// SpanName is job.<kind>:<service>:<type>.
func (e *Envelope) SpanName() string {
	return "job." + string(e.Kind) + ":" + e.Service + ":" + e.Type
}

// WithPayload marshals v into the envelope payload.
func (e *Envelope) WithPayload(v any) (*Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	e.Payload = b
	return e, nil
}

func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Chain links envelopes so each is dispatched after the previous one succeeds.
func Chain(first *Envelope, rest ...*Envelope) *Envelope {
	cur := first
	for _, next := range rest {
		cur.Then = append(cur.Then, next)
		cur = next
	}
	return first
}
