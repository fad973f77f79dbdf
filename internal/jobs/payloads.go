package jobs

import (
	"encoding/json"
	"net/http"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/idempotency"
)

// ProcessPayload carries raw provider items, inline or parked in the cache under StashKey.
type ProcessPayload struct {
	Items    []json.RawMessage `json:"items,omitempty"`
	StashKey string            `json:"stash_key,omitempty"`
	Cursor   *domain.Cursor    `json:"cursor,omitempty"`
}

type WebhookPayload struct {
	Body       []byte      `json:"body"`
	Header     http.Header `json:"header"`
	ReceivedAt time.Time   `json:"received_at,omitempty"`
}

// MonitorPayload tracks a batch-then-process backfill. ProcessBatchID is set once the
// fetch batch drained and the process jobs went out.
type MonitorPayload struct {
	FetchBatchID   string   `json:"fetch_batch_id"`
	ProcessBatchID string   `json:"process_batch_id,omitempty"`
	StashPrefix    string   `json:"stash_prefix"`
	Units          []string `json:"units"`
	Polls          int      `json:"polls"`
}

func base(kind Kind, integration *domain.Integration, discriminator string) *Envelope {
	return &Envelope{
		Kind:          kind,
		Service:       integration.Service,
		Type:          integration.InstanceType,
		IntegrationID: integration.ID,
		Discriminator: discriminator,
	}
}

// NewFetch builds a scheduled or manual fetch. The discriminator distinguishes trigger slots.
func NewFetch(integration *domain.Integration, discriminator string) *Envelope {
	return base(KindFetch, integration, discriminator)
}

func NewInit(integration *domain.Integration) *Envelope {
	return base(KindInit, integration, "init")
}

// NewProcess builds a process job whose discriminator is the content hash of its payload.
func NewProcess(integration *domain.Integration, p ProcessPayload) (*Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	env := base(KindProcess, integration, idempotency.Fingerprint(raw)[:16])
	env.Payload = raw
	return env, nil
}

func NewWebhook(integration *domain.Integration, p WebhookPayload) (*Envelope, error) {
	env := base(KindWebhook, integration, idempotency.Fingerprint(p.Body)[:16])
	return env.WithPayload(p)
}
