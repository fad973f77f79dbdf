package outline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
)

const (
	ID          = "outline"
	DisplayName = "Outline"

	SignatureHeader = "Outline-Signature"
	defaultBaseURL  = "https://app.getoutline.com"

	// SignatureTolerance bounds the distance between the signed timestamp and receipt.
	SignatureTolerance = 5 * time.Minute
)

const (
	eventCreate = "documents.create"
	eventUpdate = "documents.update"
	eventDelete = "documents.delete"
)

type Config struct {
	BaseURL string
}

type Plugin struct {
	baseURL string
	logger  *slog.Logger
}

func New(cfg Config, deps provider.Deps) *Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Plugin{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  deps.Logger.With("provider", ID),
	}
}

func (p *Plugin) Identifier() string              { return ID }
func (p *Plugin) DisplayName() string             { return DisplayName }
func (p *Plugin) Capability() provider.Capability { return provider.CapabilityWebhook }
func (p *Plugin) InstanceTypes() []string         { return []string{"documents"} }
func (p *Plugin) SignatureSupported() bool        { return true }

func (p *Plugin) ConfigurationSchema() provider.Schema {
	return provider.Schema{Fields: []provider.Field{
		{Key: "webhook_secret", Label: "Signing secret", Type: provider.FieldString},
		{Key: "track_tasks", Label: "Track checklist items", Type: provider.FieldBoolean, Default: true},
	}}
}

// VerifyWebhookSignature checks a "t=<timestamp>,s=<hex>" header signed over "<timestamp>.<body>".
// The millisecond timestamp must lie within SignatureTolerance of receivedAt, so a captured
// delivery cannot be replayed later.
func (p *Plugin) VerifyWebhookSignature(header http.Header, body []byte, secret string, receivedAt time.Time) error {
	raw := header.Get(SignatureHeader)
	if raw == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrInvalidSignature, SignatureHeader)
	}

	var ts, sig string
	for _, part := range strings.Split(raw, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "s":
			sig = v
		}
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
	}

	signed := make([]byte, 0, len(ts)+1+len(body))
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	if err := provider.VerifyHMACSHA256(secret, signed, sig); err != nil {
		return err
	}

	skew := receivedAt.Sub(time.UnixMilli(ms))
	if skew > SignatureTolerance || skew < -SignatureTolerance {
		return fmt.Errorf("%w: timestamp %s outside tolerance", domain.ErrInvalidSignature, skew.Round(time.Second))
	}
	return nil
}

// Sign produces a header value for body; used by tests and local tooling.
func Sign(secret string, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	return "t=" + ts + ",s=" + provider.SignHMACSHA256(secret, append([]byte(ts+"."), body...))
}

// SplitWebhookData yields one change per document; other event types are ignored.
func (p *Plugin) SplitWebhookData(body []byte) ([]json.RawMessage, error) {
	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}

	switch d.Event {
	case eventCreate, eventUpdate, eventDelete:
	default:
		p.logger.Debug("ignoring outline event", "event", d.Event)
		return nil, nil
	}
	if len(d.Payload.Model) == 0 {
		return nil, fmt.Errorf("%w: %s without document", domain.ErrMalformedPayload, d.Event)
	}

	raw, err := json.Marshal(change{Event: d.Event, DeliveryID: d.ID, Document: d.Payload.Model})
	if err != nil {
		return nil, fmt.Errorf("wrap outline change: %w", err)
	}
	return []json.RawMessage{raw}, nil
}

func (p *Plugin) ConvertData(_ context.Context, integration *domain.Integration, raw json.RawMessage) (*domain.Converted, error) {
	var c change
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	var doc Document
	if err := json.Unmarshal(c.Document, &doc); err != nil {
		return nil, fmt.Errorf("%w: document: %w", domain.ErrMalformedPayload, err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document without id", domain.ErrMalformedPayload)
	}

	at, err := time.Parse(time.RFC3339, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: document %s updatedAt: %w", domain.ErrMalformedPayload, doc.ID, err)
	}

	actor := domain.ObjectInput{Concept: "user", Type: "outline_user", Title: "Outline"}
	if u := doc.UpdatedBy; u != nil && u.Name != "" {
		actor.Title = u.Name
		actor.Metadata = domain.Metadata{"outline_id": u.ID}
	}
	target := domain.ObjectInput{
		Concept: "document",
		Type:    "outline_document",
		Title:   doc.Title,
		URL:     p.baseURL + doc.URL,
	}
	if target.Title == "" {
		target.Title = doc.ID
	}

	action := map[string]string{
		eventCreate: "created_document",
		eventUpdate: "updated_document",
		eventDelete: "deleted_document",
	}[c.Event]
	if action == "" {
		return nil, fmt.Errorf("%w: unknown outline event %q", domain.ErrMalformedPayload, c.Event)
	}

	out := &domain.Converted{Events: []domain.EventInput{{
		SourceID: fmt.Sprintf("document:%s:%s:%s", doc.ID, c.Event, doc.UpdatedAt),
		Time:     at,
		Actor:    actor,
		Target:   target,
		Domain:   "online",
		Action:   action,
		EventMetadata: domain.Metadata{
			"document_id": doc.ID,
			"delivery_id": c.DeliveryID,
		},
	}}}

	if integration != nil {
		if track, ok := integration.Configuration["track_tasks"].(bool); ok && !track {
			return out, nil
		}
	}

	scope := "outline:doc:" + doc.ID
	var tasks []Task
	if c.Event != eventDelete {
		tasks = ParseTasks(doc.ID, doc.Text)
	}

	keep := make([]string, 0, len(tasks))
	for _, t := range tasks {
		keep = append(keep, t.Hash)
		taskAction := "added_task"
		if t.Checked {
			taskAction = "completed_task"
		}
		out.Events = append(out.Events, domain.EventInput{
			SourceID: t.Hash,
			Time:     at,
			Actor:    actor,
			Target:   domain.ObjectInput{Concept: "task", Type: "outline_task", Title: t.Text},
			Domain:   "online",
			Action:   taskAction,
			EventMetadata: domain.Metadata{
				domain.ReconcileScopeKey: scope,
				"document_id":            doc.ID,
				"document_title":         doc.Title,
				"line":                   t.Line,
				"checked":                t.Checked,
			},
		})
	}
	out.Reconcile = []domain.Reconciliation{{Scope: scope, Keep: keep}}
	return out, nil
}

// Task is one checklist line of a document.
type Task struct {
	Line    int
	Text    string
	Checked bool
	Hash    string
}

// ParseTasks extracts markdown checklist items. Line numbers are 1-based.
func ParseTasks(documentID, text string) []Task {
	var tasks []Task
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimLeft(trimmed, "-*+ ")
		if len(trimmed) < 3 || trimmed[0] != '[' || trimmed[2] != ']' {
			continue
		}
		var checked bool
		switch trimmed[1] {
		case ' ':
		case 'x', 'X':
			checked = true
		default:
			continue
		}
		body := strings.TrimSpace(trimmed[3:])
		if body == "" {
			continue
		}
		tasks = append(tasks, Task{
			Line:    i + 1,
			Text:    body,
			Checked: checked,
			Hash:    TaskHash(documentID, i+1, body),
		})
	}
	return tasks
}

// TaskHash identifies a task line independently of its checked state.
func TaskHash(documentID string, line int, text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(documentID + "\x00" + strconv.Itoa(line) + "\x00" + normalized))
	return "task:" + hex.EncodeToString(sum[:])
}
