package outline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
)

const secret = "shh"

func newPlugin() *Plugin {
	return New(Config{BaseURL: "https://docs.example.com"}, provider.Deps{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})
}

func deliveryBody(t *testing.T, event, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":    "delivery-1",
		"event": event,
		"payload": map[string]any{
			"id": "doc-1",
			"model": map[string]any{
				"id":        "doc-1",
				"title":     "Weekly plan",
				"text":      text,
				"url":       "/doc/weekly-plan-abc",
				"updatedAt": "2024-06-01T09:00:00Z",
				"updatedBy": map[string]any{"id": "u1", "name": "Sam"},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestVerifyWebhookSignature(t *testing.T) {
	p := newPlugin()
	body := deliveryBody(t, eventUpdate, "")

	now := time.Now()
	header := http.Header{}
	header.Set(SignatureHeader, Sign(secret, now, body))
	assert.NoError(t, p.VerifyWebhookSignature(header, body, secret, now))

	assert.ErrorIs(t, p.VerifyWebhookSignature(header, body, "other", now), domain.ErrInvalidSignature)
	assert.ErrorIs(t, p.VerifyWebhookSignature(header, append(body, ' '), secret, now), domain.ErrInvalidSignature)
	assert.ErrorIs(t, p.VerifyWebhookSignature(http.Header{}, body, secret, now), domain.ErrInvalidSignature)

	header.Set(SignatureHeader, "t=abc,s=00")
	assert.ErrorIs(t, p.VerifyWebhookSignature(header, body, secret, now), domain.ErrInvalidSignature)
}

func TestVerifyWebhookSignature_TimestampTolerance(t *testing.T) {
	p := newPlugin()
	body := deliveryBody(t, eventUpdate, "")
	signedAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	header := http.Header{}
	header.Set(SignatureHeader, Sign(secret, signedAt, body))

	assert.NoError(t, p.VerifyWebhookSignature(header, body, secret, signedAt.Add(SignatureTolerance)))
	assert.NoError(t, p.VerifyWebhookSignature(header, body, secret, signedAt.Add(-time.Minute)))

	err := p.VerifyWebhookSignature(header, body, secret, signedAt.Add(SignatureTolerance+time.Second))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Contains(t, err.Error(), "outside tolerance")

	err = p.VerifyWebhookSignature(header, body, secret, signedAt.Add(-SignatureTolerance-time.Second))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestSplitWebhookData(t *testing.T) {
	p := newPlugin()

	chunks, err := p.SplitWebhookData(deliveryBody(t, eventUpdate, "hello"))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	chunks, err = p.SplitWebhookData(deliveryBody(t, "collections.create", ""))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = p.SplitWebhookData([]byte("{"))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestConvertData_TasksAndReconcile(t *testing.T) {
	p := newPlugin()
	text := "# Plan\n- [ ] Write report\n- [x] Book  flights\nnot a task\n- [link](https://x)\n"

	chunks, err := p.SplitWebhookData(deliveryBody(t, eventUpdate, text))
	require.NoError(t, err)

	converted, err := p.ConvertData(context.Background(), &domain.Integration{ID: "int-1"}, chunks[0])
	require.NoError(t, err)
	require.Len(t, converted.Events, 3)

	doc := converted.Events[0]
	assert.Equal(t, "updated_document", doc.Action)
	assert.Equal(t, "Sam", doc.Actor.Title)
	assert.Equal(t, "https://docs.example.com/doc/weekly-plan-abc", doc.Target.URL)

	write, book := converted.Events[1], converted.Events[2]
	assert.Equal(t, "added_task", write.Action)
	assert.Equal(t, "completed_task", book.Action)
	assert.Equal(t, TaskHash("doc-1", 2, "write report"), write.SourceID)
	assert.Equal(t, TaskHash("doc-1", 3, "book flights"), book.SourceID)
	assert.Equal(t, "outline:doc:doc-1", write.EventMetadata[domain.ReconcileScopeKey])

	require.Len(t, converted.Reconcile, 1)
	assert.Equal(t, "outline:doc:doc-1", converted.Reconcile[0].Scope)
	assert.Equal(t, []string{write.SourceID, book.SourceID}, converted.Reconcile[0].Keep)
}

func TestTaskHash_StableAcrossCheckedState(t *testing.T) {
	open := ParseTasks("doc-1", "- [ ] Call the bank")
	done := ParseTasks("doc-1", "- [x] call  the bank ")
	require.Len(t, open, 1)
	require.Len(t, done, 1)
	assert.Equal(t, open[0].Hash, done[0].Hash)

	moved := ParseTasks("doc-1", "\n- [ ] Call the bank")
	assert.NotEqual(t, open[0].Hash, moved[0].Hash)
}

func TestConvertData_DeleteRemovesAllTasks(t *testing.T) {
	p := newPlugin()
	chunks, err := p.SplitWebhookData(deliveryBody(t, eventDelete, "- [ ] still here"))
	require.NoError(t, err)

	converted, err := p.ConvertData(context.Background(), &domain.Integration{ID: "int-1"}, chunks[0])
	require.NoError(t, err)
	require.Len(t, converted.Events, 1)
	assert.Equal(t, "deleted_document", converted.Events[0].Action)
	require.Len(t, converted.Reconcile, 1)
	assert.Empty(t, converted.Reconcile[0].Keep)
}
