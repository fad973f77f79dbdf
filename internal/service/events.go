package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"activity_ingest/internal/domain"
)

// Events backs the public data API.
type Events struct {
	ingest       *Ingest
	events       EventStore
	blocks       BlockStore
	integrations IntegrationStore
	publisher    Publisher
	logger       *slog.Logger
}

func NewEvents(ingest *Ingest, events EventStore, blocks BlockStore, integrations IntegrationStore, publisher Publisher, logger *slog.Logger) *Events {
	return &Events{
		ingest:       ingest,
		events:       events,
		blocks:       blocks,
		integrations: integrations,
		publisher:    publisher,
		logger:       logger.With("component", "events"),
	}
}

func (s *Events) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Get returns the event with its blocks.
func (s *Events) Get(ctx context.Context, id string) (*domain.Event, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	blocks, err := s.blocks.ListByEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	event.Blocks = blocks
	return event, nil
}

type CreateEventRequest struct {
	IntegrationID string            `json:"integration_id"`
	Event         domain.EventInput `json:"event"`
}

// Create writes actor, target, event and blocks atomically.
func (s *Events) Create(ctx context.Context, req CreateEventRequest) (*domain.Event, domain.WriteOutcome, error) {
	integration, err := s.integrations.Get(ctx, req.IntegrationID)
	if err != nil {
		return nil, "", fmt.Errorf("integration %s: %w", req.IntegrationID, err)
	}
	if req.Event.SourceID == "" {
		req.Event.SourceID = "api:" + uuid.NewString()
	}

	w, err := s.ingest.writeEvent(ctx, integration, req.Event)
	if err != nil {
		return nil, "", err
	}
	if action, ok := domain.ChangeFor(w.outcome); ok {
		s.notify(ctx, w.event, action)
	}
	return w.event, w.outcome, nil
}

// Delete soft-deletes the event and its blocks.
func (s *Events) Delete(ctx context.Context, id string) error {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.events.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	s.notify(ctx, event, domain.ChangeDelete)
	return nil
}

func (s *Events) notify(ctx context.Context, event *domain.Event, action domain.ChangeAction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, action); err != nil {
		s.logger.Warn("failed to publish event change", "event_id", event.ID, "action", action, "error", err)
	}
}
