package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/observability"
)

// Ingest is the canonical write helper: objects by natural key, events by
// (integration, source id), blocks by (event, type, title).
type Ingest struct {
	objects   ObjectStore
	events    EventStore
	blocks    BlockStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
}

func NewIngest(
	objects ObjectStore,
	events EventStore,
	blocks BlockStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
) *Ingest {
	return &Ingest{
		objects:   objects,
		events:    events,
		blocks:    blocks,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "ingest"),
	}
}

type written struct {
	event   *domain.Event
	outcome domain.WriteOutcome
}

// Apply writes one conversion result. Each event commits in its own transaction; an event
// that fails validation is skipped, store failures are collected and returned after the rest
// were attempted so the caller can retry.
func (s *Ingest) Apply(ctx context.Context, integration *domain.Integration, converted *domain.Converted) (*domain.ProcessStats, error) {
	start := time.Now()
	stats := &domain.ProcessStats{Service: integration.Service}
	if converted.Empty() {
		return stats, nil
	}

	logger := s.logger.With("service", integration.Service, "integration_id", integration.ID)
	var errs error

	for i := range converted.Objects {
		if _, err := s.upsertObject(ctx, integration.UserID, converted.Objects[i]); err != nil {
			if errors.Is(err, domain.ErrMalformedPayload) {
				stats.Skipped++
				continue
			}
			stats.Errors++
			errs = multierr.Append(errs, err)
			continue
		}
		stats.Objects++
	}

	for i := range converted.Events {
		in := converted.Events[i]
		stats.Items++

		w, err := s.writeEvent(ctx, integration, in)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedPayload) {
				logger.Warn("skipping invalid event", "source_id", in.SourceID, "error", err)
				stats.Skipped++
				continue
			}
			logger.Error("failed to write event", "source_id", in.SourceID, "error", err)
			stats.Errors++
			errs = multierr.Append(errs, fmt.Errorf("event %s: %w", in.SourceID, err))
			continue
		}

		observability.RecordEventWritten(integration.Service, string(w.outcome))
		switch w.outcome {
		case domain.Inserted:
			stats.New++
		case domain.Updated:
			stats.Updated++
		case domain.Suppressed:
			stats.Skipped++
			continue
		}
		if action, ok := domain.ChangeFor(w.outcome); ok {
			s.publish(ctx, logger, stats, w.event, action)
		}
	}

	for _, rec := range converted.Reconcile {
		deleted, err := s.events.DeleteMissing(ctx, integration.ID, rec.Scope, rec.Keep)
		if err != nil {
			stats.Errors++
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", rec.Scope, err))
			continue
		}
		for _, id := range deleted {
			observability.RecordEventWritten(integration.Service, "deleted")
			event := &domain.Event{ID: id, IntegrationID: integration.ID, Service: integration.Service}
			s.publish(ctx, logger, stats, event, domain.ChangeDelete)
		}
		if len(deleted) > 0 {
			logger.Info("reconciled scope", "scope", rec.Scope, "deleted", len(deleted))
		}
	}

	stats.Duration = time.Since(start)
	logger.Debug("applied conversion",
		"new", stats.New,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	return stats, errs
}

func (s *Ingest) publish(ctx context.Context, logger *slog.Logger, stats *domain.ProcessStats, event *domain.Event, action domain.ChangeAction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, action); err != nil {
		logger.Warn("failed to publish event change", "event_id", event.ID, "error", err)
		return
	}
	stats.Published++
}

// writeEvent upserts actor, target, event and blocks in one transaction.
func (s *Ingest) writeEvent(ctx context.Context, integration *domain.Integration, in domain.EventInput) (*written, error) {
	if err := validateEvent(in); err != nil {
		return nil, err
	}

	out := &written{}
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		actorID, err := s.upsertObject(txCtx, integration.UserID, in.Actor)
		if err != nil {
			return fmt.Errorf("upsert actor: %w", err)
		}
		targetID, err := s.upsertObject(txCtx, integration.UserID, in.Target)
		if err != nil {
			return fmt.Errorf("upsert target: %w", err)
		}

		event := &domain.Event{
			SourceID:      in.SourceID,
			Time:          in.Time,
			IntegrationID: integration.ID,
			ActorID:       actorID,
			TargetID:      targetID,
			Service:       integration.Service,
			Domain:        in.Domain,
			Action:        in.Action,
			EventMetadata: in.EventMetadata,
		}
		event.SetValue(in.Value)

		id, outcome, err := s.events.Upsert(txCtx, event)
		if err != nil {
			return fmt.Errorf("upsert event: %w", err)
		}
		event.ID = id
		out.event, out.outcome = event, outcome
		if outcome == domain.Suppressed {
			return nil
		}

		for _, b := range in.Blocks {
			block := toBlock(id, in.Time, b)
			if _, err := s.blocks.Upsert(txCtx, block); err != nil {
				return fmt.Errorf("upsert block %q: %w", b.Title, err)
			}
			event.Blocks = append(event.Blocks, *block)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Ingest) upsertObject(ctx context.Context, userID string, in domain.ObjectInput) (string, error) {
	if strings.TrimSpace(in.Title) == "" || in.Concept == "" || in.Type == "" {
		return "", fmt.Errorf("%w: object needs concept, type and title", domain.ErrMalformedPayload)
	}
	return s.objects.Upsert(ctx, toObject(userID, in))
}

func validateEvent(in domain.EventInput) error {
	var errs error
	if in.SourceID == "" {
		errs = multierr.Append(errs, errors.New("missing source id"))
	}
	if in.Time.IsZero() {
		errs = multierr.Append(errs, errors.New("missing time"))
	}
	if in.Action == "" || in.Domain == "" {
		errs = multierr.Append(errs, errors.New("missing domain or action"))
	}
	if in.Actor.Title == "" || in.Target.Title == "" {
		errs = multierr.Append(errs, errors.New("missing actor or target title"))
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedPayload, errs)
	}
	return nil
}

func toObject(userID string, in domain.ObjectInput) *domain.Object {
	return &domain.Object{
		UserID:   userID,
		Concept:  in.Concept,
		Type:     in.Type,
		Title:    in.Title,
		Content:  optional(in.Content),
		Metadata: in.Metadata,
		URL:      optional(in.URL),
		MediaURL: optional(in.MediaURL),
		Time:     in.Time,
	}
}

func toBlock(eventID string, at time.Time, in domain.BlockInput) *domain.Block {
	block := &domain.Block{
		EventID:   eventID,
		Time:      at,
		BlockType: in.BlockType,
		Title:     in.Title,
		Content:   optional(in.Content),
		Metadata:  in.Metadata,
		URL:       optional(in.URL),
		MediaURL:  optional(in.MediaURL),
	}
	block.SetValue(in.Value)
	return block
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
