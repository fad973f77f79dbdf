package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"activity_ingest/internal/domain"
)

const eventColumns = `id, source_id, time, integration_id, actor_id, target_id, service, domain, action,
	value, value_multiplier, value_unit, event_metadata, created_at, updated_at, deleted_at`

const defaultPerPage = 50

type EventStore struct {
	db *sqlx.DB
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

// Upsert writes the event keyed by (integration_id, source_id). Soft-deleted rows are
// never resurrected; they report domain.Suppressed.
func (s *EventStore) Upsert(ctx context.Context, event *domain.Event) (string, domain.WriteOutcome, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	query := `
		INSERT INTO events (
			id, source_id, time, integration_id, actor_id, target_id, service, domain, action,
			value, value_multiplier, value_unit, event_metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (integration_id, source_id) DO UPDATE SET
			time = EXCLUDED.time,
			actor_id = EXCLUDED.actor_id,
			target_id = EXCLUDED.target_id,
			service = EXCLUDED.service,
			domain = EXCLUDED.domain,
			action = EXCLUDED.action,
			value = EXCLUDED.value,
			value_multiplier = EXCLUDED.value_multiplier,
			value_unit = EXCLUDED.value_unit,
			event_metadata = EXCLUDED.event_metadata,
			updated_at = NOW()
		WHERE events.deleted_at IS NULL
		RETURNING id, (xmax = 0) AS inserted`

	exec := executor(ctx, s.db)

	var (
		id       string
		inserted bool
	)
	err := exec.QueryRowxContext(ctx, query,
		event.ID,
		event.SourceID,
		event.Time,
		event.IntegrationID,
		event.ActorID,
		event.TargetID,
		event.Service,
		event.Domain,
		event.Action,
		event.Value,
		event.ValueMultiplier,
		event.ValueUnit,
		event.EventMetadata,
	).Scan(&id, &inserted)

	if errors.Is(err, sql.ErrNoRows) {
		err = exec.QueryRowxContext(ctx,
			"SELECT id FROM events WHERE integration_id = $1 AND source_id = $2",
			event.IntegrationID, event.SourceID,
		).Scan(&id)
		if err != nil {
			return "", "", fmt.Errorf("lookup suppressed event: %w", err)
		}
		event.ID = id
		return id, domain.Suppressed, nil
	}
	if err != nil {
		return "", "", fmt.Errorf("upsert event: %w", err)
	}

	event.ID = id
	if inserted {
		return id, domain.Inserted, nil
	}
	return id, domain.Updated, nil
}

func (s *EventStore) Get(ctx context.Context, id string) (*domain.Event, error) {
	exec := executor(ctx, s.db)

	var event domain.Event
	err := sqlx.GetContext(ctx, exec, &event,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = sqlx.SelectContext(ctx, exec, &event.Blocks,
		`SELECT `+blockColumns+` FROM blocks WHERE event_id = $1 AND deleted_at IS NULL ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	return &event, nil
}

// GetBySource returns the live event for a provider item, if any.
func (s *EventStore) GetBySource(ctx context.Context, integrationID, sourceID string) (*domain.Event, error) {
	var event domain.Event
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &event,
		`SELECT `+eventColumns+` FROM events WHERE integration_id = $1 AND source_id = $2 AND deleted_at IS NULL`,
		integrationID, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *EventStore) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	where = append(where, "deleted_at IS NULL")
	if filter.IntegrationID != "" {
		add("integration_id = ?", filter.IntegrationID)
	}
	if filter.Service != "" {
		add("service = ?", filter.Service)
	}
	if filter.Domain != "" {
		add("domain = ?", filter.Domain)
	}
	if filter.Action != "" {
		add("action = ?", filter.Action)
	}
	if filter.From != nil {
		add("time >= ?", *filter.From)
	}
	if filter.To != nil {
		add("time <= ?", *filter.To)
	}

	perPage := filter.PerPage
	if perPage <= 0 || perPage > 500 {
		perPage = defaultPerPage
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)

	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY time DESC, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	var events []domain.Event
	if err := sqlx.SelectContext(ctx, executor(ctx, s.db), &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// SoftDelete marks the event and its blocks deleted. Callers wrap it in a transaction.
func (s *EventStore) SoftDelete(ctx context.Context, id string) error {
	exec := executor(ctx, s.db)

	res, err := exec.ExecContext(ctx,
		`UPDATE events SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}

	_, err = exec.ExecContext(ctx,
		`UPDATE blocks SET deleted_at = NOW(), updated_at = NOW() WHERE event_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete blocks: %w", err)
	}
	return nil
}

// DeleteMissing removes the integration's events tagged with scope whose source id is
// not in keep, and returns the ids it removed. The rows are deleted outright so an item
// that reappears in its source is written again instead of being suppressed.
func (s *EventStore) DeleteMissing(ctx context.Context, integrationID, scope string, keep []string) ([]string, error) {
	if keep == nil {
		keep = []string{}
	}

	var ids []string
	err := sqlx.SelectContext(ctx, executor(ctx, s.db), &ids, `
		DELETE FROM events
		WHERE integration_id = $1
			AND event_metadata->>'`+domain.ReconcileScopeKey+`' = $2
			AND NOT (source_id = ANY($3))
			AND deleted_at IS NULL
		RETURNING id`,
		integrationID, scope, pq.Array(keep),
	)
	if err != nil {
		return nil, fmt.Errorf("reconcile events: %w", err)
	}
	return ids, nil
}
