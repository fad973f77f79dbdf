package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"activity_ingest/internal/domain"
)

const integrationColumns = `id, user_id, integration_group_id, service, name, instance_type, configuration,
	account_id, access_token, refresh_token, expiry, status, update_frequency_minutes,
	last_triggered_at, last_successful_update_at, migration_batch_id, created_at, updated_at`

type IntegrationStore struct {
	db *sqlx.DB
}

func NewIntegrationStore(db *sqlx.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

func (s *IntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	var integration domain.Integration
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &integration,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (s *IntegrationStore) Create(ctx context.Context, integration *domain.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}
	if integration.Status == "" {
		integration.Status = domain.IntegrationActive
	}
	if integration.UpdateFrequencyMinutes == 0 {
		integration.UpdateFrequencyMinutes = 60
	}

	query := `
		INSERT INTO integrations (
			id, user_id, integration_group_id, service, name, instance_type, configuration,
			account_id, status, update_frequency_minutes
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (integration_group_id, instance_type) WHERE integration_group_id IS NOT NULL
		DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return executor(ctx, s.db).QueryRowxContext(ctx, query,
		integration.ID,
		integration.UserID,
		integration.GroupID,
		integration.Service,
		integration.Name,
		integration.InstanceType,
		integration.Configuration,
		integration.AccountID,
		integration.Status,
		integration.UpdateFrequencyMinutes,
	).Scan(&integration.ID, &integration.CreatedAt, &integration.UpdatedAt)
}

func (s *IntegrationStore) UpdateConfiguration(ctx context.Context, id string, cfg domain.Metadata) error {
	return s.exec(ctx, `UPDATE integrations SET configuration = $2, updated_at = NOW() WHERE id = $1`, id, cfg)
}

func (s *IntegrationStore) UpdateAccountID(ctx context.Context, id, accountID string) error {
	return s.exec(ctx, `UPDATE integrations SET account_id = $2, updated_at = NOW() WHERE id = $1`, id, accountID)
}

// MarkFailed removes the integration from scheduling until it is re-triggered.
func (s *IntegrationStore) MarkFailed(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE integrations SET status = 'failed', updated_at = NOW() WHERE id = $1`, id)
}

func (s *IntegrationStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `UPDATE integrations SET last_triggered_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
}

func (s *IntegrationStore) MarkSucceeded(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		UPDATE integrations
		SET last_successful_update_at = $2, status = 'active', updated_at = NOW()
		WHERE id = $1`, id, at)
}

// Reactivate clears a failed status so the scheduler considers the integration again.
func (s *IntegrationStore) Reactivate(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE integrations SET status = 'active', updated_at = NOW() WHERE id = $1`, id)
}

func (s *IntegrationStore) SetMigrationBatch(ctx context.Context, id string, batchID *string) error {
	return s.exec(ctx, `UPDATE integrations SET migration_batch_id = $2, updated_at = NOW() WHERE id = $1`, id, batchID)
}

// PrimaryInstance returns the group's instance of the given type. The unique index on
// (integration_group_id, instance_type) makes the answer unambiguous.
func (s *IntegrationStore) PrimaryInstance(ctx context.Context, groupID, instanceType string) (*domain.Integration, error) {
	var integration domain.Integration
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &integration,
		`SELECT `+integrationColumns+` FROM integrations WHERE integration_group_id = $1 AND instance_type = $2`,
		groupID, instanceType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (s *IntegrationStore) ListByGroup(ctx context.Context, groupID string) ([]domain.Integration, error) {
	var out []domain.Integration
	err := sqlx.SelectContext(ctx, executor(ctx, s.db), &out,
		`SELECT `+integrationColumns+` FROM integrations WHERE integration_group_id = $1 ORDER BY created_at`, groupID)
	return out, err
}

// ListByService returns the active instances of a provider, oldest first.
func (s *IntegrationStore) ListByService(ctx context.Context, service string) ([]domain.Integration, error) {
	var out []domain.Integration
	err := sqlx.SelectContext(ctx, executor(ctx, s.db), &out,
		`SELECT `+integrationColumns+` FROM integrations WHERE service = $1 AND status = 'active' ORDER BY created_at`, service)
	return out, err
}

// FindByServiceAndAccount resolves a webhook target by its shared secret.
func (s *IntegrationStore) FindByServiceAndAccount(ctx context.Context, service, accountID string) (*domain.Integration, error) {
	var integration domain.Integration
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &integration,
		`SELECT `+integrationColumns+` FROM integrations WHERE service = $1 AND account_id = $2 LIMIT 1`,
		service, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

// ClaimDue selects due integrations and stamps last_triggered_at in the same statement,
// so concurrent sweeps never pick the same row.
func (s *IntegrationStore) ClaimDue(ctx context.Context, q domain.DueQuery) ([]domain.Integration, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := `
		UPDATE integrations SET last_triggered_at = $1, updated_at = NOW()
		WHERE id IN (
			SELECT i.id
			FROM integrations i
			LEFT JOIN integration_groups g ON g.id = i.integration_group_id
			WHERE i.status = 'active'
				AND i.service = ANY($2)
				AND (NOT (i.service = ANY($3)) OR COALESCE(g.access_token, i.access_token) IS NOT NULL)
				AND i.migration_batch_id IS NULL
				AND NOT (
					i.last_triggered_at IS NOT NULL
					AND (i.last_successful_update_at IS NULL OR i.last_successful_update_at < i.last_triggered_at)
					AND i.last_triggered_at > $1 - make_interval(secs => $4)
				)
				AND (
					i.last_triggered_at IS NULL
					OR $1 >= i.last_triggered_at + make_interval(mins => i.update_frequency_minutes)
				)
			ORDER BY i.last_triggered_at NULLS FIRST
			LIMIT $5
			FOR UPDATE OF i SKIP LOCKED
		)
		RETURNING ` + integrationColumns

	var out []domain.Integration
	err := sqlx.SelectContext(ctx, executor(ctx, s.db), &out, query,
		q.Now,
		pq.Array(q.Services),
		pq.Array(q.OAuthServices),
		q.InFlightTimeout.Seconds(),
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due integrations: %w", err)
	}
	return out, nil
}

func (s *IntegrationStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := executor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
