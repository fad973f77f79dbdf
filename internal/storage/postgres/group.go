package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"activity_ingest/internal/domain"
)

type GroupStore struct {
	db *sqlx.DB
}

func NewGroupStore(db *sqlx.DB) *GroupStore {
	return &GroupStore{db: db}
}

func (s *GroupStore) Get(ctx context.Context, id string) (*domain.IntegrationGroup, error) {
	var group domain.IntegrationGroup
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &group, `
		SELECT id, user_id, service, account_id, access_token, refresh_token, expiry, created_at, updated_at
		FROM integration_groups
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *GroupStore) Create(ctx context.Context, group *domain.IntegrationGroup) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	return executor(ctx, s.db).QueryRowxContext(ctx, `
		INSERT INTO integration_groups (id, user_id, service)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		group.ID, group.UserID, group.Service,
	).Scan(&group.CreatedAt, &group.UpdatedAt)
}

// UpdateTokens replaces the token set. An empty refresh token keeps the stored one.
func (s *GroupStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	var exp *time.Time
	if !expiry.IsZero() {
		exp = &expiry
	}
	_, err := executor(ctx, s.db).ExecContext(ctx, `
		UPDATE integration_groups SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			expiry = $4,
			updated_at = NOW()
		WHERE id = $1`,
		id, accessToken, refreshToken, exp,
	)
	return err
}

func (s *GroupStore) UpdateAccountID(ctx context.Context, id, accountID string) error {
	_, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE integration_groups SET account_id = $2, updated_at = NOW() WHERE id = $1`, id, accountID)
	return err
}
