package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"activity_ingest/internal/domain"
)

const batchColumns = `id, name, total_jobs, pending_jobs, failed_jobs, created_at, finished_at`

type BatchStore struct {
	db *sqlx.DB
}

func NewBatchStore(db *sqlx.DB) *BatchStore {
	return &BatchStore{db: db}
}

func (s *BatchStore) Create(ctx context.Context, name string, total int) (*domain.Batch, error) {
	var batch domain.Batch
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &batch, `
		INSERT INTO job_batches (id, name, total_jobs, pending_jobs, finished_at)
		VALUES ($1, $2, $3, $3, CASE WHEN $3 = 0 THEN NOW() END)
		RETURNING `+batchColumns,
		uuid.NewString(), name, total)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *BatchStore) Get(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &batch,
		`SELECT `+batchColumns+` FROM job_batches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// JobFinished records one terminal job outcome and stamps finished_at on the last one.
func (s *BatchStore) JobFinished(ctx context.Context, id string, failed bool) (*domain.Batch, error) {
	failedInc := 0
	if failed {
		failedInc = 1
	}

	var batch domain.Batch
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &batch, `
		UPDATE job_batches SET
			pending_jobs = GREATEST(pending_jobs - 1, 0),
			failed_jobs = failed_jobs + $2,
			finished_at = CASE WHEN pending_jobs - 1 <= 0 THEN COALESCE(finished_at, NOW()) ELSE finished_at END
		WHERE id = $1
		RETURNING `+batchColumns,
		id, failedInc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
