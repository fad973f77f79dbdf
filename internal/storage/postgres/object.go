package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"activity_ingest/internal/domain"
)

type ObjectStore struct {
	db *sqlx.DB
}

func NewObjectStore(db *sqlx.DB) *ObjectStore {
	return &ObjectStore{db: db}
}

// Upsert inserts the object or updates the row sharing its natural key and returns the row id.
func (s *ObjectStore) Upsert(ctx context.Context, obj *domain.Object) (string, error) {
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}

	query := `
		INSERT INTO objects (
			id, user_id, concept, type, title, content, metadata, url, media_url, time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (user_id, concept, type, title) DO UPDATE SET
			content = COALESCE(EXCLUDED.content, objects.content),
			metadata = objects.metadata || EXCLUDED.metadata,
			url = COALESCE(EXCLUDED.url, objects.url),
			media_url = COALESCE(EXCLUDED.media_url, objects.media_url),
			time = COALESCE(EXCLUDED.time, objects.time),
			updated_at = NOW()
		RETURNING id`

	var id string
	err := executor(ctx, s.db).QueryRowxContext(ctx, query,
		obj.ID,
		obj.UserID,
		obj.Concept,
		obj.Type,
		obj.Title,
		obj.Content,
		obj.Metadata,
		obj.URL,
		obj.MediaURL,
		obj.Time,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert object: %w", err)
	}

	obj.ID = id
	return id, nil
}

func (s *ObjectStore) Get(ctx context.Context, id string) (*domain.Object, error) {
	var obj domain.Object
	err := sqlx.GetContext(ctx, executor(ctx, s.db), &obj, `SELECT * FROM objects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}
