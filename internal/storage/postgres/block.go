package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"activity_ingest/internal/domain"
)

const blockColumns = `id, event_id, time, block_type, title, content, metadata, url, media_url,
	value, value_multiplier, value_unit, created_at, updated_at, deleted_at`

type BlockStore struct {
	db *sqlx.DB
}

func NewBlockStore(db *sqlx.DB) *BlockStore {
	return &BlockStore{db: db}
}

func (s *BlockStore) Upsert(ctx context.Context, block *domain.Block) (string, error) {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}

	query := `
		INSERT INTO blocks (
			id, event_id, time, block_type, title, content, metadata, url, media_url,
			value, value_multiplier, value_unit
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (event_id, block_type, title) DO UPDATE SET
			time = EXCLUDED.time,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			url = EXCLUDED.url,
			media_url = EXCLUDED.media_url,
			value = EXCLUDED.value,
			value_multiplier = EXCLUDED.value_multiplier,
			value_unit = EXCLUDED.value_unit,
			updated_at = NOW()
		RETURNING id`

	var id string
	err := executor(ctx, s.db).QueryRowxContext(ctx, query,
		block.ID,
		block.EventID,
		block.Time,
		block.BlockType,
		block.Title,
		block.Content,
		block.Metadata,
		block.URL,
		block.MediaURL,
		block.Value,
		block.ValueMultiplier,
		block.ValueUnit,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert block: %w", err)
	}

	block.ID = id
	return id, nil
}

func (s *BlockStore) ListByEvent(ctx context.Context, eventID string) ([]domain.Block, error) {
	var blocks []domain.Block
	err := sqlx.SelectContext(ctx, executor(ctx, s.db), &blocks,
		`SELECT `+blockColumns+` FROM blocks WHERE event_id = $1 AND deleted_at IS NULL ORDER BY created_at`, eventID)
	return blocks, err
}
