package pipeline

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"activity_ingest/internal/domain"
)

type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
	MarkSucceeded(ctx context.Context, id string, at time.Time) error
	UpdateAccountID(ctx context.Context, id, accountID string) error
	UpdateConfiguration(ctx context.Context, id string, cfg domain.Metadata) error
}

// Ingester writes converted records into the canonical store.
type Ingester interface {
	Apply(ctx context.Context, integration *domain.Integration, converted *domain.Converted) (*domain.ProcessStats, error)
}

type MigrationStarter interface {
	Start(ctx context.Context, integration *domain.Integration) error
}
