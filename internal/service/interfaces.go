package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"activity_ingest/internal/domain"
)

type ObjectStore interface {
	Upsert(ctx context.Context, obj *domain.Object) (string, error)
}

type EventStore interface {
	Upsert(ctx context.Context, event *domain.Event) (string, domain.WriteOutcome, error)
	Get(ctx context.Context, id string) (*domain.Event, error)
	List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
	SoftDelete(ctx context.Context, id string) error
	DeleteMissing(ctx context.Context, integrationID, scope string, keep []string) ([]string, error)
}

type BlockStore interface {
	Upsert(ctx context.Context, block *domain.Block) (string, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.Block, error)
}

type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
	Create(ctx context.Context, integration *domain.Integration) error
	Reactivate(ctx context.Context, id string) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
	ListByService(ctx context.Context, service string) ([]domain.Integration, error)
	PrimaryInstance(ctx context.Context, groupID, instanceType string) (*domain.Integration, error)
}

type GroupStore interface {
	Get(ctx context.Context, id string) (*domain.IntegrationGroup, error)
	Create(ctx context.Context, group *domain.IntegrationGroup) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.Event, action domain.ChangeAction) error
}

// MigrationStarter kicks off a historical backfill for a fresh instance.
type MigrationStarter interface {
	Start(ctx context.Context, integration *domain.Integration) error
}
