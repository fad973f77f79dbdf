package httpapi

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/service"
)

// WebhookTargets resolves the integration a webhook delivery belongs to.
type WebhookTargets interface {
	FindByServiceAndAccount(ctx context.Context, service, accountID string) (*domain.Integration, error)
}

type EventService interface {
	List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
	Get(ctx context.Context, id string) (*domain.Event, error)
	Create(ctx context.Context, req service.CreateEventRequest) (*domain.Event, domain.WriteOutcome, error)
	Delete(ctx context.Context, id string) error
}

type IntegrationService interface {
	InitializeGroup(ctx context.Context, userID, service string) (*domain.IntegrationGroup, error)
	CreateInstance(ctx context.Context, req service.CreateInstanceRequest) (*domain.Integration, error)
	Trigger(ctx context.Context, id string) error
	Manual(ctx context.Context, service, integrationID string, input map[string]any) (*domain.ProcessStats, error)
}

type OAuthFlow interface {
	GetOAuthURL(ctx context.Context, session string, group *domain.IntegrationGroup) (string, error)
	HandleOAuthCallback(ctx context.Context, session, groupID, code, state string) (*domain.IntegrationGroup, error)
}
