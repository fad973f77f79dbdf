package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"activity_ingest/internal/domain"
)

type Capability string

const (
	CapabilityOAuth   Capability = "oauth"
	CapabilityWebhook Capability = "webhook"
	CapabilityAPIKey  Capability = "apikey"
	CapabilityManual  Capability = "manual"
)

// Plugin is the contract every provider implements. Ingestion is added through
// exactly one of Puller, WebhookReceiver or ManualShaper.
type Plugin interface {
	Identifier() string
	DisplayName() string
	Capability() Capability
	ConfigurationSchema() Schema
	// InstanceTypes lists the logical streams; the first is the primary instance.
	InstanceTypes() []string
}

// Converter maps one provider-native record into canonical shape.
type Converter interface {
	ConvertData(ctx context.Context, integration *domain.Integration, raw json.RawMessage) (*domain.Converted, error)
}

// Puller is implemented by providers polled on a schedule.
type Puller interface {
	Plugin
	Converter
	FetchData(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error)
}

// Page is one cursor step of a backfill.
type Page struct {
	Items []json.RawMessage
	// Next is the provider's suggestion for the following step; nil when it has none.
	Next *domain.Cursor
}

// Migrator imports history through a chain of cursor pages.
type Migrator interface {
	Puller
	InitialCursor(integration *domain.Integration, now time.Time) domain.Cursor
	FetchPage(ctx context.Context, integration *domain.Integration, cursor domain.Cursor) (*Page, error)
}

// Unit is one independently fetched slice of a batch backfill.
type Unit struct {
	Name   string        `json:"name"`
	Kind   string        `json:"kind"`
	Cursor domain.Cursor `json:"cursor"`
}

// BatchMigrator fetches every unit first and processes them once the whole fetch batch drained.
type BatchMigrator interface {
	Puller
	PlanBatch(ctx context.Context, integration *domain.Integration, now time.Time) ([]Unit, error)
	FetchUnit(ctx context.Context, integration *domain.Integration, unit Unit) ([]json.RawMessage, error)
}

// WebhookReceiver is implemented by push providers.
type WebhookReceiver interface {
	Plugin
	Converter
	SignatureSupported() bool
	// VerifyWebhookSignature authenticates a delivery as of receivedAt, the moment it
	// reached the endpoint. Timestamped schemes reject deliveries signed too far from it.
	VerifyWebhookSignature(header http.Header, body []byte, secret string, receivedAt time.Time) error
	SplitWebhookData(body []byte) ([]json.RawMessage, error)
}

// InitResult carries what one-time setup discovered.
type InitResult struct {
	AccountID     string
	Configuration domain.Metadata
}

type Initializer interface {
	Initialize(ctx context.Context, integration *domain.Integration) (*InitResult, error)
}

type OAuthProvider interface {
	OAuthEndpoint() oauth2.Endpoint
	Scopes() []string
	FetchAccountIdentity(ctx context.Context, accessToken string) (string, error)
}

// ManualShaper shapes user-entered data; no job is involved.
type ManualShaper interface {
	Plugin
	Shape(input map[string]any) (*domain.Converted, error)
}

// TokenSource hands out access tokens for an integration.
type TokenSource interface {
	Token(ctx context.Context, integration *domain.Integration) (string, error)
	Refresh(ctx context.Context, integration *domain.Integration) (string, error)
}

// KeyResolver resolves API keys from instance configuration with a global fallback.
type KeyResolver interface {
	ResolveAPIKey(integration *domain.Integration, key string) (string, error)
}
