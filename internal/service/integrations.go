package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/provider"
)

// Integrations manages groups and instances and hands work to the queue.
type Integrations struct {
	registry     *provider.Registry
	integrations IntegrationStore
	groups       GroupStore
	queue        jobs.Queue
	migrations   MigrationStarter
	ingest       *Ingest
	logger       *slog.Logger
	now          func() time.Time
}

func NewIntegrations(
	registry *provider.Registry,
	integrations IntegrationStore,
	groups GroupStore,
	queue jobs.Queue,
	migrations MigrationStarter,
	ingest *Ingest,
	logger *slog.Logger,
) *Integrations {
	return &Integrations{
		registry:     registry,
		integrations: integrations,
		groups:       groups,
		queue:        queue,
		migrations:   migrations,
		ingest:       ingest,
		logger:       logger.With("component", "integrations"),
		now:          time.Now,
	}
}

// InitializeGroup creates the credential container for a provider.
func (s *Integrations) InitializeGroup(ctx context.Context, userID, service string) (*domain.IntegrationGroup, error) {
	if _, err := s.registry.Get(service); err != nil {
		return nil, err
	}
	group := &domain.IntegrationGroup{UserID: userID, Service: service}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return group, nil
}

type CreateInstanceRequest struct {
	UserID          string
	GroupID         string
	Service         string
	InstanceType    string
	Name            string
	Configuration   domain.Metadata
	AccountID       string
	UpdateFrequency time.Duration
}

// CreateInstance validates the configuration against the provider schema and stores the
// instance. The primary instance of an initializable provider gets an initialization job;
// migrating providers start their backfill.
func (s *Integrations) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*domain.Integration, error) {
	plugin, err := s.registry.Get(req.Service)
	if err != nil {
		return nil, err
	}

	types := plugin.InstanceTypes()
	if req.InstanceType == "" {
		req.InstanceType = types[0]
	}
	if !slices.Contains(types, req.InstanceType) {
		return nil, fmt.Errorf("%w: %s has no instance type %q", domain.ErrInvalidConfig, req.Service, req.InstanceType)
	}

	schema := plugin.ConfigurationSchema()
	config := schema.WithDefaults(req.Configuration)
	if err := schema.Validate(config); err != nil {
		return nil, err
	}

	integration := &domain.Integration{
		UserID:                 req.UserID,
		Service:                req.Service,
		Name:                   req.Name,
		InstanceType:           req.InstanceType,
		Configuration:          config,
		UpdateFrequencyMinutes: int(req.UpdateFrequency / time.Minute),
	}
	if integration.Name == "" {
		integration.Name = plugin.DisplayName()
	}
	if req.GroupID != "" {
		integration.GroupID = &req.GroupID
	}
	if req.AccountID != "" {
		integration.AccountID = &req.AccountID
	}

	if err := s.integrations.Create(ctx, integration); err != nil {
		return nil, fmt.Errorf("create integration: %w", err)
	}

	if _, ok := plugin.(provider.Initializer); ok && req.InstanceType == types[0] {
		if err := s.queue.Enqueue(ctx, jobs.NewInit(integration), 0); err != nil {
			return integration, fmt.Errorf("enqueue initialization: %w", err)
		}
	} else if s.migrations != nil && migrates(plugin) {
		if err := s.migrations.Start(ctx, integration); err != nil {
			return integration, fmt.Errorf("start migration: %w", err)
		}
	}

	s.logger.Info("integration created", "integration_id", integration.ID, "service", integration.Service, "instance_type", integration.InstanceType)
	return integration, nil
}

func migrates(p provider.Plugin) bool {
	switch p.(type) {
	case provider.Migrator, provider.BatchMigrator:
		return true
	}
	return false
}

// Trigger re-activates a failed integration and enqueues its next run right away.
func (s *Integrations) Trigger(ctx context.Context, id string) error {
	integration, err := s.integrations.Get(ctx, id)
	if err != nil {
		return err
	}
	plugin, err := s.registry.Get(integration.Service)
	if err != nil {
		return err
	}

	var env *jobs.Envelope
	switch {
	case integration.LastSuccessfulUpdateAt == nil && isInitializer(plugin) && integration.InstanceType == plugin.InstanceTypes()[0]:
		env = jobs.NewInit(integration)
	case isPuller(plugin):
		now := s.now()
		env = jobs.NewFetch(integration, "manual-"+strconv.FormatInt(now.Unix(), 10))
	default:
		return fmt.Errorf("%s cannot be triggered: %w", integration.Service, domain.ErrUnsupported)
	}

	if err := s.integrations.Reactivate(ctx, id); err != nil {
		return fmt.Errorf("reactivate: %w", err)
	}
	if err := s.integrations.MarkTriggered(ctx, id, s.now()); err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	if err := s.queue.Enqueue(ctx, env, 0); err != nil {
		return fmt.Errorf("enqueue %s: %w", env.Kind, err)
	}

	s.logger.Info("integration triggered", "integration_id", id, "job_kind", env.Kind)
	return nil
}

func isInitializer(p provider.Plugin) bool {
	_, ok := p.(provider.Initializer)
	return ok
}

func isPuller(p provider.Plugin) bool {
	_, ok := p.(provider.Puller)
	return ok
}

// Manual shapes a user-entered record and writes it through the canonical helper. An empty
// integration id selects the provider's oldest active instance.
func (s *Integrations) Manual(ctx context.Context, service, integrationID string, input map[string]any) (*domain.ProcessStats, error) {
	plugin, err := s.registry.Get(service)
	if err != nil {
		return nil, err
	}
	shaper, ok := plugin.(provider.ManualShaper)
	if !ok {
		return nil, fmt.Errorf("%s: %w", service, domain.ErrUnsupported)
	}

	integration, err := s.manualInstance(ctx, service, integrationID)
	if err != nil {
		return nil, err
	}

	if input == nil {
		input = map[string]any{}
	}
	if _, set := input["currency"]; !set {
		if c := integration.ConfigString("default_currency"); c != "" {
			input["currency"] = c
		}
	}

	converted, err := shaper.Shape(input)
	if err != nil {
		return nil, err
	}
	return s.ingest.Apply(ctx, integration, converted)
}

func (s *Integrations) manualInstance(ctx context.Context, service, id string) (*domain.Integration, error) {
	if id != "" {
		integration, err := s.integrations.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if integration.Service != service {
			return nil, fmt.Errorf("integration %s belongs to %s: %w", id, integration.Service, domain.ErrNotFound)
		}
		return integration, nil
	}

	list, err := s.integrations.ListByService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("list %s integrations: %w", service, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no %s integration: %w", service, domain.ErrNotFound)
	}
	return &list[0], nil
}

// IsNotFound reports lookups the HTTP layer should answer with 404.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
