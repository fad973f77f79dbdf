// Package pipeline holds the handlers behind the fetch, process, webhook and
// initialization jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.uber.org/multierr"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
	"activity_ingest/internal/idempotency"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/provider"
)

const defaultChunkSize = 50

type Config struct {
	// ChunkSize caps the raw items carried by one process job.
	ChunkSize int
	// WebhookSecrets holds provider-wide signing secrets by service.
	WebhookSecrets map[string]string
}

type Pipeline struct {
	registry     *provider.Registry
	integrations IntegrationStore
	ingest       Ingester
	queue        jobs.Queue
	guard        *idempotency.Guard
	stash        cache.Store
	migrations   MigrationStarter
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func New(
	registry *provider.Registry,
	integrations IntegrationStore,
	ingest Ingester,
	queue jobs.Queue,
	guard *idempotency.Guard,
	stash cache.Store,
	migrations MigrationStarter,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Pipeline{
		registry:     registry,
		integrations: integrations,
		ingest:       ingest,
		queue:        queue,
		guard:        guard,
		stash:        stash,
		migrations:   migrations,
		cfg:          cfg,
		logger:       logger.With("component", "pipeline"),
		now:          time.Now,
	}
}

// Register binds the handlers to the runner.
func (p *Pipeline) Register(r *jobs.Runner) {
	r.Register(jobs.KindFetch, jobs.HandlerFunc(p.Fetch))
	r.Register(jobs.KindProcess, jobs.HandlerFunc(p.Process))
	r.Register(jobs.KindWebhook, jobs.HandlerFunc(p.Webhook))
	r.Register(jobs.KindInit, jobs.HandlerFunc(p.Init))
}

// Fetch pulls new data for an integration and fans it out into process jobs.
func (p *Pipeline) Fetch(ctx context.Context, env *jobs.Envelope) error {
	integration, err := p.integrations.Get(ctx, env.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	if integration.Status == domain.IntegrationFailed {
		p.logger.Info("skipping fetch for failed integration", "integration_id", integration.ID)
		return nil
	}

	puller, err := p.registry.Puller(env.Service)
	if err != nil {
		return domain.Fatal(err)
	}

	items, err := puller.FetchData(ctx, integration)
	if err != nil {
		return err
	}

	if err := p.dispatch(ctx, integration, items); err != nil {
		return err
	}

	if err := p.integrations.MarkSucceeded(ctx, integration.ID, p.now()); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}

	p.logger.Info("fetch completed", "integration_id", integration.ID, "service", integration.Service, "items", len(items))
	return nil
}

// dispatch enqueues one process job per chunk of raw items.
func (p *Pipeline) dispatch(ctx context.Context, integration *domain.Integration, items []json.RawMessage) error {
	var errs error
	for start := 0; start < len(items); start += p.cfg.ChunkSize {
		end := min(start+p.cfg.ChunkSize, len(items))

		env, err := jobs.NewProcess(integration, jobs.ProcessPayload{Items: items[start:end]})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := p.queue.Enqueue(ctx, env, 0); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("enqueue process job: %w", err))
		}
	}
	return errs
}

// Process converts raw items and writes them. A payload processed recently is skipped.
func (p *Pipeline) Process(ctx context.Context, env *jobs.Envelope) error {
	var payload jobs.ProcessPayload
	if err := env.Decode(&payload); err != nil {
		return domain.Fatal(err)
	}

	key := idempotency.Key(env.Service, string(jobs.KindProcess), env.IntegrationID, idempotency.Fingerprint(env.Payload))
	done, err := p.guard.HasBeenProcessedRecently(ctx, key)
	if err != nil {
		return err
	}
	if done {
		p.logger.Info("payload processed recently, skipping", "integration_id", env.IntegrationID, "job_id", env.ID)
		return nil
	}

	hold := jobs.PolicyFor(jobs.KindProcess).Timeout
	claimed, err := p.guard.Claim(ctx, key, hold)
	if err != nil {
		return err
	}
	if !claimed {
		// The holder may have crashed; look again once its lease has run out.
		p.logger.Info("payload is claimed by another worker, deferring", "integration_id", env.IntegrationID, "job_id", env.ID)
		return domain.Defer(fmt.Errorf("process payload: %w", domain.ErrInProgress), hold)
	}

	if err := p.process(ctx, env, payload); err != nil {
		if rerr := p.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			p.logger.Warn("failed to release idempotency claim", "error", rerr)
		}
		return err
	}

	if err := p.guard.CleanupAfterSuccess(ctx, key); err != nil {
		p.logger.Warn("failed to record idempotency marker", "integration_id", env.IntegrationID, "error", err)
	}
	if payload.StashKey != "" {
		if err := p.stash.Del(ctx, payload.StashKey); err != nil {
			p.logger.Warn("failed to drop stash", "stash_key", payload.StashKey, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, env *jobs.Envelope, payload jobs.ProcessPayload) error {
	integration, err := p.integrations.Get(ctx, env.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	converter, err := p.registry.Converter(env.Service)
	if err != nil {
		return domain.Fatal(err)
	}

	items, err := p.items(ctx, payload)
	if err != nil {
		return err
	}

	converted := &domain.Converted{}
	malformed := 0
	var errs error
	for i, raw := range items {
		c, err := converter.ConvertData(ctx, integration, raw)
		if errors.Is(err, domain.ErrMalformedPayload) {
			malformed++
			p.logger.Warn("skipping malformed item", "integration_id", integration.ID, "index", i, "error", err)
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("convert item %d: %w", i, err))
			continue
		}
		converted.Merge(c)
	}

	stats, err := p.ingest.Apply(ctx, integration, converted)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	if stats != nil {
		p.logger.Info("processed items",
			"integration_id", integration.ID,
			"service", integration.Service,
			"items", len(items),
			"malformed", malformed,
			"new", stats.New,
			"updated", stats.Updated,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
		)
	}
	return errs
}

// items returns the inline items or the ones parked under the stash key.
func (p *Pipeline) items(ctx context.Context, payload jobs.ProcessPayload) ([]json.RawMessage, error) {
	if payload.StashKey == "" {
		return payload.Items, nil
	}

	raw, err := p.stash.Get(ctx, payload.StashKey)
	if errors.Is(err, cache.ErrMiss) {
		return nil, domain.Fatal(fmt.Errorf("stash %s: %w", payload.StashKey, domain.ErrNotFound))
	}
	if err != nil {
		return nil, fmt.Errorf("read stash: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, domain.Fatal(fmt.Errorf("decode stash %s: %w", payload.StashKey, err))
	}
	return append(payload.Items, items...), nil
}

// Webhook re-checks the signature as of receipt, splits the delivery and dispatches process jobs.
func (p *Pipeline) Webhook(ctx context.Context, env *jobs.Envelope) error {
	var payload jobs.WebhookPayload
	if err := env.Decode(&payload); err != nil {
		return domain.Fatal(err)
	}

	integration, err := p.integrations.Get(ctx, env.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	receiver, err := p.registry.WebhookReceiver(env.Service)
	if err != nil {
		return domain.Fatal(err)
	}

	if receiver.SignatureSupported() {
		secret := provider.WebhookSecret(integration, p.cfg.WebhookSecrets[env.Service])
		receivedAt := payload.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = p.now()
		}
		if err := receiver.VerifyWebhookSignature(payload.Header, payload.Body, secret, receivedAt); err != nil {
			return domain.Fatal(err)
		}
	}

	chunks, err := receiver.SplitWebhookData(payload.Body)
	if err != nil {
		return domain.Fatal(fmt.Errorf("split webhook: %w", err))
	}
	if len(chunks) == 0 {
		p.logger.Debug("webhook carried nothing to process", "integration_id", integration.ID)
		return nil
	}
	return p.dispatch(ctx, integration, chunks)
}

// Init runs the provider's one-time setup, then starts the backfill where the provider has one.
func (p *Pipeline) Init(ctx context.Context, env *jobs.Envelope) error {
	integration, err := p.integrations.Get(ctx, env.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	plugin, err := p.registry.Get(env.Service)
	if err != nil {
		return domain.Fatal(err)
	}

	if initializer, ok := plugin.(provider.Initializer); ok {
		result, err := initializer.Initialize(ctx, integration)
		if err != nil {
			return fmt.Errorf("initialize %s: %w", integration.Service, err)
		}
		if err := p.applyInit(ctx, integration, result); err != nil {
			return err
		}
	}

	if err := p.integrations.MarkSucceeded(ctx, integration.ID, p.now()); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}

	if p.migrations != nil && migrates(plugin) {
		if err := p.migrations.Start(ctx, integration); err != nil {
			p.logger.Error("failed to start migration", "integration_id", integration.ID, "error", err)
		}
	}

	p.logger.Info("integration initialized", "integration_id", integration.ID, "service", integration.Service)
	return nil
}

func (p *Pipeline) applyInit(ctx context.Context, integration *domain.Integration, result *provider.InitResult) error {
	if result == nil {
		return nil
	}
	if result.AccountID != "" {
		if err := p.integrations.UpdateAccountID(ctx, integration.ID, result.AccountID); err != nil {
			return fmt.Errorf("update account id: %w", err)
		}
		integration.AccountID = &result.AccountID
	}
	if len(result.Configuration) > 0 {
		cfg := make(domain.Metadata, len(integration.Configuration)+len(result.Configuration))
		maps.Copy(cfg, integration.Configuration)
		maps.Copy(cfg, result.Configuration)
		if err := p.integrations.UpdateConfiguration(ctx, integration.ID, cfg); err != nil {
			return fmt.Errorf("update configuration: %w", err)
		}
		integration.Configuration = cfg
	}
	return nil
}

func migrates(plugin provider.Plugin) bool {
	switch plugin.(type) {
	case provider.Migrator, provider.BatchMigrator:
		return true
	}
	return false
}
