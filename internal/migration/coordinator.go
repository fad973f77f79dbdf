// Package migration imports provider history as a chain of persisted cursor steps.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/provider"
)

type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
	SetMigrationBatch(ctx context.Context, id string, batchID *string) error
}

type BatchStore interface {
	Create(ctx context.Context, name string, total int) (*domain.Batch, error)
	Get(ctx context.Context, id string) (*domain.Batch, error)
}

type Config struct {
	// Timebox bounds how long a chain may keep fetching. Zero means no deadline.
	Timebox      time.Duration
	PollInterval time.Duration
	// MaxPolls bounds how long the monitor waits for one batch.
	MaxPolls int
	StashTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 720
	}
	if c.StashTTL <= 0 {
		c.StashTTL = 24 * time.Hour
	}
}

// pagePayload is either a cursor step of a chain or one unit of a fetch batch.
type pagePayload struct {
	Context  *domain.MigrationContext `json:"context,omitempty"`
	Unit     *provider.Unit           `json:"unit,omitempty"`
	StashKey string                   `json:"stash_key,omitempty"`
}

type Coordinator struct {
	registry     *provider.Registry
	integrations IntegrationStore
	batches      BatchStore
	queue        jobs.Queue
	stash        cache.Store
	locker       *cache.Locker
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func NewCoordinator(
	registry *provider.Registry,
	integrations IntegrationStore,
	batches BatchStore,
	queue jobs.Queue,
	stash cache.Store,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	cfg.setDefaults()
	return &Coordinator{
		registry:     registry,
		integrations: integrations,
		batches:      batches,
		queue:        queue,
		stash:        stash,
		locker:       cache.NewLocker(stash),
		cfg:          cfg,
		logger:       logger.With("component", "migration"),
		now:          time.Now,
	}
}

// Register binds the page step and the batch monitor to the runner.
func (c *Coordinator) Register(r *jobs.Runner) {
	r.Register(jobs.KindMigrationPage, jobs.HandlerFunc(c.HandlePage))
	r.Register(jobs.KindBatchMonitor, jobs.HandlerFunc(c.Monitor))
}

// Start begins the backfill of an integration with the configured timebox.
func (c *Coordinator) Start(ctx context.Context, integration *domain.Integration) error {
	var until time.Time
	if c.cfg.Timebox > 0 {
		until = c.now().Add(c.cfg.Timebox)
	}
	return c.StartUntil(ctx, integration, until)
}

// StartUntil dispatches the first step. Chains stop cooperatively once until has passed.
func (c *Coordinator) StartUntil(ctx context.Context, integration *domain.Integration, until time.Time) error {
	plugin, err := c.registry.Get(integration.Service)
	if err != nil {
		return err
	}

	switch p := plugin.(type) {
	case provider.BatchMigrator:
		return c.startBatch(ctx, integration, p)
	case provider.Migrator:
		mc := domain.MigrationContext{
			IntegrationID: integration.ID,
			Service:       integration.Service,
			Cursor:        p.InitialCursor(integration, c.now()),
			TimeboxUntil:  until,
		}
		env, err := pageEnvelope(integration, mc)
		if err != nil {
			return err
		}
		if err := c.queue.Enqueue(ctx, env, 0); err != nil {
			return fmt.Errorf("enqueue first page: %w", err)
		}
		c.logger.Info("migration started", "integration_id", integration.ID, "service", integration.Service, "cursor", mc.Cursor.Kind)
		return nil
	}
	return fmt.Errorf("%s has no backfill: %w", integration.Service, domain.ErrUnsupported)
}

func pageEnvelope(integration *domain.Integration, mc domain.MigrationContext) (*jobs.Envelope, error) {
	env := &jobs.Envelope{
		Kind:          jobs.KindMigrationPage,
		Service:       integration.Service,
		Type:          integration.InstanceType,
		IntegrationID: integration.ID,
		Discriminator: "step-" + strconv.Itoa(mc.Step),
	}
	return env.WithPayload(pagePayload{Context: &mc})
}

// HandlePage runs one step: a cursor page of a chain or one unit of a fetch batch.
func (c *Coordinator) HandlePage(ctx context.Context, env *jobs.Envelope) error {
	var payload pagePayload
	if err := env.Decode(&payload); err != nil {
		return domain.Fatal(err)
	}
	switch {
	case payload.Context != nil:
		return c.step(ctx, env, *payload.Context)
	case payload.Unit != nil:
		return c.fetchUnit(ctx, env, *payload.Unit, payload.StashKey)
	}
	return domain.Fatal(fmt.Errorf("%w: empty migration page", domain.ErrMalformedPayload))
}

func (c *Coordinator) step(ctx context.Context, env *jobs.Envelope, mc domain.MigrationContext) error {
	logger := c.logger.With("integration_id", mc.IntegrationID, "service", mc.Service, "step", mc.Step)

	if mc.Expired(c.now()) {
		logger.Info("migration timebox reached, stopping", "timebox_until", mc.TimeboxUntil)
		return nil
	}

	integration, err := c.integrations.Get(ctx, mc.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	plugin, err := c.registry.Get(mc.Service)
	if err != nil {
		return domain.Fatal(err)
	}
	migrator, ok := plugin.(provider.Migrator)
	if !ok {
		return domain.Fatal(fmt.Errorf("%s has no paged backfill: %w", mc.Service, domain.ErrUnsupported))
	}

	page, err := migrator.FetchPage(ctx, integration, mc.Cursor)
	if err != nil {
		return err
	}

	next, err := NextStep(mc.Cursor, page.Next, len(page.Items))
	if err != nil {
		logger.Error("aborting migration", "error", err)
		return domain.Fatal(err)
	}

	var following *jobs.Envelope
	if !next.Done {
		nmc := mc
		nmc.Cursor = *next.Next
		nmc.Step++
		if following, err = pageEnvelope(integration, nmc); err != nil {
			return err
		}
	} else {
		logger.Info("migration finished", "reason", next.Reason)
	}

	if len(page.Items) == 0 {
		if following == nil {
			return nil
		}
		return c.queue.Enqueue(ctx, following, 0)
	}

	cursor := mc.Cursor
	process, err := jobs.NewProcess(integration, jobs.ProcessPayload{Items: page.Items, Cursor: &cursor})
	if err != nil {
		return err
	}
	if following != nil {
		jobs.Chain(process, following)
	}
	if err := c.queue.Enqueue(ctx, process, 0); err != nil {
		return fmt.Errorf("enqueue page processing: %w", err)
	}

	logger.Debug("page dispatched", "items", len(page.Items), "done", next.Done)
	return nil
}

func stashPrefix(batchID string) string {
	return "migration:" + batchID + ":"
}

// startBatch fetches every planned unit into the stash and leaves the rest to the monitor.
func (c *Coordinator) startBatch(ctx context.Context, integration *domain.Integration, migrator provider.BatchMigrator) error {
	units, err := migrator.PlanBatch(ctx, integration, c.now())
	if err != nil {
		return fmt.Errorf("plan batch: %w", err)
	}
	if len(units) == 0 {
		return nil
	}

	batch, err := c.batches.Create(ctx, "migration:fetch:"+integration.Service+":"+integration.ID, len(units))
	if err != nil {
		return fmt.Errorf("create fetch batch: %w", err)
	}
	if err := c.integrations.SetMigrationBatch(ctx, integration.ID, &batch.ID); err != nil {
		return fmt.Errorf("set migration batch: %w", err)
	}

	prefix := stashPrefix(batch.ID)
	names := make([]string, 0, len(units))
	for _, unit := range units {
		env := &jobs.Envelope{
			Kind:          jobs.KindMigrationPage,
			Service:       integration.Service,
			Type:          integration.InstanceType,
			IntegrationID: integration.ID,
			Discriminator: "unit-" + unit.Name,
			BatchID:       batch.ID,
		}
		if _, err := env.WithPayload(pagePayload{Unit: &unit, StashKey: prefix + unit.Name}); err != nil {
			return err
		}
		if err := c.queue.Enqueue(ctx, env, 0); err != nil {
			return fmt.Errorf("enqueue unit %s: %w", unit.Name, err)
		}
		names = append(names, unit.Name)
	}

	if err := c.scheduleMonitor(ctx, integration, jobs.MonitorPayload{
		FetchBatchID: batch.ID,
		StashPrefix:  prefix,
		Units:        names,
	}); err != nil {
		return err
	}

	c.logger.Info("batch migration started", "integration_id", integration.ID, "batch_id", batch.ID, "units", len(units))
	return nil
}

func (c *Coordinator) fetchUnit(ctx context.Context, env *jobs.Envelope, unit provider.Unit, stashKey string) error {
	integration, err := c.integrations.Get(ctx, env.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	plugin, err := c.registry.Get(env.Service)
	if err != nil {
		return domain.Fatal(err)
	}
	migrator, ok := plugin.(provider.BatchMigrator)
	if !ok {
		return domain.Fatal(fmt.Errorf("%s has no batch backfill: %w", env.Service, domain.ErrUnsupported))
	}

	items, err := migrator.FetchUnit(ctx, integration, unit)
	if err != nil {
		return err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode unit %s: %w", unit.Name, err)
	}
	if err := c.stash.Set(ctx, stashKey, raw, c.cfg.StashTTL); err != nil {
		return fmt.Errorf("stash unit %s: %w", unit.Name, err)
	}

	c.logger.Debug("unit fetched", "integration_id", integration.ID, "unit", unit.Name, "items", len(items))
	return nil
}

func (c *Coordinator) scheduleMonitor(ctx context.Context, integration *domain.Integration, p jobs.MonitorPayload) error {
	phase := "fetch"
	if p.ProcessBatchID != "" {
		phase = "process"
	}
	env := &jobs.Envelope{
		Kind:          jobs.KindBatchMonitor,
		Service:       integration.Service,
		Type:          integration.InstanceType,
		IntegrationID: integration.ID,
		Discriminator: p.FetchBatchID + "-" + phase + "-" + strconv.Itoa(p.Polls),
	}
	if _, err := env.WithPayload(p); err != nil {
		return err
	}
	if err := c.queue.Enqueue(ctx, env, c.cfg.PollInterval); err != nil {
		return fmt.Errorf("schedule batch monitor: %w", err)
	}
	return nil
}

// Monitor polls the fetch batch until it drained, dispatches one process job per unit,
// then polls the process batch and releases the integration. Only one poll per batch
// runs at a time.
func (c *Coordinator) Monitor(ctx context.Context, env *jobs.Envelope) error {
	var p jobs.MonitorPayload
	if err := env.Decode(&p); err != nil {
		return domain.Fatal(err)
	}
	logger := c.logger.With("integration_id", env.IntegrationID, "batch_id", p.FetchBatchID, "poll", p.Polls)

	release, ok, err := c.locker.Acquire(ctx, "migration:monitor:"+p.FetchBatchID, jobs.PolicyFor(jobs.KindBatchMonitor).Timeout)
	if err != nil {
		return fmt.Errorf("acquire monitor lock: %w", err)
	}
	if !ok {
		logger.Debug("monitor already running for batch")
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release monitor lock", "error", err)
		}
	}()

	integration, err := c.integrations.Get(ctx, env.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}

	watched := p.FetchBatchID
	if p.ProcessBatchID != "" {
		watched = p.ProcessBatchID
	}
	batch, err := c.batches.Get(ctx, watched)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	if !batch.Finished() {
		p.Polls++
		if p.Polls >= c.cfg.MaxPolls {
			c.clearBatch(ctx, logger, integration.ID)
			return domain.Fatal(fmt.Errorf("batch %s still pending after %d polls", watched, p.Polls))
		}
		return c.scheduleMonitor(ctx, integration, p)
	}

	if p.ProcessBatchID != "" {
		c.clearBatch(ctx, logger, integration.ID)
		logger.Info("batch migration complete", "process_batch_id", batch.ID, "failed", batch.Failed)
		return nil
	}

	if batch.Failed > 0 {
		logger.Warn("fetch batch finished with failures", "failed", batch.Failed, "total", batch.Total)
	}
	return c.dispatchUnits(ctx, integration, p)
}

// dispatchUnits creates the process batch, one job per stashed unit.
func (c *Coordinator) dispatchUnits(ctx context.Context, integration *domain.Integration, p jobs.MonitorPayload) error {
	batch, err := c.batches.Create(ctx, "migration:process:"+integration.Service+":"+integration.ID, len(p.Units))
	if err != nil {
		return fmt.Errorf("create process batch: %w", err)
	}
	if err := c.integrations.SetMigrationBatch(ctx, integration.ID, &batch.ID); err != nil {
		return fmt.Errorf("set migration batch: %w", err)
	}

	var errs []error
	for _, name := range p.Units {
		env, err := jobs.NewProcess(integration, jobs.ProcessPayload{StashKey: p.StashPrefix + name})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		env.BatchID = batch.ID
		if err := c.queue.Enqueue(ctx, env, 0); err != nil {
			errs = append(errs, fmt.Errorf("enqueue unit %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	p.ProcessBatchID = batch.ID
	p.Polls = 0
	return c.scheduleMonitor(ctx, integration, p)
}

func (c *Coordinator) clearBatch(ctx context.Context, logger *slog.Logger, integrationID string) {
	if err := c.integrations.SetMigrationBatch(context.WithoutCancel(ctx), integrationID, nil); err != nil {
		logger.Error("failed to clear migration batch", "error", err)
	}
}
