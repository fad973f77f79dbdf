package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/config"
	"activity_ingest/internal/credentials"
	"activity_ingest/internal/httpapi"
	"activity_ingest/internal/idempotency"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/migration"
	"activity_ingest/internal/pipeline"
	"activity_ingest/internal/provider"
	"activity_ingest/internal/provider/github"
	"activity_ingest/internal/provider/gocardless"
	"activity_ingest/internal/provider/hevy"
	"activity_ingest/internal/provider/manual"
	"activity_ingest/internal/provider/monzo"
	"activity_ingest/internal/provider/outline"
	"activity_ingest/internal/publisher"
	"activity_ingest/internal/scheduler"
	"activity_ingest/internal/service"
	"activity_ingest/internal/storage/postgres"
)

const (
	modeAll       = "all"
	modeWorker    = "worker"
	modeScheduler = "scheduler"
	modeAPI       = "api"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mode := flag.String("mode", modeAll, "what to run: all, worker, scheduler or api")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		logger.Error("failed to ping cache", "error", err)
		os.Exit(1)
	}

	pub, err := publisher.New(publisherConfig(cfg.Publisher), logger)
	if err != nil {
		logger.Error("failed to connect to publisher", "error", err)
		os.Exit(1)
	}
	var eventPublisher service.Publisher
	if pub != nil {
		defer pub.Close()
		eventPublisher = pub
	} else {
		logger.Warn("publisher disabled, event changes will not be announced")
	}

	// Stores
	objectStore := postgres.NewObjectStore(db)
	eventStore := postgres.NewEventStore(db)
	blockStore := postgres.NewBlockStore(db)
	integrationStore := postgres.NewIntegrationStore(db)
	groupStore := postgres.NewGroupStore(db)
	batchStore := postgres.NewBatchStore(db)
	txManager := postgres.NewTransactionManager(db)

	// Credentials and providers
	sealer, err := credentials.NewSealer([]byte(cfg.Security.StateKey))
	if err != nil {
		logger.Error("failed to build state sealer", "error", err)
		os.Exit(1)
	}

	apps := make(map[string]credentials.App)
	apiKeys := make(map[string]string)
	webhookSecrets := make(map[string]string)
	for id, p := range cfg.Providers {
		if p.APIKey != "" {
			apiKeys[id] = p.APIKey
		}
		if p.WebhookSecret != "" {
			webhookSecrets[id] = p.WebhookSecret
		}
	}
	creds := credentials.NewManager(apps, apiKeys, groupStore, store, sealer, logger)

	registry := buildRegistry(cfg, provider.Deps{
		Tokens: creds,
		Keys:   creds,
		Cache:  store,
		Logger: logger,
	})
	registerOAuthApps(apps, registry, cfg, logger)

	// Jobs
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	queue := jobs.NewAsynqQueue(redisOpt, logger)
	defer queue.Close()

	runnerOpts := []jobs.RunnerOption{
		jobs.WithIntegrations(integrationStore),
		jobs.WithBatches(batchStore),
	}
	if pub != nil {
		runnerOpts = append(runnerOpts, jobs.WithAlerts(publisher.JobAlerts(pub)))
	}
	runner := jobs.NewRunner(queue, logger, runnerOpts...)

	ingest := service.NewIngest(objectStore, eventStore, blockStore, txManager, eventPublisher, logger)

	coordinator := migration.NewCoordinator(registry, integrationStore, batchStore, queue, store, migration.Config{
		Timebox:      cfg.Migration.Timebox,
		PollInterval: cfg.Migration.PollInterval,
		MaxPolls:     cfg.Migration.MaxPolls,
		StashTTL:     cfg.Migration.StashTTL,
	}, logger)
	coordinator.Register(runner)

	pipe := pipeline.New(
		registry,
		integrationStore,
		ingest,
		queue,
		idempotency.NewGuard(store, cfg.Idempotency.TTL),
		store,
		coordinator,
		pipeline.Config{WebhookSecrets: webhookSecrets},
		logger,
	)
	pipe.Register(runner)

	// Outer surfaces
	eventService := service.NewEvents(ingest, eventStore, blockStore, integrationStore, eventPublisher, logger)
	integrationService := service.NewIntegrations(registry, integrationStore, groupStore, queue, coordinator, ingest, logger)

	api := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		SessionCookie:  cfg.HTTP.SessionCookie,
		OwnerUserID:    cfg.HTTP.OwnerUserID,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		WebhookSecrets: webhookSecrets,
	}, registry, integrationStore, eventService, integrationService, creds, queue, logger)

	sched := scheduler.NewScheduler(integrationStore, registry, queue, scheduler.Config{
		Interval:        cfg.Scheduler.Interval,
		InFlightTimeout: cfg.Scheduler.InFlightTimeout,
		BatchSize:       cfg.Scheduler.BatchSize,
	}, logger)

	worker := jobs.NewServer(redisOpt, jobs.ServerConfig{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      cfg.Queue.Queues,
	}, runner, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting activity ingestor",
		"mode", *mode,
		"providers", len(registry.All()),
		"scheduler_interval", cfg.Scheduler.Interval,
	)

	g, gctx := errgroup.WithContext(ctx)
	if *mode == modeAll || *mode == modeWorker {
		g.Go(func() error { return worker.Run(gctx) })
	}
	if *mode == modeAll || *mode == modeScheduler {
		g.Go(func() error { return sched.Start(gctx) })
	}
	if *mode == modeAll || *mode == modeAPI {
		g.Go(func() error { return api.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingestor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestor stopped")
}

func buildRegistry(cfg *config.Config, deps provider.Deps) *provider.Registry {
	return provider.NewRegistry(
		github.New(github.Config{BaseURL: cfg.Provider(github.ID).BaseURL}, deps),
		monzo.New(monzo.Config{BaseURL: cfg.Provider(monzo.ID).BaseURL}, deps),
		gocardless.New(gocardless.Config{BaseURL: cfg.Provider(gocardless.ID).BaseURL}, deps),
		hevy.New(hevy.Config{BaseURL: cfg.Provider(hevy.ID).BaseURL}, deps),
		outline.New(outline.Config{BaseURL: cfg.Provider(outline.ID).BaseURL}, deps),
		manual.New(deps),
	)
}

// registerOAuthApps fills apps for every OAuth provider that has client credentials configured.
func registerOAuthApps(apps map[string]credentials.App, registry *provider.Registry, cfg *config.Config, logger *slog.Logger) {
	for _, id := range registry.OAuthServices() {
		plugin, _ := registry.Get(id)
		op, ok := plugin.(provider.OAuthProvider)
		if !ok {
			continue
		}
		pc := cfg.Provider(id)
		if pc.ClientID == "" {
			logger.Warn("oauth provider has no client credentials", "service", id)
			continue
		}
		apps[id] = credentials.App{
			Config: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Endpoint:     op.OAuthEndpoint(),
				RedirectURL:  strings.TrimRight(cfg.HTTP.PublicURL, "/") + "/integrations/" + id + "/oauth/callback",
				Scopes:       op.Scopes(),
			},
			Identity: op.FetchAccountIdentity,
		}
	}
}

func publisherConfig(c config.PublisherConfig) publisher.Config {
	return publisher.Config{
		URL:             c.URL,
		Exchange:        c.Exchange,
		RoutingKey:      c.RoutingKey,
		QueueName:       c.QueueName,
		AlertRoutingKey: c.AlertRoutingKey,
		AlertQueueName:  c.AlertQueueName,
		Topic:           c.Topic,
		AlertTopic:      c.AlertTopic,
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
