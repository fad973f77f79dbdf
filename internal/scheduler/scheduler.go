package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/provider"
)

// Claimer selects due integrations and stamps them triggered in one step.
type Claimer interface {
	ClaimDue(ctx context.Context, q domain.DueQuery) ([]domain.Integration, error)
}

type Config struct {
	Interval        time.Duration
	InFlightTimeout time.Duration
	BatchSize       int
}

// SweepStats holds statistics about one sweep.
type SweepStats struct {
	Claimed  int
	Enqueued int
	Failed   int
	Duration time.Duration
}

type Scheduler struct {
	claimer  Claimer
	registry *provider.Registry
	queue    jobs.Queue
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(claimer Claimer, registry *provider.Registry, queue jobs.Queue, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.InFlightTimeout <= 0 {
		cfg.InFlightTimeout = time.Hour
	}
	return &Scheduler{
		claimer:  claimer,
		registry: registry,
		queue:    queue,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.cfg.Interval)

	s.runSweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	if _, err := s.Sweep(sweepCtx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// Sweep claims every due integration and enqueues one fetch job for each.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepStats, error) {
	start := s.now()
	stats := &SweepStats{}

	claimed, err := s.claimer.ClaimDue(ctx, domain.DueQuery{
		Now:             start,
		InFlightTimeout: s.cfg.InFlightTimeout,
		Limit:           s.cfg.BatchSize,
		Services:        s.registry.Pullers(),
		OAuthServices:   s.registry.OAuthServices(),
	})
	if err != nil {
		return nil, err
	}
	stats.Claimed = len(claimed)

	for i := range claimed {
		integration := &claimed[i]
		env := jobs.NewFetch(integration, slot(integration, start))
		if err := s.queue.Enqueue(ctx, env, 0); err != nil {
			stats.Failed++
			s.logger.Error("failed to enqueue fetch",
				"integration_id", integration.ID,
				"service", integration.Service,
				"error", err,
			)
			continue
		}
		stats.Enqueued++
	}

	stats.Duration = time.Since(start)
	if stats.Claimed > 0 {
		s.logger.Info("sweep completed",
			"claimed", stats.Claimed,
			"enqueued", stats.Enqueued,
			"failed", stats.Failed,
			"duration", stats.Duration,
		)
	}
	return stats, nil
}

// slot names the frequency window a scheduled fetch belongs to, so two sweeps in the
// same window collapse into one job.
func slot(integration *domain.Integration, now time.Time) string {
	return "sched-" + strconv.FormatInt(now.Truncate(integration.UpdateFrequency()).Unix(), 10)
}

// IsDue mirrors the sweep's selection for one integration: active, not in flight and
// past its update frequency since the last trigger.
func IsDue(integration *domain.Integration, now time.Time, inFlightTimeout time.Duration) bool {
	if integration.Status != domain.IntegrationActive {
		return false
	}
	if integration.InFlight(now, inFlightTimeout) {
		return false
	}
	if integration.LastTriggeredAt == nil {
		return true
	}
	return !now.Before(integration.LastTriggeredAt.Add(integration.UpdateFrequency()))
}
