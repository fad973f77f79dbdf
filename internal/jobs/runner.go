package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/observability"
)

type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error { return f(ctx, env) }

// IntegrationMarker flips an integration out of scheduling after a terminal failure.
type IntegrationMarker interface {
	MarkFailed(ctx context.Context, id string) error
}

type BatchTracker interface {
	JobFinished(ctx context.Context, id string, failed bool) (*domain.Batch, error)
}

// AlertFunc raises an operator alert for a job that gave up.
type AlertFunc func(ctx context.Context, env *Envelope, err error) error

// Attempt tells the runner where the current delivery stands in its retry budget.
type Attempt struct {
	Retried  int
	MaxRetry int
}

func (a Attempt) Final() bool {
	return a.Retried >= a.MaxRetry
}

type Runner struct {
	queue        Queue
	handlers     map[Kind]Handler
	integrations IntegrationMarker
	batches      BatchTracker
	alert        AlertFunc
	logger       *slog.Logger
}

type RunnerOption func(*Runner)

func WithIntegrations(m IntegrationMarker) RunnerOption {
	return func(r *Runner) { r.integrations = m }
}

func WithBatches(b BatchTracker) RunnerOption {
	return func(r *Runner) { r.batches = b }
}

func WithAlerts(fn AlertFunc) RunnerOption {
	return func(r *Runner) { r.alert = fn }
}

func NewRunner(queue Queue, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:    queue,
		handlers: make(map[Kind]Handler),
		logger:   logger.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Register(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Run executes one delivery of env. A nil return means the delivery is settled: done,
// re-dispatched after a rate limit, or deliberately dropped.
func (r *Runner) Run(ctx context.Context, env *Envelope, attempt Attempt) error {
	h, ok := r.handlers[env.Kind]
	if !ok {
		return domain.Fatal(fmt.Errorf("no handler for job kind %q", env.Kind))
	}

	logger := r.logger.With(
		"job_id", env.ID,
		"job_kind", env.Kind,
		"job_type", env.Type,
		"service", env.Service,
		"integration_id", env.IntegrationID,
		"attempt", env.Retried+attempt.Retried+1,
	)

	policy := PolicyFor(env.Kind)
	ctx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, logger, env.SpanName())
	started := time.Now()
	err := h.Handle(ctx, env)
	span.Fail(err)
	span.End()

	if err == nil {
		observability.RecordJob(string(env.Kind), env.Service, observability.OutcomeSucceeded, time.Since(started))
		// The batch is only settled once the chain is out; a failed enqueue retries the job.
		if err := r.continueChain(ctx, env); err != nil {
			return err
		}
		r.finishBatch(ctx, logger, env, false)
		return nil
	}

	if rl, ok := domain.AsRateLimited(err); ok {
		observability.RecordJob(string(env.Kind), env.Service, observability.OutcomeRateLimited, time.Since(started))
		observability.RecordRateLimited(env.Service)
		if err := r.redispatch(ctx, env, attempt, rl.RetryAfter); err != nil {
			return err
		}
		logger.Info("rate limited, job re-dispatched", "retry_after", rl.RetryAfter, "status", rl.Status)
		return nil
	}

	if d, ok := domain.AsDeferred(err); ok {
		observability.RecordJob(string(env.Kind), env.Service, observability.OutcomeDeferred, time.Since(started))
		if err := r.redispatch(ctx, env, attempt, d.After); err != nil {
			return err
		}
		logger.Info("job deferred", "reason", d.Err, "run_in", d.After)
		return nil
	}

	fatal := domain.IsFatal(err)
	if !fatal && !attempt.Final() {
		observability.RecordJob(string(env.Kind), env.Service, observability.OutcomeRetrying, time.Since(started))
		logger.Warn("job failed, will retry", "error", err, "retry_in", policy.Delay(env.Retried+attempt.Retried))
		return err
	}

	observability.RecordJob(string(env.Kind), env.Service, observability.OutcomeFailed, time.Since(started))
	logger.Error("job failed permanently", "error", err, "fatal", fatal)
	r.giveUp(context.WithoutCancel(ctx), logger, env, err)
	return err
}

// redispatch schedules the same job again after delay without spending a retry.
func (r *Runner) redispatch(ctx context.Context, env *Envelope, attempt Attempt, delay time.Duration) error {
	next := *env
	next.ID = ""
	next.Retried = env.Retried + attempt.Retried
	next.Redispatch = true

	if err := r.queue.Enqueue(context.WithoutCancel(ctx), &next, delay); err != nil {
		return fmt.Errorf("redispatch: %w", err)
	}
	return nil
}

func (r *Runner) continueChain(ctx context.Context, env *Envelope) error {
	var errs []error
	for _, next := range env.Then {
		if err := r.queue.Enqueue(context.WithoutCancel(ctx), next, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("continue chain: %w", errors.Join(errs...))
	}
	return nil
}

func (r *Runner) giveUp(ctx context.Context, logger *slog.Logger, env *Envelope, cause error) {
	r.finishBatch(ctx, logger, env, true)

	if env.IntegrationID != "" && r.integrations != nil && env.Kind != KindBatchMonitor {
		if err := r.integrations.MarkFailed(ctx, env.IntegrationID); err != nil {
			logger.Error("failed to mark integration failed", "error", err)
		}
	}

	if env.Kind == KindProcess && r.alert != nil {
		if err := r.alert(ctx, env, cause); err != nil {
			logger.Error("failed to raise alert", "error", err)
		}
	}
}

func (r *Runner) finishBatch(ctx context.Context, logger *slog.Logger, env *Envelope, failed bool) {
	if env.BatchID == "" || r.batches == nil {
		return
	}
	batch, err := r.batches.JobFinished(ctx, env.BatchID, failed)
	if err != nil {
		logger.Error("failed to update batch", "batch_id", env.BatchID, "error", err)
		return
	}
	logger.Debug("batch progress", "batch_id", batch.ID, "pending", batch.Pending, "failed", batch.Failed)
}
