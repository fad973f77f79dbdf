package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"activity_ingest/internal/domain"
)

type ServerConfig struct {
	Concurrency int
	Queues      map[string]int
}

// Server consumes asynq tasks and hands each envelope to the runner.
type Server struct {
	srv    *asynq.Server
	runner *Runner
	logger *slog.Logger
}

func NewServer(opt asynq.RedisConnOpt, cfg ServerConfig, runner *Runner, logger *slog.Logger) *Server {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = DefaultQueues
	}

	s := &Server{runner: runner, logger: logger.With("component", "worker")}
	s.srv = asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         cfg.Queues,
		RetryDelayFunc: RetryDelay,
		Logger:         asynqLogger{s.logger},
		LogLevel:       asynq.WarnLevel,
	})
	return s
}

// RetryDelay reads the fixed backoff of the task's kind; n is the number of retries already made.
func RetryDelay(n int, _ error, task *asynq.Task) time.Duration {
	var env Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
	return PolicyFor(env.Kind).Delay(env.Retried + n)
}

func (s *Server) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var env Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		s.logger.Error("dropping undecodable task", "type", task.Type(), "error", err)
		return fmt.Errorf("decode envelope: %v: %w", err, asynq.SkipRetry)
	}
	if id, ok := asynq.GetTaskID(ctx); ok && env.ID == "" {
		env.ID = id
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	err := s.runner.Run(ctx, &env, Attempt{Retried: retried, MaxRetry: maxRetry})
	if err != nil && domain.IsFatal(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, kind := range Kinds {
		mux.Handle(TaskType(kind), s)
	}
	return mux
}

func (s *Server) Start() error {
	if err := s.srv.Start(s.Mux()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	return nil
}

// Run blocks until ctx is done, then drains in-flight tasks.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.srv.Shutdown()
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
