package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Queue dispatches envelopes. Enqueueing logically identical work twice is not an error.
type Queue interface {
	Enqueue(ctx context.Context, env *Envelope, delay time.Duration) error
}

// QueueName maps a kind to the asynq queue it runs on.
func QueueName(kind Kind) string {
	switch kind {
	case KindWebhook, KindProcess:
		return "critical"
	case KindMigrationPage, KindBatchMonitor:
		return "low"
	default:
		return "default"
	}
}

// DefaultQueues is the asynq priority map.
var DefaultQueues = map[string]int{"critical": 6, "default": 3, "low": 1}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

type AsynqQueue struct {
	client    taskClient
	inspector taskInspector
	logger    *slog.Logger
}

func NewAsynqQueue(opt asynq.RedisConnOpt, logger *slog.Logger) *AsynqQueue {
	return newAsynqQueue(asynq.NewClient(opt), asynq.NewInspector(opt), logger)
}

func newAsynqQueue(client taskClient, inspector taskInspector, logger *slog.Logger) *AsynqQueue {
	return &AsynqQueue{
		client:    client,
		inspector: inspector,
		logger:    logger.With("component", "queue"),
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, env *Envelope, delay time.Duration) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	task := asynq.NewTask(TaskType(env.Kind), payload)
	opts := Options(env, delay)

	_, err = q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		var settled bool
		if settled, err = q.clearSettled(env); err == nil && settled {
			_, err = q.client.EnqueueContext(ctx, task, opts...)
		}
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		q.logger.Debug("job already queued", "unique_id", env.UniqueID())
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", env, err)
	}
	return nil
}

// clearSettled drops an archived or completed task holding env's id, so the same work
// can be queued again. It reports false while the holder is still waiting or running.
func (q *AsynqQueue) clearSettled(env *Envelope) (bool, error) {
	queue, id := QueueName(env.Kind), env.UniqueID()

	info, err := q.inspector.GetTaskInfo(queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect task %s: %w", id, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}

	if err := q.inspector.DeleteTask(queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete settled task %s: %w", id, err)
	}
	q.logger.Info("replacing settled task", "unique_id", id, "state", info.State.String())
	return true, nil
}

// Options builds the asynq options for an envelope: policy timeout, remaining retries, dedup id and delay.
func Options(env *Envelope, delay time.Duration) []asynq.Option {
	policy := PolicyFor(env.Kind)
	opts := []asynq.Option{
		asynq.Queue(QueueName(env.Kind)),
		asynq.Timeout(policy.Timeout),
		asynq.MaxRetry(max(policy.Tries-1-env.Retried, 0)),
	}
	if !env.Redispatch {
		opts = append(opts, asynq.TaskID(env.UniqueID()))
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return opts
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
