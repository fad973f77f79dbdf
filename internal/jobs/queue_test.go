package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_ingest/internal/domain"
)

// fakeBroker keeps task ids the way asynq does: an id stays taken until its task is deleted.
type fakeBroker struct {
	tasks   map[string]asynq.TaskState
	deleted []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{tasks: make(map[string]asynq.TaskState)}
}

func taskID(opts []asynq.Option) string {
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			return o.Value().(string)
		}
	}
	return ""
}

func (b *fakeBroker) EnqueueContext(_ context.Context, _ *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	id := taskID(opts)
	if _, taken := b.tasks[id]; taken && id != "" {
		return nil, asynq.ErrTaskIDConflict
	}
	b.tasks[id] = asynq.TaskStatePending
	return &asynq.TaskInfo{ID: id, State: asynq.TaskStatePending}, nil
}

func (b *fakeBroker) GetTaskInfo(_, id string) (*asynq.TaskInfo, error) {
	state, ok := b.tasks[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return &asynq.TaskInfo{ID: id, State: state}, nil
}

func (b *fakeBroker) DeleteTask(_, id string) error {
	if _, ok := b.tasks[id]; !ok {
		return asynq.ErrTaskNotFound
	}
	delete(b.tasks, id)
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func newTestQueue(b *fakeBroker) *AsynqQueue {
	return newAsynqQueue(b, b, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
}

func processEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := NewProcess(&domain.Integration{ID: "int-1", Service: "monzo", InstanceType: "transactions"},
		ProcessPayload{Items: nil, StashKey: "migration:b1:tx"})
	require.NoError(t, err)
	return env
}

func TestAsynqQueue_ArchivedTaskIsReplaced(t *testing.T) {
	broker := newFakeBroker()
	q := newTestQueue(broker)

	require.NoError(t, q.Enqueue(context.Background(), processEnvelope(t), 0))
	id := processEnvelope(t).UniqueID()
	broker.tasks[id] = asynq.TaskStateArchived

	require.NoError(t, q.Enqueue(context.Background(), processEnvelope(t), 0))
	assert.Equal(t, []string{id}, broker.deleted)
	assert.Equal(t, asynq.TaskStatePending, broker.tasks[id])
}

func TestAsynqQueue_CompletedTaskIsReplaced(t *testing.T) {
	broker := newFakeBroker()
	q := newTestQueue(broker)
	env := NewInit(&domain.Integration{ID: "int-1", Service: "github", InstanceType: "activity"})
	broker.tasks[env.UniqueID()] = asynq.TaskStateCompleted

	require.NoError(t, q.Enqueue(context.Background(), env, 0))
	assert.Equal(t, []string{env.UniqueID()}, broker.deleted)
	assert.Equal(t, asynq.TaskStatePending, broker.tasks[env.UniqueID()])
}

func TestAsynqQueue_LiveDuplicateIsDropped(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStatePending, asynq.TaskStateActive, asynq.TaskStateScheduled, asynq.TaskStateRetry} {
		t.Run(state.String(), func(t *testing.T) {
			broker := newFakeBroker()
			q := newTestQueue(broker)
			id := processEnvelope(t).UniqueID()
			broker.tasks[id] = state

			require.NoError(t, q.Enqueue(context.Background(), processEnvelope(t), 0))
			assert.Empty(t, broker.deleted)
			assert.Equal(t, state, broker.tasks[id])
		})
	}
}

type failingInspector struct{ *fakeBroker }

func (failingInspector) GetTaskInfo(string, string) (*asynq.TaskInfo, error) {
	return nil, errors.New("connection refused")
}

func TestAsynqQueue_InspectFailureSurfaces(t *testing.T) {
	broker := newFakeBroker()
	q := newAsynqQueue(broker, failingInspector{broker}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	broker.tasks[processEnvelope(t).UniqueID()] = asynq.TaskStateArchived

	err := q.Enqueue(context.Background(), processEnvelope(t), 0)
	assert.ErrorContains(t, err, "connection refused")
}
