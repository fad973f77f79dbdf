package hevy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
)

type keys struct{}

func (keys) ResolveAPIKey(*domain.Integration, string) (string, error) { return "hevy-key", nil }

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const workoutJSON = `{
	"id": "w1",
	"title": "Push Day",
	"start_time": "2024-05-30T18:00:00Z",
	"end_time": "2024-05-30T19:00:00Z",
	"updated_at": "2024-05-30T19:05:00Z",
	"exercises": [
		{"index": 0, "title": "Bench Press", "exercise_template_id": "bp", "sets": [
			{"index": 0, "type": "normal", "weight_kg": 60, "reps": 10},
			{"index": 1, "type": "normal", "weight_kg": 62.5, "reps": 8}
		]},
		{"index": 1, "title": "Push Up", "sets": [
			{"index": 0, "type": "normal", "reps": 20}
		]}
	]
}`

func newPlugin(t *testing.T, handler http.HandlerFunc) *Plugin {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{BaseURL: srv.URL}, provider.Deps{
		Keys:   keys{},
		Cache:  cache.NewMemory(nil),
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		Clock:  func() time.Time { return now },
	})
}

func instance() *domain.Integration {
	return &domain.Integration{ID: "int-1", Service: ID, InstanceType: "workouts", Configuration: domain.Metadata{}}
}

func TestFetchPage_BeforeCursor(t *testing.T) {
	p := newPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hevy-key", r.Header.Get("api-key"))
		assert.Equal(t, "2024-06-01T12:00:00Z", r.URL.Query().Get("before"))
		_, _ = w.Write([]byte(`{"page":1,"page_count":1,"workouts":[
			{"id":"w2","start_time":"2024-05-31T18:00:00Z"},
			{"id":"w1","start_time":"2024-05-30T18:00:00Z"}]}`))
	})

	cursor := p.InitialCursor(instance(), now)
	page, err := p.FetchPage(context.Background(), instance(), cursor)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotNil(t, page.Next)
	assert.Equal(t, domain.CursorBefore, page.Next.Kind)
	assert.Equal(t, "2024-05-30T18:00:00Z", page.Next.Before)
}

func TestFetchPage_EmptyHasNoNext(t *testing.T) {
	p := newPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"page":1,"page_count":0,"workouts":[]}`))
	})

	page, err := p.FetchPage(context.Background(), instance(), p.InitialCursor(instance(), now))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.Next)
}

func TestFetchData_StopsAtLastSuccess(t *testing.T) {
	calls := 0
	p := newPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		workouts := make([]map[string]any, 0, pageSize)
		for i := 0; i < pageSize; i++ {
			ts := now.Add(-time.Duration(calls*pageSize+i) * time.Hour).Format(time.RFC3339)
			workouts = append(workouts, map[string]any{"id": ts, "start_time": ts, "updated_at": ts})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"page": calls, "page_count": 50, "workouts": workouts})
	})

	integration := instance()
	last := now.Add(-25 * time.Hour)
	integration.LastSuccessfulUpdateAt = &last

	items, err := p.FetchData(context.Background(), integration)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, items, 15)
}

func TestConvertData_WorkoutWithSets(t *testing.T) {
	p := newPlugin(t, func(w http.ResponseWriter, r *http.Request) {})

	converted, err := p.ConvertData(context.Background(), instance(), json.RawMessage(workoutJSON))
	require.NoError(t, err)
	require.Len(t, converted.Events, 1)

	ev := converted.Events[0]
	assert.Equal(t, "w1", ev.SourceID)
	assert.Equal(t, "completed_workout", ev.Action)
	assert.Equal(t, "hevy_workout", ev.Target.Type)
	assert.Equal(t, domain.Value{Value: 1100, Multiplier: 1, Unit: "kg"}, *ev.Value)
	assert.Equal(t, 38, ev.EventMetadata["total_reps"])
	assert.Equal(t, 3600, ev.EventMetadata["duration_seconds"])

	require.Len(t, ev.Blocks, 3)
	assert.Equal(t, "Bench Press set 1", ev.Blocks[0].Title)
	assert.Equal(t, "Bench Press set 2", ev.Blocks[1].Title)
	assert.Equal(t, domain.Value{Value: 6250, Multiplier: 100, Unit: "kg"}, *ev.Blocks[1].Value)
	assert.Equal(t, "Push Up set 1", ev.Blocks[2].Title)
	assert.Nil(t, ev.Blocks[2].Value)
}

func TestConvertData_MissingID(t *testing.T) {
	p := newPlugin(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := p.ConvertData(context.Background(), instance(), json.RawMessage(`{"start_time":"2024-05-30T18:00:00Z"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}
