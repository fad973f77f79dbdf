package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/jobs/jobstest"
	"activity_ingest/internal/provider"
)

type basePlugin struct{ id string }

func (p basePlugin) Identifier() string                   { return p.id }
func (p basePlugin) DisplayName() string                  { return p.id }
func (p basePlugin) Capability() provider.Capability      { return provider.CapabilityAPIKey }
func (p basePlugin) ConfigurationSchema() provider.Schema { return provider.Schema{} }
func (p basePlugin) InstanceTypes() []string              { return []string{"activity"} }

func (p basePlugin) FetchData(context.Context, *domain.Integration) ([]json.RawMessage, error) {
	return nil, nil
}

func (p basePlugin) ConvertData(context.Context, *domain.Integration, json.RawMessage) (*domain.Converted, error) {
	return &domain.Converted{}, nil
}

// pager serves fixed pages behind a decreasing "before" token.
type pager struct {
	basePlugin
	pages   []int
	calls   int
	errs    []error
	stalled bool
}

func (p *pager) InitialCursor(*domain.Integration, time.Time) domain.Cursor {
	return domain.Cursor{Kind: domain.CursorBefore, Before: "1000"}
}

func (p *pager) FetchPage(_ context.Context, _ *domain.Integration, cursor domain.Cursor) (*provider.Page, error) {
	call := p.calls
	p.calls++
	if call < len(p.errs) && p.errs[call] != nil {
		return nil, p.errs[call]
	}

	before, _ := strconv.Atoi(cursor.Before)
	index := 1000 - before
	if index >= len(p.pages) {
		return &provider.Page{}, nil
	}

	page := &provider.Page{}
	for i := range p.pages[index] {
		page.Items = append(page.Items, json.RawMessage(fmt.Sprintf(`{"page":%d,"n":%d}`, index, i)))
	}
	next := cursor
	if !p.stalled {
		next.Before = strconv.Itoa(before - 1)
	}
	page.Next = &next
	return page, nil
}

type batcher struct {
	basePlugin
	units []string
}

func (b *batcher) PlanBatch(context.Context, *domain.Integration, time.Time) ([]provider.Unit, error) {
	out := make([]provider.Unit, 0, len(b.units))
	for _, name := range b.units {
		out = append(out, provider.Unit{Name: name, Kind: name})
	}
	return out, nil
}

func (b *batcher) FetchUnit(_ context.Context, _ *domain.Integration, unit provider.Unit) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"unit":"` + unit.Name + `"}`)}, nil
}

type fakeIntegrations struct {
	mu          sync.Mutex
	integration domain.Integration
	batchIDs    []*string
}

func (f *fakeIntegrations) Get(_ context.Context, id string) (*domain.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.integration.ID {
		return nil, domain.ErrNotFound
	}
	out := f.integration
	return &out, nil
}

func (f *fakeIntegrations) SetMigrationBatch(_ context.Context, _ string, batchID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integration.MigrationBatchID = batchID
	f.batchIDs = append(f.batchIDs, batchID)
	return nil
}

type fakeBatches struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
}

func (f *fakeBatches) Create(_ context.Context, name string, total int) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &domain.Batch{ID: fmt.Sprintf("batch-%d", len(f.batches)+1), Name: name, Total: total, Pending: total}
	f.batches[b.ID] = b
	out := *b
	return &out, nil
}

func (f *fakeBatches) Get(_ context.Context, id string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (f *fakeBatches) JobFinished(_ context.Context, id string, failed bool) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.batches[id]
	b.Pending--
	if failed {
		b.Failed++
	}
	out := *b
	return &out, nil
}

type CoordinatorTestSuite struct {
	suite.Suite

	pager        *pager
	batcher      *batcher
	integrations *fakeIntegrations
	batches      *fakeBatches
	queue        *jobstest.Queue
	store        *cache.Memory
	runner       *jobs.Runner
	coordinator  *Coordinator

	now       time.Time
	processed []jobs.ProcessPayload
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.pager = &pager{basePlugin: basePlugin{id: "pager"}}
	s.batcher = &batcher{basePlugin: basePlugin{id: "batcher"}, units: []string{"window-1", "pots"}}
	s.integrations = &fakeIntegrations{integration: domain.Integration{ID: "int-1", Service: "pager", InstanceType: "activity"}}
	s.batches = &fakeBatches{batches: make(map[string]*domain.Batch)}
	s.queue = jobstest.NewQueue()
	s.store = cache.NewMemory(nil)
	s.processed = nil

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := provider.NewRegistry(s.pager, s.batcher)
	s.coordinator = NewCoordinator(registry, s.integrations, s.batches, s.queue, s.store, Config{Timebox: time.Hour}, logger)
	s.coordinator.now = func() time.Time { return s.now }

	s.runner = jobs.NewRunner(s.queue, logger, jobs.WithBatches(s.batches))
	s.coordinator.Register(s.runner)
	s.runner.Register(jobs.KindProcess, jobs.HandlerFunc(func(_ context.Context, env *jobs.Envelope) error {
		var p jobs.ProcessPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		s.processed = append(s.processed, p)
		return nil
	}))
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

// drain runs queued jobs in order until the queue is empty.
func (s *CoordinatorTestSuite) drain() {
	for range 100 {
		next, ok := s.queue.Pop()
		if !ok {
			return
		}
		attempt := jobs.Attempt{MaxRetry: jobs.PolicyFor(next.Env.Kind).Tries - 1}
		_ = s.runner.Run(context.Background(), next.Env, attempt)
	}
	s.Fail("queue did not drain")
}

func (s *CoordinatorTestSuite) integration() *domain.Integration {
	out := s.integrations.integration
	return &out
}

func (s *CoordinatorTestSuite) TestChain_NPagesThenEmpty() {
	s.pager.pages = []int{3, 2, 4}

	s.Require().NoError(s.coordinator.Start(context.Background(), s.integration()))
	s.drain()

	s.Equal(4, s.pager.calls)
	s.Require().Len(s.processed, 3)
	s.Len(s.processed[0].Items, 3)
	s.Len(s.processed[2].Items, 4)
	s.Equal("1000", s.processed[0].Cursor.Before)
	s.Equal("998", s.processed[2].Cursor.Before)
}

func (s *CoordinatorTestSuite) TestChain_ProcessRunsBeforeNextFetch() {
	s.pager.pages = []int{1, 1}
	s.Require().NoError(s.coordinator.Start(context.Background(), s.integration()))

	first, ok := s.queue.Pop()
	s.Require().True(ok)
	s.Require().NoError(s.runner.Run(context.Background(), first.Env, jobs.Attempt{MaxRetry: 2}))

	s.Equal(1, s.pager.calls)
	s.Len(s.queue.Kind(jobs.KindMigrationPage), 0)
	processes := s.queue.Kind(jobs.KindProcess)
	s.Require().Len(processes, 1)
	s.Require().Len(processes[0].Then, 1)
	s.Equal(jobs.KindMigrationPage, processes[0].Then[0].Kind)
}

func (s *CoordinatorTestSuite) TestChain_TimeboxStopsBeforeFetching() {
	s.pager.pages = []int{3, 3}

	until := s.now.Add(-time.Minute)
	s.Require().NoError(s.coordinator.StartUntil(context.Background(), s.integration(), until))
	s.drain()

	s.Zero(s.pager.calls)
	s.Empty(s.processed)
}

func (s *CoordinatorTestSuite) TestChain_RegressionAborts() {
	s.pager.pages = []int{2, 2}
	s.pager.stalled = true
	s.Require().NoError(s.coordinator.Start(context.Background(), s.integration()))

	first, _ := s.queue.Pop()
	err := s.coordinator.HandlePage(context.Background(), first.Env)
	s.ErrorIs(err, ErrCursorRegression)
	s.True(domain.IsFatal(err))
	s.Zero(s.queue.Len())
}

func (s *CoordinatorTestSuite) TestChain_RateLimitKeepsCursor() {
	s.pager.pages = []int{2}
	s.pager.errs = []error{&domain.RateLimitedError{Service: "pager", Status: 429, RetryAfter: 45 * time.Second}}
	s.Require().NoError(s.coordinator.Start(context.Background(), s.integration()))

	first, _ := s.queue.Pop()
	s.Require().NoError(s.runner.Run(context.Background(), first.Env, jobs.Attempt{MaxRetry: 2}))

	jobsNow := s.queue.Jobs()
	s.Require().Len(jobsNow, 1)
	s.Equal(45*time.Second, jobsNow[0].Delay)
	s.True(jobsNow[0].Env.Redispatch)
	s.JSONEq(string(first.Env.Payload), string(jobsNow[0].Env.Payload))

	s.drain()
	s.Len(s.processed, 1)
}

func (s *CoordinatorTestSuite) TestBatch_FetchThenProcessUnits() {
	ctx := context.Background()
	s.integrations.integration.Service = "batcher"

	s.Require().NoError(s.coordinator.Start(ctx, s.integration()))
	s.Require().NotNil(s.integrations.integration.MigrationBatchID)
	s.drain()

	s.Require().Len(s.processed, 2)
	stashKeys := []string{s.processed[0].StashKey, s.processed[1].StashKey}
	s.ElementsMatch([]string{"migration:batch-1:window-1", "migration:batch-1:pots"}, stashKeys)

	raw, err := s.store.Get(ctx, "migration:batch-1:pots")
	s.Require().NoError(err)
	s.JSONEq(`[{"unit":"pots"}]`, string(raw))

	s.Nil(s.integrations.integration.MigrationBatchID)
	s.Len(s.integrations.batchIDs, 3)
}

func (s *CoordinatorTestSuite) TestMonitor_ReschedulesWhilePending() {
	ctx := context.Background()
	s.integrations.integration.Service = "batcher"
	s.Require().NoError(s.coordinator.Start(ctx, s.integration()))

	monitors := s.queue.Kind(jobs.KindBatchMonitor)
	s.Require().Len(monitors, 1)
	s.Require().NoError(s.coordinator.Monitor(ctx, monitors[0]))

	monitors = s.queue.Kind(jobs.KindBatchMonitor)
	s.Require().Len(monitors, 2)
	var p jobs.MonitorPayload
	s.Require().NoError(monitors[1].Decode(&p))
	s.Equal(1, p.Polls)
	s.Empty(p.ProcessBatchID)
	s.Empty(s.queue.Kind(jobs.KindProcess))
}

func (s *CoordinatorTestSuite) TestMonitor_SkipsWhenLocked() {
	ctx := context.Background()
	s.integrations.integration.Service = "batcher"
	s.Require().NoError(s.coordinator.Start(ctx, s.integration()))

	_, ok, err := cache.NewLocker(s.store).Acquire(ctx, "migration:monitor:batch-1", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	before := s.queue.Len()
	monitor := s.queue.Kind(jobs.KindBatchMonitor)[0]
	s.Require().NoError(s.coordinator.Monitor(ctx, monitor))
	s.Equal(before, s.queue.Len())
}
