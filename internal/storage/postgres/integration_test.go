//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"activity_ingest/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
	userID    string
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.userID = uuid.NewString()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_canonical.up.sql"),
			filepath.Join(migrationsPath, "002_integrations.up.sql"),
			filepath.Join(migrationsPath, "003_job_batches.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM blocks")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM events")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM objects")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM integrations")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM integration_groups")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM job_batches")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) object(title string) *domain.Object {
	return &domain.Object{
		UserID:   s.userID,
		Concept:  "account",
		Type:     "github_repo",
		Title:    title,
		Metadata: domain.Metadata{"stars": float64(1)},
	}
}

func (s *PostgresIntegrationSuite) seedEvent(store *EventStore, integrationID, sourceID, action string) (string, domain.WriteOutcome) {
	objects := NewObjectStore(s.db)
	actorID, err := objects.Upsert(s.ctx, s.object("actor"))
	s.Require().NoError(err)
	targetID, err := objects.Upsert(s.ctx, s.object("target"))
	s.Require().NoError(err)

	event := &domain.Event{
		SourceID:      sourceID,
		Time:          time.Now().UTC().Truncate(time.Microsecond),
		IntegrationID: integrationID,
		ActorID:       actorID,
		TargetID:      targetID,
		Service:       "github",
		Domain:        "online",
		Action:        action,
	}
	event.SetValue(&domain.Value{Value: 1250, Multiplier: 100, Unit: "GBP"})

	id, outcome, err := store.Upsert(s.ctx, event)
	s.Require().NoError(err)
	return id, outcome
}

func (s *PostgresIntegrationSuite) TestObjectStore_Upsert_NaturalKey() {
	store := NewObjectStore(s.db)

	id1, err := store.Upsert(s.ctx, s.object("activity_ingest"))
	s.NoError(err)

	second := s.object("activity_ingest")
	second.Metadata = domain.Metadata{"language": "go"}
	id2, err := store.Upsert(s.ctx, second)
	s.NoError(err)
	s.Equal(id1, id2)

	got, err := store.Get(s.ctx, id1)
	s.NoError(err)
	s.Equal("go", got.Metadata["language"])
	s.Equal(float64(1), got.Metadata["stars"])

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM objects WHERE title = $1", "activity_ingest")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestEventStore_Upsert_Idempotent() {
	store := NewEventStore(s.db)
	integrationID := uuid.NewString()

	id1, outcome := s.seedEvent(store, integrationID, "sha-1", "pushed")
	s.Equal(domain.Inserted, outcome)

	id2, outcome := s.seedEvent(store, integrationID, "sha-1", "pushed")
	s.Equal(domain.Updated, outcome)
	s.Equal(id1, id2)

	id3, outcome := s.seedEvent(store, integrationID, "sha-1", "force_pushed")
	s.Equal(domain.Updated, outcome)
	s.Equal(id1, id3)

	var count int
	err := s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM events WHERE source_id = $1", "sha-1")
	s.NoError(err)
	s.Equal(1, count)

	got, err := store.Get(s.ctx, id1)
	s.NoError(err)
	s.Equal("force_pushed", got.Action)
	s.Equal(int64(1250), *got.Value)
	s.Equal(int64(100), *got.ValueMultiplier)
}

func (s *PostgresIntegrationSuite) TestEventStore_SoftDelete_CascadesAndSuppresses() {
	events := NewEventStore(s.db)
	blocks := NewBlockStore(s.db)
	integrationID := uuid.NewString()

	id, _ := s.seedEvent(events, integrationID, "tx-1", "card_payment")
	_, err := blocks.Upsert(s.ctx, &domain.Block{EventID: id, Time: time.Now(), Title: "Coffee", BlockType: "line_item"})
	s.NoError(err)

	tm := NewTransactionManager(s.db)
	err = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		return events.SoftDelete(ctx, id)
	})
	s.NoError(err)

	_, err = events.Get(s.ctx, id)
	s.ErrorIs(err, domain.ErrNotFound)

	live, err := blocks.ListByEvent(s.ctx, id)
	s.NoError(err)
	s.Empty(live)

	_, outcome := s.seedEvent(events, integrationID, "tx-1", "card_payment")
	s.Equal(domain.Suppressed, outcome)

	s.ErrorIs(events.SoftDelete(s.ctx, id), domain.ErrNotFound)
}

func (s *PostgresIntegrationSuite) TestEventStore_List_Filters() {
	store := NewEventStore(s.db)
	integrationID := uuid.NewString()

	s.seedEvent(store, integrationID, "a", "pushed")
	s.seedEvent(store, integrationID, "b", "opened_pr")
	s.seedEvent(store, uuid.NewString(), "c", "pushed")

	got, err := store.List(s.ctx, domain.EventFilter{IntegrationID: integrationID})
	s.NoError(err)
	s.Len(got, 2)

	got, err = store.List(s.ctx, domain.EventFilter{Action: "pushed", PerPage: 1})
	s.NoError(err)
	s.Len(got, 1)

	future := time.Now().Add(time.Hour)
	got, err = store.List(s.ctx, domain.EventFilter{From: &future})
	s.NoError(err)
	s.Empty(got)
}

func (s *PostgresIntegrationSuite) TestBlockStore_Upsert_ByTitle() {
	events := NewEventStore(s.db)
	blocks := NewBlockStore(s.db)
	id, _ := s.seedEvent(events, uuid.NewString(), "w-1", "completed_workout")

	first := &domain.Block{EventID: id, Time: time.Now(), Title: "Set 1", BlockType: "exercise_set"}
	first.SetValue(&domain.Value{Value: 100, Multiplier: 1, Unit: "kg"})
	b1, err := blocks.Upsert(s.ctx, first)
	s.NoError(err)

	again := &domain.Block{EventID: id, Time: time.Now(), Title: "Set 1", BlockType: "exercise_set"}
	again.SetValue(&domain.Value{Value: 1025, Multiplier: 10, Unit: "kg"})
	b2, err := blocks.Upsert(s.ctx, again)
	s.NoError(err)
	s.Equal(b1, b2)

	list, err := blocks.ListByEvent(s.ctx, id)
	s.NoError(err)
	s.Len(list, 1)
	s.Equal(int64(1025), *list[0].Value)
}

func (s *PostgresIntegrationSuite) createIntegration(service string, mutate func(*domain.Integration)) *domain.Integration {
	store := NewIntegrationStore(s.db)
	integration := &domain.Integration{
		UserID:                 s.userID,
		Service:                service,
		Name:                   service,
		UpdateFrequencyMinutes: 15,
	}
	s.Require().NoError(store.Create(s.ctx, integration))
	if mutate != nil {
		mutate(integration)
		_, err := s.db.ExecContext(s.ctx, `
			UPDATE integrations SET last_triggered_at = $2, last_successful_update_at = $3, status = $4
			WHERE id = $1`,
			integration.ID, integration.LastTriggeredAt, integration.LastSuccessfulUpdateAt, integration.Status)
		s.Require().NoError(err)
	}
	return integration
}

func (s *PostgresIntegrationSuite) TestIntegrationStore_ClaimDue() {
	store := NewIntegrationStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	twentyAgo := now.Add(-20 * time.Minute)
	fiveAgo := now.Add(-5 * time.Minute)
	hourAgo := now.Add(-time.Hour)

	due := s.createIntegration("demo", func(i *domain.Integration) {
		i.LastTriggeredAt = &twentyAgo
		i.LastSuccessfulUpdateAt = &twentyAgo
	})
	s.createIntegration("demo", func(i *domain.Integration) {
		i.LastTriggeredAt = &fiveAgo
		i.LastSuccessfulUpdateAt = &fiveAgo
	})
	s.createIntegration("demo", func(i *domain.Integration) {
		i.LastTriggeredAt = &twentyAgo
		i.LastSuccessfulUpdateAt = &hourAgo
	})
	s.createIntegration("demo", func(i *domain.Integration) {
		i.Status = domain.IntegrationFailed
	})
	s.createIntegration("github", nil)

	q := domain.DueQuery{
		Now:             now,
		InFlightTimeout: time.Hour,
		Services:        []string{"demo", "github"},
		OAuthServices:   []string{"github"},
	}

	claimed, err := store.ClaimDue(s.ctx, q)
	s.NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(due.ID, claimed[0].ID)
	s.WithinDuration(now, *claimed[0].LastTriggeredAt, time.Second)

	claimed, err = store.ClaimDue(s.ctx, q)
	s.NoError(err)
	s.Empty(claimed, "a claimed integration is in flight until it succeeds")
}

func (s *PostgresIntegrationSuite) TestGroupStore_TokensAndPrimaryInstance() {
	groups := NewGroupStore(s.db)
	integrations := NewIntegrationStore(s.db)

	group := &domain.IntegrationGroup{UserID: s.userID, Service: "monzo"}
	s.Require().NoError(groups.Create(s.ctx, group))

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	s.NoError(groups.UpdateTokens(s.ctx, group.ID, "access", "refresh", expiry))
	s.NoError(groups.UpdateTokens(s.ctx, group.ID, "access-2", "", expiry))

	got, err := groups.Get(s.ctx, group.ID)
	s.NoError(err)
	s.Equal("access-2", *got.AccessToken)
	s.Equal("refresh", *got.RefreshToken)

	for _, instanceType := range []string{"transactions", "balances", "transactions"} {
		s.NoError(integrations.Create(s.ctx, &domain.Integration{
			UserID:       s.userID,
			GroupID:      &group.ID,
			Service:      "monzo",
			Name:         "Monzo " + instanceType,
			InstanceType: instanceType,
		}))
	}

	list, err := integrations.ListByGroup(s.ctx, group.ID)
	s.NoError(err)
	s.Len(list, 2)

	primary, err := integrations.PrimaryInstance(s.ctx, group.ID, "transactions")
	s.NoError(err)
	s.Equal("transactions", primary.InstanceType)
}

func (s *PostgresIntegrationSuite) TestBatchStore_JobFinished() {
	store := NewBatchStore(s.db)

	batch, err := store.Create(s.ctx, "monzo:fetch", 2)
	s.NoError(err)
	s.False(batch.Finished())

	batch, err = store.JobFinished(s.ctx, batch.ID, false)
	s.NoError(err)
	s.Equal(1, batch.Pending)
	s.False(batch.Finished())

	batch, err = store.JobFinished(s.ctx, batch.ID, true)
	s.NoError(err)
	s.True(batch.Finished())
	s.Equal(1, batch.Failed)
	s.NotNil(batch.FinishedAt)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	objects := NewObjectStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := objects.Upsert(ctx, s.object("rolled-back")); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM objects WHERE title = $1", "rolled-back")
	s.NoError(err)
	s.Equal(0, count)
}

func (s *PostgresIntegrationSuite) TestEventStore_DeleteMissing() {
	store := NewEventStore(s.db)
	objects := NewObjectStore(s.db)
	integrationID := uuid.NewString()

	actorID, err := objects.Upsert(s.ctx, s.object("author"))
	s.Require().NoError(err)

	for _, sourceID := range []string{"task-a", "task-b", "task-c"} {
		_, _, err := store.Upsert(s.ctx, &domain.Event{
			SourceID:      sourceID,
			Time:          time.Now(),
			IntegrationID: integrationID,
			ActorID:       actorID,
			TargetID:      actorID,
			Service:       "outline",
			Domain:        "knowledge",
			Action:        "added_task",
			EventMetadata: domain.Metadata{domain.ReconcileScopeKey: "outline:doc:1"},
		})
		s.Require().NoError(err)
	}

	deleted, err := store.DeleteMissing(s.ctx, integrationID, "outline:doc:1", []string{"task-a"})
	s.NoError(err)
	s.Len(deleted, 2)

	live, err := store.List(s.ctx, domain.EventFilter{IntegrationID: integrationID})
	s.NoError(err)
	s.Require().Len(live, 1)
	s.Equal("task-a", live[0].SourceID)
}

func (s *PostgresIntegrationSuite) TestEventStore_ReconciledItemComesBack() {
	store := NewEventStore(s.db)
	objects := NewObjectStore(s.db)
	integrationID := uuid.NewString()

	actorID, err := objects.Upsert(s.ctx, s.object("author"))
	s.Require().NoError(err)

	task := func() *domain.Event {
		return &domain.Event{
			SourceID:      "task-restored",
			Time:          time.Now(),
			IntegrationID: integrationID,
			ActorID:       actorID,
			TargetID:      actorID,
			Service:       "outline",
			Domain:        "knowledge",
			Action:        "added_task",
			EventMetadata: domain.Metadata{domain.ReconcileScopeKey: "outline:doc:2"},
		}
	}

	_, outcome, err := store.Upsert(s.ctx, task())
	s.Require().NoError(err)
	s.Equal(domain.Inserted, outcome)

	deleted, err := store.DeleteMissing(s.ctx, integrationID, "outline:doc:2", nil)
	s.Require().NoError(err)
	s.Len(deleted, 1)

	_, outcome, err = store.Upsert(s.ctx, task())
	s.Require().NoError(err)
	s.Equal(domain.Inserted, outcome)

	live, err := store.List(s.ctx, domain.EventFilter{IntegrationID: integrationID})
	s.NoError(err)
	s.Require().Len(live, 1)
	s.Equal("task-restored", live[0].SourceID)
}
