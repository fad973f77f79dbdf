package gocardless

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
)

type keys struct{}

func (keys) ResolveAPIKey(*domain.Integration, string) (string, error) { return "secret", nil }

type server struct {
	transactions atomic.Int32
	details      atomic.Int32
	balances     atomic.Int32
}

func (s *server) handle(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case strings.Contains(r.URL.Path, "/details"):
			s.details.Add(1)
			_, _ = w.Write([]byte(`{"account":{"name":"Current"}}`))
		case strings.Contains(r.URL.Path, "/balances"):
			s.balances.Add(1)
			_, _ = w.Write([]byte(`{"balances":[{"balanceAmount":{"amount":"1520.40","currency":"EUR"},"balanceType":"expected","referenceDate":"2024-06-01"}]}`))
		case strings.Contains(r.URL.Path, "/transactions"):
			s.transactions.Add(1)
			_, _ = w.Write([]byte(`{"transactions":{"booked":[
				{"transactionId":"t1","bookingDate":"2024-05-30","transactionAmount":{"amount":"-12.30","currency":"EUR"},"creditorName":"Cafe"},
				{"transactionId":"t2","bookingDate":"2024-05-29","transactionAmount":{"amount":"2000.00","currency":"EUR"},"debtorName":"Employer"}
			],"pending":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newPlugin(t *testing.T, clock func() time.Time) (*Plugin, *server) {
	t.Helper()
	s := &server{}
	srv := httptest.NewServer(s.handle(t))
	t.Cleanup(srv.Close)

	p := New(Config{BaseURL: srv.URL}, provider.Deps{
		Keys:   keys{},
		Cache:  cache.NewMemory(clock),
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		Clock:  clock,
	})
	return p, s
}

func instance(instanceType string) *domain.Integration {
	return &domain.Integration{
		ID:            "int-1",
		Service:       ID,
		InstanceType:  instanceType,
		Configuration: domain.Metadata{"account_id": "acc-1"},
	}
}

func TestFetchData_CachedBeforeQuota(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p, s := newPlugin(t, func() time.Time { return now })

	for i := 0; i < 6; i++ {
		items, err := p.FetchData(context.Background(), instance(InstanceBalances))
		require.NoError(t, err)
		require.Len(t, items, 1)
	}
	assert.Equal(t, int32(1), s.balances.Load())
	assert.Equal(t, int32(1), s.details.Load())
}

func TestFetchData_QuotaCeiling(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p, s := newPlugin(t, func() time.Time { return now })

	for i := 0; i < DailyCap; i++ {
		_, err := p.FetchData(context.Background(), instance(InstanceBalances))
		require.NoError(t, err)
		now = now.Add(balancesTTL + time.Minute)
	}
	require.Equal(t, int32(DailyCap), s.balances.Load())

	_, err := p.FetchData(context.Background(), instance(InstanceBalances))
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
	assert.Equal(t, int32(DailyCap), s.balances.Load())

	now = time.Date(2024, 6, 2, 0, 30, 0, 0, time.UTC)
	_, err = p.FetchData(context.Background(), instance(InstanceBalances))
	assert.NoError(t, err)
	assert.Equal(t, int32(DailyCap+1), s.balances.Load())
}

func TestFetchPage_WindowMovesBackward(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p, _ := newPlugin(t, func() time.Time { return now })

	cursor := p.InitialCursor(instance(InstanceTransactions), now)
	assert.Equal(t, now.AddDate(0, 0, -defaultHistoryDays), cursor.Floor)

	page, err := p.FetchPage(context.Background(), instance(InstanceTransactions), cursor)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotNil(t, page.Next)
	assert.Equal(t, cursor.WindowStart, page.Next.WindowEnd)
	assert.True(t, page.Next.WindowStart.Before(cursor.WindowStart))
}

func TestConvertData(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p, _ := newPlugin(t, func() time.Time { return now })

	items, err := p.FetchData(context.Background(), instance(InstanceTransactions))
	require.NoError(t, err)
	require.Len(t, items, 2)

	spent, err := p.ConvertData(context.Background(), instance(InstanceTransactions), items[0])
	require.NoError(t, err)
	ev := spent.Events[0]
	assert.Equal(t, "t1", ev.SourceID)
	assert.Equal(t, "spent", ev.Action)
	assert.Equal(t, "Cafe", ev.Target.Title)
	assert.Equal(t, "Current", ev.Actor.Title)
	assert.Equal(t, domain.Value{Value: 1230, Multiplier: 100, Unit: "EUR"}, *ev.Value)

	received, err := p.ConvertData(context.Background(), instance(InstanceTransactions), items[1])
	require.NoError(t, err)
	assert.Equal(t, "received", received.Events[0].Action)
	assert.Equal(t, domain.Value{Value: 2000, Multiplier: 1, Unit: "EUR"}, *received.Events[0].Value)
}

func TestConvertData_Malformed(t *testing.T) {
	now := time.Now()
	p, _ := newPlugin(t, func() time.Time { return now })

	raw, _ := json.Marshal(item{Kind: kindTransaction, AccountID: "acc-1", Data: json.RawMessage(`{"bookingDate":"2024-05-30"}`)})
	_, err := p.ConvertData(context.Background(), instance(InstanceTransactions), raw)
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}
