package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
	"activity_ingest/internal/ratelimit"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type stubPlugin struct{ id string }

func (p stubPlugin) Identifier() string          { return p.id }
func (p stubPlugin) DisplayName() string         { return p.id }
func (p stubPlugin) Capability() Capability      { return CapabilityManual }
func (p stubPlugin) ConfigurationSchema() Schema { return Schema{} }
func (p stubPlugin) InstanceTypes() []string     { return []string{"default"} }

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubPlugin{id: "a"}, stubPlugin{id: "b"})

	p, err := r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Identifier())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Puller("a")
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	assert.Len(t, r.All(), 2)
	assert.Empty(t, r.Pullers())

	assert.Panics(t, func() { NewRegistry(stubPlugin{id: "a"}, stubPlugin{id: "a"}) })
}

func TestSchema_Validate(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Key: "account_id", Type: FieldString, Required: true, Min: Bound(1)},
		{Key: "history_days", Type: FieldInteger, Min: Bound(1), Max: Bound(730)},
		{Key: "currency", Type: FieldSelect, Options: []string{"GBP", "EUR"}},
		{Key: "repositories", Type: FieldArray, Min: Bound(1)},
	}}

	assert.NoError(t, schema.Validate(domain.Metadata{"account_id": "acc", "history_days": 90}))
	assert.NoError(t, schema.Validate(domain.Metadata{"account_id": "acc", "repositories": []string{"o/r"}}))

	cases := []domain.Metadata{
		{},
		{"account_id": ""},
		{"account_id": "acc", "history_days": 0},
		{"account_id": "acc", "history_days": 1.5},
		{"account_id": "acc", "currency": "USD"},
		{"account_id": "acc", "repositories": []string{}},
	}
	for _, c := range cases {
		assert.ErrorIs(t, schema.Validate(c), domain.ErrInvalidConfig, "%v", c)
	}
}

func TestSchema_WithDefaults(t *testing.T) {
	schema := Schema{Fields: []Field{{Key: "history_days", Type: FieldInteger, Default: 90}}}
	got := schema.WithDefaults(domain.Metadata{"x": "y"})
	assert.Equal(t, 90, got["history_days"])
	assert.Equal(t, "y", got["x"])
}

func TestVerifyHMACSHA256(t *testing.T) {
	body := []byte(`{"event":"documents.update"}`)
	sig := SignHMACSHA256("secret", body)

	assert.NoError(t, VerifyHMACSHA256("secret", body, sig))
	assert.ErrorIs(t, VerifyHMACSHA256("other", body, sig), domain.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyHMACSHA256("secret", body, "zz"), domain.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyHMACSHA256("secret", body, ""), domain.ErrInvalidSignature)
}

func TestWebhookSecret(t *testing.T) {
	account := "acct-secret"
	integration := &domain.Integration{AccountID: &account}
	assert.Equal(t, "acct-secret", WebhookSecret(integration, ""))
	assert.Equal(t, "global", WebhookSecret(integration, "global"))

	integration.Configuration = domain.Metadata{"webhook_secret": "own"}
	assert.Equal(t, "own", WebhookSecret(integration, "global"))
	assert.Empty(t, WebhookSecret(&domain.Integration{}, ""))
}

type fakeTokens struct {
	refreshed atomic.Int32
}

func (f *fakeTokens) Token(context.Context, *domain.Integration) (string, error) {
	return "old", nil
}

func (f *fakeTokens) Refresh(context.Context, *domain.Integration) (string, error) {
	f.refreshed.Add(1)
	return "new", nil
}

func TestClient_RefreshesOnceOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(ClientConfig{Service: "demo", BaseURL: srv.URL, Auth: AuthBearer}, testLogger, WithTokens(tokens))

	resp, err := client.Do(context.Background(), Request{Path: "/me", Integration: &domain.Integration{ID: "i"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.refreshed.Load())
}

func TestClient_Classification(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Service: "demo", BaseURL: srv.URL, Policy: ratelimit.Policy{Floor: 5 * time.Second}}, testLogger)

	_, err := client.Do(context.Background(), Request{Path: "/x"})
	rl, ok := domain.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, rl.RetryAfter)

	status = http.StatusBadGateway
	_, err = client.Do(context.Background(), Request{Path: "/x"})
	assert.ErrorIs(t, err, domain.ErrTransient)

	status = http.StatusUnauthorized
	_, err = client.Do(context.Background(), Request{Path: "/x"})
	assert.ErrorIs(t, err, domain.ErrAuthRevoked)
}

func TestClient_CacheBeforeQuota(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"balance":1}`))
	}))
	defer srv.Close()

	store := cache.NewMemory(nil)
	client := NewClient(ClientConfig{Service: "demo", BaseURL: srv.URL}, testLogger,
		WithQuota(ratelimit.NewQuotaTracker(store, "demo", 1, nil)),
		WithResponseCache(ratelimit.NewResponseCache(store, "demo")),
	)

	req := Request{Path: "/balances", Account: "acc", Endpoint: "balances", CacheTTL: time.Hour}
	for i := 0; i < 3; i++ {
		resp, err := client.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, i > 0, resp.Cached)
	}
	assert.Equal(t, int32(1), calls.Load())

	req.Path = "/other"
	_, err := client.Do(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_QuotaHoldsUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Service: "demo", BaseURL: srv.URL}, testLogger,
		WithQuota(ratelimit.NewQuotaTracker(cache.NewMemory(nil), "demo", 3, nil)),
	)

	var wg sync.WaitGroup
	var exhausted atomic.Int32
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Do(context.Background(), Request{Path: "/tx", Account: "acc", Endpoint: "transactions"})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(9), exhausted.Load())
}

func TestClient_FailedCallGivesSlotBack(t *testing.T) {
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tracker := ratelimit.NewQuotaTracker(cache.NewMemory(nil), "demo", 1, nil)
	client := NewClient(ClientConfig{Service: "demo", BaseURL: srv.URL}, testLogger, WithQuota(tracker))
	req := Request{Path: "/tx", Account: "acc", Endpoint: "transactions"}

	_, err := client.Do(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrTransient)

	used, err := tracker.Used(context.Background(), "acc", "transactions")
	require.NoError(t, err)
	assert.Zero(t, used)

	status = http.StatusOK
	_, err = client.Do(context.Background(), req)
	require.NoError(t, err)
	_, err = client.Do(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
}
