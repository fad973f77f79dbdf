package monzo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
	"activity_ingest/internal/ratelimit"
)

const (
	ID          = "monzo"
	DisplayName = "Monzo"

	InstanceTransactions = "transactions"
	InstanceBalances     = "balances"
	InstancePots         = "pots"

	defaultBaseURL     = "https://api.monzo.com"
	defaultOAuthURL    = "https://auth.monzo.com"
	defaultHistoryDays = 365
	windowLength       = 30 * 24 * time.Hour
	pageLimit          = 100
	recentOverlap      = 3 * 24 * time.Hour
)

type Config struct {
	BaseURL  string
	OAuthURL string
}

type Plugin struct {
	client   *provider.Client
	baseURL  string
	oauthURL string
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config, deps provider.Deps) *Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = defaultOAuthURL
	}

	return &Plugin{
		client: deps.NewClient(provider.ClientConfig{
			Service: ID,
			BaseURL: cfg.BaseURL,
			Auth:    provider.AuthBearer,
			Policy:  ratelimit.Policy{Floor: 30 * time.Second, Default: time.Minute},
		}),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		oauthURL: strings.TrimRight(cfg.OAuthURL, "/"),
		now:      deps.Now,
		logger:   deps.Logger.With("provider", ID),
	}
}

func (p *Plugin) Identifier() string              { return ID }
func (p *Plugin) DisplayName() string             { return DisplayName }
func (p *Plugin) Capability() provider.Capability { return provider.CapabilityOAuth }
func (p *Plugin) Scopes() []string                { return nil }

func (p *Plugin) InstanceTypes() []string {
	return []string{InstanceTransactions, InstanceBalances, InstancePots}
}

func (p *Plugin) ConfigurationSchema() provider.Schema {
	return provider.Schema{Fields: []provider.Field{
		{Key: "history_days", Label: "Days of history to import", Type: provider.FieldInteger, Min: provider.Bound(1), Max: provider.Bound(3650), Default: defaultHistoryDays},
	}}
}

func (p *Plugin) OAuthEndpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   p.oauthURL + "/",
		TokenURL:  p.baseURL + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (p *Plugin) FetchAccountIdentity(ctx context.Context, accessToken string) (string, error) {
	resp, err := p.client.Do(ctx, provider.Request{Path: "/ping/whoami", Token: accessToken})
	if err != nil {
		return "", fmt.Errorf("monzo whoami: %w", err)
	}
	var who whoAmI
	if err := resp.Decode(&who); err != nil {
		return "", err
	}
	return who.UserID, nil
}

// Initialize discovers the current account the instance reads from.
func (p *Plugin) Initialize(ctx context.Context, integration *domain.Integration) (*provider.InitResult, error) {
	resp, err := p.client.Do(ctx, provider.Request{Path: "/accounts", Integration: integration})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var accounts accountsResponse
	if err := resp.Decode(&accounts); err != nil {
		return nil, err
	}

	var chosen *Account
	for i := range accounts.Accounts {
		a := &accounts.Accounts[i]
		if a.Closed {
			continue
		}
		if chosen == nil || (a.Type == "uk_retail" && chosen.Type != "uk_retail") {
			chosen = a
		}
	}
	if chosen == nil {
		return nil, domain.Fatal(errors.New("monzo: no open account"))
	}

	p.logger.Info("discovered account", "integration_id", integration.ID, "type", chosen.Type)
	return &provider.InitResult{AccountID: chosen.ID}, nil
}

func accountID(integration *domain.Integration) (string, error) {
	if integration.AccountID == nil || *integration.AccountID == "" {
		return "", domain.Fatal(fmt.Errorf("monzo integration %s has no account: %w", integration.ID, domain.ErrInvalidConfig))
	}
	return *integration.AccountID, nil
}

func (p *Plugin) FetchData(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	switch integration.InstanceType {
	case InstanceBalances:
		return p.fetchBalance(ctx, integration)
	case InstancePots:
		return p.fetchPots(ctx, integration)
	default:
		now := p.now()
		since := now.Add(-windowLength)
		if integration.LastSuccessfulUpdateAt != nil {
			since = integration.LastSuccessfulUpdateAt.Add(-recentOverlap)
		}
		return p.fetchTransactions(ctx, integration, since, now)
	}
}

// PlanBatch splits the history into windows plus one pots and one balance snapshot.
func (p *Plugin) PlanBatch(_ context.Context, integration *domain.Integration, now time.Time) ([]provider.Unit, error) {
	days := provider.IntSetting(integration.Configuration["history_days"], defaultHistoryDays)
	floor := now.AddDate(0, 0, -days)

	var units []provider.Unit
	for end := now; end.After(floor); end = end.Add(-windowLength) {
		start := end.Add(-windowLength)
		if start.Before(floor) {
			start = floor
		}
		units = append(units, provider.Unit{
			Name: "transactions:" + start.UTC().Format("2006-01-02"),
			Kind: InstanceTransactions,
			Cursor: domain.Cursor{
				Kind:        domain.CursorWindow,
				WindowStart: start,
				WindowEnd:   end,
				Floor:       floor,
			},
		})
	}
	units = append(units,
		provider.Unit{Name: InstancePots, Kind: InstancePots},
		provider.Unit{Name: InstanceBalances, Kind: InstanceBalances},
	)
	return units, nil
}

func (p *Plugin) FetchUnit(ctx context.Context, integration *domain.Integration, unit provider.Unit) ([]json.RawMessage, error) {
	switch unit.Kind {
	case InstanceTransactions:
		return p.fetchTransactions(ctx, integration, unit.Cursor.WindowStart, unit.Cursor.WindowEnd)
	case InstancePots:
		return p.fetchPots(ctx, integration)
	case InstanceBalances:
		return p.fetchBalance(ctx, integration)
	}
	return nil, domain.Fatal(fmt.Errorf("monzo: unknown unit kind %q", unit.Kind))
}

func (p *Plugin) fetchTransactions(ctx context.Context, integration *domain.Integration, since, before time.Time) ([]json.RawMessage, error) {
	account, err := accountID(integration)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	cursor := since.UTC().Format(time.RFC3339)
	for {
		q := url.Values{}
		q.Set("account_id", account)
		q.Set("since", cursor)
		q.Set("before", before.UTC().Format(time.RFC3339))
		q.Set("limit", fmt.Sprint(pageLimit))
		q.Add("expand[]", "merchant")

		resp, err := p.client.Do(ctx, provider.Request{Path: "/transactions", Query: q, Integration: integration})
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}

		var page transactionsResponse
		if err := resp.Decode(&page); err != nil {
			return nil, err
		}
		for _, raw := range page.Transactions {
			wrapped, err := p.wrap(kindTransaction, account, raw)
			if err != nil {
				return nil, err
			}
			items = append(items, wrapped)
		}

		if len(page.Transactions) < pageLimit {
			break
		}
		var last struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(page.Transactions[len(page.Transactions)-1], &last); err != nil || last.ID == "" {
			return nil, fmt.Errorf("%w: transaction without id", domain.ErrMalformedPayload)
		}
		cursor = last.ID
	}

	p.logger.Debug("fetched transactions", "integration_id", integration.ID, "count", len(items))
	return items, nil
}

func (p *Plugin) fetchBalance(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	account, err := accountID(integration)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/balance",
		Query:       url.Values{"account_id": {account}},
		Integration: integration,
	})
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	wrapped, err := p.wrap(kindBalance, account, resp.Body)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{wrapped}, nil
}

func (p *Plugin) fetchPots(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	account, err := accountID(integration)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/pots",
		Query:       url.Values{"current_account_id": {account}},
		Integration: integration,
	})
	if err != nil {
		return nil, fmt.Errorf("list pots: %w", err)
	}

	var pots potsResponse
	if err := resp.Decode(&pots); err != nil {
		return nil, err
	}

	items := make([]json.RawMessage, 0, len(pots.Pots))
	for _, raw := range pots.Pots {
		wrapped, err := p.wrap(kindPot, account, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, wrapped)
	}
	return items, nil
}

func (p *Plugin) wrap(kind, account string, data json.RawMessage) (json.RawMessage, error) {
	raw, err := json.Marshal(item{Kind: kind, AccountID: account, ObservedAt: p.now().UTC(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("wrap %s: %w", kind, err)
	}
	return raw, nil
}
