package gocardless

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
	"activity_ingest/internal/ratelimit"
)

const (
	ID          = "gocardless"
	DisplayName = "GoCardless Bank Account Data"

	InstanceTransactions = "transactions"
	InstanceBalances     = "balances"

	defaultBaseURL     = "https://bankaccountdata.gocardless.com/api/v2"
	defaultHistoryDays = 90
	// DailyCap is the number of calls the provider allows per account, endpoint and day.
	DailyCap     = 4
	windowLength = 30 * 24 * time.Hour

	detailsTTL      = 24 * time.Hour
	balancesTTL     = time.Hour
	transactionsTTL = time.Hour
)

type Config struct {
	BaseURL string
}

type Plugin struct {
	client *provider.Client
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config, deps provider.Deps) *Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	client := deps.NewClient(provider.ClientConfig{
		Service:     ID,
		BaseURL:     cfg.BaseURL,
		Auth:        provider.AuthAPIKeyBearer,
		APIKeyField: "api_key",
		Policy:      ratelimit.Policy{Floor: 30 * time.Second, Default: time.Hour},
	},
		provider.WithQuota(deps.QuotaTracker(ID, DailyCap)),
		provider.WithResponseCache(deps.ResponseCache(ID)),
	)

	return &Plugin{
		client: client,
		now:    deps.Now,
		logger: deps.Logger.With("provider", ID),
	}
}

func (p *Plugin) Identifier() string              { return ID }
func (p *Plugin) DisplayName() string             { return DisplayName }
func (p *Plugin) Capability() provider.Capability { return provider.CapabilityAPIKey }

func (p *Plugin) InstanceTypes() []string {
	return []string{InstanceTransactions, InstanceBalances}
}

func (p *Plugin) ConfigurationSchema() provider.Schema {
	return provider.Schema{Fields: []provider.Field{
		{Key: "account_id", Label: "Account ID", Type: provider.FieldString, Required: true, Min: provider.Bound(1)},
		{Key: "api_key", Label: "Access token", Type: provider.FieldString},
		{Key: "history_days", Label: "Days of history", Type: provider.FieldInteger, Min: provider.Bound(1), Max: provider.Bound(730), Default: defaultHistoryDays},
	}}
}

func accountID(integration *domain.Integration) (string, error) {
	if v := integration.ConfigString("account_id"); v != "" {
		return v, nil
	}
	return "", domain.Fatal(fmt.Errorf("gocardless integration %s: %w", integration.ID, domain.ErrInvalidConfig))
}

func (p *Plugin) FetchData(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	if integration.InstanceType == InstanceBalances {
		return p.fetchBalances(ctx, integration)
	}

	now := p.now()
	from := now.Add(-windowLength)
	if integration.LastSuccessfulUpdateAt != nil && integration.LastSuccessfulUpdateAt.After(from) {
		from = integration.LastSuccessfulUpdateAt.AddDate(0, 0, -2)
	}
	return p.fetchTransactions(ctx, integration, from, now)
}

func (p *Plugin) InitialCursor(integration *domain.Integration, now time.Time) domain.Cursor {
	days := provider.IntSetting(integration.Configuration["history_days"], defaultHistoryDays)
	return domain.Cursor{
		Kind:        domain.CursorWindow,
		WindowStart: now.Add(-windowLength),
		WindowEnd:   now,
		Floor:       now.AddDate(0, 0, -days),
	}
}

// FetchPage reads one window and suggests the window directly before it.
func (p *Plugin) FetchPage(ctx context.Context, integration *domain.Integration, cursor domain.Cursor) (*provider.Page, error) {
	start := cursor.WindowStart
	if start.Before(cursor.Floor) {
		start = cursor.Floor
	}

	items, err := p.fetchTransactions(ctx, integration, start, cursor.WindowEnd)
	if err != nil {
		return nil, err
	}

	next := cursor
	next.WindowEnd = cursor.WindowStart
	next.WindowStart = cursor.WindowStart.Add(-windowLength)
	return &provider.Page{Items: items, Next: &next}, nil
}

func (p *Plugin) accountName(ctx context.Context, integration *domain.Integration, account string) string {
	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/accounts/" + account + "/details/",
		Integration: integration,
		Account:     account,
		Endpoint:    "details",
		CacheTTL:    detailsTTL,
	})
	if err != nil {
		p.logger.Warn("account details unavailable", "integration_id", integration.ID, "error", err)
		return ""
	}
	var details detailsResponse
	if err := resp.Decode(&details); err != nil {
		return ""
	}
	if details.Account.Name != "" {
		return details.Account.Name
	}
	return details.Account.Product
}

func (p *Plugin) fetchTransactions(ctx context.Context, integration *domain.Integration, from, to time.Time) ([]json.RawMessage, error) {
	account, err := accountID(integration)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("date_from", from.UTC().Format("2006-01-02"))
	q.Set("date_to", to.UTC().Format("2006-01-02"))

	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/accounts/" + account + "/transactions/",
		Query:       q,
		Integration: integration,
		Account:     account,
		Endpoint:    "transactions",
		CacheTTL:    transactionsTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	var page transactionsResponse
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}

	name := p.accountName(ctx, integration, account)
	items := make([]json.RawMessage, 0, len(page.Transactions.Booked))
	for _, raw := range page.Transactions.Booked {
		wrapped, err := json.Marshal(item{Kind: kindTransaction, AccountID: account, Account: name, Data: raw})
		if err != nil {
			return nil, fmt.Errorf("wrap transaction: %w", err)
		}
		items = append(items, wrapped)
	}
	return items, nil
}

func (p *Plugin) fetchBalances(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	account, err := accountID(integration)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/accounts/" + account + "/balances/",
		Integration: integration,
		Account:     account,
		Endpoint:    "balances",
		CacheTTL:    balancesTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}

	var page balancesResponse
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}

	name := p.accountName(ctx, integration, account)
	items := make([]json.RawMessage, 0, len(page.Balances))
	for _, raw := range page.Balances {
		wrapped, err := json.Marshal(item{Kind: kindBalance, AccountID: account, Account: name, Data: raw})
		if err != nil {
			return nil, fmt.Errorf("wrap balance: %w", err)
		}
		items = append(items, wrapped)
	}
	return items, nil
}

func (p *Plugin) ConvertData(_ context.Context, _ *domain.Integration, raw json.RawMessage) (*domain.Converted, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}

	actor := domain.ObjectInput{
		Concept:  "account",
		Type:     "gocardless_account",
		Title:    it.Account,
		Metadata: domain.Metadata{"account_id": it.AccountID},
	}
	if actor.Title == "" {
		actor.Title = it.AccountID
	}

	switch it.Kind {
	case kindTransaction:
		return convertTransaction(it, actor)
	case kindBalance:
		return convertBalance(it, actor)
	}
	return nil, fmt.Errorf("%w: unknown gocardless record kind %q", domain.ErrMalformedPayload, it.Kind)
}

func convertTransaction(it item, actor domain.ObjectInput) (*domain.Converted, error) {
	var tx Transaction
	if err := json.Unmarshal(it.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: transaction: %w", domain.ErrMalformedPayload, err)
	}

	sourceID := tx.TransactionID
	if sourceID == "" {
		sourceID = tx.InternalTransactionID
	}
	if sourceID == "" {
		return nil, fmt.Errorf("%w: transaction without id", domain.ErrMalformedPayload)
	}

	at, err := bookingTime(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s: %w", domain.ErrMalformedPayload, sourceID, err)
	}

	value, err := domain.EncodeDecimal(tx.TransactionAmount.Amount, tx.TransactionAmount.Currency)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", sourceID, err)
	}

	action := "received"
	counterparty := tx.DebtorName
	if value.Value < 0 {
		action = "spent"
		value.Value = -value.Value
		counterparty = tx.CreditorName
	}
	if counterparty == "" {
		counterparty = tx.RemittanceInformationUnstructured
	}
	if counterparty == "" {
		counterparty = "Unknown"
	}

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID: sourceID,
		Time:     at,
		Actor:    actor,
		Target:   domain.ObjectInput{Concept: "organization", Type: "gocardless_counterparty", Title: counterparty},
		Domain:   "money",
		Action:   action,
		Value:    &value,
		EventMetadata: domain.Metadata{
			"remittance": tx.RemittanceInformationUnstructured,
			"value_date": tx.ValueDate,
		},
	}}}, nil
}

func bookingTime(tx Transaction) (time.Time, error) {
	if tx.BookingDateTime != "" {
		if t, err := time.Parse(time.RFC3339, tx.BookingDateTime); err == nil {
			return t, nil
		}
	}
	return time.Parse("2006-01-02", tx.BookingDate)
}

func convertBalance(it item, actor domain.ObjectInput) (*domain.Converted, error) {
	var b Balance
	if err := json.Unmarshal(it.Data, &b); err != nil {
		return nil, fmt.Errorf("%w: balance: %w", domain.ErrMalformedPayload, err)
	}

	day, err := time.Parse("2006-01-02", b.ReferenceDate)
	if err != nil {
		return nil, fmt.Errorf("%w: balance reference date: %w", domain.ErrMalformedPayload, err)
	}
	value, err := domain.EncodeDecimal(b.BalanceAmount.Amount, b.BalanceAmount.Currency)
	if err != nil {
		return nil, fmt.Errorf("balance amount: %w", err)
	}

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID: fmt.Sprintf("balance:%s:%s:%s", it.AccountID, b.BalanceType, b.ReferenceDate),
		Time:     day,
		Actor:    actor,
		Target:   domain.ObjectInput{Concept: "day", Type: "day", Title: b.ReferenceDate},
		Domain:   "money",
		Action:   "had_balance",
		Value:    &value,
		EventMetadata: domain.Metadata{
			"balance_type": b.BalanceType,
		},
	}}}, nil
}
