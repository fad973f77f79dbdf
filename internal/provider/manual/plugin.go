package manual

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
)

const (
	ID          = "manual"
	DisplayName = "Manual entries"
)

// Plugin shapes expenses typed in by the owner. It never talks to a remote API.
type Plugin struct {
	now func() time.Time
}

func New(deps provider.Deps) *Plugin {
	return &Plugin{now: deps.Now}
}

func (p *Plugin) Identifier() string              { return ID }
func (p *Plugin) DisplayName() string             { return DisplayName }
func (p *Plugin) Capability() provider.Capability { return provider.CapabilityManual }
func (p *Plugin) InstanceTypes() []string         { return []string{"expenses"} }

func (p *Plugin) ConfigurationSchema() provider.Schema {
	return provider.Schema{Fields: []provider.Field{
		{Key: "default_currency", Label: "Default currency", Type: provider.FieldSelect, Options: []string{"GBP", "EUR", "USD"}, Default: "GBP"},
	}}
}

// Shape turns one expense form into an event. Required: amount and merchant.
func (p *Plugin) Shape(input map[string]any) (*domain.Converted, error) {
	amount := stringField(input, "amount")
	merchant := strings.TrimSpace(stringField(input, "merchant"))
	if amount == "" || merchant == "" {
		return nil, fmt.Errorf("%w: amount and merchant are required", domain.ErrMalformedPayload)
	}

	currency := strings.ToUpper(stringField(input, "currency"))
	if currency == "" {
		currency = "GBP"
	}

	value, err := domain.EncodeDecimal(amount, currency)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if value.Value < 0 {
		value.Value = -value.Value
	}

	at := p.now().UTC()
	if raw := stringField(input, "date"); raw != "" {
		if at, err = parseDate(raw); err != nil {
			return nil, fmt.Errorf("%w: date: %w", domain.ErrMalformedPayload, err)
		}
	}

	description := stringField(input, "description")
	category := stringField(input, "category")

	sum := sha256.Sum256([]byte(strings.Join([]string{
		at.Format(time.RFC3339), strconv.FormatInt(value.Value, 10), strconv.FormatInt(value.Multiplier, 10),
		currency, strings.ToLower(merchant), description,
	}, "\x00")))

	metadata := domain.Metadata{}
	if description != "" {
		metadata["description"] = description
	}
	if category != "" {
		metadata["category"] = category
	}

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID:      "expense:" + hex.EncodeToString(sum[:16]),
		Time:          at,
		Actor:         domain.ObjectInput{Concept: "user", Type: "manual_user", Title: "Me"},
		Target:        domain.ObjectInput{Concept: "organization", Type: "manual_merchant", Title: merchant},
		Domain:        "money",
		Action:        "spent",
		Value:         &value,
		EventMetadata: metadata,
	}}}, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func stringField(input map[string]any, key string) string {
	switch v := input[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}
