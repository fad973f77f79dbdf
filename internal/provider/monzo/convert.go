package monzo

import (
	"context"
	"encoding/json"
	"fmt"

	"activity_ingest/internal/domain"
)

func (p *Plugin) ConvertData(_ context.Context, _ *domain.Integration, raw json.RawMessage) (*domain.Converted, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}

	switch it.Kind {
	case kindTransaction:
		return convertTransaction(it)
	case kindBalance:
		return convertBalance(it)
	case kindPot:
		return convertPot(it)
	}
	return nil, fmt.Errorf("%w: unknown monzo record kind %q", domain.ErrMalformedPayload, it.Kind)
}

func accountObject(accountID string) domain.ObjectInput {
	return domain.ObjectInput{
		Concept:  "account",
		Type:     "monzo_account",
		Title:    "Monzo " + accountID,
		Metadata: domain.Metadata{"account_id": accountID},
	}
}

func convertTransaction(it item) (*domain.Converted, error) {
	var tx Transaction
	if err := json.Unmarshal(it.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: transaction: %w", domain.ErrMalformedPayload, err)
	}
	if tx.ID == "" || tx.Created.IsZero() {
		return nil, fmt.Errorf("%w: transaction without id or time", domain.ErrMalformedPayload)
	}

	counterparty := domain.ObjectInput{
		Concept: "organization",
		Type:    "monzo_counterparty",
		Title:   tx.Description,
	}
	switch {
	case tx.Merchant != nil && tx.Merchant.Name != "":
		counterparty.Type = "monzo_merchant"
		counterparty.Title = tx.Merchant.Name
		counterparty.MediaURL = tx.Merchant.Logo
		counterparty.Metadata = domain.Metadata{"merchant_id": tx.Merchant.ID}
	case tx.Counterparty != nil && tx.Counterparty.Name != "":
		counterparty.Title = tx.Counterparty.Name
	}

	action := "spent"
	amount := tx.Amount
	if amount > 0 {
		action = "received"
	} else {
		amount = -amount
	}
	value := domain.MinorUnits(amount, tx.Currency)

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID: tx.ID,
		Time:     tx.Created,
		Actor:    accountObject(it.AccountID),
		Target:   counterparty,
		Domain:   "money",
		Action:   action,
		Value:    &value,
		EventMetadata: domain.Metadata{
			"category":    tx.Category,
			"description": tx.Description,
			"notes":       tx.Notes,
			"settled":     tx.Settled != "",
		},
	}}}, nil
}

func convertBalance(it item) (*domain.Converted, error) {
	var b Balance
	if err := json.Unmarshal(it.Data, &b); err != nil {
		return nil, fmt.Errorf("%w: balance: %w", domain.ErrMalformedPayload, err)
	}

	day := it.ObservedAt.UTC().Format("2006-01-02")
	value := domain.MinorUnits(b.Balance, b.Currency)

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID: fmt.Sprintf("balance:%s:%s", it.AccountID, day),
		Time:     it.ObservedAt,
		Actor:    accountObject(it.AccountID),
		Target:   domain.ObjectInput{Concept: "day", Type: "day", Title: day},
		Domain:   "money",
		Action:   "had_balance",
		Value:    &value,
		EventMetadata: domain.Metadata{
			"total_balance": b.TotalBalance,
			"spend_today":   b.SpendToday,
		},
	}}}, nil
}

func convertPot(it item) (*domain.Converted, error) {
	var pot Pot
	if err := json.Unmarshal(it.Data, &pot); err != nil {
		return nil, fmt.Errorf("%w: pot: %w", domain.ErrMalformedPayload, err)
	}
	if pot.Deleted {
		return &domain.Converted{}, nil
	}

	day := it.ObservedAt.UTC().Format("2006-01-02")
	value := domain.MinorUnits(pot.Balance, pot.Currency)

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID: fmt.Sprintf("pot:%s:%s", pot.ID, day),
		Time:     it.ObservedAt,
		Actor:    accountObject(it.AccountID),
		Target: domain.ObjectInput{
			Concept:  "account",
			Type:     "monzo_pot",
			Title:    pot.Name,
			Metadata: domain.Metadata{"pot_id": pot.ID},
		},
		Domain: "money",
		Action: "had_pot_balance",
		Value:  &value,
	}}}, nil
}
