package monzo

import (
	"encoding/json"
	"time"
)

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type Account struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Closed      bool   `json:"closed"`
}

type transactionsResponse struct {
	Transactions []json.RawMessage `json:"transactions"`
}

type Transaction struct {
	ID           string        `json:"id"`
	Created      time.Time     `json:"created"`
	Description  string        `json:"description"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	Category     string        `json:"category"`
	Notes        string        `json:"notes"`
	Settled      string        `json:"settled"`
	Merchant     *Merchant     `json:"merchant"`
	Counterparty *Counterparty `json:"counterparty"`
}

type Merchant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo"`
}

type Counterparty struct {
	Name string `json:"name"`
}

type Balance struct {
	Balance      int64  `json:"balance"`
	TotalBalance int64  `json:"total_balance"`
	Currency     string `json:"currency"`
	SpendToday   int64  `json:"spend_today"`
}

type potsResponse struct {
	Pots []json.RawMessage `json:"pots"`
}

type Pot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Deleted  bool   `json:"deleted"`
}

type whoAmI struct {
	UserID string `json:"user_id"`
}

const (
	kindTransaction = "transaction"
	kindBalance     = "balance"
	kindPot         = "pot"
)

// item wraps every raw record so processing can tell the shapes apart.
type item struct {
	Kind       string          `json:"kind"`
	AccountID  string          `json:"account_id"`
	ObservedAt time.Time       `json:"observed_at"`
	Data       json.RawMessage `json:"data"`
}
