package gocardless

import "encoding/json"

type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type Transaction struct {
	TransactionID                     string `json:"transactionId"`
	InternalTransactionID             string `json:"internalTransactionId"`
	BookingDate                       string `json:"bookingDate"`
	BookingDateTime                   string `json:"bookingDateTime"`
	ValueDate                         string `json:"valueDate"`
	TransactionAmount                 Amount `json:"transactionAmount"`
	CreditorName                      string `json:"creditorName"`
	DebtorName                        string `json:"debtorName"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
}

type transactionsResponse struct {
	Transactions struct {
		Booked  []json.RawMessage `json:"booked"`
		Pending []json.RawMessage `json:"pending"`
	} `json:"transactions"`
}

type Balance struct {
	BalanceAmount Amount `json:"balanceAmount"`
	BalanceType   string `json:"balanceType"`
	ReferenceDate string `json:"referenceDate"`
}

type balancesResponse struct {
	Balances []json.RawMessage `json:"balances"`
}

type detailsResponse struct {
	Account struct {
		Name     string `json:"name"`
		Product  string `json:"product"`
		Currency string `json:"currency"`
		IBAN     string `json:"iban"`
	} `json:"account"`
}

const (
	kindTransaction = "transaction"
	kindBalance     = "balance"
)

type item struct {
	Kind      string          `json:"kind"`
	AccountID string          `json:"account_id"`
	Account   string          `json:"account_name,omitempty"`
	Data      json.RawMessage `json:"data"`
}
