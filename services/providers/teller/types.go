package teller

import "github.com/shopspring/decimal"

type institution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type tellerAccount struct {
	ID           string      `json:"id" validate:"required"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Subtype      string      `json:"subtype"`
	Currency     string      `json:"currency"`
	EnrollmentID string      `json:"enrollment_id"`
	LastFour     string      `json:"last_four"`
	Status       string      `json:"status"`
	Institution  institution `json:"institution"`
}

// tellerBalance amounts are decimal strings and may be null
type tellerBalance struct {
	AccountID string              `json:"account_id"`
	Ledger    decimal.NullDecimal `json:"ledger"`
	Available decimal.NullDecimal `json:"available"`
}

type counterparty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type transactionDetails struct {
	Category         string       `json:"category"`
	ProcessingStatus string       `json:"processing_status"`
	Counterparty     counterparty `json:"counterparty"`
}

type tellerTransaction struct {
	ID          string             `json:"id" validate:"required"`
	AccountID   string             `json:"account_id" validate:"required"`
	Amount      decimal.Decimal    `json:"amount"`
	Date        string             `json:"date"`
	Description string             `json:"description"`
	Status      string             `json:"status"`
	Type        string             `json:"type"`
	Details     transactionDetails `json:"details"`
}
