package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountSnapshot is the last known balance of an account as seen through pulse
type AccountSnapshot struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Provider   string          `json:"provider" db:"provider"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Name       string          `json:"name" db:"name"`
	Type       AccountType     `json:"type" db:"type"`
	Balance    decimal.Decimal `json:"balance" db:"balance"`
	Currency   string          `json:"currency" db:"currency"`
	CapturedAt time.Time       `json:"captured_at" db:"captured_at"`
}

// TableName returns the table name for the AccountSnapshot model
func (AccountSnapshot) TableName() string {
	return "account_snapshots"
}

// NewAccountSnapshot captures an account for a user
func NewAccountSnapshot(userID, provider string, account Account) *AccountSnapshot {
	return &AccountSnapshot{
		ID:         uuid.New(),
		UserID:     userID,
		Provider:   provider,
		AccountID:  account.ID,
		Name:       account.Name,
		Type:       account.Type,
		Balance:    account.Balance,
		Currency:   account.Currency,
		CapturedAt: time.Now().UTC(),
	}
}
