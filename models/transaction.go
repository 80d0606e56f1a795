package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType gives the direction of a transaction
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "CREDIT"
	TransactionTypeDebit  TransactionType = "DEBIT"
)

// Transaction is a provider-agnostic settled transaction.
// Amount is always non-negative; the direction lives in Type.
type Transaction struct {
	ID          string                 `json:"id"`
	AccountID   string                 `json:"account_id"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	Description string                 `json:"description"`
	Category    string                 `json:"category,omitempty"`
	Type        TransactionType        `json:"type"`
	Date        time.Time              `json:"date"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NormalizeAmount splits a provider signed amount into a magnitude and a direction.
// outflowPositive is true for providers where a positive amount means money leaving the account.
func NormalizeAmount(signed decimal.Decimal, outflowPositive bool) (decimal.Decimal, TransactionType) {
	outflow := signed.IsNegative()
	if outflowPositive {
		outflow = signed.IsPositive()
	}
	if outflow {
		return signed.Abs(), TransactionTypeDebit
	}
	return signed.Abs(), TransactionTypeCredit
}

// TransactionHistoryOptions narrows a transaction query. Adapters interpret it; unset fields mean provider defaults.
type TransactionHistoryOptions struct {
	Limit     *int       `json:"limit,omitempty"`
	Offset    *int       `json:"offset,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// LimitOr returns the limit or a fallback
func (o *TransactionHistoryOptions) LimitOr(fallback int) int {
	if o == nil || o.Limit == nil || *o.Limit <= 0 {
		return fallback
	}
	return *o.Limit
}

// OffsetOr returns the offset or a fallback
func (o *TransactionHistoryOptions) OffsetOr(fallback int) int {
	if o == nil || o.Offset == nil || *o.Offset < 0 {
		return fallback
	}
	return *o.Offset
}

// Window returns the date range, defaulting to the last days before now
func (o *TransactionHistoryOptions) Window(now time.Time, days int) (time.Time, time.Time) {
	end := now
	start := now.AddDate(0, 0, -days)
	if o != nil && o.EndDate != nil {
		end = *o.EndDate
	}
	if o != nil && o.StartDate != nil {
		start = *o.StartDate
	}
	return start, end
}

// Contains reports whether t falls inside the configured date range. Unset bounds are open.
func (o *TransactionHistoryOptions) Contains(t time.Time) bool {
	if o == nil {
		return true
	}
	if o.StartDate != nil && t.Before(*o.StartDate) {
		return false
	}
	if o.EndDate != nil && t.After(*o.EndDate) {
		return false
	}
	return true
}

// Paginate applies Offset and Limit to an already fetched slice
func Paginate[T any](items []T, opts *TransactionHistoryOptions) []T {
	offset := opts.OffsetOr(0)
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if opts != nil && opts.Limit != nil && *opts.Limit > 0 && *opts.Limit < len(items) {
		items = items[:*opts.Limit]
	}
	return items
}
