package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the normalized account category
type AccountType string

const (
	AccountTypeChecking   AccountType = "CHECKING"
	AccountTypeSavings    AccountType = "SAVINGS"
	AccountTypeCredit     AccountType = "CREDIT"
	AccountTypeInvestment AccountType = "INVESTMENT"
	AccountTypeLoan       AccountType = "LOAN"
	AccountTypeCrypto     AccountType = "CRYPTO"
	AccountTypeOther      AccountType = "OTHER"
)

// IsValid checks if the account type is one of the normalized values
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeCredit,
		AccountTypeInvestment, AccountTypeLoan, AccountTypeCrypto, AccountTypeOther:
		return true
	}
	return false
}

// Account is a provider-agnostic financial account.
// Balance is signed; credit and loan accounts usually carry the provider's sign.
type Account struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        AccountType            `json:"type"`
	Balance     decimal.Decimal        `json:"balance"`
	Currency    string                 `json:"currency"`
	LastUpdated time.Time              `json:"last_updated"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewAccount creates an Account with a normalized currency and LastUpdated set to now
func NewAccount(id, name string, accountType AccountType, balance decimal.Decimal, currency string) Account {
	if !accountType.IsValid() {
		accountType = AccountTypeOther
	}
	return Account{
		ID:          id,
		Name:        name,
		Type:        accountType,
		Balance:     balance,
		Currency:    NormalizeCurrency(currency),
		LastUpdated: time.Now().UTC(),
	}
}

// WithMetadata sets a provider-specific metadata entry
func (a Account) WithMetadata(key string, value interface{}) Account {
	meta := make(map[string]interface{}, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	meta[key] = value
	a.Metadata = meta
	return a
}

// NormalizeCurrency trims and uppercases an ISO currency code
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
