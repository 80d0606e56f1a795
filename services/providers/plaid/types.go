package plaid

import (
	"time"

	"github.com/shopspring/decimal"
)

// auth is sent in the body of every Plaid request
type auth struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

type linkUser struct {
	ClientUserID string `json:"client_user_id"`
}

type linkTokenRequest struct {
	auth
	ClientName   string   `json:"client_name"`
	Language     string   `json:"language"`
	CountryCodes []string `json:"country_codes"`
	User         linkUser `json:"user"`
	Products     []string `json:"products,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	RedirectURI  string   `json:"redirect_uri,omitempty"`
}

type linkTokenResponse struct {
	LinkToken  string    `json:"link_token" validate:"required"`
	Expiration time.Time `json:"expiration"`
	RequestID  string    `json:"request_id"`
}

type exchangeRequest struct {
	auth
	PublicToken string `json:"public_token"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

type accessRequest struct {
	auth
	AccessToken string `json:"access_token"`
}

type balances struct {
	Available              decimal.NullDecimal `json:"available"`
	Current                decimal.NullDecimal `json:"current"`
	IsoCurrencyCode        *string             `json:"iso_currency_code"`
	UnofficialCurrencyCode *string             `json:"unofficial_currency_code"`
}

type plaidAccount struct {
	AccountID    string   `json:"account_id" validate:"required"`
	Name         string   `json:"name"`
	OfficialName string   `json:"official_name"`
	Mask         string   `json:"mask"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Balances     balances `json:"balances"`
}

type accountsResponse struct {
	Accounts  []plaidAccount `json:"accounts" validate:"dive"`
	RequestID string         `json:"request_id"`
}

type transactionsOptions struct {
	AccountIDs []string `json:"account_ids,omitempty"`
	Count      int      `json:"count"`
	Offset     int      `json:"offset"`
}

type transactionsRequest struct {
	auth
	AccessToken string              `json:"access_token"`
	StartDate   string              `json:"start_date"`
	EndDate     string              `json:"end_date"`
	Options     transactionsOptions `json:"options"`
}

type personalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

type plaidTransaction struct {
	TransactionID           string                   `json:"transaction_id" validate:"required"`
	AccountID               string                   `json:"account_id" validate:"required"`
	Amount                  decimal.Decimal          `json:"amount"`
	IsoCurrencyCode         *string                  `json:"iso_currency_code"`
	UnofficialCurrencyCode  *string                  `json:"unofficial_currency_code"`
	Name                    string                   `json:"name"`
	MerchantName            string                   `json:"merchant_name"`
	Date                    string                   `json:"date"`
	Pending                 bool                     `json:"pending"`
	Category                []string                 `json:"category"`
	PersonalFinanceCategory *personalFinanceCategory `json:"personal_finance_category"`
	PaymentChannel          string                   `json:"payment_channel"`
}

type transactionsResponse struct {
	Transactions      []plaidTransaction `json:"transactions" validate:"dive"`
	TotalTransactions int                `json:"total_transactions"`
	RequestID         string             `json:"request_id"`
}

type plaidError struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}
