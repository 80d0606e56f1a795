package pluggy

import (
	"time"

	"github.com/shopspring/decimal"
)

type authRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type authResponse struct {
	APIKey string `json:"apiKey" validate:"required"`
}

type connectTokenOptions struct {
	ClientUserID string `json:"clientUserId,omitempty"`
	WebhookURL   string `json:"webhookUrl,omitempty"`
}

type connectTokenRequest struct {
	ItemID  string              `json:"itemId,omitempty"`
	Options connectTokenOptions `json:"options"`
}

type connectTokenResponse struct {
	AccessToken string `json:"accessToken" validate:"required"`
}

type item struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status"`
}

type pluggyAccount struct {
	ID            string          `json:"id" validate:"required"`
	ItemID        string          `json:"itemId"`
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype"`
	Name          string          `json:"name"`
	MarketingName string          `json:"marketingName"`
	Number        string          `json:"number"`
	Balance       decimal.Decimal `json:"balance"`
	CurrencyCode  string          `json:"currencyCode"`
}

type pluggyTransaction struct {
	ID             string          `json:"id" validate:"required"`
	AccountID      string          `json:"accountId" validate:"required"`
	Description    string          `json:"description"`
	DescriptionRaw string          `json:"descriptionRaw"`
	CurrencyCode   string          `json:"currencyCode"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date"`
	Category       string          `json:"category"`
	Type           string          `json:"type" validate:"omitempty,oneof=DEBIT CREDIT"`
	Status         string          `json:"status"`
}

// page is Pluggy's paginated list envelope
type page[T any] struct {
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
	Results    []T `json:"results" validate:"dive"`
}
