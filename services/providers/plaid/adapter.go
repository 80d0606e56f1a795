package plaid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/services"
	"github.com/upb/pulse/services/providers"
	"go.uber.org/zap"
)

// ProviderID is the registry key of the Plaid adapter
const ProviderID = "plaid"

const (
	dateLayout          = "2006-01-02"
	defaultHistoryDays  = 30
	defaultPageSize     = 100
	maxPageSize         = 500
	defaultClientName   = "Pulse"
	defaultProducts     = "transactions"
	defaultCountryCodes = "US"
	defaultLanguage     = "en"
)

var environments = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Adapter talks to the Plaid API. Sessions hold one access token per user.
type Adapter struct {
	providers.Base
	clientName   string
	products     []string
	countryCodes []string
	language     string
	now          func() time.Time
}

// NewAdapter creates a Plaid adapter. Options: client_name, products, country_codes, language.
func NewAdapter(cfg providers.ProviderConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, services.NewPulseError(services.ErrCodeConfiguration, "plaid client id and secret are required", nil).
			WithProvider(ProviderID)
	}

	env := strings.ToLower(cfg.Environment)
	if env == "" {
		env = "sandbox"
	}
	baseURL, ok := environments[env]
	if !ok && cfg.BaseURL == "" {
		return nil, services.NewPulseError(services.ErrCodeConfiguration, fmt.Sprintf("unknown plaid environment %q", cfg.Environment), nil).
			WithProvider(ProviderID)
	}

	return &Adapter{
		Base:         providers.NewBase(ProviderID, cfg, baseURL, decodeError, logger),
		clientName:   cfg.Option("client_name", defaultClientName),
		products:     splitList(cfg.Option("products", defaultProducts)),
		countryCodes: splitList(cfg.Option("country_codes", defaultCountryCodes)),
		language:     cfg.Option("language", defaultLanguage),
		now:          time.Now,
	}, nil
}

// Capabilities implements providers.Adapter
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.CapExchangePublicToken
}

// Connect creates a Link token for the user. A user that already holds an access token
// gets an update-mode token for the existing item.
func (a *Adapter) Connect(ctx context.Context, params providers.ConnectParams) error {
	const method = "connect"
	req := linkTokenRequest{
		auth:         a.auth(),
		ClientName:   a.clientName,
		Language:     a.language,
		CountryCodes: a.countryCodes,
		User:         linkUser{ClientUserID: params.UserID},
	}

	if token, err := a.Sessions().Get(ctx, params.UserID); err == nil {
		req.AccessToken = token
	} else {
		req.Products = a.products
	}
	if redirect := providers.ExtraString(params.Extra, "redirect_uri"); redirect != "" {
		req.RedirectURI = redirect
	}

	var resp linkTokenResponse
	if err := a.HTTP().Do(ctx, http.MethodPost, "/link/token/create", req, &resp); err != nil {
		return a.Fail(services.ErrCodeProviderConnectionFailed, method, params.UserID, "", err)
	}

	var expiresAt *time.Time
	if !resp.Expiration.IsZero() {
		exp := resp.Expiration
		expiresAt = &exp
	}
	a.DeliverLinkToken(ctx, params.UserID, resp.LinkToken, expiresAt)

	a.Logger().Info("plaid link token created",
		zap.String("user_id", params.UserID),
		zap.Bool("update_mode", req.AccessToken != ""),
		zap.String("request_id", resp.RequestID),
	)
	return nil
}

// ExchangePublicToken trades the Link public token for an access token and stores it
func (a *Adapter) ExchangePublicToken(ctx context.Context, userID, publicToken string) error {
	const method = "exchangePublicToken"
	req := exchangeRequest{auth: a.auth(), PublicToken: publicToken}

	var resp exchangeResponse
	if err := a.HTTP().Do(ctx, http.MethodPost, "/item/public_token/exchange", req, &resp); err != nil {
		return a.Fail(services.ErrCodeProviderConnectionFailed, method, userID, "", err)
	}

	if err := a.SaveSession(ctx, services.ErrCodeProviderConnectionFailed, method, userID, resp.AccessToken); err != nil {
		return err
	}
	a.Logger().Info("plaid item linked", zap.String("user_id", userID), zap.String("item_id", resp.ItemID))
	return nil
}

// Disconnect removes the Plaid item for the user, or for every user when none is given
func (a *Adapter) Disconnect(ctx context.Context, params providers.DisconnectParams) error {
	return a.TeardownSessions(ctx, params.UserID, a.removeItem)
}

func (a *Adapter) removeItem(ctx context.Context, _ string, token string) error {
	return a.HTTP().Do(ctx, http.MethodPost, "/item/remove", accessRequest{auth: a.auth(), AccessToken: token}, nil)
}

// GetAccounts lists the accounts of the user's item
func (a *Adapter) GetAccounts(ctx context.Context, params providers.AccountsParams) ([]models.Account, error) {
	const method = "getAccounts"
	token, err := a.Session(ctx, services.ErrCodeAccountFetchFailed, method, params.UserID)
	if err != nil {
		return nil, err
	}

	var resp accountsResponse
	if err := a.HTTP().Do(ctx, http.MethodPost, "/accounts/get", accessRequest{auth: a.auth(), AccessToken: token}, &resp); err != nil {
		return nil, a.Fail(services.ErrCodeAccountFetchFailed, method, params.UserID, "", err)
	}

	accounts := make([]models.Account, 0, len(resp.Accounts))
	for _, acc := range resp.Accounts {
		accounts = append(accounts, acc.normalize(a.now()))
	}
	return accounts, nil
}

// GetTransactions returns settled transactions for one account. Pending entries are dropped.
func (a *Adapter) GetTransactions(ctx context.Context, params providers.TransactionsParams) ([]models.Transaction, error) {
	const method = "getTransactions"
	token, err := a.Session(ctx, services.ErrCodeTransactionFetchFailed, method, params.UserID)
	if err != nil {
		return nil, err
	}

	start, end := params.Options.Window(a.now(), defaultHistoryDays)
	count := params.Options.LimitOr(defaultPageSize)
	if count > maxPageSize {
		count = maxPageSize
	}

	req := transactionsRequest{
		auth:        a.auth(),
		AccessToken: token,
		StartDate:   start.Format(dateLayout),
		EndDate:     end.Format(dateLayout),
		Options: transactionsOptions{
			AccountIDs: []string{params.AccountID},
			Count:      count,
			Offset:     params.Options.OffsetOr(0),
		},
	}

	var resp transactionsResponse
	if err := a.HTTP().Do(ctx, http.MethodPost, "/transactions/get", req, &resp); err != nil {
		return nil, a.Fail(services.ErrCodeTransactionFetchFailed, method, params.UserID, params.AccountID, err)
	}

	txs := make([]models.Transaction, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		if tx.Pending || tx.AccountID != params.AccountID {
			continue
		}
		normalized, err := tx.normalize()
		if err != nil {
			a.Logger().Warn("skipping plaid transaction with unreadable date",
				zap.String("transaction_id", tx.TransactionID),
				zap.String("account_id", params.AccountID),
				zap.Error(err))
			continue
		}
		txs = append(txs, normalized)
	}
	return txs, nil
}

// RefreshAccounts reconnects the user. Plaid has no synchronous refresh.
func (a *Adapter) RefreshAccounts(ctx context.Context, params providers.RefreshParams) error {
	return providers.RefreshByReconnect(ctx, a, params)
}

func (a *Adapter) auth() auth {
	cfg := a.Config()
	return auth{ClientID: cfg.ClientID, Secret: cfg.Secret}
}

// decodeError reads Plaid's error object
func decodeError(provider string, status int, body []byte) *providers.APIError {
	var perr plaidError
	if err := json.Unmarshal(body, &perr); err != nil || perr.ErrorCode == "" {
		return providers.DecodeGenericError(provider, status, body)
	}
	msg := perr.ErrorMessage
	if perr.DisplayMessage != "" {
		msg = perr.DisplayMessage
	}
	return &providers.APIError{
		Provider:   provider,
		StatusCode: status,
		Code:       perr.ErrorCode,
		Message:    msg,
		Body:       string(body),
	}
}

func mapAccountType(accountType, subtype string) models.AccountType {
	switch strings.ToLower(accountType) {
	case "depository":
		switch strings.ToLower(subtype) {
		case "savings", "money market", "cd", "hsa":
			return models.AccountTypeSavings
		default:
			return models.AccountTypeChecking
		}
	case "credit":
		return models.AccountTypeCredit
	case "loan":
		return models.AccountTypeLoan
	case "investment", "brokerage":
		if strings.EqualFold(subtype, "crypto exchange") {
			return models.AccountTypeCrypto
		}
		return models.AccountTypeInvestment
	}
	return models.AccountTypeOther
}

func currencyOf(iso, unofficial *string) string {
	if iso != nil && *iso != "" {
		return *iso
	}
	if unofficial != nil {
		return *unofficial
	}
	return ""
}

func (acc plaidAccount) normalize(now time.Time) models.Account {
	balance := decimal.Zero
	switch {
	case acc.Balances.Current.Valid:
		balance = acc.Balances.Current.Decimal
	case acc.Balances.Available.Valid:
		balance = acc.Balances.Available.Decimal
	}

	out := models.NewAccount(acc.AccountID, acc.Name, mapAccountType(acc.Type, acc.Subtype), balance,
		currencyOf(acc.Balances.IsoCurrencyCode, acc.Balances.UnofficialCurrencyCode)).
		WithMetadata("provider", ProviderID).
		WithMetadata("subtype", acc.Subtype)
	if acc.Mask != "" {
		out = out.WithMetadata("mask", acc.Mask)
	}
	if acc.OfficialName != "" {
		out = out.WithMetadata("official_name", acc.OfficialName)
	}
	if acc.Balances.Available.Valid {
		out = out.WithMetadata("available_balance", acc.Balances.Available.Decimal.String())
	}
	out.LastUpdated = now.UTC()
	return out
}

func (tx plaidTransaction) normalize() (models.Transaction, error) {
	date, err := time.Parse(dateLayout, tx.Date)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("parse date %q: %w", tx.Date, err)
	}
	amount, direction := models.NormalizeAmount(tx.Amount, true)

	description := tx.Name
	if tx.MerchantName != "" {
		description = tx.MerchantName
	}

	category := strings.Join(tx.Category, " > ")
	if tx.PersonalFinanceCategory != nil && tx.PersonalFinanceCategory.Primary != "" {
		category = tx.PersonalFinanceCategory.Primary
	}

	meta := map[string]interface{}{"provider": ProviderID}
	if tx.PaymentChannel != "" {
		meta["payment_channel"] = tx.PaymentChannel
	}

	return models.Transaction{
		ID:          tx.TransactionID,
		AccountID:   tx.AccountID,
		Amount:      amount,
		Currency:    models.NormalizeCurrency(currencyOf(tx.IsoCurrencyCode, tx.UnofficialCurrencyCode)),
		Description: description,
		Category:    category,
		Type:        direction,
		Date:        date,
		Metadata:    meta,
	}, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
