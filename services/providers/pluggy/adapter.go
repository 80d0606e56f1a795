package pluggy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/services"
	"github.com/upb/pulse/services/providers"
	"go.uber.org/zap"
)

var errForeignAccount = errors.New("account does not belong to the user's item")

// ProviderID is the registry key of the Pluggy adapter
const ProviderID = "pluggy"

const (
	defaultBaseURL     = "https://api.pluggy.ai"
	dateLayout         = "2006-01-02"
	defaultHistoryDays = 30
	pageSize           = 500
	maxPages           = 20

	// apiKeyTTL applies when the key carries no readable expiry
	apiKeyTTL  = 2 * time.Hour
	apiKeySkew = time.Minute
)

// Adapter talks to the Pluggy API. Sessions hold the user's item id.
type Adapter struct {
	providers.Base
	webhookURL string
	now        func() time.Time

	mu        sync.Mutex
	apiKey    string
	apiKeyExp time.Time
}

// NewAdapter creates a Pluggy adapter. Options: webhook_url.
func NewAdapter(cfg providers.ProviderConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, services.NewPulseError(services.ErrCodeConfiguration, "pluggy client id and secret are required", nil).
			WithProvider(ProviderID)
	}
	return &Adapter{
		Base:       providers.NewBase(ProviderID, cfg, defaultBaseURL, nil, logger),
		webhookURL: cfg.Option("webhook_url", ""),
		now:        time.Now,
	}, nil
}

// Capabilities implements providers.Adapter
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.CapStoreAccessToken | providers.CapNativeRefresh
}

// Connect creates a Pluggy Connect token. Users with an item get a token scoped to it.
func (a *Adapter) Connect(ctx context.Context, params providers.ConnectParams) error {
	const method = "connect"
	req := connectTokenRequest{Options: connectTokenOptions{ClientUserID: params.UserID, WebhookURL: a.webhookURL}}
	if itemID, err := a.Sessions().Get(ctx, params.UserID); err == nil {
		req.ItemID = itemID
	}

	var resp connectTokenResponse
	if err := a.call(ctx, http.MethodPost, "/connect_token", req, &resp, nil); err != nil {
		return a.Fail(services.ErrCodeProviderConnectionFailed, method, params.UserID, "", err)
	}

	var expiresAt *time.Time
	if exp, ok := tokenExpiry(resp.AccessToken); ok {
		expiresAt = &exp
	}
	a.DeliverLinkToken(ctx, params.UserID, resp.AccessToken, expiresAt)
	a.Logger().Info("pluggy connect token created",
		zap.String("user_id", params.UserID),
		zap.Bool("update_mode", req.ItemID != ""),
	)
	return nil
}

// StoreAccessToken stores the item id returned by Pluggy Connect after checking it exists
func (a *Adapter) StoreAccessToken(ctx context.Context, userID, itemID string) error {
	const method = "storeAccessToken"
	var it item
	if err := a.call(ctx, http.MethodGet, "/items/"+url.PathEscape(itemID), nil, &it, nil); err != nil {
		return a.Fail(services.ErrCodeProviderConnectionFailed, method, userID, "", err)
	}
	if err := a.SaveSession(ctx, services.ErrCodeProviderConnectionFailed, method, userID, it.ID); err != nil {
		return err
	}
	a.Logger().Info("pluggy item stored", zap.String("user_id", userID), zap.String("status", it.Status))
	return nil
}

// Disconnect deletes the user's item at Pluggy and forgets it
func (a *Adapter) Disconnect(ctx context.Context, params providers.DisconnectParams) error {
	return a.TeardownSessions(ctx, params.UserID, func(ctx context.Context, _ string, itemID string) error {
		return a.call(ctx, http.MethodDelete, "/items/"+url.PathEscape(itemID), nil, nil, nil)
	})
}

// GetAccounts lists the accounts of the user's item
func (a *Adapter) GetAccounts(ctx context.Context, params providers.AccountsParams) ([]models.Account, error) {
	const method = "getAccounts"
	itemID, err := a.Session(ctx, services.ErrCodeAccountFetchFailed, method, params.UserID)
	if err != nil {
		return nil, err
	}

	var resp page[pluggyAccount]
	if err := a.call(ctx, http.MethodGet, "/accounts", nil, &resp, url.Values{"itemId": {itemID}}); err != nil {
		return nil, a.Fail(services.ErrCodeAccountFetchFailed, method, params.UserID, "", err)
	}

	now := a.now().UTC()
	accounts := make([]models.Account, 0, len(resp.Results))
	for _, acc := range resp.Results {
		accounts = append(accounts, acc.normalize(now))
	}
	return accounts, nil
}

// GetTransactions pages through the account's transactions. Pending entries are dropped.
func (a *Adapter) GetTransactions(ctx context.Context, params providers.TransactionsParams) ([]models.Transaction, error) {
	const method = "getTransactions"
	itemID, err := a.Session(ctx, services.ErrCodeTransactionFetchFailed, method, params.UserID)
	if err != nil {
		return nil, err
	}

	// The API key is client-wide, so ownership is checked against the user's item
	var acc pluggyAccount
	if err := a.call(ctx, http.MethodGet, "/accounts/"+url.PathEscape(params.AccountID), nil, &acc, nil); err != nil {
		return nil, a.Fail(services.ErrCodeTransactionFetchFailed, method, params.UserID, params.AccountID, err)
	}
	if acc.ItemID != itemID {
		return nil, a.Fail(services.ErrCodeTransactionFetchFailed, method, params.UserID, params.AccountID, errForeignAccount)
	}

	opts := params.Options
	from, to := opts.Window(a.now(), defaultHistoryDays)
	want := 0
	if opts != nil && opts.Limit != nil {
		want = opts.OffsetOr(0) + opts.LimitOr(0)
	}

	txs := make([]models.Transaction, 0)
	for p := 1; p <= maxPages; p++ {
		query := url.Values{
			"accountId": {params.AccountID},
			"from":      {from.Format(dateLayout)},
			"to":        {to.Format(dateLayout)},
			"pageSize":  {strconv.Itoa(pageSize)},
			"page":      {strconv.Itoa(p)},
		}
		var resp page[pluggyTransaction]
		if err := a.call(ctx, http.MethodGet, "/transactions", nil, &resp, query); err != nil {
			return nil, a.Fail(services.ErrCodeTransactionFetchFailed, method, params.UserID, params.AccountID, err)
		}

		for _, tx := range resp.Results {
			if strings.EqualFold(tx.Status, "PENDING") {
				continue
			}
			txs = append(txs, tx.normalize())
		}
		if p >= resp.TotalPages || (want > 0 && len(txs) >= want) {
			break
		}
	}
	return models.Paginate(txs, opts), nil
}

// RefreshAccounts asks Pluggy to resync the user's item
func (a *Adapter) RefreshAccounts(ctx context.Context, params providers.RefreshParams) error {
	const method = "refreshAccounts"
	itemID, err := a.Session(ctx, services.ErrCodeAccountRefreshFailed, method, params.UserID)
	if err != nil {
		return err
	}

	var it item
	if err := a.call(ctx, http.MethodPatch, "/items/"+url.PathEscape(itemID), struct{}{}, &it, nil); err != nil {
		return a.Fail(services.ErrCodeAccountRefreshFailed, method, params.UserID, "", err)
	}
	a.Logger().Info("pluggy item update requested", zap.String("user_id", params.UserID), zap.String("status", it.Status))
	return nil
}

// call sends an authenticated request. A rejected API key is dropped and the request retried once.
func (a *Adapter) call(ctx context.Context, method, path string, body, out interface{}, query url.Values) error {
	for attempt := 0; ; attempt++ {
		key, err := a.key(ctx)
		if err != nil {
			return err
		}

		opts := []providers.RequestOption{providers.WithHeader("X-API-KEY", key)}
		if len(query) > 0 {
			opts = append(opts, providers.WithQuery(query))
		}
		err = a.HTTP().Do(ctx, method, path, body, out, opts...)

		var apiErr *providers.APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			a.invalidateKey(key)
			continue
		}
		return err
	}
}

// key returns a cached API key, authenticating when it is missing or about to expire
func (a *Adapter) key(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.apiKey != "" && now.Before(a.apiKeyExp.Add(-apiKeySkew)) {
		return a.apiKey, nil
	}

	cfg := a.Config()
	var resp authResponse
	if err := a.HTTP().Do(ctx, http.MethodPost, "/auth", authRequest{ClientID: cfg.ClientID, ClientSecret: cfg.Secret}, &resp); err != nil {
		return "", err
	}

	exp, ok := tokenExpiry(resp.APIKey)
	if !ok {
		exp = now.Add(apiKeyTTL)
	}
	a.apiKey, a.apiKeyExp = resp.APIKey, exp
	a.Logger().Debug("pluggy api key refreshed", zap.Time("expires_at", exp))
	return a.apiKey, nil
}

func (a *Adapter) invalidateKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.apiKey == key {
		a.apiKey = ""
	}
}

// tokenExpiry reads the exp claim of a Pluggy JWT without verifying it
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func mapAccountType(accountType, subtype string) models.AccountType {
	switch strings.ToUpper(subtype) {
	case "CHECKING_ACCOUNT":
		return models.AccountTypeChecking
	case "SAVINGS_ACCOUNT":
		return models.AccountTypeSavings
	case "CREDIT_CARD":
		return models.AccountTypeCredit
	}
	switch strings.ToUpper(accountType) {
	case "BANK":
		return models.AccountTypeChecking
	case "CREDIT":
		return models.AccountTypeCredit
	case "INVESTMENT":
		return models.AccountTypeInvestment
	case "LOAN":
		return models.AccountTypeLoan
	}
	return models.AccountTypeOther
}

func (acc pluggyAccount) normalize(now time.Time) models.Account {
	name := acc.Name
	if acc.MarketingName != "" {
		name = acc.MarketingName
	}
	out := models.NewAccount(acc.ID, name, mapAccountType(acc.Type, acc.Subtype), acc.Balance, acc.CurrencyCode).
		WithMetadata("provider", ProviderID).
		WithMetadata("item_id", acc.ItemID).
		WithMetadata("subtype", acc.Subtype)
	if acc.Number != "" {
		out = out.WithMetadata("number", acc.Number)
	}
	out.LastUpdated = now
	return out
}

func (tx pluggyTransaction) normalize() models.Transaction {
	amount, direction := models.NormalizeAmount(tx.Amount, false)
	switch strings.ToUpper(tx.Type) {
	case "DEBIT":
		direction = models.TransactionTypeDebit
	case "CREDIT":
		direction = models.TransactionTypeCredit
	}

	meta := map[string]interface{}{"provider": ProviderID}
	if tx.DescriptionRaw != "" {
		meta["description_raw"] = tx.DescriptionRaw
	}

	return models.Transaction{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Amount:      amount,
		Currency:    models.NormalizeCurrency(tx.CurrencyCode),
		Description: tx.Description,
		Category:    tx.Category,
		Type:        direction,
		Date:        tx.Date.UTC(),
		Metadata:    meta,
	}
}
