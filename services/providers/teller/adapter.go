package teller

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/services"
	"github.com/upb/pulse/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProviderID is the registry key of the Teller adapter
const ProviderID = "teller"

const (
	defaultBaseURL    = "https://api.teller.io"
	dateLayout        = "2006-01-02"
	balanceFetchLimit = 4
)

// Adapter talks to the Teller API. Sessions hold the enrollment access token per user.
type Adapter struct {
	providers.Base
	applicationID string
}

// NewAdapter creates a Teller adapter. Options: application_id, certificate, private_key.
// Development and production environments require the mTLS certificate pair.
func NewAdapter(cfg providers.ProviderConfig, logger *zap.Logger) (*Adapter, error) {
	applicationID := cfg.Option("application_id", cfg.ClientID)
	if applicationID == "" {
		return nil, configError("teller application id is required")
	}

	certFile, keyFile := cfg.Option("certificate", ""), cfg.Option("private_key", "")
	env := strings.ToLower(cfg.Environment)
	if (env == "development" || env == "production") && (certFile == "" || keyFile == "") && cfg.HTTPClient == nil {
		return nil, configError(fmt.Sprintf("teller %s environment requires a client certificate", env))
	}

	if certFile != "" && keyFile != "" && cfg.HTTPClient == nil {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, services.NewPulseError(services.ErrCodeConfiguration, "load teller client certificate", err).
				WithProvider(ProviderID)
		}
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = providers.DefaultProviderConfig().Timeout
		}
		cfg.HTTPClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
			},
		}
	}

	return &Adapter{
		Base:          providers.NewBase(ProviderID, cfg, defaultBaseURL, nil, logger),
		applicationID: applicationID,
	}, nil
}

// Capabilities implements providers.Adapter
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.CapStoreAccessToken
}

// Connect verifies a stored enrollment token. Without one, the application id is handed
// to the caller so the front end can start Teller Connect.
func (a *Adapter) Connect(ctx context.Context, params providers.ConnectParams) error {
	const method = "connect"
	token, err := a.Sessions().Get(ctx, params.UserID)
	if err != nil {
		a.DeliverLinkToken(ctx, params.UserID, a.applicationID, nil)
		a.Logger().Info("teller connect started", zap.String("user_id", params.UserID))
		return nil
	}

	if _, err := a.listAccounts(ctx, token); err != nil {
		return a.Fail(services.ErrCodeProviderConnectionFailed, method, params.UserID, "", err)
	}
	return nil
}

// StoreAccessToken verifies an enrollment token from Teller Connect and stores it
func (a *Adapter) StoreAccessToken(ctx context.Context, userID, accessToken string) error {
	const method = "storeAccessToken"
	if _, err := a.listAccounts(ctx, accessToken); err != nil {
		return a.Fail(services.ErrCodeProviderConnectionFailed, method, userID, "", err)
	}
	if err := a.SaveSession(ctx, services.ErrCodeProviderConnectionFailed, method, userID, accessToken); err != nil {
		return err
	}
	a.Logger().Info("teller enrollment stored", zap.String("user_id", userID))
	return nil
}

// Disconnect deletes the enrollment's accounts at Teller and forgets the token
func (a *Adapter) Disconnect(ctx context.Context, params providers.DisconnectParams) error {
	return a.TeardownSessions(ctx, params.UserID, func(ctx context.Context, _ string, token string) error {
		return a.HTTP().Do(ctx, http.MethodDelete, "/accounts", nil, nil, providers.WithBasicAuth(token, ""))
	})
}

// GetAccounts lists the enrollment's accounts with their ledger balances
func (a *Adapter) GetAccounts(ctx context.Context, params providers.AccountsParams) ([]models.Account, error) {
	const method = "getAccounts"
	token, err := a.Session(ctx, services.ErrCodeAccountFetchFailed, method, params.UserID)
	if err != nil {
		return nil, err
	}

	raw, err := a.listAccounts(ctx, token)
	if err != nil {
		return nil, a.Fail(services.ErrCodeAccountFetchFailed, method, params.UserID, "", err)
	}

	balances := make([]*tellerBalance, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(balanceFetchLimit)
	for i, acc := range raw {
		if acc.Status == "closed" {
			continue
		}
		g.Go(func() error {
			var bal tellerBalance
			path := "/accounts/" + url.PathEscape(acc.ID) + "/balances"
			if err := a.HTTP().Do(gctx, http.MethodGet, path, nil, &bal, providers.WithBasicAuth(token, "")); err != nil {
				a.Logger().Warn("teller balance unavailable", zap.String("account_id", acc.ID), zap.Error(err))
				return nil
			}
			balances[i] = &bal
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	accounts := make([]models.Account, 0, len(raw))
	for i, acc := range raw {
		accounts = append(accounts, acc.normalize(balances[i], now))
	}
	return accounts, nil
}

// GetTransactions returns posted transactions for one account. Date range and
// pagination are applied locally since Teller pages by transaction id.
func (a *Adapter) GetTransactions(ctx context.Context, params providers.TransactionsParams) ([]models.Transaction, error) {
	const method = "getTransactions"
	token, err := a.Session(ctx, services.ErrCodeTransactionFetchFailed, method, params.UserID)
	if err != nil {
		return nil, err
	}

	opts := params.Options
	query := url.Values{}
	if opts != nil && opts.StartDate == nil && opts.EndDate == nil && opts.Limit != nil {
		query.Set("count", strconv.Itoa(opts.OffsetOr(0)+opts.LimitOr(0)))
	}
	if fromID := providers.ExtraString(params.Extra, "from_id"); fromID != "" {
		query.Set("from_id", fromID)
	}

	// Transactions carry no currency of their own
	var acc tellerAccount
	accountPath := "/accounts/" + url.PathEscape(params.AccountID)
	if err := a.HTTP().Do(ctx, http.MethodGet, accountPath, nil, &acc, providers.WithBasicAuth(token, "")); err != nil {
		return nil, a.Fail(services.ErrCodeTransactionFetchFailed, method, params.UserID, params.AccountID, err)
	}

	var raw []tellerTransaction
	if err := a.HTTP().Do(ctx, http.MethodGet, accountPath+"/transactions", nil, &raw,
		providers.WithBasicAuth(token, ""), providers.WithQuery(query)); err != nil {
		return nil, a.Fail(services.ErrCodeTransactionFetchFailed, method, params.UserID, params.AccountID, err)
	}

	txs := make([]models.Transaction, 0, len(raw))
	for _, tx := range raw {
		if strings.EqualFold(tx.Status, "pending") {
			continue
		}
		normalized, err := tx.normalize(acc.Currency)
		if err != nil {
			a.Logger().Warn("skipping teller transaction with unreadable date",
				zap.String("transaction_id", tx.ID),
				zap.String("account_id", params.AccountID),
				zap.Error(err))
			continue
		}
		if !opts.Contains(normalized.Date) {
			continue
		}
		txs = append(txs, normalized)
	}
	return models.Paginate(txs, opts), nil
}

// RefreshAccounts reconnects the user
func (a *Adapter) RefreshAccounts(ctx context.Context, params providers.RefreshParams) error {
	return providers.RefreshByReconnect(ctx, a, params)
}

func (a *Adapter) listAccounts(ctx context.Context, token string) ([]tellerAccount, error) {
	var accounts []tellerAccount
	if err := a.HTTP().Do(ctx, http.MethodGet, "/accounts", nil, &accounts, providers.WithBasicAuth(token, "")); err != nil {
		return nil, err
	}
	return accounts, nil
}

func configError(msg string) error {
	return services.NewPulseError(services.ErrCodeConfiguration, msg, nil).WithProvider(ProviderID)
}

func mapAccountType(accountType, subtype string) models.AccountType {
	switch accountType {
	case "depository":
		switch subtype {
		case "savings", "money_market", "certificate_of_deposit":
			return models.AccountTypeSavings
		case "checking":
			return models.AccountTypeChecking
		}
	case "credit":
		return models.AccountTypeCredit
	}
	return models.AccountTypeOther
}

func (acc tellerAccount) normalize(bal *tellerBalance, now time.Time) models.Account {
	balance := decimal.Zero
	if bal != nil {
		switch {
		case bal.Ledger.Valid:
			balance = bal.Ledger.Decimal
		case bal.Available.Valid:
			balance = bal.Available.Decimal
		}
	}

	out := models.NewAccount(acc.ID, acc.Name, mapAccountType(acc.Type, acc.Subtype), balance, acc.Currency).
		WithMetadata("provider", ProviderID).
		WithMetadata("subtype", acc.Subtype).
		WithMetadata("enrollment_id", acc.EnrollmentID)
	if acc.LastFour != "" {
		out = out.WithMetadata("last_four", acc.LastFour)
	}
	if acc.Institution.Name != "" {
		out = out.WithMetadata("institution", acc.Institution.Name)
	}
	if bal == nil {
		out = out.WithMetadata("balance_unavailable", true)
	} else if bal.Available.Valid {
		out = out.WithMetadata("available_balance", bal.Available.Decimal.String())
	}
	out.LastUpdated = now
	return out
}

func (tx tellerTransaction) normalize(currency string) (models.Transaction, error) {
	date, err := time.Parse(dateLayout, tx.Date)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("parse date %q: %w", tx.Date, err)
	}
	amount, direction := models.NormalizeAmount(tx.Amount, false)

	description := tx.Description
	if tx.Details.Counterparty.Name != "" {
		description = tx.Details.Counterparty.Name
	}

	return models.Transaction{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Amount:      amount,
		Currency:    models.NormalizeCurrency(currency),
		Description: description,
		Category:    tx.Details.Category,
		Type:        direction,
		Date:        date,
		Metadata: map[string]interface{}{
			"provider":         ProviderID,
			"teller_type":      tx.Type,
			"processing_state": tx.Details.ProcessingStatus,
		},
	}, nil
}
