package pulse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/upb/pulse/internal/observability"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/services"
	"github.com/upb/pulse/services/providers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventSink receives a record of every adapter invocation. Implementations must not block.
type EventSink interface {
	Record(event *models.DispatchEvent)
}

// Config holds the adapters the service dispatches to
type Config struct {
	// Adapters in registration order. Later adapters with a repeated id replace earlier ones.
	Adapters []providers.Adapter

	// DefaultProvider is used for single-target calls that name no provider
	DefaultProvider string
}

// ProviderInfo describes a registered adapter
type ProviderInfo struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Default      bool     `json:"default"`
}

// Service multiplexes the adapter contract over every registered provider
type Service struct {
	registry        *providers.Registry
	defaultProvider string
	sink            EventSink
	logger          *zap.Logger
}

// NewService registers the adapters. It fails when there are none or one is invalid.
func NewService(cfg Config, logger *zap.Logger, sink EventSink) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Adapters) == 0 {
		return nil, services.NewPulseError(services.ErrCodeConfiguration, "at least one provider adapter is required", nil)
	}

	registry := providers.NewRegistry()
	for i, adapter := range cfg.Adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, services.NewPulseError(services.ErrCodeConfiguration, fmt.Sprintf("adapter %d: %v", i, err), err)
		}
	}

	if cfg.DefaultProvider != "" && !registry.Has(cfg.DefaultProvider) {
		logger.Warn("default provider is not registered, falling back to first adapter",
			zap.String("default_provider", cfg.DefaultProvider),
			zap.Strings("providers", registry.Providers()),
		)
	}

	logger.Info("pulse service initialized",
		zap.Strings("providers", registry.Providers()),
		zap.String("default_provider", cfg.DefaultProvider),
	)

	return &Service{
		registry:        registry,
		defaultProvider: cfg.DefaultProvider,
		sink:            sink,
		logger:          logger,
	}, nil
}

// Providers returns the registered provider ids in registration order
func (s *Service) Providers() []string {
	return s.registry.Providers()
}

// DefaultProvider returns the provider single-target calls resolve to when none is named
func (s *Service) DefaultProvider() string {
	a, _ := s.resolve("", "")
	return a.Provider()
}

// Describe lists the registered adapters and their optional capabilities
func (s *Service) Describe() []ProviderInfo {
	def := s.DefaultProvider()
	out := make([]ProviderInfo, 0, s.registry.Count())
	for _, a := range s.registry.List() {
		out = append(out, ProviderInfo{
			ID:           a.Provider(),
			Capabilities: a.Capabilities().Names(),
			Default:      a.Provider() == def,
		})
	}
	return out
}

// Connect opens a session with one provider, or with every provider when none is named.
// In fan-out mode all adapters are attempted and the first failure in registration order is returned.
func (s *Service) Connect(ctx context.Context, userID, provider string, extra map[string]interface{}) error {
	const method = "connect"
	if err := requireField(method, "userId", userID); err != nil {
		return err
	}

	adapters, err := s.targets(provider, method)
	if err != nil {
		return err
	}

	errs := s.fanOut(adapters, func(_ int, a providers.Adapter) error {
		return s.invoke(ctx, a, models.OperationConnect, userID, "", func() (int, error) {
			return 0, a.Connect(ctx, providers.ConnectParams{UserID: userID, Extra: extra})
		})
	})

	for i, err := range errs {
		if err != nil {
			return tag(services.ErrCodeProviderConnectionFailed, method, adapters[i].Provider(), userID, "", err)
		}
	}
	return nil
}

// Disconnect tears down sessions. An empty userID disconnects every user.
// Fan-out failures are logged and recorded but never returned.
func (s *Service) Disconnect(ctx context.Context, userID, provider string) error {
	const method = "disconnect"

	if provider != "" {
		a, err := s.resolve(provider, method)
		if err != nil {
			return err
		}
		err = s.invoke(ctx, a, models.OperationDisconnect, userID, "", func() (int, error) {
			return 0, a.Disconnect(ctx, providers.DisconnectParams{UserID: userID})
		})
		return tag(services.ErrCodeProviderDisconnectionFailed, method, a.Provider(), userID, "", err)
	}

	adapters := s.registry.List()
	errs := s.fanOut(adapters, func(_ int, a providers.Adapter) error {
		return s.invoke(ctx, a, models.OperationDisconnect, userID, "", func() (int, error) {
			return 0, a.Disconnect(ctx, providers.DisconnectParams{UserID: userID})
		})
	})
	s.logSwallowed(ctx, models.OperationDisconnect, adapters, errs)
	return nil
}

// GetAccounts returns accounts from one provider, or the concatenation across all providers
// in registration order. In fan-out mode a failing provider contributes no accounts.
func (s *Service) GetAccounts(ctx context.Context, userID, provider string, extra map[string]interface{}) ([]models.Account, error) {
	const method = "getAccounts"
	if err := requireField(method, "userId", userID); err != nil {
		return nil, err
	}

	if provider != "" {
		a, err := s.resolve(provider, method)
		if err != nil {
			return nil, err
		}
		accounts, err := s.fetchAccounts(ctx, a, userID, extra)
		if err != nil {
			return nil, tag(services.ErrCodeAccountFetchFailed, method, a.Provider(), userID, "", err)
		}
		return accounts, nil
	}

	adapters := s.registry.List()
	results := make([][]models.Account, len(adapters))
	errs := s.fanOut(adapters, func(i int, a providers.Adapter) error {
		accounts, err := s.fetchAccounts(ctx, a, userID, extra)
		if err != nil {
			return err
		}
		results[i] = accounts
		return nil
	})
	s.logSwallowed(ctx, models.OperationGetAccounts, adapters, errs)

	all := make([]models.Account, 0)
	for _, accounts := range results {
		all = append(all, accounts...)
	}
	return all, nil
}

// GetTransactions returns settled transactions for an account. Without a provider the adapters
// are tried one after another in registration order and the first success wins.
func (s *Service) GetTransactions(ctx context.Context, accountID, userID, provider string, opts *models.TransactionHistoryOptions) ([]models.Transaction, error) {
	const method = "getTransactions"
	if err := requireField(method, "accountId", accountID); err != nil {
		return nil, err
	}
	if err := requireField(method, "userId", userID); err != nil {
		return nil, err
	}

	adapters, err := s.targets(provider, method)
	if err != nil {
		return nil, err
	}

	var (
		combined error
		failures = make(map[string]string, len(adapters))
		messages = make([]string, 0, len(adapters))
	)
	for _, a := range adapters {
		txs, err := s.fetchTransactions(ctx, a, accountID, userID, opts)
		if err == nil {
			return txs, nil
		}
		if provider != "" {
			return nil, tag(services.ErrCodeTransactionFetchFailed, method, a.Provider(), userID, accountID, err)
		}

		msg := errorMessage(err)
		failures[a.Provider()] = msg
		messages = append(messages, fmt.Sprintf("%s: %s", a.Provider(), msg))
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", a.Provider(), err))

		observability.WithRequest(ctx, s.logger).Debug("transaction fetch failed, trying next provider",
			zap.String("provider", a.Provider()),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}

	return nil, services.NewPulseError(services.ErrCodeTransactionFetchFailed,
		"all providers failed to fetch transactions: "+strings.Join(messages, "; "), combined).
		WithUser(userID).
		WithAccount(accountID).
		WithMethod(method).
		WithDetail("errors", failures)
}

// RefreshAccounts asks one provider, or all of them, to resync the user's data.
// Fan-out failures are logged and recorded but never returned.
func (s *Service) RefreshAccounts(ctx context.Context, userID, provider string, extra map[string]interface{}) error {
	const method = "refreshAccounts"
	if err := requireField(method, "userId", userID); err != nil {
		return err
	}

	refresh := func(_ int, a providers.Adapter) error {
		return s.invoke(ctx, a, models.OperationRefreshAccounts, userID, "", func() (int, error) {
			return 0, a.RefreshAccounts(ctx, providers.RefreshParams{UserID: userID, Extra: extra})
		})
	}

	if provider != "" {
		a, err := s.resolve(provider, method)
		if err != nil {
			return err
		}
		return tag(services.ErrCodeAccountRefreshFailed, method, a.Provider(), userID, "", refresh(0, a))
	}

	adapters := s.registry.List()
	errs := s.fanOut(adapters, refresh)
	s.logSwallowed(ctx, models.OperationRefreshAccounts, adapters, errs)
	return nil
}

// ExchangePublicToken trades a link-flow public token for a stored access token
func (s *Service) ExchangePublicToken(ctx context.Context, userID, publicToken, provider string) error {
	const method = "exchangePublicToken"
	if err := requireField(method, "userId", userID); err != nil {
		return err
	}
	if err := requireField(method, "publicToken", publicToken); err != nil {
		return err
	}

	a, err := s.resolve(provider, method)
	if err != nil {
		return err
	}
	exchanger, ok := a.(providers.PublicTokenExchanger)
	if !ok || !a.Capabilities().Has(providers.CapExchangePublicToken) {
		return unsupported(a.Provider(), method)
	}

	err = s.invoke(ctx, a, models.OperationExchangePublicToken, userID, "", func() (int, error) {
		return 0, exchanger.ExchangePublicToken(ctx, userID, publicToken)
	})
	return tag(services.ErrCodeProviderConnectionFailed, method, a.Provider(), userID, "", err)
}

// StoreAccessToken saves an access token obtained by the client directly
func (s *Service) StoreAccessToken(ctx context.Context, userID, accessToken, provider string) error {
	const method = "storeAccessToken"
	if err := requireField(method, "userId", userID); err != nil {
		return err
	}
	if err := requireField(method, "accessToken", accessToken); err != nil {
		return err
	}

	a, err := s.resolve(provider, method)
	if err != nil {
		return err
	}
	storer, ok := a.(providers.AccessTokenStorer)
	if !ok || !a.Capabilities().Has(providers.CapStoreAccessToken) {
		return unsupported(a.Provider(), method)
	}

	err = s.invoke(ctx, a, models.OperationStoreAccessToken, userID, "", func() (int, error) {
		return 0, storer.StoreAccessToken(ctx, userID, accessToken)
	})
	return tag(services.ErrCodeProviderConnectionFailed, method, a.Provider(), userID, "", err)
}

// resolve picks the named adapter, else the default, else the first registered
func (s *Service) resolve(provider, method string) (providers.Adapter, error) {
	if provider != "" {
		a, err := s.registry.Get(provider)
		if err != nil {
			return nil, services.NewPulseError(services.ErrCodeProviderNotFound,
				fmt.Sprintf("provider %q is not registered", provider), err).
				WithProvider(provider).
				WithMethod(method).
				WithDetail("available", s.registry.Providers())
		}
		return a, nil
	}
	if s.defaultProvider != "" {
		if a, err := s.registry.Get(s.defaultProvider); err == nil {
			return a, nil
		}
	}
	a, _ := s.registry.First()
	return a, nil
}

// targets is the named adapter alone, or every adapter in registration order
func (s *Service) targets(provider, method string) ([]providers.Adapter, error) {
	if provider == "" {
		return s.registry.List(), nil
	}
	a, err := s.resolve(provider, method)
	if err != nil {
		return nil, err
	}
	return []providers.Adapter{a}, nil
}

func (s *Service) fetchAccounts(ctx context.Context, a providers.Adapter, userID string, extra map[string]interface{}) ([]models.Account, error) {
	var accounts []models.Account
	err := s.invoke(ctx, a, models.OperationGetAccounts, userID, "", func() (int, error) {
		var err error
		accounts, err = a.GetAccounts(ctx, providers.AccountsParams{UserID: userID, Extra: extra})
		return len(accounts), err
	})
	return accounts, err
}

func (s *Service) fetchTransactions(ctx context.Context, a providers.Adapter, accountID, userID string, opts *models.TransactionHistoryOptions) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.invoke(ctx, a, models.OperationGetTransactions, userID, accountID, func() (int, error) {
		var err error
		txs, err = a.GetTransactions(ctx, providers.TransactionsParams{AccountID: accountID, UserID: userID, Options: opts})
		return len(txs), err
	})
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

// fanOut runs fn on every adapter concurrently and returns the errors indexed like adapters
func (s *Service) fanOut(adapters []providers.Adapter, fn func(i int, a providers.Adapter) error) []error {
	errs := make([]error, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			errs[i] = fn(i, a)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// invoke calls fn, turning a panic into an error, and records the outcome
func (s *Service) invoke(ctx context.Context, a providers.Adapter, op models.DispatchOperation, userID, accountID string, fn func() (int, error)) (err error) {
	start := time.Now()
	count := 0
	defer func() {
		if r := recover(); r != nil {
			err = services.FromPanic(r)
			observability.WithRequest(ctx, s.logger).Error("adapter panicked",
				zap.String("provider", a.Provider()),
				zap.String("operation", string(op)),
				zap.Any("panic", r),
			)
		}
		s.record(ctx, a.Provider(), op, userID, accountID, count, time.Since(start), err)
	}()

	count, err = fn()
	return err
}

func (s *Service) record(ctx context.Context, provider string, op models.DispatchOperation, userID, accountID string, count int, latency time.Duration, err error) {
	if s.sink == nil {
		return
	}
	event := models.NewDispatchEvent(provider, op).
		WithSubject(userID, accountID).
		WithRequest(observability.RequestID(ctx)).
		WithResult(count, latency)
	if err != nil {
		code := services.ErrCodeUnknown
		if pulseErr, ok := services.AsPulseError(err); ok {
			code = pulseErr.Code
		}
		event.WithError(string(code), errorMessage(err))
	}
	s.sink.Record(event)
}

func (s *Service) logSwallowed(ctx context.Context, op models.DispatchOperation, adapters []providers.Adapter, errs []error) {
	logger := observability.WithRequest(ctx, s.logger)
	for i, err := range errs {
		if err == nil {
			continue
		}
		logger.Warn("provider failed during fan-out",
			zap.String("provider", adapters[i].Provider()),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}

// tag returns a tagged error unchanged, otherwise wraps it with code and call metadata
func tag(code services.ErrorCode, method, provider, userID, accountID string, err error) error {
	if err == nil {
		return nil
	}
	if pulseErr, ok := services.AsPulseError(err); ok {
		return pulseErr
	}
	return services.NewPulseError(code, err.Error(), err).
		WithProvider(provider).
		WithUser(userID).
		WithAccount(accountID).
		WithMethod(method)
}

func requireField(method, field, value string) error {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return services.NewPulseError(services.ErrCodeValidation, field+" is required", nil).
		WithMethod(method).
		WithDetail("field", field)
}

func unsupported(provider, method string) error {
	return services.NewPulseError(services.ErrCodeMethodNotSupported,
		fmt.Sprintf("provider %q does not support %s", provider, method), nil).
		WithProvider(provider).
		WithMethod(method)
}

func errorMessage(err error) string {
	if pulseErr, ok := services.AsPulseError(err); ok {
		return pulseErr.Message
	}
	return err.Error()
}
