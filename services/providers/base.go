package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/pulse/services"
	"go.uber.org/zap"
)

// Base carries the state every adapter shares: its id, config, session store,
// HTTP client and logger. Adapters embed it.
type Base struct {
	name     string
	config   ProviderConfig
	sessions SessionStore
	http     *HTTPClient
	logger   *zap.Logger
}

// NewBase applies config defaults and builds the adapter's HTTP client
func NewBase(name string, cfg ProviderConfig, defaultBaseURL string, decodeError ErrorDecoder, logger *zap.Logger) Base {
	defaults := DefaultProviderConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", name))

	return Base{
		name:     name,
		config:   cfg,
		sessions: sessions,
		http:     NewHTTPClient(name, cfg, decodeError, logger),
		logger:   logger,
	}
}

// Provider returns the adapter id
func (b *Base) Provider() string {
	return b.name
}

// Config returns the resolved configuration
func (b *Base) Config() ProviderConfig {
	return b.config
}

// Sessions returns the adapter's session store
func (b *Base) Sessions() SessionStore {
	return b.sessions
}

// HTTP returns the adapter's provider client
func (b *Base) HTTP() *HTTPClient {
	return b.http
}

// Logger returns the adapter logger
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// Fail tags err with code and the call's metadata. Already tagged errors are returned unchanged.
func (b *Base) Fail(code services.ErrorCode, method, userID, accountID string, err error) error {
	if err == nil {
		return nil
	}
	if pulseErr, ok := services.AsPulseError(err); ok {
		return pulseErr
	}
	return services.NewPulseError(code, err.Error(), err).
		WithProvider(b.name).
		WithUser(userID).
		WithAccount(accountID).
		WithMethod(method)
}

// Session returns the user's access token, tagging a missing session with code
func (b *Base) Session(ctx context.Context, code services.ErrorCode, method, userID string) (string, error) {
	token, err := b.sessions.Get(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return "", services.NewPulseError(code, fmt.Sprintf("user %s is not connected to %s", userID, b.name), err).
			WithProvider(b.name).
			WithUser(userID).
			WithMethod(method)
	}
	if err != nil {
		return "", b.Fail(code, method, userID, "", fmt.Errorf("load session: %w", err))
	}
	return token, nil
}

// HasSession reports whether the user has a stored token
func (b *Base) HasSession(ctx context.Context, userID string) bool {
	_, err := b.sessions.Get(ctx, userID)
	return err == nil
}

// SaveSession stores the user's access token
func (b *Base) SaveSession(ctx context.Context, code services.ErrorCode, method, userID, token string) error {
	if err := b.sessions.Set(ctx, userID, token); err != nil {
		return b.Fail(code, method, userID, "", fmt.Errorf("save session: %w", err))
	}
	return nil
}

// RevokeFunc revokes a token at the provider
type RevokeFunc func(ctx context.Context, userID, token string) error

// TeardownSessions disconnects one user, or every user when userID is empty.
// Provider revokes are best effort and only logged; local sessions are always deleted.
func (b *Base) TeardownSessions(ctx context.Context, userID string, revoke RevokeFunc) error {
	users := []string{userID}
	if userID == "" {
		all, err := b.sessions.List(ctx)
		if err != nil {
			return b.Fail(services.ErrCodeProviderDisconnectionFailed, "disconnect", "", "", fmt.Errorf("list sessions: %w", err))
		}
		users = all
	}

	var deleteErrs []error
	for _, uid := range users {
		token, err := b.sessions.Get(ctx, uid)
		if err == nil && revoke != nil {
			if rvErr := revoke(ctx, uid, token); rvErr != nil {
				b.logger.Warn("provider revoke failed, removing local session anyway",
					zap.String("user_id", uid),
					zap.Error(rvErr),
				)
			}
		}
		if err := b.sessions.Delete(ctx, uid); err != nil {
			deleteErrs = append(deleteErrs, fmt.Errorf("delete session %s: %w", uid, err))
		}
	}

	if len(deleteErrs) > 0 {
		return b.Fail(services.ErrCodeProviderDisconnectionFailed, "disconnect", userID, "", errors.Join(deleteErrs...))
	}
	b.logger.Debug("sessions removed", zap.Int("count", len(users)))
	return nil
}

// DeliverLinkToken hands a link token to the configured callback and the request collector
func (b *Base) DeliverLinkToken(ctx context.Context, userID, token string, expiresAt *time.Time) {
	lt := LinkToken{Provider: b.name, UserID: userID, Token: token, ExpiresAt: expiresAt}
	if b.config.OnLinkToken != nil {
		b.config.OnLinkToken(ctx, lt)
	}
	if c := linkCollectorFrom(ctx); c != nil {
		c.add(lt)
	}
}

// RefreshByReconnect is the default RefreshAccounts: disconnect then connect on the same adapter.
// Untagged failures become ACCOUNT_REFRESH_FAILED.
func RefreshByReconnect(ctx context.Context, a Adapter, params RefreshParams) error {
	wrap := func(step string, err error) error {
		if _, ok := services.AsPulseError(err); ok {
			return err
		}
		return services.NewPulseError(services.ErrCodeAccountRefreshFailed, fmt.Sprintf("%s during refresh: %v", step, err), err).
			WithProvider(a.Provider()).
			WithUser(params.UserID).
			WithMethod("refreshAccounts")
	}

	if err := a.Disconnect(ctx, DisconnectParams{UserID: params.UserID, Extra: params.Extra}); err != nil {
		return wrap("disconnect", err)
	}
	if err := a.Connect(ctx, ConnectParams{UserID: params.UserID, Extra: params.Extra}); err != nil {
		return wrap("connect", err)
	}
	return nil
}
