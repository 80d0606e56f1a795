package providers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/upb/pulse/models"
)

// Adapter is the contract every financial-data provider implements
type Adapter interface {
	// Provider returns the registry key (e.g., "plaid", "teller", "pluggy")
	Provider() string

	// Capabilities reports which optional operations the adapter supports
	Capabilities() Capabilities

	// Connect establishes a session for a user. It may hand a client-facing
	// link token to the caller through DeliverLinkToken.
	Connect(ctx context.Context, params ConnectParams) error

	// Disconnect tears down one user's session, or every session when UserID is empty.
	// Local state is always removed even if the provider revoke fails.
	Disconnect(ctx context.Context, params DisconnectParams) error

	// GetAccounts returns the user's accounts in normalized form
	GetAccounts(ctx context.Context, params AccountsParams) ([]models.Account, error)

	// GetTransactions returns settled transactions for an account. Pending ones are dropped.
	GetTransactions(ctx context.Context, params TransactionsParams) ([]models.Transaction, error)

	// RefreshAccounts forces the provider to resync. See RefreshByReconnect for the default.
	RefreshAccounts(ctx context.Context, params RefreshParams) error
}

// PublicTokenExchanger is implemented by adapters whose link flow returns a public token
type PublicTokenExchanger interface {
	ExchangePublicToken(ctx context.Context, userID, publicToken string) error
}

// AccessTokenStorer is implemented by adapters whose link flow returns an access token directly
type AccessTokenStorer interface {
	StoreAccessToken(ctx context.Context, userID, accessToken string) error
}

// Capabilities is a bitset of optional adapter operations
type Capabilities uint8

const (
	CapExchangePublicToken Capabilities = 1 << iota
	CapStoreAccessToken
	CapNativeRefresh
)

var capabilityNames = map[Capabilities]string{
	CapExchangePublicToken: "exchange_public_token",
	CapStoreAccessToken:    "store_access_token",
	CapNativeRefresh:       "native_refresh",
}

// Has reports whether every flag in c is set
func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag == flag
}

// Names returns the set flags as sorted strings
func (c Capabilities) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for flag, name := range capabilityNames {
		if c.Has(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// String implements fmt.Stringer
func (c Capabilities) String() string {
	return strings.Join(c.Names(), ",")
}

// ConnectParams are the inputs of Adapter.Connect
type ConnectParams struct {
	UserID string
	Extra  map[string]interface{}
}

// DisconnectParams are the inputs of Adapter.Disconnect. An empty UserID means all sessions.
type DisconnectParams struct {
	UserID string
	Extra  map[string]interface{}
}

// AccountsParams are the inputs of Adapter.GetAccounts
type AccountsParams struct {
	UserID string
	Extra  map[string]interface{}
}

// TransactionsParams are the inputs of Adapter.GetTransactions
type TransactionsParams struct {
	AccountID string
	UserID    string
	Options   *models.TransactionHistoryOptions
	Extra     map[string]interface{}
}

// RefreshParams are the inputs of Adapter.RefreshAccounts
type RefreshParams struct {
	UserID string
	Extra  map[string]interface{}
}

// ExtraString reads a string value from an Extra map
func ExtraString(extra map[string]interface{}, key string) string {
	if extra == nil {
		return ""
	}
	if s, ok := extra[key].(string); ok {
		return s
	}
	return ""
}

// LinkToken is a client-facing token the front end uses to open a provider's link widget
type LinkToken struct {
	Provider  string     `json:"provider"`
	UserID    string     `json:"user_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LinkTokenHandler receives link tokens produced during Connect
type LinkTokenHandler func(ctx context.Context, token LinkToken)

type linkCollectorKey struct{}

// LinkTokenCollector gathers link tokens produced while serving a single request
type LinkTokenCollector struct {
	mu     sync.Mutex
	tokens []LinkToken
}

// WithLinkTokenCollector attaches a fresh collector to ctx
func WithLinkTokenCollector(ctx context.Context) (context.Context, *LinkTokenCollector) {
	c := &LinkTokenCollector{}
	return context.WithValue(ctx, linkCollectorKey{}, c), c
}

func (c *LinkTokenCollector) add(token LinkToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
}

// Tokens returns the collected tokens ordered by provider
func (c *LinkTokenCollector) Tokens() []LinkToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LinkToken, len(c.tokens))
	copy(out, c.tokens)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func linkCollectorFrom(ctx context.Context) *LinkTokenCollector {
	c, _ := ctx.Value(linkCollectorKey{}).(*LinkTokenCollector)
	return c
}

// ProviderConfig holds common configuration for adapters
type ProviderConfig struct {
	// ClientID and Secret authenticate the application with the provider
	ClientID string
	Secret   string

	// Environment selects sandbox/development/production endpoints
	Environment string

	// BaseURL overrides the environment endpoint
	BaseURL string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// Additional headers sent on every request
	Headers map[string]string

	// Options carries provider specific settings (products, country codes, ...)
	Options map[string]string

	// OnLinkToken is called with every link token the adapter produces
	OnLinkToken LinkTokenHandler

	// Sessions overrides the default in-memory session store
	Sessions SessionStore

	// HTTPClient overrides the client built from Timeout (mTLS, tests)
	HTTPClient *http.Client
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Headers:    make(map[string]string),
		Options:    make(map[string]string),
	}
}

// Option returns a provider specific option or a fallback
func (c ProviderConfig) Option(key, fallback string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}
