package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the API process reads at startup
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: nil disables dispatch event storage and snapshots
	Redis         *RedisConfig    // Optional: nil keeps provider sessions in memory
	Auth          AuthConfig
	Providers     ProvidersConfig
	Audit         AuditConfig
	Snapshots     SnapshotConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig is the HTTP listener
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             TLSConfig
}

// TLSConfig enables HTTPS on the API listener
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig is the PostgreSQL pool. ConnectionString overrides the
// individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// RedisConfig holds the session store connection
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
	Audience  string
}

// ProvidersConfig holds the bank data provider configurations
type ProvidersConfig struct {
	Default    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Plaid      PlaidConfig
	Teller     TellerConfig
	Pluggy     PluggyConfig
}

// PlaidConfig holds Plaid credentials and Link settings
type PlaidConfig struct {
	ClientID     string
	Secret       string
	Environment  string
	ClientName   string
	Products     string
	CountryCodes string
	Language     string
}

// TellerConfig holds the Teller application and mTLS certificate
type TellerConfig struct {
	ApplicationID string
	Environment   string
	CertFile      string
	KeyFile       string
}

// PluggyConfig holds Pluggy credentials
type PluggyConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookURL   string
}

// AuditConfig sizes the asynchronous dispatch event writer
type AuditConfig struct {
	Workers    int
	BufferSize int
}

// SnapshotConfig controls account balance snapshots
type SnapshotConfig struct {
	Enabled bool
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New reads configuration from the environment, after loading .env when present
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			TLS: TLSConfig{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis:    loadRedisConfig(),
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("AUTH_ENABLED", true),
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Providers: ProvidersConfig{
			Default:    strings.ToLower(getEnv("PULSE_DEFAULT_PROVIDER", "")),
			Timeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 2),
			RetryDelay: getEnvAsDuration("PROVIDER_RETRY_DELAY", 500*time.Millisecond),
			Plaid: PlaidConfig{
				ClientID:     getEnv("PLAID_CLIENT_ID", ""),
				Secret:       getEnv("PLAID_SECRET", ""),
				Environment:  getEnv("PLAID_ENV", "sandbox"),
				ClientName:   getEnv("PLAID_CLIENT_NAME", "Pulse"),
				Products:     getEnv("PLAID_PRODUCTS", "transactions"),
				CountryCodes: getEnv("PLAID_COUNTRY_CODES", "US"),
				Language:     getEnv("PLAID_LANGUAGE", "en"),
			},
			Teller: TellerConfig{
				ApplicationID: getEnv("TELLER_APPLICATION_ID", ""),
				Environment:   getEnv("TELLER_ENV", "sandbox"),
				CertFile:      getEnv("TELLER_CERT_FILE", ""),
				KeyFile:       getEnv("TELLER_KEY_FILE", ""),
			},
			Pluggy: PluggyConfig{
				ClientID:     getEnv("PLUGGY_CLIENT_ID", ""),
				ClientSecret: getEnv("PLUGGY_CLIENT_SECRET", ""),
				BaseURL:      getEnv("PLUGGY_BASE_URL", ""),
				WebhookURL:   getEnv("PLUGGY_WEBHOOK_URL", ""),
			},
		},
		Audit: AuditConfig{
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
		},
		Snapshots: SnapshotConfig{
			Enabled: getEnvAsBool("SNAPSHOTS_ENABLED", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the API cannot start with
func (c *Config) Validate() error {
	if db := c.Database; db != nil && db.ConnectionString == "" {
		if db.User == "" {
			return fmt.Errorf("database user is required")
		}
		if db.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	if c.Snapshots.Enabled && c.Database == nil {
		return fmt.Errorf("snapshots require a database: set DATABASE_URL or DB_HOST")
	}

	enabled := c.Providers.Enabled()
	if len(enabled) == 0 {
		return fmt.Errorf("at least one provider must be configured (plaid, teller or pluggy)")
	}
	if c.Providers.Default != "" && !slices.Contains(enabled, c.Providers.Default) {
		return fmt.Errorf("default provider %q is not configured (configured: %s)", c.Providers.Default, strings.Join(enabled, ", "))
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when auth is enabled")
	}
	if c.IsProduction() && !c.Auth.Enabled {
		return fmt.Errorf("auth cannot be disabled in production")
	}

	if c.Audit.Workers < 1 {
		return fmt.Errorf("audit workers must be at least 1")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Enabled lists the providers with credentials, in registration order
func (p ProvidersConfig) Enabled() []string {
	var out []string
	if p.Plaid.ClientID != "" && p.Plaid.Secret != "" {
		out = append(out, "plaid")
	}
	if p.Teller.ApplicationID != "" {
		out = append(out, "teller")
	}
	if p.Pluggy.ClientID != "" && p.Pluggy.ClientSecret != "" {
		out = append(out, "pluggy")
	}
	return out
}

// IsProduction reports whether ENVIRONMENT names a production deployment
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

// DSN is DATABASE_URL verbatim, or a lib/pq keyword string built from DB_* fields
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	pairs := []string{
		"host=" + c.Host,
		"port=" + strconv.Itoa(c.Port),
		"user=" + c.User,
		"password=" + c.Password,
		"dbname=" + c.Database,
		"sslmode=" + c.SSLMode,
	}
	return strings.Join(pairs, " ")
}

// LogString describes the target database without credentials
func (c *DatabaseConfig) LogString() string {
	host, port, name := c.Host, strconv.Itoa(c.Port), c.Database
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err != nil {
			return "host=<from DATABASE_URL>"
		}
		host, port, name = u.Hostname(), u.Port(), strings.TrimPrefix(u.Path, "/")
		if port == "" {
			port = "5432"
		}
	}
	return "host=" + host + " port=" + port + " database=" + name
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "pulse")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "pulse")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return &pool
}

// loadRedisConfig returns nil when REDIS_URL is not set
func loadRedisConfig() *RedisConfig {
	redisURL := getEnv("REDIS_URL", "")
	if redisURL == "" {
		return nil
	}
	return &RedisConfig{
		URL:       redisURL,
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", "pulse:sessions"),
	}
}

// Address is the listen address for http.Server
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PORT wins over SERVER_PORT so platform-assigned ports are honored
func getPort() int {
	return envParse("PORT", getEnvAsInt("SERVER_PORT", 8080), strconv.Atoi)
}

func getEnv(key, defaultValue string) string {
	return envParse(key, defaultValue, func(v string) (string, error) { return v, nil })
}

func getEnvAsInt(key string, defaultValue int) int {
	return envParse(key, defaultValue, strconv.Atoi)
}

func getEnvAsBool(key string, defaultValue bool) bool {
	return envParse(key, defaultValue, strconv.ParseBool)
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	return envParse(key, defaultValue, time.ParseDuration)
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	return envParse(key, defaultValue, func(v string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	})
}

// envParse falls back to defaultValue when key is unset, empty or unparsable
func envParse[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := parse(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
