package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/pulse/auth"
	"github.com/upb/pulse/config"
	"github.com/upb/pulse/middleware"
	"github.com/upb/pulse/repositories"
	"github.com/upb/pulse/repositories/postgres"
	"github.com/upb/pulse/repositories/redis"
	"github.com/upb/pulse/services/audit"
	"github.com/upb/pulse/services/providers"
	"github.com/upb/pulse/services/providers/plaid"
	"github.com/upb/pulse/services/providers/pluggy"
	"github.com/upb/pulse/services/providers/teller"
	"github.com/upb/pulse/services/pulse"
	"github.com/upb/pulse/services/snapshot"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Dependencies is the central wiring point for the API process
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB // nil without a database
	Redis  *goredis.Client

	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories
	TxManager   repositories.TransactionManager

	// Services
	Audit     *audit.AuditService
	Pulse     *pulse.Service
	Snapshots *snapshot.Service // nil unless enabled

	// Auth
	Validator      *auth.HMACValidator // nil when auth is disabled
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRedis(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := deps.initPulse(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if cfg.Snapshots.Enabled && deps.Repos != nil {
		deps.Snapshots = snapshot.NewService(deps.Repos.Snapshots, deps.TxManager, logger)
		logger.Info("account snapshots enabled")
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the pool when a database is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, dispatch events are logged only")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis == nil {
		return nil
	}
	client, err := redis.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	d.Redis = client
	d.Logger.Info("redis session store connected", zap.String("key_prefix", cfg.Redis.KeyPrefix))
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	var repo repositories.DispatchEventRepository
	if d.Repos != nil {
		repo = d.Repos.DispatchEvents
	}
	d.Audit = audit.NewAuditService(repo, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.Workers,
	})
	return d.Audit.Start()
}

// initPulse builds one adapter per configured provider
func (d *Dependencies) initPulse(cfg *config.Config) error {
	adapters, err := d.buildAdapters(cfg.Providers)
	if err != nil {
		return err
	}
	service, err := pulse.NewService(pulse.Config{
		Adapters:        adapters,
		DefaultProvider: cfg.Providers.Default,
	}, d.Logger, d.Audit)
	if err != nil {
		return err
	}
	d.Pulse = service
	return nil
}

func (d *Dependencies) buildAdapters(pc config.ProvidersConfig) ([]providers.Adapter, error) {
	var adapters []providers.Adapter

	for _, id := range pc.Enabled() {
		base := d.providerConfig(pc, id)

		var (
			adapter providers.Adapter
			err     error
		)
		switch id {
		case plaid.ProviderID:
			base.ClientID = pc.Plaid.ClientID
			base.Secret = pc.Plaid.Secret
			base.Environment = pc.Plaid.Environment
			base.Options["client_name"] = pc.Plaid.ClientName
			base.Options["products"] = pc.Plaid.Products
			base.Options["country_codes"] = pc.Plaid.CountryCodes
			base.Options["language"] = pc.Plaid.Language
			adapter, err = plaid.NewAdapter(base, d.Logger)
		case teller.ProviderID:
			base.Environment = pc.Teller.Environment
			base.Options["application_id"] = pc.Teller.ApplicationID
			base.Options["certificate"] = pc.Teller.CertFile
			base.Options["private_key"] = pc.Teller.KeyFile
			adapter, err = teller.NewAdapter(base, d.Logger)
		case pluggy.ProviderID:
			base.ClientID = pc.Pluggy.ClientID
			base.Secret = pc.Pluggy.ClientSecret
			base.BaseURL = pc.Pluggy.BaseURL
			base.Options["webhook_url"] = pc.Pluggy.WebhookURL
			adapter, err = pluggy.NewAdapter(base, d.Logger)
		}
		if err != nil {
			return nil, err
		}

		adapters = append(adapters, adapter)
		d.Logger.Info("registered provider", zap.String("provider", id))
	}
	return adapters, nil
}

// providerConfig holds the settings every adapter shares
func (d *Dependencies) providerConfig(pc config.ProvidersConfig, id string) providers.ProviderConfig {
	base := providers.DefaultProviderConfig()
	base.Timeout = pc.Timeout
	base.MaxRetries = pc.MaxRetries
	base.RetryDelay = pc.RetryDelay
	if d.Redis != nil {
		base.Sessions = redis.NewSessionStore(d.Redis, d.Config.Redis.KeyPrefix, id)
	}
	base.OnLinkToken = func(ctx context.Context, lt providers.LinkToken) {
		d.Logger.Debug("link token issued",
			zap.String("provider", lt.Provider),
			zap.String("user_id", lt.UserID))
	}
	return base
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if !cfg.Auth.Enabled {
		d.Logger.Warn("auth disabled, trusting the " + middleware.UserHeader + " header")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return nil
	}

	validator, err := auth.NewHMACValidator(cfg.Auth)
	if err != nil {
		return err
	}
	d.Validator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

// SessionPinger returns the session backend health probe, or nil without redis
func (d *Dependencies) SessionPinger() interface{ Ping(context.Context) error } {
	if d.Redis == nil {
		return nil
	}
	return redisPinger{client: d.Redis}
}

type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// AuthEnabled reports whether bearer tokens are required
func (d *Dependencies) AuthEnabled() bool {
	return d.Validator != nil
}

func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed initialization", zap.Error(err))
	}
}

// Close drains the audit writer and releases connections
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs error

	if d.Audit != nil && d.Audit.GetStats().Started {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	_ = d.Logger.Sync()
	return errs
}
