package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/upb/pulse/config"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	probeTimeout   = 2 * time.Second
)

// DB is the pulse connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens and sizes the pool, failing fast when postgres is unreachable
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	pool, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", cfg.LogString(), err)
	}

	db := WrapDB(pool, logger)
	db.logger.Info("postgres pool ready",
		zap.String("target", cfg.LogString()),
		zap.Int("max_open_conns", cfg.MaxOpenConns))
	return db, nil
}

// WrapDB adopts a pool opened elsewhere
func WrapDB(pool *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: pool, logger: logger}
}

func (db *DB) Close() error {
	db.logger.Info("closing postgres pool", zap.Int("open_connections", db.DB.Stats().OpenConnections))
	return db.DB.Close()
}

// HealthCheck pings and runs a trivial query, bounded by probeTimeout
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres probe query: %w", err)
	}
	return nil
}

// schema holds the tables pulse writes outside the dispatcher core
const schema = `
	-- One row per adapter invocation
	CREATE TABLE IF NOT EXISTS dispatch_events (
		id UUID PRIMARY KEY,
		provider VARCHAR(50) NOT NULL,
		operation VARCHAR(50) NOT NULL,
		user_id VARCHAR(255),
		account_id VARCHAR(255),
		request_id VARCHAR(255),
		success BOOLEAN NOT NULL,
		error_code VARCHAR(64),
		error_message TEXT,
		item_count INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		details JSONB,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Last balances seen per user and account
	CREATE TABLE IF NOT EXISTS account_snapshots (
		id UUID PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		provider VARCHAR(50) NOT NULL,
		account_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(20) NOT NULL,
		balance NUMERIC(20, 4) NOT NULL,
		currency VARCHAR(10) NOT NULL,
		captured_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, provider, account_id)
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_events_user_id ON dispatch_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_dispatch_events_provider ON dispatch_events(provider);
	CREATE INDEX IF NOT EXISTS idx_dispatch_events_timestamp ON dispatch_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dispatch_events_request_id ON dispatch_events(request_id);

	CREATE INDEX IF NOT EXISTS idx_account_snapshots_user_id ON account_snapshots(user_id);
`

// InitSchema creates missing tables and indexes. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	db.logger.Info("postgres schema ensured")
	return nil
}
