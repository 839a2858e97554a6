// Package ledger is the durable portfolio store of spec §4.7: tracked
// symbols, positions, averaging entries, trade history, signals,
// portfolio state, and regime state, with the idempotent-replay and
// invariant-checking discipline spec §4.7/§5 requires. Grounded on
// the teacher's internal/database package (pgxpool wrapper + a flat
// []string of migrations run at startup, a Repository struct wrapping
// the pool) generalized from the teacher's trades/orders schema to
// this engine's symbol/position/trade/signal/regime schema.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds the connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Open creates a new pool and runs migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse config: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	db := &DB{Pool: pool}
	if err := db.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tracked_symbols (
		symbol VARCHAR(20) PRIMARY KEY,
		added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		active BOOLEAN NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS positions (
		symbol VARCHAR(20) PRIMARY KEY REFERENCES tracked_symbols(symbol),
		opened_at TIMESTAMPTZ NOT NULL,
		average_entry_price DECIMAL(24, 8) NOT NULL,
		quantity DECIMAL(24, 8) NOT NULL,
		total_invested DECIMAL(24, 8) NOT NULL,
		initial_invested DECIMAL(24, 8) NOT NULL,
		commission_paid DECIMAL(24, 8) NOT NULL DEFAULT 0,
		stop_loss_price DECIMAL(24, 8) NOT NULL,
		take_profit_price DECIMAL(24, 8) NOT NULL,
		highest_price_since_entry DECIMAL(24, 8) NOT NULL,
		trailing_active BOOLEAN NOT NULL DEFAULT false,
		breakeven_active BOOLEAN NOT NULL DEFAULT false,
		partial_tp_taken BOOLEAN NOT NULL DEFAULT false,
		entry_mode VARCHAR(12) NOT NULL,
		entry_votes_delta INTEGER NOT NULL DEFAULT 0,
		entry_reasons JSONB NOT NULL DEFAULT '[]',
		averaging_count INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS averaging_entries (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL REFERENCES tracked_symbols(symbol),
		price DECIMAL(24, 8) NOT NULL,
		qty DECIMAL(24, 8) NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		mode VARCHAR(16) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_averaging_entries_symbol ON averaging_entries(symbol)`,

	`CREATE TABLE IF NOT EXISTS trades_history (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		side VARCHAR(20) NOT NULL,
		price DECIMAL(24, 8) NOT NULL,
		qty DECIMAL(24, 8) NOT NULL,
		commission DECIMAL(24, 8) NOT NULL DEFAULT 0,
		realized_pnl DECIMAL(24, 8) NOT NULL DEFAULT 0,
		at TIMESTAMPTZ NOT NULL,
		reason VARCHAR(64) NOT NULL,
		entry_mode VARCHAR(12) NOT NULL DEFAULT '',
		votes_delta INTEGER NOT NULL DEFAULT 0,
		reasons JSONB NOT NULL DEFAULT '[]',
		candle_open_time TIMESTAMPTZ NOT NULL,
		UNIQUE(symbol, candle_open_time, reason)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_history_symbol_time ON trades_history(symbol, at)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		signal VARCHAR(8) NOT NULL,
		regime VARCHAR(12) NOT NULL,
		votes_delta INTEGER NOT NULL,
		top_reasons JSONB NOT NULL DEFAULT '[]',
		price DECIMAL(24, 8) NOT NULL,
		block_reason VARCHAR(64) NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, at)`,

	`CREATE TABLE IF NOT EXISTS portfolio_state (
		id SMALLINT PRIMARY KEY DEFAULT 1,
		balance_cash DECIMAL(24, 8) NOT NULL,
		realized_pnl_cumulative DECIMAL(24, 8) NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		loss_count INTEGER NOT NULL DEFAULT 0,
		peak_equity DECIMAL(24, 8) NOT NULL DEFAULT 0,
		CHECK (id = 1)
	)`,

	`CREATE TABLE IF NOT EXISTS regime_state (
		symbol VARCHAR(20) PRIMARY KEY,
		last_mode VARCHAR(12) NOT NULL,
		last_mode_entered_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (db *DB) runMigrations(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: migration failed: %w", err)
		}
	}
	return nil
}
