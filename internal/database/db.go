package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection and bootstraps the schema
func New(params ConnectionParams) (*sqlx.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			source TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			oi_open DOUBLE PRECISION NOT NULL DEFAULT 0,
			oi_high DOUBLE PRECISION NOT NULL DEFAULT 0,
			oi_low DOUBLE PRECISION NOT NULL DEFAULT 0,
			oi_close DOUBLE PRECISION NOT NULL DEFAULT 0,
			taker_buy_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			taker_sell_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			funding_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (source, symbol, timeframe, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_progress (
			source TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			data_kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			last_synced_time TIMESTAMPTZ,
			rows_synced BIGINT NOT NULL DEFAULT 0,
			last_error TEXT,
			started_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source, symbol, timeframe, data_kind)
		)`,
		`CREATE TABLE IF NOT EXISTS analyzer_config (
			id INT PRIMARY KEY CHECK (id = 1),
			version BIGINT NOT NULL,
			document JSONB NOT NULL,
			validation_status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			notes TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS analyzer_config_history (
			version BIGINT PRIMARY KEY,
			document JSONB NOT NULL,
			previous_document JSONB,
			diff_summary JSONB,
			based_on_version BIGINT,
			action TEXT NOT NULL,
			created_by TEXT NOT NULL,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			batch_id TEXT,
			as_of TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			bias TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			regime TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			state JSONB,
			config_version BIGINT,
			candles_from TIMESTAMPTZ,
			candles_to TIMESTAMPTZ,
			candle_count INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			label TEXT,
			label_reason TEXT,
			horizon TEXT,
			realized_price DOUBLE PRECISION,
			move_pct DOUBLE PRECISION,
			mfe DOUBLE PRECISION,
			mae DOUBLE PRECISION,
			labeled_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS snapshots_replay_key
			ON snapshots (batch_id, as_of, symbol) WHERE batch_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS snapshots_unlabeled
			ON snapshots (as_of) WHERE labeled_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS absorption_events (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			direction TEXT NOT NULL,
			snapshot_id UUID,
			delta_strength DOUBLE PRECISION NOT NULL,
			noise_floor DOUBLE PRECISION NOT NULL,
			oi_behavior TEXT NOT NULL DEFAULT '',
			price_behavior TEXT NOT NULL DEFAULT '',
			sr_level DOUBLE PRECISION NOT NULL DEFAULT 0,
			extensions_used INT NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			resolved_at TIMESTAMPTZ,
			resolution TEXT,
			resolution_reason TEXT,
			criteria JSONB
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS absorption_open_key
			ON absorption_events (symbol, timeframe, direction) WHERE resolved_at IS NULL`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap: %w", err)
		}
	}
	return nil
}
