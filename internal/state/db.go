/*

This file contains the database connection management and schema setup for
persisting rebalance cycle history and optimizer parameters.

*/

package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
)

var log = logger.GetForComponent("state")

// DB is the shared connection pool. InitDB must be called before any store
// function is used.
var DB *sql.DB

var ErrDBNotInitialized = errors.New("database not initialized, call InitDB first")

// DBConfig holds the connection parameters for the PostgreSQL database.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// InitDB opens the connection pool and verifies connectivity.
func InitDB(cfg DBConfig) error {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err := DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Database connection established")
	return nil
}

// CloseDB closes the shared connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	log.Info().Msg("Closing database connection")
	return DB.Close()
}

// EnsureSchema creates the tables used by the stores if they do not exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cycle_counter (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_cycle BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	INSERT INTO cycle_counter (id, current_cycle)
	VALUES (1, 0)
	ON CONFLICT (id) DO NOTHING;

	CREATE TABLE IF NOT EXISTS rebalance_snapshots (
		snapshot_id SERIAL PRIMARY KEY,
		cycle_number BIGINT NOT NULL,
		cycle_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		params_id BIGINT,
		initial_capital TEXT NOT NULL,
		final_capital TEXT NOT NULL,
		expected_saving_bps BIGINT NOT NULL,
		estimated_cost_bps BIGINT NOT NULL,
		rebalanced BOOLEAN NOT NULL,
		emergency_flags TEXT[],
		initial_strategies JSONB NOT NULL,
		final_strategies JSONB NOT NULL,
		target_allocations JSONB NOT NULL,
		instructions JSONB NOT NULL,
		receipts JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_rebalance_snapshots_cycle_number
		ON rebalance_snapshots (cycle_number DESC);

	CREATE TABLE IF NOT EXISTS optimizer_parameters (
		version SERIAL PRIMARY KEY,
		parameters JSONB NOT NULL,
		description TEXT,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	if _, err := DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}

	log.Info().Msg("Database schema verified")
	return nil
}
