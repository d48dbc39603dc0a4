// Package store is the Postgres persistence layer: task jobs, per-unit
// search records with their sub-queries and citations, cross-task
// domain statistics, and the flattened citation log the status and
// export surfaces read.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"geowatch/internal/logging"
)

type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

func (c Config) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	// client_encoding pinned so Chinese text round-trips regardless of
	// server locale.
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s client_encoding=UTF8",
		c.Host, c.Port, c.Database, c.User, c.Password, sslMode)
}

type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// Open connects and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &Store{db: db, logger: logger.Component("store")}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sqlx.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{db: db, logger: logger.Component("store")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.GetContext(ctx, &one, "SELECT 1")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS task_jobs (
		id SERIAL PRIMARY KEY,
		keywords JSONB NOT NULL,
		platforms JSONB NOT NULL,
		query_count INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		settings JSONB,
		result_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS task_query (
		id SERIAL PRIMARY KEY,
		task_id INTEGER NOT NULL REFERENCES task_jobs(id),
		query TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS search_records (
		id SERIAL PRIMARY KEY,
		task_id INTEGER,
		task_query_id INTEGER,
		keyword TEXT NOT NULL,
		platform TEXT NOT NULL,
		prompt_type TEXT NOT NULL DEFAULT 'default',
		prompt TEXT,
		full_answer TEXT,
		response_time_ms INTEGER,
		search_status TEXT NOT NULL DEFAULT 'completed',
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS search_queries (
		id SERIAL PRIMARY KEY,
		record_id INTEGER NOT NULL REFERENCES search_records(id),
		query TEXT NOT NULL,
		query_order INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS citations (
		id SERIAL PRIMARY KEY,
		record_id INTEGER NOT NULL REFERENCES search_records(id),
		cite_index INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL,
		domain TEXT,
		title TEXT,
		snippet TEXT,
		site_name TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (record_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS executor_sub_query_log (
		id SERIAL PRIMARY KEY,
		task_id INTEGER,
		task_query_id INTEGER,
		record_id INTEGER,
		platform TEXT,
		sub_query TEXT,
		url TEXT NOT NULL,
		domain TEXT,
		title TEXT,
		snippet TEXT,
		site_name TEXT,
		cite_index INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS domain_stats (
		id SERIAL PRIMARY KEY,
		domain TEXT NOT NULL UNIQUE,
		total_citations INTEGER NOT NULL DEFAULT 0,
		keyword_coverage INTEGER NOT NULL DEFAULT 0,
		platforms JSONB NOT NULL DEFAULT '{}'::jsonb,
		last_seen TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_search_records_task ON search_records (task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_citations_record ON citations (record_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sub_query_log_query ON executor_sub_query_log (task_query_id, created_at)`,
}

// Bootstrap creates missing tables and indexes. Existing tables are
// left untouched.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	s.logger.Info("database schema verified")
	return nil
}
