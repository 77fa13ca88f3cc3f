package database

import (
	"context"
	"fmt"

	"github.com/yourusername/oddsradar/internal/config"
)

// schemaStatements creates the persisted state the write pipeline and read
// API depend on. Timestamps are TIMESTAMP (no time zone): the process
// stores naive UTC and converts at the boundary.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bookmakers (
		slug TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		concurrency INT
	)`,

	`INSERT INTO bookmakers (slug, display_name, concurrency) VALUES
		('betpawa', 'Betpawa', 50),
		('sportybet', 'SportyBet', 50),
		('bet9ja', 'Bet9ja', 15)
	ON CONFLICT (slug) DO NOTHING`,

	`CREATE TABLE IF NOT EXISTS tournaments (
		id BIGSERIAL PRIMARY KEY,
		sport TEXT NOT NULL,
		name TEXT NOT NULL,
		country TEXT
	)`,

	// Country NULL means international; same-name tournaments in different
	// countries stay distinct.
	`CREATE UNIQUE INDEX IF NOT EXISTS tournaments_identity
		ON tournaments (sport, name, COALESCE(country, ''))`,

	`CREATE TABLE IF NOT EXISTS events (
		external_id BIGINT PRIMARY KEY,
		home_team TEXT NOT NULL,
		away_team TEXT NOT NULL,
		kickoff TIMESTAMP NOT NULL,
		sport TEXT NOT NULL DEFAULT 'football',
		tournament_id BIGINT REFERENCES tournaments(id)
	)`,

	`CREATE INDEX IF NOT EXISTS events_kickoff ON events (kickoff)`,

	`CREATE TABLE IF NOT EXISTS markets_current (
		event_id BIGINT NOT NULL,
		bookmaker_slug TEXT NOT NULL,
		canonical_market_id TEXT NOT NULL,
		line NUMERIC,
		display_name TEXT NOT NULL,
		categories TEXT[] NOT NULL DEFAULT '{}',
		outcomes JSONB NOT NULL,
		margin NUMERIC(8,2) NOT NULL,
		captured_at TIMESTAMP NOT NULL,
		last_confirmed_at TIMESTAMP NOT NULL,
		unavailable_at TIMESTAMP
	)`,

	// Nullable-line markets collide with line 0 intentionally.
	`CREATE UNIQUE INDEX IF NOT EXISTS markets_current_identity
		ON markets_current (event_id, bookmaker_slug, canonical_market_id, (COALESCE(line, 0)))`,

	`CREATE TABLE IF NOT EXISTS markets_history (
		event_id BIGINT NOT NULL,
		bookmaker_slug TEXT NOT NULL,
		canonical_market_id TEXT NOT NULL,
		line NUMERIC,
		captured_at TIMESTAMP NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		available BOOLEAN NOT NULL DEFAULT TRUE,
		outcomes JSONB NOT NULL,
		margin NUMERIC(8,2) NOT NULL
	)`,

	// Partition-friendly: retention trims and time-series reads both scan
	// by captured_at.
	`CREATE INDEX IF NOT EXISTS markets_history_captured_at
		ON markets_history (captured_at)`,

	`CREATE INDEX IF NOT EXISTS markets_history_identity
		ON markets_history (event_id, bookmaker_slug, canonical_market_id, (COALESCE(line, 0)), captured_at)`,

	`CREATE TABLE IF NOT EXISTS scrape_runs (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		events_seen INT NOT NULL DEFAULT 0,
		slots_failed INT NOT NULL DEFAULT 0,
		unmappable INT NOT NULL DEFAULT 0,
		inserted INT NOT NULL DEFAULT 0,
		updated INT NOT NULL DEFAULT 0,
		confirmed INT NOT NULL DEFAULT 0,
		unavailable INT NOT NULL DEFAULT 0,
		restored INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	)`,
}

// Initialize creates a database connection pool and ensures the schema exists.
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// InitSchema applies the schema statements. All statements are idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
