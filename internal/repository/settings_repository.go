package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/models"
)

// Setting keys persisted across restarts.
const (
	SettingScrapeInterval = "scrape_interval_seconds"
	SettingSchedulerState = "scheduler_state"
	SettingRetentionDays  = "retention_days"
)

// PostgresSettingsRepository implements SettingsRepository for PostgreSQL
type PostgresSettingsRepository struct {
	db *database.DB
}

// NewPostgresSettingsRepository creates a new settings repository
func NewPostgresSettingsRepository(db *database.DB) SettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

// Get retrieves a setting value, models.ErrNotFound when unset.
func (s *PostgresSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetPool().QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a setting value.
func (s *PostgresSettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := s.db.GetPool().Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, (now() AT TIME ZONE 'utc'))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
