package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/oddsradar/internal/models"
)

// MarketRepository defines market state and history data access
type MarketRepository interface {
	ApplyBatch(ctx context.Context, batch *models.WriteBatch) error
	GetCurrentByEvent(ctx context.Context, eventID int64) (map[models.Bookmaker][]*models.Market, error)
	GetOddsHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error)
	GetMarginHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteCurrentForEvents(ctx context.Context, eventIDs []int64) error
}

// EventRepository defines event metadata data access
type EventRepository interface {
	Upsert(ctx context.Context, event *models.Event) error
	GetByExternalID(ctx context.Context, externalID int64) (*models.Event, error)
	GetUpcoming(ctx context.Context, from time.Time, limit int) ([]*models.Event, error)
	DeleteKickedOffBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TournamentRepository defines tournament data access
type TournamentRepository interface {
	GetOrCreate(ctx context.Context, sport, name string, country *string) (*models.Tournament, error)
	SetCountry(ctx context.Context, id int64, country *string) error
	GetByID(ctx context.Context, id int64) (*models.Tournament, error)
}

// ScrapeRunRepository defines scrape run bookkeeping
type ScrapeRunRepository interface {
	Create(ctx context.Context, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, run *models.ScrapeRun) error
	GetByID(ctx context.Context, id int64) (*models.ScrapeRun, error)
	GetLatest(ctx context.Context, limit int) ([]*models.ScrapeRun, error)
	LastFinishedAt(ctx context.Context) (time.Time, error)
	FailStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// SettingsRepository defines persisted runtime settings
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
