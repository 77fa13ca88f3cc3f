package repository

import (
	"fmt"

	"github.com/yourusername/oddsradar/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Market     MarketRepository
	Event      EventRepository
	Tournament TournamentRepository
	ScrapeRun  ScrapeRunRepository
	Settings   SettingsRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Market:     NewPostgresMarketRepository(db),
		Event:      NewPostgresEventRepository(db),
		Tournament: NewPostgresTournamentRepository(db),
		ScrapeRun:  NewPostgresScrapeRunRepository(db),
		Settings:   NewPostgresSettingsRepository(db),
	}, nil
}
