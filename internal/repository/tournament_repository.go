package repository

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/models"
)

// PostgresTournamentRepository implements TournamentRepository for
// PostgreSQL with a short-lived in-process cache in front. Tournament rows
// are touched on every discovered event; without the cache each cycle
// hammers the same few hundred rows.
type PostgresTournamentRepository struct {
	db    *database.DB
	cache *gocache.Cache
}

// NewPostgresTournamentRepository creates a new tournament repository
func NewPostgresTournamentRepository(db *database.DB) TournamentRepository {
	return &PostgresTournamentRepository{
		db:    db,
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// GetOrCreate resolves a tournament by identity (sport, name, country),
// creating it on first sight. NULL country means international.
func (t *PostgresTournamentRepository) GetOrCreate(ctx context.Context, sport, name string, country *string) (*models.Tournament, error) {
	key := cacheKey(sport, name, country)
	if cached, found := t.cache.Get(key); found {
		return cached.(*models.Tournament), nil
	}

	query := `
		INSERT INTO tournaments (sport, name, country)
		VALUES ($1, $2, $3)
		ON CONFLICT (sport, name, (COALESCE(country, '')))
		DO UPDATE SET name = EXCLUDED.name
		RETURNING id, sport, name, country
	`

	tournament := &models.Tournament{}
	err := t.db.GetPool().QueryRow(ctx, query, sport, name, country).Scan(
		&tournament.ID, &tournament.Sport, &tournament.Name, &tournament.Country,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create tournament: %w", err)
	}

	t.cache.Set(key, tournament, gocache.DefaultExpiration)
	return tournament, nil
}

// SetCountry fills in the country on a tournament created without one. The
// identity changes with it, so the cached entry is dropped rather than
// patched.
func (t *PostgresTournamentRepository) SetCountry(ctx context.Context, id int64, country *string) error {
	_, err := t.db.GetPool().Exec(ctx,
		`UPDATE tournaments SET country = $2 WHERE id = $1 AND country IS NULL`, id, country)
	if err != nil {
		return fmt.Errorf("failed to set tournament country: %w", err)
	}
	t.cache.Flush()
	return nil
}

// GetByID retrieves a tournament by its row id.
func (t *PostgresTournamentRepository) GetByID(ctx context.Context, id int64) (*models.Tournament, error) {
	tournament := &models.Tournament{}
	err := t.db.GetPool().QueryRow(ctx,
		`SELECT id, sport, name, country FROM tournaments WHERE id = $1`, id).Scan(
		&tournament.ID, &tournament.Sport, &tournament.Name, &tournament.Country,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return tournament, nil
}

func cacheKey(sport, name string, country *string) string {
	c := ""
	if country != nil {
		c = *country
	}
	return sport + "|" + name + "|" + c
}
