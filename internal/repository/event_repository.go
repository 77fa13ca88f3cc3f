package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/models"
)

// PostgresEventRepository implements EventRepository for PostgreSQL
type PostgresEventRepository struct {
	db *database.DB
}

// NewPostgresEventRepository creates a new event repository
func NewPostgresEventRepository(db *database.DB) EventRepository {
	return &PostgresEventRepository{db: db}
}

// Upsert inserts or refreshes an event keyed by its Betpawa external id.
// Kickoff can move when upstream reschedules a fixture.
func (e *PostgresEventRepository) Upsert(ctx context.Context, event *models.Event) error {
	if !models.ValidExternalID(event.ExternalID) {
		return fmt.Errorf("event %d: %w", event.ExternalID, models.ErrInvalidInput)
	}

	query := `
		INSERT INTO events (external_id, home_team, away_team, kickoff, sport, tournament_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id)
		DO UPDATE SET
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			kickoff = EXCLUDED.kickoff,
			tournament_id = COALESCE(EXCLUDED.tournament_id, events.tournament_id)
	`

	_, err := e.db.GetPool().Exec(ctx, query,
		event.ExternalID, event.HomeTeam, event.AwayTeam,
		models.NaiveUTC(event.Kickoff), event.Sport, event.TournamentID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	return nil
}

// GetByExternalID retrieves a single event with its tournament joined in.
func (e *PostgresEventRepository) GetByExternalID(ctx context.Context, externalID int64) (*models.Event, error) {
	query := `
		SELECT e.external_id, e.home_team, e.away_team, e.kickoff, e.sport, e.tournament_id,
		       t.id, t.sport, t.name, t.country
		FROM events e
		LEFT JOIN tournaments t ON t.id = e.tournament_id
		WHERE e.external_id = $1
	`

	event := &models.Event{}
	var (
		tID      *int64
		tSport   *string
		tName    *string
		tCountry *string
	)
	err := e.db.GetPool().QueryRow(ctx, query, externalID).Scan(
		&event.ExternalID, &event.HomeTeam, &event.AwayTeam, &event.Kickoff,
		&event.Sport, &event.TournamentID, &tID, &tSport, &tName, &tCountry,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if tID != nil {
		event.Tournament = &models.Tournament{ID: *tID, Sport: *tSport, Name: *tName, Country: tCountry}
	}
	return event, nil
}

// GetUpcoming retrieves events with a kickoff at or after the given time,
// soonest first.
func (e *PostgresEventRepository) GetUpcoming(ctx context.Context, from time.Time, limit int) ([]*models.Event, error) {
	query := `
		SELECT e.external_id, e.home_team, e.away_team, e.kickoff, e.sport, e.tournament_id,
		       t.id, t.sport, t.name, t.country
		FROM events e
		LEFT JOIN tournaments t ON t.id = e.tournament_id
		WHERE e.kickoff >= $1
		ORDER BY e.kickoff ASC
		LIMIT $2
	`

	rows, err := e.db.GetPool().Query(ctx, query, models.NaiveUTC(from), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var (
			tID      *int64
			tSport   *string
			tName    *string
			tCountry *string
		)
		err := rows.Scan(
			&event.ExternalID, &event.HomeTeam, &event.AwayTeam, &event.Kickoff,
			&event.Sport, &event.TournamentID, &tID, &tSport, &tName, &tCountry,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if tID != nil {
			event.Tournament = &models.Tournament{ID: *tID, Sport: *tSport, Name: *tName, Country: tCountry}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// DeleteKickedOffBefore removes finished events past the eviction horizon.
func (e *PostgresEventRepository) DeleteKickedOffBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := e.db.GetPool().Exec(ctx,
		`DELETE FROM events WHERE kickoff < $1`, models.NaiveUTC(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished events: %w", err)
	}
	return tag.RowsAffected(), nil
}
