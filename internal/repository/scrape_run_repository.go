package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/models"
)

// PostgresScrapeRunRepository implements ScrapeRunRepository for PostgreSQL
type PostgresScrapeRunRepository struct {
	db *database.DB
}

// NewPostgresScrapeRunRepository creates a new scrape run repository
func NewPostgresScrapeRunRepository(db *database.DB) ScrapeRunRepository {
	return &PostgresScrapeRunRepository{db: db}
}

// Create opens a RUNNING row for a new cycle and returns its id.
func (s *PostgresScrapeRunRepository) Create(ctx context.Context, startedAt time.Time) (int64, error) {
	var id int64
	err := s.db.GetPool().QueryRow(ctx,
		`INSERT INTO scrape_runs (status, started_at) VALUES ($1, $2) RETURNING id`,
		models.RunStatusRunning, models.NaiveUTC(startedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create scrape run: %w", err)
	}
	return id, nil
}

// Finish closes the run with its terminal status and counters.
func (s *PostgresScrapeRunRepository) Finish(ctx context.Context, run *models.ScrapeRun) error {
	query := `
		UPDATE scrape_runs
		SET status = $2, finished_at = $3, events_seen = $4, slots_failed = $5,
		    unmappable = $6, inserted = $7, updated = $8, confirmed = $9,
		    unavailable = $10, restored = $11
		WHERE id = $1
	`

	var finishedAt *time.Time
	if run.FinishedAt != nil {
		t := models.NaiveUTC(*run.FinishedAt)
		finishedAt = &t
	}

	tag, err := s.db.GetPool().Exec(ctx, query,
		run.ID, run.Status, finishedAt, run.EventsSeen, run.SlotsFailed,
		run.Unmappable, run.Counts.Inserted, run.Counts.Updated,
		run.Counts.Confirmed, run.Counts.Unavailable, run.Counts.Restored,
	)
	if err != nil {
		return fmt.Errorf("failed to finish scrape run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

const scrapeRunColumns = `
	id, status, started_at, finished_at, events_seen, slots_failed,
	unmappable, inserted, updated, confirmed, unavailable, restored
`

func scanScrapeRun(row pgx.Row) (*models.ScrapeRun, error) {
	run := &models.ScrapeRun{}
	err := row.Scan(
		&run.ID, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.EventsSeen, &run.SlotsFailed, &run.Unmappable,
		&run.Counts.Inserted, &run.Counts.Updated, &run.Counts.Confirmed,
		&run.Counts.Unavailable, &run.Counts.Restored,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetByID retrieves one scrape run.
func (s *PostgresScrapeRunRepository) GetByID(ctx context.Context, id int64) (*models.ScrapeRun, error) {
	row := s.db.GetPool().QueryRow(ctx,
		`SELECT `+scrapeRunColumns+` FROM scrape_runs WHERE id = $1`, id)

	run, err := scanScrapeRun(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scrape run: %w", err)
	}
	return run, nil
}

// GetLatest retrieves the most recent runs, newest first.
func (s *PostgresScrapeRunRepository) GetLatest(ctx context.Context, limit int) ([]*models.ScrapeRun, error) {
	rows, err := s.db.GetPool().Query(ctx,
		`SELECT `+scrapeRunColumns+` FROM scrape_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ScrapeRun
	for rows.Next() {
		run, err := scanScrapeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// LastFinishedAt returns the finish time of the most recent completed run.
// The watchdog compares it against its staleness threshold.
func (s *PostgresScrapeRunRepository) LastFinishedAt(ctx context.Context) (time.Time, error) {
	var finishedAt *time.Time
	err := s.db.GetPool().QueryRow(ctx,
		`SELECT MAX(finished_at) FROM scrape_runs WHERE finished_at IS NOT NULL`,
	).Scan(&finishedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last finished run: %w", err)
	}
	if finishedAt == nil {
		return time.Time{}, models.ErrNotFound
	}
	return *finishedAt, nil
}

// FailStale rewrites RUNNING rows older than the given start time to
// FAILED. Covers crashed cycles whose rows would otherwise stay open
// forever and starve the watchdog's staleness signal.
func (s *PostgresScrapeRunRepository) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.GetPool().Exec(ctx,
		`UPDATE scrape_runs
		 SET status = $1, finished_at = (now() AT TIME ZONE 'utc')
		 WHERE status = $2 AND started_at < $3`,
		models.RunStatusFailed, models.RunStatusRunning, models.NaiveUTC(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
