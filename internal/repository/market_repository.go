package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/models"
)

// PostgresMarketRepository implements MarketRepository for PostgreSQL
type PostgresMarketRepository struct {
	db *database.DB
}

// NewPostgresMarketRepository creates a new market repository
func NewPostgresMarketRepository(db *database.DB) MarketRepository {
	return &PostgresMarketRepository{db: db}
}

const upsertMarketQuery = `
	INSERT INTO markets_current
		(event_id, bookmaker_slug, canonical_market_id, line, display_name,
		 categories, outcomes, margin, captured_at, last_confirmed_at, unavailable_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, NULL)
	ON CONFLICT (event_id, bookmaker_slug, canonical_market_id, (COALESCE(line, 0)))
	DO UPDATE SET
		outcomes = EXCLUDED.outcomes,
		margin = EXCLUDED.margin,
		display_name = EXCLUDED.display_name,
		categories = EXCLUDED.categories,
		captured_at = EXCLUDED.captured_at,
		last_confirmed_at = EXCLUDED.last_confirmed_at,
		unavailable_at = NULL
`

// ApplyBatch commits one cache-emitted batch in a single transaction:
// current-state rows first, then the history append. A failed batch leaves
// no partial rows behind and can be retried wholesale.
func (m *PostgresMarketRepository) ApplyBatch(ctx context.Context, batch *models.WriteBatch) error {
	if batch.IsEmpty() {
		return nil
	}

	return m.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, mk := range batch.Inserts {
			if err := upsertCurrent(ctx, tx, batch, mk); err != nil {
				return err
			}
		}
		for _, mk := range batch.Updates {
			if err := upsertCurrent(ctx, tx, batch, mk); err != nil {
				return err
			}
		}
		for _, mk := range batch.Restored {
			if err := upsertCurrent(ctx, tx, batch, mk); err != nil {
				return err
			}
		}

		for _, mk := range batch.Unavailable {
			_, err := tx.Exec(ctx, `
				UPDATE markets_current
				SET unavailable_at = $5
				WHERE event_id = $1 AND bookmaker_slug = $2
				  AND canonical_market_id = $3 AND COALESCE(line, 0) = $4
				  AND unavailable_at IS NULL`,
				batch.EventID, batch.Bookmaker, mk.CanonicalID, models.LineKey(mk.Line), mk.UnavailableAt,
			)
			if err != nil {
				return fmt.Errorf("failed to flag market unavailable: %w", err)
			}
		}

		if len(batch.Confirmations) > 0 {
			for _, mk := range batch.Confirmations {
				_, err := tx.Exec(ctx, `
					UPDATE markets_current
					SET last_confirmed_at = $5
					WHERE event_id = $1 AND bookmaker_slug = $2
					  AND canonical_market_id = $3 AND COALESCE(line, 0) = $4`,
					batch.EventID, batch.Bookmaker, mk.CanonicalID, models.LineKey(mk.Line), batch.ObservedAt,
				)
				if err != nil {
					return fmt.Errorf("failed to confirm market: %w", err)
				}
			}
		}

		return appendHistory(ctx, tx, batch)
	})
}

func upsertCurrent(ctx context.Context, tx pgx.Tx, batch *models.WriteBatch, mk *models.Market) error {
	outcomes, err := json.Marshal(mk.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}
	_, err = tx.Exec(ctx, upsertMarketQuery,
		batch.EventID, batch.Bookmaker, mk.CanonicalID, mk.Line, mk.DisplayName,
		categoryStrings(mk.Categories), outcomes, mk.Margin, batch.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert market: %w", err)
	}
	return nil
}

// appendHistory bulk-appends the batch's history points using COPY.
func appendHistory(ctx context.Context, tx pgx.Tx, batch *models.WriteBatch) error {
	columns := []string{
		"event_id", "bookmaker_slug", "canonical_market_id", "line",
		"captured_at", "confirmed", "available", "outcomes", "margin",
	}

	var rows [][]interface{}
	add := func(mk *models.Market, confirmed, available bool) error {
		outcomes, err := json.Marshal(mk.Outcomes)
		if err != nil {
			return fmt.Errorf("failed to encode outcomes: %w", err)
		}
		rows = append(rows, []interface{}{
			batch.EventID, string(batch.Bookmaker), mk.CanonicalID, mk.Line,
			batch.ObservedAt, confirmed, available, outcomes, mk.Margin,
		})
		return nil
	}

	for _, mk := range batch.Inserts {
		if err := add(mk, false, true); err != nil {
			return err
		}
	}
	for _, mk := range batch.Updates {
		if err := add(mk, false, true); err != nil {
			return err
		}
	}
	for _, mk := range batch.Restored {
		if err := add(mk, false, true); err != nil {
			return err
		}
	}
	for _, mk := range batch.Unavailable {
		if err := add(mk, false, false); err != nil {
			return err
		}
	}
	for _, mk := range batch.Confirmations {
		if err := add(mk, true, true); err != nil {
			return err
		}
	}

	count, err := tx.CopyFrom(ctx, pgx.Identifier{"markets_history"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to append market history: %w", err)
	}
	if count != int64(len(rows)) {
		return fmt.Errorf("appended %d history rows, expected %d", count, len(rows))
	}
	return nil
}

// GetCurrentByEvent retrieves the current market state for an event, all
// bookmakers, unavailable rows included.
func (m *PostgresMarketRepository) GetCurrentByEvent(ctx context.Context, eventID int64) (map[models.Bookmaker][]*models.Market, error) {
	query := `
		SELECT bookmaker_slug, canonical_market_id, line, display_name,
		       categories, outcomes, margin, unavailable_at
		FROM markets_current
		WHERE event_id = $1
		ORDER BY bookmaker_slug, canonical_market_id, COALESCE(line, 0)
	`

	rows, err := m.db.GetPool().Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query current markets: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Bookmaker][]*models.Market)
	for rows.Next() {
		var (
			slug       string
			mk         models.Market
			categories []string
			outcomes   []byte
		)
		err := rows.Scan(&slug, &mk.CanonicalID, &mk.Line, &mk.DisplayName,
			&categories, &outcomes, &mk.Margin, &mk.UnavailableAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		if err := json.Unmarshal(outcomes, &mk.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode outcomes: %w", err)
		}
		for _, c := range categories {
			mk.Categories = append(mk.Categories, models.Category(c))
		}
		bm := models.Bookmaker(slug)
		out[bm] = append(out[bm], &mk)
	}

	return out, rows.Err()
}

// GetOddsHistory retrieves the full time series for one market identity,
// confirmation points included.
func (m *PostgresMarketRepository) GetOddsHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return m.queryHistory(ctx, eventID, bookmaker, canonicalID, line, start, end)
}

// GetMarginHistory retrieves the same series; callers read only the margin
// column. Kept separate so the API surface matches the two chart types.
func (m *PostgresMarketRepository) GetMarginHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return m.queryHistory(ctx, eventID, bookmaker, canonicalID, line, start, end)
}

func (m *PostgresMarketRepository) queryHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	query := `
		SELECT event_id, bookmaker_slug, canonical_market_id, line,
		       captured_at, margin, outcomes, available, confirmed
		FROM markets_history
		WHERE event_id = $1 AND bookmaker_slug = $2 AND canonical_market_id = $3
		  AND COALESCE(line, 0) = $4
		  AND captured_at >= $5 AND captured_at <= $6
		ORDER BY captured_at ASC
	`

	rows, err := m.db.GetPool().Query(ctx, query,
		eventID, bookmaker, canonicalID, models.LineKey(line),
		models.NaiveUTC(start), models.NaiveUTC(end),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query market history: %w", err)
	}
	defer rows.Close()

	var points []*models.HistoryPoint
	for rows.Next() {
		p := &models.HistoryPoint{}
		var outcomes []byte
		err := rows.Scan(&p.EventID, &p.Bookmaker, &p.CanonicalID, &p.Line,
			&p.CapturedAt, &p.Margin, &outcomes, &p.Available, &p.Confirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		if err := json.Unmarshal(outcomes, &p.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode outcomes: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// DeleteHistoryBefore trims history rows older than the retention cutoff.
func (m *PostgresMarketRepository) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := m.db.GetPool().Exec(ctx,
		`DELETE FROM markets_history WHERE captured_at < $1`, models.NaiveUTC(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to trim market history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCurrentForEvents removes current-state rows for evicted events.
func (m *PostgresMarketRepository) DeleteCurrentForEvents(ctx context.Context, eventIDs []int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := m.db.GetPool().Exec(ctx,
		`DELETE FROM markets_current WHERE event_id = ANY($1)`, eventIDs)
	if err != nil {
		return fmt.Errorf("failed to delete current markets: %w", err)
	}
	return nil
}

func categoryStrings(categories []models.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
