package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/models"
)

func testBatch(eventID int64, observedAt time.Time) *models.WriteBatch {
	batch := models.NewWriteBatch(eventID, models.BookmakerBetpawa, 1, observedAt)
	batch.Inserts = append(batch.Inserts, &models.Market{
		CanonicalID: "1X2",
		DisplayName: "1X2 | Full Time",
		Categories:  []models.Category{models.CategoryPopular},
		Outcomes: []models.Outcome{
			{Name: "1", Odds: decimal.RequireFromString("2.10"), Active: true},
			{Name: "X", Odds: decimal.RequireFromString("3.30"), Active: true},
			{Name: "2", Odds: decimal.RequireFromString("3.40"), Active: true},
		},
		Margin: decimal.RequireFromString("7.33"),
	})
	return batch
}

func seedEvent(t *testing.T, repos *Repositories, externalID int64, kickoff time.Time) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tournament, err := repos.Tournament.GetOrCreate(ctx, "football", "Premier League", strPtr("England"))
	if err != nil {
		t.Fatalf("failed to create tournament: %v", err)
	}
	err = repos.Event.Upsert(ctx, &models.Event{
		ExternalID:   externalID,
		HomeTeam:     "Arsenal",
		AwayTeam:     "Chelsea",
		Kickoff:      kickoff,
		Sport:        "football",
		TournamentID: tournament.ID,
	})
	if err != nil {
		t.Fatalf("failed to upsert event: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestMarketRepositoryApplyBatch(t *testing.T) {
	db := database.SetupTestDB(t)
	defer database.TeardownTestDB(t, db)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	observedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	seedEvent(t, repos, 12345678, observedAt.Add(4*time.Hour))

	if err := repos.Market.ApplyBatch(ctx, testBatch(12345678, observedAt)); err != nil {
		t.Fatalf("failed to apply batch: %v", err)
	}

	current, err := repos.Market.GetCurrentByEvent(ctx, 12345678)
	if err != nil {
		t.Fatalf("failed to get current markets: %v", err)
	}
	markets := current[models.BookmakerBetpawa]
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}
	if markets[0].CanonicalID != "1X2" || markets[0].UnavailableAt != nil {
		t.Errorf("unexpected market state: %+v", markets[0])
	}

	// Re-applying the same batch replays onto the same identity row.
	if err := repos.Market.ApplyBatch(ctx, testBatch(12345678, observedAt.Add(time.Minute))); err != nil {
		t.Fatalf("failed to re-apply batch: %v", err)
	}
	current, err = repos.Market.GetCurrentByEvent(ctx, 12345678)
	if err != nil {
		t.Fatalf("failed to re-read current markets: %v", err)
	}
	if len(current[models.BookmakerBetpawa]) != 1 {
		t.Errorf("replay duplicated the identity row")
	}

	history, err := repos.Market.GetOddsHistory(ctx, 12345678, models.BookmakerBetpawa,
		"1X2", nil, observedAt.Add(-time.Hour), observedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to query history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 history points, got %d", len(history))
	}
}

func TestMarketRepositoryUnavailableFlag(t *testing.T) {
	db := database.SetupTestDB(t)
	defer database.TeardownTestDB(t, db)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	observedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	seedEvent(t, repos, 23456789, observedAt.Add(4*time.Hour))

	if err := repos.Market.ApplyBatch(ctx, testBatch(23456789, observedAt)); err != nil {
		t.Fatalf("failed to apply insert batch: %v", err)
	}

	later := observedAt.Add(5 * time.Minute)
	gone := models.NewWriteBatch(23456789, models.BookmakerBetpawa, 2, later)
	flagged := testBatch(23456789, later).Inserts[0]
	flagged.UnavailableAt = &later
	gone.Unavailable = append(gone.Unavailable, flagged)

	if err := repos.Market.ApplyBatch(ctx, gone); err != nil {
		t.Fatalf("failed to apply unavailable batch: %v", err)
	}

	current, err := repos.Market.GetCurrentByEvent(ctx, 23456789)
	if err != nil {
		t.Fatalf("failed to get current markets: %v", err)
	}
	mk := current[models.BookmakerBetpawa][0]
	if mk.UnavailableAt == nil {
		t.Fatalf("market not flagged unavailable")
	}
	if len(mk.Outcomes) != 3 {
		t.Errorf("unavailable row lost its last outcomes")
	}
}

func TestScrapeRunLifecycle(t *testing.T) {
	db := database.SetupTestDB(t)
	defer database.TeardownTestDB(t, db)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	startedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	id, err := repos.ScrapeRun.Create(ctx, startedAt)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	finishedAt := startedAt.Add(2 * time.Minute)
	err = repos.ScrapeRun.Finish(ctx, &models.ScrapeRun{
		ID: id, Status: models.RunStatusSuccess,
		StartedAt: startedAt, FinishedAt: &finishedAt,
		EventsSeen: 10, Unmappable: 2,
		Counts: models.BatchCounts{Inserted: 5, Updated: 3, Confirmed: 20},
	})
	if err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	run, err := repos.ScrapeRun.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != models.RunStatusSuccess || run.Counts.Inserted != 5 {
		t.Errorf("unexpected run state: %+v", run)
	}

	last, err := repos.ScrapeRun.LastFinishedAt(ctx)
	if err != nil {
		t.Fatalf("failed to get last finished: %v", err)
	}
	if !last.Equal(finishedAt) {
		t.Errorf("expected last finished %s, got %s", finishedAt, last)
	}
}

func TestScrapeRunFailStale(t *testing.T) {
	db := database.SetupTestDB(t)
	defer database.TeardownTestDB(t, db)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	old := time.Now().UTC().Add(-time.Hour)
	id, err := repos.ScrapeRun.Create(ctx, old)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	failed, err := repos.ScrapeRun.FailStale(ctx, time.Now().UTC().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("failed to fail stale runs: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 stale run failed, got %d", failed)
	}

	run, err := repos.ScrapeRun.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
}

func TestTournamentIdentity(t *testing.T) {
	db := database.SetupTestDB(t)
	defer database.TeardownTestDB(t, db)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := repos.Tournament.GetOrCreate(ctx, "football", "Premier League", strPtr("England"))
	if err != nil {
		t.Fatalf("failed to create tournament: %v", err)
	}
	b, err := repos.Tournament.GetOrCreate(ctx, "football", "Premier League", strPtr("England"))
	if err != nil {
		t.Fatalf("failed to resolve tournament: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("same identity resolved to two rows: %d vs %d", a.ID, b.ID)
	}

	// Same name in a different country is a distinct tournament.
	c, err := repos.Tournament.GetOrCreate(ctx, "football", "Premier League", strPtr("Ghana"))
	if err != nil {
		t.Fatalf("failed to create second tournament: %v", err)
	}
	if c.ID == a.ID {
		t.Errorf("distinct countries collapsed into one tournament")
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	db := database.SetupTestDB(t)
	defer database.TeardownTestDB(t, db)

	repos, err := NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = repos.Settings.Get(ctx, SettingScrapeInterval)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := repos.Settings.Set(ctx, SettingScrapeInterval, "600"); err != nil {
		t.Fatalf("failed to set setting: %v", err)
	}
	value, err := repos.Settings.Get(ctx, SettingScrapeInterval)
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if value != "600" {
		t.Errorf("expected 600, got %s", value)
	}
}
