package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/coordinator"
	"github.com/yourusername/oddsradar/internal/models"
	"github.com/yourusername/oddsradar/internal/repository"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRunner) RunCycle(ctx context.Context) (*models.ScrapeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &models.ScrapeRun{ID: int64(r.calls), Status: models.RunStatusSuccess}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeRunRepo struct {
	mu          sync.Mutex
	staleCalls  []time.Time
	staleFailed int64
}

func (r *fakeRunRepo) Create(ctx context.Context, startedAt time.Time) (int64, error) { return 1, nil }
func (r *fakeRunRepo) Finish(ctx context.Context, run *models.ScrapeRun) error        { return nil }
func (r *fakeRunRepo) GetByID(ctx context.Context, id int64) (*models.ScrapeRun, error) {
	return nil, models.ErrNotFound
}
func (r *fakeRunRepo) GetLatest(ctx context.Context, limit int) ([]*models.ScrapeRun, error) {
	return nil, nil
}
func (r *fakeRunRepo) LastFinishedAt(ctx context.Context) (time.Time, error) {
	return time.Time{}, models.ErrNotFound
}

func (r *fakeRunRepo) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleCalls = append(r.staleCalls, olderThan)
	return r.staleFailed, nil
}

type fakeMarketRepo struct {
	mu             sync.Mutex
	historyCutoffs []time.Time
}

func (r *fakeMarketRepo) ApplyBatch(ctx context.Context, batch *models.WriteBatch) error { return nil }
func (r *fakeMarketRepo) GetCurrentByEvent(ctx context.Context, eventID int64) (map[models.Bookmaker][]*models.Market, error) {
	return nil, nil
}
func (r *fakeMarketRepo) GetOddsHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return nil, nil
}
func (r *fakeMarketRepo) GetMarginHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return nil, nil
}

func (r *fakeMarketRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.historyCutoffs = append(r.historyCutoffs, cutoff)
	return 42, nil
}

func (r *fakeMarketRepo) DeleteCurrentForEvents(ctx context.Context, eventIDs []int64) error {
	return nil
}

type fakeEventRepo struct{}

func (r *fakeEventRepo) Upsert(ctx context.Context, event *models.Event) error { return nil }
func (r *fakeEventRepo) GetByExternalID(ctx context.Context, externalID int64) (*models.Event, error) {
	return nil, models.ErrNotFound
}
func (r *fakeEventRepo) GetUpcoming(ctx context.Context, from time.Time, limit int) ([]*models.Event, error) {
	return nil, nil
}
func (r *fakeEventRepo) DeleteKickedOffBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 3, nil
}

type fakeSettingsRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{values: make(map[string]string)}
}

func (r *fakeSettingsRepo) Get(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return "", models.ErrNotFound
	}
	return v, nil
}

func (r *fakeSettingsRepo) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scraper: config.ScraperConfig{
			IntervalSeconds:       60,
			EventParallelism:      4,
			FetchTimeoutSeconds:   5,
			CycleDeadlineMinutes:  15,
			WatchdogIntervalMins:  2,
			WatchdogThresholdMins: 15,
		},
		Retention: config.RetentionConfig{Days: 14, CleanupTime: "02:00"},
	}
}

type schedulerRig struct {
	scheduler *Scheduler
	runner    *fakeRunner
	runs      *fakeRunRepo
	markets   *fakeMarketRepo
	settings  *fakeSettingsRepo
}

func newRig() *schedulerRig {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	rig := &schedulerRig{
		runner:   &fakeRunner{},
		runs:     &fakeRunRepo{},
		markets:  &fakeMarketRepo{},
		settings: newFakeSettingsRepo(),
	}
	repos := &repository.Repositories{
		Market:    rig.markets,
		Event:     &fakeEventRepo{},
		ScrapeRun: rig.runs,
		Settings:  rig.settings,
	}
	rig.scheduler = New(testConfig(), rig.runner, repos, logger)
	return rig
}

func TestParseCleanupTime(t *testing.T) {
	tests := []struct {
		in           string
		hour, minute int
		wantErr      bool
	}{
		{"02:00", 2, 0, false},
		{"23:59", 23, 59, false},
		{"0:5", 0, 5, false},
		{"24:00", 0, 0, true},
		{"02:60", 0, 0, true},
		{"0200", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		hour, minute, err := parseCleanupTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error state: %v", tt.in, err)
			continue
		}
		if err == nil && (hour != tt.hour || minute != tt.minute) {
			t.Errorf("%q: expected %02d:%02d, got %02d:%02d", tt.in, tt.hour, tt.minute, hour, minute)
		}
	}
}

func TestStartRewritesStaleRunsAndLoadsInterval(t *testing.T) {
	rig := newRig()
	rig.settings.values[repository.SettingScrapeInterval] = "120"

	if err := rig.scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer rig.scheduler.Stop()

	if len(rig.runs.staleCalls) != 1 {
		t.Errorf("expected one startup stale rewrite, got %d", len(rig.runs.staleCalls))
	}
	if rig.scheduler.Interval() != 2*time.Minute {
		t.Errorf("persisted interval not applied: %s", rig.scheduler.Interval())
	}
	if !rig.scheduler.IsRunning() {
		t.Error("scheduler not running after start")
	}
}

func TestStartRejectsBadCleanupTime(t *testing.T) {
	rig := newRig()
	rig.scheduler.cfg.Retention.CleanupTime = "late"
	if err := rig.scheduler.Start(context.Background()); err == nil {
		t.Error("expected an error for a malformed cleanup time")
		rig.scheduler.Stop()
	}
}

func TestPauseSkipsCycles(t *testing.T) {
	rig := newRig()

	rig.scheduler.Pause()
	rig.scheduler.cycleJob()
	if rig.runner.callCount() != 0 {
		t.Errorf("paused scheduler still ran %d cycles", rig.runner.callCount())
	}

	rig.scheduler.Resume()
	rig.scheduler.cycleJob()
	if rig.runner.callCount() != 1 {
		t.Errorf("resumed scheduler ran %d cycles, expected 1", rig.runner.callCount())
	}
}

func TestCycleJobTreatsOverlapAsSkip(t *testing.T) {
	rig := newRig()
	rig.runner.err = coordinator.ErrCycleInProgress

	// Must not panic or error loudly; the overrun slot is simply skipped.
	rig.scheduler.cycleJob()
	if rig.runner.callCount() != 1 {
		t.Errorf("expected exactly one attempt, got %d", rig.runner.callCount())
	}
}

func TestSetIntervalValidatesAndPersists(t *testing.T) {
	rig := newRig()

	if err := rig.scheduler.SetInterval(context.Background(), 10); err == nil {
		t.Error("expected rejection of a sub-30s interval")
	}

	if err := rig.scheduler.SetInterval(context.Background(), 300); err != nil {
		t.Fatalf("set interval failed: %v", err)
	}
	if rig.scheduler.Interval() != 5*time.Minute {
		t.Errorf("interval not applied: %s", rig.scheduler.Interval())
	}
	if v := rig.settings.values[repository.SettingScrapeInterval]; v != "300" {
		t.Errorf("interval not persisted: %q", v)
	}
}

func TestCleanupJobUsesRetentionBounds(t *testing.T) {
	rig := newRig()
	rig.settings.values[repository.SettingRetentionDays] = "200" // clamped to 90

	before := time.Now().UTC().AddDate(0, 0, -90).Add(-time.Minute)
	after := time.Now().UTC().AddDate(0, 0, -90).Add(time.Minute)

	rig.scheduler.cleanupJob()

	if len(rig.markets.historyCutoffs) != 1 {
		t.Fatalf("expected one history trim, got %d", len(rig.markets.historyCutoffs))
	}
	cutoff := rig.markets.historyCutoffs[0]
	if cutoff.Before(before) || cutoff.After(after) {
		t.Errorf("cutoff %s not clamped to the 90 day bound", cutoff)
	}
}

func TestWatchdogFailsStaleRuns(t *testing.T) {
	rig := newRig()
	rig.runs.staleFailed = 2

	rig.scheduler.watchdogJob()

	if len(rig.runs.staleCalls) != 1 {
		t.Fatalf("expected one watchdog scan, got %d", len(rig.runs.staleCalls))
	}
	// The threshold is 15 minutes; the cutoff must sit in the past.
	cutoff := rig.runs.staleCalls[0]
	if time.Since(cutoff) < 14*time.Minute {
		t.Errorf("watchdog cutoff too recent: %s", cutoff)
	}
}
