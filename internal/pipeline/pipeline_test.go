package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/models"
)

// fakeMarketRepo records applied batches and can fail the first N attempts.
type fakeMarketRepo struct {
	mu        sync.Mutex
	applied   []*models.WriteBatch
	failFirst int
	attempts  int
}

func (f *fakeMarketRepo) ApplyBatch(ctx context.Context, batch *models.WriteBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failFirst {
		return errors.New("connection reset")
	}
	f.applied = append(f.applied, batch)
	return nil
}

func (f *fakeMarketRepo) GetCurrentByEvent(ctx context.Context, eventID int64) (map[models.Bookmaker][]*models.Market, error) {
	return nil, nil
}

func (f *fakeMarketRepo) GetOddsHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return nil, nil
}

func (f *fakeMarketRepo) GetMarginHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return nil, nil
}

func (f *fakeMarketRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeMarketRepo) DeleteCurrentForEvents(ctx context.Context, eventIDs []int64) error {
	return nil
}

func (f *fakeMarketRepo) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func testConfig(queueSize, workers int) *config.PipelineConfig {
	return &config.PipelineConfig{
		QueueSize:     queueSize,
		Workers:       workers,
		RetryAttempts: 3,
		RetryBaseMs:   1,
		RetryCapMs:    4,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func insertBatch(eventID int64) *models.WriteBatch {
	batch := models.NewWriteBatch(eventID, models.BookmakerBetpawa, 1, time.Now())
	batch.Inserts = append(batch.Inserts, &models.Market{
		CanonicalID: "1X2",
		Outcomes: []models.Outcome{
			{Name: "1", Odds: decimal.RequireFromString("2.10"), Active: true},
		},
		Margin: decimal.Zero,
	})
	return batch
}

func TestPipelineCommitsBatches(t *testing.T) {
	repo := &fakeMarketRepo{}
	p := New(testConfig(16, 2), repo, testLogger())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := p.Enqueue(context.Background(), insertBatch(int64(10000000+i))); err != nil {
			t.Fatalf("enqueue %d failed with free capacity: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("failed to drain pipeline: %v", err)
	}

	if got := repo.appliedCount(); got != 5 {
		t.Errorf("expected 5 committed batches, got %d", got)
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	repo := &fakeMarketRepo{failFirst: 2}
	p := New(testConfig(4, 1), repo, testLogger())
	p.Start(context.Background())

	if err := p.Enqueue(context.Background(), insertBatch(10000000)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("failed to drain pipeline: %v", err)
	}

	if got := repo.appliedCount(); got != 1 {
		t.Errorf("expected batch committed on third attempt, got %d commits", got)
	}
}

func TestPipelineGivesUpAfterRetries(t *testing.T) {
	repo := &fakeMarketRepo{failFirst: 100}
	p := New(testConfig(4, 1), repo, testLogger())
	p.Start(context.Background())

	p.Enqueue(context.Background(), insertBatch(10000000))
	p.Enqueue(context.Background(), insertBatch(10000001))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("failed to drain pipeline: %v", err)
	}

	// Both batches exhausted their 3 attempts and were dropped.
	repo.mu.Lock()
	attempts := repo.attempts
	repo.mu.Unlock()
	if attempts != 6 {
		t.Errorf("expected 6 attempts, got %d", attempts)
	}
	if repo.appliedCount() != 0 {
		t.Errorf("failing repo recorded commits")
	}
}

func TestPipelineEnqueueBlocksWhenFull(t *testing.T) {
	repo := &fakeMarketRepo{}
	// No workers: nothing drains the queue.
	p := New(testConfig(1, 0), repo, testLogger())

	if err := p.Enqueue(context.Background(), insertBatch(10000000)); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Enqueue(ctx, insertBatch(10000001)); err == nil {
		t.Fatal("second enqueue returned with a full queue and no drain")
	}
	if p.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", p.Depth())
	}
}

func TestPipelineIgnoresEmptyBatches(t *testing.T) {
	repo := &fakeMarketRepo{}
	p := New(testConfig(1, 0), repo, testLogger())

	empty := models.NewWriteBatch(10000000, models.BookmakerBetpawa, 1, time.Now())
	if err := p.Enqueue(context.Background(), empty); err != nil {
		t.Fatal("empty batch rejected instead of ignored")
	}
	if p.Depth() != 0 {
		t.Errorf("empty batch was queued")
	}
}

// blockingRepo stalls every write until released.
type blockingRepo struct {
	fakeMarketRepo
	release chan struct{}
}

func (b *blockingRepo) ApplyBatch(ctx context.Context, batch *models.WriteBatch) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPipelineStopTimesOutOnStuckWriter(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	p := New(testConfig(4, 1), repo, testLogger())
	p.Start(context.Background())
	p.Enqueue(context.Background(), insertBatch(10000000))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err == nil {
		t.Error("expected deadline error while the writer is stuck")
	}
	close(repo.release)
}
