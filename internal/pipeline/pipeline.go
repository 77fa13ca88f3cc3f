// Package pipeline decouples scraping from persistence: the coordinator
// enqueues write batches and a small worker pool commits them, so a slow
// database never stalls a scrape cycle.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/metrics"
	"github.com/yourusername/oddsradar/internal/models"
	"github.com/yourusername/oddsradar/internal/repository"
)

// Pipeline is the bounded asynchronous write path between the odds cache
// and PostgreSQL.
type Pipeline struct {
	markets repository.MarketRepository
	logger  *logrus.Entry

	queue chan *models.WriteBatch

	retryAttempts int
	retryBase     time.Duration
	retryCap      time.Duration
	workers       int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a pipeline sized from configuration. Start must be called
// before batches are enqueued.
func New(cfg *config.PipelineConfig, markets repository.MarketRepository, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		markets:       markets,
		logger:        logger.WithField("component", "pipeline"),
		queue:         make(chan *models.WriteBatch, cfg.QueueSize),
		retryAttempts: cfg.RetryAttempts,
		retryBase:     time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		retryCap:      time.Duration(cfg.RetryCapMs) * time.Millisecond,
		workers:       cfg.Workers,
	}
}

// Start launches the worker pool. Workers exit when the queue is closed
// and drained, or when ctx is cancelled mid-batch between retries.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.WithFields(logrus.Fields{
		"workers":    p.workers,
		"queue_size": cap(p.queue),
	}).Info("Write pipeline started")
}

// Enqueue hands a batch to the pipeline. Non-blocking while the queue has
// room; when full it blocks the producer until a worker frees a slot or
// ctx is cancelled. That back-pressure is the only coupling between cycle
// latency and write throughput.
func (p *Pipeline) Enqueue(ctx context.Context, batch *models.WriteBatch) error {
	if batch == nil || batch.IsEmpty() {
		return nil
	}

	select {
	case p.queue <- batch:
		metrics.UpdateQueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		p.logger.WithFields(logrus.Fields{
			"batch_id":  batch.ID,
			"event_id":  batch.EventID,
			"bookmaker": batch.Bookmaker,
		}).Warn("Enqueue abandoned, queue full until cancellation")
		return ctx.Err()
	}
}

// Depth returns the number of queued batches.
func (p *Pipeline) Depth() int {
	return len(p.queue)
}

// Stop closes the intake and waits for workers to drain the queue, up to
// the context deadline.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.queue)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Write pipeline drained")
		return nil
	case <-ctx.Done():
		p.logger.WithField("remaining", len(p.queue)).Warn("Write pipeline stopped before draining")
		return ctx.Err()
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for batch := range p.queue {
		metrics.UpdateQueueDepth(len(p.queue))
		p.commit(ctx, batch)
	}
}

// commit writes one batch with bounded retries. Each attempt is a fresh
// transaction; the batch either lands whole or not at all.
func (p *Pipeline) commit(ctx context.Context, batch *models.WriteBatch) {
	logger := p.logger.WithFields(logrus.Fields{
		"batch_id":  batch.ID,
		"event_id":  batch.EventID,
		"bookmaker": batch.Bookmaker,
		"cycle_id":  batch.CycleID,
	})

	var err error
	for attempt := 1; attempt <= p.retryAttempts; attempt++ {
		start := time.Now()
		err = p.markets.ApplyBatch(ctx, batch)
		if err == nil {
			metrics.RecordBatchWriteLatency(time.Since(start).Seconds())
			counts := batch.Counts()
			metrics.RecordBatchCounts(string(batch.Bookmaker),
				counts.Inserted, counts.Updated, counts.Confirmed,
				counts.Unavailable, counts.Restored)
			return
		}

		if attempt < p.retryAttempts {
			backoff := p.backoff(attempt)
			logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
			}).Warn("Batch write failed, retrying")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				logger.Warn("Batch write abandoned on shutdown")
				return
			}
		}
	}

	metrics.RecordBatchDropped()
	logger.WithError(err).WithField("counts", batch.Counts()).
		Error("Batch write failed after all retries, dropping")
}

// backoff doubles per attempt from the base, capped.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.retryCap {
			return p.retryCap
		}
	}
	if d > p.retryCap {
		return p.retryCap
	}
	return d
}
