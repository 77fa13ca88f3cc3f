// Package coordinator drives scrape cycles: discovery across the three
// bookmakers, reconciliation of vanished events, priority-ordered
// fan-out to the detail fetchers, mapping, change detection, and the
// hand-off to the write pipeline and push hub.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/cache"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/fetcher"
	"github.com/yourusername/oddsradar/internal/mapping"
	"github.com/yourusername/oddsradar/internal/metrics"
	"github.com/yourusername/oddsradar/internal/models"
	"github.com/yourusername/oddsradar/internal/repository"
)

// ErrCycleInProgress is returned when a cycle is requested while one is
// already running. The scheduler treats it as a skip, not a failure.
var ErrCycleInProgress = errors.New("a scrape cycle is already running")

// perEventPermits bounds concurrent bookmaker fetches within one event,
// one permit per bookmaker.
const perEventPermits = 3

// BatchEnqueuer is the write pipeline surface the coordinator uses.
// Enqueue blocks when the pipeline is saturated.
type BatchEnqueuer interface {
	Enqueue(ctx context.Context, batch *models.WriteBatch) error
}

// Publisher is the push hub surface the coordinator uses.
type Publisher interface {
	Publish(topic models.Topic, payload interface{})
}

// Coordinator executes scrape cycles. At most one cycle runs at a time;
// on-demand single-event refreshes may run alongside a cycle.
type Coordinator struct {
	cfg      *config.Config
	fetchers map[models.Bookmaker]fetcher.Fetcher
	engine   *mapping.Engine
	cache    *cache.Cache
	pipeline BatchEnqueuer
	hub      Publisher
	repos    *repository.Repositories
	logger   *logrus.Entry

	// Global per-bookmaker fetch permits, sized from config.
	bookmakerSems map[models.Bookmaker]chan struct{}

	mu      sync.Mutex
	running bool
}

// New wires a coordinator over its collaborators. The fetcher list must
// cover all three bookmakers.
func New(cfg *config.Config, fetchers []fetcher.Fetcher, engine *mapping.Engine, c *cache.Cache, pipe BatchEnqueuer, hub Publisher, repos *repository.Repositories, logger *logrus.Logger) *Coordinator {
	byBookmaker := make(map[models.Bookmaker]fetcher.Fetcher, len(fetchers))
	sems := make(map[models.Bookmaker]chan struct{}, len(fetchers))
	for _, f := range fetchers {
		bm := f.Bookmaker()
		byBookmaker[bm] = f
		sems[bm] = make(chan struct{}, endpointFor(cfg, bm).Concurrency)
	}

	return &Coordinator{
		cfg:           cfg,
		fetchers:      byBookmaker,
		engine:        engine,
		cache:         c,
		pipeline:      pipe,
		hub:           hub,
		repos:         repos,
		logger:        logger.WithField("component", "coordinator"),
		bookmakerSems: sems,
	}
}

func endpointFor(cfg *config.Config, bm models.Bookmaker) *config.BookmakerEndpoint {
	switch bm {
	case models.BookmakerBetpawa:
		return &cfg.Bookmaker.Betpawa
	case models.BookmakerSportyBet:
		return &cfg.Bookmaker.SportyBet
	default:
		return &cfg.Bookmaker.Bet9ja
	}
}

// discoveryResult records, per bookmaker that answered, the set of
// external ids seen this cycle, plus the per-bookmaker metadata for each
// event. Bookmakers whose discovery failed are absent from seen; the
// reconciliation pass must not treat their events as vanished.
type discoveryResult struct {
	seen map[models.Bookmaker]map[int64]bool
	meta map[int64]map[models.Bookmaker]models.DiscoveredEvent
}

// cycleStats accumulates run counters across the fan-out goroutines.
type cycleStats struct {
	mu          sync.Mutex
	counts      models.BatchCounts
	slotsFailed int
	unmappable  int
}

func (s *cycleStats) addCounts(c models.BatchCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Add(c)
}

func (s *cycleStats) addFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotsFailed++
}

func (s *cycleStats) addUnmappable(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unmappable += n
}

func (s *cycleStats) snapshot() (models.BatchCounts, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts, s.slotsFailed, s.unmappable
}

func (c *Coordinator) tryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Running reports whether a cycle is currently executing.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RunCycle executes one full scrape cycle: discover, reconcile missing
// events, build the priority queue, fan out, evict. The run record is
// persisted before any scraping starts so the watchdog can see it.
func (c *Coordinator) RunCycle(ctx context.Context) (*models.ScrapeRun, error) {
	if !c.tryBegin() {
		return nil, ErrCycleInProgress
	}
	defer c.end()

	startedAt := time.Now()
	runID, err := c.repos.ScrapeRun.Create(ctx, startedAt)
	if err != nil {
		return nil, fmt.Errorf("creating scrape run: %w", err)
	}
	run := &models.ScrapeRun{
		ID:        runID,
		Status:    models.RunStatusRunning,
		StartedAt: models.NaiveUTC(startedAt),
	}

	log := c.logger.WithField("cycle_id", runID)
	log.Info("Scrape cycle started")

	cycleCtx, cancel := context.WithTimeout(ctx, c.cfg.CycleDeadline())
	defer cancel()

	stats := &cycleStats{}

	disc := c.discover(cycleCtx, log)
	if len(disc.seen) == 0 {
		run.Status = models.RunStatusFailed
		c.finishRun(ctx, run, stats, log)
		return run, errors.New("discovery failed for every bookmaker")
	}
	run.EventsSeen = len(disc.meta)

	c.upsertMetadata(cycleCtx, disc, log)
	c.reconcileMissing(cycleCtx, disc, runID, stats, log)

	queue := newPriorityQueue()
	queue.Rebuild(c.buildQueueItems(disc), time.Now())
	c.fanOut(cycleCtx, queue, disc, runID, stats, log)

	// The cycle proceeds to eviction even when its deadline expired
	// mid-fan-out; the parent context covers the cleanup writes.
	evicted := c.cache.EvictExpired(time.Now())
	if len(evicted) > 0 {
		log.WithField("events", len(evicted)).Info("Evicted kicked-off events from cache")
		if err := c.repos.Market.DeleteCurrentForEvents(ctx, evicted); err != nil {
			log.WithError(err).Warn("Failed to clear current rows for evicted events")
		}
	}
	metrics.UpdateCacheSize(c.cache.EventCount(), c.cache.Len())

	run.Status = models.RunStatusSuccess
	c.finishRun(ctx, run, stats, log)
	return run, nil
}

// ScrapeEvent refreshes one event across all three bookmakers on demand.
// A bookmaker that does not offer the event is skipped, not failed.
func (c *Coordinator) ScrapeEvent(ctx context.Context, externalID int64) (*models.ScrapeRun, error) {
	if !models.ValidExternalID(externalID) {
		return nil, fmt.Errorf("%w: external id %d", models.ErrInvalidInput, externalID)
	}

	startedAt := time.Now()
	runID, err := c.repos.ScrapeRun.Create(ctx, startedAt)
	if err != nil {
		return nil, fmt.Errorf("creating scrape run: %w", err)
	}
	run := &models.ScrapeRun{
		ID:        runID,
		Status:    models.RunStatusRunning,
		StartedAt: models.NaiveUTC(startedAt),
		EventsSeen: 1,
	}

	log := c.logger.WithFields(logrus.Fields{"cycle_id": runID, "event_id": externalID})
	log.Info("On-demand event scrape started")

	if ev, err := c.repos.Event.GetByExternalID(ctx, externalID); err == nil {
		c.cache.TrackEvent(externalID, ev.Kickoff)
	}

	stats := &cycleStats{}
	slots := make(map[models.Bookmaker]models.DiscoveredEvent, len(c.fetchers))
	for bm := range c.fetchers {
		slots[bm] = models.DiscoveredEvent{ExternalID: externalID, Bookmaker: bm}
	}
	c.scrapeEvent(ctx, runID, externalID, slots, stats, log)

	run.Status = models.RunStatusSuccess
	c.finishRun(ctx, run, stats, log)
	return run, nil
}

// discover calls every bookmaker's discovery endpoint concurrently. A
// failed discovery drops that bookmaker from the cycle without failing
// the others.
func (c *Coordinator) discover(ctx context.Context, log *logrus.Entry) *discoveryResult {
	type outcome struct {
		bm     models.Bookmaker
		events []models.DiscoveredEvent
		err    error
	}
	results := make(chan outcome, len(c.fetchers))
	for _, f := range c.fetchers {
		go func(f fetcher.Fetcher) {
			events, err := f.Discover(ctx)
			results <- outcome{bm: f.Bookmaker(), events: events, err: err}
		}(f)
	}

	disc := &discoveryResult{
		seen: make(map[models.Bookmaker]map[int64]bool),
		meta: make(map[int64]map[models.Bookmaker]models.DiscoveredEvent),
	}
	for range c.fetchers {
		r := <-results
		if r.err != nil {
			log.WithError(r.err).WithField("bookmaker", r.bm).Warn("Discovery failed")
			continue
		}
		set := make(map[int64]bool, len(r.events))
		for _, e := range r.events {
			set[e.ExternalID] = true
			if disc.meta[e.ExternalID] == nil {
				disc.meta[e.ExternalID] = make(map[models.Bookmaker]models.DiscoveredEvent, 3)
			}
			disc.meta[e.ExternalID][r.bm] = e
		}
		disc.seen[r.bm] = set
		log.WithFields(logrus.Fields{"bookmaker": r.bm, "events": len(r.events)}).Debug("Discovery complete")
	}
	return disc
}

// upsertMetadata persists event and tournament metadata from the
// discovery result and tracks kickoffs for eviction. Betpawa metadata
// wins; competitor-only events fall back in precedence order.
func (c *Coordinator) upsertMetadata(ctx context.Context, disc *discoveryResult, log *logrus.Entry) {
	for eventID, perBookmaker := range disc.meta {
		meta, country := resolveMetadata(perBookmaker)
		c.cache.TrackEvent(eventID, meta.Kickoff)

		tournament, err := c.repos.Tournament.GetOrCreate(ctx, meta.Sport, meta.TournamentName, country)
		if err != nil {
			log.WithError(err).WithField("event_id", eventID).Warn("Tournament upsert failed")
			continue
		}
		if tournament.Country == nil && country != nil {
			if err := c.repos.Tournament.SetCountry(ctx, tournament.ID, country); err != nil {
				log.WithError(err).WithField("tournament_id", tournament.ID).Warn("Tournament country backfill failed")
			}
		}

		event := &models.Event{
			ExternalID:   eventID,
			HomeTeam:     meta.HomeTeam,
			AwayTeam:     meta.AwayTeam,
			Kickoff:      models.NaiveUTC(meta.Kickoff),
			Sport:        meta.Sport,
			TournamentID: tournament.ID,
		}
		if err := c.repos.Event.Upsert(ctx, event); err != nil {
			log.WithError(err).WithField("event_id", eventID).Warn("Event upsert failed")
		}
	}
}

// resolveMetadata picks one bookmaker's view of the event in canonical
// precedence order. The country falls back independently so a Betpawa
// listing without a country still gets one from a competitor.
func resolveMetadata(perBookmaker map[models.Bookmaker]models.DiscoveredEvent) (models.DiscoveredEvent, *string) {
	var chosen models.DiscoveredEvent
	var country *string
	found := false
	for _, bm := range models.AllBookmakers() {
		e, ok := perBookmaker[bm]
		if !ok {
			continue
		}
		if !found {
			chosen = e
			found = true
		}
		if country == nil && e.Country != nil {
			country = e.Country
		}
	}
	return chosen, country
}

// reconcileMissing flags cached slots whose event vanished from a
// bookmaker's discovery list this cycle. Bookmakers whose discovery
// failed are skipped so an outage does not mass-flag their offer.
// Each affected event publishes a single odds_updates message covering
// every slot that vanished.
func (c *Coordinator) reconcileMissing(ctx context.Context, disc *discoveryResult, cycleID int64, stats *cycleStats, log *logrus.Entry) {
	now := time.Now()
	for eventID, bookmakers := range c.cache.Slots() {
		vanished := make(map[models.Bookmaker]bool)
		var counts models.BatchCounts
		for _, bm := range bookmakers {
			seen, ok := disc.seen[bm]
			if !ok || seen[eventID] {
				continue
			}
			batch := c.cache.MarkUnavailable(eventID, bm, now, cycleID)
			if batch == nil {
				continue
			}
			log.WithFields(logrus.Fields{"event_id": eventID, "bookmaker": bm}).
				Info("Event vanished from bookmaker offer, flagging markets unavailable")
			batchCounts := batch.Counts()
			if err := c.pipeline.Enqueue(ctx, batch); err != nil {
				log.WithError(err).Warn("Reconciliation batch enqueue abandoned")
				continue
			}
			stats.addCounts(batchCounts)
			vanished[bm] = true
			counts.Add(batchCounts)
		}
		if len(vanished) == 0 {
			continue
		}
		c.hub.Publish(models.TopicOddsUpdates, models.OddsUpdate{
			CycleID:    cycleID,
			EventID:    eventID,
			Bookmakers: orderedBookmakers(vanished),
			Counts:     counts,
			ObservedAt: models.NaiveUTC(now),
		})
	}
}

// buildQueueItems turns the discovery union into queue entries.
func (c *Coordinator) buildQueueItems(disc *discoveryResult) []*queueItem {
	items := make([]*queueItem, 0, len(disc.meta))
	for eventID, perBookmaker := range disc.meta {
		meta, _ := resolveMetadata(perBookmaker)
		_, hasBetpawa := perBookmaker[models.BookmakerBetpawa]
		items = append(items, &queueItem{
			EventID:    eventID,
			Kickoff:    models.NaiveUTC(meta.Kickoff),
			Coverage:   len(perBookmaker),
			HasBetpawa: hasBetpawa,
		})
	}
	return items
}

// fanOut drains the queue with a bounded worker pool. Pool width bounds
// event parallelism; per-event and per-bookmaker semaphores bound the
// fetches underneath.
func (c *Coordinator) fanOut(ctx context.Context, queue *priorityQueue, disc *discoveryResult, cycleID int64, stats *cycleStats, log *logrus.Entry) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Scraper.EventParallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				item, ok := queue.Pop()
				if !ok {
					return
				}
				c.scrapeEvent(ctx, cycleID, item.EventID, disc.meta[item.EventID], stats, log)
			}
		}()
	}
	wg.Wait()
}

// scrapeEvent fetches one event's detail from each bookmaker that
// offers it, concurrently. A failed sibling never cancels the others.
// Slots that produced changes are aggregated into one odds_updates
// message for the event.
func (c *Coordinator) scrapeEvent(ctx context.Context, cycleID, eventID int64, slots map[models.Bookmaker]models.DiscoveredEvent, stats *cycleStats, log *logrus.Entry) {
	eventSem := make(chan struct{}, perEventPermits)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed = make(map[models.Bookmaker]bool)
		counts  models.BatchCounts
		latest  time.Time
	)
	for _, bm := range models.AllBookmakers() {
		if _, ok := slots[bm]; !ok {
			continue
		}
		wg.Add(1)
		go func(bm models.Bookmaker) {
			defer wg.Done()
			eventSem <- struct{}{}
			defer func() { <-eventSem }()
			c.bookmakerSems[bm] <- struct{}{}
			defer func() { <-c.bookmakerSems[bm] }()
			slotCounts, observedAt, slotChanged := c.scrapeSlot(ctx, cycleID, eventID, bm, stats, log)
			if !slotChanged {
				return
			}
			mu.Lock()
			changed[bm] = true
			counts.Add(slotCounts)
			if observedAt.After(latest) {
				latest = observedAt
			}
			mu.Unlock()
		}(bm)
	}
	wg.Wait()

	if len(changed) == 0 {
		return
	}
	c.hub.Publish(models.TopicOddsUpdates, models.OddsUpdate{
		CycleID:    cycleID,
		EventID:    eventID,
		Bookmakers: orderedBookmakers(changed),
		Counts:     counts,
		ObservedAt: latest,
	})
}

// orderedBookmakers flattens a bookmaker set into canonical precedence
// order, keeping the published payload deterministic.
func orderedBookmakers(set map[models.Bookmaker]bool) []models.Bookmaker {
	out := make([]models.Bookmaker, 0, len(set))
	for _, bm := range models.AllBookmakers() {
		if set[bm] {
			out = append(out, bm)
		}
	}
	return out
}

// scrapeSlot runs the full pipeline for one (event, bookmaker): fetch,
// map, change-detect, enqueue, publish progress. The order cache update,
// then write enqueue, then push publish is load-bearing for consumers.
// Returns the change counts, the observation time and whether the slot
// changed, for the caller's per-event odds_updates aggregation.
func (c *Coordinator) scrapeSlot(ctx context.Context, cycleID, eventID int64, bm models.Bookmaker, stats *cycleStats, log *logrus.Entry) (models.BatchCounts, time.Time, bool) {
	start := time.Now()
	slog := log.WithFields(logrus.Fields{"event_id": eventID, "bookmaker": bm})

	detail, err := c.fetchers[bm].FetchEvent(ctx, eventID)
	if err != nil {
		failed := !errors.Is(err, fetcher.ErrEventNotFound)
		if failed {
			slog.WithError(err).Warn("Slot fetch failed")
			stats.addFailure()
		} else {
			slog.Debug("Event not offered by bookmaker")
		}
		c.hub.Publish(models.TopicScrapeProgress, models.ScrapeProgress{
			CycleID:    cycleID,
			EventID:    eventID,
			Bookmaker:  bm,
			Failed:     failed,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return models.BatchCounts{}, time.Time{}, false
	}

	markets, unmappable := c.mapMarkets(detail, slog)
	stats.addUnmappable(unmappable)

	var counts models.BatchCounts
	batch := c.cache.Put(eventID, bm, markets, detail.ObservedAt, cycleID)
	changed := batch.HasChanges()
	if !changed {
		batch = c.cache.Confirm(eventID, bm, detail.ObservedAt, cycleID)
	}
	if batch != nil && !batch.IsEmpty() {
		counts = batch.Counts()
		if err := c.pipeline.Enqueue(ctx, batch); err != nil {
			slog.WithError(err).Warn("Batch enqueue abandoned")
		} else {
			stats.addCounts(counts)
		}
	}
	c.hub.Publish(models.TopicScrapeProgress, models.ScrapeProgress{
		CycleID:    cycleID,
		EventID:    eventID,
		Bookmaker:  bm,
		Counts:     counts,
		Unmappable: unmappable,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return counts, models.NaiveUTC(detail.ObservedAt), changed
}

// mapMarkets normalises a raw detail document. Unmappable markets are
// counted and dropped, never fatal.
func (c *Coordinator) mapMarkets(detail *models.RawEventDetail, slog *logrus.Entry) ([]*models.Market, int) {
	markets := make([]*models.Market, 0, len(detail.Markets))
	unmappable := 0
	for _, raw := range detail.Markets {
		m, err := c.engine.Map(raw)
		if err != nil {
			unmappable++
			var ue *mapping.UnmappableError
			if errors.As(err, &ue) {
				metrics.RecordUnmappable(string(ue.Bookmaker), string(ue.Reason))
				slog.WithFields(logrus.Fields{"market_id": ue.MarketID, "reason": ue.Reason}).
					Debug("Unmappable market")
			}
			continue
		}
		markets = append(markets, m)
	}
	return markets, unmappable
}

// finishRun persists the terminal run record and the cycle metrics.
func (c *Coordinator) finishRun(ctx context.Context, run *models.ScrapeRun, stats *cycleStats, log *logrus.Entry) {
	counts, slotsFailed, unmappable := stats.snapshot()
	run.Counts = counts
	run.SlotsFailed = slotsFailed
	run.Unmappable = unmappable
	finishedAt := models.NaiveUTC(time.Now())
	run.FinishedAt = &finishedAt

	if err := c.repos.ScrapeRun.Finish(ctx, run); err != nil {
		log.WithError(err).Error("Failed to persist scrape run result")
	}
	metrics.RecordCycle(string(run.Status), run.Duration().Seconds())

	log.WithFields(logrus.Fields{
		"status":       run.Status,
		"events_seen":  run.EventsSeen,
		"slots_failed": run.SlotsFailed,
		"unmappable":   run.Unmappable,
		"inserted":     counts.Inserted,
		"updated":      counts.Updated,
		"confirmed":    counts.Confirmed,
		"unavailable":  counts.Unavailable,
		"restored":     counts.Restored,
		"duration":     run.Duration().Round(time.Millisecond),
	}).Info("Scrape cycle finished")
}
