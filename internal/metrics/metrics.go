// Package metrics provides the centralized Prometheus metrics registry for
// the odds scraper.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	MarketWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "market_writes_total",
		Help:      "Total market write outcomes by bookmaker and kind",
	}, []string{"bookmaker", "kind"})
	UnmappableMarketsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "unmappable_markets_total",
		Help:      "Total markets rejected by the mapping engine by bookmaker and reason",
	}, []string{"bookmaker", "reason"})
	BatchesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "batches_dropped_total",
		Help:      "Total write batches dropped after exhausting retries",
	})
	PushDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "push_messages_dropped_total",
		Help:      "Total push messages dropped on slow subscribers",
	})
	FetchFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "fetch_failures_total",
		Help:      "Total failed bookmaker fetches by bookmaker",
	}, []string{"bookmaker"})
	ScrapeCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "scrape_cycles_total",
		Help:      "Total scrape cycles by terminal status",
	}, []string{"status"})
	WatchdogRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oddsradar",
		Name:      "watchdog_restarts_total",
		Help:      "Total scheduler restarts triggered by the watchdog",
	})
)

// Gauge metrics
var (
	PipelineQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oddsradar",
		Name:      "pipeline_queue_depth",
		Help:      "Write batches currently queued",
	})
	PushSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oddsradar",
		Name:      "push_subscribers",
		Help:      "Currently connected websocket subscribers",
	})
	CachedEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oddsradar",
		Name:      "cached_events",
		Help:      "Events currently tracked in the odds cache",
	})
	CachedSlots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oddsradar",
		Name:      "cached_slots",
		Help:      "Bookmaker snapshots currently held in the odds cache",
	})
)

// Histogram metrics
var (
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "oddsradar",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of complete scrape cycles in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900},
	})
	FetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oddsradar",
		Name:      "fetch_latency_seconds",
		Help:      "Latency of bookmaker API calls in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"bookmaker"})
	BatchWriteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "oddsradar",
		Name:      "batch_write_latency_seconds",
		Help:      "Latency of committed write batches in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		// Register counter metrics
		registry.MustRegister(MarketWritesTotal)
		registry.MustRegister(UnmappableMarketsTotal)
		registry.MustRegister(BatchesDroppedTotal)
		registry.MustRegister(PushDroppedTotal)
		registry.MustRegister(FetchFailuresTotal)
		registry.MustRegister(ScrapeCyclesTotal)
		registry.MustRegister(WatchdogRestartsTotal)

		// Register gauge metrics
		registry.MustRegister(PipelineQueueDepth)
		registry.MustRegister(PushSubscribers)
		registry.MustRegister(CachedEvents)
		registry.MustRegister(CachedSlots)

		// Register histogram metrics
		registry.MustRegister(CycleDuration)
		registry.MustRegister(FetchLatency)
		registry.MustRegister(BatchWriteLatency)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordBatchCounts records the write outcomes of one committed batch.
func RecordBatchCounts(bookmaker string, inserted, updated, confirmed, unavailable, restored int) {
	MarketWritesTotal.WithLabelValues(bookmaker, "inserted").Add(float64(inserted))
	MarketWritesTotal.WithLabelValues(bookmaker, "updated").Add(float64(updated))
	MarketWritesTotal.WithLabelValues(bookmaker, "confirmed").Add(float64(confirmed))
	MarketWritesTotal.WithLabelValues(bookmaker, "unavailable").Add(float64(unavailable))
	MarketWritesTotal.WithLabelValues(bookmaker, "restored").Add(float64(restored))
}

// RecordUnmappable records a mapping rejection.
func RecordUnmappable(bookmaker, reason string) {
	UnmappableMarketsTotal.WithLabelValues(bookmaker, reason).Inc()
}

// RecordBatchDropped records a batch dropped after exhausting retries.
func RecordBatchDropped() {
	BatchesDroppedTotal.Inc()
}

// RecordPushDropped records a push message dropped on a slow subscriber.
func RecordPushDropped() {
	PushDroppedTotal.Inc()
}

// RecordFetchFailure records a failed bookmaker fetch.
func RecordFetchFailure(bookmaker string) {
	FetchFailuresTotal.WithLabelValues(bookmaker).Inc()
}

// RecordFetchLatency records one bookmaker API call.
func RecordFetchLatency(bookmaker string, durationSeconds float64) {
	FetchLatency.WithLabelValues(bookmaker).Observe(durationSeconds)
}

// RecordCycle records a finished scrape cycle.
func RecordCycle(status string, durationSeconds float64) {
	ScrapeCyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(durationSeconds)
}

// RecordWatchdogRestart records a watchdog-triggered scheduler restart.
func RecordWatchdogRestart() {
	WatchdogRestartsTotal.Inc()
}

// RecordBatchWriteLatency records a committed batch write.
func RecordBatchWriteLatency(durationSeconds float64) {
	BatchWriteLatency.Observe(durationSeconds)
}

// UpdateQueueDepth updates the pipeline queue depth gauge.
func UpdateQueueDepth(depth int) {
	PipelineQueueDepth.Set(float64(depth))
}

// UpdateSubscribers updates the connected subscribers gauge.
func UpdateSubscribers(count int) {
	PushSubscribers.Set(float64(count))
}

// UpdateCacheSize updates the cached events and slots gauges.
func UpdateCacheSize(events, slots int) {
	CachedEvents.Set(float64(events))
	CachedSlots.Set(float64(slots))
}
