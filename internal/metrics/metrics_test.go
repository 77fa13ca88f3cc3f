package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistry(t *testing.T) {
	InitRegistry()
	registry := GetRegistry()

	assert.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)
}

func TestRecordBatchCounts(t *testing.T) {
	InitRegistry()

	assert.NotPanics(t, func() {
		RecordBatchCounts("betpawa", 3, 1, 10, 0, 0)
	})
}

func TestRecordUnmappable(t *testing.T) {
	InitRegistry()

	assert.NotPanics(t, func() {
		RecordUnmappable("sportybet", "no_mapping")
		RecordUnmappable("bet9ja", "outcomes_do_not_match")
	})
}

func TestGauges(t *testing.T) {
	InitRegistry()

	assert.NotPanics(t, func() {
		UpdateQueueDepth(12)
		UpdateSubscribers(3)
		UpdateCacheSize(150, 420)
	})
}

func TestHandler(t *testing.T) {
	InitRegistry()

	assert.NotNil(t, Handler())
}
