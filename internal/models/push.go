package models

import (
	"time"
)

// Topic names a push channel subject. The set is closed.
type Topic string

const (
	TopicScrapeProgress Topic = "scrape_progress"
	TopicOddsUpdates    Topic = "odds_updates"
)

// ValidTopic reports whether t is a subscribable topic.
func ValidTopic(t Topic) bool {
	return t == TopicScrapeProgress || t == TopicOddsUpdates
}

// PushMessage is one server-to-client frame on the push channel.
type PushMessage struct {
	Topic   Topic       `json:"topic"`
	Payload interface{} `json:"payload"`
}

// ScrapeProgress is published once per (event, bookmaker) per cycle,
// including failed and unmappable-heavy slots. Consumers treat it as
// advisory and re-query the read API to reconcile.
type ScrapeProgress struct {
	CycleID    int64       `json:"cycle_id"`
	EventID    int64       `json:"event_id"`
	Bookmaker  Bookmaker   `json:"bookmaker"`
	Counts     BatchCounts `json:"counts"`
	Unmappable int         `json:"unmappable"`
	Failed     bool        `json:"failed"`
	DurationMs int64       `json:"duration_ms"`
}

// OddsUpdate is published once per event that produced changes in a
// cycle, aggregated across that event's bookmaker slots. Confirmation-only
// cycles publish nothing on this topic.
type OddsUpdate struct {
	CycleID    int64       `json:"cycle_id"`
	EventID    int64       `json:"event_id"`
	Bookmakers []Bookmaker `json:"bookmakers"`
	Counts     BatchCounts `json:"counts"`
	ObservedAt time.Time   `json:"observed_at"`
}
