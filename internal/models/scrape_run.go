package models

import (
	"time"
)

// RunStatus is the lifecycle state of a scrape cycle.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// ScrapeRun is one scheduled or on-demand scrape cycle. A cycle is
// reported SUCCESS even with partial per-slot failures; only a watchdog
// stop or a total-failure path produces FAILED.
type ScrapeRun struct {
	ID          int64       `db:"id" json:"id"`
	Status      RunStatus   `db:"status" json:"status"`
	StartedAt   time.Time   `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time  `db:"finished_at" json:"finished_at"`
	EventsSeen  int         `db:"events_seen" json:"events_seen"`
	SlotsFailed int         `db:"slots_failed" json:"slots_failed"`
	Unmappable  int         `db:"unmappable" json:"unmappable"`
	Counts      BatchCounts `json:"counts"`
}

// Duration returns the run's wall time, zero while still running.
func (r *ScrapeRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
