package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MarketSnapshot is the latest observed market set for one
// (event, bookmaker). Snapshots are immutable; the cache replaces them
// wholesale on every scrape that detected a change.
type MarketSnapshot struct {
	EventID         int64
	Bookmaker       Bookmaker
	Markets         map[string]*Market // keyed by Market.Key()
	CapturedAt      time.Time          // first observation of this form
	LastConfirmedAt time.Time          // last observation, changed or not
	Digest          string
}

// SnapshotDigest hashes the canonical form of a market set. Two snapshots
// with equal digests observed the same upstream state.
func SnapshotDigest(markets map[string]*Market) string {
	keys := make([]string, 0, len(markets))
	for k := range markets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		m := markets[k]
		fmt.Fprintf(h, "%s;", k)
		for _, o := range m.Outcomes {
			fmt.Fprintf(h, "%s=%s/%t;", o.Name, o.Odds.String(), o.Active)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WriteBatch is what the cache emits for one (event, bookmaker, cycle).
// The pipeline commits all of it in a single transaction.
type WriteBatch struct {
	ID         uuid.UUID
	EventID    int64
	Bookmaker  Bookmaker
	CycleID    int64
	ObservedAt time.Time

	Inserts       []*Market // not present before, present now
	Updates       []*Market // present before, canonical form differs
	Unavailable   []*Market // present before, absent now
	Restored      []*Market // was unavailable, observed again
	Confirmations []*Market // present before, canonical form unchanged
}

// NewWriteBatch constructs an empty batch for one slot.
func NewWriteBatch(eventID int64, bookmaker Bookmaker, cycleID int64, observedAt time.Time) *WriteBatch {
	return &WriteBatch{
		ID:         uuid.New(),
		EventID:    eventID,
		Bookmaker:  bookmaker,
		CycleID:    cycleID,
		ObservedAt: NaiveUTC(observedAt),
	}
}

// IsEmpty reports whether the batch carries no state change. A batch with
// only confirmations is still written (confirmation history points), but
// does not count as a change for push purposes.
func (b *WriteBatch) IsEmpty() bool {
	return !b.HasChanges() && len(b.Confirmations) == 0
}

// HasChanges reports whether the batch mutates current state.
func (b *WriteBatch) HasChanges() bool {
	return len(b.Inserts) > 0 || len(b.Updates) > 0 ||
		len(b.Unavailable) > 0 || len(b.Restored) > 0
}

// Counts summarises the batch for progress messages and pipeline stats.
func (b *WriteBatch) Counts() BatchCounts {
	return BatchCounts{
		Inserted:    len(b.Inserts),
		Updated:     len(b.Updates),
		Confirmed:   len(b.Confirmations),
		Unavailable: len(b.Unavailable),
		Restored:    len(b.Restored),
	}
}

// BatchCounts reports per-batch write outcomes.
type BatchCounts struct {
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Confirmed   int `json:"confirmed"`
	Unavailable int `json:"unavailable"`
	Restored    int `json:"restored"`
}

// Add accumulates counts across batches.
func (c *BatchCounts) Add(other BatchCounts) {
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Confirmed += other.Confirmed
	c.Unavailable += other.Unavailable
	c.Restored += other.Restored
}
