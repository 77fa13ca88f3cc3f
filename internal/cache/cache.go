// Package cache holds the in-memory odds state: the latest market snapshot
// per (event, bookmaker), change detection at market granularity, and
// eviction by kickoff. The cache is the authority for what the system
// believes upstream currently offers; operations never block on I/O.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/yourusername/oddsradar/internal/models"
)

// evictionGrace is how long after kickoff a snapshot stays alive.
const evictionGrace = time.Hour

type slotKey struct {
	EventID   int64
	Bookmaker models.Bookmaker
}

// Cache is safe for concurrent use. Mutations take a short coarse lock;
// reads hand out deep copies so callers never alias cached state.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[slotKey]*models.MarketSnapshot
	kickoffs  map[int64]time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		snapshots: make(map[slotKey]*models.MarketSnapshot),
		kickoffs:  make(map[int64]time.Time),
	}
}

// TrackEvent registers (or refreshes) an event's kickoff for eviction.
// The kickoff is normalised to naive UTC on the way in; upstream feeds
// arrive with a Z suffix or a zone offset and must not be compared raw.
func (c *Cache) TrackEvent(eventID int64, kickoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kickoffs[eventID] = models.NaiveUTC(kickoff)
}

// Put compares newMarkets against the cached snapshot for the slot and
// replaces it, emitting the WriteBatch describing the difference. Markets
// are canonicalised (outcomes sorted, odds rounded) before comparison.
//
// When nothing changed the snapshot is left untouched and the returned
// batch is empty; the caller is expected to call Confirm instead.
func (c *Cache) Put(eventID int64, bookmaker models.Bookmaker, newMarkets []*models.Market, observedAt time.Time, cycleID int64) *models.WriteBatch {
	observedAt = models.NaiveUTC(observedAt)
	batch := models.NewWriteBatch(eventID, bookmaker, cycleID, observedAt)

	incoming := make(map[string]*models.Market, len(newMarkets))
	for _, m := range newMarkets {
		cm := m.Clone()
		cm.Canonicalise()
		cm.UnavailableAt = nil
		incoming[cm.Key()] = cm
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := slotKey{EventID: eventID, Bookmaker: bookmaker}
	prev := c.snapshots[key]

	next := make(map[string]*models.Market, len(incoming))

	for k, nm := range incoming {
		var pm *models.Market
		if prev != nil {
			pm = prev.Markets[k]
		}
		switch {
		case pm == nil:
			batch.Inserts = append(batch.Inserts, nm)
		case pm.UnavailableAt != nil:
			// Market returned after disappearing: clear unavailable_at and
			// rewrite the row with whatever form it came back in.
			batch.Restored = append(batch.Restored, nm)
		case !pm.EqualCanonical(nm):
			batch.Updates = append(batch.Updates, nm)
		default:
			batch.Confirmations = append(batch.Confirmations, nm)
		}
		next[k] = nm
	}

	// Markets that disappeared within a still-offered event are carried
	// over flagged unavailable, so a later re-appearance restores them.
	if prev != nil {
		for k, pm := range prev.Markets {
			if _, stillThere := incoming[k]; stillThere {
				continue
			}
			carried := pm.Clone()
			if carried.UnavailableAt == nil {
				at := observedAt
				carried.UnavailableAt = &at
				batch.Unavailable = append(batch.Unavailable, carried)
			}
			next[k] = carried
		}
	}

	if !batch.HasChanges() {
		// Unchanged: leave the cached snapshot alone. Confirm advances
		// last_confirmed_at and emits the confirmation points.
		return batch
	}

	capturedAt := observedAt
	snapshot := &models.MarketSnapshot{
		EventID:         eventID,
		Bookmaker:       bookmaker,
		Markets:         next,
		CapturedAt:      capturedAt,
		LastConfirmedAt: observedAt,
		Digest:          models.SnapshotDigest(next),
	}
	c.snapshots[key] = snapshot

	return batch
}

// Confirm records that a scrape observed the slot unchanged: advances
// last_confirmed_at and returns a confirmation-only batch carrying one
// history point per live market. Returns nil when the slot is unknown.
func (c *Cache) Confirm(eventID int64, bookmaker models.Bookmaker, observedAt time.Time, cycleID int64) *models.WriteBatch {
	observedAt = models.NaiveUTC(observedAt)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := slotKey{EventID: eventID, Bookmaker: bookmaker}
	prev := c.snapshots[key]
	if prev == nil {
		return nil
	}

	next := &models.MarketSnapshot{
		EventID:         prev.EventID,
		Bookmaker:       prev.Bookmaker,
		Markets:         prev.Markets,
		CapturedAt:      prev.CapturedAt,
		LastConfirmedAt: observedAt,
		Digest:          prev.Digest,
	}
	c.snapshots[key] = next

	batch := models.NewWriteBatch(eventID, bookmaker, cycleID, observedAt)
	for _, m := range sortedMarkets(prev.Markets) {
		if m.UnavailableAt == nil {
			batch.Confirmations = append(batch.Confirmations, m.Clone())
		}
	}
	return batch
}

// GetCurrent returns deep copies of the bookmaker snapshots cached for an
// event. The map is keyed by bookmaker slug and omits absent slots.
func (c *Cache) GetCurrent(eventID int64) map[models.Bookmaker]*models.MarketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[models.Bookmaker]*models.MarketSnapshot)
	for _, bm := range models.AllBookmakers() {
		snap, ok := c.snapshots[slotKey{EventID: eventID, Bookmaker: bm}]
		if !ok {
			continue
		}
		out[bm] = copySnapshot(snap)
	}
	return out
}

// BookmakersPresent is the derived index: which bookmakers currently have
// a snapshot for the event.
func (c *Cache) BookmakersPresent(eventID int64) []models.Bookmaker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var present []models.Bookmaker
	for _, bm := range models.AllBookmakers() {
		if _, ok := c.snapshots[slotKey{EventID: eventID, Bookmaker: bm}]; ok {
			present = append(present, bm)
		}
	}
	return present
}

// Slots returns every (event, bookmaker) pair currently cached. The
// reconciliation pass walks this against the cycle's discovery result.
func (c *Cache) Slots() map[int64][]models.Bookmaker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int64][]models.Bookmaker)
	for key := range c.snapshots {
		out[key.EventID] = append(out[key.EventID], key.Bookmaker)
	}
	return out
}

// MarkUnavailable flags every live market in the slot unavailable. Used by
// the reconciliation pass when an event silently drops from a bookmaker's
// discovery list. Returns nil when the slot is unknown or already fully
// unavailable.
func (c *Cache) MarkUnavailable(eventID int64, bookmaker models.Bookmaker, observedAt time.Time, cycleID int64) *models.WriteBatch {
	observedAt = models.NaiveUTC(observedAt)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := slotKey{EventID: eventID, Bookmaker: bookmaker}
	prev := c.snapshots[key]
	if prev == nil {
		return nil
	}

	batch := models.NewWriteBatch(eventID, bookmaker, cycleID, observedAt)
	next := make(map[string]*models.Market, len(prev.Markets))
	for k, m := range prev.Markets {
		cm := m.Clone()
		if cm.UnavailableAt == nil {
			at := observedAt
			cm.UnavailableAt = &at
			batch.Unavailable = append(batch.Unavailable, cm)
		}
		next[k] = cm
	}

	if !batch.HasChanges() {
		return nil
	}

	c.snapshots[key] = &models.MarketSnapshot{
		EventID:         prev.EventID,
		Bookmaker:       prev.Bookmaker,
		Markets:         next,
		CapturedAt:      prev.CapturedAt,
		LastConfirmedAt: prev.LastConfirmedAt,
		Digest:          models.SnapshotDigest(next),
	}
	return batch
}

// MarkAvailable clears unavailable_at on a single market identity that
// returned. The inverse of the per-market unavailability transition.
func (c *Cache) MarkAvailable(eventID int64, bookmaker models.Bookmaker, marketKey string, observedAt time.Time, cycleID int64) *models.WriteBatch {
	observedAt = models.NaiveUTC(observedAt)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := slotKey{EventID: eventID, Bookmaker: bookmaker}
	prev := c.snapshots[key]
	if prev == nil {
		return nil
	}
	m, ok := prev.Markets[marketKey]
	if !ok || m.UnavailableAt == nil {
		return nil
	}

	next := make(map[string]*models.Market, len(prev.Markets))
	for k, pm := range prev.Markets {
		next[k] = pm
	}
	restored := m.Clone()
	restored.UnavailableAt = nil
	next[marketKey] = restored

	c.snapshots[key] = &models.MarketSnapshot{
		EventID:         prev.EventID,
		Bookmaker:       prev.Bookmaker,
		Markets:         next,
		CapturedAt:      prev.CapturedAt,
		LastConfirmedAt: prev.LastConfirmedAt,
		Digest:          models.SnapshotDigest(next),
	}

	batch := models.NewWriteBatch(eventID, bookmaker, cycleID, observedAt)
	batch.Restored = append(batch.Restored, restored.Clone())
	return batch
}

// EvictExpired drops every slot whose event kicked off more than one hour
// before now, and the event's kickoff index entry with it. Both sides of
// the comparison are normalised to naive UTC first; a zoned now against a
// naive kickoff silently evicts everything, which is exactly the defect
// this guards against.
func (c *Cache) EvictExpired(now time.Time) []int64 {
	cutoff := models.NaiveUTC(now).Add(-evictionGrace)

	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []int64
	for eventID, kickoff := range c.kickoffs {
		if !models.NaiveUTC(kickoff).Before(cutoff) {
			continue
		}
		for _, bm := range models.AllBookmakers() {
			delete(c.snapshots, slotKey{EventID: eventID, Bookmaker: bm})
		}
		delete(c.kickoffs, eventID)
		evicted = append(evicted, eventID)
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

// Len returns the number of cached slots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

// EventCount returns the number of tracked events.
func (c *Cache) EventCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kickoffs)
}

// Kickoff returns the tracked kickoff for an event.
func (c *Cache) Kickoff(eventID int64) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.kickoffs[eventID]
	return t, ok
}

func copySnapshot(s *models.MarketSnapshot) *models.MarketSnapshot {
	markets := make(map[string]*models.Market, len(s.Markets))
	for k, m := range s.Markets {
		markets[k] = m.Clone()
	}
	return &models.MarketSnapshot{
		EventID:         s.EventID,
		Bookmaker:       s.Bookmaker,
		Markets:         markets,
		CapturedAt:      s.CapturedAt,
		LastConfirmedAt: s.LastConfirmedAt,
		Digest:          s.Digest,
	}
}

func sortedMarkets(markets map[string]*models.Market) []*models.Market {
	keys := make([]string, 0, len(markets))
	for k := range markets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.Market, 0, len(keys))
	for _, k := range keys {
		out = append(out, markets[k])
	}
	return out
}
