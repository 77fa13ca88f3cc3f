package coordinator

import (
	"container/heap"
	"sync"
	"time"
)

// Urgency tiers bucket events by time to kickoff. In-play events never
// enter the queue.
const (
	tierImminent = iota // < 24h
	tierSoon            // 24-72h
	tierThisWeek        // 3-7d
	tierLater           // > 7d
)

// urgencyTier buckets a kickoff relative to now.
func urgencyTier(kickoff, now time.Time) int {
	until := kickoff.Sub(now)
	switch {
	case until < 24*time.Hour:
		return tierImminent
	case until < 72*time.Hour:
		return tierSoon
	case until < 7*24*time.Hour:
		return tierThisWeek
	default:
		return tierLater
	}
}

// queueItem is one event awaiting a scrape, with the fields the ordering
// key needs.
type queueItem struct {
	EventID    int64
	Kickoff    time.Time
	Coverage   int // bookmakers offering the event this cycle
	HasBetpawa bool
	tier       int
}

// itemHeap orders by (tier, kickoff ascending, coverage descending,
// betpawa-covered first).
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	if !a.Kickoff.Equal(b.Kickoff) {
		return a.Kickoff.Before(b.Kickoff)
	}
	if a.Coverage != b.Coverage {
		return a.Coverage > b.Coverage
	}
	return a.HasBetpawa && !b.HasBetpawa
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*queueItem)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is the scrape ordering for one cycle. It is rebuilt from
// the discovery result at cycle start and drained by the fan-out pool,
// so Pop is synchronised.
type priorityQueue struct {
	mu    sync.Mutex
	items itemHeap
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{}
}

// Rebuild replaces the queue contents and assigns urgency tiers as of
// now.
func (q *priorityQueue) Rebuild(items []*queueItem, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(itemHeap, 0, len(items))
	for _, item := range items {
		item.tier = urgencyTier(item.Kickoff, now)
		q.items = append(q.items, item)
	}
	heap.Init(&q.items)
}

// Pop removes and returns the highest-priority item, or false when the
// queue is drained.
func (q *priorityQueue) Pop() (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*queueItem), true
}

// Len returns the number of queued events.
func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
