// Package notify implements the priority notification queue feeding the
// display, with deduplication and lazy expiry of stale items.
package notify

import (
	"sync"
	"time"
)

// Priority orders notifications on the display. Critical > Warning > Info.
type Priority int

const (
	Info Priority = iota
	Warning
	Critical
)

func (p Priority) String() string {
	switch p {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "info"
	}
}

// Item is one notification destined for the display sink. Items sharing a
// DedupeKey supersede each other rather than queueing twice. A zero
// ExpiresAt means the item never expires.
type Item struct {
	Text      string    `json:"text"`
	Priority  Priority  `json:"priority"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
}

type queued struct {
	item Item
	seq  uint64
}

// Queue is a priority queue of notifications. Ordering is by Priority, then
// FIFO by arrival within equal priority. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []queued
	seq   uint64
	wake  chan struct{}
	now   func() time.Time
}

// NewQueue creates an empty notification queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Push enqueues an item. If a still-queued item has the same non-empty
// DedupeKey, its text, priority, and expiry are replaced in place instead of
// adding a duplicate; the item keeps its original queue position.
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	if item.DedupeKey != "" {
		for i := range q.items {
			if q.items[i].item.DedupeKey == item.DedupeKey {
				q.items[i].item = item
				q.mu.Unlock()
				q.signal()
				return
			}
		}
	}
	q.seq++
	q.items = append(q.items, queued{item: item, seq: q.seq})
	q.mu.Unlock()
	q.signal()
}

// DrainNext removes and returns the highest-priority unexpired item.
// Expired items encountered on the way are dropped, never delivered.
// The second return is false when the queue is empty.
func (q *Queue) DrainNext() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	// Drop everything already expired before picking.
	kept := q.items[:0]
	for _, it := range q.items {
		if !it.item.ExpiresAt.IsZero() && now.After(it.item.ExpiresAt) {
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept

	best := -1
	for i, it := range q.items {
		if best == -1 {
			best = i
			continue
		}
		b := q.items[best]
		if it.item.Priority > b.item.Priority ||
			(it.item.Priority == b.item.Priority && it.seq < b.seq) {
			best = i
		}
	}
	if best == -1 {
		return Item{}, false
	}

	item := q.items[best].item
	q.items = append(q.items[:best], q.items[best+1:]...)
	return item, true
}

// Len reports the number of queued items, including any not yet expired-swept.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signal wakes a blocked dispatcher without ever blocking the pusher.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
