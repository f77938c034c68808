package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/optic-one/opticd/internal/backend"
	"github.com/optic-one/opticd/internal/pressure"
)

// Store receives final answers from completed sessions.
type Store interface {
	Put(key, answer string)
}

// PressureSource reports the current pressure level at admission time.
type PressureSource interface {
	Level() pressure.Level
}

// DefaultQueueDepth bounds the FIFO wait queue.
const DefaultQueueDepth = 5

// criticalQueueDepth is the reserved queue depth for essential queries when
// pressure is Critical.
const criticalQueueDepth = 1

// DefaultLimits is the stock mapping from pressure level to the maximum
// number of concurrent inference sessions.
func DefaultLimits() map[pressure.Level]int {
	return map[pressure.Level]int{
		pressure.Normal:   3,
		pressure.Elevated: 2,
		pressure.Low:      1,
		pressure.Critical: 0,
	}
}

// Config tunes the scheduler.
type Config struct {
	Limits         map[pressure.Level]int
	QueueDepth     int
	SessionTimeout time.Duration
}

type queuedItem struct {
	sess *Session
	ctx  context.Context
}

// Stats is a snapshot of scheduler occupancy.
type Stats struct {
	InFlight int    `json:"in_flight"`
	Queued   int    `json:"queued"`
	Limit    int    `json:"limit"`
	Level    string `json:"level"`
}

// Scheduler admits inference sessions up to a pressure-dependent concurrency
// ceiling, queueing the overflow FIFO. The ceiling is enforced at admission
// and queue promotion only: a pressure rise never preempts sessions already
// in flight, since cancellation is cooperative and honored at chunk
// boundaries. All state is guarded by one mutex.
type Scheduler struct {
	backend backend.Backend
	store   Store
	source  PressureSource
	limits  map[pressure.Level]int
	depth   int
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inflight int
	queue    []queuedItem
}

// New creates a Scheduler. Zero-value config fields fall back to defaults.
func New(b backend.Backend, store Store, source PressureSource, cfg Config) *Scheduler {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		backend: b,
		store:   store,
		source:  source,
		limits:  limits,
		depth:   depth,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Submit applies the admission rule to q. It returns a live session on
// immediate admission, a pending session when queued, ErrResourceExhausted
// for non-essential work at Critical pressure, or ErrOverloaded when the
// queue is full. Queued queries are served strictly FIFO.
func (s *Scheduler) Submit(ctx context.Context, q Query) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := s.source.Level()
	limit := s.limitFor(level)
	sess := newSession(q, s.backend, s.store, s.timeout, s.release)

	if s.inflight < limit {
		s.inflight++
		go sess.run(ctx)
		return sess, nil
	}

	if level == pressure.Critical {
		// Critical: only the essential kind may wait, and only in a depth-1
		// reserved queue. A zero limit at any other level still queues
		// normally below.
		if !q.Kind.Essential() {
			return nil, ErrResourceExhausted
		}
		if s.queuedEssentialLocked() >= criticalQueueDepth {
			return nil, ErrOverloaded
		}
	} else if len(s.queue) >= s.depth {
		return nil, ErrOverloaded
	}

	s.queue = append(s.queue, queuedItem{sess: sess, ctx: ctx})
	s.logger.Debug("query queued",
		"query_id", q.ID, "kind", string(q.Kind), "depth", len(s.queue))
	return sess, nil
}

// Kick re-evaluates the queue against the current pressure level. Wired to
// monitor alerts so recovery promotes waiting queries promptly.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked()
}

// Stats returns current occupancy.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	level := s.source.Level()
	return Stats{
		InFlight: s.inflight,
		Queued:   len(s.queue),
		Limit:    s.limitFor(level),
		Level:    level.String(),
	}
}

// release is invoked by a session reaching a terminal state.
func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	s.promoteLocked()
}

func (s *Scheduler) promoteLocked() {
	limit := s.limitFor(s.source.Level())
	for s.inflight < limit && len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]

		// Abandoned while waiting: terminal without taking a slot.
		if item.sess.cancelled.Load() || item.ctx.Err() != nil {
			item.sess.abort(ErrCancelled)
			continue
		}

		s.inflight++
		go item.sess.run(item.ctx)
	}
}

func (s *Scheduler) queuedEssentialLocked() int {
	n := 0
	for _, item := range s.queue {
		if item.sess.query.Kind.Essential() {
			n++
		}
	}
	return n
}

func (s *Scheduler) limitFor(level pressure.Level) int {
	if limit, ok := s.limits[level]; ok {
		return limit
	}
	return 0
}
