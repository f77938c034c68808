// Package scheduler implements admission control for inference calls and the
// per-query streaming session state machine.
package scheduler

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a query. Emergency is the reserved essential kind that may
// still queue when pressure is Critical.
type Kind string

const (
	KindText      Kind = "text"
	KindVision    Kind = "vision"
	KindVoice     Kind = "voice"
	KindEmergency Kind = "emergency"
)

// Essential reports whether the kind is admitted (queued) even at Critical
// pressure.
func (k Kind) Essential() bool {
	return k == KindEmergency
}

// Idempotent reports whether a failed query of this kind may be retried
// automatically. Voice queries can carry device actions, so they are not.
func (k Kind) Idempotent() bool {
	return k != KindVoice
}

// Query is one unit of work for the inference backend. Immutable once created.
type Query struct {
	ID          uuid.UUID
	Kind        Kind
	Prompt      string
	System      string
	Model       string
	Images      []string
	CacheKey    string
	SubmittedAt time.Time
}

// NewQuery builds a Query with a fresh ID and submission timestamp.
func NewQuery(kind Kind, prompt, model, cacheKey string) Query {
	return Query{
		ID:          uuid.New(),
		Kind:        kind,
		Prompt:      prompt,
		Model:       model,
		CacheKey:    cacheKey,
		SubmittedAt: time.Now(),
	}
}

var (
	// ErrOverloaded means the wait queue is full; the caller should retry
	// later or drop the request.
	ErrOverloaded = errors.New("scheduler: queue full")

	// ErrResourceExhausted means pressure is too high to admit non-essential
	// work; the caller should inform the user and suppress requests.
	ErrResourceExhausted = errors.New("scheduler: resource pressure too high")

	// ErrBackendTimeout means no chunk arrived within the session timeout.
	ErrBackendTimeout = errors.New("session: backend timed out")

	// ErrCancelled means the caller requested cancellation and the session
	// honored it at a chunk boundary.
	ErrCancelled = errors.New("session: cancelled")
)
