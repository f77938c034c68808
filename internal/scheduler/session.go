package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/optic-one/opticd/internal/backend"
)

// State is a session's position in its one-directional life cycle:
// Pending → Streaming → {Completed, Failed, Cancelled}. No state is
// re-entered.
type State int

const (
	Pending State = iota
	Streaming
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

type event struct {
	chunk string
}

// Session drives one query's token-by-token delivery. It is owned by the
// scheduler for its lifetime; consumers pull chunks via Recv.
type Session struct {
	query   Query
	backend backend.Backend
	store   Store
	timeout time.Duration
	onDone  func()
	logger  *slog.Logger

	events    chan event
	cancelled atomic.Bool

	mu            sync.Mutex
	state         State
	text          strings.Builder
	chunksEmitted int
	termErr       error
}

func newSession(q Query, b backend.Backend, store Store, timeout time.Duration, onDone func()) *Session {
	return &Session{
		query:   q,
		backend: b,
		store:   store,
		timeout: timeout,
		onDone:  onDone,
		logger:  slog.Default(),
		events:  make(chan event),
		state:   Pending,
	}
}

// Query returns the session's immutable query.
func (s *Session) Query() Query { return s.query }

// State returns the current life cycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the accumulated response text so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// ChunksEmitted returns how many chunks have been delivered to the consumer.
func (s *Session) ChunksEmitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunksEmitted
}

// Cancel requests cooperative cancellation. The flag is observed at the next
// chunk boundary; nothing is preempted mid-operation.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Recv returns the next chunk in strict arrival order. After the terminal
// event it returns io.EOF for a completed session, or the terminal error for
// a failed or cancelled one.
func (s *Session) Recv() (string, error) {
	ev, ok := <-s.events
	if !ok {
		return "", s.Err()
	}
	return ev.chunk, nil
}

// Err returns the terminal error: io.EOF for Completed, ErrBackendTimeout or
// a wrapped backend error for Failed, ErrCancelled for Cancelled, and nil
// while the session is still live.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// run executes the session to a terminal state. Called by the scheduler on
// its own goroutine once the session is admitted.
func (s *Session) run(ctx context.Context) {
	defer s.onDone()
	defer close(s.events)

	if s.cancelled.Load() || ctx.Err() != nil {
		s.finish(Cancelled, ErrCancelled)
		return
	}

	stream, err := s.backend.StartStream(ctx, backend.Request{
		Model:  s.query.Model,
		Prompt: s.query.Prompt,
		System: s.query.System,
		Images: s.query.Images,
	})
	if err != nil {
		s.finish(Failed, fmt.Errorf("starting stream: %w", err))
		return
	}
	defer stream.Close()

	s.setState(Streaming)

	type recvResult struct {
		chunk string
		err   error
	}
	recvCh := make(chan recvResult)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			chunk, err := stream.Recv()
			select {
			case recvCh <- recvResult{chunk: chunk, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// Per-session watchdog: the only source of forced termination.
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case r := <-recvCh:
			if r.err == io.EOF {
				s.finish(Completed, nil)
				return
			}
			if r.err != nil {
				s.finish(Failed, fmt.Errorf("backend stream: %w", r.err))
				return
			}
			// Chunk boundary: the one place cancellation is honored.
			if s.cancelled.Load() {
				s.finish(Cancelled, ErrCancelled)
				return
			}
			s.append(r.chunk)
			select {
			case s.events <- event{chunk: r.chunk}:
			case <-ctx.Done():
				s.finish(Cancelled, ErrCancelled)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.timeout)
		case <-timer.C:
			s.finish(Failed, ErrBackendTimeout)
			return
		case <-ctx.Done():
			s.finish(Cancelled, ErrCancelled)
			return
		}
	}
}

func (s *Session) append(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text.WriteString(chunk)
	s.chunksEmitted++
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}

// finish records the terminal state. Only a completed session writes its
// accumulated text to the response store; cancelled partials are discarded.
func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	s.state = state
	switch state {
	case Completed:
		s.termErr = io.EOF
	default:
		s.termErr = err
	}
	text := s.text.String()
	if state == Cancelled {
		s.text.Reset()
	}
	s.mu.Unlock()

	if state == Completed && s.store != nil && s.query.CacheKey != "" {
		s.store.Put(s.query.CacheKey, text)
	}

	s.logger.Debug("session finished",
		"query_id", s.query.ID, "kind", string(s.query.Kind),
		"state", state.String(), "chunks", s.chunksEmitted)
}

// abort moves a still-pending session straight to a terminal state without
// ever taking a scheduler slot.
func (s *Session) abort(err error) {
	s.mu.Lock()
	s.state = Cancelled
	s.termErr = err
	s.mu.Unlock()
	close(s.events)
}
