package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/optic-one/opticd/internal/backend"
	"github.com/optic-one/opticd/internal/pressure"
)

// chunkStream yields its chunks then io.EOF (or a scripted terminal error).
type chunkStream struct {
	chunks  []string
	termErr error
	idx     int
}

func (s *chunkStream) Recv() (string, error) {
	if s.idx < len(s.chunks) {
		c := s.chunks[s.idx]
		s.idx++
		return c, nil
	}
	if s.termErr != nil {
		return "", s.termErr
	}
	return "", io.EOF
}

func (s *chunkStream) Close() error { return nil }

// blockingStream blocks in Recv until released (then ends the stream) or
// closed (then fails like a dropped connection).
type blockingStream struct {
	release   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newBlockingStream() *blockingStream {
	return &blockingStream{
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *blockingStream) Recv() (string, error) {
	select {
	case <-s.release:
		return "", io.EOF
	case <-s.closed:
		return "", errors.New("connection closed")
	}
}

func (s *blockingStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fakeBackend hands out scripted streams and records StartStream order.
type fakeBackend struct {
	mu      sync.Mutex
	prompts []string
	streams []backend.Stream
	err     error
}

func (b *fakeBackend) StartStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, req.Prompt)
	if b.err != nil {
		return nil, b.err
	}
	if len(b.streams) == 0 {
		return &chunkStream{}, nil
	}
	s := b.streams[0]
	b.streams = b.streams[1:]
	return s, nil
}

func (b *fakeBackend) IsRunning(ctx context.Context) bool { return true }

func (b *fakeBackend) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

// fakeLevel is a settable pressure source.
type fakeLevel struct {
	mu    sync.Mutex
	level pressure.Level
}

func (f *fakeLevel) Level() pressure.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeLevel) set(l pressure.Level) {
	f.mu.Lock()
	f.level = l
	f.mu.Unlock()
}

// fakeStore records cache writes.
type fakeStore struct {
	mu   sync.Mutex
	puts map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{puts: make(map[string]string)}
}

func (s *fakeStore) Put(key, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[key] = answer
}

func (s *fakeStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.puts[key]
	return v, ok
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

// drain consumes a session to its terminal event.
func drain(t *testing.T, sess *Session) (string, error) {
	t.Helper()
	var text string
	for {
		chunk, err := sess.Recv()
		if err != nil {
			return text, err
		}
		text += chunk
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestScheduler(b backend.Backend, store Store, source PressureSource, cfg Config) *Scheduler {
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 2 * time.Second
	}
	return New(b, store, source, cfg)
}

func TestSubmitAdmitsUnderLimit(t *testing.T) {
	be := &fakeBackend{streams: []backend.Stream{&chunkStream{chunks: []string{"hi"}}}}
	store := newFakeStore()
	s := newTestScheduler(be, store, &fakeLevel{}, Config{})

	q := NewQuery(KindText, "hello", "phi3.5", "key-1")
	sess, err := s.Submit(context.Background(), q)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	text, err := drain(t, sess)
	if err != io.EOF {
		t.Fatalf("terminal = %v, want io.EOF", err)
	}
	if text != "hi" {
		t.Errorf("text = %q, want hi", text)
	}
	if sess.State() != Completed {
		t.Errorf("state = %v, want Completed", sess.State())
	}

	waitFor(t, "cache write", func() bool { return store.len() == 1 })
	if answer, _ := store.get("key-1"); answer != "hi" {
		t.Errorf("cached answer = %q, want hi", answer)
	}
}

func TestAdmissionCeiling(t *testing.T) {
	streams := []*blockingStream{newBlockingStream(), newBlockingStream(), newBlockingStream()}
	be := &fakeBackend{streams: []backend.Stream{streams[0], streams[1], streams[2]}}
	source := &fakeLevel{level: pressure.Elevated} // limit 2
	s := newTestScheduler(be, newFakeStore(), source, Config{})

	a, err := s.Submit(context.Background(), NewQuery(KindText, "a", "m", "ka"))
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	b, err := s.Submit(context.Background(), NewQuery(KindText, "b", "m", "kb"))
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}
	c, err := s.Submit(context.Background(), NewQuery(KindText, "c", "m", "kc"))
	if err != nil {
		t.Fatalf("Submit c: %v", err)
	}

	waitFor(t, "two streaming sessions", func() bool {
		return a.State() == Streaming && b.State() == Streaming
	})
	if got := c.State(); got != Pending {
		t.Errorf("third session state = %v, want Pending", got)
	}

	stats := s.Stats()
	if stats.InFlight != 2 || stats.Queued != 1 {
		t.Errorf("stats = %+v, want 2 in flight, 1 queued", stats)
	}

	// Completing one session promotes the queued one.
	close(streams[0].release)
	if _, err := drain(t, a); err != io.EOF {
		t.Fatalf("a terminal = %v, want io.EOF", err)
	}
	waitFor(t, "queued session promoted", func() bool { return c.State() == Streaming })
}

func TestQueueServedFIFO(t *testing.T) {
	streams := []*blockingStream{newBlockingStream(), newBlockingStream(), newBlockingStream()}
	be := &fakeBackend{streams: []backend.Stream{streams[0], streams[1], streams[2]}}
	source := &fakeLevel{level: pressure.Low} // limit 1
	s := newTestScheduler(be, newFakeStore(), source, Config{})

	a, _ := s.Submit(context.Background(), NewQuery(KindText, "a", "m", "ka"))
	s.Submit(context.Background(), NewQuery(KindText, "b", "m", "kb"))
	s.Submit(context.Background(), NewQuery(KindText, "c", "m", "kc"))

	waitFor(t, "first session started", func() bool { return len(be.calls()) == 1 })

	close(streams[0].release)
	drain(t, a)
	waitFor(t, "second session started", func() bool { return len(be.calls()) == 2 })

	close(streams[1].release)
	waitFor(t, "third session started", func() bool { return len(be.calls()) == 3 })

	if calls := be.calls(); calls[0] != "a" || calls[1] != "b" || calls[2] != "c" {
		t.Errorf("start order = %v, want [a b c]", calls)
	}
}

func TestOverloadedWhenQueueFull(t *testing.T) {
	be := &fakeBackend{streams: []backend.Stream{newBlockingStream()}}
	source := &fakeLevel{level: pressure.Low} // limit 1
	s := newTestScheduler(be, newFakeStore(), source, Config{QueueDepth: 2})

	for i, prompt := range []string{"a", "b", "c"} {
		if _, err := s.Submit(context.Background(), NewQuery(KindText, prompt, "m", "")); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	_, err := s.Submit(context.Background(), NewQuery(KindText, "d", "m", ""))
	if !errors.Is(err, ErrOverloaded) {
		t.Errorf("Submit with full queue = %v, want ErrOverloaded", err)
	}
}

// TestCriticalAdmission covers the Critical-pressure rule: non-essential
// kinds are rejected outright while an emergency query still queues, with a
// reserved depth of one.
func TestCriticalAdmission(t *testing.T) {
	be := &fakeBackend{}
	source := &fakeLevel{level: pressure.Critical}
	s := newTestScheduler(be, newFakeStore(), source, Config{})

	if _, err := s.Submit(context.Background(), NewQuery(KindText, "x", "m", "")); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("text at Critical = %v, want ErrResourceExhausted", err)
	}
	if _, err := s.Submit(context.Background(), NewQuery(KindVision, "x", "m", "")); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("vision at Critical = %v, want ErrResourceExhausted", err)
	}

	em, err := s.Submit(context.Background(), NewQuery(KindEmergency, "help", "m", ""))
	if err != nil {
		t.Fatalf("emergency at Critical: %v", err)
	}
	if em.State() != Pending {
		t.Errorf("emergency state = %v, want Pending (queued, not streaming)", em.State())
	}
	if calls := be.calls(); len(calls) != 0 {
		t.Errorf("no inference may start at Critical, got %d calls", len(calls))
	}

	if _, err := s.Submit(context.Background(), NewQuery(KindEmergency, "more", "m", "")); !errors.Is(err, ErrOverloaded) {
		t.Errorf("second emergency = %v, want ErrOverloaded (depth 1)", err)
	}
}

// TestZeroLimitBelowCriticalQueues pins the essential-only rule to the
// Critical level itself: a configured ceiling of zero at a milder level
// still queues non-essential work normally.
func TestZeroLimitBelowCriticalQueues(t *testing.T) {
	limits := DefaultLimits()
	limits[pressure.Low] = 0
	source := &fakeLevel{level: pressure.Low}
	s := newTestScheduler(&fakeBackend{}, newFakeStore(), source, Config{Limits: limits})

	sess, err := s.Submit(context.Background(), NewQuery(KindText, "x", "m", ""))
	if err != nil {
		t.Fatalf("Submit with zero limit at Low = %v, want queued", err)
	}
	if sess.State() != Pending {
		t.Errorf("state = %v, want Pending", sess.State())
	}
	if stats := s.Stats(); stats.Queued != 1 {
		t.Errorf("queued = %d, want 1", stats.Queued)
	}
}

func TestKickPromotesAfterRecovery(t *testing.T) {
	be := &fakeBackend{streams: []backend.Stream{&chunkStream{chunks: []string{"ok"}}}}
	source := &fakeLevel{level: pressure.Critical}
	s := newTestScheduler(be, newFakeStore(), source, Config{})

	em, err := s.Submit(context.Background(), NewQuery(KindEmergency, "help", "m", ""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	source.set(pressure.Normal)
	s.Kick()

	text, err := drain(t, em)
	if err != io.EOF {
		t.Fatalf("terminal = %v, want io.EOF", err)
	}
	if text != "ok" {
		t.Errorf("text = %q, want ok", text)
	}
}

func TestCancelWhileQueued(t *testing.T) {
	blocker := newBlockingStream()
	be := &fakeBackend{streams: []backend.Stream{blocker}}
	source := &fakeLevel{level: pressure.Low} // limit 1
	s := newTestScheduler(be, newFakeStore(), source, Config{})

	a, _ := s.Submit(context.Background(), NewQuery(KindText, "a", "m", ""))
	b, _ := s.Submit(context.Background(), NewQuery(KindText, "b", "m", ""))

	b.Cancel()
	close(blocker.release)
	drain(t, a)

	if _, err := drain(t, b); !errors.Is(err, ErrCancelled) {
		t.Errorf("cancelled queued session terminal = %v, want ErrCancelled", err)
	}
	waitFor(t, "b terminal", func() bool { return b.State() == Cancelled })

	if calls := be.calls(); len(calls) != 1 {
		t.Errorf("backend calls = %d, want 1 (b never started)", len(calls))
	}
}

func TestKindProperties(t *testing.T) {
	if !KindEmergency.Essential() {
		t.Error("emergency must be essential")
	}
	if KindText.Essential() {
		t.Error("text must not be essential")
	}
	if KindVoice.Idempotent() {
		t.Error("voice must not be idempotent")
	}
	if !KindText.Idempotent() || !KindVision.Idempotent() {
		t.Error("text and vision must be idempotent")
	}
}
