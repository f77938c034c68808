package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/optic-one/opticd/internal/history"
	"github.com/optic-one/opticd/internal/notify"
	"github.com/optic-one/opticd/internal/scheduler"
)

// Reply is a pull-based chunk stream, uniform across live sessions and cache
// replays. Recv returns io.EOF after the final chunk; any other error is the
// terminal failure. Cancel requests cooperative cancellation.
type Reply interface {
	Recv() (string, error)
	Text() string
	Cached() bool
	Cancel()
}

// replayReply wraps a cached answer as a single-chunk pseudo-stream.
type replayReply struct {
	answer    string
	delivered bool
}

func (r *replayReply) Recv() (string, error) {
	if r.delivered {
		return "", io.EOF
	}
	r.delivered = true
	return r.answer, nil
}

func (r *replayReply) Text() string { return r.answer }
func (r *replayReply) Cached() bool { return true }
func (r *replayReply) Cancel()      {}

// liveReply adapts a streaming session to the Reply interface and applies
// the orchestrator's retry-once policy for backend timeouts.
type liveReply struct {
	o        *Orchestrator
	ctx      context.Context
	query    scheduler.Query
	sess     *scheduler.Session
	start    time.Time
	retried  bool
	finished bool
}

func (r *liveReply) Recv() (string, error) {
	chunk, err := r.sess.Recv()
	if err == nil {
		return chunk, nil
	}

	if r.shouldRetry(err) {
		r.retried = true
		fresh, serr := r.o.sched.Submit(r.ctx, r.query)
		if serr == nil {
			r.o.logger.Info("retrying after backend timeout", "query_id", r.query.ID)
			r.sess = fresh
			return r.Recv()
		}
		r.o.logger.Warn("retry admission failed", "query_id", r.query.ID, "error", serr)
	}

	r.finish(err)
	return "", err
}

// shouldRetry allows exactly one automatic retry, only for timeouts, only
// for idempotent kinds, and only if no chunk reached the caller yet —
// replaying a stream that already emitted output would duplicate it.
func (r *liveReply) shouldRetry(err error) bool {
	return errors.Is(err, scheduler.ErrBackendTimeout) &&
		r.o.cfg.AutoRetry &&
		r.query.Kind.Idempotent() &&
		!r.retried &&
		r.sess.ChunksEmitted() == 0
}

func (r *liveReply) Text() string { return r.sess.Text() }
func (r *liveReply) Cached() bool { return false }
func (r *liveReply) Cancel()      { r.sess.Cancel() }

// finish mirrors the terminal outcome into the notification queue, metrics,
// and the history log, exactly once.
func (r *liveReply) finish(err error) {
	if r.finished {
		return
	}
	r.finished = true

	elapsed := time.Since(r.start)
	item := notify.Item{
		Priority:  notify.Info,
		DedupeKey: "query:" + r.query.ID.String(),
		ExpiresAt: time.Now().Add(activityTTL),
	}
	outcome := history.Outcome{
		ID:         r.query.ID.String(),
		Kind:       string(r.query.Kind),
		Prompt:     r.query.Prompt,
		DurationMs: elapsed.Milliseconds(),
	}

	switch {
	case err == io.EOF:
		item.Text = "answer ready"
		outcome.Outcome = "completed"
		r.o.observeDuration(elapsed)
	case errors.Is(err, scheduler.ErrCancelled):
		item.Text = "request cancelled"
		outcome.Outcome = "cancelled"
	default:
		item.Text = "request failed"
		item.Priority = notify.Warning
		outcome.Outcome = "failed"
	}

	r.o.notif.Push(item)
	r.o.record(outcome)
}
