// Package orchestrator wires the cache, scheduler, monitor, and notification
// queue behind the public ask/analyze-scene surface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/optic-one/opticd/internal/cache"
	"github.com/optic-one/opticd/internal/capture"
	"github.com/optic-one/opticd/internal/history"
	"github.com/optic-one/opticd/internal/notify"
	"github.com/optic-one/opticd/internal/scheduler"
)

// activityTTL bounds how long routine activity notifications stay relevant.
const activityTTL = time.Minute

// Notifier receives one item per terminal outcome so the display reflects
// system activity.
type Notifier interface {
	Push(item notify.Item)
}

// Recorder persists terminal outcomes. A nil Recorder disables logging.
type Recorder interface {
	Record(o history.Outcome) error
}

// Config tunes the orchestrator.
type Config struct {
	Model       string
	VisionModel string
	AutoRetry   bool
}

// Metrics summarizes orchestrator activity.
type Metrics struct {
	TotalRequests int   `json:"total_requests"`
	AvgResponseMs int64 `json:"avg_response_ms"`
}

// Orchestrator owns queries from submission to terminal state.
type Orchestrator struct {
	cache   *cache.Cache
	sched   *scheduler.Scheduler
	notif   Notifier
	frames  capture.Source
	rec     Recorder
	logger  *slog.Logger
	cfg     Config

	mu            sync.Mutex
	totalRequests int
	totalDuration time.Duration
	completed     int
}

// New creates an Orchestrator. rec may be nil.
func New(c *cache.Cache, s *scheduler.Scheduler, n Notifier, frames capture.Source, rec Recorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		cache:  c,
		sched:  s,
		notif:  n,
		frames: frames,
		rec:    rec,
		logger: slog.Default(),
		cfg:    cfg,
	}
}

// Ask answers a text query as a chunk stream. Cache hits come back as a
// single-chunk replay stream so callers see one uniform interface.
func (o *Orchestrator) Ask(ctx context.Context, prompt string) (Reply, error) {
	return o.AskKind(ctx, scheduler.KindText, prompt)
}

// AskKind is Ask with an explicit query kind (voice, emergency).
func (o *Orchestrator) AskKind(ctx context.Context, kind scheduler.Kind, prompt string) (Reply, error) {
	return o.run(ctx, kind, prompt, "", nil, "", o.cfg.Model)
}

// SceneResult is the structured outcome of a vision query.
type SceneResult struct {
	Description string `json:"description"`
	Model       string `json:"model"`
	Cached      bool   `json:"cached"`
	DurationMs  int64  `json:"duration_ms"`
}

// sceneSystemPrompt keeps vision answers short enough for a wearable display.
const sceneSystemPrompt = "You are the eyes of a wearable assistant. " +
	"Describe the scene in at most three short sentences."

// AnalyzeScene captures the referenced frame, runs it through the vision
// model, and returns the fully accumulated structured result.
func (o *Orchestrator) AnalyzeScene(ctx context.Context, imageRef string) (SceneResult, error) {
	img, err := o.frames.Capture(ctx, imageRef)
	if err != nil {
		o.notif.Push(notify.Item{
			Text:      "scene capture failed",
			Priority:  notify.Warning,
			DedupeKey: "scene-capture",
			ExpiresAt: time.Now().Add(activityTTL),
		})
		return SceneResult{}, fmt.Errorf("capturing scene: %w", err)
	}

	start := time.Now()
	reply, err := o.run(ctx, scheduler.KindVision, "Describe what is in front of me.",
		sceneSystemPrompt, []string{img.Base64}, cache.ImageDigest(img.Data), o.cfg.VisionModel)
	if err != nil {
		return SceneResult{}, err
	}

	for {
		if _, err := reply.Recv(); err != nil {
			if err == io.EOF {
				break
			}
			return SceneResult{}, err
		}
	}

	return SceneResult{
		Description: reply.Text(),
		Model:       o.cfg.VisionModel,
		Cached:      reply.Cached(),
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

// run is the shared pipeline: cache lookup, then scheduler admission.
func (o *Orchestrator) run(ctx context.Context, kind scheduler.Kind, prompt, system string, images []string, imageDigest, model string) (Reply, error) {
	o.mu.Lock()
	o.totalRequests++
	o.mu.Unlock()

	key := cache.Key(string(kind), prompt, imageDigest, model)

	if entry, ok := o.cache.Get(key); ok {
		o.logger.Debug("cache hit", "kind", string(kind), "key", key[:8])
		o.notif.Push(notify.Item{
			Text:      "answered from cache",
			Priority:  notify.Info,
			DedupeKey: "cache-hit",
			ExpiresAt: time.Now().Add(activityTTL),
		})
		o.record(history.Outcome{
			Kind:    string(kind),
			Prompt:  prompt,
			Outcome: "hit",
			Cached:  true,
		})
		return &replayReply{answer: entry.Answer}, nil
	}

	q := scheduler.NewQuery(kind, prompt, model, key)
	q.System = system
	q.Images = images

	sess, err := o.sched.Submit(ctx, q)
	if err != nil {
		o.rejected(q, err)
		return nil, err
	}

	return &liveReply{
		o:     o,
		ctx:   ctx,
		query: q,
		sess:  sess,
		start: time.Now(),
	}, nil
}

func (o *Orchestrator) rejected(q scheduler.Query, err error) {
	text := "request rejected"
	switch {
	case errors.Is(err, scheduler.ErrResourceExhausted):
		text = "battery too low for new requests"
	case errors.Is(err, scheduler.ErrOverloaded):
		text = "assistant is busy, try again shortly"
	}
	o.notif.Push(notify.Item{
		Text:      text,
		Priority:  notify.Warning,
		DedupeKey: "admission",
		ExpiresAt: time.Now().Add(activityTTL),
	})
	o.record(history.Outcome{
		ID:      q.ID.String(),
		Kind:    string(q.Kind),
		Prompt:  q.Prompt,
		Outcome: "rejected",
	})
	o.logger.Warn("query rejected", "query_id", q.ID, "kind", string(q.Kind), "error", err)
}

func (o *Orchestrator) record(outcome history.Outcome) {
	if o.rec == nil {
		return
	}
	if err := o.rec.Record(outcome); err != nil {
		o.logger.Warn("recording outcome failed", "error", err)
	}
}

func (o *Orchestrator) observeDuration(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed++
	o.totalDuration += d
}

// Metrics returns aggregate request counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := Metrics{TotalRequests: o.totalRequests}
	if o.completed > 0 {
		m.AvgResponseMs = (o.totalDuration / time.Duration(o.completed)).Milliseconds()
	}
	return m
}
