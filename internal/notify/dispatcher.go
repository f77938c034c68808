package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Sink renders notifications on the display. Render must not block for long;
// from the queue's perspective delivery is fire-and-forget.
type Sink interface {
	Render(item Item)
}

// Dispatcher is the single consumer loop draining the queue into a Sink.
type Dispatcher struct {
	queue  *Queue
	sink   Sink
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher draining queue into sink.
func NewDispatcher(queue *Queue, sink Sink) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		sink:   sink,
		logger: slog.Default(),
	}
}

// Run drains notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		for {
			item, ok := d.queue.DrainNext()
			if !ok {
				break
			}
			d.logger.Debug("rendering notification",
				"priority", item.Priority.String(), "dedupe_key", item.DedupeKey)
			d.sink.Render(item)
		}

		select {
		case <-ctx.Done():
			return
		case <-d.queue.wake:
		}
	}
}

// ConsoleSink writes notifications to a terminal-style display surface.
type ConsoleSink struct {
	W io.Writer
}

func (s ConsoleSink) Render(item Item) {
	prefix := "·"
	switch item.Priority {
	case Warning:
		prefix = "!"
	case Critical:
		prefix = "!!"
	}
	fmt.Fprintf(s.W, "[%s] %s %s\n", time.Now().Format("15:04:05"), prefix, item.Text)
}
