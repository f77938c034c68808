package orchestrator

import (
	"context"

	"github.com/optic-one/opticd/internal/cache"
	"github.com/optic-one/opticd/internal/pressure"
	"github.com/optic-one/opticd/internal/scheduler"
)

// PressureSource gates background work on the current pressure level.
type PressureSource interface {
	Level() pressure.Level
}

// Preload warms the response cache by asking each prompt through the normal
// pipeline, so admission control still governs the work. Already-cached
// prompts are skipped. Preloading is opportunistic: it stops as soon as
// pressure rises above Normal or the context is cancelled.
func (o *Orchestrator) Preload(ctx context.Context, source PressureSource, prompts []string) {
	for _, prompt := range prompts {
		if ctx.Err() != nil {
			return
		}
		if level := source.Level(); level != pressure.Normal {
			o.logger.Debug("preload stopped", "level", level.String())
			return
		}

		key := cache.Key(string(scheduler.KindText), prompt, "", o.cfg.Model)
		if o.cache.Contains(key) {
			continue
		}

		o.logger.Debug("preloading answer", "prompt", prompt)
		reply, err := o.Ask(ctx, prompt)
		if err != nil {
			o.logger.Warn("preload stopped, admission failed", "error", err)
			return
		}
		for {
			if _, err := reply.Recv(); err != nil {
				break
			}
		}
	}
}
