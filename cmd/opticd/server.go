package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/optic-one/opticd/internal/api"
	"github.com/optic-one/opticd/internal/backend"
	"github.com/optic-one/opticd/internal/cache"
	"github.com/optic-one/opticd/internal/capture"
	"github.com/optic-one/opticd/internal/config"
	"github.com/optic-one/opticd/internal/history"
	"github.com/optic-one/opticd/internal/monitor"
	"github.com/optic-one/opticd/internal/notify"
	"github.com/optic-one/opticd/internal/ollama"
	"github.com/optic-one/opticd/internal/orchestrator"
	"github.com/optic-one/opticd/internal/pressure"
	"github.com/optic-one/opticd/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the opticd daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "opticd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference backend readiness, pulling missing models.
	client := ollama.New(cfg.Ollama.BaseURL)
	models := []string{cfg.Ollama.Model, cfg.Ollama.VisionModel}
	if err := ollama.EnsureReady(ctx, client, models, os.Stderr); err != nil {
		return err
	}

	// Open the query log.
	hist, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() {
		if err := hist.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing history store: %v\n", err)
		}
	}()

	// Assemble the core.
	probe := monitor.Detect()
	mon := monitor.New(probe, cfg.Monitor.PollInterval(), cfg.Monitor.Thresholds)
	responseCache := cache.New(cfg.Cache.Capacity)
	infer := backend.NewOllama(cfg.Ollama.BaseURL)
	sched := scheduler.New(infer, responseCache, mon, scheduler.Config{
		Limits:         cfg.Scheduler.MaxConcurrent.Limits(),
		QueueDepth:     cfg.Scheduler.QueueDepth,
		SessionTimeout: cfg.Session.Timeout(),
	})
	queue := notify.NewQueue()
	dispatcher := notify.NewDispatcher(queue, notify.ConsoleSink{W: os.Stdout})
	orch := orchestrator.New(responseCache, sched, queue, capture.FileSource{}, hist, orchestrator.Config{
		Model:       cfg.Ollama.Model,
		VisionModel: cfg.Ollama.VisionModel,
		AutoRetry:   cfg.Session.AutoRetry,
	})

	// Pressure edges surface on the display and re-evaluate the queue.
	mon.OnAlert(func(a monitor.Alert) {
		queue.Push(pressureItem(a))
		sched.Kick()
	})

	handler := api.NewHandler(api.Deps{
		Orchestrator: orch,
		Monitor:      mon,
		Cache:        responseCache,
		Scheduler:    sched,
		History:      hist,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mon.Run(gctx)
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	if cfg.Preload.Enabled {
		g.Go(func() error {
			orch.Preload(gctx, mon, cfg.Preload.Prompts)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("opticd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("opticd stopped")
	return err
}

// pressureItem renders one pressure edge as a display notification. All
// pressure items share a dedupe key so rapid flapping never floods the queue.
func pressureItem(a monitor.Alert) notify.Item {
	priority := notify.Info
	text := fmt.Sprintf("resource pressure %s", a.To)
	switch {
	case a.To == pressure.Critical:
		priority = notify.Critical
		text = "resource pressure critical: new requests suspended"
		if a.Stale {
			text = "resource probe unreliable: assuming critical pressure"
		}
	case a.To > a.From:
		priority = notify.Warning
	default:
		text = fmt.Sprintf("resource pressure recovered to %s", a.To)
	}
	return notify.Item{
		Text:      text,
		Priority:  priority,
		DedupeKey: "pressure",
	}
}
