// Package main runs the engine as a long-lived service: the ops HTTP API
// plus an optional strategy tick loop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"swap-engine/internal/api"
	"swap-engine/internal/app"
	"swap-engine/internal/config"
	"swap-engine/internal/strategy"
)

func main() {
	// Load .env file if exists
	config.LoadEnv()

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	tickInterval := flag.Duration("tick-interval", 0, "Strategy tick interval; 0 uses engine.tick_interval, negative disables")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	interval := cfg.Engine.TickInterval
	if *tickInterval != 0 {
		interval = *tickInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start engine: %v", err)
	}
	defer engine.Close()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.NewServer(cfg.HTTP.Addr, engine.API().Router(), logger).Run(gctx)
	})
	if interval > 0 {
		g.Go(func() error {
			runTicker(gctx, engine.Strategies, interval, logger)
			return nil
		})
	} else {
		logger.Println("Tick loop disabled; use POST /tick or cmd/tick")
	}

	err = g.Wait()
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// runTicker evaluates strategies every interval. A tick still running when
// the next one is due is not overlapped.
func runTicker(ctx context.Context, engine *strategy.Engine, interval time.Duration, logger *log.Logger) {
	logger.Printf("Starting tick loop (interval: %v)...", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := engine.Tick(ctx)
			if err != nil {
				logger.Printf("Tick failed: %v", err)
				continue
			}
			logger.Printf("Tick: active=%d fired=%d succeeded=%d errors=%d (%v)",
				report.Active, report.Fired, report.Succeeded, report.Errors, report.Duration)
		}
	}
}
