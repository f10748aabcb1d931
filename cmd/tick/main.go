// Package main evaluates every active strategy once and exits. It is meant
// to be run from cron or a scheduler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swap-engine/internal/app"
	"swap-engine/internal/config"
)

func main() {
	config.LoadEnv()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML configuration file")
	timeout := flag.Duration("timeout", 5*time.Minute, "Upper bound for the whole tick")
	flag.Parse()

	logger := log.New(os.Stderr, "[tick] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start engine: %v", err)
	}
	defer engine.Close()

	report, err := engine.Strategies.Tick(ctx)
	if err != nil {
		engine.Close()
		logger.Fatalf("Tick failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
	}
	logger.Printf("Tick complete: active=%d fired=%d succeeded=%d errors=%d",
		report.Active, report.Fired, report.Succeeded, report.Errors)
}
