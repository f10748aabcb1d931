// Package main executes a batch of trade decisions for one wallet.
//
// Decisions are read as JSON from --file or stdin, either as an array or as
// an object with a "decisions" array. Per-decision results are printed as
// JSON. The exit status is non-zero only when the batch could not be
// attempted at all (unreadable input, bad config, no wallet).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"swap-engine/internal/app"
	"swap-engine/internal/config"
	"swap-engine/internal/domain"
	"swap-engine/internal/orchestrator"
)

func main() {
	config.LoadEnv()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML configuration file")
	wallet := flag.String("wallet", os.Getenv("WALLET_ID"), "Wallet to trade")
	file := flag.String("file", "-", "Decisions JSON file, - for stdin")
	chainName := flag.String("chain", "", "Chain (defaults to engine.chain)")
	mode := flag.String("mode", "", "simulated or live (defaults to engine.mode)")
	batchID := flag.String("batch-id", "", "Batch id; reusing one makes the run idempotent")
	flag.Parse()

	logger := log.New(os.Stderr, "[execute] ", log.LstdFlags|log.Lshortfile)

	if *wallet == "" {
		fmt.Fprintln(os.Stderr, "Error: --wallet is required")
		os.Exit(1)
	}

	decisions, err := readDecisionsFrom(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading decisions: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	res, err := engine.Orchestrator.Run(ctx, &orchestrator.Batch{
		ID:        *batchID,
		WalletID:  *wallet,
		Chain:     *chainName,
		Mode:      domain.ExecutionMode(*mode),
		Decisions: decisions,
	})
	if err != nil {
		engine.Close()
		fmt.Fprintf(os.Stderr, "Error running batch: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
	}
	logger.Printf("Batch %s: %d succeeded, %d failed", res.BatchID, res.Succeeded, res.Failed)
}

func readDecisionsFrom(path string) ([]domain.Decision, error) {
	if path == "-" || path == "" {
		return readDecisions(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readDecisions(f)
}

// readDecisions accepts `[...]` or `{"decisions": [...]}`.
func readDecisions(r io.Reader) ([]domain.Decision, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	var decisions []domain.Decision
	if data[0] == '[' {
		if err := json.Unmarshal(data, &decisions); err != nil {
			return nil, fmt.Errorf("decode decisions: %w", err)
		}
		return decisions, nil
	}

	var wrapped struct {
		Decisions []domain.Decision `json:"decisions"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	if wrapped.Decisions == nil {
		return nil, errors.New(`object input must contain a "decisions" array`)
	}
	return wrapped.Decisions, nil
}
