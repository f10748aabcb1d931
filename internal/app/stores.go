package app

import (
	"context"
	"fmt"
	"log"

	"swap-engine/internal/config"
	"swap-engine/internal/storage"
	chstore "swap-engine/internal/storage/clickhouse"
	"swap-engine/internal/storage/memory"
	"swap-engine/internal/storage/migrations"
	pgstore "swap-engine/internal/storage/postgres"
	"swap-engine/internal/storage/sqlite"
)

// allStores holds the storage implementations selected by config.
type allStores struct {
	trades     storage.TradeRecordStore
	accounts   storage.AccountStore
	closed     storage.ClosedPositionStore
	strategies storage.StrategyStore
	analytics  *chstore.ClosedPositionStore // nil without ClickHouse
}

// createStores opens the configured driver and the optional ClickHouse
// mirror. The returned cleanup closes every connection it opened.
func createStores(ctx context.Context, cfg config.Storage, logger *log.Logger) (*allStores, func(), error) {
	var (
		stores  *allStores
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores = &allStores{
			trades:     pgstore.NewTradeRecordStore(pool),
			accounts:   pgstore.NewAccountStore(pool),
			closed:     pgstore.NewClosedPositionStore(pool),
			strategies: pgstore.NewStrategyStore(pool),
		}
		logger.Println("using postgres storage")

	case config.DriverSQLite:
		// SQLite keeps the trade log only; ledgers and strategies stay in memory.
		trades, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		closers = append(closers, func() { _ = trades.Close() })
		stores = &allStores{
			trades:     trades,
			accounts:   memory.NewAccountStore(),
			closed:     memory.NewClosedPositionStore(),
			strategies: memory.NewStrategyStore(),
		}
		logger.Printf("using sqlite trade log at %s", cfg.SQLitePath)

	default:
		stores = &allStores{
			trades:     memory.NewTradeRecordStore(),
			accounts:   memory.NewAccountStore(),
			closed:     memory.NewClosedPositionStore(),
			strategies: memory.NewStrategyStore(),
		}
		logger.Println("using in-memory storage")
	}

	if cfg.ClickHouse.Addr != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		stores.analytics = chstore.NewClosedPositionStore(conn)
		stores.closed = storage.NewMirroredClosedPositions(stores.closed, stores.analytics, logger)
		logger.Printf("mirroring closed positions to clickhouse at %s", cfg.ClickHouse.Addr)
	}

	return stores, cleanup, nil
}
