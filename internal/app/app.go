// Package app wires configuration into a running engine: stores, quote
// backends, chain clients, ledgers, the executor, the strategy engine and the
// batch orchestrator. The cmd binaries share it.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"swap-engine/internal/api"
	"swap-engine/internal/chain"
	"swap-engine/internal/config"
	"swap-engine/internal/credentials"
	"swap-engine/internal/domain"
	"swap-engine/internal/executor"
	"swap-engine/internal/ledger"
	"swap-engine/internal/lock"
	"swap-engine/internal/observability"
	"swap-engine/internal/orchestrator"
	"swap-engine/internal/pricefeed"
	"swap-engine/internal/pubsub"
	natspub "swap-engine/internal/pubsub/nats"
	"swap-engine/internal/quote"
	"swap-engine/internal/quote/kyberswap"
	"swap-engine/internal/quote/paraswap"
	"swap-engine/internal/ratelimit"
	"swap-engine/internal/storage"
	redisstore "swap-engine/internal/storage/redis"
	"swap-engine/internal/strategy"
	"swap-engine/internal/tradelog"
)

// App is a fully wired engine.
type App struct {
	Config       *config.Config
	Trades       *tradelog.Logger
	Paper        *ledger.Ledger
	Live         *ledger.Ledger
	Executor     *executor.Executor
	Strategies   *strategy.Engine
	Orchestrator *orchestrator.Orchestrator
	Prices       pricefeed.Feed
	Analytics    api.Analytics // nil without ClickHouse

	logger  *log.Logger
	closers []func()
}

// New builds every component from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *App, err error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	stores, cleanup, err := createStores(ctx, cfg.Storage, a.component("storage"))
	if err != nil {
		return nil, err
	}
	a.onClose(cleanup)
	if stores.analytics != nil {
		a.Analytics = stores.analytics
	}

	locker, limiter, err := a.coordination(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := a.publisher()
	if err != nil {
		return nil, err
	}

	a.Trades = tradelog.New(tradelog.Options{
		Store:     stores.trades,
		Publisher: publisher,
		Logger:    a.component("tradelog"),
	})
	a.Paper = ledger.New(ledger.Options{
		Book:           domain.BookPaper,
		Accounts:       stores.accounts,
		ClosedPosition: stores.closed,
		Logger:         a.component("ledger"),
	})
	a.Live = ledger.New(ledger.Options{
		Book:           domain.BookLive,
		Accounts:       stores.accounts,
		ClosedPosition: stores.closed,
		Logger:         a.component("ledger"),
	})

	quotes := quote.NewProvider(quote.Options{
		Backends: quoteBackends(cfg),
		Chains:   chainsOrNil(cfg),
		Limiter:  limiter,
		Validity: cfg.Quote.Validity,
		Logger:   a.component("quote"),
	})

	a.Executor = executor.New(executor.Options{
		Quotes:         quotes,
		Trades:         a.Trades,
		Paper:          a.Paper,
		Live:           a.Live,
		Credentials:    credentials.NewEnvStore(),
		RPC:            rpcClients(cfg),
		Chains:         chainsOrNil(cfg),
		Locker:         locker,
		ConfirmTimeout: cfg.Executor.ConfirmTimeout,
		ApproveTimeout: cfg.Executor.ApproveTimeout,
		PollInterval:   cfg.Executor.PollInterval,
		Logger:         a.component("executor"),
	})
	funded := &fundingExecutor{
		next:       a.Executor,
		paper:      a.Paper,
		live:       a.Live,
		paperCash:  cfg.PaperCashAmount(),
		liveBudget: cfg.LiveBudgetAmount(),
		logger:     a.component("executor"),
	}

	a.Prices, err = a.priceFeed(ctx, quotes)
	if err != nil {
		return nil, err
	}

	a.Strategies = strategy.New(strategy.Options{
		Store:    stores.strategies,
		Executor: funded,
		Prices:   a.Prices,
		Mode:     cfg.Engine.Mode,
		Logger:   a.component("strategy"),

		Protected:   []strategy.ProtectedBook{a.Paper, a.Live},
		Quotes:      cfg,
		SlippageBps: cfg.Engine.SlippageBps,
	})
	a.Orchestrator = orchestrator.New(orchestrator.Options{
		Executor:    funded,
		Tokens:      cfg,
		Chain:       cfg.Engine.Chain,
		Mode:        cfg.Engine.Mode,
		SlippageBps: cfg.Engine.SlippageBps,
		Logger:      a.component("orchestrator"),
	})

	logger.Printf("engine ready: mode=%s chain=%s storage=%s feed=%s",
		cfg.Engine.Mode, cfg.Engine.Chain, cfg.Storage.Driver, cfg.PriceFeed.Kind)
	return a, nil
}

// API returns the ops HTTP handlers bound to the app.
func (a *App) API() *api.API {
	return api.New(api.Options{
		Trades: a.Trades,
		Books: map[string]api.Book{
			domain.BookPaper: a.Paper,
			domain.BookLive:  a.Live,
		},
		Strategies: a.Strategies,
		Dispatcher: a.Orchestrator,
		Analytics:  a.Analytics,
		Prices:     a.Prices,
		Logger:     a.component("api"),
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// component derives a prefixed logger sharing the app logger's output.
func (a *App) component(name string) *log.Logger {
	return log.New(a.logger.Writer(), "["+name+"] ", a.logger.Flags())
}

// coordination picks Redis-backed wallet locks and rate limits when Redis
// is configured, in-process ones otherwise.
func (a *App) coordination(ctx context.Context) (lock.Locker, ratelimit.Limiter, error) {
	rl := a.Config.Quote.RateLimit
	if a.Config.Redis.Addr == "" {
		return lock.NewLocal(), ratelimit.NewLocal(rl.RefillPerSec, rl.Burst), nil
	}

	rdb, err := redisstore.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis %s: %w", a.Config.Redis.Addr, err)
	}
	a.onClose(func() { _ = rdb.Close() })

	locker, err := lock.NewRedis(rdb.Client, redisLockOptions(a.Config.Executor))
	if err != nil {
		return nil, nil, err
	}
	var limiter ratelimit.Limiter = ratelimit.NewLocal(rl.RefillPerSec, rl.Burst)
	if rl.Distributed {
		limiter = ratelimit.NewRedis(rdb.Client, ratelimit.RedisBucket{
			RefillPerSec: rl.RefillPerSec,
			Burst:        rl.Burst,
		})
	}
	a.logger.Printf("redis coordination enabled, addr=%s distributed_rate_limit=%v", a.Config.Redis.Addr, rl.Distributed)
	return locker, limiter, nil
}

// redisLockOptions sizes the wallet lease to the executor's approval and
// confirmation waits, so a lease never lapses while a swap still holds it.
func redisLockOptions(cfg config.Executor) lock.RedisOptions {
	approve, confirm := cfg.ApproveTimeout, cfg.ConfirmTimeout
	if approve <= 0 {
		approve = chain.DefaultApproveTimeout
	}
	if confirm <= 0 {
		confirm = chain.DefaultConfirmTimeout
	}
	return lock.RedisOptions{TTL: lock.RedisTTLFor(approve, confirm)}
}

func (a *App) publisher() (pubsub.Publisher, error) {
	if a.Config.NATS.URL == "" {
		return pubsub.Noop{}, nil
	}
	client, err := natspub.Connect(&a.Config.NATS, a.component("nats"))
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })
	return client, nil
}

func (a *App) priceFeed(ctx context.Context, quotes pricefeed.Quoter) (pricefeed.Feed, error) {
	cfg := a.Config
	switch cfg.PriceFeed.Kind {
	case config.FeedStatic:
		prices := make(map[string]decimal.Decimal, len(cfg.PriceFeed.Static))
		for sym, p := range cfg.PriceFeed.Static {
			prices[sym] = decimal.RequireFromString(p)
		}
		return pricefeed.NewStatic(prices), nil
	case config.FeedWebSocket:
		feed, err := pricefeed.NewWSFeed(ctx, cfg.PriceFeed.WSURL, assetSymbols(cfg), nil, a.component("pricefeed"))
		if err != nil {
			return nil, fmt.Errorf("connect price feed: %w", err)
		}
		a.onClose(func() { _ = feed.Close() })
		return feed, nil
	default:
		quoteTokens := make(map[string]domain.Token)
		for _, ch := range cfg.Chains {
			if t, ok := cfg.QuoteToken(ch.Name); ok {
				quoteTokens[ch.Name] = t
			}
		}
		return pricefeed.NewQuoteFeed(quotes, quoteTokens), nil
	}
}

// assetSymbols lists configured non-quote token symbols, deduplicated.
func assetSymbols(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range cfg.Tokens {
		sym := strings.ToUpper(t.Symbol)
		if strings.EqualFold(sym, cfg.Engine.QuoteCurrency) || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func quoteBackends(cfg *config.Config) map[string][]quote.Backend {
	hc := &http.Client{Timeout: cfg.Quote.Timeout}

	kyberOpts := []kyberswap.Option{kyberswap.WithHTTPClient(hc)}
	if cfg.Quote.Kyber.BaseURL != "" {
		kyberOpts = append(kyberOpts, kyberswap.WithBaseURL(cfg.Quote.Kyber.BaseURL))
	}
	if cfg.Quote.Kyber.Source != "" {
		kyberOpts = append(kyberOpts, kyberswap.WithSource(cfg.Quote.Kyber.Source))
	}
	paraOpts := []paraswap.Option{paraswap.WithHTTPClient(hc)}
	if cfg.Quote.ParaSwap.BaseURL != "" {
		paraOpts = append(paraOpts, paraswap.WithBaseURL(cfg.Quote.ParaSwap.BaseURL))
	}
	if cfg.Quote.ParaSwap.Partner != "" {
		paraOpts = append(paraOpts, paraswap.WithPartner(cfg.Quote.ParaSwap.Partner))
	}
	if cfg.Quote.ParaSwap.APIKey != "" {
		paraOpts = append(paraOpts, paraswap.WithAPIKey(cfg.Quote.ParaSwap.APIKey))
	}
	kyber := kyberswap.New(kyberOpts...)
	para := paraswap.New(paraOpts...)

	out := make(map[string][]quote.Backend, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		for _, name := range ch.Backends {
			switch name {
			case kyberswap.Name:
				out[ch.Name] = append(out[ch.Name], kyber)
			case paraswap.Name:
				out[ch.Name] = append(out[ch.Name], para)
			}
		}
	}
	return out
}

func rpcClients(cfg *config.Config) map[string]chain.RPCClient {
	out := make(map[string]chain.RPCClient)
	for _, ch := range cfg.Chains {
		if ch.RPCURL == "" {
			continue
		}
		out[ch.Name] = chain.NewHTTPClient(ch.RPCURL, chain.WithObserver(observability.ObserveRPC))
	}
	return out
}

// chainsOrNil returns the configured chains, or nil to fall back to the
// built-in chain table.
func chainsOrNil(cfg *config.Config) map[string]domain.Chain {
	if len(cfg.Chains) == 0 {
		return nil
	}
	return cfg.DomainChains()
}

// Compile-time interface checks
var (
	_ api.Book                    = (*ledger.Ledger)(nil)
	_ api.Trades                  = (*tradelog.Logger)(nil)
	_ api.Strategies              = (*strategy.Engine)(nil)
	_ api.Dispatcher              = (*orchestrator.Orchestrator)(nil)
	_ storage.ClosedPositionStore = (*storage.MirroredClosedPositions)(nil)
)
