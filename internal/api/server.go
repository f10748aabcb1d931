// Package api exposes the engine's ops HTTP surface.
package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/ledger"
	"swap-engine/internal/observability"
	"swap-engine/internal/orchestrator"
	chstore "swap-engine/internal/storage/clickhouse"
	"swap-engine/internal/strategy"
)

// Trades reads the trade log.
type Trades interface {
	Query(ctx context.Context, f domain.TradeFilter) ([]*domain.TradeRecord, error)
	Stats(ctx context.Context, f domain.TradeFilter) (*domain.TradeStats, error)
}

// Book is one ledger book.
type Book interface {
	Cash(ctx context.Context, walletID string) (decimal.Decimal, error)
	Deposit(ctx context.Context, walletID string, amount decimal.Decimal) error
	Positions(ctx context.Context, walletID string) ([]*domain.Position, error)
	ClosedPositions(ctx context.Context, walletID string) ([]*domain.ClosedPosition, error)
	PortfolioValue(ctx context.Context, walletID string, feed ledger.PriceSource) (*ledger.Valuation, error)
	SetProtection(ctx context.Context, walletID string, token domain.Token, stopLoss *decimal.Decimal, takeProfits []decimal.Decimal) error
}

// Strategies manages strategies and runs ticks.
type Strategies interface {
	Create(ctx context.Context, s *domain.Strategy) (*domain.Strategy, error)
	Deactivate(ctx context.Context, id string) (*domain.Strategy, error)
	List(ctx context.Context, walletID string) ([]*domain.Strategy, error)
	Get(ctx context.Context, id string) (*domain.Strategy, error)
	Tick(ctx context.Context) (*strategy.TickReport, error)
}

// Dispatcher runs decision batches.
type Dispatcher interface {
	Run(ctx context.Context, b *orchestrator.Batch) (*orchestrator.RunResult, error)
}

// Analytics serves aggregated realized P&L.
type Analytics interface {
	Summary(ctx context.Context, book string) ([]*chstore.PnLSummary, error)
}

// Options configures the API. Analytics and Prices are optional.
type Options struct {
	Trades     Trades
	Books      map[string]Book // keyed by domain.BookPaper / domain.BookLive
	Strategies Strategies
	Dispatcher Dispatcher
	Analytics  Analytics
	Prices     ledger.PriceSource
	Logger     *log.Logger
}

// API holds the handlers' dependencies.
type API struct {
	trades     Trades
	books      map[string]Book
	strategies Strategies
	dispatcher Dispatcher
	analytics  Analytics
	prices     ledger.PriceSource
	logger     *log.Logger
	started    time.Time
}

// New creates an API.
func New(opts Options) *API {
	a := &API{
		trades:     opts.Trades,
		books:      opts.Books,
		strategies: opts.Strategies,
		dispatcher: opts.Dispatcher,
		analytics:  opts.Analytics,
		prices:     opts.Prices,
		logger:     opts.Logger,
		started:    time.Now(),
	}
	if a.logger == nil {
		a.logger = log.New(io.Discard, "", 0)
	}
	return a
}

// Router builds the chi router.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", a.Health)
	r.Mount("/metrics", observability.Handler())

	r.Route("/trades", func(tr chi.Router) {
		tr.Get("/", a.ListTrades)
		tr.Get("/stats", a.TradeStats)
	})
	r.Route("/wallets/{wallet}", func(wr chi.Router) {
		wr.Get("/positions", a.Positions)
		wr.Get("/closed", a.ClosedPositions)
		wr.Get("/portfolio", a.Portfolio)
		wr.Post("/deposit", a.Deposit)
		wr.Put("/positions/{token}/protection", a.SetProtection)
	})
	r.Route("/strategies", func(sr chi.Router) {
		sr.Get("/", a.ListStrategies)
		sr.Post("/", a.CreateStrategy)
		sr.Get("/{id}", a.GetStrategy)
		sr.Post("/{id}/deactivate", a.DeactivateStrategy)
	})
	r.Post("/tick", a.Tick)
	r.Post("/intents", a.Intents)
	r.Get("/analytics/pnl", a.PnL)

	return r
}

// Server runs the router on an http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *log.Logger
}

// NewServer binds handler to addr.
func NewServer(addr string, handler http.Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down within 10s.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
