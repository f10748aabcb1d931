package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/ledger"
	"swap-engine/internal/orchestrator"
	"swap-engine/internal/storage"
	"swap-engine/internal/strategy"
)

const maxBodyBytes = 1 << 20

// Health reports liveness and uptime.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(a.started).Round(time.Second).String(),
	})
}

// ListTrades handles GET /trades.
func (a *API) ListTrades(w http.ResponseWriter, r *http.Request) {
	f, err := parseTradeFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	trades, err := a.trades.Query(r.Context(), f)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if trades == nil {
		trades = []*domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// TradeStats handles GET /trades/stats.
func (a *API) TradeStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseTradeFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	stats, err := a.trades.Stats(r.Context(), f)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseTradeFilter(r *http.Request) (domain.TradeFilter, error) {
	q := r.URL.Query()
	f := domain.TradeFilter{
		WalletID:   q.Get("wallet"),
		StrategyID: q.Get("strategy"),
		Status:     domain.TradeStatus(q.Get("status")),
	}
	switch f.Status {
	case "", domain.TradeStatusPending, domain.TradeStatusSuccess, domain.TradeStatusFailed:
	default:
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	if v := q.Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("dry_run: %w", err)
		}
		f.DryRun = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// book resolves ?book=paper|live, defaulting to paper.
func (a *API) book(w http.ResponseWriter, r *http.Request) (Book, bool) {
	name := r.URL.Query().Get("book")
	if name == "" {
		name = domain.BookPaper
	}
	b, ok := a.books[name]
	if !ok {
		writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown book %q", name))
		return nil, false
	}
	return b, true
}

// Positions handles GET /wallets/{wallet}/positions.
func (a *API) Positions(w http.ResponseWriter, r *http.Request) {
	b, ok := a.book(w, r)
	if !ok {
		return
	}
	wallet := chi.URLParam(r, "wallet")
	cash, err := b.Cash(r.Context(), wallet)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	positions, err := b.Positions(r.Context(), wallet)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet_id": wallet,
		"cash":      cash,
		"positions": positions,
	})
}

// ClosedPositions handles GET /wallets/{wallet}/closed.
func (a *API) ClosedPositions(w http.ResponseWriter, r *http.Request) {
	b, ok := a.book(w, r)
	if !ok {
		return
	}
	closed, err := b.ClosedPositions(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if closed == nil {
		closed = []*domain.ClosedPosition{}
	}
	writeJSON(w, http.StatusOK, closed)
}

// Portfolio handles GET /wallets/{wallet}/portfolio.
func (a *API) Portfolio(w http.ResponseWriter, r *http.Request) {
	if a.prices == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "no price feed configured")
		return
	}
	b, ok := a.book(w, r)
	if !ok {
		return
	}
	v, err := b.PortfolioValue(r.Context(), chi.URLParam(r, "wallet"), a.prices)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "price_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit handles POST /wallets/{wallet}/deposit.
func (a *API) Deposit(w http.ResponseWriter, r *http.Request) {
	b, ok := a.book(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !a.decode(w, r, &req) {
		return
	}
	wallet := chi.URLParam(r, "wallet")
	if err := b.Deposit(r.Context(), wallet, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.internal(w, r, err)
		return
	}
	cash, err := b.Cash(r.Context(), wallet)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet_id": wallet, "cash": cash})
}

type protectionRequest struct {
	StopLossPrice    *decimal.Decimal  `json:"stop_loss_price"`
	TakeProfitPrices []decimal.Decimal `json:"take_profit_prices"`
}

// SetProtection handles PUT /wallets/{wallet}/positions/{token}/protection.
// {token} is the position's symbol or contract address. The levels replace
// the current ones; omitted levels are cleared.
func (a *API) SetProtection(w http.ResponseWriter, r *http.Request) {
	b, ok := a.book(w, r)
	if !ok {
		return
	}
	var req protectionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.StopLossPrice != nil && !req.StopLossPrice.IsPositive() {
		writeError(w, r, http.StatusBadRequest, "bad_request", "stop_loss_price must be positive")
		return
	}
	for _, tp := range req.TakeProfitPrices {
		if !tp.IsPositive() {
			writeError(w, r, http.StatusBadRequest, "bad_request", "take_profit_prices must be positive")
			return
		}
	}

	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")
	pos, err := findPosition(r, b, wallet, token)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if pos == nil {
		writeError(w, r, http.StatusNotFound, "not_found", fmt.Sprintf("no open %s position for %s", token, wallet))
		return
	}
	if err := b.SetProtection(r.Context(), wallet, pos.Token, req.StopLossPrice, req.TakeProfitPrices); err != nil {
		if errors.Is(err, ledger.ErrNoPosition) {
			writeError(w, r, http.StatusNotFound, "not_found", err.Error())
			return
		}
		a.internal(w, r, err)
		return
	}
	if pos, err = findPosition(r, b, wallet, pos.Token.Address); err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// findPosition matches an open position by symbol or address, case-insensitively.
func findPosition(r *http.Request, b Book, wallet, token string) (*domain.Position, error) {
	positions, err := b.Positions(r.Context(), wallet)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if strings.EqualFold(p.Token.Symbol, token) || strings.EqualFold(p.Token.Address, token) {
			return p, nil
		}
	}
	return nil, nil
}

// ListStrategies handles GET /strategies.
func (a *API) ListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := a.strategies.List(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Strategy{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetStrategy handles GET /strategies/{id}.
func (a *API) GetStrategy(w http.ResponseWriter, r *http.Request) {
	s, err := a.strategies.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// CreateStrategy handles POST /strategies.
func (a *API) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var s domain.Strategy
	if !a.decode(w, r, &s) {
		return
	}
	created, err := a.strategies.Create(r.Context(), &s)
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidConfig) {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// DeactivateStrategy handles POST /strategies/{id}/deactivate.
func (a *API) DeactivateStrategy(w http.ResponseWriter, r *http.Request) {
	s, err := a.strategies.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Tick handles POST /tick.
func (a *API) Tick(w http.ResponseWriter, r *http.Request) {
	report, err := a.strategies.Tick(r.Context())
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Intents handles POST /intents: a decision batch for one wallet.
func (a *API) Intents(w http.ResponseWriter, r *http.Request) {
	var b orchestrator.Batch
	if !a.decode(w, r, &b) {
		return
	}
	res, err := a.dispatcher.Run(r.Context(), &b)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PnL handles GET /analytics/pnl.
func (a *API) PnL(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "analytics store not configured")
		return
	}
	name := r.URL.Query().Get("book")
	if name == "" {
		name = domain.BookPaper
	}
	summary, err := a.analytics.Summary(r.Context(), name)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	default:
		a.internal(w, r, err)
	}
}

func (a *API) internal(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
}
