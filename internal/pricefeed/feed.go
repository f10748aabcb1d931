// Package pricefeed supplies mark prices for strategy triggers and
// portfolio valuation.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
)

// Price feed errors
var (
	ErrNoPrice    = errors.New("no price available")
	ErrStalePrice = errors.New("price is stale")
)

// Feed returns the quote-currency price of one unit of token.
type Feed interface {
	CurrentPrice(ctx context.Context, token domain.Token) (decimal.Decimal, error)
}

// Static serves fixed prices keyed by upper-cased symbol.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a static feed seeded with prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

// SetPrice replaces the price of symbol.
func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[strings.ToUpper(symbol)] = price
	s.mu.Unlock()
	observability.RecordPriceUpdate(symbol)
}

// CurrentPrice returns the configured price.
func (s *Static) CurrentPrice(_ context.Context, token domain.Token) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(token.Symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, token.Symbol)
	}
	return p, nil
}

// Quoter is the subset of the quote provider used for pricing.
type Quoter interface {
	GetQuote(ctx context.Context, chain string, tokenIn, tokenOut domain.Token, amountIn *big.Int) (*domain.Quote, error)
}

// QuoteFeed prices a token by quoting one whole unit into the chain's
// quote currency.
type QuoteFeed struct {
	quotes      Quoter
	quoteTokens map[string]domain.Token // by chain name
}

// NewQuoteFeed creates a quote-derived feed. quoteTokens maps each chain to
// its quote currency token.
func NewQuoteFeed(quotes Quoter, quoteTokens map[string]domain.Token) *QuoteFeed {
	return &QuoteFeed{quotes: quotes, quoteTokens: quoteTokens}
}

// CurrentPrice quotes 1 token for the quote currency.
func (f *QuoteFeed) CurrentPrice(ctx context.Context, token domain.Token) (decimal.Decimal, error) {
	qc, ok := f.quoteTokens[token.Chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote currency for chain %s", ErrNoPrice, token.Chain)
	}
	if qc.Equal(token) {
		return decimal.NewFromInt(1), nil
	}
	q, err := f.quotes.GetQuote(ctx, token.Chain, token, qc, token.ToUnits(decimal.NewFromInt(1)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", token.Symbol, err)
	}
	price := qc.FromUnits(q.AmountOut)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, token.Symbol)
	}
	return price, nil
}

// Fallback asks each feed in order and returns the first price.
type Fallback []Feed

// CurrentPrice returns the first successful price or the last error.
func (f Fallback) CurrentPrice(ctx context.Context, token domain.Token) (decimal.Decimal, error) {
	err := fmt.Errorf("%w: %s", ErrNoPrice, token.Symbol)
	for _, feed := range f {
		p, ferr := feed.CurrentPrice(ctx, token)
		if ferr == nil {
			return p, nil
		}
		err = ferr
	}
	return decimal.Zero, err
}

// Compile-time interface checks
var (
	_ Feed = (*Static)(nil)
	_ Feed = (*QuoteFeed)(nil)
	_ Feed = Fallback(nil)
)
