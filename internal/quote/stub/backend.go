// Package stub provides an in-memory quote backend for tests.
package stub

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/quote"
)

// DefaultRouter is the swap target and spender used by stub quotes.
var DefaultRouter = common.HexToAddress("0x6131B5fae19EA4f9D964eAc0408E4408b66337b5")

// Backend is a configurable quote.Backend.
type Backend struct {
	ID string

	// Out computes the quoted output. Nil quotes a 1:1 unit swap.
	Out func(req quote.Request) *big.Int

	Router   common.Address // zero = DefaultRouter
	Gas      uint64
	Value    *big.Int // build value; nil = AmountIn for native token in, else 0
	QuoteErr error
	BuildErr error

	mu     sync.Mutex
	quotes int
	builds []quote.BuildRequest
}

// NewFixedPrice quotes asset at price quote-currency units per asset unit in both directions.
func NewFixedPrice(id, assetSymbol string, price decimal.Decimal) *Backend {
	b := &Backend{ID: id}
	b.SetPrice(assetSymbol, price)
	return b
}

// SetPrice replaces the quoted price of assetSymbol.
func (b *Backend) SetPrice(assetSymbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Out = func(req quote.Request) *big.Int {
		in := req.TokenIn.FromUnits(req.AmountIn)
		if req.TokenOut.Symbol == assetSymbol {
			if price.IsZero() {
				return new(big.Int)
			}
			return req.TokenOut.ToUnits(in.Div(price))
		}
		return req.TokenOut.ToUnits(in.Mul(price))
	}
}

// Name returns the backend id.
func (b *Backend) Name() string {
	if b.ID == "" {
		return "stub"
	}
	return b.ID
}

// Quote returns a quote computed by Out.
func (b *Backend) Quote(_ context.Context, req quote.Request) (*domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes++
	if b.QuoteErr != nil {
		return nil, b.QuoteErr
	}
	out := new(big.Int).Set(req.AmountIn)
	if b.Out != nil {
		out = b.Out(req)
	}
	route, _ := json.Marshal(map[string]string{"amountOut": out.String()})
	return &domain.Quote{
		AmountOut:    out,
		Route:        route,
		Spender:      b.router().Hex(),
		EstimatedGas: b.Gas,
	}, nil
}

// Build returns calldata targeting the router.
func (b *Backend) Build(_ context.Context, req quote.BuildRequest) (*quote.SwapTx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds = append(b.builds, req)
	if b.BuildErr != nil {
		return nil, b.BuildErr
	}
	value := b.Value
	if value == nil {
		value = new(big.Int)
		if req.Quote.TokenIn.IsNative() {
			value.Set(req.Quote.AmountIn)
		}
	}
	return &quote.SwapTx{
		To:    b.router(),
		Data:  []byte{0x12, 0x34, 0x56, 0x78},
		Value: value,
		Gas:   b.Gas,
	}, nil
}

// QuoteCount returns the number of Quote calls.
func (b *Backend) QuoteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quotes
}

// Builds returns the recorded build requests.
func (b *Backend) Builds() []quote.BuildRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]quote.BuildRequest(nil), b.builds...)
}

func (b *Backend) router() common.Address {
	if b.Router == (common.Address{}) {
		return DefaultRouter
	}
	return b.Router
}

var _ quote.Backend = (*Backend)(nil)
