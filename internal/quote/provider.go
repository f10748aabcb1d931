package quote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
	"swap-engine/internal/ratelimit"
)

// DefaultDeadline is how long a built swap stays valid on-chain.
const DefaultDeadline = 300 * time.Second

// Options configures a Provider.
type Options struct {
	// Backends per chain name, tried in order.
	Backends map[string][]Backend
	// Chains known to the provider, keyed by name. Defaults to domain.KnownChains().
	Chains map[string]domain.Chain
	// Limiter is waited on before every backend call, keyed by backend name.
	Limiter ratelimit.Limiter
	// Validity is how long a quote may be built from. Defaults to domain.DefaultQuoteValidity.
	Validity time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock  func() time.Time
	Logger *log.Logger
}

// Provider fetches quotes from the configured backends and builds swaps
// through the backend that produced a quote.
type Provider struct {
	backends map[string][]Backend
	chains   map[string]domain.Chain
	limiter  ratelimit.Limiter
	validity time.Duration
	clock    func() time.Time
	logger   *log.Logger
}

// NewProvider creates a Provider.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		backends: opts.Backends,
		chains:   opts.Chains,
		limiter:  opts.Limiter,
		validity: opts.Validity,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if p.backends == nil {
		p.backends = make(map[string][]Backend)
	}
	if p.chains == nil {
		p.chains = domain.KnownChains()
	}
	if p.limiter == nil {
		p.limiter = ratelimit.Unlimited{}
	}
	if p.validity <= 0 {
		p.validity = domain.DefaultQuoteValidity
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	return p
}

// Validity returns the quote validity window.
func (p *Provider) Validity() time.Duration {
	return p.validity
}

// Chain looks up a configured chain by name.
func (p *Provider) Chain(name string) (domain.Chain, bool) {
	c, ok := p.chains[name]
	return c, ok
}

// GetQuote returns the first valid quote among the chain's backends.
// Input is validated before any backend is called.
func (p *Provider) GetQuote(ctx context.Context, chainName string, tokenIn, tokenOut domain.Token, amountIn *big.Int) (*domain.Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, Errorf(KindInvalidInput, "amount in must be positive")
	}
	if tokenIn.Equal(tokenOut) {
		return nil, Errorf(KindInvalidInput, "token in and token out are the same (%s)", tokenIn)
	}
	if tokenIn.Chain != chainName || tokenOut.Chain != chainName {
		return nil, Errorf(KindInvalidInput, "tokens %s and %s are not both on %s", tokenIn, tokenOut, chainName)
	}
	ch, ok := p.chains[chainName]
	if !ok {
		return nil, Errorf(KindUnsupportedChain, "unknown chain %q", chainName)
	}
	backends := p.backends[chainName]
	if len(backends) == 0 {
		return nil, Errorf(KindUnsupportedChain, "no backends configured for %q", chainName)
	}

	req := Request{Chain: ch, TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: new(big.Int).Set(amountIn)}

	var lastErr error
	for _, b := range backends {
		if err := p.limiter.Wait(ctx, b.Name()); err != nil {
			return nil, &QuoteError{Kind: KindTimeout, Backend: b.Name(), Err: err}
		}

		start := time.Now()
		q, err := b.Quote(ctx, req)
		if err == nil {
			err = checkQuote(q)
		}
		if err != nil {
			qe := withBackend(b.Name(), err)
			observability.RecordQuote(b.Name(), string(qe.Kind), time.Since(start).Seconds())
			p.logger.Printf("quote %s->%s via %s failed: %v", tokenIn, tokenOut, b.Name(), qe)
			lastErr = qe
			if ctx.Err() != nil {
				break
			}
			continue
		}
		observability.RecordQuote(b.Name(), "ok", time.Since(start).Seconds())

		q.Chain = chainName
		q.TokenIn = tokenIn
		q.TokenOut = tokenOut
		q.AmountIn = new(big.Int).Set(amountIn)
		q.Provider = b.Name()
		if q.QuotedAt.IsZero() {
			q.QuotedAt = p.clock()
		}
		return q, nil
	}
	return nil, lastErr
}

func checkQuote(q *domain.Quote) error {
	if q == nil || q.AmountOut == nil || q.AmountOut.Sign() <= 0 {
		return Errorf(KindNoRoute, "backend returned no output amount")
	}
	return nil
}

// BuildSwap builds calldata for q through the backend that produced it.
// Expired quotes are refused.
func (p *Provider) BuildSwap(ctx context.Context, q *domain.Quote, sender common.Address, slippageBps int) (*SwapTx, error) {
	if q == nil {
		return nil, Errorf(KindInvalidInput, "quote is required")
	}
	if slippageBps < 0 || slippageBps >= domain.MaxSlippageBps {
		return nil, Errorf(KindInvalidInput, "slippage %d bps out of range", slippageBps)
	}
	now := p.clock()
	if q.Expired(now, p.validity) {
		return nil, &QuoteError{Kind: KindExpired, Backend: q.Provider, Err: fmt.Errorf("quoted at %s", q.QuotedAt.Format(time.RFC3339))}
	}
	ch, ok := p.chains[q.Chain]
	if !ok {
		return nil, Errorf(KindUnsupportedChain, "unknown chain %q", q.Chain)
	}
	backend := p.backend(q.Chain, q.Provider)
	if backend == nil {
		return nil, Errorf(KindUnsupportedChain, "backend %q not configured for %q", q.Provider, q.Chain)
	}
	if err := p.limiter.Wait(ctx, backend.Name()); err != nil {
		return nil, &QuoteError{Kind: KindTimeout, Backend: backend.Name(), Err: err}
	}

	tx, err := backend.Build(ctx, BuildRequest{
		Chain:        ch,
		Quote:        q,
		Sender:       sender,
		SlippageBps:  slippageBps,
		MinAmountOut: q.MinAmountOut(slippageBps),
		Deadline:     now.Add(DefaultDeadline),
	})
	if err != nil {
		return nil, withBackend(backend.Name(), err)
	}
	if tx == nil || tx.To == (common.Address{}) || len(tx.Data) == 0 {
		return nil, &QuoteError{Kind: KindMalformed, Backend: backend.Name(), Err: errors.New("build returned no target or calldata")}
	}
	if tx.Value == nil {
		tx.Value = new(big.Int)
	}
	return tx, nil
}

func (p *Provider) backend(chainName, name string) Backend {
	for _, b := range p.backends[chainName] {
		if b.Name() == name {
			return b
		}
	}
	return nil
}
