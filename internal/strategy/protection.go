package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/idhash"
	"swap-engine/internal/ledger"
	"swap-engine/internal/observability"
)

// KindProtection labels evaluations of position stop-loss and take-profit levels.
const KindProtection domain.StrategyKind = "protection"

// DefaultProtectionSlippageBps is used for protective sells when Options.SlippageBps is unset.
const DefaultProtectionSlippageBps = 100

// ProtectedBook is a ledger book whose positions may carry protective levels.
type ProtectedBook interface {
	Book() string
	Position(ctx context.Context, walletID string, token domain.Token) (*domain.Position, error)
	ProtectedPositions(ctx context.Context) ([]*domain.Position, error)
	SetProtection(ctx context.Context, walletID string, token domain.Token, stopLoss *decimal.Decimal, takeProfits []decimal.Decimal) error
}

// QuoteTokens resolves the cash token a protective sell pays out in.
type QuoteTokens interface {
	QuoteToken(chain string) (domain.Token, bool)
}

// Compile-time interface check
var _ ProtectedBook = (*ledger.Ledger)(nil)

// protection is one protected position due for evaluation.
type protection struct {
	book string
	pos  *domain.Position
}

// protectedByWallet lists protected positions across books. A book that
// cannot be listed is reported as an error evaluation and skipped.
func (e *Engine) protectedByWallet(ctx context.Context) (map[string][]protection, []*Evaluation) {
	out := make(map[string][]protection)
	var errs []*Evaluation
	for _, b := range e.protected {
		positions, err := b.ProtectedPositions(ctx)
		if err != nil {
			ev := &Evaluation{Kind: KindProtection, Book: b.Book()}
			errs = append(errs, e.failed(ev, fmt.Errorf("list protected %s positions: %w", b.Book(), err)))
			continue
		}
		for _, p := range positions {
			out[p.WalletID] = append(out[p.WalletID], protection{book: b.Book(), pos: p})
		}
	}
	return out, errs
}

// protect sells the whole position when the mark breaches its stop-loss or
// reaches a take-profit level. The intent id is derived from the position's
// last change, so a fill is never repeated and a failed sell is retried only
// after the levels are re-armed.
func (e *Engine) protect(ctx context.Context, p protection) *Evaluation {
	pos := p.pos
	ev := &Evaluation{
		WalletID: pos.WalletID,
		Kind:     KindProtection,
		Book:     p.book,
		Token:    pos.Token.Symbol,
		Status:   domain.StatusActive,
	}

	price, err := e.prices.CurrentPrice(ctx, pos.Token)
	if err != nil {
		return e.failed(ev, fmt.Errorf("price %s: %w", pos.Token.Symbol, err))
	}
	reason, hit := pos.ProtectionHit(price)
	if !hit {
		ev.Outcome = OutcomeIdle
		observability.RecordStrategyEvaluation(string(KindProtection), OutcomeIdle)
		return ev
	}
	var quote domain.Token
	ok := false
	if e.quotes != nil {
		quote, ok = e.quotes.QuoteToken(pos.Token.Chain)
	}
	if !ok {
		return e.failed(ev, fmt.Errorf("no quote token for chain %s", pos.Token.Chain))
	}

	mode := domain.ModeSimulated
	if p.book == domain.BookLive {
		mode = domain.ModeLive
	}
	intent := &domain.SwapIntent{
		ID:          idhash.ComputeIntentID("protect:"+p.book+":"+pos.Token.Key(), pos.WalletID, pos.UpdatedAt.UnixMicro()),
		Chain:       pos.Token.Chain,
		WalletID:    pos.WalletID,
		Side:        domain.SideSell,
		TokenIn:     pos.Token,
		TokenOut:    quote,
		AmountIn:    new(big.Int), // whole position
		SlippageBps: e.slippageBps,
		Mode:        mode,
		CreatedAt:   e.clock(),
	}
	ev.IntentID = intent.ID
	ev.Reason = reason
	e.logger.Printf("protection %s %s/%s fired: %s", p.book, pos.WalletID, pos.Token.Symbol, reason)

	res := e.executor.Execute(ctx, intent)
	ev.Result = res
	switch {
	case res.Success:
		ev.Outcome = OutcomeFired
		ev.Status = domain.StatusExecuted
	case res.ErrorKind == domain.ErrorKindWalletBusy:
		ev.Outcome = OutcomeDeferred
	case res.ErrorKind == domain.ErrorKindLedgerFailed && res.TxHash != "":
		// Sold on-chain but not booked; the books need reconciling first.
		ev.Outcome = OutcomeFired
	default:
		ev.Outcome = OutcomeFired
		if err := e.rearm(ctx, p); err != nil {
			ev.Error = err.Error()
			e.logger.Printf("protection %s %s/%s: rearm: %v", p.book, pos.WalletID, pos.Token.Symbol, err)
		}
	}
	observability.RecordStrategyEvaluation(string(KindProtection), ev.Outcome)
	return ev
}

// current re-reads a protected position. pos is nil once it is closed or unprotected.
func (e *Engine) current(ctx context.Context, p protection) protection {
	for _, b := range e.protected {
		if b.Book() != p.book {
			continue
		}
		pos, err := b.Position(ctx, p.pos.WalletID, p.pos.Token)
		if err != nil {
			if !errors.Is(err, ledger.ErrNoPosition) {
				e.logger.Printf("protection %s %s/%s: reload: %v", p.book, p.pos.WalletID, p.pos.Token.Symbol, err)
			}
			return protection{book: p.book}
		}
		if !pos.Protected() {
			return protection{book: p.book}
		}
		pos.WalletID = p.pos.WalletID
		return protection{book: p.book, pos: pos}
	}
	return p
}

// rearm rewrites the same levels so the next breach gets a fresh intent id.
func (e *Engine) rearm(ctx context.Context, p protection) error {
	for _, b := range e.protected {
		if b.Book() != p.book {
			continue
		}
		err := b.SetProtection(ctx, p.pos.WalletID, p.pos.Token, p.pos.StopLossPrice, p.pos.TakeProfitPrices)
		if errors.Is(err, ledger.ErrNoPosition) {
			return nil
		}
		return err
	}
	return nil
}

func sortProtections(ps []protection) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].book != ps[j].book {
			return ps[i].book < ps[j].book
		}
		return ps[i].pos.Token.Key() < ps[j].pos.Token.Key()
	})
}
