package app

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/ledger"
)

type intentExecutor interface {
	Execute(ctx context.Context, intent *domain.SwapIntent) *domain.SwapResult
}

// fundingExecutor seeds a wallet's book with its configured starting cash
// the first time the wallet trades, then delegates.
type fundingExecutor struct {
	next       intentExecutor
	paper      *ledger.Ledger
	live       *ledger.Ledger
	paperCash  decimal.Decimal
	liveBudget decimal.Decimal
	logger     *log.Logger
}

func (f *fundingExecutor) Execute(ctx context.Context, intent *domain.SwapIntent) *domain.SwapResult {
	book, amount := f.paper, f.paperCash
	if intent.Mode == domain.ModeLive {
		book, amount = f.live, f.liveBudget
	}
	if amount.IsPositive() && intent.WalletID != "" {
		created, err := book.EnsureCash(ctx, intent.WalletID, amount)
		switch {
		case err != nil:
			f.logger.Printf("seed %s wallet %s: %v", book.Book(), intent.WalletID, err)
		case created:
			f.logger.Printf("seeded %s wallet %s with %s", book.Book(), intent.WalletID, amount)
		}
	}
	return f.next.Execute(ctx, intent)
}
