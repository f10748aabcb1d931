package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swap-engine/internal/chain"
	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
)

// executeLive settles the intent on-chain. Steps run in a fixed order and
// each failure stops before the next external side effect.
func (e *Executor) executeLive(ctx context.Context, r *run) *domain.SwapResult {
	in := r.intent

	// 1. credentials
	if !e.creds.HasCredentials(in.WalletID) {
		return e.fail(in, domain.ErrorKindNoCredentials, fmt.Errorf("wallet %s has no credentials", in.WalletID))
	}
	key, err := e.creds.Credentials(in.WalletID)
	if err != nil {
		return e.fail(in, domain.ErrorKindNoCredentials, err)
	}
	rpc, ok := e.rpc[in.Chain]
	if !ok {
		return e.fail(in, domain.ErrorKindInvalidInput, fmt.Errorf("no rpc endpoint for %s", in.Chain))
	}
	signer, err := chain.NewSigner(key, big.NewInt(e.chains[in.Chain].ChainID))
	if err != nil {
		return e.fail(in, domain.ErrorKindNoCredentials, err)
	}
	owner := signer.Address()

	if in.Side == domain.SideSell && !in.TokenIn.IsNative() {
		bal, err := chain.TokenBalance(ctx, rpc, common.HexToAddress(in.TokenIn.Address), owner)
		if err == nil && bal.Cmp(r.amountIn) < 0 {
			if bal.Sign() == 0 {
				return e.fail(in, domain.ErrorKindNoPosition, fmt.Errorf("wallet holds no %s on-chain", in.TokenIn))
			}
			e.logger.Printf("intent %s: on-chain %s balance %s below ledger quantity, selling balance", in.ID, in.TokenIn, bal)
			r.amountIn = bal
		}
	}

	// 2. fresh quote, 3. min out
	q, err := e.quotes.GetQuote(ctx, in.Chain, in.TokenIn, in.TokenOut, r.amountIn)
	if err != nil {
		return e.fail(in, quoteKind(err), err)
	}

	res := &domain.SwapResult{
		IntentID: in.ID,
		Mode:     in.Mode,
		Side:     in.Side,
		Provider: q.Provider,
	}

	gasPrice, err := rpc.GasPrice(ctx)
	if err != nil {
		return e.failWith(res, domain.ErrorKindSubmissionFailed, fmt.Errorf("gas price: %w", err))
	}

	// 4. gas reserve
	if err := e.checkReserve(ctx, rpc, owner, in, r.amountIn, swapGasEstimate(q), gasPrice); err != nil {
		return e.failWith(res, reserveKind(err), err)
	}

	// 5. allowance
	if !in.TokenIn.IsNative() {
		spender := common.HexToAddress(q.Spender)
		approvalHash, err := e.ensureAllowance(ctx, rpc, signer, in.TokenIn, spender, r.amountIn, gasPrice)
		res.ApprovalTxHash = approvalHash
		if err != nil {
			observability.RecordApproval("failed")
			return e.failWith(res, domain.ErrorKindApprovalFailed, err)
		}
		if approvalHash != "" {
			observability.RecordApproval("success")
			if err := e.checkReserve(ctx, rpc, owner, in, r.amountIn, swapGasEstimate(q), gasPrice); err != nil {
				return e.failWith(res, reserveKind(err), err)
			}
			// The approval wait can outlive the quote.
			if q.Expired(e.clock(), e.quotes.Validity()) {
				if q, err = e.quotes.GetQuote(ctx, in.Chain, in.TokenIn, in.TokenOut, r.amountIn); err != nil {
					return e.failWith(res, quoteKind(err), err)
				}
				res.Provider = q.Provider
			}
		}
	}

	// 6. build, sign, submit
	swapTx, err := e.quotes.BuildSwap(ctx, q, owner, in.SlippageBps)
	if err != nil {
		return e.failWith(res, quoteKindOrSubmission(err), fmt.Errorf("build swap: %w", err))
	}
	txGasPrice := gasPrice
	if swapTx.GasPrice != nil {
		txGasPrice = swapTx.GasPrice
	}
	gas := swapTx.Gas
	if gas == 0 {
		est, err := rpc.EstimateGas(ctx, chain.CallMsg{From: owner, To: swapTx.To, Data: swapTx.Data, Value: swapTx.Value})
		if err != nil {
			gas = DefaultSwapGas
		} else {
			gas = est * 12 / 10
		}
	}
	nonce, err := rpc.PendingNonceAt(ctx, owner)
	if err != nil {
		return e.failWith(res, domain.ErrorKindSubmissionFailed, fmt.Errorf("nonce: %w", err))
	}
	raw, _, err := signer.Sign(chain.TxRequest{
		Nonce:    nonce,
		To:       swapTx.To,
		Value:    swapTx.Value,
		Gas:      gas,
		GasPrice: txGasPrice,
		Data:     swapTx.Data,
	})
	if err != nil {
		return e.failWith(res, domain.ErrorKindSubmissionFailed, fmt.Errorf("sign swap: %w", err))
	}
	txHash, err := rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return e.failWith(res, domain.ErrorKindSubmissionFailed, fmt.Errorf("submit swap: %w", err))
	}
	res.TxHash = txHash
	res.GasPrice = txGasPrice

	// 7. bounded receipt wait
	receipt, err := chain.WaitForReceipt(ctx, rpc, txHash, e.confirm, e.poll)
	if err != nil {
		return e.failWith(res, domain.ErrorKindTimeout, fmt.Errorf("swap %s not confirmed: %w", txHash, err))
	}
	res.GasUsed = receipt.GasUsed
	if receipt.EffectiveGasPrice != nil {
		res.GasPrice = receipt.EffectiveGasPrice
	}
	observability.RecordGasUsed(in.Chain, receipt.GasUsed)
	if !receipt.Succeeded() {
		return e.failWith(res, domain.ErrorKindReverted, fmt.Errorf("swap %s reverted", txHash))
	}

	// 8. realized output
	res.AmountOut = q.AmountOut
	if !in.TokenOut.IsNative() {
		if got := chain.TransferredTo(receipt, common.HexToAddress(in.TokenOut.Address), owner); got != nil && got.Sign() > 0 {
			res.AmountOut = got
		}
	}
	res.ExecutedAt = e.clock()
	return e.settle(ctx, r, res, q)
}

func swapGasEstimate(q *domain.Quote) uint64 {
	if q.EstimatedGas > 0 {
		return q.EstimatedGas
	}
	return DefaultSwapGas
}

func (e *Executor) checkReserve(ctx context.Context, rpc chain.RPCClient, owner common.Address, in *domain.SwapIntent, amountIn *big.Int, units uint64, gasPrice *big.Int) error {
	balance, err := rpc.BalanceAt(ctx, owner)
	if err != nil {
		return fmt.Errorf("native balance: %w", err)
	}
	var nativeSpend *big.Int
	if in.TokenIn.IsNative() {
		nativeSpend = amountIn
	}
	return CheckGasReserve(balance, gasCost(units, gasPrice), nativeSpend)
}

func reserveKind(err error) domain.ErrorKind {
	if errors.Is(err, ErrInsufficientGas) {
		return domain.ErrorKindInsufficientGas
	}
	return domain.ErrorKindSubmissionFailed
}

func quoteKindOrSubmission(err error) domain.ErrorKind {
	if k := quoteKind(err); k == domain.ErrorKindQuoteExpired {
		return k
	}
	return domain.ErrorKindSubmissionFailed
}

// ensureAllowance approves spender for the maximum amount when the current
// allowance is below amount. Returns the approval hash, or "" if none was needed.
func (e *Executor) ensureAllowance(ctx context.Context, rpc chain.RPCClient, signer *chain.Signer, token domain.Token, spender common.Address, amount, gasPrice *big.Int) (string, error) {
	tokenAddr := common.HexToAddress(token.Address)
	owner := signer.Address()

	allowance, err := chain.Allowance(ctx, rpc, tokenAddr, owner, spender)
	if err != nil {
		return "", fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return "", nil
	}

	data, err := chain.EncodeApprove(spender, chain.MaxUint256)
	if err != nil {
		return "", err
	}
	gas, err := rpc.EstimateGas(ctx, chain.CallMsg{From: owner, To: tokenAddr, Data: data})
	if err != nil || gas == 0 {
		gas = DefaultApprovalGas
	}
	nonce, err := rpc.PendingNonceAt(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	raw, _, err := signer.Sign(chain.TxRequest{
		Nonce:    nonce,
		To:       tokenAddr,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return "", fmt.Errorf("sign approval: %w", err)
	}
	hash, err := rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("submit approval: %w", err)
	}

	receipt, err := chain.WaitForReceipt(ctx, rpc, hash, e.approve, e.poll)
	if err != nil {
		return hash, fmt.Errorf("approval %s not confirmed: %w", hash, err)
	}
	if !receipt.Succeeded() {
		return hash, fmt.Errorf("approval %s reverted", hash)
	}
	return hash, nil
}
