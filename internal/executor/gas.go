package executor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// GasReserveWei is the native balance (0.0005 ETH) that must remain after
// every transaction so the wallet can always pay for an exit.
var GasReserveWei = big.NewInt(500_000_000_000_000)

// Gas defaults used when neither the backend nor the node gives an estimate.
const (
	DefaultSwapGas     = 500_000
	DefaultApprovalGas = 100_000
)

// ErrInsufficientGas is returned when a transaction would breach the gas reserve.
var ErrInsufficientGas = errors.New("insufficient native balance for gas reserve")

// CheckGasReserve verifies balance >= reserve and
// balance - gasCost - nativeSpend >= reserve.
func CheckGasReserve(balance, gasCost, nativeSpend *big.Int) error {
	if balance.Cmp(GasReserveWei) < 0 {
		return fmt.Errorf("%w: balance %s ETH below reserve %s ETH", ErrInsufficientGas, weiToEth(balance), weiToEth(GasReserveWei))
	}
	left := new(big.Int).Sub(balance, gasCost)
	if nativeSpend != nil {
		left.Sub(left, nativeSpend)
	}
	if left.Cmp(GasReserveWei) < 0 {
		return fmt.Errorf("%w: %s ETH would remain after gas %s ETH, reserve %s ETH",
			ErrInsufficientGas, weiToEth(left), weiToEth(gasCost), weiToEth(GasReserveWei))
	}
	return nil
}

func weiToEth(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}

func gasCost(units uint64, price *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(units), price)
}
