package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeTokenAddress is the sentinel address routing backends use for the
// chain's native token (ETH, MATIC, ...).
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Token identifies an asset on a specific chain.
type Token struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Chain    string `json:"chain" yaml:"chain"`       // chain name, e.g. "base"
	Address  string `json:"address" yaml:"address"`   // hex contract address or NativeTokenAddress
	Decimals int32  `json:"decimals" yaml:"decimals"` // on-chain precision
}

// Key returns the unique identity of the token: chain + lowercase address.
func (t Token) Key() string {
	return t.Chain + ":" + strings.ToLower(t.Address)
}

// IsNative reports whether the token is the chain's native token.
func (t Token) IsNative() bool {
	return strings.EqualFold(t.Address, NativeTokenAddress)
}

// Equal reports whether both references point to the same token.
func (t Token) Equal(o Token) bool {
	return t.Key() == o.Key()
}

// Validate checks that the token reference is usable.
func (t Token) Validate() error {
	if t.Chain == "" {
		return fmt.Errorf("token %q: chain is required", t.Symbol)
	}
	if !strings.HasPrefix(t.Address, "0x") || len(t.Address) != 42 {
		return fmt.Errorf("token %q: invalid address %q", t.Symbol, t.Address)
	}
	if t.Decimals < 0 || t.Decimals > 36 {
		return fmt.Errorf("token %q: invalid decimals %d", t.Symbol, t.Decimals)
	}
	return nil
}

// ToUnits converts a human amount into the token's smallest unit.
// Fractions below one unit are truncated.
func (t Token) ToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromUnits converts an amount in smallest units into a human amount.
func (t Token) FromUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -t.Decimals)
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol + "@" + t.Chain
	}
	return t.Key()
}
