package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	erc20ABI = mustParseABI(erc20ABIJSON)

	// TransferEventTopic is keccak256("Transfer(address,address,uint256)").
	TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// MaxUint256 is the "unlimited" approval amount.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// EncodeAllowance packs allowance(owner, spender).
func EncodeAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

// EncodeApprove packs approve(spender, amount).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// EncodeBalanceOf packs balanceOf(owner).
func EncodeBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// decodeUint256 unpacks a single uint256 return value of method.
func decodeUint256(method string, out []byte) (*big.Int, error) {
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

// Allowance reads token.allowance(owner, spender).
func Allowance(ctx context.Context, client RPCClient, token, owner, spender common.Address) (*big.Int, error) {
	data, err := EncodeAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, CallMsg{To: token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("allowance call: %w", err)
	}
	return decodeUint256("allowance", out)
}

// TokenBalance reads token.balanceOf(owner).
func TokenBalance(ctx context.Context, client RPCClient, token, owner common.Address) (*big.Int, error) {
	data, err := EncodeBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, CallMsg{To: token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}
	return decodeUint256("balanceOf", out)
}

// TransferredTo sums the ERC-20 Transfer events of token whose recipient is to.
// Returns nil if the receipt has no such event.
func TransferredTo(r *Receipt, token, to common.Address) *big.Int {
	var total *big.Int
	toTopic := common.BytesToHash(to.Bytes())
	for _, l := range r.Logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != TransferEventTopic {
			continue
		}
		if l.Topics[2] != toTopic {
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return total
}
