// Package chain talks to EVM JSON-RPC nodes: balances, contract calls,
// transaction signing, submission and receipt polling.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RPCClient defines the EVM JSON-RPC surface the executor needs.
type RPCClient interface {
	// ChainID returns the EIP-155 chain id of the node.
	ChainID(ctx context.Context) (*big.Int, error)

	// BalanceAt returns the native balance of addr in wei at the latest block.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)

	// CallContract executes a read-only call (eth_call) at the latest block.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)

	// EstimateGas estimates the gas needed to execute msg.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// GasPrice returns the node's suggested legacy gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)

	// PendingNonceAt returns the next nonce for addr including pending transactions.
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// SendRawTransaction submits a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)

	// TransactionReceipt returns the receipt for txHash, or nil if not yet mined.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}
