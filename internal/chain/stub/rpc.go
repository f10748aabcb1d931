package stub

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"swap-engine/internal/chain"
)

// RPCClient implements chain.RPCClient for testing.
// It records every method called and every raw transaction submitted.
type RPCClient struct {
	mu sync.Mutex

	ID          *big.Int
	Balance     *big.Int // native balance returned for every address
	Allowance   *big.Int // returned for allowance() calls
	TokenBal    *big.Int // returned for balanceOf() calls
	Nonce       uint64
	GasPriceWei *big.Int
	GasEstimate uint64

	BalanceErr  error
	CallErr     error
	EstimateErr error
	SendErr     error

	// Mine returns the receipt for the n-th submitted tx (0-based).
	// nil Mine mines everything successfully; a nil receipt means never mined.
	Mine func(n int, hash string) *chain.Receipt

	Calls    []string // method names in call order
	Sent     [][]byte // raw submitted transactions
	receipts map[string]*chain.Receipt
}

// NewRPCClient creates a stub with a funded wallet, zero allowance and 1 gwei gas.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		ID:          big.NewInt(8453),
		Balance:     new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)),
		Allowance:   new(big.Int),
		TokenBal:    new(big.Int),
		GasPriceWei: big.NewInt(1_000_000_000),
		GasEstimate: 200_000,
		receipts:    make(map[string]*chain.Receipt),
	}
}

func (c *RPCClient) record(method string) {
	c.mu.Lock()
	c.Calls = append(c.Calls, method)
	c.mu.Unlock()
}

// Called reports whether method was invoked.
func (c *RPCClient) Called(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.Calls {
		if m == method {
			return true
		}
	}
	return false
}

// SentCount returns the number of submitted transactions.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// ChainID returns the configured chain id.
func (c *RPCClient) ChainID(_ context.Context) (*big.Int, error) {
	c.record("eth_chainId")
	return new(big.Int).Set(c.ID), nil
}

// BalanceAt returns the configured native balance.
func (c *RPCClient) BalanceAt(_ context.Context, _ common.Address) (*big.Int, error) {
	c.record("eth_getBalance")
	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	return new(big.Int).Set(c.Balance), nil
}

var (
	allowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// CallContract answers allowance() and balanceOf() calls.
func (c *RPCClient) CallContract(_ context.Context, msg chain.CallMsg) ([]byte, error) {
	c.record("eth_call")
	if c.CallErr != nil {
		return nil, c.CallErr
	}
	var v *big.Int
	switch {
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(allowanceSelector):
		v = c.Allowance
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(balanceOfSelector):
		v = c.TokenBal
	default:
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

// EstimateGas returns the configured estimate.
func (c *RPCClient) EstimateGas(_ context.Context, _ chain.CallMsg) (uint64, error) {
	c.record("eth_estimateGas")
	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}
	return c.GasEstimate, nil
}

// GasPrice returns the configured gas price.
func (c *RPCClient) GasPrice(_ context.Context) (*big.Int, error) {
	c.record("eth_gasPrice")
	return new(big.Int).Set(c.GasPriceWei), nil
}

// PendingNonceAt returns the next nonce.
func (c *RPCClient) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	c.record("eth_getTransactionCount")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonce, nil
}

// SendRawTransaction records raw and mines it according to Mine.
func (c *RPCClient) SendRawTransaction(_ context.Context, raw []byte) (string, error) {
	c.record("eth_sendRawTransaction")
	if c.SendErr != nil {
		return "", c.SendErr
	}

	hash := crypto.Keccak256Hash(raw).Hex()

	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.Sent)
	c.Sent = append(c.Sent, raw)
	c.Nonce++

	var r *chain.Receipt
	if c.Mine == nil {
		r = &chain.Receipt{Status: chain.ReceiptStatusSuccessful, GasUsed: 100_000, EffectiveGasPrice: c.GasPriceWei}
	} else {
		r = c.Mine(n, hash)
	}
	if r != nil {
		r.TxHash = hash
		c.receipts[hash] = r
	}
	return hash, nil
}

// TransactionReceipt returns the receipt of a mined transaction or nil.
func (c *RPCClient) TransactionReceipt(_ context.Context, txHash string) (*chain.Receipt, error) {
	c.record("eth_getTransactionReceipt")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[txHash], nil
}

// Compile-time interface check
var _ chain.RPCClient = (*RPCClient)(nil)
