package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RetryPolicy bounds transport-level retries. Node errors are never retried.
type RetryPolicy struct {
	Attempts int           // retries after the first try
	Initial  time.Duration // first backoff
	Max      time.Duration
	Factor   float64
}

// DefaultRetryPolicy is used by NewHTTPClient.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Initial:  time.Second,
	Max:      10 * time.Second,
	Factor:   2,
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * p.Factor)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// HTTPClient talks to one EVM node over JSON-RPC 2.0.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	retry    RetryPolicy
	seq      atomic.Uint64
	observe  func(method string, d time.Duration, err error)
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.http.Timeout = d }
}

// WithMaxRetries overrides RetryPolicy.Attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.retry.Attempts = n }
}

// WithRetryDelay overrides RetryPolicy.Initial.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.retry.Initial = d }
}

// WithMaxDelay overrides RetryPolicy.Max.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.retry.Max = d }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithObserver registers a hook run after every call, with the final error.
func WithObserver(fn func(method string, d time.Duration, err error)) ClientOption {
	return func(c *HTTPClient) { c.observe = fn }
}

// NewHTTPClient creates a client for the node at endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node, e.g. "nonce too low".
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// errTransient marks failures worth another attempt.
var errTransient = errors.New("transient rpc failure")

func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) (err error) {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(method, time.Since(start), err) }()
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	raw, err := c.postWithRetry(ctx, payload)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *HTTPClient) postWithRetry(ctx context.Context, payload []byte) (json.RawMessage, error) {
	wait := c.retry.Initial
	var lastErr error
	for attempt := 0; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			wait = c.retry.next(wait)
		}

		raw, err := c.post(ctx, payload)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, errTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rpc retries exhausted: %w", lastErr)
}

// post performs one round trip. Transport, status and decode failures wrap errTransient.
func (c *HTTPClient) post(ctx context.Context, payload []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errTransient, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: rate limited", errTransient)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", errTransient, resp.StatusCode, body)
	}

	var out rpcResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errTransient, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

// ChainID retrieves the chain id.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_chainId", nil, &result); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// BalanceAt retrieves the native balance at the latest block.
func (c *HTTPClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_getBalance", []interface{}{addr.Hex(), "latest"}, &result); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// CallContract executes eth_call at the latest block.
func (c *HTTPClient) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	var result hexutil.Bytes
	if err := c.call(ctx, "eth_call", []interface{}{toCallArg(msg), "latest"}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// EstimateGas runs eth_estimateGas.
func (c *HTTPClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_estimateGas", []interface{}{toCallArg(msg)}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// GasPrice retrieves the suggested gas price.
func (c *HTTPClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_gasPrice", nil, &result); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// PendingNonceAt retrieves the pending transaction count of addr.
func (c *HTTPClient) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{addr.Hex(), "pending"}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SendRawTransaction submits a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	var result string
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &result); err != nil {
		return "", err
	}
	return result, nil
}

// TransactionReceipt retrieves a receipt. Returns nil if the transaction is not mined yet.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var result *getReceiptResult
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	r := &Receipt{
		TxHash:      result.TransactionHash,
		Status:      uint64(result.Status),
		GasUsed:     uint64(result.GasUsed),
		BlockNumber: uint64(result.BlockNumber),
	}
	if result.EffectiveGasPrice != nil {
		r.EffectiveGasPrice = (*big.Int)(result.EffectiveGasPrice)
	}
	for _, l := range result.Logs {
		r.Logs = append(r.Logs, Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
		})
	}
	return r, nil
}

// getReceiptResult is the raw RPC response for eth_getTransactionReceipt.
type getReceiptResult struct {
	TransactionHash   string          `json:"transactionHash"`
	Status            hexutil.Uint64  `json:"status"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	Logs              []getReceiptLog `json:"logs"`
}

type getReceiptLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// callArg is the JSON shape of a transaction call object.
type callArg struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
	Gas   string `json:"gas,omitempty"`
}

func toCallArg(msg CallMsg) callArg {
	arg := callArg{To: msg.To.Hex()}
	if msg.From != (common.Address{}) {
		arg.From = msg.From.Hex()
	}
	if len(msg.Data) > 0 {
		arg.Data = hexutil.Encode(msg.Data)
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		arg.Value = hexutil.EncodeBig(msg.Value)
	}
	if msg.Gas > 0 {
		arg.Gas = hexutil.EncodeUint64(msg.Gas)
	}
	return arg
}

// Compile-time interface check
var _ RPCClient = (*HTTPClient)(nil)
