// Package paraswap implements the ParaSwap aggregator quote backend.
package paraswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"swap-engine/internal/domain"
	"swap-engine/internal/quote"
)

// Name is the provider name stored on quotes.
const Name = "paraswap"

// Default configuration values.
const (
	DefaultBaseURL = "https://api.paraswap.io"
	DefaultPartner = "swap-engine"
	DefaultTimeout = 15 * time.Second
)

// Client talks to the ParaSwap API.
type Client struct {
	baseURL string
	partner string
	apiKey  string
	client  *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithPartner sets the partner tag sent with builds.
func WithPartner(p string) Option {
	return func(c *Client) {
		c.partner = p
	}
}

// WithAPIKey sets the X-API-KEY header.
func WithAPIKey(k string) Option {
	return func(c *Client) {
		c.apiKey = k
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates a ParaSwap client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		partner: DefaultPartner,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name.
func (c *Client) Name() string { return Name }

type pricesResponse struct {
	PriceRoute json.RawMessage `json:"priceRoute"`
	Error      string          `json:"error"`
}

type priceRoute struct {
	SrcAmount          string `json:"srcAmount"`
	DestAmount         string `json:"destAmount"`
	GasCost            string `json:"gasCost"`
	TokenTransferProxy string `json:"tokenTransferProxy"`
}

// Quote calls GET /prices with side=SELL.
func (c *Client) Quote(ctx context.Context, req quote.Request) (*domain.Quote, error) {
	params := url.Values{}
	params.Set("srcToken", req.TokenIn.Address)
	params.Set("destToken", req.TokenOut.Address)
	params.Set("amount", req.AmountIn.String())
	params.Set("srcDecimals", strconv.Itoa(int(req.TokenIn.Decimals)))
	params.Set("destDecimals", strconv.Itoa(int(req.TokenOut.Decimals)))
	params.Set("network", strconv.FormatInt(req.Chain.ChainID, 10))
	params.Set("side", "SELL")

	httpReq, err := http.NewRequest(http.MethodGet, c.baseURL+"/prices?"+params.Encode(), nil)
	if err != nil {
		return nil, quote.Errorf(quote.KindInvalidInput, "create request: %v", err)
	}
	c.setHeaders(httpReq)

	var resp pricesResponse
	if err := quote.DoJSON(ctx, c.client, httpReq, &resp, isNoRoute); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, quote.Errorf(quote.KindNoRoute, "%s", resp.Error)
	}
	if len(resp.PriceRoute) == 0 || string(resp.PriceRoute) == "null" {
		return nil, quote.Errorf(quote.KindNoRoute, "no price route")
	}
	var route priceRoute
	if err := json.Unmarshal(resp.PriceRoute, &route); err != nil {
		return nil, quote.Errorf(quote.KindMalformed, "decode price route: %v", err)
	}
	out, ok := quote.ParseAmount(route.DestAmount)
	if !ok || out.Sign() == 0 {
		return nil, quote.Errorf(quote.KindNoRoute, "dest amount %q", route.DestAmount)
	}
	if !common.IsHexAddress(route.TokenTransferProxy) {
		return nil, quote.Errorf(quote.KindMalformed, "invalid token transfer proxy %q", route.TokenTransferProxy)
	}
	gas, _ := strconv.ParseUint(route.GasCost, 10, 64)

	return &domain.Quote{
		AmountOut:    out,
		Route:        resp.PriceRoute,
		Spender:      common.HexToAddress(route.TokenTransferProxy).Hex(),
		EstimatedGas: gas,
	}, nil
}

type txBody struct {
	SrcToken     string          `json:"srcToken"`
	DestToken    string          `json:"destToken"`
	SrcAmount    string          `json:"srcAmount"`
	DestAmount   string          `json:"destAmount"` // minimum accepted output
	PriceRoute   json.RawMessage `json:"priceRoute"`
	UserAddress  string          `json:"userAddress"`
	Partner      string          `json:"partner"`
	SrcDecimals  int32           `json:"srcDecimals"`
	DestDecimals int32           `json:"destDecimals"`
	Deadline     int64           `json:"deadline,omitempty"`
}

type txResponse struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Error    string `json:"error"`
}

// Build calls POST /transactions/{chainId} with destAmount set to the minimum output.
func (c *Client) Build(ctx context.Context, req quote.BuildRequest) (*quote.SwapTx, error) {
	q := req.Quote
	body, err := json.Marshal(txBody{
		SrcToken:     q.TokenIn.Address,
		DestToken:    q.TokenOut.Address,
		SrcAmount:    q.AmountIn.String(),
		DestAmount:   req.MinAmountOut.String(),
		PriceRoute:   q.Route,
		UserAddress:  req.Sender.Hex(),
		Partner:      c.partner,
		SrcDecimals:  q.TokenIn.Decimals,
		DestDecimals: q.TokenOut.Decimals,
		Deadline:     req.Deadline.Unix(),
	})
	if err != nil {
		return nil, quote.Errorf(quote.KindInvalidInput, "encode build body: %v", err)
	}

	u := fmt.Sprintf("%s/transactions/%d", c.baseURL, req.Chain.ChainID)
	httpReq, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, quote.Errorf(quote.KindInvalidInput, "create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	var resp txResponse
	if err := quote.DoJSON(ctx, c.client, httpReq, &resp, isNoRoute); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, quote.Errorf(quote.KindMalformed, "%s", resp.Error)
	}
	if !common.IsHexAddress(resp.To) {
		return nil, quote.Errorf(quote.KindMalformed, "invalid target %q", resp.To)
	}
	calldata, err := hexutil.Decode(resp.Data)
	if err != nil || len(calldata) == 0 {
		return nil, quote.Errorf(quote.KindMalformed, "invalid calldata")
	}

	tx := &quote.SwapTx{
		To:   common.HexToAddress(resp.To),
		Data: calldata,
	}
	if v, ok := quote.ParseAmount(resp.Value); ok {
		tx.Value = v
	}
	if gas, ok := quote.ParseAmount(resp.Gas); ok && gas.IsUint64() {
		tx.Gas = gas.Uint64()
	}
	if gp, ok := quote.ParseAmount(resp.GasPrice); ok && gp.Sign() > 0 {
		tx.GasPrice = gp
	}
	return tx, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}
}

func isNoRoute(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusNotFound {
		return false
	}
	var resp pricesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	msg := strings.ToLower(resp.Error)
	return strings.Contains(msg, "no routes") || strings.Contains(msg, "route not found") ||
		strings.Contains(msg, "liquidity")
}

var _ quote.Backend = (*Client)(nil)
