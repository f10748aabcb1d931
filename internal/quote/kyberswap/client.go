// Package kyberswap implements the KyberSwap aggregator quote backend.
package kyberswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"swap-engine/internal/domain"
	"swap-engine/internal/quote"
)

// Name is the provider name stored on quotes.
const Name = "kyberswap"

// Default configuration values.
const (
	DefaultBaseURL = "https://aggregator-api.kyberswap.com"
	DefaultSource  = "swap-engine"
	DefaultTimeout = 15 * time.Second
)

// Kyber error codes meaning the pair cannot be routed.
var noRouteCodes = map[int]bool{
	4008: true, // route not found
	4009: true, // amount in too large
	4010: true, // no eligible pools
	4011: true, // token not found
}

// Client talks to the KyberSwap aggregator API.
type Client struct {
	baseURL string
	source  string
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

// WithSource sets the client id sent as "source" and x-client-id.
func WithSource(s string) Option {
	return func(c *Client) {
		c.source = s
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates a KyberSwap client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		source:  DefaultSource,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name.
func (c *Client) Name() string { return Name }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type routesData struct {
	RouteSummary  json.RawMessage `json:"routeSummary"`
	RouterAddress string          `json:"routerAddress"`
}

type routeSummary struct {
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Gas       string `json:"gas"`
}

// Quote calls GET /{chain}/api/v1/routes.
func (c *Client) Quote(ctx context.Context, req quote.Request) (*domain.Quote, error) {
	params := url.Values{}
	params.Set("tokenIn", req.TokenIn.Address)
	params.Set("tokenOut", req.TokenOut.Address)
	params.Set("amountIn", req.AmountIn.String())
	params.Set("saveGas", "false")
	params.Set("gasInclude", "true")

	u := fmt.Sprintf("%s/%s/api/v1/routes?%s", c.baseURL, req.Chain.Name, params.Encode())
	httpReq, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, quote.Errorf(quote.KindInvalidInput, "create request: %v", err)
	}
	httpReq.Header.Set("x-client-id", c.source)

	var env envelope
	if err := quote.DoJSON(ctx, c.client, httpReq, &env, isNoRoute); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, codeError(env)
	}

	var data routesData
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &data) != nil {
		return nil, quote.Errorf(quote.KindMalformed, "routes response has no data")
	}
	if len(data.RouteSummary) == 0 || string(data.RouteSummary) == "null" {
		return nil, quote.Errorf(quote.KindNoRoute, "no route summary")
	}
	var summary routeSummary
	if err := json.Unmarshal(data.RouteSummary, &summary); err != nil {
		return nil, quote.Errorf(quote.KindMalformed, "decode route summary: %v", err)
	}
	out, ok := quote.ParseAmount(summary.AmountOut)
	if !ok || out.Sign() == 0 {
		return nil, quote.Errorf(quote.KindNoRoute, "route amount out %q", summary.AmountOut)
	}
	if !common.IsHexAddress(data.RouterAddress) {
		return nil, quote.Errorf(quote.KindMalformed, "invalid router address %q", data.RouterAddress)
	}
	gas, _ := strconv.ParseUint(summary.Gas, 10, 64)

	return &domain.Quote{
		AmountOut:    out,
		Route:        data.RouteSummary,
		Spender:      common.HexToAddress(data.RouterAddress).Hex(),
		EstimatedGas: gas,
	}, nil
}

type buildBody struct {
	RouteSummary      json.RawMessage `json:"routeSummary"`
	Sender            string          `json:"sender"`
	Recipient         string          `json:"recipient"`
	SlippageTolerance int             `json:"slippageTolerance"` // bps
	Deadline          int64           `json:"deadline"`
	Source            string          `json:"source"`
}

type buildData struct {
	RouterAddress string `json:"routerAddress"`
	Data          string `json:"data"`
	Value         string `json:"transactionValue"`
	LegacyValue   string `json:"value"`
	Gas           string `json:"gas"`
}

// Build calls POST /{chain}/api/v1/route/build.
func (c *Client) Build(ctx context.Context, req quote.BuildRequest) (*quote.SwapTx, error) {
	body, err := json.Marshal(buildBody{
		RouteSummary:      req.Quote.Route,
		Sender:            req.Sender.Hex(),
		Recipient:         req.Sender.Hex(),
		SlippageTolerance: req.SlippageBps,
		Deadline:          req.Deadline.Unix(),
		Source:            c.source,
	})
	if err != nil {
		return nil, quote.Errorf(quote.KindInvalidInput, "encode build body: %v", err)
	}

	u := fmt.Sprintf("%s/%s/api/v1/route/build", c.baseURL, req.Chain.Name)
	httpReq, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, quote.Errorf(quote.KindInvalidInput, "create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", c.source)

	var env envelope
	if err := quote.DoJSON(ctx, c.client, httpReq, &env, isNoRoute); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, codeError(env)
	}
	var data buildData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, quote.Errorf(quote.KindMalformed, "decode build data: %v", err)
	}
	if !common.IsHexAddress(data.RouterAddress) {
		return nil, quote.Errorf(quote.KindMalformed, "invalid router address %q", data.RouterAddress)
	}
	calldata, err := hexutil.Decode(data.Data)
	if err != nil || len(calldata) == 0 {
		return nil, quote.Errorf(quote.KindMalformed, "invalid calldata")
	}

	valueStr := data.Value
	if valueStr == "" {
		valueStr = data.LegacyValue
	}
	value, ok := quote.ParseAmount(valueStr)
	if !ok {
		value = nil
	}
	gas, _ := strconv.ParseUint(data.Gas, 10, 64)

	return &quote.SwapTx{
		To:    common.HexToAddress(data.RouterAddress),
		Data:  calldata,
		Value: value,
		Gas:   gas,
	}, nil
}

func codeError(env envelope) error {
	if noRouteCodes[env.Code] {
		return quote.Errorf(quote.KindNoRoute, "code %d: %s", env.Code, env.Message)
	}
	return quote.Errorf(quote.KindMalformed, "code %d: %s", env.Code, env.Message)
}

func isNoRoute(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusNotFound && status != http.StatusUnprocessableEntity {
		return false
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	return noRouteCodes[env.Code]
}

var _ quote.Backend = (*Client)(nil)
