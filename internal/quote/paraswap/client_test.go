package paraswap

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
	"swap-engine/internal/quote"
)

var (
	usdc  = domain.Token{Symbol: "USDC", Chain: "base", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
	eth   = domain.Token{Symbol: "ETH", Chain: "base", Address: domain.NativeTokenAddress, Decimals: 18}
	proxy = "0x93aAAe79a53759cD164340E4C8766E4Db5331cD7"
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, usdc.Address, q.Get("srcToken"))
		assert.Equal(t, eth.Address, q.Get("destToken"))
		assert.Equal(t, "2500000", q.Get("amount"))
		assert.Equal(t, "6", q.Get("srcDecimals"))
		assert.Equal(t, "18", q.Get("destDecimals"))
		assert.Equal(t, "8453", q.Get("network"))
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))

		w.Write([]byte(`{"priceRoute":{"srcAmount":"2500000","destAmount":"1000000000000000","gasCost":"150000","tokenTransferProxy":"` + proxy + `","bestRoute":[]}}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithAPIKey("secret"))
	q, err := c.Quote(context.Background(), quote.Request{
		Chain: domain.ChainBase, TokenIn: usdc, TokenOut: eth, AmountIn: big.NewInt(2500000),
	})
	require.NoError(t, err)

	assert.Equal(t, "1000000000000000", q.AmountOut.String())
	assert.Equal(t, uint64(150000), q.EstimatedGas)
	assert.Equal(t, common.HexToAddress(proxy).Hex(), q.Spender)
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   quote.Kind
	}{
		{"no routes", http.StatusBadRequest, `{"error":"No routes found with enough liquidity"}`, quote.KindNoRoute},
		{"bad request", http.StatusBadRequest, `{"error":"Invalid tokens"}`, quote.KindMalformed},
		{"zero dest", http.StatusOK, `{"priceRoute":{"destAmount":"0","tokenTransferProxy":"` + proxy + `"}}`, quote.KindNoRoute},
		{"missing route", http.StatusOK, `{}`, quote.KindNoRoute},
		{"rate limited", http.StatusTooManyRequests, ``, quote.KindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(WithBaseURL(srv.URL)).Quote(context.Background(), quote.Request{
				Chain: domain.ChainBase, TokenIn: usdc, TokenOut: eth, AmountIn: big.NewInt(1),
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, quote.KindOf(err))
		})
	}
}

func TestBuild_SendsMinAmountOut(t *testing.T) {
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	target := "0x6A000F20005980200259B80c5102003040001068"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/8453", r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2500000", body["srcAmount"])
		assert.Equal(t, "990000000000000", body["destAmount"])
		assert.Equal(t, sender.Hex(), body["userAddress"])
		assert.Equal(t, "tester", body["partner"])
		assert.NotNil(t, body["priceRoute"])

		w.Write([]byte(`{"from":"` + sender.Hex() + `","to":"` + target + `","value":"0","data":"0xabcdef","gasPrice":"1500000000","gas":"250000","chainId":8453}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithPartner("tester"))
	tx, err := c.Build(context.Background(), quote.BuildRequest{
		Chain: domain.ChainBase,
		Quote: &domain.Quote{
			TokenIn: usdc, TokenOut: eth,
			AmountIn: big.NewInt(2500000), AmountOut: big.NewInt(1000000000000000),
			Route: json.RawMessage(`{"destAmount":"1000000000000000"}`),
		},
		Sender:       sender,
		SlippageBps:  100,
		MinAmountOut: big.NewInt(990000000000000),
		Deadline:     time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(target), tx.To)
	assert.Equal(t, []byte{0xab, 0xcd, 0xef}, tx.Data)
	assert.Equal(t, uint64(250000), tx.Gas)
	assert.Equal(t, "1500000000", tx.GasPrice.String())
}
