package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
)

const sampleYAML = `
engine:
  mode: simulated
  quote_currency: USDC
  slippage_bps: 150
  paper_cash: "10000"
chains:
  - name: Base
    rpc_url: https://mainnet.base.org
    backends: [paraswap, kyberswap]
tokens:
  - symbol: USDC
    chain: base
    address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
    decimals: 6
  - symbol: WETH
    chain: base
    address: "0x4200000000000000000000000000000000000006"
    decimals: 18
quote:
  validity: 30s
storage:
  driver: sqlite
  sqlite_path: trades.db
price_feed:
  kind: static
  static:
    WETH: "2500"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, domain.ModeSimulated, cfg.Engine.Mode)
	assert.Equal(t, 150, cfg.Engine.SlippageBps)
	assert.Equal(t, "base", cfg.Engine.Chain)
	assert.Equal(t, "10000", cfg.PaperCashAmount().String())

	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, "base", cfg.Chains[0].Name)
	assert.Equal(t, int64(8453), cfg.Chains[0].ChainID)
	assert.Equal(t, []string{"paraswap", "kyberswap"}, cfg.Chains[0].Backends)

	assert.Equal(t, 30*time.Second, cfg.Quote.Validity)
	assert.Equal(t, 90*time.Second, cfg.Executor.ConfirmTimeout)
	assert.Equal(t, 60*time.Second, cfg.Executor.ApproveTimeout)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)

	usdc, ok := cfg.QuoteToken("base")
	require.True(t, ok)
	assert.Equal(t, int32(6), usdc.Decimals)

	_, ok = cfg.TokenBySymbol("base", "weth")
	assert.True(t, ok)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXECUTION_MODE", "LIVE")
	t.Setenv("RPC_URL_BASE", "http://localhost:8545")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, domain.ModeLive, cfg.Engine.Mode)
	assert.Equal(t, "http://localhost:8545", cfg.Chains[0].RPCURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Engine.Mode = "paper" }, "engine.mode"},
		{"bad slippage", func(c *Config) { c.Engine.SlippageBps = 10000 }, "slippage_bps"},
		{"negative cash", func(c *Config) { c.Engine.PaperCash = "-1" }, "paper_cash"},
		{"live without rpc", func(c *Config) { c.Engine.Mode = domain.ModeLive; c.Chains[0].RPCURL = "" }, "rpc_url"},
		{"unknown backend", func(c *Config) { c.Chains[0].Backends = []string{"1inch"} }, "unknown backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "postgres_dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"ws without url", func(c *Config) { c.PriceFeed.Kind = FeedWebSocket }, "ws_url"},
		{"token on other chain", func(c *Config) { c.Tokens[0].Chain = "polygon" }, "unconfigured chain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.ModeSimulated, cfg.Engine.Mode)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, FeedQuote, cfg.PriceFeed.Kind)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SWAP_ENGINE_TEST_VAR=hello\n"), 0o600))
	t.Setenv("SWAP_ENGINE_TEST_VAR", "")
	os.Unsetenv("SWAP_ENGINE_TEST_VAR")

	LoadEnv(path)
	assert.Equal(t, "hello", os.Getenv("SWAP_ENGINE_TEST_VAR"))
}
