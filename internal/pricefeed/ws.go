package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
)

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// MaxAge rejects prices older than this. Zero disables the check.
	MaxAge time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxAge:            2 * time.Minute,
	}
}

// WSFeed keeps the latest streamed price per symbol.
//
// The server is sent {"method":"subscribe","symbols":[...]} after every
// connect and pushes {"symbol":"WETH","price":"2451.20","ts":1700000000}.
type WSFeed struct {
	endpoint string
	symbols  []string
	config   WSConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	prices   map[string]tick
	pricesMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

type tick struct {
	price decimal.Decimal
	at    time.Time
}

// NewWSFeed connects to endpoint and subscribes to symbols.
func NewWSFeed(ctx context.Context, endpoint string, symbols []string, config *WSConfig, logger *log.Logger) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	f := &WSFeed{
		endpoint: endpoint,
		symbols:  upper(symbols),
		config:   cfg,
		logger:   logger,
		prices:   make(map[string]tick),
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

func upper(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(s)
	}
	return out
}

// connect dials and sends the subscription.
func (f *WSFeed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(wsSubscribe{Method: "subscribe", Symbols: f.symbols}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.conn = conn
	return nil
}

// CurrentPrice returns the latest streamed price for token.
func (f *WSFeed) CurrentPrice(_ context.Context, token domain.Token) (decimal.Decimal, error) {
	f.pricesMu.RLock()
	t, ok := f.prices[strings.ToUpper(token.Symbol)]
	f.pricesMu.RUnlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, token.Symbol)
	}
	if f.config.MaxAge > 0 && time.Since(t.at) > f.config.MaxAge {
		return decimal.Zero, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, token.Symbol, t.at.Format(time.RFC3339))
	}
	return t.price, nil
}

// Close closes the WebSocket connection.
func (f *WSFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}

	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

// readLoop reads price messages and reconnects on error.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			if !f.reconnecting.Swap(true) {
				go f.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = f.config.ReconnectDelay

		f.handleMessage(message)
	}
}

// reconnect drops the current connection and dials again.
func (f *WSFeed) reconnect(delay time.Duration) {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		// Retried on the next read error
		f.logger.Printf("price feed reconnect: %v", err)
	}
}

func (f *WSFeed) handleMessage(message []byte) {
	var msg wsPrice
	if err := json.Unmarshal(message, &msg); err != nil || msg.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(string(msg.Price))
	if err != nil || !price.IsPositive() {
		f.logger.Printf("price feed: bad price for %s: %q", msg.Symbol, msg.Price)
		return
	}
	at := time.Now()
	if msg.TS > 0 {
		at = time.Unix(msg.TS, 0)
	}

	sym := strings.ToUpper(msg.Symbol)
	f.pricesMu.Lock()
	if prev, ok := f.prices[sym]; !ok || !at.Before(prev.at) {
		f.prices[sym] = tick{price: price, at: at}
	}
	f.pricesMu.Unlock()
	observability.RecordPriceUpdate(sym)
}

// pingLoop sends periodic ping frames to keep connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

type wsSubscribe struct {
	Method  string   `json:"method"`
	Symbols []string `json:"symbols"`
}

// wsPrice accepts the price as a JSON string or number.
type wsPrice struct {
	Symbol string      `json:"symbol"`
	Price  json.Number `json:"price"`
	TS     int64       `json:"ts,omitempty"`
}

var _ Feed = (*WSFeed)(nil)
