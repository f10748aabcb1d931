// Package nats publishes engine events over NATS.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"swap-engine/internal/config"
	"swap-engine/internal/pubsub"
)

// Client is a NATS-backed pubsub.Publisher.
type Client struct {
	nc     *nats.Conn
	prefix string
	logger *log.Logger
}

// Connect dials the configured NATS server.
func Connect(cfg *config.NATS, logger *log.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	opts := []nats.Option{
		nats.Name("swap-engine"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Printf("connected to NATS, url=%s", cfg.URL)

	return &Client{
		nc:     nc,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Subject returns the fully-qualified subject for name.
func (c *Client) Subject(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

// Publish JSON-encodes data and publishes it on the prefixed subject.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if c.nc == nil {
		return errors.New("nats connection is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := c.nc.Publish(c.Subject(subject), payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Ready reports whether the connection is established.
func (c *Client) Ready() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

// Status returns the connection status.
func (c *Client) Status() nats.Status {
	if c.nc == nil {
		return nats.DISCONNECTED
	}
	return c.nc.Status()
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	if c.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.logger.Printf("failed to drain NATS connection: %v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}

	c.nc.Close()
	return nil
}

var _ pubsub.Publisher = (*Client)(nil)
