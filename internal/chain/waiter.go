package chain

import (
	"context"
	"errors"
	"time"
)

// Receipt wait defaults.
const (
	DefaultConfirmTimeout = 90 * time.Second
	DefaultApproveTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// ErrReceiptTimeout is returned when no receipt appears within the wait window.
var ErrReceiptTimeout = errors.New("receipt wait timed out")

// WaitForReceipt polls for txHash until it is mined, timeout elapses or ctx is done.
// Transient RPC errors while polling are ignored until the deadline.
func WaitForReceipt(ctx context.Context, client RPCClient, txHash string, timeout, poll time.Duration) (*Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		r, err := client.TransactionReceipt(waitCtx, txHash)
		if err == nil && r != nil {
			return r, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}
