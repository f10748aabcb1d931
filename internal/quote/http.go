package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 256

// DoJSON performs req and decodes a 200 JSON body into out, mapping transport
// and status failures onto quote kinds. noRoute reports whether a non-200
// body means the backend found no route.
func DoJSON(ctx context.Context, client *http.Client, req *http.Request, out interface{}, noRoute func(status int, body []byte) bool) error {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Errorf(KindRateLimited, "status 429")
	case resp.StatusCode != http.StatusOK:
		if noRoute != nil && noRoute(resp.StatusCode, body) {
			return Errorf(KindNoRoute, "status %d: %s", resp.StatusCode, truncate(body))
		}
		if resp.StatusCode >= 500 {
			return Errorf(KindNetwork, "status %d: %s", resp.StatusCode, truncate(body))
		}
		return Errorf(KindMalformed, "status %d: %s", resp.StatusCode, truncate(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &QuoteError{Kind: KindMalformed, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &QuoteError{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &QuoteError{Kind: KindTimeout, Err: err}
	}
	return &QuoteError{Kind: KindNetwork, Err: err}
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
