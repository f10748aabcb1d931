// Package pubsub publishes engine events to a message bus.
package pubsub

import "context"

// Publisher sends a JSON-encodable payload on subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Noop discards every event.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, string, interface{}) error {
	return nil
}
