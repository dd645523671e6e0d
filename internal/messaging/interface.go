package messaging

import "context"

// PublisherInterface defines the contract for message publishing
// This allows for easy mocking in tests
type PublisherInterface interface {
	Publish(ctx context.Context, msg any) error
	Reconnect(ctx context.Context) error
	State() State
	Close() error
}

// Ensure Publisher implements PublisherInterface
var _ PublisherInterface = (*Publisher)(nil)
