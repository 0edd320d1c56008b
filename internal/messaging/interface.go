package messaging

import "context"

// Event is a lifecycle event that knows its own routing key.
type Event interface {
	RoutingKey() string
}

// PublisherInterface defines the contract for event publishing
type PublisherInterface interface {
	Publish(ctx context.Context, routingKey string, eventData interface{}) error
	Close() error
}

var _ PublisherInterface = (*Publisher)(nil)

// PublishEvent sends ev under its own routing key. A nil publisher drops it.
func PublishEvent(ctx context.Context, p PublisherInterface, ev Event) error {
	if p == nil {
		return nil
	}
	return p.Publish(ctx, ev.RoutingKey(), ev)
}
