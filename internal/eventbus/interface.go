package eventbus

import "context"

// EventHandler processes one event delivered on a topic. Returning a non-nil error
// leaves the message un-acked, exactly as the teacher's eventbus leaves failed
// messages in the stream's Pending Entries List for recovery.
type EventHandler func(ctx context.Context, event map[string]any) error

// Subscription is a handle to an active Subscribe call.
type Subscription interface {
	ID() string
	Topic() string
	Unsubscribe() error
}

// Bus is the narrow publish/subscribe contract the webhook reconciler depends on to
// fan out durable transitions to interested subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, event any) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error)
	Close() error
}
