// Package messaging defines broker-neutral publish/subscribe contracts used by
// the reconciliation service for acknowledgements, run notifications and the
// dead-letter queue.
package messaging

import (
	"context"
	"time"
)

// Message is a message received from or sent to a broker.
type Message struct {
	Subject string
	Data    []byte
	// Reply is set for request/reply exchanges.
	Reply    string
	Metadata map[string]string
	// Timestamp is when the message was observed locally.
	Timestamp time.Time
}

// MessageHandler processes a received message. A returned error is logged by
// the transport; core NATS has no redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)
	Close() error
}

// Subscriber subscribes to subjects.
type Subscriber interface {
	Subscribe(subject string, handler MessageHandler) (Subscription, error)
	// QueueSubscribe load-balances messages across members of queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)
	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber
	Drain() error
	IsConnected() bool
}
