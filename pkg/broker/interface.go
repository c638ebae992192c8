// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import (
	"context"
	"errors"
)

// ErrClosed is matched (errors.Is) by publisher and consumer errors once the
// underlying channel or connection is gone. The Session is unusable after it
// and has to be dialed again.
var ErrClosed = errors.New("broker: session closed")

// Dialer opens a fresh Session to the broker. Each consumption cycle of a
// stage dials its own Session and closes it when the cycle ends.
type Dialer interface {
	// Dial connects to the broker. The returned Session owns the connection.
	Dial(ctx context.Context) (Session, error)
}

// Session is one live broker connection together with the channels created on it.
type Session interface {
	// Consume subscribes to queue with at most prefetch unacknowledged deliveries in flight.
	Consume(queue string, prefetch int) (Consumer, error)

	// Publisher returns a confirming publisher bound to the session's work exchange.
	Publisher() (Publisher, error)

	// Close releases the connection and every channel opened on it.
	Close() error
}

// Publisher defines the interface for publishing messages to a broker.
// Implementations should send the payload and handle any connection lifecycle.
type Publisher interface {
	// Publish sends a message payload to the queue bound under routingKey.
	// It returns only after the broker confirmed the message, or with an error
	// if the message could not be delivered or was negatively confirmed.
	Publish(ctx context.Context, routingKey string, body []byte) error

	// Close releases any resources held by the publisher, such as channels or connections.
	// After Close, further calls to Publish should return an error.
	Close() error
}

// Consumer defines the interface for consuming messages from a broker.
// Each implementation should manage its own connection and message stream.
type Consumer interface {
	// Consume retrieves the next available message or an error if the consumer
	// or its connection is closed.
	// The returned Message must be acknowledged or rejected by the caller.
	Consume() (Message, error)

	// Close stops message consumption and releases any resources.
	// After Close, subsequent calls to Consume should return an error.
	Close() error

	// Wait blocks until every message returned by Consume is settled.
	Wait()
}

// Message represents a single broker-delivered message, allowing inspection and acknowledgment.
// Implementations wrap the broker-specific delivery type.
type Message interface {
	// DeliveryTag identifies the delivery on its channel.
	DeliveryTag() uint64

	// RoutingKey returns the routing key the message was published with.
	RoutingKey() string

	// IsRedelivered signals if this delivery is a redelivery of a previous message.
	IsRedelivered() bool

	// Body returns the raw payload bytes.
	Body() []byte

	// Ack acknowledges successful processing of the message.
	// It signals the broker to remove the message from the queue.
	Ack() error

	// Reject rejects the message without requeueing it, so the broker
	// dead-letters it to the queue's retry queue.
	Reject() error
}
