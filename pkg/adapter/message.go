// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rabbitmq/amqp091-go"
)

// Message wraps an AMQP delivery and tracks acknowledgment state.
// The first Ack or Reject settles it; later calls are no-ops.
type Message struct {
	// deliver holds the original AMQP delivery metadata and payload.
	deliver amqp091.Delivery
	// completed flips once the delivery is settled.
	completed atomic.Bool
	// wg tracks the number of in-flight messages for graceful shutdown.
	wg *sync.WaitGroup
	// abandon closes the delivery's channel when settling fails.
	abandon func(tag uint64, err error)
}

// DeliveryTag returns the channel-scoped tag of the delivery.
func (m *Message) DeliveryTag() uint64 {
	return m.deliver.DeliveryTag
}

// RoutingKey returns the message routing key set on the AMQP delivery.
func (m *Message) RoutingKey() string {
	return m.deliver.RoutingKey
}

// IsRedelivered indicates if the delivery is a redelivery (duplicate) of a previous message.
func (m *Message) IsRedelivered() bool {
	return m.deliver.Redelivered
}

// Body returns the raw message payload as a byte slice.
func (m *Message) Body() []byte {
	return m.deliver.Body
}

// Ack acknowledges successful processing of the message by the broker
// and decrements the WaitGroup counter exactly once. It returns any error
// from the underlying AMQP delivery acknowledgment.
func (m *Message) Ack() error {
	return m.settle("ack", func() error {
		return m.deliver.Ack(false)
	})
}

// Reject rejects the message without requeueing it, which dead-letters it
// into the retry queue. It decrements the WaitGroup counter exactly once.
func (m *Message) Reject() error {
	return m.settle("reject", func() error {
		return m.deliver.Reject(false)
	})
}

// settle runs op once. A failed ack/reject leaves the message unsettled on
// the broker, so the channel is closed to force a redelivery.
func (m *Message) settle(action string, op func() error) error {
	if !m.completed.CompareAndSwap(false, true) {
		return nil
	}

	defer m.wg.Done()

	if err := op(); err != nil {
		err = fmt.Errorf("%s message %d: %w", action, m.deliver.DeliveryTag, err)
		if m.abandon != nil {
			m.abandon(m.deliver.DeliveryTag, err)
		}

		return err
	}

	return nil
}
