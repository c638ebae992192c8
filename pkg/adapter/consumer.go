// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer manages message consumption from a RabbitMQ queue.
// It holds the channel, delivery stream, and close notifications.
type Consumer struct {
	// con is the parent connection.
	con *Con
	// rabChan is the AMQP channel used for consuming messages.
	rabChan *amqp091.Channel
	// notifyConn receives connection-close notifications.
	notifyConn chan *amqp091.Error
	// notifyChan receives channel-close notifications.
	notifyChan chan *amqp091.Error
	// workChan streams incoming deliveries to be processed.
	workChan <-chan amqp091.Delivery
	// cfg stores consumer configuration such as queue name and args.
	cfg ConsumerConfig
	// isClosed indicates whether the consumer has been closed.
	isClosed atomic.Bool

	jobs *sync.WaitGroup
}

// newConsumer initializes a Consumer: opens a channel, applies the prefetch
// limit, starts consuming, and returns the instance.
func newConsumer(c *Con, cfg ConsumerConfig) (*Consumer, error) {
	rabbitChan, err := c.connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err = rabbitChan.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = rabbitChan.Close()

			return nil, fmt.Errorf("failed to set prefetch %d: %w", cfg.Prefetch, err)
		}
	}

	msgCh, err := rabbitChan.Consume(setConsumerConfig(cfg))
	if err != nil {
		_ = rabbitChan.Close()

		return nil, fmt.Errorf("failed to create consumer channel: %w", err)
	}

	return &Consumer{
		con:        c,
		rabChan:    rabbitChan,
		notifyConn: c.createNotifyChan(),
		notifyChan: rabbitChan.NotifyClose(make(chan *amqp091.Error, 1)),
		cfg:        cfg,
		workChan:   msgCh,
		jobs:       new(sync.WaitGroup),
	}, nil
}

// setConsumerConfig maps our ConsumerConfig to the parameters expected by amqp091.Channel.Consume.
// Deliveries are acknowledged explicitly; the queue name doubles as the consumer tag.
//
//nolint:gocritic // returning multiple values is justified in this context
func setConsumerConfig(cfg ConsumerConfig) (queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) {
	return cfg.QueueName, consumerTagPrefix + cfg.QueueName, autoAck, exclusive, noLocal, noWait, cfg.Args
}

// Consume retrieves the next broker.Message. It returns ChannelClosedError
// when the broker drops the channel or connection, so the caller can start a
// new consumption cycle, and ConnClosedError once the parent Con is closed.
func (c *Consumer) Consume() (broker.Message, error) {
	if c.isClosed.Load() {
		return nil, ConsumerClosedError{}
	}

	select {
	case <-c.con.stop:
		return nil, ConnClosedError{}
	case amqpErr, ok := <-c.notifyConn:
		return nil, closedError(amqpErr, ok)
	case amqpErr, ok := <-c.notifyChan:
		return nil, closedError(amqpErr, ok)
	case val, ok := <-c.workChan:
		if !ok {
			if c.isClosed.Load() {
				return nil, ConsumerClosedError{}
			}

			return nil, ChannelClosedError{}
		}

		c.jobs.Add(1)

		return broker.Message(&Message{
			deliver: val,
			wg:      c.jobs,
			abandon: c.abandon,
		}), nil
	}
}

func closedError(amqpErr *amqp091.Error, ok bool) error {
	if !ok || amqpErr == nil {
		return ChannelClosedError{}
	}

	return ChannelClosedError{Reason: amqpErr}
}

// abandon closes the consumer channel after a failed ack/reject; the broker
// then requeues every unsettled delivery of the channel.
func (c *Consumer) abandon(tag uint64, err error) {
	c.con.logger.Warn("settling message failed, closing channel",
		zap.String("queue", c.cfg.QueueName),
		zap.Uint64("delivery_tag", tag),
		zap.Error(err),
	)

	if cerr := c.rabChan.Close(); cerr != nil && !errors.Is(cerr, amqp091.ErrClosed) {
		c.con.logger.Warn("failed to close channel, message may be left unsettled",
			zap.String("queue", c.cfg.QueueName),
			zap.Uint64("delivery_tag", tag),
			zap.Error(cerr),
		)
	}
}

// Close stops message consumption and closes the AMQP channel.
// It is safe to call after Consume has returned.
func (c *Consumer) Close() error {
	if !c.isClosed.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.rabChan.Close(); err != nil {
		if errors.Is(err, amqp091.ErrClosed) {
			return nil
		}

		return fmt.Errorf("close consumer channel: %w", err)
	}

	return nil
}

// Wait blocks until every message handed out by Consume is settled.
func (c *Consumer) Wait() {
	c.jobs.Wait()
}
