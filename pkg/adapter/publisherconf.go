// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// ConfirmerPublisher publishes in confirm mode: every Publish waits until the
// broker acknowledged the message and fails on a negative confirmation.
type ConfirmerPublisher struct {
	// con is the parent connection.
	con *Con
	// rabChan is the AMQP channel used for publishing with confirmations.
	rabChan *amqp091.Channel
	// notifyChan receives the channel-close notification.
	notifyChan chan *amqp091.Error
	// returns collects mandatory messages the broker could not route.
	returns *returnTracker
	// cfg stores publisher settings like exchange name and persistence.
	cfg PublisherConfig
	// isClosed indicates whether the publisher has been closed.
	isClosed atomic.Bool
}

// returnBuffer bounds the returns held between two publishes. The broker
// blocks the channel while the buffer is full.
const returnBuffer = 128

// returnTracker matches returned messages to the publishes that sent them.
// The broker sends basic.return before the confirmation of the same message,
// so a return is always buffered by the time its Publish sees the ack.
type returnTracker struct {
	mu       sync.Mutex
	notify   <-chan amqp091.Return
	returned map[string]amqp091.Return
}

func newReturnTracker(notify <-chan amqp091.Return) *returnTracker {
	return &returnTracker{notify: notify, returned: make(map[string]amqp091.Return)}
}

// take drains the buffered returns and reports whether the message with id was among them.
func (t *returnTracker) take(id string) (amqp091.Return, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for drained := false; !drained; {
		select {
		case ret, ok := <-t.notify:
			if !ok {
				t.notify = nil
				drained = true

				continue
			}

			t.returned[ret.MessageId] = ret
		default:
			drained = true
		}
	}

	ret, ok := t.returned[id]
	if ok {
		delete(t.returned, id)
	}

	return ret, ok
}

// newConfirmerPublisher initializes a ConfirmPublisher: opens a channel, enables confirm mode, and sets mimetype limits.
func newConfirmerPublisher(c *Con, cfg PublisherConfig) (*ConfirmerPublisher, error) {
	rabbitChan, err := c.connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("create publish channel: %w", err)
	}

	if err := rabbitChan.Confirm(false); err != nil {
		_ = rabbitChan.Close()

		return nil, fmt.Errorf("confirm channel for publisher: %w", err)
	}

	mimetype.SetLimit(mimeReadLimit)

	return &ConfirmerPublisher{
		con:        c,
		rabChan:    rabbitChan,
		notifyChan: rabbitChan.NotifyClose(make(chan *amqp091.Error, 1)),
		returns:    newReturnTracker(rabbitChan.NotifyReturn(make(chan amqp091.Return, returnBuffer))),
		cfg:        cfg,
	}, nil
}

// Publish sends data to routingKey on the configured exchange and blocks
// until the broker confirms it. A nack is reported as PublishNackError and an
// unroutable message as PublishReturnedError. Once the broker closed the
// channel every call fails with an error matching broker.ErrClosed.
func (p *ConfirmerPublisher) Publish(ctx context.Context, routingKey string, data []byte) error {
	if p.isClosed.Load() {
		return PublisherClosedError{}
	}

	if err := p.closed(); err != nil {
		return err
	}

	ctx, exchange, key, mandatory, immediate, msg := setPublisherConfig(ctx, p.cfg, routingKey, data)

	conf, err := p.rabChan.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		if errors.Is(err, amqp091.ErrClosed) {
			return ChannelClosedError{Reason: err}
		}

		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}

	success, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirmation from %s: %w", routingKey, err)
	}

	if !success {
		// pending confirmations are released unacked when the channel closes.
		if err := p.closed(); err != nil {
			return err
		}

		return PublishNackError{Queue: routingKey}
	}

	if ret, ok := p.returns.take(msg.MessageId); ok {
		return PublishReturnedError{Queue: routingKey, ReplyCode: ret.ReplyCode, ReplyText: ret.ReplyText}
	}

	return nil
}

// closed reports the close of the connection or the publishing channel.
func (p *ConfirmerPublisher) closed() error {
	select {
	case <-p.con.stop:
		return ConnClosedError{}
	case amqpErr, ok := <-p.notifyChan:
		return closedError(amqpErr, ok)
	default:
		return nil
	}
}

// setPublisherConfig maps PublisherConfig and payload into AMQP publish arguments.
// Publishing is mandatory: an unroutable message comes back as a basic.return
// that Publish reports as PublishReturnedError.
//
//nolint:gocritic // returning multiple values is justified in this context
func setPublisherConfig(ctx context.Context, cfg PublisherConfig, key string, data []byte) (_ context.Context, exchange, routingKey string, mandatory, immediate bool, msg amqp091.Publishing) {
	msg = amqp091.Publishing{
		ContentType: mimetype.Detect(data).String(),
		Body:        data,
		AppId:       cfg.AppId,
		MessageId:   uuid.NewString(),
	}

	if cfg.MessagePersistent {
		msg.DeliveryMode = amqp091.Persistent
	}

	return ctx, cfg.ExchangeName, key, true, false, msg
}

// Close marks the confirmer publisher as closed and closes the AMQP channel.
func (p *ConfirmerPublisher) Close() error {
	if !p.isClosed.CompareAndSwap(false, true) {
		return nil
	}

	if err := p.rabChan.Close(); err != nil {
		if errors.Is(err, amqp091.ErrClosed) {
			return nil
		}

		return fmt.Errorf("close publisher channel: %w", err)
	}

	return nil
}
