// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultReconnectDelay = 2 * time.Second

// Listener is the consumption loop of one stage. It subscribes to a single
// work queue, decodes each delivery as In and hands it to the handler in a
// goroutine of its own. Any failure of the subscribe-and-consume cycle is
// logged and the whole cycle is retried after a fixed delay.
type Listener[In, S any] struct {
	dialer  broker.Dialer
	queue   string
	handler HandlerFunc[In, S]
	state   S

	prefetch       int
	reconnectDelay time.Duration
	logger         *zap.Logger
	metrics        *Metrics

	// wg tracks running handlers across cycles.
	wg sync.WaitGroup
}

// NewListener constructs a Listener with a prefetch of 1 and a reconnect delay of 2s.
func NewListener[In, S any](dialer broker.Dialer, queue string, handler HandlerFunc[In, S], state S) *Listener[In, S] {
	return &Listener[In, S]{
		dialer:         dialer,
		queue:          queue,
		handler:        handler,
		state:          state,
		prefetch:       1,
		reconnectDelay: defaultReconnectDelay,
		logger:         zap.L(),
	}
}

// SetPrefetch sets how many unacknowledged deliveries the broker may push at
// once. It bounds the number of handlers running concurrently.
func (l *Listener[In, S]) SetPrefetch(n int) error {
	if n < 1 {
		return InvalidPrefetchError{Prefetch: n}
	}

	l.prefetch = n

	return nil
}

// SetReconnectDelay sets the pause between two consumption cycles.
// Non-positive values restore the default.
func (l *Listener[In, S]) SetReconnectDelay(d time.Duration) {
	if d <= 0 {
		d = defaultReconnectDelay
	}

	l.reconnectDelay = d
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (l *Listener[In, S]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	l.logger = logger
}

// SetMetrics enables metrics collection. A nil Metrics disables it.
func (l *Listener[In, S]) SetMetrics(m *Metrics) {
	l.metrics = m
}

// ListenAndServe consumes the queue until ctx is done and never returns on
// broker or data errors. When ctx ends, the session is closed, handlers still
// running are waited for and ctx.Err() is returned. Deliveries those handlers
// could not settle are redelivered by the broker.
func (l *Listener[In, S]) ListenAndServe(ctx context.Context) error {
	if l.queue == "" {
		return EmptyQueueError{}
	}

	if l.handler == nil {
		return NilHandlerError{}
	}

	defer l.wg.Wait()

	logger := l.logger.With(zap.String("queue", l.queue))

	for {
		err := l.consumeQueue(ctx, logger)
		if ctx.Err() != nil {
			logger.Info("listener stopped")

			return ctx.Err()
		}

		logger.Warn("error happened when consuming queue, will retry", zap.Error(err))
		l.metrics.reconnect(l.queue)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.reconnectDelay):
		}
	}
}

// consumeQueue runs one cycle: dial, subscribe, open a publisher and dispatch
// deliveries until the consumer or the publisher fails. The consumer is
// drained before the session closes.
func (l *Listener[In, S]) consumeQueue(ctx context.Context, logger *zap.Logger) (err error) {
	session, err := l.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	defer func() {
		err = multierr.Append(err, session.Close())
	}()

	// Consume blocks without a context; closing the session unblocks it.
	stop := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})
	defer stop()

	consumer, err := session.Consume(l.queue, l.prefetch)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	publisher, err := session.Publisher()
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}

	cyclePub := &cyclePublisher{Publisher: publisher, session: session}

	logger.Info("consuming queue", zap.Int("prefetch", l.prefetch))

	taskCtx := context.WithoutCancel(ctx)

	for {
		msg, err := consumer.Consume()
		if err != nil {
			consumer.Wait()

			if lost := cyclePub.lost(); lost != nil {
				return fmt.Errorf("publisher: %w", lost)
			}

			return err
		}

		stage := Stage[S]{
			State:     l.state,
			Publisher: cyclePub,
			Logger: logger.With(
				zap.Uint64("delivery_tag", msg.DeliveryTag()),
				zap.String("routing_key", msg.RoutingKey()),
				zap.Bool("redelivered", msg.IsRedelivered()),
			),
			Metrics: l.metrics,
		}

		l.wg.Add(1)

		go func() {
			defer l.wg.Done()

			l.handleDelivery(taskCtx, stage, msg)
		}()
	}
}

// cyclePublisher is the publisher handed to the handlers of one cycle. A
// publish failing with broker.ErrClosed closes the session, which ends the
// cycle so the Listener dials again.
type cyclePublisher struct {
	broker.Publisher
	session broker.Session

	mu  sync.Mutex
	err error
}

func (p *cyclePublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	err := p.Publisher.Publish(ctx, routingKey, body)
	if err == nil || !errors.Is(err, broker.ErrClosed) {
		return err
	}

	p.mu.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	p.mu.Unlock()

	if first {
		_ = p.session.Close()
	}

	return err
}

// lost returns the error that closed the session, if any.
func (p *cyclePublisher) lost() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// handleDelivery decodes one delivery, runs the handler and settles the
// delivery with the broker.
func (l *Listener[In, S]) handleDelivery(ctx context.Context, stage Stage[S], msg broker.Message) {
	var in In

	if err := json.Unmarshal(msg.Body(), &in); err != nil {
		stage.Logger.Warn("failed to parse json, message will be dropped",
			zap.Error(err),
			zap.ByteString("body", msg.Body()),
		)

		l.metrics.delivery(l.queue, outcomeDropped)
		settle(stage.Logger, msg, Accept)

		return
	}

	resp, err := l.handler(ctx, stage, in)

	resp, outcome := resolve(resp, err)
	if err != nil {
		stage.Logger.Warn("failed to process message, will be retried", zap.Error(err))
	}

	l.metrics.delivery(l.queue, outcome)
	settle(stage.Logger, msg, resp)
}

// Delivery outcomes as reported in metrics.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeDropped  = "dropped"
)

// resolve is the dispatch table from a handler result to a broker decision:
//
//	error  -> Reject
//	Reject -> Reject
//	Accept -> Ack
//
// A delivery that failed to decode never reaches it: it is acked and dropped.
func resolve(resp Responsibility, err error) (Responsibility, string) {
	switch {
	case err != nil:
		return Reject, outcomeFailed
	case resp == Accept:
		return Accept, outcomeAccepted
	default:
		return Reject, outcomeRejected
	}
}

// settle acks or rejects msg. A failed settle is only logged: the message
// closes its channel and the broker redelivers it.
func settle(logger *zap.Logger, msg broker.Message, resp Responsibility) {
	var err error

	switch resp {
	case Accept:
		err = msg.Ack()
	default:
		err = msg.Reject()
	}

	if err != nil {
		logger.Warn("failed to settle message", zap.Stringer("responsibility", resp), zap.Error(err))

		return
	}

	logger.Debug("message settled", zap.Stringer("responsibility", resp))
}
