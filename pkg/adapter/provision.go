// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	argDeadLetterExchange   = "x-dead-letter-exchange"
	argDeadLetterRoutingKey = "x-dead-letter-routing-key"
	argMessageTTL           = "x-message-ttl"
)

// retryTopology returns the declarations for one work/retry pair.
// The work queue dead-letters rejected messages into the retry queue; the
// retry queue expires them after the retry interval back into the work queue.
// Both queues are bound to their exchange under their own name.
func retryTopology(workExchange, retryExchange string, pair RetryPair) (work, retry QueueDeclareAndBind) {
	work = QueueDeclareAndBind{
		Name:         pair.WorkQueue,
		RoutingKey:   pair.WorkQueue,
		ExchangeName: workExchange,
		Durable:      true,
		Args: amqp091.Table{
			argDeadLetterExchange:   retryExchange,
			argDeadLetterRoutingKey: pair.RetryQueue,
		},
	}

	retry = QueueDeclareAndBind{
		Name:         pair.RetryQueue,
		RoutingKey:   pair.RetryQueue,
		ExchangeName: retryExchange,
		Durable:      true,
		Args: amqp091.Table{
			argDeadLetterExchange:   workExchange,
			argDeadLetterRoutingKey: pair.WorkQueue,
			argMessageTTL:           pair.RetryInterval.Milliseconds(),
		},
	}

	return work, retry
}

// RetryQueueName is the conventional retry queue name for a work queue.
func RetryQueueName(queue string) string {
	return "retry_" + queue
}

// NewRetryPair pairs queue with its conventionally named retry queue.
func NewRetryPair(queue string, interval time.Duration) RetryPair {
	return RetryPair{
		WorkQueue:     queue,
		RetryQueue:    RetryQueueName(queue),
		RetryInterval: interval,
	}
}

func validatePair(pair RetryPair) error {
	switch {
	case pair.WorkQueue == "":
		return InvalidRetryPairError{Pair: pair, Reason: "empty work queue"}
	case pair.RetryQueue == "":
		return InvalidRetryPairError{Pair: pair, Reason: "empty retry queue"}
	case pair.WorkQueue == pair.RetryQueue:
		return InvalidRetryPairError{Pair: pair, Reason: "work and retry queue are the same"}
	case pair.RetryInterval.Milliseconds() <= 0:
		return InvalidRetryPairError{Pair: pair, Reason: "retry interval must be at least 1ms"}
	}

	return nil
}

// InitWithRetry declares both direct exchanges and the mutually dead-lettering
// work/retry queue pair. Declarations are idempotent, so running it against an
// existing identical topology is a no-op.
func (c *Con) InitWithRetry(workExchange, retryExchange string, pair RetryPair) error {
	if workExchange == "" || retryExchange == "" || workExchange == retryExchange {
		return InvalidRetryPairError{Pair: pair, Reason: "work and retry exchanges must be distinct and named"}
	}

	if err := validatePair(pair); err != nil {
		return err
	}

	for _, name := range []string{workExchange, retryExchange} {
		c.logger.Info("declaring exchange", zap.String("exchange", name))

		if err := c.DeclareExchange(&ExchangeDeclare{
			Name:    name,
			Type:    amqp091.ExchangeDirect,
			Durable: true,
		}); err != nil {
			return fmt.Errorf("exchange %s: %w", name, err)
		}
	}

	work, retry := retryTopology(workExchange, retryExchange, pair)

	c.logger.Info("declaring work queue",
		zap.String("queue", work.Name),
		zap.String("exchange", workExchange),
	)

	if err := c.QueueDeclareAndBind(&work); err != nil {
		return fmt.Errorf("work queue %s: %w", work.Name, err)
	}

	c.logger.Info("declaring retry queue",
		zap.String("queue", retry.Name),
		zap.String("work_queue", work.Name),
		zap.Duration("retry_interval", pair.RetryInterval),
	)

	if err := c.QueueDeclareAndBind(&retry); err != nil {
		return fmt.Errorf("retry queue %s: %w", retry.Name, err)
	}

	return nil
}

// InitExchangesAndQueues provisions every pair in order and stops at the first failure.
func (c *Con) InitExchangesAndQueues(workExchange, retryExchange string, pairs []RetryPair) error {
	for _, pair := range pairs {
		if err := c.InitWithRetry(workExchange, retryExchange, pair); err != nil {
			return err
		}
	}

	c.logger.Info("exchanges and queues initialized", zap.Int("pairs", len(pairs)))

	return nil
}

// Provision dials the broker, provisions all pairs and closes the connection.
func Provision(cfg *Client, workExchange, retryExchange string, pairs []RetryPair, logger *zap.Logger) (err error) {
	con, err := Dial(cfg)
	if err != nil {
		return err
	}

	if logger != nil {
		con.logger = logger
	}

	defer func() {
		if cerr := con.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return con.InitExchangesAndQueues(workExchange, retryExchange, pairs)
}
