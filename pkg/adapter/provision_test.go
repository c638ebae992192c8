// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"github.com/rabbitmq/amqp091-go"
)

func TestRetryTopology(t *testing.T) {
	work, retry := retryTopology("work_x", "retry_x", NewRetryPair("input", 10*time.Second))

	if work.Name != "input" || work.RoutingKey != "input" || work.ExchangeName != "work_x" {
		t.Errorf("unexpected work queue binding: %+v", work)
	}
	if retry.Name != "retry_input" || retry.RoutingKey != "retry_input" || retry.ExchangeName != "retry_x" {
		t.Errorf("unexpected retry queue binding: %+v", retry)
	}
	if !work.Durable || !retry.Durable {
		t.Errorf("queues must be durable")
	}

	if got := work.Args[argDeadLetterExchange]; got != "retry_x" {
		t.Errorf("work dead-letter exchange = %v, want retry_x", got)
	}
	if got := work.Args[argDeadLetterRoutingKey]; got != "retry_input" {
		t.Errorf("work dead-letter routing key = %v, want retry_input", got)
	}
	if _, ok := work.Args[argMessageTTL]; ok {
		t.Errorf("work queue must not expire messages")
	}

	if got := retry.Args[argDeadLetterExchange]; got != "work_x" {
		t.Errorf("retry dead-letter exchange = %v, want work_x", got)
	}
	if got := retry.Args[argDeadLetterRoutingKey]; got != "input" {
		t.Errorf("retry dead-letter routing key = %v, want input", got)
	}
	if got := retry.Args[argMessageTTL]; got != int64(10000) {
		t.Errorf("retry ttl = %v, want 10000", got)
	}
}

func TestValidatePair(t *testing.T) {
	var tests = []struct {
		name    string
		pair    RetryPair
		wantErr bool
	}{
		{name: "valid", pair: NewRetryPair("q", time.Second)},
		{name: "empty work", pair: RetryPair{RetryQueue: "r", RetryInterval: time.Second}, wantErr: true},
		{name: "empty retry", pair: RetryPair{WorkQueue: "q", RetryInterval: time.Second}, wantErr: true},
		{name: "same queue", pair: RetryPair{WorkQueue: "q", RetryQueue: "q", RetryInterval: time.Second}, wantErr: true},
		{name: "zero interval", pair: NewRetryPair("q", 0), wantErr: true},
		{name: "sub millisecond", pair: NewRetryPair("q", time.Microsecond), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePair(tt.pair)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validatePair() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.As(err, &InvalidRetryPairError{}) {
				t.Errorf("expected InvalidRetryPairError, got %T", err)
			}
		})
	}
}

func TestDialConfig(t *testing.T) {
	uri, cfg := dialConfig(&Client{Host: "localhost:5672", Username: "u", Password: "p", VHost: "v"})
	if uri != "amqp://localhost:5672" {
		t.Errorf("uri = %s", uri)
	}
	if len(cfg.SASL) != 1 || cfg.Vhost != "v" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	uri, cfg = dialConfig(&Client{URI: "amqp://a:b@rabbit:5672/x", Host: "ignored"})
	if uri != "amqp://a:b@rabbit:5672/x" {
		t.Errorf("uri = %s", uri)
	}
	if cfg.SASL != nil {
		t.Errorf("credentials must come from the URI")
	}
}

func TestSetPublisherConfig(t *testing.T) {
	ctx := context.Background()
	_, exchange, key, mandatory, immediate, msg := setPublisherConfig(ctx, PublisherConfig{
		ExchangeName:      "work_x",
		MessagePersistent: true,
		AppId:             "arith",
	}, "output", []byte(`{"a":1}`))

	if exchange != "work_x" || key != "output" {
		t.Errorf("exchange/key = %s/%s", exchange, key)
	}
	if !mandatory || immediate {
		t.Errorf("publishing must be mandatory and not immediate")
	}
	if msg.DeliveryMode != amqp091.Persistent {
		t.Errorf("delivery mode = %d, want persistent", msg.DeliveryMode)
	}
	if msg.ContentType != "application/json" {
		t.Errorf("content type = %s", msg.ContentType)
	}
	if msg.MessageId == "" {
		t.Errorf("message id must be set")
	}
	if msg.AppId != "arith" {
		t.Errorf("app id = %s, want arith", msg.AppId)
	}
}

func TestReturnTracker(t *testing.T) {
	notify := make(chan amqp091.Return, 4)
	tracker := newReturnTracker(notify)

	notify <- amqp091.Return{MessageId: "a", ReplyCode: amqp091.NoRoute, ReplyText: "NO_ROUTE"}
	notify <- amqp091.Return{MessageId: "b", ReplyCode: amqp091.NoRoute, ReplyText: "NO_ROUTE"}

	ret, ok := tracker.take("b")
	if !ok || ret.ReplyCode != amqp091.NoRoute {
		t.Fatalf("return of b not matched: %+v, %v", ret, ok)
	}
	if _, ok = tracker.take("c"); ok {
		t.Errorf("routed message must not be reported as returned")
	}

	// a was drained while looking for b and is kept for its own publish.
	if _, ok = tracker.take("a"); !ok {
		t.Errorf("return of a lost")
	}
	if _, ok = tracker.take("a"); ok {
		t.Errorf("return of a reported twice")
	}

	close(notify)
	if _, ok = tracker.take("a"); ok {
		t.Errorf("closed notifications must not match")
	}
}

func TestClosedErrorsMatchBroker(t *testing.T) {
	for _, err := range []error{
		ConnClosedError{},
		PublisherClosedError{},
		ConsumerClosedError{},
		ChannelClosedError{Reason: amqp091.ErrClosed},
	} {
		if !errors.Is(err, broker.ErrClosed) {
			t.Errorf("%T must match broker.ErrClosed", err)
		}
	}

	for _, err := range []error{
		PublishNackError{Queue: "q"},
		PublishReturnedError{Queue: "q", ReplyCode: amqp091.NoRoute},
	} {
		if errors.Is(err, broker.ErrClosed) {
			t.Errorf("%T must not match broker.ErrClosed", err)
		}
	}
}

func TestClosedError(t *testing.T) {
	err := closedError(nil, false)
	if !errors.As(err, &ChannelClosedError{}) {
		t.Fatalf("expected ChannelClosedError, got %T", err)
	}

	amqpErr := &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "shutdown"}
	err = closedError(amqpErr, true)

	var target *amqp091.Error
	if !errors.As(err, &target) || target.Code != amqp091.ConnectionForced {
		t.Errorf("broker close reason must be unwrappable, got %v", err)
	}
}
