// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"fmt"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"
)

// ConnClosedError is returned when operations are attempted on a closed connection.
type ConnClosedError struct{}

// ConnConfEmptyError indicates that Dial was called without client settings.
type ConnConfEmptyError struct{}

// PublisherConfEmptyError indicates that a nil or empty publisher configuration
// was provided when creating a new publisher.
type PublisherConfEmptyError struct{}

// ConsumerConfEmptyError indicates that a nil or empty consumer configuration
// was provided when creating a new consumer.
type ConsumerConfEmptyError struct{}

// PublisherClosedError is returned when publishing is attempted on a closed publisher.
type PublisherClosedError struct{}

// ConsumerClosedError is returned when consuming is attempted after the consumer has been closed.
type ConsumerClosedError struct{}

// ChannelClosedError is returned once the broker closed a consumer or
// publisher channel or its connection. Reason carries the broker's close frame, if any.
type ChannelClosedError struct {
	Reason error
}

// PublishNackError is returned when the broker negatively confirms a publish.
type PublishNackError struct {
	Queue string
}

// PublishReturnedError is returned when the broker could not route a
// mandatory message to any queue and sent it back.
type PublishReturnedError struct {
	Queue     string
	ReplyCode uint16
	ReplyText string
}

// InvalidRetryPairError reports a retry pair that cannot be provisioned.
type InvalidRetryPairError struct {
	Pair   RetryPair
	Reason string
}

// Error implements the error interface for ConnClosedError.
// It indicates the client explicitly closed the connection.
func (e ConnClosedError) Error() string {
	return "connection closed by client"
}

func (ConnConfEmptyError) Error() string {
	return "empty client config passed, unable to dial"
}

// Error implements the error interface for ConsumerConfEmptyError.
// It notifies that consumer configuration was not provided.
func (ConsumerConfEmptyError) Error() string {
	return "empty consumer config passed, unable to create"
}

// Error implements the error interface for PublisherConfEmptyError.
// It notifies that publisher configuration was not provided.
func (PublisherConfEmptyError) Error() string {
	return "empty publisher config passed, unable to create"
}

// Error implements the error interface for PublisherClosedError.
// It signals that the publisher has already been closed.
func (PublisherClosedError) Error() string {
	return "publisher already closed, unable to provide"
}

// Error implements the error interface for ConsumerClosedError.
// It signals that the consumer has already been closed.
func (ConsumerClosedError) Error() string {
	return "consumer already closed, unable to provide"
}

func (e ChannelClosedError) Error() string {
	if e.Reason == nil {
		return "channel closed by broker"
	}

	return fmt.Sprintf("channel closed by broker: %v", e.Reason)
}

func (e ChannelClosedError) Unwrap() error {
	return e.Reason
}

func (e PublishReturnedError) Error() string {
	return fmt.Sprintf("broker returned message published to %s: %d %s", e.Queue, e.ReplyCode, e.ReplyText)
}

func (e PublishNackError) Error() string {
	return fmt.Sprintf("broker nacked message published to %s", e.Queue)
}

func (e InvalidRetryPairError) Error() string {
	return fmt.Sprintf("invalid retry pair %q/%q: %s", e.Pair.WorkQueue, e.Pair.RetryQueue, e.Reason)
}

// The closed-state errors all match broker.ErrClosed.

func (ConnClosedError) Is(target error) bool      { return target == broker.ErrClosed }
func (PublisherClosedError) Is(target error) bool { return target == broker.ErrClosed }
func (ConsumerClosedError) Is(target error) bool  { return target == broker.ErrClosed }
func (ChannelClosedError) Is(target error) bool   { return target == broker.ErrClosed }
