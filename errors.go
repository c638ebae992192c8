// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import "fmt"

// EmptyQueueError is returned when a listener is started without a queue name.
type EmptyQueueError struct{}

func (EmptyQueueError) Error() string {
	return "empty queue name"
}

// NilHandlerError is returned when a listener is started without a handler.
type NilHandlerError struct{}

func (NilHandlerError) Error() string {
	return "nil handler"
}

// InvalidPrefetchError reports a prefetch limit below one.
type InvalidPrefetchError struct {
	Prefetch int
}

func (e InvalidPrefetchError) Error() string {
	return fmt.Sprintf("invalid prefetch count: %d", e.Prefetch)
}

// AcceptFailureError wraps an error returned by the failure collaborator.
// The failure stays unresolved, so the delivery is rejected and retried.
type AcceptFailureError struct {
	Err error
}

func (e AcceptFailureError) Error() string {
	return fmt.Sprintf("accept failure: %v", e.Err)
}

func (e AcceptFailureError) Unwrap() error {
	return e.Err
}

// SerializeError reports a produced message that could not be encoded.
// It is final: encoding the same value again fails the same way.
type SerializeError struct {
	Err error
}

func (e SerializeError) Error() string {
	return fmt.Sprintf("serialize message: %v", e.Err)
}

func (e SerializeError) Unwrap() error {
	return e.Err
}

// PublishError reports a failed publish to an output queue.
type PublishError struct {
	Queue string
	Err   error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Queue, e.Err)
}

func (e PublishError) Unwrap() error {
	return e.Err
}

// UnknownMergeStatusError is returned for an aggregation status outside the known set.
type UnknownMergeStatusError struct {
	Status MergeStatus
}

func (e UnknownMergeStatusError) Error() string {
	return fmt.Sprintf("unknown merge status: %d", int(e.Status))
}
