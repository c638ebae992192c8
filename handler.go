// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"go.uber.org/zap"
)

// Responsibility is the outcome of handling one delivery.
type Responsibility int

const (
	// Accept acknowledges the delivery: the handler took responsibility for it.
	Accept Responsibility = iota
	// Reject dead-letters the delivery into the retry queue; it comes back
	// after the queue's retry interval.
	Reject
)

func (r Responsibility) String() string {
	switch r {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Stage is what a handler sees of its stage while handling one delivery.
// Each delivery gets its own copy; a State that must be shared between
// deliveries should be a pointer or carry its own locking.
type Stage[S any] struct {
	State     S
	Publisher broker.Publisher
	Logger    *zap.Logger
	Metrics   *Metrics
}

// HandlerFunc handles one decoded delivery. A returned error counts as Reject.
type HandlerFunc[In, S any] func(ctx context.Context, stage Stage[S], msg In) (Responsibility, error)

// FailureFunc is the failure collaborator: it finalizes an error that will not
// be retried, e.g. by recording msg in a dead-letter store. Returning an error
// leaves the failure unresolved.
type FailureFunc[In any] func(ctx context.Context, msg In, err error) error

// acceptFailure hands err to the collaborator and resolves Accept once it succeeds.
func acceptFailure[S, In any](ctx context.Context, stage Stage[S], accept FailureFunc[In], msg In, err error) (Responsibility, error) {
	if ferr := accept(ctx, msg, err); ferr != nil {
		stage.Logger.Warn("failed to accept failure", zap.NamedError("failure", err), zap.Error(ferr))

		return Reject, AcceptFailureError{Err: ferr}
	}

	stage.Logger.Info("failure accepted", zap.Error(err))

	return Accept, nil
}
