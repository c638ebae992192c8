// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"

	"go.uber.org/zap"
)

// MergeStatus is the state of a correlation key after one input was merged.
type MergeStatus int

const (
	// Partial: not every correlated input has arrived yet.
	Partial MergeStatus = iota
	// FreshMerge: this input completed the set. It is the only status that
	// produces an output.
	FreshMerge
	// AlreadyMerged: the set was completed earlier and this input is a duplicate.
	AlreadyMerged
)

// Names used by stateful aggregations.
const (
	Ignore            = Partial
	Aggregated        = FreshMerge
	AlreadyAggregated = AlreadyMerged
)

func (s MergeStatus) String() string {
	switch s {
	case Partial:
		return "partial"
	case FreshMerge:
		return "fresh_merge"
	case AlreadyMerged:
		return "already_merged"
	default:
		return "unknown"
	}
}

// AggregationStatus is the result of merging one input. Merged is only
// meaningful with FreshMerge. The zero value is Partial.
type AggregationStatus[Out any] struct {
	Status MergeStatus
	Merged Out
}

// Fresh reports a completed set with its merged output.
func Fresh[Out any](merged Out) AggregationStatus[Out] {
	return AggregationStatus[Out]{Status: FreshMerge, Merged: merged}
}

// Pending reports a set that is still incomplete.
func Pending[Out any]() AggregationStatus[Out] {
	return AggregationStatus[Out]{Status: Partial}
}

// Duplicate reports an input that arrived after its set was completed.
func Duplicate[Out any]() AggregationStatus[Out] {
	return AggregationStatus[Out]{Status: AlreadyMerged}
}

// AggregateFunc merges msg into the state S.
type AggregateFunc[S, In, Out any] func(ctx context.Context, state S, msg In) (AggregationStatus[Out], error)

// MergeFunc merges msg using storage it owns itself.
type MergeFunc[In, Out any] func(ctx context.Context, msg In) (AggregationStatus[Out], error)

// Aggregate builds a many-to-one stage around a stateful merge:
//
//	Partial       -> Accept, no output
//	AlreadyMerged -> Accept, no output
//	FreshMerge    -> merged output routed to output
//	error         -> Reject
//
// Concurrent deliveries of the same key are serialized only by the locking
// the merge itself does.
func Aggregate[S, In, Out any](aggregate AggregateFunc[S, In, Out], accept FailureFunc[In], output string) HandlerFunc[In, S] {
	return func(ctx context.Context, stage Stage[S], msg In) (Responsibility, error) {
		status, err := aggregate(ctx, stage.State, msg)
		if err != nil {
			stage.Logger.Warn("failed to merge message, will be retried", zap.Error(err))

			return Reject, nil
		}

		stage.Logger.Debug("message merged", zap.Stringer("status", status.Status))

		switch status.Status {
		case Partial, AlreadyMerged:
			return Accept, nil
		case FreshMerge:
			return SendToNext(ctx, stage, output, status.Merged, msg, accept)
		default:
			return Reject, UnknownMergeStatusError{Status: status.Status}
		}
	}
}

// WaitAll is Aggregate for a merge that keeps no stage state.
func WaitAll[S, In, Out any](merge MergeFunc[In, Out], accept FailureFunc[In], output string) HandlerFunc[In, S] {
	return Aggregate(func(ctx context.Context, _ S, msg In) (AggregationStatus[Out], error) {
		return merge(ctx, msg)
	}, accept, output)
}
