// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// TransformFunc maps one input message to one output message.
type TransformFunc[S, In, Out any] func(ctx context.Context, state S, msg In) (Out, error)

// Transform builds a one-to-one stage. An error from handle is final: it goes
// to the failure collaborator and the delivery is accepted once the
// collaborator succeeded. A result is routed to output.
func Transform[S, In, Out any](handle TransformFunc[S, In, Out], accept FailureFunc[In], output string) HandlerFunc[In, S] {
	return func(ctx context.Context, stage Stage[S], msg In) (Responsibility, error) {
		out, err := handle(ctx, stage.State, msg)
		if err != nil {
			stage.Logger.Warn("failed to transform message", zap.Error(err))

			return acceptFailure(ctx, stage, accept, msg, err)
		}

		return SendToNext(ctx, stage, output, out, msg, accept)
	}
}

// FanOut builds a one-to-many stage: the input is encoded once and the same
// payload is published to every output in order. The outputs are not
// published atomically. If one publish fails the delivery is rejected and
// on redelivery the outputs that already succeeded receive the message again.
func FanOut[S, In any](accept FailureFunc[In], outputs ...string) HandlerFunc[In, S] {
	return func(ctx context.Context, stage Stage[S], msg In) (Responsibility, error) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return acceptFailure(ctx, stage, accept, msg, SerializeError{Err: err})
		}

		for _, output := range outputs {
			if resp, err := publish(ctx, stage, output, payload); err != nil {
				return resp, err
			}
		}

		return Accept, nil
	}
}
