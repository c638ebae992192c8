// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// SendToNext routes a produced message to the stage's output queue. An empty
// output means the stage is terminal and the delivery is simply accepted.
// A message that cannot be encoded goes to the failure collaborator; a publish
// failure is returned with Reject so the caller's delivery is retried.
func SendToNext[S, In, Out any](ctx context.Context, stage Stage[S], output string, out Out, msg In, accept FailureFunc[In]) (Responsibility, error) {
	if output == "" {
		return Accept, nil
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return acceptFailure(ctx, stage, accept, msg, SerializeError{Err: err})
	}

	return publish(ctx, stage, output, payload)
}

func publish[S any](ctx context.Context, stage Stage[S], queue string, payload []byte) (Responsibility, error) {
	if err := stage.Publisher.Publish(ctx, queue, payload); err != nil {
		stage.Metrics.publish(queue, err)

		return Reject, PublishError{Queue: queue, Err: err}
	}

	stage.Metrics.publish(queue, nil)
	stage.Logger.Debug("message published", zap.String("output", queue))

	return Accept, nil
}
