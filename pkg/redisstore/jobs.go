// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GwynCerbin/rabbitflow"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JobStore keeps the pending messages of one poll stage in a Redis hash
// keyed by job id. It implements rabbitflow.JobStore.
type JobStore[T any] struct {
	client redis.Cmdable
	key    string
	logger *zap.Logger
}

// NewJobStore stores jobs in the hash at key.
func NewJobStore[T any](client redis.Cmdable, key string) *JobStore[T] {
	return &JobStore[T]{
		client: client,
		key:    key,
		logger: zap.L(),
	}
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (s *JobStore[T]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	s.logger = logger
}

// Save stores msg under a new id.
func (s *JobStore[T]) Save(ctx context.Context, msg T) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	id := uuid.NewString()

	if err := s.client.HSet(ctx, s.key, id, data).Err(); err != nil {
		return "", fmt.Errorf("save job: %w", err)
	}

	return id, nil
}

// Load returns every stored job. Entries that no longer decode as T are
// logged and skipped.
func (s *JobStore[T]) Load(ctx context.Context) ([]rabbitflow.StoredJob[T], error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]rabbitflow.StoredJob[T], 0, len(raw))

	for id, data := range raw {
		var msg T
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			s.logger.Warn("skipping undecodable job", zap.String("job_id", id), zap.Error(err))

			continue
		}

		jobs = append(jobs, rabbitflow.StoredJob[T]{ID: id, Msg: msg})
	}

	return jobs, nil
}

// Remove deletes the job with id. Removing an unknown id is not an error.
func (s *JobStore[T]) Remove(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}

	return nil
}
