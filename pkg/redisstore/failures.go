// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GwynCerbin/rabbitflow"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FailureRecord is one finalized failure.
type FailureRecord struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// FailureStore is a dead-letter list in Redis, newest first.
type FailureStore struct {
	client redis.Cmdable
	key    string
	maxLen int64
	now    func() time.Time
	logger *zap.Logger
}

// NewFailureStore stores records under key. maxLen > 0 trims the list to the
// newest maxLen records.
func NewFailureStore(client redis.Cmdable, key string, maxLen int64) *FailureStore {
	return &FailureStore{
		client: client,
		key:    key,
		maxLen: maxLen,
		now:    time.Now,
		logger: zap.L(),
	}
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (s *FailureStore) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	s.logger = logger
}

// Record pushes the failure of msg, consumed from queue, onto the list.
func (s *FailureStore) Record(ctx context.Context, queue string, msg any, cause error) (FailureRecord, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return FailureRecord{}, fmt.Errorf("encode failed message: %w", err)
	}

	rec := FailureRecord{
		ID:       uuid.NewString(),
		Queue:    queue,
		Payload:  payload,
		FailedAt: s.now().UTC(),
	}

	if cause != nil {
		rec.Error = cause.Error()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return FailureRecord{}, fmt.Errorf("encode failure record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)

		if s.maxLen > 0 {
			pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
		}

		return nil
	})
	if err != nil {
		return FailureRecord{}, fmt.Errorf("push failure record: %w", err)
	}

	s.logger.Info("failure recorded",
		zap.String("queue", queue),
		zap.String("failure_id", rec.ID),
		zap.String("cause", rec.Error),
	)

	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all of them.
func (s *FailureStore) List(ctx context.Context, limit int64) ([]FailureRecord, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}

	raw, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}

	records := make([]FailureRecord, 0, len(raw))

	for _, item := range raw {
		var rec FailureRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("skipping undecodable failure record", zap.Error(err))

			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

// Len returns the number of stored records.
func (s *FailureStore) Len(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}

	return n, nil
}

// AcceptFailure returns a failure collaborator that records failures of
// messages consumed from queue in store.
func AcceptFailure[In any](store *FailureStore, queue string) rabbitflow.FailureFunc[In] {
	return func(ctx context.Context, msg In, err error) error {
		_, rerr := store.Record(ctx, queue, msg, err)

		return rerr
	}
}
