// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package redisstore keeps the durable state of a pipeline in Redis: the
// dead-letter list written by the failure collaborator and the pending jobs
// of poll stages.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Open connects to Redis and pings it.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	return client, nil
}
