// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type job struct {
	URL string `json:"url"`
}

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Open(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	addr := mr.Addr()
	mr.Close()

	_, err = Open(context.Background(), addr, "", 0)
	require.Error(t, err)
}

func TestFailureStoreRecordAndList(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	store := NewFailureStore(client, "failures", 0)
	store.SetLogger(zap.NewNop())
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	first, err := store.Record(ctx, "input", job{URL: "a"}, errors.New("remote 500"))
	require.NoError(t, err)
	_, err = store.Record(ctx, "input", job{URL: "b"}, errors.New("remote 404"))
	require.NoError(t, err)

	records, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "remote 404", records[0].Error, "newest first")
	assert.Equal(t, first.ID, records[1].ID)
	assert.Equal(t, "input", records[1].Queue)
	assert.JSONEq(t, `{"url":"a"}`, string(records[1].Payload))
	assert.True(t, records[1].FailedAt.Equal(store.now()))

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFailureStoreTrims(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	store := NewFailureStore(client, "failures", 2)
	store.SetLogger(zap.NewNop())

	for _, url := range []string{"a", "b", "c"} {
		_, err := store.Record(ctx, "input", job{URL: url}, errors.New("failed"))
		require.NoError(t, err)
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFailureStoreSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)

	store := NewFailureStore(client, "failures", 0)
	store.SetLogger(zap.NewNop())

	_, err := store.Record(ctx, "input", job{URL: "a"}, errors.New("failed"))
	require.NoError(t, err)

	_, err = mr.Lpush("failures", "not json")
	require.NoError(t, err)

	records, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAcceptFailure(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)

	store := NewFailureStore(client, "failures", 0)
	store.SetLogger(zap.NewNop())

	accept := AcceptFailure[job](store, "polls")
	require.NoError(t, accept(ctx, job{URL: "x"}, errors.New("timeout")))

	records, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "polls", records[0].Queue)
	assert.Equal(t, "timeout", records[0].Error)

	mr.SetError("READONLY replica")
	assert.Error(t, accept(ctx, job{URL: "y"}, errors.New("timeout")), "a store failure leaves the failure unresolved")
}

func TestJobStore(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)

	store := NewJobStore[job](client, "jobs:polls")
	store.SetLogger(zap.NewNop())

	idA, err := store.Save(ctx, job{URL: "a"})
	require.NoError(t, err)
	idB, err := store.Save(ctx, job{URL: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	mr.HSet("jobs:polls", "broken", "{")

	jobs, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byID := make(map[string]job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j.Msg
	}

	assert.Equal(t, job{URL: "a"}, byID[idA])
	assert.Equal(t, job{URL: "b"}, byID[idB])

	require.NoError(t, store.Remove(ctx, idA))
	require.NoError(t, store.Remove(ctx, "unknown"))

	raw := mr.HGet("jobs:polls", idB)

	var stored job
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "b", stored.URL)
	assert.Empty(t, mr.HGet("jobs:polls", idA))
}
