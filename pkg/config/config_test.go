// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GwynCerbin/rabbitflow/pkg/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
broker:
  host: rabbit:5672
  vhost: pipelines
topology:
  work_exchange: work_x
  retry_exchange: retry_x
  queues:
    - work: input
      retry_interval: 10s
    - work: squared
      retry: squared_retry
      retry_interval: 1m
stage:
  queue: input
  prefetch: 4
  output: squared
  outputs: [a, b]
  capacity:
    max_running_jobs: 3
    sweep_sleep_default: 2s
    sweep_sleep_min: 1s
    sweep_sleep_max: 30s
    job_checking_interval: 5s
redis:
  addr: redis:6379
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rabbitflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "rabbit:5672", cfg.Broker.Host)
	assert.Equal(t, "pipelines", cfg.Broker.VHost)
	assert.Equal(t, "work_x", cfg.Topology.WorkExchange)
	assert.Equal(t, "retry_x", cfg.Topology.RetryExchange)
	assert.Equal(t, []adapter.RetryPair{
		{WorkQueue: "input", RetryQueue: "retry_input", RetryInterval: 10 * time.Second},
		{WorkQueue: "squared", RetryQueue: "squared_retry", RetryInterval: time.Minute},
	}, cfg.Topology.Queues)

	assert.Equal(t, "input", cfg.Stage.Queue)
	assert.Equal(t, 4, cfg.Stage.Prefetch)
	assert.Equal(t, []string{"a", "b"}, cfg.Stage.Outputs)
	assert.Equal(t, 2*time.Second, cfg.Stage.ReconnectDelay, "unset values keep their default")
	assert.Equal(t, 3, cfg.Stage.Capacity.MaxRunningJobs)
	assert.Equal(t, 5*time.Second, cfg.Stage.Capacity.JobCheckingInterval)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "rabbitflow:failures", cfg.Redis.FailureKey)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("RABBITFLOW_BROKER_URI", "amqp://u:p@other:5672/")
	t.Setenv("RABBITFLOW_BROKER_PASSWORD", "secret")
	t.Setenv("RABBITFLOW_TOPOLOGY_WORK_EXCHANGE", "work_y")
	t.Setenv("RABBITFLOW_STAGE_PREFETCH", "16")
	t.Setenv("RABBITFLOW_STAGE_OUTPUTS", "q1,q2,q3")
	t.Setenv("RABBITFLOW_STAGE_CAPACITY_MAX_RUNNING_JOBS", "7")
	t.Setenv("RABBITFLOW_REDIS_PASSWORD", "hunter2")
	t.Setenv("RABBITFLOW_METRICS_ADDR", ":9090")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "amqp://u:p@other:5672/", cfg.Broker.URI)
	assert.Equal(t, "secret", cfg.Broker.Password)
	assert.Equal(t, "work_y", cfg.Topology.WorkExchange)
	assert.Equal(t, "retry_x", cfg.Topology.RetryExchange)
	assert.Equal(t, 16, cfg.Stage.Prefetch)
	assert.Equal(t, []string{"q1", "q2", "q3"}, cfg.Stage.Outputs)
	assert.Equal(t, 7, cfg.Stage.Capacity.MaxRunningJobs)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Len(t, cfg.Topology.Queues, 2)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("RABBITFLOW_STAGE_QUEUE", "input")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "input", cfg.Stage.Queue)
	assert.Equal(t, Default().Stage.Capacity, cfg.Stage.Capacity)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "stage: [not, a, map]"))
	require.Error(t, err)

	t.Setenv("RABBITFLOW_STAGE_PREFETCH", "many")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	pair := func(work string) adapter.RetryPair {
		return adapter.NewRetryPair(work, time.Second)
	}

	var tests = []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "empty work exchange", modify: func(c *Config) { c.Topology.WorkExchange = "" }, field: "topology.work_exchange"},
		{name: "same exchanges", modify: func(c *Config) { c.Topology.RetryExchange = c.Topology.WorkExchange }, field: "topology.retry_exchange"},
		{name: "empty work queue", modify: func(c *Config) { c.Topology.Queues = []adapter.RetryPair{pair("")} }, field: "topology.queues[0].work"},
		{name: "zero interval", modify: func(c *Config) {
			c.Topology.Queues = []adapter.RetryPair{adapter.NewRetryPair("a", 0)}
		}, field: "topology.queues[0].retry_interval"},
		{name: "queue declared twice", modify: func(c *Config) {
			c.Topology.Queues = []adapter.RetryPair{pair("a"), pair("a")}
		}, field: "topology.queues[1]"},
		{name: "retry queue clashes with a work queue", modify: func(c *Config) {
			c.Topology.Queues = []adapter.RetryPair{pair("a"), {WorkQueue: "b", RetryQueue: "a", RetryInterval: time.Second}}
		}, field: "topology.queues[1]"},
		{name: "zero prefetch", modify: func(c *Config) { c.Stage.Prefetch = 0 }, field: "stage.prefetch"},
		{name: "bad capacity", modify: func(c *Config) { c.Stage.Capacity.MaxRunningJobs = 0 }, field: "stage.capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Topology.Queues = []adapter.RetryPair{pair("input")}
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var cerr InvalidConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}
