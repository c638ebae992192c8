// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package config loads the settings of a pipeline stage process: broker
// connection, queue topology, the stage itself, Redis and metrics.
// Values come from an optional YAML file and are then overridden by
// RABBITFLOW_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/GwynCerbin/rabbitflow/pkg/adapter"
	"github.com/GwynCerbin/rabbitflow/pkg/poll"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RABBITFLOW_"

type Config struct {
	Broker   adapter.Client `yaml:"broker"`
	Topology Topology       `yaml:"topology"`
	Stage    Stage          `yaml:"stage"`
	Redis    Redis          `yaml:"redis"`
	Metrics  Metrics        `yaml:"metrics"`
}

// Exchanges names the two exchanges of the retry protocol.
type Exchanges struct {
	WorkExchange  string `env:"WORK_EXCHANGE" yaml:"work_exchange"`
	RetryExchange string `env:"RETRY_EXCHANGE" yaml:"retry_exchange"`
}

// Topology is what provisioning declares. A queue with an empty retry
// queue gets the conventional retry_<queue> name.
type Topology struct {
	Exchanges `yaml:",inline"`
	Queues    []adapter.RetryPair `yaml:"queues"`
}

// Stage configures the one stage a process runs.
type Stage struct {
	Queue          string        `env:"QUEUE" yaml:"queue"`
	Prefetch       int           `env:"PREFETCH" yaml:"prefetch"`
	Output         string        `env:"OUTPUT" yaml:"output"`
	Outputs        []string      `env:"OUTPUTS" yaml:"outputs"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" yaml:"reconnect_delay"`
	Capacity       poll.Capacity `envPrefix:"CAPACITY_" yaml:"capacity"`
}

type Redis struct {
	Addr         string `env:"ADDR" yaml:"addr"`
	Password     string `env:"PASSWORD" yaml:"-"`
	DB           int    `env:"DB" yaml:"db"`
	FailureKey   string `env:"FAILURE_KEY" yaml:"failure_key"`
	JobKeyPrefix string `env:"JOB_KEY_PREFIX" yaml:"job_key_prefix"`
}

type Metrics struct {
	Addr      string `env:"ADDR" yaml:"addr"`
	Namespace string `env:"NAMESPACE" yaml:"namespace"`
}

// Default returns the values used for everything the file and environment leave unset.
func Default() Config {
	return Config{
		Topology: Topology{
			Exchanges: Exchanges{
				WorkExchange:  "work",
				RetryExchange: "retry",
			},
		},
		Stage: Stage{
			Prefetch:       1,
			ReconnectDelay: 2 * time.Second,
			Capacity:       poll.DefaultCapacity(),
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			FailureKey:   "rabbitflow:failures",
			JobKeyPrefix: "rabbitflow:jobs:",
		},
		Metrics: Metrics{
			Namespace: "rabbitflow",
		},
	}
}

// Load reads path, if not empty, then applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv overrides each section from RABBITFLOW_<SECTION>_* variables.
// The queue list has no environment form.
func (c *Config) applyEnv() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"BROKER_", &c.Broker},
		{"TOPOLOGY_", &c.Topology.Exchanges},
		{"STAGE_", &c.Stage},
		{"REDIS_", &c.Redis},
		{"METRICS_", &c.Metrics},
	}

	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, s.prefix, err)
		}
	}

	return nil
}

func (c *Config) normalize() {
	for i := range c.Topology.Queues {
		if c.Topology.Queues[i].RetryQueue == "" {
			c.Topology.Queues[i].RetryQueue = adapter.RetryQueueName(c.Topology.Queues[i].WorkQueue)
		}
	}
}

// InvalidConfigError reports the first invalid setting found by Validate.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Validate checks the topology and the stage settings.
func (c Config) Validate() error {
	if err := c.Topology.Validate(); err != nil {
		return err
	}

	if c.Stage.Prefetch < 1 {
		return InvalidConfigError{Field: "stage.prefetch", Reason: fmt.Sprintf("%d < 1", c.Stage.Prefetch)}
	}

	if c.Stage.ReconnectDelay < 0 {
		return InvalidConfigError{Field: "stage.reconnect_delay", Reason: "negative"}
	}

	if err := c.Stage.Capacity.Validate(); err != nil {
		return InvalidConfigError{Field: "stage.capacity", Reason: err.Error()}
	}

	return nil
}

// Validate checks exchange names and that every queue has exactly one pair.
func (t Topology) Validate() error {
	switch {
	case t.WorkExchange == "":
		return InvalidConfigError{Field: "topology.work_exchange", Reason: "empty"}
	case t.RetryExchange == "":
		return InvalidConfigError{Field: "topology.retry_exchange", Reason: "empty"}
	case t.WorkExchange == t.RetryExchange:
		return InvalidConfigError{Field: "topology.retry_exchange", Reason: "same as the work exchange"}
	}

	seen := make(map[string]string, 2*len(t.Queues))

	for i, q := range t.Queues {
		field := fmt.Sprintf("topology.queues[%d]", i)

		switch {
		case q.WorkQueue == "":
			return InvalidConfigError{Field: field + ".work", Reason: "empty"}
		case q.RetryInterval.Milliseconds() <= 0:
			return InvalidConfigError{Field: field + ".retry_interval", Reason: "must be at least 1ms"}
		}

		for _, name := range []string{q.WorkQueue, q.RetryQueue} {
			if prev, ok := seen[name]; ok {
				return InvalidConfigError{Field: field, Reason: fmt.Sprintf("queue %s already declared by %s", name, prev)}
			}

			seen[name] = field
		}
	}

	return nil
}
