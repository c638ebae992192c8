// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package poll

import (
	"fmt"
	"time"
)

// Capacity configures a Scheduler:
//   - MaxRunningJobs: ceiling on concurrently running checks across all jobs
//   - SweepSleepDefault: pause between sweeps when no job asks for less
//   - SweepSleepMin, SweepSleepMax: bounds of a tightened pause
//   - JobCheckingInterval: minimum spacing between two checks of the same job
type Capacity struct {
	MaxRunningJobs      int           `env:"MAX_RUNNING_JOBS" yaml:"max_running_jobs"`
	SweepSleepDefault   time.Duration `env:"SWEEP_SLEEP_DEFAULT" yaml:"sweep_sleep_default"`
	SweepSleepMin       time.Duration `env:"SWEEP_SLEEP_MIN" yaml:"sweep_sleep_min"`
	SweepSleepMax       time.Duration `env:"SWEEP_SLEEP_MAX" yaml:"sweep_sleep_max"`
	JobCheckingInterval time.Duration `env:"JOB_CHECKING_INTERVAL" yaml:"job_checking_interval"`
}

// DefaultCapacity returns 10 running jobs, sweeps every 5s within [1s, 60s]
// and checks each job at most every 10s.
func DefaultCapacity() Capacity {
	return Capacity{
		MaxRunningJobs:      10,
		SweepSleepDefault:   5 * time.Second,
		SweepSleepMin:       time.Second,
		SweepSleepMax:       time.Minute,
		JobCheckingInterval: 10 * time.Second,
	}
}

// InvalidCapacityError reports an unusable Capacity.
type InvalidCapacityError struct {
	Reason string
}

func (e InvalidCapacityError) Error() string {
	return fmt.Sprintf("invalid capacity: %s", e.Reason)
}

// Validate checks that the limits are positive and consistently ordered.
func (c Capacity) Validate() error {
	switch {
	case c.MaxRunningJobs < 1:
		return InvalidCapacityError{Reason: fmt.Sprintf("max running jobs %d < 1", c.MaxRunningJobs)}
	case c.SweepSleepMin <= 0:
		return InvalidCapacityError{Reason: "sweep sleep min must be positive"}
	case c.SweepSleepMin > c.SweepSleepMax:
		return InvalidCapacityError{Reason: fmt.Sprintf("sweep sleep min %v > max %v", c.SweepSleepMin, c.SweepSleepMax)}
	case c.SweepSleepDefault <= 0:
		return InvalidCapacityError{Reason: "sweep sleep default must be positive"}
	case c.JobCheckingInterval < 0:
		return InvalidCapacityError{Reason: "job checking interval must not be negative"}
	}

	return nil
}

// clamp bounds a tightened sweep sleep.
func (c Capacity) clamp(d time.Duration) time.Duration {
	return min(c.SweepSleepMax, max(c.SweepSleepMin, d))
}
