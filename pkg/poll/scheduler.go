// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatsFunc receives the queue length and the number of running checks.
type StatsFunc func(queued, running int)

// CheckFunc probes the external state of one job. It reports true once the
// job is finished and can leave the queue.
type CheckFunc[T any] func(ctx context.Context, msg T) (done bool)

// Status is the outcome of evaluating one job during a sweep.
type Status int

const (
	// JobDone: the job is finished and dropped from the queue.
	JobDone Status = iota
	// AlreadyRunning: a check of the job is still in flight.
	AlreadyRunning
	// NotUpForDispatch: the job was checked less than JobCheckingInterval ago.
	NotUpForDispatch
	// Dispatched: a check was started for the job.
	Dispatched
)

func (s Status) String() string {
	switch s {
	case JobDone:
		return "job_done"
	case AlreadyRunning:
		return "already_running"
	case NotUpForDispatch:
		return "not_up_for_dispatch"
	case Dispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// Scheduler owns the in-memory queue of poll jobs and dispatches their checks.
// The queue is only reachable through Enqueue, Sweep and Len; a sweep holds
// the queue lock for its whole pass, so insertions wait for it to finish.
type Scheduler[T any] struct {
	capacity Capacity
	check    CheckFunc[T]

	jobs []*Job[T]
	pool *pool

	// mu guards jobs.
	mu     sync.RWMutex
	now    func() time.Time
	stats  StatsFunc
	logger *zap.Logger
}

// NewScheduler validates capacity and returns an idle Scheduler; call Run to start sweeping.
func NewScheduler[T any](capacity Capacity, check CheckFunc[T]) (*Scheduler[T], error) {
	if err := capacity.Validate(); err != nil {
		return nil, err
	}

	return &Scheduler[T]{
		capacity: capacity,
		check:    check,
		pool:     newPool(capacity.MaxRunningJobs),
		now:      time.Now,
		logger:   zap.L(),
	}, nil
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (s *Scheduler[T]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	s.logger = logger
}

// SetStatsHook registers fn to be called after every sweep and every finished
// check. It must be set before the scheduler is used.
func (s *Scheduler[T]) SetStatsHook(fn StatsFunc) {
	s.stats = fn
}

// report hands the current figures to the stats hook.
func (s *Scheduler[T]) report() {
	if s.stats == nil {
		return
	}

	s.stats(s.Len(), s.Running())
}

// Enqueue appends a new job for msg to the tail of the queue, behind older jobs.
func (s *Scheduler[T]) Enqueue(msg T) {
	job := newJob(msg)

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

// Len returns the number of queued jobs, finished ones not yet swept included.
func (s *Scheduler[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.jobs)
}

// Running returns the number of checks currently executing.
func (s *Scheduler[T]) Running() int {
	return int(s.pool.running.Load())
}

// Wait blocks until all dispatched checks have returned.
func (s *Scheduler[T]) Wait() {
	s.pool.wait()
}

// Run sweeps the queue, sleeps for the duration the sweep asked for, and
// repeats until ctx is done. Checks already dispatched keep running after Run
// returns; use Wait to drain them.
func (s *Scheduler[T]) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			sleep := s.Sweep(ctx)

			s.logger.Debug("sweep done", zap.Duration("sleep", sleep), zap.Int("running", s.Running()))

			timer.Reset(sleep)
		}
	}
}

// Sweep evaluates every job that was queued when the pass started, once.
// Jobs are taken from the front and non-finished ones go to the back. The
// pass stops early when no capacity slot is free; unvisited jobs then stay
// at the front in their order. It returns how long to sleep before the next pass.
func (s *Scheduler[T]) Sweep(ctx context.Context) time.Duration {
	taskCtx := context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		total = len(s.jobs)
		kept  = make([]*Job[T], 0, total)
		sleep = s.capacity.SweepSleepDefault
		i     int
	)

	for ; i < total; i++ {
		slot, ok := s.pool.reserve()
		if !ok {
			s.logger.Debug("no available slots, terminating this pass", zap.Int("visited", i), zap.Int("jobs", total))

			break
		}

		var status Status

		job := s.jobs[i]
		status, sleep = s.schedule(taskCtx, job, slot, sleep)

		s.logger.Debug("job evaluated", zap.Stringer("status", status))

		if status != JobDone {
			kept = append(kept, job)
		}
	}

	rest := make([]*Job[T], 0, total-i+len(kept))
	rest = append(rest, s.jobs[i:]...)
	s.jobs = append(rest, kept...)

	if s.stats != nil {
		s.stats(len(s.jobs), s.Running())
	}

	return sleep
}

// schedule decides the fate of one job. slot is consumed by a dispatched
// check and released otherwise.
func (s *Scheduler[T]) schedule(ctx context.Context, job *Job[T], slot *slot, sleep time.Duration) (Status, time.Duration) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.done {
		slot.release()

		return JobDone, sleep
	}

	if !job.ticket.TryAcquire(1) {
		slot.release()

		return AlreadyRunning, sleep
	}

	var (
		now     = s.now()
		elapsed = max(0, now.Sub(job.lastScheduled))
	)

	if elapsed < s.capacity.JobCheckingInterval {
		job.ticket.Release(1)
		slot.release()

		left := s.capacity.JobCheckingInterval - elapsed

		return NotUpForDispatch, s.capacity.clamp(min(sleep, left))
	}

	job.lastScheduled = now

	slot.run(func() {
		defer job.ticket.Release(1)

		if s.check(ctx, job.msg) {
			job.markDone()
		}
	}, s.report)

	return Dispatched, sleep
}
