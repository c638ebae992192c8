// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package poll

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Job is one pending poll message with its scheduling state.
// The ticket is a single permit held by the running check, so a job is never
// checked twice at the same time.
type Job[T any] struct {
	msg T

	mu            sync.Mutex
	lastScheduled time.Time
	done          bool

	ticket *semaphore.Weighted
}

func newJob[T any](msg T) *Job[T] {
	return &Job[T]{
		msg:    msg,
		ticket: semaphore.NewWeighted(1),
	}
}

// Msg returns the message the job was created for.
func (j *Job[T]) Msg() T {
	return j.msg
}

// Done reports whether a check finished the job.
func (j *Job[T]) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.done
}

// LastScheduled returns when the job was last dispatched; zero if never.
func (j *Job[T]) LastScheduled() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.lastScheduled
}

func (j *Job[T]) markDone() {
	j.mu.Lock()
	j.done = true
	j.mu.Unlock()
}
