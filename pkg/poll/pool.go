// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package poll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// pool runs check tasks on goroutines, never more than its size at once.
// It owns the permits: a task can only be started through a reserved slot.
type pool struct {
	slots   *semaphore.Weighted
	running atomic.Int64
	wg      sync.WaitGroup
}

func newPool(size int) *pool {
	return &pool{slots: semaphore.NewWeighted(int64(size))}
}

// reserve takes a free slot without blocking.
func (p *pool) reserve() (*slot, bool) {
	if !p.slots.TryAcquire(1) {
		return nil, false
	}

	return &slot{pool: p}, true
}

// wait blocks until every started task returned.
func (p *pool) wait() {
	p.wg.Wait()
}

// slot is one reserved permit. It is either run or released, exactly once.
type slot struct {
	pool *pool
	once sync.Once
}

func (s *slot) release() {
	s.once.Do(func() {
		s.pool.slots.Release(1)
	})
}

// run starts fn on a new goroutine that gives the permit back when fn
// returns. after, if set, runs once the permit is back.
func (s *slot) run(fn, after func()) {
	p := s.pool

	p.wg.Add(1)
	p.running.Add(1)

	go func() {
		defer func() {
			p.running.Add(-1)
			s.release()

			if after != nil {
				after()
			}

			p.wg.Done()
		}()

		fn()
	}()
}
