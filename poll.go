// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"
	"github.com/GwynCerbin/rabbitflow/pkg/poll"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PollFunc probes the external state behind msg. ready=false means the work
// is still in progress and msg is checked again later.
type PollFunc[In, Out any] func(ctx context.Context, msg In) (out Out, ready bool, err error)

// StoredJob is a poll message kept in a JobStore under ID.
type StoredJob[In any] struct {
	ID  string
	Msg In
}

// JobStore keeps accepted poll messages across restarts.
type JobStore[In any] interface {
	Save(ctx context.Context, msg In) (id string, err error)
	Load(ctx context.Context) ([]StoredJob[In], error)
	Remove(ctx context.Context, id string) error
}

// InitFunc returns extra messages to queue when a poll stage starts.
type InitFunc[In any] func(ctx context.Context) ([]In, error)

// pollJob is what the scheduler queues: the message and its store id, if any.
type pollJob[In any] struct {
	id  string
	msg In
}

// Check results as reported in metrics.
const (
	checkPending         = "pending"
	checkDone            = "done"
	checkFailed          = "failed"
	checkPublishFailed   = "publish_failed"
	checkFailureAccepted = "failure_accepted"
)

// Poller is a poll stage: accepted deliveries become jobs that a scheduler
// checks in the background until they are done. A done job with a result
// publishes it to output.
type Poller[In, Out any] struct {
	dialer    broker.Dialer
	check     PollFunc[In, Out]
	accept    FailureFunc[In]
	output    string
	publisher broker.Publisher

	capacity poll.Capacity
	store    JobStore[In]
	init     InitFunc[In]
	logger   *zap.Logger
	metrics  *Metrics

	once     sync.Once
	sched    *poll.Scheduler[pollJob[In]]
	schedErr error
}

// NewPoller constructs a Poller with poll.DefaultCapacity.
func NewPoller[In, Out any](dialer broker.Dialer, check PollFunc[In, Out], accept FailureFunc[In], output string) *Poller[In, Out] {
	publisher := NewSessionPublisher(dialer)

	return &Poller[In, Out]{
		dialer:    dialer,
		check:     check,
		accept:    accept,
		output:    output,
		publisher: publisher,
		capacity:  poll.DefaultCapacity(),
		logger:    zap.L(),
	}
}

// SetCapacity replaces the scheduler configuration. It has no effect once
// the first delivery was handled or Run was called.
func (p *Poller[In, Out]) SetCapacity(capacity poll.Capacity) error {
	if err := capacity.Validate(); err != nil {
		return err
	}

	p.capacity = capacity

	return nil
}

// SetJobStore makes accepted messages survive restarts.
func (p *Poller[In, Out]) SetJobStore(store JobStore[In]) {
	p.store = store
}

// SetInit registers fn to queue extra jobs at start.
func (p *Poller[In, Out]) SetInit(fn InitFunc[In]) {
	p.init = fn
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (p *Poller[In, Out]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	p.logger = logger

	if sp, ok := p.publisher.(*SessionPublisher); ok {
		sp.SetLogger(logger)
	}
}

// SetMetrics enables metrics collection. A nil Metrics disables it.
func (p *Poller[In, Out]) SetMetrics(m *Metrics) {
	p.metrics = m
}

func (p *Poller[In, Out]) scheduler() (*poll.Scheduler[pollJob[In]], error) {
	p.once.Do(func() {
		p.sched, p.schedErr = poll.NewScheduler(p.capacity, p.checkJob)
		if p.schedErr == nil {
			p.sched.SetLogger(p.logger)
			p.sched.SetStatsHook(func(queued, running int) {
				p.metrics.jobs(queued, running)
			})
		}
	})

	return p.sched, p.schedErr
}

// Handler is the consumption loop handler of the stage. It stores the
// message when a JobStore is set and queues it; a failed save rejects the
// delivery so it comes back later.
func (p *Poller[In, Out]) Handler() HandlerFunc[In, struct{}] {
	return func(ctx context.Context, stage Stage[struct{}], msg In) (Responsibility, error) {
		sched, err := p.scheduler()
		if err != nil {
			return Reject, err
		}

		job := pollJob[In]{msg: msg}

		if p.store != nil {
			id, err := p.store.Save(ctx, msg)
			if err != nil {
				stage.Logger.Warn("failed to save message, will be retried", zap.Error(err))

				return Reject, nil
			}

			job.id = id
		}

		sched.Enqueue(job)
		p.metrics.jobs(sched.Len(), sched.Running())

		stage.Logger.Debug("poll job queued", zap.String("job_id", job.id))

		return Accept, nil
	}
}

// Restore queues the jobs kept in the JobStore and those returned by the init function.
func (p *Poller[In, Out]) Restore(ctx context.Context) error {
	sched, err := p.scheduler()
	if err != nil {
		return err
	}

	if p.store != nil {
		stored, err := p.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load jobs: %w", err)
		}

		for _, job := range stored {
			sched.Enqueue(pollJob[In]{id: job.ID, msg: job.Msg})
		}

		p.logger.Info("stored jobs restored", zap.Int("jobs", len(stored)))
	}

	if p.init != nil {
		msgs, err := p.init(ctx)
		if err != nil {
			return fmt.Errorf("init jobs: %w", err)
		}

		for _, msg := range msgs {
			sched.Enqueue(pollJob[In]{msg: msg})
		}

		p.logger.Info("init jobs queued", zap.Int("jobs", len(msgs)))
	}

	p.metrics.jobs(sched.Len(), sched.Running())

	return nil
}

// Run restores jobs, then runs the scheduler and the consumption loop of
// queue side by side until ctx is done. Checks still running are waited for.
func (p *Poller[In, Out]) Run(ctx context.Context, queue string, prefetch int) error {
	if err := p.Restore(ctx); err != nil {
		return err
	}

	sched, err := p.scheduler()
	if err != nil {
		return err
	}

	listener := NewListener(p.dialer, queue, p.Handler(), struct{}{})
	if err := listener.SetPrefetch(prefetch); err != nil {
		return err
	}

	listener.SetLogger(p.logger)
	listener.SetMetrics(p.metrics)

	defer func() {
		sched.Wait()

		if err := p.publisher.Close(); err != nil {
			p.logger.Debug("close poll publisher", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		return listener.ListenAndServe(gctx)
	})

	return g.Wait()
}

// checkJob runs one check of job and reports whether the job is done.
func (p *Poller[In, Out]) checkJob(ctx context.Context, job pollJob[In]) bool {
	logger := p.logger.With(zap.String("job_id", job.id))

	out, ready, err := p.check(ctx, job.msg)
	if err != nil {
		logger.Warn("failed to check job", zap.Error(err))
		p.metrics.check(checkFailed)

		return p.finishWithFailure(ctx, logger, job, err)
	}

	if !ready {
		logger.Debug("job still in progress")
		p.metrics.check(checkPending)

		return false
	}

	if p.output != "" {
		payload, err := json.Marshal(out)
		if err != nil {
			return p.finishWithFailure(ctx, logger, job, SerializeError{Err: err})
		}

		if err := p.publisher.Publish(ctx, p.output, payload); err != nil {
			logger.Warn("failed to publish job result, will be retried", zap.String("output", p.output), zap.Error(err))
			p.metrics.publish(p.output, err)
			p.metrics.check(checkPublishFailed)

			return false
		}

		p.metrics.publish(p.output, nil)
	}

	logger.Debug("job done")
	p.metrics.check(checkDone)
	p.forget(ctx, logger, job)

	return true
}

// finishWithFailure hands err to the failure collaborator. The job is done
// once the collaborator succeeded and stays queued otherwise.
func (p *Poller[In, Out]) finishWithFailure(ctx context.Context, logger *zap.Logger, job pollJob[In], err error) bool {
	if ferr := p.accept(ctx, job.msg, err); ferr != nil {
		logger.Warn("failed to accept failure, job stays queued", zap.NamedError("failure", err), zap.Error(ferr))

		return false
	}

	logger.Info("failure accepted, job done", zap.Error(err))
	p.metrics.check(checkFailureAccepted)
	p.forget(ctx, logger, job)

	return true
}

func (p *Poller[In, Out]) forget(ctx context.Context, logger *zap.Logger, job pollJob[In]) {
	if p.store == nil || job.id == "" {
		return
	}

	if err := p.store.Remove(ctx, job.id); err != nil {
		logger.Warn("failed to remove done job from store", zap.Error(err))
	}
}
