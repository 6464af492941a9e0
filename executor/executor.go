// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/groundwork/answer"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/jobs"
)

// Runner executes one answer request.
// *answer.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req core.SearchRequest, monitor answer.Monitor) (*core.AnswerResult, error)
}

// DefaultQueueSize is how many jobs may wait for a worker.
const DefaultQueueSize = 64

// DefaultLease is how long a processing job may go without a heartbeat
// before any executor sharing the store may fail it.
const DefaultLease = 2 * time.Minute

// Executor runs submitted jobs on a worker pool.
type Executor struct {
	tracker *jobs.Tracker
	runner  Runner
	pool    *ants.Pool
	queue   chan string
	logger  *slog.Logger

	workers         int
	queueSize       int
	retention       time.Duration
	cleanupInterval time.Duration
	lease           time.Duration

	// active holds the ids of jobs running on this executor.
	active sync.Map

	// base is the parent of every run context; abort cancels it.
	base  context.Context
	abort context.CancelFunc

	closed  atomic.Bool
	stop    chan struct{}
	loops   sync.WaitGroup
	running sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithWorkers sets how many jobs may run at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) Option {
	return func(e *Executor) error {
		if n < 1 {
			n = 1
		}
		e.workers = n
		return nil
	}
}

// WithQueueSize sets how many submitted jobs may wait for a worker before
// Submit blocks.
func WithQueueSize(n int) Option {
	return func(e *Executor) error {
		if n < 1 {
			return fmt.Errorf("queue size must be positive, got %d", n)
		}
		e.queueSize = n
		return nil
	}
}

// WithCleanup deletes terminal jobs older than retention every interval.
// Cleanup is disabled unless both values are positive.
func WithCleanup(retention, interval time.Duration) Option {
	return func(e *Executor) error {
		e.retention = retention
		e.cleanupInterval = interval
		return nil
	}
}

// WithLease sets how long a running job's heartbeat stays valid. Running
// jobs are renewed four times per lease.
func WithLease(lease time.Duration) Option {
	return func(e *Executor) error {
		if lease <= 0 {
			return fmt.Errorf("lease must be positive, got %s", lease)
		}
		e.lease = lease
		return nil
	}
}

// New creates an executor and starts its dispatcher.
func New(tracker *jobs.Tracker, runner Runner, opts ...Option) (*Executor, error) {
	if tracker == nil {
		return nil, ErrTrackerRequired
	}
	if runner == nil {
		return nil, ErrRunnerRequired
	}

	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		tracker:   tracker,
		runner:    runner,
		logger:    slog.Default(),
		workers:   workers,
		queueSize: DefaultQueueSize,
		lease:     DefaultLease,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "executor")

	pool, err := ants.NewPool(e.workers)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	e.queue = make(chan string, e.queueSize)
	e.base, e.abort = context.WithCancel(context.Background())

	e.loops.Add(2)
	go e.dispatch()
	go e.maintainLeases()
	if e.retention > 0 && e.cleanupInterval > 0 {
		e.loops.Add(1)
		go e.housekeep()
	}
	return e, nil
}

// Submit records a pending job for req and queues it. The request is
// validated first; the job itself always runs on a worker, never on the
// caller. If ctx ends before the job is queued the job is cancelled.
func (e *Executor) Submit(ctx context.Context, req core.SearchRequest) (*core.SearchJob, error) {
	if err := core.ValidateSearchRequest(&req); err != nil {
		return nil, err
	}

	if e.closed.Load() {
		return nil, ErrClosed
	}

	job, err := e.tracker.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, job.ID); err != nil {
		if _, _, cancelErr := e.tracker.Cancel(context.Background(), job.ID); cancelErr != nil {
			e.logger.Error("failed to cancel unqueued job", "job_id", job.ID, "err", cancelErr)
		}
		return nil, err
	}
	e.logger.Info("job submitted", "job_id", job.ID, "mode", string(req.SearchMode), "reasoning", string(req.ReasoningMode))
	return job, nil
}

func (e *Executor) enqueue(ctx context.Context, id string) error {
	select {
	case e.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return ErrClosed
	}
}

// Recover prepares jobs left behind by a stopped process: processing jobs
// whose lease expired are marked failed and pending jobs are queued again.
// Jobs another live executor is running keep their state. It returns the
// number of jobs queued.
func (e *Executor) Recover(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	failed, err := e.tracker.FailStale(ctx, e.lease, ErrInterrupted.Error())
	if err != nil {
		return 0, err
	}

	pending, err := e.tracker.List(ctx, core.JobPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for i, job := range pending {
		if err := e.enqueue(ctx, job.ID); err != nil {
			return i, err
		}
	}
	if len(failed)+len(pending) > 0 {
		e.logger.Info("jobs recovered", "requeued", len(pending), "failed", len(failed))
	}
	return len(pending), nil
}

func (e *Executor) dispatch() {
	defer e.loops.Done()
	for {
		select {
		case <-e.stop:
			return
		case id := <-e.queue:
			e.running.Add(1)
			err := e.pool.Submit(func() {
				defer e.running.Done()
				e.execute(id)
			})
			if err != nil {
				// The job stays pending for Recover.
				e.running.Done()
				e.logger.Error("failed to schedule job", "job_id", id, "err", err)
			}
		}
	}
}

func (e *Executor) housekeep() {
	defer e.loops.Done()
	ticker := time.NewTicker(e.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if _, err := e.tracker.Cleanup(e.base, e.retention); err != nil {
				e.logger.Error("job cleanup failed", "err", err)
			}
		}
	}
}

// maintainLeases renews the jobs running here and fails jobs whose owner
// stopped renewing them.
func (e *Executor) maintainLeases() {
	defer e.loops.Done()
	ticker := time.NewTicker(max(e.lease/4, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			var ids []string
			e.active.Range(func(k, _ any) bool {
				ids = append(ids, k.(string))
				return true
			})
			if err := e.tracker.Heartbeat(e.base, ids...); err != nil {
				e.logger.Error("job heartbeat failed", "err", err)
			}
			if _, err := e.tracker.FailStale(e.base, e.lease, ErrInterrupted.Error()); err != nil {
				e.logger.Error("stale job check failed", "err", err)
			}
		}
	}
}

func (e *Executor) execute(id string) {
	logger := e.logger.With("job_id", id)

	job, claimed, err := e.tracker.Claim(e.base, id)
	if err != nil {
		logger.Error("failed to start job", "err", err)
		return
	}
	if !claimed {
		logger.Debug("skipping job", "status", string(job.Status))
		return
	}
	e.active.Store(id, struct{}{})
	defer e.active.Delete(id)

	monitor := answer.MonitorFunc(func(ctx context.Context, p answer.Progress) error {
		job, err := e.tracker.Update(ctx, id, core.JobUpdate{Progress: p.Percent, CurrentStep: p.Step})
		if err != nil {
			return err
		}
		if job.Status == core.JobCancelled {
			return answer.ErrCancelled
		}
		logger.Debug("job progress", "progress", job.Progress, "step", job.CurrentStep)
		return nil
	})

	start := time.Now()
	result, err := e.run(e.base, job.Request, monitor)
	logger.Debug("run returned", "elapsed", time.Since(start), "err", err)
	e.finish(id, result, err)
}

// run calls the runner, turning a panic into an error.
func (e *Executor) run(ctx context.Context, req core.SearchRequest, monitor answer.Monitor) (result *core.AnswerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return e.runner.Run(ctx, req, monitor)
}

// finish records the outcome of a run. A cancelled job keeps its state;
// a failed run keeps whatever partial result it produced.
func (e *Executor) finish(id string, result *core.AnswerResult, runErr error) {
	ctx := context.Background()
	logger := e.logger.With("job_id", id)

	if runErr == nil {
		if _, err := e.tracker.Update(ctx, id, core.JobUpdate{
			Status:      core.JobCompleted,
			CurrentStep: "Completed",
			Result:      result,
		}); err != nil {
			logger.Error("failed to record completion", "err", err)
		}
		return
	}

	cancelled, err := e.tracker.IsCancelled(ctx, id)
	if err != nil {
		logger.Error("failed to read job status", "err", err)
		return
	}
	if cancelled || errors.Is(runErr, answer.ErrCancelled) {
		logger.Info("job stopped after cancellation")
		return
	}

	u := core.JobUpdate{
		Status:       core.JobFailed,
		ErrorMessage: runErr.Error(),
		Result:       result,
	}
	if result != nil && result.FailedStep != "" {
		u.CurrentStep = "Failed at " + result.FailedStep
	}
	if _, err := e.tracker.Update(ctx, id, u); err != nil {
		logger.Error("failed to record failure", "err", err)
		return
	}
	logger.Warn("job failed", "err", runErr)
}

// Close stops accepting jobs and waits for running jobs to finish. Jobs
// still queued stay pending and are picked up by Recover on the next
// start. If ctx ends first, running jobs are interrupted and recorded as
// failed.
func (e *Executor) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stop)

	done := make(chan struct{})
	go func() {
		e.loops.Wait()
		e.running.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		e.abort()
		<-done
		err = ctx.Err()
	}
	e.abort()
	e.pool.Release()
	return err
}
