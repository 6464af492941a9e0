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

// Package jobs tracks long-running answer runs as durable SearchJob records.
//
// The Tracker enforces the job state machine on top of a
// storage.JobRepository: ids are assigned at creation, progress never moves
// backwards, and jobs in a terminal state ignore further updates.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
)

var (
	// ErrRepositoryRequired is returned when a job repository is not provided.
	ErrRepositoryRequired = errors.New("job repository required")

	// ErrJobNotFound is returned for unknown job ids. It is distinct from a
	// job that exists and failed.
	ErrJobNotFound = errors.New("job not found")
)

// Tracker creates, updates and cancels search jobs.
// It is safe for concurrent use.
type Tracker struct {
	repo   storage.JobRepository
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker backed by repo.
func NewTracker(repo storage.JobRepository, opts ...Option) (*Tracker, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	t := &Tracker{
		repo:   repo,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "job-tracker")
	return t, nil
}

// Create stores a new pending job for req.
func (t *Tracker) Create(ctx context.Context, req core.SearchRequest) (*core.SearchJob, error) {
	now := t.now().UTC()
	job := &core.SearchJob{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    core.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	t.logger.Debug("job created", "job_id", job.ID, "reasoning", string(req.ReasoningMode))
	return job, nil
}

// Update applies u to the job and returns its state afterwards. Updates to
// terminal jobs are ignored without error; invalid transitions return
// core.ErrInvalidTransition.
func (t *Tracker) Update(ctx context.Context, id string, u core.JobUpdate) (*core.SearchJob, error) {
	job, _, err := t.update(ctx, id, u)
	return job, err
}

func (t *Tracker) update(ctx context.Context, id string, u core.JobUpdate) (*core.SearchJob, bool, error) {
	changed := false
	job, err := t.repo.UpdateJob(ctx, id, func(job *core.SearchJob) error {
		changed = false
		ok, err := core.ApplyJobUpdate(job, u, t.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrSkipUpdate
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, false, err
	}
	if changed && job.Status.IsTerminal() {
		t.logger.Info("job finished", "job_id", id, "status", string(job.Status))
	}
	return job, changed, nil
}

// Claim moves a pending job to processing in one store transaction.
// claimed is false when the job was no longer pending, so a job is run by
// at most one worker among all processes sharing the store.
func (t *Tracker) Claim(ctx context.Context, id string) (job *core.SearchJob, claimed bool, err error) {
	job, err = t.repo.UpdateJob(ctx, id, func(job *core.SearchJob) error {
		claimed = false
		if job.Status != core.JobPending {
			return storage.ErrSkipUpdate
		}
		if _, err := core.ApplyJobUpdate(job, core.JobUpdate{Status: core.JobProcessing, CurrentStep: "Started"}, t.now().UTC()); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, false, err
	}
	return job, claimed, nil
}

// Heartbeat renews the lease of processing jobs by touching their update
// time. Jobs that are gone or no longer processing are left alone.
func (t *Tracker) Heartbeat(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		_, err := t.repo.UpdateJob(ctx, id, func(job *core.SearchJob) error {
			if job.Status != core.JobProcessing {
				return storage.ErrSkipUpdate
			}
			job.UpdatedAt = t.now().UTC()
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("heartbeat %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// FailStale marks failed every processing job whose lease expired, that is
// one not updated within lease. Staleness is checked again inside each
// update so a job renewed meanwhile is kept. It returns the failed ids.
func (t *Tracker) FailStale(ctx context.Context, lease time.Duration, reason string) ([]string, error) {
	processing, err := t.repo.ListJobs(ctx, core.JobProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	var failed []string
	for _, candidate := range processing {
		cutoff := t.now().UTC().Add(-lease)
		if !candidate.UpdatedAt.Before(cutoff) {
			continue
		}
		reaped := false
		_, err := t.repo.UpdateJob(ctx, candidate.ID, func(job *core.SearchJob) error {
			reaped = false
			if job.Status != core.JobProcessing || !job.UpdatedAt.Before(cutoff) {
				return storage.ErrSkipUpdate
			}
			if _, err := core.ApplyJobUpdate(job, core.JobUpdate{Status: core.JobFailed, ErrorMessage: reason}, t.now().UTC()); err != nil {
				return err
			}
			reaped = true
			return nil
		})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return failed, err
		}
		if reaped {
			t.logger.Warn("job lease expired", "job_id", candidate.ID, "last_update", candidate.UpdatedAt)
			failed = append(failed, candidate.ID)
		}
	}
	return failed, nil
}

// Get returns the job with the given id.
func (t *Tracker) Get(ctx context.Context, id string) (*core.SearchJob, error) {
	job, err := t.repo.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return job, nil
}

// Cancel moves a pending or processing job to cancelled. Cancelling a job
// that already reached a terminal state changes nothing and is not an
// error; changed reports whether this call cancelled the job.
func (t *Tracker) Cancel(ctx context.Context, id string) (job *core.SearchJob, changed bool, err error) {
	job, changed, err = t.update(ctx, id, core.JobUpdate{Status: core.JobCancelled, CurrentStep: "Cancelled"})
	if err != nil {
		return nil, false, err
	}
	return job, changed, nil
}

// IsCancelled reports whether the job has been cancelled.
func (t *Tracker) IsCancelled(ctx context.Context, id string) (bool, error) {
	job, err := t.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return job.Status == core.JobCancelled, nil
}

// List returns jobs in any of the given statuses, oldest first.
func (t *Tracker) List(ctx context.Context, statuses ...core.JobStatus) ([]*core.SearchJob, error) {
	return t.repo.ListJobs(ctx, statuses...)
}

// Cleanup deletes terminal jobs not updated within retention.
func (t *Tracker) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := t.now().UTC().Add(-retention)
	n, err := t.repo.DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	if n > 0 {
		t.logger.Info("expired jobs removed", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
