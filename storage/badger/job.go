package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (r *JobRepository) Close() error {
	return nil
}

// CreateJob stores a new job.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.SearchJob) error {
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		key := makeJobKey(job.ID)
		_, err := tx.Get(key)
		if err == nil {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := tx.Set(key, storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.SearchJob, error) {
	var job *core.SearchJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return job, err
}

// UpdateJob applies fn to the stored job inside a conflict-retried transaction.
func (r *JobRepository) UpdateJob(ctx context.Context, id string, fn func(job *core.SearchJob) error) (*core.SearchJob, error) {
	var result *core.SearchJob
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		key := makeJobKey(id)
		job, err := readJob(tx, key)
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		result = job
		if err := fn(job); err != nil {
			if errors.Is(err, storage.ErrSkipUpdate) {
				return nil
			}
			return err
		}
		if err := tx.Set(key, storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListJobs returns jobs in any of the given statuses, oldest first.
func (r *JobRepository) ListJobs(ctx context.Context, statuses ...core.JobStatus) ([]*core.SearchJob, error) {
	var jobs []*core.SearchJob
	err := r.forEachJob(ctx, func(job *core.SearchJob) error {
		if len(statuses) == 0 || slices.Contains(statuses, job.Status) {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(jobs, func(a, b *core.SearchJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

// DeleteJobsBefore removes terminal jobs last updated before cutoff.
func (r *JobRepository) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []string
	err := r.forEachJob(ctx, func(job *core.SearchJob) error {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			expired = append(expired, job.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = r.backend.WithRetryTx(func(tx *badger.Txn) error {
		for _, id := range expired {
			if err := tx.Delete(makeJobKey(id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (r *JobRepository) forEachJob(ctx context.Context, fn func(*core.SearchJob) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var job *core.SearchJob
			err := iter.Item().Value(func(val []byte) error {
				var err error
				job, err = storage.UnmarshalJob(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(job); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// readJob reads a job by key. Returns nil, nil if the key is absent.
func readJob(tx *badger.Txn, key []byte) (*core.SearchJob, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var job *core.SearchJob
	err = item.Value(func(val []byte) error {
		var err error
		job, err = storage.UnmarshalJob(val)
		return err
	})
	return job, err
}
