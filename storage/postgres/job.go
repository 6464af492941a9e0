// Package postgres implements storage.JobRepository on PostgreSQL using bun.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// jobRecord is the row layout of a SearchJob.
type jobRecord struct {
	bun.BaseModel `bun:"table:search_jobs,alias:j"`

	ID             string             `bun:"id,pk"`
	Query          string             `bun:"query,notnull"`
	SearchMode     string             `bun:"search_mode,notnull"`
	ReasoningMode  string             `bun:"reasoning_mode,notnull"`
	ConversationID string             `bun:"conversation_id,notnull"`
	Request        core.SearchRequest `bun:"request,type:jsonb,notnull"`
	Status         string             `bun:"status,notnull"`
	Progress       int                `bun:"progress,notnull"`
	CurrentStep    string             `bun:"current_step,notnull"`
	ErrorMessage   string             `bun:"error_message,notnull"`
	Result         *core.AnswerResult `bun:"result,type:jsonb"`
	CreatedAt      time.Time          `bun:"created_at,notnull"`
	UpdatedAt      time.Time          `bun:"updated_at,notnull"`
}

func toRecord(job *core.SearchJob) *jobRecord {
	return &jobRecord{
		ID:             job.ID,
		Query:          job.Request.Query,
		SearchMode:     string(job.Request.SearchMode),
		ReasoningMode:  string(job.Request.ReasoningMode),
		ConversationID: job.Request.ConversationID,
		Request:        job.Request,
		Status:         string(job.Status),
		Progress:       job.Progress,
		CurrentStep:    job.CurrentStep,
		ErrorMessage:   job.ErrorMessage,
		Result:         job.Result,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func (r *jobRecord) toJob() *core.SearchJob {
	return &core.SearchJob{
		ID:           r.ID,
		Request:      r.Request,
		Status:       core.JobStatus(r.Status),
		Progress:     r.Progress,
		CurrentStep:  r.CurrentStep,
		ErrorMessage: r.ErrorMessage,
		Result:       r.Result,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

// JobRepository implements storage.JobRepository for PostgreSQL.
type JobRepository struct {
	db *bun.DB
}

var _ storage.JobRepository = (*JobRepository)(nil)

// Open connects to PostgreSQL and creates the jobs table if needed.
// With debug set every query is logged by bundebug.
func Open(ctx context.Context, dsn string, debug bool) (*JobRepository, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &JobRepository{db: db}
	if err := repo.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *JobRepository) initSchema(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*jobRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	_, err := r.db.NewCreateIndex().
		Model((*jobRecord)(nil)).
		Index("search_jobs_status_idx").
		Column("status", "updated_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create jobs index: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (r *JobRepository) Close() error {
	return r.db.Close()
}

// CreateJob inserts a new job row.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.SearchJob) error {
	_, err := r.db.NewInsert().Model(toRecord(job)).Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.SearchJob, error) {
	rec := new(jobRecord)
	err := r.db.NewSelect().Model(rec).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec.toJob(), nil
}

// UpdateJob locks the row with SELECT ... FOR UPDATE, applies fn and writes it back.
func (r *JobRepository) UpdateJob(ctx context.Context, id string, fn func(job *core.SearchJob) error) (*core.SearchJob, error) {
	var result *core.SearchJob
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rec := new(jobRecord)
		err := tx.NewSelect().Model(rec).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}

		job := rec.toJob()
		result = job
		if err := fn(job); err != nil {
			if errors.Is(err, storage.ErrSkipUpdate) {
				return nil
			}
			return err
		}
		_, err = tx.NewUpdate().Model(toRecord(job)).WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListJobs returns jobs in any of the given statuses, oldest first.
func (r *JobRepository) ListJobs(ctx context.Context, statuses ...core.JobStatus) ([]*core.SearchJob, error) {
	var recs []jobRecord
	q := r.db.NewSelect().Model(&recs).Order("created_at ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*core.SearchJob, len(recs))
	for i := range recs {
		jobs[i] = recs[i].toJob()
	}
	return jobs, nil
}

// DeleteJobsBefore removes terminal jobs last updated before cutoff.
func (r *JobRepository) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	terminal := []core.JobStatus{core.JobCompleted, core.JobFailed, core.JobCancelled}
	res, err := r.db.NewDelete().
		Model((*jobRecord)(nil)).
		Where("status IN (?)", bun.In(terminal)).
		Where("updated_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
