package storage

import (
	"context"
	"time"

	"github.com/poiesic/groundwork/core"
)

// ChunkRepository stores document chunks and answers nearest-neighbour queries.
// Implementations must be thread-safe and support concurrent access.
type ChunkRepository interface {
	// AddChunks stores chunks, replacing any chunk with the same ID.
	// Sets InsertedAt if not already set.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// UpdateChunks rewrites existing chunks (e.g. after re-embedding).
	// Returns ErrNotFound if any chunk doesn't exist.
	UpdateChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// GetChunks retrieves multiple chunks by their IDs.
	// Returns only the chunks that exist (no error for missing chunks).
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// GetFileChunks returns every chunk of a file ordered by ordinal.
	GetFileChunks(ctx context.Context, fileID string) ([]*core.Chunk, error)

	// FileExists reports whether any chunk of the file is stored.
	FileExists(ctx context.Context, fileID string) (bool, error)

	// DeleteFile removes all chunks of a file in one transaction and
	// returns how many were removed. Deleting an unknown file removes nothing.
	DeleteFile(ctx context.Context, fileID string) (int, error)

	// FindSimilar returns chunks visible in scope whose cosine similarity to
	// vector is >= minSimilarity, best first, at most limit results.
	FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*core.ScoredChunk, error)

	// ForEachChunk calls fn for every stored chunk. Iteration stops at the
	// first error, which is returned.
	ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error

	// Close releases resources held by the repository.
	Close() error
}

// JobRepository persists SearchJob records keyed by job ID.
// Implementations must be thread-safe and support concurrent access.
type JobRepository interface {
	// CreateJob stores a new job. Returns ErrDuplicateKey if the ID exists.
	CreateJob(ctx context.Context, job *core.SearchJob) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.SearchJob, error)

	// UpdateJob loads a job, passes it to fn and stores the result atomically.
	// If fn returns ErrSkipUpdate nothing is written and the loaded job is returned.
	// Returns ErrNotFound if the job doesn't exist.
	UpdateJob(ctx context.Context, id string, fn func(job *core.SearchJob) error) (*core.SearchJob, error)

	// ListJobs returns jobs in any of the given statuses (all jobs if none
	// are given), oldest first.
	ListJobs(ctx context.Context, statuses ...core.JobStatus) ([]*core.SearchJob, error)

	// DeleteJobsBefore removes terminal jobs last updated before cutoff and
	// returns how many were removed.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases resources held by the repository.
	Close() error
}
