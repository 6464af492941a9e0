package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *JobRepository {
	t.Helper()
	dsn := os.Getenv("GROUNDWORK_TEST_DSN")
	if dsn == "" {
		t.Skip("GROUNDWORK_TEST_DSN not set")
	}
	repo, err := Open(context.Background(), dsn, false)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRecordConversion(t *testing.T) {
	now := time.Now().UTC()
	job := &core.SearchJob{
		ID: "abc",
		Request: core.SearchRequest{
			Query:          "q",
			TopK:           3,
			SearchMode:     core.SearchModeBoth,
			ReasoningMode:  core.ReasoningGPT5,
			ConversationID: "c",
		},
		Status:    core.JobProcessing,
		Progress:  40,
		Result:    &core.AnswerResult{Answer: "partial"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	rec := toRecord(job)
	assert.Equal(t, "both", rec.SearchMode)
	assert.Equal(t, "reasoning_gpt5", rec.ReasoningMode)
	assert.Equal(t, "c", rec.ConversationID)
	assert.Equal(t, job, rec.toJob())
}

func TestJobRepository_Postgres(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	id := uuid.NewString()
	old := time.Now().Add(-72 * time.Hour).UTC()
	job := &core.SearchJob{
		ID:        id,
		Request:   core.SearchRequest{Query: "q", TopK: 5, SearchMode: core.SearchModeDocumentsOnly, ReasoningMode: core.DeepResearch},
		Status:    core.JobPending,
		CreatedAt: old,
		UpdatedAt: old,
	}
	require.NoError(t, repo.CreateJob(ctx, job))
	assert.ErrorIs(t, repo.CreateJob(ctx, job), storage.ErrDuplicateKey)

	updated, err := repo.UpdateJob(ctx, id, func(j *core.SearchJob) error {
		_, err := core.ApplyJobUpdate(j, core.JobUpdate{Status: core.JobCancelled}, old)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, updated.Status)

	got, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, got.Status)
	assert.Equal(t, core.DeepResearch, got.Request.ReasoningMode)

	deleted, err := repo.DeleteJobsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, 1)

	_, err = repo.GetJob(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
