package reembed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/groundwork/ai/mock"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
	"github.com/poiesic/groundwork/storage/badger"
	"github.com/poiesic/groundwork/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (storage.ChunkRepository, func()) {
	t.Helper()
	chunks, _, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	return chunks, func() { backend.Close() }
}

func seedChunks(t *testing.T, repo storage.ChunkRepository, fileID string, n int) []*core.Chunk {
	t.Helper()
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			Id:      core.ChunkID(fileID, i),
			FileID:  fileID,
			Ordinal: i,
			Content: fmt.Sprintf("%s passage %d", fileID, i),
		}
	}
	added, err := repo.AddChunks(context.Background(), chunks...)
	require.NoError(t, err)
	return added
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// scaledEmbedder returns vectors that are not unit length.
func scaledEmbedder() *mock.MockEmbedder {
	e := mock.NewMockEmbedder()
	e.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			v := mock.Vector(text)
			for j := range v {
				v[j] *= 3
			}
			out[i] = v
		}
		return out, nil
	}
	return e
}

func TestReembedder_Run(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedChunks(t, repo, "a", 7)
	seedChunks(t, repo, "b", 3)

	index, err := vectorindex.New()
	require.NoError(t, err)

	var buf bytes.Buffer
	config := &Config{BatchSize: 3, ReportInterval: 3, MaxRetries: 3, RetryDelay: time.Millisecond}
	n, err := NewReembedder(repo, scaledEmbedder(), config, &buf, index).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	err = repo.ForEachChunk(ctx, func(c *core.Chunk) error {
		require.NotEmpty(t, c.Vector, "chunk %s should have embedding", c.Id)
		assert.InDelta(t, 1.0, magnitude(c.Vector), 1e-4, "vector should be normalized")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, index.Len())

	target, err := repo.GetChunk(ctx, core.ChunkID("b", 1))
	require.NoError(t, err)
	similar, err := index.FindSimilar(ctx, target.Vector, core.Scope{}, 0.99, 1)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, target.Id, similar[0].Chunk.Id)

	output := buf.String()
	assert.Contains(t, output, "Starting reembedding of 10 chunks")
	assert.Contains(t, output, "10/10")
	assert.Contains(t, output, "Reembedding complete")
}

func TestReembedder_EmptyDatabase(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	var buf bytes.Buffer
	n, err := NewReembedder(repo, mock.NewMockEmbedder(), nil, &buf).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), "No chunks found")
}

func TestReembedder_Retry(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	seedChunks(t, repo, "a", 4)

	var calls atomic.Int32
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1)%2 == 1 {
			return nil, errors.New("temporary failure")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text)
		}
		return out, nil
	}

	config := &Config{BatchSize: 2, ReportInterval: 10, MaxRetries: 2, RetryDelay: time.Millisecond}
	n, err := NewReembedder(repo, embedder, config, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(4), calls.Load())
}

func TestReembedder_PersistentFailure(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	seedChunks(t, repo, "a", 5)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("service unavailable")
	}

	config := &Config{BatchSize: 2, ReportInterval: 10, MaxRetries: 2, RetryDelay: time.Millisecond}
	n, err := NewReembedder(repo, embedder, config, &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
	assert.Zero(t, n)
}

func TestReembedder_CountMismatch(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	seedChunks(t, repo, "a", 3)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}
	_, err := NewReembedder(repo, embedder, nil, &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
}

func TestChunkIterator_ForEach(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	seedChunks(t, repo, "a", 7)

	var sizes []int
	seen := map[core.ID]bool{}
	err := NewChunkIterator(repo, 3).ForEach(ctx, func(batch []*core.Chunk) error {
		sizes = append(sizes, len(batch))
		for _, c := range batch {
			seen[c.Id] = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Len(t, seen, 7)

	t.Run("error stops iteration", func(t *testing.T) {
		calls := 0
		err := NewChunkIterator(repo, 2).ForEach(ctx, func([]*core.Chunk) error {
			calls++
			return errors.New("stop")
		})
		assert.EqualError(t, err, "stop")
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := NewChunkIterator(repo, 2).ForEach(cctx, func([]*core.Chunk) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("default batch size", func(t *testing.T) {
		assert.Equal(t, DefaultBatchSize, NewChunkIterator(repo, 0).batchSize)
	})
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected []float32
	}{
		{"unit vector unchanged", []float32{1, 0, 0}, []float32{1, 0, 0}},
		{"scaled", []float32{3, 4}, []float32{0.6, 0.8}},
		{"negative values", []float32{-1, 1}, []float32{-1 / float32(math.Sqrt2), 1 / float32(math.Sqrt2)}},
		{"zero vector", []float32{0, 0}, []float32{0, 0}},
		{"empty", []float32{}, []float32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]float32(nil), tt.input...)
			got := NormalizeVector(tt.input)
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.InDelta(t, tt.expected[i], got[i], 1e-6)
			}
			assert.Equal(t, in, tt.input, "input must not be modified")
		})
	}
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 25)

	tracker.Add(10)
	assert.Empty(t, buf.String(), "no output before Start")

	tracker.Start()
	tracker.Add(10)
	assert.Empty(t, buf.String())
	tracker.Add(20)
	assert.Contains(t, buf.String(), "30/100 (30.0%)")

	tracker.Add(500)
	assert.Contains(t, buf.String(), "100/100 (100.0%)")

	tracker.Finish(97)
	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, "97/100")
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
}
