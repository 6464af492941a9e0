package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/groundwork/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(fileID string, ordinal int, conversationID string, vector []float32) *core.Chunk {
	return &core.Chunk{
		Id:             core.ChunkID(fileID, ordinal),
		FileID:         fileID,
		ConversationID: conversationID,
		Ordinal:        ordinal,
		Content:        fileID + " chunk",
		Vector:         vector,
		Metadata: core.ChunkMetadata{
			FileName:   fileID + ".pdf",
			FileType:   "pdf",
			Page:       ordinal + 1,
			UploadedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

type sliceSource []*core.Chunk

func (s sliceSource) ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error {
	for _, c := range s {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func fixture() []*core.Chunk {
	return []*core.Chunk{
		chunk("a", 0, "", []float32{1, 0, 0}),
		chunk("a", 1, "", []float32{0.8, 0.6, 0}),
		chunk("b", 0, "conv-1", []float32{0.9, 0.1, 0}),
		chunk("c", 0, "conv-2", []float32{1, 0, 0}),
		chunk("d", 0, "", []float32{0, 0, 1}),
	}
}

func newIndex(t *testing.T) *Chromem {
	t.Helper()
	ix, err := New()
	require.NoError(t, err)
	require.NoError(t, ix.Add(context.Background(), fixture()...))
	return ix
}

func TestChromemFindSimilar(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)
	assert.Equal(t, 5, ix.Len())
	query := []float32{1, 0, 0}

	t.Run("shared chunks only without conversation", func(t *testing.T) {
		hits, err := ix.FindSimilar(ctx, query, core.Scope{}, 0, 10)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, core.ChunkID("a", 0), hits[0].Chunk.Id)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		assert.Equal(t, core.ChunkID("a", 1), hits[1].Chunk.Id)
		for _, h := range hits {
			assert.Empty(t, h.Chunk.ConversationID)
		}
	})

	t.Run("conversation chunks join shared ones", func(t *testing.T) {
		hits, err := ix.FindSimilar(ctx, query, core.Scope{ConversationID: "conv-1"}, 0, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, core.ChunkID("a", 0), hits[0].Chunk.Id)
		assert.Equal(t, core.ChunkID("b", 0), hits[1].Chunk.Id)
	})

	t.Run("file filter", func(t *testing.T) {
		hits, err := ix.FindSimilar(ctx, query, core.Scope{FileIDs: []string{"a", "d"}}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
	})

	t.Run("min similarity", func(t *testing.T) {
		hits, err := ix.FindSimilar(ctx, query, core.Scope{}, 0.5, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("metadata round trip", func(t *testing.T) {
		hits, err := ix.FindSimilar(ctx, query, core.Scope{ConversationID: "conv-1", FileIDs: []string{"b"}}, 0, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		got := hits[0].Chunk
		assert.Equal(t, "b", got.FileID)
		assert.Equal(t, "conv-1", got.ConversationID)
		assert.Equal(t, "b.pdf", got.Metadata.FileName)
		assert.Equal(t, "pdf", got.Metadata.FileType)
		assert.Equal(t, 1, got.Metadata.Page)
		assert.True(t, got.Metadata.UploadedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
		assert.Equal(t, "b chunk", got.Content)
	})

	t.Run("zero limit", func(t *testing.T) {
		hits, err := ix.FindSimilar(ctx, query, core.Scope{}, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestChromemEmptyIndex(t *testing.T) {
	ix, err := New()
	require.NoError(t, err)
	hits, err := ix.FindSimilar(context.Background(), []float32{1, 0}, core.Scope{}, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, ix.RemoveFile(context.Background(), "missing"))
}

func TestChromemAddRejectsMissingVector(t *testing.T) {
	ix, err := New()
	require.NoError(t, err)
	err = ix.Add(context.Background(), chunk("x", 0, "", nil))
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestChromemRemoveFile(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)

	require.NoError(t, ix.RemoveFile(ctx, "a"))
	assert.Equal(t, 3, ix.Len())

	hits, err := ix.FindSimilar(ctx, []float32{1, 0, 0}, core.Scope{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d", hits[0].Chunk.FileID)
}

func TestChromemRebuild(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)

	src := sliceSource{
		chunk("z", 0, "", []float32{0, 1, 0}),
		chunk("z", 1, "", nil),
	}
	require.NoError(t, ix.Rebuild(ctx, src))
	assert.Equal(t, 1, ix.Len())

	hits, err := ix.FindSimilar(ctx, []float32{0, 1, 0}, core.Scope{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "z", hits[0].Chunk.FileID)
}
