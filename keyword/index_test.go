package keyword

import (
	"context"
	"testing"

	"github.com/poiesic/groundwork/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(fileID string, ordinal int, conversationID, content string) *core.Chunk {
	return &core.Chunk{
		Id:             core.ChunkID(fileID, ordinal),
		FileID:         fileID,
		ConversationID: conversationID,
		Ordinal:        ordinal,
		Content:        content,
		Vector:         []float32{1, 2, 3},
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

func corpus() []*core.Chunk {
	return []*core.Chunk{
		chunk("report", 0, "", "Quarterly revenue grew 12% driven by cloud services."),
		chunk("report", 1, "", "Operating margin declined because of hiring."),
		chunk("notes", 0, "conv-1", "Competitor Acme cut prices on cloud storage."),
		chunk("notes", 1, "conv-2", "Revenue guidance for next year is unchanged."),
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"revenue", "grew", "12", "q3"}, Tokenize("The revenue grew 12% in Q3!"))
	assert.Equal(t, []string{"acme's", "v2.1", "release"}, Tokenize("Acme's v2.1 release"))
	assert.Empty(t, Tokenize("the of and"))
}

func TestIndexSearch(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()
	require.NoError(t, ix.Add(ctx, corpus()...))
	assert.Equal(t, 4, ix.Len())

	t.Run("ranks matching chunks and normalizes scores", func(t *testing.T) {
		hits, err := ix.Search(ctx, "cloud revenue", core.Scope{ConversationID: "conv-1"}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, core.ChunkID("report", 0), hits[0].Chunk.Id)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Less(t, hits[1].Score, hits[0].Score)
		assert.Greater(t, hits[1].Score, float32(0))
	})

	t.Run("stored chunks drop vectors", func(t *testing.T) {
		hits, err := ix.Search(ctx, "margin", core.Scope{}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Nil(t, hits[0].Chunk.Vector)
	})

	t.Run("scope hides other conversations", func(t *testing.T) {
		hits, err := ix.Search(ctx, "revenue", core.Scope{ConversationID: "conv-1"}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "report", hits[0].Chunk.FileID)

		hits, err = ix.Search(ctx, "revenue", core.Scope{ConversationID: "conv-2"}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("file filter", func(t *testing.T) {
		hits, err := ix.Search(ctx, "cloud", core.Scope{ConversationID: "conv-1", FileIDs: []string{"notes"}}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "notes", hits[0].Chunk.FileID)
	})

	t.Run("k bounds results", func(t *testing.T) {
		hits, err := ix.Search(ctx, "cloud revenue", core.Scope{ConversationID: "conv-1"}, 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("no match is empty not nil", func(t *testing.T) {
		hits, err := ix.Search(ctx, "zebra", core.Scope{}, 10)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)

		hits, err = ix.Search(ctx, "cloud", core.Scope{}, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestIndexRarerTermsWeighMore(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()
	require.NoError(t, ix.Add(ctx,
		chunk("f", 0, "", "market market share"),
		chunk("f", 1, "", "market overview"),
		chunk("f", 2, "", "market pricing"),
		chunk("f", 3, "", "pricing"),
	))

	hits, err := ix.Search(ctx, "market pricing", core.Scope{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, core.ChunkID("f", 2), hits[0].Chunk.Id)
}

func TestIndexAddReplaces(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()
	require.NoError(t, ix.Add(ctx, chunk("f", 0, "", "alpha")))
	require.NoError(t, ix.Add(ctx, chunk("f", 0, "", "beta")))

	assert.Equal(t, 1, ix.Len())
	hits, err := ix.Search(ctx, "alpha", core.Scope{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = ix.Search(ctx, "beta", core.Scope{}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexRemoveFile(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()
	require.NoError(t, ix.Add(ctx, corpus()...))

	require.NoError(t, ix.RemoveFile(ctx, "report"))
	assert.Equal(t, 2, ix.Len())

	hits, err := ix.Search(ctx, "margin", core.Scope{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, ix.RemoveFile(ctx, "missing"))
	assert.Equal(t, 2, ix.Len())
}

func TestIndexRebuild(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()
	require.NoError(t, ix.Add(ctx, chunk("old", 0, "", "obsolete content")))

	require.NoError(t, ix.Rebuild(ctx, sliceSource(corpus())))
	assert.Equal(t, 4, ix.Len())

	hits, err := ix.Search(ctx, "obsolete", core.Scope{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexNilLogger(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(WithLogger(nil))
	require.NoError(t, ix.Rebuild(ctx, sliceSource(corpus())))
	require.NoError(t, ix.RemoveFile(ctx, "notes"))
	assert.Equal(t, 2, ix.Len())
}

func TestIndexCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := NewIndex()
	assert.ErrorIs(t, ix.Add(ctx, corpus()...), context.Canceled)
	_, err := ix.Search(ctx, "revenue", core.Scope{}, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
