package search

import (
	"context"

	"github.com/poiesic/groundwork/core"
)

// DenseIndex answers nearest-neighbour queries over chunk vectors.
// Every storage.ChunkRepository is a DenseIndex, as is vectorindex.Chromem.
type DenseIndex interface {
	FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*core.ScoredChunk, error)
}

// KeywordIndex ranks chunks by term overlap with a query.
// Scores are normalized to [0, 1].
type KeywordIndex interface {
	Search(ctx context.Context, query string, scope core.Scope, k int) ([]*core.ScoredChunk, error)
}

// Indexer is an index kept current as files are ingested and deleted.
type Indexer interface {
	Add(ctx context.Context, chunks ...*core.Chunk) error
	RemoveFile(ctx context.Context, fileID string) error
}
