package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/search"
	"github.com/poiesic/groundwork/storage"
)

// BatchProcessor handles embedding generation for batches of chunks.
type BatchProcessor struct {
	repo     storage.ChunkRepository
	embedder ai.Embedder
	indexers []search.Indexer
	policy   ai.RetryPolicy
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(repo storage.ChunkRepository, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration, indexers ...search.Indexer) *BatchProcessor {
	return &BatchProcessor{
		repo:     repo,
		embedder: embedder,
		indexers: indexers,
		policy:   ai.RetryPolicy{MaxAttempts: maxRetries, BaseDelay: retryBaseDelay},
	}
}

// Process embeds a batch of chunks and writes the vectors back.
// Vectors are normalized so cosine similarity reduces to a dot product.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var embeddings [][]float32
	err := bp.policy.Do(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.policy.MaxAttempts, err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(embeddings))
	}

	for i := range chunks {
		chunks[i].Vector = NormalizeVector(embeddings[i])
	}

	updated, err := bp.repo.UpdateChunks(ctx, chunks...)
	if err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}
	for _, idx := range bp.indexers {
		if err := idx.Add(ctx, updated...); err != nil {
			return fmt.Errorf("failed to refresh index: %w", err)
		}
	}
	return nil
}
