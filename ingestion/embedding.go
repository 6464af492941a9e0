package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/search"
	"github.com/poiesic/groundwork/storage"
)

// embeddingProcessor embeds stored chunks and hands them to the indexers.
type embeddingProcessor struct {
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	indexers []search.Indexer
	policy   ai.RetryPolicy
	logger   *slog.Logger
}

func newEmbeddingProcessor(chunks storage.ChunkRepository, embedder ai.Embedder, indexers []search.Indexer, policy ai.RetryPolicy, logger *slog.Logger) *embeddingProcessor {
	return &embeddingProcessor{
		chunks:   chunks,
		embedder: embedder,
		indexers: indexers,
		policy:   policy,
		logger:   logger.With("processor", "embeddings"),
	}
}

// process embeds one batch of chunks of the same file.
func (ep *embeddingProcessor) process(ctx context.Context, batch []*core.Chunk) error {
	ep.logger.Debug("embedding chunks", "chunks", len(batch), "file_id", batch[0].FileID)

	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}

	var vectors [][]float32
	err := ep.policy.Do(ctx, func() error {
		var err error
		vectors, err = ep.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to embed chunks of %s: %w", batch[0].FileID, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
	}
	for i := range vectors {
		batch[i].Vector = vectors[i]
	}

	updated, err := ep.chunks.UpdateChunks(ctx, batch...)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// File deleted while its chunks were being embedded.
			ep.logger.Debug("skipping chunks of deleted file", "file_id", batch[0].FileID)
			return nil
		}
		return err
	}

	for _, idx := range ep.indexers {
		if err := idx.Add(ctx, updated...); err != nil {
			return fmt.Errorf("failed to index chunks of %s: %w", batch[0].FileID, err)
		}
	}
	return nil
}
