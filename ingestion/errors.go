package ingestion

import "errors"

var (
	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrFileIDRequired is returned when a file is ingested without an id.
	ErrFileIDRequired = errors.New("file id required")

	// ErrNoContent is returned when a file has no text to index.
	ErrNoContent = errors.New("file has no text content")
)
