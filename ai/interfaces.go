package ai

import (
	"context"

	"github.com/poiesic/groundwork/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Prompt is a single generation request.
type Prompt struct {
	// System carries instructions; may be empty.
	System string
	// User carries the query and any context blocks.
	User string
	// JSON asks the model to answer with a single JSON object.
	JSON bool
	// WebSearch routes the prompt to the tier's web-search capable model.
	WebSearch bool
}

// LanguageModel generates text for one reasoning tier.
// Implementations must be thread-safe for concurrent use.
type LanguageModel interface {
	// Generate returns the model's answer to the prompt.
	// Returns ErrEmptyResponse if the model produced no content.
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// LanguageModel returns the generation service for a reasoning tier.
	// Returns ErrUnknownReasoningMode for tiers that are not configured.
	LanguageModel(mode core.ReasoningMode) (LanguageModel, error)

	// Close releases resources held by the provider and its services.
	Close() error
}
