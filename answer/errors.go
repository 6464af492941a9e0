package answer

import "errors"

var (
	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrCancelled is returned when a run stops because its job was cancelled.
	// It is not a failure.
	ErrCancelled = errors.New("run cancelled")

	// ErrGenerationFailed is returned when a model call fails after retries.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrStepFailed is returned when a sequential analysis step fails.
	// The result still carries the output of completed steps.
	ErrStepFailed = errors.New("analysis step failed")
)
