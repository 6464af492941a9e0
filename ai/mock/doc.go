// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.LanguageModel,
// and ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Scripted answers, consumed in order
//	model := mock.NewMockLanguageModel().WithResponses("first", "second")
//
//	// Custom behavior injection
//	model.GenerateFunc = func(ctx context.Context, p ai.Prompt) (string, error) {
//	    return "", errors.New("upstream down")
//	}
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic vectors based on text hash
//   - MockLanguageModel: Echoes the user prompt
//   - MockProvider: Serves one mock model for every reasoning tier
package mock
