// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai provides abstractions for the model services used by groundwork.
//
// This package defines interfaces for embeddings and text generation so that
// retrieval and answer orchestration depend on abstractions rather than on a
// particular model vendor.
//
// # Design Principles
//
// The package is designed around three key interfaces:
//
//   - Embedder: Generates vector embeddings from text
//   - LanguageModel: Generates text for one reasoning tier, optionally with web search
//   - AIProvider: Aggregates AI services and selects a LanguageModel per tier
//
// Generation calls are wrapped in RetryWithBackoff at the call site, and
// structured (JSON) answers are decoded with DecodeJSON which tolerates the
// formatting mistakes models commonly make.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder) return
// INTERFACE types. Test utility constructors (mock.NewMockEmbedder,
// mock.NewMockLanguageModel) return CONCRETE types so tests can inject
// behavior and assert on recorded calls.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	model, err := provider.LanguageModel(core.ReasoningNone)
//	answer, err := model.Generate(ctx, ai.Prompt{System: "...", User: "..."})
package ai
