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

package mock

import (
	"fmt"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
)

// MockProvider is a test double for ai.AIProvider.
// Every reasoning tier is served by the same mock model unless overridden.
type MockProvider struct {
	embedder *MockEmbedder
	model    *MockLanguageModel
	tiers    map[core.ReasoningMode]*MockLanguageModel
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns *MockProvider so tests can reach the concrete mocks.
func NewMockProvider() *MockProvider {
	return NewMockProviderWithServices(NewMockEmbedder(), NewMockLanguageModel())
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
func NewMockProviderWithServices(embedder *MockEmbedder, model *MockLanguageModel) *MockProvider {
	return &MockProvider{
		embedder: embedder,
		model:    model,
		tiers:    make(map[core.ReasoningMode]*MockLanguageModel),
	}
}

// WithTier serves one reasoning tier from a dedicated model.
func (p *MockProvider) WithTier(mode core.ReasoningMode, model *MockLanguageModel) *MockProvider {
	p.tiers[mode] = model
	return p
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// LanguageModel returns the mock model of a tier.
func (p *MockProvider) LanguageModel(mode core.ReasoningMode) (ai.LanguageModel, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %s", ai.ErrUnknownReasoningMode, mode)
	}
	if model, ok := p.tiers[mode]; ok {
		return model, nil
	}
	return p.model, nil
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockModel returns the shared mock model for test assertions.
func (p *MockProvider) GetMockModel() *MockLanguageModel {
	return p.model
}
