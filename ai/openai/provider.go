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

package openai

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Provider implements ai.AIProvider using OpenAI-compatible services.
// It manages the embedder and one language model per reasoning tier.
type Provider struct {
	config   *ai.Config
	embedder *Embedder
	models   map[core.ReasoningMode]*Model
	logger   *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	// All tiers share one limiter so the configured rate is a global cap.
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	models := make(map[core.ReasoningMode]*Model, len(config.Tiers))
	for mode, tier := range config.Tiers {
		model, err := newModel(mode, tier, config.KeyFor(mode), limiter)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", mode, err)
		}
		models[mode] = model
	}

	return &Provider{
		config:   config,
		embedder: embedder,
		models:   models,
		logger:   slog.Default().With("component", "openai-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// LanguageModel returns the generation service of a reasoning tier.
func (p *Provider) LanguageModel(mode core.ReasoningMode) (ai.LanguageModel, error) {
	model, ok := p.models[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ai.ErrUnknownReasoningMode, mode)
	}
	return model, nil
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}

// newClient builds a langchaingo chat client for one model.
func newClient(host, token, model string) (*openai.LLM, error) {
	return openai.New(
		openai.WithBaseURL(host),
		openai.WithToken(token),
		openai.WithModel(model),
	)
}
