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

package ai

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/groundwork/core"
)

// ModelConfig describes the models serving one reasoning tier.
type ModelConfig struct {
	// Host is the base URL of an OpenAI-compatible API.
	// Example: "https://api.openai.com/v1"
	Host string

	// Model answers ordinary prompts.
	Model string

	// SearchModel answers prompts that need live web results.
	// Defaults to Model when empty.
	SearchModel string

	// APIKey overrides Config.APIKey for this tier.
	APIKey string

	// Temperature is sent with every request when >= 0.
	// Reasoning and search models reject the parameter, so they use -1.
	Temperature float64
}

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "text-embedding-3-small", "embeddinggemma"
	EmbeddingModel string

	// APIKey authenticates every request unless a tier sets its own.
	// Use "none" for local servers that don't check tokens.
	APIKey string

	// Tiers maps each reasoning mode to its models.
	Tiers map[core.ReasoningMode]ModelConfig

	// RequestsPerMinute caps generation requests across all tiers.
	// Zero means unlimited.
	RequestsPerMinute int

	// MaxAttempts bounds how often a failed generation call is tried.
	MaxAttempts int

	// RetryBaseDelay is the first backoff delay; it doubles on each retry.
	RetryBaseDelay time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithHost points the embedding service and every tier at the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		for mode, tier := range c.Tiers {
			tier.Host = host
			c.Tiers[mode] = tier
		}
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithAPIKey sets the default API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithTier replaces the models of one reasoning tier.
func WithTier(mode core.ReasoningMode, tier ModelConfig) ConfigOption {
	return func(c *Config) {
		if c.Tiers == nil {
			c.Tiers = make(map[core.ReasoningMode]ModelConfig)
		}
		c.Tiers[mode] = tier
	}
}

// WithRequestsPerMinute caps the generation request rate.
func WithRequestsPerMinute(rpm int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerMinute = rpm
	}
}

// WithRetry sets the retry policy of generation calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryBaseDelay = baseDelay
	}
}

// DefaultConfig returns a Config targeting the OpenAI API, with the
// Gemini tier served through Google's OpenAI-compatible endpoint.
func DefaultConfig() *Config {
	openaiHost := "https://api.openai.com/v1"
	return &Config{
		EmbeddingHost:  openaiHost,
		EmbeddingModel: "text-embedding-3-small",
		Tiers: map[core.ReasoningMode]ModelConfig{
			core.ReasoningNone: {
				Host:        openaiHost,
				Model:       "gpt-4.1-mini",
				SearchModel: "gpt-4o-mini-search-preview",
				Temperature: 0.2,
			},
			core.ReasoningStd: {
				Host:        openaiHost,
				Model:       "o4-mini",
				SearchModel: "gpt-4o-search-preview",
				Temperature: -1,
			},
			core.ReasoningGPT5: {
				Host:        openaiHost,
				Model:       "gpt-5-pro",
				SearchModel: "gpt-4o-search-preview",
				Temperature: -1,
			},
			core.ReasoningGemini: {
				Host:        "https://generativelanguage.googleapis.com/v1beta/openai",
				Model:       "gemini-2.5-pro",
				Temperature: -1,
			},
			core.DeepResearch: {
				Host:        openaiHost,
				Model:       "o3-deep-research",
				SearchModel: "o3-deep-research",
				Temperature: -1,
			},
		},
		MaxAttempts:    3,
		RetryBaseDelay: 2 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithEmbeddingModel("embeddinggemma"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// normalizeHost appends /v1 to a bare host (as most OpenAI-compatible servers
// expect) and strips trailing slashes from hosts that already carry a path.
func normalizeHost(host string) string {
	if host == "" {
		return host
	}
	u, err := url.Parse(host)
	if err != nil {
		return host
	}
	if u.Path == "" || u.Path == "/" {
		return strings.TrimSuffix(host, "/") + "/v1"
	}
	return strings.TrimSuffix(host, "/")
}

// Normalize ensures the configuration is in a canonical form.
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	for mode, tier := range c.Tiers {
		tier.Host = normalizeHost(tier.Host)
		if tier.SearchModel == "" {
			tier.SearchModel = tier.Model
		}
		c.Tiers[mode] = tier
	}
}

// KeyFor returns the API key used for a tier.
func (c *Config) KeyFor(mode core.ReasoningMode) string {
	if key := c.Tiers[mode].APIKey; key != "" {
		return key
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	return "none"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	for _, mode := range core.ReasoningModes {
		tier, ok := c.Tiers[mode]
		if !ok {
			return fmt.Errorf("ai config: tier %s is not configured", mode)
		}
		if tier.Host == "" {
			return fmt.Errorf("ai config: tier %s: Host is required", mode)
		}
		if tier.Model == "" {
			return fmt.Errorf("ai config: tier %s: Model is required", mode)
		}
	}
	if c.RequestsPerMinute < 0 {
		return errors.New("ai config: RequestsPerMinute cannot be negative")
	}
	if c.MaxAttempts < 1 {
		return errors.New("ai config: MaxAttempts must be at least 1")
	}
	if c.RetryBaseDelay < 0 {
		return errors.New("ai config: RetryBaseDelay cannot be negative")
	}
	return nil
}
