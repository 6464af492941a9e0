package ai

import (
	"testing"
	"time"

	"github.com/poiesic/groundwork/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "https://api.openai.com/v1", cfg.EmbeddingHost)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 3, cfg.MaxAttempts)
	for _, mode := range core.ReasoningModes {
		assert.Contains(t, cfg.Tiers, mode)
	}
	assert.NoError(t, cfg.Validate())
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, DefaultConfig().EmbeddingModel, cfg.EmbeddingModel)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://localhost:11434/v1"))

		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		for _, tier := range cfg.Tiers {
			assert.Equal(t, "http://localhost:11434/v1", tier.Host)
		}
	})

	t.Run("with custom tier", func(t *testing.T) {
		cfg := NewConfig(WithTier(core.ReasoningNone, ModelConfig{Host: "http://h/v1", Model: "qwen2.5:3b", Temperature: 0}))

		tier := cfg.Tiers[core.ReasoningNone]
		assert.Equal(t, "qwen2.5:3b", tier.Model)
		assert.Equal(t, "https://api.openai.com/v1", cfg.Tiers[core.ReasoningStd].Host)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithEmbeddingModel("custom-embed"),
			WithAPIKey("sk-test"),
			WithRequestsPerMinute(60),
			WithRetry(5, time.Second),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "custom-embed", cfg.EmbeddingModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
		assert.Equal(t, 60, cfg.RequestsPerMinute)
		assert.Equal(t, 5, cfg.MaxAttempts)
		assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{"bare host gets v1", "http://localhost:11434", "http://localhost:11434/v1"},
		{"bare host with slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"already v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"custom path kept", "https://generativelanguage.googleapis.com/v1beta/openai/", "https://generativelanguage.googleapis.com/v1beta/openai"},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(WithEmbeddingHost(tt.host))
			cfg.Normalize()
			assert.Equal(t, tt.want, cfg.EmbeddingHost)
		})
	}
}

func TestConfigNormalize_SearchModelDefault(t *testing.T) {
	cfg := NewConfig(WithTier(core.ReasoningGemini, ModelConfig{Host: "http://g/v1", Model: "gemini"}))
	cfg.Normalize()
	assert.Equal(t, "gemini", cfg.Tiers[core.ReasoningGemini].SearchModel)
}

func TestConfigKeyFor(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "none", cfg.KeyFor(core.ReasoningNone))

	cfg = NewConfig(WithAPIKey("sk-default"))
	assert.Equal(t, "sk-default", cfg.KeyFor(core.ReasoningNone))

	gemini := cfg.Tiers[core.ReasoningGemini]
	gemini.APIKey = "gm-key"
	cfg.Tiers[core.ReasoningGemini] = gemini
	assert.Equal(t, "gm-key", cfg.KeyFor(core.ReasoningGemini))
	assert.Equal(t, "sk-default", cfg.KeyFor(core.DeepResearch))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing embedding host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost is required"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel is required"},
		{"missing tier", func(c *Config) { delete(c.Tiers, core.DeepResearch) }, "tier deep_research is not configured"},
		{"tier without model", func(c *Config) {
			tier := c.Tiers[core.ReasoningStd]
			tier.Model = ""
			c.Tiers[core.ReasoningStd] = tier
		}, "tier reasoning: Model is required"},
		{"negative rate", func(c *Config) { c.RequestsPerMinute = -1 }, "RequestsPerMinute"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "MaxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
