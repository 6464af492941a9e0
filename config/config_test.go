package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/groundwork/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, ChunkBackendBadger, cfg.Storage.ChunkBackend)
	assert.Equal(t, DenseIndexRepository, cfg.Storage.DenseIndex)
	assert.Equal(t, "groundwork-data", cfg.Storage.Path)
	assert.Equal(t, "OPENAI_API_KEY", cfg.AI.APIKeyEnv)
	assert.Equal(t, core.ReasoningNone, cfg.PlannerTier())
	assert.Equal(t, 64, cfg.Jobs.QueueSize)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.Lease)
	assert.Equal(t, 200, cfg.Ingestion.WindowWords)
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default().Server, cfg.Server)
	})

	t.Run("file values win over defaults", func(t *testing.T) {
		path := writeFile(t, "config.yaml", `
server:
  addr: ":9090"
  write_timeout: 10m
storage:
  driver: postgres
  dsn: postgres://localhost/groundwork
  dense_index: chromem
ai:
  planner_tier: reasoning
  tiers:
    deep_research:
      model: o4-mini-deep-research
retrieval:
  min_similarity: 0.25
jobs:
  workers: 4
  retention: 2h
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
		assert.Equal(t, ChunkBackendPGVector, cfg.Storage.ChunkBackend)
		assert.Equal(t, DenseIndexChromem, cfg.Storage.DenseIndex)
		assert.Empty(t, cfg.Storage.Path)
		assert.Equal(t, core.ReasoningStd, cfg.PlannerTier())
		assert.Equal(t, float32(0.25), cfg.Retrieval.MinSimilarity)
		assert.Equal(t, 4, cfg.Jobs.Workers)
		assert.Equal(t, 2*time.Hour, cfg.Jobs.Retention)
		assert.Contains(t, cfg.AI.Tiers, "deep_research")
		assert.Contains(t, cfg.AI.Tiers, "reasoning_gemini")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "server: [unclosed")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "storage:\n  dense_index: faiss\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "dense_index")
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"GROUNDWORK_SERVER_ADDR":    ":7000",
		"GROUNDWORK_STORAGE_DSN":    "postgres://db/gw",
		"GROUNDWORK_STORAGE_DRIVER": "postgres",
		"GROUNDWORK_JOBS_WORKERS":   "6",
		"GROUNDWORK_AI_HOST":        "",
	}
	applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://db/gw", cfg.Storage.DSN)
	assert.Equal(t, 6, cfg.Jobs.Workers)
	assert.Empty(t, cfg.AI.Host)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres; c.Storage.ChunkBackend = ChunkBackendPGVector }, "storage.dsn"},
		{"badger without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"badger chunks on postgres", func(c *Config) { c.Storage.Driver = DriverPostgres; c.Storage.DSN = "x" }, "chunk_backend badger"},
		{"unknown chunk backend", func(c *Config) { c.Storage.ChunkBackend = "qdrant" }, "chunk_backend"},
		{"bad planner tier", func(c *Config) { c.AI.PlannerTier = "turbo" }, "planner_tier"},
		{"bad tier name", func(c *Config) { c.AI.Tiers["turbo"] = TierConfig{} }, "ai.tiers"},
		{"similarity out of range", func(c *Config) { c.Retrieval.MinSimilarity = 1.5 }, "min_similarity"},
		{"overlap too large", func(c *Config) { c.Ingestion.OverlapWords = 200 }, "overlap_words"},
		{"zero queue", func(c *Config) { c.Jobs.QueueSize = 0 }, "queue_size"},
		{"negative lease", func(c *Config) { c.Jobs.Lease = -time.Second }, "jobs.lease"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	t.Run("in-memory badger needs no path", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Path = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestAIConfig(t *testing.T) {
	temp := 0.7
	cfg := Default()
	cfg.AI.Host = "http://localhost:11434"
	cfg.AI.EmbeddingModel = "embeddinggemma"
	cfg.AI.Tiers[string(core.ReasoningStd)] = TierConfig{Model: "qwen3", Temperature: &temp}

	env := map[string]string{"OPENAI_API_KEY": "sk-main", "GEMINI_API_KEY": "g-key"}
	aiCfg, err := cfg.AIConfig(func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/v1", aiCfg.EmbeddingHost)
	assert.Equal(t, "embeddinggemma", aiCfg.EmbeddingModel)
	assert.Equal(t, "sk-main", aiCfg.APIKey)
	assert.Equal(t, 3, aiCfg.MaxAttempts)

	std := aiCfg.Tiers[core.ReasoningStd]
	assert.Equal(t, "http://localhost:11434/v1", std.Host)
	assert.Equal(t, "qwen3", std.Model)
	assert.Equal(t, "qwen3", std.SearchModel, "search model follows an overridden model")
	assert.Equal(t, 0.7, std.Temperature)

	assert.Equal(t, "g-key", aiCfg.KeyFor(core.ReasoningGemini))
	assert.Equal(t, "sk-main", aiCfg.KeyFor(core.DeepResearch))

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Jobs.Workers = 3
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Jobs, loaded.Jobs)
	assert.Equal(t, cfg.Server, loaded.Server)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "GROUNDWORK_TEST_DOTENV=loaded\n")
	t.Setenv("GROUNDWORK_TEST_DOTENV", "")
	os.Unsetenv("GROUNDWORK_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("GROUNDWORK_TEST_DOTENV"))
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Default()))
	assert.Contains(t, buf.String(), "driver: badger")
	assert.Contains(t, buf.String(), "window_words: 200")
}
