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

// Package config loads groundwork's YAML configuration.
//
// Missing values are filled with defaults, a few deployment settings can be
// overridden from the environment, and secrets are referenced by the name of
// the environment variable holding them rather than stored in the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"gopkg.in/yaml.v3"
)

// Storage drivers and index choices.
const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"

	ChunkBackendBadger   = "badger"
	ChunkBackendPGVector = "pgvector"

	DenseIndexRepository = "repository"
	DenseIndexChromem    = "chromem"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// StorageConfig selects where chunks and jobs live.
type StorageConfig struct {
	// Driver stores jobs (and chunks, unless ChunkBackend says otherwise).
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	DSN      string `yaml:"dsn"`

	ChunkBackend string `yaml:"chunk_backend"`
	// VectorDimension sizes the pgvector column.
	VectorDimension int `yaml:"vector_dimension"`

	DenseIndex  string `yaml:"dense_index"`
	ChromemPath string `yaml:"chromem_path"`

	Debug bool `yaml:"debug"`
}

// TierConfig overrides the models of one reasoning tier. Empty fields keep
// the built-in defaults.
type TierConfig struct {
	Host        string   `yaml:"host"`
	Model       string   `yaml:"model"`
	SearchModel string   `yaml:"search_model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Temperature *float64 `yaml:"temperature"`
}

// AIConfig configures model access.
type AIConfig struct {
	// Host points every endpoint at one OpenAI-compatible server.
	Host              string                `yaml:"host"`
	EmbeddingHost     string                `yaml:"embedding_host"`
	EmbeddingModel    string                `yaml:"embedding_model"`
	APIKeyEnv         string                `yaml:"api_key_env"`
	RequestsPerMinute int                   `yaml:"requests_per_minute"`
	MaxAttempts       int                   `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration         `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration         `yaml:"retry_max_delay"`
	PlannerTier       string                `yaml:"planner_tier"`
	Tiers             map[string]TierConfig `yaml:"tiers"`
}

// RetrievalConfig tunes the retrieval ensemble.
type RetrievalConfig struct {
	MinSimilarity float32 `yaml:"min_similarity"`
}

// IngestionConfig tunes chunking and embedding of uploaded files.
type IngestionConfig struct {
	WindowWords  int `yaml:"window_words"`
	OverlapWords int `yaml:"overlap_words"`
	BatchSize    int `yaml:"batch_size"`
	Workers      int `yaml:"workers"`
}

// JobsConfig tunes background execution.
type JobsConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// Lease is how long a processing job survives without a heartbeat
	// from the server running it.
	Lease time.Duration `yaml:"lease"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyConfigDefaults(cfg)
	return cfg
}

// Load reads a config from path. An empty path or a missing file yields
// the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}
	applyConfigDefaults(cfg)
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Write encodes cfg as YAML to w.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// LoadDotEnv loads variables from .env files into the environment without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Synchronous runs wait for the model.
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverBadger
	}
	if cfg.Storage.Driver == DriverBadger && cfg.Storage.Path == "" && !cfg.Storage.InMemory {
		cfg.Storage.Path = "groundwork-data"
	}
	if cfg.Storage.ChunkBackend == "" {
		cfg.Storage.ChunkBackend = ChunkBackendBadger
		if cfg.Storage.Driver == DriverPostgres {
			cfg.Storage.ChunkBackend = ChunkBackendPGVector
		}
	}
	if cfg.Storage.VectorDimension == 0 {
		cfg.Storage.VectorDimension = 1536
	}
	if cfg.Storage.DenseIndex == "" {
		cfg.Storage.DenseIndex = DenseIndexRepository
	}

	if cfg.AI.APIKeyEnv == "" {
		cfg.AI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = 3
	}
	if cfg.AI.RetryBaseDelay == 0 {
		cfg.AI.RetryBaseDelay = 2 * time.Second
	}
	if cfg.AI.RetryMaxDelay == 0 {
		cfg.AI.RetryMaxDelay = 30 * time.Second
	}
	gemini := string(core.ReasoningGemini)
	if _, ok := cfg.AI.Tiers[gemini]; !ok {
		if cfg.AI.Tiers == nil {
			cfg.AI.Tiers = make(map[string]TierConfig)
		}
		cfg.AI.Tiers[gemini] = TierConfig{APIKeyEnv: "GEMINI_API_KEY"}
	}
	if cfg.AI.PlannerTier == "" {
		cfg.AI.PlannerTier = string(core.ReasoningNone)
	}

	if cfg.Ingestion.WindowWords == 0 {
		cfg.Ingestion.WindowWords = 200
	}
	if cfg.Ingestion.OverlapWords == 0 {
		cfg.Ingestion.OverlapWords = 40
	}
	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = 32
	}

	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = 64
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.CleanupInterval == 0 {
		cfg.Jobs.CleanupInterval = time.Hour
	}
	if cfg.Jobs.Lease == 0 {
		cfg.Jobs.Lease = 2 * time.Minute
	}
}

// applyEnv overrides deployment settings from GROUNDWORK_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("GROUNDWORK_SERVER_ADDR", &cfg.Server.Addr)
	str("GROUNDWORK_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("GROUNDWORK_STORAGE_PATH", &cfg.Storage.Path)
	str("GROUNDWORK_STORAGE_DSN", &cfg.Storage.DSN)
	str("GROUNDWORK_AI_HOST", &cfg.AI.Host)
	if v, ok := lookup("GROUNDWORK_JOBS_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.Workers = n
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return errors.New("config: storage.path is required for badger")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Storage.ChunkBackend {
	case ChunkBackendBadger:
		if c.Storage.Driver != DriverBadger {
			return errors.New("config: chunk_backend badger requires the badger driver")
		}
	case ChunkBackendPGVector:
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for pgvector")
		}
		if c.Storage.VectorDimension < 1 {
			return errors.New("config: storage.vector_dimension must be positive")
		}
	default:
		return fmt.Errorf("config: unknown storage.chunk_backend %q", c.Storage.ChunkBackend)
	}

	switch c.Storage.DenseIndex {
	case DenseIndexRepository, DenseIndexChromem:
	default:
		return fmt.Errorf("config: unknown storage.dense_index %q", c.Storage.DenseIndex)
	}

	if _, err := core.ParseReasoningMode(c.AI.PlannerTier); err != nil {
		return fmt.Errorf("config: ai.planner_tier: %w", err)
	}
	for name := range c.AI.Tiers {
		if _, err := core.ParseReasoningMode(name); err != nil {
			return fmt.Errorf("config: ai.tiers: %w", err)
		}
	}
	if c.AI.MaxAttempts < 1 {
		return errors.New("config: ai.max_attempts must be at least 1")
	}

	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("config: retrieval.min_similarity must be in [-1, 1], got %v", c.Retrieval.MinSimilarity)
	}
	if c.Ingestion.OverlapWords >= c.Ingestion.WindowWords {
		return errors.New("config: ingestion.overlap_words must be smaller than window_words")
	}
	if c.Jobs.Workers < 0 || c.Jobs.QueueSize < 1 {
		return errors.New("config: jobs.workers cannot be negative and jobs.queue_size must be positive")
	}
	if c.Jobs.Lease < 0 {
		return errors.New("config: jobs.lease cannot be negative")
	}
	return nil
}

// PlannerTier returns the tier used for planning and mode selection.
func (c *Config) PlannerTier() core.ReasoningMode {
	mode, err := core.ParseReasoningMode(c.AI.PlannerTier)
	if err != nil {
		return core.ReasoningNone
	}
	return mode
}

// RetryPolicy returns the retry policy for model calls.
func (c *Config) RetryPolicy() ai.RetryPolicy {
	return ai.RetryPolicy{
		MaxAttempts: c.AI.MaxAttempts,
		BaseDelay:   c.AI.RetryBaseDelay,
		MaxDelay:    c.AI.RetryMaxDelay,
	}
}

// AIConfig builds the provider configuration, resolving API keys through
// getenv.
func (c *Config) AIConfig(getenv func(string) string) (*ai.Config, error) {
	opts := []ai.ConfigOption{
		ai.WithAPIKey(getenv(c.AI.APIKeyEnv)),
		ai.WithRequestsPerMinute(c.AI.RequestsPerMinute),
		ai.WithRetry(c.AI.MaxAttempts, c.AI.RetryBaseDelay),
	}
	if c.AI.Host != "" {
		opts = append(opts, ai.WithHost(c.AI.Host))
	}
	if c.AI.EmbeddingHost != "" {
		opts = append(opts, ai.WithEmbeddingHost(c.AI.EmbeddingHost))
	}
	if c.AI.EmbeddingModel != "" {
		opts = append(opts, ai.WithEmbeddingModel(c.AI.EmbeddingModel))
	}
	cfg := ai.NewConfig(opts...)

	for name, override := range c.AI.Tiers {
		mode, err := core.ParseReasoningMode(name)
		if err != nil {
			return nil, err
		}
		tier := cfg.Tiers[mode]
		if override.Host != "" {
			tier.Host = override.Host
		}
		if override.Model != "" {
			tier.Model = override.Model
			if override.SearchModel == "" {
				tier.SearchModel = ""
			}
		}
		if override.SearchModel != "" {
			tier.SearchModel = override.SearchModel
		}
		if override.APIKeyEnv != "" {
			tier.APIKey = getenv(override.APIKeyEnv)
		}
		if override.Temperature != nil {
			tier.Temperature = *override.Temperature
		}
		cfg.Tiers[mode] = tier
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
