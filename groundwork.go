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

// Package groundwork assembles the answer engine from configuration: chunk
// and job storage, the retrieval indexes, the orchestrator, the background
// executor and the ingestion pipeline.
package groundwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/ai/openai"
	"github.com/poiesic/groundwork/answer"
	"github.com/poiesic/groundwork/config"
	"github.com/poiesic/groundwork/executor"
	"github.com/poiesic/groundwork/ingestion"
	"github.com/poiesic/groundwork/jobs"
	"github.com/poiesic/groundwork/keyword"
	"github.com/poiesic/groundwork/reembed"
	"github.com/poiesic/groundwork/search"
	"github.com/poiesic/groundwork/server"
	"github.com/poiesic/groundwork/storage"
	"github.com/poiesic/groundwork/storage/badger"
	"github.com/poiesic/groundwork/storage/pgvector"
	"github.com/poiesic/groundwork/storage/postgres"
	"github.com/poiesic/groundwork/vectorindex"
)

var (
	// ErrConfigRequired is returned when Open is called without a configuration.
	ErrConfigRequired = errors.New("config required")

	// ErrJobExecutionDisabled is returned by operations that need the
	// background executor on an engine opened without WithJobExecution.
	ErrJobExecutionDisabled = errors.New("job execution not enabled")
)

// Engine owns every long-lived component of a running instance.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	backend  *badger.Backend
	chunks   storage.ChunkRepository
	jobRepo  storage.JobRepository
	provider ai.AIProvider

	keyword  *keyword.Index
	chromem  *vectorindex.Chromem
	ensemble *search.Ensemble

	orchestrator *answer.Orchestrator
	tracker      *jobs.Tracker
	executor     *executor.Executor
	pipeline     *ingestion.Pipeline
}

// EngineOption configures Open.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger       *slog.Logger
	provider     ai.AIProvider
	getenv       func(string) string
	jobExecution bool
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithProvider uses provider instead of building one from the AI section
// of the configuration. The engine closes it on Close.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithJobExecution starts the background executor. Jobs left pending are
// queued and processing jobs whose lease expired are failed. Without it the
// engine can read and cancel jobs but never runs or recovers them.
func WithJobExecution() EngineOption {
	return func(o *engineOptions) {
		o.jobExecution = true
	}
}

// WithGetenv replaces os.Getenv when resolving API keys.
func WithGetenv(getenv func(string) string) EngineOption {
	return func(o *engineOptions) {
		o.getenv = getenv
	}
}

// Open builds an engine from cfg. Indexes are rebuilt from the chunk store
// before it returns.
func Open(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &engineOptions{logger: slog.Default(), getenv: os.Getenv}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{cfg: cfg, logger: options.logger}
	if err := e.open(ctx, options); err != nil {
		if closeErr := e.Close(context.Background()); closeErr != nil {
			e.logger.Error("error closing partially opened engine", "err", closeErr)
		}
		return nil, err
	}
	return e, nil
}

func (e *Engine) open(ctx context.Context, options *engineOptions) error {
	if err := e.openStorage(ctx); err != nil {
		return err
	}

	e.provider = options.provider
	if e.provider == nil {
		aiConfig, err := e.cfg.AIConfig(options.getenv)
		if err != nil {
			return err
		}
		if e.provider, err = openai.NewProvider(aiConfig); err != nil {
			return err
		}
	}

	if err := e.openIndexes(ctx); err != nil {
		return err
	}

	var dense search.DenseIndex = e.chunks
	if e.chromem != nil {
		dense = e.chromem
	}
	var err error
	e.ensemble, err = search.NewEnsemble(dense, e.keyword, e.provider.Embedder(),
		search.WithMinSimilarity(e.cfg.Retrieval.MinSimilarity),
		search.WithLogger(e.logger))
	if err != nil {
		return err
	}

	e.orchestrator, err = answer.New(e.ensemble, e.provider,
		answer.WithRetryPolicy(e.cfg.RetryPolicy()),
		answer.WithPlannerTier(e.cfg.PlannerTier()),
		answer.WithLogger(e.logger))
	if err != nil {
		return err
	}

	e.tracker, err = jobs.NewTracker(e.jobRepo, jobs.WithLogger(e.logger))
	if err != nil {
		return err
	}

	if options.jobExecution {
		if err := e.startExecutor(ctx); err != nil {
			return err
		}
	}

	pipeOpts := []ingestion.Option{
		ingestion.WithLogger(e.logger),
		ingestion.WithWindow(e.cfg.Ingestion.WindowWords, e.cfg.Ingestion.OverlapWords),
		ingestion.WithBatchSize(e.cfg.Ingestion.BatchSize),
		ingestion.WithIndexers(e.Indexers()...),
		ingestion.WithRetryPolicy(e.cfg.RetryPolicy()),
	}
	if e.cfg.Ingestion.Workers > 0 {
		pipeOpts = append(pipeOpts, ingestion.WithPoolSize(e.cfg.Ingestion.Workers))
	}
	e.pipeline, err = ingestion.NewPipeline(e.chunks, e.provider.Embedder(), pipeOpts...)
	return err
}

func (e *Engine) startExecutor(ctx context.Context) error {
	execOpts := []executor.Option{
		executor.WithLogger(e.logger),
		executor.WithQueueSize(e.cfg.Jobs.QueueSize),
		executor.WithCleanup(e.cfg.Jobs.Retention, e.cfg.Jobs.CleanupInterval),
	}
	if e.cfg.Jobs.Workers > 0 {
		execOpts = append(execOpts, executor.WithWorkers(e.cfg.Jobs.Workers))
	}
	if e.cfg.Jobs.Lease > 0 {
		execOpts = append(execOpts, executor.WithLease(e.cfg.Jobs.Lease))
	}
	var err error
	e.executor, err = executor.New(e.tracker, e.orchestrator, execOpts...)
	if err != nil {
		return err
	}
	recovered, err := e.executor.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if recovered > 0 {
		e.logger.Info("requeued pending jobs", "count", recovered)
	}
	return nil
}

func (e *Engine) openStorage(ctx context.Context) error {
	sc := e.cfg.Storage
	switch sc.Driver {
	case config.DriverBadger:
		backend, err := badger.OpenBackend(sc.Path, sc.InMemory)
		if err != nil {
			return fmt.Errorf("failed to open badger storage: %w", err)
		}
		e.backend = backend
		e.jobRepo = badger.NewJobRepository(backend)
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, sc.DSN, sc.Debug)
		if err != nil {
			return fmt.Errorf("failed to open job storage: %w", err)
		}
		e.jobRepo = repo
	default:
		return fmt.Errorf("unknown storage driver %q", sc.Driver)
	}

	switch sc.ChunkBackend {
	case config.ChunkBackendBadger:
		e.chunks = badger.NewChunkRepository(e.backend)
	case config.ChunkBackendPGVector:
		repo, err := pgvector.Open(ctx, sc.DSN, sc.VectorDimension)
		if err != nil {
			return fmt.Errorf("failed to open chunk storage: %w", err)
		}
		e.chunks = repo
	default:
		return fmt.Errorf("unknown chunk backend %q", sc.ChunkBackend)
	}
	return nil
}

func (e *Engine) openIndexes(ctx context.Context) error {
	e.keyword = keyword.NewIndex(keyword.WithLogger(e.logger))
	if err := e.keyword.Rebuild(ctx, e.chunks); err != nil {
		return fmt.Errorf("failed to build keyword index: %w", err)
	}

	if e.cfg.Storage.DenseIndex != config.DenseIndexChromem {
		return nil
	}
	chromemOpts := []vectorindex.Option{vectorindex.WithLogger(e.logger)}
	if e.cfg.Storage.ChromemPath != "" {
		chromemOpts = append(chromemOpts, vectorindex.WithPath(e.cfg.Storage.ChromemPath))
	}
	var err error
	if e.chromem, err = vectorindex.New(chromemOpts...); err != nil {
		return err
	}
	if err := e.chromem.Rebuild(ctx, e.chunks); err != nil {
		return fmt.Errorf("failed to build dense index: %w", err)
	}
	return nil
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Chunks returns the chunk store.
func (e *Engine) Chunks() storage.ChunkRepository { return e.chunks }

// Retriever returns the retrieval ensemble.
func (e *Engine) Retriever() *search.Ensemble { return e.ensemble }

// Orchestrator returns the answer orchestrator.
func (e *Engine) Orchestrator() *answer.Orchestrator { return e.orchestrator }

// Jobs returns the job tracker.
func (e *Engine) Jobs() *jobs.Tracker { return e.tracker }

// Executor returns the background executor, or nil when the engine was
// opened without WithJobExecution.
func (e *Engine) Executor() *executor.Executor { return e.executor }

// Pipeline returns the ingestion pipeline.
func (e *Engine) Pipeline() *ingestion.Pipeline { return e.pipeline }

// Indexers returns the in-process indexes fed by ingestion.
func (e *Engine) Indexers() []search.Indexer {
	indexers := []search.Indexer{e.keyword}
	if e.chromem != nil {
		indexers = append(indexers, e.chromem)
	}
	return indexers
}

// NewReembedder returns a reembedder over the chunk store that keeps the
// engine's indexes current.
func (e *Engine) NewReembedder(cfg *reembed.Config, progress io.Writer) *reembed.Reembedder {
	return reembed.NewReembedder(e.chunks, e.provider.Embedder(), cfg, progress, e.Indexers()...)
}

// NewServer returns an HTTP server over the engine. The engine must have
// been opened WithJobExecution.
func (e *Engine) NewServer(opts ...server.Option) (*server.Server, error) {
	if e.executor == nil {
		return nil, ErrJobExecutionDisabled
	}
	sc := e.cfg.Server
	base := []server.Option{
		server.WithLogger(e.logger),
		server.WithMaxBodyBytes(sc.MaxBodyBytes),
		server.WithTimeouts(sc.ReadTimeout, sc.WriteTimeout),
	}
	return server.New(e.orchestrator, e.executor, e.tracker, append(base, opts...)...)
}

// Close stops the executor, waiting for running jobs until ctx is done, and
// then releases storage and the AI provider.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.executor != nil {
		if err := e.executor.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("executor: %w", err))
		}
	}
	if e.pipeline != nil {
		if err := e.pipeline.Wait(); err != nil {
			e.logger.Warn("ingestion finished with errors", "err", err)
		}
		e.pipeline.Release()
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	if e.chunks != nil {
		if err := e.chunks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("chunk repository: %w", err))
		}
	}
	if e.jobRepo != nil {
		if err := e.jobRepo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("job repository: %w", err))
		}
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend: %w", err))
		}
	}
	return errors.Join(errs...)
}
