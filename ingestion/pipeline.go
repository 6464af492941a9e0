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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/search"
	"github.com/poiesic/groundwork/storage"
)

// DefaultBatchSize is how many chunks are embedded per request.
const DefaultBatchSize = 32

// FileInput is the extracted text of one uploaded file.
type FileInput struct {
	FileID         string
	FileName       string
	FileType       string
	ConversationID string   // empty for files shared across conversations
	Pages          []string // page text, first page first
	UploadedAt     time.Time
}

// Pipeline orchestrates chunking, storage and embedding of files.
type Pipeline struct {
	chunks        storage.ChunkRepository
	indexers      []search.Indexer
	embeddingPool *ants.Pool
	embeddingProc *embeddingProcessor
	splitter      *splitter
	batchSize     int
	policy        ai.RetryPolicy
	logger        *slog.Logger

	window, overlap int
	poolSize        int

	pending sync.WaitGroup
	mu      sync.Mutex
	errs    []error
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithWindow sets the chunk window and the overlap between consecutive
// windows, both in words.
func WithWindow(window, overlap int) Option {
	return func(p *Pipeline) error {
		p.window = window
		p.overlap = overlap
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		p.batchSize = n
		return nil
	}
}

// WithIndexers registers indexes that receive chunks once embedded and
// lose them when their file is deleted.
func WithIndexers(indexers ...search.Indexer) Option {
	return func(p *Pipeline) error {
		p.indexers = append(p.indexers, indexers...)
		return nil
	}
}

// WithRetryPolicy sets how embedding requests are retried.
func WithRetryPolicy(policy ai.RetryPolicy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		p.policy = policy
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(chunks storage.ChunkRepository, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	p := &Pipeline{
		chunks:    chunks,
		batchSize: DefaultBatchSize,
		policy:    ai.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		logger:    slog.Default(),
		window:    DefaultWindowWords,
		overlap:   DefaultOverlapWords,
		poolSize:  poolSize,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	sp, err := newSplitter(p.window, p.overlap)
	if err != nil {
		return nil, err
	}
	p.splitter = sp

	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	p.embeddingPool = pool
	p.embeddingProc = newEmbeddingProcessor(chunks, embedder, p.indexers, p.policy, p.logger)
	return p, nil
}

// Chunk splits the file into chunks without storing them.
func (p *Pipeline) Chunk(in FileInput) ([]*core.Chunk, error) {
	if in.FileID == "" {
		return nil, ErrFileIDRequired
	}
	uploaded := in.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}

	var chunks []*core.Chunk
	for page, text := range in.Pages {
		windows, err := p.splitter.split(text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d of %s: %w", page+1, in.FileID, err)
		}
		for _, w := range windows {
			ordinal := len(chunks)
			chunks = append(chunks, &core.Chunk{
				Id:             core.ChunkID(in.FileID, ordinal),
				FileID:         in.FileID,
				ConversationID: in.ConversationID,
				Ordinal:        ordinal,
				Content:        w,
				Metadata: core.ChunkMetadata{
					FileName:   in.FileName,
					FileType:   in.FileType,
					Page:       page + 1,
					UploadedAt: uploaded,
				},
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, in.FileID)
	}
	return chunks, nil
}

// Ingest stores the file's chunks and queues them for embedding. A file
// that was ingested before is replaced. It returns the number of chunks
// stored; they become searchable once embedded.
func (p *Pipeline) Ingest(ctx context.Context, in FileInput) (int, error) {
	chunks, err := p.Chunk(in)
	if err != nil {
		return 0, err
	}
	for _, c := range chunks {
		if err := core.ValidateChunk(c); err != nil {
			return 0, err
		}
	}

	exists, err := p.chunks.FileExists(ctx, in.FileID)
	if err != nil {
		return 0, err
	}
	if exists {
		if _, err := p.DeleteFile(ctx, in.FileID); err != nil {
			return 0, fmt.Errorf("failed to replace %s: %w", in.FileID, err)
		}
	}

	added, err := p.chunks.AddChunks(ctx, chunks...)
	if err != nil {
		return 0, err
	}
	p.logger.Info("file ingested", "file_id", in.FileID, "chunks", len(added), "pages", len(in.Pages))

	for start := 0; start < len(added); start += p.batchSize {
		batch := added[start:min(start+p.batchSize, len(added))]
		p.pending.Add(1)
		err := p.embeddingPool.Submit(func() {
			defer p.pending.Done()
			if err := p.embeddingProc.process(context.Background(), batch); err != nil {
				p.logger.Error("error processing embeddings", "file_id", in.FileID, "err", err)
				p.record(err)
			}
		})
		if err != nil {
			p.pending.Done()
			return len(added), fmt.Errorf("failed to queue embeddings: %w", err)
		}
	}
	return len(added), nil
}

// DeleteFile removes a file's chunks from the store and every indexer.
func (p *Pipeline) DeleteFile(ctx context.Context, fileID string) (int, error) {
	if fileID == "" {
		return 0, ErrFileIDRequired
	}
	n, err := p.chunks.DeleteFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	for _, idx := range p.indexers {
		if err := idx.RemoveFile(ctx, fileID); err != nil {
			return n, fmt.Errorf("failed to remove %s from index: %w", fileID, err)
		}
	}
	p.logger.Info("file deleted", "file_id", fileID, "chunks", n)
	return n, nil
}

func (p *Pipeline) record(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

// Wait blocks until queued embedding work has drained and returns the
// errors it produced since the previous Wait.
func (p *Pipeline) Wait() error {
	p.pending.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	err := errors.Join(p.errs...)
	p.errs = nil
	return err
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embeddingPool != nil {
		p.embeddingPool.Release()
	}
}
