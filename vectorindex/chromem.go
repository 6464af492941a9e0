// Package vectorindex provides an in-memory dense index backed by chromem-go.
//
// The chunk store remains the system of record; the index is filled from it
// at startup and kept current as files are ingested or deleted.
package vectorindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/groundwork/core"
)

const collectionName = "chunks"

// Metadata keys stored with every document.
const (
	metaFileID       = "file_id"
	metaConversation = "conversation_id"
	metaOrdinal      = "ordinal"
	metaFileName     = "file_name"
	metaFileType     = "file_type"
	metaPage         = "page"
	metaUploadedAt   = "uploaded_at"
	metaInsertedAt   = "inserted_at"
)

// ErrNoEmbedding is returned when a chunk without a vector is added.
var ErrNoEmbedding = errors.New("chunk has no embedding")

// ChunkSource streams every stored chunk; storage.ChunkRepository satisfies it.
type ChunkSource interface {
	ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error
}

// Chromem is a dense index over chunk vectors.
// It is safe for concurrent use.
type Chromem struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger
}

// Option configures a Chromem index.
type Option func(*options)

type options struct {
	path   string
	logger *slog.Logger
}

// WithPath persists the index under path instead of keeping it in memory only.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithLogger sets a custom logger for the index.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates an empty index.
func New(opts ...Option) (*Chromem, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	db := chromem.NewDB()
	if o.path != "" {
		var err error
		db, err = chromem.NewPersistentDB(o.path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open dense index: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, precomputed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &Chromem{
		db:         db,
		collection: collection,
		logger:     o.logger.With("component", "chromem-index"),
	}, nil
}

// precomputed refuses to embed text; every document carries its vector.
func precomputed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrNoEmbedding
}

// Len returns the number of indexed chunks.
func (c *Chromem) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count()
}

// Add indexes chunks, replacing chunks already indexed under the same ID.
// Chunks without a vector are rejected.
func (c *Chromem) Add(ctx context.Context, chunks ...*core.Chunk) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if len(chunk.Vector) == 0 {
			return fmt.Errorf("%w: %d", ErrNoEmbedding, chunk.Id)
		}
		docs = append(docs, toDocument(chunk))
	}
	if len(docs) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// RemoveFile drops every chunk of a file from the index.
func (c *Chromem) RemoveFile(ctx context.Context, fileID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.collection.Count() == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, map[string]string{metaFileID: fileID}, nil); err != nil {
		return fmt.Errorf("failed to remove file %s: %w", fileID, err)
	}
	return nil
}

// Rebuild replaces the index contents with every embedded chunk of src.
// Chunks still waiting for their embedding are skipped.
func (c *Chromem) Rebuild(ctx context.Context, src ChunkSource) error {
	var docs []chromem.Document
	skipped := 0
	err := src.ForEachChunk(ctx, func(chunk *core.Chunk) error {
		if len(chunk.Vector) == 0 {
			skipped++
			return nil
		}
		docs = append(docs, toDocument(chunk))
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	collection, err := c.db.CreateCollection(collectionName, nil, precomputed)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	c.collection = collection
	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to index chunks: %w", err)
		}
	}

	c.logger.Info("dense index rebuilt", "chunks", len(docs), "skipped", skipped)
	return nil
}

// FindSimilar returns chunks visible in scope whose cosine similarity to
// vector is >= minSimilarity, best first, at most limit results.
func (c *Chromem) FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*core.ScoredChunk, error) {
	if limit <= 0 || len(vector) == 0 {
		return []*core.ScoredChunk{}, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := min(limit, c.collection.Count())
	if n == 0 {
		return []*core.ScoredChunk{}, nil
	}

	// chromem filters are exact-match conjunctions, so the scope is
	// expanded into one query per (conversation, file) combination.
	conversations := []string{""}
	if scope.ConversationID != "" {
		conversations = append(conversations, scope.ConversationID)
	}
	files := scope.FileIDs
	if len(files) == 0 {
		files = []string{""}
	}

	var merged []chromem.Result
	for _, conv := range conversations {
		for _, file := range files {
			where := map[string]string{metaConversation: conv}
			if file != "" {
				where[metaFileID] = file
			}
			results, err := c.collection.QueryEmbedding(ctx, vector, n, where, nil)
			if err != nil {
				return nil, fmt.Errorf("dense query failed: %w", err)
			}
			merged = append(merged, results...)
		}
	}

	slices.SortFunc(merged, func(a, b chromem.Result) int {
		if r := cmp.Compare(b.Similarity, a.Similarity); r != 0 {
			return r
		}
		return cmp.Compare(a.ID, b.ID)
	})

	scored := make([]*core.ScoredChunk, 0, min(limit, len(merged)))
	for _, r := range merged {
		if len(scored) == limit || r.Similarity < minSimilarity {
			break
		}
		chunk, err := fromResult(r)
		if err != nil {
			c.logger.Warn("skipping undecodable document", "id", r.ID, "err", err)
			continue
		}
		scored = append(scored, &core.ScoredChunk{Chunk: chunk, Score: r.Similarity})
	}
	return scored, nil
}

func toDocument(chunk *core.Chunk) chromem.Document {
	meta := map[string]string{
		metaFileID:       chunk.FileID,
		metaConversation: chunk.ConversationID,
		metaOrdinal:      strconv.Itoa(chunk.Ordinal),
		metaFileName:     chunk.Metadata.FileName,
		metaFileType:     chunk.Metadata.FileType,
		metaPage:         strconv.Itoa(chunk.Metadata.Page),
	}
	if !chunk.Metadata.UploadedAt.IsZero() {
		meta[metaUploadedAt] = chunk.Metadata.UploadedAt.Format(time.RFC3339Nano)
	}
	if !chunk.InsertedAt.IsZero() {
		meta[metaInsertedAt] = chunk.InsertedAt.Format(time.RFC3339Nano)
	}
	return chromem.Document{
		ID:        chunk.Id.String(),
		Metadata:  meta,
		Embedding: slices.Clone(chunk.Vector),
		Content:   chunk.Content,
	}
}

func fromResult(r chromem.Result) (*core.Chunk, error) {
	id, err := strconv.ParseUint(r.ID, 10, 64)
	if err != nil {
		return nil, err
	}
	ordinal, err := strconv.Atoi(r.Metadata[metaOrdinal])
	if err != nil {
		return nil, err
	}
	page, err := strconv.Atoi(r.Metadata[metaPage])
	if err != nil {
		return nil, err
	}

	chunk := &core.Chunk{
		Id:             core.ID(id),
		FileID:         r.Metadata[metaFileID],
		ConversationID: r.Metadata[metaConversation],
		Ordinal:        ordinal,
		Content:        r.Content,
		Vector:         r.Embedding,
		Metadata: core.ChunkMetadata{
			FileName: r.Metadata[metaFileName],
			FileType: r.Metadata[metaFileType],
			Page:     page,
		},
	}
	if v, ok := r.Metadata[metaUploadedAt]; ok {
		if chunk.Metadata.UploadedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, err
		}
	}
	if v, ok := r.Metadata[metaInsertedAt]; ok {
		if chunk.InsertedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, err
		}
	}
	return chunk, nil
}
