package keyword

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/poiesic/groundwork/core"
)

const (
	// DefaultK1 controls term-frequency saturation.
	DefaultK1 = 1.2
	// DefaultB controls document-length normalization.
	DefaultB = 0.75
)

// ChunkSource streams every stored chunk; storage.ChunkRepository satisfies it.
type ChunkSource interface {
	ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error
}

type document struct {
	chunk  *core.Chunk
	length int
	terms  map[string]int
}

// Index is a BM25-ranked inverted index over chunks.
// It is safe for concurrent use; searches share a read lock.
type Index struct {
	mu       sync.RWMutex
	docs     map[core.ID]*document
	postings map[string]map[core.ID]int
	files    map[string]map[core.ID]struct{}
	totalLen int

	k1     float64
	b      float64
	logger *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a custom logger for the index.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
	}
}

// WithParameters overrides the BM25 k1 and b parameters.
func WithParameters(k1, b float64) Option {
	return func(ix *Index) {
		ix.k1 = k1
		ix.b = b
	}
}

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		k1:     DefaultK1,
		b:      DefaultB,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With("component", "keyword-index")
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	ix.docs = make(map[core.ID]*document)
	ix.postings = make(map[string]map[core.ID]int)
	ix.files = make(map[string]map[core.ID]struct{})
	ix.totalLen = 0
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Add indexes chunks, replacing any chunk already indexed under the same ID.
func (ix *Index) Add(ctx context.Context, chunks ...*core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range chunks {
		if c == nil {
			continue
		}
		ix.addLocked(c)
	}
	return nil
}

func (ix *Index) addLocked(c *core.Chunk) {
	ix.removeLocked(c.Id)

	// Vectors are not needed for keyword ranking.
	stored := *c
	stored.Vector = nil

	terms := Tokenize(c.Content)
	doc := &document{chunk: &stored, length: len(terms), terms: make(map[string]int)}
	for _, term := range terms {
		doc.terms[term]++
	}
	for term, tf := range doc.terms {
		plist, ok := ix.postings[term]
		if !ok {
			plist = make(map[core.ID]int)
			ix.postings[term] = plist
		}
		plist[c.Id] = tf
	}

	ix.docs[c.Id] = doc
	ix.totalLen += doc.length

	ids, ok := ix.files[c.FileID]
	if !ok {
		ids = make(map[core.ID]struct{})
		ix.files[c.FileID] = ids
	}
	ids[c.Id] = struct{}{}
}

func (ix *Index) removeLocked(id core.ID) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for term := range doc.terms {
		plist := ix.postings[term]
		delete(plist, id)
		if len(plist) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalLen -= doc.length
	delete(ix.docs, id)

	if ids, ok := ix.files[doc.chunk.FileID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(ix.files, doc.chunk.FileID)
		}
	}
}

// RemoveFile drops every chunk of a file from the index.
func (ix *Index) RemoveFile(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := 0
	for id := range ix.files[fileID] {
		ix.removeLocked(id)
		removed++
	}
	ix.logger.Debug("removed file", "file_id", fileID, "chunks", removed)
	return nil
}

// Rebuild replaces the index contents with every chunk of src.
// Searches keep seeing the old contents until the new index is complete.
func (ix *Index) Rebuild(ctx context.Context, src ChunkSource) error {
	fresh := NewIndex(WithParameters(ix.k1, ix.b), WithLogger(slog.New(slog.DiscardHandler)))
	err := src.ForEachChunk(ctx, func(c *core.Chunk) error {
		fresh.addLocked(c)
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.docs = fresh.docs
	ix.postings = fresh.postings
	ix.files = fresh.files
	ix.totalLen = fresh.totalLen
	ix.mu.Unlock()

	ix.logger.Info("keyword index rebuilt", "chunks", len(fresh.docs), "terms", len(fresh.postings))
	return nil
}

// Search returns up to k chunks visible in scope ranked by BM25 against the
// query terms. Corpus statistics cover the whole index so scores do not
// depend on the scope. Returns an empty slice when nothing matches.
func (ix *Index) Search(ctx context.Context, query string, scope core.Scope, k int) ([]*core.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []*core.ScoredChunk{}, nil
	}

	terms := slices.Compact(slices.Sorted(slices.Values(Tokenize(query))))

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := float64(len(ix.docs))
	if n == 0 || len(terms) == 0 {
		return []*core.ScoredChunk{}, nil
	}
	avgLen := float64(ix.totalLen) / n

	scores := make(map[core.ID]float64)
	for _, term := range terms {
		plist := ix.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id, tf := range plist {
			doc := ix.docs[id]
			if !scope.Allows(doc.chunk) {
				continue
			}
			f := float64(tf)
			norm := ix.k1 * (1 - ix.b + ix.b*float64(doc.length)/avgLen)
			scores[id] += idf * f * (ix.k1 + 1) / (f + norm)
		}
	}

	type scored struct {
		id    core.ID
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for id, s := range scores {
		ranked = append(ranked, scored{id, s})
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	results := make([]*core.ScoredChunk, len(ranked))
	for i, r := range ranked {
		score := 1.0
		if top := ranked[0].score; top > 0 {
			score = r.score / top
		}
		results[i] = &core.ScoredChunk{Chunk: ix.docs[r.id].chunk, Score: float32(score)}
	}
	return results, nil
}
