package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"golang.org/x/sync/errgroup"
)

// DefaultMinSimilarity drops dense candidates pointing away from the query.
const DefaultMinSimilarity = 0.0

// Ensemble merges dense and keyword retrieval into one ranked list.
type Ensemble struct {
	dense         DenseIndex
	keyword       KeywordIndex
	embedder      ai.Embedder
	minSimilarity float32
	logger        *slog.Logger
}

// Option configures an Ensemble.
type Option func(*Ensemble) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Ensemble) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithMinSimilarity sets the cosine similarity below which dense candidates
// are discarded.
func WithMinSimilarity(minSimilarity float32) Option {
	return func(e *Ensemble) error {
		if minSimilarity < -1 || minSimilarity > 1 {
			return fmt.Errorf("min similarity %v out of range [-1, 1]", minSimilarity)
		}
		e.minSimilarity = minSimilarity
		return nil
	}
}

// NewEnsemble creates a new retrieval ensemble.
func NewEnsemble(dense DenseIndex, keyword KeywordIndex, embedder ai.Embedder, opts ...Option) (*Ensemble, error) {
	if dense == nil {
		return nil, ErrDenseIndexRequired
	}
	if keyword == nil {
		return nil, ErrKeywordIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Ensemble{
		dense:         dense,
		keyword:       keyword,
		embedder:      embedder,
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "retrieval-ensemble")
	return e, nil
}

// Retrieve returns the merged top kDense dense and top kKeyword keyword
// matches for query within scope. An empty scope yields an empty list.
func (e *Ensemble) Retrieve(ctx context.Context, query string, kDense, kKeyword int, scope core.Scope) ([]core.RetrievalHit, error) {
	return e.RetrieveWithMonitor(ctx, query, kDense, kKeyword, scope, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage. A nil
// monitor logs per-source counts at debug level.
func (e *Ensemble) RetrieveWithMonitor(ctx context.Context, query string, kDense, kKeyword int, scope core.Scope, monitor RetrievalMonitor) ([]core.RetrievalHit, error) {
	if monitor == nil {
		monitor = &logMonitor{logger: e.logger}
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.ErrEmptyQuery
	}
	monitor.Start(query, scope)

	var (
		denseHits, keywordHits []*core.ScoredChunk
		denseErr, keywordErr   error
	)

	// Each source reports its own failure; the group never cancels the other.
	var g errgroup.Group
	if kDense > 0 {
		g.Go(func() error {
			denseHits, denseErr = e.denseSearch(ctx, query, scope, kDense)
			monitor.AfterDenseSearch(denseHits, denseErr)
			return nil
		})
	}
	if kKeyword > 0 {
		g.Go(func() error {
			keywordHits, keywordErr = e.keyword.Search(ctx, query, scope, kKeyword)
			monitor.AfterKeywordSearch(keywordHits, keywordErr)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case denseErr != nil && keywordErr != nil:
		e.logger.Error("both retrieval paths failed", "dense_err", denseErr, "keyword_err", keywordErr)
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, errors.Join(denseErr, keywordErr))
	case denseErr != nil && kKeyword <= 0:
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, denseErr)
	case keywordErr != nil && kDense <= 0:
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, keywordErr)
	case denseErr != nil:
		e.logger.Warn("dense retrieval failed, using keyword results only", "err", denseErr)
	case keywordErr != nil:
		e.logger.Warn("keyword retrieval failed, using dense results only", "err", keywordErr)
	}

	hits := Merge(denseHits, keywordHits)
	monitor.Finish(hits)
	return hits, nil
}

func (e *Ensemble) denseSearch(ctx context.Context, query string, scope core.Scope, k int) ([]*core.ScoredChunk, error) {
	embedding, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.dense.FindSimilar(ctx, embedding, scope, e.minSimilarity, k)
}

// Merge deduplicates dense and keyword candidates by chunk identity and
// ranks them. Inputs must be ordered best first.
func Merge(dense, keyword []*core.ScoredChunk) []core.RetrievalHit {
	byID := make(map[core.ID]*core.RetrievalHit, len(dense)+len(keyword))
	order := make([]core.ID, 0, len(dense)+len(keyword))

	var denseScores, keywordScores = map[core.ID]float64{}, map[core.ID]float64{}
	for i, sc := range dense {
		if sc == nil || sc.Chunk == nil {
			continue
		}
		id := sc.Chunk.Id
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = &core.RetrievalHit{Chunk: sc.Chunk, Method: core.RetrievalDense, DenseRank: i + 1}
		denseScores[id] = clamp01(float64(sc.Score))
		order = append(order, id)
	}
	for i, sc := range keyword {
		if sc == nil || sc.Chunk == nil {
			continue
		}
		id := sc.Chunk.Id
		if _, dup := keywordScores[id]; dup {
			continue
		}
		keywordScores[id] = clamp01(float64(sc.Score))
		if hit, ok := byID[id]; ok {
			hit.Method = core.RetrievalBoth
			hit.KeywordRank = i + 1
			continue
		}
		byID[id] = &core.RetrievalHit{Chunk: sc.Chunk, Method: core.RetrievalKeyword, KeywordRank: i + 1}
		order = append(order, id)
	}

	hits := make([]core.RetrievalHit, 0, len(order))
	for _, id := range order {
		hit := byID[id]
		d, k := denseScores[id], keywordScores[id]
		switch hit.Method {
		case core.RetrievalBoth:
			hit.Score = 1 - (1-d)*(1-k)
		case core.RetrievalDense:
			hit.Score = d
		default:
			hit.Score = k
		}
		hits = append(hits, *hit)
	}

	slices.SortStableFunc(hits, func(a, b core.RetrievalHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(rankOrLast(a.DenseRank), rankOrLast(b.DenseRank)); c != 0 {
			return c
		}
		if c := cmp.Compare(rankOrLast(a.KeywordRank), rankOrLast(b.KeywordRank)); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.Id, b.Chunk.Id)
	})
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

func rankOrLast(rank int) int {
	if rank == 0 {
		return math.MaxInt
	}
	return rank
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
