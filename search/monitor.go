package search

import (
	"log/slog"

	"github.com/poiesic/groundwork/core"
)

// RetrievalMonitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate results during retrieval.
// Dense and keyword callbacks may arrive from different goroutines.
type RetrievalMonitor interface {
	Start(query string, scope core.Scope)
	AfterDenseSearch(hits []*core.ScoredChunk, err error)
	AfterKeywordSearch(hits []*core.ScoredChunk, err error)
	Finish(hits []core.RetrievalHit)
}

// logMonitor reports per-source hit counts at debug level.
type logMonitor struct {
	logger *slog.Logger
}

var _ RetrievalMonitor = (*logMonitor)(nil)

func (m *logMonitor) Start(query string, scope core.Scope) {
	m.logger.Debug("retrieving", "query_length", len(query), "conversation_id", scope.ConversationID, "files", len(scope.FileIDs))
}

func (m *logMonitor) AfterDenseSearch(hits []*core.ScoredChunk, err error) {
	m.after("dense", hits, err)
}

func (m *logMonitor) AfterKeywordSearch(hits []*core.ScoredChunk, err error) {
	m.after("keyword", hits, err)
}

func (m *logMonitor) after(source string, hits []*core.ScoredChunk, err error) {
	if err != nil {
		m.logger.Debug("source failed", "source", source, "err", err)
		return
	}
	m.logger.Debug("source searched", "source", source, "hits", len(hits))
}

func (m *logMonitor) Finish(hits []core.RetrievalHit) {
	counts := make(map[core.RetrievalMethod]int, 3)
	for _, h := range hits {
		counts[h.Method]++
	}
	m.logger.Debug("retrieved",
		"merged", len(hits),
		"dense_only", counts[core.RetrievalDense],
		"keyword_only", counts[core.RetrievalKeyword],
		"both", counts[core.RetrievalBoth],
	)
}
