package core

import (
	"fmt"
	"slices"
)

// SearchMode selects the control flow of an answer run.
type SearchMode string

const (
	SearchModeDocumentsOnly SearchMode = "documents_only"
	SearchModeOnlineOnly    SearchMode = "online_only"
	SearchModeBoth          SearchMode = "both"
	SearchModeSequential    SearchMode = "sequential_analysis"
	SearchModeAuto          SearchMode = "auto"
)

// SearchModes lists every accepted search mode.
var SearchModes = []SearchMode{
	SearchModeDocumentsOnly,
	SearchModeOnlineOnly,
	SearchModeBoth,
	SearchModeSequential,
	SearchModeAuto,
}

// Valid reports whether m is one of SearchModes.
func (m SearchMode) Valid() bool {
	return slices.Contains(SearchModes, m)
}

// ParseSearchMode converts s to a SearchMode without any fallback.
func ParseSearchMode(s string) (SearchMode, error) {
	m := SearchMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSearchMode, s)
	}
	return m, nil
}

// ReasoningMode selects the model tier used for generation.
type ReasoningMode string

const (
	ReasoningNone   ReasoningMode = "non_reasoning"
	ReasoningStd    ReasoningMode = "reasoning"
	ReasoningGPT5   ReasoningMode = "reasoning_gpt5"
	ReasoningGemini ReasoningMode = "reasoning_gemini"
	DeepResearch    ReasoningMode = "deep_research"
)

// ReasoningModes lists every accepted reasoning mode.
var ReasoningModes = []ReasoningMode{
	ReasoningNone,
	ReasoningStd,
	ReasoningGPT5,
	ReasoningGemini,
	DeepResearch,
}

// Valid reports whether m is one of ReasoningModes.
func (m ReasoningMode) Valid() bool {
	return slices.Contains(ReasoningModes, m)
}

// IsLongRunning reports whether runs in this tier must go through a job.
func (m ReasoningMode) IsLongRunning() bool {
	return m == ReasoningGPT5 || m == DeepResearch
}

// EstimatedTime is a human readable duration estimate for the tier.
func (m ReasoningMode) EstimatedTime() string {
	switch m {
	case ReasoningGPT5:
		return "5-15 minutes"
	case DeepResearch:
		return "10-30 minutes"
	case ReasoningStd, ReasoningGemini:
		return "30-90 seconds"
	default:
		return "under 30 seconds"
	}
}

// ParseReasoningMode converts s to a ReasoningMode without any fallback.
func ParseReasoningMode(s string) (ReasoningMode, error) {
	m := ReasoningMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReasoningMode, s)
	}
	return m, nil
}

// KnowledgeSource names an input of the both mode synthesis.
type KnowledgeSource string

const (
	SourceFiles        KnowledgeSource = "files"
	SourceOnlineSearch KnowledgeSource = "online_search"
)

// DefaultPriorityOrder is used when a request carries no priority order.
func DefaultPriorityOrder() []KnowledgeSource {
	return []KnowledgeSource{SourceFiles, SourceOnlineSearch}
}

// Valid reports whether s is a known knowledge source.
func (s KnowledgeSource) Valid() bool {
	return s == SourceFiles || s == SourceOnlineSearch
}

// UseCase is the query pattern identified by sequential analysis planning.
type UseCase string

const (
	UseCaseCompetitiveAnalysis UseCase = "competitive_analysis"
	UseCaseFollowUpQuestions   UseCase = "follow_up_questions"
	UseCaseBenchmarking        UseCase = "benchmarking"
	UseCaseMarketIntelligence  UseCase = "market_intelligence"
	UseCaseOther               UseCase = "other"
)

// ParseUseCase maps a planner label onto a UseCase. Unknown labels map to UseCaseOther.
func ParseUseCase(s string) UseCase {
	switch u := UseCase(s); u {
	case UseCaseCompetitiveAnalysis, UseCaseFollowUpQuestions, UseCaseBenchmarking, UseCaseMarketIntelligence:
		return u
	default:
		return UseCaseOther
	}
}
