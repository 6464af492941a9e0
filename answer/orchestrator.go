package answer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/memory"
	"golang.org/x/sync/errgroup"
)

// Retriever returns ranked document chunks for a query.
// search.Ensemble satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, kDense, kKeyword int, scope core.Scope) ([]core.RetrievalHit, error)
}

// Orchestrator runs search requests in any search mode.
// It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	retriever   Retriever
	provider    ai.AIProvider
	policy      ai.RetryPolicy
	plannerTier core.ReasoningMode
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithRetryPolicy bounds the retries of every model call.
func WithRetryPolicy(policy ai.RetryPolicy) Option {
	return func(o *Orchestrator) error {
		if policy.MaxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		o.policy = policy
		return nil
	}
}

// WithPlannerTier sets the tier used for planning and mode classification.
// Default is core.ReasoningNone.
func WithPlannerTier(mode core.ReasoningMode) Option {
	return func(o *Orchestrator) error {
		if !mode.Valid() {
			return fmt.Errorf("%w: %q", core.ErrInvalidReasoningMode, mode)
		}
		o.plannerTier = mode
		return nil
	}
}

// New creates an orchestrator.
func New(retriever Retriever, provider ai.AIProvider, opts ...Option) (*Orchestrator, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	o := &Orchestrator{
		retriever:   retriever,
		provider:    provider,
		policy:      ai.RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		plannerTier: core.ReasoningNone,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o, nil
}

// run carries the per-request values every step needs.
type run struct {
	req     core.SearchRequest
	scope   core.Scope
	memory  string
	monitor Monitor
	logger  *slog.Logger
}

func (r *run) checkpoint(ctx context.Context, percent int, step string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.monitor.Checkpoint(ctx, Progress{Percent: percent, Step: step})
}

// Run executes req and returns its result. The result is never nil once the
// request is valid: on failure or cancellation it carries whatever completed
// before the run stopped, and the error says why it stopped.
func (o *Orchestrator) Run(ctx context.Context, req core.SearchRequest, monitor Monitor) (*core.AnswerResult, error) {
	if err := core.ValidateSearchRequest(&req); err != nil {
		return nil, err
	}
	if monitor == nil {
		monitor = noopMonitor{}
	}

	start := time.Now()
	r := &run{
		req:     req,
		scope:   core.Scope{ConversationID: req.ConversationID},
		memory:  memory.Format(req.History),
		monitor: monitor,
		logger:  o.logger.With("mode", string(req.SearchMode), "reasoning", string(req.ReasoningMode)),
	}
	result := &core.AnswerResult{Mode: req.SearchMode}

	r.logger.Debug("run started", "query_length", len(req.Query), "history_turns", len(req.History))
	err := o.dispatch(ctx, r, req.SearchMode, result)
	result.ProcessingTime = time.Since(start)

	if err != nil {
		r.logger.Warn("run stopped", "err", err, "elapsed", result.ProcessingTime)
		return result, err
	}
	r.logger.Info("run completed", "hits", result.TotalResults, "elapsed", result.ProcessingTime)
	return result, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run, mode core.SearchMode, result *core.AnswerResult) error {
	switch mode {
	case core.SearchModeDocumentsOnly:
		return o.documentsOnly(ctx, r, result)
	case core.SearchModeOnlineOnly:
		return o.onlineOnly(ctx, r, result)
	case core.SearchModeBoth:
		return o.both(ctx, r, result)
	case core.SearchModeSequential:
		return o.sequential(ctx, r, result)
	case core.SearchModeAuto:
		return o.auto(ctx, r, result)
	default:
		return fmt.Errorf("%w: %q", core.ErrInvalidSearchMode, mode)
	}
}

func (o *Orchestrator) documentsOnly(ctx context.Context, r *run, result *core.AnswerResult) error {
	if err := r.checkpoint(ctx, progressDocsRetrieve, "Searching documents"); err != nil {
		return err
	}
	hits, err := o.retrieve(ctx, r)
	if err != nil {
		result.Error = err.Error()
		return err
	}
	result.Hits, result.TotalResults = hits, len(hits)

	if len(hits) == 0 {
		result.Answer = NoDocumentsAnswer
		return nil
	}

	if err := r.checkpoint(ctx, progressDocsGenerate, "Generating answer from documents"); err != nil {
		return err
	}
	answer, err := o.generate(ctx, r.req.ReasoningMode, documentsPrompt(r.req.Query, r.memory, hits))
	if err != nil {
		result.Error = err.Error()
		return err
	}
	result.Answer = answer
	return nil
}

func (o *Orchestrator) onlineOnly(ctx context.Context, r *run, result *core.AnswerResult) error {
	if err := r.checkpoint(ctx, progressWebSearch, "Searching online"); err != nil {
		return err
	}
	response, err := o.generate(ctx, r.req.ReasoningMode, webPrompt(r.req.Query, r.memory))
	if err != nil {
		result.Error = err.Error()
		return err
	}
	result.OnlineSearchResponse = response
	result.Answer = response
	return nil
}

func (o *Orchestrator) both(ctx context.Context, r *run, result *core.AnswerResult) error {
	if err := r.checkpoint(ctx, progressBothGather, "Searching documents and online"); err != nil {
		return err
	}

	order := priorityOrder(r.req.PriorityOrder)
	webRuns := slices.Contains(order, core.SourceOnlineSearch)

	var (
		hits []core.RetrievalHit
		web  string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = o.retrieve(gctx, r)
		return err
	})
	if webRuns {
		g.Go(func() error {
			var err error
			web, err = o.generate(gctx, r.req.ReasoningMode, webPrompt(r.req.Query, r.memory))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		result.Error = err.Error()
		return err
	}
	result.Hits, result.TotalResults = hits, len(hits)
	result.OnlineSearchResponse = web

	if err := r.checkpoint(ctx, progressBothSynthesize, "Synthesizing answer"); err != nil {
		return err
	}
	answer, err := o.generate(ctx, r.req.ReasoningMode, bothPrompt(r.req.Query, r.memory, order, hits, web, webRuns))
	if err != nil {
		result.Error = err.Error()
		return err
	}
	result.Answer = answer
	return nil
}

// priorityOrder fills in the default order and makes sure documents are
// always part of it; retrieval runs regardless of the order.
func priorityOrder(order []core.KnowledgeSource) []core.KnowledgeSource {
	if len(order) == 0 {
		return core.DefaultPriorityOrder()
	}
	if !slices.Contains(order, core.SourceFiles) {
		return append(slices.Clone(order), core.SourceFiles)
	}
	return order
}

func (o *Orchestrator) retrieve(ctx context.Context, r *run) ([]core.RetrievalHit, error) {
	hits, err := o.retriever.Retrieve(ctx, r.req.Query, r.req.TopK, r.req.TopK, r.scope)
	if err != nil {
		return nil, fmt.Errorf("document retrieval: %w", err)
	}
	if hits == nil {
		hits = []core.RetrievalHit{}
	}
	return hits, nil
}

// generate calls the tier's model, retrying failures per the policy.
func (o *Orchestrator) generate(ctx context.Context, tier core.ReasoningMode, prompt ai.Prompt) (string, error) {
	model, err := o.provider.LanguageModel(tier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	var text string
	err = o.policy.Do(ctx, func() error {
		out, err := model.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return text, nil
}

// generateJSON is generate for structured answers; malformed output counts
// as a failed attempt.
func (o *Orchestrator) generateJSON(ctx context.Context, tier core.ReasoningMode, prompt ai.Prompt, v any) error {
	model, err := o.provider.LanguageModel(tier)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	prompt.JSON = true

	err = o.policy.Do(ctx, func() error {
		out, err := model.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		if err := ai.DecodeJSON(out, v); err != nil {
			o.logger.Warn("malformed structured response", "tier", string(tier), "err", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return nil
}
