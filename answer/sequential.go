package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/groundwork/core"
)

// Stage is a state of the sequential analysis pipeline.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageExtracting   Stage = "extracting"
	StageSearching    Stage = "searching"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// next lists the single successor of each working stage.
var next = map[Stage]Stage{
	StagePlanning:     StageExtracting,
	StageExtracting:   StageSearching,
	StageSearching:    StageSynthesizing,
	StageSynthesizing: StageDone,
}

// Plan is the outcome of query analysis.
type Plan struct {
	UseCase        string   `json:"use_case"`
	ExtractionPlan []string `json:"extraction_plan"`
	SearchStrategy string   `json:"search_strategy"`
	OutputFormat   string   `json:"output_format"`
}

// genericPlan is used when query analysis fails.
func genericPlan(query string) Plan {
	return Plan{
		UseCase: string(core.UseCaseOther),
		ExtractionPlan: []string{
			"facts, figures and names relevant to: " + query,
			"dates and time periods those facts refer to",
		},
		SearchStrategy: "Search the web for current information that confirms, updates or complements the extracted facts.",
	}
}

// pipeline tracks the stage of one sequential analysis run.
type pipeline struct {
	stage Stage
}

func (p *pipeline) advance() {
	if s, ok := next[p.stage]; ok {
		p.stage = s
	}
}

// fail records a step failure on the result. Output of completed stages
// stays in place and the result is flagged partial.
func (p *pipeline) fail(result *core.AnswerResult, err error) error {
	failed := p.stage
	p.stage = StageFailed
	result.Partial = true
	result.FailedStep = string(failed)
	result.Error = err.Error()
	return fmt.Errorf("%w: %s: %w", ErrStepFailed, failed, err)
}

func (o *Orchestrator) sequential(ctx context.Context, r *run, result *core.AnswerResult) error {
	p := &pipeline{stage: StagePlanning}

	// Step 1: query analysis. Failure degrades to the generic plan.
	if err := r.checkpoint(ctx, progressPlanStart, "Step 1: Analyzing query"); err != nil {
		return err
	}
	plan := o.plan(ctx, r)
	result.UseCase = core.ParseUseCase(plan.UseCase)
	if err := r.checkpoint(ctx, progressPlanDone, "Step 1 complete: "+string(result.UseCase)); err != nil {
		return err
	}
	p.advance()

	// Step 2: guided extraction.
	if err := r.checkpoint(ctx, progressExtractStart, "Step 2: Extracting facts from documents"); err != nil {
		return err
	}
	hits, err := o.retrieve(ctx, r)
	if err != nil {
		return p.fail(result, err)
	}
	result.Hits, result.TotalResults = hits, len(hits)

	extracted := noDocumentsExtraction
	if len(hits) > 0 {
		extracted, err = o.generate(ctx, r.req.ReasoningMode, extractionPrompt(r.req.Query, r.memory, plan, hits))
		if err != nil {
			return p.fail(result, err)
		}
	}
	result.ExtractedInfo = extracted
	if err := r.checkpoint(ctx, progressExtractDone, "Step 2 complete: facts extracted"); err != nil {
		return err
	}
	p.advance()

	// Step 3: guided online search.
	if err := r.checkpoint(ctx, progressSearchStart, "Step 3: Searching online"); err != nil {
		return err
	}
	web, err := o.generate(ctx, r.req.ReasoningMode, guidedSearchPrompt(r.req.Query, r.memory, plan, extracted))
	if err != nil {
		return p.fail(result, err)
	}
	result.OnlineSearchResponse = web
	if err := r.checkpoint(ctx, progressSearchDone, "Step 3 complete: online research gathered"); err != nil {
		return err
	}
	p.advance()

	// Step 4: synthesis.
	if err := r.checkpoint(ctx, progressSynthesizeRun, "Step 4: Synthesizing answer"); err != nil {
		return err
	}
	answer, err := o.generate(ctx, r.req.ReasoningMode, synthesisPrompt(r.req.Query, r.memory, result.UseCase, plan, extracted, web))
	if err != nil {
		return p.fail(result, err)
	}
	result.Answer = answer
	p.advance()
	return nil
}

// plan asks the planner tier for a Plan, falling back to the generic plan
// when the call fails or the plan is unusable.
func (o *Orchestrator) plan(ctx context.Context, r *run) Plan {
	var plan Plan
	if err := o.generateJSON(ctx, o.plannerTier, planningPrompt(r.req.Query, r.memory), &plan); err != nil {
		r.logger.Warn("query analysis failed, using generic plan", "err", err)
		return genericPlan(r.req.Query)
	}

	steps := plan.ExtractionPlan[:0]
	for _, s := range plan.ExtractionPlan {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	plan.ExtractionPlan = steps
	if len(plan.ExtractionPlan) == 0 {
		r.logger.Warn("query analysis returned no extraction plan, using generic plan")
		fallback := genericPlan(r.req.Query)
		fallback.UseCase = plan.UseCase
		return fallback
	}
	if strings.TrimSpace(plan.SearchStrategy) == "" {
		plan.SearchStrategy = genericPlan(r.req.Query).SearchStrategy
	}
	return plan
}
