package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/groundwork/core"
)

// FallbackMode is chosen when automatic selection cannot decide.
const FallbackMode = core.SearchModeBoth

type selection struct {
	Mode      string `json:"mode"`
	Rationale string `json:"rationale"`
}

func (o *Orchestrator) auto(ctx context.Context, r *run, result *core.AnswerResult) error {
	if err := r.checkpoint(ctx, progressAutoSelect, "Selecting search mode"); err != nil {
		return err
	}
	chosen := o.selectMode(ctx, r)
	result.AutoSelection = &chosen
	result.Mode = chosen.Mode
	r.logger.Info("search mode selected", "selected", string(chosen.Mode), "rationale", chosen.Rationale)
	return o.dispatch(ctx, r, chosen.Mode, result)
}

// selectMode classifies the query. It never returns auto.
func (o *Orchestrator) selectMode(ctx context.Context, r *run) core.AutoSelection {
	var sel selection
	if err := o.generateJSON(ctx, o.plannerTier, classificationPrompt(r.req.Query, r.memory), &sel); err != nil {
		r.logger.Warn("mode classification failed", "err", err)
		return core.AutoSelection{
			Mode:      FallbackMode,
			Rationale: "Automatic selection failed, so documents and the web are both searched.",
		}
	}

	label := strings.ToLower(strings.TrimSpace(sel.Mode))
	if label == "web_only" {
		label = string(core.SearchModeOnlineOnly)
	}
	mode, err := core.ParseSearchMode(label)
	if err != nil || mode == core.SearchModeAuto {
		r.logger.Warn("classifier chose an unusable mode", "mode", sel.Mode)
		return core.AutoSelection{
			Mode:      FallbackMode,
			Rationale: fmt.Sprintf("The classifier suggested %q, which is not a searchable mode, so documents and the web are both searched.", sel.Mode),
		}
	}

	rationale := firstSentence(sel.Rationale)
	if rationale == "" {
		rationale = fmt.Sprintf("Selected %s for this question.", mode)
	}
	return core.AutoSelection{Mode: mode, Rationale: rationale}
}

// firstSentence trims s to its first sentence.
func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for i, r := range s {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(s) || s[i+1] == ' ') {
			return s[:i+1]
		}
	}
	return s
}
