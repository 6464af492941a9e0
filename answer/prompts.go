package answer

import (
	"fmt"
	"strings"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
)

const (
	// NoDocumentsAnswer is returned by documents_only when retrieval finds nothing.
	NoDocumentsAnswer = "No relevant documents were found for this question in the available files."

	// noDocumentsExtraction stands in for extracted facts when retrieval finds nothing.
	noDocumentsExtraction = "No relevant documents were found, so no facts could be extracted from the files."
)

const answerSystem = `You are a research assistant. Answer using only the information you are given.
Cite document excerpts by their bracketed number, e.g. [2]. If the information
is insufficient, say so plainly instead of guessing.`

const webSystem = `You are a research assistant with live web search. Search the web to answer
the question, prefer recent and authoritative sources, and cite the sources you use.`

const extractionSystem = `You extract facts from document excerpts. Report exactly the facts requested.
For every requested fact that the excerpts do not contain, write "Not found in documents".
Never invent figures, names or dates. Cite excerpts by their bracketed number.`

const planningSystem = `You plan research for questions that compare internal documents with
information from the web. Classify the question and plan the work.

Respond with a single JSON object:
{"use_case": "...", "extraction_plan": ["..."], "search_strategy": "...", "output_format": "..."}

use_case is one of competitive_analysis, follow_up_questions, benchmarking,
market_intelligence, other.

Examples:

Question: How does our pricing compare to our main competitors?
{"use_case": "competitive_analysis", "extraction_plan": ["our product names", "our list prices", "pricing tiers"], "search_strategy": "Look up current list prices of the competitors for the same product categories.", "output_format": "comparison table"}

Question: What should I ask the vendor after reading this proposal?
{"use_case": "follow_up_questions", "extraction_plan": ["vendor commitments", "open risks", "missing details"], "search_strategy": "Find common issues and reviews about this vendor.", "output_format": "numbered list"}

Question: Is our churn rate good for a SaaS company of our size?
{"use_case": "benchmarking", "extraction_plan": ["churn rate", "customer count", "revenue band"], "search_strategy": "Find published churn benchmarks for SaaS companies in the same revenue band.", "output_format": "benchmark table"}

Question: What is happening in the market described in this report?
{"use_case": "market_intelligence", "extraction_plan": ["market segment", "key players named", "time period"], "search_strategy": "Search for recent news and analyst coverage of the segment and players.", "output_format": "trend summary"}`

const classificationSystem = `You route questions to a search strategy. Choose one mode:
- documents_only: the answer is in the user's uploaded files
- online_only: the answer needs current public information and no files
- both: the answer benefits from the files and the web independently
- sequential_analysis: facts must first be pulled from the files and then
  compared with or researched on the web

Respond with a single JSON object: {"mode": "...", "rationale": "one sentence"}`

// outputFormats shapes the final synthesis per use case.
var outputFormats = map[core.UseCase]string{
	core.UseCaseCompetitiveAnalysis: "Start with a markdown table with one row per competitor and one column per extracted attribute, then list the key takeaways.",
	core.UseCaseFollowUpQuestions:   "Write a numbered list of follow-up questions, each followed by one line on why it matters.",
	core.UseCaseBenchmarking:        "Start with a markdown table comparing the internal figures with the external benchmarks, then explain where they diverge.",
	core.UseCaseMarketIntelligence:  "Summarize the relevant market trends, then list their implications for the documents' subject as bullet points.",
	core.UseCaseOther:               "Answer in clear prose, using short sections where they help.",
}

// userPrompt prefixes the conversation memory block, when present.
func userPrompt(memory string, parts ...string) string {
	var sb strings.Builder
	if memory != "" {
		sb.WriteString(memory)
		sb.WriteString("\n\n")
	}
	for i, p := range parts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// formatHits renders retrieved chunks as numbered excerpts.
func formatHits(hits []core.RetrievalHit) string {
	if len(hits) == 0 {
		return "(no relevant document excerpts)"
	}
	var sb strings.Builder
	for i, h := range hits {
		name := h.Chunk.Metadata.FileName
		if name == "" {
			name = h.Chunk.FileID
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, name)
		if h.Chunk.Metadata.Page > 0 {
			fmt.Fprintf(&sb, ", page %d", h.Chunk.Metadata.Page)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(h.Chunk.Content))
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func documentsPrompt(query, memory string, hits []core.RetrievalHit) ai.Prompt {
	return ai.Prompt{
		System: answerSystem,
		User: userPrompt(memory,
			"Document excerpts:\n"+formatHits(hits),
			"Question: "+query),
	}
}

func webPrompt(query, memory string) ai.Prompt {
	return ai.Prompt{
		System:    webSystem,
		User:      userPrompt(memory, "Question: "+query),
		WebSearch: true,
	}
}

// bothPrompt presents the knowledge sources in priority order; the first
// source takes precedence when they disagree.
func bothPrompt(query, memory string, order []core.KnowledgeSource, hits []core.RetrievalHit, web string, webRan bool) ai.Prompt {
	sections := make([]string, 0, len(order)+2)
	names := make([]string, 0, len(order))
	for _, src := range order {
		switch src {
		case core.SourceFiles:
			sections = append(sections, "Document excerpts:\n"+formatHits(hits))
			names = append(names, "the document excerpts")
		case core.SourceOnlineSearch:
			if webRan {
				sections = append(sections, "Web search results:\n"+web)
				names = append(names, "the web search results")
			}
		}
	}
	sections = append(sections,
		fmt.Sprintf("Combine these sources into one answer. Give priority to %s.", strings.Join(names, ", then ")),
		"Question: "+query)
	return ai.Prompt{System: answerSystem, User: userPrompt(memory, sections...)}
}

func planningPrompt(query, memory string) ai.Prompt {
	return ai.Prompt{
		System: planningSystem,
		User:   userPrompt(memory, "Question: "+query),
		JSON:   true,
	}
}

func extractionPrompt(query, memory string, plan Plan, hits []core.RetrievalHit) ai.Prompt {
	return ai.Prompt{
		System: extractionSystem,
		User: userPrompt(memory,
			"Facts to extract:\n- "+strings.Join(plan.ExtractionPlan, "\n- "),
			"Document excerpts:\n"+formatHits(hits),
			"Question: "+query),
	}
}

func guidedSearchPrompt(query, memory string, plan Plan, extracted string) ai.Prompt {
	return ai.Prompt{
		System: webSystem,
		User: userPrompt(memory,
			"Facts extracted from the user's documents:\n"+extracted,
			"Search strategy: "+plan.SearchStrategy,
			"Use the facts above to search the web for the information needed to answer: "+query),
		WebSearch: true,
	}
}

func synthesisPrompt(query, memory string, useCase core.UseCase, plan Plan, extracted, web string) ai.Prompt {
	format := outputFormats[useCase]
	if plan.OutputFormat != "" {
		format += " Preferred layout: " + plan.OutputFormat + "."
	}
	return ai.Prompt{
		System: answerSystem,
		User: userPrompt(memory,
			"Facts from the user's documents:\n"+extracted,
			"Findings from the web:\n"+web,
			"Format: "+format,
			"Question: "+query),
	}
}

func classificationPrompt(query, memory string) ai.Prompt {
	return ai.Prompt{
		System: classificationSystem,
		User:   userPrompt(memory, "Question: "+query),
		JSON:   true,
	}
}
