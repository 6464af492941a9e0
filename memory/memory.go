// Package memory compacts conversation history into a bounded context block
// for generation prompts.
package memory

import (
	"strings"

	"github.com/poiesic/groundwork/core"
)

const (
	// MaxTurns is how many of the most recent turns are remembered.
	MaxTurns = 5
	// MaxAnswerRunes bounds each remembered answer.
	MaxAnswerRunes = 500
	// TruncationMarker is appended to answers cut at MaxAnswerRunes.
	TruncationMarker = "... [truncated]"

	header      = "Previous conversation context:"
	instruction = `Use the conversation above to resolve references such as "it", "that" or "them" in the current question.`
)

// Format renders the last MaxTurns turns of history, oldest first, as a
// context block. Only the query and answer of each turn are used. Returns
// "" for an empty history so callers can omit the block entirely.
func Format(history []core.ConversationTurn) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > MaxTurns {
		history = history[len(history)-MaxTurns:]
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	for _, turn := range history {
		sb.WriteString("User: ")
		sb.WriteString(strings.TrimSpace(turn.Query))
		sb.WriteString("\nAssistant: ")
		sb.WriteString(truncate(strings.TrimSpace(turn.Answer)))
		sb.WriteString("\n")
	}
	sb.WriteString(instruction)
	return sb.String()
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxAnswerRunes {
		return s
	}
	return string(runes[:MaxAnswerRunes]) + TruncationMarker
}
