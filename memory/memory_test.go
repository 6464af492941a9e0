package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/groundwork/core"
)

func turns(n int) []core.ConversationTurn {
	history := make([]core.ConversationTurn, n)
	for i := range history {
		history[i] = core.ConversationTurn{
			Query:  fmt.Sprintf("question %d", i),
			Answer: fmt.Sprintf("answer %d", i),
		}
	}
	return history
}

func TestFormatEmpty(t *testing.T) {
	if got := Format(nil); got != "" {
		t.Errorf("Format(nil) = %q, want empty", got)
	}
	if got := Format([]core.ConversationTurn{}); got != "" {
		t.Errorf("Format(empty) = %q, want empty", got)
	}
}

func TestFormatKeepsLastFiveTurns(t *testing.T) {
	for _, n := range []int{1, 5, 6, 12} {
		t.Run(fmt.Sprintf("%d turns", n), func(t *testing.T) {
			got := Format(turns(n))

			want := min(n, MaxTurns)
			if c := strings.Count(got, "User: "); c != want {
				t.Errorf("got %d user lines, want %d", c, want)
			}
			if c := strings.Count(got, "Assistant: "); c != want {
				t.Errorf("got %d assistant lines, want %d", c, want)
			}
			for i := range n {
				included := strings.Contains(got, fmt.Sprintf("question %d\n", i))
				if i >= n-want && !included {
					t.Errorf("turn %d missing", i)
				}
				if i < n-want && included {
					t.Errorf("turn %d should have been dropped", i)
				}
			}
		})
	}
}

func TestFormatOrderAndFraming(t *testing.T) {
	got := Format(turns(2))

	if !strings.HasPrefix(got, header+"\n") {
		t.Errorf("missing header: %q", got)
	}
	if !strings.HasSuffix(got, instruction) {
		t.Errorf("missing instruction: %q", got)
	}
	if strings.Index(got, "question 0") > strings.Index(got, "question 1") {
		t.Errorf("turns out of order: %q", got)
	}
	if !strings.Contains(got, "User: question 1\nAssistant: answer 1\n") {
		t.Errorf("unexpected turn layout: %q", got)
	}
}

func TestFormatTruncatesAnswers(t *testing.T) {
	long := strings.Repeat("é", MaxAnswerRunes+50)
	exact := strings.Repeat("x", MaxAnswerRunes)
	got := Format([]core.ConversationTurn{
		{Query: "long", Answer: long},
		{Query: "exact", Answer: exact},
	})

	want := strings.Repeat("é", MaxAnswerRunes) + TruncationMarker + "\n"
	if !strings.Contains(got, "Assistant: "+want) {
		t.Errorf("long answer not truncated to %d runes plus marker", MaxAnswerRunes)
	}
	if strings.Contains(got, strings.Repeat("é", MaxAnswerRunes+1)) {
		t.Error("truncated answer exceeds the bound")
	}
	if !strings.Contains(got, "Assistant: "+exact+"\n") {
		t.Error("answer at the bound should be kept whole")
	}
	if strings.Count(got, TruncationMarker) != 1 {
		t.Error("only the long answer should carry the marker")
	}
}
