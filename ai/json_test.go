package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plan struct {
	UseCase string   `json:"use_case"`
	Steps   []string `json:"extraction_plan"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want plan
	}{
		{
			name: "plain object",
			in:   `{"use_case": "benchmarking", "extraction_plan": ["a", "b"]}`,
			want: plan{UseCase: "benchmarking", Steps: []string{"a", "b"}},
		},
		{
			name: "fenced",
			in:   "```json\n{\"use_case\": \"other\"}\n```",
			want: plan{UseCase: "other"},
		},
		{
			name: "surrounding prose",
			in:   "Here is the plan:\n{\"use_case\": \"market_intelligence\"}\nLet me know.",
			want: plan{UseCase: "market_intelligence"},
		},
		{
			name: "missing opening quote on key",
			in:   `{"use_case": "other", extraction_plan": ["x"]}`,
			want: plan{UseCase: "other", Steps: []string{"x"}},
		},
		{
			name: "commas inside values untouched",
			in:   `{"use_case": "a, b", "extraction_plan": ["revenue, margin"]}`,
			want: plan{UseCase: "a, b", Steps: []string{"revenue, margin"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got plan
			require.NoError(t, DecodeJSON(tt.in, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var got plan
	assert.ErrorIs(t, DecodeJSON("no json here", &got), ErrMalformedJSON)
	assert.ErrorIs(t, DecodeJSON(`{"use_case": }`, &got), ErrMalformedJSON)
}

func TestRepairJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1, "b": 2}`, repairJSON(`{"a": 1, b": 2}`))
	assert.Equal(t, `{"a": true}`, repairJSON(`{"a": true}`))
	assert.Equal(t, `[1, 2, 3]`, repairJSON(`[1, 2, 3]`))
}
