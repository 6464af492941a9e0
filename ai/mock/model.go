package mock

import (
	"context"
	"sync"

	"github.com/poiesic/groundwork/ai"
)

// MockLanguageModel is a test double for ai.LanguageModel.
// Scripted responses are returned in order; once they run out, GenerateFunc
// is consulted, and without one the user prompt is echoed back.
type MockLanguageModel struct {
	// GenerateFunc is called by Generate once scripted responses are used up.
	GenerateFunc func(ctx context.Context, prompt ai.Prompt) (string, error)

	mu        sync.Mutex
	responses []response
	prompts   []ai.Prompt
}

type response struct {
	text string
	err  error
}

// NewMockLanguageModel creates a mock model that echoes prompts.
func NewMockLanguageModel() *MockLanguageModel {
	return &MockLanguageModel{}
}

// WithResponses queues successful answers.
func (m *MockLanguageModel) WithResponses(texts ...string) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, text := range texts {
		m.responses = append(m.responses, response{text: text})
	}
	return m
}

// WithError queues a failing answer.
func (m *MockLanguageModel) WithError(err error) *MockLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response{err: err})
	return m
}

// Generate records the prompt and returns the next scripted answer.
func (m *MockLanguageModel) Generate(ctx context.Context, prompt ai.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if len(m.responses) > 0 {
		next := m.responses[0]
		m.responses = m.responses[1:]
		m.mu.Unlock()
		return next.text, next.err
	}
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return prompt.User, nil
}

// CallCount returns the number of Generate calls.
func (m *MockLanguageModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received so far.
func (m *MockLanguageModel) Prompts() []ai.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.Prompt(nil), m.prompts...)
}

// Reset clears recorded prompts, queued responses and GenerateFunc.
func (m *MockLanguageModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
	m.responses = nil
	m.GenerateFunc = nil
}
