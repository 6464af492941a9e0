package openai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// Model implements ai.LanguageModel for one reasoning tier.
type Model struct {
	mode        core.ReasoningMode
	chat        llms.Model
	search      llms.Model
	temperature float64
	limiter     *rate.Limiter
	logger      *slog.Logger
}

func newModel(mode core.ReasoningMode, tier ai.ModelConfig, token string, limiter *rate.Limiter) (*Model, error) {
	chat, err := newClient(tier.Host, token, tier.Model)
	if err != nil {
		return nil, err
	}

	var search llms.Model = chat
	if tier.SearchModel != "" && tier.SearchModel != tier.Model {
		search, err = newClient(tier.Host, token, tier.SearchModel)
		if err != nil {
			return nil, err
		}
	}

	return &Model{
		mode:        mode,
		chat:        chat,
		search:      search,
		temperature: tier.Temperature,
		limiter:     limiter,
		logger:      slog.Default().With("component", "openai-model", "tier", string(mode)),
	}, nil
}

// Generate sends the prompt to the tier's chat model, or to its search
// model when the prompt needs web results.
func (m *Model) Generate(ctx context.Context, prompt ai.Prompt) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}

	content := make([]llms.MessageContent, 0, 2)
	if prompt.System != "" {
		content = append(content, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt.System)},
		})
	}
	content = append(content, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt.User)},
	})

	client := m.chat
	var opts []llms.CallOption
	if prompt.WebSearch {
		// Search models accept neither JSON mode nor a temperature.
		client = m.search
	} else {
		if m.temperature >= 0 {
			opts = append(opts, llms.WithTemperature(m.temperature))
		}
		if prompt.JSON {
			opts = append(opts, llms.WithJSONMode())
		}
	}

	m.logger.Debug("generating", "web_search", prompt.WebSearch, "json", prompt.JSON, "length", len(prompt.User))
	response, err := client.GenerateContent(ctx, content, opts...)
	if err != nil {
		m.logger.Error("failed to generate content", "err", err)
		return "", classify(err)
	}

	if len(response.Choices) < 1 || strings.TrimSpace(response.Choices[0].Content) == "" {
		m.logger.Warn("model returned no content")
		return "", ai.ErrEmptyResponse
	}
	return response.Choices[0].Content, nil
}
