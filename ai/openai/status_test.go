package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/groundwork/ai"
	"github.com/poiesic/groundwork/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"nil", nil, false},
		{"unauthorized", errors.New("API returned unexpected status code: 401: invalid api key"), true},
		{"unknown model", errors.New("API returned unexpected status code: 404: model not found"), true},
		{"rate limited", errors.New("API returned unexpected status code: 429: slow down"), false},
		{"request timeout", errors.New("API returned unexpected status code: 408"), false},
		{"server error", errors.New("API returned unexpected status code: 503"), false},
		{"transport", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.permanent, ai.IsPermanent(got))
			if tt.permanent {
				assert.ErrorIs(t, got, ai.ErrRequestRejected)
				assert.ErrorIs(t, got, tt.err)
			} else {
				assert.Equal(t, tt.err, got)
			}
		})
	}
}

func TestModelGenerate_RejectedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	cfg := ai.NewConfig(ai.WithHost(srv.URL+"/v1"), ai.WithAPIKey("sk-wrong"))
	provider, err := NewProvider(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	model, err := provider.LanguageModel(core.ReasoningNone)
	require.NoError(t, err)

	_, err = model.Generate(context.Background(), ai.Prompt{User: "question"})
	require.Error(t, err)
	assert.True(t, ai.IsPermanent(err))
	assert.ErrorIs(t, err, ai.ErrRequestRejected)
}
