package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// fakeOpenAI serves embeddings and chat completions.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		data := make([]map[string]any, len(body.Input))
		for i, text := range body.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": bagOfWords(text)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embed",
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "chat-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Vacation accrues at two days a month."},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func bagOfWords(text string) []float32 {
	vec := make([]float32, 16)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%16]++
	}
	return vec
}

func writeConfig(t *testing.T, host string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "groundwork.yaml")
	content := fmt.Sprintf(`storage:
  path: %s
ai:
  host: %s/v1
  embedding_host: %s/v1
  embedding_model: test-embed
  max_attempts: 1
`, filepath.Join(dir, "data"), host, host)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"groundwork", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	return stdout.String(), err
}

func TestSetupLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		t.Run(level, func(t *testing.T) {
			_, err := run(t, "--log-level", level, "config", "show")
			assert.NoError(t, err)
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		_, err := run(t, "--log-level", "loud", "config", "show")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "groundwork.yaml")

	out, err := run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	assert.FileExists(t, path)

	_, err = run(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: badger")
}

func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ask without question", []string{"ask"}, "question is required"},
		{"ask with unknown mode", []string{"ask", "--mode", "web_only", "hello"}, "search_mode"},
		{"ingest without files", []string{"ingest"}, "at least one file"},
		{"ingest file id with many files", []string{"ingest", "--file-id", "x", "a.txt", "b.txt"}, "single file"},
		{"delete without id", []string{"delete-file"}, "file id is required"},
		{"cancel without id", []string{"jobs", "cancel"}, "job id is required"},
		{"unknown job status", []string{"jobs", "list", "--status", "sleeping"}, "unknown job status"},
		{"reembed bad batch size", []string{"reembed", "--batch-size", "0"}, "batch-size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIngestAskAndDelete(t *testing.T) {
	srv := fakeOpenAI(t)
	cfgPath := writeConfig(t, srv.URL)

	doc := filepath.Join(t.TempDir(), "handbook.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Employees accrue vacation at two days per month.\fSick leave is unlimited."), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "handbook.txt: 2 chunks")

	out, err = run(t, "--config", cfgPath, "ask", "how", "much", "vacation")
	require.NoError(t, err)
	assert.Contains(t, out, "Vacation accrues at two days a month.")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "handbook.txt p.1")

	_, err = run(t, "--config", cfgPath, "reembed", "--batch-size", "1")
	require.NoError(t, err)

	out, err = run(t, "--config", cfgPath, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	out, err = run(t, "--config", cfgPath, "delete-file", "handbook.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 chunks")
}
