package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/groundwork/answer"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/executor"
	"github.com/poiesic/groundwork/jobs"
	"github.com/poiesic/groundwork/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runFunc func(ctx context.Context, req core.SearchRequest, monitor answer.Monitor) (*core.AnswerResult, error)

func (f runFunc) Run(ctx context.Context, req core.SearchRequest, monitor answer.Monitor) (*core.AnswerResult, error) {
	return f(ctx, req, monitor)
}

type recordingRunner struct {
	mu       sync.Mutex
	requests []core.SearchRequest
	result   *core.AnswerResult
	err      error
}

func (r *recordingRunner) Run(_ context.Context, req core.SearchRequest, monitor answer.Monitor) (*core.AnswerResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if monitor != nil {
		if err := monitor.Checkpoint(context.Background(), answer.Progress{Percent: 50, Step: "Halfway"}); err != nil {
			return nil, err
		}
	}
	return r.result, r.err
}

func (r *recordingRunner) last() core.SearchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

type fixture struct {
	runner  *recordingRunner
	tracker *jobs.Tracker
	exec    *executor.Executor
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, jobRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	tracker, err := jobs.NewTracker(jobRepo)
	require.NoError(t, err)

	runner := &recordingRunner{
		result: &core.AnswerResult{
			Mode:   core.SearchModeDocumentsOnly,
			Answer: "forty two",
			Hits: []core.RetrievalHit{{
				Chunk:  &core.Chunk{Id: 7, FileID: "f1", Content: "the answer is forty two", Metadata: core.ChunkMetadata{FileName: "guide.txt", Page: 1}},
				Score:  0.9,
				Method: core.RetrievalBoth,
				Rank:   1,
			}},
			TotalResults:   1,
			ProcessingTime: 1500 * time.Millisecond,
		},
	}

	exec, err := executor.New(tracker, runner, executor.WithWorkers(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(context.Background()) })

	srv, err := New(runner, exec, tracker)
	require.NoError(t, err)
	return &fixture{runner: runner, tracker: tracker, exec: exec, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, ErrAnswererRequired)

	t.Run("nil logger falls back to default", func(t *testing.T) {
		f := newFixture(t)
		srv, err := New(f.runner, f.exec, f.tracker, WithLogger(nil))
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSearchSync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/search", `{"query":"what is the answer","search_mode":"documents_only"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeBody[AnswerResponse](t, rec)
	assert.Equal(t, "forty two", resp.Answer)
	assert.Equal(t, "documents_only", resp.SearchMode)
	assert.Equal(t, 1, resp.TotalResults)
	assert.InDelta(t, 1.5, resp.ProcessingTime, 0.001)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "7", resp.Results[0].ChunkID)
	assert.Equal(t, "guide.txt", resp.Results[0].FileName)
	assert.Equal(t, "both", resp.Results[0].Method)

	req := f.runner.last()
	assert.Equal(t, DefaultTopK, req.TopK)
	assert.Equal(t, core.ReasoningNone, req.ReasoningMode)
}

func TestSearchHistoryKeepsQueryAndAnswerOnly(t *testing.T) {
	f := newFixture(t)

	body := `{
		"query": "and the second?",
		"search_mode": "both",
		"top_k": 3,
		"priority_order": ["online_search", "files"],
		"conversation_id": "conv-1",
		"conversation_history": [
			{"query": "first?", "answer": "one", "search_results": [{"x": 1}], "extracted_info": "ignored"}
		]
	}`
	rec := f.do(t, http.MethodPost, "/api/search", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req := f.runner.last()
	assert.Equal(t, 3, req.TopK)
	assert.Equal(t, "conv-1", req.ConversationID)
	assert.Equal(t, []core.KnowledgeSource{core.SourceOnlineSearch, core.SourceFiles}, req.PriorityOrder)
	assert.Equal(t, []core.ConversationTurn{{Query: "first?", Answer: "one"}}, req.History)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing search mode", `{"query":"q"}`, "search_mode"},
		{"unknown search mode", `{"query":"q","search_mode":"web_only"}`, "search_mode"},
		{"empty query", `{"query":"   ","search_mode":"both"}`, "query"},
		{"top_k zero", `{"query":"q","search_mode":"both","top_k":0}`, "top_k"},
		{"top_k wrong type", `{"query":"q","search_mode":"both","top_k":"five"}`, "top_k"},
		{"unknown reasoning mode", `{"query":"q","search_mode":"both","reasoning_mode":"fast"}`, "reasoning_mode"},
		{"unknown source", `{"query":"q","search_mode":"both","priority_order":["files","intranet"]}`, "priority_order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/search", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.field, resp.Field)
			assert.NotEmpty(t, resp.Error)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/search", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearchBodyLimit(t *testing.T) {
	_, jobRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	tracker, err := jobs.NewTracker(jobRepo)
	require.NoError(t, err)
	runner := &recordingRunner{result: &core.AnswerResult{}}
	exec, err := executor.New(tracker, runner)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(context.Background()) })

	srv, err := New(runner, exec, tracker, WithMaxBodyBytes(64))
	require.NoError(t, err)

	big := `{"query":"` + strings.Repeat("a", 256) + `","search_mode":"both"}`
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewBufferString(big))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSearchUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.result = &core.AnswerResult{
		Mode:          core.SearchModeSequential,
		ExtractedInfo: "partial findings",
		Partial:       true,
		FailedStep:    "web_search",
		Error:         "upstream unavailable",
	}
	f.runner.err = errors.New("web search: upstream unavailable")

	rec := f.do(t, http.MethodPost, "/api/search", `{"query":"q","search_mode":"sequential_analysis"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "upstream unavailable")
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Partial)
	assert.Equal(t, "partial findings", resp.Result.ExtractedInfo)
	assert.Equal(t, "web_search", resp.Result.FailedStep)
}

func TestSearchLongRunningQueuesJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/search", `{"query":"deep question","search_mode":"sequential_analysis","reasoning_mode":"deep_research"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := decodeBody[JobAccepted](t, rec)
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, "pending", accepted.Status)
	assert.Equal(t, core.DeepResearch.EstimatedTime(), accepted.EstimatedTime)
	assert.Contains(t, accepted.Message, accepted.JobID)

	var job JobResponse
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/search/jobs/"+accepted.JobID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		job = decodeBody[JobResponse](t, rec)
		return job.Status == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.AnswerResponse)
	assert.Equal(t, "forty two", job.Answer)
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/search/jobs/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("pending job has no result", func(t *testing.T) {
		job, err := f.tracker.Create(ctx, core.SearchRequest{Query: "q", TopK: 5, SearchMode: core.SearchModeBoth, ReasoningMode: core.DeepResearch})
		require.NoError(t, err)

		rec := f.do(t, http.MethodGet, "/api/search/jobs/"+job.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		assert.Equal(t, "pending", raw["status"])
		assert.NotContains(t, raw, "results")
	})
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.tracker.Create(ctx, core.SearchRequest{Query: "q", TopK: 5, SearchMode: core.SearchModeBoth, ReasoningMode: core.DeepResearch})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/search/jobs/"+job.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[CancelResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Job cancelled", resp.Message)

	rec = f.do(t, http.MethodDelete, "/api/search/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[CancelResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Job already cancelled", resp.Message)

	got, err := f.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, got.Status)

	rec = f.do(t, http.MethodPost, "/api/search/jobs/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp = decodeBody[CancelResponse](t, rec)
	assert.False(t, resp.Success)
}

func TestHealthAndRouting(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoverer(t *testing.T) {
	_, jobRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	tracker, err := jobs.NewTracker(jobRepo)
	require.NoError(t, err)

	panicky := runFunc(func(context.Context, core.SearchRequest, answer.Monitor) (*core.AnswerResult, error) {
		panic("boom")
	})
	exec, err := executor.New(tracker, panicky)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(context.Background()) })

	srv, err := New(panicky, exec, tracker)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"q","search_mode":"both"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	_, jobRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	tracker, err := jobs.NewTracker(jobRepo)
	require.NoError(t, err)
	runner := &recordingRunner{result: &core.AnswerResult{}}
	exec, err := executor.New(tracker, runner)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(context.Background()) })
	srv, err := New(runner, exec, tracker)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
