package server

import (
	"fmt"
	"time"

	"github.com/poiesic/groundwork/core"
)

// DefaultTopK is used when a request omits top_k.
const DefaultTopK = 5

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query               string        `json:"query"`
	TopK                *int          `json:"top_k"`
	SearchMode          string        `json:"search_mode"`
	ReasoningMode       string        `json:"reasoning_mode"`
	PriorityOrder       []string      `json:"priority_order"`
	ConversationHistory []HistoryTurn `json:"conversation_history"`
	ConversationID      *string       `json:"conversation_id"`
}

// HistoryTurn is one remembered exchange. Any other field a client sends
// with a turn is dropped during decoding.
type HistoryTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// toCore converts the body into a validated request. Omitted top_k and
// reasoning_mode take defaults; present values are never replaced.
func (r *SearchRequest) toCore() (core.SearchRequest, error) {
	if r.SearchMode == "" {
		return core.SearchRequest{}, &core.FieldError{
			Field: "search_mode",
			Err:   fmt.Errorf("%w: search_mode is required", core.ErrInvalidSearchMode),
		}
	}

	req := core.SearchRequest{
		Query:         r.Query,
		TopK:          DefaultTopK,
		SearchMode:    core.SearchMode(r.SearchMode),
		ReasoningMode: core.ReasoningNone,
	}
	if r.TopK != nil {
		req.TopK = *r.TopK
	}
	if r.ReasoningMode != "" {
		req.ReasoningMode = core.ReasoningMode(r.ReasoningMode)
	}
	for _, src := range r.PriorityOrder {
		req.PriorityOrder = append(req.PriorityOrder, core.KnowledgeSource(src))
	}
	for _, turn := range r.ConversationHistory {
		req.History = append(req.History, core.ConversationTurn{Query: turn.Query, Answer: turn.Answer})
	}
	if r.ConversationID != nil {
		req.ConversationID = *r.ConversationID
	}

	if err := core.ValidateSearchRequest(&req); err != nil {
		return core.SearchRequest{}, err
	}
	return req, nil
}

// Hit is one retrieved chunk.
type Hit struct {
	ChunkID     string  `json:"chunk_id"`
	FileID      string  `json:"file_id"`
	FileName    string  `json:"file_name,omitempty"`
	FileType    string  `json:"file_type,omitempty"`
	Page        int     `json:"page,omitempty"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
	Method      string  `json:"method"`
	Rank        int     `json:"rank"`
	DenseRank   int     `json:"dense_rank,omitempty"`
	KeywordRank int     `json:"keyword_rank,omitempty"`
}

// AutoSelection reports the mode chosen by auto.
type AutoSelection struct {
	Mode      string `json:"mode"`
	Rationale string `json:"rationale"`
}

// AnswerResponse is the result of a run.
type AnswerResponse struct {
	SearchMode           string         `json:"search_mode"`
	Answer               string         `json:"answer,omitempty"`
	ExtractedInfo        string         `json:"extracted_info,omitempty"`
	OnlineSearchResponse string         `json:"online_search_response,omitempty"`
	Results              []Hit          `json:"results"`
	TotalResults         int            `json:"total_results"`
	ProcessingTime       float64        `json:"processing_time"`
	UseCase              string         `json:"use_case,omitempty"`
	AutoSelection        *AutoSelection `json:"auto_selection,omitempty"`
	Partial              bool           `json:"partial,omitempty"`
	FailedStep           string         `json:"failed_step,omitempty"`
	Error                string         `json:"error,omitempty"`
}

func newAnswerResponse(res *core.AnswerResult) *AnswerResponse {
	if res == nil {
		return nil
	}
	out := &AnswerResponse{
		SearchMode:           string(res.Mode),
		Answer:               res.Answer,
		ExtractedInfo:        res.ExtractedInfo,
		OnlineSearchResponse: res.OnlineSearchResponse,
		Results:              make([]Hit, 0, len(res.Hits)),
		TotalResults:         res.TotalResults,
		ProcessingTime:       res.ProcessingTime.Seconds(),
		UseCase:              string(res.UseCase),
		Partial:              res.Partial,
		FailedStep:           res.FailedStep,
		Error:                res.Error,
	}
	if res.AutoSelection != nil {
		out.AutoSelection = &AutoSelection{Mode: string(res.AutoSelection.Mode), Rationale: res.AutoSelection.Rationale}
	}
	for _, h := range res.Hits {
		if h.Chunk == nil {
			continue
		}
		out.Results = append(out.Results, Hit{
			ChunkID:     h.Chunk.Id.String(),
			FileID:      h.Chunk.FileID,
			FileName:    h.Chunk.Metadata.FileName,
			FileType:    h.Chunk.Metadata.FileType,
			Page:        h.Chunk.Metadata.Page,
			Content:     h.Chunk.Content,
			Score:       h.Score,
			Method:      string(h.Method),
			Rank:        h.Rank,
			DenseRank:   h.DenseRank,
			KeywordRank: h.KeywordRank,
		})
	}
	return out
}

// JobAccepted is returned when a search is queued.
type JobAccepted struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	EstimatedTime string `json:"estimated_time"`
}

// JobResponse is the polled state of a job. Once the job has a result,
// its fields are included inline.
type JobResponse struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	CurrentStep  string    `json:"current_step,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	*AnswerResponse
}

func newJobResponse(job *core.SearchJob) JobResponse {
	resp := JobResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.Status.IsTerminal() {
		resp.AnswerResponse = newAnswerResponse(job.Result)
	}
	return resp
}

// CancelResponse is returned by the cancel endpoints.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Field  string          `json:"field,omitempty"`
	Result *AnswerResponse `json:"result,omitempty"`
}
