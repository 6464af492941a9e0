package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/jobs"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.toCore()
	if err != nil {
		s.writeError(w, err)
		return
	}

	if req.ReasoningMode.IsLongRunning() {
		job, err := s.submitter.Submit(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, JobAccepted{
			JobID:         job.ID,
			Status:        string(job.Status),
			Message:       fmt.Sprintf("Search queued. Poll /api/search/jobs/%s for progress.", job.ID),
			EstimatedTime: req.ReasoningMode.EstimatedTime(),
		})
		return
	}

	result, err := s.answerer.Run(r.Context(), req, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			s.logger.Info("client went away during search")
			return
		}
		if errors.Is(err, core.ErrInvalidRequest) {
			s.writeError(w, err)
			return
		}
		s.logger.Warn("search failed", "err", err, "mode", string(req.SearchMode))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:  err.Error(),
			Result: newAnswerResponse(result),
		})
		return
	}
	writeJSON(w, http.StatusOK, newAnswerResponse(result))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, changed, err := s.jobs.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, CancelResponse{Success: false, Message: "Job not found"})
			return
		}
		s.writeError(w, err)
		return
	}

	msg := "Job cancelled"
	if !changed {
		msg = fmt.Sprintf("Job already %s", job.Status)
	}
	writeJSON(w, http.StatusOK, CancelResponse{Success: true, Message: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body. Unknown fields are ignored.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &core.FieldError{
				Field: typeErr.Field,
				Err:   fmt.Errorf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		}
		return &decodeError{err: err}
	}
	return nil
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "malformed request body: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// writeError maps err to a status code and JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		fieldErr *core.FieldError
		decErr   *decodeError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)})
	case errors.As(err, &fieldErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fieldErr.Error(), Field: fieldErr.Field})
	case errors.As(err, &decErr), errors.Is(err, core.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
