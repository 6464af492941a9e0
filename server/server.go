// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the answer engine over HTTP.
//
// Routes:
//
//	POST   /api/search                  run a search, or queue it as a job for long-running tiers
//	GET    /api/search/jobs/{id}        poll a job
//	POST   /api/search/jobs/{id}/cancel cancel a job
//	DELETE /api/search/jobs/{id}        alias for cancel
//	GET    /healthz                     liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/poiesic/groundwork/answer"
	"github.com/poiesic/groundwork/core"
)

// Answerer runs a search synchronously.
type Answerer interface {
	Run(ctx context.Context, req core.SearchRequest, monitor answer.Monitor) (*core.AnswerResult, error)
}

// Submitter queues a search as a background job.
type Submitter interface {
	Submit(ctx context.Context, req core.SearchRequest) (*core.SearchJob, error)
}

// JobStore reads and cancels jobs.
type JobStore interface {
	Get(ctx context.Context, id string) (*core.SearchJob, error)
	Cancel(ctx context.Context, id string) (*core.SearchJob, bool, error)
}

var (
	ErrAnswererRequired  = errors.New("answerer required")
	ErrSubmitterRequired = errors.New("job submitter required")
	ErrJobStoreRequired  = errors.New("job store required")
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Server serves the search API.
type Server struct {
	answerer  Answerer
	submitter Submitter
	jobs      JobStore
	logger    *slog.Logger

	maxBodyBytes int64
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

// WithMaxBodyBytes bounds request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithTimeouts sets the HTTP server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// New creates a server.
func New(answerer Answerer, submitter Submitter, jobs JobStore, opts ...Option) (*Server, error) {
	if answerer == nil {
		return nil, ErrAnswererRequired
	}
	if submitter == nil {
		return nil, ErrSubmitterRequired
	}
	if jobs == nil {
		return nil, ErrJobStoreRequired
	}
	s := &Server{
		answerer:     answerer,
		submitter:    submitter,
		jobs:         jobs,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		readTimeout:  30 * time.Second,
		writeTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")
	return s, nil
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/search/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/search/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("DELETE /api/search/jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.recoverer(s.accessLog(mux))
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
