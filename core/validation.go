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

package core

import (
	"fmt"
	"strings"
)

// MaxTopK bounds how many hits a request may ask for.
const MaxTopK = 100

// FieldError reports which request field failed validation.
// It wraps ErrInvalidRequest and the field specific cause.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrInvalidRequest, e.Err}
}

func fieldErr(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// ValidateSearchRequest validates a request according to domain rules.
//
// Validation rules:
//   - Query must contain non-whitespace text
//   - TopK must be between 1 and MaxTopK
//   - SearchMode and ReasoningMode must be known values
//   - PriorityOrder entries must be known and unique
//
// Nothing is defaulted here; callers fill defaults before validating.
func ValidateSearchRequest(req *SearchRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}

	if strings.TrimSpace(req.Query) == "" {
		return fieldErr("query", ErrEmptyQuery)
	}

	if req.TopK < 1 || req.TopK > MaxTopK {
		return fieldErr("top_k", fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTopK, MaxTopK, req.TopK))
	}

	if !req.SearchMode.Valid() {
		return fieldErr("search_mode", fmt.Errorf("%w: %q", ErrInvalidSearchMode, req.SearchMode))
	}

	if !req.ReasoningMode.Valid() {
		return fieldErr("reasoning_mode", fmt.Errorf("%w: %q", ErrInvalidReasoningMode, req.ReasoningMode))
	}

	seen := make(map[KnowledgeSource]bool, len(req.PriorityOrder))
	for _, src := range req.PriorityOrder {
		if !src.Valid() {
			return fieldErr("priority_order", fmt.Errorf("%w: %q", ErrInvalidKnowledgeSource, src))
		}
		if seen[src] {
			return fieldErr("priority_order", fmt.Errorf("%w: %q listed twice", ErrInvalidKnowledgeSource, src))
		}
		seen[src] = true
	}

	return nil
}

// ValidateChunk validates a Chunk before it is stored.
//
// Validation rules:
//   - FileID must not be empty
//   - Content must not be empty
//
// NOT validated:
//   - Vector (can be empty until the embedding step runs)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.FileID == "" {
		return fmt.Errorf("%w: file id cannot be empty", ErrInvalidChunk)
	}
	if strings.TrimSpace(chunk.Content) == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrInvalidChunk)
	}
	return nil
}
