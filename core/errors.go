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

import "errors"

// Domain validation errors
var (
	// ErrInvalidRequest is wrapped by every request validation failure.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEmptyQuery indicates the query is empty or whitespace.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidSearchMode indicates an unknown search mode.
	ErrInvalidSearchMode = errors.New("invalid search mode")

	// ErrInvalidReasoningMode indicates an unknown reasoning mode.
	ErrInvalidReasoningMode = errors.New("invalid reasoning mode")

	// ErrInvalidKnowledgeSource indicates an unknown priority order entry.
	ErrInvalidKnowledgeSource = errors.New("invalid knowledge source")

	// ErrInvalidTopK indicates top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidTransition indicates a job status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
