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

// Package answer orchestrates answer generation for every search mode.
//
// An Orchestrator turns a core.SearchRequest into a core.AnswerResult by
// combining conversation memory, hybrid document retrieval and calls to the
// language model tier named by the request's reasoning mode:
//
//   - documents_only: retrieve, then answer from the retrieved chunks
//   - online_only: a single web-search capable generation call
//   - both: retrieval and web search run concurrently, then one synthesis
//     call merges them in the requested priority order
//   - sequential_analysis: plan, extract facts from documents, search the
//     web with those facts, then synthesize in the planned format
//   - auto: a classification call picks one of the modes above
//
// Progress is reported through a Monitor at every step boundary. A Monitor
// that returns an error (usually ErrCancelled) stops the run before the next
// step begins; a model call already in flight is allowed to finish and its
// output is kept in the returned partial result.
package answer
