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

// Package search provides hybrid dense and keyword retrieval over document chunks.
//
// The Ensemble queries a dense index (vector similarity) and a keyword index
// (BM25) for the same query and scope, then merges both lists into a single
// ranking:
//   - hits are deduplicated by chunk identity
//   - chunks found by both sources are tagged "both" and their scores are
//     combined as 1-(1-dense)(1-keyword)
//   - ties are broken by dense rank, then keyword rank
//
// When one source fails the ensemble degrades to the other with a logged
// warning; only the failure of both is an error.
package search
