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

// Package storage provides the storage abstraction layer for groundwork.
//
// This package defines repository interfaces that decouple storage implementation
// from retrieval and job orchestration. Backends are interchangeable:
//
//   - storage/badger: embedded BadgerDB for chunks and jobs (default)
//   - storage/pgvector: PostgreSQL + pgvector chunk store
//   - storage/postgres: PostgreSQL job store
//
// # Architecture
//
//   - ChunkRepository: document chunks, nearest-neighbour search, per-file deletion
//   - JobRepository: durable SearchJob records keyed by opaque job ID
//
// Badger values are encoded with the mus-go primitive serializers in
// serialization.go. Every record starts with a layout version.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chunks := badger.NewChunkRepository(backend)
//	jobs := badger.NewJobRepository(backend)
//
// Use in tests with in-memory storage:
//
//	chunks, jobs, backend, err := badger.NewMemoryRepositories()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
