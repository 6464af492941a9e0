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

package reembed

import (
	"context"

	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to fetch in each batch
	DefaultBatchSize = 100
)

// ChunkIterator iterates over all stored chunks in batches.
type ChunkIterator struct {
	repo      storage.ChunkRepository
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks to fetch in each batch (must be > 0)
func NewChunkIterator(repo storage.ChunkRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// IDs returns the ids of every stored chunk.
func (it *ChunkIterator) IDs(ctx context.Context) ([]core.ID, error) {
	var ids []core.ID
	err := it.repo.ForEachChunk(ctx, func(c *core.Chunk) error {
		ids = append(ids, c.Id)
		return nil
	})
	return ids, err
}

// ForEach calls fn with batches of chunks until every chunk has been seen
// or fn returns an error. Ids are collected up front so fn may write to
// the repository; chunks deleted in the meantime are skipped.
// Context cancellation is checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	ids, err := it.IDs(ctx)
	if err != nil {
		return err
	}
	return it.forEach(ctx, ids, fn)
}

func (it *ChunkIterator) forEach(ctx context.Context, ids []core.ID, fn func([]*core.Chunk) error) error {
	for start := 0; start < len(ids); start += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := it.repo.GetChunks(ctx, ids[start:min(start+it.batchSize, len(ids))]...)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}
