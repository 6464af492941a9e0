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

package badger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (r *ChunkRepository) Close() error {
	return nil
}

// AddChunks stores chunks, replacing any chunk with the same ID.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, err
		}
	}

	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, chunk := range chunks {
			key := makeChunkKey(chunk.Id)

			old, err := r.readChunk(tx, key)
			if err != nil {
				return err
			}
			if old != nil {
				if err := tx.Delete(makeFileKey(old.FileID, old.Ordinal, old.Id)); err != nil {
					return err
				}
			}

			if chunk.InsertedAt.IsZero() {
				chunk.InsertedAt = now
			}
			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			if err := tx.Set(makeFileKey(chunk.FileID, chunk.Ordinal, chunk.Id), nil); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// UpdateChunks rewrites existing chunks.
func (r *ChunkRepository) UpdateChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			key := makeChunkKey(chunk.Id)
			old, err := r.readChunk(tx, key)
			if err != nil {
				return err
			}
			if old == nil {
				return fmt.Errorf("%w: chunk %d", storage.ErrNotFound, chunk.Id)
			}
			if old.FileID != chunk.FileID || old.Ordinal != chunk.Ordinal {
				if err := tx.Delete(makeFileKey(old.FileID, old.Ordinal, old.Id)); err != nil {
					return err
				}
				if err := tx.Set(makeFileKey(chunk.FileID, chunk.Ordinal, chunk.Id), nil); err != nil {
					return err
				}
			}
			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var result *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.readChunk(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetChunks retrieves multiple chunks by their IDs, skipping missing ones.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	results := make([]*core.Chunk, 0, len(ids))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := r.readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	}, false)
	return results, err
}

// GetFileChunks returns every chunk of a file ordered by ordinal.
func (r *ChunkRepository) GetFileChunks(ctx context.Context, fileID string) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		ids, err := r.fileChunkIDs(tx, fileID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			chunk, err := r.readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	}, false)
	return results, err
}

// FileExists reports whether any chunk of the file is stored.
func (r *ChunkRepository) FileExists(ctx context.Context, fileID string) (bool, error) {
	found := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialFileKey(fileID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		iter.Rewind()
		found = iter.Valid()
		return nil
	}, false)
	return found, err
}

// DeleteFile removes all chunks of a file in a single transaction.
func (r *ChunkRepository) DeleteFile(ctx context.Context, fileID string) (int, error) {
	deleted := 0
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		deleted = 0
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialFileKey(fileID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)

		var indexKeys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			indexKeys = append(indexKeys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, key := range indexKeys {
			if err := tx.Delete(makeChunkKey(chunkIDFromFileKey(key))); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// FindSimilar scans stored chunks and ranks those visible in scope by cosine similarity.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*core.ScoredChunk, error) {
	if limit <= 0 || len(vector) == 0 {
		return nil, nil
	}

	var results []*core.ScoredChunk
	err := r.ForEachChunk(ctx, func(chunk *core.Chunk) error {
		// Skip chunks without embeddings
		if len(chunk.Vector) == 0 || !scope.Allows(chunk) {
			return nil
		}
		similarity := cosineSimilarity(vector, chunk.Vector)
		if similarity >= minSimilarity {
			results = append(results, &core.ScoredChunk{Chunk: chunk, Score: similarity})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, ID ascending for stable ties
	slices.SortFunc(results, func(a, b *core.ScoredChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.Id, b.Chunk.Id)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ForEachChunk calls fn for every stored chunk.
func (r *ChunkRepository) ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

func (r *ChunkRepository) fileChunkIDs(tx *badger.Txn, fileID string) ([]core.ID, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialFileKey(fileID)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []core.ID
	for iter.Rewind(); iter.Valid(); iter.Next() {
		ids = append(ids, chunkIDFromFileKey(iter.Item().Key()))
	}
	return ids, nil
}

// readChunk reads a chunk by key. Returns nil, nil if the key is absent.
func (r *ChunkRepository) readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
