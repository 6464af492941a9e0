// Package pgvector implements storage.ChunkRepository on PostgreSQL with the
// pgvector extension. Similarity ranking is done by the database using the
// cosine distance operator.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/storage"
)

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS chunks (
	id              BIGINT PRIMARY KEY,
	file_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	ordinal         INTEGER NOT NULL,
	content         TEXT NOT NULL,
	embedding       %s,
	file_name       TEXT NOT NULL DEFAULT '',
	file_type       TEXT NOT NULL DEFAULT '',
	page            INTEGER NOT NULL DEFAULT 0,
	uploaded_at     TIMESTAMPTZ,
	inserted_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chunks_file_id_idx ON chunks (file_id, ordinal);
CREATE INDEX IF NOT EXISTS chunks_conversation_id_idx ON chunks (conversation_id);
`

const chunkColumns = `id, file_id, conversation_id, ordinal, content, embedding,
	file_name, file_type, page, uploaded_at, inserted_at`

const upsertChunk = `INSERT INTO chunks (` + chunkColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		file_id = EXCLUDED.file_id,
		conversation_id = EXCLUDED.conversation_id,
		ordinal = EXCLUDED.ordinal,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		file_name = EXCLUDED.file_name,
		file_type = EXCLUDED.file_type,
		page = EXCLUDED.page,
		uploaded_at = EXCLUDED.uploaded_at`

// ChunkRepository implements storage.ChunkRepository for PostgreSQL + pgvector.
type ChunkRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// Open connects to PostgreSQL, verifies the connection and ensures the schema exists.
// A positive dimension fixes the width of the embedding column.
func Open(ctx context.Context, connString string, dimension int) (*ChunkRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	column := "vector"
	if dimension > 0 {
		column = fmt.Sprintf("vector(%d)", dimension)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaTemplate, column)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create chunk schema: %w", err)
	}

	return &ChunkRepository{
		pool:   pool,
		logger: slog.Default().With("component", "pgvector"),
	}, nil
}

// Close closes the connection pool.
func (r *ChunkRepository) Close() error {
	r.pool.Close()
	return nil
}

func chunkArgs(c *core.Chunk) []any {
	var embedding *pgvector.Vector
	if len(c.Vector) > 0 {
		v := pgvector.NewVector(c.Vector)
		embedding = &v
	}
	var uploaded *time.Time
	if !c.Metadata.UploadedAt.IsZero() {
		uploaded = &c.Metadata.UploadedAt
	}
	return []any{
		int64(c.Id), c.FileID, c.ConversationID, c.Ordinal, c.Content, embedding,
		c.Metadata.FileName, c.Metadata.FileType, c.Metadata.Page, uploaded, c.InsertedAt,
	}
}

// AddChunks upserts chunks in one transaction.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, err
		}
		if chunk.InsertedAt.IsZero() {
			chunk.InsertedAt = now
		}
		batch.Queue(upsertChunk, chunkArgs(chunk)...)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := range chunks {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// UpdateChunks rewrites existing chunks in one transaction.
func (r *ChunkRepository) UpdateChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, chunk := range chunks {
			args := chunkArgs(chunk)
			tag, err := tx.Exec(ctx,
				`UPDATE chunks SET file_id = $2, conversation_id = $3, ordinal = $4, content = $5,
					embedding = $6, file_name = $7, file_type = $8, page = $9, uploaded_at = $10
				 WHERE id = $1`,
				args[:10]...,
			)
			if err != nil {
				return fmt.Errorf("failed to update chunk %d: %w", chunk.Id, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: chunk %d", storage.ErrNotFound, chunk.Id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, int64(id))
	chunk, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

// GetChunks retrieves the chunks that exist among ids.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	return r.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1)`, keys)
}

// GetFileChunks returns every chunk of a file ordered by ordinal.
func (r *ChunkRepository) GetFileChunks(ctx context.Context, fileID string) ([]*core.Chunk, error) {
	return r.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE file_id = $1 ORDER BY ordinal`, fileID)
}

// FileExists reports whether any chunk of the file is stored.
func (r *ChunkRepository) FileExists(ctx context.Context, fileID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks WHERE file_id = $1)`, fileID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check file: %w", err)
	}
	return exists, nil
}

// DeleteFile removes all chunks of a file with a single statement.
func (r *ChunkRepository) DeleteFile(ctx context.Context, fileID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file chunks: %w", err)
	}
	r.logger.Debug("deleted file chunks", "file_id", fileID, "count", tag.RowsAffected())
	return int(tag.RowsAffected()), nil
}

// FindSimilar ranks chunks visible in scope by cosine similarity inside the database.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*core.ScoredChunk, error) {
	if limit <= 0 || len(vector) == 0 {
		return nil, nil
	}
	embedding := pgvector.NewVector(vector)
	fileIDs := scope.FileIDs
	if fileIDs == nil {
		fileIDs = []string{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+chunkColumns+`, 1 - (embedding <=> $1) AS similarity
		 FROM chunks
		 WHERE embedding IS NOT NULL
		   AND (conversation_id = '' OR conversation_id = $2)
		   AND (cardinality($3::text[]) = 0 OR file_id = ANY($3))
		   AND 1 - (embedding <=> $1) >= $4
		 ORDER BY embedding <=> $1, id
		 LIMIT $5`,
		&embedding, scope.ConversationID, fileIDs, minSimilarity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []*core.ScoredChunk
	for rows.Next() {
		var similarity float64
		chunk, err := scanChunk(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, &core.ScoredChunk{Chunk: chunk, Score: float32(similarity)})
	}
	return results, rows.Err()
}

// ForEachChunk streams every chunk ordered by ID.
func (r *ChunkRepository) ForEachChunk(ctx context.Context, fn func(*core.Chunk) error) error {
	rows, err := r.pool.Query(ctx, `SELECT `+chunkColumns+` FROM chunks ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *ChunkRepository) query(ctx context.Context, sql string, args ...any) ([]*core.Chunk, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// scanChunk reads the chunkColumns of a row followed by any extra destinations.
func scanChunk(row pgx.Row, extra ...any) (*core.Chunk, error) {
	var (
		c         core.Chunk
		id        int64
		embedding *pgvector.Vector
		uploaded  *time.Time
	)
	dest := []any{
		&id, &c.FileID, &c.ConversationID, &c.Ordinal, &c.Content, &embedding,
		&c.Metadata.FileName, &c.Metadata.FileType, &c.Metadata.Page, &uploaded, &c.InsertedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.Id = core.ID(id)
	if embedding != nil {
		c.Vector = embedding.Slice()
	}
	if uploaded != nil {
		c.Metadata.UploadedAt = uploaded.UTC()
	}
	c.InsertedAt = c.InsertedAt.UTC()
	return &c, nil
}
