package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragserver/types"
)

// PostgresStore keeps chunk vectors in Postgres with the pgvector extension.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, connStr string, dimension int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, dim: dimension}, nil
}

// Init creates the chunks table and search indexes if they do not exist.
func (p *PostgresStore) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
    CREATE EXTENSION IF NOT EXISTS vector;

    CREATE TABLE IF NOT EXISTS chunks (
        id TEXT PRIMARY KEY,
        doc_id UUID NOT NULL,
        seq INT NOT NULL,
        content TEXT NOT NULL,
        metadata JSONB NOT NULL DEFAULT '{}',
        embedding vector(%d) NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
    WITH (lists = 100);

    CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
    CREATE INDEX IF NOT EXISTS idx_chunks_metadata ON chunks USING gin (metadata);
    `, p.dim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	for i := range chunks {
		if len(chunks[i].Embedding) != p.dim {
			return &types.DimensionError{Want: p.dim, Got: len(chunks[i].Embedding)}
		}
	}
	// One transaction so a document's batch lands atomically.
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const query = `
    INSERT INTO chunks (id, doc_id, seq, content, metadata, embedding)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (id) DO UPDATE SET
        content = EXCLUDED.content,
        metadata = EXCLUDED.metadata,
        embedding = EXCLUDED.embedding
    `
	for i := range chunks {
		c := &chunks[i]
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			c.ID, c.DocID, c.Seq, c.Text, meta, pgvector.NewVector(c.Embedding),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) Search(ctx context.Context, query []float32, topK int, filter map[string]string) ([]types.SearchResult, error) {
	if len(query) != p.dim {
		return nil, &types.DimensionError{Want: p.dim, Got: len(query)}
	}
	vector := pgvector.NewVector(query)

	sql := `
        SELECT id, doc_id, content, metadata, 1 - (embedding <=> $1) AS score
        FROM chunks
    `
	args := []any{vector}
	if len(filter) > 0 {
		meta, err := json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		sql += " WHERE metadata @> $3"
		args = append(args, topK, meta)
	} else {
		args = append(args, topK)
	}
	// seq breaks ties deterministically in favor of earlier insertions.
	sql += `
        ORDER BY embedding <=> $1, seq
        LIMIT $2
    `
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var (
			res  types.SearchResult
			meta []byte
		)
		if err := rows.Scan(&res.ChunkID, &res.DocID, &res.Text, &meta, &res.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &res.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (p *PostgresStore) DeleteByDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM chunks WHERE doc_id = $1", docID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) Stats(ctx context.Context) (types.StoreStats, error) {
	var stats types.StoreStats
	row := p.pool.QueryRow(ctx, `
        SELECT count(*), count(DISTINCT doc_id),
               COALESCE(pg_total_relation_size('chunks'), 0)
        FROM chunks
    `)
	if err := row.Scan(&stats.ChunkCount, &stats.DocumentCount, &stats.IndexSizeBytes); err != nil {
		return types.StoreStats{}, err
	}
	stats.VectorCount = stats.ChunkCount
	return stats, nil
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		slog.Info("postgres connection pool closed")
	}
	return nil
}
