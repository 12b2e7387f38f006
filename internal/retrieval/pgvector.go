package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

//go:embed migrations_pgvector.sql
var pgvectorMigrations string

// PGVectorStore implements VectorStore on PostgreSQL with the pgvector extension.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	embed EmbeddingFunc
}

var _ VectorStore = (*PGVectorStore)(nil)

// NewPGVectorStore connects to PostgreSQL and applies the chunk table migration.
func NewPGVectorStore(ctx context.Context, dsn string, embed EmbeddingFunc) (*PGVectorStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgvector DSN not set")
	}
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to vector database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector database ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, pgvectorMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run vector migrations: %w", err)
	}
	slog.Info("PGVectorStore.NewPGVectorStore: connected to vector database")
	return &PGVectorStore{pool: pool, embed: embed}, nil
}

// AddDocuments embeds and upserts docs.
func (s *PGVectorStore) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	for _, doc := range docs {
		emb, err := s.embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		meta, err := encodeMetadata(doc.Metadata)
		if err != nil {
			return err
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO policy_chunks (id, collection, content, metadata, embedding)
			VALUES ($1, $2, $3, $4::jsonb, $5)
			ON CONFLICT (collection, id)
			DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
			doc.ID, collection, doc.Content, meta, pgvector.NewVector(emb))
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}
	slog.Debug("PGVectorStore.AddDocuments: documents stored", "collection", collection, "count", len(docs))
	return nil
}

// SimilaritySearch returns the k nearest chunks by L2 distance.
func (s *PGVectorStore) SimilaritySearch(ctx context.Context, collection, query string, k int, filter map[string]string) ([]Document, error) {
	if query == "" || k <= 0 {
		return nil, nil
	}
	emb, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	meta, err := encodeMetadata(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata::text, embedding <-> $1 AS distance
		FROM policy_chunks
		WHERE collection = $2 AND metadata @> $3::jsonb
		ORDER BY distance
		LIMIT $4`,
		pgvector.NewVector(emb), collection, meta, k)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc      Document
			rawMeta  string
			distance float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &rawMeta, &distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawMeta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
		doc.Score = float32(1 / (1 + distance))
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of chunks in the collection.
func (s *PGVectorStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM policy_chunks WHERE collection = $1`, collection).Scan(&n)
	return n, err
}

// Close closes the connection pool.
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}
