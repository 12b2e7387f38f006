// Package retrieval answers insurance questions from ingested policy documents.
//
// Policy wordings are chunked and stored in a vector store (chromem-go in
// process, or PostgreSQL with pgvector). A Bridge searches the chunks of the
// policies a question is about, reranks them with the LLM, answers from the
// best chunks and falls back to a web search when the answer is judged
// insufficient. One-page policy summaries live in a second collection used by
// the comparison workflow.
package retrieval

import (
	"context"
	"fmt"

	"github.com/BTreeMap/InsureGuide/internal/config"
)

// Metadata keys set on stored documents.
const (
	MetaPolicyName = "Policy_Name"
	MetaSource     = "source"
	MetaChunk      = "chunk"
)

// Document is a stored chunk of a policy wording or summary.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// Score is the similarity or rerank score; higher is more relevant.
	Score float32 `json:"score"`
}

// PolicyName returns the policy the document belongs to.
func (d Document) PolicyName() string {
	return d.Metadata[MetaPolicyName]
}

// EmbeddingFunc returns the embedding vector of text.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// VectorStore stores documents in named collections and searches them by
// similarity to a query.
type VectorStore interface {
	AddDocuments(ctx context.Context, collection string, docs []Document) error
	// SimilaritySearch returns at most k documents of the collection whose
	// metadata matches every filter entry, most similar first.
	SimilaritySearch(ctx context.Context, collection, query string, k int, filter map[string]string) ([]Document, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// NewVectorStore opens the vector store selected by the configuration.
func NewVectorStore(ctx context.Context, cfg config.RetrievalConfig, embed EmbeddingFunc) (VectorStore, error) {
	switch cfg.Backend {
	case "", "chromem":
		return NewChromemStore(cfg.PersistPath, embed)
	case "pgvector":
		return NewPGVectorStore(ctx, cfg.PostgresDSN, embed)
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", cfg.Backend)
	}
}
