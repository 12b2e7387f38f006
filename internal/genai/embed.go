package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultEmbeddingModel is used when no embedding model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// embeddingService defines the minimal interface for the embeddings endpoint.
type embeddingService interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Embedder turns text into embedding vectors, caching results by text.
type Embedder struct {
	svc   embeddingService
	model string
	cache *lru.Cache[string, []float32]
}

// NewEmbedder creates an embedder for the given model. Only the API key and
// base URL options are used.
func NewEmbedder(model string, cacheSize int, opts ...Option) (*Embedder, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &Embedder{svc: &cli.Embeddings, model: model, cache: cache}, nil
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	start := time.Now()
	resp, err := e.svc.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: openai.EmbeddingModel(e.model),
	})
	observeRequest(e.model, "Embed", time.Since(start), err)
	if err != nil {
		slog.Warn("Embedder.Embed: embedding request failed", "model", e.model, "error", err)
		return nil, &CallError{Category: Classify(err), Model: e.model, Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response for model %s has no data", e.model)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	e.cache.Add(text, vec)
	return vec, nil
}
