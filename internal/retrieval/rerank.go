package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"golang.org/x/sync/errgroup"
)

const defaultRerankConcurrency = 4

// Reranker reorders retrieved documents by relevance to the query and keeps
// the best topN.
type Reranker interface {
	Rerank(ctx context.Context, docs []Document, query string, topN int) ([]Document, error)
}

// NoOpReranker keeps the similarity order.
type NoOpReranker struct{}

// Rerank truncates docs to topN.
func (NoOpReranker) Rerank(ctx context.Context, docs []Document, query string, topN int) ([]Document, error) {
	return truncate(docs, topN), nil
}

// LLMReranker scores each (query, document) pair with the LLM.
// Scoring runs concurrently, bounded by the configured concurrency. If the
// timeout fires before scoring completes, the similarity order is kept.
type LLMReranker struct {
	llm         genai.ClientInterface
	concurrency int
	timeout     time.Duration
}

// NewLLMReranker creates an LLM reranker.
func NewLLMReranker(llm genai.ClientInterface, concurrency int, timeout time.Duration) *LLMReranker {
	if concurrency <= 0 {
		concurrency = defaultRerankConcurrency
	}
	return &LLMReranker{llm: llm, concurrency: concurrency, timeout: timeout}
}

// Rerank scores docs and returns the topN highest scored.
func (r *LLMReranker) Rerank(ctx context.Context, docs []Document, query string, topN int) ([]Document, error) {
	if len(docs) <= 1 {
		return docs, nil
	}

	scoreCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scored := make([]Document, len(docs))
	copy(scored, docs)

	g, gctx := errgroup.WithContext(scoreCtx)
	g.SetLimit(r.concurrency)
	for i := range scored {
		i := i
		g.Go(func() error {
			score, err := r.score(gctx, query, scored[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Debug("LLMReranker.Rerank: score failed, retaining similarity score", "docID", scored[i].ID, "error", err)
				return nil
			}
			scored[i].Score = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("LLMReranker.Rerank: scoring timed out, keeping similarity order", "docs", len(docs), "error", err)
		return truncate(docs, topN), nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return truncate(scored, topN), nil
}

func (r *LLMReranker) score(ctx context.Context, query string, doc Document) (float32, error) {
	resp, err := r.llm.Generate(ctx, "You score document relevance.", fmt.Sprintf(rerankPrompt, query, doc.Content))
	if err != nil {
		return 0, err
	}
	var out struct {
		Score *float64 `json:"score"`
	}
	if err := genai.DecodeJSON(extractJSON(resp), &out); err != nil {
		return 0, err
	}
	if out.Score == nil {
		return 0, fmt.Errorf("score missing in %q", resp)
	}
	s := *out.Score
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}
	return float32(s), nil
}

// extractJSON returns the outermost {...} span of s, or s when there is none.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func truncate(docs []Document, n int) []Document {
	if n > 0 && len(docs) > n {
		return docs[:n]
	}
	return docs
}
