package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"golang.org/x/sync/errgroup"
)

// Answer sources shown to the user.
const (
	SourceDatabase = "our database"
	SourceWeb      = "web search"
)

// SummarySeparator joins policy summaries in the comparison prompt.
const SummarySeparator = "---------------------------"

// ErrNoCount is returned when the policy count cannot be read from the model output.
var ErrNoCount = errors.New("policy count not found in model output")

// Answer is the result of answering a policy question.
type Answer struct {
	Text     string
	Source   string
	Policies []string
}

// BridgeOpts holds the Bridge settings.
type BridgeOpts struct {
	PolicyCollection  string
	SummaryCollection string
	TopK              int
	TopN              int
}

// BridgeOption configures a Bridge.
type BridgeOption func(*BridgeOpts)

// WithCollections sets the policy and summary collection names.
func WithCollections(policies, summaries string) BridgeOption {
	return func(o *BridgeOpts) {
		o.PolicyCollection = policies
		o.SummaryCollection = summaries
	}
}

// WithTopK sets how many chunks are retrieved per policy before reranking.
func WithTopK(k int) BridgeOption {
	return func(o *BridgeOpts) { o.TopK = k }
}

// WithTopN sets how many chunks per policy survive reranking.
func WithTopN(n int) BridgeOption {
	return func(o *BridgeOpts) { o.TopN = n }
}

// Bridge connects workflows to retrieval, answer evaluation and web search.
type Bridge struct {
	store    VectorStore
	reranker Reranker
	llm      genai.ClientInterface
	web      WebSearcher
	opts     BridgeOpts
}

// NewBridge creates a Bridge. A nil reranker keeps the similarity order.
func NewBridge(store VectorStore, reranker Reranker, llm genai.ClientInterface, web WebSearcher, opts ...BridgeOption) *Bridge {
	cfg := BridgeOpts{
		PolicyCollection:  "policies",
		SummaryCollection: "policy_summaries",
		TopK:              5,
		TopN:              2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if reranker == nil {
		reranker = NoOpReranker{}
	}
	return &Bridge{store: store, reranker: reranker, llm: llm, web: web, opts: cfg}
}

// Retrieve searches the chunks of each policy and reranks them. The result
// holds one slice per policy, in the order of policies.
func (b *Bridge) Retrieve(ctx context.Context, query string, policies []string) ([][]Document, error) {
	out := make([][]Document, len(policies))
	g, gctx := errgroup.WithContext(ctx)
	for i, policy := range policies {
		i, policy := i, policy
		g.Go(func() error {
			docs, err := b.store.SimilaritySearch(gctx, b.opts.PolicyCollection, query, b.opts.TopK,
				map[string]string{MetaPolicyName: policy})
			if err != nil {
				return fmt.Errorf("search %s: %w", policy, err)
			}
			ranked, err := b.reranker.Rerank(gctx, docs, query, b.opts.TopN)
			if err != nil {
				return fmt.Errorf("rerank %s: %w", policy, err)
			}
			out[i] = ranked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RAG answers query from the chunks of the given policies. It returns an
// empty answer without calling the model when nothing was retrieved.
func (b *Bridge) RAG(ctx context.Context, query string, policies []string) (string, error) {
	groups, err := b.Retrieve(ctx, query, policies)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	found := 0
	for i, docs := range groups {
		for _, doc := range docs {
			found++
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", policies[i], strings.TrimSpace(doc.Content))
		}
	}
	if found == 0 {
		slog.Debug("Bridge.RAG: no documents retrieved", "policies", policies)
		return "", nil
	}

	answer, err := b.llm.Generate(ctx, ragSystemPrompt, fmt.Sprintf(ragUserTemplate, strings.TrimSpace(sb.String()), query))
	if err != nil {
		return "", fmt.Errorf("rag answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// Evaluate reports whether answer sufficiently addresses query. Only the
// exact verdict SUFFICIENT counts.
func (b *Bridge) Evaluate(ctx context.Context, query, answer string) (bool, error) {
	if strings.TrimSpace(answer) == "" {
		return false, nil
	}
	verdict, err := b.llm.Generate(ctx, "You evaluate answers.", fmt.Sprintf(evaluationPrompt, query, answer))
	if err != nil {
		return false, fmt.Errorf("evaluate answer: %w", err)
	}
	return strings.TrimSpace(verdict) == "SUFFICIENT", nil
}

// WebSearch looks query up on the web.
func (b *Bridge) WebSearch(ctx context.Context, query string) string {
	if b.web == nil {
		return "Error performing web search: web search is not configured"
	}
	webSearches.Inc()
	return b.web.Search(ctx, query)
}

// Answer answers a policy question from the documents, falling back to a web
// search when the documents cannot answer it.
func (b *Bridge) Answer(ctx context.Context, query string, policies []string) (Answer, error) {
	text, err := b.RAG(ctx, query, policies)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, err
		}
		slog.Warn("Bridge.Answer: retrieval failed, using web search", "policies", policies, "error", err)
	} else {
		ok, evalErr := b.Evaluate(ctx, query, text)
		if evalErr != nil {
			return Answer{}, evalErr
		}
		if ok {
			answersTotal.WithLabelValues("database").Inc()
			return Answer{Text: text, Source: SourceDatabase, Policies: policies}, nil
		}
		slog.Debug("Bridge.Answer: document answer insufficient", "policies", policies)
	}

	answersTotal.WithLabelValues("web").Inc()
	return Answer{Text: b.WebSearch(ctx, query), Source: SourceWeb, Policies: policies}, nil
}

var firstInt = regexp.MustCompile(`-?\d+`)

// CountPolicies asks the model how many distinct policies text compares.
func (b *Bridge) CountPolicies(ctx context.Context, text string) (int, error) {
	out, err := b.llm.Generate(ctx, "You count insurance policies.", fmt.Sprintf(countPoliciesPrompt, text))
	if err != nil {
		return 0, fmt.Errorf("count policies: %w", err)
	}
	trimmed := strings.TrimSpace(out)
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n, nil
	}
	match := firstInt.FindString(trimmed)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", ErrNoCount, trimmed)
	}
	return strconv.Atoi(match)
}

// Summaries returns the k one-page summaries most similar to query.
func (b *Bridge) Summaries(ctx context.Context, query string, k int) ([]Document, error) {
	docs, err := b.store.SimilaritySearch(ctx, b.opts.SummaryCollection, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("summary search: %w", err)
	}
	return docs, nil
}

// JoinSummaries joins summary contents with SummarySeparator.
func JoinSummaries(docs []Document) string {
	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = strings.TrimSpace(doc.Content)
	}
	return strings.Join(parts, "\n"+SummarySeparator+"\n")
}

// Compare writes a comparison narrative of the summarized policies for the
// given profile. A non-empty aspect focuses the comparison on it.
func (b *Bridge) Compare(ctx context.Context, profileSummary, request, summaries, aspect string) (string, error) {
	focus := ""
	if strings.TrimSpace(aspect) != "" {
		focus = fmt.Sprintf("\nFocus the comparison on: %s\n", aspect)
	}
	out, err := b.llm.Generate(ctx, comparisonSystemPrompt,
		fmt.Sprintf(comparisonUserTemplate, profileSummary, request, focus, summaries))
	if err != nil {
		return "", fmt.Errorf("compare policies: %w", err)
	}
	return strings.TrimSpace(out), nil
}
