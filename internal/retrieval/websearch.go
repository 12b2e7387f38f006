package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// WebSearcher looks a question up on the web. It never fails: errors are
// returned as text so they can be shown or passed to the model.
type WebSearcher interface {
	Search(ctx context.Context, query string) string
}

// SearchModel is a chat client able to answer with web search results.
type SearchModel interface {
	Search(ctx context.Context, model, prompt string) (string, error)
}

// ModelWebSearcher searches the web through a search-enabled chat model,
// restricted to Indian health insurance sources.
type ModelWebSearcher struct {
	client SearchModel
	model  string
}

// NewModelWebSearcher creates a web searcher on the given search model.
func NewModelWebSearcher(client SearchModel, model string) *ModelWebSearcher {
	return &ModelWebSearcher{client: client, model: model}
}

// Search returns the search answer or an "Error performing web search" message.
func (w *ModelWebSearcher) Search(ctx context.Context, query string) string {
	out, err := w.client.Search(ctx, w.model, fmt.Sprintf(webSearchPrompt, query))
	if err != nil {
		slog.Warn("ModelWebSearcher.Search: web search failed", "model", w.model, "error", err)
		return fmt.Sprintf("Error performing web search: %v", err)
	}
	return strings.TrimSpace(out)
}
