package genai

import (
	"context"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
)

// Search sends prompt to a search-enabled chat model and returns its answer.
// Search models reject sampling parameters, so only the model is set.
func (c *Client) Search(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	observeRequest(model, "Search", time.Since(start), err)
	if err != nil {
		category := Classify(err)
		slog.Warn("Client.Search: search completion failed", "model", model, "category", category, "error", err)
		return "", &CallError{Category: category, Model: model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
