// Package genai provides LLM operations backed by the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model option is given.
const DefaultModel = "gpt-4o-mini"

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completion service to chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface is the LLM surface used by the rest of the application.
type ClientInterface interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
	// WithModel returns a client that sends requests to another model.
	WithModel(model string) ClientInterface
	// WithTemperature returns a client with a different sampling temperature.
	WithTemperature(temperature float64) ClientInterface
	Model() string
}

// FunctionCall is the name and raw arguments of a requested tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolCallResponse is a completion that may carry tool calls.
type ToolCallResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	RequestTimeout time.Duration
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithDefaultModel sets the model used for requests.
func WithDefaultModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithDefaultTemperature sets the sampling temperature.
func WithDefaultTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithRequestTimeout bounds each completion request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RequestTimeout = d }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	timeout     time.Duration
}

// NewClient initializes a new GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: 0.2}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "temperature", cfg.Temperature, "baseURL", cfg.BaseURL)
	return &Client{
		chat:        completionsAdapter{svc: cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.RequestTimeout,
	}, nil
}

// Model returns the model requests are sent to.
func (c *Client) Model() string { return c.model }

// WithModel returns a copy of the client bound to another model.
func (c *Client) WithModel(model string) ClientInterface {
	cp := *c
	cp.model = model
	return &cp
}

// WithTemperature returns a copy of the client with another temperature.
func (c *Client) WithTemperature(t float64) ClientInterface {
	cp := *c
	cp.temperature = t
	return &cp
}

// Generate returns the completion for a system and user prompt pair.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages returns the completion for a full message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.complete(ctx, "GenerateWithMessages", openai.ChatCompletionNewParams{
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools returns the completion and any tool calls requested.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	resp, err := c.complete(ctx, "GenerateWithTools", openai.ChatCompletionNewParams{
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, err
	}

	msg := resp.Choices[0].Message
	out := &ToolCallResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("Client.GenerateWithTools: response received", "model", c.model, "toolCalls", len(out.ToolCalls), "contentLength", len(out.Content))
	return out, nil
}

func (c *Client) complete(ctx context.Context, method string, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	params.Model = openai.ChatModel(c.model)
	params.Temperature = openai.Float(c.temperature)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	observeRequest(c.model, method, time.Since(start), err)
	if err != nil {
		category := Classify(err)
		slog.Warn("Client."+method+": completion failed", "model", c.model, "category", category, "error", err)
		return openai.ChatCompletion{}, &CallError{Category: category, Model: c.model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletion{}, ErrNoChoicesReturned
	}
	return resp, nil
}
