package genai

import (
	"context"

	"github.com/openai/openai-go"
)

// stubClient is a scripted ClientInterface for cache and structured tests.
type stubClient struct {
	model     string
	content   string
	toolResp  *ToolCallResponse
	err       error
	textCalls int
	toolCalls int
}

func (s *stubClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.textCalls++
	return s.content, s.err
}

func (s *stubClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	s.textCalls++
	return s.content, s.err
}

func (s *stubClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	s.toolCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.toolResp, nil
}

func (s *stubClient) WithModel(model string) ClientInterface {
	cp := *s
	cp.model = model
	return &cp
}

func (s *stubClient) WithTemperature(float64) ClientInterface { return s }

func (s *stubClient) Model() string { return s.model }
