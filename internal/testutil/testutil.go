// Package testutil provides common test doubles and helpers for InsureGuide tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/retrieval"
	"github.com/openai/openai-go"
)

// Request is one call received by MockLLM.
type Request struct {
	Method      string
	Model       string
	Temperature float64
	System      string
	// User is the last user message of the call.
	User string
	// Tools are the names of the tools offered.
	Tools []string
	// ToolResults are the tool messages of the call, in order.
	ToolResults []string
}

// HasTool reports whether the call offered the named tool.
func (r Request) HasTool(name string) bool {
	for _, t := range r.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Handler answers a MockLLM call. Text calls use Content; tool calls use the
// whole response.
type Handler func(req Request) (*genai.ToolCallResponse, error)

type llmLog struct {
	mu       sync.Mutex
	requests []Request
}

// MockLLM is a scripted genai.ClientInterface. Copies made by WithModel and
// WithTemperature share the handler and the request log.
type MockLLM struct {
	handler     Handler
	model       string
	temperature float64
	log         *llmLog
}

var _ genai.ClientInterface = (*MockLLM)(nil)

// NewMockLLM returns a MockLLM answering with handler.
func NewMockLLM(handler Handler) *MockLLM {
	return &MockLLM{handler: handler, model: "mock-model", log: &llmLog{}}
}

// Requests returns the calls received so far.
func (m *MockLLM) Requests() []Request {
	m.log.mu.Lock()
	defer m.log.mu.Unlock()
	out := make([]Request, len(m.log.requests))
	copy(out, m.log.requests)
	return out
}

// CountTool returns how many calls offered the named tool.
func (m *MockLLM) CountTool(name string) int {
	n := 0
	for _, req := range m.Requests() {
		if req.HasTool(name) {
			n++
		}
	}
	return n
}

func (m *MockLLM) Model() string { return m.model }

func (m *MockLLM) WithModel(model string) genai.ClientInterface {
	cp := *m
	cp.model = model
	return &cp
}

func (m *MockLLM) WithTemperature(t float64) genai.ClientInterface {
	cp := *m
	cp.temperature = t
	return &cp
}

func (m *MockLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := m.call(ctx, Request{Method: "Generate", System: systemPrompt, User: userPrompt})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *MockLLM) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	req := describe(messages)
	req.Method = "GenerateWithMessages"
	resp, err := m.call(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *MockLLM) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	req := describe(messages)
	req.Method = "GenerateWithTools"
	for _, tool := range tools {
		req.Tools = append(req.Tools, tool.Function.Name)
	}
	return m.call(ctx, req)
}

func (m *MockLLM) call(ctx context.Context, req Request) (*genai.ToolCallResponse, error) {
	req.Model = m.model
	req.Temperature = m.temperature
	m.log.mu.Lock()
	m.log.requests = append(m.log.requests, req)
	m.log.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := m.handler(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &genai.ToolCallResponse{}
	}
	return resp, nil
}

func describe(messages []openai.ChatCompletionMessageParamUnion) Request {
	var req Request
	for _, msg := range messages {
		switch {
		case msg.OfSystem != nil:
			req.System = msg.OfSystem.Content.OfString.Value
		case msg.OfUser != nil:
			req.User = msg.OfUser.Content.OfString.Value
		case msg.OfTool != nil:
			req.ToolResults = append(req.ToolResults, msg.OfTool.Content.OfString.Value)
		}
	}
	return req
}

// Text returns a plain content response.
func Text(content string) *genai.ToolCallResponse {
	return &genai.ToolCallResponse{Content: content}
}

// Call returns a response calling the named tool with args encoded as JSON.
func Call(name string, args interface{}) *genai.ToolCallResponse {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return &genai.ToolCallResponse{ToolCalls: []genai.ToolCall{{
		ID:       "call_" + name,
		Type:     "function",
		Function: genai.FunctionCall{Name: name, Arguments: raw},
	}}}
}

// ErrUnscripted is returned by handlers for calls a test did not expect.
var ErrUnscripted = errors.New("unscripted LLM call")

// FakeKnowledge is an in-memory stand-in for the retrieval bridge.
type FakeKnowledge struct {
	mu sync.Mutex

	RAGAnswer  string
	RAGErr     error
	WebAnswer  string
	Source     string
	AnswerErr  error
	Count      int
	CountErr   error
	Docs       []retrieval.Document
	Comparison string
	CompareErr error

	Queries     []string
	Policies    [][]string
	SummaryKs   []int
	Aspects     []string
	WebSearches int
}

func (f *FakeKnowledge) record(query string, policies []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	f.Policies = append(f.Policies, policies)
}

// RAG answers from RAGAnswer.
func (f *FakeKnowledge) RAG(ctx context.Context, query string, policies []string) (string, error) {
	f.record(query, policies)
	return f.RAGAnswer, f.RAGErr
}

// WebSearch answers from WebAnswer.
func (f *FakeKnowledge) WebSearch(ctx context.Context, query string) string {
	f.mu.Lock()
	f.WebSearches++
	f.mu.Unlock()
	return f.WebAnswer
}

// Answer returns RAGAnswer from the database source, or WebAnswer when
// Source is the web.
func (f *FakeKnowledge) Answer(ctx context.Context, query string, policies []string) (retrieval.Answer, error) {
	f.record(query, policies)
	if f.AnswerErr != nil {
		return retrieval.Answer{}, f.AnswerErr
	}
	if f.Source == retrieval.SourceWeb {
		return retrieval.Answer{Text: f.WebAnswer, Source: retrieval.SourceWeb, Policies: policies}, nil
	}
	return retrieval.Answer{Text: f.RAGAnswer, Source: retrieval.SourceDatabase, Policies: policies}, nil
}

// CountPolicies returns Count.
func (f *FakeKnowledge) CountPolicies(ctx context.Context, text string) (int, error) {
	return f.Count, f.CountErr
}

// Summaries returns the first k of Docs.
func (f *FakeKnowledge) Summaries(ctx context.Context, query string, k int) ([]retrieval.Document, error) {
	f.mu.Lock()
	f.SummaryKs = append(f.SummaryKs, k)
	f.mu.Unlock()
	if k > len(f.Docs) {
		k = len(f.Docs)
	}
	return f.Docs[:k], nil
}

// Compare returns Comparison.
func (f *FakeKnowledge) Compare(ctx context.Context, profileSummary, request, summaries, aspect string) (string, error) {
	f.mu.Lock()
	f.Aspects = append(f.Aspects, aspect)
	f.mu.Unlock()
	return f.Comparison, f.CompareErr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// Contains fails the test when s does not contain substr.
func Contains(t *testing.T, s, substr, context string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%s: %q does not contain %q", context, s, substr)
	}
}
