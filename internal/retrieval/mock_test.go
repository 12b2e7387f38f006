package retrieval

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/openai/openai-go"
)

// hashEmbed is a deterministic bag-of-words embedding for tests.
func hashEmbed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,?!")))
		vec[h.Sum32()%64]++
	}
	vec[63] += 0.01
	return vec, nil
}

// funcLLM answers Generate calls with respond.
type funcLLM struct {
	mu      sync.Mutex
	respond func(system, user string) (string, error)
	calls   []string
}

func (f *funcLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userPrompt)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.respond(systemPrompt, userPrompt)
}

func (f *funcLLM) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return f.Generate(ctx, "", "")
}

func (f *funcLLM) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	out, err := f.Generate(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return &genai.ToolCallResponse{Content: out}, nil
}

func (f *funcLLM) WithModel(string) genai.ClientInterface        { return f }
func (f *funcLLM) WithTemperature(float64) genai.ClientInterface { return f }
func (f *funcLLM) Model() string                                 { return "test" }

func (f *funcLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticSearcher struct {
	answer string
	calls  int
}

func (s *staticSearcher) Search(ctx context.Context, query string) string {
	s.calls++
	return s.answer
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore("", hashEmbed)
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	return s
}

func seedPolicies(ctx context.Context, s VectorStore) error {
	docs := []Document{
		{ID: "care-0", Content: "Care Supreme covers room rent up to single private room with no capping.", Metadata: map[string]string{MetaPolicyName: "CARE SUPREME"}},
		{ID: "care-1", Content: "Care Supreme has a waiting period of 36 months for pre-existing diseases.", Metadata: map[string]string{MetaPolicyName: "CARE SUPREME"}},
		{ID: "care-2", Content: "Care Supreme offers unlimited automatic recharge of the sum insured.", Metadata: map[string]string{MetaPolicyName: "CARE SUPREME"}},
		{ID: "hdfc-0", Content: "HDFC Optima Secure doubles the sum insured from day one with the secure benefit.", Metadata: map[string]string{MetaPolicyName: "HDFC-optima_secure"}},
		{ID: "hdfc-1", Content: "HDFC Optima Secure waiting period for pre-existing diseases is 3 years.", Metadata: map[string]string{MetaPolicyName: "HDFC-optima_secure"}},
	}
	return s.AddDocuments(ctx, "policies", docs)
}
