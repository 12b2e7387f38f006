package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/testutil"
)

type fixedRouter []string

func (r fixedRouter) Route(ctx context.Context, text string) []string { return r }

func TestQAAgentRunsToolsThenAnswers(t *testing.T) {
	knowledge := &testutil.FakeKnowledge{RAGAnswer: "Waiting period is 2 years."}
	llm := testutil.NewMockLLM(func(req testutil.Request) (*genai.ToolCallResponse, error) {
		if len(req.ToolResults) == 0 {
			return testutil.Call(toolRAGSearch, map[string]string{"query": "care supreme waiting period"}), nil
		}
		return testutil.Text("CARE SUPREME has a 2 year waiting period."), nil
	})
	p := completeProfile()
	p.RecommendedPolicies = models.StringPtr("CARE SUPREME")
	p.Messages = []string{"User: hi", "Assistant: hello"}

	got, err := NewQAAgent(llm, fixedRouter{"CARE SUPREME"}, knowledge).Answer(context.Background(), "waiting period?", p)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if got != "CARE SUPREME has a 2 year waiting period." {
		t.Errorf("unexpected answer %q", got)
	}
	reqs := llm.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(reqs))
	}
	if reqs[1].ToolResults[0] != "Waiting period is 2 years." {
		t.Errorf("unexpected tool result %v", reqs[1].ToolResults)
	}
	if len(knowledge.Policies) != 1 || knowledge.Policies[0][0] != "CARE SUPREME" {
		t.Errorf("expected routed policies to be searched, got %v", knowledge.Policies)
	}
	testutil.Contains(t, reqs[0].System, "Assistant: hello", "qa system prompt")
}

func TestQAAgentToolFailuresBecomeResults(t *testing.T) {
	knowledge := &testutil.FakeKnowledge{RAGErr: errors.New("store offline"), WebAnswer: "web says hi"}
	llm := testutil.NewMockLLM(func(req testutil.Request) (*genai.ToolCallResponse, error) {
		switch len(req.ToolResults) {
		case 0:
			return testutil.Call(toolRAGSearch, map[string]string{"query": "q"}), nil
		case 1:
			return testutil.Call(toolWebSearch, map[string]string{"query": "q"}), nil
		}
		return testutil.Text(strings.Join(req.ToolResults, " | ")), nil
	})
	got, err := NewQAAgent(llm, fixedRouter{DefaultPolicy}, knowledge).Answer(context.Background(), "q", completeProfile())
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	testutil.Contains(t, got, "Error searching the policy documents: store offline", "answer")
	testutil.Contains(t, got, "web says hi", "answer")
}

func TestQAAgentEmptyDocumentsAnswer(t *testing.T) {
	a := NewQAAgent(nil, fixedRouter{DefaultPolicy}, &testutil.FakeKnowledge{})
	got := a.runTool(context.Background(), genai.ToolCall{Function: genai.FunctionCall{Name: toolRAGSearch, Arguments: []byte(`{"query":"x"}`)}})
	if got != noDocumentsAnswer {
		t.Errorf("expected %q, got %q", noDocumentsAnswer, got)
	}
	got = a.runTool(context.Background(), genai.ToolCall{Function: genai.FunctionCall{Name: toolRAGSearch, Arguments: []byte(`{}`)}})
	if !strings.HasPrefix(got, "Error:") {
		t.Errorf("expected argument error, got %q", got)
	}
}

func TestQAAgentStopsAfterMaxRounds(t *testing.T) {
	llm := testutil.NewMockLLM(func(req testutil.Request) (*genai.ToolCallResponse, error) {
		return testutil.Call(toolWebSearch, map[string]string{"query": "again"}), nil
	})
	got, err := NewQAAgent(llm, fixedRouter{DefaultPolicy}, &testutil.FakeKnowledge{}).Answer(context.Background(), "loop", completeProfile())
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if got == "" || len(llm.Requests()) != maxToolRounds {
		t.Errorf("expected a fallback answer after %d rounds, got %q after %d", maxToolRounds, got, len(llm.Requests()))
	}
}

func TestQAAgentReturnsCallErrors(t *testing.T) {
	llm := testutil.NewMockLLM(func(req testutil.Request) (*genai.ToolCallResponse, error) {
		return nil, genai.NewCategoryError(genai.CategoryRateLimit, errors.New("429"))
	})
	_, err := NewQAAgent(llm, fixedRouter{DefaultPolicy}, &testutil.FakeKnowledge{}).Answer(context.Background(), "q", completeProfile())
	if genai.Classify(err) != genai.CategoryRateLimit {
		t.Errorf("expected rate_limit, got %v", err)
	}
}
