package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/genai"
)

func newTestBridge(t *testing.T, llm *funcLLM, web WebSearcher) *Bridge {
	t.Helper()
	s := newTestStore(t)
	if err := seedPolicies(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return NewBridge(s, nil, llm, web, WithTopK(5), WithTopN(2))
}

func TestBridgeAnswerFromDatabase(t *testing.T) {
	llm := &funcLLM{respond: func(system, user string) (string, error) {
		if system == ragSystemPrompt {
			if !strings.Contains(user, "[CARE SUPREME]") || strings.Contains(user, "HDFC") {
				t.Errorf("context should only hold Care Supreme chunks:\n%s", user)
			}
			return "The waiting period is 36 months.", nil
		}
		return "  SUFFICIENT\n", nil
	}}
	web := &staticSearcher{answer: "web"}
	b := newTestBridge(t, llm, web)

	ans, err := b.Answer(context.Background(), "waiting period for pre-existing diseases", []string{"CARE SUPREME"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Source != SourceDatabase || ans.Text != "The waiting period is 36 months." {
		t.Errorf("unexpected answer %+v", ans)
	}
	if web.calls != 0 {
		t.Error("web search should not run for a sufficient answer")
	}
}

func TestBridgeAnswerFallsBackToWeb(t *testing.T) {
	for _, verdict := range []string{"INSUFFICIENT", "sufficient", "SUFFICIENT."} {
		llm := &funcLLM{respond: func(system, user string) (string, error) {
			if system == ragSystemPrompt {
				return "Not available in the documents.", nil
			}
			return verdict, nil
		}}
		web := &staticSearcher{answer: "From starhealth.in: ..."}
		b := newTestBridge(t, llm, web)
		ans, err := b.Answer(context.Background(), "claim settlement ratio", []string{"CARE SUPREME"})
		if err != nil {
			t.Fatalf("Answer: %v", err)
		}
		if ans.Source != SourceWeb || ans.Text != "From starhealth.in: ..." {
			t.Errorf("verdict %q: expected web answer, got %+v", verdict, ans)
		}
	}
}

func TestBridgeAnswerNoDocumentsSkipsModel(t *testing.T) {
	llm := &funcLLM{respond: func(_, _ string) (string, error) { return "SUFFICIENT", nil }}
	web := &staticSearcher{answer: "web answer"}
	b := newTestBridge(t, llm, web)
	ans, err := b.Answer(context.Background(), "anything", []string{"Unknown Policy"})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Source != SourceWeb {
		t.Errorf("expected web fallback, got %+v", ans)
	}
	if llm.callCount() != 0 {
		t.Errorf("no model call expected, got %d", llm.callCount())
	}
}

func TestBridgeWebSearchUnconfigured(t *testing.T) {
	b := NewBridge(newTestStore(t), nil, &funcLLM{}, nil)
	if got := b.WebSearch(context.Background(), "q"); !strings.HasPrefix(got, "Error performing web search") {
		t.Errorf("WebSearch = %q", got)
	}
}

func TestCountPolicies(t *testing.T) {
	tests := []struct {
		out     string
		want    int
		wantErr bool
	}{
		{"2", 2, false},
		{" 3\n", 3, false},
		{"There are 4 policies.", 4, false},
		{"none", 0, true},
	}
	for _, tt := range tests {
		b := NewBridge(newTestStore(t), nil, &funcLLM{respond: func(_, _ string) (string, error) { return tt.out, nil }}, nil)
		got, err := b.CountPolicies(context.Background(), "compare Care Supreme and Optima Secure")
		if tt.wantErr {
			if !errors.Is(err, ErrNoCount) {
				t.Errorf("CountPolicies(%q) error = %v, want ErrNoCount", tt.out, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CountPolicies(%q) = %d, %v; want %d", tt.out, got, err, tt.want)
		}
	}
}

func TestSummariesAndCompare(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDocuments(ctx, "policy_summaries", []Document{
		{ID: "a", Content: "Care Supreme summary: unlimited recharge."},
		{ID: "b", Content: "Optima Secure summary: secure benefit doubles cover."},
	})
	var prompt string
	llm := &funcLLM{respond: func(_, user string) (string, error) {
		prompt = user
		return "Care Supreme suits you better.", nil
	}}
	b := NewBridge(s, nil, llm, nil)

	docs, err := b.Summaries(ctx, "Care Supreme vs Optima Secure", 2)
	if err != nil || len(docs) != 2 {
		t.Fatalf("Summaries = %v, %v", docs, err)
	}
	joined := JoinSummaries(docs)
	if strings.Count(joined, SummarySeparator) != 1 {
		t.Errorf("summaries should be joined by one separator: %q", joined)
	}
	out, err := b.Compare(ctx, "Name: Asha", "Care Supreme vs Optima Secure", joined, "room rent")
	if err != nil || out != "Care Supreme suits you better." {
		t.Fatalf("Compare = %q, %v", out, err)
	}
	if !strings.Contains(prompt, "Focus the comparison on: room rent") {
		t.Errorf("aspect missing from prompt: %s", prompt)
	}
}

func TestModelWebSearcherFailSoft(t *testing.T) {
	w := NewModelWebSearcher(searchFunc(func(ctx context.Context, model, prompt string) (string, error) {
		return "", genai.NewCategoryError(genai.CategoryTimeout, errors.New("deadline"))
	}), "search-model")
	if got := w.Search(context.Background(), "q"); !strings.HasPrefix(got, "Error performing web search: ") {
		t.Errorf("Search = %q", got)
	}

	var sent string
	w = NewModelWebSearcher(searchFunc(func(ctx context.Context, model, prompt string) (string, error) {
		sent = prompt
		return " result \n", nil
	}), "search-model")
	if got := w.Search(context.Background(), "room rent limits"); got != "result" {
		t.Errorf("Search = %q", got)
	}
	if !strings.Contains(sent, "Query: room rent limits") || !strings.Contains(sent, "irdai.gov.in") {
		t.Errorf("search prompt not built: %s", sent)
	}
}

type searchFunc func(ctx context.Context, model, prompt string) (string, error)

func (f searchFunc) Search(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

func TestIngestDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "Care_Freedom.txt"), []byte("one two three four five six seven"), 0o644)
	os.WriteFile(filepath.Join(dir, "summary_Care_Freedom.md"), []byte("Care Freedom in one page."), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.docx"), []byte("ignored"), 0o644)

	s := newTestStore(t)
	in := NewIngester(s, genai.NewHeuristicTokenizer(), "policies", "policy_summaries", 3, 1)
	stats, err := in.IngestDir(ctx, dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if stats.Files != 2 || stats.Summaries != 1 || stats.Chunks != 3 || stats.Skipped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	docs, _ := s.SimilaritySearch(ctx, "policies", "four five", 5, map[string]string{MetaPolicyName: "Care_Freedom"})
	if len(docs) != 3 {
		t.Errorf("expected 3 chunks tagged Care_Freedom, got %d", len(docs))
	}
	if n, _ := s.Count(ctx, "policy_summaries"); n != 1 {
		t.Errorf("summary count = %d", n)
	}
}

func TestPolicyNameFromFile(t *testing.T) {
	if name, summary := PolicyNameFromFile("/x/summary_HDFC_Optima_Restore.pdf"); name != "HDFC_Optima_Restore" || !summary {
		t.Errorf("got %q, %v", name, summary)
	}
	if name, summary := PolicyNameFromFile("Care Joy.pdf"); name != "Care Joy" || summary {
		t.Errorf("got %q, %v", name, summary)
	}
}
