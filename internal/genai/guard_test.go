package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

// routedClient fails or answers depending on the model it is bound to.
type routedClient struct {
	model   string
	errs    map[string]error
	prompts *[]string
	calls   *int
}

func newRoutedClient(model string, errs map[string]error) *routedClient {
	return &routedClient{model: model, errs: errs, prompts: new([]string), calls: new(int)}
}

func (r *routedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	*r.calls++
	*r.prompts = append(*r.prompts, userPrompt)
	if err := r.errs[r.model]; err != nil {
		return "", &CallError{Category: Classify(err), Model: r.model, Err: err}
	}
	return "answer from " + r.model, nil
}

func (r *routedClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return r.Generate(ctx, "", "")
}

func (r *routedClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	out, err := r.Generate(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return &ToolCallResponse{Content: out}, nil
}

func (r *routedClient) WithModel(model string) ClientInterface {
	cp := *r
	cp.model = model
	return &cp
}

func (r *routedClient) WithTemperature(float64) ClientInterface { return r }

func (r *routedClient) Model() string { return r.model }

func noSleep(waits *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestGuardedClientRecoversRateLimitOnBackup(t *testing.T) {
	inner := newRoutedClient("primary", map[string]error{"primary": errors.New("429 too many requests")})
	var waits []time.Duration
	g := NewGuardedClient(inner, WithBackupModel("backup"), WithSleep(noSleep(&waits)))

	log := &RecoveryLog{}
	ctx := WithRecoveryLog(context.Background(), log)
	out, err := g.Generate(ctx, "sys", "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "answer from backup" {
		t.Errorf("out = %q", out)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Errorf("waits = %v, want [1s]", waits)
	}
	entries := log.Entries()
	if len(entries) != 1 || !entries[0].Success || !entries[0].UsedBackup || entries[0].Actions[0] != ActionSwitchedToBackup {
		t.Errorf("recoveries = %+v", entries)
	}
}

func TestGuardedClientGivesUpAfterBackoff(t *testing.T) {
	rate := errors.New("rate limit exceeded")
	inner := newRoutedClient("primary", map[string]error{"primary": rate, "backup": rate})
	var waits []time.Duration
	g := NewGuardedClient(inner, WithBackupModel("backup"), WithSleep(noSleep(&waits)))

	log := &RecoveryLog{}
	_, err := g.Generate(WithRecoveryLog(context.Background(), log), "sys", "hello")
	if Classify(err) != CategoryRateLimit {
		t.Fatalf("err = %v, want rate_limit", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
	if *inner.calls != 4 {
		t.Errorf("calls = %d, want 4", *inner.calls)
	}
	entries := log.Entries()
	if len(entries) != 1 || entries[0].Success || entries[0].Actions[0] != ActionRateLimitFailed {
		t.Errorf("recoveries = %+v", entries)
	}
}

func TestGuardedClientSimplifiesPromptAfterTimeout(t *testing.T) {
	inner := newRoutedClient("primary", map[string]error{"primary": context.DeadlineExceeded})
	g := NewGuardedClient(inner, WithBackupModel("backup"), WithPromptBudget(NewHeuristicTokenizer(), 2))

	out, err := g.Generate(context.Background(), "sys", "compare these two long policy wordings for me")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "answer from backup" {
		t.Errorf("out = %q", out)
	}
	prompts := *inner.prompts
	last := prompts[len(prompts)-1]
	if !strings.HasPrefix(last, briefPrefix) {
		t.Errorf("retry prompt = %q", last)
	}
	if len(last) >= len(briefPrefix)+len("compare these two long policy wordings for me") {
		t.Errorf("retry prompt was not truncated: %q", last)
	}
}

func TestGuardedClientPassesOtherErrorsThrough(t *testing.T) {
	inner := newRoutedClient("primary", map[string]error{"primary": errors.New("invalid request")})
	g := NewGuardedClient(inner, WithBackupModel("backup"))
	_, err := g.Generate(context.Background(), "sys", "hi")
	if Classify(err) != CategoryExecutionError {
		t.Errorf("err = %v", err)
	}
	if *inner.calls != 1 {
		t.Errorf("execution errors must not be retried, calls = %d", *inner.calls)
	}
}
