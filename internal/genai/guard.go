package genai

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
)

// Recovery actions recorded on the session when a call had to be recovered.
const (
	ActionSwitchedToBackup     = "Switched to backup LLM"
	ActionRateLimitFailed      = "Rate limit recovery failed"
	ActionSimplifiedQuery      = "Used simplified query approach"
	ActionTimeoutFailed        = "Timeout recovery failed"
	ActionAdjustedTemperature  = "Adjusted LLM configuration"
	ActionLowConfidenceFailed  = "Low confidence recovery failed"
	ActionRequestClarification = "Requested user clarification"
)

const briefPrefix = "Please provide a brief response to: "

// Recovery describes one recovery attempt.
type Recovery struct {
	Category   Category
	Actions    []string
	Success    bool
	UsedBackup bool
}

// RecoveryLog collects the recoveries made while serving one turn.
type RecoveryLog struct {
	mu      sync.Mutex
	entries []Recovery
}

// Entries returns a copy of the recorded recoveries.
func (l *RecoveryLog) Entries() []Recovery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Recovery, len(l.entries))
	copy(out, l.entries)
	return out
}

type recoveryLogKey struct{}

// WithRecoveryLog attaches log to ctx so guarded calls can report recoveries.
func WithRecoveryLog(ctx context.Context, log *RecoveryLog) context.Context {
	return context.WithValue(ctx, recoveryLogKey{}, log)
}

// RecordRecovery appends r to the log carried by ctx, if any.
func RecordRecovery(ctx context.Context, r Recovery) {
	log, _ := ctx.Value(recoveryLogKey{}).(*RecoveryLog)
	recoveriesTotal.WithLabelValues(string(r.Category), resultLabel(r.Success)).Inc()
	if log == nil {
		return
	}
	log.mu.Lock()
	log.entries = append(log.entries, r)
	log.mu.Unlock()
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GuardOpts configures a GuardedClient.
type GuardOpts struct {
	BackupModel     string
	Backoff         []time.Duration
	Tokenizer       *Tokenizer
	MaxPromptTokens int
	Sleep           SleepFunc
}

// GuardOption configures a GuardedClient.
type GuardOption func(*GuardOpts)

// WithBackupModel sets the model used by rate-limit and timeout recovery.
func WithBackupModel(model string) GuardOption {
	return func(o *GuardOpts) { o.BackupModel = model }
}

// WithBackoff sets the waits before each backup attempt after a rate limit.
func WithBackoff(waits []time.Duration) GuardOption {
	return func(o *GuardOpts) { o.Backoff = waits }
}

// WithPromptBudget sets the tokenizer and token budget of simplified prompts.
func WithPromptBudget(tok *Tokenizer, maxTokens int) GuardOption {
	return func(o *GuardOpts) {
		o.Tokenizer = tok
		o.MaxPromptTokens = maxTokens
	}
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(sleep SleepFunc) GuardOption {
	return func(o *GuardOpts) { o.Sleep = sleep }
}

// GuardedClient recovers rate-limited and timed-out calls in place, so a
// recovered call returns its content to the caller that made it.
type GuardedClient struct {
	inner ClientInterface
	opts  GuardOpts
}

var _ ClientInterface = (*GuardedClient)(nil)

// NewGuardedClient wraps inner with recovery.
func NewGuardedClient(inner ClientInterface, opts ...GuardOption) *GuardedClient {
	cfg := GuardOpts{
		Backoff:         []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		MaxPromptTokens: 1024,
		Sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = NewTokenizer("")
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &GuardedClient{inner: inner, opts: cfg}
}

func (g *GuardedClient) Model() string { return g.inner.Model() }

func (g *GuardedClient) WithModel(model string) ClientInterface {
	return &GuardedClient{inner: g.inner.WithModel(model), opts: g.opts}
}

func (g *GuardedClient) WithTemperature(t float64) ClientInterface {
	return &GuardedClient{inner: g.inner.WithTemperature(t), opts: g.opts}
}

func (g *GuardedClient) backup() ClientInterface {
	if g.opts.BackupModel == "" {
		return g.inner
	}
	return g.inner.WithModel(g.opts.BackupModel)
}

// Generate returns the completion, recovering rate limits and timeouts.
func (g *GuardedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := g.inner.Generate(ctx, systemPrompt, userPrompt)
	if err == nil {
		return out, nil
	}
	return recoverCall(ctx, g, err,
		func(c ClientInterface) (string, error) { return c.Generate(ctx, systemPrompt, userPrompt) },
		func(c ClientInterface) (string, error) {
			return c.Generate(ctx, systemPrompt, briefPrefix+g.opts.Tokenizer.Truncate(userPrompt, g.opts.MaxPromptTokens))
		})
}

// GenerateWithMessages returns the completion for a history, recovering rate
// limits and timeouts.
func (g *GuardedClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	out, err := g.inner.GenerateWithMessages(ctx, messages)
	if err == nil {
		return out, nil
	}
	return recoverCall(ctx, g, err,
		func(c ClientInterface) (string, error) { return c.GenerateWithMessages(ctx, messages) },
		func(c ClientInterface) (string, error) { return c.GenerateWithMessages(ctx, briefMessages(messages)) })
}

// GenerateWithTools returns the completion and tool calls, recovering rate
// limits and timeouts.
func (g *GuardedClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	out, err := g.inner.GenerateWithTools(ctx, messages, tools)
	if err == nil {
		return out, nil
	}
	return recoverCall(ctx, g, err,
		func(c ClientInterface) (*ToolCallResponse, error) { return c.GenerateWithTools(ctx, messages, tools) },
		func(c ClientInterface) (*ToolCallResponse, error) {
			return c.GenerateWithTools(ctx, briefMessages(messages), tools)
		})
}

// briefMessages asks for a short answer without rebuilding the history.
func briefMessages(messages []openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, openai.UserMessage("Please provide a brief response to the request above."))
}

func recoverCall[T any](ctx context.Context, g *GuardedClient, cause error, retry, simplified func(ClientInterface) (T, error)) (T, error) {
	var zero T
	switch Classify(cause) {
	case CategoryRateLimit:
		for i, wait := range g.opts.Backoff {
			if err := g.opts.Sleep(ctx, wait); err != nil {
				break
			}
			out, err := retry(g.backup())
			if err == nil {
				slog.Info("GuardedClient.recoverCall: rate limit recovered", "backupModel", g.opts.BackupModel, "attempt", i+1)
				RecordRecovery(ctx, Recovery{Category: CategoryRateLimit, Actions: []string{ActionSwitchedToBackup}, Success: true, UsedBackup: true})
				return out, nil
			}
			slog.Warn("GuardedClient.recoverCall: backup attempt failed", "attempt", i+1, "error", err)
		}
		RecordRecovery(ctx, Recovery{Category: CategoryRateLimit, Actions: []string{ActionRateLimitFailed}})
		return zero, cause

	case CategoryTimeout:
		if ctx.Err() != nil {
			RecordRecovery(ctx, Recovery{Category: CategoryTimeout, Actions: []string{ActionTimeoutFailed}})
			return zero, cause
		}
		out, err := simplified(g.backup())
		if err == nil {
			slog.Info("GuardedClient.recoverCall: timeout recovered with simplified prompt", "backupModel", g.opts.BackupModel)
			RecordRecovery(ctx, Recovery{Category: CategoryTimeout, Actions: []string{ActionSimplifiedQuery}, Success: true, UsedBackup: true})
			return out, nil
		}
		slog.Warn("GuardedClient.recoverCall: simplified retry failed", "error", err)
		RecordRecovery(ctx, Recovery{Category: CategoryTimeout, Actions: []string{ActionTimeoutFailed}})
		return zero, cause
	}
	return zero, cause
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
