package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/openai/openai-go"
)

// ReplyKind is what a reply to a collection prompt turned out to be.
type ReplyKind string

const (
	ReplyAnswer   ReplyKind = "answer"
	ReplyQuestion ReplyKind = "question"
	ReplyHandoff  ReplyKind = "handoff"
)

// PrecheckResult is the pre-check verdict on one reply.
type PrecheckResult struct {
	Kind   ReplyKind
	Target models.WorkflowID
	Reason string
}

type precheckOutput struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

var precheckSchema = genai.Schema{
	Name:        "classify_reply",
	Description: "Classify the user's reply to the assistant's question",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind":   map[string]interface{}{"type": "string", "enum": []string{"answer", "question", "handoff"}},
			"target": map[string]interface{}{"type": "string", "enum": []string{"", "policy_comparison", "policy_info"}},
			"reason": map[string]interface{}{"type": "string"},
		},
		"required": []string{"kind"},
	},
}

var numericReply = regexp.MustCompile(`^[\d\s,.\-]+$`)

// shortAnswers never need a model to tell that they answer the prompt.
var shortAnswers = map[string]bool{
	"yes": true, "no": true, "y": true, "n": true, "ok": true, "okay": true,
	"proceed": true, "correct": true, "update preferences": true,
}

// ReplyPrechecker tells answers apart from questions and workflow switches
// before a reply is validated as an answer.
type ReplyPrechecker struct {
	llm genai.ClientInterface
}

// NewReplyPrechecker creates a ReplyPrechecker.
func NewReplyPrechecker(llm genai.ClientInterface) *ReplyPrechecker {
	return &ReplyPrechecker{llm: llm}
}

// Check classifies reply to prompt. Numeric, contact shaped and short
// answers skip the model. A failed model call is treated as an answer.
func (p *ReplyPrechecker) Check(ctx context.Context, prompt, reply string) PrecheckResult {
	trimmed := strings.TrimSpace(reply)
	lower := strings.ToLower(trimmed)
	switch {
	case trimmed == "", numericReply.MatchString(trimmed), IsValidContact(trimmed), shortAnswers[lower], IsSkipReply(trimmed):
		return PrecheckResult{Kind: ReplyAnswer}
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(precheckSystemPrompt),
		openai.UserMessage(fmt.Sprintf(precheckUserTemplate, prompt, trimmed)),
	}
	var out precheckOutput
	if err := genai.GenerateStructured(ctx, p.llm, messages, precheckSchema, &out); err != nil {
		slog.Warn("ReplyPrechecker.Check: classification failed, treating reply as an answer", "error", err)
		return PrecheckResult{Kind: ReplyAnswer}
	}

	switch ReplyKind(out.Kind) {
	case ReplyQuestion:
		return PrecheckResult{Kind: ReplyQuestion, Target: models.WorkflowPolicyInfo, Reason: out.Reason}
	case ReplyHandoff:
		target := models.WorkflowID(out.Target)
		if target != models.WorkflowPolicyComparison && target != models.WorkflowPolicyInfo {
			return PrecheckResult{Kind: ReplyAnswer}
		}
		return PrecheckResult{Kind: ReplyHandoff, Target: target, Reason: out.Reason}
	default:
		return PrecheckResult{Kind: ReplyAnswer}
	}
}
