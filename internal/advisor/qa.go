package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

const (
	maxToolRounds  = 10
	historyEntries = 20

	toolRAGSearch = "rag_search"
	toolWebSearch = "web_search"

	noDocumentsAnswer = "No relevant information found in the policy documents."
)

// PolicyKnowledge answers questions from policy documents and the web.
type PolicyKnowledge interface {
	RAG(ctx context.Context, query string, policies []string) (string, error)
	WebSearch(ctx context.Context, query string) string
}

// Router picks the policies a question is about.
type Router interface {
	Route(ctx context.Context, text string) []string
}

var qaTools = []openai.ChatCompletionToolParam{
	genai.Schema{
		Name:        toolRAGSearch,
		Description: "Answer a question about insurance policies from the policy documents",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []string{"query"},
		},
	}.Tool(),
	genai.Schema{
		Name:        toolWebSearch,
		Description: "Search the web for health insurance information when the documents cannot answer",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []string{"query"},
		},
	}.Tool(),
}

// QAAgent answers free-form insurance questions with a tool calling loop.
type QAAgent struct {
	llm       genai.ClientInterface
	router    Router
	knowledge PolicyKnowledge
}

// NewQAAgent creates a QAAgent.
func NewQAAgent(llm genai.ClientInterface, router Router, knowledge PolicyKnowledge) *QAAgent {
	return &QAAgent{llm: llm, router: router, knowledge: knowledge}
}

// Answer answers question using the profile, the recommendations and the
// recent transcript as context.
func (a *QAAgent) Answer(ctx context.Context, question string, p *models.UserProfile) (string, error) {
	recommended := "None"
	if p.RecommendedPolicies != nil && *p.RecommendedPolicies != "" {
		recommended = *p.RecommendedPolicies
	}
	history := strings.Join(p.RecentMessages(historyEntries), "\n")
	if history == "" {
		history = "None"
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(qaSystemPrompt, p.Summary(), recommended, history)),
		openai.UserMessage(question),
	}

	for round := 1; round <= maxToolRounds; round++ {
		resp, err := a.llm.GenerateWithTools(ctx, messages, qaTools)
		if err != nil {
			return "", fmt.Errorf("answer question: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				slog.Warn("QAAgent.Answer: empty response", "round", round)
				return "I couldn't find an answer to that. Could you rephrase your question?", nil
			}
			return strings.TrimSpace(resp.Content), nil
		}

		slog.Debug("QAAgent.Answer: executing tools", "round", round, "toolCalls", len(resp.ToolCalls))
		messages = append(messages, assistantToolMessage(resp))
		for _, call := range resp.ToolCalls {
			messages = append(messages, openai.ToolMessage(a.runTool(ctx, call), call.ID))
		}
	}

	slog.Warn("QAAgent.Answer: hit maximum tool rounds", "maxRounds", maxToolRounds)
	return "I've looked into this as far as I can. Could you narrow your question down?", nil
}

func assistantToolMessage(resp *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	calls := make([]openai.ChatCompletionMessageToolCallParam, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		calls[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: string(call.Function.Arguments),
			},
		}
	}
	msg := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: calls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

// runTool executes one tool call. Failures are reported to the model as the
// tool result.
func (a *QAAgent) runTool(ctx context.Context, call genai.ToolCall) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(call.Function.Arguments, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return "Error: the tool needs a non-empty query argument"
	}

	switch call.Function.Name {
	case toolRAGSearch:
		policies := a.router.Route(ctx, args.Query)
		answer, err := a.knowledge.RAG(ctx, args.Query, policies)
		if err != nil {
			slog.Warn("QAAgent.runTool: rag_search failed", "policies", policies, "error", err)
			return "Error searching the policy documents: " + err.Error()
		}
		if strings.TrimSpace(answer) == "" {
			return noDocumentsAnswer
		}
		return answer
	case toolWebSearch:
		return a.knowledge.WebSearch(ctx, args.Query)
	default:
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name)
	}
}
