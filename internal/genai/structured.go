package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// Schema describes the single function the model is asked to call to return
// structured output.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Tool returns the schema as a function tool definition.
func (s Schema) Tool() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  shared.FunctionParameters(s.Parameters),
		},
	}
}

// GenerateStructured asks the model to call the schema function and decodes the
// arguments into out. Malformed JSON is repaired once; if the output still does
// not decode the error wraps ErrSchemaValidation.
func GenerateStructured(ctx context.Context, client ClientInterface, messages []openai.ChatCompletionMessageParamUnion, schema Schema, out interface{}) error {
	resp, err := client.GenerateWithTools(ctx, messages, []openai.ChatCompletionToolParam{schema.Tool()})
	if err != nil {
		return err
	}

	raw := ""
	for _, tc := range resp.ToolCalls {
		if tc.Function.Name == schema.Name {
			raw = string(tc.Function.Arguments)
			break
		}
	}
	if raw == "" {
		// Some models answer in content instead of calling the function.
		raw = extractJSONObject(resp.Content)
	}
	if raw == "" {
		return fmt.Errorf("%w: %s returned no arguments", ErrSchemaValidation, schema.Name)
	}
	return DecodeJSON(raw, out)
}

// DecodeJSON decodes raw into out, repairing malformed JSON when needed.
func DecodeJSON(raw string, out interface{}) error {
	err := json.Unmarshal([]byte(raw), out)
	if err == nil {
		return nil
	}
	slog.Debug("genai.DecodeJSON: attempting repair", "error", err, "length", len(raw))
	fixed, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	if err := json.Unmarshal([]byte(fixed), out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}

// extractJSONObject returns the outermost {...} span of s, if any.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
