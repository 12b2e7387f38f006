package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/openai/openai-go"
)

// Classification is the classifier's reading of a request.
type Classification struct {
	Intent              models.Intent
	Confidence          float64
	Secondary           models.Intent
	SecondaryConfidence float64
}

type classifierOutput struct {
	Intent              string  `json:"intent"`
	Confidence          float64 `json:"confidence"`
	SecondaryIntent     string  `json:"secondary_intent"`
	SecondaryConfidence float64 `json:"secondary_confidence"`
}

func intentSchema() genai.Schema {
	labels := make([]interface{}, len(models.AllIntents))
	for i, in := range models.AllIntents {
		labels[i] = string(in)
	}
	return genai.Schema{
		Name:        "classify_intent",
		Description: "Classify the user's request",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"intent":               map[string]interface{}{"type": "string", "enum": labels},
				"confidence":           map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"secondary_intent":     map[string]interface{}{"type": "string", "enum": append([]interface{}{""}, labels...)},
				"secondary_confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			},
			"required": []string{"intent", "confidence"},
		},
	}
}

// IntentClassifier assigns one of the known intents to a request.
type IntentClassifier struct {
	llm                 genai.ClientInterface
	threshold           float64
	margin              float64
	recoveryTemperature float64
}

// NewIntentClassifier creates a classifier. Results under threshold are
// retried once at recoveryTemperature; a runner-up within margin of the top
// intent is reported as a conflict.
func NewIntentClassifier(llm genai.ClientInterface, threshold, margin, recoveryTemperature float64) *IntentClassifier {
	return &IntentClassifier{llm: llm, threshold: threshold, margin: margin, recoveryTemperature: recoveryTemperature}
}

// Classify labels text. Unusable results are returned as *genai.CallError with
// the intent_failure, low_confidence or conflict category.
func (c *IntentClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	if strings.TrimSpace(text) == "" {
		return Classification{}, genai.NewCategoryError(genai.CategoryIntentFailure, fmt.Errorf("empty request"))
	}

	result, err := c.classify(ctx, c.llm, text)
	if err != nil {
		return Classification{}, err
	}
	if result.Confidence < c.threshold {
		slog.Info("IntentClassifier.Classify: low confidence, retrying with adjusted temperature",
			"intent", result.Intent, "confidence", result.Confidence)
		retry, retryErr := c.classify(ctx, c.llm.WithTemperature(c.recoveryTemperature), text)
		if retryErr != nil || retry.Confidence < c.threshold {
			genai.RecordRecovery(ctx, genai.Recovery{
				Category: genai.CategoryLowConfidence,
				Actions:  []string{genai.ActionLowConfidenceFailed, genai.ActionRequestClarification},
			})
			return Classification{}, genai.NewCategoryError(genai.CategoryLowConfidence,
				fmt.Errorf("intent %s at confidence %.2f", result.Intent, result.Confidence))
		}
		genai.RecordRecovery(ctx, genai.Recovery{
			Category: genai.CategoryLowConfidence,
			Actions:  []string{genai.ActionAdjustedTemperature},
			Success:  true,
		})
		result = retry
	}

	if result.Secondary != "" && result.Secondary != result.Intent &&
		result.SecondaryConfidence >= c.threshold &&
		result.Confidence-result.SecondaryConfidence < c.margin {
		return Classification{}, genai.NewCategoryError(genai.CategoryConflict,
			fmt.Errorf("intents %s (%.2f) and %s (%.2f) are too close",
				result.Intent, result.Confidence, result.Secondary, result.SecondaryConfidence))
	}

	slog.Debug("IntentClassifier.Classify: classified", "intent", result.Intent, "confidence", result.Confidence)
	return result, nil
}

func (c *IntentClassifier) classify(ctx context.Context, llm genai.ClientInterface, text string) (Classification, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifierSystemPrompt),
		openai.UserMessage(text),
	}
	var out classifierOutput
	if err := genai.GenerateStructured(ctx, llm, messages, intentSchema(), &out); err != nil {
		if errors.Is(err, genai.ErrSchemaValidation) {
			return Classification{}, genai.NewCategoryError(genai.CategoryIntentFailure, err)
		}
		return Classification{}, err
	}

	intent, ok := models.ParseIntent(strings.TrimSpace(out.Intent))
	if !ok {
		return Classification{}, genai.NewCategoryError(genai.CategoryIntentFailure,
			fmt.Errorf("unknown intent %q", out.Intent))
	}
	secondary, _ := models.ParseIntent(strings.TrimSpace(out.SecondaryIntent))
	return Classification{
		Intent:              intent,
		Confidence:          out.Confidence,
		Secondary:           secondary,
		SecondaryConfidence: out.SecondaryConfidence,
	}, nil
}
