// Package advisor holds the language model components of the assistant: the
// profile extractor, intent classifier, reply pre-check, policy router,
// question generator, recommendation engine and the question answering agent.
//
// Each component wraps a genai.ClientInterface and is safe for concurrent use.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/openai/openai-go"
)

const maxAge = 120

var extractorSchema = genai.Schema{
	Name:        "update_profile",
	Description: "Record the facts the user stated explicitly",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "The user's own name"},
			"family_members": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "People to insure, lower case, the user is \"self\"",
			},
			"age": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"description": "Ages in the same order as family_members",
			},
			"has_pre_existing_conditions": map[string]interface{}{"type": "boolean"},
			"pre_existing_conditions": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	},
}

// Extractor pulls explicitly stated profile facts out of free text.
type Extractor struct {
	llm genai.ClientInterface
}

// NewExtractor creates an Extractor.
func NewExtractor(llm genai.ClientInterface) *Extractor {
	return &Extractor{llm: llm}
}

// Extract returns the facts text states about the user. Fields the text does
// not mention stay unset.
func (e *Extractor) Extract(ctx context.Context, text string, profile *models.UserProfile) (models.ProfileUpdate, error) {
	known := "None"
	if profile != nil {
		known = profile.Summary()
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractorSystemPrompt),
		openai.UserMessage(fmt.Sprintf(extractorUserTemplate, known, text)),
	}

	var update models.ProfileUpdate
	if err := genai.GenerateStructured(ctx, e.llm, messages, extractorSchema, &update); err != nil {
		return models.ProfileUpdate{}, fmt.Errorf("extract profile: %w", err)
	}
	sanitizeUpdate(&update)
	slog.Debug("Extractor.Extract: facts extracted", "empty", update.IsEmpty(), "family", len(update.FamilyMembers), "ages", len(update.Age))
	return update, nil
}

// sanitizeUpdate drops values the onboarding validators would reject.
func sanitizeUpdate(u *models.ProfileUpdate) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		u.Name = nil
	}
	for _, age := range u.Age {
		if age < 0 || age > maxAge {
			slog.Warn("Extractor.Extract: dropping out of range ages", "age", age)
			u.Age = nil
			break
		}
	}
	u.FamilyMembers = cleanList(u.FamilyMembers)
	u.PreExistingConditions = cleanList(u.PreExistingConditions)
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
