package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"
)

// Recommender produces policy recommendations from a profile.
type Recommender struct {
	llm             genai.ClientInterface
	aggregateModels []string
}

// NewRecommender creates a Recommender. When aggregateModels is non-empty the
// final recommendation is also generated by each of those models and the
// answers are merged.
func NewRecommender(llm genai.ClientInterface, aggregateModels []string) *Recommender {
	return &Recommender{llm: llm, aggregateModels: aggregateModels}
}

// Initial returns a preliminary recommendation for query from whatever the
// profile already holds.
func (r *Recommender) Initial(ctx context.Context, query string, p *models.UserProfile) (string, error) {
	missing := strings.Join(p.MissingProfileInfo(), ", ")
	if missing == "" {
		missing = "none"
	}
	out, err := r.llm.Generate(ctx, initialRecommendationSystemPrompt,
		fmt.Sprintf(initialRecommendationUserTemplate, query, p.Summary(), missing))
	if err != nil {
		return "", fmt.Errorf("initial recommendation: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// FeatureRecommendation returns the features that suit the profile digest.
func (r *Recommender) FeatureRecommendation(ctx context.Context, digest string) (string, error) {
	out, err := r.llm.Generate(ctx, featureRecommendationSystemPrompt, digest)
	if err != nil {
		return "", fmt.Errorf("feature recommendation: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Final returns the ranked policy recommendation for a complete profile.
func (r *Recommender) Final(ctx context.Context, p *models.UserProfile) (string, error) {
	digest := p.RecommendationDigest()
	features, err := r.FeatureRecommendation(ctx, digest)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(finalRecommendationUserTemplate, digest, features)
	if len(r.aggregateModels) == 0 {
		out, err := r.llm.Generate(ctx, finalRecommendationSystemPrompt, prompt)
		if err != nil {
			return "", fmt.Errorf("final recommendation: %w", err)
		}
		return strings.TrimSpace(out), nil
	}
	return r.aggregate(ctx, prompt)
}

// aggregate asks the primary and every aggregate model concurrently and merges
// the answers that came back.
func (r *Recommender) aggregate(ctx context.Context, prompt string) (string, error) {
	clients := []genai.ClientInterface{r.llm}
	for _, model := range r.aggregateModels {
		clients = append(clients, r.llm.WithModel(model))
	}

	answers := make([]string, len(clients))
	errs := make([]error, len(clients))
	var g errgroup.Group
	for i, client := range clients {
		i, client := i, client
		g.Go(func() error {
			out, err := client.Generate(ctx, finalRecommendationSystemPrompt, prompt)
			if err != nil {
				slog.Warn("Recommender.aggregate: model failed", "model", client.Model(), "error", err)
				errs[i] = err
				return nil
			}
			answers[i] = strings.TrimSpace(out)
			return nil
		})
	}
	g.Wait()

	var got []string
	for i, answer := range answers {
		if errs[i] == nil && answer != "" {
			got = append(got, fmt.Sprintf("Advisor %d (%s):\n%s", len(got)+1, clients[i].Model(), answer))
		}
	}
	switch len(got) {
	case 0:
		return "", fmt.Errorf("final recommendation: %w", errs[0])
	case 1:
		return answers[firstAnswered(answers, errs)], nil
	}

	merged, err := r.llm.Generate(ctx, aggregationSystemPrompt, strings.Join(got, "\n\n"))
	if err != nil {
		slog.Warn("Recommender.aggregate: aggregation failed, using primary answer", "error", err)
		return answers[firstAnswered(answers, errs)], nil
	}
	return strings.TrimSpace(merged), nil
}

func firstAnswered(answers []string, errs []error) int {
	for i := range answers {
		if errs[i] == nil && answers[i] != "" {
			return i
		}
	}
	return 0
}

// DerivedPreferences are the preference fields summarised from the answers.
type DerivedPreferences struct {
	CoverageType     string `json:"coverage_type"`
	BudgetRange      string `json:"budget_range"`
	SpecificBenefits string `json:"specific_benefits"`
}

var derivePreferencesSchema = genai.Schema{
	Name:        "summarise_preferences",
	Description: "Summarise the user's insurance preferences",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"coverage_type":     map[string]interface{}{"type": "string"},
			"budget_range":      map[string]interface{}{"type": "string"},
			"specific_benefits": map[string]interface{}{"type": "string"},
		},
	},
}

// DerivePreferences summarises coverage type, budget range and benefits from
// the answered preference questions. It returns an empty result when nothing
// was answered.
func (r *Recommender) DerivePreferences(ctx context.Context, p *models.UserProfile) (DerivedPreferences, error) {
	var b strings.Builder
	for _, item := range p.PreferencesData {
		if item.Answered() {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", item.Question, *item.Response)
		}
	}
	if b.Len() == 0 {
		return DerivedPreferences{}, nil
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(derivePreferencesPrompt),
		openai.UserMessage(b.String()),
	}
	var out DerivedPreferences
	if err := genai.GenerateStructured(ctx, r.llm, messages, derivePreferencesSchema, &out); err != nil {
		return DerivedPreferences{}, fmt.Errorf("derive preferences: %w", err)
	}
	out.CoverageType = strings.TrimSpace(out.CoverageType)
	out.BudgetRange = strings.TrimSpace(out.BudgetRange)
	out.SpecificBenefits = strings.TrimSpace(out.SpecificBenefits)
	return out, nil
}
