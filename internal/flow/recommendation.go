package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/models"
)

const (
	policyMatchMenu = "\n**What would you like to do next?**\nYou can:\n  - ✅ Type **'Yes'** to proceed with these recommended policies\n  - ❓ Ask any question about the policies (recommended or any other)\n  - 🔁 Type **'Update Preferences'** if you'd like to revise your requirements\nI'm here to help you with whichever step you choose!\n"

	queryPrompt        = "What would you like to know about insurance policies?"
	blankQueryPrompt   = "Please provide a specific question about insurance policies:"
	moreQuestionsMenu  = "\n\nDo you have any more questions? (Type your question or 'no' to finish)"
	recoConfirmRequest = "\n\nDoes this summary look correct? Would you like to proceed with these recommendations or make any changes to your preferences? (Type 'proceed' to continue or specify what you'd like to change)"

	changeRequestQuestion = "Requested changes to preferences"
	notSpecified          = "Not specified"
)

// preferences asks the generated preference questions one at a time.
func (e *Engine) preferences(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !in.fresh() {
		reply := *in.reply
		if advisor.IsSkipReply(reply) {
			slog.Info("Engine.preferences: user skipped remaining questions", "sessionID", s.ID, "index", p.CurrentQuestionIndex)
			patch.PreferencesCollected = models.Some(true)
			patch.ProfilingStage = models.Text(stageSkipped)
			return next(StepPolicyMatch, patch)
		}
		idx := p.CurrentQuestionIndex
		if idx >= len(p.PreferencesData) {
			return next(StepPreferences, patch)
		}
		data := p.Clone().PreferencesData
		data[idx].Response = models.StringPtr(reply)
		patch.PreferencesData = models.Some(data)
		patch.CurrentQuestionIndex = models.Some(idx + 1)
		patch.ProfilingStage = models.Text(fmt.Sprintf("question_%d", idx))
		return next(StepPreferences, patch)
	}

	if p.PreferencesCollected {
		return next(StepPolicyMatch, patch)
	}
	if len(p.PreferencesData) == 0 {
		questions, err := e.deps.Questions.PreferenceQuestions(ctx, p)
		if err != nil {
			return Outcome{}, err
		}
		data := make([]models.PreferenceItem, len(questions))
		for i, q := range questions {
			data[i] = models.PreferenceItem{Question: q}
		}
		slog.Debug("Engine.preferences: questionnaire generated", "sessionID", s.ID, "questions", len(data))
		patch.PreferencesData = models.Some(data)
		patch.CurrentQuestionIndex = models.Some(0)
		return next(StepPreferences, patch)
	}
	if p.CurrentQuestionIndex >= len(p.PreferencesData) {
		patch.PreferencesCollected = models.Some(true)
		patch.ProfilingStage = models.Text(stageComplete)
		return next(StepPolicyMatch, patch)
	}
	return suspend(&Suspension{
		Step:     StepPreferences,
		Prompt:   p.PreferencesData[p.CurrentQuestionIndex].Question,
		Precheck: true,
	}, patch)
}

// policyMatch presents the final recommendation and the next-step menu.
func (e *Engine) policyMatch(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !in.fresh() {
		reco := in.context[contextKeyRecommendation]
		reply := strings.ToLower(strings.TrimSpace(*in.reply))
		switch reply {
		case "yes":
			patch.PolicyMatchDone = models.Some(true)
			patch.RecommendedPolicies = models.Text(reco)
			patch.FinalRecommendation = models.Text(reco)
			return next(StepRecommendationConfirmation, patch)
		case "no", "update preferences":
			slog.Info("Engine.policyMatch: user asked to revise preferences", "sessionID", s.ID)
			patch.PreferencesCollected = models.Some(false)
			patch.CoverageType = models.Cleared[*string]()
			patch.BudgetRange = models.Cleared[*string]()
			patch.SpecificBenefits = models.Cleared[*string]()
			patch.PreferencesData = models.Some(rewind(p.PreferencesData))
			patch.CurrentQuestionIndex = models.Some(0)
			patch.ProfilingStage = models.Text(stagePreferencesPass)
			return next(StepPreferences, patch)
		}
		patch.UserQuery = models.Text(*in.reply)
		patch.PolicyMatchDone = models.Some(true)
		patch.RecommendedPolicies = models.Text(reco)
		patch.QueryHandlingDone = models.Some(false)
		return next(StepQueryHandling, patch)
	}

	if !p.PreferencesCollected {
		return next(StepPreferences, patch)
	}

	working := p.Clone()
	if p.CoverageType == nil || p.BudgetRange == nil || p.SpecificBenefits == nil {
		derived, err := e.deps.Recommender.DerivePreferences(ctx, p)
		if err != nil {
			slog.Warn("Engine.policyMatch: could not derive preferences", "sessionID", s.ID, "error", err)
		} else {
			deriveInto(working, &patch, derived)
		}
	}

	reco, err := e.deps.Recommender.Final(ctx, working)
	if err != nil {
		return Outcome{}, err
	}
	return suspend(&Suspension{
		Step:    StepPolicyMatch,
		Prompt:  reco + policyMatchMenu,
		Context: map[string]string{contextKeyRecommendation: reco},
	}, patch)
}

// deriveInto fills unset preference fields of p from derived and records them in patch.
func deriveInto(p *models.UserProfile, patch *models.Patch, derived advisor.DerivedPreferences) {
	if p.CoverageType == nil && derived.CoverageType != "" {
		p.CoverageType = models.StringPtr(derived.CoverageType)
		patch.CoverageType = models.Text(derived.CoverageType)
	}
	if p.BudgetRange == nil && derived.BudgetRange != "" {
		p.BudgetRange = models.StringPtr(derived.BudgetRange)
		patch.BudgetRange = models.Text(derived.BudgetRange)
	}
	if p.SpecificBenefits == nil && derived.SpecificBenefits != "" {
		p.SpecificBenefits = models.StringPtr(derived.SpecificBenefits)
		patch.SpecificBenefits = models.Text(derived.SpecificBenefits)
	}
}

// rewind keeps the questions and drops the answers.
func rewind(data []models.PreferenceItem) []models.PreferenceItem {
	out := make([]models.PreferenceItem, len(data))
	for i, item := range data {
		out[i] = models.PreferenceItem{Question: item.Question}
	}
	return out
}

// queryHandling answers questions about policies until the user says no.
func (e *Engine) queryHandling(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !in.fresh() {
		if strings.ToLower(strings.TrimSpace(*in.reply)) == "no" {
			patch.QueryHandlingDone = models.Some(true)
			patch.UserQuery = models.Cleared[*string]()
			return next(StepRecommendationConfirmation, patch)
		}
		patch.UserQuery = models.Text(*in.reply)
		return next(StepQueryHandling, patch)
	}

	if p.QueryHandlingDone {
		patch.UserQuery = models.Cleared[*string]()
		return next(StepRecommendationConfirmation, patch)
	}
	if p.UserQuery == nil {
		return suspend(&Suspension{Step: StepQueryHandling, Prompt: queryPrompt, Bind: BindUserQuery}, patch)
	}
	if strings.TrimSpace(*p.UserQuery) == "" {
		return suspend(&Suspension{Step: StepQueryHandling, Prompt: blankQueryPrompt, Bind: BindUserQuery}, patch)
	}

	answer, err := e.deps.QA.Answer(ctx, *p.UserQuery, p)
	if err != nil {
		return Outcome{}, err
	}
	return suspend(&Suspension{Step: StepQueryHandling, Prompt: answer + moreQuestionsMenu}, patch)
}

// RecommendationSummary renders the preference summary shown before the
// recommendation is confirmed.
func RecommendationSummary(p *models.UserProfile) string {
	recommended := notSpecified
	if p.RecommendedPolicies != nil && *p.RecommendedPolicies != "" {
		recommended = *p.RecommendedPolicies
	}
	return fmt.Sprintf(`Here's a summary of your insurance preferences:

Coverage type: %s
Budget range: %s
Specific benefits desired: %s

Based on these preferences, we've recommended the following policies:
%s`, valueOr(p.CoverageType), valueOr(p.BudgetRange), valueOr(p.SpecificBenefits), recommended)
}

func valueOr(v *string) string {
	if v == nil || *v == "" {
		return notSpecified
	}
	return *v
}

// recommendationConfirmation asks the user to accept the recommendation or
// name what to change.
func (e *Engine) recommendationConfirmation(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if in.fresh() {
		return suspend(&Suspension{
			Step:   StepRecommendationConfirmation,
			Prompt: RecommendationSummary(p) + recoConfirmRequest,
		}, patch)
	}

	reply := strings.ToLower(strings.TrimSpace(*in.reply))
	if strings.Contains(reply, "proceed") || strings.Contains(reply, "yes") || strings.Contains(reply, "correct") {
		slog.Info("Engine.recommendationConfirmation: recommendation accepted", "sessionID", s.ID)
		patch.RecommendationConfirmationDone = models.Some(true)
		patch.RecommendationComplete = models.Some(true)
		patch.ProfilingStage = models.Text(stageComplete)
		return next(StepDispatch, patch)
	}

	slog.Info("Engine.recommendationConfirmation: user requested changes", "sessionID", s.ID)
	if strings.Contains(reply, "coverage") {
		patch.CoverageType = models.Cleared[*string]()
	}
	if strings.Contains(reply, "budget") {
		patch.BudgetRange = models.Cleared[*string]()
	}
	if strings.Contains(reply, "benefit") {
		patch.SpecificBenefits = models.Cleared[*string]()
	}
	data := append(p.Clone().PreferencesData, models.PreferenceItem{
		Question: changeRequestQuestion,
		Response: models.StringPtr(strings.TrimSpace(*in.reply)),
	})
	patch.PreferencesData = models.Some(data)
	patch.CurrentQuestionIndex = models.Some(len(data))
	patch.PreferencesCollected = models.Some(false)
	patch.PolicyMatchDone = models.Some(false)
	patch.ProfilingStage = models.Text(stagePreferencesPass)
	return next(StepPreferences, patch)
}
