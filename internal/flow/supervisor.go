package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/models"
)

const (
	greetingText = `I'm here to make your health insurance journey simple and stress-free.
From finding the right coverage to understanding your options,
I'll help you choose the best health policy for your needs. Let's get started — your health is in good hands!`

	helpPrompt        = "How can I help you today?"
	preliminaryNotice = "These are just preliminary recommendations! To help me refine them and find the perfect plan for you, I'd love to learn a bit more about you."
	proceedQuestion   = "Would you like to proceed with more details. Type YES or NO "
	farewellMessage   = "Thank you for using InsureGuide! Your profile and recommendations are complete. Take care and stay healthy! 😊"

	contextKeyRecommendation = "recommendation"
)

// Greeting returns the first message of a conversation.
func Greeting(p *models.UserProfile) string {
	name := "!"
	if p.Name != nil && *p.Name != "" {
		name = *p.Name
	}
	return "Welcome " + name + " 😊\n" + greetingText
}

// supervisor greets the user, classifies the request and routes it.
func (e *Engine) supervisor(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !p.GreetingDone {
		patch.GreetingDone = models.Some(true)
		return suspend(&Suspension{Step: StepSupervisor, Prompt: Greeting(p), Bind: BindIntentQuery}, patch)
	}
	if p.UserIntentQuery == nil {
		return suspend(&Suspension{Step: StepSupervisor, Prompt: helpPrompt, Bind: BindIntentQuery}, patch)
	}

	query := *p.UserIntentQuery
	c, err := e.deps.Classifier.Classify(ctx, query)
	if err != nil {
		return Outcome{}, err
	}
	slog.Info("Engine.supervisor: classified request", "sessionID", s.ID, "intent", c.Intent, "confidence", c.Confidence)
	intentsTotal.WithLabelValues(string(c.Intent)).Inc()

	switch {
	case c.Intent == models.IntentRecommendation && p.HasMissingProfileInfo():
		reco, err := e.deps.Recommender.Initial(ctx, query, p)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Patch: patch,
			Suspend: &Suspension{
				Step:    StepProceed,
				Prompt:  reco + "\n\n" + preliminaryNotice + "\n\n" + proceedQuestion,
				Context: map[string]string{contextKeyRecommendation: reco},
			},
			Extract: query,
		}, nil
	case c.Intent == models.IntentComparison, c.Intent == models.IntentAnalysis:
		return Outcome{Handoff: &Handoff{Target: models.WorkflowPolicyComparison, Reason: "Policy comparison requested"}}, nil
	case c.Intent.IsInformational():
		return Outcome{Handoff: &Handoff{
			Target:  models.WorkflowPolicyInfo,
			Reason:  "Policy information requested",
			Context: map[string]string{BindUserQuery: query},
		}}, nil
	}
	return next(StepDispatch, patch)
}

// proceed handles the answer to the offer made with a preliminary recommendation.
func (e *Engine) proceed(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	var patch models.Patch
	if in.fresh() {
		return next(StepSupervisor, patch)
	}
	if advisor.IsYes(*in.reply) {
		if s.Profile.UserIntentQuery != nil {
			patch.UserQuery = models.Text(*s.Profile.UserIntentQuery)
		}
		patch.RecommendedPolicies = models.Text(in.context[contextKeyRecommendation])
		patch.CurrentWorkflow = models.Some(models.WorkflowOnboarding)
		return next(StepGreeting, patch)
	}
	patch.UserIntentQuery = models.Cleared[*string]()
	return next(StepSupervisor, patch)
}

// dispatch continues whichever guided workflow is unfinished.
func (e *Engine) dispatch(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch
	switch {
	case !p.OnboardingComplete:
		patch.CurrentWorkflow = models.Some(models.WorkflowOnboarding)
		return next(StepGreeting, patch)
	case !p.RecommendationComplete:
		patch.CurrentWorkflow = models.Some(models.WorkflowRecommendation)
		return next(StepPreferences, patch)
	}
	patch.CurrentWorkflow = models.Some(models.WorkflowComplete)
	return Outcome{Patch: patch, Say: []string{farewellMessage}, Done: true}, nil
}
