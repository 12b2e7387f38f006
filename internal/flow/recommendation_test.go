package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/models"
)

// atPreferences seeds an onboarded session and returns the first preference question turn.
func atPreferences(t *testing.T, h *harness) Turn {
	t.Helper()
	h.seed("s", onboarded(), &Suspension{Step: StepDispatch, Prompt: "continue", Reenter: true})
	turn := h.say("s", "continue")
	expectStep(t, turn, StepPreferences)
	return turn
}

func TestPreferenceQuestionsAreGeneratedOnce(t *testing.T) {
	h := newHarness(t)
	turn := atPreferences(t, h)
	if turn.Prompt != "Q1?" {
		t.Errorf("expected first question, got %q", turn.Prompt)
	}
	turn = h.say("s", "the best coverage")
	if turn.Prompt != "Q2?" {
		t.Errorf("expected second question, got %q", turn.Prompt)
	}
	if h.quest.calls != 1 {
		t.Errorf("questions generated %d times", h.quest.calls)
	}

	p := h.session("s").Profile
	if p.CurrentQuestionIndex != 1 || p.PreferencesData[0].Response == nil || *p.PreferencesData[0].Response != "the best coverage" {
		t.Errorf("answer not stored: %+v", p.PreferencesData)
	}
	if p.ProfilingStage == nil || *p.ProfilingStage != "question_0" {
		t.Errorf("unexpected stage %v", p.ProfilingStage)
	}
}

func TestSkipEndsQuestionnaire(t *testing.T) {
	for _, reply := range []string{"Skip", "don't care", " Not Applicable "} {
		t.Run(reply, func(t *testing.T) {
			h := newHarness(t)
			atPreferences(t, h)
			turn := h.say("s", reply)
			expectStep(t, turn, StepPolicyMatch)
			p := h.session("s").Profile
			if !p.PreferencesCollected || p.ProfilingStage == nil || *p.ProfilingStage != stageSkipped {
				t.Errorf("expected skipped questionnaire, got collected=%v stage=%v", p.PreferencesCollected, p.ProfilingStage)
			}
		})
	}
}

func TestPolicyMatchDerivesMissingPreferences(t *testing.T) {
	h := newHarness(t)
	h.reco.derived = advisor.DerivedPreferences{CoverageType: "family floater", BudgetRange: "15-20k", SpecificBenefits: "maternity"}
	atPreferences(t, h)
	h.say("s", "a")
	h.say("s", "b")
	turn := h.say("s", "c")
	expectStep(t, turn, StepPolicyMatch)
	expectPrompt(t, turn, policyMatchMenu)

	if len(h.reco.finals) != 1 {
		t.Fatalf("expected one final recommendation, got %d", len(h.reco.finals))
	}
	if got := h.reco.finals[0].CoverageType; got == nil || *got != "family floater" {
		t.Errorf("final recommendation should see derived coverage, got %v", got)
	}
	p := h.session("s").Profile
	if p.BudgetRange == nil || *p.BudgetRange != "15-20k" {
		t.Errorf("derived budget not stored: %v", p.BudgetRange)
	}
}

func TestPolicyMatchToleratesDerivationFailure(t *testing.T) {
	h := newHarness(t)
	h.reco.deriveErr = errors.New("bad output")
	atPreferences(t, h)
	turn := h.say("s", "skip")
	expectStep(t, turn, StepPolicyMatch)
	if p := h.session("s").Profile; p.CoverageType != nil {
		t.Errorf("coverage should stay unset, got %q", *p.CoverageType)
	}
}

func TestUpdatePreferencesRewindsQuestionnaire(t *testing.T) {
	h := newHarness(t)
	h.reco.derived = advisor.DerivedPreferences{CoverageType: "individual"}
	atPreferences(t, h)
	h.say("s", "skip")

	turn := h.say("s", "Update Preferences")
	expectStep(t, turn, StepPreferences)
	if turn.Prompt != "Q1?" {
		t.Errorf("expected the questionnaire from the start, got %q", turn.Prompt)
	}
	p := h.session("s").Profile
	if p.PreferencesCollected || p.CoverageType != nil {
		t.Errorf("preferences should be reset: collected=%v coverage=%v", p.PreferencesCollected, p.CoverageType)
	}
	for _, item := range p.PreferencesData {
		if item.Response != nil {
			t.Errorf("answers should be dropped, got %+v", item)
		}
	}
	if h.quest.calls != 1 {
		t.Errorf("questions should not be regenerated, generated %d times", h.quest.calls)
	}
}

func TestQuestionAtPolicyMatchIsAnswered(t *testing.T) {
	h := newHarness(t)
	atPreferences(t, h)
	h.say("s", "skip")

	turn := h.say("s", "Does Care Supreme cover OPD?")
	expectStep(t, turn, StepQueryHandling)
	if turn.Prompt != "Answer to: Does Care Supreme cover OPD?"+moreQuestionsMenu {
		t.Errorf("unexpected answer prompt %q", turn.Prompt)
	}
	p := h.session("s").Profile
	if !p.PolicyMatchDone || p.RecommendedPolicies == nil || !strings.Contains(*p.RecommendedPolicies, "Care Supreme") {
		t.Errorf("recommendation should be kept: %+v", p)
	}

	turn = h.say("s", "And the waiting period?")
	if turn.Prompt != "Answer to: And the waiting period?"+moreQuestionsMenu {
		t.Errorf("unexpected follow-up answer %q", turn.Prompt)
	}

	turn = h.say("s", "No")
	expectStep(t, turn, StepRecommendationConfirmation)
	p = h.session("s").Profile
	if !p.QueryHandlingDone || p.UserQuery != nil {
		t.Errorf("query handling not closed: done=%v query=%v", p.QueryHandlingDone, p.UserQuery)
	}
}

func TestBlankQuestionIsAskedAgain(t *testing.T) {
	h := newHarness(t)
	p := onboarded()
	p.PreferencesCollected = true
	p.PolicyMatchDone = true
	h.seed("s", p, &Suspension{Step: StepQueryHandling, Prompt: queryPrompt, Bind: BindUserQuery})

	turn := h.say("s", "   ")
	if turn.Prompt != blankQueryPrompt {
		t.Errorf("expected blank query prompt, got %q", turn.Prompt)
	}
	if len(h.qa.questions) != 0 {
		t.Error("blank question must not reach the agent")
	}
}

func TestConfirmationChangeRequestReturnsToPolicyMatch(t *testing.T) {
	h := newHarness(t)
	p := onboarded()
	p.PreferencesData = []models.PreferenceItem{{Question: "Q1?", Response: models.StringPtr("cheap")}}
	p.CurrentQuestionIndex = 1
	p.PreferencesCollected = true
	p.PolicyMatchDone = true
	p.CoverageType = models.StringPtr("individual")
	p.BudgetRange = models.StringPtr("10k")
	p.SpecificBenefits = models.StringPtr("OPD")
	p.RecommendedPolicies = models.StringPtr("1. Care Supreme")
	h.seed("s", p, &Suspension{Step: StepRecommendationConfirmation, Prompt: RecommendationSummary(p) + recoConfirmRequest})

	turn := h.say("s", "I want to change the budget")
	expectStep(t, turn, StepPolicyMatch)

	got := h.session("s").Profile
	if got.BudgetRange != nil {
		t.Errorf("budget should be cleared, got %q", *got.BudgetRange)
	}
	if got.CoverageType == nil || got.SpecificBenefits == nil {
		t.Error("fields not mentioned should be kept")
	}
	last := got.PreferencesData[len(got.PreferencesData)-1]
	if last.Question != changeRequestQuestion || *last.Response != "I want to change the budget" {
		t.Errorf("change request not recorded: %+v", last)
	}
	final := h.reco.finals[len(h.reco.finals)-1]
	if !strings.Contains(final.RecommendationDigest(), "I want to change the budget") {
		t.Error("the new recommendation should see the change request")
	}
}

func TestRecommendationSummaryShowsUnsetFields(t *testing.T) {
	p := onboarded()
	p.CoverageType = models.StringPtr("family floater")
	got := RecommendationSummary(p)
	for _, want := range []string{"Coverage type: family floater", "Budget range: " + notSpecified, "recommended the following policies:\n" + notSpecified} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestQuestionGenerationFailureUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.quest.err = errors.New("model exploded")
	h.seed("s", onboarded(), &Suspension{Step: StepDispatch, Prompt: "continue", Reenter: true})

	turn := h.say("s", "continue")
	if turn.Prompt != ExecutionErrorMessage {
		t.Fatalf("expected execution error message, got %q", turn.Prompt)
	}
	expectStep(t, turn, StepPreferences)

	h.quest.err = nil
	turn = h.say("s", "try again")
	if turn.Prompt != "Q1?" {
		t.Errorf("expected the step to run again, got %q", turn.Prompt)
	}
}
