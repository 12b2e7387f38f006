package flow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/retrieval"
)

// atHelpPrompt seeds a greeted session waiting for a request.
func atHelpPrompt(h *harness) {
	p := models.NewUserProfile()
	p.GreetingDone = true
	h.seed("s", p, &Suspension{Step: StepSupervisor, Prompt: helpPrompt, Bind: BindIntentQuery})
}

func TestInformationRequestIsAnsweredFromDatabase(t *testing.T) {
	h := newHarness(t)
	query := "Is room rent capped?"
	h.intent(query, models.IntentPolicyInformation)
	atHelpPrompt(h)

	turn := h.say("s", query)
	expectStep(t, turn, StepPolicyInfo)
	expectPrompt(t, turn, "Here's what I found about General Insurance (from our database):\n\nRoom rent is covered up to the sum insured.")
	expectPrompt(t, turn, policyInfoMenu)
	if turn.Workflow != models.WorkflowPolicyInfo {
		t.Errorf("expected policy info workflow, got %s", turn.Workflow)
	}
	if len(h.know.Queries) != 1 || h.know.Queries[0] != query {
		t.Errorf("unexpected knowledge queries %v", h.know.Queries)
	}
}

func TestInformationFromWebNamesSource(t *testing.T) {
	h := newHarness(t)
	h.know.Source = retrieval.SourceWeb
	h.know.WebAnswer = "Insurers must settle claims within 30 days."
	h.router.policies = []string{"Care Supreme"}
	query := "how fast are claims settled?"
	h.intent(query, models.IntentInsurerInformation)
	atHelpPrompt(h)

	turn := h.say("s", query)
	expectPrompt(t, turn, "about Care Supreme (from web search):\n\nInsurers must settle claims within 30 days.")
}

func TestAnotherQuestionAsksForNewQuery(t *testing.T) {
	h := newHarness(t)
	query := "what is a copay?"
	h.intent(query, models.IntentServiceInformation)
	atHelpPrompt(h)
	h.say("s", query)

	for _, choice := range []string{"1", "2"} {
		turn := h.say("s", choice)
		expectStep(t, turn, StepPolicyInfo)
		if turn.Prompt != queryPrompt {
			t.Fatalf("choice %s: expected query prompt, got %q", choice, turn.Prompt)
		}
		p := h.session("s").Profile
		if p.UserQuery != nil || p.UserIntentQuery != nil {
			t.Errorf("choice %s: queries should be cleared: %v %v", choice, p.UserQuery, p.UserIntentQuery)
		}
		turn = h.say("s", "and deductibles?")
		expectPrompt(t, turn, "Room rent is covered")
	}
	if len(h.know.Queries) != 3 || h.know.Queries[2] != "and deductibles?" {
		t.Errorf("unexpected knowledge queries %v", h.know.Queries)
	}
}

func TestFreeTextAtInfoMenuIsRoutedAgain(t *testing.T) {
	h := newHarness(t)
	query := "what does OPD mean?"
	h.intent(query, models.IntentPolicyInformation)
	follow := "compare Care Supreme and Activ One"
	h.intent(follow, models.IntentComparison)
	atHelpPrompt(h)
	h.say("s", query)

	turn := h.say("s", follow)
	expectStep(t, turn, StepPolicyComparison)
	expectPrompt(t, turn, "Care Supreme has a shorter waiting period.")
	if q := h.session("s").Profile.UserIntentQuery; q == nil || *q != follow {
		t.Errorf("follow-up should become the request, got %v", q)
	}
}

func TestMainMenuFromInfoClearsRequest(t *testing.T) {
	h := newHarness(t)
	query := "what does OPD mean?"
	h.intent(query, models.IntentPolicyInformation)
	atHelpPrompt(h)
	h.say("s", query)

	turn := h.say("s", "3")
	expectStep(t, turn, StepSupervisor)
	if turn.Prompt != helpPrompt {
		t.Errorf("expected %q, got %q", helpPrompt, turn.Prompt)
	}
}

func TestComparisonAspectFollowUp(t *testing.T) {
	h := newHarness(t)
	query := "Compare Care Supreme and Optima Secure"
	h.intent(query, models.IntentComparison)
	atHelpPrompt(h)
	h.say("s", query)

	turn := h.say("s", "2")
	if turn.Prompt != aspectPrompt {
		t.Fatalf("expected aspect prompt, got %q", turn.Prompt)
	}
	turn = h.say("s", "waiting periods")
	expectStep(t, turn, StepPolicyComparison)
	expectPrompt(t, turn, comparisonMenu)
	if n := len(h.know.Aspects); n != 2 || h.know.Aspects[0] != "" || h.know.Aspects[1] != "waiting periods" {
		t.Errorf("unexpected aspects %q", h.know.Aspects)
	}
}

func TestCompareAgainAsksForPolicies(t *testing.T) {
	h := newHarness(t)
	query := "Compare Care Supreme and Optima Secure"
	h.intent(query, models.IntentComparison)
	atHelpPrompt(h)
	h.say("s", query)

	turn := h.say("s", "1")
	if turn.Prompt != comparisonPrompt {
		t.Fatalf("expected comparison prompt, got %q", turn.Prompt)
	}
	turn = h.say("s", "Activ One vs Optima Secure")
	expectPrompt(t, turn, "Here's a detailed comparison of the policies:")
	if q := h.session("s").Profile.UserIntentQuery; q == nil || *q != "Activ One vs Optima Secure" {
		t.Errorf("new request not stored: %v", q)
	}
}

func TestComparisonCountIsClamped(t *testing.T) {
	tests := []struct {
		count    int
		countErr error
		want     int
	}{
		{count: 3, want: 3},
		{count: 9, want: 5},
		{count: 0, want: 1},
		{countErr: fmt.Errorf("lookup: %w", retrieval.ErrNoCount), want: defaultCompareCount},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("count=%d err=%v", tt.count, tt.countErr), func(t *testing.T) {
			h := newHarness(t)
			h.know.Count = tt.count
			h.know.CountErr = tt.countErr
			query := "compare the plans"
			h.intent(query, models.IntentAnalysis)
			atHelpPrompt(h)

			turn := h.say("s", query)
			expectStep(t, turn, StepPolicyComparison)
			if len(h.know.SummaryKs) != 1 || h.know.SummaryKs[0] != tt.want {
				t.Errorf("expected %d summaries requested, got %v", tt.want, h.know.SummaryKs)
			}
		})
	}
}

func TestComparisonFailureTakesReplyAsNewRequest(t *testing.T) {
	h := newHarness(t)
	h.know.CountErr = errors.New("vector store unavailable")
	query := "compare the plans"
	h.intent(query, models.IntentComparison)
	atHelpPrompt(h)

	turn := h.say("s", query)
	expectStep(t, turn, StepPolicyComparison)
	if turn.Prompt != ExecutionErrorMessage {
		t.Fatalf("expected execution error message, got %q", turn.Prompt)
	}

	h.know.CountErr = nil
	turn = h.say("s", "compare Care Supreme and Activ One")
	expectPrompt(t, turn, "Care Supreme has a shorter waiting period.")
	if q := h.session("s").Profile.UserIntentQuery; q == nil || *q != "compare Care Supreme and Activ One" {
		t.Errorf("reply should become the request, got %v", q)
	}
}

func TestInfoFailureTakesReplyAsNewQuestion(t *testing.T) {
	h := newHarness(t)
	h.know.AnswerErr = errors.New("no documents")
	query := "what is covered?"
	h.intent(query, models.IntentPolicyInformation)
	atHelpPrompt(h)

	turn := h.say("s", query)
	expectStep(t, turn, StepPolicyInfo)
	if turn.Prompt != ExecutionErrorMessage {
		t.Fatalf("expected execution error message, got %q", turn.Prompt)
	}

	h.know.AnswerErr = nil
	turn = h.say("s", "is maternity covered?")
	expectPrompt(t, turn, "Room rent is covered")
	if last := h.know.Queries[len(h.know.Queries)-1]; last != "is maternity covered?" {
		t.Errorf("expected the reply to be asked, got %q", last)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ v, lo, hi, want int }{
		{3, 1, 5, 3},
		{-2, 1, 5, 1},
		{7, 1, 5, 5},
		{4, 1, 0, 1},
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
