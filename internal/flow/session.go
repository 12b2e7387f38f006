package flow

import (
	"strings"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/models"
)

// StepID names a point in a workflow where the engine can enter or suspend.
type StepID string

const (
	StepSupervisor StepID = "supervisor"
	StepDispatch   StepID = "supervisor/dispatch"
	StepProceed    StepID = "supervisor/proceed"

	StepGreeting               StepID = "onboarding/greeting"
	StepPersonalInfo           StepID = "onboarding/personal_info"
	StepHealthInfo             StepID = "onboarding/health_info"
	StepOnboardingConfirmation StepID = "onboarding/confirmation"

	StepPreferences                StepID = "recommendation/preferences"
	StepPolicyMatch                StepID = "recommendation/policy_match"
	StepQueryHandling              StepID = "recommendation/query_handling"
	StepRecommendationConfirmation StepID = "recommendation/confirmation"

	StepPolicyInfo       StepID = "policy_info"
	StepPolicyComparison StepID = "policy_comparison"
)

// Workflow returns the workflow the step belongs to.
func (s StepID) Workflow() models.WorkflowID {
	id, _, _ := strings.Cut(string(s), "/")
	return models.WorkflowID(id)
}

// entryStep returns the step a workflow starts at.
func entryStep(w models.WorkflowID) StepID {
	switch w {
	case models.WorkflowOnboarding:
		return StepGreeting
	case models.WorkflowRecommendation:
		return StepPreferences
	case models.WorkflowPolicyInfo:
		return StepPolicyInfo
	case models.WorkflowPolicyComparison:
		return StepPolicyComparison
	default:
		return StepSupervisor
	}
}

// Profile fields a suspension can bind the reply to.
const (
	BindIntentQuery = "user_intent_query"
	BindUserQuery   = "user_query"
)

// Suspension is the serializable state of a session waiting for the user.
//
// When Bind is set the reply is written to that profile field and Step is
// entered fresh. When Reenter is set the reply is only recorded and Step is
// entered fresh. Otherwise the reply is delivered to Step as its input,
// together with Context and Attempts.
type Suspension struct {
	Step     StepID            `json:"step"`
	Prompt   string            `json:"prompt"`
	Bind     string            `json:"bind,omitempty"`
	Reenter  bool              `json:"reenter,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
	// Precheck runs the reply pre-check before the reply is used.
	Precheck bool `json:"precheck,omitempty"`
}

// Session is one conversation: the profile plus where it is suspended.
type Session struct {
	ID        string
	Profile   *models.UserProfile
	Pending   *Suspension
	ReturnTo  StepID
	Done      bool
	CreatedAt time.Time
}

// Turn is the assistant's side of one exchange.
type Turn struct {
	SessionID string
	// Messages are shown before Prompt.
	Messages []string
	Prompt   string
	Step     StepID
	Workflow models.WorkflowID
	Done     bool
}

// Reply converts the turn to its API representation.
func (t Turn) Reply() models.ChatReply {
	msgs := t.Messages
	if msgs == nil {
		msgs = []string{}
	}
	return models.ChatReply{
		SessionID:       t.SessionID,
		Messages:        msgs,
		Prompt:          t.Prompt,
		CurrentWorkflow: t.Workflow,
		Done:            t.Done,
	}
}
