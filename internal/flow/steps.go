package flow

import (
	"context"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/retrieval"
)

// Collaborators of the workflows. The advisor and retrieval packages provide
// the production implementations.
type (
	IntentClassifier interface {
		Classify(ctx context.Context, text string) (advisor.Classification, error)
	}
	ProfileExtractor interface {
		Extract(ctx context.Context, text string, profile *models.UserProfile) (models.ProfileUpdate, error)
	}
	ReplyPrechecker interface {
		Check(ctx context.Context, prompt, reply string) advisor.PrecheckResult
	}
	QuestionGenerator interface {
		PreferenceQuestions(ctx context.Context, p *models.UserProfile) ([]string, error)
	}
	Recommender interface {
		Initial(ctx context.Context, query string, p *models.UserProfile) (string, error)
		Final(ctx context.Context, p *models.UserProfile) (string, error)
		DerivePreferences(ctx context.Context, p *models.UserProfile) (advisor.DerivedPreferences, error)
	}
	QuestionAnswerer interface {
		Answer(ctx context.Context, question string, p *models.UserProfile) (string, error)
	}
	PolicyRouter interface {
		Route(ctx context.Context, text string) []string
	}
	PolicyKnowledge interface {
		Answer(ctx context.Context, query string, policies []string) (retrieval.Answer, error)
		CountPolicies(ctx context.Context, text string) (int, error)
		Summaries(ctx context.Context, query string, k int) ([]retrieval.Document, error)
		Compare(ctx context.Context, profileSummary, request, summaries, aspect string) (string, error)
	}
)

// Deps are the collaborators the engine runs the workflows with.
type Deps struct {
	Classifier  IntentClassifier
	Extractor   ProfileExtractor
	Prechecker  ReplyPrechecker
	Questions   QuestionGenerator
	Recommender Recommender
	QA          QuestionAnswerer
	Router      PolicyRouter
	Knowledge   PolicyKnowledge
}

// Handoff transfers the conversation to another workflow.
type Handoff struct {
	Target  models.WorkflowID
	Reason  string
	Context map[string]string
}

// Outcome is what a step decided. Exactly one of Next, Suspend, Handoff,
// Return and Done is set.
type Outcome struct {
	Patch models.Patch
	// Say are shown to the user before the next prompt.
	Say []string

	Next    StepID
	Suspend *Suspension
	Handoff *Handoff
	// Return goes back to the step that handed off, or to the supervisor.
	Return bool
	Done   bool

	// Extract is merged into the stored profile in the background once the
	// turn is saved.
	Extract string
}

// stepInput is what a step is entered with. reply is nil on a fresh entry.
type stepInput struct {
	reply    *string
	context  map[string]string
	attempts int
}

func (in stepInput) fresh() bool { return in.reply == nil }

type stepFunc func(ctx context.Context, s *Session, in stepInput) (Outcome, error)

func next(step StepID, patch models.Patch) (Outcome, error) {
	return Outcome{Next: step, Patch: patch}, nil
}

func suspend(sp *Suspension, patch models.Patch) (Outcome, error) {
	return Outcome{Suspend: sp, Patch: patch}, nil
}
