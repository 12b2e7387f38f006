package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/config"
	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/store"
)

func TestStartPersistsGreetingSuspension(t *testing.T) {
	h := newHarness(t)
	turn := h.start()
	if turn.SessionID != "session-1" {
		t.Errorf("unexpected session id %q", turn.SessionID)
	}

	fs, err := h.store.GetFlowState("session-1", FlowTypeConversation)
	if err != nil || fs == nil {
		t.Fatalf("session not stored: %v", err)
	}
	if fs.CurrentState != string(StepSupervisor) {
		t.Errorf("expected current state %s, got %s", StepSupervisor, fs.CurrentState)
	}

	s := h.session("session-1")
	if s.Pending == nil || s.Pending.Bind != BindIntentQuery {
		t.Fatalf("expected greeting bound to the intent, got %+v", s.Pending)
	}
	if !s.Profile.GreetingDone {
		t.Error("greeting_done should be set")
	}
	if got := s.Profile.Messages; len(got) != 1 || !strings.HasPrefix(got[0], "Assistant: Welcome") {
		t.Errorf("unexpected transcript %v", got)
	}
}

func TestGreetingUsesKnownName(t *testing.T) {
	p := models.NewUserProfile()
	p.Name = models.StringPtr("Meera")
	if got := Greeting(p); !strings.HasPrefix(got, "Welcome Meera 😊") {
		t.Errorf("unexpected greeting %q", got)
	}
}

func TestResumeUnknownSession(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Resume(context.Background(), "missing", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	turn := h.start()
	if err := h.engine.Delete(context.Background(), turn.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := h.engine.Session(context.Background(), turn.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := h.engine.Delete(context.Background(), turn.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func TestTranscriptRecordsBothSides(t *testing.T) {
	h := newHarness(t)
	turn := h.start()
	h.say(turn.SessionID, "hello")

	msgs := h.session(turn.SessionID).Profile.Messages
	if len(msgs) != 3 {
		t.Fatalf("expected greeting, reply and name question, got %v", msgs)
	}
	if msgs[1] != "User: hello" {
		t.Errorf("expected user entry, got %q", msgs[1])
	}
	if msgs[2] != "Assistant: "+advisor.NamePrompt {
		t.Errorf("expected name question entry, got %q", msgs[2])
	}
}

func TestEveryTransitionCountsAsInteraction(t *testing.T) {
	h := newHarness(t)
	turn := h.start()
	if got := h.session(turn.SessionID).Profile.InteractionCount; got != 1 {
		t.Errorf("expected 1 interaction after greeting, got %d", got)
	}
	// supervisor, dispatch, greeting, personal_info
	h.say(turn.SessionID, "hello")
	if got := h.session(turn.SessionID).Profile.InteractionCount; got != 5 {
		t.Errorf("expected 5 interactions, got %d", got)
	}
}

func TestRepeatedInvalidRepliesEscalateToSupervisor(t *testing.T) {
	h := newHarness(t, func(c *config.FlowConfig) { c.MaxReasks = 2 })
	p := models.NewUserProfile()
	p.GreetingDone = true
	p.UserIntentQuery = models.StringPtr("help me")
	h.seed("s", p, askField(fieldName, advisor.NamePrompt, 0))

	turn := h.say("s", "R2D2")
	expectStep(t, turn, StepPersonalInfo)

	turn = h.say("s", "C3PO")
	expectStep(t, turn, StepSupervisor)
	if turn.Prompt != helpPrompt {
		t.Errorf("expected %q, got %q", helpPrompt, turn.Prompt)
	}
	if len(turn.Messages) != 1 || turn.Messages[0] != escalationMessage {
		t.Errorf("expected escalation message, got %v", turn.Messages)
	}
	if q := h.session("s").Profile.UserIntentQuery; q != nil {
		t.Errorf("intent should be cleared, got %q", *q)
	}
}

func TestIterationLimitIsExecutionError(t *testing.T) {
	h := newHarness(t, func(c *config.FlowConfig) { c.MaxIterations = 1 })
	turn := h.start()

	turn = h.say(turn.SessionID, "hello")
	if turn.Prompt != ExecutionErrorMessage {
		t.Fatalf("expected execution error message, got %q", turn.Prompt)
	}
	expectStep(t, turn, StepSupervisor)
	if fb := h.session(turn.SessionID).Profile.Fallback; fb.Type != string(genai.CategoryExecutionError) {
		t.Errorf("unexpected fallback type %q", fb.Type)
	}
}

func TestBackgroundExtractionMergesIntoStoredProfile(t *testing.T) {
	h := newHarness(t)
	query := "Plan for me and my wife, I'm 40 and she is 38"
	h.intent(query, models.IntentRecommendation)
	h.extract.update = models.ProfileUpdate{
		FamilyMembers: []string{"self", "wife"},
		Age:           []int{40, 38},
	}

	turn := h.start()
	h.say(turn.SessionID, query)
	h.engine.Wait()

	p := h.session(turn.SessionID).Profile
	if len(p.FamilyMembers) != 2 || len(p.Age) != 2 || p.Age[0] != 40 {
		t.Errorf("extraction not merged: family %v ages %v", p.FamilyMembers, p.Age)
	}
	if s := h.session(turn.SessionID); s.Pending == nil || s.Pending.Step != StepProceed {
		t.Errorf("extraction must not disturb the pending prompt, got %+v", s.Pending)
	}
}

func TestBackgroundExtractionFailureLeavesProfile(t *testing.T) {
	h := newHarness(t)
	query := "recommend something"
	h.intent(query, models.IntentRecommendation)
	h.extract.err = errors.New("model unavailable")

	turn := h.start()
	h.say(turn.SessionID, query)
	h.engine.Wait()

	if p := h.session(turn.SessionID).Profile; len(p.FamilyMembers) != 0 || p.Name != nil {
		t.Errorf("profile changed after failed extraction: %+v", p)
	}
}

func TestQueuedExtractionRunsAsJob(t *testing.T) {
	h := newHarness(t)
	h.engine.queue = h.store
	query := "Plan for me and my wife, I'm 40 and she is 38"
	h.intent(query, models.IntentRecommendation)
	h.extract.update = models.ProfileUpdate{
		FamilyMembers: []string{"self", "wife"},
		Age:           []int{40, 38},
	}

	turn := h.start()
	h.say(turn.SessionID, query)
	h.engine.Wait()
	if p := h.session(turn.SessionID).Profile; len(p.FamilyMembers) != 0 {
		t.Fatalf("queued extraction ran before the runner: %v", p.FamilyMembers)
	}

	runner := store.NewJobRunner(h.store)
	h.engine.RegisterJobs(runner)
	if n := runner.RunDue(context.Background()); n != 1 {
		t.Fatalf("RunDue ran %d jobs, want 1", n)
	}
	p := h.session(turn.SessionID).Profile
	if len(p.FamilyMembers) != 2 || len(p.Age) != 2 || p.Age[1] != 38 {
		t.Errorf("queued extraction not merged: family %v ages %v", p.FamilyMembers, p.Age)
	}
	if len(h.extract.texts) != 1 || h.extract.texts[0] != query {
		t.Errorf("extractor saw %q", h.extract.texts)
	}
}

func TestQueuedExtractionFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.engine.queue = h.store
	query := "recommend something"
	h.intent(query, models.IntentRecommendation)
	h.extract.err = errors.New("model unavailable")

	turn := h.start()
	h.say(turn.SessionID, query)

	now := time.Now()
	claimed, err := h.store.ClaimDueJobs(now, 10)
	if err != nil || len(claimed) != 1 || claimed[0].Kind != JobKindExtractProfile {
		t.Fatalf("expected one extraction job, got %+v, %v", claimed, err)
	}
	if err := h.engine.runExtractionJob(context.Background(), claimed[0].Payload); err == nil {
		t.Error("failed extraction should ask for a retry")
	}

	name := "Asha"
	h.extract.err = nil
	h.extract.update = models.ProfileUpdate{Name: &name}
	if err := h.engine.runExtractionJob(context.Background(), claimed[0].Payload); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if p := h.session(turn.SessionID).Profile; p.Name == nil || *p.Name != "Asha" {
		t.Errorf("retried extraction not merged: %+v", p.Name)
	}
}

func TestExtractionForDeletedSessionIsDropped(t *testing.T) {
	h := newHarness(t)
	name := "Asha"
	h.extract.update = models.ProfileUpdate{Name: &name}
	payload := `{"session_id":"gone","text":"I'm Asha"}`
	if err := h.engine.runExtractionJob(context.Background(), payload); err != nil {
		t.Errorf("extraction for a deleted session should complete, got %v", err)
	}
	if err := h.engine.runExtractionJob(context.Background(), "not json"); err != nil {
		t.Errorf("unreadable payload should be dropped, got %v", err)
	}
}

func TestInPlaceRecoveryIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.engine.deps.Classifier = recoveringClassifier{}

	turn := h.start()
	h.say(turn.SessionID, "hello")

	fb := h.session(turn.SessionID).Profile.Fallback
	if !fb.Triggered || !fb.RecoverySuccess || fb.Type != string(genai.CategoryLowConfidence) {
		t.Errorf("unexpected fallback record %+v", fb)
	}
	if len(fb.Actions) != 1 || fb.Actions[0] != genai.ActionAdjustedTemperature {
		t.Errorf("unexpected actions %v", fb.Actions)
	}
}

// recoveringClassifier reports a successful low confidence recovery.
type recoveringClassifier struct{}

func (recoveringClassifier) Classify(ctx context.Context, text string) (advisor.Classification, error) {
	genai.RecordRecovery(ctx, genai.Recovery{
		Category: genai.CategoryLowConfidence,
		Actions:  []string{genai.ActionAdjustedTemperature},
		Success:  true,
	})
	return advisor.Classification{Intent: models.IntentOther, Confidence: 0.8}, nil
}

func TestSessionRoundTripsThroughState(t *testing.T) {
	h := newHarness(t)
	p := onboarded()
	p.UserQuery = models.StringPtr("what is covered?")
	sp := &Suspension{Step: StepPolicyInfo, Prompt: "menu", Attempts: 2, Context: map[string]string{"k": "v"}}
	if err := h.engine.save(&Session{ID: "s", Profile: p, Pending: sp, ReturnTo: StepHealthInfo}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	s := h.session("s")
	if s.ReturnTo != StepHealthInfo || s.Done {
		t.Errorf("unexpected session flags %+v", s)
	}
	if s.Pending == nil || s.Pending.Attempts != 2 || s.Pending.Context["k"] != "v" {
		t.Errorf("suspension not restored: %+v", s.Pending)
	}
	if s.Profile.Name == nil || *s.Profile.Name != "Asha" || *s.Profile.UserQuery != "what is covered?" {
		t.Errorf("profile not restored: %+v", s.Profile)
	}
}
