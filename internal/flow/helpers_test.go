package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/config"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/retrieval"
	"github.com/BTreeMap/InsureGuide/internal/store"
	"github.com/BTreeMap/InsureGuide/internal/testutil"
)

type fakeClassifier struct {
	mu      sync.Mutex
	byQuery map[string]advisor.Classification
	err     error
	queries []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (advisor.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.err != nil {
		return advisor.Classification{}, f.err
	}
	if c, ok := f.byQuery[text]; ok {
		return c, nil
	}
	return advisor.Classification{Intent: models.IntentOther, Confidence: 0.9}, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	update models.ProfileUpdate
	err    error
	texts  []string
}

func (f *fakeExtractor) Extract(ctx context.Context, text string, p *models.UserProfile) (models.ProfileUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.update, f.err
}

type fakePrechecker struct {
	mu      sync.Mutex
	byReply map[string]advisor.PrecheckResult
	checked []string
}

func (f *fakePrechecker) Check(ctx context.Context, prompt, reply string) advisor.PrecheckResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, reply)
	if r, ok := f.byReply[reply]; ok {
		return r
	}
	return advisor.PrecheckResult{Kind: advisor.ReplyAnswer}
}

type fakeQuestions struct {
	questions []string
	err       error
	calls     int
}

func (f *fakeQuestions) PreferenceQuestions(ctx context.Context, p *models.UserProfile) ([]string, error) {
	f.calls++
	return f.questions, f.err
}

type fakeRecommender struct {
	initial    string
	initialErr error
	final      string
	finalErr   error
	derived    advisor.DerivedPreferences
	deriveErr  error

	finals   []*models.UserProfile
	initials []string
}

func (f *fakeRecommender) Initial(ctx context.Context, query string, p *models.UserProfile) (string, error) {
	f.initials = append(f.initials, query)
	return f.initial, f.initialErr
}

func (f *fakeRecommender) Final(ctx context.Context, p *models.UserProfile) (string, error) {
	f.finals = append(f.finals, p.Clone())
	return f.final, f.finalErr
}

func (f *fakeRecommender) DerivePreferences(ctx context.Context, p *models.UserProfile) (advisor.DerivedPreferences, error) {
	return f.derived, f.deriveErr
}

type fakeQA struct {
	err       error
	questions []string
}

func (f *fakeQA) Answer(ctx context.Context, question string, p *models.UserProfile) (string, error) {
	f.questions = append(f.questions, question)
	if f.err != nil {
		return "", f.err
	}
	return "Answer to: " + question, nil
}

type fakeRouter struct {
	policies []string
}

func (f *fakeRouter) Route(ctx context.Context, text string) []string {
	if len(f.policies) == 0 {
		return []string{advisor.DefaultPolicy}
	}
	return f.policies
}

// harness is an engine wired to fakes and an in-memory store.
type harness struct {
	t       *testing.T
	engine  *Engine
	store   *store.InMemoryStore
	state   *StoreBasedStateManager
	cfg     config.FlowConfig
	classes *fakeClassifier
	extract *fakeExtractor
	check   *fakePrechecker
	quest   *fakeQuestions
	reco    *fakeRecommender
	qa      *fakeQA
	router  *fakeRouter
	know    *testutil.FakeKnowledge
}

var testClock = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, tweak ...func(*config.FlowConfig)) *harness {
	t.Helper()
	cfg := config.DefaultConfig().Flow
	for _, fn := range tweak {
		fn(&cfg)
	}
	h := &harness{
		t:       t,
		store:   store.NewInMemoryStore(),
		cfg:     cfg,
		classes: &fakeClassifier{byQuery: map[string]advisor.Classification{}},
		extract: &fakeExtractor{},
		check:   &fakePrechecker{byReply: map[string]advisor.PrecheckResult{}},
		quest:   &fakeQuestions{questions: []string{"Q1?", "Q2?", "Q3?"}},
		reco:    &fakeRecommender{initial: "Try Optima Secure.", final: "1. Care Supreme\n2. Optima Secure\n3. Activ One"},
		qa:      &fakeQA{},
		router:  &fakeRouter{},
		know: &testutil.FakeKnowledge{
			RAGAnswer:  "Room rent is covered up to the sum insured.",
			Count:      2,
			Docs:       []retrieval.Document{{ID: "a", Content: "Care Supreme summary"}, {ID: "b", Content: "Optima Secure summary"}, {ID: "c", Content: "Activ One summary"}},
			Comparison: "Care Supreme has a shorter waiting period.",
		},
	}
	h.state = NewStoreBasedStateManager(h.store)
	ids := 0
	h.engine = NewEngine(cfg, h.state, Deps{
		Classifier:  h.classes,
		Extractor:   h.extract,
		Prechecker:  h.check,
		Questions:   h.quest,
		Recommender: h.reco,
		QA:          h.qa,
		Router:      h.router,
		Knowledge:   h.know,
	}, WithClock(func() time.Time { return testClock }), WithSessionIDs(func() string {
		ids++
		return fmt.Sprintf("session-%d", ids)
	}))
	return h
}

func (h *harness) intent(query string, intent models.Intent) {
	h.classes.byQuery[query] = advisor.Classification{Intent: intent, Confidence: 0.95}
}

func (h *harness) start() Turn {
	h.t.Helper()
	turn, err := h.engine.Start(context.Background())
	if err != nil {
		h.t.Fatalf("Start failed: %v", err)
	}
	return turn
}

func (h *harness) say(id, reply string) Turn {
	h.t.Helper()
	turn, err := h.engine.Resume(context.Background(), id, reply)
	if err != nil {
		h.t.Fatalf("Resume(%q) failed: %v", reply, err)
	}
	return turn
}

func (h *harness) session(id string) *Session {
	h.t.Helper()
	s, err := h.engine.Session(context.Background(), id)
	if err != nil {
		h.t.Fatalf("Session failed: %v", err)
	}
	return s
}

// seed stores a session with the given profile suspended at sp.
func (h *harness) seed(id string, p *models.UserProfile, sp *Suspension) {
	h.t.Helper()
	if err := h.engine.save(&Session{ID: id, Profile: p, Pending: sp}); err != nil {
		h.t.Fatalf("seed failed: %v", err)
	}
}

// onboarded returns a profile with onboarding complete.
func onboarded() *models.UserProfile {
	p := models.NewUserProfile()
	p.GreetingDone = true
	p.Name = models.StringPtr("Asha")
	p.FamilyMembers = []string{"self", "spouse"}
	p.Age = []int{34, 31}
	p.ContactInfo = models.StringPtr("asha@example.com")
	p.HasPreExistingConditions = models.BoolPtr(false)
	p.PreExistingConditions = []string{}
	p.PersonalInfoCollected = true
	p.HealthInfoCollected = true
	p.OnboardingConfirmationDone = true
	p.OnboardingComplete = true
	return p
}

func expectStep(t *testing.T, turn Turn, want StepID) {
	t.Helper()
	if turn.Step != want {
		t.Fatalf("expected suspension at %s, got %s (prompt %q)", want, turn.Step, turn.Prompt)
	}
}

func expectPrompt(t *testing.T, turn Turn, substr string) {
	t.Helper()
	if !strings.Contains(turn.Prompt, substr) {
		t.Fatalf("expected prompt containing %q, got %q", substr, turn.Prompt)
	}
}
