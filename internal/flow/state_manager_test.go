package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/store"
)

func TestStateManager_SaveStateKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	first := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return first }

	if err := sm.SaveState(ctx, "s", FlowTypeConversation, "a", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	later := first.Add(time.Hour)
	sm.now = func() time.Time { return later }
	if err := sm.SaveState(ctx, "s", FlowTypeConversation, "b", map[string]string{"k": "w"}); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	fs, err := sm.LoadState(ctx, "s", FlowTypeConversation)
	if err != nil || fs == nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if fs.CurrentState != "b" || fs.StateData["k"] != "w" {
		t.Errorf("unexpected state %+v", fs)
	}
	if !fs.CreatedAt.Equal(first) || !fs.UpdatedAt.Equal(later) {
		t.Errorf("timestamps: created %v updated %v", fs.CreatedAt, fs.UpdatedAt)
	}
}

func TestStateManager_StateData(t *testing.T) {
	ctx := context.Background()
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())

	value, err := sm.GetStateData(ctx, "s", FlowTypeConversation, DataKeyProfile)
	if err != nil || value != "" {
		t.Fatalf("expected empty value for missing state, got %q, %v", value, err)
	}

	if err := sm.SetStateData(ctx, "s", FlowTypeConversation, DataKeyDone, "true"); err != nil {
		t.Fatalf("SetStateData failed: %v", err)
	}
	if err := sm.SetStateData(ctx, "s", FlowTypeConversation, DataKeyReturnTo, string(StepHealthInfo)); err != nil {
		t.Fatalf("SetStateData failed: %v", err)
	}
	if v, _ := sm.GetStateData(ctx, "s", FlowTypeConversation, DataKeyDone); v != "true" {
		t.Errorf("expected done=true, got %q", v)
	}
	if v, _ := sm.GetStateData(ctx, "s", FlowTypeConversation, DataKeyReturnTo); v != string(StepHealthInfo) {
		t.Errorf("expected return step, got %q", v)
	}
	if v, _ := sm.GetStateData(ctx, "s", FlowTypeConversation, "unknown"); v != "" {
		t.Errorf("expected empty value for unknown key, got %q", v)
	}
}

func TestStateManager_ResetState(t *testing.T) {
	ctx := context.Background()
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	if err := sm.SaveState(ctx, "s", FlowTypeConversation, "x", nil); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	if err := sm.ResetState(ctx, "s", FlowTypeConversation); err != nil {
		t.Fatalf("ResetState failed: %v", err)
	}
	fs, err := sm.LoadState(ctx, "s", FlowTypeConversation)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if fs != nil {
		t.Errorf("expected no state after reset, got %+v", fs)
	}
}

func TestStepWorkflowAndEntry(t *testing.T) {
	for _, step := range []StepID{StepGreeting, StepPreferences, StepPolicyInfo, StepPolicyComparison, StepSupervisor} {
		if got := entryStep(step.Workflow()); got != step {
			t.Errorf("entryStep(%s) = %s, want %s", step.Workflow(), got, step)
		}
	}
	if StepQueryHandling.Workflow() != "recommendation" {
		t.Errorf("unexpected workflow %s", StepQueryHandling.Workflow())
	}
}

func TestPurgeIdleRemovesStaleSessions(t *testing.T) {
	h := newHarness(t)
	h.state.now = func() time.Time { return testClock.Add(-3 * time.Hour) }
	h.seed("old", onboarded(), &Suspension{Step: StepSupervisor, Prompt: "hi", Bind: BindIntentQuery})
	h.state.now = func() time.Time { return testClock.Add(-10 * time.Minute) }
	h.seed("fresh", onboarded(), &Suspension{Step: StepSupervisor, Prompt: "hi", Bind: BindIntentQuery})

	n, err := h.engine.PurgeIdle(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("PurgeIdle failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one purged session, got %d", n)
	}
	if _, err := h.engine.Session(context.Background(), "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stale session should be gone, got %v", err)
	}
	if _, err := h.engine.Session(context.Background(), "fresh"); err != nil {
		t.Errorf("recent session should be kept: %v", err)
	}

	states, err := h.state.ListStates(context.Background(), FlowTypeConversation)
	if err != nil || len(states) != 1 || states[0].SessionID != "fresh" {
		t.Errorf("unexpected remaining states %+v, %v", states, err)
	}
}
