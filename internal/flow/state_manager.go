package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st, now: time.Now}
}

// LoadState retrieves the stored state of a session.
func (sm *StoreBasedStateManager) LoadState(ctx context.Context, sessionID, flowType string) (*models.FlowState, error) {
	slog.Debug("StateManager LoadState", "sessionID", sessionID, "flowType", flowType)

	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager LoadState error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return nil, err
	}
	if flowState == nil {
		slog.Debug("StateManager LoadState not found", "sessionID", sessionID, "flowType", flowType)
	}
	return flowState, nil
}

// SaveState replaces the current state and state data of a session.
func (sm *StoreBasedStateManager) SaveState(ctx context.Context, sessionID, flowType, state string, data map[string]string) error {
	slog.Debug("StateManager SaveState", "sessionID", sessionID, "flowType", flowType, "state", state)

	existing, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager SaveState get error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}

	now := sm.now()
	created := now
	if existing != nil && !existing.CreatedAt.IsZero() {
		created = existing.CreatedAt
	}
	err = sm.store.SaveFlowState(models.FlowState{
		SessionID:    sessionID,
		FlowType:     flowType,
		CurrentState: state,
		StateData:    data,
		CreatedAt:    created,
		UpdatedAt:    now,
	})
	if err != nil {
		slog.Error("StateManager SaveState save error", "error", err, "sessionID", sessionID, "flowType", flowType, "state", state)
		return err
	}

	slog.Debug("StateManager SaveState succeeded", "sessionID", sessionID, "flowType", flowType, "state", state)
	return nil
}

// GetStateData retrieves additional data associated with the session's state.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, sessionID, flowType, key string) (string, error) {
	slog.Debug("StateManager GetStateData", "sessionID", sessionID, "flowType", flowType, "key", key)

	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager GetStateData error", "error", err, "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", err
	}

	if flowState == nil || flowState.StateData == nil {
		slog.Debug("StateManager GetStateData not found", "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", nil
	}

	value, exists := flowState.StateData[key]
	if !exists {
		slog.Debug("StateManager GetStateData key not found", "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", nil
	}

	return value, nil
}

// SetStateData stores additional data associated with the session's state.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, sessionID, flowType, key, value string) error {
	slog.Debug("StateManager SetStateData", "sessionID", sessionID, "flowType", flowType, "key", key)

	// Get existing state or create new one
	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager SetStateData get error", "error", err, "sessionID", sessionID, "flowType", flowType, "key", key)
		return err
	}

	now := sm.now()
	if flowState == nil {
		flowState = &models.FlowState{
			SessionID: sessionID,
			FlowType:  flowType,
			StateData: map[string]string{key: value},
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		if flowState.StateData == nil {
			flowState.StateData = make(map[string]string)
		}
		flowState.StateData[key] = value
		flowState.UpdatedAt = now
	}

	err = sm.store.SaveFlowState(*flowState)
	if err != nil {
		slog.Error("StateManager SetStateData save error", "error", err, "sessionID", sessionID, "flowType", flowType, "key", key)
		return err
	}

	slog.Debug("StateManager SetStateData succeeded", "sessionID", sessionID, "flowType", flowType, "key", key)
	return nil
}

// ResetState removes all state data for a session in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, sessionID, flowType string) error {
	slog.Debug("StateManager ResetState", "sessionID", sessionID, "flowType", flowType)

	err := sm.store.DeleteFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager ResetState error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}

	slog.Info("StateManager ResetState succeeded", "sessionID", sessionID, "flowType", flowType)
	return nil
}

// ListStates returns every stored state of a flow.
func (sm *StoreBasedStateManager) ListStates(ctx context.Context, flowType string) ([]models.FlowState, error) {
	states, err := sm.store.ListFlowStates(flowType)
	if err != nil {
		slog.Error("StateManager ListStates error", "error", err, "flowType", flowType)
		return nil, err
	}
	slog.Debug("StateManager ListStates", "flowType", flowType, "count", len(states))
	return states, nil
}
