// Package flow runs the InsureGuide conversation: a supervisor that routes
// requests to the onboarding, recommendation, policy information and policy
// comparison workflows, the fallback handling around them, and the persisted
// suspension state that lets a conversation resume on the next user reply.
package flow

import (
	"context"

	"github.com/BTreeMap/InsureGuide/internal/models"
)

// FlowTypeConversation is the flow type sessions are stored under.
const FlowTypeConversation = "conversation"

// State data keys of a stored session.
const (
	DataKeyProfile    = "profile"
	DataKeySuspension = "suspension"
	DataKeyReturnTo   = "return_to"
	DataKeyDone       = "done"
)

// StateManager defines the interface for managing flow state.
type StateManager interface {
	// LoadState returns the stored state, or nil when there is none.
	LoadState(ctx context.Context, sessionID, flowType string) (*models.FlowState, error)

	// SaveState writes the current state and all state data at once.
	SaveState(ctx context.Context, sessionID, flowType, state string, data map[string]string) error

	// GetStateData retrieves one value of the session's state data.
	GetStateData(ctx context.Context, sessionID, flowType, key string) (string, error)

	// SetStateData stores one value of the session's state data.
	SetStateData(ctx context.Context, sessionID, flowType, key, value string) error

	// ResetState removes all state data for a session in a flow.
	ResetState(ctx context.Context, sessionID, flowType string) error

	// ListStates returns every stored state of a flow.
	ListStates(ctx context.Context, flowType string) ([]models.FlowState, error)
}
