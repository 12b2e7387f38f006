package models

import "time"

// FlowState is the persisted state of one conversation.
type FlowState struct {
	SessionID    string            `json:"session_id"`
	FlowType     string            `json:"flow_type"`
	CurrentState string            `json:"current_state"`
	StateData    map[string]string `json:"state_data,omitempty"` // serialized profile and suspension
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
