package models

import (
	"errors"
	"strings"
)

// MaxMessageLength bounds a single user message accepted by the API.
const MaxMessageLength = 4096

var (
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrInvalidMessageID = errors.New("message_id must not contain whitespace")
)

// ChatRequest is a user message sent to a session.
type ChatRequest struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"` // optional client id used to drop replays
}

// Validate checks the request before it reaches the conversation engine.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if strings.ContainsAny(r.MessageID, " \t\n") {
		return ErrInvalidMessageID
	}
	return nil
}

// ChatReply is what the assistant says back after a turn.
type ChatReply struct {
	SessionID       string     `json:"session_id"`
	Messages        []string   `json:"messages"`
	Prompt          string     `json:"prompt,omitempty"`
	CurrentWorkflow WorkflowID `json:"current_workflow"`
	Done            bool       `json:"done"`
}

// SessionView is the read model returned by the session endpoint.
type SessionView struct {
	SessionID     string       `json:"session_id"`
	Profile       *UserProfile `json:"profile"`
	PendingStep   string       `json:"pending_step,omitempty"`
	PendingPrompt string       `json:"pending_prompt,omitempty"`
	Missing       []string     `json:"missing,omitempty"`
	NextQuestion  string       `json:"next_question,omitempty"`
	Done          bool         `json:"done"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDuplicate indicates the message was already processed.
	APIStatusDuplicate APIStatus = "duplicate"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Duplicate creates the response for a replayed message id.
func Duplicate(messageID string) APIResponse {
	return APIResponse{Status: string(APIStatusDuplicate), Message: "message " + messageID + " was already processed"}
}
