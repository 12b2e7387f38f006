package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
)

// FallbackError is a step failure handed to the fallback handler.
type FallbackError struct {
	Step     StepID
	Category genai.Category
	Err      error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %v", e.Step, e.Category, e.Err)
}

func (e *FallbackError) Unwrap() error { return e.Err }

func newFallbackError(step StepID, err error) *FallbackError {
	return &FallbackError{Step: step, Category: genai.Classify(err), Err: err}
}

// User facing fallback messages.
const (
	HighDemandMessage = "I'm currently experiencing high demand.\nPlease try again in a few moments, or you can rephrase your question."

	TimeoutMessage = "I'm taking longer than expected to process your request.\nLet's try again - could you please rephrase your question or try a different approach?"

	LowConfidenceMessage = `I want to make sure I understand you correctly. Could you please:
1. Provide more details about what you're looking for
2. Or let me know which of these areas interests you:
   - Health insurance policies
   - Policy recommendations
   - Understanding coverage options`

	IntentFailureMessage = `I'm not quite sure I understand what you're looking for. Could you please:
1. Rephrase your question
2. Or let me know if you're looking for help with:
   - Finding a health insurance policy
   - Understanding your current policy
   - Getting recommendations based on your needs
   - Learning about our services`

	ExecutionErrorMessage = "I apologize, but I encountered an issue while processing your request.\nLet's try again - could you please rephrase your question or try a different approach?"

	ConflictMessage = `I see multiple possible ways to help you. Could you clarify if you're looking for:
1. Policy recommendations
2. Onboarding assistance
3. General information about our services`

	GenericFallbackMessage = `I want to make sure I help you effectively. Could you please:
1. Rephrase your question
2. Or let me know if you're looking for help with:
   - Finding a health insurance policy
   - Understanding your current policy
   - Getting recommendations based on your needs`
)

// Fallback actions recorded for failures that are not recovered in place.
const (
	actionExecutionError    = "Encountered execution error"
	actionConflictClarified = "Requested user clarification for conflicting intents"
	actionGenericFallback   = "Generic fallback triggered"

	interruptMarker = "interrupt"
)

type fallbackResponse struct {
	message           string
	actions           []string
	recoveryAttempted bool
	// silent failures resume at the failing step without a message.
	silent bool
}

// fallbackFor maps a failure category to what the user is told.
func fallbackFor(fe *FallbackError) fallbackResponse {
	switch fe.Category {
	case genai.CategoryRateLimit:
		return fallbackResponse{message: HighDemandMessage, actions: []string{genai.ActionRateLimitFailed}, recoveryAttempted: true}
	case genai.CategoryTimeout:
		return fallbackResponse{message: TimeoutMessage, actions: []string{genai.ActionTimeoutFailed}, recoveryAttempted: true}
	case genai.CategoryLowConfidence:
		return fallbackResponse{message: LowConfidenceMessage, actions: []string{genai.ActionLowConfidenceFailed}, recoveryAttempted: true}
	case genai.CategoryIntentFailure:
		return fallbackResponse{message: IntentFailureMessage, actions: []string{genai.ActionRequestClarification}}
	case genai.CategoryExecutionError:
		if strings.Contains(strings.ToLower(fe.Err.Error()), interruptMarker) {
			return fallbackResponse{silent: true}
		}
		return fallbackResponse{message: ExecutionErrorMessage, actions: []string{actionExecutionError}}
	case genai.CategoryConflict:
		return fallbackResponse{message: ConflictMessage, actions: []string{actionConflictClarified}}
	default:
		return fallbackResponse{message: GenericFallbackMessage, actions: []string{actionGenericFallback}}
	}
}

// fallbackSuspension decides where the conversation waits after a failure.
// Routing workflows take the reply as their new query; collection steps ask
// again from the top.
func fallbackSuspension(step StepID, message string) *Suspension {
	switch step.Workflow() {
	case models.WorkflowSupervisor:
		return &Suspension{Step: StepSupervisor, Prompt: message, Bind: BindIntentQuery}
	case models.WorkflowPolicyComparison:
		return &Suspension{Step: StepPolicyComparison, Prompt: message, Bind: BindIntentQuery}
	case models.WorkflowPolicyInfo:
		return &Suspension{Step: StepPolicyInfo, Prompt: message, Bind: BindUserQuery}
	}
	return &Suspension{Step: step, Prompt: message, Reenter: true}
}

// fallbackRecord builds the profile record of a failure and the recoveries
// attempted before it.
func fallbackRecord(fe *FallbackError, resp fallbackResponse, recoveries []genai.Recovery, at string) models.FallbackRecord {
	record := models.FallbackRecord{
		Triggered:         true,
		LastTime:          at,
		Type:              string(fe.Category),
		Message:           fe.Err.Error(),
		RecoveryAttempted: resp.recoveryAttempted,
	}
	seen := make(map[string]bool)
	add := func(action string) {
		if !seen[action] {
			seen[action] = true
			record.Actions = append(record.Actions, action)
		}
	}
	for _, r := range recoveries {
		record.RecoveryAttempted = true
		record.UsedBackup = record.UsedBackup || r.UsedBackup
		for _, a := range r.Actions {
			add(a)
		}
	}
	for _, a := range resp.actions {
		add(a)
	}
	return record
}

// recoveryRecord builds the profile record of a turn whose failures were all
// recovered in place. It returns false when nothing was recovered.
func recoveryRecord(recoveries []genai.Recovery, at string) (models.FallbackRecord, bool) {
	var record models.FallbackRecord
	for _, r := range recoveries {
		if !r.Success {
			continue
		}
		record.Triggered = true
		record.LastTime = at
		record.Type = string(r.Category)
		record.RecoveryAttempted = true
		record.RecoverySuccess = true
		record.UsedBackup = record.UsedBackup || r.UsedBackup
		record.Actions = append(record.Actions, r.Actions...)
	}
	return record, record.Triggered
}
