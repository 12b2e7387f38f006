package models

// WorkflowID names the sub-workflow that currently owns the conversation.
type WorkflowID string

const (
	WorkflowSupervisor       WorkflowID = "supervisor"
	WorkflowOnboarding       WorkflowID = "onboarding"
	WorkflowRecommendation   WorkflowID = "recommendation"
	WorkflowPolicyInfo       WorkflowID = "policy_info"
	WorkflowPolicyComparison WorkflowID = "policy_comparison"
	WorkflowComplete         WorkflowID = "complete"
)

// IsValidWorkflow checks if the given workflow id is known.
func IsValidWorkflow(w WorkflowID) bool {
	switch w {
	case WorkflowSupervisor, WorkflowOnboarding, WorkflowRecommendation,
		WorkflowPolicyInfo, WorkflowPolicyComparison, WorkflowComplete:
		return true
	default:
		return false
	}
}

// Intent is the label the intent classifier assigns to a user request.
type Intent string

const (
	IntentRecommendation     Intent = "policy_recommendation_request"
	IntentComparison         Intent = "policy_comparison_request"
	IntentPolicyInformation  Intent = "policy_information_request"
	IntentInsurerInformation Intent = "insurer_information_request"
	IntentServiceInformation Intent = "service_information_request"
	IntentAnalysis           Intent = "analysis_request"
	IntentOther              Intent = "other"
)

// AllIntents lists every label the classifier may return, in prompt order.
var AllIntents = []Intent{
	IntentRecommendation,
	IntentComparison,
	IntentPolicyInformation,
	IntentInsurerInformation,
	IntentServiceInformation,
	IntentAnalysis,
	IntentOther,
}

// ParseIntent maps a raw label to a known intent.
func ParseIntent(raw string) (Intent, bool) {
	for _, in := range AllIntents {
		if string(in) == raw {
			return in, true
		}
	}
	return "", false
}

// IsInformational reports whether the intent is answered by the policy-info workflow.
func (i Intent) IsInformational() bool {
	return i == IntentPolicyInformation || i == IntentInsurerInformation || i == IntentServiceInformation
}
