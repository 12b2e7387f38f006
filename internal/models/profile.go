// Package models defines the core data structures for InsureGuide.
//
// It includes the user profile collected during a conversation, the partial
// updates that workflow steps and the extractor produce, and the persisted flow
// state shared with the store package.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// PreferenceItem is one generated preference question and the user's answer.
type PreferenceItem struct {
	Question string  `json:"question"`
	Response *string `json:"response"`
}

// Answered reports whether the user replied to this question.
func (p PreferenceItem) Answered() bool {
	return p.Response != nil && strings.TrimSpace(*p.Response) != ""
}

// UserProfile is the conversation state accumulated for one user.
type UserProfile struct {
	Name                     *string  `json:"name"`
	FamilyMembers            []string `json:"family_members"`
	Age                      []int    `json:"age"`
	HasPreExistingConditions *bool    `json:"has_pre_existing_conditions"`
	PreExistingConditions    []string `json:"pre_existing_conditions"`
	ContactInfo              *string  `json:"contact_info"`

	PreferencesData      []PreferenceItem `json:"preferences_data"`
	CurrentQuestionIndex int              `json:"current_question_index"`
	ProfilingStage       *string          `json:"profiling_stage"`

	Messages         []string   `json:"messages"`
	InteractionCount int        `json:"interaction_count"`
	CurrentWorkflow  WorkflowID `json:"current_workflow"`
	NewUser          bool       `json:"new_user"`

	GreetingDone                   bool `json:"greeting_done"`
	PersonalInfoCollected          bool `json:"personal_info_collected"`
	HealthInfoCollected            bool `json:"health_info_collected"`
	PreferencesCollected           bool `json:"preferences_collected"`
	PolicyMatchDone                bool `json:"policy_match_done"`
	QueryHandlingDone              bool `json:"query_handling_done"`
	OnboardingConfirmationDone     bool `json:"onboarding_confirmation_done"`
	RecommendationConfirmationDone bool `json:"recommendation_confirmation_done"`
	OnboardingComplete             bool `json:"onboarding_complete"`
	RecommendationComplete         bool `json:"recommendation_complete"`

	UserQuery           *string `json:"user_query"`
	UserIntentQuery     *string `json:"user_intent_query"`
	AgentQuery          *string `json:"agent_query"`
	RecommendedPolicies *string `json:"recommeneded_policies"`
	CoverageType        *string `json:"coverage_type"`
	BudgetRange         *string `json:"budget_range"`
	SpecificBenefits    *string `json:"specific_benefits"`
	FinalRecommendation *string `json:"final_recommendation,omitempty"`

	Fallback FallbackRecord `json:"fallback"`
}

// FallbackRecord is the outcome of the most recent fallback handling.
type FallbackRecord struct {
	Triggered         bool     `json:"fallback_triggered"`
	LastTime          string   `json:"last_fallback_time,omitempty"`
	Type              string   `json:"fallback_type,omitempty"`
	Message           string   `json:"fallback_message,omitempty"`
	Actions           []string `json:"fallback_actions,omitempty"`
	RecoveryAttempted bool     `json:"recovery_attempted"`
	RecoverySuccess   bool     `json:"recovery_success"`
	UsedBackup        bool     `json:"used_backup"`
}

// NewUserProfile returns the empty profile a session starts with.
func NewUserProfile() *UserProfile {
	return &UserProfile{
		NewUser:         true,
		CurrentWorkflow: WorkflowSupervisor,
	}
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Name = cloneString(p.Name)
	c.FamilyMembers = cloneSlice(p.FamilyMembers)
	c.Age = cloneSlice(p.Age)
	if p.HasPreExistingConditions != nil {
		v := *p.HasPreExistingConditions
		c.HasPreExistingConditions = &v
	}
	c.PreExistingConditions = cloneSlice(p.PreExistingConditions)
	c.ContactInfo = cloneString(p.ContactInfo)
	if p.PreferencesData != nil {
		c.PreferencesData = make([]PreferenceItem, len(p.PreferencesData))
		for i, item := range p.PreferencesData {
			c.PreferencesData[i] = PreferenceItem{Question: item.Question, Response: cloneString(item.Response)}
		}
	}
	c.ProfilingStage = cloneString(p.ProfilingStage)
	c.Messages = cloneSlice(p.Messages)
	c.UserQuery = cloneString(p.UserQuery)
	c.UserIntentQuery = cloneString(p.UserIntentQuery)
	c.AgentQuery = cloneString(p.AgentQuery)
	c.RecommendedPolicies = cloneString(p.RecommendedPolicies)
	c.CoverageType = cloneString(p.CoverageType)
	c.BudgetRange = cloneString(p.BudgetRange)
	c.SpecificBenefits = cloneString(p.SpecificBenefits)
	c.FinalRecommendation = cloneString(p.FinalRecommendation)
	c.Fallback.Actions = cloneSlice(p.Fallback.Actions)
	return &c
}

// DisplayName returns the user's name or the given fallback when unknown.
func (p *UserProfile) DisplayName(fallback string) string {
	if p.Name == nil || strings.TrimSpace(*p.Name) == "" {
		return fallback
	}
	return *p.Name
}

// HasMissingProfileInfo reports whether any onboarding field is still unknown.
func (p *UserProfile) HasMissingProfileInfo() bool {
	return len(p.MissingProfileInfo()) > 0
}

// MissingProfileInfo lists the onboarding fields that are still unknown.
func (p *UserProfile) MissingProfileInfo() []string {
	var missing []string
	if p.Name == nil || *p.Name == "" {
		missing = append(missing, "name")
	}
	if len(p.FamilyMembers) == 0 {
		missing = append(missing, "family_members")
	}
	switch {
	case len(p.Age) == 0:
		missing = append(missing, "age")
	case len(p.FamilyMembers) > 0 && len(p.Age) != len(p.FamilyMembers):
		missing = append(missing, "age (incomplete for all family members)")
	}
	if p.HasPreExistingConditions == nil {
		missing = append(missing, "has_pre_existing_conditions")
	} else if *p.HasPreExistingConditions && len(p.PreExistingConditions) == 0 {
		missing = append(missing, "pre_existing_conditions")
	}
	return missing
}

// HouseholdAligned reports whether family members and ages can be paired.
func (p *UserProfile) HouseholdAligned() bool {
	if len(p.FamilyMembers) == 0 || len(p.Age) == 0 {
		return true
	}
	return len(p.FamilyMembers) == len(p.Age)
}

// Summary renders the profile for confirmation prompts and LLM context.
func (p *UserProfile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.DisplayName("None"))
	fmt.Fprintf(&b, "Family Members: %s\n", joinOrNone(p.FamilyMembers))
	fmt.Fprintf(&b, "Age: %s\n", joinOrNone(intsToStrings(p.Age)))
	fmt.Fprintf(&b, "Pre-existing Conditions: %s\n", joinOrNone(p.PreExistingConditions))
	var prefs []string
	for _, item := range p.PreferencesData {
		if item.Answered() {
			prefs = append(prefs, fmt.Sprintf("%s: %s", item.Question, *item.Response))
		}
	}
	fmt.Fprintf(&b, "Preferences: %s", joinOrNone(prefs))
	return b.String()
}

// RecommendationDigest condenses the profile into the input of the feature
// recommendation prompt.
func (p *UserProfile) RecommendationDigest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Family members to insure: %s\n", joinOrNone(p.FamilyMembers))
	fmt.Fprintf(&b, "Ages: %s\n", joinOrNone(intsToStrings(p.Age)))
	switch {
	case p.HasPreExistingConditions == nil:
		b.WriteString("Pre-existing conditions: unknown\n")
	case *p.HasPreExistingConditions:
		fmt.Fprintf(&b, "Pre-existing conditions: yes (%s)\n", joinOrNone(p.PreExistingConditions))
	default:
		b.WriteString("Pre-existing conditions: none\n")
	}
	if p.CoverageType != nil {
		fmt.Fprintf(&b, "Coverage type: %s\n", *p.CoverageType)
	}
	if p.BudgetRange != nil {
		fmt.Fprintf(&b, "Budget range: %s\n", *p.BudgetRange)
	}
	if p.SpecificBenefits != nil {
		fmt.Fprintf(&b, "Specific benefits: %s\n", *p.SpecificBenefits)
	}
	b.WriteString("User preferences:\n")
	answered := 0
	for _, item := range p.PreferencesData {
		if !item.Answered() {
			continue
		}
		answered++
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", item.Question, *item.Response)
	}
	if answered == 0 {
		b.WriteString("- none provided\n")
	}
	return b.String()
}

// RecentMessages returns at most n trailing transcript entries.
func (p *UserProfile) RecentMessages(n int) []string {
	if n <= 0 || len(p.Messages) <= n {
		return p.Messages
	}
	return p.Messages[len(p.Messages)-n:]
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

func intsToStrings(values []int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
