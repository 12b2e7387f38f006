package models

// Opt is an optional patch value. An unset Opt leaves the profile field as it
// is; a set Opt overwrites it, including with a nil or empty value.
type Opt[T any] struct {
	Set   bool
	Value T
}

// Some returns a set Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Set: true, Value: v}
}

// Cleared returns a set Opt holding the zero value of T.
func Cleared[T any]() Opt[T] {
	return Opt[T]{Set: true}
}

// Text returns a set Opt pointing at a copy of s.
func Text(s string) Opt[*string] {
	return Some(&s)
}

// Flag returns a set Opt pointing at a copy of b.
func Flag(b bool) Opt[*bool] {
	return Some(&b)
}

func (o Opt[T]) applyTo(dst *T) {
	if o.Set {
		*dst = o.Value
	}
}

// Patch is the typed partial update a workflow step returns.
type Patch struct {
	Name                     Opt[*string]
	FamilyMembers            Opt[[]string]
	Age                      Opt[[]int]
	HasPreExistingConditions Opt[*bool]
	PreExistingConditions    Opt[[]string]
	ContactInfo              Opt[*string]

	PreferencesData      Opt[[]PreferenceItem]
	CurrentQuestionIndex Opt[int]
	ProfilingStage       Opt[*string]

	CurrentWorkflow Opt[WorkflowID]
	NewUser         Opt[bool]

	GreetingDone                   Opt[bool]
	PersonalInfoCollected          Opt[bool]
	HealthInfoCollected            Opt[bool]
	PreferencesCollected           Opt[bool]
	PolicyMatchDone                Opt[bool]
	QueryHandlingDone              Opt[bool]
	OnboardingConfirmationDone     Opt[bool]
	RecommendationConfirmationDone Opt[bool]
	OnboardingComplete             Opt[bool]
	RecommendationComplete         Opt[bool]

	UserQuery           Opt[*string]
	UserIntentQuery     Opt[*string]
	AgentQuery          Opt[*string]
	RecommendedPolicies Opt[*string]
	CoverageType        Opt[*string]
	BudgetRange         Opt[*string]
	SpecificBenefits    Opt[*string]
	FinalRecommendation Opt[*string]

	Fallback Opt[FallbackRecord]

	// Messages are appended to the transcript, never replaced.
	Messages []string
}

// Say appends transcript entries to the patch.
func (p *Patch) Say(msgs ...string) {
	p.Messages = append(p.Messages, msgs...)
}

// Apply merges a workflow patch into the profile. It is the only place
// workflow output touches the profile.
func Apply(p *UserProfile, patch Patch) {
	patch.Name.applyTo(&p.Name)
	patch.FamilyMembers.applyTo(&p.FamilyMembers)
	patch.Age.applyTo(&p.Age)
	patch.HasPreExistingConditions.applyTo(&p.HasPreExistingConditions)
	patch.PreExistingConditions.applyTo(&p.PreExistingConditions)
	patch.ContactInfo.applyTo(&p.ContactInfo)

	patch.PreferencesData.applyTo(&p.PreferencesData)
	patch.CurrentQuestionIndex.applyTo(&p.CurrentQuestionIndex)
	patch.ProfilingStage.applyTo(&p.ProfilingStage)

	patch.CurrentWorkflow.applyTo(&p.CurrentWorkflow)
	patch.NewUser.applyTo(&p.NewUser)

	patch.GreetingDone.applyTo(&p.GreetingDone)
	patch.PersonalInfoCollected.applyTo(&p.PersonalInfoCollected)
	patch.HealthInfoCollected.applyTo(&p.HealthInfoCollected)
	patch.PreferencesCollected.applyTo(&p.PreferencesCollected)
	patch.PolicyMatchDone.applyTo(&p.PolicyMatchDone)
	patch.QueryHandlingDone.applyTo(&p.QueryHandlingDone)
	patch.OnboardingConfirmationDone.applyTo(&p.OnboardingConfirmationDone)
	patch.RecommendationConfirmationDone.applyTo(&p.RecommendationConfirmationDone)
	patch.OnboardingComplete.applyTo(&p.OnboardingComplete)
	patch.RecommendationComplete.applyTo(&p.RecommendationComplete)

	patch.UserQuery.applyTo(&p.UserQuery)
	patch.UserIntentQuery.applyTo(&p.UserIntentQuery)
	patch.AgentQuery.applyTo(&p.AgentQuery)
	patch.RecommendedPolicies.applyTo(&p.RecommendedPolicies)
	patch.CoverageType.applyTo(&p.CoverageType)
	patch.BudgetRange.applyTo(&p.BudgetRange)
	patch.SpecificBenefits.applyTo(&p.SpecificBenefits)
	patch.FinalRecommendation.applyTo(&p.FinalRecommendation)

	patch.Fallback.applyTo(&p.Fallback)

	if len(patch.Messages) > 0 {
		p.Messages = append(p.Messages, patch.Messages...)
	}
}
