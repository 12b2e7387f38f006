package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/models"
)

const (
	onboardingGreeting = "Let's get you set up! I'll ask a few quick questions about you and the people you'd like to insure so I can find the right cover for your family."

	onboardingConfirmQuestion = "Is this information correct? Type 'yes' to proceed or 'no' to make corrections."
	onboardingConfirmed       = "Thank you for confirming your information!"
	onboardingRestart         = "Let's collect your information again to ensure everything is accurate."

	contextKeyField = "field"

	fieldName          = "name"
	fieldFamily        = "family_members"
	fieldAge           = "age"
	fieldContact       = "contact_info"
	fieldHasConditions = "has_pre_existing_conditions"
	fieldConditions    = "pre_existing_conditions"
)

// Profiling stages recorded during onboarding.
const (
	stageGreeting        = "greeting"
	stageComplete        = "complete"
	stagePreExisting     = "pre_existing_check"
	stageHealthComplete  = "health_complete"
	stageRestart         = "restart"
	stageSkipped         = "skipped"
	stagePreferencesPass = "preferences"
)

// greeting opens onboarding for users who were not greeted yet.
func (e *Engine) greeting(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	var patch models.Patch
	if s.Profile.GreetingDone {
		return next(StepPersonalInfo, patch)
	}
	patch.GreetingDone = models.Some(true)
	patch.ProfilingStage = models.Text(stageGreeting)
	return Outcome{Patch: patch, Say: []string{onboardingGreeting}, Next: StepPersonalInfo}, nil
}

// personalInfo collects name, family members, ages and contact details, one
// field per suspension.
func (e *Engine) personalInfo(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !in.fresh() {
		field := in.context[contextKeyField]
		say, err := collectPersonalField(p, field, *in.reply, &patch)
		var invalid *advisor.InvalidReplyError
		if errors.As(err, &invalid) {
			slog.Warn("Engine.personalInfo: invalid reply", "sessionID", s.ID, "field", field, "attempts", in.attempts+1)
			return suspend(askField(field, invalid.Prompt, in.attempts+1), patch)
		}
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Patch: patch, Say: say, Next: StepPersonalInfo}, nil
	}

	switch {
	case p.Name == nil || strings.TrimSpace(*p.Name) == "":
		prompt := advisor.NamePrompt
		if p.AgentQuery != nil && *p.AgentQuery != "" {
			prompt = *p.AgentQuery + "\n" + prompt
		}
		return suspend(askField(fieldName, prompt, 0), patch)
	case len(p.FamilyMembers) == 0:
		return suspend(askField(fieldFamily, advisor.FamilyPrompt, 0), patch)
	case len(p.Age) == 0 || !p.HouseholdAligned():
		return suspend(askField(fieldAge, advisor.AgePrompt(p.FamilyMembers), 0), patch)
	case p.ContactInfo == nil || *p.ContactInfo == "":
		return suspend(askField(fieldContact, advisor.ContactPrompt, 0), patch)
	}

	patch.PersonalInfoCollected = models.Some(true)
	patch.ProfilingStage = models.Text(stageComplete)
	return next(StepHealthInfo, patch)
}

func askField(field, prompt string, attempts int) *Suspension {
	return &Suspension{
		Step:     StepPersonalInfo,
		Prompt:   prompt,
		Attempts: attempts,
		Context:  map[string]string{contextKeyField: field},
		Precheck: true,
	}
}

// collectPersonalField validates reply as the value of field and records it
// in patch. It returns messages to show on success.
func collectPersonalField(p *models.UserProfile, field, reply string, patch *models.Patch) ([]string, error) {
	switch field {
	case fieldName:
		name, err := advisor.ParseName(reply)
		if err != nil {
			return nil, err
		}
		patch.Name = models.Text(name)
	case fieldFamily:
		family, err := advisor.ParseFamilyMembers(reply)
		if err != nil {
			return nil, err
		}
		patch.FamilyMembers = models.Some(family)
		if len(p.Age) > 0 && len(p.Age) != len(family) {
			// Ages stated for a different household are asked again.
			patch.Age = models.Cleared[[]int]()
		}
	case fieldAge:
		ages, err := advisor.ParseAges(reply, len(p.FamilyMembers))
		if err != nil {
			return nil, err
		}
		patch.Age = models.Some(ages)
	case fieldContact:
		contact, err := advisor.ParseContact(reply)
		if err != nil {
			return nil, err
		}
		patch.ContactInfo = models.Text(contact)
		return []string{advisor.RandomTip()}, nil
	default:
		return nil, fmt.Errorf("reply for unknown onboarding field %q", field)
	}
	return nil, nil
}

// healthInfo asks about pre-existing conditions.
func (e *Engine) healthInfo(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if p.HealthInfoCollected {
		return next(StepOnboardingConfirmation, patch)
	}

	if !in.fresh() {
		reply := strings.TrimSpace(*in.reply)
		switch in.context[contextKeyField] {
		case fieldHasConditions:
			if strings.HasPrefix(strings.ToLower(reply), "y") {
				patch.HasPreExistingConditions = models.Flag(true)
				patch.ProfilingStage = models.Text(stagePreExisting)
				return next(StepHealthInfo, patch)
			}
			patch.HasPreExistingConditions = models.Flag(false)
			patch.PreExistingConditions = models.Some([]string{})
			return healthCollected(patch)
		case fieldConditions:
			patch.PreExistingConditions = models.Some(advisor.ParseConditions(reply))
			return healthCollected(patch)
		default:
			return Outcome{}, fmt.Errorf("reply for unknown health field %q", in.context[contextKeyField])
		}
	}

	switch {
	case p.HasPreExistingConditions == nil:
		return suspend(&Suspension{
			Step:     StepHealthInfo,
			Prompt:   advisor.HasConditionsPrompt(p.DisplayName("there")),
			Context:  map[string]string{contextKeyField: fieldHasConditions},
			Precheck: true,
		}, patch)
	case *p.HasPreExistingConditions && len(p.PreExistingConditions) == 0:
		return suspend(&Suspension{
			Step:     StepHealthInfo,
			Prompt:   advisor.ConditionsPrompt(p.DisplayName("")),
			Context:  map[string]string{contextKeyField: fieldConditions},
			Precheck: true,
		}, patch)
	}
	if !*p.HasPreExistingConditions && p.PreExistingConditions == nil {
		patch.PreExistingConditions = models.Some([]string{})
	}
	return healthCollected(patch)
}

func healthCollected(patch models.Patch) (Outcome, error) {
	patch.HealthInfoCollected = models.Some(true)
	patch.ProfilingStage = models.Text(stageHealthComplete)
	return next(StepOnboardingConfirmation, patch)
}

// OnboardingSummary renders the collected onboarding details.
func OnboardingSummary(p *models.UserProfile) string {
	var b strings.Builder
	b.WriteString("Here's a summary of your information:\n\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.DisplayName("Not provided"))
	fmt.Fprintf(&b, "- Family Members: %s\n", listOr(p.FamilyMembers, "Not provided"))
	ages := make([]string, len(p.Age))
	for i, a := range p.Age {
		ages[i] = fmt.Sprint(a)
	}
	fmt.Fprintf(&b, "- Age of family members: %s\n", listOr(ages, "Not provided"))
	contact := "Not provided"
	if p.ContactInfo != nil && *p.ContactInfo != "" {
		contact = *p.ContactInfo
	}
	fmt.Fprintf(&b, "- Contact Info: %s\n", contact)
	fmt.Fprintf(&b, "- Pre-existing Conditions: %s", listOr(p.PreExistingConditions, "None"))
	return b.String()
}

func listOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

// onboardingConfirmation shows the collected details and asks for a yes.
func (e *Engine) onboardingConfirmation(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	var patch models.Patch
	if in.fresh() {
		return suspend(&Suspension{
			Step:     StepOnboardingConfirmation,
			Prompt:   OnboardingSummary(s.Profile) + "\n\n" + onboardingConfirmQuestion,
			Precheck: true,
		}, patch)
	}

	if advisor.IsYes(*in.reply) {
		slog.Info("Engine.onboardingConfirmation: onboarding complete", "sessionID", s.ID)
		patch.OnboardingConfirmationDone = models.Some(true)
		patch.OnboardingComplete = models.Some(true)
		patch.ProfilingStage = models.Text(stageComplete)
		return Outcome{Patch: patch, Say: []string{onboardingConfirmed}, Next: StepDispatch}, nil
	}

	slog.Info("Engine.onboardingConfirmation: user asked for corrections", "sessionID", s.ID)
	patch.PersonalInfoCollected = models.Some(false)
	patch.HealthInfoCollected = models.Some(false)
	patch.OnboardingConfirmationDone = models.Some(false)
	patch.HasPreExistingConditions = models.Cleared[*bool]()
	patch.PreExistingConditions = models.Some([]string{})
	patch.ProfilingStage = models.Text(stageRestart)
	return Outcome{Patch: patch, Say: []string{onboardingRestart}, Next: StepPersonalInfo}, nil
}
