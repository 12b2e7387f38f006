package models

import "log/slog"

// ProfileUpdate carries the facts the extractor found in one utterance.
// Only explicitly stated fields are set.
type ProfileUpdate struct {
	Name                     *string  `json:"name,omitempty"`
	FamilyMembers            []string `json:"family_members,omitempty"`
	Age                      []int    `json:"age,omitempty"`
	HasPreExistingConditions *bool    `json:"has_pre_existing_conditions,omitempty"`
	PreExistingConditions    []string `json:"pre_existing_conditions,omitempty"`
}

// IsEmpty reports whether the update carries nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && len(u.FamilyMembers) == 0 && len(u.Age) == 0 &&
		u.HasPreExistingConditions == nil && len(u.PreExistingConditions) == 0
}

// UpdateState merges an extractor update into the profile.
//
// Scalars overwrite when set. Lists are assigned when the profile list is empty
// and extended otherwise, so replaying an update appends its entries again.
// Family members and ages are merged together and the household part of the
// update is dropped when it would leave the two lists with different lengths.
func UpdateState(p *UserProfile, u ProfileUpdate) {
	if u.Name != nil && *u.Name != "" {
		name := *u.Name
		p.Name = &name
	}

	family := mergeList(p.FamilyMembers, u.FamilyMembers)
	ages := mergeList(p.Age, u.Age)
	if len(family) > 0 && len(ages) > 0 && len(family) != len(ages) {
		slog.Warn("models.UpdateState: household update would misalign family and ages, skipping",
			"family", len(family), "ages", len(ages))
	} else {
		p.FamilyMembers = family
		p.Age = ages
	}

	if u.HasPreExistingConditions != nil {
		v := *u.HasPreExistingConditions
		p.HasPreExistingConditions = &v
	}
	p.PreExistingConditions = mergeList(p.PreExistingConditions, u.PreExistingConditions)
}

func mergeList[T any](current, update []T) []T {
	if len(update) == 0 {
		return current
	}
	if len(current) == 0 {
		return cloneSlice(update)
	}
	out := make([]T, 0, len(current)+len(update))
	out = append(out, current...)
	return append(out, update...)
}
