package memory

import (
	"strings"

	"soul-teller/server/internal/models"
)

// ChoiceRule adjusts the character state when a choice text contains one of
// its keywords. Deltas are added to the current value and clamped.
type ChoiceRule struct {
	Name            string
	Keywords        []string
	Mood            models.Mood
	EnergyDelta     int
	TrustDelta      int
	EngagementDelta int
}

// DefaultChoiceRules returns the bold, retreat and hostile rules in
// evaluation order.
func DefaultChoiceRules() []ChoiceRule {
	return []ChoiceRule{
		{
			Name:        "bold",
			Keywords:    []string{"探索", "前进", "尝试"},
			Mood:        models.MoodExcited,
			EnergyDelta: 5,
			TrustDelta:  3,
		},
		{
			Name:        "retreat",
			Keywords:    []string{"放弃", "逃避", "退缩"},
			Mood:        models.MoodWorried,
			EnergyDelta: -10,
		},
		{
			Name:            "hostile",
			Keywords:        []string{"攻击", "战斗", "对抗"},
			Mood:            models.MoodExcited,
			TrustDelta:      -5,
			EngagementDelta: 10,
		},
	}
}

func (r ChoiceRule) matches(text string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (r ChoiceRule) patch(st models.CharacterState) models.StatePatch {
	var p models.StatePatch
	if r.Mood != "" {
		p.Mood = moodPtr(r.Mood)
	}
	if r.EnergyDelta != 0 {
		p.Energy = intPtr(st.Energy + r.EnergyDelta)
	}
	if r.TrustDelta != 0 {
		p.Trust = intPtr(st.Trust + r.TrustDelta)
	}
	if r.EngagementDelta != 0 {
		p.Engagement = intPtr(st.Engagement + r.EngagementDelta)
	}
	return p
}

// matchRule returns the first rule matching the lowercased text
func matchRule(rules []ChoiceRule, text string) (ChoiceRule, bool) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if r.matches(lower) {
			return r, true
		}
	}
	return ChoiceRule{}, false
}
