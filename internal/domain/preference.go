package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	CategoryNotifications = "notifications"
	CategoryCommunity     = "community"
	CategoryMarketing     = "marketing"
)

type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// ValidFrequency reports whether f is a known frequency
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// PreferenceLeaves lists every recognised boolean flag per category with its default.
var PreferenceLeaves = map[string]map[string]bool{
	CategoryNotifications: {
		"friend_requests": true,
		"comments":        true,
		"likes":           true,
		"mentions":        true,
		"replies":         true,
		"messages":        true,
		"achievements":    true,
	},
	CategoryCommunity: {
		"invites":   true,
		"new_posts": true,
		"events":    true,
		"polls":     true,
		"reports":   true,
	},
	CategoryMarketing: {
		"newsletter":      false,
		"product_updates": false,
		"promotions":      false,
	},
}

// PreferenceFlags is category -> leaf -> enabled
type PreferenceFlags map[string]map[string]bool

type EmailPreference struct {
	UserID      uuid.UUID       `json:"user_id"`
	Flags       PreferenceFlags `json:"preferences"`
	Frequency   Frequency       `json:"frequency"`
	LastUpdated time.Time       `json:"last_updated"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewEmailPreference returns the default preference record for a user
func NewEmailPreference(userID uuid.UUID, now time.Time) *EmailPreference {
	flags := make(PreferenceFlags, len(PreferenceLeaves))
	for category, leaves := range PreferenceLeaves {
		flags[category] = make(map[string]bool, len(leaves))
		for leaf, def := range leaves {
			flags[category][leaf] = def
		}
	}
	return &EmailPreference{
		UserID:      userID,
		Flags:       flags,
		Frequency:   FrequencyImmediate,
		LastUpdated: now,
		CreatedAt:   now,
	}
}

// SetAll sets every recognised leaf to enabled
func (p *EmailPreference) SetAll(enabled bool) {
	if p.Flags == nil {
		p.Flags = make(PreferenceFlags)
	}
	for category, leaves := range PreferenceLeaves {
		if p.Flags[category] == nil {
			p.Flags[category] = make(map[string]bool, len(leaves))
		}
		for leaf := range leaves {
			p.Flags[category][leaf] = enabled
		}
	}
}

// SetCategory sets every leaf of one category
func (p *EmailPreference) SetCategory(category string, enabled bool) {
	leaves, ok := PreferenceLeaves[category]
	if !ok {
		return
	}
	if p.Flags == nil {
		p.Flags = make(PreferenceFlags)
	}
	if p.Flags[category] == nil {
		p.Flags[category] = make(map[string]bool, len(leaves))
	}
	for leaf := range leaves {
		p.Flags[category][leaf] = enabled
	}
}

// ShouldDeliver is false only when the category is absent or the leaf is explicitly off.
// Unknown leaves inside a present category default to delivering.
func ShouldDeliver(pref *EmailPreference, event, category string) bool {
	if pref == nil {
		return true
	}
	leaves, ok := pref.Flags[category]
	if !ok {
		return false
	}
	enabled, ok := leaves[event]
	if !ok {
		return true
	}
	return enabled
}

// PreferenceUpdate is a partial update. Unrecognised keys are ignored.
type PreferenceUpdate struct {
	Preferences map[string]map[string]interface{} `json:"preferences"`
	Frequency   *string                           `json:"frequency"`
}

// Apply merges the recognised boolean leaves and a valid frequency into pref.
// It reports whether anything changed.
func (u PreferenceUpdate) Apply(pref *EmailPreference) (bool, error) {
	if u.Frequency != nil {
		f := Frequency(*u.Frequency)
		if !ValidFrequency(f) {
			return false, NewValidationError("frequency", "must be one of immediate, daily, weekly")
		}
	}

	changed := false
	for category, leaves := range u.Preferences {
		known, ok := PreferenceLeaves[category]
		if !ok {
			continue
		}
		for leaf, raw := range leaves {
			if _, ok := known[leaf]; !ok {
				continue
			}
			value, ok := raw.(bool)
			if !ok {
				continue
			}
			if pref.Flags == nil {
				pref.Flags = make(PreferenceFlags)
			}
			if pref.Flags[category] == nil {
				pref.Flags[category] = make(map[string]bool)
			}
			if current, exists := pref.Flags[category][leaf]; !exists || current != value {
				pref.Flags[category][leaf] = value
				changed = true
			}
		}
	}

	if u.Frequency != nil && Frequency(*u.Frequency) != pref.Frequency {
		pref.Frequency = Frequency(*u.Frequency)
		changed = true
	}
	return changed, nil
}

type PreferenceRepository interface {
	GetPreference(ctx context.Context, userID uuid.UUID) (*EmailPreference, error)
	GetOrCreatePreference(ctx context.Context, defaults *EmailPreference) (*EmailPreference, error)
	// UpdatePreference loads the row under a lock (creating it from defaults when
	// missing), applies mutate and persists the result in one transaction.
	UpdatePreference(ctx context.Context, defaults *EmailPreference, mutate func(*EmailPreference) error) (*EmailPreference, error)
	ListUserIDsByFrequency(ctx context.Context, frequency Frequency) ([]uuid.UUID, error)
}
