package domain

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPreferenceService() (*PreferenceService, *memPreferences, *memSchedules) {
	prefs := newMemPreferences()
	schedules := newMemSchedules()
	svc := NewPreferenceService(prefs, schedules, DigestTiming{Hour: 9, Weekday: time.Monday}, zap.NewNop())
	return svc, prefs, schedules
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	svc, _, _ := newPreferenceService()
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, FrequencyImmediate, first.Frequency)
	assert.True(t, first.Flags[CategoryNotifications]["comments"])
	assert.False(t, first.Flags[CategoryMarketing]["newsletter"])

	second, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, first.Flags, second.Flags)
}

func TestGetMissingPreference(t *testing.T) {
	svc, _, _ := newPreferenceService()
	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShouldDeliver(t *testing.T) {
	pref := NewEmailPreference(uuid.New(), time.Now())
	pref.Flags[CategoryNotifications]["comments"] = false
	delete(pref.Flags, CategoryCommunity)

	tests := []struct {
		name     string
		event    string
		category string
		want     bool
	}{
		{"explicitly disabled", "comments", CategoryNotifications, false},
		{"unrelated leaf keeps default", "likes", CategoryNotifications, true},
		{"unknown leaf fails open", "brand_new_event", CategoryNotifications, true},
		{"absent category", "invites", CategoryCommunity, false},
		{"marketing default off", "newsletter", CategoryMarketing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDeliver(pref, tt.event, tt.category))
		})
	}
}

func TestUpdateMergesRecognisedLeaves(t *testing.T) {
	svc, _, _ := newPreferenceService()
	ctx := context.Background()
	userID := uuid.New()

	updated, err := svc.Update(ctx, userID, PreferenceUpdate{
		Preferences: map[string]map[string]interface{}{
			CategoryNotifications: {"comments": false, "not_a_leaf": false, "likes": "no"},
			"unknown_category":    {"x": true},
		},
	})
	require.NoError(t, err)

	assert.False(t, ShouldDeliver(updated, "comments", CategoryNotifications))
	assert.True(t, ShouldDeliver(updated, "likes", CategoryNotifications))
	_, hasJunk := updated.Flags[CategoryNotifications]["not_a_leaf"]
	assert.False(t, hasJunk)
	_, hasCategory := updated.Flags["unknown_category"]
	assert.False(t, hasCategory)
}

func TestUpdateRejectsInvalidFrequency(t *testing.T) {
	svc, _, _ := newPreferenceService()
	bad := "hourly"

	_, err := svc.Update(context.Background(), uuid.New(), PreferenceUpdate{Frequency: &bad})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestUnsubscribeThenResubscribeRestoresEveryLeaf(t *testing.T) {
	svc, _, _ := newPreferenceService()
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Update(ctx, userID, PreferenceUpdate{
		Preferences: map[string]map[string]interface{}{
			CategoryNotifications: {"likes": false},
			CategoryMarketing:     {"promotions": true},
		},
	})
	require.NoError(t, err)

	off, err := svc.UnsubscribeAll(ctx, userID)
	require.NoError(t, err)
	for category, leaves := range PreferenceLeaves {
		for leaf := range leaves {
			assert.False(t, off.Flags[category][leaf], "%s.%s", category, leaf)
		}
	}

	on, err := svc.ResubscribeAll(ctx, userID)
	require.NoError(t, err)
	for category, leaves := range PreferenceLeaves {
		for leaf := range leaves {
			assert.True(t, on.Flags[category][leaf], "%s.%s", category, leaf)
		}
	}
}

func TestFrequencyChangeMaintainsSchedule(t *testing.T) {
	svc, _, schedules := newPreferenceService()
	ctx := context.Background()
	userID := uuid.New()

	weekly := string(FrequencyWeekly)
	_, err := svc.Update(ctx, userID, PreferenceUpdate{Frequency: &weekly})
	require.NoError(t, err)

	sch, ok := schedules.items[userID]
	require.True(t, ok)
	assert.Equal(t, FrequencyWeekly, sch.Frequency)
	assert.Equal(t, time.Monday, sch.NextRunAt.Weekday())
	assert.Equal(t, 9, sch.NextRunAt.Hour())

	immediate := string(FrequencyImmediate)
	_, err = svc.Update(ctx, userID, PreferenceUpdate{Frequency: &immediate})
	require.NoError(t, err)
	_, ok = schedules.items[userID]
	assert.False(t, ok)
}

func TestDisableMarketing(t *testing.T) {
	svc, _, _ := newPreferenceService()
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.ResubscribeAll(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, svc.DisableMarketing(ctx, userID))

	pref, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	for leaf := range PreferenceLeaves[CategoryMarketing] {
		assert.False(t, pref.Flags[CategoryMarketing][leaf])
	}
	assert.True(t, pref.Flags[CategoryNotifications]["likes"])
}
