package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PreferenceService struct {
	repo      PreferenceRepository
	schedules DigestScheduleRepository
	timing    DigestTiming
	logger    *zap.Logger
	now       func() time.Time
}

func NewPreferenceService(repo PreferenceRepository, schedules DigestScheduleRepository, timing DigestTiming, logger *zap.Logger) *PreferenceService {
	return &PreferenceService{
		repo:      repo,
		schedules: schedules,
		timing:    timing,
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrCreate returns the user's preferences, creating defaults on first access
func (s *PreferenceService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*EmailPreference, error) {
	return s.repo.GetOrCreatePreference(ctx, NewEmailPreference(userID, s.now()))
}

// Get returns ErrNotFound when the user has no record
func (s *PreferenceService) Get(ctx context.Context, userID uuid.UUID) (*EmailPreference, error) {
	return s.repo.GetPreference(ctx, userID)
}

// Update merges a partial update into the stored preferences
func (s *PreferenceService) Update(ctx context.Context, userID uuid.UUID, update PreferenceUpdate) (*EmailPreference, error) {
	return s.mutate(ctx, userID, func(p *EmailPreference) error {
		_, err := update.Apply(p)
		return err
	})
}

// UnsubscribeAll turns every leaf off in one atomic update
func (s *PreferenceService) UnsubscribeAll(ctx context.Context, userID uuid.UUID) (*EmailPreference, error) {
	return s.mutate(ctx, userID, func(p *EmailPreference) error {
		p.SetAll(false)
		return nil
	})
}

// ResubscribeAll turns every leaf on, discarding individual overrides
func (s *PreferenceService) ResubscribeAll(ctx context.Context, userID uuid.UUID) (*EmailPreference, error) {
	return s.mutate(ctx, userID, func(p *EmailPreference) error {
		p.SetAll(true)
		return nil
	})
}

// DisableMarketing switches off every marketing leaf, used on spam complaints
func (s *PreferenceService) DisableMarketing(ctx context.Context, userID uuid.UUID) error {
	_, err := s.mutate(ctx, userID, func(p *EmailPreference) error {
		p.SetCategory(CategoryMarketing, false)
		return nil
	})
	return err
}

func (s *PreferenceService) mutate(ctx context.Context, userID uuid.UUID, fn func(*EmailPreference) error) (*EmailPreference, error) {
	now := s.now()
	var before Frequency

	pref, err := s.repo.UpdatePreference(ctx, NewEmailPreference(userID, now), func(p *EmailPreference) error {
		before = p.Frequency
		if err := fn(p); err != nil {
			return err
		}
		p.LastUpdated = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if pref.Frequency != before {
		if err := s.syncSchedule(ctx, pref, now); err != nil {
			return nil, err
		}
	}
	return pref, nil
}

func (s *PreferenceService) syncSchedule(ctx context.Context, pref *EmailPreference, now time.Time) error {
	if s.schedules == nil {
		return nil
	}
	if pref.Frequency == FrequencyImmediate {
		if err := s.schedules.DeleteDigestSchedule(ctx, pref.UserID); err != nil {
			return fmt.Errorf("failed to remove digest schedule: %w", err)
		}
		return nil
	}

	next := NextDigestRun(pref.Frequency, now, s.timing)
	if err := s.schedules.UpsertDigestSchedule(ctx, pref.UserID, pref.Frequency, next); err != nil {
		return fmt.Errorf("failed to save digest schedule: %w", err)
	}
	s.logger.Debug("digest schedule updated",
		zap.String("user_id", pref.UserID.String()),
		zap.String("frequency", string(pref.Frequency)),
		zap.Time("next_run_at", next),
	)
	return nil
}
