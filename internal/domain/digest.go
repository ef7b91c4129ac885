package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DigestTiming pins digests to an hour of day (UTC) and, for weekly digests, a weekday
type DigestTiming struct {
	Hour    int
	Weekday time.Weekday
}

// NextDigestRun returns the first run strictly after `after`
func NextDigestRun(freq Frequency, after time.Time, timing DigestTiming) time.Time {
	after = after.UTC()
	hour := timing.Hour
	if hour < 0 || hour > 23 {
		hour = 9
	}

	next := time.Date(after.Year(), after.Month(), after.Day(), hour, 0, 0, 0, time.UTC)
	switch freq {
	case FrequencyWeekly:
		days := (int(timing.Weekday) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(after) {
			next = next.AddDate(0, 0, 7)
		}
	default:
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}

// PeriodStart returns the start of the window a digest covers
func PeriodStart(freq Frequency, now time.Time) time.Time {
	if freq == FrequencyWeekly {
		return now.AddDate(0, 0, -7)
	}
	return now.AddDate(0, 0, -1)
}

type DigestPost struct {
	ID            uuid.UUID `json:"id"`
	CommunityID   uuid.UUID `json:"community_id"`
	CommunityName string    `json:"community_name"`
	AuthorName    string    `json:"author_name"`
	Title         string    `json:"title"`
	LikeCount     int       `json:"like_count"`
	CommentCount  int       `json:"comment_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type ActivityCounts struct {
	Posts         int `json:"posts"`
	Comments      int `json:"comments"`
	Notifications int `json:"notifications"`
}

type CommunityGrowth struct {
	CommunityID uuid.UUID `json:"community_id"`
	Name        string    `json:"name"`
	NewMembers  int       `json:"new_members"`
	Members     int       `json:"members"`
}

type Digest struct {
	UserID              uuid.UUID         `json:"user_id"`
	Period              Frequency         `json:"period"`
	Since               time.Time         `json:"since"`
	GeneratedAt         time.Time         `json:"generated_at"`
	UnreadNotifications []*Notification   `json:"unread_notifications"`
	TopPosts            []DigestPost      `json:"top_posts"`
	Activity            ActivityCounts    `json:"activity"`
	CommunityGrowth     []CommunityGrowth `json:"community_growth,omitempty"`
}

// Empty reports whether the digest has nothing to show
func (d *Digest) Empty() bool {
	return len(d.UnreadNotifications) == 0 &&
		len(d.TopPosts) == 0 &&
		len(d.CommunityGrowth) == 0 &&
		d.Activity == ActivityCounts{}
}

type DigestSchedule struct {
	UserID    uuid.UUID  `json:"user_id"`
	Frequency Frequency  `json:"frequency"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

type DigestScheduleRepository interface {
	UpsertDigestSchedule(ctx context.Context, userID uuid.UUID, freq Frequency, nextRunAt time.Time) error
	DeleteDigestSchedule(ctx context.Context, userID uuid.UUID) error
	// ClaimDueSchedules locks due rows, advances next_run_at with next and
	// commits before returning, so each run is handed out once.
	ClaimDueSchedules(ctx context.Context, now time.Time, limit int, next func(Frequency, time.Time) time.Time) ([]DigestSchedule, error)
}

type DigestRepository interface {
	TopCommunityPosts(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]DigestPost, error)
	UserActivity(ctx context.Context, userID uuid.UUID, since time.Time) (ActivityCounts, error)
	CommunityGrowth(ctx context.Context, userID uuid.UUID, since time.Time) ([]CommunityGrowth, error)
}
