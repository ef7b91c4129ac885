package domain

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DigestConfig struct {
	Timing    DigestTiming
	TopPosts  int
	SkipEmpty bool
	BatchSize int
	AppURL    string
}

type DigestService struct {
	prefs         PreferenceRepository
	notifications NotificationRepository
	digests       DigestRepository
	schedules     DigestScheduleRepository
	users         UserDirectory
	queue         Enqueuer
	cfg           DigestConfig
	logger        *zap.Logger
	now           func() time.Time
}

func NewDigestService(
	prefs PreferenceRepository,
	notifications NotificationRepository,
	digests DigestRepository,
	schedules DigestScheduleRepository,
	users UserDirectory,
	queue Enqueuer,
	cfg DigestConfig,
	logger *zap.Logger,
) *DigestService {
	if cfg.TopPosts <= 0 {
		cfg.TopPosts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &DigestService{
		prefs:         prefs,
		notifications: notifications,
		digests:       digests,
		schedules:     schedules,
		users:         users,
		queue:         queue,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// ParseDigestPeriod accepts daily or weekly
func ParseDigestPeriod(s string) (Frequency, error) {
	f := Frequency(s)
	if f != FrequencyDaily && f != FrequencyWeekly {
		return "", NewValidationError("period", "must be daily or weekly")
	}
	return f, nil
}

// GenerateDigest returns nil when the user has no preference record
func (s *DigestService) GenerateDigest(ctx context.Context, userID uuid.UUID, period Frequency) (*Digest, error) {
	if _, err := s.prefs.GetPreference(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := s.now()
	since := PeriodStart(period, now)
	d := &Digest{
		UserID:      userID,
		Period:      period,
		Since:       since,
		GeneratedAt: now,
	}

	unread, err := s.notifications.ListUnreadSince(ctx, userID, since, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to load unread notifications: %w", err)
	}
	d.UnreadNotifications = unread

	if d.TopPosts, err = s.digests.TopCommunityPosts(ctx, userID, since, s.cfg.TopPosts); err != nil {
		return nil, fmt.Errorf("failed to load top posts: %w", err)
	}
	if d.Activity, err = s.digests.UserActivity(ctx, userID, since); err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	if period == FrequencyWeekly {
		if d.CommunityGrowth, err = s.digests.CommunityGrowth(ctx, userID, since); err != nil {
			return nil, fmt.Errorf("failed to load community growth: %w", err)
		}
	}
	return d, nil
}

// SendDigest generates and enqueues one digest email. It reports whether a job was enqueued.
func (s *DigestService) SendDigest(ctx context.Context, userID uuid.UUID, period Frequency) (bool, error) {
	d, err := s.GenerateDigest(ctx, userID, period)
	if err != nil || d == nil {
		return false, err
	}
	if s.cfg.SkipEmpty && d.Empty() {
		s.logger.Debug("skipping empty digest", zap.String("user_id", userID.String()))
		return false, nil
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	address := user.EmailAddress()
	if address == "" {
		return false, ErrNoRecipient
	}

	job := &Job{
		Channel:    ChannelEmail,
		Recipient:  address,
		TemplateID: "digest",
		Type:       JobDigest,
		Payload:    s.digestPayload(d, user),
		UserID:     &user.ID,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return false, fmt.Errorf("failed to enqueue digest: %w", err)
	}
	return true, nil
}

// SendAllDigests enqueues a digest for every user on the given frequency.
// Per-user failures are logged and skipped.
func (s *DigestService) SendAllDigests(ctx context.Context, period Frequency) (int, error) {
	userIDs, err := s.prefs.ListUserIDsByFrequency(ctx, period)
	if err != nil {
		return 0, fmt.Errorf("failed to list digest recipients: %w", err)
	}

	sent := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		ok, err := s.SendDigest(ctx, userID, period)
		if err != nil {
			s.logger.Error("failed to send digest",
				zap.String("user_id", userID.String()),
				zap.String("period", string(period)),
				zap.Error(err),
			)
			continue
		}
		if ok {
			sent++
		}
	}

	s.logger.Info("digests sent", zap.String("period", string(period)), zap.Int("count", sent))
	return sent, nil
}

// RunDue sends every digest whose schedule is due at now
func (s *DigestService) RunDue(ctx context.Context, now time.Time) (int, error) {
	next := func(f Frequency, after time.Time) time.Time {
		return NextDigestRun(f, after, s.cfg.Timing)
	}

	sent := 0
	for {
		due, err := s.schedules.ClaimDueSchedules(ctx, now, s.cfg.BatchSize, next)
		if err != nil {
			return sent, fmt.Errorf("failed to claim digest schedules: %w", err)
		}

		for _, sch := range due {
			ok, err := s.SendDigest(ctx, sch.UserID, sch.Frequency)
			if err != nil {
				s.logger.Error("failed to send scheduled digest",
					zap.String("user_id", sch.UserID.String()),
					zap.String("frequency", string(sch.Frequency)),
					zap.Error(err),
				)
				continue
			}
			if ok {
				sent++
			}
		}

		if len(due) < s.cfg.BatchSize || ctx.Err() != nil {
			return sent, ctx.Err()
		}
	}
}

func (s *DigestService) digestPayload(d *Digest, user *User) map[string]interface{} {
	label := "daily"
	if d.Period == FrequencyWeekly {
		label = "weekly"
	}

	var notifs strings.Builder
	for _, n := range d.UnreadNotifications {
		fmt.Fprintf(&notifs, "<li><strong>%s</strong>: %s</li>", html.EscapeString(TitleFor(n.Type)), html.EscapeString(n.Content))
	}

	var posts strings.Builder
	for _, p := range d.TopPosts {
		fmt.Fprintf(&posts, `<li><a href="%s/posts/%s">%s</a> in %s (%d likes)</li>`,
			s.cfg.AppURL, p.ID, html.EscapeString(p.Title), html.EscapeString(p.CommunityName), p.LikeCount)
	}

	var growth strings.Builder
	for _, g := range d.CommunityGrowth {
		fmt.Fprintf(&growth, "<li>%s: +%d members (%d total)</li>", html.EscapeString(g.Name), g.NewMembers, g.Members)
	}

	return map[string]interface{}{
		"name":               user.Name,
		"period":             label,
		"unreadCount":        len(d.UnreadNotifications),
		"notificationsHtml":  notifs.String(),
		"topPostsHtml":       posts.String(),
		"growthHtml":         growth.String(),
		"postsCount":         d.Activity.Posts,
		"commentsCount":      d.Activity.Comments,
		"notificationsCount": d.Activity.Notifications,
		"appUrl":             s.cfg.AppURL,
		"unsubscribeUrl":     s.cfg.AppURL + "/settings/email",
	}
}
