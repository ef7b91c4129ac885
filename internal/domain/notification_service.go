package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultNotificationTTL applies when the caller sets no expiry
const DefaultNotificationTTL = 30 * 24 * time.Hour

type NotificationService struct {
	repo    NotificationRepository
	devices DeviceTokenRepository
	prefs   *PreferenceService
	users   UserDirectory
	queue   Enqueuer
	appURL  string
	logger  *zap.Logger
	now     func() time.Time
}

func NewNotificationService(
	repo NotificationRepository,
	devices DeviceTokenRepository,
	prefs *PreferenceService,
	users UserDirectory,
	queue Enqueuer,
	appURL string,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		repo:    repo,
		devices: devices,
		prefs:   prefs,
		users:   users,
		queue:   queue,
		appURL:  appURL,
		logger:  logger,
		now:     time.Now,
	}
}

// Create persists a notification and enqueues a delivery for every enabled channel
func (s *NotificationService) Create(ctx context.Context, params CreateNotificationParams) (*Notification, error) {
	if err := validateCreate(&params); err != nil {
		return nil, err
	}

	now := s.now()
	n := &Notification{
		ID:          uuid.New(),
		RecipientID: params.RecipientID,
		SenderID:    params.SenderID,
		Type:        params.Type,
		Content:     params.Content,
		Data:        params.Data,
		Priority:    params.Priority,
		ExpiresAt:   now.Add(DefaultNotificationTTL),
		Channels:    params.Channels,
		CreatedAt:   now,
	}
	if params.ExpiresAt != nil {
		n.ExpiresAt = *params.ExpiresAt
	}

	plan, err := s.planDeliveries(ctx, n)
	if err != nil {
		return nil, err
	}
	for _, p := range plan {
		n.Deliveries = append(n.Deliveries, p.record)
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	for _, p := range plan {
		if p.job == nil {
			continue
		}
		if err := s.queue.Enqueue(ctx, p.job); err != nil {
			s.logger.Error("failed to enqueue delivery",
				zap.String("notification_id", n.ID.String()),
				zap.String("channel", string(p.record.Channel)),
				zap.Error(err),
			)
			if err := s.repo.RecordDeliveryAttempt(ctx, n.ID, p.record.Channel, false, err.Error()); err != nil {
				s.logger.Error("failed to record enqueue failure",
					zap.String("notification_id", n.ID.String()),
					zap.String("channel", string(p.record.Channel)),
					zap.Error(err),
				)
			}
		}
	}

	s.logger.Debug("notification created",
		zap.String("id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("type", string(n.Type)),
		zap.Int("deliveries", len(n.Deliveries)),
	)
	return n, nil
}

type plannedDelivery struct {
	record DeliveryRecord
	job    *Job
}

// planDeliveries decides which channels get a sub-record and which are enqueued now.
// Channels suppressed by preferences get neither.
func (s *NotificationService) planDeliveries(ctx context.Context, n *Notification) ([]plannedDelivery, error) {
	var (
		pref *EmailPreference
		plan []plannedDelivery
	)

	category, event, gated := PreferenceKey(n.Type)
	seen := make(map[Channel]bool, len(n.Channels))

	for _, channel := range n.Channels {
		if seen[channel] {
			continue
		}
		seen[channel] = true

		if channel != ChannelInApp && gated {
			if pref == nil {
				var err error
				pref, err = s.prefs.GetOrCreate(ctx, n.RecipientID)
				if err != nil {
					return nil, fmt.Errorf("failed to load preferences: %w", err)
				}
			}
			if !ShouldDeliver(pref, event, category) {
				continue
			}
		}

		record := DeliveryRecord{Channel: channel, Status: DeliveryPending}
		switch channel {
		case ChannelInApp:
			plan = append(plan, plannedDelivery{record: record, job: s.inAppJob(n)})

		case ChannelPush:
			plan = append(plan, plannedDelivery{record: record, job: s.pushJob(n)})

		case ChannelEmail:
			job, err := s.emailJob(ctx, n)
			if err != nil {
				msg := err.Error()
				record.Status = DeliveryFailed
				record.Error = &msg
				plan = append(plan, plannedDelivery{record: record})
				continue
			}
			if !IsTransactional(n.Type) {
				if pref == nil {
					if pref, err = s.prefs.GetOrCreate(ctx, n.RecipientID); err != nil {
						return nil, fmt.Errorf("failed to load preferences: %w", err)
					}
				}
				if pref.Frequency != FrequencyImmediate {
					// picked up by the digest
					plan = append(plan, plannedDelivery{record: record})
					continue
				}
			}
			plan = append(plan, plannedDelivery{record: record, job: job})
		}
	}
	return plan, nil
}

func (s *NotificationService) inAppJob(n *Notification) *Job {
	return &Job{
		Channel:        ChannelInApp,
		Recipient:      n.RecipientID.String(),
		Type:           JobNotification,
		Payload:        map[string]interface{}{"notification": n},
		NotificationID: &n.ID,
		UserID:         &n.RecipientID,
	}
}

func (s *NotificationService) pushJob(n *Notification) *Job {
	data := n.Data.Strings()
	data["type"] = string(n.Type)
	data["notification_id"] = n.ID.String()

	payload := map[string]interface{}{
		"title": TitleFor(n.Type),
		"body":  n.Content,
		"data":  data,
	}
	return &Job{
		Channel:        ChannelPush,
		Recipient:      n.RecipientID.String(),
		Type:           JobNotification,
		Payload:        payload,
		NotificationID: &n.ID,
		UserID:         &n.RecipientID,
	}
}

func (s *NotificationService) emailJob(ctx context.Context, n *Notification) (*Job, error) {
	user, err := s.users.GetUserByID(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoRecipient
		}
		return nil, err
	}
	address := user.EmailAddress()
	if address == "" {
		return nil, ErrNoRecipient
	}

	return &Job{
		Channel:    ChannelEmail,
		Recipient:  address,
		TemplateID: "notification",
		Type:       JobNotification,
		Payload: map[string]interface{}{
			"name":      user.Name,
			"title":     TitleFor(n.Type),
			"content":   n.Content,
			"type":      string(n.Type),
			"actionUrl": s.appURL + "/notifications/" + n.ID.String(),
		},
		NotificationID: &n.ID,
		UserID:         &n.RecipientID,
	}, nil
}

func validateCreate(p *CreateNotificationParams) error {
	if p.RecipientID == uuid.Nil {
		return NewValidationError("recipient_id", "is required")
	}
	if !ValidType(p.Type) {
		return NewValidationError("type", "unknown notification type %q", p.Type)
	}
	if p.Content == "" {
		return NewValidationError("content", "is required")
	}
	if err := p.Data.Validate(p.Type); err != nil {
		return err
	}
	if p.Priority == "" {
		p.Priority = PriorityMedium
	} else if !validPriority(p.Priority) {
		return NewValidationError("priority", "must be one of low, medium, high")
	}
	if len(p.Channels) == 0 {
		p.Channels = []Channel{ChannelInApp}
	}
	for _, c := range p.Channels {
		if !validChannel(c) {
			return NewValidationError("channels", "unsupported channel %q", c)
		}
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListNotifications(ctx, recipientID, limit, offset)
}

func (s *NotificationService) GetUnread(ctx context.Context, recipientID uuid.UUID, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListUnread(ctx, recipientID, limit)
}

func (s *NotificationService) GetByType(ctx context.Context, recipientID uuid.UUID, typ NotificationType, limit int) ([]*Notification, error) {
	if !ValidType(typ) {
		return nil, NewValidationError("type", "unknown notification type %q", typ)
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListByType(ctx, recipientID, typ, limit)
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, recipientID)
}

// MarkRead is idempotent; readAt keeps its first value
func (s *NotificationService) MarkRead(ctx context.Context, id, callerID uuid.UUID) (*Notification, error) {
	if _, err := s.owned(ctx, id, callerID); err != nil {
		return nil, err
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, recipientID)
}

func (s *NotificationService) MarkActionTaken(ctx context.Context, id, callerID uuid.UUID) (*Notification, error) {
	if _, err := s.owned(ctx, id, callerID); err != nil {
		return nil, err
	}
	return s.repo.MarkActionTaken(ctx, id)
}

func (s *NotificationService) Delete(ctx context.Context, id, callerID uuid.UUID) error {
	if _, err := s.owned(ctx, id, callerID); err != nil {
		return err
	}
	return s.repo.DeleteNotification(ctx, id)
}

func (s *NotificationService) DeleteAll(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.repo.DeleteAllNotifications(ctx, recipientID)
}

// RecordDeliveryAttempt upserts the channel outcome of a notification
func (s *NotificationService) RecordDeliveryAttempt(ctx context.Context, id uuid.UUID, channel Channel, success bool, errMsg string) error {
	return s.repo.RecordDeliveryAttempt(ctx, id, channel, success, errMsg)
}

// RecordDigestDelivery resolves the email sub-records left pending for a
// daily or weekly user once the digest that covers them has gone out or failed.
func (s *NotificationService) RecordDigestDelivery(ctx context.Context, userID uuid.UUID, createdBefore time.Time, success bool, errMsg string) error {
	n, err := s.repo.SettlePendingDeliveries(ctx, userID, ChannelEmail, createdBefore, success, errMsg)
	if err != nil {
		return fmt.Errorf("failed to settle digest deliveries: %w", err)
	}
	if n > 0 {
		s.logger.Debug("digest deliveries settled",
			zap.String("user_id", userID.String()),
			zap.Int64("count", n),
			zap.Bool("success", success),
		)
	}
	return nil
}

func (s *NotificationService) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	if token == "" {
		return NewValidationError("token", "is required")
	}
	return s.devices.UpsertDeviceToken(ctx, userID, token, platform)
}

func (s *NotificationService) owned(ctx context.Context, id, callerID uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != callerID {
		return nil, ErrForbidden
	}
	return n, nil
}

// TitleFor returns the short headline shown for a notification type
func TitleFor(typ NotificationType) string {
	switch typ {
	case TypeFriendRequest:
		return "New friend request"
	case TypeFriendAccept:
		return "Friend request accepted"
	case TypePostLike:
		return "Someone liked your post"
	case TypePostComment:
		return "New comment on your post"
	case TypeCommentReply:
		return "New reply to your comment"
	case TypeCommentLike:
		return "Someone liked your comment"
	case TypeMention:
		return "You were mentioned"
	case TypeCommunityInvite:
		return "Community invitation"
	case TypeCommunityPost:
		return "New post in your community"
	case TypeEventReminder:
		return "Upcoming event"
	case TypePollResult:
		return "Poll results are in"
	case TypeMessage:
		return "New message"
	case TypeReportUpdate:
		return "Update on your report"
	case TypeAchievement:
		return "Achievement unlocked"
	case TypeSecurityAlert:
		return "Security alert"
	}
	return "BondSphere"
}
