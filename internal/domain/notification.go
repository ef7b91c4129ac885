package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	TypeFriendRequest   NotificationType = "friend_request"
	TypeFriendAccept    NotificationType = "friend_accept"
	TypePostLike        NotificationType = "post_like"
	TypePostComment     NotificationType = "post_comment"
	TypeCommentReply    NotificationType = "comment_reply"
	TypeCommentLike     NotificationType = "comment_like"
	TypeMention         NotificationType = "mention"
	TypeCommunityInvite NotificationType = "community_invite"
	TypeCommunityPost   NotificationType = "community_post"
	TypeEventReminder   NotificationType = "event_reminder"
	TypePollResult      NotificationType = "poll_result"
	TypeMessage         NotificationType = "message"
	TypeReportUpdate    NotificationType = "report_update"
	TypeAchievement     NotificationType = "achievement"
	TypeSecurityAlert   NotificationType = "security_alert"
	TypeSystem          NotificationType = "system"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryRecord is the per-channel outcome of a notification.
type DeliveryRecord struct {
	Channel Channel        `json:"channel"`
	Status  DeliveryStatus `json:"status"`
	Sent    bool           `json:"sent"`
	SentAt  *time.Time     `json:"sent_at,omitempty"`
	Error   *string        `json:"error,omitempty"`
}

type Notification struct {
	ID                  uuid.UUID        `json:"id"`
	RecipientID         uuid.UUID        `json:"recipient_id"`
	SenderID            *uuid.UUID       `json:"sender_id,omitempty"`
	Type                NotificationType `json:"type"`
	Content             string           `json:"content"`
	Data                NotificationData `json:"data"`
	Priority            Priority         `json:"priority"`
	Read                bool             `json:"read"`
	ReadAt              *time.Time       `json:"read_at,omitempty"`
	ActionTaken         bool             `json:"action_taken"`
	ActionTakenAt       *time.Time       `json:"action_taken_at,omitempty"`
	ExpiresAt           time.Time        `json:"expires_at"`
	Channels            []Channel        `json:"channels"`
	Deliveries          []DeliveryRecord `json:"deliveries"`
	DeliveryAttempts    int              `json:"delivery_attempts"`
	LastDeliveryAttempt *time.Time       `json:"last_delivery_attempt,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Delivery returns the sub-record for channel, if any
func (n *Notification) Delivery(channel Channel) (DeliveryRecord, bool) {
	for _, d := range n.Deliveries {
		if d.Channel == channel {
			return d, true
		}
	}
	return DeliveryRecord{}, false
}

// CreateNotificationParams holds the inputs of NotificationService.Create
type CreateNotificationParams struct {
	RecipientID uuid.UUID        `json:"recipient_id" validate:"required"`
	SenderID    *uuid.UUID       `json:"sender_id,omitempty"`
	Type        NotificationType `json:"type" validate:"required"`
	Content     string           `json:"content" validate:"required,max=2000"`
	Data        NotificationData `json:"data"`
	Priority    Priority         `json:"priority,omitempty"`
	Channels    []Channel        `json:"channels,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListNotifications(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, error)
	ListUnread(ctx context.Context, recipientID uuid.UUID, limit int) ([]*Notification, error)
	ListUnreadSince(ctx context.Context, recipientID uuid.UUID, since time.Time, limit int) ([]*Notification, error)
	ListByType(ctx context.Context, recipientID uuid.UUID, typ NotificationType, limit int) ([]*Notification, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkActionTaken(ctx context.Context, id uuid.UUID) (*Notification, error)
	RecordDeliveryAttempt(ctx context.Context, id uuid.UUID, channel Channel, success bool, errMsg string) error
	// SettlePendingDeliveries resolves the recipient's pending sub-records on channel
	// for notifications created before the cutoff.
	SettlePendingDeliveries(ctx context.Context, recipientID uuid.UUID, channel Channel, createdBefore time.Time, success bool, errMsg string) (int64, error)
	DeleteNotification(ctx context.Context, id uuid.UUID) error
	DeleteAllNotifications(ctx context.Context, recipientID uuid.UUID) (int64, error)
	DeleteExpiredNotifications(ctx context.Context) (int64, error)
}

// DeviceToken is a push registration of one device
type DeviceToken struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeviceTokenRepository interface {
	UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error
	GetActiveDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	DeactivateDeviceTokens(ctx context.Context, tokens []string) error
}

// preferenceKey maps a notification type onto the preference leaf that gates it.
// Types absent here are never suppressed.
var preferenceKey = map[NotificationType]struct{ category, event string }{
	TypeFriendRequest:   {CategoryNotifications, "friend_requests"},
	TypeFriendAccept:    {CategoryNotifications, "friend_requests"},
	TypePostLike:        {CategoryNotifications, "likes"},
	TypeCommentLike:     {CategoryNotifications, "likes"},
	TypePostComment:     {CategoryNotifications, "comments"},
	TypeCommentReply:    {CategoryNotifications, "replies"},
	TypeMention:         {CategoryNotifications, "mentions"},
	TypeMessage:         {CategoryNotifications, "messages"},
	TypeAchievement:     {CategoryNotifications, "achievements"},
	TypeCommunityInvite: {CategoryCommunity, "invites"},
	TypeCommunityPost:   {CategoryCommunity, "new_posts"},
	TypeEventReminder:   {CategoryCommunity, "events"},
	TypePollResult:      {CategoryCommunity, "polls"},
	TypeReportUpdate:    {CategoryCommunity, "reports"},
}

// PreferenceKey returns the (category, event) pair gating typ
func PreferenceKey(typ NotificationType) (category, event string, ok bool) {
	k, ok := preferenceKey[typ]
	return k.category, k.event, ok
}

// IsTransactional reports whether typ bypasses digest batching.
func IsTransactional(typ NotificationType) bool {
	return typ == TypeSecurityAlert || typ == TypeSystem
}

func validChannel(c Channel) bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail:
		return true
	}
	return false
}

func validPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}
