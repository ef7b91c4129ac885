package domain

import (
	"github.com/google/uuid"
)

// NotificationData points at the subject of a notification.
// Which references may be set depends on the notification type.
type NotificationData struct {
	PostID        *uuid.UUID             `json:"post_id,omitempty"`
	CommentID     *uuid.UUID             `json:"comment_id,omitempty"`
	CommunityID   *uuid.UUID             `json:"community_id,omitempty"`
	EventID       *uuid.UUID             `json:"event_id,omitempty"`
	PollID        *uuid.UUID             `json:"poll_id,omitempty"`
	MessageID     *uuid.UUID             `json:"message_id,omitempty"`
	ReportID      *uuid.UUID             `json:"report_id,omitempty"`
	AchievementID *uuid.UUID             `json:"achievement_id,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

const (
	refPost        = "post_id"
	refComment     = "comment_id"
	refCommunity   = "community_id"
	refEvent       = "event_id"
	refPoll        = "poll_id"
	refMessage     = "message_id"
	refReport      = "report_id"
	refAchievement = "achievement_id"
)

var allowedRefs = map[NotificationType][]string{
	TypeFriendRequest:   nil,
	TypeFriendAccept:    nil,
	TypePostLike:        {refPost},
	TypePostComment:     {refPost, refComment},
	TypeCommentReply:    {refPost, refComment},
	TypeCommentLike:     {refPost, refComment},
	TypeMention:         {refPost, refComment, refCommunity},
	TypeCommunityInvite: {refCommunity},
	TypeCommunityPost:   {refCommunity, refPost},
	TypeEventReminder:   {refCommunity, refEvent},
	TypePollResult:      {refCommunity, refPoll},
	TypeMessage:         {refMessage},
	TypeReportUpdate:    {refReport, refPost, refComment, refCommunity},
	TypeAchievement:     {refAchievement},
	TypeSecurityAlert:   nil,
	TypeSystem:          nil,
}

// ValidType reports whether typ is a known notification type
func ValidType(typ NotificationType) bool {
	_, ok := allowedRefs[typ]
	return ok
}

func (d NotificationData) refs() map[string]*uuid.UUID {
	return map[string]*uuid.UUID{
		refPost:        d.PostID,
		refComment:     d.CommentID,
		refCommunity:   d.CommunityID,
		refEvent:       d.EventID,
		refPoll:        d.PollID,
		refMessage:     d.MessageID,
		refReport:      d.ReportID,
		refAchievement: d.AchievementID,
	}
}

// Validate rejects references that do not belong to typ
func (d NotificationData) Validate(typ NotificationType) error {
	allowed, ok := allowedRefs[typ]
	if !ok {
		return NewValidationError("type", "unknown notification type %q", typ)
	}

	permitted := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		permitted[name] = true
	}

	for name, ref := range d.refs() {
		if ref != nil && !permitted[name] {
			return NewValidationError("data."+name, "not valid for notification type %q", typ)
		}
	}
	return nil
}

// Strings flattens the payload for transports that only carry string maps
func (d NotificationData) Strings() map[string]string {
	out := make(map[string]string)
	for name, ref := range d.refs() {
		if ref != nil {
			out[name] = ref.String()
		}
	}
	for k, v := range d.Extra {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
