package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bondsphere/backend/internal/domain"
)

const notificationColumns = `id, recipient_id, sender_id, type, content, data, priority, read, read_at,
	action_taken, action_taken_at, channels, delivery_attempts, last_delivery_attempt, expires_at, created_at`

// CreateNotification inserts a notification with its initial delivery sub-records
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO notifications (id, recipient_id, sender_id, type, content, data, priority, channels, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err := tx.Exec(ctx, query,
			n.ID,
			n.RecipientID,
			n.SenderID,
			string(n.Type),
			n.Content,
			n.Data,
			string(n.Priority),
			channelStrings(n.Channels),
			n.ExpiresAt,
			n.CreatedAt,
		)
		if err != nil {
			return err
		}

		for _, d := range n.Deliveries {
			_, err := tx.Exec(ctx, `
				INSERT INTO notification_deliveries (notification_id, channel, status, sent, sent_at, error)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, n.ID, string(d.Channel), string(d.Status), d.Sent, d.SentAt, d.Error)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNotification retrieves a live notification by ID
func (r *PostgresRepository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND expires_at > NOW()`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadDeliveries(ctx, []*domain.Notification{n}); err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotifications returns a page of a recipient's notifications, newest first
func (r *PostgresRepository) ListNotifications(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryNotifications(ctx, query, recipientID, limit, offset)
}

// ListUnread returns the recipient's unread notifications, newest first
func (r *PostgresRepository) ListUnread(ctx context.Context, recipientID uuid.UUID, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND read = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryNotifications(ctx, query, recipientID, limit)
}

// ListUnreadSince returns unread notifications created at or after since
func (r *PostgresRepository) ListUnreadSince(ctx context.Context, recipientID uuid.UUID, since time.Time, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND read = FALSE AND created_at >= $2 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $3
	`
	return r.queryNotifications(ctx, query, recipientID, since, limit)
}

// ListByType returns the recipient's notifications of one type
func (r *PostgresRepository) ListByType(ctx context.Context, recipientID uuid.UUID, typ domain.NotificationType, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND type = $2 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $3
	`
	return r.queryNotifications(ctx, query, recipientID, string(typ), limit)
}

// CountUnread counts the recipient's unread notifications
func (r *PostgresRepository) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE AND expires_at > NOW()`
	var count int
	err := r.db.QueryRow(ctx, query, recipientID).Scan(&count)
	return count, err
}

// MarkRead flags a notification read. read_at keeps the first transition time.
func (r *PostgresRepository) MarkRead(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `
		UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND expires_at > NOW()
		RETURNING ` + notificationColumns
	return r.updateOne(ctx, query, id)
}

// MarkAllRead flags every unread notification of a recipient
func (r *PostgresRepository) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	query := `UPDATE notifications SET read = TRUE, read_at = NOW() WHERE recipient_id = $1 AND read = FALSE`
	tag, err := r.db.Exec(ctx, query, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkActionTaken sets the action flag, keeping the first timestamp
func (r *PostgresRepository) MarkActionTaken(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `
		UPDATE notifications SET action_taken = TRUE, action_taken_at = COALESCE(action_taken_at, NOW())
		WHERE id = $1 AND expires_at > NOW()
		RETURNING ` + notificationColumns
	return r.updateOne(ctx, query, id)
}

// RecordDeliveryAttempt upserts the channel sub-record and bumps the attempt counter
func (r *PostgresRepository) RecordDeliveryAttempt(ctx context.Context, id uuid.UUID, channel domain.Channel, success bool, errMsg string) error {
	status := domain.DeliveryFailed
	var lastErr *string
	if success {
		status = domain.DeliverySent
	} else {
		lastErr = &errMsg
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE notifications
			SET delivery_attempts = delivery_attempts + 1, last_delivery_attempt = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO notification_deliveries (notification_id, channel, status, sent, sent_at, error, updated_at)
			VALUES ($1, $2, $3, $4, CASE WHEN $4 THEN NOW() END, $5, NOW())
			ON CONFLICT (notification_id, channel) DO UPDATE SET
				status = EXCLUDED.status,
				sent = EXCLUDED.sent,
				sent_at = EXCLUDED.sent_at,
				error = EXCLUDED.error,
				updated_at = NOW()
		`, id, string(channel), string(status), success, lastErr)
		return err
	})
}

// SettlePendingDeliveries moves pending sub-records of one channel to sent or failed
func (r *PostgresRepository) SettlePendingDeliveries(ctx context.Context, recipientID uuid.UUID, channel domain.Channel, createdBefore time.Time, success bool, errMsg string) (int64, error) {
	status := domain.DeliveryFailed
	var lastErr *string
	if success {
		status = domain.DeliverySent
	} else {
		lastErr = &errMsg
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE notification_deliveries d
		SET status = $4, sent = $5, sent_at = CASE WHEN $5 THEN NOW() END, error = $6, updated_at = NOW()
		FROM notifications n
		WHERE d.notification_id = n.id
			AND n.recipient_id = $1
			AND d.channel = $2
			AND d.status = 'pending'
			AND n.created_at < $3
	`, recipientID, string(channel), createdBefore, string(status), success, lastErr)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteNotification removes one notification
func (r *PostgresRepository) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAllNotifications removes every notification of a recipient
func (r *PostgresRepository) DeleteAllNotifications(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredNotifications purges notifications past their expiry
func (r *PostgresRepository) DeleteExpiredNotifications(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, id uuid.UUID) (*domain.Notification, error) {
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadDeliveries(ctx, []*domain.Notification{n}); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *PostgresRepository) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]*domain.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadDeliveries(ctx, notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// loadDeliveries attaches the channel sub-records in one round trip
func (r *PostgresRepository) loadDeliveries(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(notifications))
	byID := make(map[uuid.UUID]*domain.Notification, len(notifications))
	for _, n := range notifications {
		ids = append(ids, n.ID)
		byID[n.ID] = n
		n.Deliveries = []domain.DeliveryRecord{}
	}

	rows, err := r.db.Query(ctx, `
		SELECT notification_id, channel, status, sent, sent_at, error
		FROM notification_deliveries
		WHERE notification_id = ANY($1)
		ORDER BY channel
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			notificationID uuid.UUID
			channel        string
			status         string
			rec            domain.DeliveryRecord
		)
		if err := rows.Scan(&notificationID, &channel, &status, &rec.Sent, &rec.SentAt, &rec.Error); err != nil {
			return err
		}
		rec.Channel = domain.Channel(channel)
		rec.Status = domain.DeliveryStatus(status)
		if n, ok := byID[notificationID]; ok {
			n.Deliveries = append(n.Deliveries, rec)
		}
	}
	return rows.Err()
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n        domain.Notification
		typ      string
		priority string
		channels []string
	)
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.SenderID,
		&typ,
		&n.Content,
		&n.Data,
		&priority,
		&n.Read,
		&n.ReadAt,
		&n.ActionTaken,
		&n.ActionTakenAt,
		&channels,
		&n.DeliveryAttempts,
		&n.LastDeliveryAttempt,
		&n.ExpiresAt,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	n.Type = domain.NotificationType(typ)
	n.Priority = domain.Priority(priority)
	n.Channels = make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		n.Channels = append(n.Channels, domain.Channel(c))
	}
	return &n, nil
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		out = append(out, string(c))
	}
	return out
}
