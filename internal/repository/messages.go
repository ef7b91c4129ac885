package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bondsphere/backend/internal/domain"
)

const messageColumns = `id, sender_id, recipient_id, content, read_at, created_at`

// CreateMessage stores a direct message
func (r *PostgresRepository) CreateMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string) (*domain.Message, error) {
	query := `
		INSERT INTO messages (sender_id, recipient_id, content)
		VALUES ($1, $2, $3)
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(ctx, query, senderID, recipientID, content))
}

// GetMessage retrieves a message by ID
func (r *PostgresRepository) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.db.QueryRow(ctx, query, id))
}

// MarkMessageRead sets read_at once
func (r *PostgresRepository) MarkMessageRead(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		UPDATE messages SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(ctx, query, id))
}

// ListConversation returns messages exchanged between two users, newest first
func (r *PostgresRepository) ListConversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, userID, otherID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Content,
		&msg.ReadAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}
