package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bondsphere/backend/internal/domain"
)

// GetUserByID retrieves an active user by ID
func (r *PostgresRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, name, avatar_url, is_active, created_at
		FROM users WHERE id = $1 AND is_active = TRUE
	`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetUserByEmail retrieves an active user by email
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, name, avatar_url, is_active, created_at
		FROM users WHERE LOWER(email) = LOWER($1) AND is_active = TRUE
	`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// UpsertDeviceToken registers a push token, moving it to userID if another account held it
func (r *PostgresRepository) UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	query := `
		INSERT INTO device_tokens (token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			is_active = TRUE,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, token, userID, platform)
	return err
}

// GetActiveDeviceTokens lists the user's active push tokens
func (r *PostgresRepository) GetActiveDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeactivateDeviceTokens disables tokens the push provider reported as unregistered
func (r *PostgresRepository) DeactivateDeviceTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE device_tokens SET is_active = FALSE, updated_at = NOW() WHERE token = ANY($1)`, tokens)
	return err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.AvatarURL,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
