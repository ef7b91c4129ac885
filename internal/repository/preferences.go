package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bondsphere/backend/internal/domain"
)

const preferenceColumns = `user_id, preferences, frequency, last_updated, created_at`

// GetPreference retrieves a user's email preferences
func (r *PostgresRepository) GetPreference(ctx context.Context, userID uuid.UUID) (*domain.EmailPreference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM email_preferences WHERE user_id = $1`
	return scanPreference(r.db.QueryRow(ctx, query, userID))
}

// GetOrCreatePreference inserts defaults unless a record exists, then returns the stored record
func (r *PostgresRepository) GetOrCreatePreference(ctx context.Context, defaults *domain.EmailPreference) (*domain.EmailPreference, error) {
	query := `
		WITH inserted AS (
			INSERT INTO email_preferences (user_id, preferences, frequency, last_updated, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO NOTHING
			RETURNING ` + preferenceColumns + `
		)
		SELECT ` + preferenceColumns + ` FROM inserted
		UNION ALL
		SELECT ` + preferenceColumns + ` FROM email_preferences WHERE user_id = $1
		LIMIT 1
	`
	row := r.db.QueryRow(ctx, query,
		defaults.UserID,
		defaults.Flags,
		string(defaults.Frequency),
		defaults.LastUpdated,
		defaults.CreatedAt,
	)
	pref, err := scanPreference(row)
	if errors.Is(err, domain.ErrNotFound) {
		// a concurrent insert committed after this statement's snapshot
		return r.GetPreference(ctx, defaults.UserID)
	}
	return pref, err
}

// UpdatePreference applies mutate under a row lock inside one transaction
func (r *PostgresRepository) UpdatePreference(ctx context.Context, defaults *domain.EmailPreference, mutate func(*domain.EmailPreference) error) (*domain.EmailPreference, error) {
	var result *domain.EmailPreference

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO email_preferences (user_id, preferences, frequency, last_updated, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO NOTHING
		`, defaults.UserID, defaults.Flags, string(defaults.Frequency), defaults.LastUpdated, defaults.CreatedAt)
		if err != nil {
			return err
		}

		pref, err := scanPreference(tx.QueryRow(ctx,
			`SELECT `+preferenceColumns+` FROM email_preferences WHERE user_id = $1 FOR UPDATE`,
			defaults.UserID,
		))
		if err != nil {
			return err
		}

		if err := mutate(pref); err != nil {
			return err
		}

		result, err = scanPreference(tx.QueryRow(ctx, `
			UPDATE email_preferences
			SET preferences = $2, frequency = $3, last_updated = $4
			WHERE user_id = $1
			RETURNING `+preferenceColumns,
			pref.UserID, pref.Flags, string(pref.Frequency), pref.LastUpdated,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListUserIDsByFrequency returns every user on the given digest frequency
func (r *PostgresRepository) ListUserIDsByFrequency(ctx context.Context, frequency domain.Frequency) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM email_preferences WHERE frequency = $1`, string(frequency))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPreference(row pgx.Row) (*domain.EmailPreference, error) {
	var (
		pref      domain.EmailPreference
		frequency string
	)
	err := row.Scan(
		&pref.UserID,
		&pref.Flags,
		&frequency,
		&pref.LastUpdated,
		&pref.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	pref.Frequency = domain.Frequency(frequency)
	return &pref, nil
}
