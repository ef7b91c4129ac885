package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bondsphere/backend/internal/domain"
)

// UpsertDigestSchedule sets the user's digest frequency and next run
func (r *PostgresRepository) UpsertDigestSchedule(ctx context.Context, userID uuid.UUID, freq domain.Frequency, nextRunAt time.Time) error {
	query := `
		INSERT INTO digest_schedules (user_id, frequency, next_run_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET frequency = EXCLUDED.frequency, next_run_at = EXCLUDED.next_run_at
	`
	_, err := r.db.Exec(ctx, query, userID, string(freq), nextRunAt)
	return err
}

// DeleteDigestSchedule stops scheduled digests for a user
func (r *PostgresRepository) DeleteDigestSchedule(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM digest_schedules WHERE user_id = $1`, userID)
	return err
}

// ClaimDueSchedules hands out due schedules once. Rows locked by another
// instance are skipped and next_run_at is advanced before commit.
func (r *PostgresRepository) ClaimDueSchedules(ctx context.Context, now time.Time, limit int, next func(domain.Frequency, time.Time) time.Time) ([]domain.DigestSchedule, error) {
	var claimed []domain.DigestSchedule

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT user_id, frequency, next_run_at, last_run_at
			FROM digest_schedules
			WHERE next_run_at <= $1
			ORDER BY next_run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return err
		}

		var due []domain.DigestSchedule
		for rows.Next() {
			var (
				s    domain.DigestSchedule
				freq string
			)
			if err := rows.Scan(&s.UserID, &freq, &s.NextRunAt, &s.LastRunAt); err != nil {
				rows.Close()
				return err
			}
			s.Frequency = domain.Frequency(freq)
			due = append(due, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, s := range due {
			_, err := tx.Exec(ctx, `
				UPDATE digest_schedules SET next_run_at = $2, last_run_at = $3 WHERE user_id = $1
			`, s.UserID, next(s.Frequency, now), now)
			if err != nil {
				return err
			}
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// TopCommunityPosts returns the most liked recent posts across the user's communities
func (r *PostgresRepository) TopCommunityPosts(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]domain.DigestPost, error) {
	query := `
		SELECT p.id, c.id, c.name, COALESCE(u.name, ''), p.title,
			(SELECT COUNT(*) FROM post_likes pl WHERE pl.post_id = p.id) AS like_count,
			(SELECT COUNT(*) FROM comments cm WHERE cm.post_id = p.id) AS comment_count,
			p.created_at
		FROM posts p
		JOIN communities c ON c.id = p.community_id
		JOIN community_members m ON m.community_id = c.id AND m.user_id = $1
		LEFT JOIN users u ON u.id = p.author_id
		WHERE p.created_at >= $2
		ORDER BY like_count DESC, p.created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.DigestPost
	for rows.Next() {
		var p domain.DigestPost
		if err := rows.Scan(&p.ID, &p.CommunityID, &p.CommunityName, &p.AuthorName, &p.Title, &p.LikeCount, &p.CommentCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UserActivity counts what the user did and received since a point in time
func (r *PostgresRepository) UserActivity(ctx context.Context, userID uuid.UUID, since time.Time) (domain.ActivityCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE author_id = $1 AND created_at >= $2),
			(SELECT COUNT(*) FROM comments WHERE author_id = $1 AND created_at >= $2),
			(SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND created_at >= $2)
	`
	var a domain.ActivityCounts
	err := r.db.QueryRow(ctx, query, userID, since).Scan(&a.Posts, &a.Comments, &a.Notifications)
	return a, err
}

// CommunityGrowth reports member growth of each community the user belongs to
func (r *PostgresRepository) CommunityGrowth(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.CommunityGrowth, error) {
	query := `
		SELECT c.id, c.name,
			COUNT(*) FILTER (WHERE all_m.joined_at >= $2) AS new_members,
			COUNT(*) AS members
		FROM community_members mine
		JOIN communities c ON c.id = mine.community_id
		JOIN community_members all_m ON all_m.community_id = c.id
		WHERE mine.user_id = $1
		GROUP BY c.id, c.name
		ORDER BY new_members DESC, c.name
	`
	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var growth []domain.CommunityGrowth
	for rows.Next() {
		var g domain.CommunityGrowth
		if err := rows.Scan(&g.CommunityID, &g.Name, &g.NewMembers, &g.Members); err != nil {
			return nil, err
		}
		growth = append(growth, g)
	}
	return growth, rows.Err()
}
