package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bondsphere/backend/internal/domain"
)

const jobColumns = `id, channel, recipient, template_id, payload, type, priority, attempts, max_attempts,
	run_at, tracking_id, notification_id, user_id, last_error, status, failed_at, created_at, updated_at`

// InsertJob stores a waiting job
func (r *PostgresRepository) InsertJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO delivery_jobs (id, channel, recipient, template_id, payload, type, priority, attempts,
			max_attempts, run_at, tracking_id, notification_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`
	_, err := r.db.Exec(ctx, query,
		job.ID,
		string(job.Channel),
		job.Recipient,
		job.TemplateID,
		job.Payload,
		string(job.Type),
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.RunAt,
		job.TrackingID,
		job.NotificationID,
		job.UserID,
		string(job.Status),
		job.CreatedAt,
	)
	return err
}

// ClaimJobs locks due waiting jobs (most urgent first), marks them active and
// counts the attempt. Concurrent claimers skip each other's rows.
func (r *PostgresRepository) ClaimJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		UPDATE delivery_jobs SET
			status = 'active',
			attempts = attempts + 1,
			locked_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM delivery_jobs
			WHERE status = 'waiting' AND run_at <= NOW()
			ORDER BY priority, created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RescheduleJob returns an active job to waiting with a later run time
func (r *PostgresRepository) RescheduleJob(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'waiting', run_at = $2, last_error = $3, locked_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, runAt, lastError)
	return err
}

// FailJob marks a job terminally failed
func (r *PostgresRepository) FailJob(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'failed', last_error = $2, failed_at = NOW(), locked_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, lastError)
	return err
}

// DeleteJob removes a completed job
func (r *PostgresRepository) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM delivery_jobs WHERE id = $1`, id)
	return err
}

// CountJobs returns per-state counts. Completed is tracked in-process and left zero here.
func (r *PostgresRepository) CountJobs(ctx context.Context) (*domain.QueueStatus, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'waiting' AND run_at <= NOW()),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'waiting' AND run_at > NOW()),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_jobs
	`
	var s domain.QueueStatus
	if err := r.db.QueryRow(ctx, query).Scan(&s.Waiting, &s.Active, &s.Delayed, &s.Failed); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteFailedJobsBefore purges failed jobs older than before
func (r *PostgresRepository) DeleteFailedJobsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM delivery_jobs WHERE status = 'failed' AND failed_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseStaleJobs returns jobs whose worker vanished to the waiting state
func (r *PostgresRepository) ReleaseStaleJobs(ctx context.Context, activeBefore time.Time) (int64, error) {
	query := `
		UPDATE delivery_jobs
		SET status = 'waiting', locked_at = NULL, updated_at = NOW()
		WHERE status = 'active' AND locked_at < $1
	`
	tag, err := r.db.Exec(ctx, query, activeBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		channel string
		typ     string
		status  string
	)
	err := row.Scan(
		&job.ID,
		&channel,
		&job.Recipient,
		&job.TemplateID,
		&job.Payload,
		&typ,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&job.TrackingID,
		&job.NotificationID,
		&job.UserID,
		&job.LastError,
		&status,
		&job.FailedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	job.Channel = domain.Channel(channel)
	job.Type = domain.JobType(typ)
	job.Status = domain.JobStatus(status)
	return &job, nil
}
