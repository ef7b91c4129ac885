package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobPasswordReset JobType = "password_reset"
	JobVerification  JobType = "verification"
	JobNotification  JobType = "notification"
	JobDigest        JobType = "digest"
	JobMarketing     JobType = "marketing"
)

type JobStatus string

const (
	JobWaiting JobStatus = "waiting"
	JobActive  JobStatus = "active"
	JobFailed  JobStatus = "failed"
)

// DefaultMaxAttempts is the attempt ceiling of a queued delivery
const DefaultMaxAttempts = 3

// PriorityFor maps a job type onto its queue priority. Lower runs first.
func PriorityFor(t JobType) int {
	switch t {
	case JobPasswordReset:
		return 1
	case JobVerification:
		return 2
	case JobNotification:
		return 3
	case JobDigest:
		return 4
	case JobMarketing:
		return 5
	}
	return 3
}

// Job is one queued delivery on one channel
type Job struct {
	ID             uuid.UUID              `json:"id"`
	Channel        Channel                `json:"channel"`
	Recipient      string                 `json:"recipient"`
	TemplateID     string                 `json:"template_id"`
	Payload        map[string]interface{} `json:"payload"`
	Type           JobType                `json:"type"`
	Priority       int                    `json:"priority"`
	Attempts       int                    `json:"attempts"`
	MaxAttempts    int                    `json:"max_attempts"`
	RunAt          time.Time              `json:"run_at"`
	TrackingID     string                 `json:"tracking_id"`
	NotificationID *uuid.UUID             `json:"notification_id,omitempty"`
	UserID         *uuid.UUID             `json:"user_id,omitempty"`
	LastError      *string                `json:"last_error,omitempty"`
	Status         JobStatus              `json:"status"`
	FailedAt       *time.Time             `json:"failed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// QueueStatus summarises the queue. Delayed jobs are waiting jobs whose run_at is in the future.
type QueueStatus struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Enqueuer accepts delivery jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

type JobRepository interface {
	InsertJob(ctx context.Context, job *Job) error
	// ClaimJobs moves up to limit due jobs to active, incrementing their attempts.
	ClaimJobs(ctx context.Context, limit int) ([]*Job, error)
	RescheduleJob(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
	FailJob(ctx context.Context, id uuid.UUID, lastError string) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	CountJobs(ctx context.Context) (*QueueStatus, error)
	DeleteFailedJobsBefore(ctx context.Context, before time.Time) (int64, error)
	ReleaseStaleJobs(ctx context.Context, activeBefore time.Time) (int64, error)
}
