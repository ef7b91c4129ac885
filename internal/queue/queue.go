package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/metrics"
	"github.com/bondsphere/backend/internal/tracking"
)

// sendTimeout bounds one sender call, including calls still running at shutdown
const sendTimeout = 30 * time.Second

// Sender delivers one job on one channel. Errors should be wrapped with
// domain.Permanent or domain.Transient; unwrapped errors are retried.
type Sender interface {
	Send(ctx context.Context, job *domain.Job) error
}

// Tracker receives the outcome of email jobs
type Tracker interface {
	TrackSent(ctx context.Context, id, emailType, recipient string, userID *uuid.UUID) error
	TrackFailed(ctx context.Context, id, emailType, recipient string, userID *uuid.UUID, reason string, at time.Time) error
}

// DeliveryRecorder stores per-channel outcomes on the notification.
// RecordDigestDelivery settles the email sub-records a digest stood in for.
type DeliveryRecorder interface {
	RecordDeliveryAttempt(ctx context.Context, id uuid.UUID, channel domain.Channel, success bool, errMsg string) error
	RecordDigestDelivery(ctx context.Context, userID uuid.UUID, createdBefore time.Time, success bool, errMsg string) error
}

type Config struct {
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// Queue is a durable priority queue of delivery jobs worked by a fixed pool
type Queue struct {
	store   domain.JobRepository
	senders map[domain.Channel]Sender
	cfg     Config
	logger  *zap.Logger

	tracker  Tracker
	recorder DeliveryRecorder
	audit    domain.AttemptLog

	completed atomic.Int64
	wake      chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
}

func New(store domain.JobRepository, cfg Config, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Queue{
		store:   store,
		senders: make(map[domain.Channel]Sender),
		cfg:     cfg,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Register sets the sender for a channel. Call before Start.
func (q *Queue) Register(channel domain.Channel, sender Sender) {
	q.senders[channel] = sender
}

func (q *Queue) SetTracker(t Tracker) {
	q.tracker = t
}

func (q *Queue) SetRecorder(r DeliveryRecorder) {
	q.recorder = r
}

func (q *Queue) SetAuditLog(a domain.AttemptLog) {
	q.audit = a
}

// Enqueue persists a job. Priority always follows the job type.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	if _, ok := q.senders[job.Channel]; !ok {
		return domain.NewValidationError("channel", "no sender registered for %q", job.Channel)
	}
	if job.Recipient == "" {
		return domain.NewValidationError("recipient", "is required")
	}

	now := q.now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Type == "" {
		job.Type = domain.JobNotification
	}
	job.Priority = domain.PriorityFor(job.Type)
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	if job.TrackingID == "" {
		job.TrackingID = tracking.NewTrackingID()
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.Attempts = 0
	job.Status = domain.JobWaiting
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := q.store.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(job.Channel), string(job.Type)).Inc()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the workers and the stale-job reaper
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.reaper(ctx)

	q.logger.Info("delivery queue started", zap.Int("workers", q.cfg.Workers))
}

// Wait blocks until every worker has returned after ctx cancellation
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-q.wake:
		}

		for q.processNext(ctx) {
			if ctx.Err() != nil {
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.cfg.PollInterval)
	}
}

// processNext works one job and reports whether one was available
func (q *Queue) processNext(ctx context.Context) bool {
	jobs, err := q.store.ClaimJobs(ctx, 1)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("failed to claim jobs", zap.Error(err))
		}
		return false
	}
	if len(jobs) == 0 {
		return false
	}
	q.process(ctx, jobs[0])
	return true
}

func (q *Queue) process(ctx context.Context, job *domain.Job) {
	// finish in-flight work even when shutdown cancels ctx
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	start := q.now()
	var err error
	if sender, ok := q.senders[job.Channel]; ok {
		err = sender.Send(sendCtx, job)
	} else {
		err = domain.Permanent(fmt.Errorf("no sender registered for %q", job.Channel))
	}
	elapsed := q.now().Sub(start)
	metrics.DeliveryDuration.WithLabelValues(string(job.Channel)).Observe(elapsed.Seconds())

	if err == nil {
		q.complete(sendCtx, job, elapsed)
		return
	}
	q.fail(sendCtx, job, err, elapsed)
}

func (q *Queue) complete(ctx context.Context, job *domain.Job, elapsed time.Duration) {
	if err := q.store.DeleteJob(ctx, job.ID); err != nil {
		q.logger.Error("failed to delete completed job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	q.completed.Add(1)
	metrics.DeliveriesTotal.WithLabelValues(string(job.Channel), string(domain.OutcomeDelivered)).Inc()

	q.recordDelivery(ctx, job, true, "")
	q.recordDigest(ctx, job, true, "")
	if job.Channel == domain.ChannelEmail && q.tracker != nil {
		if err := q.tracker.TrackSent(ctx, job.TrackingID, string(job.Type), job.Recipient, job.UserID); err != nil {
			q.logger.Error("failed to track sent email", zap.String("tracking_id", job.TrackingID), zap.Error(err))
		}
	}
	q.recordAttempt(ctx, job, domain.OutcomeDelivered, "", elapsed)

	q.logger.Debug("job delivered",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
		zap.Int("attempt", job.Attempts),
	)
}

func (q *Queue) fail(ctx context.Context, job *domain.Job, sendErr error, elapsed time.Duration) {
	msg := sendErr.Error()
	q.recordDelivery(ctx, job, false, msg)

	if domain.IsPermanent(sendErr) || job.Attempts >= job.MaxAttempts {
		if err := q.store.FailJob(ctx, job.ID, msg); err != nil {
			q.logger.Error("failed to mark job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		metrics.DeliveriesTotal.WithLabelValues(string(job.Channel), string(domain.OutcomeFailed)).Inc()
		q.recordDigest(ctx, job, false, msg)

		if job.Channel == domain.ChannelEmail && q.tracker != nil {
			if err := q.tracker.TrackFailed(ctx, job.TrackingID, string(job.Type), job.Recipient, job.UserID, msg, q.now()); err != nil {
				q.logger.Error("failed to track bounced email", zap.String("tracking_id", job.TrackingID), zap.Error(err))
			}
		}
		q.recordAttempt(ctx, job, domain.OutcomeFailed, msg, elapsed)

		q.logger.Warn("job failed permanently",
			zap.String("job_id", job.ID.String()),
			zap.String("channel", string(job.Channel)),
			zap.Int("attempts", job.Attempts),
			zap.Error(sendErr),
		)
		return
	}

	delay := q.backoff(job.Attempts)
	if err := q.store.RescheduleJob(ctx, job.ID, q.now().Add(delay), msg); err != nil {
		q.logger.Error("failed to reschedule job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	metrics.DeliveriesTotal.WithLabelValues(string(job.Channel), string(domain.OutcomeRetrying)).Inc()
	q.recordAttempt(ctx, job, domain.OutcomeRetrying, msg, elapsed)

	q.logger.Info("job will be retried",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
		zap.Int("attempt", job.Attempts),
		zap.Duration("delay", delay),
		zap.Error(sendErr),
	)
}

// backoff returns base × 2^(attempt-1)
func (q *Queue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
}

func (q *Queue) recordDelivery(ctx context.Context, job *domain.Job, success bool, errMsg string) {
	if q.recorder == nil || job.NotificationID == nil {
		return
	}
	if err := q.recorder.RecordDeliveryAttempt(ctx, *job.NotificationID, job.Channel, success, errMsg); err != nil {
		q.logger.Warn("failed to record delivery attempt",
			zap.String("notification_id", job.NotificationID.String()),
			zap.Error(err),
		)
	}
}

// recordDigest runs only on a digest's final outcome; retries leave the records pending
func (q *Queue) recordDigest(ctx context.Context, job *domain.Job, success bool, errMsg string) {
	if q.recorder == nil || job.Type != domain.JobDigest || job.UserID == nil {
		return
	}
	if err := q.recorder.RecordDigestDelivery(ctx, *job.UserID, job.CreatedAt, success, errMsg); err != nil {
		q.logger.Warn("failed to settle digest deliveries",
			zap.String("user_id", job.UserID.String()),
			zap.Error(err),
		)
	}
}

func (q *Queue) recordAttempt(ctx context.Context, job *domain.Job, outcome domain.AttemptOutcome, errMsg string, elapsed time.Duration) {
	if q.audit == nil {
		return
	}
	err := q.audit.RecordAttempt(ctx, &domain.DeliveryAttempt{
		JobID:          job.ID,
		NotificationID: job.NotificationID,
		UserID:         job.UserID,
		TrackingID:     job.TrackingID,
		Channel:        job.Channel,
		Type:           job.Type,
		Attempt:        job.Attempts,
		Outcome:        outcome,
		Error:          errMsg,
		DurationMS:     elapsed.Milliseconds(),
		CreatedAt:      q.now(),
	})
	if err != nil {
		q.logger.Warn("failed to write delivery audit", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// Status reports queue depth. Completed counts deliveries since process start.
func (q *Queue) Status(ctx context.Context) (*domain.QueueStatus, error) {
	status, err := q.store.CountJobs(ctx)
	if err != nil {
		return nil, err
	}
	status.Completed = q.completed.Load()
	return status, nil
}

// Cleanup deletes failed jobs older than the given number of days
func (q *Queue) Cleanup(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, domain.NewValidationError("days", "must be at least 1")
	}
	return q.store.DeleteFailedJobsBefore(ctx, q.now().AddDate(0, 0, -days))
}

// StartCleanupWorker purges failed jobs past retention once a day
func (q *Queue) StartCleanupWorker(ctx context.Context, retention time.Duration) {
	days := int(retention / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := q.Cleanup(ctx, days)
				if err != nil {
					q.logger.Error("failed job cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					q.logger.Info("purged failed jobs", zap.Int64("count", n))
				}
			}
		}
	}()
}

// reaper returns jobs left active by a crashed worker to the waiting state
func (q *Queue) reaper(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.StaleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.store.ReleaseStaleJobs(ctx, q.now().Add(-q.cfg.StaleAfter))
			if err != nil {
				q.logger.Error("failed to release stale jobs", zap.Error(err))
				continue
			}
			if n > 0 {
				q.logger.Warn("released stale jobs", zap.Int64("count", n))
			}
		}
	}
}
