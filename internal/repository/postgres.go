package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ domain.NotificationRepository   = (*PostgresRepository)(nil)
	_ domain.PreferenceRepository     = (*PostgresRepository)(nil)
	_ domain.DigestScheduleRepository = (*PostgresRepository)(nil)
	_ domain.DigestRepository         = (*PostgresRepository)(nil)
	_ domain.JobRepository            = (*PostgresRepository)(nil)
	_ domain.MessageRepository        = (*PostgresRepository)(nil)
	_ domain.DeviceTokenRepository    = (*PostgresRepository)(nil)
	_ domain.UserDirectory            = (*PostgresRepository)(nil)
)

// PostgresRepository implements the domain repositories using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies the schema. Every statement is idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// CleanupExpired removes expired notifications
func (r *PostgresRepository) CleanupExpired(ctx context.Context) (int64, error) {
	return r.DeleteExpiredNotifications(ctx)
}

// StartCleanupWorker starts a background worker that purges expired notifications
func (r *PostgresRepository) StartCleanupWorker(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.CleanupExpired(ctx)
				if err != nil {
					logger.Error("failed to purge expired notifications", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("purged expired notifications", zap.Int64("count", n))
				}
			}
		}
	}()
}

// notFound maps pgx.ErrNoRows onto domain.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
