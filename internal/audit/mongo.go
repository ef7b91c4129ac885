package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/config"
	"github.com/bondsphere/backend/internal/domain"
)

const collectionName = "delivery_attempts"

// attemptDocument stores ids as strings so documents stay readable in the shell
type attemptDocument struct {
	JobID          string    `bson:"job_id"`
	NotificationID string    `bson:"notification_id,omitempty"`
	UserID         string    `bson:"user_id,omitempty"`
	TrackingID     string    `bson:"tracking_id"`
	Channel        string    `bson:"channel"`
	Type           string    `bson:"type"`
	Attempt        int       `bson:"attempt"`
	Outcome        string    `bson:"outcome"`
	Error          string    `bson:"error,omitempty"`
	DurationMS     int64     `bson:"duration_ms"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toDocument(a *domain.DeliveryAttempt) attemptDocument {
	doc := attemptDocument{
		JobID:      a.JobID.String(),
		TrackingID: a.TrackingID,
		Channel:    string(a.Channel),
		Type:       string(a.Type),
		Attempt:    a.Attempt,
		Outcome:    string(a.Outcome),
		Error:      a.Error,
		DurationMS: a.DurationMS,
		CreatedAt:  a.CreatedAt.UTC(),
	}
	if a.NotificationID != nil {
		doc.NotificationID = a.NotificationID.String()
	}
	if a.UserID != nil {
		doc.UserID = a.UserID.String()
	}
	return doc
}

func (d attemptDocument) toDomain() *domain.DeliveryAttempt {
	a := &domain.DeliveryAttempt{
		TrackingID: d.TrackingID,
		Channel:    domain.Channel(d.Channel),
		Type:       domain.JobType(d.Type),
		Attempt:    d.Attempt,
		Outcome:    domain.AttemptOutcome(d.Outcome),
		Error:      d.Error,
		DurationMS: d.DurationMS,
		CreatedAt:  d.CreatedAt,
	}
	a.JobID, _ = uuid.Parse(d.JobID)
	if id, err := uuid.Parse(d.NotificationID); err == nil {
		a.NotificationID = &id
	}
	if id, err := uuid.Parse(d.UserID); err == nil {
		a.UserID = &id
	}
	return a
}

// MongoLog appends delivery attempts to a capped-by-TTL collection
type MongoLog struct {
	client     *mongo.Client
	collection *mongo.Collection
	retention  time.Duration
	logger     *zap.Logger
}

func NewMongoLog(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoLog, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	l := &MongoLog{
		client:     client,
		collection: client.Database(cfg.Database).Collection(collectionName),
		retention:  cfg.AuditRetention,
		logger:     logger,
	}
	if err := l.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to MongoDB", zap.String("database", cfg.Database))
	return l, nil
}

func (l *MongoLog) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(l.retention / time.Second)),
		},
		{
			Keys: bson.D{
				{Key: "notification_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "job_id", Value: 1}},
		},
	}
	if _, err := l.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (l *MongoLog) RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if _, err := l.collection.InsertOne(ctx, toDocument(attempt)); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the newest attempts of a notification first
func (l *MongoLog) ListAttempts(ctx context.Context, notificationID uuid.UUID, limit int) ([]*domain.DeliveryAttempt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := l.collection.Find(ctx, bson.M{"notification_id": notificationID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []attemptDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode attempts: %w", err)
	}

	attempts := make([]*domain.DeliveryAttempt, 0, len(docs))
	for _, d := range docs {
		attempts = append(attempts, d.toDomain())
	}
	return attempts, nil
}

func (l *MongoLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx, readpref.Primary())
}

func (l *MongoLog) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}
