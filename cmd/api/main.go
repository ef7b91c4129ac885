package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bondsphere/backend/internal/api"
	"github.com/bondsphere/backend/internal/audit"
	"github.com/bondsphere/backend/internal/auth"
	"github.com/bondsphere/backend/internal/channels"
	"github.com/bondsphere/backend/internal/config"
	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/events"
	"github.com/bondsphere/backend/internal/fcm"
	"github.com/bondsphere/backend/internal/metrics"
	"github.com/bondsphere/backend/internal/queue"
	"github.com/bondsphere/backend/internal/realtime"
	"github.com/bondsphere/backend/internal/repository"
	"github.com/bondsphere/backend/internal/scheduler"
	"github.com/bondsphere/backend/internal/storage"
	"github.com/bondsphere/backend/internal/templates"
	"github.com/bondsphere/backend/internal/tracking"
	"github.com/bondsphere/backend/internal/webhook"
)

const version = "1.0.0"

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting BondSphere notification service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("node_id", cfg.Server.NodeID),
	)

	// Root context for background workers; cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to database")

	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}

	rdb, err := initRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("Connected to redis")

	// Delivery audit
	var attemptLog domain.AttemptLog = audit.NopLog{}
	var mongoLog *audit.MongoLog
	if cfg.Mongo.URI != "" {
		mongoLog, err = audit.NewMongoLog(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Fatal("Failed to connect to mongo", zap.Error(err))
		}
		attemptLog = mongoLog
	} else {
		logger.Warn("MONGO_URI is empty - delivery audit is disabled")
	}

	// Email rendering and transport
	templateSource, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize template storage", zap.Error(err))
	}
	renderer := templates.NewRenderer(templateSource, logger)
	transport, err := channels.NewTransport(cfg.Email)
	if err != nil {
		logger.Fatal("Failed to initialize email transport", zap.Error(err))
	}

	tracker := tracking.NewTracker(rdb, cfg.Tracking.Retention, logger)

	deliveryQueue := queue.New(repo, queue.Config{
		Workers:      cfg.Queue.Workers,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		PollInterval: cfg.Queue.PollInterval,
		StaleAfter:   cfg.Queue.StaleAfter,
	}, logger)

	// Services
	timing := domain.DigestTiming{Hour: cfg.Digest.Hour, Weekday: cfg.Digest.Weekday}
	preferenceService := domain.NewPreferenceService(repo, repo, timing, logger)
	notificationService := domain.NewNotificationService(repo, repo, preferenceService, repo, deliveryQueue, cfg.Email.AppURL, logger)
	digestService := domain.NewDigestService(repo, repo, repo, repo, repo, deliveryQueue, domain.DigestConfig{
		Timing:    timing,
		TopPosts:  cfg.Digest.TopPosts,
		SkipEmpty: cfg.Digest.SkipEmpty,
		BatchSize: cfg.Digest.BatchSize,
		AppURL:    cfg.Email.AppURL,
	}, logger)
	chatService := domain.NewChatService(repo, notificationService, logger)
	emailService := domain.NewEmailService(preferenceService, repo, deliveryQueue, cfg.Email.AppURL, logger)

	// Realtime gateway
	presence := realtime.NewPresence(rdb, cfg.Server.NodeID, 0)
	bus := realtime.NewBus(rdb, cfg.Server.NodeID, logger)
	hub := realtime.NewHub(cfg.Server.NodeID, presence, bus, chatService, logger)
	if err := hub.Run(ctx); err != nil {
		logger.Fatal("Failed to start realtime hub", zap.Error(err))
	}

	// Channel senders
	deliveryQueue.Register(domain.ChannelEmail, channels.NewEmailSender(renderer, transport, cfg.Email.From, logger))
	deliveryQueue.Register(domain.ChannelInApp, channels.NewInAppSender(hub))
	fcmClient, err := fcm.NewClient(ctx, logger, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("Failed to initialize Firebase client - push notifications will be disabled", zap.Error(err))
	} else {
		deliveryQueue.Register(domain.ChannelPush, channels.NewPushSender(repo, fcmClient, logger))
		logger.Info("Firebase client initialized")
	}
	deliveryQueue.SetTracker(tracker)
	deliveryQueue.SetRecorder(notificationService)
	deliveryQueue.SetAuditLog(attemptLog)

	// Background workers
	deliveryQueue.Start(ctx)
	deliveryQueue.StartCleanupWorker(ctx, cfg.Queue.FailedRetention)
	tracker.StartSweeper(ctx, cfg.Tracking.SweepInterval)
	scheduler.NewDigestScheduler(digestService, cfg.Digest.Tick, logger).Start(ctx)
	repo.StartCleanupWorker(ctx, time.Hour, logger)

	consumerDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := events.NewConsumer(events.NewReader(cfg.Kafka, logger), notificationService, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Domain event consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("Consuming domain events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	} else {
		close(consumerDone)
		logger.Warn("KAFKA_BROKERS is empty - domain event ingestion is disabled")
	}

	// HTTP
	ingestor := webhook.NewIngestor(cfg.Webhook.Secret, tracker, preferenceService, repo, logger)
	checkers := map[string]api.Checker{
		"postgres": repo,
		"redis":    api.CheckerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}
	if mongoLog != nil {
		checkers["mongo"] = mongoLog
	}

	router := &api.Router{
		Notifications:  api.NewNotificationHandler(notificationService, attemptLog, logger),
		Preferences:    api.NewPreferenceHandler(preferenceService, logger),
		Email:          api.NewEmailHandler(ingestor, tracker, deliveryQueue, emailService, logger),
		Digests:        api.NewDigestHandler(digestService, logger),
		Chat:           api.NewChatHandler(chatService, hub, logger),
		Realtime:       api.NewRealtimeHandler(hub),
		Health:         api.NewHealthHandler(version, checkers, logger),
		Metrics:        metrics.Handler(),
		Auth:           auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer),
		AllowedOrigins: cfg.Server.CORSOrigins,
		Logger:         logger,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Stop background workers and let in-flight deliveries finish
	cancel()
	deliveryQueue.Wait()
	<-consumerDone

	if mongoLog != nil {
		if err := mongoLog.Close(shutdownCtx); err != nil {
			logger.Error("Mongo disconnect error", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}
	if cfg.Log.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build(zap.Fields(zap.String("node_id", cfg.Server.NodeID)))
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func initRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.PoolSize = 50
	opts.MinIdleConns = 5

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
