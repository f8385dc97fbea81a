package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/api"
	"github.com/yuchialin/slotgate/internal/booking"
	"github.com/yuchialin/slotgate/internal/circuitbreaker"
	"github.com/yuchialin/slotgate/internal/config"
	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/metrics"
	"github.com/yuchialin/slotgate/internal/notify"
	"github.com/yuchialin/slotgate/internal/observ"
	"github.com/yuchialin/slotgate/internal/outbox"
	"github.com/yuchialin/slotgate/internal/redis"
	"github.com/yuchialin/slotgate/internal/reminder"
	"github.com/yuchialin/slotgate/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting slotgate gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Duration("lock_ttl", cfg.LockTTL),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := db.NewRepository(database, logger)
	capacityStore := db.NewCapacityStore(database, cfg.DefaultCapacity, logger)
	lockStore := db.NewLockStore(database, logger)
	reminderStore := db.NewReminderStore(database, logger)

	// Redis backs the per-tenant attempt limiter. Losing it degrades to
	// unthrottled admission, never to downtime.
	var limiter *redis.AttemptLimiter
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, attempt limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		limiter = redis.NewAttemptLimiter(redisClient, logger, redis.AttemptLimitConfig{
			Limit:  100,
			Window: 1 * time.Minute,
		})
		defer redisClient.Close()
	}

	sender, err := buildSenders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// The confirmation outbox is optional: without a queue URL the
	// gateway delivers confirmations inline through the senders.
	var confirmations booking.ConfirmationSink
	if cfg.SQSQueueURL != "" {
		producer, err := outbox.NewProducer(ctx, outbox.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create confirmation outbox: %w", err)
		}
		confirmations = producer

		consumer, err := outbox.NewConsumer(ctx, outbox.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create confirmation consumer: %w", err)
		}

		workerCtx, workerCancel := context.WithCancel(context.Background())
		defer workerCancel()
		go outbox.NewWorker(consumer, sender, logger).Start(workerCtx)
	} else {
		confirmations = inlineSink{sender: sender, logger: logger}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	bookingSvc := booking.NewService(repo, capacityStore, lockStore, confirmations,
		booking.Config{LockTTL: cfg.LockTTL}, logger)

	scanner := reminder.NewScanner(repo, reminderStore, sender, loc, logger)

	sched := scheduler.New(scanner, lockStore, scheduler.Config{
		ScanInterval:  cfg.ScanInterval,
		SweepInterval: cfg.SweepInterval,
	}, logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go sched.Start(schedCtx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, bookingSvc, capacityStore, scanner, lockStore)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(limiter, logger, api.TenantKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSenders assembles the delivery stack: one sender per channel, each
// wrapped in its own circuit breaker, routed through a MultiSender. In
// development, with no LINE token configured, everything falls through to
// the log sender.
func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	var senders []notify.Sender

	if cfg.LineChannelToken != "" {
		line := notify.NewLineSender(notify.LineConfig{
			APIURL:       cfg.LineAPIURL,
			ChannelToken: cfg.LineChannelToken,
		}, logger)
		senders = append(senders, circuitbreaker.NewProtectedSender(
			line, circuitbreaker.New(circuitbreaker.DefaultConfig("line"), logger), logger))
	}

	ses, err := notify.NewSESSender(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email reminders disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(
			ses, circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger))
	}

	sns, err := notify.NewSNSSender(ctx, notify.SNSConfig{Region: cfg.SNSRegion}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS reminders disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(
			sns, circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger))
	}

	if len(senders) == 0 || cfg.Env == "development" {
		senders = append(senders, notify.NewLogSender(logger))
	}

	logger.Info("notification channels initialized",
		zap.Bool("line_enabled", cfg.LineChannelToken != ""),
		zap.Int("senders", len(senders)),
	)

	return notify.NewMultiSender(logger, senders...), nil
}

// inlineSink delivers confirmations directly when no SQS queue is
// configured.
type inlineSink struct {
	sender notify.Sender
	logger *zap.Logger
}

func (s inlineSink) EnqueueConfirmation(ctx context.Context, msg *notify.Message) error {
	if err := s.sender.Send(ctx, msg); err != nil {
		metrics.RecordNotification(msg.Channel, "failed")
		return err
	}
	metrics.RecordNotification(msg.Channel, "sent")
	return nil
}
