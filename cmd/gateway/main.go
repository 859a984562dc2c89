package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/api"
	"github.com/gabri3lsal3s/ikgaihub/internal/circuitbreaker"
	"github.com/gabri3lsal3s/ikgaihub/internal/config"
	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/deadline"
	"github.com/gabri3lsal3s/ikgaihub/internal/dispatch"
	"github.com/gabri3lsal3s/ikgaihub/internal/maintenance"
	"github.com/gabri3lsal3s/ikgaihub/internal/observ"
	"github.com/gabri3lsal3s/ikgaihub/internal/redis"
	"github.com/gabri3lsal3s/ikgaihub/internal/reminder"
	"github.com/gabri3lsal3s/ikgaihub/internal/session"
	"github.com/gabri3lsal3s/ikgaihub/internal/sqs"
	"github.com/gabri3lsal3s/ikgaihub/internal/worker"
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

	logger.Info("starting ikgaihub gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("default_timezone", cfg.DefaultTimezone),
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

	repo := db.NewRepository(database, observ.Component(logger, "repository")).
		WithDefaultTimezone(cfg.DefaultTimezone)

	// Redis backs idempotency, rate limiting and the dispatch/deadline locks.
	// Without it the gateway still runs on a single replica.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and distributed locks disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	sender, breakers := buildSenders(ctx, cfg, logger)
	dispatcher := dispatch.NewDispatcher(repo, sender, observ.Component(logger, "dispatch"))

	reminders := reminder.NewService(repo, reminder.Config{
		HorizonDays:        cfg.ScheduleHorizonDays,
		TopUpThresholdDays: cfg.TopUpThresholdDays,
	}, observ.Component(logger, "reminder"))

	notifierOpts := []deadline.Option{deadline.WithWarnDays(cfg.DeadlineWarnDays)}
	if redisClient != nil {
		notifierOpts = append(notifierOpts, deadline.WithDedupe(redis.NewLocker(redisClient, "deadline", logger)))
	}
	notifier := deadline.NewNotifier(repo, dispatcher, observ.Component(logger, "deadline"), notifierOpts...)

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	sessions := session.NewManager(observ.Component(logger, "session"),
		session.WithBaseContext(appCtx),
		session.WithSchedule(cfg.DeadlineCheckSpec),
		session.WithJob("deadline", func(ctx context.Context, userID uuid.UUID, now time.Time) error {
			_, err := notifier.Check(ctx, userID, now)
			return err
		}),
		session.WithJob("topup", func(ctx context.Context, userID uuid.UUID, now time.Time) error {
			_, err := reminders.TopUp(ctx, userID, now)
			return err
		}),
	)

	// Background dispatch
	workerOpts := []worker.Option{}
	if redisClient != nil {
		workerOpts = append(workerOpts, worker.WithLocker(redis.NewLocker(redisClient, "dispatch", logger)))
	}

	var consumer *sqs.Consumer
	if cfg.SQSQueueURL != "" {
		region := cfg.SQSRegion
		if region == "" {
			region = cfg.AWSRegion
		}
		client, err := sqs.NewClient(ctx, region)
		if err != nil {
			logger.Warn("sqs unavailable, dispatching in-process", zap.Error(err))
		} else {
			workerOpts = append(workerOpts, worker.WithQueue(sqs.NewProducer(client, cfg.SQSQueueURL, logger)))
			consumer = sqs.NewConsumer(client, cfg.SQSQueueURL, logger)
		}
	}

	w := worker.New(repo, dispatcher, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		BatchSize:    cfg.WorkerBatchSize,
		MaxLateness:  cfg.DispatchMaxLateness,
	}, observ.Component(logger, "worker"), workerOpts...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		w.Start(workerCtx)
	}()
	if consumer != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Consume(workerCtx, consumer)
		}()
	}

	logger.Info("background worker started", zap.Bool("sqs", consumer != nil))

	sweeperOpts := []maintenance.Option{maintenance.WithTopUpSchedule(cfg.TopUpSweepSpec)}
	if redisClient != nil {
		sweeperOpts = append(sweeperOpts, maintenance.WithPoolStats(database, redisClient))
	} else {
		sweeperOpts = append(sweeperOpts, maintenance.WithPoolStats(database, nil))
	}
	sweeper := maintenance.NewSweeper(reminders, observ.Component(logger, "maintenance"), sweeperOpts...)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance jobs: %w", err)
	}

	// HTTP surface
	handlerOpts := []api.Option{api.WithSessions(sessions)}
	routerCfg := api.RouterConfig{
		Checks: map[string]api.Check{
			"postgres": database.Health,
		},
		Breakers: breakers,
	}
	if redisClient != nil {
		handlerOpts = append(handlerOpts, api.WithIdempotency(redis.NewIdempotencyService(redisClient, logger)))
		routerCfg.Limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		routerCfg.Checks["redis"] = redisClient.Ping
	}

	handler := api.NewHandler(observ.Component(logger, "api"), reminders, repo, handlerOpts...)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, routerCfg),
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

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		} else {
			logger.Info("server stopped gracefully")
		}
	}

	// Stop in reverse start order.
	sessions.StopAll()
	cancelApp()
	<-sweeper.Stop().Done()
	workerCancel()
	workers.Wait()

	logger.Info("background jobs stopped")
	return runErr
}

// buildSenders assembles every configured delivery surface, each behind its
// own circuit breaker. Push and email fall back to the log sender when no
// provider is configured.
func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Sender, []*circuitbreaker.CircuitBreaker) {
	log := observ.Component(logger, "senders")

	var (
		senders  []dispatch.Sender
		breakers []*circuitbreaker.CircuitBreaker
		push     bool
		email    bool
	)

	protect := func(name string, s dispatch.Sender) {
		cb := circuitbreaker.New(circuitbreaker.DefaultConfig(name), log)
		breakers = append(breakers, cb)
		senders = append(senders, circuitbreaker.NewProtectedSender(s, cb, log))
	}

	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := dispatch.NewFCMSender(ctx, dispatch.FCMConfig{CredentialsFile: cfg.FirebaseCredentialsFile}, log)
		if err != nil {
			log.Warn("FCM sender unavailable", zap.Error(err))
		} else {
			protect("fcm", fcm)
			push = true
		}
	}

	snsRegion := cfg.SNSRegion
	if snsRegion == "" {
		snsRegion = cfg.AWSRegion
	}
	if sns, err := dispatch.NewSNSSender(ctx, dispatch.SNSConfig{Region: snsRegion}, log); err != nil {
		log.Warn("SNS sender unavailable, platform endpoint push disabled", zap.Error(err))
	} else {
		protect("sns", sns)
		push = true
	}

	if cfg.SESFromEmail != "" {
		ses, err := dispatch.NewSESSender(ctx, dispatch.SESConfig{Region: cfg.AWSRegion, FromEmail: cfg.SESFromEmail}, log)
		if err != nil {
			log.Warn("SES sender unavailable, email disabled", zap.Error(err))
		} else {
			protect("ses", ses)
			email = true
		}
	}

	senders = append(senders, dispatch.NewInAppSender(log))
	if !push || !email {
		senders = append(senders, dispatch.NewLogSender(log))
	}

	log.Info("initialized notification channels",
		zap.Bool("push", push),
		zap.Bool("email", email),
		zap.Int("breakers", len(breakers)),
	)

	return dispatch.NewMultiSender(log, senders...), breakers
}
