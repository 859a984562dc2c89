package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS dispatch queue (optional)
	SQSRegion   string
	SQSQueueURL string

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // AWS region for SNS platform endpoints

	// Firebase Cloud Messaging
	FirebaseCredentialsFile string

	// Scheduling
	DefaultTimezone     string
	ScheduleHorizonDays int
	TopUpThresholdDays  int
	TopUpSweepSpec      string
	DeadlineCheckSpec   string
	DeadlineWarnDays    int

	// Dispatch worker
	WorkerPollInterval  time.Duration
	WorkerBatchSize     int
	DispatchMaxLateness time.Duration

	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "postgres",
		DBPassword: "",
		DBName:     "ikgaihub",
		DBSSLMode:  "disable",

		RedisHost: "localhost",
		RedisPort: 6379,
		RedisDB:   0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "lembretes@ikgaihub.local",

		DefaultTimezone:     "UTC",
		ScheduleHorizonDays: 30,
		TopUpThresholdDays:  7,
		TopUpSweepSpec:      "@daily",
		DeadlineCheckSpec:   "@hourly",
		DeadlineWarnDays:    3,

		WorkerPollInterval:  30 * time.Second,
		WorkerBatchSize:     50,
		DispatchMaxLateness: time.Hour,

		RateLimitPerMinute: 100,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if path := os.Getenv("FIREBASE_CREDENTIALS_FILE"); path != "" {
		cfg.FirebaseCredentialsFile = path
	}

	// Scheduling
	if tz := os.Getenv("DEFAULT_TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
		}
		cfg.DefaultTimezone = tz
	}

	if cfg.ScheduleHorizonDays, err = intEnv("SCHEDULE_HORIZON_DAYS", cfg.ScheduleHorizonDays); err != nil {
		return nil, err
	}
	if cfg.ScheduleHorizonDays <= 0 {
		return nil, fmt.Errorf("invalid SCHEDULE_HORIZON_DAYS: must be positive")
	}

	if cfg.TopUpThresholdDays, err = intEnv("TOPUP_THRESHOLD_DAYS", cfg.TopUpThresholdDays); err != nil {
		return nil, err
	}

	if spec := os.Getenv("TOPUP_SWEEP_SPEC"); spec != "" {
		cfg.TopUpSweepSpec = spec
	}

	if spec := os.Getenv("DEADLINE_CHECK_SPEC"); spec != "" {
		cfg.DeadlineCheckSpec = spec
	}

	if cfg.DeadlineWarnDays, err = intEnv("DEADLINE_WARN_DAYS", cfg.DeadlineWarnDays); err != nil {
		return nil, err
	}

	// Dispatch worker
	if cfg.WorkerPollInterval, err = durationEnv("WORKER_POLL_INTERVAL", cfg.WorkerPollInterval); err != nil {
		return nil, err
	}

	if cfg.WorkerBatchSize, err = intEnv("WORKER_BATCH_SIZE", cfg.WorkerBatchSize); err != nil {
		return nil, err
	}

	if cfg.DispatchMaxLateness, err = durationEnv("DISPATCH_MAX_LATENESS", cfg.DispatchMaxLateness); err != nil {
		return nil, err
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
