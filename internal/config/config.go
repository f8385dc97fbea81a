package config

import (
	"fmt"
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

	// Redis (per-tenant rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Booking admission
	LockTTL         time.Duration // how long a slot lock is held before it self-expires
	DefaultCapacity int           // max bookings per slot when no explicit limit is configured
	Timezone        string        // tenant-local timezone for slot timestamps

	// Reminder scheduling
	ScanInterval  time.Duration // how often the reminder scanner runs
	SweepInterval time.Duration // how often expired locks are swept

	// AWS delivery channels
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// LINE push delivery
	LineAPIURL       string
	LineChannelToken string

	// Confirmation outbox (SQS)
	SQSRegion   string
	SQSQueueURL string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "slotgate",
		DBPassword: "",
		DBName:     "slotgate",
		DBSSLMode:  "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		LockTTL:         10 * time.Minute,
		DefaultCapacity: 5,
		Timezone:        "Asia/Taipei",

		ScanInterval:  15 * time.Minute,
		SweepInterval: 1 * time.Hour,

		AWSRegion:    "ap-northeast-1",
		SESFromEmail: "noreply@slotgate.local",

		LineAPIURL: "https://api.line.me/v2/bot/message/push",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
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

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if ttl := os.Getenv("LOCK_TTL_MINUTES"); ttl != "" {
		m, err := strconv.Atoi(ttl)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid LOCK_TTL_MINUTES: %q", ttl)
		}
		cfg.LockTTL = time.Duration(m) * time.Minute
	}

	if cap := os.Getenv("DEFAULT_SLOT_CAPACITY"); cap != "" {
		c, err := strconv.Atoi(cap)
		if err != nil || c < 0 {
			return nil, fmt.Errorf("invalid DEFAULT_SLOT_CAPACITY: %q", cap)
		}
		cfg.DefaultCapacity = c
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
		cfg.Timezone = tz
	}

	if iv := os.Getenv("SCAN_INTERVAL_MINUTES"); iv != "" {
		m, err := strconv.Atoi(iv)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL_MINUTES: %q", iv)
		}
		cfg.ScanInterval = time.Duration(m) * time.Minute
	}

	if iv := os.Getenv("SWEEP_INTERVAL_MINUTES"); iv != "" {
		m, err := strconv.Atoi(iv)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL_MINUTES: %q", iv)
		}
		cfg.SweepInterval = time.Duration(m) * time.Minute
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("LINE_API_URL"); url != "" {
		cfg.LineAPIURL = url
	}

	if token := os.Getenv("LINE_CHANNEL_TOKEN"); token != "" {
		cfg.LineChannelToken = token
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	return cfg, nil
}
