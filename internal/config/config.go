package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	ClinicTimeZone  string
	CodeMaxAttempts int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxRetention    time.Duration

	KafkaBrokers string
	KafkaTopic   string

	RedisAddr    string
	RedisChannel string

	ExpireInterval  time.Duration
	ExpireBatchSize int

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	timeZone := os.Getenv("CLINIC_TZ")
	if timeZone == "" {
		timeZone = "America/Sao_Paulo"
	}

	channel := os.Getenv("REDIS_CHANNEL")
	if channel == "" {
		channel = "clinicq.events"
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "clinicq.events"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		ClinicTimeZone:     timeZone,
		CodeMaxAttempts:    readInt("CODE_MAX_ATTEMPTS", 10),
		OutboxPollInterval: readDurationSeconds("OUTBOX_POLL_INTERVAL_SECONDS", 2),
		OutboxBatchSize:    readInt("OUTBOX_BATCH_SIZE", 100),
		OutboxRetention:    readDurationSeconds("OUTBOX_RETENTION_SECONDS", 86400),
		KafkaBrokers:       os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:         topic,
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisChannel:       channel,
		ExpireInterval:     readDurationSeconds("EXPIRE_SCAN_INTERVAL_SECONDS", 300),
		ExpireBatchSize:    readInt("EXPIRE_BATCH_SIZE", 100),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
