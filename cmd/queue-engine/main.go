package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinicq/internal/config"
	"clinicq/internal/events"
	"clinicq/internal/httpapi"
	"clinicq/internal/store/postgres"
	"clinicq/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-engine")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	loc, err := time.LoadLocation(cfg.ClinicTimeZone)
	if err != nil {
		log.Fatalf("load time zone %q: %v", cfg.ClinicTimeZone, err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{
		Location:        loc,
		CodeMaxAttempts: cfg.CodeMaxAttempts,
	})
	handler := httpapi.NewHandler(store, httpapi.Options{Location: loc})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-engine"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	publisher := buildPublisher(cfg)
	if publisher != nil {
		relay := events.NewRelay(store, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxRetention)
		go relay.Run(jobsCtx)
		defer publisher.Close()
	} else {
		log.Printf("event relay disabled (no kafka brokers or redis addr configured)")
	}

	go func() {
		log.Printf("queue-engine listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.ExpireInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.ExpireInterval)
		defer ticker.Stop()
		for {
			select {
			case <-jobsCtx.Done():
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(jobsCtx, 10*time.Second)
			count, err := store.ExpireStale(ctx, cfg.ExpireBatchSize)
			cancel()
			if err != nil {
				log.Printf("expire sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("expire sweep canceled %d stale tickets", count)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func buildPublisher(cfg config.Config) events.Publisher {
	var publishers []events.Publisher
	if cfg.KafkaBrokers != "" {
		brokers := splitBrokers(cfg.KafkaBrokers)
		publishers = append(publishers, events.NewKafkaPublisher(brokers, cfg.KafkaTopic))
		log.Printf("publishing events to kafka topic=%s brokers=%s", cfg.KafkaTopic, cfg.KafkaBrokers)
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		publishers = append(publishers, events.NewRedisPublisher(client, cfg.RedisChannel))
		log.Printf("publishing events to redis channel=%s addr=%s", cfg.RedisChannel, cfg.RedisAddr)
	}
	switch len(publishers) {
	case 0:
		return nil
	case 1:
		return publishers[0]
	default:
		return events.NewFanout(publishers...)
	}
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}
