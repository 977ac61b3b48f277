package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicq/internal/config"
	"clinicq/internal/events"
	"clinicq/internal/httpapi"
	"clinicq/internal/hub"
	"clinicq/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("display-board")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if cfg.RedisAddr == "" {
		log.Fatalf("REDIS_ADDR is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer client.Close()

	h := hub.New()
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	sockjsHandler := sockjs.NewHandler("/board", sockjs.DefaultOptions, func(session sockjs.Session) {
		board := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(board)
		defer h.Unregister(board)

		go func() {
			for msg := range board.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(board, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(board, hub.Subscription{
				ProcedureID: parsed.ProcedureID,
				EventType:   parsed.EventType,
			})
		}
	})
	mux.Handle("/board/", sockjsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "display-board"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	go subscribeLoop(subCtx, client, cfg.RedisChannel, h)

	go func() {
		log.Printf("display-board listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelSub()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// subscribeLoop forwards events from the Redis channel to connected boards.
// The procedure id inside the payload scopes delivery; events without one go
// to every board.
func subscribeLoop(ctx context.Context, client *redis.Client, channel string, h *hub.Hub) {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var envelope events.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Printf("drop malformed event: %v", err)
				continue
			}
			h.Broadcast([]byte(msg.Payload), hub.Subscription{
				ProcedureID: procedureIDFromPayload(envelope.Payload),
				EventType:   envelope.Type,
			})
		}
	}
}

func procedureIDFromPayload(payload json.RawMessage) string {
	var data struct {
		ProcedureID string `json:"procedure_id"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return ""
	}
	return data.ProcedureID
}
