package events

import (
	"context"
	"log"
	"time"

	"clinicq/internal/store"
)

// OutboxSource is the slice of the store the relay reads and advances.
type OutboxSource interface {
	ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error)
	GetOffset(ctx context.Context) (store.Offset, error)
	UpdateOffset(ctx context.Context, offset store.Offset) error
	CleanupOutbox(ctx context.Context, before time.Time) error
}

// Relay polls the outbox past the persisted offset and hands each event to
// the publisher in commit order. The offset only advances past events that
// published successfully, so a failed publish is retried next tick.
type Relay struct {
	source       OutboxSource
	publisher    Publisher
	pollInterval time.Duration
	batchSize    int
	retention    time.Duration
}

func NewRelay(source OutboxSource, publisher Publisher, pollInterval time.Duration, batchSize int, retention time.Duration) *Relay {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:       source,
		publisher:    publisher,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		retention:    retention,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.runOnce(ctx); err != nil {
				log.Printf("outbox relay: %v", err)
			}
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) error {
	offset, err := r.source.GetOffset(ctx)
	if err != nil {
		return err
	}
	events, err := r.source.ListOutboxEvents(ctx, offset, r.batchSize)
	if err != nil {
		return err
	}

	published := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, event); err != nil {
			log.Printf("outbox relay publish event=%s type=%s err=%v", event.EventID, event.Type, err)
			break
		}
		offset = store.Offset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
		published++
	}
	if published > 0 {
		if err := r.source.UpdateOffset(ctx, offset); err != nil {
			return err
		}
	}

	if r.retention > 0 {
		if err := r.source.CleanupOutbox(ctx, time.Now().Add(-r.retention)); err != nil {
			log.Printf("outbox relay cleanup: %v", err)
		}
	}
	return nil
}
