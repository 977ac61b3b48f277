// Package events relays committed outbox rows to external consumers. Kafka
// carries events to downstream services; Redis pub/sub feeds the display
// boards.
package events

import (
	"context"
	"encoding/json"
	"errors"

	"clinicq/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers one outbox event to an external sink. Implementations
// must be safe for sequential reuse; delivery is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event store.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.EventID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Envelope is the message shape on the Redis channel. Subscribers filter on
// Type and unpack Payload themselves.
type Envelope struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (p *RedisPublisher) Publish(ctx context.Context, event store.OutboxEvent) error {
	body, err := json.Marshal(Envelope{
		EventID: event.EventID,
		Type:    event.Type,
		Payload: event.Payload,
	})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, body).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Fanout publishes to every sink and reports all failures together. A failed
// sink does not stop delivery to the others.
type Fanout struct {
	publishers []Publisher
}

func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) Publish(ctx context.Context, event store.OutboxEvent) error {
	var errs []error
	for _, publisher := range f.publishers {
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, publisher := range f.publishers {
		if err := publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
