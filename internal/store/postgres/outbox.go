package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// insertOutboxEvent records an event in the same transaction as the state
// change it describes. The relay publishes it after commit.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, uuid.NewString(), eventType, body)
	return err
}

// ListOutboxEvents returns events strictly after the offset in
// (created_at, event_id) order.
func (s *Store) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, payload, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after.LastEventTime, after.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context) (store.Offset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id FROM relay_offsets WHERE id = 1
	`)
	var offset store.Offset
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (id, last_event_time, last_event_id)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_event_time = EXCLUDED.last_event_time,
			last_event_id = EXCLUDED.last_event_id
	`, offset.LastEventTime, offset.LastEventID)
	return err
}

// CleanupOutbox prunes published events older than the cutoff. Only rows at or
// before the persisted offset are eligible; unpublished rows always survive.
func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) error {
	offset, err := s.GetOffset(ctx)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE created_at < $1 AND (created_at, event_id) <= ($2, $3)
	`, before, offset.LastEventTime, offset.LastEventID)
	return err
}
