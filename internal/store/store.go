package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/internal/models"
)

type CreateTicketInput struct {
	ProcedureID  string
	Type         string
	ScheduledFor *time.Time
	CreatedAt    time.Time
}

type CallNextInput struct {
	ProcedureID string
	Lane        string
	CalledAt    time.Time
}

type CallByCodeInput struct {
	Code     string
	Lane     string
	CalledAt time.Time
}

// RegisterDateInput is one date of a range registration. Each date is an
// independent unit: a failing date never rolls back or blocks the others.
type RegisterDateInput struct {
	Date         time.Time
	ProcedureIDs []string
}

type Store interface {
	CreateProcedure(ctx context.Context, procedure models.Procedure) (models.Procedure, error)
	GetProcedure(ctx context.Context, procedureID string) (models.Procedure, bool, error)
	ListProcedures(ctx context.Context) ([]models.Procedure, error)
	DeleteProcedure(ctx context.Context, procedureID string) error

	RegisterDay(ctx context.Context, date time.Time, procedureIDs []string) (models.DailySchedule, error)
	RegisterRange(ctx context.Context, entries []RegisterDateInput) ([]models.DailySchedule, error)
	GetDay(ctx context.Context, date time.Time) (models.DailySchedule, bool, error)
	GetRange(ctx context.Context, start, end time.Time) ([]models.DailySchedule, error)
	AddEntry(ctx context.Context, scheduleID, procedureID string) error
	RemoveEntry(ctx context.Context, scheduleID, procedureID string) error
	IsOfferedOn(ctx context.Context, procedureID string, date time.Time) (bool, error)
	IsOfferedInMonth(ctx context.Context, procedureID string, month, year int) (bool, error)

	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	CallByCode(ctx context.Context, input CallByCodeInput) (models.Ticket, error)
	FinalizeTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	CancelTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	DeleteTicket(ctx context.Context, ticketID string) error
	QueueSnapshot(ctx context.Context) ([]models.QueueSnapshot, error)
	DisplayData(ctx context.Context) (models.DisplayData, error)
	ExpireStale(ctx context.Context, batchSize int) (int, error)

	ListOutboxEvents(ctx context.Context, after Offset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context) (Offset, error)
	UpdateOffset(ctx context.Context, offset Offset) error
	CleanupOutbox(ctx context.Context, before time.Time) error
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Offset marks the relay's position in the outbox stream. Events are ordered
// by (created_at, event_id) so equal timestamps still advance.
type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}
