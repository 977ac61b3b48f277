package models

import "time"

// Procedure is a clinic service offering, optionally bound to a practitioner.
type Procedure struct {
	ProcedureID   string   `json:"procedure_id"`
	Name          string   `json:"name"`
	Practitioner  string   `json:"practitioner,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	PaymentMethod *string  `json:"payment_method,omitempty"`
}

// DailySchedule is the calendar record of which procedures are offered on a
// given date. At most one schedule exists per normalized date.
type DailySchedule struct {
	ScheduleID string      `json:"schedule_id"`
	Date       time.Time   `json:"date"`
	Procedures []Procedure `json:"procedures"`
}

// Ticket is a queue position issued for a procedure. The code is unique
// within its procedure/type scope for the creation day.
type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	Code         string     `json:"code"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	ProcedureID  string     `json:"procedure_id"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	Lane         *string    `json:"lane,omitempty"`
}

const (
	StatusWaiting  = "waiting"
	StatusCalled   = "called"
	StatusFinished = "finished"
	StatusCanceled = "canceled"
)

const (
	TypeNormal       = "normal"
	TypePreferential = "preferential"
	TypeSenior       = "senior_80"
	TypeScheduled    = "scheduled"
)

// QueueSnapshot is the per-procedure breakdown of waiting tickets by type,
// consumed by display boards.
type QueueSnapshot struct {
	ProcedureID   string `json:"procedure_id"`
	ProcedureName string `json:"procedure_name"`
	Normal        int    `json:"normal"`
	Preferential  int    `json:"preferential"`
	Senior        int    `json:"senior_80"`
	Scheduled     int    `json:"scheduled"`
}

// DisplayData feeds the call display: the ticket currently being called and
// the most recent calls before it.
type DisplayData struct {
	Current *Ticket  `json:"current,omitempty"`
	Recent  []Ticket `json:"recent"`
}

func ValidType(ticketType string) bool {
	switch ticketType {
	case TypeNormal, TypePreferential, TypeSenior, TypeScheduled:
		return true
	default:
		return false
	}
}
