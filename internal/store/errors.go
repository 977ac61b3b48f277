package store

import "errors"

var (
	ErrProcedureNotFound = errors.New("procedure not found")
	ErrProcedureInUse    = errors.New("procedure is referenced by tickets or schedules")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrDuplicateEntry    = errors.New("schedule entry already exists")
	ErrQueueEmpty        = errors.New("no ticket waiting")
	ErrNotOffered        = errors.New("procedure not offered today")
	ErrCodeExhausted     = errors.New("ticket code disambiguation attempts exhausted")
	ErrInvalidState      = errors.New("invalid ticket state")
)
