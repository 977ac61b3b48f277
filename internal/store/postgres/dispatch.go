package postgres

import (
	"context"
	"errors"
	"time"

	"clinicq/internal/dispatch"
	"clinicq/internal/models"
	"clinicq/internal/store"
	"clinicq/internal/ticketcode"

	"github.com/jackc/pgx/v5"
)

// CallNext selects and claims the next waiting ticket for a procedure. The
// read-decide-update sequence runs under a per-procedure advisory lock so two
// counters cannot both act on the same queue view.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	dayStart := ticketcode.DayStart(calledAt, s.loc)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = getProcedureTx(ctx, tx, input.ProcedureID); err != nil {
		return models.Ticket{}, err
	}
	if err = acquireTxLock(ctx, tx, "dispatch:"+input.ProcedureID); err != nil {
		return models.Ticket{}, err
	}

	normal, err := waitingByType(ctx, tx, input.ProcedureID, models.TypeNormal, dayStart)
	if err != nil {
		return models.Ticket{}, err
	}
	preferential, err := waitingByType(ctx, tx, input.ProcedureID, models.TypePreferential, dayStart)
	if err != nil {
		return models.Ticket{}, err
	}
	lastCalled, err := lastCalledToday(ctx, tx, input.ProcedureID, dayStart)
	if err != nil {
		return models.Ticket{}, err
	}

	chosen, ok := dispatch.Select(lastCalled, normal, preferential)
	if !ok {
		err = store.ErrQueueEmpty
		return models.Ticket{}, err
	}

	ticket, err := claimTicket(ctx, tx, chosen.TicketID, input.Lane, calledAt)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertCalledEvent(ctx, tx, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// CallByCode claims a specific waiting ticket, bypassing the alternation
// rule. It matches tickets issued today and advance-booked scheduled tickets
// whose target date is today. Staff use it to re-call skipped patients and to
// call booked appointments.
func (s *Store) CallByCode(ctx context.Context, input store.CallByCodeInput) (models.Ticket, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	dayStart := ticketcode.DayStart(calledAt, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT ticket_id, status
		FROM tickets
		WHERE code = $1
			AND (created_at >= $2
				OR (type = 'scheduled' AND scheduled_for >= $2 AND scheduled_for < $3))
		ORDER BY created_at DESC
		LIMIT 1
	`, input.Code, dayStart, dayEnd)
	var ticketID, status string
	if err = row.Scan(&ticketID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	if !store.ValidTransition("call", status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	ticket, err := claimTicket(ctx, tx, ticketID, input.Lane, calledAt)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertCalledEvent(ctx, tx, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func waitingByType(ctx context.Context, tx pgx.Tx, procedureID, ticketType string, dayStart time.Time) ([]models.Ticket, error) {
	rows, err := tx.Query(ctx, `
		SELECT ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
		FROM tickets
		WHERE procedure_id = $1 AND type = $2 AND status = 'waiting' AND created_at >= $3
		ORDER BY created_at ASC
	`, procedureID, ticketType, dayStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// lastCalledToday returns the most recent ticket that left the waiting state
// through a call. Finished tickets still count: completing a call must not
// reset the alternation.
func lastCalledToday(ctx context.Context, tx pgx.Tx, procedureID string, dayStart time.Time) (*models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
		FROM tickets
		WHERE procedure_id = $1 AND status IN ('called', 'finished')
			AND called_at IS NOT NULL AND called_at >= $2
		ORDER BY called_at DESC
		LIMIT 1
	`, procedureID, dayStart)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

// claimTicket performs the conditional waiting->called transition. The status
// guard catches a ticket canceled between the queue read and the claim.
func claimTicket(ctx context.Context, tx pgx.Tx, ticketID, lane string, calledAt time.Time) (models.Ticket, error) {
	var lanePtr *string
	if lane != "" {
		lanePtr = &lane
	}
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'called', called_at = $1, lane = $2
		WHERE ticket_id = $3 AND status = 'waiting'
		RETURNING ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
	`, calledAt, lanePtr, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrInvalidState
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func insertCalledEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":    ticket.TicketID,
		"code":         ticket.Code,
		"type":         ticket.Type,
		"status":       ticket.Status,
		"procedure_id": ticket.ProcedureID,
		"called_at":    ticket.CalledAt,
	}
	if ticket.Lane != nil {
		payload["lane"] = *ticket.Lane
	}
	return insertOutboxEvent(ctx, tx, "ticket.called", payload)
}
