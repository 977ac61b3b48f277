package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
	"clinicq/internal/ticketcode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultCodeMaxAttempts = 10

type Store struct {
	pool            *pgxpool.Pool
	loc             *time.Location
	codeMaxAttempts int
}

type Options struct {
	Location        *time.Location
	CodeMaxAttempts int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	attempts := options.CodeMaxAttempts
	if attempts <= 0 {
		attempts = defaultCodeMaxAttempts
	}
	return &Store{
		pool:            pool,
		loc:             loc,
		codeMaxAttempts: attempts,
	}
}

func (s *Store) CreateProcedure(ctx context.Context, procedure models.Procedure) (models.Procedure, error) {
	if procedure.ProcedureID == "" {
		procedure.ProcedureID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO procedures (procedure_id, name, practitioner, price, payment_method)
		VALUES ($1, $2, $3, $4, $5)
	`, procedure.ProcedureID, procedure.Name, procedure.Practitioner, procedure.Price, procedure.PaymentMethod)
	if err != nil {
		return models.Procedure{}, err
	}
	return procedure, nil
}

func (s *Store) GetProcedure(ctx context.Context, procedureID string) (models.Procedure, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT procedure_id, name, practitioner, price, payment_method
		FROM procedures
		WHERE procedure_id = $1
	`, procedureID)
	procedure, err := scanProcedure(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Procedure{}, false, nil
		}
		return models.Procedure{}, false, err
	}
	return procedure, true, nil
}

func (s *Store) ListProcedures(ctx context.Context) ([]models.Procedure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT procedure_id, name, practitioner, price, payment_method
		FROM procedures
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procedures []models.Procedure
	for rows.Next() {
		procedure, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		procedures = append(procedures, procedure)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return procedures, nil
}

func (s *Store) DeleteProcedure(ctx context.Context, procedureID string) error {
	var referenced bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tickets WHERE procedure_id = $1)
			OR EXISTS (SELECT 1 FROM schedule_entries WHERE procedure_id = $1)
	`, procedureID)
	if err := row.Scan(&referenced); err != nil {
		return err
	}
	if referenced {
		return store.ErrProcedureInUse
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM procedures WHERE procedure_id = $1
	`, procedureID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrProcedureNotFound
	}
	return nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	procedure, err := getProcedureTx(ctx, tx, input.ProcedureID)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	dayStart := ticketcode.DayStart(createdAt, s.loc)

	if input.Type == models.TypeScheduled {
		// Scheduled tickets record the target date but creation is not
		// gated on the monthly calendar; the flag is informational only.
		if input.ScheduledFor != nil {
			target := input.ScheduledFor.In(s.loc)
			var offered bool
			offered, err = isOfferedInMonthTx(ctx, tx, input.ProcedureID, int(target.Month()), target.Year())
			if err != nil {
				return models.Ticket{}, err
			}
			if !offered {
				log.Printf("scheduled ticket for procedure %s: not offered in %04d-%02d", input.ProcedureID, target.Year(), int(target.Month()))
			}
		}
	} else {
		offered, offErr := isOfferedOnTx(ctx, tx, input.ProcedureID, dayStart)
		if offErr != nil {
			err = offErr
			return models.Ticket{}, err
		}
		if !offered {
			err = store.ErrNotOffered
			return models.Ticket{}, err
		}
	}

	// Code generation reads today's codes and writes a new one; serialize
	// per clinic day across all service instances.
	if err = acquireTxLock(ctx, tx, "codes:"+ticketcode.DayKey(createdAt, s.loc)); err != nil {
		return models.Ticket{}, err
	}

	code, err := s.generateCode(ctx, tx, procedure, input.Type, dayStart)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket := models.Ticket{
		TicketID:     uuid.NewString(),
		Code:         code,
		Type:         input.Type,
		Status:       models.StatusWaiting,
		ProcedureID:  input.ProcedureID,
		CreatedAt:    createdAt,
		ScheduledFor: input.ScheduledFor,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, code, type, status, procedure_id, created_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticket.TicketID, ticket.Code, ticket.Type, ticket.Status, ticket.ProcedureID, ticket.CreatedAt, ticket.ScheduledFor)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", map[string]interface{}{
		"ticket_id":    ticket.TicketID,
		"code":         ticket.Code,
		"type":         ticket.Type,
		"status":       ticket.Status,
		"procedure_id": ticket.ProcedureID,
		"created_at":   ticket.CreatedAt,
	}); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) generateCode(ctx context.Context, tx pgx.Tx, procedure models.Procedure, ticketType string, dayStart time.Time) (string, error) {
	typePrefix, ok := ticketcode.TypePrefix(ticketType)
	if !ok {
		return "", fmt.Errorf("unknown ticket type %q", ticketType)
	}
	base := ticketcode.ProcedurePrefix(procedure.Name)
	if base == "" {
		return "", fmt.Errorf("procedure %s has no usable name", procedure.ProcedureID)
	}

	for attempt := 0; attempt < s.codeMaxAttempts; attempt++ {
		candidate := ticketcode.Disambiguate(base, attempt)
		taken, err := prefixTakenByOther(ctx, tx, procedure.ProcedureID, candidate, dayStart)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		combined := ticketcode.Combine(candidate, typePrefix)
		sequence, err := nextSequence(ctx, tx, procedure.ProcedureID, ticketType, combined, dayStart)
		if err != nil {
			return "", err
		}
		return ticketcode.Format(combined, sequence), nil
	}
	return "", store.ErrCodeExhausted
}

// prefixTakenByOther reports whether a different procedure already issued a
// ticket today under the candidate prefix.
func prefixTakenByOther(ctx context.Context, tx pgx.Tx, procedureID, candidate string, dayStart time.Time) (bool, error) {
	var taken bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM tickets
			WHERE procedure_id <> $1
				AND created_at >= $2
				AND split_part(code, '-', 1) = $3
		)
	`, procedureID, dayStart, candidate)
	if err := row.Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

func nextSequence(ctx context.Context, tx pgx.Tx, procedureID, ticketType, combined string, dayStart time.Time) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT code
		FROM tickets
		WHERE procedure_id = $1 AND type = $2 AND created_at >= $3
	`, procedureID, ticketType, dayStart)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	highest := 0
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return 0, err
		}
		if sequence, ok := ticketcode.ParseSequence(code, combined); ok && sequence > highest {
			highest = sequence
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) FinalizeTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	return s.closeTicket(ctx, ticketID, "finalize", models.StatusFinished, "ticket.finished", at)
}

func (s *Store) CancelTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	return s.closeTicket(ctx, ticketID, "cancel", models.StatusCanceled, "ticket.canceled", at)
}

func (s *Store) closeTicket(ctx context.Context, ticketID, action, toStatus, eventType string, at time.Time) (models.Ticket, error) {
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
		SELECT status FROM tickets WHERE ticket_id = $1 FOR UPDATE
	`, ticketID)
	var current string
	if err = row.Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	if !store.ValidTransition(action, current) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1
		WHERE ticket_id = $2
		RETURNING ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
	`, toStatus, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, eventType, map[string]interface{}{
		"ticket_id":    ticket.TicketID,
		"code":         ticket.Code,
		"status":       ticket.Status,
		"procedure_id": ticket.ProcedureID,
		"occurred_at":  at,
	}); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) DeleteTicket(ctx context.Context, ticketID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tickets WHERE ticket_id = $1
	`, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

func (s *Store) QueueSnapshot(ctx context.Context) ([]models.QueueSnapshot, error) {
	dayStart := ticketcode.DayStart(time.Now(), s.loc)
	rows, err := s.pool.Query(ctx, `
		SELECT p.procedure_id, p.name, t.type, COUNT(*)
		FROM tickets t
		JOIN procedures p ON p.procedure_id = t.procedure_id
		WHERE t.status = 'waiting' AND t.created_at >= $1
		GROUP BY p.procedure_id, p.name, t.type
		ORDER BY p.name ASC
	`, dayStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.QueueSnapshot
	index := map[string]int{}
	for rows.Next() {
		var procedureID, name, ticketType string
		var count int
		if err := rows.Scan(&procedureID, &name, &ticketType, &count); err != nil {
			return nil, err
		}
		pos, ok := index[procedureID]
		if !ok {
			snapshots = append(snapshots, models.QueueSnapshot{ProcedureID: procedureID, ProcedureName: name})
			pos = len(snapshots) - 1
			index[procedureID] = pos
		}
		switch ticketType {
		case models.TypeNormal:
			snapshots[pos].Normal = count
		case models.TypePreferential:
			snapshots[pos].Preferential = count
		case models.TypeSenior:
			snapshots[pos].Senior = count
		case models.TypeScheduled:
			snapshots[pos].Scheduled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *Store) DisplayData(ctx context.Context) (models.DisplayData, error) {
	dayStart := ticketcode.DayStart(time.Now(), s.loc)
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
		FROM tickets
		WHERE status IN ('called', 'finished') AND created_at >= $1 AND called_at IS NOT NULL
		ORDER BY called_at DESC
		LIMIT 5
	`, dayStart)
	if err != nil {
		return models.DisplayData{}, err
	}
	defer rows.Close()

	var recent []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return models.DisplayData{}, err
		}
		recent = append(recent, ticket)
	}
	if err := rows.Err(); err != nil {
		return models.DisplayData{}, err
	}

	data := models.DisplayData{Recent: recent}
	if len(recent) > 0 {
		data.Current = &recent[0]
	}
	return data, nil
}

// ExpireStale cancels waiting tickets left over from previous clinic days.
// Advance-booked scheduled tickets wait across days and are only swept once
// their target date has passed.
func (s *Store) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	dayStart := ticketcode.DayStart(time.Now(), s.loc)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT ticket_id
		FROM tickets
		WHERE status = 'waiting' AND created_at < $1
			AND NOT (type = 'scheduled' AND scheduled_for >= $1)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, dayStart, batchSize)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		if err = tx.Commit(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}

	for _, id := range ids {
		row := tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = 'canceled'
			WHERE ticket_id = $1
			RETURNING ticket_id, code, type, status, procedure_id, created_at, scheduled_for, called_at, lane
		`, id)
		ticket, scanErr := scanTicket(row)
		if scanErr != nil {
			err = scanErr
			return 0, err
		}
		if err = insertOutboxEvent(ctx, tx, "ticket.canceled", map[string]interface{}{
			"ticket_id":    ticket.TicketID,
			"code":         ticket.Code,
			"status":       ticket.Status,
			"procedure_id": ticket.ProcedureID,
			"reason":       "expired",
		}); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func getProcedureTx(ctx context.Context, tx pgx.Tx, procedureID string) (models.Procedure, error) {
	row := tx.QueryRow(ctx, `
		SELECT procedure_id, name, practitioner, price, payment_method
		FROM procedures
		WHERE procedure_id = $1
	`, procedureID)
	procedure, err := scanProcedure(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Procedure{}, fmt.Errorf("%w: %s", store.ErrProcedureNotFound, procedureID)
		}
		return models.Procedure{}, err
	}
	return procedure, nil
}

func acquireTxLock(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, key)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcedure(row rowScanner) (models.Procedure, error) {
	var procedure models.Procedure
	var practitioner sql.NullString
	var price sql.NullFloat64
	var paymentMethod sql.NullString
	if err := row.Scan(&procedure.ProcedureID, &procedure.Name, &practitioner, &price, &paymentMethod); err != nil {
		return models.Procedure{}, err
	}
	if practitioner.Valid {
		procedure.Practitioner = practitioner.String
	}
	if price.Valid {
		value := price.Float64
		procedure.Price = &value
	}
	if paymentMethod.Valid {
		value := paymentMethod.String
		procedure.PaymentMethod = &value
	}
	return procedure, nil
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var scheduledForNull sql.NullTime
	var calledAtNull sql.NullTime
	var laneNull sql.NullString
	if err := row.Scan(&ticket.TicketID, &ticket.Code, &ticket.Type, &ticket.Status, &ticket.ProcedureID, &ticket.CreatedAt, &scheduledForNull, &calledAtNull, &laneNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.ScheduledFor = nullTimePtr(scheduledForNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.Lane = nullStringPtr(laneNull)
	return ticket, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
