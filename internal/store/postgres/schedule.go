package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
	"clinicq/internal/ticketcode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RegisterDay creates or overwrites the schedule for a calendar date. Existing
// entries for the date are replaced with the given procedure list in a single
// transaction; an unknown procedure id aborts the whole batch.
func (s *Store) RegisterDay(ctx context.Context, date time.Time, procedureIDs []string) (models.DailySchedule, error) {
	day := ticketcode.DayStart(date, s.loc)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.DailySchedule{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	procedures := make([]models.Procedure, 0, len(procedureIDs))
	seen := map[string]bool{}
	for _, procedureID := range procedureIDs {
		if seen[procedureID] {
			continue
		}
		seen[procedureID] = true
		procedure, getErr := getProcedureTx(ctx, tx, procedureID)
		if getErr != nil {
			err = getErr
			return models.DailySchedule{}, err
		}
		procedures = append(procedures, procedure)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO daily_schedules (schedule_id, date)
		VALUES ($1, $2)
		ON CONFLICT (date) DO UPDATE SET date = EXCLUDED.date
		RETURNING schedule_id
	`, uuid.NewString(), day)
	var scheduleID string
	if err = row.Scan(&scheduleID); err != nil {
		return models.DailySchedule{}, err
	}

	if _, err = tx.Exec(ctx, `
		DELETE FROM schedule_entries WHERE schedule_id = $1
	`, scheduleID); err != nil {
		return models.DailySchedule{}, err
	}
	for _, procedure := range procedures {
		if _, err = tx.Exec(ctx, `
			INSERT INTO schedule_entries (schedule_id, procedure_id)
			VALUES ($1, $2)
		`, scheduleID, procedure.ProcedureID); err != nil {
			return models.DailySchedule{}, err
		}
	}

	if err = insertOutboxEvent(ctx, tx, "schedule.changed", map[string]interface{}{
		"schedule_id":   scheduleID,
		"date":          ticketcode.DayKey(day, s.loc),
		"procedure_ids": procedureIDs,
	}); err != nil {
		return models.DailySchedule{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.DailySchedule{}, err
	}
	return models.DailySchedule{ScheduleID: scheduleID, Date: day, Procedures: procedures}, nil
}

// RegisterRange applies RegisterDay to every entry. Each date registers in
// its own transaction; a failing date is recorded and the walk continues, so
// the result carries every registered day alongside the joined per-date
// failures.
func (s *Store) RegisterRange(ctx context.Context, entries []store.RegisterDateInput) ([]models.DailySchedule, error) {
	var schedules []models.DailySchedule
	var errs []error
	for _, entry := range entries {
		schedule, err := s.RegisterDay(ctx, entry.Date, entry.ProcedureIDs)
		if err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", ticketcode.DayKey(entry.Date, s.loc), err))
			continue
		}
		schedules = append(schedules, schedule)
	}
	return schedules, errors.Join(errs...)
}

func (s *Store) GetDay(ctx context.Context, date time.Time) (models.DailySchedule, bool, error) {
	day := ticketcode.DayStart(date, s.loc)
	schedules, err := s.GetRange(ctx, day, day)
	if err != nil {
		return models.DailySchedule{}, false, err
	}
	if len(schedules) == 0 {
		return models.DailySchedule{}, false, nil
	}
	return schedules[0], true, nil
}

// GetRange returns schedules with their procedures for [start, end], ordered
// by date. Dates without a schedule are simply absent.
func (s *Store) GetRange(ctx context.Context, start, end time.Time) ([]models.DailySchedule, error) {
	first := ticketcode.DayStart(start, s.loc)
	last := ticketcode.DayStart(end, s.loc)

	rows, err := s.pool.Query(ctx, `
		SELECT ds.schedule_id, ds.date,
			p.procedure_id, p.name, p.practitioner, p.price, p.payment_method
		FROM daily_schedules ds
		LEFT JOIN schedule_entries se ON se.schedule_id = ds.schedule_id
		LEFT JOIN procedures p ON p.procedure_id = se.procedure_id
		WHERE ds.date >= $1 AND ds.date <= $2
		ORDER BY ds.date ASC, p.name ASC
	`, first, last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.DailySchedule
	index := map[string]int{}
	for rows.Next() {
		var scheduleID string
		var date time.Time
		var procedure scheduleProcedureRow
		if err := rows.Scan(&scheduleID, &date, &procedure.procedureID, &procedure.name, &procedure.practitioner, &procedure.price, &procedure.paymentMethod); err != nil {
			return nil, err
		}
		pos, ok := index[scheduleID]
		if !ok {
			schedules = append(schedules, models.DailySchedule{
				ScheduleID: scheduleID,
				Date:       date.In(s.loc),
				Procedures: []models.Procedure{},
			})
			pos = len(schedules) - 1
			index[scheduleID] = pos
		}
		if procedure.procedureID != nil {
			schedules[pos].Procedures = append(schedules[pos].Procedures, procedure.toModel())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

type scheduleProcedureRow struct {
	procedureID   *string
	name          *string
	practitioner  *string
	price         *float64
	paymentMethod *string
}

func (r scheduleProcedureRow) toModel() models.Procedure {
	procedure := models.Procedure{
		ProcedureID:   *r.procedureID,
		Price:         r.price,
		PaymentMethod: r.paymentMethod,
	}
	if r.name != nil {
		procedure.Name = *r.name
	}
	if r.practitioner != nil {
		procedure.Practitioner = *r.practitioner
	}
	return procedure
}

// AddEntry attaches one procedure to an existing schedule. Re-adding an
// attached procedure is a conflict so callers can distinguish it from success.
func (s *Store) AddEntry(ctx context.Context, scheduleID, procedureID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var date time.Time
	row := tx.QueryRow(ctx, `
		SELECT date FROM daily_schedules WHERE schedule_id = $1
	`, scheduleID)
	if err = row.Scan(&date); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrScheduleNotFound
		}
		return err
	}
	if _, err = getProcedureTx(ctx, tx, procedureID); err != nil {
		return err
	}

	tag, execErr := tx.Exec(ctx, `
		INSERT INTO schedule_entries (schedule_id, procedure_id)
		VALUES ($1, $2)
		ON CONFLICT (schedule_id, procedure_id) DO NOTHING
	`, scheduleID, procedureID)
	if execErr != nil {
		err = execErr
		return err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrDuplicateEntry
		return err
	}

	if err = insertOutboxEvent(ctx, tx, "schedule.changed", map[string]interface{}{
		"schedule_id":  scheduleID,
		"date":         ticketcode.DayKey(date, s.loc),
		"procedure_id": procedureID,
		"action":       "added",
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveEntry detaches a procedure from a schedule. Removing an absent entry
// is a no-op and emits no event.
func (s *Store) RemoveEntry(ctx context.Context, scheduleID, procedureID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var date time.Time
	row := tx.QueryRow(ctx, `
		SELECT date FROM daily_schedules WHERE schedule_id = $1
	`, scheduleID)
	if err = row.Scan(&date); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrScheduleNotFound
		}
		return err
	}

	tag, execErr := tx.Exec(ctx, `
		DELETE FROM schedule_entries WHERE schedule_id = $1 AND procedure_id = $2
	`, scheduleID, procedureID)
	if execErr != nil {
		err = execErr
		return err
	}
	if tag.RowsAffected() > 0 {
		if err = insertOutboxEvent(ctx, tx, "schedule.changed", map[string]interface{}{
			"schedule_id":  scheduleID,
			"date":         ticketcode.DayKey(date, s.loc),
			"procedure_id": procedureID,
			"action":       "removed",
		}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) IsOfferedOn(ctx context.Context, procedureID string, date time.Time) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	offered, err := isOfferedOnTx(ctx, tx, procedureID, ticketcode.DayStart(date, s.loc))
	if err != nil {
		return false, err
	}
	return offered, tx.Commit(ctx)
}

func (s *Store) IsOfferedInMonth(ctx context.Context, procedureID string, month, year int) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	offered, err := isOfferedInMonthTx(ctx, tx, procedureID, month, year)
	if err != nil {
		return false, err
	}
	return offered, tx.Commit(ctx)
}

func isOfferedOnTx(ctx context.Context, tx pgx.Tx, procedureID string, day time.Time) (bool, error) {
	var offered bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM schedule_entries se
			JOIN daily_schedules ds ON ds.schedule_id = se.schedule_id
			WHERE se.procedure_id = $1 AND ds.date = $2
		)
	`, procedureID, day)
	if err := row.Scan(&offered); err != nil {
		return false, err
	}
	return offered, nil
}

func isOfferedInMonthTx(ctx context.Context, tx pgx.Tx, procedureID string, month, year int) (bool, error) {
	var offered bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM schedule_entries se
			JOIN daily_schedules ds ON ds.schedule_id = se.schedule_id
			WHERE se.procedure_id = $1
				AND EXTRACT(MONTH FROM ds.date) = $2
				AND EXTRACT(YEAR FROM ds.date) = $3
		)
	`, procedureID, month, year)
	if err := row.Scan(&offered); err != nil {
		return false, err
	}
	return offered, nil
}
