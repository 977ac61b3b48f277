package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type fakeStore struct {
	createProcedureFn func(ctx context.Context, procedure models.Procedure) (models.Procedure, error)
	getProcedureFn    func(ctx context.Context, procedureID string) (models.Procedure, bool, error)
	listProceduresFn  func(ctx context.Context) ([]models.Procedure, error)
	deleteProcedureFn func(ctx context.Context, procedureID string) error
	registerDayFn     func(ctx context.Context, date time.Time, procedureIDs []string) (models.DailySchedule, error)
	registerRangeFn   func(ctx context.Context, entries []store.RegisterDateInput) ([]models.DailySchedule, error)
	getDayFn          func(ctx context.Context, date time.Time) (models.DailySchedule, bool, error)
	getRangeFn        func(ctx context.Context, start, end time.Time) ([]models.DailySchedule, error)
	addEntryFn        func(ctx context.Context, scheduleID, procedureID string) error
	removeEntryFn     func(ctx context.Context, scheduleID, procedureID string) error
	offeredOnFn       func(ctx context.Context, procedureID string, date time.Time) (bool, error)
	offeredInMonthFn  func(ctx context.Context, procedureID string, month, year int) (bool, error)
	createTicketFn    func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error)
	getTicketFn       func(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	callNextFn        func(ctx context.Context, input store.CallNextInput) (models.Ticket, error)
	callByCodeFn      func(ctx context.Context, input store.CallByCodeInput) (models.Ticket, error)
	finalizeFn        func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	cancelFn          func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	deleteTicketFn    func(ctx context.Context, ticketID string) error
	snapshotFn        func(ctx context.Context) ([]models.QueueSnapshot, error)
	displayFn         func(ctx context.Context) (models.DisplayData, error)
	expireFn          func(ctx context.Context, batchSize int) (int, error)
	outboxFn          func(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error)
	getOffsetFn       func(ctx context.Context) (store.Offset, error)
	updateOffsetFn    func(ctx context.Context, offset store.Offset) error
	cleanupFn         func(ctx context.Context, before time.Time) error
}

func (f fakeStore) CreateProcedure(ctx context.Context, procedure models.Procedure) (models.Procedure, error) {
	if f.createProcedureFn == nil {
		return procedure, nil
	}
	return f.createProcedureFn(ctx, procedure)
}

func (f fakeStore) GetProcedure(ctx context.Context, procedureID string) (models.Procedure, bool, error) {
	if f.getProcedureFn == nil {
		return models.Procedure{}, false, nil
	}
	return f.getProcedureFn(ctx, procedureID)
}

func (f fakeStore) ListProcedures(ctx context.Context) ([]models.Procedure, error) {
	if f.listProceduresFn == nil {
		return nil, nil
	}
	return f.listProceduresFn(ctx)
}

func (f fakeStore) DeleteProcedure(ctx context.Context, procedureID string) error {
	if f.deleteProcedureFn == nil {
		return nil
	}
	return f.deleteProcedureFn(ctx, procedureID)
}

func (f fakeStore) RegisterDay(ctx context.Context, date time.Time, procedureIDs []string) (models.DailySchedule, error) {
	if f.registerDayFn == nil {
		return models.DailySchedule{}, nil
	}
	return f.registerDayFn(ctx, date, procedureIDs)
}

func (f fakeStore) RegisterRange(ctx context.Context, entries []store.RegisterDateInput) ([]models.DailySchedule, error) {
	if f.registerRangeFn == nil {
		return nil, nil
	}
	return f.registerRangeFn(ctx, entries)
}

func (f fakeStore) GetDay(ctx context.Context, date time.Time) (models.DailySchedule, bool, error) {
	if f.getDayFn == nil {
		return models.DailySchedule{}, false, nil
	}
	return f.getDayFn(ctx, date)
}

func (f fakeStore) GetRange(ctx context.Context, start, end time.Time) ([]models.DailySchedule, error) {
	if f.getRangeFn == nil {
		return nil, nil
	}
	return f.getRangeFn(ctx, start, end)
}

func (f fakeStore) AddEntry(ctx context.Context, scheduleID, procedureID string) error {
	if f.addEntryFn == nil {
		return nil
	}
	return f.addEntryFn(ctx, scheduleID, procedureID)
}

func (f fakeStore) RemoveEntry(ctx context.Context, scheduleID, procedureID string) error {
	if f.removeEntryFn == nil {
		return nil
	}
	return f.removeEntryFn(ctx, scheduleID, procedureID)
}

func (f fakeStore) IsOfferedOn(ctx context.Context, procedureID string, date time.Time) (bool, error) {
	if f.offeredOnFn == nil {
		return false, nil
	}
	return f.offeredOnFn(ctx, procedureID, date)
}

func (f fakeStore) IsOfferedInMonth(ctx context.Context, procedureID string, month, year int) (bool, error) {
	if f.offeredInMonthFn == nil {
		return false, nil
	}
	return f.offeredInMonthFn(ctx, procedureID, month, year)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if f.createTicketFn == nil {
		return models.Ticket{}, nil
	}
	return f.createTicketFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, nil
	}
	return f.callNextFn(ctx, input)
}

func (f fakeStore) CallByCode(ctx context.Context, input store.CallByCodeInput) (models.Ticket, error) {
	if f.callByCodeFn == nil {
		return models.Ticket{}, nil
	}
	return f.callByCodeFn(ctx, input)
}

func (f fakeStore) FinalizeTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	if f.finalizeFn == nil {
		return models.Ticket{}, nil
	}
	return f.finalizeFn(ctx, ticketID, at)
}

func (f fakeStore) CancelTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, ticketID, at)
}

func (f fakeStore) DeleteTicket(ctx context.Context, ticketID string) error {
	if f.deleteTicketFn == nil {
		return nil
	}
	return f.deleteTicketFn(ctx, ticketID)
}

func (f fakeStore) QueueSnapshot(ctx context.Context) ([]models.QueueSnapshot, error) {
	if f.snapshotFn == nil {
		return nil, nil
	}
	return f.snapshotFn(ctx)
}

func (f fakeStore) DisplayData(ctx context.Context) (models.DisplayData, error) {
	if f.displayFn == nil {
		return models.DisplayData{}, nil
	}
	return f.displayFn(ctx)
}

func (f fakeStore) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	if f.expireFn == nil {
		return 0, nil
	}
	return f.expireFn(ctx, batchSize)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func (f fakeStore) GetOffset(ctx context.Context) (store.Offset, error) {
	if f.getOffsetFn == nil {
		return store.Offset{}, nil
	}
	return f.getOffsetFn(ctx)
}

func (f fakeStore) UpdateOffset(ctx context.Context, offset store.Offset) error {
	if f.updateOffsetFn == nil {
		return nil
	}
	return f.updateOffsetFn(ctx, offset)
}

func (f fakeStore) CleanupOutbox(ctx context.Context, before time.Time) error {
	if f.cleanupFn == nil {
		return nil
	}
	return f.cleanupFn(ctx, before)
}

func newRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateTicket(t *testing.T) {
	fake := fakeStore{
		createTicketFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			if input.ProcedureID != "proc-1" || input.Type != models.TypeNormal {
				t.Fatalf("unexpected input: %+v", input)
			}
			return models.Ticket{TicketID: "t-1", Code: "ES-N01", Type: input.Type, Status: models.StatusWaiting}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets", map[string]string{"procedure_id": "proc-1", "type": "normal"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Code != "ES-N01" {
		t.Fatalf("unexpected code %q", ticket.Code)
	}
}

func TestCreateTicketNotOffered(t *testing.T) {
	fake := fakeStore{
		createTicketFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrNotOffered
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets", map[string]string{"procedure_id": "proc-1"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestCreateTicketRejectsScheduledType(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets", map[string]string{"procedure_id": "proc-1", "type": "scheduled"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateScheduledTicket(t *testing.T) {
	fake := fakeStore{
		createTicketFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			if input.Type != models.TypeScheduled {
				t.Fatalf("expected scheduled type, got %q", input.Type)
			}
			if input.ScheduledFor == nil || input.ScheduledFor.Format("2006-01-02") != "2026-09-15" {
				t.Fatalf("unexpected scheduled_for: %v", input.ScheduledFor)
			}
			return models.Ticket{TicketID: "t-1", Code: "ES-AG01", Type: input.Type}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets/scheduled", map[string]string{
		"procedure_id":  "proc-1",
		"scheduled_for": "2026-09-15",
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCallNext(t *testing.T) {
	fake := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
			if input.ProcedureID != "proc-1" || input.Lane != "3" {
				t.Fatalf("unexpected input: %+v", input)
			}
			return models.Ticket{TicketID: "t-1", Status: models.StatusCalled}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets/actions/call-next", map[string]string{"procedure_id": "proc-1", "lane": "3"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCallNextQueueEmpty(t *testing.T) {
	fake := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrQueueEmpty
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets/actions/call-next", map[string]string{"procedure_id": "proc-1"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Code != "queue_empty" {
		t.Fatalf("unexpected error code %q", resp.Error.Code)
	}
}

func TestCallByCodeNotFound(t *testing.T) {
	fake := fakeStore{
		callByCodeFn: func(ctx context.Context, input store.CallByCodeInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrTicketNotFound
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets/actions/call", map[string]string{"code": "ES-N99"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRegisterDay(t *testing.T) {
	fake := fakeStore{
		registerDayFn: func(ctx context.Context, date time.Time, procedureIDs []string) (models.DailySchedule, error) {
			if date.Format("2006-01-02") != "2026-09-01" {
				t.Fatalf("unexpected date %v", date)
			}
			if len(procedureIDs) != 2 {
				t.Fatalf("unexpected ids %v", procedureIDs)
			}
			return models.DailySchedule{ScheduleID: "sched-1", Date: date}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/day", map[string]interface{}{
		"date":          "2026-09-01",
		"procedure_ids": []string{"proc-1", "proc-2"},
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRegisterDayMissingProcedure(t *testing.T) {
	fake := fakeStore{
		registerDayFn: func(ctx context.Context, date time.Time, procedureIDs []string) (models.DailySchedule, error) {
			return models.DailySchedule{}, fmt.Errorf("%w: proc-9", store.ErrProcedureNotFound)
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/day", map[string]interface{}{
		"date":          "2026-09-01",
		"procedure_ids": []string{"proc-9"},
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRegisterDayRejectsBadDate(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/day", map[string]interface{}{
		"date":          "01/09/2026",
		"procedure_ids": []string{"proc-1"},
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterRangePerDateEntries(t *testing.T) {
	fake := fakeStore{
		registerRangeFn: func(ctx context.Context, entries []store.RegisterDateInput) ([]models.DailySchedule, error) {
			if len(entries) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(entries))
			}
			if entries[0].Date.Format("2006-01-02") != "2026-09-01" || len(entries[0].ProcedureIDs) != 2 {
				t.Fatalf("unexpected first entry %+v", entries[0])
			}
			if entries[1].Date.Format("2006-01-02") != "2026-09-02" || len(entries[1].ProcedureIDs) != 1 {
				t.Fatalf("unexpected second entry %+v", entries[1])
			}
			return []models.DailySchedule{
				{ScheduleID: "sched-1", Date: entries[0].Date},
				{ScheduleID: "sched-2", Date: entries[1].Date},
			}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/range", map[string]interface{}{
		"entries": []map[string]interface{}{
			{"date": "2026-09-01", "procedure_ids": []string{"proc-1", "proc-2"}},
			{"date": "2026-09-02", "procedure_ids": []string{"proc-1"}},
		},
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var schedules []models.DailySchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &schedules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}
}

func TestRegisterRangeReportsPartialFailure(t *testing.T) {
	fake := fakeStore{
		registerRangeFn: func(ctx context.Context, entries []store.RegisterDateInput) ([]models.DailySchedule, error) {
			return []models.DailySchedule{{ScheduleID: "sched-1", Date: entries[0].Date}},
				fmt.Errorf("register 2026-09-02: %w: proc-9", store.ErrProcedureNotFound)
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/range", map[string]interface{}{
		"entries": []map[string]interface{}{
			{"date": "2026-09-01", "procedure_ids": []string{"proc-1"}},
			{"date": "2026-09-02", "procedure_ids": []string{"proc-9"}},
		},
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Registered []models.DailySchedule `json:"registered"`
		Error      responseError          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Registered) != 1 {
		t.Fatalf("expected 1 registered schedule, got %d", len(resp.Registered))
	}
	if resp.Error.Code != "procedure_not_found" {
		t.Fatalf("unexpected error code %q", resp.Error.Code)
	}
}

func TestRegisterRangeRequiresEntries(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/range", map[string]interface{}{
		"entries": []map[string]interface{}{},
	})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestScheduleMonth(t *testing.T) {
	fake := fakeStore{
		offeredInMonthFn: func(ctx context.Context, procedureID string, month, year int) (bool, error) {
			if procedureID != "proc-1" || month != 9 || year != 2026 {
				t.Fatalf("unexpected query: %s %d %d", procedureID, month, year)
			}
			return true, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/schedule/month?procedure_id=proc-1&month=9&year=2026", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["offered"] {
		t.Fatalf("expected offered=true")
	}
}

func TestScheduleMonthListsSchedules(t *testing.T) {
	fake := fakeStore{
		getRangeFn: func(ctx context.Context, start, end time.Time) ([]models.DailySchedule, error) {
			if start.Day() != 1 || start.Month() != time.September {
				t.Fatalf("unexpected start %v", start)
			}
			if end.Day() != 30 || end.Month() != time.September {
				t.Fatalf("unexpected end %v", end)
			}
			return []models.DailySchedule{{ScheduleID: "sched-1", Date: start}}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/schedule/month?month=9&year=2026", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var schedules []models.DailySchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &schedules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(schedules))
	}
}

func TestAddScheduleEntryDuplicate(t *testing.T) {
	fake := fakeStore{
		addEntryFn: func(ctx context.Context, scheduleID, procedureID string) error {
			return store.ErrDuplicateEntry
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/schedule/sched-1/procedures", map[string]string{"procedure_id": "proc-1"})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestScheduleEntriesMethodNotAllowed(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/schedule/sched-1/procedures", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestFinalizeTicketInvalidState(t *testing.T) {
	fake := fakeStore{
		finalizeFn: func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidState
		},
	}
	handler := NewHandler(fake, Options{})

	req := newRequest(t, http.MethodPost, "/api/tickets/t-1/actions/finalize", map[string]string{})
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDeleteProcedureInUse(t *testing.T) {
	fake := fakeStore{
		deleteProcedureFn: func(ctx context.Context, procedureID string) error {
			return store.ErrProcedureInUse
		},
	}
	handler := NewHandler(fake, Options{})

	req := httptest.NewRequest(http.MethodDelete, "/api/procedures/proc-1", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestQueueSnapshot(t *testing.T) {
	fake := fakeStore{
		snapshotFn: func(ctx context.Context) ([]models.QueueSnapshot, error) {
			return []models.QueueSnapshot{{ProcedureID: "proc-1", ProcedureName: "Exame de Sangue", Normal: 3, Preferential: 1}}, nil
		},
	}
	handler := NewHandler(fake, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/snapshot", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshots []models.QueueSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Normal != 3 {
		t.Fatalf("unexpected snapshot %+v", snapshots)
	}
}

func TestDisplayEmpty(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/display", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var data models.DisplayData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if data.Current != nil || data.Recent == nil || len(data.Recent) != 0 {
		t.Fatalf("unexpected display data %+v", data)
	}
}

func TestEventsBadAfter(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=yesterday", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateTicketRejectsUnknownFields(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader([]byte(`{"procedure_id":"p","bogus":1}`)))
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
