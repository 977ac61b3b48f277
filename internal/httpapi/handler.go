package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

const dateLayout = "2006-01-02"

type Handler struct {
	store store.Store
	loc   *time.Location
}

type Options struct {
	Location *time.Location
}

func NewHandler(store store.Store, options Options) *Handler {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{store: store, loc: loc}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/procedures", h.handleProcedures)
	mux.HandleFunc("/api/procedures/", h.handleProcedureByID)
	mux.HandleFunc("/api/schedule/day", h.handleScheduleDay)
	mux.HandleFunc("/api/schedule/range", h.handleScheduleRange)
	mux.HandleFunc("/api/schedule/month", h.handleScheduleMonth)
	mux.HandleFunc("/api/schedule/", h.handleScheduleEntries)
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/tickets/scheduled", h.handleCreateScheduledTicket)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/actions/call", h.handleCallByCode)
	mux.HandleFunc("/api/tickets/", h.handleTicketByID)
	mux.HandleFunc("/api/queue/snapshot", h.handleQueueSnapshot)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createProcedureRequest struct {
	Name          string   `json:"name"`
	Practitioner  string   `json:"practitioner"`
	Price         *float64 `json:"price"`
	PaymentMethod *string  `json:"payment_method"`
}

func (h *Handler) handleProcedures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		procedures, err := h.store.ListProcedures(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if procedures == nil {
			procedures = []models.Procedure{}
		}
		writeJSON(w, http.StatusOK, procedures)
	case http.MethodPost:
		var req createProcedureRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		procedure, err := h.store.CreateProcedure(r.Context(), models.Procedure{
			Name:          req.Name,
			Practitioner:  strings.TrimSpace(req.Practitioner),
			Price:         req.Price,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, procedure)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleProcedureByID(w http.ResponseWriter, r *http.Request) {
	procedureID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/procedures/"), "/")
	if procedureID == "" || strings.Contains(procedureID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		procedure, found, err := h.store.GetProcedure(r.Context(), procedureID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "procedure_not_found", "procedure not found")
			return
		}
		writeJSON(w, http.StatusOK, procedure)
	case http.MethodDelete:
		if err := h.store.DeleteProcedure(r.Context(), procedureID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type registerDayRequest struct {
	Date         string   `json:"date"`
	ProcedureIDs []string `json:"procedure_ids"`
}

func (h *Handler) handleScheduleDay(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req registerDayRequest
		if !decodeBody(w, r, &req) {
			return
		}
		date, ok := h.parseDate(w, req.Date, "date")
		if !ok {
			return
		}
		schedule, err := h.store.RegisterDay(r.Context(), date, req.ProcedureIDs)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, schedule)
	case http.MethodGet:
		date, ok := h.parseDate(w, r.URL.Query().Get("date"), "date")
		if !ok {
			return
		}
		schedule, found, err := h.store.GetDay(r.Context(), date)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "schedule_not_found", "no schedule registered for date")
			return
		}
		writeJSON(w, http.StatusOK, schedule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type registerRangeRequest struct {
	Entries []registerDayRequest `json:"entries"`
}

func (h *Handler) handleScheduleRange(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req registerRangeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Entries) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "entries is required")
			return
		}
		entries := make([]store.RegisterDateInput, 0, len(req.Entries))
		for _, entry := range req.Entries {
			date, ok := h.parseDate(w, entry.Date, "date")
			if !ok {
				return
			}
			entries = append(entries, store.RegisterDateInput{
				Date:         date,
				ProcedureIDs: entry.ProcedureIDs,
			})
		}
		schedules, err := h.store.RegisterRange(r.Context(), entries)
		if schedules == nil {
			schedules = []models.DailySchedule{}
		}
		if err != nil {
			// Each date registers independently; report the days that did
			// register alongside the failure.
			status, code, msg := mapError(err)
			writeJSON(w, status, map[string]interface{}{
				"registered": schedules,
				"error":      responseError{Code: code, Message: msg},
			})
			return
		}
		writeJSON(w, http.StatusOK, schedules)
	case http.MethodGet:
		start, ok := h.parseDate(w, r.URL.Query().Get("start"), "start")
		if !ok {
			return
		}
		end, ok := h.parseDate(w, r.URL.Query().Get("end"), "end")
		if !ok {
			return
		}
		schedules, err := h.store.GetRange(r.Context(), start, end)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if schedules == nil {
			schedules = []models.DailySchedule{}
		}
		writeJSON(w, http.StatusOK, schedules)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleScheduleMonth returns the month's schedules ordered by date. With a
// procedure_id it instead answers whether that procedure is offered at all in
// the month, which is what scheduled-ticket booking screens ask.
func (h *Handler) handleScheduleMonth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "invalid_request", "month must be 1-12")
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2000 {
		writeError(w, http.StatusBadRequest, "invalid_request", "year must be a four digit year")
		return
	}

	if procedureID := strings.TrimSpace(r.URL.Query().Get("procedure_id")); procedureID != "" {
		offered, err := h.store.IsOfferedInMonth(r.Context(), procedureID, month, year)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"offered": offered})
		return
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, h.loc)
	end := start.AddDate(0, 1, -1)
	schedules, err := h.store.GetRange(r.Context(), start, end)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if schedules == nil {
		schedules = []models.DailySchedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

type scheduleEntryRequest struct {
	ProcedureID string `json:"procedure_id"`
}

func (h *Handler) handleScheduleEntries(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/schedule/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "procedures" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	scheduleID := parts[0]

	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req scheduleEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ProcedureID = strings.TrimSpace(req.ProcedureID)
	if req.ProcedureID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "procedure_id is required")
		return
	}

	var err error
	if r.Method == http.MethodPost {
		err = h.store.AddEntry(r.Context(), scheduleID, req.ProcedureID)
	} else {
		err = h.store.RemoveEntry(r.Context(), scheduleID, req.ProcedureID)
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTicketRequest struct {
	ProcedureID string `json:"procedure_id"`
	Type        string `json:"type"`
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ProcedureID = strings.TrimSpace(req.ProcedureID)
	req.Type = strings.TrimSpace(req.Type)
	if req.ProcedureID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "procedure_id is required")
		return
	}
	if req.Type == "" {
		req.Type = models.TypeNormal
	}
	if !models.ValidType(req.Type) || req.Type == models.TypeScheduled {
		writeError(w, http.StatusBadRequest, "invalid_request", "type must be normal, preferential, or senior_80")
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		ProcedureID: req.ProcedureID,
		Type:        req.Type,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

type createScheduledTicketRequest struct {
	ProcedureID  string `json:"procedure_id"`
	ScheduledFor string `json:"scheduled_for"`
}

func (h *Handler) handleCreateScheduledTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createScheduledTicketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ProcedureID = strings.TrimSpace(req.ProcedureID)
	if req.ProcedureID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "procedure_id is required")
		return
	}
	scheduledFor, ok := h.parseDate(w, req.ScheduledFor, "scheduled_for")
	if !ok {
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		ProcedureID:  req.ProcedureID,
		Type:         models.TypeScheduled,
		ScheduledFor: &scheduledFor,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

type callNextRequest struct {
	ProcedureID string `json:"procedure_id"`
	Lane        string `json:"lane"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ProcedureID = strings.TrimSpace(req.ProcedureID)
	if req.ProcedureID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "procedure_id is required")
		return
	}

	ticket, err := h.store.CallNext(r.Context(), store.CallNextInput{
		ProcedureID: req.ProcedureID,
		Lane:        strings.TrimSpace(req.Lane),
		CalledAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type callByCodeRequest struct {
	Code string `json:"code"`
	Lane string `json:"lane"`
}

func (h *Handler) handleCallByCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callByCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	ticket, err := h.store.CallByCode(r.Context(), store.CallByCodeInput{
		Code:     req.Code,
		Lane:     strings.TrimSpace(req.Lane),
		CalledAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), "/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		ticket, found, err := h.store.GetTicket(r.Context(), parts[0])
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "ticket_not_found", "ticket not found")
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := h.store.DeleteTicket(r.Context(), parts[0]); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	var (
		ticket models.Ticket
		err    error
	)
	switch action {
	case "finalize":
		ticket, err = h.store.FinalizeTicket(r.Context(), ticketID, time.Now().UTC())
	case "cancel":
		ticket, err = h.store.CancelTicket(r.Context(), ticketID, time.Now().UTC())
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshots, err := h.store.QueueSnapshot(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if snapshots == nil {
		snapshots = []models.QueueSnapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := h.store.DisplayData(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if data.Recent == nil {
		data.Recent = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after store.Offset
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after.LastEventTime = parsed
	}
	after.LastEventID = strings.TrimSpace(r.URL.Query().Get("after_id"))

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) parseDate(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", field+" is required")
		return time.Time{}, false
	}
	date, err := time.ParseInLocation(dateLayout, raw, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", field+" must be a YYYY-MM-DD date")
		return time.Time{}, false
	}
	return date, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrProcedureNotFound):
		return http.StatusNotFound, "procedure_not_found", "procedure not found"
	case errors.Is(err, store.ErrScheduleNotFound):
		return http.StatusNotFound, "schedule_not_found", "schedule not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrProcedureInUse):
		return http.StatusConflict, "procedure_in_use", "procedure is referenced by tickets or schedules"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrCodeExhausted):
		return http.StatusConflict, "code_exhausted", "no free code prefix for procedure today"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry", "procedure already attached to schedule"
	case errors.Is(err, store.ErrNotOffered):
		return http.StatusUnprocessableEntity, "not_offered", "procedure is not offered today"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
