/*
handlers.go - HTTP API handlers for the fuel station shift engine

PURPOSE:
  Exposes the shift engine and cash reconciliation via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the shift,
  reconcile and catalog packages.

ENDPOINTS:
  Board:
    GET    /api/board?date=                       Shift board of a date
    GET    /api/nozzles/{id}/start-reading?date=  Continuity start reading

  Assignments:
    GET    /api/assignments?date=                 All records of a date
    POST   /api/assignments                       Assign (reassignment protocol)
    POST   /api/assignments/{id}/close            Submit the closing form

  Settlements:
    POST   /api/allocations/preview               Validate and split a closing form
    GET    /api/settlements                       Closing entries (filters)

  Cash:
    GET    /api/cash-settlements/summaries        Shift cards of open entries
    GET    /api/cash-settlements?shift_id=&date=  Submitted settlement
    POST   /api/cash-settlements                  Submit once per shift and date

  Rewards:
    GET    /api/rewards?customer_id=&product_id=&qty=

SESSION:
  The caller identifies with X-Employee-ID and, for admins, X-Role: admin.
  Authentication happens in front of this service.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Record state blocks the operation (already closed, declined
         reassignment, previous shift open, already submitted)
  - 503: Store failure that may succeed on retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - shift/errors.go: Error categories
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/fuelstation/catalog"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	Shifts  *shift.Service
	Cash    *reconcile.Service
	Catalog *catalog.Catalog
	DB      Pinger
	Log     logrus.FieldLogger
	Metrics *Metrics

	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(shifts *shift.Service, cash *reconcile.Service, cat *catalog.Catalog, log logrus.FieldLogger) *Handler {
	return &Handler{
		Shifts:   shifts,
		Cash:     cash,
		Catalog:  cat,
		Log:      log,
		Metrics:  NewMetrics(),
		validate: newValidator(),
	}
}

var vehicleNoPattern = regexp.MustCompile(`^[A-Za-z0-9 -]*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("vehicle_no", func(fl validator.FieldLevel) bool {
		return vehicleNoPattern.MatchString(fl.Field().String())
	})
	return v
}

const (
	headerEmployeeID = "X-Employee-ID"
	headerRole       = "X-Role"
	roleAdmin        = "admin"
)

// sessionFrom reads the caller identity from the request headers.
func sessionFrom(r *http.Request) (reconcile.Session, error) {
	var sess reconcile.Session
	if raw := r.Header.Get(headerEmployeeID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return sess, shift.NewValidationError(headerEmployeeID, "must be a positive integer")
		}
		sess.EmployeeID = shift.EmployeeID(id)
	}
	sess.IsAdmin = strings.EqualFold(r.Header.Get(headerRole), roleAdmin)
	return sess, nil
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the store answers.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			h.logger(r).WithError(err).Warn("health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BOARD ENDPOINTS
// =============================================================================

// GetBoard returns the shift board of a date.
// GET /api/board?date=2026-03-10
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date, err := dateParam(r, "date")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	slots, err := h.Shifts.Board(ctx, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	shifts, err := h.Catalog.Shifts(ctx)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := BoardResponse{
		Date:    date.String(),
		Shifts:  make([]ShiftDTO, 0, len(shifts)),
		Nozzles: []NozzleDTO{},
		Slots:   make([]SlotDTO, 0, len(slots)),
		Cells:   make(map[int64]map[int64]int64),
	}
	for _, s := range shifts {
		resp.Shifts = append(resp.Shifts, ShiftDTO{ID: int64(s.ID), Name: s.Name, Sequence: s.Sequence})
	}
	for _, n := range h.Catalog.Nozzles() {
		resp.Nozzles = append(resp.Nozzles, NozzleDTO{
			ID:        int64(n.ID),
			Name:      n.Name,
			PumpID:    int64(n.PumpID),
			ProductID: int64(n.ProductID),
		})
	}
	for _, slot := range slots {
		a := slot.Assignment
		resp.Slots = append(resp.Slots, SlotDTO{
			AssignmentDTO:      toAssignmentDTO(a, h.Catalog.EmployeeName(ctx, a.EmployeeID)),
			Effective:          slot.Effective,
			DefaultStart:       slot.DefaultStart,
			PredecessorWarning: slot.PredecessorWarning,
		})
		if !slot.Effective {
			continue
		}
		row, ok := resp.Cells[int64(a.ShiftID)]
		if !ok {
			row = make(map[int64]int64)
			resp.Cells[int64(a.ShiftID)] = row
		}
		row[int64(a.NozzleID)] = int64(a.ID)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetStartReading returns the start reading a new shift on the nozzle
// would default to.
// GET /api/nozzles/{id}/start-reading?date=2026-03-10
func (h *Handler) GetStartReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	date, err := dateParam(r, "date")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if _, err := h.Catalog.Nozzle(ctx, shift.NozzleID(id)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	start, err := h.Shifts.ResolveStartReading(ctx, shift.NozzleID(id), date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nozzle_id":     id,
		"date":          date.String(),
		"start_reading": start,
	})
}

// =============================================================================
// ASSIGNMENT ENDPOINTS
// =============================================================================

// ListAssignments returns every assignment record of a date, superseded
// records included.
// GET /api/assignments?date=2026-03-10
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date, err := dateParam(r, "date")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	records, err := h.Shifts.ListAssignments(ctx, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]AssignmentDTO, 0, len(records))
	for _, a := range records {
		dtos = append(dtos, toAssignmentDTO(a, h.Catalog.EmployeeName(ctx, a.EmployeeID)))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Assign places an employee on a slot. An occupied slot is only replaced
// when confirm_reassign is set; otherwise the response is 409 with the
// assignment that stays in force.
// POST /api/assignments
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := shift.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, r, shift.NewValidationError("date", "date must be YYYY-MM-DD"))
		return
	}

	confirm := shift.ConfirmFunc(func(context.Context, shift.Conflict) bool {
		return req.ConfirmReassign
	})
	res, err := h.Shifts.Assign(ctx, shift.AssignRequest{
		ShiftID:    shift.ShiftID(req.ShiftID),
		NozzleID:   shift.NozzleID(req.NozzleID),
		EmployeeID: shift.EmployeeID(req.EmployeeID),
		Date:       date,
	}, confirm)
	h.Metrics.ObserveAssign(res.Outcome, err)
	if err != nil {
		var conflict *shift.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   conflict.Error(),
				Code:    "reassign_confirmation_required",
				Details: h.conflictDTO(ctx, conflict.Conflict),
			})
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	resp := AssignResponse{
		Outcome:    string(res.Outcome),
		Assignment: toAssignmentDTO(res.Assignment, h.Catalog.EmployeeName(ctx, res.Assignment.EmployeeID)),
	}
	if res.Previous != nil {
		prev := toAssignmentDTO(*res.Previous, h.Catalog.EmployeeName(ctx, res.Previous.EmployeeID))
		resp.Previous = &prev
	}

	status := http.StatusOK
	if res.Outcome == shift.OutcomeCreated || res.Outcome == shift.OutcomeReassignedClosed {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (h *Handler) conflictDTO(ctx context.Context, c shift.Conflict) ConflictDTO {
	existing := toAssignmentDTO(c.Existing, h.Catalog.EmployeeName(ctx, c.Existing.EmployeeID))

	nozzleName := fmt.Sprintf("nozzle %d", c.Existing.NozzleID)
	if n, err := h.Catalog.Nozzle(ctx, c.Existing.NozzleID); err == nil {
		nozzleName = n.Name
	}
	prompt := fmt.Sprintf("%s is already assigned to %s for %s on %s. Reassign to %s?",
		nozzleName,
		existing.EmployeeName,
		h.shiftName(ctx, c.Existing.ShiftID),
		c.Existing.AssignedDate,
		h.Catalog.EmployeeName(ctx, c.Requested.EmployeeID))
	if c.Closed {
		prompt += " The closed shift is kept as history."
	}

	return ConflictDTO{Existing: existing, Closed: c.Closed, Prompt: prompt}
}

// CloseAssignment submits the closing form of an assignment.
// POST /api/assignments/{id}/close
func (h *Handler) CloseAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var req ClosingRequest
	if !h.decode(w, r, &req) {
		return
	}

	st, err := h.Shifts.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: shift.AssignmentID(id),
		Input:        toClosingInput(req),
		Price:        req.Price,
	})
	h.Metrics.ObserveClosing(err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSettlementDTO(st))
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// PreviewAllocation validates a closing form and returns the channel split
// without writing anything.
// POST /api/allocations/preview
func (h *Handler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	var req ClosingRequest
	if !h.decode(w, r, &req) {
		return
	}

	alloc, err := shift.Allocate(toClosingInput(req))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAllocationDTO(alloc))
}

// ListSettlements returns closing entries.
// GET /api/settlements?date=&shift_id=&pump_id=&nozzle_id=&employee_id=&state=
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f, err := settlementFilter(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	settlements, err := h.Shifts.ListSettlements(ctx, f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]SettlementDTO, 0, len(settlements))
	for _, s := range settlements {
		dtos = append(dtos, toSettlementDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func settlementFilter(r *http.Request) (shift.SettlementFilter, error) {
	var f shift.SettlementFilter
	var err error

	if r.URL.Query().Get("date") != "" {
		if f.Date, err = dateParam(r, "date"); err != nil {
			return f, err
		}
	}
	if f.ShiftIDs, err = idList[shift.ShiftID](r, "shift_id"); err != nil {
		return f, err
	}
	if f.PumpIDs, err = idList[shift.PumpID](r, "pump_id"); err != nil {
		return f, err
	}
	if f.NozzleIDs, err = idList[shift.NozzleID](r, "nozzle_id"); err != nil {
		return f, err
	}
	employee, err := optionalID(r, "employee_id")
	if err != nil {
		return f, err
	}
	f.EmployeeID = shift.EmployeeID(employee)

	switch state := shift.SettlementState(r.URL.Query().Get("state")); state {
	case "", shift.SettlementOpen, shift.SettlementSettled:
		f.State = state
	default:
		return f, shift.NewValidationError("state", "state must be open or settled")
	}
	return f, nil
}

// =============================================================================
// CASH RECONCILIATION ENDPOINTS
// =============================================================================

// ListShiftCards returns one card per shift for the caller's open closing
// entries of a date.
// GET /api/cash-settlements/summaries?date=&shift_id=&pump_id=&nozzle_id=&employee_id=
func (h *Handler) ListShiftCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := sessionFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	date, err := dateParam(r, "date")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	sf, err := settlementFilter(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	cards, err := h.Cash.Summaries(ctx, sess, reconcile.Filter{
		Date:       date,
		ShiftIDs:   sf.ShiftIDs,
		PumpIDs:    sf.PumpIDs,
		NozzleIDs:  sf.NozzleIDs,
		EmployeeID: sf.EmployeeID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ShiftCardDTO, 0, len(cards))
	for _, c := range cards {
		card := ShiftCardDTO{
			ShiftID:         int64(c.ShiftID),
			ShiftName:       h.shiftName(ctx, c.ShiftID),
			Date:            c.Date.String(),
			EmployeeID:      int64(c.EmployeeID),
			Rows:            make([]RowDTO, 0, len(c.Rows)),
			ExpectedAmount:  c.ExpectedAmount,
			ClosingEntryIDs: make([]int64, 0, len(c.ClosingEntryIDs)),
			Submitted:       c.Submitted,
		}
		for _, row := range c.Rows {
			var name string
			if p, ok := h.Catalog.Product(row.ProductID); ok {
				name = p.Name
			}
			card.Rows = append(card.Rows, toRowDTO(row, name))
		}
		for _, id := range c.ClosingEntryIDs {
			card.ClosingEntryIDs = append(card.ClosingEntryIDs, int64(id))
		}
		dtos = append(dtos, card)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitCashSettlement records the cash settlement of a shift and date.
// A second submission for the same shift and date is rejected with 409.
// POST /api/cash-settlements
func (h *Handler) SubmitCashSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := sessionFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var req CashSubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := shift.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, r, shift.NewValidationError("date", "date must be YYYY-MM-DD"))
		return
	}

	submit := reconcile.SubmitRequest{
		ShiftID:        shift.ShiftID(req.ShiftID),
		Date:           date,
		EmployeeID:     shift.EmployeeID(req.EmployeeID),
		ExpectedAmount: req.ExpectedAmount,
	}
	for _, l := range req.PaymentLines {
		submit.PaymentLines = append(submit.PaymentLines, reconcile.PaymentInput{
			JournalID: l.JournalID,
			Amount:    l.Amount,
			Ref:       l.Ref,
		})
	}
	for _, id := range req.ClosingEntryIDs {
		submit.ClosingEntryIDs = append(submit.ClosingEntryIDs, shift.SettlementID(id))
	}

	cs, err := h.Cash.Submit(ctx, sess, submit)
	h.Metrics.ObserveCashSettlement(string(cs.Adjustment), err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if !req.ExpectedAmount.IsZero() && !req.ExpectedAmount.Equal(cs.ExpectedAmount) {
		h.logger(r).WithFields(logrus.Fields{
			"shift_id":        req.ShiftID,
			"date":            req.Date,
			"client_expected": req.ExpectedAmount.String(),
			"server_expected": cs.ExpectedAmount.String(),
		}).Warn("client expected amount differs from recomputed amount")
	}

	writeJSON(w, http.StatusCreated, toCashSettlementDTO(cs))
}

// GetCashSettlement returns the submitted settlement of a shift and date.
// GET /api/cash-settlements?shift_id=1&date=2026-03-10
func (h *Handler) GetCashSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	shiftID, err := optionalID(r, "shift_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if shiftID == 0 {
		h.writeDomainError(w, r, shift.NewMissingFieldError("shift_id", "shift_id is required"))
		return
	}
	date, err := dateParam(r, "date")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	cs, err := h.Cash.Get(ctx, shift.ShiftID(shiftID), date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCashSettlementDTO(cs))
}

// =============================================================================
// REWARD ENDPOINTS
// =============================================================================

// ListRewards returns the rewards a customer can claim for a product and
// quantity.
// GET /api/rewards?customer_id=501&product_id=100&qty=10
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customer, err := optionalID(r, "customer_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if customer == 0 {
		h.writeDomainError(w, r, shift.NewMissingFieldError("customer_id", "customer_id is required"))
		return
	}
	product, err := optionalID(r, "product_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	qty := decimal.Zero
	if raw := r.URL.Query().Get("qty"); raw != "" {
		if qty, err = decimal.NewFromString(raw); err != nil {
			h.writeDomainError(w, r, shift.NewValidationError("qty", "qty must be a number"))
			return
		}
	}

	rewards, err := h.Catalog.ClaimableRewards(ctx, shift.CustomerID(customer), shift.ProductID(product), qty)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]RewardDTO, 0, len(rewards))
	for _, rw := range rewards {
		dtos = append(dtos, RewardDTO{
			ID:             int64(rw.ID),
			Name:           rw.Name,
			RequiredPoints: rw.RequiredPoints,
			CouponID:       rw.CouponID,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an engine error to its HTTP status. Server-side
// failures are logged and their cause is not echoed to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: errorCode(err)}

	var fe *shift.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}
	var pe *shift.PredecessorError
	if errors.As(err, &pe) {
		resp.Details = map[string]any{"open_assignment_id": int64(pe.Open.ID)}
	}

	switch {
	case status == http.StatusServiceUnavailable:
		h.logger(r).WithError(err).Warn("store temporarily unavailable")
		resp.Error = "Store temporarily unavailable, retry"
	case status >= http.StatusInternalServerError:
		h.logger(r).WithError(err).Error("request failed")
		resp.Error = "Internal error"
	default:
		h.logger(r).WithError(err).Debug("request rejected")
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case shift.IsValidation(err):
		return http.StatusBadRequest
	case shift.IsNotFound(err):
		return http.StatusNotFound
	case shift.IsConflict(err):
		return http.StatusConflict
	case shift.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var pe *shift.PredecessorError
	switch {
	case errors.As(err, &pe):
		return "previous_shift_open"
	case errors.Is(err, shift.ErrMissingField):
		return "missing_field"
	case errors.Is(err, shift.ErrRange):
		return "out_of_range"
	case errors.Is(err, shift.ErrConservation):
		return "volume_exceeded"
	case errors.Is(err, shift.ErrValidation):
		return "invalid"
	case errors.Is(err, shift.ErrReassignDeclined):
		return "reassign_declined"
	case errors.Is(err, shift.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, shift.ErrNotFound):
		return "not_found"
	case errors.Is(err, shift.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	default:
		return "internal"
	}
}

// decode reads a JSON body into dst and runs the struct validator. It
// writes the 400 response itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request", err)
			return false
		}
		details := make([]FieldErrorDTO, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldErrorDTO{Field: fieldPath(fe.Namespace()), Rule: fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Code:    ruleCode(verrs[0].Tag()),
			Field:   details[0].Field,
			Details: details,
		})
		return false
	}
	return true
}

// ruleCode maps a validator tag onto the error code the domain uses for
// the same failure.
func ruleCode(tag string) string {
	switch tag {
	case "required", "min":
		return "missing_field"
	case "gt", "gte", "lt", "lte", "max":
		return "out_of_range"
	default:
		return "invalid"
	}
}

// fieldPath drops the struct name from a validator namespace:
// "CashSubmitRequest.payment_lines[0].journal_id" -> "payment_lines[0].journal_id".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func (h *Handler) logger(r *http.Request) logrus.FieldLogger {
	log := h.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return log.WithField("request_id", id)
	}
	return log
}

func (h *Handler) shiftName(ctx context.Context, id shift.ShiftID) string {
	shifts, err := h.Catalog.Shifts(ctx)
	if err == nil {
		for _, s := range shifts {
			if s.ID == id {
				return s.Name
			}
		}
	}
	return fmt.Sprintf("shift %d", id)
}

func dateParam(r *http.Request, name string) (shift.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return shift.Date{}, shift.NewMissingFieldError(name, name+" is required")
	}
	d, err := shift.ParseDate(raw)
	if err != nil {
		return shift.Date{}, shift.NewValidationError(name, name+" must be YYYY-MM-DD")
	}
	return d, nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shift.NewValidationError(name, "invalid id")
	}
	return id, nil
}

// optionalID parses a single positive ID query parameter. Absent is zero.
func optionalID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shift.NewValidationError(name, fmt.Sprintf("%q is not a valid id", raw))
	}
	return id, nil
}

// idList parses repeated or comma-separated ID query parameters:
// ?shift_id=1&shift_id=2 or ?shift_id=1,2.
func idList[T ~int64](r *http.Request, name string) ([]T, error) {
	var ids []T
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, shift.NewValidationError(name, fmt.Sprintf("%q is not a valid id", part))
			}
			ids = append(ids, T(id))
		}
	}
	return ids, nil
}
