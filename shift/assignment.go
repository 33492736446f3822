/*
assignment.go - Assignment service and reassignment conflict protocol

PURPOSE:
  Places employees on nozzles for a shift and date. A slot holds at most
  one effective assignment: the record with the highest ID.

  This file handles:
  1. The Service type that carries the engine's collaborators
  2. Assign, including the reassignment conflict protocol
  3. The assigned-cells index used to render the shift board

REASSIGNMENT PROTOCOL:
  When a slot is already occupied the Confirmer is asked, synchronously,
  before anything is written:
  - Existing record OPEN   -> update its employee, mark
                              ReassignedBeforeClosing
  - Existing record CLOSED -> create a NEW open record on the same slot
                              with ReassignedAfterClosing; the closed record
                              is kept untouched as history
  - Declined (or no Confirmer) -> ConflictError carrying the existing
                              record so the caller can restore its view

  Confirmation happens outside the write transaction. Inside it the slot
  is re-read; if the effective record changed meanwhile the request fails
  with InvalidStateError and the caller asks again.

PAST DATES:
  New assignments for dates before the processing date are rejected.

SEE ALSO:
  - continuity.go: Start reading defaults and predecessor warnings
  - committer.go: Closing an assignment
*/
package shift

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service runs the shift engine against a store and its collaborators.
type Service struct {
	Store    TxStore
	Master   MasterData
	Prices   PriceLookup
	Rewards  RewardResolver
	Notifier Notifier

	// StrictShiftOrder refuses to close a shift while the previous shift in
	// sequence on the same nozzle and date is open.
	StrictShiftOrder bool

	// Now is the processing clock. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a service with strict shift ordering and a no-op notifier.
func NewService(store TxStore, master MasterData) *Service {
	return &Service{
		Store:            store,
		Master:           master,
		Notifier:         discardNotifier{},
		StrictShiftOrder: true,
		Now:              time.Now,
	}
}

func (s *Service) today() Date {
	if s.Now == nil {
		return Today()
	}
	return DateOf(s.Now())
}

func (s *Service) notify(ctx context.Context, n Notice) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, n)
	}
}

// =============================================================================
// ASSIGN
// =============================================================================

// AssignRequest asks to place an employee on a slot.
type AssignRequest struct {
	ShiftID    ShiftID
	NozzleID   NozzleID
	EmployeeID EmployeeID
	Date       Date
}

// AssignOutcome says what Assign did.
type AssignOutcome string

const (
	OutcomeCreated          AssignOutcome = "created"
	OutcomeReassignedOpen   AssignOutcome = "reassigned_open"
	OutcomeReassignedClosed AssignOutcome = "reassigned_closed"
	OutcomeUnchanged        AssignOutcome = "unchanged"
)

// AssignResult is the effective assignment after Assign.
type AssignResult struct {
	Assignment Assignment
	Outcome    AssignOutcome
	Previous   *Assignment
}

// ListAssignments returns every assignment record of a date.
func (s *Service) ListAssignments(ctx context.Context, date Date) ([]Assignment, error) {
	if date.IsZero() {
		return nil, missingField("date", "date is required")
	}
	return s.Store.ListAssignments(ctx, date)
}

// Assign places an employee on a slot, running the reassignment protocol
// when the slot is occupied.
func (s *Service) Assign(ctx context.Context, req AssignRequest, confirm Confirmer) (AssignResult, error) {
	if err := validateAssignRequest(req); err != nil {
		return AssignResult{}, err
	}
	if req.Date.Before(s.today()) {
		return AssignResult{}, invalid("date", "cannot assign shifts for past dates")
	}

	nozzle, err := s.Master.Nozzle(ctx, req.NozzleID)
	if err != nil {
		return AssignResult{}, err
	}
	if !s.Master.HasEmployee(ctx, req.EmployeeID) {
		return AssignResult{}, &NotFoundError{Entity: "employee", ID: int64(req.EmployeeID)}
	}

	existing, err := s.Store.FindEffective(ctx, req.ShiftID, req.NozzleID, req.Date)
	if err != nil {
		return AssignResult{}, err
	}
	if existing != nil && existing.IsOpen() && existing.EmployeeID == req.EmployeeID {
		return AssignResult{Assignment: *existing, Outcome: OutcomeUnchanged}, nil
	}
	if existing != nil {
		conflict := Conflict{Existing: *existing, Closed: existing.IsClosed(), Requested: req}
		if confirm == nil || !confirm.ConfirmReassign(ctx, conflict) {
			return AssignResult{}, &ConflictError{Conflict: conflict}
		}
	}

	var result AssignResult
	err = s.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.FindEffective(ctx, req.ShiftID, req.NozzleID, req.Date)
		if err != nil {
			return err
		}
		if !sameRecord(existing, current) {
			return &InvalidStateError{
				Entity:  "slot",
				ID:      int64(req.NozzleID),
				State:   "changed",
				Message: "assignment changed while awaiting confirmation",
			}
		}

		now := s.clock()
		switch {
		case current == nil:
			created, err := tx.CreateAssignment(ctx, Assignment{
				ShiftID:      req.ShiftID,
				NozzleID:     req.NozzleID,
				PumpID:       nozzle.PumpID,
				EmployeeID:   req.EmployeeID,
				AssignedDate: req.Date,
				State:        StateOpen,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			if err != nil {
				return err
			}
			result = AssignResult{Assignment: created, Outcome: OutcomeCreated}

		case current.IsClosed():
			created, err := tx.CreateAssignment(ctx, Assignment{
				ShiftID:                req.ShiftID,
				NozzleID:               req.NozzleID,
				PumpID:                 current.PumpID,
				EmployeeID:             req.EmployeeID,
				AssignedDate:           req.Date,
				State:                  StateOpen,
				ReassignedAfterClosing: true,
				CreatedAt:              now,
				UpdatedAt:              now,
			})
			if err != nil {
				return err
			}
			prev := *current
			result = AssignResult{Assignment: created, Outcome: OutcomeReassignedClosed, Previous: &prev}

		default:
			prev := *current
			updated := *current
			updated.EmployeeID = req.EmployeeID
			updated.ReassignedBeforeClosing = true
			updated.UpdatedAt = now
			if err := tx.UpdateAssignment(ctx, updated); err != nil {
				return err
			}
			result = AssignResult{Assignment: updated, Outcome: OutcomeReassignedOpen, Previous: &prev}
		}
		return nil
	})
	if err != nil {
		return AssignResult{}, err
	}

	kind := NoticeAssigned
	if result.Previous != nil {
		kind = NoticeReassigned
	}
	s.notify(ctx, Notice{
		Kind:         kind,
		AssignmentID: result.Assignment.ID,
		Message: fmt.Sprintf("Employee %s assigned to %s on %s",
			s.Master.EmployeeName(ctx, req.EmployeeID), nozzle.Name, req.Date),
	})
	return result, nil
}

// Close moves an open assignment to closed. A second call on the same
// assignment fails with InvalidStateError.
func (s *Service) Close(ctx context.Context, id AssignmentID, v ClosingValues) (Assignment, error) {
	return s.Store.CloseAssignment(ctx, id, v)
}

func (s *Service) clock() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func validateAssignRequest(req AssignRequest) error {
	switch {
	case req.ShiftID == 0:
		return missingField("shift_id", "shift is required")
	case req.NozzleID == 0:
		return missingField("nozzle_id", "nozzle is required")
	case req.EmployeeID == 0:
		return missingField("employee_id", "employee is required")
	case req.Date.IsZero():
		return missingField("date", "date is required")
	}
	return nil
}

func sameRecord(a, b *Assignment) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.State == b.State && a.EmployeeID == b.EmployeeID
}

// =============================================================================
// ASSIGNED CELLS - Index of effective assignments by shift then nozzle
// =============================================================================

// AssignmentIndex maps shift -> nozzle -> effective assignment.
type AssignmentIndex map[ShiftID]map[NozzleID]Assignment

// AssignedCells builds the index from raw records. When a slot holds
// several records the highest ID wins.
func AssignedCells(assignments []Assignment) AssignmentIndex {
	idx := make(AssignmentIndex)
	for _, a := range assignments {
		row, ok := idx[a.ShiftID]
		if !ok {
			row = make(map[NozzleID]Assignment)
			idx[a.ShiftID] = row
		}
		if cur, ok := row[a.NozzleID]; !ok || a.ID > cur.ID {
			row[a.NozzleID] = a
		}
	}
	return idx
}

// Get returns the effective assignment of a cell.
func (idx AssignmentIndex) Get(shiftID ShiftID, nozzleID NozzleID) (Assignment, bool) {
	a, ok := idx[shiftID][nozzleID]
	return a, ok
}

// Effective filters records down to the effective one per slot, ordered by ID.
func Effective(assignments []Assignment) []Assignment {
	latest := make(map[SlotKey]Assignment)
	for _, a := range assignments {
		if cur, ok := latest[a.Slot()]; !ok || a.ID > cur.ID {
			latest[a.Slot()] = a
		}
	}
	out := make([]Assignment, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
