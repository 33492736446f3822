/*
continuity.go - Reading continuity resolver and shift board

PURPOSE:
  A nozzle's meter never resets between shifts, so the start reading of a
  new shift is the end reading of the nozzle's most recently closed shift,
  even when that shift was on an earlier day.

  This file handles:
  1. ResolveStartReading: default start reading for a nozzle and date
  2. Board: the day's slots with defaults and predecessor warnings
  3. The predecessor lookup shared with the committer's gate

PREDECESSOR:
  Shifts are ordered by Sequence. The predecessor of a shift is the shift
  with the greatest lower sequence. A warning is raised when the
  predecessor's effective assignment on the same nozzle and date exists
  and is still open. With no lower shift there is no predecessor.

SEE ALSO:
  - store.go: LastClosed ordering (date desc, id desc)
  - committer.go: Applies the predecessor gate when StrictShiftOrder is on
*/
package shift

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ResolveStartReading returns the end reading of the most recently closed
// assignment of the nozzle on or before date. Invalid when none exists.
func (s *Service) ResolveStartReading(ctx context.Context, nozzleID NozzleID, date Date) (decimal.NullDecimal, error) {
	return resolveStartReading(ctx, s.Store, nozzleID, date)
}

func resolveStartReading(ctx context.Context, store Store, nozzleID NozzleID, date Date) (decimal.NullDecimal, error) {
	last, err := store.LastClosed(ctx, nozzleID, date)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if last == nil || !last.EndReading.Valid {
		return decimal.NullDecimal{}, nil
	}
	return last.EndReading, nil
}

// =============================================================================
// BOARD
// =============================================================================

// Slot is one record of the shift board.
type Slot struct {
	Assignment Assignment
	Effective  bool

	// DefaultStart is the resolved start reading for open slots that have
	// none stored.
	DefaultStart decimal.NullDecimal

	// PredecessorWarning is set when the previous shift on the same nozzle
	// and date is still open.
	PredecessorWarning string
}

// Board returns every assignment record of a date with continuity defaults
// and predecessor warnings on the effective open slots.
func (s *Service) Board(ctx context.Context, date Date) ([]Slot, error) {
	records, err := s.ListAssignments(ctx, date)
	if err != nil {
		return nil, err
	}
	shifts, err := s.Master.Shifts(ctx)
	if err != nil {
		return nil, err
	}

	index := AssignedCells(records)
	slots := make([]Slot, 0, len(records))
	for _, a := range records {
		eff, _ := index.Get(a.ShiftID, a.NozzleID)
		slot := Slot{Assignment: a, Effective: eff.ID == a.ID}

		if slot.Effective && a.IsOpen() {
			if !a.StartReading.Valid {
				slot.DefaultStart, err = s.ResolveStartReading(ctx, a.NozzleID, date)
				if err != nil {
					return nil, err
				}
			}
			if pred, ok := predecessorShift(shifts, a.ShiftID); ok {
				if open, ok := index.Get(pred.ID, a.NozzleID); ok && open.IsOpen() {
					slot.PredecessorWarning = s.predecessorWarning(ctx, pred, open)
				}
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// checkPredecessor returns a PredecessorError when the previous shift on the
// assignment's nozzle and date is still open.
func (s *Service) checkPredecessor(ctx context.Context, store Store, a Assignment) error {
	shifts, err := s.Master.Shifts(ctx)
	if err != nil {
		return err
	}
	pred, ok := predecessorShift(shifts, a.ShiftID)
	if !ok {
		return nil
	}
	open, err := store.FindEffective(ctx, pred.ID, a.NozzleID, a.AssignedDate)
	if err != nil {
		return err
	}
	if open == nil || open.IsClosed() {
		return nil
	}
	return &PredecessorError{Warning: s.predecessorWarning(ctx, pred, *open), Open: *open}
}

func (s *Service) predecessorWarning(ctx context.Context, pred ShiftInfo, open Assignment) string {
	nozzleName := fmt.Sprintf("nozzle %d", open.NozzleID)
	if n, err := s.Master.Nozzle(ctx, open.NozzleID); err == nil && n.Name != "" {
		nozzleName = n.Name
	}
	return fmt.Sprintf("Previous %s for %s is not closed by %s.",
		pred.Name, nozzleName, s.Master.EmployeeName(ctx, open.EmployeeID))
}

// predecessorShift returns the shift with the greatest sequence lower than
// the given shift's sequence.
func predecessorShift(shifts []ShiftInfo, id ShiftID) (ShiftInfo, bool) {
	ordered := append([]ShiftInfo(nil), shifts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	for i, sh := range ordered {
		if sh.ID == id {
			if i == 0 {
				return ShiftInfo{}, false
			}
			return ordered[i-1], true
		}
	}
	return ShiftInfo{}, false
}
