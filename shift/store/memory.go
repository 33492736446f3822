// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/fuelstation/shift"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	assignments map[shift.AssignmentID]shift.Assignment
	settlements map[shift.SettlementID]shift.Settlement
	byAssign    map[shift.AssignmentID]shift.SettlementID
	nextID      int64
}

func NewMemory() *Memory {
	return &Memory{
		assignments: make(map[shift.AssignmentID]shift.Assignment),
		settlements: make(map[shift.SettlementID]shift.Settlement),
		byAssign:    make(map[shift.AssignmentID]shift.SettlementID),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateAssignment(ctx context.Context, a shift.Assignment) (shift.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAssignmentLocked(a)
}

func (m *Memory) createAssignmentLocked(a shift.Assignment) (shift.Assignment, error) {
	a.ID = shift.AssignmentID(m.id())
	m.assignments[a.ID] = a
	return a, nil
}

func (m *Memory) UpdateAssignment(ctx context.Context, a shift.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAssignmentLocked(a)
}

func (m *Memory) updateAssignmentLocked(a shift.Assignment) error {
	cur, ok := m.assignments[a.ID]
	if !ok {
		return &shift.NotFoundError{Entity: "assignment", ID: int64(a.ID)}
	}
	if cur.IsClosed() {
		return &shift.InvalidStateError{Entity: "assignment", ID: int64(a.ID), State: string(cur.State), Message: "closed assignments are history"}
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *Memory) GetAssignment(ctx context.Context, id shift.AssignmentID) (shift.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAssignmentLocked(id)
}

func (m *Memory) getAssignmentLocked(id shift.AssignmentID) (shift.Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return shift.Assignment{}, &shift.NotFoundError{Entity: "assignment", ID: int64(id)}
	}
	return a, nil
}

func (m *Memory) ListAssignments(ctx context.Context, date shift.Date) ([]shift.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(a shift.Assignment) bool { return a.AssignedDate.Equal(date) }), nil
}

func (m *Memory) FindEffective(ctx context.Context, shiftID shift.ShiftID, nozzleID shift.NozzleID, date shift.Date) (*shift.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findEffectiveLocked(shiftID, nozzleID, date), nil
}

func (m *Memory) findEffectiveLocked(shiftID shift.ShiftID, nozzleID shift.NozzleID, date shift.Date) *shift.Assignment {
	matches := m.filterLocked(func(a shift.Assignment) bool {
		return a.ShiftID == shiftID && a.NozzleID == nozzleID && a.AssignedDate.Equal(date)
	})
	if len(matches) == 0 {
		return nil
	}
	last := matches[len(matches)-1]
	return &last
}

func (m *Memory) LastClosed(ctx context.Context, nozzleID shift.NozzleID, onOrBefore shift.Date) (*shift.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastClosedLocked(nozzleID, onOrBefore), nil
}

func (m *Memory) lastClosedLocked(nozzleID shift.NozzleID, onOrBefore shift.Date) *shift.Assignment {
	var best *shift.Assignment
	for _, a := range m.assignments {
		if a.NozzleID != nozzleID || !a.IsClosed() || a.AssignedDate.After(onOrBefore) {
			continue
		}
		if best == nil || a.AssignedDate.After(best.AssignedDate) ||
			(a.AssignedDate.Equal(best.AssignedDate) && a.ID > best.ID) {
			c := a
			best = &c
		}
	}
	return best
}

func (m *Memory) ListOpenBefore(ctx context.Context, date shift.Date) ([]shift.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(a shift.Assignment) bool { return a.IsOpen() && a.AssignedDate.Before(date) }), nil
}

func (m *Memory) CloseAssignment(ctx context.Context, id shift.AssignmentID, v shift.ClosingValues) (shift.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeAssignmentLocked(id, v)
}

func (m *Memory) closeAssignmentLocked(id shift.AssignmentID, v shift.ClosingValues) (shift.Assignment, error) {
	a, err := m.getAssignmentLocked(id)
	if err != nil {
		return shift.Assignment{}, err
	}
	if !a.IsOpen() {
		return shift.Assignment{}, &shift.InvalidStateError{Entity: "assignment", ID: int64(id), State: string(a.State), Message: "shift is already closed"}
	}
	a.State = shift.StateClosed
	a.StartReading = decimalValid(v.StartReading)
	a.EndReading = decimalValid(v.EndReading)
	a.Price = v.Price
	a.DipTest = v.DipTest
	a.DipTakenQty = v.DipTakenQty
	a.DipReturnedQty = v.DipReturnedQty
	m.assignments[id] = a
	return a, nil
}

func (m *Memory) CreateSettlement(ctx context.Context, s shift.Settlement) (shift.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSettlementLocked(s)
}

func (m *Memory) createSettlementLocked(s shift.Settlement) (shift.Settlement, error) {
	if _, dup := m.byAssign[s.AssignmentID]; dup {
		return shift.Settlement{}, &shift.InvalidStateError{Entity: "assignment", ID: int64(s.AssignmentID), State: string(shift.StateClosed), Message: "settlement already exists"}
	}
	s.ID = shift.SettlementID(m.id())
	lines := make([]shift.SaleLine, len(s.Lines))
	for i, l := range s.Lines {
		l.ID = shift.SaleLineID(m.id())
		l.SettlementID = s.ID
		lines[i] = l
	}
	s.Lines = lines
	m.settlements[s.ID] = s
	m.byAssign[s.AssignmentID] = s.ID
	return s, nil
}

func (m *Memory) GetSettlement(ctx context.Context, id shift.SettlementID) (shift.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return shift.Settlement{}, &shift.NotFoundError{Entity: "settlement", ID: int64(id)}
	}
	return s, nil
}

func (m *Memory) ListSettlements(ctx context.Context, f shift.SettlementFilter) ([]shift.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSettlementsLocked(f), nil
}

func (m *Memory) listSettlementsLocked(f shift.SettlementFilter) []shift.Settlement {
	var out []shift.Settlement
	for _, s := range m.settlements {
		if matchSettlement(s, f) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) filterLocked(keep func(shift.Assignment) bool) []shift.Assignment {
	var out []shift.Assignment
	for _, a := range m.assignments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(shift.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		assignments: make(map[shift.AssignmentID]shift.Assignment, len(tm.assignments)),
		settlements: make(map[shift.SettlementID]shift.Settlement, len(tm.settlements)),
		byAssign:    make(map[shift.AssignmentID]shift.SettlementID, len(tm.byAssign)),
		nextID:      tm.nextID,
	}
	for k, v := range tm.assignments {
		s.assignments[k] = v
	}
	for k, v := range tm.settlements {
		s.settlements[k] = v
	}
	for k, v := range tm.byAssign {
		s.byAssign[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.assignments = s.assignments
	tm.settlements = s.settlements
	tm.byAssign = s.byAssign
	tm.nextID = s.nextID
}

type memorySnapshot struct {
	assignments map[shift.AssignmentID]shift.Assignment
	settlements map[shift.SettlementID]shift.Settlement
	byAssign    map[shift.AssignmentID]shift.SettlementID
	nextID      int64
}

// txMemoryView runs against the parent's maps while WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateAssignment(_ context.Context, a shift.Assignment) (shift.Assignment, error) {
	return tv.parent.createAssignmentLocked(a)
}

func (tv *txMemoryView) UpdateAssignment(_ context.Context, a shift.Assignment) error {
	return tv.parent.updateAssignmentLocked(a)
}

func (tv *txMemoryView) GetAssignment(_ context.Context, id shift.AssignmentID) (shift.Assignment, error) {
	return tv.parent.getAssignmentLocked(id)
}

func (tv *txMemoryView) ListAssignments(_ context.Context, date shift.Date) ([]shift.Assignment, error) {
	return tv.parent.filterLocked(func(a shift.Assignment) bool { return a.AssignedDate.Equal(date) }), nil
}

func (tv *txMemoryView) FindEffective(_ context.Context, shiftID shift.ShiftID, nozzleID shift.NozzleID, date shift.Date) (*shift.Assignment, error) {
	return tv.parent.findEffectiveLocked(shiftID, nozzleID, date), nil
}

func (tv *txMemoryView) LastClosed(_ context.Context, nozzleID shift.NozzleID, onOrBefore shift.Date) (*shift.Assignment, error) {
	return tv.parent.lastClosedLocked(nozzleID, onOrBefore), nil
}

func (tv *txMemoryView) ListOpenBefore(_ context.Context, date shift.Date) ([]shift.Assignment, error) {
	return tv.parent.filterLocked(func(a shift.Assignment) bool { return a.IsOpen() && a.AssignedDate.Before(date) }), nil
}

func (tv *txMemoryView) CloseAssignment(_ context.Context, id shift.AssignmentID, v shift.ClosingValues) (shift.Assignment, error) {
	return tv.parent.closeAssignmentLocked(id, v)
}

func (tv *txMemoryView) CreateSettlement(_ context.Context, s shift.Settlement) (shift.Settlement, error) {
	return tv.parent.createSettlementLocked(s)
}

func (tv *txMemoryView) GetSettlement(_ context.Context, id shift.SettlementID) (shift.Settlement, error) {
	s, ok := tv.parent.settlements[id]
	if !ok {
		return shift.Settlement{}, &shift.NotFoundError{Entity: "settlement", ID: int64(id)}
	}
	return s, nil
}

func (tv *txMemoryView) ListSettlements(_ context.Context, f shift.SettlementFilter) ([]shift.Settlement, error) {
	return tv.parent.listSettlementsLocked(f), nil
}
