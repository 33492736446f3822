package shift_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/shift"
	"github.com/warp/fuelstation/shift/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	morning shift.ShiftID = 1
	evening shift.ShiftID = 2
	night   shift.ShiftID = 3

	nozzlePetrol shift.NozzleID = 11
	nozzleDiesel shift.NozzleID = 12

	petrol shift.ProductID = 100
	diesel shift.ProductID = 200

	asha shift.EmployeeID = 7
	ben  shift.EmployeeID = 8

	fleetCo shift.CustomerID = 501
)

// testMaster is an in-memory MasterData, PriceLookup and RewardResolver.
type testMaster struct {
	shifts  []shift.ShiftInfo
	nozzles map[shift.NozzleID]shift.NozzleInfo
	names   map[shift.EmployeeID]string
	prices  map[shift.ProductID]decimal.Decimal
	rewards []shift.Reward
}

func newTestMaster() *testMaster {
	return &testMaster{
		shifts: []shift.ShiftInfo{
			{ID: night, Name: "Night", Sequence: 3},
			{ID: morning, Name: "Morning", Sequence: 1},
			{ID: evening, Name: "Evening", Sequence: 2},
		},
		nozzles: map[shift.NozzleID]shift.NozzleInfo{
			nozzlePetrol: {ID: nozzlePetrol, Name: "P1-N1", PumpID: 1, ProductID: petrol},
			nozzleDiesel: {ID: nozzleDiesel, Name: "P1-N2", PumpID: 1, ProductID: diesel},
		},
		names: map[shift.EmployeeID]string{asha: "Asha", ben: "Ben"},
		prices: map[shift.ProductID]decimal.Decimal{
			petrol: d("102.50"),
			diesel: d("94.20"),
		},
		rewards: []shift.Reward{{ID: 9, Name: "Free wash", RequiredPoints: d("100")}},
	}
}

func (m *testMaster) Shifts(context.Context) ([]shift.ShiftInfo, error) { return m.shifts, nil }

func (m *testMaster) Nozzle(_ context.Context, id shift.NozzleID) (shift.NozzleInfo, error) {
	n, ok := m.nozzles[id]
	if !ok {
		return shift.NozzleInfo{}, &shift.NotFoundError{Entity: "nozzle", ID: int64(id)}
	}
	return n, nil
}

func (m *testMaster) EmployeeName(_ context.Context, id shift.EmployeeID) string {
	return m.names[id]
}

func (m *testMaster) HasEmployee(_ context.Context, id shift.EmployeeID) bool {
	_, ok := m.names[id]
	return ok
}

func (m *testMaster) Prices(_ context.Context, ids []shift.ProductID) (map[shift.ProductID]decimal.Decimal, error) {
	out := make(map[shift.ProductID]decimal.Decimal, len(ids))
	for _, id := range ids {
		if p, ok := m.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *testMaster) ClaimableRewards(_ context.Context, customer shift.CustomerID, _ shift.ProductID, _ decimal.Decimal) ([]shift.Reward, error) {
	if customer != fleetCo {
		return nil, nil
	}
	return m.rewards, nil
}

// recordingNotifier keeps every notice.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []shift.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n shift.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) kinds() []shift.NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shift.NoticeKind, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

var today = shift.NewDate(2026, time.March, 10)

func newTestService(t *testing.T) (*shift.Service, *store.TxMemory, *recordingNotifier) {
	t.Helper()
	mem := store.NewTxMemory()
	master := newTestMaster()
	notifier := &recordingNotifier{}

	svc := shift.NewService(mem, master)
	svc.Prices = master
	svc.Rewards = master
	svc.Notifier = notifier
	svc.Now = func() time.Time { return time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC) }
	return svc, mem, notifier
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

var acceptAll = shift.ConfirmFunc(func(context.Context, shift.Conflict) bool { return true })

// assign places an employee on a slot, confirming any reassignment.
func assign(t *testing.T, svc *shift.Service, shiftID shift.ShiftID, nozzleID shift.NozzleID, emp shift.EmployeeID, date shift.Date) shift.Assignment {
	t.Helper()
	res, err := svc.Assign(context.Background(), shift.AssignRequest{
		ShiftID: shiftID, NozzleID: nozzleID, EmployeeID: emp, Date: date,
	}, acceptAll)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return res.Assignment
}

// closeWith submits a closing with the given readings and no channel lines.
func closeWith(t *testing.T, svc *shift.Service, id shift.AssignmentID, start, end string) shift.Settlement {
	t.Helper()
	in := shift.ClosingInput{EndReading: nd(end)}
	if start != "" {
		in.StartReading = nd(start)
	}
	st, err := svc.SubmitClosing(context.Background(), shift.ClosingRequest{AssignmentID: id, Input: in})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	return st
}
