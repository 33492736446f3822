package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
	"github.com/warp/fuelstation/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	cashJournal int64 = 1
	cardJournal int64 = 2

	asha shift.EmployeeID = 7
	ben  shift.EmployeeID = 8
)

var day = shift.NewDate(2026, time.March, 10)

type testJournals map[int64]reconcile.Journal

func (j testJournals) Journal(_ context.Context, id int64) (reconcile.Journal, error) {
	journal, ok := j[id]
	if !ok {
		return reconcile.Journal{}, &shift.NotFoundError{Entity: "journal", ID: id}
	}
	return journal, nil
}

func newTestService(t *testing.T) (*reconcile.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := reconcile.NewService(store.Cash(), testJournals{
		cashJournal: {ID: cashJournal, Name: "Cash", Kind: reconcile.JournalCash},
		cardJournal: {ID: cardJournal, Name: "Card", Kind: reconcile.JournalBank},
	})
	return svc, store
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// entry stores a closed assignment and its settlement.
type entry struct {
	shift    shift.ShiftID
	nozzle   shift.NozzleID
	product  shift.ProductID
	employee shift.EmployeeID
	total    string
	credit   string
	dip      string
	price    string
}

func closedEntry(t *testing.T, store *sqlite.Store, e entry) shift.Settlement {
	t.Helper()
	ctx := context.Background()
	for _, p := range []*string{&e.credit, &e.dip} {
		if *p == "" {
			*p = "0"
		}
	}

	a, err := store.CreateAssignment(ctx, shift.Assignment{
		ShiftID: e.shift, NozzleID: e.nozzle, PumpID: 1, EmployeeID: e.employee,
		AssignedDate: day, State: shift.StateOpen,
	})
	require.NoError(t, err)
	a, err = store.CloseAssignment(ctx, a.ID, shift.ClosingValues{
		StartReading: d("0"), EndReading: d(e.total), Price: d(e.price),
	})
	require.NoError(t, err)

	total, credit, dip := d(e.total), d(e.credit), d(e.dip)
	st, err := store.CreateSettlement(ctx, shift.Settlement{
		Reference:    uuid.NewString(),
		AssignmentID: a.ID,
		ShiftID:      e.shift,
		PumpID:       1,
		NozzleID:     e.nozzle,
		ProductID:    e.product,
		EmployeeID:   e.employee,
		AssignedDate: day,
		StartReading: d("0"),
		EndReading:   total,
		Price:        d(e.price),
		TotalQty:     total,
		CreditQty:    credit,
		LoyaltyQty:   decimal.Zero,
		DipQty:       dip,
		WalkinQty:    total.Sub(credit),
		NetQty:       total.Sub(credit).Sub(dip),
	})
	require.NoError(t, err)
	return st
}

func payments(lines ...reconcile.PaymentInput) []reconcile.PaymentInput { return lines }

func cash(amount string) reconcile.PaymentInput {
	return reconcile.PaymentInput{JournalID: cashJournal, Amount: d(amount)}
}

func card(amount string) reconcile.PaymentInput {
	return reconcile.PaymentInput{JournalID: cardJournal, Amount: d(amount), Ref: "POS-1"}
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestSummaries_GroupsByShiftAndPrice(t *testing.T) {
	// GIVEN: Two petrol closes at the same price and a diesel close in shift 1,
	// one petrol close in shift 2
	svc, store := newTestService(t)
	ctx := context.Background()
	closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "100", credit: "20", dip: "5", price: "10"})
	closedEntry(t, store, entry{shift: 1, nozzle: 13, product: 100, employee: asha, total: "50", price: "10"})
	closedEntry(t, store, entry{shift: 1, nozzle: 12, product: 200, employee: asha, total: "30", price: "9"})
	closedEntry(t, store, entry{shift: 2, nozzle: 11, product: 100, employee: asha, total: "40", price: "10"})

	// WHEN: Asha asks for her summaries
	cards, err := svc.Summaries(ctx, reconcile.Session{EmployeeID: asha}, reconcile.Filter{Date: day})

	// THEN: One card per shift, rows per product and price
	require.NoError(t, err)
	require.Len(t, cards, 2)

	first := cards[0]
	assert.Equal(t, shift.ShiftID(1), first.ShiftID)
	assert.False(t, first.Submitted)
	assert.Len(t, first.ClosingEntryIDs, 3)
	require.Len(t, first.Rows, 2)

	petrolRow := first.Rows[0]
	assert.Equal(t, shift.ProductID(100), petrolRow.ProductID)
	assert.True(t, petrolRow.WalkinQty.Equal(d("125")), "walk-in net of dip: %s", petrolRow.WalkinQty)
	assert.True(t, petrolRow.CreditQty.Equal(d("20")))
	assert.True(t, petrolRow.DipQty.Equal(d("5")))
	assert.True(t, petrolRow.RowTotal.Equal(d("1250")))

	// (100-20-5)*10 + 50*10 + 30*9
	assert.True(t, first.ExpectedAmount.Equal(d("1520")), "expected %s", first.ExpectedAmount)
	assert.True(t, cards[1].ExpectedAmount.Equal(d("400")))
}

func TestSummaries_SessionScoping(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})
	closedEntry(t, store, entry{shift: 1, nozzle: 12, product: 100, employee: ben, total: "20", price: "10"})

	// Employees only see their own entries, whatever they ask for
	cards, err := svc.Summaries(ctx, reconcile.Session{EmployeeID: asha}, reconcile.Filter{Date: day, EmployeeID: ben})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, asha, cards[0].EmployeeID)
	assert.True(t, cards[0].ExpectedAmount.Equal(d("100")))

	// Admins may pick the employee
	cards, err = svc.Summaries(ctx, reconcile.Session{EmployeeID: 1, IsAdmin: true}, reconcile.Filter{Date: day, EmployeeID: ben})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.True(t, cards[0].ExpectedAmount.Equal(d("200")))

	// No resolvable employee yields nothing
	cards, err = svc.Summaries(ctx, reconcile.Session{}, reconcile.Filter{Date: day})
	require.NoError(t, err)
	assert.Empty(t, cards)

	_, err = svc.Summaries(ctx, reconcile.Session{EmployeeID: asha}, reconcile.Filter{})
	assert.ErrorIs(t, err, shift.ErrMissingField)
}

// =============================================================================
// SUBMIT - CASH / BANK SPLIT
// =============================================================================

func TestSubmit_Split(t *testing.T) {
	tests := []struct {
		name       string
		lines      []reconcile.PaymentInput
		petty      string
		shortage   string
		adjustment reconcile.Adjustment
		kinds      []reconcile.PaymentKind
	}{
		{
			name:       "exact",
			lines:      payments(card("400"), cash("600")),
			petty:      "0",
			shortage:   "0",
			adjustment: reconcile.AdjustmentNone,
			kinds:      []reconcile.PaymentKind{reconcile.PaymentShift, reconcile.PaymentShift},
		},
		{
			name:       "excess cash goes to petty cash",
			lines:      payments(card("400"), cash("650"), cash("50")),
			petty:      "100",
			shortage:   "0",
			adjustment: reconcile.AdjustmentPettyReturn,
			kinds:      []reconcile.PaymentKind{reconcile.PaymentShift, reconcile.PaymentShift, reconcile.PaymentPettyCash},
		},
		{
			name:       "shortage",
			lines:      payments(card("400"), cash("500")),
			petty:      "0",
			shortage:   "100",
			adjustment: reconcile.AdjustmentShortage,
			kinds:      []reconcile.PaymentKind{reconcile.PaymentShift, reconcile.PaymentShift},
		},
		{
			name:       "bank exceeds expected",
			lines:      payments(card("1200"), cash("50")),
			petty:      "50",
			shortage:   "0",
			adjustment: reconcile.AdjustmentPettyReturn,
			kinds:      []reconcile.PaymentKind{reconcile.PaymentShift, reconcile.PaymentPettyCash},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: 1000 expected for shift 1
			svc, store := newTestService(t)
			closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "100", price: "10"})

			// WHEN: Submitting
			cs, err := svc.Submit(context.Background(), reconcile.Session{EmployeeID: asha}, reconcile.SubmitRequest{
				ShiftID:        1,
				Date:           day,
				ExpectedAmount: d("1000"),
				PaymentLines:   tt.lines,
			})

			// THEN
			require.NoError(t, err)
			assert.True(t, cs.ExpectedAmount.Equal(d("1000")))
			assert.True(t, cs.PettyCashAmount.Equal(d(tt.petty)), "petty %s", cs.PettyCashAmount)
			assert.True(t, cs.ShortageAmount.Equal(d(tt.shortage)), "shortage %s", cs.ShortageAmount)
			assert.Equal(t, tt.adjustment, cs.Adjustment)

			kinds := make([]reconcile.PaymentKind, 0, len(cs.PaymentLines))
			paid := decimal.Zero
			for _, l := range cs.PaymentLines {
				kinds = append(kinds, l.Kind)
				paid = paid.Add(l.Amount)
			}
			assert.Equal(t, tt.kinds, kinds)
			assert.True(t, paid.Equal(cs.SubmittedAmount), "lines %s != submitted %s", paid, cs.SubmittedAmount)
		})
	}
}

func TestSubmit_ExpectedIsRecomputed(t *testing.T) {
	svc, store := newTestService(t)
	closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})

	cs, err := svc.Submit(context.Background(), reconcile.Session{EmployeeID: asha}, reconcile.SubmitRequest{
		ShiftID:        1,
		Date:           day,
		ExpectedAmount: d("1"),
		PaymentLines:   payments(cash("100")),
	})

	require.NoError(t, err)
	assert.True(t, cs.ExpectedAmount.Equal(d("100")))
	assert.Equal(t, reconcile.AdjustmentNone, cs.Adjustment)
}

// =============================================================================
// SUBMIT - EXACTLY ONCE
// =============================================================================

func TestSubmit_SecondSubmissionRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	sess := reconcile.Session{EmployeeID: asha}
	st := closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})
	req := reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("100"))}

	first, err := svc.Submit(ctx, sess, req)
	require.NoError(t, err)
	assert.Equal(t, []shift.SettlementID{st.ID}, first.ClosingEntryIDs)
	assert.NotEmpty(t, first.Reference)

	_, err = svc.Submit(ctx, sess, req)
	require.ErrorIs(t, err, shift.ErrInvalidState)

	// AND: The entry is settled and the summary shows nothing left to settle
	got, err := store.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.SettlementSettled, got.State)

	cards, err := svc.Summaries(ctx, sess, reconcile.Filter{Date: day})
	require.NoError(t, err)
	assert.Empty(t, cards)

	stored, err := svc.Get(ctx, 1, day)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, first.ClosingEntryIDs, stored.ClosingEntryIDs)
}

func TestSubmit_ConcurrentSubmissionsCommitOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})
	req := reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("100"))}

	const clients = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, reconcile.Session{EmployeeID: asha}, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if shift.IsConflict(err) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, clients-1, rejected)
}

// =============================================================================
// SUBMIT - VALIDATION
// =============================================================================

func TestSubmit_Rejections(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mine := closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})
	other := closedEntry(t, store, entry{shift: 2, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})
	bens := closedEntry(t, store, entry{shift: 1, nozzle: 12, product: 100, employee: ben, total: "10", price: "10"})
	sess := reconcile.Session{EmployeeID: asha}

	tests := []struct {
		name string
		sess reconcile.Session
		req  reconcile.SubmitRequest
		is   func(error) bool
	}{
		{
			name: "no payment lines",
			sess: sess,
			req:  reconcile.SubmitRequest{ShiftID: 1, Date: day},
			is:   shift.IsValidation,
		},
		{
			name: "unknown journal",
			sess: sess,
			req: reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(
				reconcile.PaymentInput{JournalID: 42, Amount: d("1")})},
			is: shift.IsNotFound,
		},
		{
			name: "negative amount",
			sess: sess,
			req:  reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("-1"))},
			is:   shift.IsValidation,
		},
		{
			name: "no entries for shift",
			sess: sess,
			req:  reconcile.SubmitRequest{ShiftID: 3, Date: day, PaymentLines: payments(cash("1"))},
			is:   shift.IsValidation,
		},
		{
			name: "entry from another shift",
			sess: sess,
			req: reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("1")),
				ClosingEntryIDs: []shift.SettlementID{mine.ID, other.ID}},
			is: shift.IsValidation,
		},
		{
			name: "unknown entry id",
			sess: sess,
			req: reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("1")),
				ClosingEntryIDs: []shift.SettlementID{mine.ID, 9999}},
			is: shift.IsValidation,
		},
		{
			name: "entry of another employee",
			sess: sess,
			req: reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("1")),
				ClosingEntryIDs: []shift.SettlementID{bens.ID}},
			is: shift.IsValidation,
		},
		{
			name: "no employee",
			sess: reconcile.Session{},
			req:  reconcile.SubmitRequest{ShiftID: 1, Date: day, PaymentLines: payments(cash("1"))},
			is:   shift.IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.sess, tt.req)

			require.Error(t, err)
			assert.True(t, tt.is(err), "unexpected error: %v", err)
		})
	}

	// Nothing was settled by the failed submissions
	open, err := store.ListSettlements(ctx, shift.SettlementFilter{State: shift.SettlementOpen})
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestSubmit_DuplicateEntryIDsConsumedOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	st := closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})

	// WHEN: The same entry is named twice
	cs, err := svc.Submit(ctx, reconcile.Session{EmployeeID: asha}, reconcile.SubmitRequest{
		ShiftID: 1, Date: day, PaymentLines: payments(cash("100")),
		ClosingEntryIDs: []shift.SettlementID{st.ID, st.ID},
	})

	// THEN: It is consumed and counted once
	require.NoError(t, err)
	assert.Equal(t, []shift.SettlementID{st.ID}, cs.ClosingEntryIDs)
	assert.True(t, cs.ExpectedAmount.Equal(d("100")), "expected %s", cs.ExpectedAmount)
}

func TestSubmit_UnknownEntryIDNamed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	st := closedEntry(t, store, entry{shift: 1, nozzle: 11, product: 100, employee: asha, total: "10", price: "10"})

	// WHEN: One of the named entries does not exist
	_, err := svc.Submit(ctx, reconcile.Session{EmployeeID: asha}, reconcile.SubmitRequest{
		ShiftID: 1, Date: day, PaymentLines: payments(cash("100")),
		ClosingEntryIDs: []shift.SettlementID{st.ID, 9999},
	})

	// THEN: The submission is rejected naming the missing id, and nothing is settled
	require.Error(t, err)
	assert.True(t, shift.IsValidation(err))
	var fe *shift.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "closing_entry_ids", fe.Field)
	assert.Contains(t, err.Error(), "9999")

	got, err := store.ListSettlements(ctx, shift.SettlementFilter{IDs: []shift.SettlementID{st.ID}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, shift.SettlementOpen, got[0].State)
}

func TestSubmit_AdminSettlesForEmployee(t *testing.T) {
	svc, store := newTestService(t)
	bens := closedEntry(t, store, entry{shift: 1, nozzle: 12, product: 100, employee: ben, total: "10", price: "10"})

	cs, err := svc.Submit(context.Background(), reconcile.Session{EmployeeID: 1, IsAdmin: true}, reconcile.SubmitRequest{
		ShiftID:      1,
		Date:         day,
		EmployeeID:   ben,
		PaymentLines: payments(card("100")),
	})

	require.NoError(t, err)
	assert.Equal(t, ben, cs.EmployeeID)
	assert.Equal(t, []shift.SettlementID{bens.ID}, cs.ClosingEntryIDs)
	assert.True(t, cs.BankAmount.Equal(d("100")))
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), 1, day)

	assert.True(t, shift.IsNotFound(err))
}
