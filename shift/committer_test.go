package shift_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuelstation/shift"
)

// =============================================================================
// SUBMIT CLOSING
// =============================================================================

func TestSubmitClosing_CommitsSettlementAndLines(t *testing.T) {
	// GIVEN: An open morning shift on petrol
	svc, mem, notifier := newTestService(t)
	ctx := context.Background()
	a := assign(t, svc, morning, nozzlePetrol, asha, today)
	reward := shift.RewardID(9)

	// WHEN: Closing with credit, loyalty and a dip test
	st, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: a.ID,
		Input: shift.ClosingInput{
			StartReading:   nd("1000"),
			EndReading:     nd("1100"),
			DipTest:        true,
			DipTakenQty:    d("5"),
			DipReturnedQty: d("5"),
			CreditLines:    []shift.CreditLine{{CustomerID: fleetCo, VehicleNo: "KA-01-1234", Quantity: d("20")}},
			LoyaltyLines:   []shift.LoyaltyLine{{CustomerID: fleetCo, Quantity: d("10"), RewardID: &reward}},
		},
	})

	// THEN: The settlement mirrors the allocation at the catalog price
	require.NoError(t, err)
	assert.NotEmpty(t, st.Reference)
	assert.Equal(t, shift.SettlementOpen, st.State)
	assert.Equal(t, petrol, st.ProductID)
	assert.True(t, st.Price.Equal(d("102.50")))
	assert.True(t, st.TotalQty.Equal(d("100")))
	assert.True(t, st.WalkinQty.Equal(d("70")))
	assert.True(t, st.NetQty.Equal(d("75")))
	assert.True(t, st.TotalSaleAmount().Equal(d("7687.5")))

	require.Len(t, st.Lines, 3)
	assert.Equal(t, shift.ChannelWalkin, st.Lines[0].Channel)
	assert.True(t, st.Lines[0].DipAdjusted)
	assert.Equal(t, shift.ChannelCredit, st.Lines[1].Channel)
	assert.Equal(t, "KA-01-1234", st.Lines[1].VehicleNo)
	assert.Equal(t, shift.ChannelLoyalty, st.Lines[2].Channel)
	require.NotNil(t, st.Lines[2].RewardID)

	// AND: The assignment is closed with the readings written
	closed, err := mem.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, closed.IsClosed())
	assert.True(t, closed.EndReading.Decimal.Equal(d("1100")))
	assert.True(t, closed.Price.Equal(d("102.50")))

	assert.Contains(t, notifier.kinds(), shift.NoticeClosed)
}

func TestSubmitClosing_RequestPriceOverrides(t *testing.T) {
	svc, _, _ := newTestService(t)
	a := assign(t, svc, morning, nozzleDiesel, asha, today)

	st, err := svc.SubmitClosing(context.Background(), shift.ClosingRequest{
		AssignmentID: a.ID,
		Input:        shift.ClosingInput{StartReading: nd("0"), EndReading: nd("10")},
		Price:        d("90"),
	})

	require.NoError(t, err)
	assert.True(t, st.Price.Equal(d("90")))
	assert.True(t, st.TotalSaleAmount().Equal(d("900")))
}

func TestSubmitClosing_SecondCloseRejected(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	a := assign(t, svc, morning, nozzlePetrol, asha, today)
	closeWith(t, svc, a.ID, "0", "10")

	_, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: a.ID,
		Input:        shift.ClosingInput{StartReading: nd("10"), EndReading: nd("20")},
	})

	require.ErrorIs(t, err, shift.ErrInvalidState)
	list, _ := mem.ListSettlements(ctx, shift.SettlementFilter{})
	assert.Len(t, list, 1)
}

func TestSubmitClosing_ValidationReportedBeforeState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a := assign(t, svc, morning, nozzlePetrol, asha, today)
	closeWith(t, svc, a.ID, "0", "10")

	// WHEN: Closing the already closed assignment with an end below its start
	_, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: a.ID,
		Input:        shift.ClosingInput{StartReading: nd("10"), EndReading: nd("5")},
	})

	// THEN: The input error wins over the state error
	require.ErrorIs(t, err, shift.ErrRange)
	assert.NotErrorIs(t, err, shift.ErrInvalidState)
}

func TestSubmitClosing_ConcurrentClosesCommitOnce(t *testing.T) {
	// GIVEN: One open assignment and several clients closing it at once
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	a := assign(t, svc, morning, nozzlePetrol, asha, today)

	const clients = 8
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
			_, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
				AssignmentID: a.ID,
				Input:        shift.ClosingInput{StartReading: nd("0"), EndReading: nd("42")},
			})
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

	// THEN: Exactly one settlement exists
	assert.Equal(t, 1, success)
	assert.Equal(t, clients-1, rejected)
	list, err := mem.ListSettlements(ctx, shift.SettlementFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubmitClosing_RejectionWritesNothing(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	a := assign(t, svc, morning, nozzlePetrol, asha, today)

	_, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: a.ID,
		Input: shift.ClosingInput{
			StartReading: nd("0"),
			EndReading:   nd("10"),
			CreditLines:  []shift.CreditLine{{CustomerID: fleetCo, Quantity: d("11")}},
		},
	})

	require.ErrorIs(t, err, shift.ErrConservation)
	got, _ := mem.GetAssignment(ctx, a.ID)
	assert.True(t, got.IsOpen())
	assert.False(t, got.EndReading.Valid)
	list, _ := mem.ListSettlements(ctx, shift.SettlementFilter{})
	assert.Empty(t, list)
}

func TestSubmitClosing_MissingStartWithoutHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	a := assign(t, svc, morning, nozzlePetrol, asha, today)

	_, err := svc.SubmitClosing(context.Background(), shift.ClosingRequest{
		AssignmentID: a.ID,
		Input:        shift.ClosingInput{EndReading: nd("10")},
	})

	var fe *shift.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "start_reading", fe.Field)
}

func TestSubmitClosing_UnknownAssignment(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SubmitClosing(context.Background(), shift.ClosingRequest{
		AssignmentID: 404,
		Input:        shift.ClosingInput{StartReading: nd("0"), EndReading: nd("10")},
	})

	assert.True(t, shift.IsNotFound(err))
}

func TestSubmitClosing_UnclaimableRewardRejected(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	a := assign(t, svc, morning, nozzlePetrol, asha, today)
	reward := shift.RewardID(77)

	_, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: a.ID,
		Input: shift.ClosingInput{
			StartReading: nd("0"),
			EndReading:   nd("10"),
			LoyaltyLines: []shift.LoyaltyLine{{CustomerID: fleetCo, Quantity: d("2"), RewardID: &reward}},
		},
	})

	require.ErrorIs(t, err, shift.ErrValidation)
	got, _ := mem.GetAssignment(ctx, a.ID)
	assert.True(t, got.IsOpen())
}

// =============================================================================
// SHIFT ORDER
// =============================================================================

func TestSubmitClosing_StrictOrderBlocksUntilPredecessorCloses(t *testing.T) {
	// GIVEN: Morning and evening open on the same nozzle
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	m := assign(t, svc, morning, nozzlePetrol, asha, today)
	e := assign(t, svc, evening, nozzlePetrol, ben, today)

	// WHEN: Closing evening first
	_, err := svc.SubmitClosing(ctx, shift.ClosingRequest{
		AssignmentID: e.ID,
		Input:        shift.ClosingInput{StartReading: nd("100"), EndReading: nd("150")},
	})

	// THEN: Refused with the predecessor warning
	var pe *shift.PredecessorError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, m.ID, pe.Open.ID)
	assert.ErrorIs(t, err, shift.ErrInvalidState)
	got, _ := mem.GetAssignment(ctx, e.ID)
	assert.True(t, got.IsOpen())

	// AND: After morning closes, evening closes
	closeWith(t, svc, m.ID, "0", "100")
	st := closeWith(t, svc, e.ID, "", "150")
	assert.True(t, st.TotalQty.Equal(d("50")))
}

func TestSubmitClosing_LenientOrderAllowsOutOfSequence(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.StrictShiftOrder = false
	assign(t, svc, morning, nozzlePetrol, asha, today)
	e := assign(t, svc, evening, nozzlePetrol, ben, today)

	st := closeWith(t, svc, e.ID, "100", "150")

	assert.Equal(t, e.ID, st.AssignmentID)
}
