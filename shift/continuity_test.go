package shift_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuelstation/shift"
)

// =============================================================================
// START READING CONTINUITY
// =============================================================================

func TestResolveStartReading_NoHistory(t *testing.T) {
	svc, _, _ := newTestService(t)

	start, err := svc.ResolveStartReading(context.Background(), nozzlePetrol, today)

	require.NoError(t, err)
	assert.False(t, start.Valid)
}

func TestResolveStartReading_UsesLastClosedOnNozzle(t *testing.T) {
	// GIVEN: Morning closed at 1100, evening open on the same nozzle
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	m := assign(t, svc, morning, nozzlePetrol, asha, today)
	closeWith(t, svc, m.ID, "1000", "1100")
	e := assign(t, svc, evening, nozzlePetrol, ben, today)

	// WHEN: Resolving the evening start
	start, err := svc.ResolveStartReading(ctx, nozzlePetrol, today)

	// THEN: It continues from the morning end
	require.NoError(t, err)
	require.True(t, start.Valid)
	assert.True(t, start.Decimal.Equal(d("1100")))

	// AND: Closing without a start reading uses it
	st := closeWith(t, svc, e.ID, "", "1180")
	assert.True(t, st.StartReading.Equal(d("1100")))
	assert.True(t, st.TotalQty.Equal(d("80")))
}

func TestResolveStartReading_OtherNozzleIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)
	m := assign(t, svc, morning, nozzleDiesel, asha, today)
	closeWith(t, svc, m.ID, "0", "500")

	start, err := svc.ResolveStartReading(context.Background(), nozzlePetrol, today)

	require.NoError(t, err)
	assert.False(t, start.Valid)
}

func TestResolveStartReading_AcrossGapDays(t *testing.T) {
	// GIVEN: The nozzle was last closed two days before a future date
	svc, _, _ := newTestService(t)
	m := assign(t, svc, night, nozzlePetrol, asha, today)
	closeWith(t, svc, m.ID, "2000", "2300")

	// WHEN: Resolving for a date with no activity in between
	start, err := svc.ResolveStartReading(context.Background(), nozzlePetrol, today.AddDays(2))

	// THEN: The last closed end reading carries over
	require.NoError(t, err)
	require.True(t, start.Valid)
	assert.True(t, start.Decimal.Equal(d("2300")))
}

func TestResolveStartReading_LaterDatesNotUsed(t *testing.T) {
	svc, _, _ := newTestService(t)
	m := assign(t, svc, morning, nozzlePetrol, asha, today.AddDays(1))
	closeWith(t, svc, m.ID, "0", "40")

	start, err := svc.ResolveStartReading(context.Background(), nozzlePetrol, today)

	require.NoError(t, err)
	assert.False(t, start.Valid)
}

// =============================================================================
// BOARD
// =============================================================================

func TestBoard_DefaultsAndWarnings(t *testing.T) {
	// GIVEN: Morning closed on diesel, morning open on petrol, evening on both
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	dm := assign(t, svc, morning, nozzleDiesel, asha, today)
	closeWith(t, svc, dm.ID, "500", "650")
	assign(t, svc, morning, nozzlePetrol, asha, today)
	de := assign(t, svc, evening, nozzleDiesel, ben, today)
	pe := assign(t, svc, evening, nozzlePetrol, ben, today)

	// WHEN: Building the board
	slots, err := svc.Board(ctx, today)
	require.NoError(t, err)
	require.Len(t, slots, 4)

	byID := make(map[shift.AssignmentID]shift.Slot)
	for _, s := range slots {
		byID[s.Assignment.ID] = s
	}

	// THEN: Evening diesel continues from the morning close, no warning
	diesel := byID[de.ID]
	assert.True(t, diesel.Effective)
	require.True(t, diesel.DefaultStart.Valid)
	assert.True(t, diesel.DefaultStart.Decimal.Equal(d("650")))
	assert.Empty(t, diesel.PredecessorWarning)

	// AND: Evening petrol is warned about the open morning shift
	petrolSlot := byID[pe.ID]
	assert.Equal(t, "Previous Morning for P1-N1 is not closed by Asha.", petrolSlot.PredecessorWarning)
	assert.False(t, petrolSlot.DefaultStart.Valid)

	// AND: Closed records carry no defaults
	assert.False(t, byID[dm.ID].DefaultStart.Valid)
}

func TestBoard_SupersededRecordsAreNotEffective(t *testing.T) {
	svc, _, _ := newTestService(t)
	first := assign(t, svc, morning, nozzlePetrol, asha, today)
	closeWith(t, svc, first.ID, "0", "10")
	second := assign(t, svc, morning, nozzlePetrol, ben, today)

	slots, err := svc.Board(context.Background(), today)

	require.NoError(t, err)
	require.Len(t, slots, 2)
	for _, s := range slots {
		assert.Equal(t, s.Assignment.ID == second.ID, s.Effective)
	}
}

func TestBoard_RequiresDate(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Board(context.Background(), shift.Date{})

	assert.ErrorIs(t, err, shift.ErrMissingField)
}
