package reconcile

import (
	"context"

	"github.com/warp/fuelstation/shift"
)

// Store persists cash settlements and reads the settlements they consume.
type Store interface {
	// ListSettlements returns settlements matching the filter, ordered by ID.
	ListSettlements(ctx context.Context, filter shift.SettlementFilter) ([]shift.Settlement, error)

	// GetCashSettlement returns the submission of a shift and date, or nil.
	GetCashSettlement(ctx context.Context, shiftID shift.ShiftID, date shift.Date) (*CashSettlement, error)

	// CreateCashSettlement inserts a submission. A second submission for the
	// same shift and date fails with shift.InvalidStateError.
	CreateCashSettlement(ctx context.Context, cs CashSettlement) (CashSettlement, error)

	// MarkSettled moves open settlements to settled and links them to the
	// submission. Any ID that is not open fails the whole call with
	// shift.InvalidStateError.
	MarkSettled(ctx context.Context, ids []shift.SettlementID, cashID shift.CashSettlementID) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
