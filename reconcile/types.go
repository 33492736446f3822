/*
Package reconcile ties closed shifts to the cash that was handed in.

PURPOSE:
  After a shift closes, its settlements (closing entries) carry the
  expected sale amount. The cashier hands in cash and card/bank payments;
  this package summarizes what is due per shift and date and records the
  payment submission exactly once, marking the consumed entries settled.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: explicit identity of the caller (no ambient session state)
  - ShiftCard: per (shift, date) summary with rows per product and price
  - CashSettlement: the persisted submission, unique per (shift, date)
  - PaymentLine: journal + amount, split into shift cash and petty cash

SEE ALSO:
  - service.go: Summaries and Submit
  - store.go: Persistence interfaces
*/
package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/shift"
)

// =============================================================================
// SESSION
// =============================================================================

// Session is the identity of the caller. Authentication happens elsewhere;
// the session is passed explicitly into every operation.
type Session struct {
	EmployeeID shift.EmployeeID
	IsAdmin    bool
}

// ResolveEmployee picks the employee an operation acts for. Admins may act
// for the requested employee; everyone else acts for themselves.
// ok is false when no employee can be resolved.
func (s Session) ResolveEmployee(requested shift.EmployeeID) (shift.EmployeeID, bool) {
	if s.IsAdmin && requested != 0 {
		return requested, true
	}
	if s.EmployeeID != 0 {
		return s.EmployeeID, true
	}
	return 0, false
}

// =============================================================================
// SUMMARIES
// =============================================================================

// Filter narrows Summaries. Date is required.
type Filter struct {
	Date       shift.Date
	ShiftIDs   []shift.ShiftID
	PumpIDs    []shift.PumpID
	NozzleIDs  []shift.NozzleID
	EmployeeID shift.EmployeeID
}

// Row aggregates the open settlements of one product at one price.
// Walk-in is shown net of the dip test volume.
type Row struct {
	ProductID     shift.ProductID
	Price         decimal.Decimal
	WalkinQty     decimal.Decimal
	WalkinAmount  decimal.Decimal
	CreditQty     decimal.Decimal
	CreditAmount  decimal.Decimal
	LoyaltyQty    decimal.Decimal
	LoyaltyAmount decimal.Decimal
	DipQty        decimal.Decimal
	DipAmount     decimal.Decimal
	RowTotal      decimal.Decimal
}

// ShiftCard is the cash summary of one shift on one date.
type ShiftCard struct {
	ShiftID         shift.ShiftID
	Date            shift.Date
	EmployeeID      shift.EmployeeID
	Rows            []Row
	ExpectedAmount  decimal.Decimal
	ClosingEntryIDs []shift.SettlementID
	Submitted       bool
}

// =============================================================================
// SUBMISSION
// =============================================================================

// JournalKind separates cash drawers from bank/card journals.
type JournalKind string

const (
	JournalCash JournalKind = "cash"
	JournalBank JournalKind = "bank"
)

// Journal is a payment journal from master data.
type Journal struct {
	ID   int64
	Name string
	Kind JournalKind
}

// JournalLookup resolves payment journals.
type JournalLookup interface {
	Journal(ctx context.Context, id int64) (Journal, error)
}

// PaymentInput is one payment line as entered by the cashier.
type PaymentInput struct {
	JournalID int64
	Amount    decimal.Decimal
	Ref       string
}

// SubmitRequest is a cash settlement submission.
type SubmitRequest struct {
	ShiftID    shift.ShiftID
	Date       shift.Date
	EmployeeID shift.EmployeeID

	// ExpectedAmount is the client's figure. It is recomputed server side.
	ExpectedAmount decimal.Decimal

	PaymentLines []PaymentInput

	// ClosingEntryIDs limits the settlements consumed. Empty means every
	// open settlement of the shift, date and employee.
	ClosingEntryIDs []shift.SettlementID
}

// PaymentKind classifies a persisted payment line.
type PaymentKind string

const (
	PaymentShift     PaymentKind = "shift"
	PaymentPettyCash PaymentKind = "petty_cash"
)

// PaymentLine is a persisted payment line.
type PaymentLine struct {
	JournalID int64
	Amount    decimal.Decimal
	Kind      PaymentKind
	Ref       string
}

// Adjustment names the follow-up booking a submission calls for.
type Adjustment string

const (
	AdjustmentNone        Adjustment = ""
	AdjustmentPettyReturn Adjustment = "petty_return"
	AdjustmentShortage    Adjustment = "shortage"
)

// CashSettlement is the persisted submission. At most one exists per
// (ShiftID, Date).
type CashSettlement struct {
	ID              shift.CashSettlementID
	Reference       string
	ShiftID         shift.ShiftID
	Date            shift.Date
	EmployeeID      shift.EmployeeID
	ExpectedAmount  decimal.Decimal
	SubmittedAmount decimal.Decimal
	BankAmount      decimal.Decimal
	CashAmount      decimal.Decimal
	PettyCashAmount decimal.Decimal
	ShortageAmount  decimal.Decimal
	Adjustment      Adjustment
	PaymentLines    []PaymentLine
	ClosingEntryIDs []shift.SettlementID
	CreatedAt       time.Time
}
