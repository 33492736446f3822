/*
Package shift provides the fuel shift engine.

PURPOSE:
  This package contains the domain types and algorithms for running
  fuel-dispensing shifts: who works which nozzle in which time slot,
  how the meter readings chain from one shift to the next, how the
  dispensed volume splits across sales channels, and how a shift close
  is committed as one atomic unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Assignment: one employee on one nozzle for one shift on one date
  - Settlement: the immutable closing entry produced by a shift close
  - SaleLine: a per-channel volume line owned by a Settlement
  - Typed IDs: prevent mixing nozzle, pump and shift identifiers

DESIGN PRINCIPLES:
  1. History: a closed assignment is superseded, never edited
  2. Precision: every volume, reading and price is a decimal.Decimal
  3. Type Safety: every identifier has its own integer type
  4. Effective record: the highest ID in a (shift, nozzle, date) slot wins

USAGE:
  svc := shift.NewService(store, catalog)
  res, err := svc.Assign(ctx, shift.AssignRequest{...}, confirmer)
  settlement, err := svc.SubmitClosing(ctx, shift.ClosingRequest{...})

SEE ALSO:
  - assignment.go: Assignment service and reassignment protocol
  - allocation.go: Volume allocator and validator
  - committer.go: Settlement committer
  - store.go: Persistence interfaces
*/
package shift

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	AssignmentID     int64
	SettlementID     int64
	SaleLineID       int64
	ShiftID          int64
	NozzleID         int64
	PumpID           int64
	EmployeeID       int64
	CustomerID       int64
	ProductID        int64
	RewardID         int64
	CashSettlementID int64
)

// =============================================================================
// ASSIGNMENT - One employee on one nozzle for one shift on one date
// =============================================================================

// State is the lifecycle state of an assignment.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "close"
)

// Assignment is a shift-nozzle-employee-date record.
// Several records may exist for the same slot; the one with the highest ID
// is the effective one (see SlotKey).
type Assignment struct {
	ID           AssignmentID
	ShiftID      ShiftID
	NozzleID     NozzleID
	PumpID       PumpID
	EmployeeID   EmployeeID
	AssignedDate Date
	State        State

	StartReading decimal.NullDecimal
	EndReading   decimal.NullDecimal
	Price        decimal.Decimal

	DipTest        bool
	DipTakenQty    decimal.Decimal
	DipReturnedQty decimal.Decimal

	ReassignedBeforeClosing bool
	ReassignedAfterClosing  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Assignment) IsClosed() bool { return a.State == StateClosed }
func (a Assignment) IsOpen() bool   { return a.State == StateOpen }

// Slot returns the (shift, nozzle, date) key of the assignment.
func (a Assignment) Slot() SlotKey {
	return SlotKey{ShiftID: a.ShiftID, NozzleID: a.NozzleID, Date: a.AssignedDate}
}

// SlotKey identifies a cell of the shift board.
type SlotKey struct {
	ShiftID  ShiftID
	NozzleID NozzleID
	Date     Date
}

// ClosingValues are the readings written onto an assignment when it closes.
type ClosingValues struct {
	StartReading   decimal.Decimal
	EndReading     decimal.Decimal
	Price          decimal.Decimal
	DipTest        bool
	DipTakenQty    decimal.Decimal
	DipReturnedQty decimal.Decimal
}

// =============================================================================
// SETTLEMENT - Immutable closing entry
// =============================================================================

// SettlementState tracks whether a closing entry was consumed by cash
// reconciliation.
type SettlementState string

const (
	SettlementOpen    SettlementState = "open"
	SettlementSettled SettlementState = "settled"
)

// Settlement records the readings and the channel split of one shift close.
// Readings are never edited after creation; only State moves to settled.
type Settlement struct {
	ID           SettlementID
	Reference    string
	AssignmentID AssignmentID
	ShiftID      ShiftID
	PumpID       PumpID
	NozzleID     NozzleID
	ProductID    ProductID
	EmployeeID   EmployeeID
	AssignedDate Date

	StartReading   decimal.Decimal
	EndReading     decimal.Decimal
	Price          decimal.Decimal
	DipTakenQty    decimal.Decimal
	DipReturnedQty decimal.Decimal

	TotalQty   decimal.Decimal
	CreditQty  decimal.Decimal
	LoyaltyQty decimal.Decimal
	DipQty     decimal.Decimal
	WalkinQty  decimal.Decimal
	NetQty     decimal.Decimal

	State            SettlementState
	CashSettlementID *CashSettlementID
	CreatedAt        time.Time

	Lines []SaleLine
}

// TotalSaleAmount is the billable amount of the close: net volume at price.
func (s Settlement) TotalSaleAmount() decimal.Decimal {
	return s.NetQty.Mul(s.Price)
}

// BillableWalkinQty is the walk-in volume after the dip test volume is removed.
func (s Settlement) BillableWalkinQty() decimal.Decimal {
	return s.WalkinQty.Sub(s.DipQty)
}

// Channel is a sales channel for dispensed volume.
type Channel string

const (
	ChannelWalkin  Channel = "walkin"
	ChannelCredit  Channel = "credit"
	ChannelLoyalty Channel = "loyalty"
)

// SaleLine is a per-channel line of a Settlement.
type SaleLine struct {
	ID           SaleLineID
	SettlementID SettlementID
	Channel      Channel
	CustomerID   CustomerID
	VehicleNo    string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	RewardID     *RewardID
	DipAdjusted  bool
}

// Amount is quantity times price.
func (l SaleLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.Price)
}

// SettlementFilter narrows ListSettlements. Zero values match everything.
type SettlementFilter struct {
	IDs        []SettlementID
	Date       Date
	ShiftIDs   []ShiftID
	PumpIDs    []PumpID
	NozzleIDs  []NozzleID
	EmployeeID EmployeeID
	State      SettlementState
}

// MustParseDecimal parses s, returning zero when it is not a number.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
