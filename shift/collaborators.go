package shift

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MASTER DATA - Read-only reference data owned by another system
// =============================================================================

// ShiftInfo is a named time slot with its position in the day.
type ShiftInfo struct {
	ID       ShiftID
	Name     string
	Sequence int
}

// NozzleInfo locates a nozzle on its pump and names the product it dispenses.
type NozzleInfo struct {
	ID        NozzleID
	Name      string
	PumpID    PumpID
	ProductID ProductID
}

// MasterData resolves shifts, nozzles and employee names.
type MasterData interface {
	Shifts(ctx context.Context) ([]ShiftInfo, error)
	Nozzle(ctx context.Context, id NozzleID) (NozzleInfo, error)
	EmployeeName(ctx context.Context, id EmployeeID) string
	HasEmployee(ctx context.Context, id EmployeeID) bool
}

// PriceLookup returns unit prices for many products in one call.
// Products without a price are absent from the result.
type PriceLookup interface {
	Prices(ctx context.Context, ids []ProductID) (map[ProductID]decimal.Decimal, error)
}

// Reward is a loyalty reward a customer can claim.
type Reward struct {
	ID             RewardID
	Name           string
	RequiredPoints decimal.Decimal
	CouponID       int64
}

// RewardResolver lists the rewards a customer may claim for a product and
// quantity. It is read-only.
type RewardResolver interface {
	ClaimableRewards(ctx context.Context, customer CustomerID, product ProductID, qty decimal.Decimal) ([]Reward, error)
}

// =============================================================================
// CONFIRMATION & NOTIFICATION
// =============================================================================

// Confirmer decides whether an occupied slot may be reassigned.
type Confirmer interface {
	ConfirmReassign(ctx context.Context, c Conflict) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, c Conflict) bool

func (f ConfirmFunc) ConfirmReassign(ctx context.Context, c Conflict) bool { return f(ctx, c) }

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	NoticeAssigned   NoticeKind = "assigned"
	NoticeReassigned NoticeKind = "reassigned"
	NoticeClosed     NoticeKind = "closed"
)

// Notice is a user-facing success message.
type Notice struct {
	Kind         NoticeKind
	AssignmentID AssignmentID
	SettlementID SettlementID
	Message      string
}

// Notifier receives success notices. It must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Notice) {}
