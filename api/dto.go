/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the shift engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Board:
    BoardResponse, ShiftDTO, NozzleDTO, SlotDTO, AssignmentDTO

  Assignment:
    AssignRequest, AssignResponse, ConflictDTO

  Closing:
    ClosingRequest, AllocationDTO, SettlementDTO, SaleLineDTO

  Cash:
    ShiftCardDTO, RowDTO, CashSubmitRequest, CashSettlementDTO

  Rewards:
    RewardDTO

AMOUNTS:
  Quantities, prices and amounts are decimal strings ("102.50"). Requests
  accept either strings or JSON numbers. Dates are YYYY-MM-DD.

VALIDATION:
  Request structs carry validator tags for shape (required, date format,
  ranges). Business rules stay in the shift and reconcile packages.

SEE ALSO:
  - handlers.go: Uses these types
  - shift/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
)

// =============================================================================
// BOARD & ASSIGNMENTS
// =============================================================================

// AssignmentDTO represents an assignment record.
type AssignmentDTO struct {
	ID                      int64               `json:"id"`
	ShiftID                 int64               `json:"shift_id"`
	NozzleID                int64               `json:"nozzle_id"`
	PumpID                  int64               `json:"pump_id"`
	EmployeeID              int64               `json:"employee_id"`
	EmployeeName            string              `json:"employee_name,omitempty"`
	AssignedDate            string              `json:"assigned_date"`
	State                   string              `json:"state"`
	StartReading            decimal.NullDecimal `json:"start_reading"`
	EndReading              decimal.NullDecimal `json:"end_reading"`
	Price                   decimal.Decimal     `json:"price"`
	DipTest                 bool                `json:"dip_test"`
	DipTakenQty             decimal.Decimal     `json:"dip_taken_qty"`
	DipReturnedQty          decimal.Decimal     `json:"dip_returned_qty"`
	ReassignedBeforeClosing bool                `json:"reassigned_before_closing"`
	ReassignedAfterClosing  bool                `json:"reassigned_after_closing"`
}

// ShiftDTO is a board column.
type ShiftDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
}

// NozzleDTO is a board row.
type NozzleDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PumpID    int64  `json:"pump_id"`
	ProductID int64  `json:"product_id"`
}

// SlotDTO is an assignment record as shown on the board.
type SlotDTO struct {
	AssignmentDTO
	Effective          bool                `json:"effective"`
	DefaultStart       decimal.NullDecimal `json:"default_start_reading"`
	PredecessorWarning string              `json:"predecessor_warning,omitempty"`
}

// BoardResponse is the shift board of one date.
// Cells maps shift ID to nozzle ID to the effective assignment ID.
type BoardResponse struct {
	Date    string                    `json:"date"`
	Shifts  []ShiftDTO                `json:"shifts"`
	Nozzles []NozzleDTO               `json:"nozzles"`
	Slots   []SlotDTO                 `json:"slots"`
	Cells   map[int64]map[int64]int64 `json:"cells"`
}

// AssignRequest places an employee on a slot. ConfirmReassign must be set
// to replace an occupied slot.
type AssignRequest struct {
	ShiftID         int64  `json:"shift_id" validate:"required,gt=0"`
	NozzleID        int64  `json:"nozzle_id" validate:"required,gt=0"`
	EmployeeID      int64  `json:"employee_id" validate:"required,gt=0"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	ConfirmReassign bool   `json:"confirm_reassign"`
}

// AssignResponse is the effective assignment after an assign request.
type AssignResponse struct {
	Outcome    string         `json:"outcome"`
	Assignment AssignmentDTO  `json:"assignment"`
	Previous   *AssignmentDTO `json:"previous,omitempty"`
}

// ConflictDTO is the error detail of a declined reassignment. Existing is
// the assignment that stays in force.
type ConflictDTO struct {
	Existing AssignmentDTO `json:"existing"`
	Closed   bool          `json:"closed"`
	Prompt   string        `json:"prompt"`
}

// =============================================================================
// CLOSING
// =============================================================================

// CreditLineRequest is volume sold on account.
type CreditLineRequest struct {
	CustomerID int64           `json:"customer_id" validate:"gte=0"`
	VehicleNo  string          `json:"vehicle_no" validate:"max=32,vehicle_no"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// LoyaltyLineRequest is volume dispensed against a reward.
type LoyaltyLineRequest struct {
	CustomerID int64           `json:"customer_id" validate:"gte=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	RewardID   *int64          `json:"reward_id,omitempty" validate:"omitempty,gt=0"`
}

// ClosingRequest is the closing form. Price is optional and overrides the
// product price when positive.
type ClosingRequest struct {
	StartReading   decimal.NullDecimal  `json:"start_reading"`
	EndReading     decimal.NullDecimal  `json:"end_reading"`
	Price          decimal.Decimal      `json:"price"`
	DipTest        bool                 `json:"dip_test"`
	DipTakenQty    decimal.Decimal      `json:"dip_taken_qty"`
	DipReturnedQty decimal.Decimal      `json:"dip_returned_qty"`
	CreditLines    []CreditLineRequest  `json:"credit_lines" validate:"dive"`
	LoyaltyLines   []LoyaltyLineRequest `json:"loyalty_lines" validate:"dive"`
}

// AllocationDTO is the channel split of a closing form.
type AllocationDTO struct {
	Total          decimal.Decimal `json:"total_qty"`
	Credit         decimal.Decimal `json:"credit_qty"`
	Loyalty        decimal.Decimal `json:"loyalty_qty"`
	Dip            decimal.Decimal `json:"dip_qty"`
	Walkin         decimal.Decimal `json:"walkin_qty"`
	BillableWalkin decimal.Decimal `json:"billable_walkin_qty"`
	Net            decimal.Decimal `json:"net_qty"`
}

// SaleLineDTO is a per-channel line of a settlement.
type SaleLineDTO struct {
	Channel     string          `json:"channel"`
	CustomerID  int64           `json:"customer_id,omitempty"`
	VehicleNo   string          `json:"vehicle_no,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	RewardID    *int64          `json:"reward_id,omitempty"`
	DipAdjusted bool            `json:"dip_adjusted"`
}

// SettlementDTO is a closing entry.
type SettlementDTO struct {
	ID               int64           `json:"id"`
	Reference        string          `json:"reference"`
	AssignmentID     int64           `json:"assignment_id"`
	ShiftID          int64           `json:"shift_id"`
	PumpID           int64           `json:"pump_id"`
	NozzleID         int64           `json:"nozzle_id"`
	ProductID        int64           `json:"product_id"`
	EmployeeID       int64           `json:"employee_id"`
	AssignedDate     string          `json:"assigned_date"`
	StartReading     decimal.Decimal `json:"start_reading"`
	EndReading       decimal.Decimal `json:"end_reading"`
	Price            decimal.Decimal `json:"price"`
	Allocation       AllocationDTO   `json:"allocation"`
	TotalSaleAmount  decimal.Decimal `json:"total_sale_amount"`
	State            string          `json:"state"`
	CashSettlementID *int64          `json:"cash_settlement_id,omitempty"`
	CreatedAt        string          `json:"created_at"`
	Lines            []SaleLineDTO   `json:"lines"`
}

// =============================================================================
// CASH RECONCILIATION
// =============================================================================

// RowDTO aggregates one product at one price on a shift card.
type RowDTO struct {
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	WalkinQty     decimal.Decimal `json:"walkin_qty"`
	WalkinAmount  decimal.Decimal `json:"walkin_amount"`
	CreditQty     decimal.Decimal `json:"credit_qty"`
	CreditAmount  decimal.Decimal `json:"credit_amount"`
	LoyaltyQty    decimal.Decimal `json:"loyalty_qty"`
	LoyaltyAmount decimal.Decimal `json:"loyalty_amount"`
	DipQty        decimal.Decimal `json:"dip_qty"`
	DipAmount     decimal.Decimal `json:"dip_amount"`
	RowTotal      decimal.Decimal `json:"row_total"`
}

// ShiftCardDTO is the cash summary of one shift.
type ShiftCardDTO struct {
	ShiftID         int64           `json:"shift_id"`
	ShiftName       string          `json:"shift_name,omitempty"`
	Date            string          `json:"date"`
	EmployeeID      int64           `json:"employee_id"`
	Rows            []RowDTO        `json:"rows"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount"`
	ClosingEntryIDs []int64         `json:"closing_entry_ids"`
	Submitted       bool            `json:"submitted"`
}

// PaymentLineRequest is one payment line entered by the cashier.
type PaymentLineRequest struct {
	JournalID int64           `json:"journal_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Ref       string          `json:"ref" validate:"max=64"`
}

// CashSubmitRequest submits a cash settlement. EmployeeID is honored for
// admin sessions only.
type CashSubmitRequest struct {
	ShiftID         int64                `json:"shift_id" validate:"required,gt=0"`
	Date            string               `json:"date" validate:"required,datetime=2006-01-02"`
	EmployeeID      int64                `json:"employee_id" validate:"gte=0"`
	ExpectedAmount  decimal.Decimal      `json:"expected_amount"`
	PaymentLines    []PaymentLineRequest `json:"payment_lines" validate:"required,min=1,dive"`
	ClosingEntryIDs []int64              `json:"closing_entry_ids" validate:"dive,gt=0"`
}

// PaymentLineDTO is a persisted payment line.
type PaymentLineDTO struct {
	JournalID int64           `json:"journal_id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      string          `json:"kind"`
	Ref       string          `json:"ref,omitempty"`
}

// CashSettlementDTO is a persisted cash settlement.
type CashSettlementDTO struct {
	ID              int64            `json:"id"`
	Reference       string           `json:"reference"`
	ShiftID         int64            `json:"shift_id"`
	Date            string           `json:"date"`
	EmployeeID      int64            `json:"employee_id"`
	ExpectedAmount  decimal.Decimal  `json:"expected_amount"`
	SubmittedAmount decimal.Decimal  `json:"submitted_amount"`
	BankAmount      decimal.Decimal  `json:"bank_amount"`
	CashAmount      decimal.Decimal  `json:"cash_amount"`
	PettyCashAmount decimal.Decimal  `json:"petty_cash_amount"`
	ShortageAmount  decimal.Decimal  `json:"shortage_amount"`
	Adjustment      string           `json:"adjustment,omitempty"`
	PaymentLines    []PaymentLineDTO `json:"payment_lines"`
	ClosingEntryIDs []int64          `json:"closing_entry_ids"`
	CreatedAt       string           `json:"created_at"`
}

// RewardDTO is a claimable loyalty reward.
type RewardDTO struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	RequiredPoints decimal.Decimal `json:"required_points"`
	CouponID       int64           `json:"coupon_id,omitempty"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO is one failed request field.
type FieldErrorDTO struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAssignmentDTO(a shift.Assignment, name string) AssignmentDTO {
	return AssignmentDTO{
		ID:                      int64(a.ID),
		ShiftID:                 int64(a.ShiftID),
		NozzleID:                int64(a.NozzleID),
		PumpID:                  int64(a.PumpID),
		EmployeeID:              int64(a.EmployeeID),
		EmployeeName:            name,
		AssignedDate:            a.AssignedDate.String(),
		State:                   string(a.State),
		StartReading:            a.StartReading,
		EndReading:              a.EndReading,
		Price:                   a.Price,
		DipTest:                 a.DipTest,
		DipTakenQty:             a.DipTakenQty,
		DipReturnedQty:          a.DipReturnedQty,
		ReassignedBeforeClosing: a.ReassignedBeforeClosing,
		ReassignedAfterClosing:  a.ReassignedAfterClosing,
	}
}

func toAllocationDTO(a shift.Allocation) AllocationDTO {
	return AllocationDTO{
		Total:          a.Total,
		Credit:         a.Credit,
		Loyalty:        a.Loyalty,
		Dip:            a.Dip,
		Walkin:         a.Walkin,
		BillableWalkin: a.BillableWalkin(),
		Net:            a.Net,
	}
}

func toSettlementDTO(s shift.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:           int64(s.ID),
		Reference:    s.Reference,
		AssignmentID: int64(s.AssignmentID),
		ShiftID:      int64(s.ShiftID),
		PumpID:       int64(s.PumpID),
		NozzleID:     int64(s.NozzleID),
		ProductID:    int64(s.ProductID),
		EmployeeID:   int64(s.EmployeeID),
		AssignedDate: s.AssignedDate.String(),
		StartReading: s.StartReading,
		EndReading:   s.EndReading,
		Price:        s.Price,
		Allocation: AllocationDTO{
			Total:          s.TotalQty,
			Credit:         s.CreditQty,
			Loyalty:        s.LoyaltyQty,
			Dip:            s.DipQty,
			Walkin:         s.WalkinQty,
			BillableWalkin: s.BillableWalkinQty(),
			Net:            s.NetQty,
		},
		TotalSaleAmount: s.TotalSaleAmount(),
		State:           string(s.State),
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		Lines:           make([]SaleLineDTO, 0, len(s.Lines)),
	}
	if s.CashSettlementID != nil {
		id := int64(*s.CashSettlementID)
		dto.CashSettlementID = &id
	}
	for _, l := range s.Lines {
		line := SaleLineDTO{
			Channel:     string(l.Channel),
			CustomerID:  int64(l.CustomerID),
			VehicleNo:   l.VehicleNo,
			Quantity:    l.Quantity,
			Price:       l.Price,
			Amount:      l.Amount(),
			DipAdjusted: l.DipAdjusted,
		}
		if l.RewardID != nil {
			id := int64(*l.RewardID)
			line.RewardID = &id
		}
		dto.Lines = append(dto.Lines, line)
	}
	return dto
}

func toClosingInput(req ClosingRequest) shift.ClosingInput {
	in := shift.ClosingInput{
		StartReading:   req.StartReading,
		EndReading:     req.EndReading,
		DipTest:        req.DipTest,
		DipTakenQty:    req.DipTakenQty,
		DipReturnedQty: req.DipReturnedQty,
	}
	for _, l := range req.CreditLines {
		in.CreditLines = append(in.CreditLines, shift.CreditLine{
			CustomerID: shift.CustomerID(l.CustomerID),
			VehicleNo:  l.VehicleNo,
			Quantity:   l.Quantity,
		})
	}
	for _, l := range req.LoyaltyLines {
		line := shift.LoyaltyLine{
			CustomerID: shift.CustomerID(l.CustomerID),
			Quantity:   l.Quantity,
		}
		if l.RewardID != nil {
			id := shift.RewardID(*l.RewardID)
			line.RewardID = &id
		}
		in.LoyaltyLines = append(in.LoyaltyLines, line)
	}
	return in
}

func toCashSettlementDTO(cs reconcile.CashSettlement) CashSettlementDTO {
	dto := CashSettlementDTO{
		ID:              int64(cs.ID),
		Reference:       cs.Reference,
		ShiftID:         int64(cs.ShiftID),
		Date:            cs.Date.String(),
		EmployeeID:      int64(cs.EmployeeID),
		ExpectedAmount:  cs.ExpectedAmount,
		SubmittedAmount: cs.SubmittedAmount,
		BankAmount:      cs.BankAmount,
		CashAmount:      cs.CashAmount,
		PettyCashAmount: cs.PettyCashAmount,
		ShortageAmount:  cs.ShortageAmount,
		Adjustment:      string(cs.Adjustment),
		PaymentLines:    make([]PaymentLineDTO, 0, len(cs.PaymentLines)),
		ClosingEntryIDs: make([]int64, 0, len(cs.ClosingEntryIDs)),
		CreatedAt:       cs.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range cs.PaymentLines {
		dto.PaymentLines = append(dto.PaymentLines, PaymentLineDTO{
			JournalID: l.JournalID,
			Amount:    l.Amount,
			Kind:      string(l.Kind),
			Ref:       l.Ref,
		})
	}
	for _, id := range cs.ClosingEntryIDs {
		dto.ClosingEntryIDs = append(dto.ClosingEntryIDs, int64(id))
	}
	return dto
}

func toRowDTO(r reconcile.Row, productName string) RowDTO {
	return RowDTO{
		ProductID:     int64(r.ProductID),
		ProductName:   productName,
		Price:         r.Price,
		WalkinQty:     r.WalkinQty,
		WalkinAmount:  r.WalkinAmount,
		CreditQty:     r.CreditQty,
		CreditAmount:  r.CreditAmount,
		LoyaltyQty:    r.LoyaltyQty,
		LoyaltyAmount: r.LoyaltyAmount,
		DipQty:        r.DipQty,
		DipAmount:     r.DipAmount,
		RowTotal:      r.RowTotal,
	}
}
