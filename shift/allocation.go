/*
allocation.go - Volume allocator and validator

PURPOSE:
  Given the closing readings of a shift, splits the dispensed volume into
  sales channels and rejects inconsistent input before anything is written.
  Allocate is pure: no store, no clock, no collaborators.

CHANNELS:
  Total   = EndReading - StartReading
  Credit  = sum of credit line quantities
  Loyalty = sum of loyalty line quantities
  Dip     = dip test quantity taken (0 when no dip test)
  Walkin  = Total - Credit - Loyalty (recorded on the walk-in line)
  Net     = Total - Credit - Dip     (billable volume)

  Conservation: (Walkin - Dip) + Credit + Loyalty + Dip == Total. Only
  Credit + Loyalty is bounded by Total; a dip test larger than the walk-in
  volume shows up as a negative BillableWalkin (and Net) instead of a
  rejection. Dip volume is pulled out of billing entirely while loyalty
  volume stays inside Net and is billed at the unit price.

VALIDATION ORDER (first failure wins):
  1. end reading present and non-zero       MissingField
  2. start reading present                  MissingField
  3. end >= start                           Range
  4. dip returned within [0, taken]         Range
  5. total > 0                              Range
  6. credit + loyalty <= total              Conservation
  7. credit and loyalty lines name customer MissingField

EXAMPLE:
  alloc, err := shift.Allocate(shift.ClosingInput{
      StartReading: start, EndReading: end,
      CreditLines:  []shift.CreditLine{{CustomerID: 7, Quantity: d(20)}},
  })
  due := alloc.Due(price)

SEE ALSO:
  - committer.go: Re-validates with Allocate before the atomic close
*/
package shift

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT
// =============================================================================

// CreditLine is volume sold on account to a customer.
type CreditLine struct {
	CustomerID CustomerID
	VehicleNo  string
	Quantity   decimal.Decimal
}

// LoyaltyLine is volume dispensed against a loyalty reward.
type LoyaltyLine struct {
	CustomerID CustomerID
	Quantity   decimal.Decimal
	RewardID   *RewardID
}

// ClosingInput is everything the closing form submits.
type ClosingInput struct {
	StartReading   decimal.NullDecimal
	EndReading     decimal.NullDecimal
	DipTest        bool
	DipTakenQty    decimal.Decimal
	DipReturnedQty decimal.Decimal
	CreditLines    []CreditLine
	LoyaltyLines   []LoyaltyLine
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation is the channel split of one shift close.
type Allocation struct {
	Total   decimal.Decimal
	Credit  decimal.Decimal
	Loyalty decimal.Decimal
	Dip     decimal.Decimal
	Walkin  decimal.Decimal
	Net     decimal.Decimal
}

// BillableWalkin is the walk-in volume after removing the dip test volume.
func (a Allocation) BillableWalkin() decimal.Decimal {
	return a.Walkin.Sub(a.Dip)
}

// Due is the billable amount at the given unit price.
func (a Allocation) Due(price decimal.Decimal) decimal.Decimal {
	return a.Net.Mul(price)
}

// Allocate validates the closing input and splits the dispensed volume.
func Allocate(in ClosingInput) (Allocation, error) {
	if !in.EndReading.Valid || in.EndReading.Decimal.IsZero() {
		return Allocation{}, missingField("end_reading", "end reading is required")
	}
	if !in.StartReading.Valid {
		return Allocation{}, missingField("start_reading", "start reading is required")
	}

	start, end := in.StartReading.Decimal, in.EndReading.Decimal
	if end.LessThan(start) {
		return Allocation{}, outOfRange("end_reading",
			fmt.Sprintf("end reading %s is below start reading %s", end, start))
	}

	dip := decimal.Zero
	if in.DipTest {
		if in.DipTakenQty.IsNegative() {
			return Allocation{}, outOfRange("dip_taken_qty", "dip taken quantity cannot be negative")
		}
		if in.DipReturnedQty.IsNegative() {
			return Allocation{}, outOfRange("dip_returned_qty", "dip returned quantity cannot be negative")
		}
		if in.DipReturnedQty.GreaterThan(in.DipTakenQty) {
			return Allocation{}, outOfRange("dip_returned_qty",
				fmt.Sprintf("dip returned %s exceeds dip taken %s", in.DipReturnedQty, in.DipTakenQty))
		}
		dip = in.DipTakenQty
	}

	total := end.Sub(start)
	if !total.IsPositive() {
		return Allocation{}, outOfRange("end_reading", "total dispensed volume must be greater than zero")
	}

	credit := decimal.Zero
	for _, l := range in.CreditLines {
		if l.Quantity.IsPositive() {
			credit = credit.Add(l.Quantity)
		}
	}
	loyalty := decimal.Zero
	for _, l := range in.LoyaltyLines {
		if l.Quantity.IsPositive() {
			loyalty = loyalty.Add(l.Quantity)
		}
	}

	if credit.Add(loyalty).GreaterThan(total) {
		return Allocation{}, conservation(fmt.Sprintf(
			"credit %s plus loyalty %s exceeds total %s", credit, loyalty, total))
	}

	for i, l := range in.CreditLines {
		if l.Quantity.IsPositive() && l.CustomerID == 0 {
			return Allocation{}, missingField(fmt.Sprintf("credit_lines[%d].customer_id", i), "credit customer is required")
		}
	}
	for i, l := range in.LoyaltyLines {
		if l.Quantity.IsPositive() && l.CustomerID == 0 {
			return Allocation{}, missingField(fmt.Sprintf("loyalty_lines[%d].customer_id", i), "loyalty customer is required")
		}
	}

	return Allocation{
		Total:   total,
		Credit:  credit,
		Loyalty: loyalty,
		Dip:     dip,
		Walkin:  total.Sub(credit).Sub(loyalty),
		Net:     total.Sub(credit).Sub(dip),
	}, nil
}
