/*
committer.go - Settlement committer (atomic shift close)

PURPOSE:
  Turns a validated closing form into persisted state in one unit of work:
  the assignment moves to closed, a settlement is created, and one sale
  line is written per channel. Either all of it is written or none.

SEQUENCE:
  1. Load the assignment
  2. Resolve the start reading: request -> stored -> continuity
  3. Re-validate with Allocate (same rules as the client pre-check), then
     require the assignment to be open
  4. Resolve the unit price: request -> stored -> PriceLookup
  5. Check loyalty rewards with the RewardResolver (read-only)
  6. WithTx: predecessor gate when StrictShiftOrder is on,
     CloseAssignment (guarded), CreateSettlement with lines
  7. Notify on success

LINES WRITTEN:
  walkin  - one line of Walkin volume when Walkin > 0, flagged DipAdjusted
            when a dip test was taken
  credit  - one line per credit line with positive quantity
  loyalty - one line per loyalty line with positive quantity

CONCURRENCY:
  Two concurrent closes of the same assignment produce exactly one
  settlement: the guarded CloseAssignment (and the unique settlement per
  assignment) make the loser fail with InvalidStateError.

SEE ALSO:
  - allocation.go: Validation rules
  - continuity.go: Start reading resolution and predecessor gate
*/
package shift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClosingRequest is a submitted closing form for one assignment.
type ClosingRequest struct {
	AssignmentID AssignmentID
	Input        ClosingInput

	// Price overrides the product price when positive.
	Price decimal.Decimal
}

// SubmitClosing validates and atomically commits a shift close.
func (s *Service) SubmitClosing(ctx context.Context, req ClosingRequest) (Settlement, error) {
	if req.AssignmentID == 0 {
		return Settlement{}, missingField("assignment_id", "assignment is required")
	}

	a, err := s.Store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return Settlement{}, err
	}

	in := req.Input
	if !in.StartReading.Valid {
		in.StartReading = a.StartReading
	}
	if !in.StartReading.Valid {
		in.StartReading, err = s.ResolveStartReading(ctx, a.NozzleID, a.AssignedDate)
		if err != nil {
			return Settlement{}, err
		}
	}

	alloc, err := Allocate(in)
	if err != nil {
		return Settlement{}, err
	}
	if !a.IsOpen() {
		return Settlement{}, alreadyClosed(a)
	}

	nozzle, err := s.Master.Nozzle(ctx, a.NozzleID)
	if err != nil {
		return Settlement{}, err
	}
	price, err := s.resolvePrice(ctx, req.Price, a, nozzle.ProductID)
	if err != nil {
		return Settlement{}, err
	}
	if err := s.checkRewards(ctx, in.LoyaltyLines, nozzle.ProductID); err != nil {
		return Settlement{}, err
	}
	values := ClosingValues{
		StartReading:   in.StartReading.Decimal,
		EndReading:     in.EndReading.Decimal,
		Price:          price,
		DipTest:        in.DipTest,
		DipTakenQty:    in.DipTakenQty,
		DipReturnedQty: in.DipReturnedQty,
	}

	var settlement Settlement
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if s.StrictShiftOrder {
			if err := s.checkPredecessor(ctx, tx, a); err != nil {
				return err
			}
		}
		closed, err := tx.CloseAssignment(ctx, a.ID, values)
		if err != nil {
			return err
		}
		settlement, err = tx.CreateSettlement(ctx, buildSettlement(closed, nozzle, in, alloc, s.clock()))
		return err
	})
	if err != nil {
		return Settlement{}, err
	}

	s.notify(ctx, Notice{
		Kind:         NoticeClosed,
		AssignmentID: a.ID,
		SettlementID: settlement.ID,
		Message: fmt.Sprintf("Shift closed on %s: %s dispensed, %s due",
			nozzle.Name, alloc.Total.String(), settlement.TotalSaleAmount().StringFixed(2)),
	})
	return settlement, nil
}

func (s *Service) resolvePrice(ctx context.Context, requested decimal.Decimal, a Assignment, product ProductID) (decimal.Decimal, error) {
	if requested.IsPositive() {
		return requested, nil
	}
	if a.Price.IsPositive() {
		return a.Price, nil
	}
	if s.Prices == nil {
		return decimal.Zero, nil
	}
	prices, err := s.Prices.Prices(ctx, []ProductID{product})
	if err != nil {
		return decimal.Zero, err
	}
	return prices[product], nil
}

func (s *Service) checkRewards(ctx context.Context, lines []LoyaltyLine, product ProductID) error {
	if s.Rewards == nil {
		return nil
	}
	for i, l := range lines {
		if l.RewardID == nil || !l.Quantity.IsPositive() {
			continue
		}
		rewards, err := s.Rewards.ClaimableRewards(ctx, l.CustomerID, product, l.Quantity)
		if err != nil {
			return err
		}
		if !containsReward(rewards, *l.RewardID) {
			return invalid(fmt.Sprintf("loyalty_lines[%d].reward_id", i),
				fmt.Sprintf("reward %d is not claimable by customer %d", *l.RewardID, l.CustomerID))
		}
	}
	return nil
}

func containsReward(rewards []Reward, id RewardID) bool {
	for _, r := range rewards {
		if r.ID == id {
			return true
		}
	}
	return false
}

func buildSettlement(a Assignment, nozzle NozzleInfo, in ClosingInput, alloc Allocation, now time.Time) Settlement {
	price := a.Price
	st := Settlement{
		Reference:      uuid.NewString(),
		AssignmentID:   a.ID,
		ShiftID:        a.ShiftID,
		PumpID:         a.PumpID,
		NozzleID:       a.NozzleID,
		ProductID:      nozzle.ProductID,
		EmployeeID:     a.EmployeeID,
		AssignedDate:   a.AssignedDate,
		StartReading:   a.StartReading.Decimal,
		EndReading:     a.EndReading.Decimal,
		Price:          price,
		DipTakenQty:    a.DipTakenQty,
		DipReturnedQty: a.DipReturnedQty,
		TotalQty:       alloc.Total,
		CreditQty:      alloc.Credit,
		LoyaltyQty:     alloc.Loyalty,
		DipQty:         alloc.Dip,
		WalkinQty:      alloc.Walkin,
		NetQty:         alloc.Net,
		State:          SettlementOpen,
		CreatedAt:      now,
	}

	if alloc.Walkin.IsPositive() {
		st.Lines = append(st.Lines, SaleLine{
			Channel:     ChannelWalkin,
			Quantity:    alloc.Walkin,
			Price:       price,
			DipAdjusted: in.DipTest && alloc.Dip.IsPositive(),
		})
	}
	for _, l := range in.CreditLines {
		if !l.Quantity.IsPositive() {
			continue
		}
		st.Lines = append(st.Lines, SaleLine{
			Channel:    ChannelCredit,
			CustomerID: l.CustomerID,
			VehicleNo:  l.VehicleNo,
			Quantity:   l.Quantity,
			Price:      price,
		})
	}
	for _, l := range in.LoyaltyLines {
		if !l.Quantity.IsPositive() {
			continue
		}
		st.Lines = append(st.Lines, SaleLine{
			Channel:    ChannelLoyalty,
			CustomerID: l.CustomerID,
			Quantity:   l.Quantity,
			Price:      price,
			RewardID:   l.RewardID,
		})
	}
	return st
}

func alreadyClosed(a Assignment) error {
	return &InvalidStateError{
		Entity:  "assignment",
		ID:      int64(a.ID),
		State:   string(a.State),
		Message: "shift is already closed",
	}
}

// ListSettlements returns the closing entries matching the filter.
func (s *Service) ListSettlements(ctx context.Context, f SettlementFilter) ([]Settlement, error) {
	return s.Store.ListSettlements(ctx, f)
}
