/*
service.go - Cash summaries and exactly-once cash settlement submission

PURPOSE:
  Summaries groups the open settlements of a date into one card per shift
  with rows per (product, price). Submit records the payments handed in for
  one shift and date and marks the consumed settlements settled.

EXACTLY ONCE:
  A submission is unique per (shift, date). Submit checks for an existing
  one first and the store enforces the same rule with a persisted unique
  constraint, so concurrent submissions produce one record and one
  InvalidStateError. The settlements consumed must still be open; marking
  them settled happens in the same transaction as the insert.

CASH / BANK SPLIT:
  bank      = sum of lines on bank journals (kept as shift payments)
  cash      = sum of lines on cash journals
  remaining = max(expected - bank, 0)
  petty     = max(cash - remaining, 0)   cash handed in beyond what is due
  shortage  = max(expected - (bank + cash), 0)
  shiftCash = cash - petty

  Cash lines are collapsed into one shift line and one petty cash line on
  the first cash journal submitted.

SEE ALSO:
  - types.go: Session, ShiftCard, CashSettlement
  - shift/committer.go: Produces the settlements consumed here
*/
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/shift"
)

// Service runs cash reconciliation.
type Service struct {
	Store    TxStore
	Journals JournalLookup
	Now      func() time.Time
}

func NewService(store TxStore, journals JournalLookup) *Service {
	return &Service{Store: store, Journals: journals, Now: time.Now}
}

func (s *Service) clock() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// =============================================================================
// SUMMARIES
// =============================================================================

// Summaries returns one card per shift for the open settlements matching
// the filter. An unresolvable employee yields no cards.
func (s *Service) Summaries(ctx context.Context, sess Session, f Filter) ([]ShiftCard, error) {
	if f.Date.IsZero() {
		return nil, shift.NewMissingFieldError("date", "date is required")
	}
	employee, ok := sess.ResolveEmployee(f.EmployeeID)
	if !ok {
		return []ShiftCard{}, nil
	}

	settlements, err := s.Store.ListSettlements(ctx, shift.SettlementFilter{
		Date:       f.Date,
		ShiftIDs:   f.ShiftIDs,
		PumpIDs:    f.PumpIDs,
		NozzleIDs:  f.NozzleIDs,
		EmployeeID: employee,
		State:      shift.SettlementOpen,
	})
	if err != nil {
		return nil, err
	}

	byShift := make(map[shift.ShiftID][]shift.Settlement)
	for _, st := range settlements {
		byShift[st.ShiftID] = append(byShift[st.ShiftID], st)
	}

	cards := make([]ShiftCard, 0, len(byShift))
	for shiftID, group := range byShift {
		card := summarize(shiftID, f.Date, employee, group)
		existing, err := s.Store.GetCashSettlement(ctx, shiftID, f.Date)
		if err != nil {
			return nil, err
		}
		card.Submitted = existing != nil
		cards = append(cards, card)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ShiftID < cards[j].ShiftID })
	return cards, nil
}

type rowKey struct {
	product shift.ProductID
	price   string
}

func summarize(shiftID shift.ShiftID, date shift.Date, employee shift.EmployeeID, group []shift.Settlement) ShiftCard {
	card := ShiftCard{
		ShiftID:        shiftID,
		Date:           date,
		EmployeeID:     employee,
		ExpectedAmount: decimal.Zero,
	}

	rows := make(map[rowKey]*Row)
	var order []rowKey
	for _, st := range group {
		key := rowKey{product: st.ProductID, price: st.Price.String()}
		row, ok := rows[key]
		if !ok {
			row = &Row{ProductID: st.ProductID, Price: st.Price}
			rows[key] = row
			order = append(order, key)
		}
		row.WalkinQty = row.WalkinQty.Add(st.BillableWalkinQty())
		row.CreditQty = row.CreditQty.Add(st.CreditQty)
		row.LoyaltyQty = row.LoyaltyQty.Add(st.LoyaltyQty)
		row.DipQty = row.DipQty.Add(st.DipQty)
		row.RowTotal = row.RowTotal.Add(st.TotalSaleAmount())

		card.ExpectedAmount = card.ExpectedAmount.Add(st.TotalSaleAmount())
		card.ClosingEntryIDs = append(card.ClosingEntryIDs, st.ID)
	}

	for _, key := range order {
		row := rows[key]
		row.WalkinAmount = row.WalkinQty.Mul(row.Price)
		row.CreditAmount = row.CreditQty.Mul(row.Price)
		row.LoyaltyAmount = row.LoyaltyQty.Mul(row.Price)
		row.DipAmount = row.DipQty.Mul(row.Price)
		card.Rows = append(card.Rows, *row)
	}
	return card
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit records a cash settlement for a shift and date exactly once.
func (s *Service) Submit(ctx context.Context, sess Session, req SubmitRequest) (CashSettlement, error) {
	employee, ok := sess.ResolveEmployee(req.EmployeeID)
	if !ok {
		return CashSettlement{}, shift.NewMissingFieldError("employee_id", "no employee resolved for settlement")
	}
	if req.ShiftID == 0 {
		return CashSettlement{}, shift.NewMissingFieldError("shift_id", "shift is required")
	}
	if req.Date.IsZero() {
		return CashSettlement{}, shift.NewMissingFieldError("date", "date is required")
	}
	journals, err := s.resolveJournals(ctx, req.PaymentLines)
	if err != nil {
		return CashSettlement{}, err
	}

	var result CashSettlement
	err = s.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetCashSettlement(ctx, req.ShiftID, req.Date)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadySubmitted(req.ShiftID, req.Date)
		}

		entries, err := s.consumable(ctx, tx, sess, req, employee)
		if err != nil {
			return err
		}

		expected := decimal.Zero
		ids := make([]shift.SettlementID, len(entries))
		for i, e := range entries {
			expected = expected.Add(e.TotalSaleAmount())
			ids[i] = e.ID
		}

		cs := split(req, journals, expected)
		cs.Reference = uuid.NewString()
		cs.EmployeeID = employee
		cs.ClosingEntryIDs = ids
		cs.CreatedAt = s.clock()

		created, err := tx.CreateCashSettlement(ctx, cs)
		if err != nil {
			return err
		}
		if err := tx.MarkSettled(ctx, ids, created.ID); err != nil {
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return CashSettlement{}, err
	}
	return result, nil
}

// Get returns the submission of a shift and date.
func (s *Service) Get(ctx context.Context, shiftID shift.ShiftID, date shift.Date) (CashSettlement, error) {
	cs, err := s.Store.GetCashSettlement(ctx, shiftID, date)
	if err != nil {
		return CashSettlement{}, err
	}
	if cs == nil {
		return CashSettlement{}, &shift.NotFoundError{Entity: "cash settlement for shift", ID: int64(shiftID)}
	}
	return *cs, nil
}

func (s *Service) resolveJournals(ctx context.Context, lines []PaymentInput) (map[int64]Journal, error) {
	if len(lines) == 0 {
		return nil, shift.NewMissingFieldError("payment_lines", "at least one payment line is required")
	}
	journals := make(map[int64]Journal)
	for i, l := range lines {
		if l.JournalID == 0 {
			return nil, shift.NewMissingFieldError(fmt.Sprintf("payment_lines[%d].journal_id", i), "journal is required")
		}
		if l.Amount.IsNegative() {
			return nil, shift.NewRangeError(fmt.Sprintf("payment_lines[%d].amount", i), "amount cannot be negative")
		}
		if _, ok := journals[l.JournalID]; ok {
			continue
		}
		j, err := s.Journals.Journal(ctx, l.JournalID)
		if err != nil {
			return nil, err
		}
		journals[l.JournalID] = j
	}
	return journals, nil
}

// consumable loads the settlements a submission consumes and checks that
// every one belongs to the shift and date and is still open. Non-admin
// sessions may only consume their own entries.
func (s *Service) consumable(ctx context.Context, tx Store, sess Session, req SubmitRequest, employee shift.EmployeeID) ([]shift.Settlement, error) {
	requested := uniqueIDs(req.ClosingEntryIDs)
	filter := shift.SettlementFilter{IDs: requested}
	if len(requested) == 0 {
		filter = shift.SettlementFilter{
			ShiftIDs:   []shift.ShiftID{req.ShiftID},
			Date:       req.Date,
			EmployeeID: employee,
			State:      shift.SettlementOpen,
		}
	}
	entries, err := tx.ListSettlements(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, shift.NewValidationError("closing_entry_ids", "no valid closing entries found")
	}
	if len(requested) > 0 && len(entries) < len(requested) {
		return nil, shift.NewValidationError("closing_entry_ids",
			fmt.Sprintf("closing entries not found: %s", missingIDs(requested, entries)))
	}
	for _, e := range entries {
		if e.ShiftID != req.ShiftID || !e.AssignedDate.Equal(req.Date) {
			return nil, shift.NewValidationError("closing_entry_ids",
				fmt.Sprintf("closing entry %d belongs to shift %d on %s", e.ID, e.ShiftID, e.AssignedDate))
		}
		if !sess.IsAdmin && e.EmployeeID != employee {
			return nil, shift.NewValidationError("closing_entry_ids",
				fmt.Sprintf("closing entry %d belongs to another employee", e.ID))
		}
		if e.State != shift.SettlementOpen {
			return nil, &shift.InvalidStateError{Entity: "closing entry", ID: int64(e.ID), State: string(e.State), Message: "already settled"}
		}
	}
	return entries, nil
}

func uniqueIDs(ids []shift.SettlementID) []shift.SettlementID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[shift.SettlementID]bool, len(ids))
	out := make([]shift.SettlementID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func missingIDs(requested []shift.SettlementID, found []shift.Settlement) string {
	have := make(map[shift.SettlementID]bool, len(found))
	for _, e := range found {
		have[e.ID] = true
	}
	var missing []string
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, strconv.FormatInt(int64(id), 10))
		}
	}
	return strings.Join(missing, ", ")
}

// split computes the cash/bank breakdown and the persisted payment lines.
func split(req SubmitRequest, journals map[int64]Journal, expected decimal.Decimal) CashSettlement {
	bank, cash := decimal.Zero, decimal.Zero
	var cashJournal int64
	for _, l := range req.PaymentLines {
		if journals[l.JournalID].Kind == JournalCash {
			cash = cash.Add(l.Amount)
			if cashJournal == 0 {
				cashJournal = l.JournalID
			}
		} else {
			bank = bank.Add(l.Amount)
		}
	}

	remaining := decimal.Max(expected.Sub(bank), decimal.Zero)
	petty := decimal.Max(cash.Sub(remaining), decimal.Zero)
	shortage := decimal.Max(expected.Sub(bank.Add(cash)), decimal.Zero)
	shiftCash := cash.Sub(petty)

	ref := fmt.Sprintf("Shift %d | %s", req.ShiftID, req.Date)
	var lines []PaymentLine
	for _, l := range req.PaymentLines {
		if journals[l.JournalID].Kind == JournalCash {
			continue
		}
		lines = append(lines, PaymentLine{JournalID: l.JournalID, Amount: l.Amount, Kind: PaymentShift, Ref: refOr(l.Ref, ref)})
	}
	if shiftCash.IsPositive() {
		lines = append(lines, PaymentLine{JournalID: cashJournal, Amount: shiftCash, Kind: PaymentShift, Ref: ref})
	}
	if petty.IsPositive() {
		lines = append(lines, PaymentLine{JournalID: cashJournal, Amount: petty, Kind: PaymentPettyCash, Ref: ref + " | Petty Cash Adjustment"})
	}

	adj := AdjustmentNone
	switch {
	case petty.IsPositive():
		adj = AdjustmentPettyReturn
	case shortage.IsPositive():
		adj = AdjustmentShortage
	}

	return CashSettlement{
		ShiftID:         req.ShiftID,
		Date:            req.Date,
		ExpectedAmount:  expected,
		SubmittedAmount: bank.Add(cash),
		BankAmount:      bank,
		CashAmount:      cash,
		PettyCashAmount: petty,
		ShortageAmount:  shortage,
		Adjustment:      adj,
		PaymentLines:    lines,
	}
}

func refOr(ref, fallback string) string {
	if ref != "" {
		return ref
	}
	return fallback
}

func alreadySubmitted(shiftID shift.ShiftID, date shift.Date) error {
	return &shift.InvalidStateError{
		Entity:  "shift",
		ID:      int64(shiftID),
		State:   "submitted",
		Message: fmt.Sprintf("cash settlement for %s already submitted", date),
	}
}

// AlreadySubmitted builds the error stores return when the unique
// (shift, date) constraint rejects a second submission.
func AlreadySubmitted(shiftID shift.ShiftID, date shift.Date) error {
	return alreadySubmitted(shiftID, date)
}
