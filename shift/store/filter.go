package store

import (
	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/shift"
)

func matchSettlement(s shift.Settlement, f shift.SettlementFilter) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, s.ID) {
		return false
	}
	if !f.Date.IsZero() && !s.AssignedDate.Equal(f.Date) {
		return false
	}
	if len(f.ShiftIDs) > 0 && !contains(f.ShiftIDs, s.ShiftID) {
		return false
	}
	if len(f.PumpIDs) > 0 && !contains(f.PumpIDs, s.PumpID) {
		return false
	}
	if len(f.NozzleIDs) > 0 && !contains(f.NozzleIDs, s.NozzleID) {
		return false
	}
	if f.EmployeeID != 0 && s.EmployeeID != f.EmployeeID {
		return false
	}
	if f.State != "" && s.State != f.State {
		return false
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func decimalValid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
