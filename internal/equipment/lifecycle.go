package equipment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

var (
	daysPerYear = decimal.RequireFromString("365.25")
	hundred     = decimal.NewFromInt(100)
)

// AddMonthsClamped adds months to a calendar date, clamping the day to the
// last day of the target month (Jan 31 + 1 month is Feb 28 or Feb 29).
func AddMonthsClamped(date time.Time, months int) time.Time {
	y, m, d := shared.DateOf(date).Date()
	total := int(m) - 1 + months
	year := y + total/12
	month := total % 12
	if month < 0 {
		month += 12
		year--
	}
	target := time.Month(month + 1)
	if last := daysIn(year, target); d > last {
		d = last
	}
	return time.Date(year, target, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddDays shifts a calendar date by n days.
func AddDays(date time.Time, n int) time.Time {
	return shared.DateOf(date).AddDate(0, 0, n)
}

// WarrantyEnd computes the end date for a start and period. It returns nil
// when either is missing.
func WarrantyEnd(start *time.Time, months int) *time.Time {
	if start == nil || months <= 0 {
		return nil
	}
	end := AddMonthsClamped(*start, months)
	return &end
}

// NextMaintenanceDate derives the next service date for e. An explicit date
// wins; otherwise it counts frequency days from the last service, or from
// purchase when the asset was never serviced.
func NextMaintenanceDate(e Equipment) *time.Time {
	if e.NextMaintenanceDate != nil {
		next := shared.DateOf(*e.NextMaintenanceDate)
		return &next
	}
	if e.MaintenanceFrequencyDays <= 0 {
		return nil
	}
	base := e.PurchaseDate
	if e.LastMaintenanceDate != nil {
		base = *e.LastMaintenanceDate
	}
	if base.IsZero() {
		return nil
	}
	next := AddDays(base, e.MaintenanceFrequencyDays)
	return &next
}

// CurrentValue applies straight-line depreciation from the original purchase
// price. Elapsed years are fractional (days / 365.25) and the result never
// drops below zero.
func CurrentValue(e Equipment, asOf time.Time) decimal.Decimal {
	if e.PurchasePrice.IsZero() || e.PurchaseDate.IsZero() {
		return e.PurchasePrice.Round(2)
	}
	days := shared.DaysBetween(e.PurchaseDate, asOf)
	if days <= 0 || !e.DepreciationRate.IsPositive() {
		return e.PurchasePrice.Round(2)
	}
	years := decimal.NewFromInt(int64(days)).Div(daysPerYear)
	depreciation := e.PurchasePrice.Mul(e.DepreciationRate).Div(hundred).Mul(years)
	value := e.PurchasePrice.Sub(depreciation)
	if value.IsNegative() {
		return decimal.Zero
	}
	return value.Round(2)
}

// WarrantyDaysRemaining returns the days until warranty end. ok is false when
// the asset carries no warranty end date.
func WarrantyDaysRemaining(e Equipment, today time.Time) (days int, ok bool) {
	if e.WarrantyEndDate == nil {
		return 0, false
	}
	return shared.DaysBetween(today, *e.WarrantyEndDate), true
}

// IsWarrantyValid reports whether today falls on or before the warranty end.
func IsWarrantyValid(e Equipment, today time.Time) bool {
	days, ok := WarrantyDaysRemaining(e, today)
	return ok && days >= 0
}

// MaintenanceDaysUntil returns days until the next service, negative when overdue.
func MaintenanceDaysUntil(e Equipment, today time.Time) (days int, ok bool) {
	if e.NextMaintenanceDate == nil {
		return 0, false
	}
	return shared.DaysBetween(today, *e.NextMaintenanceDate), true
}

// MaintenanceOverdueDays returns how many days service is overdue, zero if not.
func MaintenanceOverdueDays(e Equipment, today time.Time) int {
	days, ok := MaintenanceDaysUntil(e, today)
	if !ok || days >= 0 {
		return 0
	}
	return -days
}

// Recompute refreshes derived dates before a save. previous is the stored
// state, nil on intake. The warranty end is rebuilt when the start or period
// changed or no end is present, and dropped when an edit removes the start or
// period without setting an end of its own. The next service date is derived
// only when absent.
func (e *Equipment) Recompute(previous *Equipment) {
	switch {
	case hasWarrantyTerms(*e):
		changed := previous == nil ||
			!sameDate(previous.WarrantyStartDate, e.WarrantyStartDate) ||
			previous.WarrantyPeriodMonths != e.WarrantyPeriodMonths
		if changed || e.WarrantyEndDate == nil {
			e.WarrantyEndDate = WarrantyEnd(e.WarrantyStartDate, e.WarrantyPeriodMonths)
		}
	case previous != nil && hasWarrantyTerms(*previous) && sameDate(previous.WarrantyEndDate, e.WarrantyEndDate):
		e.WarrantyEndDate = nil
	}
	e.NextMaintenanceDate = NextMaintenanceDate(*e)
}

func hasWarrantyTerms(e Equipment) bool {
	return e.WarrantyStartDate != nil && e.WarrantyPeriodMonths > 0
}

// Valuate builds the valuation snapshot for today.
func Valuate(e Equipment, today time.Time) Valuation {
	v := Valuation{
		EquipmentID:        e.ID,
		AsOf:               shared.DateOf(today),
		PurchasePrice:      e.PurchasePrice,
		CurrentValue:       CurrentValue(e, today),
		WarrantyValid:      IsWarrantyValid(e, today),
		MaintenanceOverdue: MaintenanceOverdueDays(e, today),
	}
	if days, ok := WarrantyDaysRemaining(e, today); ok {
		v.WarrantyDaysRemaining = &days
	}
	if days, ok := MaintenanceDaysUntil(e, today); ok {
		v.MaintenanceDaysUntil = &days
	}
	return v
}

func sameDate(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	}
	return shared.DateOf(*a).Equal(shared.DateOf(*b))
}

// datesChanged reports whether fields the alert rules read differ.
func datesChanged(before, after Equipment) bool {
	return !sameDate(before.NextMaintenanceDate, after.NextMaintenanceDate) ||
		!sameDate(before.WarrantyEndDate, after.WarrantyEndDate) ||
		(before.Status == StatusDisposed) != (after.Status == StatusDisposed) ||
		before.IsActive != after.IsActive
}
