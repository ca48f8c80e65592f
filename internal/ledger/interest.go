// Package ledger holds the pure money calculations of the deposit ledger:
// accrual, early-withdrawal penalties, maturity payouts, monthly wallet
// interest and historical balance reconstruction. Nothing here touches storage.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyFreeDays is the window before maturity in which an early withdrawal
// keeps the contracted rate.
const PenaltyFreeDays = 7

var (
	daysInYear     = decimal.NewFromInt(365)
	monthsPercent  = decimal.NewFromInt(12 * 100)
	penaltyHaircut = decimal.RequireFromString("0.01")
)

// Accrue returns principal × (annualRate/365) × days at full precision.
// Non-positive day counts accrue nothing.
func Accrue(principal, annualRate decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return principal.Mul(annualRate).Mul(decimal.NewFromInt(int64(days))).Div(daysInYear)
}

// PenaltyRate returns the effective annual rate for an early withdrawal made
// daysToMaturity days before maturity.
func PenaltyRate(contractedRate decimal.Decimal, daysToMaturity int) decimal.Decimal {
	if daysToMaturity <= PenaltyFreeDays {
		return contractedRate
	}
	return decimal.Max(decimal.Zero, contractedRate.Sub(penaltyHaircut))
}

// MonthlyInterest returns round2(basis × annualPercent/12/100). A
// non-positive basis earns nothing.
func MonthlyInterest(basis, annualPercent decimal.Decimal) decimal.Decimal {
	if !basis.IsPositive() || !annualPercent.IsPositive() {
		return decimal.Zero
	}
	return Round2(basis.Mul(annualPercent).Div(monthsPercent))
}

// Round2 rounds half away from zero to two decimal places
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// DaysBetween counts calendar days from from to to as seen in loc. Time of
// day is ignored, so 23:59 to 00:01 the next day is one day.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return int(dateOf(to, loc).Sub(dateOf(from, loc)).Hours() / 24)
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
