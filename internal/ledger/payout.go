package ledger

import (
	"time"

	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/shopspring/decimal"
)

// Payout breaks down what an investment pays back into the wallet
type Payout struct {
	Rate           decimal.Decimal `json:"rate"`
	Interest       decimal.Decimal `json:"interest"`
	Total          decimal.Decimal `json:"total"`
	DaysSinceStart int             `json:"days_since_start"`
	DaysToMaturity int             `json:"days_to_maturity"`
}

// EarlyWithdrawal computes the payout of an FD withdrawn on today. The rate
// loses one percentage point unless today is within the penalty-free window.
// Interest stops accruing at the maturity date.
func EarlyWithdrawal(inv models.Investment, today time.Time, loc *time.Location) Payout {
	toMaturity := DaysBetween(today, inv.MaturityDate, loc)
	sinceStart := min(DaysBetween(inv.StartDate, today, loc), DaysBetween(inv.StartDate, inv.MaturityDate, loc))
	rate := PenaltyRate(inv.InterestRate, toMaturity)
	interest := Round2(Accrue(inv.Principal, rate, sinceStart))
	return Payout{
		Rate:           rate,
		Interest:       interest,
		Total:          inv.Principal.Add(interest),
		DaysSinceStart: sinceStart,
		DaysToMaturity: toMaturity,
	}
}

// Maturity computes the payout of an FD that ran its full tenure at the
// contracted rate.
func Maturity(inv models.Investment, loc *time.Location) Payout {
	tenureDays := DaysBetween(inv.StartDate, inv.MaturityDate, loc)
	interest := Round2(Accrue(inv.Principal, inv.InterestRate, tenureDays))
	return Payout{
		Rate:           inv.InterestRate,
		Interest:       interest,
		Total:          inv.Principal.Add(interest),
		DaysSinceStart: tenureDays,
	}
}

// MaturityDate is start plus the tenure in calendar years
func MaturityDate(start time.Time, tenureYears int) time.Time {
	return start.AddDate(tenureYears, 0, 0)
}

// IsOverdue reports whether today is strictly past the maturity date
func IsOverdue(inv models.Investment, today time.Time, loc *time.Location) bool {
	return DaysBetween(inv.MaturityDate, today, loc) > 0
}
