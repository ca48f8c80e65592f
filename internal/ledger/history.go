package ledger

import (
	"time"

	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/shopspring/decimal"
)

// BalanceAt reconstructs the balance as it stood at since by undoing, from
// current, every entry dated after since: credits are subtracted and debits
// added back.
func BalanceAt(current decimal.Decimal, entries []models.BalanceHistoryEntry, since time.Time) decimal.Decimal {
	balance := current
	for _, e := range entries {
		if !e.Date.After(since) {
			continue
		}
		balance = balance.Sub(e.Signed())
	}
	return balance
}

// Net sums credits minus debits
func Net(entries []models.BalanceHistoryEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Signed())
	}
	return total
}

// OneMonthBefore returns the same wall-clock instant one calendar month earlier
func OneMonthBefore(t time.Time) time.Time {
	return t.AddDate(0, -1, 0)
}
