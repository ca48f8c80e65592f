package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentStatus is the lifecycle state of a fixed deposit
type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "Active"
	InvestmentMatured   InvestmentStatus = "Matured"
	InvestmentWithdrawn InvestmentStatus = "Withdrawn"
)

// Investment represents a fixed deposit
type Investment struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Principal    decimal.Decimal  `json:"principal"`
	InterestRate decimal.Decimal  `json:"interest_rate"`
	TenureYears  int              `json:"tenure_years"`
	StartDate    time.Time        `json:"start_date"`
	MaturityDate time.Time        `json:"maturity_date"`
	Status       InvestmentStatus `json:"status"`
}

// Name is the human label used in history entries
func (i Investment) Name() string {
	return fmt.Sprintf("%d-year FD of %s", i.TenureYears, i.Principal.StringFixed(2))
}

// IsActive reports whether the deposit can still be withdrawn or matured
func (i Investment) IsActive() bool {
	return i.Status == InvestmentActive
}
