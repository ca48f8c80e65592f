package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Persisted collection names
const (
	CollectionUsers                     = "users"
	CollectionUserBalances              = "userBalances"
	CollectionInvestments               = "investments"
	CollectionInvestmentRequests        = "investmentRequests"
	CollectionFDWithdrawalRequests      = "fdWithdrawalRequests"
	CollectionMaturedFDRequests         = "maturedFdRequests"
	CollectionTopupRequests             = "topupRequests"
	CollectionBalanceWithdrawalRequests = "balanceWithdrawalRequests"
	CollectionBalanceHistory            = "balanceHistory"
	CollectionInterestPayouts           = "interestPayouts"
	CollectionTemplates                 = "templates"
	CollectionSettings                  = "settings"
)

// RateTable maps FD tenure in years to an annual rate fraction
type RateTable map[int]decimal.Decimal

// DefaultRateTable is used when no settings document exists
func DefaultRateTable() RateTable {
	return RateTable{
		1: decimal.RequireFromString("0.08"),
		2: decimal.RequireFromString("0.08"),
		3: decimal.RequireFromString("0.085"),
		4: decimal.RequireFromString("0.085"),
		5: decimal.RequireFromString("0.09"),
	}
}

// Rate resolves the rate for a tenure, falling back to def when unmapped
func (t RateTable) Rate(tenureYears int, def decimal.Decimal) decimal.Decimal {
	if r, ok := t[tenureYears]; ok {
		return r
	}
	return def
}

// Tenures returns the configured tenures in ascending order
func (t RateTable) Tenures() []int {
	out := make([]int, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Validate checks tenures are positive and rates are fractions in [0, 1)
func (t RateTable) Validate() error {
	one := decimal.NewFromInt(1)
	for tenure, rate := range t {
		if tenure <= 0 {
			return ErrInvalidTenure
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
			return ErrInvalidRate
		}
	}
	return nil
}

// Template is a notification message template keyed by event
type Template struct {
	Key     string `json:"key"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
