package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a balance movement
type Direction string

const (
	Credit Direction = "Credit"
	Debit  Direction = "Debit"
)

// History descriptions that double as semantic tags
const (
	TopupTag             = "Added to wallet"
	BalanceWithdrawalTag = "Withdrawn from wallet"
	MonthlyInterestTag   = "Monthly Interest"
)

// WalletBalance is the liquid balance of a single user
type WalletBalance struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BalanceHistoryEntry is an immutable audit record of one balance mutation
type BalanceHistoryEntry struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`
}

// Signed returns the amount with the sign of its direction
func (e BalanceHistoryEntry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// InterestPayout records one monthly interest credit
type InterestPayout struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
	Basis      decimal.Decimal `json:"basis"`
	PaidAt     time.Time       `json:"paid_at"`
}
