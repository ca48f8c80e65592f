package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestKind selects the request collection
type RequestKind string

const (
	KindInvestment        RequestKind = "investment"
	KindFDWithdrawal      RequestKind = "fd-withdrawal"
	KindMaturedFD         RequestKind = "matured-fd"
	KindTopup             RequestKind = "topup"
	KindBalanceWithdrawal RequestKind = "balance-withdrawal"
)

// RequestKinds lists every kind in a stable order
var RequestKinds = []RequestKind{
	KindInvestment,
	KindFDWithdrawal,
	KindMaturedFD,
	KindTopup,
	KindBalanceWithdrawal,
}

// Valid reports whether k is a known kind
func (k RequestKind) Valid() bool {
	for _, known := range RequestKinds {
		if k == known {
			return true
		}
	}
	return false
}

// UserInitiated reports whether users may create or have rejected requests of this kind
func (k RequestKind) UserInitiated() bool {
	return k.Valid() && k != KindMaturedFD
}

// Collection is the persisted collection name of the kind
func (k RequestKind) Collection() string {
	switch k {
	case KindInvestment:
		return CollectionInvestmentRequests
	case KindFDWithdrawal:
		return CollectionFDWithdrawalRequests
	case KindMaturedFD:
		return CollectionMaturedFDRequests
	case KindTopup:
		return CollectionTopupRequests
	case KindBalanceWithdrawal:
		return CollectionBalanceWithdrawalRequests
	}
	return ""
}

// RequestPending is the only persisted status; the row existing is the pending state.
const RequestPending = "Pending"

// PaymentMethod of an investment request
type PaymentMethod string

const (
	PayFromBalance PaymentMethod = "balance"
	PayExternal    PaymentMethod = "external"
)

// Request is a pending intent to mutate the ledger. Variant fields are set
// according to Kind.
type Request struct {
	ID     string          `json:"id"`
	Kind   RequestKind     `json:"kind"`
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	Status string          `json:"status"`

	// investment
	TenureYears   int           `json:"tenure_years,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`

	// fd-withdrawal, matured-fd
	InvestmentID string `json:"investment_id,omitempty"`

	// filled by listings, never persisted on the request row
	UserName string `json:"user_name,omitempty"`
}
