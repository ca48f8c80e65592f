package models

import "errors"

// ErrorClass groups errors by how callers must treat them
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassNotFound
	ClassPrecondition
	ClassConflict
)

// NotFound
var (
	ErrRequestNotFound    = errors.New("request not found")
	ErrInvestmentNotFound = errors.New("investment not found")
	ErrBalanceNotFound    = errors.New("wallet balance not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrTemplateNotFound   = errors.New("template not found")
)

// PreconditionFailed
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNotOwner             = errors.New("investment does not belong to user")
	ErrInvestmentNotActive  = errors.New("investment is not active")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidTenure        = errors.New("tenure must be a positive number of years")
	ErrInvalidRate          = errors.New("rate must be a fraction in [0, 1)")
	ErrInvalidPaymentMethod = errors.New("unknown payment method")
	ErrInvalidKind          = errors.New("unknown request kind")
	ErrDuplicateRequest     = errors.New("a pending request already references this investment")
	ErrInvalidInput         = errors.New("invalid input")
)

// ErrConflict is returned only once the transaction layer has exhausted its retries.
var ErrConflict = errors.New("concurrent update conflict")

var classes = map[error]ErrorClass{
	ErrRequestNotFound:      ClassNotFound,
	ErrInvestmentNotFound:   ClassNotFound,
	ErrBalanceNotFound:      ClassNotFound,
	ErrUserNotFound:         ClassNotFound,
	ErrTemplateNotFound:     ClassNotFound,
	ErrInsufficientBalance:  ClassPrecondition,
	ErrNotOwner:             ClassPrecondition,
	ErrInvestmentNotActive:  ClassPrecondition,
	ErrInvalidAmount:        ClassPrecondition,
	ErrInvalidTenure:        ClassPrecondition,
	ErrInvalidRate:          ClassPrecondition,
	ErrInvalidPaymentMethod: ClassPrecondition,
	ErrInvalidKind:          ClassPrecondition,
	ErrDuplicateRequest:     ClassPrecondition,
	ErrInvalidInput:         ClassPrecondition,
	ErrConflict:             ClassConflict,
}

// Classify maps a possibly wrapped error to its class
func Classify(err error) ErrorClass {
	for sentinel, class := range classes {
		if errors.Is(err, sentinel) {
			return class
		}
	}
	return ClassUnknown
}
