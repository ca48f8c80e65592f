package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// InvestmentInput is what a user submits to open an FD
type InvestmentInput struct {
	Amount        decimal.Decimal      `json:"amount"`
	TenureYears   int                  `json:"tenure_years" validate:"gt=0,lte=50"`
	PaymentMethod models.PaymentMethod `json:"payment_method" validate:"required,oneof=balance external"`
}

// CreateInvestmentRequest files a pending FD purchase
func (s *Service) CreateInvestmentRequest(ctx context.Context, userID string, in InvestmentInput) (*models.Request, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	req := s.newRequest(models.KindInvestment, userID, in.Amount)
	req.TenureYears = in.TenureYears
	req.PaymentMethod = in.PaymentMethod
	return s.insertRequest(ctx, req)
}

// CreateTopupRequest files a pending wallet top-up
func (s *Service) CreateTopupRequest(ctx context.Context, userID string, amount decimal.Decimal) (*models.Request, error) {
	return s.insertRequest(ctx, s.newRequest(models.KindTopup, userID, amount))
}

// CreateBalanceWithdrawalRequest files a pending wallet withdrawal. The balance
// is checked at approval time, not here.
func (s *Service) CreateBalanceWithdrawalRequest(ctx context.Context, userID string, amount decimal.Decimal) (*models.Request, error) {
	return s.insertRequest(ctx, s.newRequest(models.KindBalanceWithdrawal, userID, amount))
}

// CreateFDWithdrawalRequest files a pending early withdrawal of an active FD
// owned by userID.
func (s *Service) CreateFDWithdrawalRequest(ctx context.Context, userID, investmentID string) (*models.Request, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}

	var req *models.Request
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvestment(ctx, investmentID)
		if err != nil {
			return err
		}
		if inv.UserID != userID {
			return models.ErrNotOwner
		}
		if !inv.IsActive() {
			return models.ErrInvestmentNotActive
		}
		existing, err := tx.FindRequestByInvestment(ctx, models.KindFDWithdrawal, investmentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.ErrDuplicateRequest
		}

		req = s.newRequest(models.KindFDWithdrawal, userID, inv.Principal)
		req.InvestmentID = inv.ID
		return tx.InsertRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fd withdrawal request: %w", err)
	}
	s.logCreated(req)
	return req, nil
}

// Reject deletes a pending user-initiated request without touching the
// ledger. A request that is already gone reports ErrRequestNotFound and
// changes nothing.
func (s *Service) Reject(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	if !kind.UserInitiated() {
		return nil, models.ErrInvalidKind
	}

	var req *models.Request
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, kind, id)
		if err != nil {
			return err
		}
		deleted, err := tx.DeleteRequest(ctx, kind, id)
		if err != nil {
			return err
		}
		if !deleted {
			return models.ErrRequestNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reject %s request %s: %w", kind, id, err)
	}

	metrics.RequestsResolved.WithLabelValues(string(kind), "rejected").Inc()
	s.log.WithFields(logrus.Fields{
		"kind":       kind,
		"request_id": id,
		"user_id":    req.UserID,
	}).Info("request rejected")
	return req, nil
}

func (s *Service) newRequest(kind models.RequestKind, userID string, amount decimal.Decimal) *models.Request {
	return &models.Request{
		ID:     newID(),
		Kind:   kind,
		UserID: userID,
		Amount: amount,
		Date:   s.now(),
		Status: models.RequestPending,
	}
}

func (s *Service) insertRequest(ctx context.Context, req *models.Request) (*models.Request, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", req.Kind, err)
	}
	s.logCreated(req)
	return req, nil
}

func (s *Service) logCreated(req *models.Request) {
	metrics.RequestsCreated.WithLabelValues(string(req.Kind)).Inc()
	s.log.WithFields(logrus.Fields{
		"kind":       req.Kind,
		"request_id": req.ID,
		"user_id":    req.UserID,
		"amount":     req.Amount.String(),
	}).Info("request created")
}

func (s *Service) validateInput(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "TenureYears":
			return models.ErrInvalidTenure
		case "PaymentMethod":
			return models.ErrInvalidPaymentMethod
		}
	}
	return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
}
