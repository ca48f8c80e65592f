package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/deposit-service/internal/ledger"
	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// denial marks a precondition failure that is decisive: the request is
// deleted, nothing else is written, and the reason goes back to the caller.
type denial struct {
	reason error
}

func (d *denial) Error() string { return d.reason.Error() }

func deny(reason error) error { return &denial{reason: reason} }

// Approval is the outcome of a successful approval, handed back so the caller
// can notify the user.
type Approval struct {
	Request    models.Request     `json:"request"`
	Investment *models.Investment `json:"investment,omitempty"`
	Payout     *ledger.Payout     `json:"payout,omitempty"`
	Balance    *decimal.Decimal   `json:"balance,omitempty"`
}

type approveFunc func(ctx context.Context, tx Tx, req *models.Request, now time.Time, out *Approval) error

// Approve runs the transactional operation matching kind for request id.
func (s *Service) Approve(ctx context.Context, kind models.RequestKind, id string) (*Approval, error) {
	switch kind {
	case models.KindInvestment:
		return s.ApproveInvestment(ctx, id)
	case models.KindFDWithdrawal:
		return s.ApproveFDWithdrawal(ctx, id)
	case models.KindMaturedFD:
		return s.ApproveMaturedFD(ctx, id)
	case models.KindTopup:
		return s.ApproveTopup(ctx, id)
	case models.KindBalanceWithdrawal:
		return s.ApproveBalanceWithdrawal(ctx, id)
	}
	return nil, models.ErrInvalidKind
}

// ApproveInvestment opens the FD described by the request, debiting the
// wallet first when it is paid from balance.
func (s *Service) ApproveInvestment(ctx context.Context, id string) (*Approval, error) {
	return s.approve(ctx, models.KindInvestment, id, func(ctx context.Context, tx Tx, req *models.Request, now time.Time, out *Approval) error {
		table, ok, err := tx.GetRateTable(ctx)
		if err != nil {
			return err
		}
		if !ok {
			table = models.DefaultRateTable()
		}

		inv := &models.Investment{
			ID:           newID(),
			UserID:       req.UserID,
			Principal:    req.Amount,
			InterestRate: table.Rate(req.TenureYears, s.config.DefaultFDRate),
			TenureYears:  req.TenureYears,
			StartDate:    now,
			MaturityDate: ledger.MaturityDate(now, req.TenureYears),
			Status:       models.InvestmentActive,
		}

		if req.PaymentMethod == models.PayFromBalance {
			balance, err := tx.GetBalance(ctx, req.UserID)
			if errors.Is(err, models.ErrBalanceNotFound) {
				return deny(models.ErrInsufficientBalance)
			}
			if err != nil {
				return err
			}
			if balance.Balance.LessThan(req.Amount) {
				return deny(models.ErrInsufficientBalance)
			}
			desc := fmt.Sprintf("Invested in %d-year FD", req.TenureYears)
			if err := s.move(ctx, tx, balance, req.Amount, models.Debit, desc, now); err != nil {
				return err
			}
			out.Balance = &balance.Balance
		}

		if err := tx.InsertInvestment(ctx, inv); err != nil {
			return err
		}
		out.Investment = inv
		return nil
	})
}

// ApproveFDWithdrawal pays out an active FD before maturity, applying the
// early-withdrawal rate haircut outside the penalty-free window.
func (s *Service) ApproveFDWithdrawal(ctx context.Context, id string) (*Approval, error) {
	return s.approve(ctx, models.KindFDWithdrawal, id, func(ctx context.Context, tx Tx, req *models.Request, now time.Time, out *Approval) error {
		inv, err := tx.GetInvestment(ctx, req.InvestmentID)
		if err != nil {
			return err
		}
		if inv.UserID != req.UserID {
			return deny(models.ErrNotOwner)
		}
		if !inv.IsActive() {
			return deny(models.ErrInvestmentNotActive)
		}
		balance, err := tx.GetBalance(ctx, inv.UserID)
		if err != nil {
			return err
		}

		payout := ledger.EarlyWithdrawal(*inv, now, s.location())
		if err := s.move(ctx, tx, balance, payout.Total, models.Credit, "Early withdrawal from "+inv.Name(), now); err != nil {
			return err
		}
		if err := tx.SetInvestmentStatus(ctx, inv.ID, models.InvestmentWithdrawn); err != nil {
			return err
		}

		inv.Status = models.InvestmentWithdrawn
		out.Investment = inv
		out.Payout = &payout
		out.Balance = &balance.Balance
		return nil
	})
}

// ApproveMaturedFD pays out an FD that ran its full tenure
func (s *Service) ApproveMaturedFD(ctx context.Context, id string) (*Approval, error) {
	return s.approve(ctx, models.KindMaturedFD, id, func(ctx context.Context, tx Tx, req *models.Request, now time.Time, out *Approval) error {
		inv, err := tx.GetInvestment(ctx, req.InvestmentID)
		if err != nil {
			return err
		}
		if !inv.IsActive() {
			return deny(models.ErrInvestmentNotActive)
		}
		balance, err := s.balanceOrZero(ctx, tx, inv.UserID, now)
		if err != nil {
			return err
		}

		payout := ledger.Maturity(*inv, s.location())
		if err := s.move(ctx, tx, balance, payout.Total, models.Credit, "FD Matured: "+inv.Name(), now); err != nil {
			return err
		}
		if err := tx.SetInvestmentStatus(ctx, inv.ID, models.InvestmentMatured); err != nil {
			return err
		}

		inv.Status = models.InvestmentMatured
		out.Investment = inv
		out.Payout = &payout
		out.Balance = &balance.Balance
		return nil
	})
}

// ApproveTopup credits the wallet, opening it if the user has none yet
func (s *Service) ApproveTopup(ctx context.Context, id string) (*Approval, error) {
	return s.approve(ctx, models.KindTopup, id, func(ctx context.Context, tx Tx, req *models.Request, now time.Time, out *Approval) error {
		balance, err := s.balanceOrZero(ctx, tx, req.UserID, now)
		if err != nil {
			return err
		}
		if err := s.move(ctx, tx, balance, req.Amount, models.Credit, models.TopupTag, now); err != nil {
			return err
		}
		out.Balance = &balance.Balance
		return nil
	})
}

// ApproveBalanceWithdrawal debits the wallet
func (s *Service) ApproveBalanceWithdrawal(ctx context.Context, id string) (*Approval, error) {
	return s.approve(ctx, models.KindBalanceWithdrawal, id, func(ctx context.Context, tx Tx, req *models.Request, now time.Time, out *Approval) error {
		balance, err := tx.GetBalance(ctx, req.UserID)
		if errors.Is(err, models.ErrBalanceNotFound) {
			return deny(models.ErrInsufficientBalance)
		}
		if err != nil {
			return err
		}
		if balance.Balance.LessThan(req.Amount) {
			return deny(models.ErrInsufficientBalance)
		}
		if err := s.move(ctx, tx, balance, req.Amount, models.Debit, models.BalanceWithdrawalTag, now); err != nil {
			return err
		}
		out.Balance = &balance.Balance
		return nil
	})
}

// approve reads the request, runs op and deletes the request, all in one
// transaction. A denial from op commits the deletion alone.
func (s *Service) approve(ctx context.Context, kind models.RequestKind, id string, op approveFunc) (*Approval, error) {
	var (
		result *Approval
		denied error
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		result, denied = nil, nil

		req, err := tx.GetRequest(ctx, kind, id)
		if err != nil {
			return err
		}
		out := &Approval{Request: *req}
		if err := op(ctx, tx, req, s.now(), out); err != nil {
			var d *denial
			if !errors.As(err, &d) {
				return err
			}
			denied = d.reason
		}

		deleted, err := tx.DeleteRequest(ctx, kind, id)
		if err != nil {
			return err
		}
		if !deleted {
			return models.ErrRequestNotFound
		}
		if denied == nil {
			result = out
		}
		return nil
	})

	fields := logrus.Fields{"kind": kind, "request_id": id}
	switch {
	case err != nil:
		metrics.RequestsResolved.WithLabelValues(string(kind), "failed").Inc()
		s.log.WithFields(fields).WithError(err).Warn("approval aborted")
		return nil, fmt.Errorf("failed to approve %s request %s: %w", kind, id, err)
	case denied != nil:
		metrics.RequestsResolved.WithLabelValues(string(kind), "denied").Inc()
		s.log.WithFields(fields).WithError(denied).Warn("approval denied, request removed")
		return nil, denied
	}

	metrics.RequestsResolved.WithLabelValues(string(kind), "approved").Inc()
	fields["user_id"] = result.Request.UserID
	fields["amount"] = result.Request.Amount.String()
	s.log.WithFields(fields).Info("request approved")
	return result, nil
}

// move applies one balance mutation and its history entry
func (s *Service) move(ctx context.Context, tx Tx, balance *models.WalletBalance, amount decimal.Decimal, dir models.Direction, desc string, now time.Time) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	next := balance.Balance.Add(amount)
	if dir == models.Debit {
		next = balance.Balance.Sub(amount)
	}
	if next.IsNegative() {
		return models.ErrInsufficientBalance
	}

	balance.Balance = next
	balance.UpdatedAt = now
	if err := tx.PutBalance(ctx, balance); err != nil {
		return err
	}
	return tx.AppendHistory(ctx, &models.BalanceHistoryEntry{
		ID:          newID(),
		UserID:      balance.UserID,
		Date:        now,
		Description: desc,
		Amount:      amount,
		Direction:   dir,
	})
}

func (s *Service) balanceOrZero(ctx context.Context, tx Tx, userID string, now time.Time) (*models.WalletBalance, error) {
	balance, err := tx.GetBalance(ctx, userID)
	if errors.Is(err, models.ErrBalanceNotFound) {
		return &models.WalletBalance{UserID: userID, Balance: decimal.Zero, UpdatedAt: now}, nil
	}
	return balance, err
}
