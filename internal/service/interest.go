package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/deposit-service/internal/ledger"
	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var maxAnnualPercent = decimal.NewFromInt(100)

// InterestRun summarizes one pay-interest-to-all batch
type InterestRun struct {
	AnnualRate decimal.Decimal         `json:"annual_rate"`
	Payouts    []models.InterestPayout `json:"payouts"`
	Total      decimal.Decimal         `json:"total"`
	Excluded   int                     `json:"excluded"`
	Skipped    int                     `json:"skipped"`
}

// PayInterestToAll credits monthly interest to every positive wallet. The
// basis is each balance as it stood one calendar month ago, rebuilt from the
// history. All credits commit together or not at all.
func (s *Service) PayInterestToAll(ctx context.Context, annualPercent decimal.Decimal) (*InterestRun, error) {
	if !annualPercent.IsPositive() || annualPercent.GreaterThan(maxAnnualPercent) {
		return nil, fmt.Errorf("%w: annual rate must be in (0, 100] percent", models.ErrInvalidRate)
	}

	var run *InterestRun
	err := s.store.InTx(ctx, func(tx Tx) error {
		run = &InterestRun{AnnualRate: annualPercent, Total: decimal.Zero}
		now := s.now()
		since := ledger.OneMonthBefore(now)

		excludedIDs, err := tx.ListExcluded(ctx)
		if err != nil {
			return err
		}
		excluded := make(map[string]bool, len(excludedIDs))
		for _, id := range excludedIDs {
			excluded[id] = true
		}

		balances, err := tx.ListBalances(ctx, true)
		if err != nil {
			return err
		}
		for i := range balances {
			balance := &balances[i]
			if excluded[balance.UserID] {
				run.Excluded++
				continue
			}

			recent, err := tx.ListHistory(ctx, balance.UserID, since)
			if err != nil {
				return err
			}
			basis := ledger.BalanceAt(balance.Balance, recent, since)
			interest := ledger.MonthlyInterest(basis, annualPercent)
			if !interest.IsPositive() {
				run.Skipped++
				continue
			}

			if err := s.move(ctx, tx, balance, interest, models.Credit, models.MonthlyInterestTag, now); err != nil {
				return err
			}
			payout := models.InterestPayout{
				ID:         newID(),
				UserID:     balance.UserID,
				Amount:     interest,
				AnnualRate: annualPercent,
				Basis:      basis,
				PaidAt:     now,
			}
			if err := tx.AppendInterestPayout(ctx, &payout); err != nil {
				return err
			}
			run.Payouts = append(run.Payouts, payout)
			run.Total = run.Total.Add(interest)
		}
		return nil
	})
	if err != nil {
		metrics.InterestRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to pay interest: %w", err)
	}

	metrics.InterestRuns.WithLabelValues("succeeded").Inc()
	total, _ := run.Total.Float64()
	metrics.InterestPaid.Add(total)
	s.log.WithFields(logrus.Fields{
		"annual_rate": annualPercent.String(),
		"paid":        len(run.Payouts),
		"total":       run.Total.String(),
		"excluded":    run.Excluded,
		"skipped":     run.Skipped,
	}).Info("interest paid")
	return run, nil
}

// ResolveInterestRate picks the annual percent for an interest run: the
// requested rate if given, then the configured rate, then the reference key
// rate less the deposit margin.
func (s *Service) ResolveInterestRate(ctx context.Context, requested decimal.Decimal) (decimal.Decimal, error) {
	if requested.IsPositive() {
		return requested, nil
	}
	if s.config.InterestAnnualRate.IsPositive() {
		return s.config.InterestAnnualRate, nil
	}
	if s.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: no annual rate given and no reference rate source configured", models.ErrInvalidRate)
	}
	key, err := s.rates.GetKeyRate(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get reference rate: %w", err)
	}
	rate := decimal.NewFromFloat(key).Sub(s.config.DepositRateMargin).Round(2)
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: reference rate %.2f leaves no deposit rate after margin", models.ErrInvalidRate, key)
	}
	return rate, nil
}

// ExcludeFromInterest adds or removes a user from the interest exclusion set
func (s *Service) ExcludeFromInterest(ctx context.Context, userID string, excluded bool) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.SetExcluded(ctx, userID, excluded)
	})
	if err != nil {
		return fmt.Errorf("failed to update interest exclusion: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "excluded": excluded}).Info("interest exclusion updated")
	return nil
}

// ListInterestExclusions returns the excluded user IDs
func (s *Service) ListInterestExclusions(ctx context.Context) ([]string, error) {
	var out []string
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListExcluded(ctx)
		return err
	})
	return out, err
}
