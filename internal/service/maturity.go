package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/deposit-service/internal/ledger"
	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/sirupsen/logrus"
)

// SweepMatured files a matured-fd request for every active investment past
// its maturity date that does not have one yet. Repeated or concurrent sweeps
// create at most one request per investment.
func (s *Service) SweepMatured(ctx context.Context) ([]models.Request, error) {
	var created []models.Request
	err := s.store.InTx(ctx, func(tx Tx) error {
		created = nil
		now := s.now()

		active, err := tx.ListActiveInvestments(ctx)
		if err != nil {
			return err
		}
		for _, inv := range active {
			if !ledger.IsOverdue(inv, now, s.location()) {
				continue
			}
			existing, err := tx.FindRequestByInvestment(ctx, models.KindMaturedFD, inv.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}

			req := s.newRequest(models.KindMaturedFD, inv.UserID, inv.Principal)
			req.InvestmentID = inv.ID
			err = tx.InsertRequest(ctx, req)
			if errors.Is(err, models.ErrDuplicateRequest) {
				continue
			}
			if err != nil {
				return err
			}
			created = append(created, *req)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sweep matured investments: %w", err)
	}

	metrics.MaturedRequestsCreated.Add(float64(len(created)))
	s.log.WithFields(logrus.Fields{"created": len(created)}).Info("maturity sweep finished")
	return created, nil
}
