package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/sirupsen/logrus"
)

// GetRates returns the tenure to rate table, or the defaults when unset
func (s *Service) GetRates(ctx context.Context) (models.RateTable, error) {
	var table models.RateTable
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, ok, err := tx.GetRateTable(ctx)
		if err != nil {
			return err
		}
		if !ok {
			t = models.DefaultRateTable()
		}
		table = t
		return nil
	})
	return table, err
}

// SetRates replaces the tenure to rate table. Existing investments keep the
// rate they were opened with.
func (s *Service) SetRates(ctx context.Context, table models.RateTable) error {
	if len(table) == 0 {
		return fmt.Errorf("%w: rate table is empty", models.ErrInvalidInput)
	}
	if err := table.Validate(); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.PutRateTable(ctx, table)
	})
	if err != nil {
		return fmt.Errorf("failed to save rates: %w", err)
	}
	s.log.WithFields(logrus.Fields{"tenures": table.Tenures()}).Info("fd rates updated")
	return nil
}

// GetTemplate returns a notification template by key
func (s *Service) GetTemplate(ctx context.Context, key string) (*models.Template, error) {
	var t *models.Template
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		t, err = tx.GetTemplate(ctx, key)
		return err
	})
	return t, err
}

// PutTemplate stores a notification template
func (s *Service) PutTemplate(ctx context.Context, t models.Template) error {
	if t.Key == "" || t.Body == "" {
		return fmt.Errorf("%w: template key and body are required", models.ErrInvalidInput)
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		return tx.PutTemplate(ctx, &t)
	})
}
