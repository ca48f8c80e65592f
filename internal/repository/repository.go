package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// SQLSTATE codes that mean "run the transaction again"
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const retryBaseDelay = 20 * time.Millisecond

// Repository provides database operations
type Repository struct {
	db         *sql.DB
	log        *logrus.Logger
	maxRetries int
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB, log *logrus.Logger, maxRetries int) *Repository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Repository{db: db, log: log, maxRetries: maxRetries}
}

// InTx runs fn in a SERIALIZABLE transaction, retrying it from scratch when
// PostgreSQL reports a serialization failure or deadlock. Other errors roll
// back and are returned as is.
func (r *Repository) InTx(ctx context.Context, fn func(tx service.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt >= r.maxRetries {
			return fmt.Errorf("%w after %d attempts: %v", models.ErrConflict, attempt, err)
		}

		metrics.TxRetries.Inc()
		r.log.WithFields(logrus.Fields{"attempt": attempt}).WithError(err).Debug("retrying conflicting transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * retryBaseDelay):
		}
	}
}

func (r *Repository) runTx(ctx context.Context, fn func(tx service.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

var _ service.Store = (*Repository)(nil)
