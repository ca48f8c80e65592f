package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service handles the deposit ledger business logic
type Service struct {
	store    Store
	rates    RateSource
	log      *logrus.Logger
	config   *config.Config
	validate *validator.Validate
	now      func() time.Time
}

// NewService initializes a new service. rates may be nil when no reference
// rate source is configured.
func NewService(store Store, rates RateSource, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		rates:    rates,
		log:      log,
		config:   cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) location() *time.Location {
	if s.config != nil && s.config.Location != nil {
		return s.config.Location
	}
	return time.UTC
}

func newID() string {
	return uuid.NewString()
}

// EnsureUser records identity metadata on sign-in and opens a zero wallet
// balance the first time the user is seen. Display data lives only on the
// user row.
func (s *Service) EnsureUser(ctx context.Context, user models.User) (*models.WalletBalance, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}

	var balance *models.WalletBalance
	err := s.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.GetUser(ctx, user.ID)
		switch {
		case errors.Is(err, models.ErrUserNotFound):
			user.CreatedAt = s.now()
		case err != nil:
			return err
		default:
			user.CreatedAt = existing.CreatedAt
		}
		if err := tx.UpsertUser(ctx, &user); err != nil {
			return err
		}

		balance, err = tx.GetBalance(ctx, user.ID)
		if errors.Is(err, models.ErrBalanceNotFound) {
			balance = &models.WalletBalance{UserID: user.ID, Balance: decimal.Zero, UpdatedAt: s.now()}
			return tx.PutBalance(ctx, balance)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return balance, nil
}

// GetUser returns the identity metadata recorded for a user
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user *models.User
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	return user, err
}

// GetBalance returns the wallet balance of a user
func (s *Service) GetBalance(ctx context.Context, userID string) (*models.WalletBalance, error) {
	var balance *models.WalletBalance
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		balance, err = tx.GetBalance(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// ListHistory returns the balance history of a user, newest first
func (s *Service) ListHistory(ctx context.Context, userID string) ([]models.BalanceHistoryEntry, error) {
	var entries []models.BalanceHistoryEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		entries, err = tx.ListHistory(ctx, userID, time.Time{})
		return err
	})
	return entries, err
}

// ListInvestments returns every investment of a user
func (s *Service) ListInvestments(ctx context.Context, userID string) ([]models.Investment, error) {
	var out []models.Investment
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListInvestments(ctx, userID)
		return err
	})
	return out, err
}

// ListInterestPayouts returns interest credited to a user
func (s *Service) ListInterestPayouts(ctx context.Context, userID string) ([]models.InterestPayout, error) {
	var out []models.InterestPayout
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListInterestPayouts(ctx, userID)
		return err
	})
	return out, err
}

// ListRequests returns pending requests of a kind. Empty userID lists all users.
func (s *Service) ListRequests(ctx context.Context, kind models.RequestKind, userID string) ([]models.Request, error) {
	if !kind.Valid() {
		return nil, models.ErrInvalidKind
	}
	var out []models.Request
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListRequests(ctx, kind, userID)
		return err
	})
	return out, err
}

// Snapshot loads the full contents of a named collection for read-model mirrors
func (s *Service) Snapshot(ctx context.Context, collection string) (any, error) {
	var out any
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		switch collection {
		case models.CollectionUsers:
			out, err = tx.ListUsers(ctx)
		case models.CollectionUserBalances:
			out, err = tx.ListBalances(ctx, false)
		case models.CollectionInvestments:
			out, err = tx.ListInvestments(ctx, "")
		case models.CollectionBalanceHistory:
			out, err = tx.ListHistory(ctx, "", time.Time{})
		case models.CollectionInterestPayouts:
			out, err = tx.ListInterestPayouts(ctx, "")
		case models.CollectionTemplates:
			out, err = tx.ListTemplates(ctx)
		case models.CollectionSettings:
			table, ok, terr := tx.GetRateTable(ctx)
			if terr == nil && !ok {
				table = models.DefaultRateTable()
			}
			out, err = table, terr
		default:
			kind, ok := kindByCollection[collection]
			if !ok {
				return fmt.Errorf("%w: unknown collection %q", models.ErrInvalidInput, collection)
			}
			out, err = tx.ListRequests(ctx, kind, "")
		}
		return err
	})
	return out, err
}

// MirroredCollections lists the collections a read-model may subscribe to
func MirroredCollections() []string {
	out := []string{
		models.CollectionUsers,
		models.CollectionUserBalances,
		models.CollectionInvestments,
		models.CollectionBalanceHistory,
		models.CollectionInterestPayouts,
		models.CollectionTemplates,
		models.CollectionSettings,
	}
	for _, kind := range models.RequestKinds {
		out = append(out, kind.Collection())
	}
	return out
}

var kindByCollection = func() map[string]models.RequestKind {
	m := make(map[string]models.RequestKind, len(models.RequestKinds))
	for _, k := range models.RequestKinds {
		m[k.Collection()] = k
	}
	return m
}()
