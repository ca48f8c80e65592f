package service

import (
	"context"
	"time"

	"github.com/Dan9191/deposit-service/internal/models"
)

// Store runs fn as one atomic unit. Implementations retry fn transparently
// when a concurrent write conflicts, so fn must not have effects outside tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the ledger inside a transaction. Reads of balances,
// investments and requests see the latest committed value and hold it until
// commit.
type Tx interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)

	GetBalance(ctx context.Context, userID string) (*models.WalletBalance, error)
	PutBalance(ctx context.Context, b *models.WalletBalance) error
	ListBalances(ctx context.Context, positiveOnly bool) ([]models.WalletBalance, error)

	AppendHistory(ctx context.Context, e *models.BalanceHistoryEntry) error
	// ListHistory returns entries newest first. Empty userID means every user,
	// zero since means from the beginning.
	ListHistory(ctx context.Context, userID string, since time.Time) ([]models.BalanceHistoryEntry, error)

	AppendInterestPayout(ctx context.Context, p *models.InterestPayout) error
	ListInterestPayouts(ctx context.Context, userID string) ([]models.InterestPayout, error)

	GetInvestment(ctx context.Context, id string) (*models.Investment, error)
	InsertInvestment(ctx context.Context, inv *models.Investment) error
	SetInvestmentStatus(ctx context.Context, id string, status models.InvestmentStatus) error
	ListInvestments(ctx context.Context, userID string) ([]models.Investment, error)
	ListActiveInvestments(ctx context.Context) ([]models.Investment, error)

	GetRequest(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error)
	// InsertRequest fails with ErrDuplicateRequest when a matured-fd request
	// for the same investment already exists.
	InsertRequest(ctx context.Context, r *models.Request) error
	DeleteRequest(ctx context.Context, kind models.RequestKind, id string) (bool, error)
	// ListRequests returns requests oldest first with UserName joined.
	ListRequests(ctx context.Context, kind models.RequestKind, userID string) ([]models.Request, error)
	FindRequestByInvestment(ctx context.Context, kind models.RequestKind, investmentID string) (*models.Request, error)

	// GetRateTable reports false when no settings document exists.
	GetRateTable(ctx context.Context) (models.RateTable, bool, error)
	PutRateTable(ctx context.Context, t models.RateTable) error

	ListExcluded(ctx context.Context) ([]string, error)
	SetExcluded(ctx context.Context, userID string, excluded bool) error

	GetTemplate(ctx context.Context, key string) (*models.Template, error)
	PutTemplate(ctx context.Context, t *models.Template) error
	ListTemplates(ctx context.Context) ([]models.Template, error)
}

// RateSource supplies a reference annual rate in percent
type RateSource interface {
	GetKeyRate(ctx context.Context) (float64, error)
}
