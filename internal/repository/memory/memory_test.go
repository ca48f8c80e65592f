package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx service.Tx) error {
		require.NoError(t, tx.PutBalance(ctx, &models.WalletBalance{UserID: "u1", Balance: decimal.NewFromInt(50)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.InTx(ctx, func(tx service.Tx) error {
		_, err := tx.GetBalance(ctx, "u1")
		return err
	})
	assert.ErrorIs(t, err, models.ErrBalanceNotFound)
}

func TestInTx_RejectsNegativeBalance(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.InTx(ctx, func(tx service.Tx) error {
		return tx.PutBalance(ctx, &models.WalletBalance{UserID: "u1", Balance: decimal.NewFromInt(-1)})
	})
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
}

func TestInsertRequest_MaturedDeduplicatesByInvestment(t *testing.T) {
	store := New()
	ctx := context.Background()

	insert := func(id string) error {
		return store.InTx(ctx, func(tx service.Tx) error {
			return tx.InsertRequest(ctx, &models.Request{
				ID:           id,
				Kind:         models.KindMaturedFD,
				UserID:       "u1",
				Amount:       decimal.NewFromInt(100),
				InvestmentID: "inv-1",
			})
		})
	}
	require.NoError(t, insert("r1"))
	assert.ErrorIs(t, insert("r2"), models.ErrDuplicateRequest)
}

func TestListRequests_JoinsUserName(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.InTx(ctx, func(tx service.Tx) error {
		require.NoError(t, tx.UpsertUser(ctx, &models.User{ID: "u1", Name: "Asha"}))
		require.NoError(t, tx.InsertRequest(ctx, &models.Request{ID: "b", Kind: models.KindTopup, UserID: "u1", Amount: decimal.NewFromInt(5), Date: now}))
		return tx.InsertRequest(ctx, &models.Request{ID: "a", Kind: models.KindTopup, UserID: "u1", Amount: decimal.NewFromInt(5), Date: now.Add(-time.Hour)})
	}))

	require.NoError(t, store.InTx(ctx, func(tx service.Tx) error {
		rows, err := tx.ListRequests(ctx, models.KindTopup, "")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "a", rows[0].ID)
		assert.Equal(t, "Asha", rows[0].UserName)
		return nil
	}))
}

func TestListHistory_NewestFirstAndSince(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InTx(ctx, func(tx service.Tx) error {
		for i := 0; i < 3; i++ {
			require.NoError(t, tx.AppendHistory(ctx, &models.BalanceHistoryEntry{
				ID:        string(rune('a' + i)),
				UserID:    "u1",
				Date:      base.AddDate(0, 0, i),
				Amount:    decimal.NewFromInt(1),
				Direction: models.Credit,
			}))
		}
		return nil
	}))

	require.NoError(t, store.InTx(ctx, func(tx service.Tx) error {
		all, err := tx.ListHistory(ctx, "u1", time.Time{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c", all[0].ID)

		recent, err := tx.ListHistory(ctx, "u1", base)
		require.NoError(t, err)
		assert.Len(t, recent, 2)
		return nil
	}))
}

func TestChanges_PublishesCommittedCollections(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Changes(ctx)
	require.NoError(t, err)

	require.NoError(t, store.InTx(context.Background(), func(tx service.Tx) error {
		return tx.PutBalance(context.Background(), &models.WalletBalance{UserID: "u1", Balance: decimal.NewFromInt(1)})
	}))
	_ = store.InTx(context.Background(), func(tx service.Tx) error {
		_ = tx.UpsertUser(context.Background(), &models.User{ID: "u1"})
		return errors.New("rolled back")
	})

	select {
	case name := <-changes:
		assert.Equal(t, models.CollectionUserBalances, name)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
	select {
	case name := <-changes:
		t.Fatalf("unexpected change %q from a rolled back transaction", name)
	default:
	}
}
