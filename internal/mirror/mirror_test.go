package mirror_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/mirror"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/repository/memory"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setup(t *testing.T, resync time.Duration) (*service.Service, *mirror.Mirror) {
	t.Helper()
	store := memory.New()
	cfg := &config.Config{DefaultFDRate: decimal.RequireFromString("0.08"), Location: time.UTC}
	svc := service.NewService(store, nil, newLogger(), cfg)

	m := mirror.New(store, svc.Snapshot, service.MirroredCollections(), resync, newLogger())
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return svc, m
}

func next(t *testing.T, ch <-chan mirror.Snapshot) mirror.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
	return mirror.Snapshot{}
}

func TestSubscribeReceivesCurrentThenChanges(t *testing.T) {
	svc, m := setup(t, 0)

	ch, cancel, err := m.Subscribe(models.CollectionTopupRequests)
	require.NoError(t, err)
	defer cancel()

	first := next(t, ch)
	assert.Empty(t, first.Data)

	_, err = svc.CreateTopupRequest(context.Background(), "u1", decimal.NewFromInt(500))
	require.NoError(t, err)

	second := next(t, ch)
	assert.Greater(t, second.Version, first.Version)
	requests, ok := second.Data.([]models.Request)
	require.True(t, ok)
	require.Len(t, requests, 1)
	assert.Equal(t, "u1", requests[0].UserID)
}

func TestGetReflectsApprovedState(t *testing.T) {
	svc, m := setup(t, 0)
	ctx := context.Background()

	req, err := svc.CreateTopupRequest(ctx, "u1", decimal.NewFromInt(250))
	require.NoError(t, err)
	_, err = svc.ApproveTopup(ctx, req.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.Get(models.CollectionUserBalances)
		if err != nil {
			return false
		}
		balances, _ := snap.Data.([]models.WalletBalance)
		return len(balances) == 1 && balances[0].Balance.Equal(decimal.NewFromInt(250))
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, _ := m.Get(models.CollectionTopupRequests)
		requests, _ := snap.Data.([]models.Request)
		return len(requests) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownCollection(t *testing.T) {
	_, m := setup(t, 0)

	_, _, err := m.Subscribe("cards")
	assert.ErrorIs(t, err, mirror.ErrUnknownCollection)
	_, err = m.Get("cards")
	assert.ErrorIs(t, err, mirror.ErrUnknownCollection)
}

func TestCancelClosesSubscription(t *testing.T) {
	_, m := setup(t, 0)

	ch, cancel, err := m.Subscribe(models.CollectionSettings)
	require.NoError(t, err)
	next(t, ch)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStartTwice(t *testing.T) {
	_, m := setup(t, 0)
	assert.ErrorIs(t, m.Start(context.Background()), mirror.ErrAlreadyStarted)
}

type stubFeed struct {
	ch  chan string
	err error
}

func (f *stubFeed) Changes(ctx context.Context) (<-chan string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func TestEmptyNameReloadsEverything(t *testing.T) {
	var loads atomic.Int64
	load := func(ctx context.Context, collection string) (any, error) {
		loads.Add(1)
		return collection, nil
	}
	feed := &stubFeed{ch: make(chan string, 1)}
	m := mirror.New(feed, load, []string{"a", "b", "c"}, 0, newLogger())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Equal(t, int64(3), loads.Load())

	feed.ch <- ""
	require.Eventually(t, func() bool { return loads.Load() == 6 }, 2*time.Second, 10*time.Millisecond)

	feed.ch <- "b"
	require.Eventually(t, func() bool { return loads.Load() == 7 }, 2*time.Second, 10*time.Millisecond)

	snap, err := m.Get("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Version)
	assert.Equal(t, "b", snap.Data)
}

func TestPeriodicResync(t *testing.T) {
	var loads atomic.Int64
	load := func(ctx context.Context, collection string) (any, error) {
		loads.Add(1)
		return nil, nil
	}
	m := mirror.New(&stubFeed{ch: make(chan string)}, load, []string{"a"}, 20*time.Millisecond, newLogger())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool { return loads.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestFailedLoadKeepsPreviousSnapshot(t *testing.T) {
	var fail atomic.Bool
	load := func(ctx context.Context, collection string) (any, error) {
		if fail.Load() {
			return nil, errors.New("store unavailable")
		}
		return "ok", nil
	}
	feed := &stubFeed{ch: make(chan string, 1)}
	m := mirror.New(feed, load, []string{"a"}, 0, newLogger())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	fail.Store(true)
	feed.ch <- "a"
	time.Sleep(50 * time.Millisecond)

	snap, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "ok", snap.Data)
}

func TestStartFailsWhenFeedUnavailable(t *testing.T) {
	m := mirror.New(&stubFeed{err: errors.New("listen failed")}, func(context.Context, string) (any, error) { return nil, nil }, []string{"a"}, 0, newLogger())
	assert.Error(t, m.Start(context.Background()))
	m.Stop()
}
