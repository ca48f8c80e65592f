// Package memory is an in-process ledger store. Transactions run one at a
// time against a private copy of the state which replaces the live state only
// when the transaction function succeeds.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
)

const feedBuffer = 64

type state struct {
	users       map[string]models.User
	balances    map[string]models.WalletBalance
	history     []models.BalanceHistoryEntry
	payouts     []models.InterestPayout
	investments map[string]models.Investment
	requests    map[models.RequestKind]map[string]models.Request
	rates       models.RateTable
	excluded    map[string]bool
	templates   map[string]models.Template
}

func newState() *state {
	s := &state{
		users:       map[string]models.User{},
		balances:    map[string]models.WalletBalance{},
		investments: map[string]models.Investment{},
		requests:    map[models.RequestKind]map[string]models.Request{},
		excluded:    map[string]bool{},
		templates:   map[string]models.Template{},
	}
	for _, kind := range models.RequestKinds {
		s.requests[kind] = map[string]models.Request{}
	}
	return s
}

func (s *state) clone() *state {
	c := &state{
		users:       maps.Clone(s.users),
		balances:    maps.Clone(s.balances),
		history:     append([]models.BalanceHistoryEntry(nil), s.history...),
		payouts:     append([]models.InterestPayout(nil), s.payouts...),
		investments: maps.Clone(s.investments),
		requests:    make(map[models.RequestKind]map[string]models.Request, len(s.requests)),
		excluded:    maps.Clone(s.excluded),
		templates:   maps.Clone(s.templates),
	}
	if s.rates != nil {
		c.rates = maps.Clone(s.rates)
	}
	for kind, rows := range s.requests {
		c.requests[kind] = maps.Clone(rows)
	}
	return c
}

// Store is a service.Store kept in memory
type Store struct {
	mu    sync.Mutex
	state *state

	subsMu sync.Mutex
	subs   map[chan string]struct{}
}

// New returns an empty store
func New() *Store {
	return &Store{
		state: newState(),
		subs:  map[chan string]struct{}{},
	}
}

// InTx runs fn with exclusive access. Writes become visible only if fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone(), touched: map[string]bool{}}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.state
	s.publish(t.touched)
	return nil
}

// Changes streams the names of collections written by committed
// transactions until ctx is done. Slow readers miss names rather than block
// writers.
func (s *Store) Changes(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, feedBuffer)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *Store) publish(touched map[string]bool) {
	if len(touched) == 0 {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		for collection := range touched {
			select {
			case ch <- collection:
			default:
			}
		}
	}
}

var _ service.Store = (*Store)(nil)
