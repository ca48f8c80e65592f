package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/Dan9191/deposit-service/internal/models"
)

type tx struct {
	state   *state
	touched map[string]bool
}

func (t *tx) touch(collection string) {
	t.touched[collection] = true
}

func (t *tx) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (t *tx) UpsertUser(_ context.Context, u *models.User) error {
	t.state.users[u.ID] = *u
	t.touch(models.CollectionUsers)
	return nil
}

func (t *tx) ListUsers(_ context.Context) ([]models.User, error) {
	out := make([]models.User, 0, len(t.state.users))
	for _, u := range t.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) GetBalance(_ context.Context, userID string) (*models.WalletBalance, error) {
	b, ok := t.state.balances[userID]
	if !ok {
		return nil, models.ErrBalanceNotFound
	}
	return &b, nil
}

func (t *tx) PutBalance(_ context.Context, b *models.WalletBalance) error {
	if b.Balance.IsNegative() {
		return models.ErrInsufficientBalance
	}
	t.state.balances[b.UserID] = *b
	t.touch(models.CollectionUserBalances)
	return nil
}

func (t *tx) ListBalances(_ context.Context, positiveOnly bool) ([]models.WalletBalance, error) {
	out := make([]models.WalletBalance, 0, len(t.state.balances))
	for _, b := range t.state.balances {
		if positiveOnly && !b.Balance.IsPositive() {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *tx) AppendHistory(_ context.Context, e *models.BalanceHistoryEntry) error {
	if !e.Amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	t.state.history = append(t.state.history, *e)
	t.touch(models.CollectionBalanceHistory)
	return nil
}

func (t *tx) ListHistory(_ context.Context, userID string, since time.Time) ([]models.BalanceHistoryEntry, error) {
	var out []models.BalanceHistoryEntry
	for i := len(t.state.history) - 1; i >= 0; i-- {
		e := t.state.history[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		if !since.IsZero() && !e.Date.After(since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (t *tx) AppendInterestPayout(_ context.Context, p *models.InterestPayout) error {
	t.state.payouts = append(t.state.payouts, *p)
	t.touch(models.CollectionInterestPayouts)
	return nil
}

func (t *tx) ListInterestPayouts(_ context.Context, userID string) ([]models.InterestPayout, error) {
	var out []models.InterestPayout
	for i := len(t.state.payouts) - 1; i >= 0; i-- {
		if p := t.state.payouts[i]; userID == "" || p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *tx) GetInvestment(_ context.Context, id string) (*models.Investment, error) {
	inv, ok := t.state.investments[id]
	if !ok {
		return nil, models.ErrInvestmentNotFound
	}
	return &inv, nil
}

func (t *tx) InsertInvestment(_ context.Context, inv *models.Investment) error {
	if _, ok := t.state.investments[inv.ID]; ok {
		return fmt.Errorf("investment %s already exists", inv.ID)
	}
	t.state.investments[inv.ID] = *inv
	t.touch(models.CollectionInvestments)
	return nil
}

func (t *tx) SetInvestmentStatus(_ context.Context, id string, status models.InvestmentStatus) error {
	inv, ok := t.state.investments[id]
	if !ok {
		return models.ErrInvestmentNotFound
	}
	inv.Status = status
	t.state.investments[id] = inv
	t.touch(models.CollectionInvestments)
	return nil
}

func (t *tx) ListInvestments(_ context.Context, userID string) ([]models.Investment, error) {
	var out []models.Investment
	for _, inv := range t.state.investments {
		if userID == "" || inv.UserID == userID {
			out = append(out, inv)
		}
	}
	sortInvestments(out)
	return out, nil
}

func (t *tx) ListActiveInvestments(_ context.Context) ([]models.Investment, error) {
	var out []models.Investment
	for _, inv := range t.state.investments {
		if inv.IsActive() {
			out = append(out, inv)
		}
	}
	sortInvestments(out)
	return out, nil
}

func sortInvestments(out []models.Investment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
}

func (t *tx) rows(kind models.RequestKind) (map[string]models.Request, error) {
	rows, ok := t.state.requests[kind]
	if !ok {
		return nil, models.ErrInvalidKind
	}
	return rows, nil
}

func (t *tx) GetRequest(_ context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	rows, err := t.rows(kind)
	if err != nil {
		return nil, err
	}
	r, ok := rows[id]
	if !ok {
		return nil, models.ErrRequestNotFound
	}
	return &r, nil
}

func (t *tx) InsertRequest(_ context.Context, r *models.Request) error {
	rows, err := t.rows(r.Kind)
	if err != nil {
		return err
	}
	if _, ok := rows[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	if r.Kind == models.KindMaturedFD {
		for _, existing := range rows {
			if existing.InvestmentID == r.InvestmentID {
				return models.ErrDuplicateRequest
			}
		}
	}
	rows[r.ID] = *r
	t.touch(r.Kind.Collection())
	return nil
}

func (t *tx) DeleteRequest(_ context.Context, kind models.RequestKind, id string) (bool, error) {
	rows, err := t.rows(kind)
	if err != nil {
		return false, err
	}
	if _, ok := rows[id]; !ok {
		return false, nil
	}
	delete(rows, id)
	t.touch(kind.Collection())
	return true, nil
}

func (t *tx) ListRequests(_ context.Context, kind models.RequestKind, userID string) ([]models.Request, error) {
	rows, err := t.rows(kind)
	if err != nil {
		return nil, err
	}
	var out []models.Request
	for _, r := range rows {
		if userID != "" && r.UserID != userID {
			continue
		}
		r.UserName = t.state.users[r.UserID].Name
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (t *tx) FindRequestByInvestment(_ context.Context, kind models.RequestKind, investmentID string) (*models.Request, error) {
	rows, err := t.rows(kind)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.InvestmentID == investmentID {
			return &r, nil
		}
	}
	return nil, nil
}

func (t *tx) GetRateTable(_ context.Context) (models.RateTable, bool, error) {
	if t.state.rates == nil {
		return nil, false, nil
	}
	return maps.Clone(t.state.rates), true, nil
}

func (t *tx) PutRateTable(_ context.Context, table models.RateTable) error {
	t.state.rates = maps.Clone(table)
	t.touch(models.CollectionSettings)
	return nil
}

func (t *tx) ListExcluded(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(t.state.excluded))
	for id := range t.state.excluded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (t *tx) SetExcluded(_ context.Context, userID string, excluded bool) error {
	if excluded {
		t.state.excluded[userID] = true
	} else {
		delete(t.state.excluded, userID)
	}
	return nil
}

func (t *tx) GetTemplate(_ context.Context, key string) (*models.Template, error) {
	tmpl, ok := t.state.templates[key]
	if !ok {
		return nil, models.ErrTemplateNotFound
	}
	return &tmpl, nil
}

func (t *tx) PutTemplate(_ context.Context, tmpl *models.Template) error {
	t.state.templates[tmpl.Key] = *tmpl
	t.touch(models.CollectionTemplates)
	return nil
}

func (t *tx) ListTemplates(_ context.Context) ([]models.Template, error) {
	out := make([]models.Template, 0, len(t.state.templates))
	for _, tmpl := range t.state.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
