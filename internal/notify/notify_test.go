package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/ledger"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type templateMap map[string]models.Template

func (m templateMap) GetTemplate(_ context.Context, key string) (*models.Template, error) {
	t, ok := m[key]
	if !ok {
		return nil, models.ErrTemplateNotFound
	}
	return &t, nil
}

type outbox struct {
	mu   sync.Mutex
	sent []*email.Email
	err  error
}

func (o *outbox) send(e *email.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, e)
	return nil
}

func newTestNotifier(templates TemplateStore, box *outbox) *Notifier {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{SMTPHost: "smtp.example.com", SMTPPort: "587", SenderEmail: "noreply@deposits.local"}
	n := NewNotifier(cfg, templates, log)
	n.send = box.send
	return n
}

var asha = models.User{ID: "u1", Name: "Asha", Email: "asha@example.com"}

func topupApproval() *service.Approval {
	balance := decimal.RequireFromString("1500")
	return &service.Approval{
		Request: models.Request{
			Kind:   models.KindTopup,
			UserID: "u1",
			Amount: decimal.NewFromInt(500),
			Date:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		Balance: &balance,
	}
}

func TestNotifyApproval_DefaultTemplate(t *testing.T) {
	box := &outbox{}
	n := newTestNotifier(templateMap{}, box)

	require.NoError(t, n.NotifyApproval(context.Background(), asha, topupApproval()))
	require.Len(t, box.sent, 1)

	e := box.sent[0]
	assert.Equal(t, []string{"asha@example.com"}, e.To)
	assert.Equal(t, "noreply@deposits.local", e.From)
	assert.Equal(t, "Wallet top-up approved", e.Subject)
	assert.Contains(t, string(e.Text), "Dear Asha")
	assert.Contains(t, string(e.Text), "credited with 500.00 RUB")
	assert.Contains(t, string(e.Text), "Wallet balance: 1500.00 RUB")
}

func TestNotifyApproval_StoredTemplate(t *testing.T) {
	box := &outbox{}
	templates := templateMap{
		TemplateKey(models.KindTopup): {Key: "approval.topup", Subject: "Top-up {{.Amount}}", Body: "Hi {{.Name}}, now {{.Balance}}"},
	}
	n := newTestNotifier(templates, box)

	require.NoError(t, n.NotifyApproval(context.Background(), asha, topupApproval()))
	require.Len(t, box.sent, 1)
	assert.Equal(t, "Top-up 500.00", box.sent[0].Subject)
	assert.Equal(t, "Hi Asha, now 1500.00", string(box.sent[0].Text))
}

func TestNotifyApproval_FDPayout(t *testing.T) {
	box := &outbox{}
	n := newTestNotifier(templateMap{}, box)

	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	inv := models.Investment{
		ID:           "inv-1",
		UserID:       "u1",
		Principal:    decimal.NewFromInt(40000),
		InterestRate: decimal.RequireFromString("0.09"),
		TenureYears:  1,
		StartDate:    start,
		MaturityDate: ledger.MaturityDate(start, 1),
		Status:       models.InvestmentMatured,
	}
	payout := ledger.Maturity(inv, time.UTC)
	balance := payout.Total
	a := &service.Approval{
		Request:    models.Request{Kind: models.KindMaturedFD, UserID: "u1", Amount: inv.Principal, InvestmentID: inv.ID},
		Investment: &inv,
		Payout:     &payout,
		Balance:    &balance,
	}

	require.NoError(t, n.NotifyApproval(context.Background(), asha, a))
	require.Len(t, box.sent, 1)
	body := string(box.sent[0].Text)
	assert.Contains(t, body, "Interest paid: "+payout.Interest.StringFixed(2))
	assert.Contains(t, body, "total credited: "+payout.Total.StringFixed(2))
}

func TestNotifyApproval_InvestmentTemplate(t *testing.T) {
	box := &outbox{}
	n := newTestNotifier(templateMap{}, box)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	inv := models.Investment{
		Principal:    decimal.NewFromInt(40000),
		InterestRate: decimal.RequireFromString("0.085"),
		TenureYears:  3,
		StartDate:    start,
		MaturityDate: ledger.MaturityDate(start, 3),
	}
	a := &service.Approval{
		Request:    models.Request{Kind: models.KindInvestment, Amount: inv.Principal, TenureYears: 3},
		Investment: &inv,
	}

	require.NoError(t, n.NotifyApproval(context.Background(), asha, a))
	body := string(box.sent[0].Text)
	assert.Contains(t, body, "3-year fixed deposit of 40000.00 RUB at 8.50%")
	assert.Contains(t, body, "matures on 2028-03-10")
	assert.NotContains(t, body, "Wallet balance")
}

func TestNotifyApproval_Skips(t *testing.T) {
	box := &outbox{}
	n := newTestNotifier(templateMap{}, box)

	require.NoError(t, n.NotifyApproval(context.Background(), models.User{ID: "u2"}, topupApproval()))

	n.cfg = &config.Config{}
	require.NoError(t, n.NotifyApproval(context.Background(), asha, topupApproval()))

	assert.Empty(t, box.sent)
}

func TestNotifyApproval_Failures(t *testing.T) {
	box := &outbox{err: errors.New("connection refused")}
	n := newTestNotifier(templateMap{}, box)
	err := n.NotifyApproval(context.Background(), asha, topupApproval())
	assert.ErrorContains(t, err, "connection refused")

	broken := templateMap{TemplateKey(models.KindTopup): {Subject: "{{.Nope", Body: "x"}}
	n = newTestNotifier(broken, &outbox{})
	err = n.NotifyApproval(context.Background(), asha, topupApproval())
	assert.ErrorContains(t, err, "failed to parse subject template")
}

func TestNotifyAsync(t *testing.T) {
	box := &outbox{}
	n := newTestNotifier(templateMap{}, box)

	for i := 0; i < 3; i++ {
		n.NotifyAsync(asha, topupApproval())
	}
	n.Wait()

	assert.Len(t, box.sent, 3)
	for _, e := range box.sent {
		assert.True(t, strings.HasPrefix(string(e.Text), "Dear Asha"))
	}
}
