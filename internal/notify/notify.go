package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"sync"
	"text/template"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const sendTimeout = 30 * time.Second

// TemplateStore looks up stored notification templates
type TemplateStore interface {
	GetTemplate(ctx context.Context, key string) (*models.Template, error)
}

// Notifier e-mails users about approved requests
type Notifier struct {
	cfg       *config.Config
	templates TemplateStore
	logger    *logrus.Logger
	send      func(e *email.Email) error
	wg        sync.WaitGroup
}

// NewNotifier creates a notifier sending through the configured SMTP server
func NewNotifier(cfg *config.Config, templates TemplateStore, logger *logrus.Logger) *Notifier {
	n := &Notifier{
		cfg:       cfg,
		templates: templates,
		logger:    logger,
	}
	n.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort)
		var auth smtp.Auth
		if cfg.SMTPUsername != "" {
			auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		}
		return e.Send(addr, auth)
	}
	return n
}

// TemplateKey is the templates collection key used for an approval of kind
func TemplateKey(kind models.RequestKind) string {
	return "approval." + string(kind)
}

// message is what templates render from
type message struct {
	Name       string
	Kind       models.RequestKind
	Amount     string
	Balance    string
	Investment *models.Investment
	Interest   string
	Total      string
	Date       string
}

// NotifyApproval sends the approval e-mail for a. Users without an address
// are skipped.
func (n *Notifier) NotifyApproval(ctx context.Context, user models.User, a *service.Approval) error {
	event := string(a.Request.Kind)
	if !n.cfg.MailEnabled() || user.Email == "" {
		metrics.RecordNotification(event, "skipped")
		return nil
	}

	subject, body, err := n.render(ctx, user, a)
	if err != nil {
		metrics.RecordNotification(event, "failed")
		return err
	}

	e := email.NewEmail()
	e.From = n.cfg.SenderEmail
	e.To = []string{user.Email}
	e.Subject = subject
	e.Text = body

	if err := n.send(e); err != nil {
		metrics.RecordNotification(event, "failed")
		n.logger.Errorf("Failed to send %s notification to %s: %v", event, user.Email, err)
		return fmt.Errorf("failed to send %s notification: %w", event, err)
	}

	metrics.RecordNotification(event, "sent")
	n.logger.Infof("Email sent to %s: %s", user.Email, subject)
	return nil
}

// NotifyAsync sends in the background; Wait blocks until pending sends finish
func (n *Notifier) NotifyAsync(user models.User, a *service.Approval) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_ = n.NotifyApproval(ctx, user, a)
	}()
}

func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) render(ctx context.Context, user models.User, a *service.Approval) (string, []byte, error) {
	kind := a.Request.Kind
	tmpl, err := n.templates.GetTemplate(ctx, TemplateKey(kind))
	switch {
	case errors.Is(err, models.ErrTemplateNotFound):
		fallback, ok := defaultTemplates[kind]
		if !ok {
			return "", nil, fmt.Errorf("no template for %s", kind)
		}
		tmpl = &fallback
	case err != nil:
		return "", nil, fmt.Errorf("failed to load template: %w", err)
	}

	msg := message{
		Name:       user.Name,
		Kind:       kind,
		Amount:     a.Request.Amount.StringFixed(2),
		Investment: a.Investment,
		Date:       a.Request.Date.Format("2006-01-02"),
	}
	if msg.Name == "" {
		msg.Name = "customer"
	}
	if a.Balance != nil {
		msg.Balance = a.Balance.StringFixed(2)
	}
	if a.Payout != nil {
		msg.Interest = a.Payout.Interest.StringFixed(2)
		msg.Total = a.Payout.Total.StringFixed(2)
	}

	subject, err := execute("subject", tmpl.Subject, msg)
	if err != nil {
		return "", nil, err
	}
	body, err := execute("body", tmpl.Body, msg)
	if err != nil {
		return "", nil, err
	}
	return string(subject), body, nil
}

func execute(name, text string, data message) ([]byte, error) {
	t, err := template.New(name).Funcs(template.FuncMap{"percent": percent}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.Bytes(), nil
}

func percent(rate decimal.Decimal) string {
	return rate.Shift(2).StringFixed(2) + "%"
}

const signature = "\n\nBest regards,\nDeposit Service"

var defaultTemplates = map[models.RequestKind]models.Template{
	models.KindInvestment: {
		Subject: "Your fixed deposit is open",
		Body: "Dear {{.Name}},\n\nYour {{.Investment.TenureYears}}-year fixed deposit of {{.Amount}} RUB " +
			"at {{percent .Investment.InterestRate}} matures on {{.Investment.MaturityDate.Format \"2006-01-02\"}}." +
			"{{if .Balance}}\nWallet balance: {{.Balance}} RUB{{end}}" + signature,
	},
	models.KindFDWithdrawal: {
		Subject: "Fixed deposit withdrawn",
		Body: "Dear {{.Name}},\n\nYour fixed deposit of {{.Amount}} RUB was closed early. " +
			"Interest paid: {{.Interest}} RUB, total credited: {{.Total}} RUB.\nWallet balance: {{.Balance}} RUB" + signature,
	},
	models.KindMaturedFD: {
		Subject: "Fixed deposit matured",
		Body: "Dear {{.Name}},\n\nYour fixed deposit of {{.Amount}} RUB has matured. " +
			"Interest paid: {{.Interest}} RUB, total credited: {{.Total}} RUB.\nWallet balance: {{.Balance}} RUB" + signature,
	},
	models.KindTopup: {
		Subject: "Wallet top-up approved",
		Body:    "Dear {{.Name}},\n\nYour wallet has been credited with {{.Amount}} RUB.\nWallet balance: {{.Balance}} RUB" + signature,
	},
	models.KindBalanceWithdrawal: {
		Subject: "Wallet withdrawal approved",
		Body:    "Dear {{.Name}},\n\nAn amount of {{.Amount}} RUB has been withdrawn from your wallet.\nWallet balance: {{.Balance}} RUB" + signature,
	},
}
