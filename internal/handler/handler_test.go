package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/middleware"
	"github.com/Dan9191/deposit-service/internal/mirror"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/repository/memory"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubRates struct{ rate float64 }

func (s stubRates) GetKeyRate(context.Context) (float64, error) { return s.rate, nil }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.User
}

func (n *recordingNotifier) NotifyAsync(user models.User, a *service.Approval) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, user)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type env struct {
	t        *testing.T
	srv      *httptest.Server
	clock    *clock
	notifier *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		JWTSecret:         testSecret,
		AdminRole:         "admin",
		DefaultFDRate:     decimal.RequireFromString("0.08"),
		DepositRateMargin: decimal.NewFromInt(2),
		Location:          time.UTC,
	}
	c := &clock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.New()
	rates := stubRates{rate: 21}
	svc := service.NewService(store, rates, log, cfg).WithClock(c.Now)

	m := mirror.New(store, svc.Snapshot, service.MirroredCollections(), 0, log)
	require.NoError(t, m.Start(context.Background()))

	e := &env{t: t, clock: c, notifier: &recordingNotifier{}}
	h := NewHandler(svc, m, e.notifier, rates, log)
	e.srv = httptest.NewServer(h.Router(cfg, log))
	t.Cleanup(func() {
		e.srv.Close()
		m.Stop()
	})
	return e
}

func token(t *testing.T, sub, name, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Name:  name,
		Email: strings.ToLower(name) + "@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (e *env) do(method, path, tok string, body any) (int, []byte) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, raw
}

func (e *env) decode(raw []byte, v any) {
	e.t.Helper()
	require.NoError(e.t, json.Unmarshal(raw, v), string(raw))
}

// createAndApprove files a request as the user and approves it as admin
func (e *env) createAndApprove(userTok, adminTok, path string, kind models.RequestKind, body any) service.Approval {
	e.t.Helper()
	status, raw := e.do(http.MethodPost, path, userTok, body)
	require.Equal(e.t, http.StatusCreated, status, string(raw))
	var req models.Request
	e.decode(raw, &req)

	status, raw = e.do(http.MethodPost, "/admin/requests/"+string(kind)+"/"+req.ID+"/approve", adminTok, nil)
	require.Equal(e.t, http.StatusOK, status, string(raw))
	var approval service.Approval
	e.decode(raw, &approval)
	return approval
}

func (e *env) balance(tok string) decimal.Decimal {
	e.t.Helper()
	status, raw := e.do(http.MethodGet, "/me/balance", tok, nil)
	require.Equal(e.t, http.StatusOK, status, string(raw))
	var b models.WalletBalance
	e.decode(raw, &b)
	return b.Balance
}

func TestPublicRoutes(t *testing.T) {
	e := newEnv(t)

	status, raw := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	status, raw = e.do(http.MethodGet, "/key-rate", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"key_rate":21}`, string(raw))

	status, _ = e.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")

	status, _ := e.do(http.MethodGet, "/me/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(http.MethodGet, "/admin/requests/topup", user, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestTopupApprovalFlow(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	status, raw := e.do(http.MethodPost, "/session", user, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.True(t, e.balance(user).IsZero())

	status, raw = e.do(http.MethodPost, "/requests/topups", user, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusCreated, status, string(raw))
	var req models.Request
	e.decode(raw, &req)

	status, raw = e.do(http.MethodGet, "/me/requests/topup", user, nil)
	require.Equal(t, http.StatusOK, status)
	var mine []models.Request
	e.decode(raw, &mine)
	require.Len(t, mine, 1)

	status, raw = e.do(http.MethodGet, "/admin/requests/topup", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var pending []models.Request
	e.decode(raw, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "Asha", pending[0].UserName)

	approvePath := "/admin/requests/topup/" + req.ID + "/approve"
	status, raw = e.do(http.MethodPost, approvePath, admin, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var approval service.Approval
	e.decode(raw, &approval)
	require.NotNil(t, approval.Balance)
	assert.True(t, approval.Balance.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 1, e.notifier.count())

	assert.True(t, e.balance(user).Equal(decimal.NewFromInt(500)))

	status, _ = e.do(http.MethodPost, approvePath, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, e.balance(user).Equal(decimal.NewFromInt(500)))

	status, raw = e.do(http.MethodGet, "/me/history", user, nil)
	require.Equal(t, http.StatusOK, status)
	var history []models.BalanceHistoryEntry
	e.decode(raw, &history)
	require.Len(t, history, 1)
	assert.Equal(t, models.TopupTag, history[0].Description)
}

func TestDeniedApprovalRemovesRequest(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	e.do(http.MethodPost, "/session", user, nil)
	status, raw := e.do(http.MethodPost, "/requests/balance-withdrawals", user, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusCreated, status)
	var req models.Request
	e.decode(raw, &req)

	status, raw = e.do(http.MethodPost, "/admin/requests/balance-withdrawal/"+req.ID+"/approve", admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(raw), models.ErrInsufficientBalance.Error())
	assert.Zero(t, e.notifier.count())

	status, raw = e.do(http.MethodGet, "/admin/requests/balance-withdrawal", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestRejectRequest(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	status, raw := e.do(http.MethodPost, "/requests/topups", user, map[string]string{"amount": "75.50"})
	require.Equal(t, http.StatusCreated, status)
	var req models.Request
	e.decode(raw, &req)

	status, _ = e.do(http.MethodPost, "/admin/requests/topup/"+req.ID+"/reject", admin, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = e.do(http.MethodPost, "/admin/requests/topup/"+req.ID+"/reject", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestInvestmentLifecycle(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	e.do(http.MethodPost, "/session", user, nil)
	e.createAndApprove(user, admin, "/requests/topups", models.KindTopup, map[string]string{"amount": "50000"})

	approval := e.createAndApprove(user, admin, "/requests/investments", models.KindInvestment, map[string]any{
		"amount":         "40000",
		"tenure_years":   1,
		"payment_method": "balance",
	})
	require.NotNil(t, approval.Investment)
	assert.True(t, approval.Investment.InterestRate.Equal(decimal.RequireFromString("0.08")))
	assert.True(t, e.balance(user).Equal(decimal.NewFromInt(10000)))

	status, raw := e.do(http.MethodGet, "/me/investments", user, nil)
	require.Equal(t, http.StatusOK, status)
	var investments []models.Investment
	e.decode(raw, &investments)
	require.Len(t, investments, 1)

	withdrawal := e.createAndApprove(user, admin, "/requests/fd-withdrawals", models.KindFDWithdrawal, map[string]string{
		"investment_id": investments[0].ID,
	})
	require.NotNil(t, withdrawal.Payout)
	assert.True(t, withdrawal.Payout.Total.Equal(decimal.NewFromInt(40000)))
	assert.True(t, e.balance(user).Equal(decimal.NewFromInt(50000)))

	status, _ = e.do(http.MethodPost, "/requests/fd-withdrawals", user, map[string]string{"investment_id": investments[0].ID})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestMaturitySweepAndPayout(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	e.createAndApprove(user, admin, "/requests/investments", models.KindInvestment, map[string]any{
		"amount":         "40000",
		"tenure_years":   1,
		"payment_method": "external",
	})

	e.clock.Advance(367 * 24 * time.Hour)
	status, raw := e.do(http.MethodPost, "/admin/maturity/sweep", admin, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var swept struct {
		Created []models.Request `json:"created"`
	}
	e.decode(raw, &swept)
	require.Len(t, swept.Created, 1)

	status, raw = e.do(http.MethodPost, "/admin/requests/matured-fd/"+swept.Created[0].ID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	// 40000 * 0.08 * 365 / 365
	assert.True(t, e.balance(user).Equal(decimal.NewFromInt(43200)), e.balance(user).String())

	status, raw = e.do(http.MethodPost, "/admin/requests/matured-fd/"+swept.Created[0].ID+"/reject", admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status, string(raw))
}

func TestPayInterest(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	e.createAndApprove(user, admin, "/requests/topups", models.KindTopup, map[string]string{"amount": "10000"})
	e.clock.Advance(40 * 24 * time.Hour)

	status, raw := e.do(http.MethodPost, "/admin/interest/pay", admin, map[string]string{"annual_rate": "6"})
	require.Equal(t, http.StatusOK, status, string(raw))
	var run service.InterestRun
	e.decode(raw, &run)
	require.Len(t, run.Payouts, 1)
	assert.True(t, run.Total.Equal(decimal.NewFromInt(50)))

	status, raw = e.do(http.MethodGet, "/me/interest", user, nil)
	require.Equal(t, http.StatusOK, status)
	var payouts []models.InterestPayout
	e.decode(raw, &payouts)
	require.Len(t, payouts, 1)

	status, _ = e.do(http.MethodPost, "/admin/interest/pay", admin, map[string]string{"annual_rate": "250"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestPayInterestAtReferenceRate(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	e.createAndApprove(user, admin, "/requests/topups", models.KindTopup, map[string]string{"amount": "12000"})
	e.clock.Advance(40 * 24 * time.Hour)

	status, raw := e.do(http.MethodPost, "/admin/interest/pay", admin, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var run service.InterestRun
	e.decode(raw, &run)
	// key rate 21 less margin 2: 12000 * 19 / 1200
	assert.True(t, run.AnnualRate.Equal(decimal.NewFromInt(19)))
	assert.True(t, run.Total.Equal(decimal.NewFromInt(190)))
}

func TestSettingsAndExclusions(t *testing.T) {
	e := newEnv(t)
	admin := token(t, "a1", "Root", "admin")

	status, raw := e.do(http.MethodGet, "/admin/settings/rates", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var table models.RateTable
	e.decode(raw, &table)
	assert.True(t, table[5].Equal(decimal.RequireFromString("0.09")))

	status, _ = e.do(http.MethodPut, "/admin/settings/rates", admin, map[string]string{"1": "0.1", "2": "0.11"})
	require.Equal(t, http.StatusOK, status)
	status, raw = e.do(http.MethodGet, "/admin/settings/rates", admin, nil)
	require.Equal(t, http.StatusOK, status)
	table = nil
	e.decode(raw, &table)
	assert.Len(t, table, 2)

	status, _ = e.do(http.MethodPut, "/admin/settings/rates", admin, map[string]string{"1": "1.5"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = e.do(http.MethodPut, "/admin/interest/exclusions/u2", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, raw = e.do(http.MethodGet, "/admin/interest/exclusions", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `["u2"]`, string(raw))

	status, _ = e.do(http.MethodDelete, "/admin/interest/exclusions/u2", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)
	_, raw = e.do(http.MethodGet, "/admin/interest/exclusions", admin, nil)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestTemplates(t *testing.T) {
	e := newEnv(t)
	admin := token(t, "a1", "Root", "admin")

	status, _ := e.do(http.MethodGet, "/admin/templates/approval.topup", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(http.MethodPut, "/admin/templates/approval.topup", admin, map[string]string{
		"subject": "Top-up approved",
		"body":    "Hello {{.Name}}",
	})
	require.Equal(t, http.StatusOK, status)

	status, raw := e.do(http.MethodGet, "/admin/templates/approval.topup", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var tmpl models.Template
	e.decode(raw, &tmpl)
	assert.Equal(t, "approval.topup", tmpl.Key)
	assert.Equal(t, "Top-up approved", tmpl.Subject)
}

func TestBadInput(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	status, _ := e.do(http.MethodPost, "/requests/topups", user, map[string]string{"amount": "-5"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = e.do(http.MethodPost, "/requests/topups", user, map[string]string{"value": "5"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(http.MethodPost, "/requests/investments", user, map[string]any{
		"amount": "100", "tenure_years": 0, "payment_method": "balance",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = e.do(http.MethodGet, "/admin/requests/loan", admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = e.do(http.MethodPost, "/requests/fd-withdrawals", user, map[string]string{"investment_id": "missing"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMirrorSnapshot(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	e.do(http.MethodPost, "/requests/topups", user, map[string]string{"amount": "10"})

	require.Eventually(t, func() bool {
		status, raw := e.do(http.MethodGet, "/admin/mirror/topupRequests", admin, nil)
		if status != http.StatusOK {
			return false
		}
		var snap struct {
			Data []models.Request `json:"data"`
		}
		e.decode(raw, &snap)
		return len(snap.Data) == 1
	}, 2*time.Second, 20*time.Millisecond)

	status, _ := e.do(http.MethodGet, "/admin/mirror/cards", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStream(t *testing.T) {
	e := newEnv(t)
	user := token(t, "u1", "Asha", "")
	admin := token(t, "a1", "Root", "admin")

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/admin/stream/topupRequests?token=" + admin
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	type message struct {
		Type string `json:"type"`
		Data struct {
			Version uint64           `json:"version"`
			Data    []models.Request `json:"data"`
		} `json:"data"`
	}
	read := func() message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	assert.Equal(t, "snapshot", first.Type)
	assert.Empty(t, first.Data.Data)

	status, _ := e.do(http.MethodPost, "/requests/topups", user, map[string]string{"amount": "10"})
	require.Equal(t, http.StatusCreated, status)

	second := read()
	assert.Greater(t, second.Data.Version, first.Data.Version)
	require.Len(t, second.Data.Data, 1)
	assert.Equal(t, "u1", second.Data.Data[0].UserID)
}
