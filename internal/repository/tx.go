package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/deposit-service/internal/models"
)

type pgTx struct {
	tx *sql.Tx
}

// request kind to table
var requestTables = map[models.RequestKind]string{
	models.KindInvestment:        "investment_requests",
	models.KindFDWithdrawal:      "fd_withdrawal_requests",
	models.KindMaturedFD:         "matured_fd_requests",
	models.KindTopup:             "topup_requests",
	models.KindBalanceWithdrawal: "balance_withdrawal_requests",
}

const rateSettingsID = "fd_rates"

const (
	userColumns       = "id, name, avatar_url, email, created_at"
	balanceColumns    = "user_id, balance, updated_at"
	historyColumns    = "id, user_id, date, description, amount, direction"
	payoutColumns     = "id, user_id, amount, annual_rate, basis, paid_at"
	investmentColumns = "id, user_id, principal, interest_rate, tenure_years, start_date, maturity_date, status"
	requestColumns    = "id, user_id, amount, date, status, tenure_years, payment_method, investment_id"
)

type scanner interface {
	Scan(dest ...any) error
}

func requestTable(kind models.RequestKind) (string, error) {
	table, ok := requestTables[kind]
	if !ok {
		return "", models.ErrInvalidKind
	}
	return table, nil
}

// GetUser retrieves a user by ID
func (t *pgTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	err := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.AvatarURL, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// UpsertUser creates a user or refreshes its display data
func (t *pgTx) UpsertUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url, email = EXCLUDED.email`
	if _, err := t.tx.ExecContext(ctx, query, u.ID, u.Name, u.AvatarURL, u.Email, u.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (t *pgTx) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarURL, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetBalance reads and locks the wallet balance of a user
func (t *pgTx) GetBalance(ctx context.Context, userID string) (*models.WalletBalance, error) {
	b := &models.WalletBalance{}
	err := t.tx.QueryRowContext(ctx, `SELECT `+balanceColumns+` FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&b.UserID, &b.Balance, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find balance: %w", err)
	}
	return b, nil
}

// PutBalance writes a wallet balance, creating it if needed
func (t *pgTx) PutBalance(ctx context.Context, b *models.WalletBalance) error {
	if b.Balance.IsNegative() {
		return models.ErrInsufficientBalance
	}
	query := `
		INSERT INTO user_balances (` + balanceColumns + `)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`
	if _, err := t.tx.ExecContext(ctx, query, b.UserID, b.Balance, b.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (t *pgTx) ListBalances(ctx context.Context, positiveOnly bool) ([]models.WalletBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM user_balances ORDER BY user_id`
	if positiveOnly {
		query = `SELECT ` + balanceColumns + ` FROM user_balances WHERE balance > 0 ORDER BY user_id FOR UPDATE`
	}
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []models.WalletBalance
	for rows.Next() {
		var b models.WalletBalance
		if err := rows.Scan(&b.UserID, &b.Balance, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AppendHistory inserts an immutable balance history entry
func (t *pgTx) AppendHistory(ctx context.Context, e *models.BalanceHistoryEntry) error {
	query := `
		INSERT INTO balance_history (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(ctx, query, e.ID, e.UserID, e.Date, e.Description, e.Amount, string(e.Direction)); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (t *pgTx) ListHistory(ctx context.Context, userID string, since time.Time) ([]models.BalanceHistoryEntry, error) {
	var (
		where []string
		args  []any
	)
	if userID != "" {
		args = append(args, userID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !since.IsZero() {
		args = append(args, since)
		where = append(where, fmt.Sprintf("date > $%d", len(args)))
	}
	query := `SELECT ` + historyColumns + ` FROM balance_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, seq DESC"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []models.BalanceHistoryEntry
	for rows.Next() {
		var (
			e   models.BalanceHistoryEntry
			dir string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &e.Description, &e.Amount, &dir); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Direction = models.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) AppendInterestPayout(ctx context.Context, p *models.InterestPayout) error {
	query := `
		INSERT INTO interest_payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(ctx, query, p.ID, p.UserID, p.Amount, p.AnnualRate, p.Basis, p.PaidAt); err != nil {
		return fmt.Errorf("failed to record interest payout: %w", err)
	}
	return nil
}

func (t *pgTx) ListInterestPayouts(ctx context.Context, userID string) ([]models.InterestPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM interest_payouts ORDER BY paid_at DESC`
	var args []any
	if userID != "" {
		query = `SELECT ` + payoutColumns + ` FROM interest_payouts WHERE user_id = $1 ORDER BY paid_at DESC`
		args = append(args, userID)
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interest payouts: %w", err)
	}
	defer rows.Close()

	var out []models.InterestPayout
	for rows.Next() {
		var p models.InterestPayout
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.AnnualRate, &p.Basis, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan interest payout: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanInvestment(row scanner) (*models.Investment, error) {
	var (
		inv    models.Investment
		status string
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.Principal, &inv.InterestRate, &inv.TenureYears, &inv.StartDate, &inv.MaturityDate, &status)
	if err != nil {
		return nil, err
	}
	inv.Status = models.InvestmentStatus(status)
	return &inv, nil
}

// GetInvestment reads and locks an investment
func (t *pgTx) GetInvestment(ctx context.Context, id string) (*models.Investment, error) {
	inv, err := scanInvestment(t.tx.QueryRowContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrInvestmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find investment: %w", err)
	}
	return inv, nil
}

func (t *pgTx) InsertInvestment(ctx context.Context, inv *models.Investment) error {
	query := `
		INSERT INTO investments (` + investmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.ExecContext(ctx, query,
		inv.ID, inv.UserID, inv.Principal, inv.InterestRate, inv.TenureYears, inv.StartDate, inv.MaturityDate, string(inv.Status))
	if err != nil {
		return fmt.Errorf("failed to create investment: %w", err)
	}
	return nil
}

func (t *pgTx) SetInvestmentStatus(ctx context.Context, id string, status models.InvestmentStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE investments SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update investment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update investment status: %w", err)
	}
	if n == 0 {
		return models.ErrInvestmentNotFound
	}
	return nil
}

func (t *pgTx) ListInvestments(ctx context.Context, userID string) ([]models.Investment, error) {
	if userID == "" {
		return t.queryInvestments(ctx, `SELECT `+investmentColumns+` FROM investments ORDER BY start_date, id`)
	}
	return t.queryInvestments(ctx, `SELECT `+investmentColumns+` FROM investments WHERE user_id = $1 ORDER BY start_date, id`, userID)
}

func (t *pgTx) ListActiveInvestments(ctx context.Context) ([]models.Investment, error) {
	return t.queryInvestments(ctx, `SELECT `+investmentColumns+` FROM investments WHERE status = $1 ORDER BY maturity_date, id`, string(models.InvestmentActive))
}

func (t *pgTx) queryInvestments(ctx context.Context, query string, args ...any) ([]models.Investment, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	var out []models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investment: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func scanRequest(row scanner, kind models.RequestKind, extra ...any) (*models.Request, error) {
	var (
		r            models.Request
		method       string
		investmentID sql.NullString
	)
	dest := append([]any{&r.ID, &r.UserID, &r.Amount, &r.Date, &r.Status, &r.TenureYears, &method, &investmentID}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Kind = kind
	r.PaymentMethod = models.PaymentMethod(method)
	r.InvestmentID = investmentID.String
	return &r, nil
}

// GetRequest reads and locks a pending request
func (t *pgTx) GetRequest(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	table, err := requestTable(kind)
	if err != nil {
		return nil, err
	}
	r, err := scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM `+table+` WHERE id = $1 FOR UPDATE`, id), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find request: %w", err)
	}
	return r, nil
}

func (t *pgTx) InsertRequest(ctx context.Context, r *models.Request) error {
	table, err := requestTable(r.Kind)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + table + ` (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if r.Kind == models.KindMaturedFD {
		query += ` ON CONFLICT (investment_id) DO NOTHING`
	}
	investmentID := sql.NullString{String: r.InvestmentID, Valid: r.InvestmentID != ""}

	res, err := t.tx.ExecContext(ctx, query,
		r.ID, r.UserID, r.Amount, r.Date, r.Status, r.TenureYears, string(r.PaymentMethod), investmentID)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicateRequest
	}
	return nil
}

func (t *pgTx) DeleteRequest(ctx context.Context, kind models.RequestKind, id string) (bool, error) {
	table, err := requestTable(kind)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete request: %w", err)
	}
	return n > 0, nil
}

func (t *pgTx) ListRequests(ctx context.Context, kind models.RequestKind, userID string) ([]models.Request, error) {
	table, err := requestTable(kind)
	if err != nil {
		return nil, err
	}
	cols := "r." + strings.ReplaceAll(requestColumns, ", ", ", r.")
	query := `SELECT ` + cols + `, COALESCE(u.name, '') FROM ` + table + ` r LEFT JOIN users u ON u.id = r.user_id`
	var args []any
	if userID != "" {
		query += ` WHERE r.user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY r.date, r.id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		var name string
		r, err := scanRequest(rows, kind, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.UserName = name
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (t *pgTx) FindRequestByInvestment(ctx context.Context, kind models.RequestKind, investmentID string) (*models.Request, error) {
	table, err := requestTable(kind)
	if err != nil {
		return nil, err
	}
	r, err := scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM `+table+` WHERE investment_id = $1 LIMIT 1`, investmentID), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find request by investment: %w", err)
	}
	return r, nil
}

func (t *pgTx) GetRateTable(ctx context.Context) (models.RateTable, bool, error) {
	var raw []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE id = $1`, rateSettingsID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rate settings: %w", err)
	}
	table := models.RateTable{}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, false, fmt.Errorf("failed to decode rate settings: %w", err)
	}
	return table, true, nil
}

func (t *pgTx) PutRateTable(ctx context.Context, table models.RateTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to encode rate settings: %w", err)
	}
	query := `
		INSERT INTO settings (id, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := t.tx.ExecContext(ctx, query, rateSettingsID, raw); err != nil {
		return fmt.Errorf("failed to save rate settings: %w", err)
	}
	return nil
}

func (t *pgTx) ListExcluded(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT user_id FROM interest_exclusions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list interest exclusions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan interest exclusion: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *pgTx) SetExcluded(ctx context.Context, userID string, excluded bool) error {
	query := `DELETE FROM interest_exclusions WHERE user_id = $1`
	if excluded {
		query = `INSERT INTO interest_exclusions (user_id, created_at) VALUES ($1, CURRENT_TIMESTAMP) ON CONFLICT (user_id) DO NOTHING`
	}
	if _, err := t.tx.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to update interest exclusion: %w", err)
	}
	return nil
}

func (t *pgTx) GetTemplate(ctx context.Context, key string) (*models.Template, error) {
	tmpl := &models.Template{}
	err := t.tx.QueryRowContext(ctx, `SELECT key, subject, body FROM templates WHERE key = $1`, key).
		Scan(&tmpl.Key, &tmpl.Subject, &tmpl.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return tmpl, nil
}

func (t *pgTx) PutTemplate(ctx context.Context, tmpl *models.Template) error {
	query := `
		INSERT INTO templates (key, subject, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET subject = EXCLUDED.subject, body = EXCLUDED.body`
	if _, err := t.tx.ExecContext(ctx, query, tmpl.Key, tmpl.Subject, tmpl.Body); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (t *pgTx) ListTemplates(ctx context.Context) ([]models.Template, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT key, subject, body FROM templates ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []models.Template
	for rows.Next() {
		var tmpl models.Template
		if err := rows.Scan(&tmpl.Key, &tmpl.Subject, &tmpl.Body); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, tmpl)
	}
	return out, rows.Err()
}
