package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Dan9191/deposit-service/internal/middleware"
	"github.com/Dan9191/deposit-service/internal/mirror"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier delivers post-approval messages in the background
type Notifier interface {
	NotifyAsync(user models.User, a *service.Approval)
}

type Handler struct {
	svc      *service.Service
	mirror   *mirror.Mirror
	notifier Notifier
	rates    service.RateSource
	log      *logrus.Logger
}

// NewHandler wires the HTTP surface. mirror, notifier and rates may be nil.
func NewHandler(svc *service.Service, m *mirror.Mirror, notifier Notifier, rates service.RateSource, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, mirror: m, notifier: notifier, rates: rates, log: log}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type fdWithdrawalRequest struct {
	InvestmentID string `json:"investment_id"`
}

type interestRequest struct {
	AnnualRate decimal.Decimal `json:"annual_rate"`
}

// Session records the caller on sign-in and returns their wallet balance
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	balance, err := h.svc.EnsureUser(r.Context(), models.User{
		ID:        id.UserID,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
		Email:     id.Email,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": id.UserID,
		"admin":   id.Admin,
		"balance": balance,
	})
}

// GetBalance returns the caller's wallet balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.GetBalance(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetHistory returns the caller's balance history, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListHistory(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *Handler) GetInvestments(w http.ResponseWriter, r *http.Request) {
	investments, err := h.svc.ListInvestments(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(investments))
}

func (h *Handler) GetInterestPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.svc.ListInterestPayouts(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(payouts))
}

// GetMyRequests lists the caller's pending requests of one kind
func (h *Handler) GetMyRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.svc.ListRequests(r.Context(), models.RequestKind(mux.Vars(r)["kind"]), identity(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(requests))
}

func (h *Handler) CreateInvestmentRequest(w http.ResponseWriter, r *http.Request) {
	var in service.InvestmentInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.svc.CreateInvestmentRequest(r.Context(), identity(r).UserID, in)
	h.created(w, req, err)
}

func (h *Handler) CreateFDWithdrawalRequest(w http.ResponseWriter, r *http.Request) {
	var in fdWithdrawalRequest
	if !decode(w, r, &in) {
		return
	}
	req, err := h.svc.CreateFDWithdrawalRequest(r.Context(), identity(r).UserID, in.InvestmentID)
	h.created(w, req, err)
}

func (h *Handler) CreateTopupRequest(w http.ResponseWriter, r *http.Request) {
	var in amountRequest
	if !decode(w, r, &in) {
		return
	}
	req, err := h.svc.CreateTopupRequest(r.Context(), identity(r).UserID, in.Amount)
	h.created(w, req, err)
}

func (h *Handler) CreateBalanceWithdrawalRequest(w http.ResponseWriter, r *http.Request) {
	var in amountRequest
	if !decode(w, r, &in) {
		return
	}
	req, err := h.svc.CreateBalanceWithdrawalRequest(r.Context(), identity(r).UserID, in.Amount)
	h.created(w, req, err)
}

// ListPendingRequests lists every pending request of a kind with the user's name
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.svc.ListRequests(r.Context(), models.RequestKind(mux.Vars(r)["kind"]), "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(requests))
}

// Approve runs the approval for a pending request and, once it commits,
// notifies the owner
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	approval, err := h.svc.Approve(r.Context(), models.RequestKind(vars["kind"]), vars["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.notify(r.Context(), approval)
	writeJSON(w, http.StatusOK, approval)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	req, err := h.svc.Reject(r.Context(), models.RequestKind(vars["kind"]), vars["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// PayInterest credits monthly interest to every wallet. Without a rate in
// the body the configured or reference rate is used.
func (h *Handler) PayInterest(w http.ResponseWriter, r *http.Request) {
	var in interestRequest
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	rate, err := h.svc.ResolveInterestRate(r.Context(), in.AnnualRate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	run, err := h.svc.PayInterestToAll(r.Context(), rate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) SweepMatured(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.SweepMatured(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": nonNil(created)})
}

func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	table, err := h.svc.GetRates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) PutRates(w http.ResponseWriter, r *http.Request) {
	var table models.RateTable
	if !decode(w, r, &table) {
		return
	}
	if err := h.svc.SetRates(r.Context(), table); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) ListExclusions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListInterestExclusions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ids))
}

func (h *Handler) Exclude(w http.ResponseWriter, r *http.Request) {
	h.setExcluded(w, r, true)
}

func (h *Handler) Include(w http.ResponseWriter, r *http.Request) {
	h.setExcluded(w, r, false)
}

func (h *Handler) setExcluded(w http.ResponseWriter, r *http.Request, excluded bool) {
	if err := h.svc.ExcludeFromInterest(r.Context(), mux.Vars(r)["userID"], excluded); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.svc.GetTemplate(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *Handler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl models.Template
	if !decode(w, r, &tmpl) {
		return
	}
	tmpl.Key = mux.Vars(r)["key"]
	if err := h.svc.PutTemplate(r.Context(), tmpl); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

// GetMirror returns the latest read-model snapshot of a collection
func (h *Handler) GetMirror(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeMessage(w, http.StatusServiceUnavailable, "read-model is not running")
		return
	}
	snap, err := h.mirror.Get(mux.Vars(r)["collection"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// KeyRate reports the current reference key rate
func (h *Handler) KeyRate(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		writeMessage(w, http.StatusServiceUnavailable, "no reference rate source configured")
		return
	}
	rate, err := h.rates.GetKeyRate(r.Context())
	if err != nil {
		h.log.WithError(err).Warn("Failed to get key rate")
		writeMessage(w, http.StatusBadGateway, "Failed to get key rate")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"key_rate": rate})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) created(w http.ResponseWriter, req *models.Request, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) notify(ctx context.Context, a *service.Approval) {
	if h.notifier == nil {
		return
	}
	user, err := h.svc.GetUser(ctx, a.Request.UserID)
	if err != nil {
		h.log.WithField("user_id", a.Request.UserID).WithError(err).Warn("No user record, skipping notification")
		return
	}
	h.notifier.NotifyAsync(*user, a)
}

// writeError maps the error taxonomy onto HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch models.Classify(err) {
	case models.ClassNotFound:
		status = http.StatusNotFound
	case models.ClassPrecondition:
		status = http.StatusUnprocessableEntity
	case models.ClassConflict:
		status = http.StatusConflict
	default:
		if errors.Is(err, mirror.ErrUnknownCollection) {
			status = http.StatusNotFound
		}
	}

	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("Request failed")
		writeMessage(w, status, "internal error")
		return
	}
	writeMessage(w, status, err.Error())
}

func identity(r *http.Request) middleware.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
