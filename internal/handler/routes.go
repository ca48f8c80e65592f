package handler

import (
	"net/http"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Router builds the HTTP routes
func (h *Handler) Router(cfg *config.Config, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics, middleware.RequestLogging(log))

	// Public routes
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/key-rate", h.KeyRate).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Signed-in users
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/session", h.Session).Methods(http.MethodPost)
	authRouter.HandleFunc("/me/balance", h.GetBalance).Methods(http.MethodGet)
	authRouter.HandleFunc("/me/history", h.GetHistory).Methods(http.MethodGet)
	authRouter.HandleFunc("/me/investments", h.GetInvestments).Methods(http.MethodGet)
	authRouter.HandleFunc("/me/interest", h.GetInterestPayouts).Methods(http.MethodGet)
	authRouter.HandleFunc("/me/requests/{kind}", h.GetMyRequests).Methods(http.MethodGet)
	authRouter.HandleFunc("/requests/investments", h.CreateInvestmentRequest).Methods(http.MethodPost)
	authRouter.HandleFunc("/requests/fd-withdrawals", h.CreateFDWithdrawalRequest).Methods(http.MethodPost)
	authRouter.HandleFunc("/requests/topups", h.CreateTopupRequest).Methods(http.MethodPost)
	authRouter.HandleFunc("/requests/balance-withdrawals", h.CreateBalanceWithdrawalRequest).Methods(http.MethodPost)

	// Admins
	admin := authRouter.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/requests/{kind}", h.ListPendingRequests).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{kind}/{id}/approve", h.Approve).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{kind}/{id}/reject", h.Reject).Methods(http.MethodPost)
	admin.HandleFunc("/interest/pay", h.PayInterest).Methods(http.MethodPost)
	admin.HandleFunc("/interest/exclusions", h.ListExclusions).Methods(http.MethodGet)
	admin.HandleFunc("/interest/exclusions/{userID}", h.Exclude).Methods(http.MethodPut)
	admin.HandleFunc("/interest/exclusions/{userID}", h.Include).Methods(http.MethodDelete)
	admin.HandleFunc("/maturity/sweep", h.SweepMatured).Methods(http.MethodPost)
	admin.HandleFunc("/settings/rates", h.GetRates).Methods(http.MethodGet)
	admin.HandleFunc("/settings/rates", h.PutRates).Methods(http.MethodPut)
	admin.HandleFunc("/templates/{key}", h.GetTemplate).Methods(http.MethodGet)
	admin.HandleFunc("/templates/{key}", h.PutTemplate).Methods(http.MethodPut)
	admin.HandleFunc("/mirror/{collection}", h.GetMirror).Methods(http.MethodGet)
	admin.HandleFunc("/stream/{collection}", h.Stream).Methods(http.MethodGet)

	return r
}
