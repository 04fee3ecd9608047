package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the public health and metrics endpoints and the authenticated /api/v1 routes.
func NewRouter(h *Handler, auth *Authenticator) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth.Middleware)

	v1.HandleFunc("/wallet", h.CreateWalletHandler).Methods(http.MethodPost)
	v1.HandleFunc("/wallet/import", h.ImportWalletHandler).Methods(http.MethodPost)
	v1.HandleFunc("/wallet/balances", h.BalancesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallet/trustlines", h.AddTrustlineHandler).Methods(http.MethodPost)

	v1.HandleFunc("/payments", h.CreatePaymentHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payments/path", h.CreatePathPaymentHandler).Methods(http.MethodPost)
	v1.HandleFunc("/paths", h.FindPathsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/quote", h.QuoteHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)

	v1.HandleFunc("/escrows", h.CreateEscrowHandler).Methods(http.MethodPost)
	v1.HandleFunc("/escrows", h.ListEscrowsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/escrows/{id}", h.GetEscrowHandler).Methods(http.MethodGet)
	v1.HandleFunc("/escrows/{id}/release", h.ReleaseEscrowHandler).Methods(http.MethodPost)
	v1.HandleFunc("/escrows/{id}/refund", h.RefundEscrowHandler).Methods(http.MethodPost)

	v1.HandleFunc("/pools", h.CreatePoolHandler).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{id}", h.GetPoolHandler).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{id}/contributions", h.ContributeHandler).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{id}/withdrawals", h.WithdrawHandler).Methods(http.MethodPost)

	v1.HandleFunc("/tokens", h.IssueTokenHandler).Methods(http.MethodPost)
	v1.HandleFunc("/tokens", h.ListTokensHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{id}", h.GetTokenHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{id}/distributions", h.DistributeTokenHandler).Methods(http.MethodPost)

	v1.HandleFunc("/ws", h.WebsocketHandler).Methods(http.MethodGet)
	return r
}
