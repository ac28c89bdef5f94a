package api

import (
	"github.com/gorilla/mux"
	"github.com/trogers1052/fund-share-service/internal/metrics"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	// Health check and metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Fund routes
	api.HandleFunc("/funds", handler.ListFunds).Methods("GET")
	api.HandleFunc("/funds", handler.RegisterFund).Methods("POST")
	api.HandleFunc("/funds/{code}", handler.GetFund).Methods("GET")
	api.HandleFunc("/funds/{code}", handler.DeleteFund).Methods("DELETE")
	api.HandleFunc("/funds/{code}/history", handler.GetFundHistory).Methods("GET")
	api.HandleFunc("/funds/{code}/average", handler.GetFundAverage).Methods("GET")

	// Transaction and account routes
	api.HandleFunc("/transactions", handler.CreateTransaction).Methods("POST")
	api.HandleFunc("/users", handler.CreateUser).Methods("POST")
	api.HandleFunc("/users/{id:[0-9]+}/portfolio", handler.GetPortfolio).Methods("GET")
	api.HandleFunc("/users/{id:[0-9]+}/transactions", handler.GetTransactions).Methods("GET")
	api.HandleFunc("/users/{id:[0-9]+}/profits", handler.GetProfits).Methods("GET")
	api.HandleFunc("/users/{id:[0-9]+}/principal", handler.UpdatePrincipal).Methods("PUT")
	api.HandleFunc("/users/{id:[0-9]+}/agreement", handler.PutAgreement).Methods("PUT")

	// Reports
	api.HandleFunc("/reports", handler.GetReport).Methods("GET")

	// Admin triggers
	api.HandleFunc("/admin/refresh", handler.Refresh).Methods("POST")
	api.HandleFunc("/admin/settle", handler.Settle).Methods("POST")

	return r
}
