package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pagoshq/pagos/internal/config"
	"github.com/pagoshq/pagos/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)

	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")

	// Gateway-facing endpoints. The return route accepts POST as well
	// because Webpay sends the customer's browser back with a form post.
	r.HandleFunc("/webhooks/payments/{gateway}", h.PaymentWebhook).Methods("POST", "GET").Name("webhooks.payments")
	r.HandleFunc("/payments/return/{gateway}", h.PaymentReturn).Methods("GET", "POST").Name("payments.return")

	// Storefront API.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/checkout", h.Checkout).Methods("POST").Name("api.checkout")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET").Name("api.orders.get")
	api.HandleFunc("/orders/{id}/payments", h.InitiatePayment).Methods("POST").Name("api.orders.payments")
	api.HandleFunc("/payments", h.PaymentLookup).Methods("GET").Name("api.payments.lookup")
	api.HandleFunc("/payments/{id}", h.PaymentStatus).Methods("GET").Name("api.payments.status")

	// Operator endpoints.
	operator := r.PathPrefix("/api").Subrouter()
	operator.Use(h.RequireOperator)
	operator.HandleFunc("/payments/{id}/verify", h.VerifyPayment).Methods("POST").Name("api.payments.verify")
	operator.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST").Name("api.orders.cancel")
	operator.HandleFunc("/orders/{id}/transition/{action}", h.OrderTransition).Methods("POST").Name("api.orders.transition")
	operator.HandleFunc("/orders/{id}", h.DeleteOrder).Methods("DELETE").Name("api.orders.delete")
	operator.HandleFunc("/tenants/{id}/gateways/{gateway}", h.UpsertGatewayCredentials).Methods("PUT").Name("api.tenants.gateways")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	return r
}
