package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagoshq/pagos/internal/config"
	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/logging"
	"github.com/pagoshq/pagos/internal/services"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// Handlers provides the HTTP endpoints of the payment API.
type Handlers struct {
	config          *config.Config
	db              *pgxpool.Pool
	checkoutService *services.CheckoutService
	paymentService  *services.PaymentService
	orderService    *services.OrderService
	tenantStore     *db.TenantStore
	logger          *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	DB              *pgxpool.Pool
	CheckoutService *services.CheckoutService
	PaymentService  *services.PaymentService
	OrderService    *services.OrderService
	TenantStore     *db.TenantStore
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CheckoutService == nil {
		return nil, fmt.Errorf("handlers dependencies: checkoutService is required")
	}
	if deps.PaymentService == nil {
		return nil, fmt.Errorf("handlers dependencies: paymentService is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.TenantStore == nil {
		return nil, fmt.Errorf("handlers dependencies: tenantStore is required")
	}

	return &Handlers{
		config:          deps.Config,
		db:              deps.DB,
		checkoutService: deps.CheckoutService,
		paymentService:  deps.PaymentService,
		orderService:    deps.OrderService,
		tenantStore:     deps.TenantStore,
		logger:          logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFromContext(ctx).Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.loggerFromContext(ctx).Error("request failed", "error", err)
		h.writeJSON(ctx, w, status, map[string]string{"error": "internal error"})
		return
	}

	h.loggerFromContext(ctx).Warn("request rejected", "status", status, "error", err)
	h.writeJSON(ctx, w, status, map[string]string{"error": err.Error()})
}

// statusForError maps domain errors to HTTP statuses. Conflicting state is
// 409; everything the caller could fix is 4xx; the rest is a 500.
func statusForError(err error) int {
	var stockErr *db.InsufficientStockError
	switch {
	case errors.Is(err, db.ErrOrderNotFound),
		errors.Is(err, db.ErrPaymentNotFound),
		errors.Is(err, db.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.As(err, &stockErr),
		errors.Is(err, services.ErrOrderNotPayable),
		errors.Is(err, services.ErrTooManyAttempts),
		errors.Is(err, db.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrUnsupportedGateway),
		errors.Is(err, services.ErrGatewayNotConfigured),
		errors.Is(err, services.ErrVariantNotFound),
		errors.Is(err, gateway.ErrSignatureInvalid),
		errors.Is(err, services.ErrAmountMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close() //nolint

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
