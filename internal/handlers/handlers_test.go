package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/services"
)

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "order not found", err: db.ErrOrderNotFound, want: http.StatusNotFound},
		{name: "payment not found", err: db.ErrPaymentNotFound, want: http.StatusNotFound},
		{name: "tenant not found", err: db.ErrTenantNotFound, want: http.StatusNotFound},
		{name: "wrapped not found", err: fmt.Errorf("loading order: %w", db.ErrOrderNotFound), want: http.StatusNotFound},
		{name: "insufficient stock", err: &db.InsufficientStockError{Requested: 5, Available: 2}, want: http.StatusConflict},
		{name: "order not payable", err: services.ErrOrderNotPayable, want: http.StatusConflict},
		{name: "too many attempts", err: services.ErrTooManyAttempts, want: http.StatusConflict},
		{name: "invalid transition", err: db.ErrInvalidTransition, want: http.StatusConflict},
		{name: "unsupported gateway", err: gateway.ErrUnsupportedGateway, want: http.StatusBadRequest},
		{name: "gateway not configured", err: services.ErrGatewayNotConfigured, want: http.StatusBadRequest},
		{name: "variant not found", err: services.ErrVariantNotFound, want: http.StatusBadRequest},
		{name: "invalid signature", err: gateway.ErrSignatureInvalid, want: http.StatusBadRequest},
		{name: "amount mismatch", err: services.ErrAmountMismatch, want: http.StatusBadRequest},
		{name: "unknown error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := statusForError(tc.err); got != tc.want {
				t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
