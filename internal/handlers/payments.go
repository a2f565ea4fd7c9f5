package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pagoshq/pagos/internal/services"
)

type initiatePaymentRequest struct {
	Gateway       string `json:"gateway"`
	CustomerEmail string `json:"customer_email"`
}

// InitiatePayment opens a payment attempt for an order and returns the
// redirect URL the customer should be sent to.
func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var req initiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Gateway == "" {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "gateway is required"})
		return
	}

	payment, err := h.paymentService.Initiate(ctx, services.InitiateInput{
		OrderID:       orderID,
		Gateway:       req.Gateway,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, payment)
}

// PaymentStatus reports one payment without contacting the gateway.
func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paymentID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid payment id"})
		return
	}

	payment, err := h.paymentService.Status(ctx, paymentID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, payment)
}

// PaymentLookup resolves the latest payment and its order either by
// order_id or by gateway+token query parameters.
func (h *Handlers) PaymentLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var orderID uuid.UUID
	if raw := r.URL.Query().Get("order_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid order_id"})
			return
		}
		orderID = parsed
	}
	gatewayName := r.URL.Query().Get("gateway")
	token := r.URL.Query().Get("token")

	if orderID == uuid.Nil && (gatewayName == "" || token == "") {
		h.writeJSON(ctx, w, http.StatusBadRequest,
			map[string]string{"error": "order_id or gateway+token is required"})
		return
	}

	snapshot, err := h.paymentService.Lookup(ctx, orderID, gatewayName, token)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, snapshot)
}

// VerifyPayment re-queries the gateway for the authoritative status and
// applies it. Operator-only escape hatch for lost notifications.
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paymentID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid payment id"})
		return
	}

	payment, err := h.paymentService.Verify(ctx, paymentID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, payment)
}
