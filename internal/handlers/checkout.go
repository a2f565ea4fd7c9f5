package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pagoshq/pagos/internal/models"
	"github.com/pagoshq/pagos/internal/services"
)

type checkoutItemRequest struct {
	VariantID uuid.UUID `json:"variant_id"`
	Quantity  int       `json:"quantity"`
}

type checkoutRequest struct {
	TenantID    uuid.UUID             `json:"tenant_id"`
	CustomerRef string                `json:"customer_ref"`
	OrderType   string                `json:"order_type"`
	Items       []checkoutItemRequest `json:"items"`
	CouponCode  string                `json:"coupon_code"`
	RegionCode  string                `json:"region_code"`
	Pickup      bool                  `json:"pickup"`
}

// Checkout creates a priced order from a cart.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.TenantID == uuid.Nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}
	if len(req.Items) == 0 {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "items must not be empty"})
		return
	}

	orderType := models.OrderTypeSale
	switch req.OrderType {
	case "", string(models.OrderTypeSale):
	case string(models.OrderTypeQuote):
		orderType = models.OrderTypeQuote
	default:
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "order_type must be sale or quote"})
		return
	}

	input := services.CheckoutInput{
		TenantID:    req.TenantID,
		CustomerRef: req.CustomerRef,
		OrderType:   orderType,
		CouponCode:  req.CouponCode,
		RegionCode:  req.RegionCode,
		Pickup:      req.Pickup,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, services.CheckoutItem{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.checkoutService.Checkout(ctx, input)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, order)
}
