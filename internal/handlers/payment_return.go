package handlers

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pagoshq/pagos/internal/services"
)

// PaymentReturn receives the customer's browser back from the gateway,
// settles the payment when the webhook has not already done so, and
// redirects to the storefront. Gateways POST or GET here depending on the
// protocol, so both methods route to this handler.
func (h *Handlers) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gatewayName := mux.Vars(r)["gateway"]
	query := r.URL.Query()

	tenantID, err := uuid.Parse(query.Get("tenant"))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	paymentID, err := uuid.Parse(query.Get("payment"))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	params := url.Values{}
	for key, values := range query {
		params[key] = values
	}
	if err := r.ParseForm(); err == nil {
		for key, values := range r.PostForm {
			params[key] = values
		}
	}

	redirect, err := h.paymentService.HandleReturn(ctx, services.ReturnInput{
		Gateway:   gatewayName,
		TenantID:  tenantID,
		PaymentID: paymentID,
		Params:    params,
	})
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to handle payment return",
			"gateway", gatewayName, "payment_id", paymentID, "error", err)
		// The customer still needs to land somewhere; the payment will be
		// reconciled by the webhook or a manual verification.
		http.Redirect(w, r, h.config.FrontendBaseURL+"/orders", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, redirect, http.StatusSeeOther)
}
