package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/services"
)

// PaymentWebhook ingests an asynchronous gateway notification. The body is
// captured verbatim before parsing so the audit log always holds exactly
// what the processor sent.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	gatewayName := mux.Vars(r)["gateway"]

	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant"))
	if err != nil {
		logger.Warn("webhook without tenant reference", "gateway", gatewayName)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		logger.Warn("failed to read webhook body", "gateway", gatewayName, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err = h.paymentService.HandleWebhook(ctx, services.WebhookInput{
		Gateway:  gatewayName,
		TenantID: tenantID,
		Notification: gateway.Notification{
			Params: notificationParams(r, body),
			Body:   body,
			Header: r.Header,
		},
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// notificationParams merges the query string with a form-encoded body.
// Processors are split on which of the two they use.
func notificationParams(r *http.Request, body []byte) url.Values {
	params := url.Values{}
	for key, values := range r.URL.Query() {
		if key == "tenant" {
			continue
		}
		params[key] = values
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(body)); err == nil {
			for key, values := range form {
				params[key] = values
			}
		}
	}
	return params
}
