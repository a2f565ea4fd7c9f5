package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/models"
)

type gatewayCredentialsRequest struct {
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	ReceiverID   string `json:"receiver_id"`
	CommerceCode string `json:"commerce_code"`
	Enabled      bool   `json:"enabled"`
}

// UpsertGatewayCredentials stores a tenant's credentials for one gateway.
// Secret material is encrypted before it touches the database and is never
// echoed back.
func (h *Handlers) UpsertGatewayCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	tenantID, err := uuid.Parse(vars["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid tenant id"})
		return
	}
	gatewayName := strings.ToLower(strings.TrimSpace(vars["gateway"]))
	switch gatewayName {
	case gateway.NameFlow, gateway.NameKhipu, gateway.NameTransbank, gateway.NameStripe:
	default:
		h.writeError(ctx, w, gateway.ErrUnsupportedGateway)
		return
	}

	var req gatewayCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.APIKey == "" || req.APISecret == "" {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "api_key and api_secret are required"})
		return
	}

	if _, err := h.tenantStore.GetByID(ctx, tenantID); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	err = h.tenantStore.UpsertGatewayCredentials(ctx, &models.GatewayCredentials{
		TenantID:     tenantID,
		Gateway:      gatewayName,
		APIKey:       req.APIKey,
		APISecret:    req.APISecret,
		ReceiverID:   req.ReceiverID,
		CommerceCode: req.CommerceCode,
		Enabled:      req.Enabled,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.loggerFromContext(ctx).Info("stored gateway credentials",
		"tenant_id", tenantID, "gateway", gatewayName, "enabled", req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}
