package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// GetOrder returns one order with its item snapshots.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	order, err := h.orderService.Get(ctx, orderID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, order)
}

// OrderTransition applies one operator-driven fulfillment transition named
// by the {action} path segment.
func (h *Handlers) OrderTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	orderID, err := uuid.Parse(vars["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var apply func(context.Context, uuid.UUID) error
	switch vars["action"] {
	case "send-quote":
		apply = h.orderService.SendQuote
	case "approve-quote":
		apply = h.orderService.ApproveQuote
	case "process":
		apply = h.orderService.StartProcessing
	case "ship":
		apply = h.orderService.MarkShipped
	case "deliver":
		apply = h.orderService.MarkDelivered
	case "refund":
		apply = h.orderService.MarkRefunded
	default:
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
		return
	}

	if err := apply(ctx, orderID); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	order, err := h.orderService.Get(ctx, orderID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, order)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels an order and releases any outstanding stock
// reservation. Safe to repeat.
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if err := h.orderService.Cancel(ctx, orderID, req.Reason); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	order, err := h.orderService.Get(ctx, orderID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, order)
}

// DeleteOrder soft-deletes an order.
func (h *Handlers) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	if err := h.orderService.Delete(ctx, orderID); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
