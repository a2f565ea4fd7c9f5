package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/events"
	"github.com/pagoshq/pagos/internal/logging"
	"github.com/pagoshq/pagos/internal/models"
)

// OrderService exposes the operator-driven order transitions: the quote
// round trip and fulfillment. Payment-driven transitions live in
// PaymentService.
type OrderService struct {
	orderStore *db.OrderStore
	publisher  *events.Publisher
	logger     *slog.Logger
}

func NewOrderService(orderStore *db.OrderStore, publisher *events.Publisher, logger *slog.Logger) *OrderService {
	return &OrderService{orderStore: orderStore, publisher: publisher, logger: logger}
}

func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.orderStore.GetByID(ctx, orderID)
}

func (s *OrderService) SendQuote(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusQuoteSent, s.orderStore.MarkQuoteSent)
}

func (s *OrderService) ApproveQuote(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusQuoteApproved, s.orderStore.MarkQuoteApproved)
}

func (s *OrderService) StartProcessing(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusProcessing, s.orderStore.MarkProcessing)
}

func (s *OrderService) MarkShipped(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusShipped, s.orderStore.MarkShipped)
}

func (s *OrderService) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusDelivered, s.orderStore.MarkDelivered)
}

func (s *OrderService) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusRefunded, s.orderStore.MarkRefunded)
}

// Cancel cancels an order and releases its reservation when one is still
// outstanding. Repeated cancellations are no-ops.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	if err := s.orderStore.Cancel(ctx, orderID); err != nil {
		return err
	}

	logging.FromContext(ctx, s.logger).Info("order cancelled", "order_id", orderID, "reason", reason)
	s.publisher.Publish(ctx, events.EventOrderCancelled, orderID.String(), events.OrderCancelledPayload{
		OrderID: orderID.String(),
		Reason:  reason,
	})
	return nil
}

// Delete soft-deletes an order. The row stays behind for the audit trail
// but disappears from every store query.
func (s *OrderService) Delete(ctx context.Context, orderID uuid.UUID) error {
	if err := s.orderStore.SoftDelete(ctx, orderID); err != nil {
		return err
	}
	logging.FromContext(ctx, s.logger).Info("order deleted", "order_id", orderID)
	return nil
}

func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, apply func(context.Context, uuid.UUID) error) error {
	if err := apply(ctx, orderID); err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}
	logging.FromContext(ctx, s.logger).Info("order transitioned", "order_id", orderID, "status", to)
	return nil
}
