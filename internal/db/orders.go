package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagoshq/pagos/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, tenant_id, customer_ref, order_number, order_type, status, currency,
	subtotal, discount, shipping_cost, tax, total, coupon_code,
	created_at, paid_at, shipped_at, delivered_at, cancelled_at, refunded_at
`

// CreateCheckout persists an order with its item snapshots, reserves stock
// for sale orders, and records the coupon redemption, all in one
// transaction. Any insufficient line aborts the whole creation; nothing is
// partially reserved.
func (s *OrderStore) CreateCheckout(ctx context.Context, order *models.Order, coupon *models.DiscountCoupon) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (
			id, tenant_id, customer_ref, order_number, order_type, status, currency,
			subtotal, discount, shipping_cost, tax, total, coupon_code
		)
		VALUES (
			$1, $2, $3,
			COALESCE((SELECT MAX(order_number) FROM orders WHERE tenant_id = $2), 0) + 1,
			$4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING order_number, created_at
	`, order.ID, order.TenantID, order.CustomerRef, order.Type, order.Status, order.Currency,
		order.Subtotal, order.Discount, order.ShippingCost, order.Tax, order.Total,
		nullText(order.CouponCode))

	var createdAt pgtype.Timestamptz
	if err := row.Scan(&order.OrderNumber, &createdAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.CreatedAt = createdAt.Time

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = order.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, sku, name, unit_price, quantity, subtotal, tax, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, item.ID, item.OrderID, item.VariantID, item.SKU, item.Name,
			item.UnitPrice, item.Quantity, item.Subtotal, item.Tax, item.Total); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if order.Type == models.OrderTypeSale {
		if err := reserveStock(ctx, tx, order.Items); err != nil {
			return err
		}
	}

	if coupon != nil {
		if err := redeemCoupon(ctx, tx, coupon.ID, order.ID, order.Discount); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// reserveStock places holds for every stock-managed line, locking each
// variant row for the duration of the check-and-increment.
func reserveStock(ctx context.Context, tx pgx.Tx, items []models.OrderItem) error {
	for _, item := range items {
		var (
			stock, reserved int
			stockManaged    bool
			sku             string
		)
		err := tx.QueryRow(ctx, `
			SELECT stock_quantity, reserved_quantity, stock_managed, sku
			FROM product_variants WHERE id = $1 FOR UPDATE
		`, item.VariantID).Scan(&stock, &reserved, &stockManaged, &sku)
		if err != nil {
			return fmt.Errorf("failed to lock variant %s: %w", item.VariantID, err)
		}

		if !stockManaged {
			continue
		}

		available := stock - reserved
		if available < 0 {
			available = 0
		}
		if available < item.Quantity {
			return &InsufficientStockError{
				VariantID: item.VariantID.String(),
				SKU:       sku,
				Requested: item.Quantity,
				Available: available,
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE product_variants SET reserved_quantity = reserved_quantity + $2 WHERE id = $1
		`, item.VariantID, item.Quantity); err != nil {
			return fmt.Errorf("failed to reserve stock for %s: %w", sku, err)
		}
	}
	return nil
}

// redeemCoupon increments the use counter exactly once and writes the usage
// ledger row. Losing the increment race surfaces ErrCouponExhausted so the
// caller can re-price without the coupon.
func redeemCoupon(ctx context.Context, tx pgx.Tx, couponID, orderID uuid.UUID, amount any) error {
	tag, err := tx.Exec(ctx, `
		UPDATE discount_coupons SET current_uses = current_uses + 1
		WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)
	`, couponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon uses: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponExhausted
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, order_id, amount, used_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New(), couponID, orderID, amount); err != nil {
		return fmt.Errorf("failed to insert coupon usage: %w", err)
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1 AND deleted_at IS NULL
	`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	items, err := s.itemsFor(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *OrderStore) itemsFor(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, variant_id, sku, name, unit_price, quantity, subtotal, tax, total
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.SKU, &item.Name,
			&item.UnitPrice, &item.Quantity, &item.Subtotal, &item.Tax, &item.Total); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPendingPayment moves a payable order into pending_payment. Calling it
// on an order already pending is a no-op success, which keeps payment
// retries simple.
func (s *OrderStore) MarkPendingPayment(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusPendingPayment, "", []models.OrderStatus{
		models.StatusDraft, models.StatusQuoteApproved, models.StatusPendingPayment,
	})
}

func (s *OrderStore) MarkQuoteSent(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusQuoteSent, "", []models.OrderStatus{models.StatusQuoteRequested})
}

func (s *OrderStore) MarkQuoteApproved(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusQuoteApproved, "", []models.OrderStatus{models.StatusQuoteSent})
}

func (s *OrderStore) MarkProcessing(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusProcessing, "", []models.OrderStatus{models.StatusPaid})
}

func (s *OrderStore) MarkShipped(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusShipped, "shipped_at", []models.OrderStatus{
		models.StatusPaid, models.StatusProcessing,
	})
}

func (s *OrderStore) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusDelivered, "delivered_at", []models.OrderStatus{models.StatusShipped})
}

func (s *OrderStore) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusRefunded, "refunded_at", []models.OrderStatus{
		models.StatusPaid, models.StatusProcessing, models.StatusShipped, models.StatusDelivered,
	})
}

// transition applies a guarded status change. The WHERE clause over the
// prior statuses is the serialization point: concurrent writers either win
// the row or observe zero rows affected.
func (s *OrderStore) transition(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, timestampColumn string, from []models.OrderStatus) error {
	setClause := "status = $1"
	if timestampColumn != "" {
		// First write wins; a repeated transition never moves the timestamp.
		setClause += fmt.Sprintf(", %s = COALESCE(%s, NOW())", timestampColumn, timestampColumn)
	}

	query := fmt.Sprintf(`
		UPDATE orders SET %s
		WHERE id = $2 AND deleted_at IS NULL AND status = ANY($3)
	`, setClause)

	tag, err := s.pool.Exec(ctx, query, to, orderID, statusStrings(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s -> %s", ErrInvalidTransition, orderID, to)
	}
	return nil
}

// Cancel cancels a non-terminal, non-shipped order and releases any
// outstanding reservation. Cancelling an already-cancelled order is a
// no-op; the release never runs twice because the status guard fails the
// second attempt before any counter moves.
func (s *OrderStore) Cancel(ctx context.Context, orderID uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint

	var (
		status    models.OrderStatus
		orderType models.OrderType
	)
	err = tx.QueryRow(ctx, `
		SELECT status, order_type FROM orders
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
	`, orderID).Scan(&status, &orderType)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}

	if status == models.StatusCancelled {
		return tx.Commit(ctx)
	}
	if !models.CanTransition(status, models.StatusCancelled) {
		return fmt.Errorf("%w: order %s %s -> cancelled", ErrInvalidTransition, orderID, status)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, cancelled_at = COALESCE(cancelled_at, NOW())
		WHERE id = $2
	`, models.StatusCancelled, orderID); err != nil {
		return err
	}

	// Pre-payment cancellations still hold reservations; paid orders have
	// already converted them into decrements.
	if orderType == models.OrderTypeSale && status != models.StatusPaid && status != models.StatusProcessing {
		if err := releaseStock(ctx, tx, orderID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func releaseStock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE product_variants v
		SET reserved_quantity = GREATEST(v.reserved_quantity - i.quantity, 0)
		FROM order_items i
		WHERE i.order_id = $1 AND i.variant_id = v.id AND v.stock_managed
	`, orderID)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	return nil
}

// SoftDelete hides an order without destroying the financial record.
func (s *OrderStore) SoftDelete(ctx context.Context, orderID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order       models.Order
		couponCode  pgtype.Text
		createdAt   pgtype.Timestamptz
		paidAt      pgtype.Timestamptz
		shippedAt   pgtype.Timestamptz
		deliveredAt pgtype.Timestamptz
		cancelledAt pgtype.Timestamptz
		refundedAt  pgtype.Timestamptz
	)
	err := row.Scan(&order.ID, &order.TenantID, &order.CustomerRef, &order.OrderNumber,
		&order.Type, &order.Status, &order.Currency,
		&order.Subtotal, &order.Discount, &order.ShippingCost, &order.Tax, &order.Total,
		&couponCode, &createdAt, &paidAt, &shippedAt, &deliveredAt, &cancelledAt, &refundedAt)
	if err != nil {
		return nil, err
	}

	if couponCode.Valid {
		order.CouponCode = couponCode.String
	}
	order.CreatedAt = createdAt.Time
	order.PaidAt = timeOrZero(paidAt)
	order.ShippedAt = timeOrZero(shippedAt)
	order.DeliveredAt = timeOrZero(deliveredAt)
	order.CancelledAt = timeOrZero(cancelledAt)
	order.RefundedAt = timeOrZero(refundedAt)
	return &order, nil
}

func timeOrZero(ts pgtype.Timestamptz) time.Time {
	if ts.Valid {
		return ts.Time
	}
	return time.Time{}
}

func nullText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
