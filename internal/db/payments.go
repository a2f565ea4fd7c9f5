package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagoshq/pagos/internal/models"
)

type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const paymentColumns = `
	id, order_id, gateway, status, amount, currency, transaction_id, token,
	payment_url, raw_response, error_message, attempt, created_at, completed_at
`

func (s *PaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payments (id, order_id, gateway, status, amount, currency, attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, payment.ID, payment.OrderID, payment.Gateway, payment.Status,
		payment.Amount, payment.Currency, payment.Attempt)

	var createdAt pgtype.Timestamptz
	if err := row.Scan(&createdAt); err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	payment.CreatedAt = createdAt.Time
	return nil
}

// CountForOrder counts every attempt ever made for the order, including
// failed and cancelled ones. The attempt cap is enforced against this.
func (s *PaymentStore) CountForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM payments WHERE order_id = $1
	`, orderID).Scan(&count)
	return count, err
}

// MarkProcessing records the gateway's create response on a pending payment
// and hands the customer off to the redirect.
func (s *PaymentStore) MarkProcessing(ctx context.Context, paymentID uuid.UUID, token, transactionID, paymentURL string, rawResponse []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments
		SET status = $1, token = $2, transaction_id = $3, payment_url = $4, raw_response = $5
		WHERE id = $6 AND status = $7
	`, models.PaymentProcessing, nullText(token), nullText(transactionID),
		nullText(paymentURL), rawResponse, paymentID, models.PaymentPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %s -> processing", ErrInvalidTransition, paymentID)
	}
	return nil
}

// MarkInitiationFailed closes an attempt whose gateway create call never
// produced a redirect.
func (s *PaymentStore) MarkInitiationFailed(ctx context.Context, paymentID uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payments SET status = $1, error_message = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, models.PaymentFailed, message, paymentID, models.PaymentPending, models.PaymentProcessing)
	return err
}

func (s *PaymentStore) GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
}

// LatestForOrder returns the most recent payment attempt for an order.
func (s *PaymentStore) LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return s.getOne(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, orderID)
}

func (s *PaymentStore) GetByToken(ctx context.Context, gateway, token string) (*models.Payment, error) {
	return s.getOne(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE gateway = $1 AND token = $2
		ORDER BY created_at DESC LIMIT 1
	`, gateway, token)
}

// FindForGatewayRef resolves a payment from whatever reference the gateway
// echoed back, preferring the transaction id over the token.
func (s *PaymentStore) FindForGatewayRef(ctx context.Context, gateway, transactionID, token string) (*models.Payment, error) {
	if transactionID != "" {
		payment, err := s.getOne(ctx, `
			SELECT `+paymentColumns+` FROM payments
			WHERE gateway = $1 AND transaction_id = $2
			ORDER BY created_at DESC LIMIT 1
		`, gateway, transactionID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}
	if token != "" {
		return s.GetByToken(ctx, gateway, token)
	}
	return nil, ErrPaymentNotFound
}

func (s *PaymentStore) getOne(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	payment, err := scanPayment(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return payment, err
}

// ApplyGatewayResult moves a payment to its terminal status and, on
// completion, flips the order to paid and converts the reservation into a
// stock decrement. The conditional updates are the idempotency guard:
// whichever of the webhook, the browser return, or a manual verification
// lands first wins the row, and everyone else observes applied == false.
func (s *PaymentStore) ApplyGatewayResult(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, transactionID string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("gateway result %q is not terminal", status)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint

	var orderID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $1,
		    transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		    completed_at = CASE WHEN $1 = 'completed' THEN COALESCE(completed_at, NOW()) ELSE completed_at END
		WHERE id = $3 AND status IN ('pending', 'processing')
		RETURNING order_id
	`, status, transactionID, paymentID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent observer already settled this payment. Losing the
		// race is only fine when both sides agree on the outcome.
		var current models.PaymentStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, paymentID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, ErrPaymentNotFound
			}
			return false, err
		}
		if current == status {
			return false, tx.Commit(ctx)
		}
		return false, fmt.Errorf("%w: payment %s is %s, got %s", ErrInvalidTransition, paymentID, current, status)
	}
	if err != nil {
		return false, err
	}

	if status != models.PaymentCompleted {
		return true, tx.Commit(ctx)
	}

	var orderType models.OrderType
	err = tx.QueryRow(ctx, `
		UPDATE orders SET status = $1, paid_at = COALESCE(paid_at, NOW())
		WHERE id = $2 AND status = ANY($3)
		RETURNING order_type
	`, models.StatusPaid, orderID, statusStrings(models.PayableStatuses())).Scan(&orderType)
	if errors.Is(err, pgx.ErrNoRows) {
		// Order already left the payable window; the payment row still
		// records the completion for reconciliation.
		return true, tx.Commit(ctx)
	}
	if err != nil {
		return false, err
	}

	if orderType == models.OrderTypeSale {
		if err := commitStock(ctx, tx, orderID); err != nil {
			return false, err
		}
	}

	return true, tx.Commit(ctx)
}

// commitStock converts each line's reservation into an owned-stock
// decrement. Runs at most once per order because the paid transition above
// is the gate.
func commitStock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE product_variants v
		SET stock_quantity = v.stock_quantity - i.quantity,
		    reserved_quantity = GREATEST(v.reserved_quantity - i.quantity, 0)
		FROM order_items i
		WHERE i.order_id = $1 AND i.variant_id = v.id AND v.stock_managed
	`, orderID)
	if err != nil {
		return fmt.Errorf("failed to commit stock: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		payment       models.Payment
		transactionID pgtype.Text
		token         pgtype.Text
		paymentURL    pgtype.Text
		errorMessage  pgtype.Text
		createdAt     pgtype.Timestamptz
		completedAt   pgtype.Timestamptz
	)
	err := row.Scan(&payment.ID, &payment.OrderID, &payment.Gateway, &payment.Status,
		&payment.Amount, &payment.Currency, &transactionID, &token,
		&paymentURL, &payment.RawResponse, &errorMessage, &payment.Attempt,
		&createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	payment.TransactionID = transactionID.String
	payment.Token = token.String
	payment.PaymentURL = paymentURL.String
	payment.ErrorMessage = errorMessage.String
	payment.CreatedAt = createdAt.Time
	payment.CompletedAt = timeOrZero(completedAt)
	return &payment, nil
}
