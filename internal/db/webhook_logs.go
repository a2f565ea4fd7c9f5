package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagoshq/pagos/internal/models"
)

// WebhookLogStore is the append-only audit trail of inbound gateway
// notifications. Rows are inserted before any interpretation of the payload
// so that unverifiable or unmatched notifications still leave a trace.
type WebhookLogStore struct {
	pool *pgxpool.Pool
}

func NewWebhookLogStore(pool *pgxpool.Pool) *WebhookLogStore {
	return &WebhookLogStore{pool: pool}
}

func (s *WebhookLogStore) Insert(ctx context.Context, log *models.WebhookLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_logs (id, gateway, payment_id, raw_payload, headers, signature_valid, processed)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING created_at
	`, log.ID, log.Gateway, log.PaymentID, log.RawPayload, log.Headers, log.SignatureValid)

	var createdAt pgtype.Timestamptz
	if err := row.Scan(&createdAt); err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	log.CreatedAt = createdAt.Time
	return nil
}

// MarkProcessed stamps a log row as handled and backfills the payment it
// resolved to.
func (s *WebhookLogStore) MarkProcessed(ctx context.Context, logID uuid.UUID, paymentID *uuid.UUID, signatureValid bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_logs
		SET processed = TRUE, processed_at = NOW(), payment_id = COALESCE($2, payment_id), signature_valid = $3
		WHERE id = $1
	`, logID, paymentID, signatureValid)
	return err
}

// MarkError records why a notification could not be processed, along with
// whether its signature had checked out by the time it was rejected. The row
// stays unprocessed so it shows up in reconciliation queries.
func (s *WebhookLogStore) MarkError(ctx context.Context, logID uuid.UUID, message string, signatureValid bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_logs SET error_message = $2, signature_valid = $3 WHERE id = $1
	`, logID, message, signatureValid)
	return err
}
