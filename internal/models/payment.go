package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

// MaxPaymentAttempts caps how many payment rows may be created for one order.
// Failed and cancelled attempts count; a completed payment closes the order.
const MaxPaymentAttempts = 3

// Payment is one attempt to pay an order through one gateway. An order may
// accumulate several failed or cancelled attempts but at most one completed
// payment.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	Gateway       string          `json:"gateway"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Token         string          `json:"token,omitempty"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	RawResponse   []byte          `json:"-"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Attempt       int             `json:"attempt"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   time.Time       `json:"completed_at,omitzero"`
}

// WebhookLog is the append-only audit record of one inbound gateway
// notification. A row is written before any interpretation of the payload
// and survives even when no matching payment exists.
type WebhookLog struct {
	ID             uuid.UUID  `json:"id"`
	Gateway        string     `json:"gateway"`
	PaymentID      *uuid.UUID `json:"payment_id,omitempty"`
	RawPayload     []byte     `json:"-"`
	Headers        []byte     `json:"-"`
	SignatureValid bool       `json:"signature_valid"`
	Processed      bool       `json:"processed"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    time.Time  `json:"processed_at,omitzero"`
}
