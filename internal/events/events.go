// Package events publishes payment lifecycle events to Kafka. Publishing is
// best effort: a broker outage never blocks or rolls back an order
// transition, it only costs the downstream consumers a notification.
package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventPaymentCompleted = "PaymentCompleted"
	EventPaymentFailed    = "PaymentFailed"
	EventPaymentCancelled = "PaymentCancelled"
	EventOrderCancelled   = "OrderCancelled"
)

// Envelope is the versioned wrapper around every published payload.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type PaymentEventPayload struct {
	PaymentID     string          `json:"payment_id"`
	OrderID       string          `json:"order_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Gateway       string          `json:"gateway"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Attempt       int             `json:"attempt"`
}

type OrderCancelledPayload struct {
	OrderID  string `json:"order_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
