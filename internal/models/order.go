package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusDraft          OrderStatus = "draft"
	StatusQuoteRequested OrderStatus = "quote_requested"
	StatusQuoteSent      OrderStatus = "quote_sent"
	StatusQuoteApproved  OrderStatus = "quote_approved"
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusRefunded       OrderStatus = "refunded"
)

type OrderType string

const (
	OrderTypeSale  OrderType = "sale"
	OrderTypeQuote OrderType = "quote"
)

// orderTransitions lists the legal next statuses for each order status.
// Terminal statuses have no entry.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusDraft:          {StatusPendingPayment, StatusQuoteRequested, StatusCancelled},
	StatusQuoteRequested: {StatusQuoteSent, StatusCancelled},
	StatusQuoteSent:      {StatusQuoteApproved, StatusCancelled},
	StatusQuoteApproved:  {StatusPendingPayment, StatusCancelled},
	StatusPendingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:           {StatusProcessing, StatusShipped, StatusCancelled, StatusRefunded},
	StatusProcessing:     {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:        {StatusDelivered, StatusRefunded},
	StatusDelivered:      {StatusRefunded},
}

// CanTransition reports whether moving from one order status to another is legal.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PayableStatuses are the order statuses from which a payment may be initiated.
func PayableStatuses() []OrderStatus {
	return []OrderStatus{StatusDraft, StatusPendingPayment, StatusQuoteApproved}
}

func (s OrderStatus) Payable() bool {
	for _, payable := range PayableStatuses() {
		if s == payable {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type Order struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	CustomerRef    string          `json:"customer_ref"`
	OrderNumber    int             `json:"order_number"`
	Type           OrderType       `json:"type"`
	Status         OrderStatus     `json:"status"`
	Currency       string          `json:"currency"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	Items          []OrderItem     `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         time.Time       `json:"paid_at,omitzero"`
	ShippedAt      time.Time       `json:"shipped_at,omitzero"`
	DeliveredAt    time.Time       `json:"delivered_at,omitzero"`
	CancelledAt    time.Time       `json:"cancelled_at,omitzero"`
	RefundedAt     time.Time       `json:"refunded_at,omitzero"`
	DeletedAt      time.Time       `json:"-"`
}

// OrderItem is an immutable snapshot of a variant at purchase time.
// Unit price and name are frozen here so later catalog edits never
// change the financial record.
type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	VariantID uuid.UUID       `json:"variant_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
}
