package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tenant is one storefront. Tax policy and gateway credentials hang off the
// tenant; everything financial is computed against its policy.
type Tenant struct {
	ID                    uuid.UUID        `json:"id"`
	Name                  string           `json:"name"`
	Currency              string           `json:"currency"`
	TaxRate               decimal.Decimal  `json:"tax_rate"`
	PricesIncludeTax      bool             `json:"prices_include_tax"`
	FreeShippingThreshold *decimal.Decimal `json:"free_shipping_threshold,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
}

// GatewayCredentials holds one tenant's credentials for one payment gateway.
// The secret material is stored encrypted and only decrypted when building
// adapters.
type GatewayCredentials struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	Gateway      string    `json:"gateway"`
	APIKey       string    `json:"api_key"`
	APISecret    string    `json:"api_secret"`
	ReceiverID   string    `json:"receiver_id,omitempty"`
	CommerceCode string    `json:"commerce_code,omitempty"`
	Enabled      bool      `json:"enabled"`
}

// ProductVariant carries the stock counters the reservation flow operates on.
// stock_quantity is the owned truth, reserved_quantity the outstanding holds;
// available stock is always derived, never persisted.
type ProductVariant struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	WeightKg     decimal.Decimal `json:"weight_kg"`
	StockManaged bool            `json:"stock_managed"`
	Stock        int             `json:"stock_quantity"`
	Reserved     int             `json:"reserved_quantity"`
}

// AvailableStock is stock minus outstanding reservations, floored at zero.
func (v *ProductVariant) AvailableStock() int {
	available := v.Stock - v.Reserved
	if available < 0 {
		return 0
	}
	return available
}
