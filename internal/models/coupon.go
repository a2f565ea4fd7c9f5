package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponPercentage CouponType = "percentage"
	CouponFixed      CouponType = "fixed"
)

type DiscountCoupon struct {
	ID                uuid.UUID        `json:"id"`
	TenantID          uuid.UUID        `json:"tenant_id"`
	Code              string           `json:"code"`
	Type              CouponType       `json:"type"`
	Value             decimal.Decimal  `json:"value"`
	MaxUses           *int             `json:"max_uses,omitempty"`
	CurrentUses       int              `json:"current_uses"`
	MinimumPurchase   *decimal.Decimal `json:"minimum_purchase_amount,omitempty"`
	MaximumDiscount   *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	ValidFrom         time.Time        `json:"valid_from"`
	ValidUntil        time.Time        `json:"valid_until"`
	IsActive          bool             `json:"is_active"`
}

// EligibleAt reports whether the coupon may be redeemed at the given instant
// for the given order subtotal. Ineligibility is not an error anywhere in the
// system; it resolves to a zero discount.
func (c *DiscountCoupon) EligibleAt(now time.Time, subtotal decimal.Decimal) bool {
	if c == nil || !c.IsActive {
		return false
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return false
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return false
	}
	if c.MinimumPurchase != nil && subtotal.LessThan(*c.MinimumPurchase) {
		return false
	}
	return true
}
