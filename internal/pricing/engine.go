// Package pricing computes order totals with exact decimal arithmetic.
// Binary floating point is never used for money: repeated additions drift.
package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pagoshq/pagos/internal/models"
)

var oneHundred = decimal.NewFromInt(100)

type LineItem struct {
	VariantID uuid.UUID
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	WeightKg  decimal.Decimal
}

type ItemTotal struct {
	LineItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Input is everything one quote computation depends on. The coupon may be
// nil; Shipping may be zero-valued for pickup and quote orders.
type Input struct {
	Items            []LineItem
	TaxRate          decimal.Decimal
	PricesIncludeTax bool
	Coupon           *models.DiscountCoupon
	Shipping         ShippingInput
	Now              time.Time
}

type Quote struct {
	Items        []ItemTotal
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	// CouponApplied is false for missing and ineligible coupons alike;
	// an ineligible coupon resolves to a zero discount, never an error.
	CouponApplied bool
}

type Engine struct {
	shipping *ShippingCalculator
}

func NewEngine(shipping *ShippingCalculator) *Engine {
	if shipping == nil {
		shipping = NewShippingCalculator(nil, nil)
	}
	return &Engine{shipping: shipping}
}

// Price computes the full quote: per-item tax split, coupon discount,
// shipping, and the final total floored at zero.
func (e *Engine) Price(ctx context.Context, in Input) (*Quote, error) {
	quote := &Quote{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Discount: decimal.Zero,
	}

	for _, item := range in.Items {
		itemTotal := priceItem(item, in.TaxRate, in.PricesIncludeTax)
		quote.Items = append(quote.Items, itemTotal)
		quote.Subtotal = quote.Subtotal.Add(itemTotal.Subtotal)
		quote.Tax = quote.Tax.Add(itemTotal.Tax)
	}

	quote.Discount, quote.CouponApplied = couponDiscount(in.Coupon, quote.Subtotal, in.Now)

	shippingCost, err := e.shipping.Cost(ctx, in.Shipping, quote.Subtotal, totalWeight(in.Items))
	if err != nil {
		return nil, err
	}
	quote.ShippingCost = shippingCost

	total := quote.Subtotal.Add(quote.ShippingCost).Sub(quote.Discount)
	if !in.PricesIncludeTax {
		total = total.Add(quote.Tax)
	}
	if total.IsNegative() {
		total = decimal.Zero
	}
	quote.Total = total

	return quote, nil
}

// priceItem splits one line into subtotal/tax/total. With tax-inclusive
// prices the tax is carved out of the subtotal; otherwise it is added on top.
func priceItem(item LineItem, taxRate decimal.Decimal, pricesIncludeTax bool) ItemTotal {
	subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

	var tax, total decimal.Decimal
	if pricesIncludeTax {
		// tax = subtotal * (1 - 1/(1+rate))
		divisor := decimal.NewFromInt(1).Add(taxRate)
		tax = subtotal.Sub(subtotal.Div(divisor))
		total = subtotal
	} else {
		tax = subtotal.Mul(taxRate)
		total = subtotal.Add(tax)
	}

	return ItemTotal{LineItem: item, Subtotal: subtotal, Tax: tax, Total: total}
}

// couponDiscount resolves the coupon to a discount amount. Ineligible,
// exhausted, expired, or below-minimum coupons yield zero without error.
// The discount never exceeds the subtotal.
func couponDiscount(coupon *models.DiscountCoupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, bool) {
	if coupon == nil || !coupon.EligibleAt(now, subtotal) {
		return decimal.Zero, false
	}

	var discount decimal.Decimal
	switch coupon.Type {
	case models.CouponPercentage:
		discount = subtotal.Mul(coupon.Value).Div(oneHundred)
		if coupon.MaximumDiscount != nil && discount.GreaterThan(*coupon.MaximumDiscount) {
			discount = *coupon.MaximumDiscount
		}
	case models.CouponFixed:
		discount = coupon.Value
	default:
		return decimal.Zero, false
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero, false
	}

	return discount, true
}

func totalWeight(items []LineItem) decimal.Decimal {
	weight := decimal.Zero
	for _, item := range items {
		weight = weight.Add(item.WeightKg.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return weight
}
