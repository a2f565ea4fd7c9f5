package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCouponEligibleAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	subtotal := decimal.NewFromInt(40000)

	base := func() DiscountCoupon {
		return DiscountCoupon{
			Code:       "PROMO",
			Type:       CouponPercentage,
			Value:      decimal.NewFromInt(10),
			ValidFrom:  now.Add(-24 * time.Hour),
			ValidUntil: now.Add(24 * time.Hour),
			IsActive:   true,
		}
	}

	tests := []struct {
		name   string
		mutate func(*DiscountCoupon)
		want   bool
	}{
		{name: "active in window", mutate: func(c *DiscountCoupon) {}, want: true},
		{name: "inactive", mutate: func(c *DiscountCoupon) { c.IsActive = false }, want: false},
		{name: "not yet valid", mutate: func(c *DiscountCoupon) { c.ValidFrom = now.Add(time.Hour) }, want: false},
		{name: "expired", mutate: func(c *DiscountCoupon) { c.ValidUntil = now.Add(-time.Hour) }, want: false},
		{
			name: "uses remaining",
			mutate: func(c *DiscountCoupon) {
				max := 10
				c.MaxUses = &max
				c.CurrentUses = 9
			},
			want: true,
		},
		{
			name: "exhausted",
			mutate: func(c *DiscountCoupon) {
				max := 10
				c.MaxUses = &max
				c.CurrentUses = 10
			},
			want: false,
		},
		{
			name: "meets minimum purchase",
			mutate: func(c *DiscountCoupon) {
				min := decimal.NewFromInt(40000)
				c.MinimumPurchase = &min
			},
			want: true,
		},
		{
			name: "below minimum purchase",
			mutate: func(c *DiscountCoupon) {
				min := decimal.NewFromInt(40001)
				c.MinimumPurchase = &min
			},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			coupon := base()
			tc.mutate(&coupon)
			if got := coupon.EligibleAt(now, subtotal); got != tc.want {
				t.Errorf("EligibleAt = %v, want %v", got, tc.want)
			}
		})
	}

	var nilCoupon *DiscountCoupon
	if nilCoupon.EligibleAt(now, subtotal) {
		t.Error("nil coupon must not be eligible")
	}
}
