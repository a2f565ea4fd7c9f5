package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pagoshq/pagos/internal/models"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func intPtr(v int) *int { return &v }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func percentageCoupon(t *testing.T, value string) *models.DiscountCoupon {
	t.Helper()
	return &models.DiscountCoupon{
		ID:         uuid.New(),
		Code:       "TEST",
		Type:       models.CouponPercentage,
		Value:      dec(t, value),
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		IsActive:   true,
	}
}

func TestPriceTaxExclusive(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	quote, err := engine.Price(context.Background(), Input{
		Items: []LineItem{
			{UnitPrice: dec(t, "10000"), Quantity: 2},
			{UnitPrice: dec(t, "5000"), Quantity: 1},
		},
		TaxRate: dec(t, "0.19"),
		Now:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}

	if !quote.Subtotal.Equal(dec(t, "25000")) {
		t.Errorf("subtotal = %s, want 25000", quote.Subtotal)
	}
	if !quote.Tax.Equal(dec(t, "4750")) {
		t.Errorf("tax = %s, want 4750", quote.Tax)
	}
	if !quote.Total.Equal(dec(t, "29750")) {
		t.Errorf("total = %s, want 29750", quote.Total)
	}
}

func TestPriceTaxInclusive(t *testing.T) {
	t.Parallel()

	// An 11,900 price that already includes 19% tax carries exactly 1,900
	// of tax; the customer pays the sticker price.
	engine := NewEngine(nil)
	quote, err := engine.Price(context.Background(), Input{
		Items:            []LineItem{{UnitPrice: dec(t, "11900"), Quantity: 1}},
		TaxRate:          dec(t, "0.19"),
		PricesIncludeTax: true,
		Now:              time.Now(),
	})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}

	if !quote.Subtotal.Equal(dec(t, "11900")) {
		t.Errorf("subtotal = %s, want 11900", quote.Subtotal)
	}
	if !quote.Tax.Equal(dec(t, "1900")) {
		t.Errorf("tax = %s, want 1900", quote.Tax)
	}
	if !quote.Total.Equal(dec(t, "11900")) {
		t.Errorf("total = %s, want sticker price 11900", quote.Total)
	}
}

func TestPriceRepeatedAdditionStaysExact(t *testing.T) {
	t.Parallel()

	// 0.1 added ten thousand times drifts in binary floating point; with
	// exact decimals it lands on 1000 precisely.
	engine := NewEngine(nil)
	items := make([]LineItem, 0, 100)
	for i := 0; i < 100; i++ {
		items = append(items, LineItem{UnitPrice: dec(t, "0.1"), Quantity: 100})
	}
	quote, err := engine.Price(context.Background(), Input{Items: items, Now: time.Now()})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !quote.Subtotal.Equal(dec(t, "1000")) {
		t.Errorf("subtotal = %s, want exactly 1000", quote.Subtotal)
	}
}

func TestCouponDiscount(t *testing.T) {
	t.Parallel()

	now := time.Now()
	subtotal := dec(t, "80000")

	tests := []struct {
		name        string
		coupon      func(t *testing.T) *models.DiscountCoupon
		want        string
		wantApplied bool
	}{
		{
			name:        "nil coupon",
			coupon:      func(t *testing.T) *models.DiscountCoupon { return nil },
			want:        "0",
			wantApplied: false,
		},
		{
			name: "ten percent capped at maximum",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "10")
				c.MaximumDiscount = decPtr(dec(t, "5000"))
				return c
			},
			want:        "5000",
			wantApplied: true,
		},
		{
			name: "ten percent uncapped",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				return percentageCoupon(t, "10")
			},
			want:        "8000",
			wantApplied: true,
		},
		{
			name: "fixed amount",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "0")
				c.Type = models.CouponFixed
				c.Value = dec(t, "3000")
				return c
			},
			want:        "3000",
			wantApplied: true,
		},
		{
			name: "fixed amount larger than subtotal clamps",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "0")
				c.Type = models.CouponFixed
				c.Value = dec(t, "999999")
				return c
			},
			want:        "80000",
			wantApplied: true,
		},
		{
			name: "expired coupon is silently ignored",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "10")
				c.ValidUntil = now.Add(-time.Minute)
				return c
			},
			want:        "0",
			wantApplied: false,
		},
		{
			name: "exhausted coupon is silently ignored",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "10")
				c.MaxUses = intPtr(5)
				c.CurrentUses = 5
				return c
			},
			want:        "0",
			wantApplied: false,
		},
		{
			name: "below minimum purchase is silently ignored",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "10")
				c.MinimumPurchase = decPtr(dec(t, "100000"))
				return c
			},
			want:        "0",
			wantApplied: false,
		},
		{
			name: "inactive coupon is silently ignored",
			coupon: func(t *testing.T) *models.DiscountCoupon {
				c := percentageCoupon(t, "10")
				c.IsActive = false
				return c
			},
			want:        "0",
			wantApplied: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, applied := couponDiscount(tc.coupon(t), subtotal, now)
			if !got.Equal(dec(t, tc.want)) {
				t.Errorf("discount = %s, want %s", got, tc.want)
			}
			if applied != tc.wantApplied {
				t.Errorf("applied = %v, want %v", applied, tc.wantApplied)
			}
		})
	}
}

func TestPriceTotalNeverNegative(t *testing.T) {
	t.Parallel()

	coupon := &models.DiscountCoupon{
		ID:         uuid.New(),
		Code:       "BIG",
		Type:       models.CouponFixed,
		Value:      decimal.NewFromInt(50000),
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		IsActive:   true,
	}

	engine := NewEngine(nil)
	quote, err := engine.Price(context.Background(), Input{
		Items:  []LineItem{{UnitPrice: decimal.NewFromInt(1000), Quantity: 1}},
		Coupon: coupon,
		Now:    time.Now(),
	})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if quote.Total.IsNegative() {
		t.Errorf("total = %s, must not be negative", quote.Total)
	}
	if !quote.Discount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("discount = %s, want clamped to subtotal 1000", quote.Discount)
	}
}
