package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pagoshq/pagos/internal/models"
)

type CouponStore struct {
	pool *pgxpool.Pool
}

func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// GetByCode looks up a coupon by its code. An unknown code returns
// (nil, nil): checkout treats it as a zero discount, never an error.
func (s *CouponStore) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*models.DiscountCoupon, error) {
	var (
		coupon    models.DiscountCoupon
		maxUses   pgtype.Int4
		minimum   decimal.NullDecimal
		maximum   decimal.NullDecimal
		validFrom pgtype.Timestamptz
		validTo   pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, code, coupon_type, value, max_uses, current_uses,
		       minimum_purchase_amount, maximum_discount_amount, valid_from, valid_until, is_active
		FROM discount_coupons WHERE tenant_id = $1 AND UPPER(code) = UPPER($2)
	`, tenantID, code).Scan(&coupon.ID, &coupon.TenantID, &coupon.Code, &coupon.Type,
		&coupon.Value, &maxUses, &coupon.CurrentUses, &minimum, &maximum,
		&validFrom, &validTo, &coupon.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if maxUses.Valid {
		uses := int(maxUses.Int32)
		coupon.MaxUses = &uses
	}
	if minimum.Valid {
		coupon.MinimumPurchase = &minimum.Decimal
	}
	if maximum.Valid {
		coupon.MaximumDiscount = &maximum.Decimal
	}
	coupon.ValidFrom = validFrom.Time
	coupon.ValidUntil = validTo.Time
	return &coupon, nil
}
