package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/logging"
	"github.com/pagoshq/pagos/internal/models"
	"github.com/pagoshq/pagos/internal/observability"
	"github.com/pagoshq/pagos/internal/pricing"
)

// CheckoutService turns a cart into a priced, persisted order with its
// stock reserved and coupon redeemed.
type CheckoutService struct {
	tenantStore  *db.TenantStore
	variantStore *db.VariantStore
	couponStore  *db.CouponStore
	orderStore   *db.OrderStore
	pricer       *pricing.Engine
	logger       *slog.Logger
}

func NewCheckoutService(tenantStore *db.TenantStore, variantStore *db.VariantStore, couponStore *db.CouponStore, orderStore *db.OrderStore, pricer *pricing.Engine, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		tenantStore:  tenantStore,
		variantStore: variantStore,
		couponStore:  couponStore,
		orderStore:   orderStore,
		pricer:       pricer,
		logger:       logger,
	}
}

type CheckoutItem struct {
	VariantID uuid.UUID
	Quantity  int
}

type CheckoutInput struct {
	TenantID    uuid.UUID
	CustomerRef string
	OrderType   models.OrderType
	Items       []CheckoutItem
	CouponCode  string
	RegionCode  string
	Pickup      bool
}

// Checkout prices the cart and creates the order. A coupon that turns out
// exhausted at commit time is silently dropped and the order re-priced
// without it; insufficient stock on any line aborts the whole checkout.
func (s *CheckoutService) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("Checkout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)
	meter.Count("checkout.received", 1, sentry.WithAttributes(
		attribute.String("order_type", string(input.OrderType)),
	))

	tenant, err := s.tenantStore.GetByID(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	lineItems, err := s.resolveItems(ctx, tenant.ID, input.Items)
	if err != nil {
		return nil, err
	}

	var coupon *models.DiscountCoupon
	if input.CouponCode != "" {
		coupon, err = s.couponStore.GetByCode(ctx, tenant.ID, input.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load coupon: %w", err)
		}
	}

	order, appliedCoupon, err := s.buildOrder(ctx, tenant, input, lineItems, coupon)
	if err != nil {
		return nil, err
	}

	err = s.orderStore.CreateCheckout(ctx, order, appliedCoupon)
	if errors.Is(err, db.ErrCouponExhausted) {
		// Lost the redemption race. Re-price without the coupon and retry
		// once; the customer keeps their order, just not the discount.
		logger.Info("coupon exhausted at commit, retrying without it",
			"tenant_id", tenant.ID, "coupon", input.CouponCode)
		order, _, err = s.buildOrder(ctx, tenant, input, lineItems, nil)
		if err != nil {
			return nil, err
		}
		err = s.orderStore.CreateCheckout(ctx, order, nil)
	}
	if err != nil {
		var stockErr *db.InsufficientStockError
		if errors.As(err, &stockErr) {
			meter.Count("checkout.rejected", 1, sentry.WithAttributes(
				attribute.String("reason", "insufficient_stock"),
			))
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	meter.Count("checkout.created", 1)
	logger.Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"tenant_id", tenant.ID,
		"type", order.Type,
		"total", order.Total)
	return order, nil
}

func (s *CheckoutService) resolveItems(ctx context.Context, tenantID uuid.UUID, items []CheckoutItem) ([]pricing.LineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: checkout requires at least one item", ErrVariantNotFound)
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.VariantID)
	}

	variants, err := s.variantStore.GetByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}

	lineItems := make([]pricing.LineItem, 0, len(items))
	for _, item := range items {
		variant, ok := variants[item.VariantID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, item.VariantID)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("quantity for %s must be positive", variant.SKU)
		}
		// Fast rejection on the snapshot we already hold. The reservation
		// transaction re-checks under a row lock and stays authoritative.
		if variant.StockManaged && item.Quantity > variant.AvailableStock() {
			return nil, &db.InsufficientStockError{
				VariantID: variant.ID.String(),
				SKU:       variant.SKU,
				Requested: item.Quantity,
				Available: variant.AvailableStock(),
			}
		}
		lineItems = append(lineItems, pricing.LineItem{
			VariantID: variant.ID,
			SKU:       variant.SKU,
			Name:      variant.Name,
			UnitPrice: variant.UnitPrice,
			Quantity:  item.Quantity,
			WeightKg:  variant.WeightKg,
		})
	}
	return lineItems, nil
}

// buildOrder prices the cart and assembles the order rows. The second
// return value is the coupon to redeem, nil when none actually applied.
func (s *CheckoutService) buildOrder(ctx context.Context, tenant *models.Tenant, input CheckoutInput, lineItems []pricing.LineItem, coupon *models.DiscountCoupon) (*models.Order, *models.DiscountCoupon, error) {
	quote, err := s.pricer.Price(ctx, pricing.Input{
		Items:            lineItems,
		TaxRate:          tenant.TaxRate,
		PricesIncludeTax: tenant.PricesIncludeTax,
		Coupon:           coupon,
		Shipping: pricing.ShippingInput{
			RegionCode:            input.RegionCode,
			Pickup:                input.Pickup,
			FreeShippingThreshold: tenant.FreeShippingThreshold,
		},
		Now: time.Now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to price order: %w", err)
	}

	status := models.StatusDraft
	if input.OrderType == models.OrderTypeQuote {
		status = models.StatusQuoteRequested
	}

	order := &models.Order{
		TenantID:     tenant.ID,
		CustomerRef:  input.CustomerRef,
		Type:         input.OrderType,
		Status:       status,
		Currency:     tenant.Currency,
		Subtotal:     quote.Subtotal,
		Discount:     quote.Discount,
		ShippingCost: quote.ShippingCost,
		Tax:          quote.Tax,
		Total:        quote.Total,
	}
	for _, item := range quote.Items {
		order.Items = append(order.Items, models.OrderItem{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
			Tax:       item.Tax,
			Total:     item.Total,
		})
	}

	if quote.CouponApplied {
		order.CouponCode = coupon.Code
		return order, coupon, nil
	}
	return order, nil, nil
}
