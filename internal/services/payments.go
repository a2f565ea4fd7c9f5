package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/pagoshq/pagos/internal/cache"
	"github.com/pagoshq/pagos/internal/events"
	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/logging"
	"github.com/pagoshq/pagos/internal/models"
	"github.com/pagoshq/pagos/internal/observability"
)

// notificationDedupTTL bounds how long a processed notification token stays
// in the dedup cache. The database transition guard is the real idempotency
// mechanism; the cache only short-circuits obvious replays.
const notificationDedupTTL = 24 * time.Hour

// OrderRecords is the slice of the order store the payment lifecycle needs.
type OrderRecords interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	MarkPendingPayment(ctx context.Context, orderID uuid.UUID) error
}

// PaymentRecords is the slice of the payment store the payment lifecycle
// needs. ApplyGatewayResult carries the idempotency guard; everything else
// is bookkeeping around it.
type PaymentRecords interface {
	Create(ctx context.Context, payment *models.Payment) error
	CountForOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	MarkProcessing(ctx context.Context, paymentID uuid.UUID, token, transactionID, paymentURL string, rawResponse []byte) error
	MarkInitiationFailed(ctx context.Context, paymentID uuid.UUID, message string) error
	GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	GetByToken(ctx context.Context, gateway, token string) (*models.Payment, error)
	LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindForGatewayRef(ctx context.Context, gateway, transactionID, token string) (*models.Payment, error)
	ApplyGatewayResult(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, transactionID string) (bool, error)
}

// WebhookAudit is the append-only notification trail.
type WebhookAudit interface {
	Insert(ctx context.Context, log *models.WebhookLog) error
	MarkProcessed(ctx context.Context, logID uuid.UUID, paymentID *uuid.UUID, signatureValid bool) error
	MarkError(ctx context.Context, logID uuid.UUID, message string, signatureValid bool) error
}

// AdapterResolver yields the gateway adapter for one tenant plus the URLs
// registered with the processor.
type AdapterResolver interface {
	ForTenant(ctx context.Context, tenantID uuid.UUID, name string) (gateway.Adapter, error)
	NotifyURL(gatewayName string, tenantID uuid.UUID) string
	ReturnURL(gatewayName string, tenantID, paymentID uuid.UUID) string
}

// PaymentService drives the payment lifecycle: initiating attempts against
// a gateway and settling them from whichever confirmation path reports
// first. The webhook, the browser return, and manual verification all
// funnel into the same guarded transition, so arrival order never matters.
type PaymentService struct {
	orderStore      OrderRecords
	paymentStore    PaymentRecords
	webhookLogStore WebhookAudit
	adapters        AdapterResolver
	cache           cache.Provider
	publisher       *events.Publisher
	frontendBaseURL string
	logger          *slog.Logger
}

func NewPaymentService(orderStore OrderRecords, paymentStore PaymentRecords, webhookLogStore WebhookAudit, adapters AdapterResolver, cacheProvider cache.Provider, publisher *events.Publisher, frontendBaseURL string, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		orderStore:      orderStore,
		paymentStore:    paymentStore,
		webhookLogStore: webhookLogStore,
		adapters:        adapters,
		cache:           cacheProvider,
		publisher:       publisher,
		frontendBaseURL: frontendBaseURL,
		logger:          logger,
	}
}

type InitiateInput struct {
	OrderID       uuid.UUID
	Gateway       string
	CustomerEmail string
}

// Initiate opens a new payment attempt for a payable order and returns the
// payment with its redirect URL. The gateway call happens outside any
// transaction; a failed call closes the attempt but the order stays payable
// for the next one, up to the attempt cap.
func (s *PaymentService) Initiate(ctx context.Context, input InitiateInput) (*models.Payment, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.initiate",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("Initiate"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("gateway", input.Gateway))

	order, err := s.orderStore.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Payable() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, order.ID, order.Status)
	}

	attempts, err := s.paymentStore.CountForOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count payment attempts: %w", err)
	}
	if attempts >= models.MaxPaymentAttempts {
		meter.Count("payment.initiate.rejected", 1, sentry.WithAttributes(
			attribute.String("reason", "attempt_limit"),
		))
		return nil, fmt.Errorf("%w: order %s already has %d attempts", ErrTooManyAttempts, order.ID, attempts)
	}

	adapter, err := s.adapters.ForTenant(ctx, order.TenantID, input.Gateway)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		OrderID:  order.ID,
		Gateway:  adapter.Name(),
		Status:   models.PaymentPending,
		Amount:   order.Total,
		Currency: order.Currency,
		Attempt:  attempts + 1,
	}
	if err := s.paymentStore.Create(ctx, payment); err != nil {
		return nil, err
	}

	returnURL := s.adapters.ReturnURL(adapter.Name(), order.TenantID, payment.ID)
	result, err := adapter.Create(ctx, gateway.CreateRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Subject:       fmt.Sprintf("Order #%d", order.OrderNumber),
		Amount:        order.Total,
		Currency:      order.Currency,
		CustomerEmail: input.CustomerEmail,
		ReturnURL:     returnURL,
		CancelURL:     returnURL,
		NotifyURL:     s.adapters.NotifyURL(adapter.Name(), order.TenantID),
	})
	if err != nil {
		meter.Count("payment.initiate.failed", 1)
		if markErr := s.paymentStore.MarkInitiationFailed(ctx, payment.ID, err.Error()); markErr != nil {
			logger.Error("failed to close failed payment attempt", "payment_id", payment.ID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to create %s payment: %w", adapter.Name(), err)
	}

	if err := s.paymentStore.MarkProcessing(ctx, payment.ID, result.Token, result.TransactionID, result.PaymentURL, result.RawResponse); err != nil {
		return nil, err
	}
	if err := s.orderStore.MarkPendingPayment(ctx, order.ID); err != nil {
		return nil, err
	}

	payment.Status = models.PaymentProcessing
	payment.Token = result.Token
	payment.TransactionID = result.TransactionID
	payment.PaymentURL = result.PaymentURL

	meter.Count("payment.initiate.succeeded", 1)
	logger.Info("payment initiated",
		"payment_id", payment.ID,
		"order_id", order.ID,
		"gateway", adapter.Name(),
		"attempt", payment.Attempt,
		"amount", payment.Amount)
	return payment, nil
}

type WebhookInput struct {
	Gateway      string
	TenantID     uuid.UUID
	Notification gateway.Notification
}

// HandleWebhook ingests one inbound gateway notification. The raw payload
// is persisted to the audit log before anything is interpreted, so rejected
// and unmatched notifications still leave a trace.
func (s *PaymentService) HandleWebhook(ctx context.Context, input WebhookInput) error {
	span := sentry.StartSpan(
		ctx,
		"service.payment.webhook",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("HandleWebhook"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("gateway", input.Gateway))
	meter.Count("webhook.received", 1)

	headers, err := json.Marshal(input.Notification.Header)
	if err != nil {
		headers = nil
	}
	log := &models.WebhookLog{
		Gateway:    input.Gateway,
		RawPayload: input.Notification.Body,
		Headers:    headers,
	}
	if err := s.webhookLogStore.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to persist webhook log: %w", err)
	}

	adapter, err := s.adapters.ForTenant(ctx, input.TenantID, input.Gateway)
	if err != nil {
		return s.rejectWebhook(ctx, log.ID, meter, "adapter_unavailable", false, err)
	}

	result, err := adapter.Verify(ctx, input.Notification)
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			return s.rejectWebhook(ctx, log.ID, meter, "invalid_signature", false, err)
		}
		return s.rejectWebhook(ctx, log.ID, meter, "verify_failed", false, err)
	}

	if s.alreadySeen(ctx, adapter.Name(), result.Token) {
		logger.Info("duplicate notification short-circuited",
			"gateway", adapter.Name(), "token", result.Token)
		meter.Count("webhook.duplicate", 1)
		return s.webhookLogStore.MarkProcessed(ctx, log.ID, nil, true)
	}

	payment, err := s.paymentStore.FindForGatewayRef(ctx, adapter.Name(), result.TransactionID, result.Token)
	if err != nil {
		return s.rejectWebhook(ctx, log.ID, meter, "payment_not_found", true, err)
	}

	if !result.Amount.IsZero() && !result.Amount.Equal(payment.Amount) {
		err := fmt.Errorf("%w: payment %s expects %s, gateway reported %s",
			ErrAmountMismatch, payment.ID, payment.Amount, result.Amount)
		return s.rejectWebhook(ctx, log.ID, meter, "amount_mismatch", true, err)
	}

	terminal, err := s.settle(ctx, payment, result, "webhook")
	if err != nil {
		if markErr := s.webhookLogStore.MarkError(ctx, log.ID, err.Error(), true); markErr != nil {
			logger.Error("failed to record webhook error", "log_id", log.ID, "error", markErr)
		}
		return err
	}

	// Only a terminal outcome closes the token. A pending notification must
	// not block the completing one behind the dedup cache.
	if terminal {
		s.markSeen(ctx, adapter.Name(), result.Token)
	}
	meter.Count("webhook.processed", 1)
	return s.webhookLogStore.MarkProcessed(ctx, log.ID, &payment.ID, true)
}

func (s *PaymentService) rejectWebhook(ctx context.Context, logID uuid.UUID, meter sentry.Meter, reason string, signatureValid bool, err error) error {
	meter.Count("webhook.rejected", 1, sentry.WithAttributes(
		attribute.String("reason", reason),
	))
	if markErr := s.webhookLogStore.MarkError(ctx, logID, err.Error(), signatureValid); markErr != nil {
		logging.FromContext(ctx, s.logger).Error("failed to record webhook error",
			"log_id", logID, "error", markErr)
	}
	return err
}

type ReturnInput struct {
	Gateway   string
	TenantID  uuid.UUID
	PaymentID uuid.UUID
	Params    url.Values
}

// HandleReturn settles a payment from the customer's browser return and
// yields the storefront URL to redirect them to. Racing against the webhook
// is expected; whichever observer loses the guarded transition treats it as
// already done.
func (s *PaymentService) HandleReturn(ctx context.Context, input ReturnInput) (string, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.return",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("HandleReturn"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	payment, err := s.paymentStore.GetByID(ctx, input.PaymentID)
	if err != nil {
		return "", err
	}
	if payment.Status.Terminal() {
		return s.redirectFor(payment), nil
	}

	adapter, err := s.adapters.ForTenant(ctx, input.TenantID, input.Gateway)
	if err != nil {
		return "", err
	}

	var result *gateway.VerifyResult
	if adapter.Name() == gateway.NameTransbank {
		// Webpay confirms on the return leg: the commit call keyed by
		// token_ws is what settles the transaction.
		result, err = adapter.Verify(ctx, gateway.Notification{Params: input.Params})
	} else {
		result, err = adapter.QueryStatus(ctx, payment.Token)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve return status: %w", err)
	}

	if _, err := s.settle(ctx, payment, result, "return"); err != nil {
		return "", err
	}
	return s.redirectFor(payment), nil
}

// Verify re-queries the gateway for a payment's authoritative status and
// applies it. Used by operators when both the webhook and the return were
// lost.
func (s *PaymentService) Verify(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.verify",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("Verify"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	payment, err := s.paymentStore.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.Terminal() {
		return payment, nil
	}

	order, err := s.orderStore.GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.ForTenant(ctx, order.TenantID, payment.Gateway)
	if err != nil {
		return nil, err
	}

	result, err := adapter.QueryStatus(ctx, payment.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s status: %w", payment.Gateway, err)
	}
	if _, err := s.settle(ctx, payment, result, "manual_verify"); err != nil {
		return nil, err
	}
	return s.paymentStore.GetByID(ctx, paymentID)
}

// Status reports a payment without touching the gateway.
func (s *PaymentService) Status(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.paymentStore.GetByID(ctx, paymentID)
}

// Snapshot bundles a payment with its order for status queries.
type Snapshot struct {
	Payment *models.Payment `json:"payment"`
	Order   *models.Order   `json:"order"`
}

// Lookup resolves the latest payment either by order id or by the gateway
// token, together with the order it belongs to. Exactly one of the two
// selectors is expected; the order id wins when both are present.
func (s *PaymentService) Lookup(ctx context.Context, orderID uuid.UUID, gatewayName, token string) (*Snapshot, error) {
	var (
		payment *models.Payment
		err     error
	)
	if orderID != uuid.Nil {
		payment, err = s.paymentStore.LatestForOrder(ctx, orderID)
	} else {
		payment, err = s.paymentStore.GetByToken(ctx, gatewayName, token)
	}
	if err != nil {
		return nil, err
	}

	order, err := s.orderStore.GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Payment: payment, Order: order}, nil
}

// settle maps a gateway outcome onto the payment and order. It mutates the
// passed payment's status on success so callers can redirect on the fresh
// state without another read. The returned bool reports whether the gateway
// outcome was terminal; a pending outcome changes nothing and a later
// notification for the same token must still be allowed through.
func (s *PaymentService) settle(ctx context.Context, payment *models.Payment, result *gateway.VerifyResult, source string) (bool, error) {
	logger := logging.FromContext(ctx, s.logger)

	status, terminal := paymentStatusFor(result.Status)
	if !terminal {
		logger.Info("payment still pending at gateway",
			"payment_id", payment.ID, "gateway", payment.Gateway, "source", source)
		return false, nil
	}

	applied, err := s.paymentStore.ApplyGatewayResult(ctx, payment.ID, status, result.TransactionID)
	if err != nil {
		return false, err
	}
	payment.Status = status
	if result.TransactionID != "" {
		payment.TransactionID = result.TransactionID
	}

	if !applied {
		logger.Info("payment already settled by a concurrent observer",
			"payment_id", payment.ID, "status", status, "source", source)
		return true, nil
	}

	logger.Info("payment settled",
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
		"gateway", payment.Gateway,
		"status", status,
		"source", source)

	meter := observability.MeterFromContext(ctx)
	meter.Count("payment.settled", 1, sentry.WithAttributes(
		attribute.String("gateway", payment.Gateway),
		attribute.String("status", string(status)),
		attribute.String("source", source),
	))

	s.publisher.Publish(ctx, eventTypeFor(status), payment.OrderID.String(), events.PaymentEventPayload{
		PaymentID:     payment.ID.String(),
		OrderID:       payment.OrderID.String(),
		Gateway:       payment.Gateway,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		TransactionID: payment.TransactionID,
		Attempt:       payment.Attempt,
	})
	return true, nil
}

func (s *PaymentService) redirectFor(payment *models.Payment) string {
	return fmt.Sprintf("%s/orders/%s?payment=%s",
		s.frontendBaseURL, payment.OrderID, paymentOutcome(payment.Status))
}

func paymentOutcome(status models.PaymentStatus) string {
	switch status {
	case models.PaymentCompleted:
		return "success"
	case models.PaymentFailed:
		return "failed"
	case models.PaymentCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

func paymentStatusFor(status gateway.Status) (models.PaymentStatus, bool) {
	switch status {
	case gateway.StatusCompleted:
		return models.PaymentCompleted, true
	case gateway.StatusFailed:
		return models.PaymentFailed, true
	case gateway.StatusCancelled:
		return models.PaymentCancelled, true
	default:
		return models.PaymentProcessing, false
	}
}

func eventTypeFor(status models.PaymentStatus) string {
	switch status {
	case models.PaymentCompleted:
		return events.EventPaymentCompleted
	case models.PaymentCancelled:
		return events.EventPaymentCancelled
	default:
		return events.EventPaymentFailed
	}
}

func (s *PaymentService) alreadySeen(ctx context.Context, gatewayName, token string) bool {
	if s.cache == nil || token == "" {
		return false
	}
	value, err := s.cache.Get(ctx, cache.NotificationKey(gatewayName, token))
	return err == nil && value != ""
}

func (s *PaymentService) markSeen(ctx context.Context, gatewayName, token string) {
	if s.cache == nil || token == "" {
		return
	}
	key := cache.NotificationKey(gatewayName, token)
	if err := s.cache.Set(ctx, key, "1", notificationDedupTTL); err != nil {
		logging.FromContext(ctx, s.logger).Warn("failed to record notification in dedup cache",
			"key", key, "error", err)
	}
}
