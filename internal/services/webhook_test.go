package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pagoshq/pagos/internal/cache"
	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/models"
)

type fakeOrderRecords struct{}

func (f *fakeOrderRecords) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID}, nil
}

func (f *fakeOrderRecords) MarkPendingPayment(ctx context.Context, orderID uuid.UUID) error {
	return nil
}

// fakePaymentRecords keeps one payment in memory and mirrors the store's
// conditional transition: only pending or processing rows accept a terminal
// status, a repeat of the current status is a no-op, anything else is an
// invalid transition.
type fakePaymentRecords struct {
	mu      sync.Mutex
	payment *models.Payment
	applies int
}

func (f *fakePaymentRecords) snapshot() *models.Payment {
	copied := *f.payment
	return &copied
}

func (f *fakePaymentRecords) Create(ctx context.Context, payment *models.Payment) error {
	return nil
}

func (f *fakePaymentRecords) CountForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakePaymentRecords) MarkProcessing(ctx context.Context, paymentID uuid.UUID, token, transactionID, paymentURL string, rawResponse []byte) error {
	return nil
}

func (f *fakePaymentRecords) MarkInitiationFailed(ctx context.Context, paymentID uuid.UUID, message string) error {
	return nil
}

func (f *fakePaymentRecords) GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payment == nil || f.payment.ID != paymentID {
		return nil, db.ErrPaymentNotFound
	}
	return f.snapshot(), nil
}

func (f *fakePaymentRecords) GetByToken(ctx context.Context, gatewayName, token string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payment == nil || f.payment.Token != token {
		return nil, db.ErrPaymentNotFound
	}
	return f.snapshot(), nil
}

func (f *fakePaymentRecords) LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payment == nil || f.payment.OrderID != orderID {
		return nil, db.ErrPaymentNotFound
	}
	return f.snapshot(), nil
}

func (f *fakePaymentRecords) FindForGatewayRef(ctx context.Context, gatewayName, transactionID, token string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payment == nil {
		return nil, db.ErrPaymentNotFound
	}
	if transactionID != "" && f.payment.TransactionID == transactionID {
		return f.snapshot(), nil
	}
	if token != "" && f.payment.Token == token {
		return f.snapshot(), nil
	}
	return nil, db.ErrPaymentNotFound
}

func (f *fakePaymentRecords) ApplyGatewayResult(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, transactionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payment == nil || f.payment.ID != paymentID {
		return false, db.ErrPaymentNotFound
	}
	switch f.payment.Status {
	case models.PaymentPending, models.PaymentProcessing:
		f.payment.Status = status
		if transactionID != "" {
			f.payment.TransactionID = transactionID
		}
		if status == models.PaymentCompleted && f.payment.CompletedAt.IsZero() {
			f.payment.CompletedAt = time.Now()
		}
		f.applies++
		return true, nil
	case status:
		return false, nil
	default:
		return false, db.ErrInvalidTransition
	}
}

type auditEntry struct {
	message        string
	signatureValid bool
}

type fakeWebhookAudit struct {
	mu        sync.Mutex
	inserted  int
	processed []auditEntry
	errored   []auditEntry
}

func (f *fakeWebhookAudit) Insert(ctx context.Context, log *models.WebhookLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	f.inserted++
	return nil
}

func (f *fakeWebhookAudit) MarkProcessed(ctx context.Context, logID uuid.UUID, paymentID *uuid.UUID, signatureValid bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, auditEntry{signatureValid: signatureValid})
	return nil
}

func (f *fakeWebhookAudit) MarkError(ctx context.Context, logID uuid.UUID, message string, signatureValid bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored = append(f.errored, auditEntry{message: message, signatureValid: signatureValid})
	return nil
}

// fakeAdapter replays a scripted sequence of verification outcomes.
type fakeAdapter struct {
	name      string
	results   []*gateway.VerifyResult
	verifyErr error
	calls     int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Create(ctx context.Context, req gateway.CreateRequest) (*gateway.CreateResult, error) {
	return nil, errors.New("not scripted")
}

func (a *fakeAdapter) Verify(ctx context.Context, n gateway.Notification) (*gateway.VerifyResult, error) {
	if a.verifyErr != nil {
		return nil, a.verifyErr
	}
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	return a.results[i], nil
}

func (a *fakeAdapter) QueryStatus(ctx context.Context, token string) (*gateway.VerifyResult, error) {
	return a.Verify(ctx, gateway.Notification{})
}

func (a *fakeAdapter) ValidateSignature(payload []byte, signature string) bool { return true }

type fakeResolver struct {
	adapter gateway.Adapter
}

func (r *fakeResolver) ForTenant(ctx context.Context, tenantID uuid.UUID, name string) (gateway.Adapter, error) {
	return r.adapter, nil
}

func (r *fakeResolver) NotifyURL(gatewayName string, tenantID uuid.UUID) string { return "" }

func (r *fakeResolver) ReturnURL(gatewayName string, tenantID, paymentID uuid.UUID) string {
	return ""
}

func newWebhookFixture(t *testing.T, adapter *fakeAdapter) (*PaymentService, *fakePaymentRecords, *fakeWebhookAudit) {
	t.Helper()

	payments := &fakePaymentRecords{
		payment: &models.Payment{
			ID:       uuid.New(),
			OrderID:  uuid.New(),
			Gateway:  gateway.NameFlow,
			Status:   models.PaymentProcessing,
			Amount:   decimal.NewFromInt(15000),
			Currency: "CLP",
			Token:    "tok-1",
		},
	}
	audit := &fakeWebhookAudit{}
	memCache, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}

	svc := NewPaymentService(
		&fakeOrderRecords{},
		payments,
		audit,
		&fakeResolver{adapter: adapter},
		memCache,
		nil,
		"https://shop.example",
		slog.New(slog.DiscardHandler),
	)
	return svc, payments, audit
}

func webhookInput() WebhookInput {
	return WebhookInput{
		Gateway:      gateway.NameFlow,
		TenantID:     uuid.New(),
		Notification: gateway.Notification{Body: []byte("token=tok-1")},
	}
}

func TestHandleWebhookSettlesPayment(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: gateway.NameFlow,
		results: []*gateway.VerifyResult{{
			Status:        gateway.StatusCompleted,
			Token:         "tok-1",
			TransactionID: "flow-99",
			Amount:        decimal.NewFromInt(15000),
		}},
	}
	svc, payments, audit := newWebhookFixture(t, adapter)

	if err := svc.HandleWebhook(context.Background(), webhookInput()); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	if payments.payment.Status != models.PaymentCompleted {
		t.Errorf("payment status = %s, want %s", payments.payment.Status, models.PaymentCompleted)
	}
	if payments.payment.TransactionID != "flow-99" {
		t.Errorf("transaction id = %q, want %q", payments.payment.TransactionID, "flow-99")
	}
	if payments.applies != 1 {
		t.Errorf("transitions applied = %d, want 1", payments.applies)
	}
	if len(audit.processed) != 1 || !audit.processed[0].signatureValid {
		t.Errorf("processed audit entries = %+v, want one with a valid signature", audit.processed)
	}
}

func TestHandleWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: gateway.NameFlow,
		results: []*gateway.VerifyResult{{
			Status: gateway.StatusCompleted,
			Token:  "tok-1",
			Amount: decimal.NewFromInt(15000),
		}},
	}
	svc, payments, audit := newWebhookFixture(t, adapter)

	if err := svc.HandleWebhook(context.Background(), webhookInput()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	completedAt := payments.payment.CompletedAt

	if err := svc.HandleWebhook(context.Background(), webhookInput()); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if payments.applies != 1 {
		t.Errorf("transitions applied = %d, want 1", payments.applies)
	}
	if !payments.payment.CompletedAt.Equal(completedAt) {
		t.Error("completed_at changed on duplicate delivery")
	}
	if audit.inserted != 2 {
		t.Errorf("audit rows = %d, want 2: every delivery must be logged", audit.inserted)
	}
	if len(audit.processed) != 2 {
		t.Errorf("processed marks = %d, want 2", len(audit.processed))
	}
}

func TestHandleWebhookPendingDoesNotBlockCompletion(t *testing.T) {
	t.Parallel()

	// Flow and Khipu both notify intermediate states for the same token the
	// completing notification later reuses. The first delivery must not close
	// the token in the dedup cache.
	adapter := &fakeAdapter{
		name: gateway.NameFlow,
		results: []*gateway.VerifyResult{
			{Status: gateway.StatusPending, Token: "tok-1", Amount: decimal.NewFromInt(15000)},
			{Status: gateway.StatusCompleted, Token: "tok-1", Amount: decimal.NewFromInt(15000)},
		},
	}
	svc, payments, _ := newWebhookFixture(t, adapter)

	if err := svc.HandleWebhook(context.Background(), webhookInput()); err != nil {
		t.Fatalf("pending delivery: %v", err)
	}
	if payments.applies != 0 {
		t.Fatalf("transitions applied after pending = %d, want 0", payments.applies)
	}

	if err := svc.HandleWebhook(context.Background(), webhookInput()); err != nil {
		t.Fatalf("completing delivery: %v", err)
	}
	if payments.payment.Status != models.PaymentCompleted {
		t.Errorf("payment status = %s, want %s", payments.payment.Status, models.PaymentCompleted)
	}
	if payments.applies != 1 {
		t.Errorf("transitions applied = %d, want 1", payments.applies)
	}
}

func TestHandleWebhookAmountMismatch(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: gateway.NameFlow,
		results: []*gateway.VerifyResult{{
			Status: gateway.StatusCompleted,
			Token:  "tok-1",
			Amount: decimal.NewFromInt(14999),
		}},
	}
	svc, payments, audit := newWebhookFixture(t, adapter)

	err := svc.HandleWebhook(context.Background(), webhookInput())
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("HandleWebhook error = %v, want ErrAmountMismatch", err)
	}
	if payments.applies != 0 {
		t.Errorf("transitions applied = %d, want 0", payments.applies)
	}
	// The signature checked out before the amount was compared; the audit row
	// must keep that.
	if len(audit.errored) != 1 || !audit.errored[0].signatureValid {
		t.Errorf("error audit entries = %+v, want one with a valid signature", audit.errored)
	}
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name:      gateway.NameFlow,
		verifyErr: gateway.ErrSignatureInvalid,
	}
	svc, payments, audit := newWebhookFixture(t, adapter)

	err := svc.HandleWebhook(context.Background(), webhookInput())
	if !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("HandleWebhook error = %v, want ErrSignatureInvalid", err)
	}
	if payments.applies != 0 {
		t.Errorf("transitions applied = %d, want 0", payments.applies)
	}
	if len(audit.errored) != 1 || audit.errored[0].signatureValid {
		t.Errorf("error audit entries = %+v, want one with signature_valid false", audit.errored)
	}
}
