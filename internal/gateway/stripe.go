package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// Stripe adapts Stripe Checkout to the gateway contract. The checkout
// session id doubles as the token; webhook authenticity comes from Stripe's
// own signed-payload scheme rather than a parameter HMAC.
type Stripe struct {
	client        *stripeapi.Client
	webhookSecret string
}

func NewStripe(cfg StripeConfig) *Stripe {
	return &Stripe{
		client:        stripeapi.NewClient(cfg.SecretKey),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (s *Stripe) Name() string {
	return NameStripe
}

func (s *Stripe) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:       stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL: stripeapi.String(req.ReturnURL),
		CancelURL:  stripeapi.String(req.CancelURL),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(strings.ToLower(req.Currency)),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(req.Subject),
					},
					UnitAmount: stripeapi.Int64(minorUnits(req.Amount, req.Currency)),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	sess, err := s.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, &Error{Gateway: NameStripe, Op: "create", Err: err}
	}
	if sess.URL == "" {
		return nil, &Error{Gateway: NameStripe, Op: "create", Err: fmt.Errorf("session has no redirect url")}
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		raw = nil
	}

	return &CreateResult{
		PaymentURL:    sess.URL,
		TransactionID: sess.ID,
		Token:         sess.ID,
		RawResponse:   raw,
	}, nil
}

func (s *Stripe) Verify(ctx context.Context, n Notification) (*VerifyResult, error) {
	_ = ctx

	signature := n.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(n.Body, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("stripe: %w: %v", ErrSignatureInvalid, err)
	}

	var status Status
	switch event.Type {
	case "checkout.session.completed":
		status = StatusCompleted
	case "checkout.session.expired":
		status = StatusCancelled
	case "payment_intent.payment_failed":
		status = StatusFailed
	default:
		return nil, &Error{Gateway: NameStripe, Op: "verify", Err: fmt.Errorf("unhandled event type %q", event.Type)}
	}

	var object struct {
		ID            string `json:"id"`
		PaymentIntent any    `json:"payment_intent"`
		AmountTotal   int64  `json:"amount_total"`
		Currency      string `json:"currency"`
	}
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &object) != nil || object.ID == "" {
		return nil, &Error{Gateway: NameStripe, Op: "verify", Err: fmt.Errorf("event object missing id")}
	}

	return &VerifyResult{
		Status:        status,
		TransactionID: object.ID,
		Token:         object.ID,
		Amount:        fromMinorUnits(object.AmountTotal, object.Currency),
		RawResponse:   n.Body,
	}, nil
}

func (s *Stripe) QueryStatus(ctx context.Context, token string) (*VerifyResult, error) {
	sess, err := s.client.V1CheckoutSessions.Retrieve(ctx, token, nil)
	if err != nil {
		return nil, &Error{Gateway: NameStripe, Op: "query_status", Err: err}
	}

	status := StatusPending
	switch {
	case sess.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid:
		status = StatusCompleted
	case sess.Status == stripeapi.CheckoutSessionStatusExpired:
		status = StatusCancelled
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		raw = nil
	}

	return &VerifyResult{
		Status:        status,
		TransactionID: sess.ID,
		Token:         sess.ID,
		Amount:        fromMinorUnits(sess.AmountTotal, string(sess.Currency)),
		RawResponse:   raw,
	}, nil
}

func (s *Stripe) ValidateSignature(payload []byte, signature string) bool {
	_, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	return err == nil
}

func minorUnits(amount decimal.Decimal, currency string) int64 {
	if isZeroDecimalCurrency(currency) {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if isZeroDecimalCurrency(currency) {
		return decimal.NewFromInt(amount)
	}
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
}
