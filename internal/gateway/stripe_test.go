package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const stripeTestWebhookSecret = "whsec_test"

// stripeSignatureHeader builds a Stripe-Signature header the way Stripe
// signs webhook deliveries: HMAC-SHA256 over "<timestamp>.<payload>".
func stripeSignatureHeader(secret string, payload []byte, at time.Time) string {
	signed := fmt.Sprintf("%d.%s", at.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": "2026-01-28.clover",
		"type": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"amount_total": 1999000,
				"currency": "clp"
			}
		}
	}`, eventType))
}

func TestStripeVerify(t *testing.T) {
	t.Parallel()

	adapter := NewStripe(StripeConfig{SecretKey: "sk_test", WebhookSecret: stripeTestWebhookSecret})

	tests := []struct {
		name       string
		eventType  string
		wantStatus Status
		wantErr    bool
	}{
		{name: "session completed", eventType: "checkout.session.completed", wantStatus: StatusCompleted},
		{name: "session expired", eventType: "checkout.session.expired", wantStatus: StatusCancelled},
		{name: "payment failed", eventType: "payment_intent.payment_failed", wantStatus: StatusFailed},
		{name: "irrelevant event", eventType: "customer.created", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			payload := stripeEventPayload(tc.eventType)
			header := http.Header{}
			header.Set("Stripe-Signature", stripeSignatureHeader(stripeTestWebhookSecret, payload, time.Now()))

			result, err := adapter.Verify(context.Background(), Notification{Body: payload, Header: header})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if result.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s", result.Status, tc.wantStatus)
			}
			if result.Token != "cs_test_1" {
				t.Errorf("token = %q", result.Token)
			}
			if !result.Amount.Equal(decimal.NewFromInt(1999000)) {
				t.Errorf("amount = %s, want 1999000 for a zero-decimal currency", result.Amount)
			}
		})
	}
}

func TestStripeVerifyRejectsBadSignature(t *testing.T) {
	t.Parallel()

	adapter := NewStripe(StripeConfig{SecretKey: "sk_test", WebhookSecret: stripeTestWebhookSecret})
	payload := stripeEventPayload("checkout.session.completed")

	header := http.Header{}
	header.Set("Stripe-Signature", stripeSignatureHeader("whsec_wrong", payload, time.Now()))

	if _, err := adapter.Verify(context.Background(), Notification{Body: payload, Header: header}); err == nil {
		t.Fatal("expected signature error, got nil")
	}

	if adapter.ValidateSignature(payload, "t=1,v1=deadbeef") {
		t.Error("garbage signature accepted")
	}
	valid := stripeSignatureHeader(stripeTestWebhookSecret, payload, time.Now())
	if !adapter.ValidateSignature(payload, valid) {
		t.Error("valid signature rejected")
	}
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount   string
		currency string
		want     int64
	}{
		{amount: "19990", currency: "CLP", want: 19990},
		{amount: "199.90", currency: "USD", want: 19990},
		{amount: "0.50", currency: "EUR", want: 50},
	}

	for _, tc := range tests {
		t.Run(tc.currency+"_"+tc.amount, func(t *testing.T) {
			t.Parallel()

			amount, err := decimal.NewFromString(tc.amount)
			if err != nil {
				t.Fatalf("parse amount: %v", err)
			}
			if got := minorUnits(amount, tc.currency); got != tc.want {
				t.Errorf("minorUnits(%s, %s) = %d, want %d", tc.amount, tc.currency, got, tc.want)
			}
			if back := fromMinorUnits(tc.want, tc.currency); !back.Equal(amount) {
				t.Errorf("fromMinorUnits(%d, %s) = %s, want %s", tc.want, tc.currency, back, amount)
			}
		})
	}
}
