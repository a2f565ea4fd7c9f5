package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func flowTestSign(secret string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "s" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var canonical strings.Builder
	for _, key := range keys {
		canonical.WriteString(key)
		canonical.WriteString(params.Get(key))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestFlowCreate(t *testing.T) {
	t.Parallel()

	const secret = "flow-secret"

	var received url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		received = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"url":"https://pay.example/checkout","token":"tok123","flowOrder":9876}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	flow := NewFlow(FlowConfig{APIURL: server.URL, APIKey: "api-key", SecretKey: secret}, server.Client())

	result, err := flow.Create(context.Background(), CreateRequest{
		OrderID:   uuid.New(),
		Subject:   "Order #7",
		Amount:    decimal.NewFromInt(14990),
		Currency:  "CLP",
		ReturnURL: "https://shop.example/return",
		NotifyURL: "https://shop.example/notify",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if result.Token != "tok123" {
		t.Errorf("token = %q, want tok123", result.Token)
	}
	if result.TransactionID != "9876" {
		t.Errorf("transaction id = %q, want 9876", result.TransactionID)
	}
	if result.PaymentURL != "https://pay.example/checkout?token=tok123" {
		t.Errorf("payment url = %q", result.PaymentURL)
	}

	if got := received.Get("amount"); got != "14990" {
		t.Errorf("CLP amount sent as %q, want no decimals", got)
	}
	if got, want := received.Get("s"), flowTestSign(secret, received); got != want {
		t.Errorf("request signature = %q, want %q", got, want)
	}
}

func TestFlowVerify(t *testing.T) {
	t.Parallel()

	const secret = "flow-secret"
	flow := NewFlow(FlowConfig{APIKey: "api-key", SecretKey: secret}, nil)

	makeParams := func(status string) url.Values {
		params := url.Values{}
		params.Set("token", "tok123")
		params.Set("flowOrder", "9876")
		params.Set("status", status)
		params.Set("amount", "14990")
		params.Set("s", flowTestSign(secret, params))
		return params
	}

	tests := []struct {
		name       string
		params     url.Values
		wantStatus Status
		wantErr    bool
	}{
		{name: "paid", params: makeParams("2"), wantStatus: StatusCompleted},
		{name: "pending", params: makeParams("1"), wantStatus: StatusPending},
		{name: "rejected", params: makeParams("3"), wantStatus: StatusFailed},
		{name: "cancelled", params: makeParams("4"), wantStatus: StatusCancelled},
		{
			name: "tampered amount is rejected",
			params: func() url.Values {
				params := makeParams("2")
				params.Set("amount", "1")
				return params
			}(),
			wantErr: true,
		},
		{
			name: "missing signature is rejected",
			params: func() url.Values {
				params := makeParams("2")
				params.Del("s")
				return params
			}(),
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result, err := flow.Verify(context.Background(), Notification{Params: tc.params})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), "signature") {
					t.Errorf("error = %v, want signature error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if result.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s", result.Status, tc.wantStatus)
			}
			if result.Token != "tok123" {
				t.Errorf("token = %q", result.Token)
			}
			if !result.Amount.Equal(decimal.NewFromInt(14990)) {
				t.Errorf("amount = %s", result.Amount)
			}
		})
	}
}

func TestFlowValidateSignature(t *testing.T) {
	t.Parallel()

	const secret = "flow-secret"
	flow := NewFlow(FlowConfig{SecretKey: secret}, nil)

	params := url.Values{}
	params.Set("token", "tok123")
	params.Set("status", "2")
	signature := flowTestSign(secret, params)

	if !flow.ValidateSignature([]byte(params.Encode()), signature) {
		t.Error("valid signature rejected")
	}

	params.Set("status", "3")
	if flow.ValidateSignature([]byte(params.Encode()), signature) {
		t.Error("signature accepted after payload tampering")
	}

	if flow.ValidateSignature([]byte(params.Encode()), "") {
		t.Error("empty signature accepted")
	}
}

func TestFlowQueryStatus(t *testing.T) {
	t.Parallel()

	const secret = "flow-secret"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment/getStatus" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		query := r.URL.Query()
		if got, want := query.Get("s"), flowTestSign(secret, query); got != want {
			t.Errorf("query signature = %q, want %q", got, want)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":2,"flowOrder":9876,"amount":14990}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	flow := NewFlow(FlowConfig{APIURL: server.URL, APIKey: "api-key", SecretKey: secret}, server.Client())

	result, err := flow.QueryStatus(context.Background(), "tok123")
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if result.TransactionID != "9876" {
		t.Errorf("transaction id = %q", result.TransactionID)
	}
}
