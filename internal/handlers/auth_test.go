package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pagoshq/pagos/internal/config"
)

const testOperatorSecret = "0123456789abcdef0123456789abcdef"

func operatorHandlers(t *testing.T) *Handlers {
	t.Helper()
	return &Handlers{
		config: &config.Config{OperatorJWTSecret: testOperatorSecret},
		logger: slog.New(slog.DiscardHandler),
	}
}

func mintToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()

	var key any = []byte(secret)
	if method == jwt.SigningMethodNone {
		key = jwt.UnsafeAllowNoneSignatureType
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestRequireOperator(t *testing.T) {
	t.Parallel()

	h := operatorHandlers(t)

	validClaims := jwt.MapClaims{
		"sub": "ops@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "valid token",
			authHeader: "Bearer " + mintToken(t, jwt.SigningMethodHS256, testOperatorSecret, validClaims),
			wantStatus: http.StatusOK,
		},
		{
			name:       "lowercase bearer scheme",
			authHeader: "bearer " + mintToken(t, jwt.SigningMethodHS256, testOperatorSecret, validClaims),
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not a bearer token",
			authHeader: "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "expired token",
			authHeader: "Bearer " + mintToken(t, jwt.SigningMethodHS256, testOperatorSecret, jwt.MapClaims{
				"sub": "ops@example.com",
				"exp": time.Now().Add(-time.Minute).Unix(),
			}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "token without expiry",
			authHeader: "Bearer " + mintToken(t, jwt.SigningMethodHS256, testOperatorSecret, jwt.MapClaims{
				"sub": "ops@example.com",
			}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			authHeader: "Bearer " + mintToken(t, jwt.SigningMethodHS256, "ffffffffffffffffffffffffffffffff", validClaims),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "none algorithm rejected",
			authHeader: "Bearer " + mintToken(t, jwt.SigningMethodNone, "", validClaims),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not.a.jwt",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var reached bool
			handler := h.RequireOperator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/operator/payments/abc/verify", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusOK && !reached {
				t.Error("expected request to reach the protected handler")
			}
			if tc.wantStatus == http.StatusUnauthorized {
				if reached {
					t.Error("unauthorized request reached the protected handler")
				}
				if got := rec.Header().Get("WWW-Authenticate"); got == "" {
					t.Error("missing WWW-Authenticate header on 401")
				}
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer   abc123  ")
	token, err := bearerToken(req)
	if err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if token != "abc123" {
		t.Errorf("token = %q, want %q", token, "abc123")
	}
}
