// Package gateway defines the uniform contract over external payment
// processors and the closed set of adapters implementing it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	NameFlow      = "flow"
	NameKhipu     = "khipu"
	NameTransbank = "transbank"
	NameStripe    = "stripe"
)

// Status is the gateway-agnostic outcome of a payment attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
	ErrSignatureInvalid   = errors.New("invalid gateway signature")
)

// Error reports a failed interaction with a payment processor: network
// failure, non-2xx response, or a response missing required fields.
type Error struct {
	Gateway    string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Gateway, e.Op)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CreateRequest carries everything an adapter needs to open a payment.
type CreateRequest struct {
	OrderID       uuid.UUID
	OrderNumber   int
	Subject       string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	ReturnURL     string
	CancelURL     string
	NotifyURL     string
}

type CreateResult struct {
	PaymentURL    string
	TransactionID string
	Token         string
	RawResponse   []byte
}

type VerifyResult struct {
	Status        Status
	TransactionID string
	Token         string
	Amount        decimal.Decimal
	RawResponse   []byte
}

// Notification is one inbound gateway message, exactly as received. Params
// holds the decoded form or query fields for processors that notify that
// way; Body is always the raw payload persisted to the audit log.
type Notification struct {
	Params url.Values
	Body   []byte
	Header http.Header
}

// Adapter is the uniform capability set every payment processor variant
// implements. Create and QueryStatus make outbound calls and must be invoked
// outside any transactional scope; Verify may call out as well (Khipu and
// Transbank resolve notifications with a follow-up authenticated request).
type Adapter interface {
	Name() string
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Verify(ctx context.Context, n Notification) (*VerifyResult, error)
	QueryStatus(ctx context.Context, token string) (*VerifyResult, error)
	ValidateSignature(payload []byte, signature string) bool
}

// Registry is the closed lookup table of configured adapters. Gateway
// selection is a pure name lookup; nothing is resolved at runtime beyond it.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter != nil {
			r.adapters[adapter.Name()] = adapter
		}
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, name)
	}
	return adapter, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// amountString renders a decimal amount the way the processor expects.
// Zero-decimal currencies are sent without a fractional part.
func amountString(amount decimal.Decimal, currency string) string {
	if isZeroDecimalCurrency(currency) {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}

func isZeroDecimalCurrency(currency string) bool {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "CLP", "JPY", "KRW", "PYG", "VND":
		return true
	default:
		return false
	}
}

// do executes one outbound gateway request and returns the response body.
// Non-2xx responses become *Error with the body preserved for diagnosis.
func do(client *http.Client, gatewayName, op string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Gateway: gatewayName, Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Gateway: gatewayName, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Gateway:    gatewayName,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        errors.New("unexpected response status"),
		}
	}

	return body, nil
}
