package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Flow status codes as delivered in notifications and getStatus responses.
const (
	flowStatusPending   = 1
	flowStatusPaid      = 2
	flowStatusRejected  = 3
	flowStatusCancelled = 4
)

type FlowConfig struct {
	APIURL    string
	APIKey    string
	SecretKey string
}

// Flow implements the Flow.cl protocol: every request carries the full
// parameter set signed with HMAC-SHA256 over the lexicographically sorted
// key+value concatenation, appended as the extra "s" parameter.
type Flow struct {
	cfg    FlowConfig
	client *http.Client
}

func NewFlow(cfg FlowConfig, client *http.Client) *Flow {
	if client == nil {
		client = http.DefaultClient
	}
	return &Flow{cfg: cfg, client: client}
}

func (f *Flow) Name() string {
	return NameFlow
}

func (f *Flow) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	params := url.Values{}
	params.Set("apiKey", f.cfg.APIKey)
	params.Set("commerceOrder", req.OrderID.String())
	params.Set("subject", req.Subject)
	params.Set("currency", strings.ToUpper(req.Currency))
	params.Set("amount", amountString(req.Amount, req.Currency))
	params.Set("urlConfirmation", req.NotifyURL)
	params.Set("urlReturn", req.ReturnURL)
	if req.CustomerEmail != "" {
		params.Set("email", req.CustomerEmail)
	}
	params.Set("s", f.sign(params))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.APIURL+"/payment/create", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &Error{Gateway: NameFlow, Op: "create", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := do(f.client, NameFlow, "create", httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		URL       string `json:"url"`
		Token     string `json:"token"`
		FlowOrder int64  `json:"flowOrder"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Gateway: NameFlow, Op: "create", Body: string(body), Err: err}
	}
	if resp.URL == "" || resp.Token == "" {
		return nil, &Error{Gateway: NameFlow, Op: "create", Body: string(body), Err: fmt.Errorf("response missing url or token")}
	}

	return &CreateResult{
		PaymentURL:    fmt.Sprintf("%s?token=%s", resp.URL, resp.Token),
		TransactionID: strconv.FormatInt(resp.FlowOrder, 10),
		Token:         resp.Token,
		RawResponse:   body,
	}, nil
}

// Verify checks the notification signature locally and maps the reported
// status. Flow notifications are form-encoded and self-contained.
func (f *Flow) Verify(ctx context.Context, n Notification) (*VerifyResult, error) {
	_ = ctx
	params := n.Params
	if params == nil {
		var err error
		params, err = url.ParseQuery(string(n.Body))
		if err != nil {
			return nil, &Error{Gateway: NameFlow, Op: "verify", Err: err}
		}
	}

	signature := params.Get("s")
	if !f.ValidateSignature([]byte(withoutSignature(params).Encode()), signature) {
		return nil, fmt.Errorf("flow: %w", ErrSignatureInvalid)
	}

	statusCode, err := strconv.Atoi(params.Get("status"))
	if err != nil {
		return nil, &Error{Gateway: NameFlow, Op: "verify", Err: fmt.Errorf("missing or invalid status: %q", params.Get("status"))}
	}
	status, err := flowStatus(statusCode)
	if err != nil {
		return nil, err
	}

	amount := decimal.Zero
	if raw := params.Get("amount"); raw != "" {
		amount, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, &Error{Gateway: NameFlow, Op: "verify", Err: fmt.Errorf("invalid amount: %q", raw)}
		}
	}

	return &VerifyResult{
		Status:        status,
		TransactionID: params.Get("flowOrder"),
		Token:         params.Get("token"),
		Amount:        amount,
		RawResponse:   n.Body,
	}, nil
}

func (f *Flow) QueryStatus(ctx context.Context, token string) (*VerifyResult, error) {
	params := url.Values{}
	params.Set("apiKey", f.cfg.APIKey)
	params.Set("token", token)
	params.Set("s", f.sign(params))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.APIURL+"/payment/getStatus?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Gateway: NameFlow, Op: "query_status", Err: err}
	}

	body, err := do(f.client, NameFlow, "query_status", httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status    int             `json:"status"`
		FlowOrder int64           `json:"flowOrder"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Gateway: NameFlow, Op: "query_status", Body: string(body), Err: err}
	}

	status, err := flowStatus(resp.Status)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Status:        status,
		TransactionID: strconv.FormatInt(resp.FlowOrder, 10),
		Token:         token,
		Amount:        resp.Amount,
		RawResponse:   body,
	}, nil
}

// ValidateSignature recomputes the HMAC over the url-encoded parameters
// (minus "s") and compares in constant time.
func (f *Flow) ValidateSignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	params, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}
	expected := f.sign(withoutSignature(params))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// sign concatenates key+value over the lexicographically sorted parameter
// names, with no separators, and HMAC-SHA256s the result.
func (f *Flow) sign(params url.Values) string {
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

	mac := hmac.New(sha256.New, []byte(f.cfg.SecretKey))
	mac.Write([]byte(canonical.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func flowStatus(code int) (Status, error) {
	switch code {
	case flowStatusPending:
		return StatusPending, nil
	case flowStatusPaid:
		return StatusCompleted, nil
	case flowStatusRejected:
		return StatusFailed, nil
	case flowStatusCancelled:
		return StatusCancelled, nil
	default:
		return "", &Error{Gateway: NameFlow, Op: "status_map", Err: fmt.Errorf("unknown status code %d", code)}
	}
}

func withoutSignature(params url.Values) url.Values {
	filtered := url.Values{}
	for key, values := range params {
		if key == "s" {
			continue
		}
		for _, value := range values {
			filtered.Add(key, value)
		}
	}
	return filtered
}
