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
	"strings"

	"github.com/shopspring/decimal"
)

type KhipuConfig struct {
	APIURL     string
	ReceiverID string
	SecretKey  string
	// NotifyURL is the endpoint registered with Khipu for notifications;
	// signature validation recomputes the canonical string against it.
	NotifyURL string
}

// Khipu implements the Khipu bank-transfer protocol. Requests are signed
// with HMAC-SHA256 over `METHOD&urlEncode(url)&urlEncode(sortedQuery)` and
// authenticated with a `receiverId:signature` Authorization header.
// Notifications carry a bearer token whose validity is established by a
// follow-up authenticated GET; the token itself is the capability.
type Khipu struct {
	cfg    KhipuConfig
	client *http.Client
}

func NewKhipu(cfg KhipuConfig, client *http.Client) *Khipu {
	if client == nil {
		client = http.DefaultClient
	}
	return &Khipu{cfg: cfg, client: client}
}

func (k *Khipu) Name() string {
	return NameKhipu
}

func (k *Khipu) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	endpoint := k.cfg.APIURL + "/payments"

	params := url.Values{}
	params.Set("subject", req.Subject)
	params.Set("amount", amountString(req.Amount, req.Currency))
	params.Set("currency", strings.ToUpper(req.Currency))
	params.Set("transaction_id", req.OrderID.String())
	params.Set("return_url", req.ReturnURL)
	params.Set("cancel_url", req.CancelURL)
	params.Set("notify_url", req.NotifyURL)
	if req.CustomerEmail != "" {
		params.Set("payer_email", req.CustomerEmail)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &Error{Gateway: NameKhipu, Op: "create", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", k.sign(http.MethodPost, endpoint, params))

	body, err := do(k.client, NameKhipu, "create", httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		PaymentID  string `json:"payment_id"`
		PaymentURL string `json:"payment_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Gateway: NameKhipu, Op: "create", Body: string(body), Err: err}
	}
	if resp.PaymentID == "" || resp.PaymentURL == "" {
		return nil, &Error{Gateway: NameKhipu, Op: "create", Body: string(body), Err: fmt.Errorf("response missing payment_id or payment_url")}
	}

	return &CreateResult{
		PaymentURL:    resp.PaymentURL,
		TransactionID: resp.PaymentID,
		Token:         resp.PaymentID,
		RawResponse:   body,
	}, nil
}

// Verify resolves a notification by exchanging its notification token for
// the payment through an authenticated GET. An invalid or expired token
// never resolves, so no local payload check decides the outcome.
func (k *Khipu) Verify(ctx context.Context, n Notification) (*VerifyResult, error) {
	params := n.Params
	if params == nil {
		var err error
		params, err = url.ParseQuery(string(n.Body))
		if err != nil {
			return nil, &Error{Gateway: NameKhipu, Op: "verify", Err: err}
		}
	}

	token := params.Get("notification_token")
	if token == "" {
		return nil, &Error{Gateway: NameKhipu, Op: "verify", Err: fmt.Errorf("missing notification_token")}
	}

	endpoint := k.cfg.APIURL + "/payments"
	query := url.Values{}
	query.Set("notification_token", token)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &Error{Gateway: NameKhipu, Op: "verify", Err: err}
	}
	httpReq.Header.Set("Authorization", k.sign(http.MethodGet, endpoint, query))

	body, err := do(k.client, NameKhipu, "verify", httpReq)
	if err != nil {
		return nil, err
	}

	return k.decodePayment(body, "verify")
}

func (k *Khipu) QueryStatus(ctx context.Context, token string) (*VerifyResult, error) {
	endpoint := k.cfg.APIURL + "/payments/" + url.PathEscape(token)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Gateway: NameKhipu, Op: "query_status", Err: err}
	}
	httpReq.Header.Set("Authorization", k.sign(http.MethodGet, endpoint, nil))

	body, err := do(k.client, NameKhipu, "query_status", httpReq)
	if err != nil {
		return nil, err
	}

	return k.decodePayment(body, "query_status")
}

// ValidateSignature recomputes the canonical-string HMAC for a notification
// POST against the registered notify URL and compares in constant time.
func (k *Khipu) ValidateSignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	params, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}
	expected := k.sign(http.MethodPost, k.cfg.NotifyURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// sign builds `METHOD&urlEncode(url)&urlEncode(sortedQuery)`, HMAC-SHA256s
// it, and prefixes the hex digest with the receiver id.
func (k *Khipu) sign(method, rawURL string, params url.Values) string {
	canonical := method + "&" + url.QueryEscape(rawURL) + "&" + url.QueryEscape(sortedQuery(params))

	mac := hmac.New(sha256.New, []byte(k.cfg.SecretKey))
	mac.Write([]byte(canonical))
	return k.cfg.ReceiverID + ":" + hex.EncodeToString(mac.Sum(nil))
}

func (k *Khipu) decodePayment(body []byte, op string) (*VerifyResult, error) {
	var resp struct {
		PaymentID     string          `json:"payment_id"`
		TransactionID string          `json:"transaction_id"`
		Status        string          `json:"status"`
		Amount        decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Gateway: NameKhipu, Op: op, Body: string(body), Err: err}
	}
	if resp.PaymentID == "" {
		return nil, &Error{Gateway: NameKhipu, Op: op, Body: string(body), Err: fmt.Errorf("response missing payment_id")}
	}

	status, err := khipuStatus(resp.Status)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Status:        status,
		TransactionID: resp.PaymentID,
		Token:         resp.PaymentID,
		Amount:        resp.Amount,
		RawResponse:   body,
	}, nil
}

func khipuStatus(status string) (Status, error) {
	switch status {
	case "pending", "verifying":
		return StatusPending, nil
	case "done":
		return StatusCompleted, nil
	case "rejected":
		return StatusFailed, nil
	case "expired", "reversed":
		return StatusCancelled, nil
	default:
		return "", &Error{Gateway: NameKhipu, Op: "status_map", Err: fmt.Errorf("unknown status %q", status)}
	}
}

func sortedQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params.Get(key))
	}
	return strings.Join(pairs, "&")
}
