package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

const transbankBasePath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

type TransbankConfig struct {
	APIURL       string
	CommerceCode string
	APIKey       string
}

// Transbank implements the Webpay Plus REST protocol. Nothing in the body is
// signed; trust is bound to the commerce-code/API-key header pair over TLS.
// Confirmation is two-phase: create opens the transaction and returns a
// token, and a second commit call keyed by that token yields the definitive
// response code.
type Transbank struct {
	cfg    TransbankConfig
	client *http.Client
}

func NewTransbank(cfg TransbankConfig, client *http.Client) *Transbank {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transbank{cfg: cfg, client: client}
}

func (t *Transbank) Name() string {
	return NameTransbank
}

func (t *Transbank) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	payload := map[string]any{
		"buy_order":  req.OrderID.String(),
		"session_id": req.OrderID.String(),
		"amount":     json.Number(amountString(req.Amount, req.Currency)),
		"return_url": req.ReturnURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "create", Err: err}
	}

	httpReq, err := t.newRequest(ctx, http.MethodPost, t.cfg.APIURL+transbankBasePath, body)
	if err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "create", Err: err}
	}

	respBody, err := do(t.client, NameTransbank, "create", httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "create", Body: string(respBody), Err: err}
	}
	if resp.Token == "" || resp.URL == "" {
		return nil, &Error{Gateway: NameTransbank, Op: "create", Body: string(respBody), Err: fmt.Errorf("response missing token or url")}
	}

	return &CreateResult{
		PaymentURL:    fmt.Sprintf("%s?token_ws=%s", resp.URL, resp.Token),
		TransactionID: resp.Token,
		Token:         resp.Token,
		RawResponse:   respBody,
	}, nil
}

// Verify commits the transaction named by token_ws. A return carrying
// TBK_TOKEN, or no token at all, is a user-initiated abort and classifies as
// cancelled rather than failed.
func (t *Transbank) Verify(ctx context.Context, n Notification) (*VerifyResult, error) {
	params := n.Params
	if params == nil {
		var err error
		params, err = url.ParseQuery(string(n.Body))
		if err != nil {
			return nil, &Error{Gateway: NameTransbank, Op: "verify", Err: err}
		}
	}

	if abortToken := params.Get("TBK_TOKEN"); abortToken != "" {
		return &VerifyResult{Status: StatusCancelled, Token: abortToken, RawResponse: n.Body}, nil
	}

	token := params.Get("token_ws")
	if token == "" {
		return &VerifyResult{Status: StatusCancelled, RawResponse: n.Body}, nil
	}

	httpReq, err := t.newRequest(ctx, http.MethodPut, t.cfg.APIURL+transbankBasePath+"/"+url.PathEscape(token), nil)
	if err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "commit", Err: err}
	}

	body, err := do(t.client, NameTransbank, "commit", httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ResponseCode *int            `json:"response_code"`
		BuyOrder     string          `json:"buy_order"`
		Amount       decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "commit", Body: string(body), Err: err}
	}
	if resp.ResponseCode == nil {
		return nil, &Error{Gateway: NameTransbank, Op: "commit", Body: string(body), Err: fmt.Errorf("response missing response_code")}
	}

	status := StatusFailed
	if *resp.ResponseCode == 0 {
		status = StatusCompleted
	}

	return &VerifyResult{
		Status:      status,
		Token:       token,
		Amount:      resp.Amount,
		RawResponse: body,
	}, nil
}

func (t *Transbank) QueryStatus(ctx context.Context, token string) (*VerifyResult, error) {
	httpReq, err := t.newRequest(ctx, http.MethodGet, t.cfg.APIURL+transbankBasePath+"/"+url.PathEscape(token), nil)
	if err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "query_status", Err: err}
	}

	body, err := do(t.client, NameTransbank, "query_status", httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status string          `json:"status"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Gateway: NameTransbank, Op: "query_status", Body: string(body), Err: err}
	}

	status, err := transbankStatus(resp.Status)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Status:      status,
		Token:       token,
		Amount:      resp.Amount,
		RawResponse: body,
	}, nil
}

// ValidateSignature always succeeds: Webpay requests carry no body
// signature, trust is established by the header-bound key pair over TLS.
func (t *Transbank) ValidateSignature(payload []byte, signature string) bool {
	_ = payload
	_ = signature
	return true
}

func (t *Transbank) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Tbk-Api-Key-Id", t.cfg.CommerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func transbankStatus(status string) (Status, error) {
	switch status {
	case "INITIALIZED":
		return StatusPending, nil
	case "AUTHORIZED":
		return StatusCompleted, nil
	case "FAILED":
		return StatusFailed, nil
	case "REVERSED", "NULLIFIED":
		return StatusCancelled, nil
	default:
		return "", &Error{Gateway: NameTransbank, Op: "status_map", Err: fmt.Errorf("unknown status %q", status)}
	}
}
