package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

// Outbound hosts the payment processors answer on. Trace headers are only
// propagated to these so gateway signatures never cover stray headers from
// unrelated destinations.
var tracePropagationTargets = []string{
	"www.flow.cl",
	"khipu.com",
	"webpay3g.transbank.cl",
	"webpay3gint.transbank.cl",
	"api.stripe.com",
}

func WrapRoundTripper(base http.RoundTripper) http.RoundTripper {
	return sentryhttpclient.NewSentryRoundTripper(
		base,
		sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets),
	)
}

// NewHTTPClient builds the client every gateway adapter shares. The timeout
// is mandatory; adapters never open transactional scope around these calls,
// so a hung processor can only cost the timeout, never a held lock.
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := &http.Client{
		Transport: WrapRoundTripper(http.DefaultTransport),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
