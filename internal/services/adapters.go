package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/gateway"
	"github.com/pagoshq/pagos/internal/models"
)

// GatewayEnvironment is the deployment-wide gateway configuration: API
// endpoints and the shared outbound HTTP client. Credentials live per
// tenant in the database, not here.
type GatewayEnvironment struct {
	FlowAPIURL          string
	KhipuAPIURL         string
	TransbankAPIURL     string
	StripeWebhookSecret string
	BaseURL             string
	Client              *http.Client
}

// AdapterFactory builds a gateway adapter for one tenant on demand,
// combining the environment endpoints with the tenant's decrypted
// credentials.
type AdapterFactory struct {
	env     GatewayEnvironment
	tenants *db.TenantStore
}

func NewAdapterFactory(env GatewayEnvironment, tenants *db.TenantStore) *AdapterFactory {
	return &AdapterFactory{env: env, tenants: tenants}
}

// ForTenant resolves one gateway by name out of the tenant's registry, or
// ErrGatewayNotConfigured when the tenant has no enabled credentials for it.
// Unknown names surface gateway.ErrUnsupportedGateway.
func (f *AdapterFactory) ForTenant(ctx context.Context, tenantID uuid.UUID, name string) (gateway.Adapter, error) {
	switch name {
	case gateway.NameFlow, gateway.NameKhipu, gateway.NameTransbank, gateway.NameStripe:
	default:
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnsupportedGateway, name)
	}

	registry, err := f.RegistryForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	adapter, err := registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s for tenant %s", ErrGatewayNotConfigured, name, tenantID)
	}
	return adapter, nil
}

// RegistryForTenant builds the closed lookup table of every gateway the
// tenant has enabled credentials for.
func (f *AdapterFactory) RegistryForTenant(ctx context.Context, tenantID uuid.UUID) (*gateway.Registry, error) {
	credsList, err := f.tenants.ListGatewayCredentials(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	adapters := make([]gateway.Adapter, 0, len(credsList))
	for i := range credsList {
		adapters = append(adapters, f.build(tenantID, &credsList[i]))
	}
	return gateway.NewRegistry(adapters...), nil
}

func (f *AdapterFactory) build(tenantID uuid.UUID, creds *models.GatewayCredentials) gateway.Adapter {
	switch creds.Gateway {
	case gateway.NameFlow:
		return gateway.NewFlow(gateway.FlowConfig{
			APIURL:    f.env.FlowAPIURL,
			APIKey:    creds.APIKey,
			SecretKey: creds.APISecret,
		}, f.env.Client)
	case gateway.NameKhipu:
		return gateway.NewKhipu(gateway.KhipuConfig{
			APIURL:     f.env.KhipuAPIURL,
			ReceiverID: creds.ReceiverID,
			SecretKey:  creds.APISecret,
			NotifyURL:  f.NotifyURL(gateway.NameKhipu, tenantID),
		}, f.env.Client)
	case gateway.NameTransbank:
		return gateway.NewTransbank(gateway.TransbankConfig{
			APIURL:       f.env.TransbankAPIURL,
			CommerceCode: creds.CommerceCode,
			APIKey:       creds.APIKey,
		}, f.env.Client)
	case gateway.NameStripe:
		return gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     creds.APISecret,
			WebhookSecret: f.env.StripeWebhookSecret,
		})
	default:
		return nil
	}
}

// NotifyURL is the webhook endpoint registered with the processor. The
// tenant id travels as a query parameter so the ingest path can load the
// right credentials before touching the payload.
func (f *AdapterFactory) NotifyURL(gatewayName string, tenantID uuid.UUID) string {
	return fmt.Sprintf("%s/webhooks/payments/%s?tenant=%s",
		f.env.BaseURL, gatewayName, url.QueryEscape(tenantID.String()))
}

// ReturnURL is where the processor sends the customer's browser after the
// payment attempt.
func (f *AdapterFactory) ReturnURL(gatewayName string, tenantID, paymentID uuid.UUID) string {
	return fmt.Sprintf("%s/payments/return/%s?tenant=%s&payment=%s",
		f.env.BaseURL, gatewayName, url.QueryEscape(tenantID.String()), url.QueryEscape(paymentID.String()))
}
