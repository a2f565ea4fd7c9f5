package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pagoshq/pagos/internal/crypto"
	"github.com/pagoshq/pagos/internal/models"
)

// TenantStore reads tenant tax policy and gateway credentials. Secret
// material is encrypted at rest and only decrypted on read.
type TenantStore struct {
	pool      *pgxpool.Pool
	encryptor crypto.Encryptor
}

func NewTenantStore(pool *pgxpool.Pool, encryptor crypto.Encryptor) *TenantStore {
	return &TenantStore{pool: pool, encryptor: encryptor}
}

func (s *TenantStore) GetByID(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var (
		tenant    models.Tenant
		threshold decimal.NullDecimal
		createdAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, currency, tax_rate, prices_include_tax, free_shipping_threshold, created_at
		FROM tenants WHERE id = $1
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &tenant.Currency, &tenant.TaxRate,
		&tenant.PricesIncludeTax, &threshold, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}

	if threshold.Valid {
		tenant.FreeShippingThreshold = &threshold.Decimal
	}
	tenant.CreatedAt = createdAt.Time
	return &tenant, nil
}

// ListGatewayCredentials returns the decrypted credentials for every
// gateway the tenant has enabled.
func (s *TenantStore) ListGatewayCredentials(ctx context.Context, tenantID uuid.UUID) ([]models.GatewayCredentials, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, gateway, api_key, api_secret, receiver_id, commerce_code, enabled
		FROM gateway_credentials WHERE tenant_id = $1 AND enabled
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.GatewayCredentials
	for rows.Next() {
		var (
			creds        models.GatewayCredentials
			apiKey       string
			apiSecret    string
			receiverID   pgtype.Text
			commerceCode pgtype.Text
		)
		if err := rows.Scan(&creds.TenantID, &creds.Gateway, &apiKey, &apiSecret,
			&receiverID, &commerceCode, &creds.Enabled); err != nil {
			return nil, err
		}
		if creds.APIKey, err = s.encryptor.Decrypt(apiKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt api key: %w", err)
		}
		if creds.APISecret, err = s.encryptor.Decrypt(apiSecret); err != nil {
			return nil, fmt.Errorf("failed to decrypt api secret: %w", err)
		}
		creds.ReceiverID = receiverID.String
		creds.CommerceCode = commerceCode.String
		list = append(list, creds)
	}
	return list, rows.Err()
}

// UpsertGatewayCredentials stores credentials for one tenant and gateway,
// encrypting the key material before it touches the database.
func (s *TenantStore) UpsertGatewayCredentials(ctx context.Context, creds *models.GatewayCredentials) error {
	apiKey, err := s.encryptor.Encrypt(creds.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	apiSecret, err := s.encryptor.Encrypt(creds.APISecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt api secret: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO gateway_credentials (tenant_id, gateway, api_key, api_secret, receiver_id, commerce_code, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, gateway) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			api_secret = EXCLUDED.api_secret,
			receiver_id = EXCLUDED.receiver_id,
			commerce_code = EXCLUDED.commerce_code,
			enabled = EXCLUDED.enabled
	`, creds.TenantID, creds.Gateway, apiKey, apiSecret,
		nullText(creds.ReceiverID), nullText(creds.CommerceCode), creds.Enabled)
	return err
}
