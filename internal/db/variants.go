package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagoshq/pagos/internal/models"
)

type VariantStore struct {
	pool *pgxpool.Pool
}

func NewVariantStore(pool *pgxpool.Pool) *VariantStore {
	return &VariantStore{pool: pool}
}

// GetByIDs returns the requested variants keyed by id. Missing ids are
// simply absent from the map; the caller decides whether that is fatal.
func (s *VariantStore) GetByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.ProductVariant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, sku, name, unit_price, weight_kg, stock_managed, stock_quantity, reserved_quantity
		FROM product_variants WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := make(map[uuid.UUID]*models.ProductVariant, len(ids))
	for rows.Next() {
		var v models.ProductVariant
		if err := rows.Scan(&v.ID, &v.TenantID, &v.SKU, &v.Name, &v.UnitPrice,
			&v.WeightKg, &v.StockManaged, &v.Stock, &v.Reserved); err != nil {
			return nil, err
		}
		variants[v.ID] = &v
	}
	return variants, rows.Err()
}
