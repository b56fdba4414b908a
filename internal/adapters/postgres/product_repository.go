package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// ProductRepository implements ports.ProductRepository on PostgreSQL
type ProductRepository struct{}

// NewProductRepository creates a new product repository
func NewProductRepository() *ProductRepository {
	return &ProductRepository{}
}

// GetByID retrieves a product by its ID
func (r *ProductRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Product, error) {
	var (
		product domain.Product
		price   pgtype.Numeric
	)

	err := db.QueryRow(ctx, `
		SELECT id, name, price, cycle_type, grace_period_days
		FROM products
		WHERE id = $1`, id).Scan(
		&product.ID,
		&product.Name,
		&price,
		&product.CycleType,
		&product.GracePeriodDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrorCodeProductNotFound,
				"product not found", domain.ErrProductNotFound).
				WithDetail("product_id", id)
		}
		return nil, fmt.Errorf("get product by id: %w", err)
	}

	product.Price, err = pgNumericToDecimal(price)
	if err != nil {
		return nil, fmt.Errorf("convert product price: %w", err)
	}

	return &product, nil
}
