package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// DiscountRepository implements ports.DiscountRepository on PostgreSQL
type DiscountRepository struct{}

// NewDiscountRepository creates a new discount repository
func NewDiscountRepository() *DiscountRepository {
	return &DiscountRepository{}
}

const discountColumns = `id, name, type, value, priority, start_date, end_date, applicable_products`

// GetByID retrieves a discount by its ID
func (r *DiscountRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Discount, error) {
	row := db.QueryRow(ctx, `
		SELECT `+discountColumns+`
		FROM discounts
		WHERE id = $1`, id)

	discount, err := scanDiscount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewDomainError(domain.ErrorCodePromoNotFound,
				"discount not found").WithDetail("discount_id", id)
		}
		return nil, fmt.Errorf("get discount by id: %w", err)
	}
	return discount, nil
}

// ListActiveForProduct lists discounts applicable to a product whose validity
// window includes asOf. Global discounts (empty product list) are included.
func (r *DiscountRepository) ListActiveForProduct(ctx context.Context, db ports.DBTX, productID string, asOf time.Time) ([]domain.Discount, error) {
	rows, err := db.Query(ctx, `
		SELECT `+discountColumns+`
		FROM discounts
		WHERE start_date <= $2
		  AND (end_date IS NULL OR end_date >= $2)
		  AND (applicable_products = '{}' OR $1 = ANY(applicable_products))
		ORDER BY priority DESC, id`,
		productID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list active discounts: %w", err)
	}
	defer rows.Close()

	var discounts []domain.Discount
	for rows.Next() {
		discount, err := scanDiscount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discount: %w", err)
		}
		discounts = append(discounts, *discount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discounts: %w", err)
	}
	return discounts, nil
}

func scanDiscount(row pgx.Row) (*domain.Discount, error) {
	var (
		discount domain.Discount
		value    pgtype.Numeric
		endDate  pgtype.Timestamptz
	)

	err := row.Scan(
		&discount.ID,
		&discount.Name,
		&discount.Type,
		&value,
		&discount.Priority,
		&discount.StartDate,
		&endDate,
		&discount.ApplicableProducts,
	)
	if err != nil {
		return nil, err
	}

	discount.Value, err = pgNumericToDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("convert discount value: %w", err)
	}
	if endDate.Valid {
		discount.EndDate = endDate.Time
	}

	return &discount, nil
}
