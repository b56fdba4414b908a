package ports

import (
	"context"

	"github.com/subflow/billing-service/internal/domain"
)

// ProductRepository reads immutable product reference data
type ProductRepository interface {
	// GetByID retrieves a product. Returns domain.ErrProductNotFound when
	// the reference is broken.
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Product, error)
}
