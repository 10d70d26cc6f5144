package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Category string
	// Price is the base price. It is null for products that are listed but
	// not yet priced; such products cannot be ordered.
	Price decimal.NullDecimal
	Sizes []Size
}

// Size is a purchasable variant of a product. A non-null Price overrides the
// product base price.
type Size struct {
	ID    string
	Label string
	Price decimal.NullDecimal
}

// Size returns the variant with the given id.
func (p *Product) Size(id string) (Size, bool) {
	for _, s := range p.Sizes {
		if s.ID == id {
			return s, true
		}
	}
	return Size{}, false
}

// UnitPrice resolves the price for one unit of the given size; pass the zero
// Size for products sold without variants. The boolean is false when no
// price is set.
func (p *Product) UnitPrice(size Size) (decimal.Decimal, bool) {
	if size.Price.Valid {
		return size.Price.Decimal, true
	}
	if p.Price.Valid {
		return p.Price.Decimal, true
	}
	return decimal.Zero, false
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products found among ids, with their sizes.
	// Missing ids are silently skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
