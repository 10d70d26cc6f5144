package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, category, price FROM products WHERE id = ANY($1)`

	getSizesByProductIDsSQL = `SELECT product_id, id, label, price
		FROM product_sizes WHERE product_id = ANY($1) ORDER BY product_id, id`

	upsertProductSQL = `INSERT INTO products (id, name, category, price) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category, price = EXCLUDED.price`

	deleteSizesSQL = `DELETE FROM product_sizes WHERE product_id = $1`

	insertSizeSQL = `INSERT INTO product_sizes (product_id, id, label, price) VALUES ($1, $2, $3, $4)`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs, with sizes.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}

	rows, err = r.pool.Query(ctx, getSizesByProductIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting product sizes: %w", err)
	}
	sizes := make(map[string][]product.Size)
	var (
		productID string
		s         product.Size
	)
	_, err = pgx.ForEachRow(rows, []any{&productID, &s.ID, &s.Label, &s.Price}, func() error {
		sizes[productID] = append(sizes[productID], s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting product sizes: %w", err)
	}

	for i := range products {
		products[i].Sizes = sizes[products[i].ID]
	}
	return products, nil
}

// Upsert stores p and replaces its sizes in one transaction.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category, p.Price); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteSizesSQL, p.ID); err != nil {
			return err
		}
		for _, s := range p.Sizes {
			if _, err := tx.Exec(ctx, insertSizeSQL, p.ID, s.ID, s.Label, s.Price); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.Name, &p.Category, &price)
	p.Price = price
	return p, err
}
