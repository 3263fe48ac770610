package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

const productColumns = `id, sku, name, description, price, stock, active, created_at, updated_at`

// upsertProductSQL creates or updates in one statement. Optional parameters left NULL keep the
// stored value on update; xmax is zero only for freshly inserted tuples.
const upsertProductSQL = `
INSERT INTO products (sku, name, description, price, stock, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6::boolean, TRUE), NOW(), NOW())
ON CONFLICT (sku) DO UPDATE SET
	name        = EXCLUDED.name,
	description = COALESCE($3, products.description),
	price       = COALESCE($4, products.price),
	stock       = COALESCE($5, products.stock),
	active      = COALESCE($6::boolean, products.active),
	updated_at  = NOW()
RETURNING ` + productColumns + `, (xmax = 0) AS inserted`

// ProductStore persists products in Postgres.
type ProductStore struct {
	pool Pool
}

// NewProductStore constructs a store from an existing pool.
func NewProductStore(pool Pool) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProductStore{pool: pool}, nil
}

// Upsert creates or updates the product keyed by its normalized SKU.
func (s *ProductStore) Upsert(ctx context.Context, write catalog.ProductWrite) (catalog.Product, bool, error) {
	var (
		p        catalog.Product
		inserted bool
	)
	err := s.pool.QueryRow(ctx, upsertProductSQL,
		catalog.NormalizeSKU(write.SKU),
		write.Name,
		write.Description,
		write.Price,
		write.Stock,
		write.Active,
	).Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.Stock,
		&p.Active, &p.CreatedAt, &p.UpdatedAt, &inserted,
	)
	if err != nil {
		return catalog.Product{}, false, storageError("upsert product", err)
	}
	return p, inserted, nil
}

// Get loads a product by SKU.
func (s *ProductStore) Get(ctx context.Context, sku string) (catalog.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE sku = $1`,
		catalog.NormalizeSKU(sku))
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, storageError("get product", err)
	}
	return p, nil
}

// Delete removes a product and returns the deleted row.
func (s *ProductStore) Delete(ctx context.Context, sku string) (catalog.Product, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM products WHERE sku = $1 RETURNING `+productColumns,
		catalog.NormalizeSKU(sku))
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, storageError("delete product", err)
	}
	return p, nil
}

// Count returns the number of products.
func (s *ProductStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, storageError("count products", err)
	}
	return n, nil
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.Stock,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
