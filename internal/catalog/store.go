package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("product not found")

// Conf reads catalog snapshots from Postgres.
type Conf struct {
	db *pgxpool.Pool
}

func NewConf(db *pgxpool.Pool) (Conf, error) {
	if db == nil {
		return Conf{}, fmt.Errorf("db is nil")
	}
	return Conf{db: db}, nil
}

const productColumns = `
	p.id::text, p.name, p.description, p.price::text, p.available,
	COALESCE(p.category_id::text, ''), p.position, p.stock_mode, p.quantity, p.created_at`

func (c *Conf) ListProducts(ctx context.Context) ([]Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products p
		ORDER BY p.position, p.name`

	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to scan products: %w", err)
	}

	variants, err := c.variantsByProduct(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = variants[products[i].ID]
	}
	return products, nil
}

func (c *Conf) GetProduct(ctx context.Context, productID string) (Product, error) {
	id, err := uuid.Parse(productID)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	query := `SELECT ` + productColumns + `
		FROM products p
		WHERE p.id = $1`

	rows, err := c.db.Query(ctx, query, id)
	if err != nil {
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	product, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
		}
		return Product{}, fmt.Errorf("failed to scan product: %w", err)
	}

	variants, err := c.variantsByProduct(ctx, &product.ID)
	if err != nil {
		return Product{}, err
	}
	product.Variants = variants[product.ID]
	return product, nil
}

// SaveProduct creates p, or replaces it and its variants when p.ID already exists.
// A product without an id gets a new one.
func (c *Conf) SaveProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := Validate(p); err != nil {
		return Product{}, err
	}
	if p.StockMode != StockSimple {
		p.Quantity = nil
	}

	err := pgx.BeginFunc(ctx, c.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO products (id, name, description, price, available, category_id, position, stock_mode, quantity, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, NULLIF($6, '')::uuid, $7, $8, $9, NOW())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				price = EXCLUDED.price,
				available = EXCLUDED.available,
				category_id = EXCLUDED.category_id,
				position = EXCLUDED.position,
				stock_mode = EXCLUDED.stock_mode,
				quantity = EXCLUDED.quantity`,
			p.ID, p.Name, p.Description, p.Price.String(), p.Available, p.CategoryID, p.Position, string(p.StockMode), p.Quantity)
		if err != nil {
			return fmt.Errorf("failed to save product: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM product_variants WHERE product_id = $1::uuid`, p.ID); err != nil {
			return fmt.Errorf("failed to clear variants: %w", err)
		}
		if p.StockMode != StockVariants {
			return nil
		}
		batch := &pgx.Batch{}
		for i, v := range p.Variants {
			batch.Queue(`
				INSERT INTO product_variants (product_id, name, quantity, position)
				VALUES ($1, $2, $3, $4)`, p.ID, v.Name, v.Quantity, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save variants: %w", err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return c.GetProduct(ctx, p.ID)
}

func (c *Conf) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id::text, name, position
		FROM categories
		ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var cat Category
		err := row.Scan(&cat.ID, &cat.Name, &cat.Position)
		return cat, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan categories: %w", err)
	}
	return categories, nil
}

func (c *Conf) variantsByProduct(ctx context.Context, productID *string) (map[string][]Variant, error) {
	rows, err := c.db.Query(ctx, `
		SELECT product_id::text, name, quantity
		FROM product_variants
		WHERE $1::uuid IS NULL OR product_id = $1::uuid
		ORDER BY product_id, position, name`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Variant)
	for rows.Next() {
		var (
			owner string
			v     Variant
		)
		if err := rows.Scan(&owner, &v.Name, &v.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		out[owner] = append(out[owner], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variants: %w", err)
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var (
		p     Product
		price string
		mode  string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Available,
		&p.CategoryID, &p.Position, &mode, &p.Quantity, &p.CreatedAt)
	if err != nil {
		return Product{}, err
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s has an invalid price %q: %w", p.ID, price, err)
	}
	p.StockMode = StockMode(mode)
	return p, nil
}
