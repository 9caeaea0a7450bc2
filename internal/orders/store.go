package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conf is the Postgres order store. It is the authority on stock: creating an order
// decrements stock in the same transaction, cancelling one puts it back.
type Conf struct {
	db *pgxpool.Pool
}

func NewConf(db *pgxpool.Pool) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

func (c *Conf) CreateOrder(ctx context.Context, req Request) (Order, error) {
	if len(req.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no items", ErrInvalidSubmission)
	}
	if !SumItems(req.Items).Equal(req.TotalAmount) {
		return Order{}, fmt.Errorf("%w: got %s, items sum to %s", ErrTotalMismatch,
			req.TotalAmount.StringFixed(2), SumItems(req.Items).StringFixed(2))
	}

	orderID := uuid.NewString()
	var created Order

	err := c.withTx(ctx, func(tx pgx.Tx) error {
		for i, it := range req.Items {
			if it.Quantity <= 0 {
				return fmt.Errorf("item %d: quantity must be positive, got %d", i, it.Quantity)
			}
			if err := takeStock(ctx, tx, it); err != nil {
				return err
			}
		}

		queryCreateOrder := `
			INSERT INTO orders (id, user_id, status, total_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, NOW(), NOW())
		`
		_, err := tx.Exec(ctx, queryCreateOrder, orderID, req.UserID, StatusPending, req.TotalAmount.String())
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		queryAddItem := `
			INSERT INTO order_items (order_id, product_id, variant, name, quantity, unit_price)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6::numeric)
		`
		for i, it := range req.Items {
			_, err = tx.Exec(ctx, queryAddItem, orderID, it.ProductID, it.Variant, it.Name, it.Quantity, it.UnitPrice.String())
			if err != nil {
				return fmt.Errorf("failed to insert item %d: %w", i, err)
			}
		}

		created, err = loadOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	return created, nil
}

// UpdateOrderStatus moves an order along its lifecycle and returns the updated order.
func (c *Conf) UpdateOrderStatus(ctx context.Context, orderID string, status Status) (Order, error) {
	if !status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	id, err := uuid.Parse(orderID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	var updated Order
	err = c.withTx(ctx, func(tx pgx.Tx) error {
		var current Status
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, orderID)
			}
			return fmt.Errorf("failed to query order: %w", err)
		}
		if !CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
		}

		_, err = tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		updated, err = loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if status == StatusCancelled {
			for _, it := range updated.Items {
				if err := returnStock(ctx, tx, it); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

func (c *Conf) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return loadOrder(ctx, c.db, orderID)
}

// ListOrders returns the member's orders, newest first.
func (c *Conf) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id::text
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}

	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := loadOrder(ctx, c.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func takeStock(ctx context.Context, tx pgx.Tx, it Item) error {
	productID, err := uuid.Parse(it.ProductID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProductUnavailable, it.Name)
	}

	var (
		mode      string
		available bool
	)
	err = tx.QueryRow(ctx, `SELECT stock_mode, available FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&mode, &available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrProductUnavailable, it.Name)
		}
		return fmt.Errorf("failed to query product: %w", err)
	}
	if !available {
		return fmt.Errorf("%w: %s", ErrProductUnavailable, it.Name)
	}

	var tag pgconn.CommandTag
	switch mode {
	case "simple":
		tag, err = tx.Exec(ctx, `
			UPDATE products SET quantity = quantity - $2
			WHERE id = $1 AND quantity >= $2`, productID, it.Quantity)
	case "variants":
		tag, err = tx.Exec(ctx, `
			UPDATE product_variants SET quantity = quantity - $3
			WHERE product_id = $1 AND name = $2 AND quantity >= $3`, productID, it.Variant, it.Quantity)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		name := it.Name
		if it.Variant != "" {
			name = fmt.Sprintf("%s (%s)", it.Name, it.Variant)
		}
		return fmt.Errorf("%w: %s, requested %d", ErrInsufficientStock, name, it.Quantity)
	}
	return nil
}

func returnStock(ctx context.Context, tx pgx.Tx, it Item) error {
	_, err := tx.Exec(ctx, `
		UPDATE products SET quantity = quantity + $2
		WHERE id = $1::uuid AND stock_mode = 'simple'`, it.ProductID, it.Quantity)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}
	if it.Variant == "" {
		return nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE product_variants SET quantity = quantity + $3
		WHERE product_id = $1::uuid AND name = $2`, it.ProductID, it.Variant, it.Quantity)
	if err != nil {
		return fmt.Errorf("failed to restore variant stock: %w", err)
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, orderID string) (Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	var (
		o     Order
		total string
	)
	err = q.QueryRow(ctx, `
		SELECT id::text, user_id, status, total_amount::text, created_at, updated_at
		FROM orders
		WHERE id = $1`, id).
		Scan(&o.ID, &o.UserID, &o.Status, &total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
		}
		return Order{}, fmt.Errorf("failed to query order: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("order %s has an invalid total %q: %w", orderID, total, err)
	}

	rows, err := q.Query(ctx, `
		SELECT product_id::text, COALESCE(variant, ''), name, quantity, unit_price::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, id)
	if err != nil {
		return Order{}, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    Item
			price string
		)
		if err := rows.Scan(&it.ProductID, &it.Variant, &it.Name, &it.Quantity, &price); err != nil {
			return Order{}, fmt.Errorf("failed to scan order item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return Order{}, fmt.Errorf("order item has an invalid price %q: %w", price, err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("error iterating order items: %w", err)
	}
	return o, nil
}

func (c *Conf) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("tx err: %w; rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}
