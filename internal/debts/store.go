package debts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("debt not found")
	ErrInvalidAmount = errors.New("debt amount must be positive")
)

type Conf struct {
	db *pgxpool.Pool
}

func NewConf(db *pgxpool.Pool) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// Outstanding money is every order still waiting for payment confirmation plus every
// unpaid manual debt.
const summaryQuery = `
	SELECT (
		COALESCE((SELECT SUM(total_amount) FROM orders
			WHERE status IN ('pending', 'payment_notified') AND ($1::text IS NULL OR user_id = $1)), 0)
		+
		COALESCE((SELECT SUM(amount) FROM debts
			WHERE status = 'pending' AND ($1::text IS NULL OR user_id = $1)), 0)
	)::text`

func (c *Conf) GetGlobalDebtSummary(ctx context.Context) (Summary, error) {
	return c.summary(ctx, nil)
}

func (c *Conf) GetUserDebtSummary(ctx context.Context, userID string) (Summary, error) {
	return c.summary(ctx, &userID)
}

func (c *Conf) summary(ctx context.Context, userID *string) (Summary, error) {
	var total string
	if err := c.db.QueryRow(ctx, summaryQuery, userID).Scan(&total); err != nil {
		return Summary{}, fmt.Errorf("failed to query debt summary: %w", err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Summary{}, fmt.Errorf("invalid debt total %q: %w", total, err)
	}
	return Summary{TotalPending: amount}, nil
}

func (c *Conf) AddDebt(ctx context.Context, userID string, amount decimal.Decimal, description string) (Debt, error) {
	if !amount.IsPositive() {
		return Debt{}, ErrInvalidAmount
	}

	d := Debt{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Description: description,
		Status:      StatusPending,
	}
	err := c.db.QueryRow(ctx, `
		INSERT INTO debts (id, user_id, amount, description, status, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, NOW())
		RETURNING created_at`, d.ID, d.UserID, d.Amount.String(), d.Description, d.Status).Scan(&d.CreatedAt)
	if err != nil {
		return Debt{}, fmt.Errorf("failed to insert debt: %w", err)
	}
	return d, nil
}

// MarkDebtPaid settles a manual debt and returns it.
func (c *Conf) MarkDebtPaid(ctx context.Context, debtID string) (Debt, error) {
	id, err := uuid.Parse(debtID)
	if err != nil {
		return Debt{}, fmt.Errorf("%w: %s", ErrNotFound, debtID)
	}

	var (
		d      Debt
		amount string
	)
	err = c.db.QueryRow(ctx, `
		UPDATE debts SET status = 'paid'
		WHERE id = $1
		RETURNING id::text, user_id, amount::text, description, status, created_at`, id).
		Scan(&d.ID, &d.UserID, &amount, &d.Description, &d.Status, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Debt{}, fmt.Errorf("%w: %s", ErrNotFound, debtID)
		}
		return Debt{}, fmt.Errorf("failed to mark debt paid: %w", err)
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return Debt{}, fmt.Errorf("invalid debt amount %q: %w", amount, err)
	}
	return d, nil
}
