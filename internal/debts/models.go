package debts

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Summary is an aggregate owned by the database; the service only reads it.
type Summary struct {
	TotalPending decimal.Decimal `json:"total_pending"`
}

// Debt is an amount recorded by an administrator outside of any order.
type Debt struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}
