package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusPaymentNotified Status = "payment_notified"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusPaymentNotified, StatusConfirmed, StatusCancelled},
	StatusPaymentNotified: {StatusConfirmed, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaymentNotified, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order in status from may move to status to.
// Confirmed and cancelled orders are final.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item is one line of an order, priced as it was in the cart when submitted.
type Item struct {
	ProductID string          `json:"product_id"`
	Variant   string          `json:"variant,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Request is the immutable snapshot sent to the order store.
type Request struct {
	UserID      string          `json:"user_id"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// SumItems is the exact total of items.
func SumItems(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []Item          `json:"items,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
