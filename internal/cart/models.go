package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOutOfStock    = errors.New("out of stock")
	ErrStockExceeded = errors.New("stock exceeded")
)

// Line is one (product, variant) entry of the cart.
type Line struct {
	ProductID string          `json:"product_id"`
	Variant   string          `json:"variant,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type key struct {
	productID string
	variant   string
}

func (l Line) key() key { return key{productID: l.ProductID, variant: l.Variant} }

// StockError explains a rejected add: which product, which variant and why.
// errors.Is matches it against ErrOutOfStock or ErrStockExceeded.
type StockError struct {
	Kind        error
	ProductID   string
	ProductName string
	Variant     string
	InCart      int
	Available   int
}

func (e *StockError) Error() string {
	name := fmt.Sprintf("%q", e.ProductName)
	if e.Variant != "" {
		name = fmt.Sprintf("%s (%s)", name, e.Variant)
	}
	if errors.Is(e.Kind, ErrOutOfStock) {
		return fmt.Sprintf("%s is out of stock", name)
	}
	return fmt.Sprintf("%s: only %d available and %d already in cart", name, e.Available, e.InCart)
}

func (e *StockError) Unwrap() error { return e.Kind }
