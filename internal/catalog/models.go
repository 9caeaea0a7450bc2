package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockMode string

const (
	StockUntracked StockMode = "untracked"
	StockSimple    StockMode = "simple"
	StockVariants  StockMode = "variants"
)

// Variant is a named sub-stock of a product, such as a size.
type Variant struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=0"`
}

type Product struct {
	ID          string          `json:"id" validate:"required,uuid"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Available   bool            `json:"available"`
	CategoryID  string          `json:"category_id,omitempty" validate:"omitempty,uuid"`
	Position    int             `json:"position"`
	StockMode   StockMode       `json:"stock_mode" validate:"required,oneof=untracked simple variants"`
	Quantity    *int            `json:"quantity,omitempty" validate:"omitempty,min=0"`
	Variants    []Variant       `json:"variants,omitempty" validate:"dive"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}
