package catalog

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	base := func() Product {
		return Product{
			ID:        "4f0c1c52-7a4e-4d8e-9a43-3b4c1e0d9a11",
			Name:      "Chips",
			Price:     decimal.RequireFromString("1.50"),
			Available: true,
			StockMode: StockSimple,
			Quantity:  intPtr(2),
		}
	}

	t.Run("valid simple", func(t *testing.T) {
		require.NoError(t, Validate(base()))
	})

	t.Run("valid untracked without quantity", func(t *testing.T) {
		p := base()
		p.StockMode, p.Quantity = StockUntracked, nil
		require.NoError(t, Validate(p))
	})

	t.Run("valid variants", func(t *testing.T) {
		p := base()
		p.StockMode, p.Quantity = StockVariants, nil
		p.Variants = []Variant{{Name: "S", Quantity: 5}, {Name: "M", Quantity: 0}}
		require.NoError(t, Validate(p))
	})

	invalid := map[string]func(p *Product){
		"negative price":        func(p *Product) { p.Price = decimal.NewFromInt(-1) },
		"missing name":          func(p *Product) { p.Name = "" },
		"slug id":               func(p *Product) { p.ID = "chips" },
		"slug category":         func(p *Product) { p.CategoryID = "snacks" },
		"unknown stock mode":    func(p *Product) { p.StockMode = "magic" },
		"simple needs quantity": func(p *Product) { p.Quantity = nil },
		"negative quantity":     func(p *Product) { p.Quantity = intPtr(-1) },
		"variants need entries": func(p *Product) { p.StockMode, p.Quantity = StockVariants, nil },
		"negative variant": func(p *Product) {
			p.StockMode = StockVariants
			p.Variants = []Variant{{Name: "S", Quantity: -2}}
		},
		"duplicate variant": func(p *Product) {
			p.StockMode = StockVariants
			p.Variants = []Variant{{Name: "S", Quantity: 1}, {Name: "S", Quantity: 2}}
		},
	}
	for name, mutate := range invalid {
		t.Run(name, func(t *testing.T) {
			p := base()
			mutate(&p)
			err := Validate(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidProduct))
		})
	}
}
