package cart

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popotte/internal/catalog"
)

func simple(id string, price string, qty int) catalog.Product {
	return catalog.Product{
		ID: id, Name: id, Price: decimal.RequireFromString(price),
		Available: true, StockMode: catalog.StockSimple, Quantity: &qty,
	}
}

func untracked(id string, price string) catalog.Product {
	return catalog.Product{
		ID: id, Name: id, Price: decimal.RequireFromString(price),
		Available: true, StockMode: catalog.StockUntracked,
	}
}

func pastilla() catalog.Product {
	return catalog.Product{
		ID: "pastilla", Name: "Pastilla", Price: decimal.RequireFromString("4.00"),
		Available: true, StockMode: catalog.StockVariants,
		Variants: []catalog.Variant{{Name: "S", Quantity: 5}, {Name: "M", Quantity: 0}},
	}
}

func TestAddSimpleStopsAtStock(t *testing.T) {
	chips := simple("chips", "1.25", 2)
	s := NewStore()

	for i := 0; i < 2; i++ {
		_, err := s.Add(chips, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, s.QuantityOf("chips", ""))
	assert.True(t, s.Total().Equal(decimal.RequireFromString("2.50")))

	_, err := s.Add(chips, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStockExceeded))

	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "chips", stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 2, stockErr.InCart)

	assert.Equal(t, 2, s.QuantityOf("chips", ""), "rejected add must leave the cart unchanged")
}

func TestAddSimpleExactlyQUnitsForAnyQ(t *testing.T) {
	for q := 0; q <= 6; q++ {
		s := NewStore()
		p := simple("p", "1", q)
		accepted := 0
		var lastErr error
		for i := 0; i < q+3; i++ {
			if _, err := s.Add(p, ""); err != nil {
				lastErr = err
				continue
			}
			accepted++
		}
		assert.Equal(t, q, accepted, "q=%d", q)
		assert.Equal(t, q, s.QuantityOf("p", ""), "q=%d", q)
		if q == 0 {
			assert.True(t, errors.Is(lastErr, ErrOutOfStock), "q=%d", q)
		} else {
			assert.True(t, errors.Is(lastErr, ErrStockExceeded), "q=%d", q)
		}
	}
}

func TestAddUntrackedHasNoUpperBound(t *testing.T) {
	s := NewStore()
	coffee := untracked("coffee", "0.50")
	for i := 0; i < 250; i++ {
		_, err := s.Add(coffee, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 250, s.QuantityOf("coffee", ""))
	assert.True(t, s.Total().Equal(decimal.NewFromInt(125)))
}

func TestAddVariants(t *testing.T) {
	s := NewStore()
	p := pastilla()

	_, err := s.Add(p, "M")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfStock))
	assert.Contains(t, err.Error(), "Pastilla")
	assert.Contains(t, err.Error(), "(M)")
	assert.Zero(t, s.Len(), "out of stock must not create a line")

	for i := 1; i <= 5; i++ {
		line, err := s.Add(p, "S")
		require.NoError(t, err, "add #%d", i)
		assert.Equal(t, i, line.Quantity)
	}
	_, err = s.Add(p, "S")
	assert.True(t, errors.Is(err, ErrStockExceeded))
	assert.Equal(t, 5, s.QuantityOf("pastilla", "S"))

	_, err = s.Add(p, "XL")
	assert.True(t, errors.Is(err, ErrOutOfStock), "unknown variant is unavailable")
}

func TestAddUnavailableProductIsOutOfStock(t *testing.T) {
	s := NewStore()
	p := untracked("tea", "1")
	p.Available = false

	_, err := s.Add(p, "")
	assert.True(t, errors.Is(err, ErrOutOfStock))
	assert.Zero(t, s.Len())
}

func TestAddReevaluatesStockFromLatestSnapshot(t *testing.T) {
	s := NewStore()
	_, err := s.Add(simple("chips", "1", 3), "")
	require.NoError(t, err)
	_, err = s.Add(simple("chips", "1", 3), "")
	require.NoError(t, err)

	// someone else bought most of it in the meantime
	_, err = s.Add(simple("chips", "1", 1), "")
	assert.True(t, errors.Is(err, ErrStockExceeded))
	assert.Equal(t, 2, s.QuantityOf("chips", ""))
}

func TestAddRefreshesPriceAndIgnoresVariantOnSimpleProducts(t *testing.T) {
	s := NewStore()
	_, err := s.Add(simple("chips", "1.00", 5), "ignored")
	require.NoError(t, err)
	_, err = s.Add(simple("chips", "1.20", 5), "")
	require.NoError(t, err)

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "", lines[0].Variant)
	assert.True(t, lines[0].UnitPrice.Equal(decimal.RequireFromString("1.20")))
}

func TestRemove(t *testing.T) {
	s := NewStore()

	assert.NotPanics(t, func() { s.Remove("nothing", "") })
	assert.Zero(t, s.Len())

	p := pastilla()
	_, _ = s.Add(p, "S")
	_, _ = s.Add(p, "S")
	_, _ = s.Add(untracked("coffee", "0.50"), "")

	s.Remove("pastilla", "M")
	assert.Equal(t, 2, s.QuantityOf("pastilla", "S"))

	s.Remove("pastilla", "S")
	assert.Equal(t, 1, s.QuantityOf("pastilla", "S"))
	s.Remove("pastilla", "S")
	assert.Equal(t, 0, s.QuantityOf("pastilla", "S"))
	assert.Equal(t, 1, s.Len(), "line removed when quantity reaches zero")

	s.Remove("pastilla", "S")
	assert.Equal(t, 1, s.Len())
}

func TestTotalMatchesLinesAfterAnySequence(t *testing.T) {
	s := NewStore()
	chips := simple("chips", "1.10", 10)
	coffee := untracked("coffee", "0.35")
	p := pastilla()

	ops := []func(){
		func() { _, _ = s.Add(chips, "") },
		func() { _, _ = s.Add(coffee, "") },
		func() { _, _ = s.Add(p, "S") },
		func() { s.Remove("coffee", "") },
		func() { _, _ = s.Add(coffee, "") },
		func() { _, _ = s.Add(coffee, "") },
		func() { s.Remove("chips", "") },
		func() { _, _ = s.Add(p, "S") },
		func() { s.Remove("unknown", "") },
	}
	for i, op := range ops {
		op()
		want := decimal.Zero
		for _, l := range s.Lines() {
			want = want.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
		assert.True(t, s.Total().Equal(want), "after op %d: %s != %s", i, s.Total(), want)
	}
	assert.True(t, s.Total().Equal(decimal.RequireFromString("8.70")))
}

func TestSnapshotIsDetached(t *testing.T) {
	s := NewStore()
	_, _ = s.Add(untracked("coffee", "1"), "")

	lines, total := s.Snapshot()
	_, _ = s.Add(untracked("coffee", "1"), "")
	_, _ = s.Add(untracked("tea", "2"), "")

	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.True(t, total.Equal(decimal.NewFromInt(1)))
}

func TestClear(t *testing.T) {
	s := NewStore()
	_, _ = s.Add(untracked("coffee", "1"), "")
	s.Clear()
	assert.Zero(t, s.Len())
	assert.True(t, s.Total().IsZero())
}

func TestSessions(t *testing.T) {
	sessions := NewSessions()
	a := sessions.Get("alice")
	assert.Same(t, a, sessions.Get("alice"))
	assert.NotSame(t, a, sessions.Get("bob"))

	_, _ = a.Add(untracked("coffee", "1"), "")
	sessions.Drop("alice")
	assert.Zero(t, sessions.Get("alice").Len())
}
