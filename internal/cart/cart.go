package cart

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"popotte/internal/catalog"
)

// Store is the in-memory cart of one member session. It never holds more units of a
// finite-stock line than the most recently observed stock for that line.
type Store struct {
	mu    sync.Mutex
	lines []Line
}

func NewStore() *Store {
	return &Store{}
}

// Add requests one more unit of product (and variant). product must be a fresh snapshot:
// stock is re-evaluated on every call.
func (s *Store) Add(product catalog.Product, variant string) (Line, error) {
	if product.StockMode != catalog.StockVariants {
		variant = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(key{productID: product.ID, variant: variant})
	inCart := 0
	if idx >= 0 {
		inCart = s.lines[idx].Quantity
	}

	available, tracked := catalog.AvailableStock(product, variant)
	if !product.Available {
		available, tracked = 0, true
	}

	if tracked && available == 0 {
		return Line{}, &StockError{
			Kind:        ErrOutOfStock,
			ProductID:   product.ID,
			ProductName: product.Name,
			Variant:     variant,
			InCart:      inCart,
		}
	}
	if tracked && inCart >= available {
		return Line{}, &StockError{
			Kind:        ErrStockExceeded,
			ProductID:   product.ID,
			ProductName: product.Name,
			Variant:     variant,
			InCart:      inCart,
			Available:   available,
		}
	}

	if idx < 0 {
		s.lines = append(s.lines, Line{ProductID: product.ID, Variant: variant})
		idx = len(s.lines) - 1
	}
	line := &s.lines[idx]
	line.Name = product.Name
	line.UnitPrice = product.Price
	line.Quantity++
	return *line, nil
}

// Remove takes one unit off the matching line and drops the line when it reaches zero.
// Removing something that is not in the cart is a no-op.
func (s *Store) Remove(productID, variant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(key{productID: productID, variant: variant})
	if idx < 0 {
		return
	}
	s.lines[idx].Quantity--
	if s.lines[idx].Quantity <= 0 {
		s.lines = slices.Delete(s.lines, idx, idx+1)
	}
}

func (s *Store) QuantityOf(productID, variant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(key{productID: productID, variant: variant}); idx >= 0 {
		return s.lines[idx].Quantity
	}
	return 0
}

// Total is the exact sum of unit price times quantity; rounding is left to display.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return total(s.lines)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
}

// Lines returns a copy of the lines in insertion order.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

// Snapshot returns the lines and their total as of this instant. Later mutations of the
// store never show through the returned slice.
func (s *Store) Snapshot() ([]Line, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines), total(s.lines)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func (s *Store) indexOf(k key) int {
	return slices.IndexFunc(s.lines, func(l Line) bool { return l.key() == k })
}

func total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}
