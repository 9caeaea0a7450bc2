package catalog

// AvailableStock returns how many units of product (and variant) can still be requested.
// tracked is false when the product does not track stock, in which case n is meaningless
// and any quantity is allowed.
//
// For variant products an unknown or empty variant name yields 0, never unlimited.
// The result only describes the snapshot passed in; callers re-read the product before
// every cart mutation.
func AvailableStock(p Product, variant string) (n int, tracked bool) {
	switch p.StockMode {
	case StockVariants:
		for _, v := range p.Variants {
			if v.Name == variant {
				return max(v.Quantity, 0), true
			}
		}
		return 0, true
	case StockSimple:
		if p.Quantity == nil {
			return 0, true
		}
		return max(*p.Quantity, 0), true
	default:
		return 0, false
	}
}

