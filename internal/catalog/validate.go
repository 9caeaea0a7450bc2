package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidProduct = errors.New("invalid product")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(productStructLevel, Product{})
	return v
}

// Validate checks the stock-mode invariants of a product snapshot.
func Validate(p Product) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}

	msgs := make([]string, 0, len(vErrs))
	for _, vErr := range vErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", vErr.Namespace(), vErr.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidProduct, strings.Join(msgs, ", "))
}

func productStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(Product)

	if p.Price.IsNegative() {
		sl.ReportError(p.Price, "Price", "Price", "nonnegative", "")
	}

	switch p.StockMode {
	case StockVariants:
		if len(p.Variants) == 0 {
			sl.ReportError(p.Variants, "Variants", "Variants", "required_for_variants", "")
		}
		seen := make(map[string]struct{}, len(p.Variants))
		for _, v := range p.Variants {
			if _, dup := seen[v.Name]; dup {
				sl.ReportError(p.Variants, "Variants", "Variants", "unique", v.Name)
				break
			}
			seen[v.Name] = struct{}{}
		}
	case StockSimple:
		if p.Quantity == nil {
			sl.ReportError(p.Quantity, "Quantity", "Quantity", "required_for_simple", "")
		}
	}
}
