package models

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
)

// Product is a reusable catalogue entry used to prefill invoice line items.
type Product struct {
	Base        `json:",inline"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VatRate     decimal.Decimal `json:"vat_rate"`
	Active      bool            `json:"active"`
}

func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperr.NewError("product name is required").
			WithHint("Name must not be empty.").
			Mark(apperr.ErrValidation)
	}
	if p.UnitPrice.IsNegative() {
		return apperr.NewError("product price cannot be negative").
			WithHint("Unit price must be zero or greater.").
			Mark(apperr.ErrValidation)
	}
	if p.VatRate.IsNegative() || p.VatRate.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.NewError("product VAT rate out of range").
			WithHint("VAT rate must be between 0 and 100.").
			Mark(apperr.ErrValidation)
	}
	return nil
}
