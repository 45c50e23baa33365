package models

import (
	"strings"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
)

// CompanyProfile holds the issuer details printed on every invoice.
// There is a single profile per installation.
type CompanyProfile struct {
	Base         `json:",inline"`
	CompanyName  string `json:"company_name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	TaxID        string `json:"tax_id"`
	BankIBAN     string `json:"bank_iban"`
	BankSWIFT    string `json:"bank_swift"`
	LogoKey      string `json:"logo_key,omitempty"`
	LogoThumbKey string `json:"logo_thumb_key,omitempty"`
}

func (p *CompanyProfile) Validate() error {
	if strings.TrimSpace(p.CompanyName) == "" {
		return apperr.NewError("company name is required").
			WithHint("Company name must not be empty.").
			Mark(apperr.ErrValidation)
	}
	return nil
}

// FullAddress joins the address lines for single-line display contexts.
func (p *CompanyProfile) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.AddressLine1, p.AddressLine2, p.City, p.PostalCode} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
