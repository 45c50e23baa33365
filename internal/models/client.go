package models

import (
	"strings"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// ClientType distinguishes individuals from companies.
type ClientType string

const (
	ClientTypeIndividual ClientType = "individual"
	ClientTypeCompany    ClientType = "company"
)

func (t ClientType) Valid() bool {
	return t == ClientTypeIndividual || t == ClientTypeCompany
}

// Client is a billable party invoices are issued to.
type Client struct {
	Base       `json:",inline"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	ClientType ClientType `json:"client_type"`
	TaxNumber  string     `json:"tax_number"`
	VatNumber  string     `json:"vat_number"`
	Street     string     `json:"street"`
	City       string     `json:"city"`
	PostalCode string     `json:"postal_code"`
	Country    string     `json:"country"`
	BankIBAN   string     `json:"bank_iban"`
	BankSWIFT  string     `json:"bank_swift"`
	Deleted    bool       `json:"-"`
}

// Validate checks the fields a client cannot be stored without.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.NewError("client name is required").
			WithHint("Name must not be empty.").
			Mark(apperr.ErrValidation)
	}
	if c.ClientType == "" {
		c.ClientType = ClientTypeCompany
	}
	if !c.ClientType.Valid() {
		return apperr.NewErrorf("invalid client type %q", c.ClientType).
			WithHint("Client type must be individual or company.").
			Mark(apperr.ErrValidation)
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return apperr.NewErrorf("invalid email %q", c.Email).
			WithHint("Enter a valid email address.").
			Mark(apperr.ErrValidation)
	}
	return nil
}

// ClientNote is a free-form annotation attached to a client.
type ClientNote struct {
	Base     `json:",inline"`
	ClientID utils.SixID `json:"client_id"`
	Body     string      `json:"body"`
}

func (n *ClientNote) Validate() error {
	if strings.TrimSpace(n.Body) == "" {
		return apperr.NewError("note body is required").
			WithHint("Note must not be empty.").
			Mark(apperr.ErrValidation)
	}
	return nil
}

// ClientStats aggregates a client's invoicing history for the detail view.
type ClientStats struct {
	InvoiceCount int        `json:"invoice_count"`
	PaidTotal    string     `json:"paid_total"`
	PendingCount int        `json:"pending_count"`
	OverdueCount int        `json:"overdue_count"`
	Recent       []*Invoice `json:"recent"`
}
