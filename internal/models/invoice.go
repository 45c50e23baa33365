package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusPending   InvoiceStatus = "pending"
	StatusSent      InvoiceStatus = "sent"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// statusTransitions lists the allowed next states. Paid and cancelled are terminal.
var statusTransitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:     {StatusPending, StatusSent, StatusCancelled},
	StatusPending:   {StatusSent, StatusPaid, StatusOverdue, StatusCancelled},
	StatusSent:      {StatusPaid, StatusOverdue, StatusPending, StatusCancelled},
	StatusOverdue:   {StatusPaid, StatusCancelled},
	StatusPaid:      {},
	StatusCancelled: {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod is how the client is expected to settle the invoice.
type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentPayPal       PaymentMethod = "paypal"
	PaymentPayBySquare  PaymentMethod = "pay_by_square"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBankTransfer, PaymentCreditCard, PaymentPayPal, PaymentPayBySquare:
		return true
	}
	return false
}

// Currency is the invoice currency.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyCZK Currency = "CZK"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyEUR, CurrencyUSD, CurrencyCZK:
		return true
	}
	return false
}

// NumericCode returns the ISO 4217 numeric code used in payment QR payloads.
func (c Currency) NumericCode() string {
	switch c {
	case CurrencyUSD:
		return "840"
	case CurrencyCZK:
		return "203"
	default:
		return "978" // EUR
	}
}

// TaxBreakdown maps a VAT rate (as its 2dp string form) to the tax amount
// collected at that rate. Stored as JSONB.
type TaxBreakdown map[string]decimal.Decimal

// Invoice is a bill issued to a client.
type Invoice struct {
	Base          `json:",inline"`
	Number        string          `json:"number"`
	ClientID      utils.SixID     `json:"client_id"`
	Status        InvoiceStatus   `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Currency      Currency        `json:"currency"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TaxBreakdown  TaxBreakdown    `json:"tax_breakdown"`
	Notes         string          `json:"notes"`
	Version       string          `json:"version"`
	PdfKey        string          `json:"pdf_key,omitempty"`
	Deleted       bool            `json:"-"`

	// Items are loaded on demand; nil means not loaded.
	Items []*InvoiceItem `json:"items,omitempty"`
}

// NewVersion assigns a fresh optimistic-locking token.
func (inv *Invoice) NewVersion() {
	inv.Version = uuid.NewString()
}

func (inv *Invoice) IsPaid() bool {
	return inv.Status == StatusPaid || inv.PaidAt != nil
}

// IsOverdue reports whether the invoice should be considered overdue at the
// given time. Paid and cancelled invoices never are.
func (inv *Invoice) IsOverdue(at time.Time) bool {
	if inv.IsPaid() || inv.Status == StatusCancelled || inv.Status == StatusDraft {
		return false
	}
	return inv.DueDate.Before(at)
}

// Validate checks invariants that hold for every stored invoice.
func (inv *Invoice) Validate() error {
	if strings.TrimSpace(inv.Number) == "" {
		return apperr.NewError("invoice number is required").
			WithHint("Invoice number must not be empty.").
			Mark(apperr.ErrValidation)
	}
	if inv.ClientID.IsZero() {
		return apperr.NewError("invoice client is required").
			WithHint("Select a client for the invoice.").
			Mark(apperr.ErrValidation)
	}
	if !inv.Status.Valid() {
		return apperr.NewErrorf("invalid invoice status %q", inv.Status).
			Mark(apperr.ErrValidation)
	}
	if !inv.PaymentMethod.Valid() {
		return apperr.NewErrorf("invalid payment method %q", inv.PaymentMethod).
			Mark(apperr.ErrValidation)
	}
	if !inv.Currency.Valid() {
		return apperr.NewErrorf("invalid currency %q", inv.Currency).
			WithHint("Currency must be EUR, USD or CZK.").
			Mark(apperr.ErrValidation)
	}
	if inv.DueDate.Before(inv.IssueDate) {
		return apperr.NewError("due date precedes issue date").
			WithHint("Due date cannot be before the issue date.").
			Mark(apperr.ErrValidation)
	}
	return nil
}

// ApplyItemTotals recomputes the invoice totals and per-rate tax breakdown
// from the given line items, skipping soft-deleted ones.
func (inv *Invoice) ApplyItemTotals(items []*InvoiceItem) {
	subtotal := decimal.Zero
	totalTax := decimal.Zero
	breakdown := TaxBreakdown{}

	for _, item := range items {
		if item.Deleted {
			continue
		}
		subtotal = subtotal.Add(item.Subtotal)
		totalTax = totalTax.Add(item.TaxAmount)
		if item.TaxAmount.IsPositive() {
			rateKey := item.VatRate.StringFixed(2)
			breakdown[rateKey] = breakdown[rateKey].Add(item.TaxAmount)
		}
	}

	inv.Subtotal = subtotal
	inv.TotalTax = totalTax
	inv.TotalAmount = subtotal.Add(totalTax)
	inv.TaxBreakdown = breakdown
}

// InvoiceItem is one billable line of an invoice. Line totals are stored
// denormalized so the invoice list and PDF render without recomputation.
type InvoiceItem struct {
	Base        `json:",inline"`
	InvoiceID   utils.SixID     `json:"invoice_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VatRate     decimal.Decimal `json:"vat_rate"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Total       decimal.Decimal `json:"total"`
	Deleted     bool            `json:"-"`
	DeletedAt   *time.Time      `json:"-"`
}

// ComputeLineTotals derives the stored line amounts from quantity, unit price
// and VAT rate. Amounts are rounded half-up to 2 decimal places, tax on the
// rounded subtotal.
func (it *InvoiceItem) ComputeLineTotals() {
	it.Subtotal = it.Quantity.Mul(it.UnitPrice).Round(2)
	it.TaxAmount = it.Subtotal.Mul(it.VatRate).Div(decimal.NewFromInt(100)).Round(2)
	it.Total = it.Subtotal.Add(it.TaxAmount)
}

// MarkDeleted soft-deletes the item.
func (it *InvoiceItem) MarkDeleted(at time.Time) {
	it.Deleted = true
	it.DeletedAt = &at
}

func (it *InvoiceItem) Validate() error {
	if strings.TrimSpace(it.Description) == "" {
		return apperr.NewError("item description is required").
			WithHint("Description must not be empty.").
			Mark(apperr.ErrValidation)
	}
	if !it.Quantity.IsPositive() {
		return apperr.NewError("item quantity must be positive").
			WithHint("Quantity must be greater than zero.").
			Mark(apperr.ErrValidation)
	}
	if it.UnitPrice.IsNegative() {
		return apperr.NewError("item price cannot be negative").
			WithHint("Unit price must be zero or greater.").
			Mark(apperr.ErrValidation)
	}
	if it.VatRate.IsNegative() || it.VatRate.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.NewError("item VAT rate out of range").
			WithHint("VAT rate must be between 0 and 100.").
			Mark(apperr.ErrValidation)
	}
	return nil
}
