// Package pdf renders invoices as A4 PDF documents.
package pdf

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/jung-kurt/gofpdf"

	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

const (
	pageLeftMargin = 10.0
	contentWidth   = 190.0
	lineHeight     = 6.0
	tableRowHeight = 7.0
	dateLayout     = "02.01.2006"
)

// Renderer draws invoices into PDF bytes. It is stateless and safe for
// concurrent use.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the PDF for an invoice. Items must be loaded on the
// invoice; soft-deleted items are not printed.
func (r *Renderer) Render(inv *models.Invoice, client *models.Client, profile *models.CompanyProfile) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("invoice is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Invoice %s", inv.Number), false)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	r.drawHeader(pdf, inv)
	r.drawParties(pdf, client, profile)
	r.drawMeta(pdf, inv)
	r.drawItemsTable(pdf, inv)
	r.drawTotals(pdf, inv)
	r.drawFooter(pdf, inv, profile)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawHeader(pdf *gofpdf.Fpdf, inv *models.Invoice) {
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(contentWidth/2, 12, "INVOICE", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(contentWidth/2, 12, inv.Number, "", 1, "R", false, 0, "")
	pdf.Ln(4)
}

func (r *Renderer) drawParties(pdf *gofpdf.Fpdf, client *models.Client, profile *models.CompanyProfile) {
	startY := pdf.GetY()
	colWidth := contentWidth / 2

	// Issuer block on the left.
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(colWidth, lineHeight, "From", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	if profile != nil {
		for _, line := range issuerLines(profile) {
			pdf.CellFormat(colWidth, lineHeight, line, "", 1, "L", false, 0, "")
		}
	}
	issuerEndY := pdf.GetY()

	// Client block on the right, aligned to the same top.
	pdf.SetXY(pageLeftMargin+colWidth, startY)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(colWidth, lineHeight, "Bill To", "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	if client != nil {
		for _, line := range clientLines(client) {
			pdf.SetX(pageLeftMargin + colWidth)
			pdf.CellFormat(colWidth, lineHeight, line, "", 2, "L", false, 0, "")
		}
	}

	if pdf.GetY() < issuerEndY {
		pdf.SetY(issuerEndY)
	}
	pdf.SetX(pageLeftMargin)
	pdf.Ln(4)
}

func issuerLines(p *models.CompanyProfile) []string {
	lines := []string{p.CompanyName}
	for _, s := range []string{p.AddressLine1, p.AddressLine2} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	if cityLine := joinNonEmpty(p.PostalCode, p.City); cityLine != "" {
		lines = append(lines, cityLine)
	}
	if p.Country != "" {
		lines = append(lines, p.Country)
	}
	if p.TaxID != "" {
		lines = append(lines, "Tax ID: "+p.TaxID)
	}
	if p.Email != "" {
		lines = append(lines, p.Email)
	}
	return lines
}

func clientLines(c *models.Client) []string {
	lines := []string{c.Name}
	if c.Street != "" {
		lines = append(lines, c.Street)
	}
	if cityLine := joinNonEmpty(c.PostalCode, c.City); cityLine != "" {
		lines = append(lines, cityLine)
	}
	if c.Country != "" {
		lines = append(lines, c.Country)
	}
	if c.TaxNumber != "" {
		lines = append(lines, "Tax No: "+c.TaxNumber)
	}
	if c.VatNumber != "" {
		lines = append(lines, "VAT No: "+c.VatNumber)
	}
	return lines
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}

func (r *Renderer) drawMeta(pdf *gofpdf.Fpdf, inv *models.Invoice) {
	pdf.SetFont("Helvetica", "", 10)
	meta := fmt.Sprintf("Issue date: %s    Due date: %s    Payment: %s    Currency: %s",
		inv.IssueDate.Format(dateLayout),
		inv.DueDate.Format(dateLayout),
		paymentMethodLabel(inv.PaymentMethod),
		inv.Currency,
	)
	pdf.CellFormat(contentWidth, lineHeight, meta, "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func paymentMethodLabel(m models.PaymentMethod) string {
	switch m {
	case models.PaymentBankTransfer:
		return "Bank transfer"
	case models.PaymentCreditCard:
		return "Credit card"
	case models.PaymentPayPal:
		return "PayPal"
	case models.PaymentPayBySquare:
		return "Pay by Square"
	default:
		return string(m)
	}
}

var itemColumns = []struct {
	title string
	width float64
	align string
}{
	{"#", 10, "C"},
	{"Description", 80, "L"},
	{"Qty", 20, "R"},
	{"Unit Price", 25, "R"},
	{"VAT %", 20, "R"},
	{"Total", 35, "R"},
}

func (r *Renderer) drawItemsTable(pdf *gofpdf.Fpdf, inv *models.Invoice) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(235, 235, 235)
	for _, col := range itemColumns {
		pdf.CellFormat(col.width, tableRowHeight, col.title, "1", 0, col.align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	row := 0
	for _, item := range inv.Items {
		if item.Deleted {
			continue
		}
		row++
		cells := []string{
			fmt.Sprintf("%d", row),
			item.Description,
			item.Quantity.String(),
			utils.FormatMoneyComma(item.UnitPrice),
			item.VatRate.StringFixed(2),
			utils.FormatMoneyComma(item.Total),
		}
		for i, col := range itemColumns {
			pdf.CellFormat(col.width, tableRowHeight, cells[i], "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)
}

func (r *Renderer) drawTotals(pdf *gofpdf.Fpdf, inv *models.Invoice) {
	labelWidth := 45.0
	valueWidth := 35.0
	indent := contentWidth - labelWidth - valueWidth

	writeLine := func(label, value string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.SetX(pageLeftMargin + indent)
		pdf.CellFormat(labelWidth, lineHeight, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(valueWidth, lineHeight, value, "", 1, "R", false, 0, "")
	}

	currency := string(inv.Currency)
	writeLine("Subtotal:", utils.FormatMoneyComma(inv.Subtotal)+" "+currency, false)

	// Stable ordering of the per-rate tax lines.
	rates := make([]string, 0, len(inv.TaxBreakdown))
	for rate := range inv.TaxBreakdown {
		rates = append(rates, rate)
	}
	sort.Strings(rates)
	for _, rate := range rates {
		writeLine(fmt.Sprintf("VAT %s%%:", rate), utils.FormatMoneyComma(inv.TaxBreakdown[rate])+" "+currency, false)
	}

	writeLine("Total:", utils.FormatMoneyComma(inv.TotalAmount)+" "+currency, true)
	pdf.Ln(6)
}

func (r *Renderer) drawFooter(pdf *gofpdf.Fpdf, inv *models.Invoice, profile *models.CompanyProfile) {
	pdf.SetFont("Helvetica", "", 9)
	if inv.Notes != "" {
		pdf.MultiCell(contentWidth, 5, "Notes: "+inv.Notes, "", "L", false)
		pdf.Ln(2)
	}
	if profile != nil && profile.BankIBAN != "" {
		bank := "IBAN: " + profile.BankIBAN
		if profile.BankSWIFT != "" {
			bank += "    SWIFT: " + profile.BankSWIFT
		}
		pdf.CellFormat(contentWidth, 5, bank, "", 1, "L", false, 0, "")
	}
}
