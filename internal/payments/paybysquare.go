// Package payments builds Pay by Square payment payloads and QR codes for
// unpaid invoices.
package payments

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/MilanSurkos/fakturomat/internal/models"
)

// protocolVersion is the Pay by Square protocol identifier, always the last
// payload field.
const protocolVersion = "1.2.203.2.4.5.1"

// maxVariableSymbolLen is the banking limit for variable symbols.
const maxVariableSymbolLen = 10

// qrSize is the rendered QR code edge length in pixels.
const qrSize = 256

// PayBySquare carries the generated payment string and its QR code rendered
// as a base64 PNG for embedding.
type PayBySquare struct {
	PaymentData string `json:"payment_data"`
	QRCode      string `json:"qr_code"`
}

// Options tune payload generation.
type Options struct {
	// MinAmountCents floors the requested amount; banks reject zero payments.
	MinAmountCents int64
	// DefaultDueDays is used when the invoice has no due date.
	DefaultDueDays int
}

// Generate builds the Pay by Square payload for an invoice. The issuer's
// bank details come from the company profile; fields with no value stay "0"
// as the format requires.
func Generate(inv *models.Invoice, profile *models.CompanyProfile, opts Options) (*PayBySquare, error) {
	if inv == nil {
		return nil, fmt.Errorf("invoice is required")
	}

	amountCents := inv.TotalAmount.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
	if amountCents < opts.MinAmountCents {
		amountCents = opts.MinAmountCents
	}

	dueDate := inv.DueDate
	if dueDate.IsZero() {
		days := opts.DefaultDueDays
		if days <= 0 {
			days = 30
		}
		dueDate = time.Now().AddDate(0, 0, days)
	}

	iban := "0"
	swift := "0"
	if profile != nil {
		if v := strings.ReplaceAll(profile.BankIBAN, " ", ""); v != "" {
			iban = v
		}
		if v := strings.TrimSpace(profile.BankSWIFT); v != "" {
			swift = v
		}
	}

	fields := []string{
		"1",                          // Version
		"1",                          // Payment request
		"1",                          // Payment options (1 = priority)
		fmt.Sprintf("%d", amountCents),
		inv.Currency.NumericCode(),   // ISO 4217 numeric code
		variableSymbol(inv.Number),   // Variable symbol
		"0",                          // Specific symbol
		"0",                          // Constant symbol
		dueDate.Format("20060102"),   // Due date (YYYYMMDD)
		"0",                          // Payment note
		"1",                          // Country code (SK)
		iban,                         // IBAN
		swift,                        // SWIFT
		"0",                          // Bank account name
		"0",                          // Bank account address line 1
		"0",                          // Bank account address line 2
		inv.Number,                   // Payment reference
		"0",                          // Payment note for recipient
		"0",                          // Payment type (0 = standard)
		protocolVersion,
	}

	// Trailing empty fields collapse; the payload always ends with a pipe.
	paymentData := strings.TrimRight(strings.Join(fields, "|"), "|0") + "|"

	png, err := qrcode.Encode(paymentData, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment QR code: %w", err)
	}

	return &PayBySquare{
		PaymentData: paymentData,
		QRCode:      base64.StdEncoding.EncodeToString(png),
	}, nil
}

// variableSymbol derives the numeric payment symbol from the invoice number.
// Only digits survive; long numbers keep their least significant digits.
func variableSymbol(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "0"
	}
	if len(digits) > maxVariableSymbolLen {
		digits = digits[len(digits)-maxVariableSymbolLen:]
	}
	return digits
}
