package payments

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MilanSurkos/fakturomat/internal/models"
)

func testInvoice() *models.Invoice {
	inv := &models.Invoice{
		Number:      "INV-20250115-0001",
		Currency:    models.CurrencyEUR,
		DueDate:     time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("24.00"),
	}
	return inv
}

func testProfile() *models.CompanyProfile {
	return &models.CompanyProfile{
		CompanyName: "Acme s.r.o.",
		BankIBAN:    "SK31 1200 0000 1987 4263 7541",
		BankSWIFT:   "GIBASKBX",
	}
}

func TestGenerate_PayloadFields(t *testing.T) {
	res, err := Generate(testInvoice(), testProfile(), Options{MinAmountCents: 100, DefaultDueDays: 30})
	require.NoError(t, err)

	require.True(t, strings.HasSuffix(res.PaymentData, "|"), "payload must end with a pipe")
	fields := strings.Split(strings.TrimSuffix(res.PaymentData, "|"), "|")
	require.Len(t, fields, 20)

	assert.Equal(t, "1", fields[0])
	assert.Equal(t, "2400", fields[3], "amount in cents")
	assert.Equal(t, "978", fields[4], "EUR numeric code")
	assert.Equal(t, "2501150001", fields[5], "variable symbol keeps the trailing digits")
	assert.Equal(t, "20250214", fields[8], "due date")
	assert.Equal(t, "SK3112000000198742637541", fields[11], "IBAN without spaces")
	assert.Equal(t, "GIBASKBX", fields[12])
	assert.Equal(t, "INV-20250115-0001", fields[16], "payment reference")
	assert.Equal(t, "1.2.203.2.4.5.1", fields[19])
}

func TestGenerate_MinimumAmount(t *testing.T) {
	inv := testInvoice()
	inv.TotalAmount = decimal.RequireFromString("0.40")

	res, err := Generate(inv, testProfile(), Options{MinAmountCents: 100})
	require.NoError(t, err)

	fields := strings.Split(res.PaymentData, "|")
	assert.Equal(t, "100", fields[3], "amount is floored at the minimum")
}

func TestGenerate_CurrencyCodes(t *testing.T) {
	for currency, code := range map[models.Currency]string{
		models.CurrencyEUR: "978",
		models.CurrencyUSD: "840",
		models.CurrencyCZK: "203",
	} {
		inv := testInvoice()
		inv.Currency = currency

		res, err := Generate(inv, nil, Options{MinAmountCents: 100})
		require.NoError(t, err)
		fields := strings.Split(res.PaymentData, "|")
		assert.Equal(t, code, fields[4], "currency %s", currency)
	}
}

func TestGenerate_MissingBankDetailsStayZero(t *testing.T) {
	res, err := Generate(testInvoice(), nil, Options{MinAmountCents: 100})
	require.NoError(t, err)

	fields := strings.Split(res.PaymentData, "|")
	assert.Equal(t, "0", fields[11])
	assert.Equal(t, "0", fields[12])
}

func TestGenerate_DueDateFallback(t *testing.T) {
	inv := testInvoice()
	inv.DueDate = time.Time{}

	res, err := Generate(inv, testProfile(), Options{MinAmountCents: 100, DefaultDueDays: 30})
	require.NoError(t, err)

	fields := strings.Split(res.PaymentData, "|")
	want := time.Now().AddDate(0, 0, 30).Format("20060102")
	assert.Equal(t, want, fields[8])
}

func TestGenerate_QRCodeIsPNG(t *testing.T) {
	res, err := Generate(testInvoice(), testProfile(), Options{MinAmountCents: 100})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(res.QRCode)
	require.NoError(t, err)
	require.True(t, len(raw) > 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, raw[:4])
}

func TestVariableSymbol(t *testing.T) {
	assert.Equal(t, "202500042", variableSymbol("INV-2025-00042"))
	assert.Equal(t, "0", variableSymbol("DRAFT"))
	assert.Equal(t, "1234567890", variableSymbol("9991234567890"))
}
