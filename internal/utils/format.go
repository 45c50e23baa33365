package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatMoney renders a decimal with two fraction digits and a dot separator.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatMoneyComma renders a decimal with two fraction digits and a comma
// separator, the display convention used on invoices.
func FormatMoneyComma(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}
