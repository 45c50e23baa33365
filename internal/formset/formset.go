// Package formset implements the indexed line-item form convention used by
// the invoice editor: repeated sub-forms named `<prefix>-<n>-<field>` plus a
// management field carrying the row count.
package formset

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
)

// DefaultPrefix is the form prefix used by the invoice editor.
const DefaultPrefix = "items"

// Field names of a line-item sub-form.
const (
	FieldDescription = "description"
	FieldQuantity    = "quantity"
	FieldUnitPrice   = "unit_price"
	FieldVatRate     = "vat_rate"
	FieldDelete      = "DELETE"
)

// managementSuffix is the suffix of the management field: `<prefix>-TOTAL_FORMS`.
const managementSuffix = "TOTAL_FORMS"

// FieldName maps a row index and field to its full form field name. All field
// naming goes through here; nothing rewrites names by string substitution.
func FieldName(prefix string, index int, field string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, index, field)
}

// ManagementFieldName returns the name of the row-count management field.
func ManagementFieldName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, managementSuffix)
}

// Decode reads the submitted rows for prefix out of form values. Indices with
// no submitted fields are skipped, so gappy submissions are tolerated. Raw
// field strings are preserved; parsing happens at computation time.
func Decode(values url.Values, prefix string) ([]Row, error) {
	countRaw := values.Get(ManagementFieldName(prefix))
	if countRaw == "" {
		return nil, apperr.NewError("management form data is missing").
			WithHintf("The %s field is required.", ManagementFieldName(prefix)).
			Mark(apperr.ErrValidation)
	}
	count, err := strconv.Atoi(countRaw)
	if err != nil || count < 0 {
		return nil, apperr.NewErrorf("invalid management form count %q", countRaw).
			WithHintf("The %s field must be a non-negative number.", ManagementFieldName(prefix)).
			Mark(apperr.ErrValidation)
	}

	rows := make([]Row, 0, count)
	for i := 0; i < count; i++ {
		if !rowSubmitted(values, prefix, i) {
			continue
		}
		row := Row{
			Index:       i,
			Description: values.Get(FieldName(prefix, i, FieldDescription)),
			Quantity:    values.Get(FieldName(prefix, i, FieldQuantity)),
			UnitPrice:   values.Get(FieldName(prefix, i, FieldUnitPrice)),
			VatRate:     values.Get(FieldName(prefix, i, FieldVatRate)),
		}
		del := values.Get(FieldName(prefix, i, FieldDelete))
		row.Removed = del == "on" || del == "true" || del == "1"
		rows = append(rows, row)
	}
	return rows, nil
}

// rowSubmitted reports whether any field of row i is present in the form.
func rowSubmitted(values url.Values, prefix string, i int) bool {
	for _, field := range []string{FieldDescription, FieldQuantity, FieldUnitPrice, FieldVatRate, FieldDelete} {
		if _, ok := values[FieldName(prefix, i, field)]; ok {
			return true
		}
	}
	return false
}
