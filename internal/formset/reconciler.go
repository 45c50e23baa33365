package formset

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Row is one line-item sub-form. Numeric fields hold the raw submitted
// strings; they are parsed when totals are computed or the set is validated.
type Row struct {
	Index       int
	Description string
	Quantity    string
	UnitPrice   string
	VatRate     string
	Removed     bool
}

// Defaults are the field values a freshly added row starts with.
type Defaults struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	VatRate   decimal.Decimal
}

// NewDefaults returns the standard defaults: quantity 1, price 0.00 and the
// given VAT rate.
func NewDefaults(vatRate decimal.Decimal) Defaults {
	return Defaults{
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.Zero,
		VatRate:   vatRate,
	}
}

// Totals are the aggregate amounts over the visible rows. Derived, never
// stored: GrandTotal is always Subtotal plus TotalTax.
type Totals struct {
	Subtotal   decimal.Decimal
	TotalTax   decimal.Decimal
	GrandTotal decimal.Decimal
}

// ValidationResult reports whether the row set may be submitted, with
// human-readable messages and the form field that failed first.
type ValidationResult struct {
	Valid             bool
	Errors            []string
	FirstInvalidField string
}

// Reconciler manages the line-item row set of one invoice form: adding and
// removing rows, keeping indices contiguous, recomputing totals and
// validating before submission. It holds all state itself and is constructed
// per request.
type Reconciler struct {
	prefix   string
	defaults Defaults
	rows     []*Row
}

// NewReconciler creates an empty reconciler and seeds it with one default
// row, since the row set must never be visibly empty.
func NewReconciler(prefix string, defaults Defaults) *Reconciler {
	r := &Reconciler{prefix: prefix, defaults: defaults}
	r.AddRow()
	return r
}

// FromForm builds a reconciler from submitted form values. Rows flagged for
// deletion stay in the set as removed rows. If the submission contains no
// visible rows a default row is seeded to restore the invariant.
func FromForm(values url.Values, prefix string, defaults Defaults) (*Reconciler, error) {
	decoded, err := Decode(values, prefix)
	if err != nil {
		return nil, err
	}
	r := &Reconciler{prefix: prefix, defaults: defaults}
	for i := range decoded {
		row := decoded[i]
		r.rows = append(r.rows, &row)
	}
	r.Reindex()
	if len(r.VisibleRows()) == 0 {
		r.AddRow()
	}
	return r, nil
}

// Prefix returns the form prefix the reconciler was built with.
func (r *Reconciler) Prefix() string {
	return r.prefix
}

// FieldName returns the form field name for a row index and field under this
// reconciler's prefix.
func (r *Reconciler) FieldName(index int, field string) string {
	return FieldName(r.prefix, index, field)
}

// Rows returns all rows, removed ones included, in index order.
func (r *Reconciler) Rows() []*Row {
	return r.rows
}

// VisibleRows returns the non-removed rows in index order.
func (r *Reconciler) VisibleRows() []*Row {
	visible := make([]*Row, 0, len(r.rows))
	for _, row := range r.rows {
		if !row.Removed {
			visible = append(visible, row)
		}
	}
	return visible
}

// AddRow appends a new visible row with default values and assigns it the
// next sequential index. It always succeeds.
func (r *Reconciler) AddRow() *Row {
	row := &Row{
		Description: "",
		Quantity:    r.defaults.Quantity.String(),
		UnitPrice:   r.defaults.UnitPrice.StringFixed(2),
		VatRate:     r.defaults.VatRate.StringFixed(2),
	}
	r.rows = append(r.rows, row)
	r.Reindex()
	return row
}

// RemoveRow removes the visible row with the given index. If other visible
// rows remain the row is marked removed and kept so the deletion reaches the
// server, and the remaining visible rows are renumbered. If it is the only
// visible row its fields are reset to defaults instead. Returns false when no
// visible row has that index.
func (r *Reconciler) RemoveRow(index int) bool {
	var target *Row
	for _, row := range r.rows {
		if !row.Removed && row.Index == index {
			target = row
			break
		}
	}
	if target == nil {
		return false
	}

	if len(r.VisibleRows()) == 1 {
		target.Description = ""
		target.Quantity = r.defaults.Quantity.String()
		target.UnitPrice = r.defaults.UnitPrice.StringFixed(2)
		target.VatRate = r.defaults.VatRate.StringFixed(2)
		r.Reindex()
		return true
	}

	target.Removed = true
	r.Reindex()
	return true
}

// Reindex renumbers rows so visible rows get a contiguous 0-based sequence in
// their current order, followed by removed rows. Applying it twice yields the
// same indices as applying it once.
func (r *Reconciler) Reindex() {
	next := 0
	for _, row := range r.rows {
		if !row.Removed {
			row.Index = next
			next++
		}
	}
	for _, row := range r.rows {
		if row.Removed {
			row.Index = next
			next++
		}
	}
}

// RecomputeTotals computes the aggregate amounts over the visible rows.
// Unparseable or empty numeric input counts as zero. Monetary outputs are
// rounded half-up to 2 decimal places, and the grand total is the sum of the
// rounded parts so the identity holds exactly.
func (r *Reconciler) RecomputeTotals() Totals {
	subtotal := decimal.Zero
	totalTax := decimal.Zero
	hundred := decimal.NewFromInt(100)

	for _, row := range r.rows {
		if row.Removed {
			continue
		}
		qty := ParseDecimal(row.Quantity)
		price := ParseDecimal(row.UnitPrice)
		rate := ParseDecimal(row.VatRate)

		lineSubtotal := qty.Mul(price)
		subtotal = subtotal.Add(lineSubtotal)
		totalTax = totalTax.Add(lineSubtotal.Mul(rate).Div(hundred))
	}

	t := Totals{
		Subtotal: subtotal.Round(2),
		TotalTax: totalTax.Round(2),
	}
	t.GrandTotal = t.Subtotal.Add(t.TotalTax)
	return t
}

// Validate checks the visible rows against the submission rules: every row
// needs a non-empty description, a quantity greater than zero and a unit
// price of zero or more. Messages are ordered by row and field; the first
// failing form field is reported for focusing.
func (r *Reconciler) Validate() ValidationResult {
	result := ValidationResult{Valid: true}

	fail := func(index int, field, msg string) {
		result.Valid = false
		result.Errors = append(result.Errors, msg)
		if result.FirstInvalidField == "" {
			result.FirstInvalidField = r.FieldName(index, field)
		}
	}

	visible := r.VisibleRows()
	for _, row := range visible {
		n := row.Index + 1
		if strings.TrimSpace(row.Description) == "" {
			fail(row.Index, FieldDescription, fmt.Sprintf("Item %d: description is required.", n))
		}
		if !ParseDecimal(row.Quantity).IsPositive() {
			fail(row.Index, FieldQuantity, fmt.Sprintf("Item %d: quantity must be greater than zero.", n))
		}
		if ParseDecimal(row.UnitPrice).IsNegative() {
			fail(row.Index, FieldUnitPrice, fmt.Sprintf("Item %d: unit price cannot be negative.", n))
		}
	}

	if countValid(visible) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "At least one invoice item is required.")
		if result.FirstInvalidField == "" && len(visible) > 0 {
			result.FirstInvalidField = r.FieldName(visible[0].Index, FieldDescription)
		}
	}

	return result
}

func countValid(rows []*Row) int {
	valid := 0
	for _, row := range rows {
		if strings.TrimSpace(row.Description) == "" {
			continue
		}
		if !ParseDecimal(row.Quantity).IsPositive() {
			continue
		}
		if ParseDecimal(row.UnitPrice).IsNegative() {
			continue
		}
		valid++
	}
	return valid
}

// Encode renders the current row set back to form values: visible rows first
// with contiguous indices, removed rows after them flagged for deletion, the
// refreshed management count, and the computed subtotal, total_tax and
// total_amount fields.
func (r *Reconciler) Encode() url.Values {
	r.Reindex()
	values := url.Values{}

	for _, row := range r.rows {
		values.Set(r.FieldName(row.Index, FieldDescription), row.Description)
		values.Set(r.FieldName(row.Index, FieldQuantity), row.Quantity)
		values.Set(r.FieldName(row.Index, FieldUnitPrice), row.UnitPrice)
		values.Set(r.FieldName(row.Index, FieldVatRate), row.VatRate)
		if row.Removed {
			values.Set(r.FieldName(row.Index, FieldDelete), "on")
		}
	}
	values.Set(ManagementFieldName(r.prefix), strconv.Itoa(len(r.rows)))

	totals := r.RecomputeTotals()
	values.Set("subtotal", totals.Subtotal.StringFixed(2))
	values.Set("total_tax", totals.TotalTax.StringFixed(2))
	values.Set("total_amount", totals.GrandTotal.StringFixed(2))

	return values
}

// ParseDecimal parses user-entered numeric input. Both `.` and `,` work as
// the decimal separator; empty or unparseable input yields zero.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.Replace(s, ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
