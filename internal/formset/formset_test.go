package formset

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
)

func TestFieldName(t *testing.T) {
	assert.Equal(t, "items-0-description", FieldName("items", 0, FieldDescription))
	assert.Equal(t, "items-12-unit_price", FieldName("items", 12, FieldUnitPrice))
	assert.Equal(t, "items-TOTAL_FORMS", ManagementFieldName("items"))
}

func TestDecode_ReadsRowsInOrder(t *testing.T) {
	values := url.Values{}
	values.Set("items-TOTAL_FORMS", "2")
	values.Set("items-0-description", "Consulting")
	values.Set("items-0-quantity", "3")
	values.Set("items-0-unit_price", "80.00")
	values.Set("items-0-vat_rate", "20.00")
	values.Set("items-1-description", "Hosting")
	values.Set("items-1-quantity", "1")
	values.Set("items-1-unit_price", "12.50")
	values.Set("items-1-vat_rate", "20.00")
	values.Set("items-1-DELETE", "on")

	rows, err := Decode(values, "items")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Consulting", rows[0].Description)
	assert.Equal(t, "3", rows[0].Quantity)
	assert.False(t, rows[0].Removed)

	assert.Equal(t, "Hosting", rows[1].Description)
	assert.True(t, rows[1].Removed)
}

func TestDecode_ToleratesGaps(t *testing.T) {
	// Index 1 was removed client-side without renumbering.
	values := url.Values{}
	values.Set("items-TOTAL_FORMS", "3")
	values.Set("items-0-description", "First")
	values.Set("items-0-quantity", "1")
	values.Set("items-2-description", "Third")
	values.Set("items-2-quantity", "1")

	rows, err := Decode(values, "items")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "First", rows[0].Description)
	assert.Equal(t, "Third", rows[1].Description)
}

func TestDecode_MissingManagementField(t *testing.T) {
	values := url.Values{}
	values.Set("items-0-description", "Orphan")

	_, err := Decode(values, "items")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestDecode_BadManagementCount(t *testing.T) {
	values := url.Values{}
	values.Set("items-TOTAL_FORMS", "banana")

	_, err := Decode(values, "items")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestDecode_RowsBeyondCountIgnored(t *testing.T) {
	values := url.Values{}
	values.Set("items-TOTAL_FORMS", "1")
	values.Set("items-0-description", "Counted")
	values.Set("items-0-quantity", "1")
	values.Set("items-5-description", "Uncounted")

	rows, err := Decode(values, "items")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Counted", rows[0].Description)
}
