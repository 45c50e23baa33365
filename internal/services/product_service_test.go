package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

func setupProductTest(t *testing.T) (*sql.DB, IProductService) {
	t.Helper()
	database := utils.SetupTestDB(t, "products")
	require.NoError(t, db.EnsureSchema(context.Background(), database))
	return database, NewProductService(database, testServiceConfig())
}

func TestProductService_CreateFindUpdate(t *testing.T) {
	_, productService := setupProductTest(t)
	ctx := context.Background()

	product := &models.Product{
		Name:      "Consulting hour",
		Unit:      "h",
		UnitPrice: decimal.RequireFromString("85.00"),
		VatRate:   decimal.RequireFromString("20.00"),
		Active:    true,
	}
	require.NoError(t, productService.Create(ctx, product))

	loaded, err := productService.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Consulting hour", loaded.Name)
	assert.Equal(t, "85.00", loaded.UnitPrice.StringFixed(2))

	loaded.UnitPrice = decimal.RequireFromString("95.00")
	require.NoError(t, productService.Update(ctx, loaded))

	again, err := productService.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "95.00", again.UnitPrice.StringFixed(2))
}

func TestProductService_ValidationRules(t *testing.T) {
	_, productService := setupProductTest(t)
	ctx := context.Background()

	err := productService.Create(ctx, &models.Product{Name: ""})
	assert.True(t, apperr.IsValidation(err))

	err = productService.Create(ctx, &models.Product{
		Name:      "Negative",
		UnitPrice: decimal.RequireFromString("-1.00"),
	})
	assert.True(t, apperr.IsValidation(err))

	err = productService.Create(ctx, &models.Product{
		Name:    "Rate out of range",
		VatRate: decimal.RequireFromString("101"),
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestProductService_DeactivateHidesFromActiveList(t *testing.T) {
	_, productService := setupProductTest(t)
	ctx := context.Background()

	active := &models.Product{Name: "Hosting", UnitPrice: decimal.RequireFromString("10.00"), Active: true}
	retired := &models.Product{Name: "Legacy plan", UnitPrice: decimal.RequireFromString("5.00"), Active: true}
	require.NoError(t, productService.Create(ctx, active))
	require.NoError(t, productService.Create(ctx, retired))

	require.NoError(t, productService.Deactivate(ctx, retired.ID))

	visible, total, err := productService.List(ctx, ProductListOptions{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, visible, 1)
	assert.Equal(t, "Hosting", visible[0].Name)

	// Still reachable directly for invoices that reference it.
	loaded, err := productService.FindByID(ctx, retired.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Active)

	err = productService.Deactivate(ctx, retired.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestProductService_ListSearch(t *testing.T) {
	_, productService := setupProductTest(t)
	ctx := context.Background()

	for _, name := range []string{"Consulting hour", "Consulting day", "Hosting"} {
		require.NoError(t, productService.Create(ctx, &models.Product{Name: name, Active: true}))
	}

	matches, total, err := productService.List(ctx, ProductListOptions{Search: "consulting"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, matches, 2)
	assert.Equal(t, "Consulting day", matches[0].Name)
}
