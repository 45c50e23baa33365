package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

func TestCompanyService_SaveAndGetProfile(t *testing.T) {
	database := utils.SetupTestDB(t, "company_profiles")
	require.NoError(t, db.EnsureSchema(context.Background(), database))
	companyService := NewCompanyService(database)
	ctx := context.Background()

	// Nothing configured yet: an empty unsaved profile comes back.
	empty, err := companyService.GetProfile(ctx)
	require.NoError(t, err)
	assert.True(t, empty.ID.IsZero())

	profile := &models.CompanyProfile{
		CompanyName: "Fakturomat s.r.o.",
		City:        "Bratislava",
		Country:     "Slovakia",
		BankIBAN:    "SK31 1200 0000 1987 4263 7541",
	}
	require.NoError(t, companyService.SaveProfile(ctx, profile))
	require.False(t, profile.ID.IsZero())

	loaded, err := companyService.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, loaded.ID)
	assert.Equal(t, "Fakturomat s.r.o.", loaded.CompanyName)

	loaded.Phone = "+421 2 0000 0000"
	require.NoError(t, companyService.SaveProfile(ctx, loaded))

	again, err := companyService.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+421 2 0000 0000", again.Phone)
}

func TestCompanyService_SetLogoKeys(t *testing.T) {
	database := utils.SetupTestDB(t, "company_profiles")
	require.NoError(t, db.EnsureSchema(context.Background(), database))
	companyService := NewCompanyService(database)
	ctx := context.Background()

	profile := &models.CompanyProfile{CompanyName: "Fakturomat s.r.o."}
	require.NoError(t, companyService.SaveProfile(ctx, profile))

	require.NoError(t, companyService.SetLogoKeys(ctx, profile.ID, "logos/abc.png", "logos/abc_thumb.jpg"))

	loaded, err := companyService.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "logos/abc.png", loaded.LogoKey)
	assert.Equal(t, "logos/abc_thumb.jpg", loaded.LogoThumbKey)
}

func TestDashboardService_StatsWithoutCache(t *testing.T) {
	database, invoiceService, clientService := setupInvoiceTest(t)
	ctx := context.Background()
	client := seedClient(t, clientService)

	paid := draftInvoice(client.ID)
	require.NoError(t, invoiceService.Create(ctx, paid))
	_, err := invoiceService.ChangeStatus(ctx, paid.ID, models.StatusPending, "")
	require.NoError(t, err)
	_, err = invoiceService.ChangeStatus(ctx, paid.ID, models.StatusPaid, "")
	require.NoError(t, err)

	pending := draftInvoice(client.ID)
	require.NoError(t, invoiceService.Create(ctx, pending))
	_, err = invoiceService.ChangeStatus(ctx, pending.ID, models.StatusPending, "")
	require.NoError(t, err)

	draft := draftInvoice(client.ID)
	require.NoError(t, invoiceService.Create(ctx, draft))

	// nil Redis client disables caching; stats are computed directly.
	dashboardService := NewDashboardService(database, testServiceConfig(), nil, invoiceService)
	stats, err := dashboardService.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalInvoices)
	assert.Equal(t, 1, stats.ClientCount)
	assert.Equal(t, 1, stats.DraftCount)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 1, stats.PaidCount)
	assert.Equal(t, "29.50", stats.OutstandingTotal)
	assert.Equal(t, "29.50", stats.PaidThisMonth)
	assert.Equal(t, "0.00", stats.OverdueTotal)
	assert.Len(t, stats.Recent, 3)
	require.Len(t, stats.TopClients, 1)
	assert.Equal(t, "Acme Corp", stats.TopClients[0].Name)
	assert.Equal(t, 3, stats.TopClients[0].InvoiceCount)
	assert.Equal(t, "88.50", stats.TopClients[0].BilledTotal)

	require.NoError(t, dashboardService.Invalidate(ctx))
}
