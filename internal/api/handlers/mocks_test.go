package handlers_test

import (
	"context"
	"net/url"
	"time"

	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/utils"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

// MockInvoiceService
type MockInvoiceService struct {
	mock.Mock
}

func (m *MockInvoiceService) Create(ctx context.Context, inv *models.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockInvoiceService) FindByID(ctx context.Context, id utils.SixID) (*models.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) Update(ctx context.Context, inv *models.Invoice, expectedVersion string) error {
	args := m.Called(ctx, inv, expectedVersion)
	return args.Error(0)
}

func (m *MockInvoiceService) Delete(ctx context.Context, id utils.SixID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockInvoiceService) List(ctx context.Context, opts services.InvoiceListOptions) ([]*models.Invoice, int, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Invoice), args.Int(1), args.Error(2)
}

func (m *MockInvoiceService) Summary(ctx context.Context) (*services.InvoiceSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.InvoiceSummary), args.Error(1)
}

func (m *MockInvoiceService) ReconcileItems(ctx context.Context, inv *models.Invoice, form url.Values) error {
	args := m.Called(ctx, inv, form)
	return args.Error(0)
}

func (m *MockInvoiceService) ChangeStatus(ctx context.Context, id utils.SixID, next models.InvoiceStatus, expectedVersion string) (*models.Invoice, error) {
	args := m.Called(ctx, id, next, expectedVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) FindNewlyOverdue(ctx context.Context, at time.Time) ([]*models.Invoice, error) {
	args := m.Called(ctx, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) RecordPDFKey(ctx context.Context, id utils.SixID, key string) error {
	args := m.Called(ctx, id, key)
	return args.Error(0)
}

func (m *MockInvoiceService) PurgeDeletedItems(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockClientService
type MockClientService struct {
	mock.Mock
}

func (m *MockClientService) Create(ctx context.Context, client *models.Client) error {
	args := m.Called(ctx, client)
	return args.Error(0)
}

func (m *MockClientService) FindByID(ctx context.Context, id utils.SixID) (*models.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Client), args.Error(1)
}

func (m *MockClientService) Update(ctx context.Context, client *models.Client) error {
	args := m.Called(ctx, client)
	return args.Error(0)
}

func (m *MockClientService) Delete(ctx context.Context, id utils.SixID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockClientService) List(ctx context.Context, opts services.ClientListOptions) ([]*models.Client, int, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Client), args.Int(1), args.Error(2)
}

func (m *MockClientService) Stats(ctx context.Context, id utils.SixID) (*models.ClientStats, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ClientStats), args.Error(1)
}

func (m *MockClientService) AddNote(ctx context.Context, note *models.ClientNote) error {
	args := m.Called(ctx, note)
	return args.Error(0)
}

func (m *MockClientService) ListNotes(ctx context.Context, clientID utils.SixID) ([]*models.ClientNote, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ClientNote), args.Error(1)
}

func (m *MockClientService) ExportCSV(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockProductService
type MockProductService struct {
	mock.Mock
}

func (m *MockProductService) Create(ctx context.Context, product *models.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockProductService) FindByID(ctx context.Context, id utils.SixID) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductService) Update(ctx context.Context, product *models.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockProductService) Deactivate(ctx context.Context, id utils.SixID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockProductService) List(ctx context.Context, opts services.ProductListOptions) ([]*models.Product, int, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Product), args.Int(1), args.Error(2)
}

// MockCompanyService
type MockCompanyService struct {
	mock.Mock
}

func (m *MockCompanyService) GetProfile(ctx context.Context) (*models.CompanyProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CompanyProfile), args.Error(1)
}

func (m *MockCompanyService) SaveProfile(ctx context.Context, profile *models.CompanyProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockCompanyService) SetLogoKeys(ctx context.Context, id utils.SixID, logoKey, thumbKey string) error {
	args := m.Called(ctx, id, logoKey, thumbKey)
	return args.Error(0)
}

// MockDashboardService
type MockDashboardService struct {
	mock.Mock
}

func (m *MockDashboardService) Stats(ctx context.Context) (*services.DashboardStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DashboardStats), args.Error(1)
}

func (m *MockDashboardService) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockS3Storage implements storage.IS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) Upload(ctx context.Context, key, contentType string, body []byte) error {
	args := m.Called(ctx, key, contentType, body)
	return args.Error(0)
}

func (m *MockS3Storage) Download(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockS3Storage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockS3Storage) GeneratePresignedGetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	mockArgs := []interface{}{ctx, task}
	for _, opt := range opts {
		mockArgs = append(mockArgs, opt)
	}
	args := m.Called(mockArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
