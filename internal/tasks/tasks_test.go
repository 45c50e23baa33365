package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/url"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/pdf"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/tasks"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// --- Mocks ---

// MockEmailSender
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

// MockEmailTemplateService
type MockEmailTemplateService struct {
	mock.Mock
}

func (m *MockEmailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	args := m.Called(ctx, templateID, locale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailTemplate), args.Error(1)
}

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
	var invoices []*models.Invoice
	if args.Get(0) != nil {
		invoices = args.Get(0).([]*models.Invoice)
	}
	return invoices, args.Int(1), args.Error(2)
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
	var invoices []*models.Invoice
	if args.Get(0) != nil {
		invoices = args.Get(0).([]*models.Invoice)
	}
	return invoices, args.Error(1)
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
	var clients []*models.Client
	if args.Get(0) != nil {
		clients = args.Get(0).([]*models.Client)
	}
	return clients, args.Int(1), args.Error(2)
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
	var notes []*models.ClientNote
	if args.Get(0) != nil {
		notes = args.Get(0).([]*models.ClientNote)
	}
	return notes, args.Error(1)
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

// MockS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) Upload(ctx context.Context, key, contentType string, body []byte) error {
	args := m.Called(ctx, key, contentType, body)
	return args.Error(0)
}

func (m *MockS3Storage) Download(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	var data []byte
	if args.Get(0) != nil {
		data = args.Get(0).([]byte)
	}
	return data, args.String(1), args.Error(2)
}

func (m *MockS3Storage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockS3Storage) GeneratePresignedGetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// --- Fixtures ---

func emailTaskFixture() (*models.Invoice, *models.Client) {
	client := &models.Client{
		Name:       "Acme Corp",
		Email:      "billing@acme.test",
		ClientType: models.ClientTypeCompany,
	}
	client.GenID()

	inv := &models.Invoice{
		Number:        "INV-20250115-0001",
		ClientID:      client.ID,
		Status:        models.StatusPending,
		PaymentMethod: models.PaymentBankTransfer,
		Currency:      models.CurrencyEUR,
		IssueDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		Subtotal:      decimal.RequireFromString("25.00"),
		TotalTax:      decimal.RequireFromString("4.50"),
		TotalAmount:   decimal.RequireFromString("29.50"),
	}
	inv.GenID()
	inv.NewVersion()
	return inv, client
}

// --- Tests ---

func TestHandleInvoiceEmailTask_Success(t *testing.T) {
	mockSender := new(MockEmailSender)
	mockInvoiceSvc := new(MockInvoiceService)
	mockClientSvc := new(MockClientService)
	mockCompanySvc := new(MockCompanyService)
	mockTmplSvc := new(MockEmailTemplateService)
	cfg := &config.Config{AppName: "Fakturomat", SmtpFromAddress: "billing@fakturomat.test"}

	p := tasks.NewTaskProcessor(cfg, mockSender, nil, mockInvoiceSvc, mockClientSvc, mockCompanySvc, mockTmplSvc, nil, nil)

	inv, client := emailTaskFixture()
	payloadBytes, _ := json.Marshal(tasks.InvoiceEmailPayload{
		InvoiceID:  inv.ID.String(),
		TemplateID: "invoice_issued",
		MarkSent:   true,
	})
	task := asynq.NewTask(tasks.TypeInvoiceEmail, payloadBytes)

	mockInvoiceSvc.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	mockClientSvc.On("FindByID", mock.Anything, client.ID).Return(client, nil)
	mockCompanySvc.On("GetProfile", mock.Anything).Return(&models.CompanyProfile{CompanyName: "Moja Firma s.r.o."}, nil)
	mockTmplSvc.On("GetTemplate", mock.Anything, "invoice_issued", "en-US").Return(&models.EmailTemplate{
		Subject: "Invoice {{.Number}} from {{.Company}}",
		Body:    "Dear {{.Client}}, please pay {{.Total}} {{.Currency}} by {{.DueDate}}.",
	}, nil)

	expectedSubject := "Invoice INV-20250115-0001 from Moja Firma s.r.o."
	mockSender.On("Send",
		mock.Anything,
		[]string{"billing@acme.test"},
		expectedSubject,
		mock.MatchedBy(func(rawMsg []byte) bool {
			msgStr := string(rawMsg)
			assert.Contains(t, msgStr, "To: billing@acme.test", "Raw message should contain To address")
			assert.Contains(t, msgStr, fmt.Sprintf("From: %s", cfg.SmtpFromAddress), "Raw message should contain From address")
			assert.Contains(t, msgStr, fmt.Sprintf("Subject: %s", expectedSubject), "Raw message should contain Subject")
			assert.Contains(t, msgStr, "Dear Acme Corp, please pay 29.50 EUR by 14.02.2025.", "Raw message should contain rendered body")
			return true
		}),
	).Return(nil)

	// A successful issue email moves the invoice out of pending.
	mockInvoiceSvc.On("ChangeStatus", mock.Anything, inv.ID, models.StatusSent, "").Return(inv, nil)

	err := p.HandleInvoiceEmailTask(context.Background(), task)

	assert.NoError(t, err)
	mockInvoiceSvc.AssertExpectations(t)
	mockClientSvc.AssertExpectations(t)
	mockTmplSvc.AssertExpectations(t)
	mockSender.AssertExpectations(t)
}

func TestHandleInvoiceEmailTask_TemplateNotFound(t *testing.T) {
	mockSender := new(MockEmailSender)
	mockInvoiceSvc := new(MockInvoiceService)
	mockClientSvc := new(MockClientService)
	mockCompanySvc := new(MockCompanyService)
	mockTmplSvc := new(MockEmailTemplateService)
	cfg := &config.Config{AppName: "Fakturomat"}

	p := tasks.NewTaskProcessor(cfg, mockSender, nil, mockInvoiceSvc, mockClientSvc, mockCompanySvc, mockTmplSvc, nil, nil)

	inv, client := emailTaskFixture()
	payloadBytes, _ := json.Marshal(tasks.InvoiceEmailPayload{
		InvoiceID:  inv.ID.String(),
		TemplateID: "nonexistent_template",
	})
	task := asynq.NewTask(tasks.TypeInvoiceEmail, payloadBytes)

	mockInvoiceSvc.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	mockClientSvc.On("FindByID", mock.Anything, client.ID).Return(client, nil)
	mockCompanySvc.On("GetProfile", mock.Anything).Return(&models.CompanyProfile{}, nil)
	mockTmplSvc.On("GetTemplate", mock.Anything, "nonexistent_template", "en-US").Return(nil, assert.AnError)

	err := p.HandleInvoiceEmailTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "Error should be SkipRetry for template not found")
	mockTmplSvc.AssertExpectations(t)
	mockSender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInvoiceEmailTask_ClientWithoutEmail(t *testing.T) {
	mockSender := new(MockEmailSender)
	mockInvoiceSvc := new(MockInvoiceService)
	mockClientSvc := new(MockClientService)
	mockCompanySvc := new(MockCompanyService)
	mockTmplSvc := new(MockEmailTemplateService)
	cfg := &config.Config{AppName: "Fakturomat"}

	p := tasks.NewTaskProcessor(cfg, mockSender, nil, mockInvoiceSvc, mockClientSvc, mockCompanySvc, mockTmplSvc, nil, nil)

	inv, client := emailTaskFixture()
	client.Email = "   "
	payloadBytes, _ := json.Marshal(tasks.InvoiceEmailPayload{
		InvoiceID:  inv.ID.String(),
		TemplateID: "invoice_issued",
	})
	task := asynq.NewTask(tasks.TypeInvoiceEmail, payloadBytes)

	mockInvoiceSvc.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	mockClientSvc.On("FindByID", mock.Anything, client.ID).Return(client, nil)

	err := p.HandleInvoiceEmailTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "A client without an email can never receive the notice")
	mockTmplSvc.AssertNotCalled(t, "GetTemplate", mock.Anything, mock.Anything, mock.Anything)
	mockSender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInvoiceEmailTask_ResendLeavesStatusAlone(t *testing.T) {
	mockSender := new(MockEmailSender)
	mockInvoiceSvc := new(MockInvoiceService)
	mockClientSvc := new(MockClientService)
	mockCompanySvc := new(MockCompanyService)
	mockTmplSvc := new(MockEmailTemplateService)
	cfg := &config.Config{AppName: "Fakturomat", SmtpFromAddress: "billing@fakturomat.test"}

	p := tasks.NewTaskProcessor(cfg, mockSender, nil, mockInvoiceSvc, mockClientSvc, mockCompanySvc, mockTmplSvc, nil, nil)

	inv, client := emailTaskFixture()
	inv.Status = models.StatusSent
	payloadBytes, _ := json.Marshal(tasks.InvoiceEmailPayload{
		InvoiceID:  inv.ID.String(),
		TemplateID: "invoice_issued",
		MarkSent:   true,
	})
	task := asynq.NewTask(tasks.TypeInvoiceEmail, payloadBytes)

	mockInvoiceSvc.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	mockClientSvc.On("FindByID", mock.Anything, client.ID).Return(client, nil)
	mockCompanySvc.On("GetProfile", mock.Anything).Return(&models.CompanyProfile{CompanyName: "Moja Firma s.r.o."}, nil)
	mockTmplSvc.On("GetTemplate", mock.Anything, "invoice_issued", "en-US").Return(&models.EmailTemplate{
		Subject: "Invoice {{.Number}}",
		Body:    "Reminder for {{.Number}}.",
	}, nil)
	mockSender.On("Send", mock.Anything, []string{client.Email}, mock.Anything, mock.Anything).Return(nil)

	err := p.HandleInvoiceEmailTask(context.Background(), task)

	assert.NoError(t, err)
	mockInvoiceSvc.AssertNotCalled(t, "ChangeStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockSender.AssertExpectations(t)
}

func TestHandleInvoicePDFTask_UploadsAndRecordsKey(t *testing.T) {
	mockInvoiceSvc := new(MockInvoiceService)
	mockClientSvc := new(MockClientService)
	mockCompanySvc := new(MockCompanyService)
	mockStorage := new(MockS3Storage)
	cfg := &config.Config{AppName: "Fakturomat"}

	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, mockInvoiceSvc, mockClientSvc, mockCompanySvc, nil, pdf.NewRenderer(), nil)

	inv, client := emailTaskFixture()
	item := &models.InvoiceItem{
		Description: "Consulting",
		Quantity:    decimal.RequireFromString("2"),
		UnitPrice:   decimal.RequireFromString("10.00"),
		VatRate:     decimal.RequireFromString("20.00"),
	}
	item.ComputeLineTotals()
	inv.Items = []*models.InvoiceItem{item}
	inv.ApplyItemTotals(inv.Items)

	payloadBytes, _ := json.Marshal(tasks.InvoicePDFPayload{InvoiceID: inv.ID.String()})
	task := asynq.NewTask(tasks.TypeInvoicePDF, payloadBytes)

	expectedKey := "invoices/INV-20250115-0001.pdf"
	mockInvoiceSvc.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	mockClientSvc.On("FindByID", mock.Anything, client.ID).Return(client, nil)
	mockCompanySvc.On("GetProfile", mock.Anything).Return(&models.CompanyProfile{CompanyName: "Moja Firma s.r.o."}, nil)
	mockStorage.On("Upload", mock.Anything, expectedKey, "application/pdf",
		mock.MatchedBy(func(body []byte) bool {
			return bytes.HasPrefix(body, []byte("%PDF"))
		}),
	).Return(nil)
	mockInvoiceSvc.On("RecordPDFKey", mock.Anything, inv.ID, expectedKey).Return(nil)

	err := p.HandleInvoicePDFTask(context.Background(), task)

	assert.NoError(t, err)
	mockStorage.AssertExpectations(t)
	mockInvoiceSvc.AssertExpectations(t)
}

func TestHandleInvoiceCheckOverdueTask_MarksDueInvoices(t *testing.T) {
	mockInvoiceSvc := new(MockInvoiceService)
	cfg := &config.Config{}

	p := tasks.NewTaskProcessor(cfg, nil, nil, mockInvoiceSvc, nil, nil, nil, nil, nil)

	first, _ := emailTaskFixture()
	second, _ := emailTaskFixture()
	second.Number = "INV-20250115-0002"

	mockInvoiceSvc.On("FindNewlyOverdue", mock.Anything, mock.Anything).Return([]*models.Invoice{first, second}, nil)
	mockInvoiceSvc.On("ChangeStatus", mock.Anything, first.ID, models.StatusOverdue, "").Return(first, nil)
	// The second invoice was edited mid-sweep; the sweep moves on.
	mockInvoiceSvc.On("ChangeStatus", mock.Anything, second.ID, models.StatusOverdue, "").Return(nil, assert.AnError)

	task := asynq.NewTask(tasks.TypeInvoiceCheckOverdue, nil)
	err := p.HandleInvoiceCheckOverdueTask(context.Background(), task)

	assert.NoError(t, err)
	mockInvoiceSvc.AssertExpectations(t)
}

func TestHandleItemPurgeTask_UsesRetentionCutoff(t *testing.T) {
	mockInvoiceSvc := new(MockInvoiceService)
	cfg := &config.Config{ItemPurgeAfterDays: 30}

	p := tasks.NewTaskProcessor(cfg, nil, nil, mockInvoiceSvc, nil, nil, nil, nil, nil)

	mockInvoiceSvc.On("PurgeDeletedItems", mock.Anything,
		mock.MatchedBy(func(cutoff time.Time) bool {
			expected := time.Now().UTC().AddDate(0, 0, -30)
			diff := cutoff.Sub(expected)
			return diff > -time.Minute && diff < time.Minute
		}),
	).Return(int64(3), nil)

	task := asynq.NewTask(tasks.TypeItemPurge, nil)
	err := p.HandleItemPurgeTask(context.Background(), task)

	assert.NoError(t, err)
	mockInvoiceSvc.AssertExpectations(t)
}

func TestHandleLogoProcessTask_GeneratesThumbnail(t *testing.T) {
	mockCompanySvc := new(MockCompanyService)
	mockStorage := new(MockS3Storage)
	cfg := &config.Config{LogoMaxDimension: 512, LogoMaxSizeMB: 5}

	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, nil, nil, mockCompanySvc, nil, nil, nil)

	profile := &models.CompanyProfile{CompanyName: "Moja Firma s.r.o."}
	profile.GenID()

	src := image.NewRGBA(image.Rect(0, 0, 1200, 800))
	var srcBuf bytes.Buffer
	if err := png.Encode(&srcBuf, src); err != nil {
		t.Fatalf("encoding fixture image: %v", err)
	}

	logoKey := "logos/3f2c_logo.png"
	thumbKey := "logos/3f2c_logo.png_thumb.jpg"
	payloadBytes, _ := json.Marshal(tasks.LogoProcessPayload{
		S3Key:     logoKey,
		ProfileID: profile.ID.String(),
	})
	task := asynq.NewTask(tasks.TypeLogoProcess, payloadBytes)

	mockStorage.On("Download", mock.Anything, logoKey).Return(srcBuf.Bytes(), "image/png", nil)
	mockStorage.On("Upload", mock.Anything, thumbKey, "image/jpeg",
		mock.MatchedBy(func(body []byte) bool {
			thumb, err := jpeg.Decode(bytes.NewReader(body))
			if err != nil {
				return false
			}
			return thumb.Bounds().Dx() <= 512 && thumb.Bounds().Dy() <= 512
		}),
	).Return(nil)
	mockCompanySvc.On("SetLogoKeys", mock.Anything, profile.ID, logoKey, thumbKey).Return(nil)

	err := p.HandleLogoProcessTask(context.Background(), task)

	assert.NoError(t, err)
	mockStorage.AssertExpectations(t)
	mockCompanySvc.AssertExpectations(t)
}

func TestHandleLogoProcessTask_MissingObject(t *testing.T) {
	mockCompanySvc := new(MockCompanyService)
	mockStorage := new(MockS3Storage)
	cfg := &config.Config{LogoMaxDimension: 512, LogoMaxSizeMB: 5}

	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, nil, nil, mockCompanySvc, nil, nil, nil)

	profile := &models.CompanyProfile{}
	profile.GenID()
	payloadBytes, _ := json.Marshal(tasks.LogoProcessPayload{
		S3Key:     "logos/gone.png",
		ProfileID: profile.ID.String(),
	})
	task := asynq.NewTask(tasks.TypeLogoProcess, payloadBytes)

	notFound := apperr.NewError("object not found").Mark(apperr.ErrNotFound)
	mockStorage.On("Download", mock.Anything, "logos/gone.png").Return(nil, "", notFound)

	err := p.HandleLogoProcessTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "A missing source object cannot appear on retry")
	mockCompanySvc.AssertNotCalled(t, "SetLogoKeys", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
