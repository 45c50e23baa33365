package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/storage"
	"github.com/MilanSurkos/fakturomat/internal/tasks"
)

// CompanyHandler handles REST requests for the issuer profile.
type CompanyHandler struct {
	cfg            *config.Config
	companyService services.ICompanyService
	storageService storage.IS3Storage
	taskClient     IAsynqClient
}

// NewCompanyHandler creates a new CompanyHandler.
func NewCompanyHandler(
	cfg *config.Config,
	companyService services.ICompanyService,
	storageService storage.IS3Storage,
	taskClient IAsynqClient,
) *CompanyHandler {
	return &CompanyHandler{
		cfg:            cfg,
		companyService: companyService,
		storageService: storageService,
		taskClient:     taskClient,
	}
}

// companyRequest is the JSON body for updating the issuer profile.
type companyRequest struct {
	CompanyName  string `json:"company_name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	TaxID        string `json:"tax_id"`
	BankIBAN     string `json:"bank_iban"`
	BankSWIFT    string `json:"bank_swift"`
}

// Get handles GET /v1/company. An unconfigured installation returns an empty
// profile with a zero ID rather than a 404.
func (h *CompanyHandler) Get(c *gin.Context) {
	profile, err := h.companyService.GetProfile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Update handles PUT /v1/company. The first save creates the profile row.
func (h *CompanyHandler) Update(c *gin.Context) {
	var req companyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	ctx := c.Request.Context()
	profile, err := h.companyService.GetProfile(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	profile.CompanyName = req.CompanyName
	profile.AddressLine1 = req.AddressLine1
	profile.AddressLine2 = req.AddressLine2
	profile.City = req.City
	profile.State = req.State
	profile.PostalCode = req.PostalCode
	profile.Country = req.Country
	profile.Email = req.Email
	profile.Phone = req.Phone
	profile.TaxID = req.TaxID
	profile.BankIBAN = req.BankIBAN
	profile.BankSWIFT = req.BankSWIFT

	if err := h.companyService.SaveProfile(ctx, profile); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UploadLogo handles POST /v1/company/logo. The original file goes to object
// storage as-is; the thumbnail is produced asynchronously on the image queue.
func (h *CompanyHandler) UploadLogo(c *gin.Context) {
	ctx := c.Request.Context()
	profile, err := h.companyService.GetProfile(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	if profile.ID.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Save the company profile before uploading a logo"})
		return
	}

	file, err := c.FormFile("logo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing logo file"})
		return
	}
	maxSize := int64(h.cfg.LogoMaxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Logo exceeds the %d MB limit", h.cfg.LogoMaxSizeMB)})
		return
	}

	src, err := file.Open()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read logo file"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read logo file"})
		return
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.LogoKey(filepath.Base(file.Filename))
	if err := h.storageService.Upload(ctx, key, contentType, data); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store logo"})
		return
	}

	payloadBytes, _ := json.Marshal(tasks.LogoProcessPayload{
		S3Key:     key,
		ProfileID: profile.ID.String(),
	})
	task := asynq.NewTask(tasks.TypeLogoProcess, payloadBytes)
	info, err := h.taskClient.EnqueueContext(ctx, task, asynq.Queue("images"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue logo processing"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Logo uploaded, processing queued",
		"key":     key,
		"task_id": info.ID,
	})
}
