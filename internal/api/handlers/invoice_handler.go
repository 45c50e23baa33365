package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/payments"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/storage"
	"github.com/MilanSurkos/fakturomat/internal/tasks"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// InvoiceHandler handles REST requests for invoices.
type InvoiceHandler struct {
	cfg            *config.Config
	invoiceService services.IInvoiceService
	clientService  services.IClientService
	companyService services.ICompanyService
	storageService storage.IS3Storage
	taskClient     IAsynqClient
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(
	cfg *config.Config,
	invoiceService services.IInvoiceService,
	clientService services.IClientService,
	companyService services.ICompanyService,
	storageService storage.IS3Storage,
	taskClient IAsynqClient,
) *InvoiceHandler {
	return &InvoiceHandler{
		cfg:            cfg,
		invoiceService: invoiceService,
		clientService:  clientService,
		companyService: companyService,
		storageService: storageService,
		taskClient:     taskClient,
	}
}

// applyHeaderForm copies the invoice header fields present in the form onto
// inv. Fields left out of the form keep their current values, so the same
// parsing serves both create and update.
func applyHeaderForm(inv *models.Invoice, form url.Values) error {
	if form.Has("client_id") {
		id, err := utils.ParseSixID(form.Get("client_id"))
		if err != nil {
			return fmt.Errorf("Invalid client ID format")
		}
		inv.ClientID = id
	}
	if v := strings.TrimSpace(form.Get("issue_date")); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return fmt.Errorf("Invalid issue date, expected YYYY-MM-DD")
		}
		inv.IssueDate = d
	}
	if v := strings.TrimSpace(form.Get("due_date")); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return fmt.Errorf("Invalid due date, expected YYYY-MM-DD")
		}
		inv.DueDate = d
	}
	if v := strings.TrimSpace(form.Get("currency")); v != "" {
		inv.Currency = models.Currency(strings.ToUpper(v))
	}
	if v := strings.TrimSpace(form.Get("payment_method")); v != "" {
		inv.PaymentMethod = models.PaymentMethod(v)
	}
	if form.Has("notes") {
		inv.Notes = form.Get("notes")
	}
	return nil
}

// Create handles POST /v1/invoices. The body is a form submission carrying the
// invoice header fields plus the indexed line-item rows and their management
// count field.
func (h *InvoiceHandler) Create(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	form := c.Request.PostForm

	inv := &models.Invoice{}
	if err := applyHeaderForm(inv, form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.invoiceService.ReconcileItems(ctx, inv, form); err != nil {
		respondError(c, err)
		return
	}
	if err := h.invoiceService.Create(ctx, inv); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// List handles GET /v1/invoices.
func (h *InvoiceHandler) List(c *gin.Context) {
	opts := services.InvoiceListOptions{
		Search: c.Query("q"),
		Page:   pageParam(c),
	}
	if status := c.Query("status"); status != "" {
		if !models.InvoiceStatus(status).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice status"})
			return
		}
		opts.Status = models.InvoiceStatus(status)
	}
	if clientStr := c.Query("client"); clientStr != "" {
		clientID, err := utils.ParseSixID(clientStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID format"})
			return
		}
		opts.ClientID = clientID
	}

	ctx := c.Request.Context()
	invoices, total, err := h.invoiceService.List(ctx, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := h.invoiceService.Summary(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  invoices,
		"total": total,
		"page":  opts.Page,
		"stats": summary,
	})
}

// GetByID handles GET /v1/invoices/:id. The response bundles everything the
// detail view needs: the invoice with its items, the client, the issuer
// profile and, while the invoice is unpaid, the Pay by Square payment payload.
func (h *InvoiceHandler) GetByID(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID format"})
		return
	}

	ctx := c.Request.Context()
	inv, err := h.invoiceService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	client, err := h.clientService.FindByID(ctx, inv.ClientID)
	if err != nil && !apperr.IsNotFound(err) {
		respondError(c, err)
		return
	}

	profile, err := h.companyService.GetProfile(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	showPayment := inv.Status != models.StatusPaid
	var payBySquare *payments.PayBySquare
	if showPayment {
		payBySquare, err = payments.Generate(inv, profile, payments.Options{
			MinAmountCents: h.cfg.MinPaymentCents,
			DefaultDueDays: h.cfg.InvoiceDueDays,
		})
		if err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"invoice":       inv,
		"client":        client,
		"issuer":        profile,
		"pay_by_square": payBySquare,
		"show_payment":  showPayment,
	})
}

// Update handles PUT /v1/invoices/:id. The body is the same form shape as
// Create plus the version field for optimistic locking.
func (h *InvoiceHandler) Update(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID format"})
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	form := c.Request.PostForm
	version := strings.TrimSpace(form.Get("version"))
	if version == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invoice version is required"})
		return
	}

	ctx := c.Request.Context()
	inv, err := h.invoiceService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := applyHeaderForm(inv, form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.invoiceService.ReconcileItems(ctx, inv, form); err != nil {
		respondError(c, err)
		return
	}
	if err := h.invoiceService.Update(ctx, inv, version); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Delete handles DELETE /v1/invoices/:id.
func (h *InvoiceHandler) Delete(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID format"})
		return
	}
	if err := h.invoiceService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted"})
}

// ChangeStatus handles POST /v1/invoices/:id/status.
func (h *InvoiceHandler) ChangeStatus(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID format"})
		return
	}
	var req struct {
		Status  string `json:"status" binding:"required"`
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	inv, err := h.invoiceService.ChangeStatus(c.Request.Context(), id, models.InvoiceStatus(req.Status), req.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Send handles POST /v1/invoices/:id/send. It queues the email task; the
// worker resolves the recipient and flips the status to sent on success.
func (h *InvoiceHandler) Send(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID format"})
		return
	}

	ctx := c.Request.Context()
	inv, err := h.invoiceService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		TemplateID string `json:"template_id"`
		Locale     string `json:"locale"`
	}
	// The body is optional; defaults cover the common case.
	_ = c.ShouldBindJSON(&req)
	if req.TemplateID == "" {
		req.TemplateID = "invoice_issued"
	}

	payloadBytes, _ := json.Marshal(tasks.InvoiceEmailPayload{
		InvoiceID:  inv.ID.String(),
		TemplateID: req.TemplateID,
		Locale:     req.Locale,
		MarkSent:   true,
	})
	task := asynq.NewTask(tasks.TypeInvoiceEmail, payloadBytes)
	info, err := h.taskClient.EnqueueContext(ctx, task)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue invoice email"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Invoice email queued", "task_id": info.ID})
}

// GetPDF handles GET /v1/invoices/:id/pdf. With a rendered PDF on file it
// hands out a short-lived download link; otherwise it queues the render.
func (h *InvoiceHandler) GetPDF(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID format"})
		return
	}

	ctx := c.Request.Context()
	inv, err := h.invoiceService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	if inv.PdfKey != "" {
		downloadURL, err := h.storageService.GeneratePresignedGetURL(ctx, inv.PdfKey)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate download link"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": downloadURL})
		return
	}

	payloadBytes, _ := json.Marshal(tasks.InvoicePDFPayload{InvoiceID: inv.ID.String()})
	task := asynq.NewTask(tasks.TypeInvoicePDF, payloadBytes)
	info, err := h.taskClient.EnqueueContext(ctx, task, asynq.Queue("critical"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue PDF render"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "PDF render queued", "task_id": info.ID})
}

// looseDecimal parses a JSON value that may arrive as a string or a number.
// The string form is returned alongside so responses can echo the input.
func looseDecimal(v any) (decimal.Decimal, string, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, "0", nil
	case string:
		s := strings.TrimSpace(x)
		d, err := decimal.NewFromString(s)
		return d, s, err
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		d, err := decimal.NewFromString(s)
		return d, s, err
	default:
		return decimal.Decimal{}, "", fmt.Errorf("unsupported numeric value %v", v)
	}
}

// CalculateTotals handles POST /v1/invoices/calculate-totals, the AJAX helper
// behind the invoice form. Items flagged DELETE="on" are skipped but keep
// their place in the numbering of validation messages.
func (h *InvoiceHandler) CalculateTotals(c *gin.Context) {
	var req map[string]json.RawMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON payload"})
		return
	}
	if _, ok := req["items"]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required field: items"})
		return
	}

	var taxRateRaw any
	if raw, ok := req["tax_rate"]; ok {
		if err := json.Unmarshal(raw, &taxRateRaw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid tax rate format"})
			return
		}
	}
	taxRate, taxRateStr, err := looseDecimal(taxRateRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid tax rate format"})
		return
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(100)) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Tax rate must be between 0 and 100"})
		return
	}

	var items []struct {
		Description string `json:"description"`
		Quantity    any    `json:"quantity"`
		UnitPrice   any    `json:"unit_price"`
		Delete      string `json:"DELETE"`
	}
	if err := json.Unmarshal(req["items"], &items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON payload"})
		return
	}

	currency := "EUR"
	if raw, ok := req["currency"]; ok {
		var cur string
		if err := json.Unmarshal(raw, &cur); err == nil && cur != "" {
			currency = cur
		}
	}

	subtotal := decimal.Zero
	for i, item := range items {
		if item.Delete == "on" {
			continue
		}
		quantity, _, qErr := looseDecimal(item.Quantity)
		unitPrice, _, pErr := looseDecimal(item.UnitPrice)
		if qErr != nil || pErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("Item %d: Invalid quantity or price format", i+1),
			})
			return
		}
		if quantity.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("Item %d: Quantity cannot be negative", i+1),
			})
			return
		}
		if unitPrice.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("Item %d: Unit price cannot be negative", i+1),
			})
			return
		}
		subtotal = subtotal.Add(quantity.Mul(unitPrice).Round(2))
	}

	taxAmount := subtotal.Mul(taxRate).Div(decimal.NewFromInt(100)).Round(2)
	total := subtotal.Add(taxAmount)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"subtotal":   subtotal.StringFixed(2),
		"tax_amount": taxAmount.StringFixed(2),
		"total":      total.StringFixed(2),
		"currency":   currency,
		"tax_rate":   taxRateStr,
	})
}
