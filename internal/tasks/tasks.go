package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/email"
	"github.com/MilanSurkos/fakturomat/internal/logger"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/pdf"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/storage"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeInvoiceEmail        = "invoice:email"
	TypeInvoicePDF          = "invoice:pdf"
	TypeInvoiceCheckOverdue = "invoice:check_overdue"
	TypeLogoProcess         = "image:logo"
	TypeItemPurge           = "invoice:item:purge"
)

const (
	defaultLocale   = "en-US"
	emailDateLayout = "02.01.2006"
)

// --- Task Client (Enqueuing tasks) ---

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	storageService       storage.IS3Storage
	invoiceService       services.IInvoiceService
	clientService        services.IClientService
	companyService       services.ICompanyService
	emailTemplateService services.IEmailTemplateService
	pdfRenderer          *pdf.Renderer
	taskClient           *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	invoiceService services.IInvoiceService,
	clientService services.IClientService,
	companyService services.ICompanyService,
	emailTemplateService services.IEmailTemplateService,
	pdfRenderer *pdf.Renderer,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		storageService:       storageService,
		invoiceService:       invoiceService,
		clientService:        clientService,
		companyService:       companyService,
		emailTemplateService: emailTemplateService,
		pdfRenderer:          pdfRenderer,
		taskClient:           taskClient,
	}
}

// SetupServer configures an Asynq server and the mux carrying the handlers
// for the requested worker type. The caller runs the server; in API mode
// both returns are nil since the API only enqueues.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	// Each worker consumes only the queues it registers handlers for;
	// polling a foreign queue would fail those tasks with "handler not found".
	queues := map[string]int{}
	if isBgWorker {
		queues["critical"] = 6
		queues["default"] = 3
		queues["low"] = 1
	}
	if isImageWorker {
		queues["images"] = 5 // Separate queue for logo processing
	}

	srv := asynq.NewServer(
		redisOpt(rdb),
		asynq.Config{
			Queues: queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.L.Errorw("Task failed", "type", task.Type(), "payload", string(task.Payload()), "error", err)
			}),
		},
	)

	// Register handlers based on worker type
	mux := asynq.NewServeMux()

	if isBgWorker { // Register handlers for the main background worker
		mux.HandleFunc(TypeInvoiceEmail, processor.HandleInvoiceEmailTask)
		mux.HandleFunc(TypeInvoicePDF, processor.HandleInvoicePDFTask)
		mux.HandleFunc(TypeInvoiceCheckOverdue, processor.HandleInvoiceCheckOverdueTask)
		mux.HandleFunc(TypeItemPurge, processor.HandleItemPurgeTask)
		logger.L.Infow("Registered background task handlers")
	}

	if isImageWorker { // Register handlers for the image processing worker
		mux.HandleFunc(TypeLogoProcess, processor.HandleLogoProcessTask)
		logger.L.Infow("Registered image processing task handlers")
	}

	if !isBgWorker && !isImageWorker {
		// API mode doesn't run a task server, but still enqueues tasks
		logger.L.Infow("Running in API mode, no task server started")
		return nil, nil
	}

	return srv, mux
}

// SetupScheduler returns a scheduler that periodically enqueues the overdue
// sweep and the soft-deleted item purge. Run it in bg mode only, next to the
// worker; two schedulers would double every periodic task.
func SetupScheduler(rdb *redis.Client) *asynq.Scheduler {
	sched := asynq.NewScheduler(redisOpt(rdb), &asynq.SchedulerOpts{
		Location: time.UTC,
	})

	if _, err := sched.Register("@every 1h", asynq.NewTask(TypeInvoiceCheckOverdue, nil), asynq.Queue("low")); err != nil {
		logger.L.Fatalw("Could not register overdue sweep schedule", "error", err)
	}
	if _, err := sched.Register("@every 24h", asynq.NewTask(TypeItemPurge, nil), asynq.Queue("low")); err != nil {
		logger.L.Fatalw("Could not register item purge schedule", "error", err)
	}

	return sched
}

// --- Task Handlers ---

// InvoiceEmailPayload is the payload for invoice email delivery tasks. The
// recipient is resolved from the invoice's client at processing time so a
// corrected email address is picked up even for queued notices.
type InvoiceEmailPayload struct {
	InvoiceID  string `json:"invoice_id"`
	TemplateID string `json:"template_id"`
	Locale     string `json:"locale,omitempty"`
	MarkSent   bool   `json:"mark_sent,omitempty"`
}

func (p *TaskProcessor) HandleInvoiceEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload InvoiceEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal invoice email payload: %v: %w", err, asynq.SkipRetry)
	}

	invoiceID, err := utils.ParseSixID(payload.InvoiceID)
	if err != nil {
		logger.L.Errorw("Invalid invoice ID in email task payload", "invoice_id", payload.InvoiceID)
		return fmt.Errorf("invalid invoice ID in payload: %w", asynq.SkipRetry)
	}

	inv, err := p.invoiceService.FindByID(ctx, invoiceID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return fmt.Errorf("invoice not found: %w", asynq.SkipRetry)
		}
		return err
	}

	client, err := p.clientService.FindByID(ctx, inv.ClientID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return fmt.Errorf("invoice client not found: %w", asynq.SkipRetry)
		}
		return err
	}
	if strings.TrimSpace(client.Email) == "" {
		logger.L.Warnw("Client has no email address, dropping invoice email", "client", client.Name, "invoice", inv.Number)
		return fmt.Errorf("client has no email address: %w", asynq.SkipRetry)
	}

	profile, err := p.companyService.GetProfile(ctx)
	if err != nil {
		return err
	}
	companyName := profile.CompanyName
	if companyName == "" {
		companyName = p.cfg.AppName
	}

	locale := payload.Locale
	if locale == "" {
		locale = defaultLocale
	}
	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		logger.L.Errorw("Email template lookup failed", "template", payload.TemplateID, "locale", locale, "error", err)
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	data := map[string]interface{}{
		"Number":   inv.Number,
		"Client":   client.Name,
		"Company":  companyName,
		"Total":    inv.TotalAmount.StringFixed(2),
		"Currency": string(inv.Currency),
		"DueDate":  inv.DueDate.Format(emailDateLayout),
	}

	// Simple placeholder replacement (replace {{.key}})
	subjectRendered := tmpl.Subject
	bodyRendered := tmpl.Body
	for key, val := range data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		valueStr := fmt.Sprintf("%v", val)
		subjectRendered = strings.ReplaceAll(subjectRendered, placeholder, valueStr)
		bodyRendered = strings.ReplaceAll(bodyRendered, placeholder, valueStr)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		logger.L.Warnw("SmtpFromAddress not configured, using fallback", "fallback", fromAddress, "to", client.Email)
	}

	// Basic email structure with essential headers.
	// Note: Proper MIME encoding for HTML or attachments would be more complex.
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", client.Email))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subjectRendered))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n") // End of headers
	sb.WriteString(bodyRendered)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{client.Email}, subjectRendered, []byte(sb.String())); err != nil {
		logger.L.Errorw("Invoice email delivery failed", "invoice", inv.Number, "to", client.Email, "error", err)
		return err
	}

	// The message is out; nothing past this point may fail the task, or a
	// retry would send it again.
	if payload.MarkSent && (inv.Status == models.StatusDraft || inv.Status == models.StatusPending) {
		if _, err := p.invoiceService.ChangeStatus(ctx, inv.ID, models.StatusSent, ""); err != nil {
			logger.L.Errorw("Failed to mark invoice sent after delivery", "invoice", inv.Number, "error", err)
		}
	}

	logger.L.Infow("Invoice email delivered", "invoice", inv.Number, "to", client.Email, "template", payload.TemplateID)
	return nil
}

// InvoicePDFPayload is the payload for invoice PDF rendering tasks.
type InvoicePDFPayload struct {
	InvoiceID string `json:"invoice_id"`
}

func (p *TaskProcessor) HandleInvoicePDFTask(ctx context.Context, t *asynq.Task) error {
	var payload InvoicePDFPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal invoice PDF payload: %v: %w", err, asynq.SkipRetry)
	}

	invoiceID, err := utils.ParseSixID(payload.InvoiceID)
	if err != nil {
		logger.L.Errorw("Invalid invoice ID in PDF task payload", "invoice_id", payload.InvoiceID)
		return fmt.Errorf("invalid invoice ID in payload: %w", asynq.SkipRetry)
	}

	inv, err := p.invoiceService.FindByID(ctx, invoiceID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return fmt.Errorf("invoice not found: %w", asynq.SkipRetry)
		}
		return err
	}
	client, err := p.clientService.FindByID(ctx, inv.ClientID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return fmt.Errorf("invoice client not found: %w", asynq.SkipRetry)
		}
		return err
	}
	profile, err := p.companyService.GetProfile(ctx)
	if err != nil {
		return err
	}

	pdfBytes, err := p.pdfRenderer.Render(inv, client, profile)
	if err != nil {
		// Rendering is deterministic, retrying the same invoice cannot help.
		logger.L.Errorw("Invoice PDF render failed", "invoice", inv.Number, "error", err)
		return fmt.Errorf("failed to render invoice PDF: %v: %w", err, asynq.SkipRetry)
	}

	key := storage.InvoicePDFKey(inv.Number)
	if err := p.storageService.Upload(ctx, key, "application/pdf", pdfBytes); err != nil {
		return fmt.Errorf("failed to upload invoice PDF: %w", err)
	}
	if err := p.invoiceService.RecordPDFKey(ctx, inv.ID, key); err != nil {
		return fmt.Errorf("failed to record invoice PDF key: %w", err)
	}

	logger.L.Infow("Invoice PDF stored", "invoice", inv.Number, "key", key, "bytes", len(pdfBytes))
	return nil
}

// HandleInvoiceCheckOverdueTask flips due unpaid invoices to overdue and
// queues an overdue notice for each.
func (p *TaskProcessor) HandleInvoiceCheckOverdueTask(ctx context.Context, t *asynq.Task) error {
	now := time.Now().UTC()
	invoices, err := p.invoiceService.FindNewlyOverdue(ctx, now)
	if err != nil {
		logger.L.Errorw("Overdue sweep query failed", "error", err)
		return err
	}
	if len(invoices) == 0 {
		return nil
	}

	marked := 0
	for _, inv := range invoices {
		if _, err := p.invoiceService.ChangeStatus(ctx, inv.ID, models.StatusOverdue, ""); err != nil {
			// Lost a race with a concurrent edit; the next sweep picks it up.
			logger.L.Warnw("Could not mark invoice overdue", "invoice", inv.Number, "error", err)
			continue
		}
		marked++

		if p.taskClient == nil {
			continue
		}
		payloadBytes, _ := json.Marshal(InvoiceEmailPayload{
			InvoiceID:  inv.ID.String(),
			TemplateID: "invoice_overdue",
		})
		task := asynq.NewTask(TypeInvoiceEmail, payloadBytes)
		if _, err := p.taskClient.EnqueueContext(ctx, task); err != nil {
			logger.L.Errorw("Failed to enqueue overdue notice", "invoice", inv.Number, "error", err)
		}
	}

	logger.L.Infow("Overdue sweep finished", "due", len(invoices), "marked", marked)
	return nil
}

// LogoProcessPayload is the payload for company logo thumbnail tasks.
type LogoProcessPayload struct {
	S3Key     string `json:"s3_key"`
	ProfileID string `json:"profile_id"`
}

func (p *TaskProcessor) HandleLogoProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload LogoProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal logo task payload: %v: %w", err, asynq.SkipRetry)
	}

	profileID, err := utils.ParseSixID(payload.ProfileID)
	if err != nil {
		logger.L.Errorw("Invalid profile ID in logo task payload", "profile_id", payload.ProfileID)
		return fmt.Errorf("invalid profile ID in payload: %w", asynq.SkipRetry)
	}

	imgData, _, err := p.storageService.Download(ctx, payload.S3Key)
	if err != nil {
		if apperr.IsNotFound(err) {
			logger.L.Errorw("Logo object missing, likely upload failed", "key", payload.S3Key)
			return fmt.Errorf("logo object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download logo: %w", err)
	}

	maxSizeBytes := int64(p.cfg.LogoMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		logger.L.Warnw("Logo exceeds max size, skipping", "key", payload.S3Key, "size", len(imgData), "max", maxSizeBytes)
		return fmt.Errorf("logo exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		logger.L.Errorw("Logo decode failed", "key", payload.S3Key, "error", err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	logger.L.Debugw("Decoded logo", "key", payload.S3Key, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	bound := uint(p.cfg.LogoMaxDimension)
	thumb := resize.Thumbnail(bound, bound, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to encode logo thumbnail: %w", err)
	}

	thumbKey := storage.LogoThumbKey(payload.S3Key)
	if err := p.storageService.Upload(ctx, thumbKey, "image/jpeg", buf.Bytes()); err != nil {
		return fmt.Errorf("failed to upload logo thumbnail: %w", err)
	}

	if err := p.companyService.SetLogoKeys(ctx, profileID, payload.S3Key, thumbKey); err != nil {
		if apperr.IsNotFound(err) {
			return fmt.Errorf("company profile not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to update profile logo keys: %w", err)
	}

	logger.L.Infow("Logo processed", "key", payload.S3Key, "thumb", thumbKey, "profile", payload.ProfileID)
	return nil
}

// HandleItemPurgeTask hard-deletes invoice items that were soft-deleted
// longer ago than the configured retention window.
func (p *TaskProcessor) HandleItemPurgeTask(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.ItemPurgeAfterDays)
	purged, err := p.invoiceService.PurgeDeletedItems(ctx, cutoff)
	if err != nil {
		logger.L.Errorw("Item purge failed", "cutoff", cutoff, "error", err)
		return err
	}
	if purged > 0 {
		logger.L.Infow("Purged soft-deleted invoice items", "count", purged, "cutoff", cutoff)
	}
	return nil
}
