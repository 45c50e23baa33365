package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/models"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"invoice_issued": {
		TemplateID: "invoice_issued",
		Locale:     "en-US",
		Subject:    "Invoice {{.Number}} from {{.Company}}",
		Body: "Hello {{.Client}},\n\n" +
			"please find attached invoice {{.Number}} for {{.Total}} {{.Currency}}, " +
			"due on {{.DueDate}}.\n\nThank you,\n{{.Company}}",
	},
	"invoice_overdue": {
		TemplateID: "invoice_overdue",
		Locale:     "en-US",
		Subject:    "Overdue: invoice {{.Number}} from {{.Company}}",
		Body: "Hello {{.Client}},\n\n" +
			"invoice {{.Number}} for {{.Total}} {{.Currency}} was due on {{.DueDate}} " +
			"and is still unpaid. Please settle it at your earliest convenience.\n\n" +
			"Thank you,\n{{.Company}}",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *sql.DB
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(database *sql.DB) *EmailTemplateService {
	return &EmailTemplateService{
		db: database,
	}
}

// GetTemplate retrieves an email template by ID and locale
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, locale, subject, body, created_at, updated_at
		FROM email_templates
		WHERE template_id = $1 AND locale = $2
	`, templateID, locale)

	var template models.EmailTemplate
	err := row.Scan(&template.ID, &template.TemplateID, &template.Locale,
		&template.Subject, &template.Body, &template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// If template not found in DB, try to get from defaults
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &template, nil
}

// SaveTemplate saves an email template to the database
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	template.GenIDIfEmpty()
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	return db.Try(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO email_templates (id, template_id, locale, subject, body, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (template_id, locale) DO UPDATE
			SET subject = EXCLUDED.subject, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		`, template.ID, template.TemplateID, template.Locale, template.Subject,
			template.Body, template.CreatedAt, template.UpdatedAt)
		if err != nil && db.IsPqDuplicateKeyError(err) {
			template.GenID()
		}
		return err
	})
}

// DeleteTemplate deletes an email template from the database
func (s *EmailTemplateService) DeleteTemplate(ctx context.Context, templateID string, locale string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM email_templates WHERE template_id = $1 AND locale = $2
	`, templateID, locale)
	if err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}
