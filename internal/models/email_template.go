package models

// EmailTemplate defines the structure for email templates stored in the DB.
type EmailTemplate struct {
	Base       `json:",inline"`
	TemplateID string `json:"template_id"` // e.g., "invoice_issued", "invoice_overdue"
	Locale     string `json:"locale"`      // e.g., "en-US", "sk-SK"
	Subject    string `json:"subject"`     // Subject template
	Body       string `json:"body"`        // Body template (plain text or HTML)
}
