package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements is executed in order by EnsureSchema. Every statement is
// idempotent so the app can run it on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		id          CHAR(10) PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT NOT NULL DEFAULT '',
		phone       TEXT NOT NULL DEFAULT '',
		client_type TEXT NOT NULL DEFAULT 'company',
		tax_number  TEXT NOT NULL DEFAULT '',
		vat_number  TEXT NOT NULL DEFAULT '',
		street      TEXT NOT NULL DEFAULT '',
		city        TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		country     TEXT NOT NULL DEFAULT '',
		bank_iban   TEXT NOT NULL DEFAULT '',
		bank_swift  TEXT NOT NULL DEFAULT '',
		deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS client_notes (
		id         CHAR(10) PRIMARY KEY,
		client_id  CHAR(10) NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		body       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id          CHAR(10) PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		unit        TEXT NOT NULL DEFAULT 'pc',
		unit_price  NUMERIC(12,2) NOT NULL DEFAULT 0,
		vat_rate    NUMERIC(5,2) NOT NULL DEFAULT 20.00,
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id             CHAR(10) PRIMARY KEY,
		number         TEXT NOT NULL UNIQUE,
		client_id      CHAR(10) NOT NULL REFERENCES clients(id),
		status         TEXT NOT NULL DEFAULT 'draft',
		payment_method TEXT NOT NULL DEFAULT 'bank_transfer',
		currency       TEXT NOT NULL DEFAULT 'EUR',
		issue_date     DATE NOT NULL,
		due_date       DATE NOT NULL,
		paid_at        TIMESTAMPTZ,
		subtotal       NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_tax      NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_amount   NUMERIC(12,2) NOT NULL DEFAULT 0,
		tax_breakdown  JSONB NOT NULL DEFAULT '{}',
		notes          TEXT NOT NULL DEFAULT '',
		version        CHAR(36) NOT NULL,
		pdf_key        TEXT NOT NULL DEFAULT '',
		deleted        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS invoice_items (
		id          CHAR(10) PRIMARY KEY,
		invoice_id  CHAR(10) NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		description TEXT NOT NULL,
		quantity    NUMERIC(12,2) NOT NULL DEFAULT 1,
		unit_price  NUMERIC(12,2) NOT NULL DEFAULT 0,
		vat_rate    NUMERIC(5,2) NOT NULL DEFAULT 20.00,
		subtotal    NUMERIC(12,2) NOT NULL DEFAULT 0,
		tax_amount  NUMERIC(12,2) NOT NULL DEFAULT 0,
		total       NUMERIC(12,2) NOT NULL DEFAULT 0,
		deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at  TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS company_profiles (
		id             CHAR(10) PRIMARY KEY,
		company_name   TEXT NOT NULL DEFAULT '',
		address_line1  TEXT NOT NULL DEFAULT '',
		address_line2  TEXT NOT NULL DEFAULT '',
		city           TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT '',
		postal_code    TEXT NOT NULL DEFAULT '',
		country        TEXT NOT NULL DEFAULT '',
		email          TEXT NOT NULL DEFAULT '',
		phone          TEXT NOT NULL DEFAULT '',
		tax_id         TEXT NOT NULL DEFAULT '',
		bank_iban      TEXT NOT NULL DEFAULT '',
		bank_swift     TEXT NOT NULL DEFAULT '',
		logo_key       TEXT NOT NULL DEFAULT '',
		logo_thumb_key TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS email_templates (
		id          CHAR(10) PRIMARY KEY,
		template_id TEXT NOT NULL,
		locale      TEXT NOT NULL,
		subject     TEXT NOT NULL,
		body        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (template_id, locale)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices (status) WHERE NOT deleted`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices (client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_due ON invoices (due_date) WHERE paid_at IS NULL AND NOT deleted`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items (invoice_id)`,
	`CREATE INDEX IF NOT EXISTS idx_client_notes_client ON client_notes (client_id)`,
}

// EnsureSchema creates all tables and indexes that do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
