package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/formset"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// IInvoiceService defines the interface for invoice operations.
type IInvoiceService interface {
	Create(ctx context.Context, inv *models.Invoice) error
	FindByID(ctx context.Context, id utils.SixID) (*models.Invoice, error)
	FindByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Update(ctx context.Context, inv *models.Invoice, expectedVersion string) error
	Delete(ctx context.Context, id utils.SixID) error
	List(ctx context.Context, opts InvoiceListOptions) ([]*models.Invoice, int, error)
	Summary(ctx context.Context) (*InvoiceSummary, error)
	ReconcileItems(ctx context.Context, inv *models.Invoice, form url.Values) error
	ChangeStatus(ctx context.Context, id utils.SixID, next models.InvoiceStatus, expectedVersion string) (*models.Invoice, error)
	FindNewlyOverdue(ctx context.Context, at time.Time) ([]*models.Invoice, error)
	RecordPDFKey(ctx context.Context, id utils.SixID, key string) error
	PurgeDeletedItems(ctx context.Context, cutoff time.Time) (int64, error)
}

// InvoiceListOptions filters and paginates invoice listings.
type InvoiceListOptions struct {
	Status   models.InvoiceStatus // empty means all
	ClientID utils.SixID          // zero means all
	Search   string               // matches invoice number, client name or notes
	Page     int                  // 1-based
	PageSize int
}

// InvoiceSummary is the aggregate block shown above the invoice list. It spans
// all live invoices regardless of the active filters.
type InvoiceSummary struct {
	TotalInvoices int    `json:"total_invoices"`
	TotalPaid     string `json:"total_paid"`
	TotalOverdue  string `json:"total_overdue"`
}

// overduePredicate matches invoices that are past due, whether or not the
// hourly sweep has flipped their stored status yet.
const overduePredicate = `(i.status = 'overdue' OR
	(i.status IN ('pending', 'sent') AND i.due_date < now() AND i.paid_at IS NULL))`

// invoiceService implements IInvoiceService.
type invoiceService struct {
	db  *sql.DB
	cfg *config.Config
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(database *sql.DB, cfg *config.Config) IInvoiceService {
	return &invoiceService{
		db:  database,
		cfg: cfg,
	}
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

const invoiceColumns = `id, number, client_id, status, payment_method, currency,
	issue_date, due_date, paid_at, subtotal, total_tax, total_amount, tax_breakdown,
	notes, version, pdf_key, deleted, created_at, updated_at`

func scanInvoice(scanner rowScanner) (*models.Invoice, error) {
	var (
		inv          models.Invoice
		paidAt       sql.NullTime
		breakdownRaw []byte
	)
	err := scanner.Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.Status, &inv.PaymentMethod, &inv.Currency,
		&inv.IssueDate, &inv.DueDate, &paidAt, &inv.Subtotal, &inv.TotalTax, &inv.TotalAmount,
		&breakdownRaw, &inv.Notes, &inv.Version, &inv.PdfKey, &inv.Deleted,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		inv.PaidAt = &t
	}
	inv.TaxBreakdown = models.TaxBreakdown{}
	if len(breakdownRaw) > 0 {
		if err := json.Unmarshal(breakdownRaw, &inv.TaxBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode tax breakdown for invoice %s: %w", inv.Number, err)
		}
	}
	return &inv, nil
}

const itemColumns = `id, invoice_id, position, description, quantity, unit_price,
	vat_rate, subtotal, tax_amount, total, deleted, deleted_at, created_at, updated_at`

func scanInvoiceItem(scanner rowScanner) (*models.InvoiceItem, error) {
	var (
		item      models.InvoiceItem
		deletedAt sql.NullTime
	)
	err := scanner.Scan(
		&item.ID, &item.InvoiceID, &item.Position, &item.Description, &item.Quantity,
		&item.UnitPrice, &item.VatRate, &item.Subtotal, &item.TaxAmount, &item.Total,
		&item.Deleted, &deletedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		item.DeletedAt = &t
	}
	return &item, nil
}

// applyDefaults fills the fields a freshly created invoice may omit.
func (s *invoiceService) applyDefaults(inv *models.Invoice) {
	now := time.Now().UTC()
	if inv.Status == "" {
		inv.Status = models.StatusDraft
	}
	if inv.PaymentMethod == "" {
		inv.PaymentMethod = models.PaymentBankTransfer
	}
	if inv.Currency == "" {
		inv.Currency = models.Currency(s.cfg.DefaultCurrency)
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = now.Truncate(24 * time.Hour)
	}
	if inv.DueDate.IsZero() {
		inv.DueDate = inv.IssueDate.AddDate(0, 0, s.cfg.InvoiceDueDays)
	}
	if inv.Version == "" {
		inv.NewVersion()
	}
}

// nextNumber derives the next per-day sequence from the highest number already
// issued for the day. Soft-deleted invoices keep their numbers burned.
// Collisions between concurrent writers are resolved by the UNIQUE constraint
// on invoices.number plus the retry in Create.
func (s *invoiceService) nextNumber(ctx context.Context, issueDate time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%s-", s.cfg.InvoiceNumPrefix, issueDate.Format("20060102"))
	pattern := "^" + regexp.QuoteMeta(prefix) + "[0-9]+$"
	var last int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(number FROM $2)::int), 0)
		FROM invoices
		WHERE number ~ $1
	`, pattern, len(prefix)+1).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to derive next invoice number: %w", err)
	}
	return fmt.Sprintf("%s%04d", prefix, last+1), nil
}

func (s *invoiceService) clientExists(ctx context.Context, id utils.SixID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1 AND NOT deleted)
	`, id).Scan(&exists)
	return exists, err
}

// Create stores a new invoice together with its items. The invoice number is
// generated here unless the caller supplied one.
func (s *invoiceService) Create(ctx context.Context, inv *models.Invoice) error {
	s.applyDefaults(inv)

	exists, err := s.clientExists(ctx, inv.ClientID)
	if err != nil {
		return fmt.Errorf("failed to check client %s: %w", inv.ClientID.String(), err)
	}
	if !exists {
		return apperr.NewErrorf("client %s not found", inv.ClientID.String()).
			WithHint("Invoice client does not exist.").
			Mark(apperr.ErrNotFound)
	}

	for _, item := range inv.Items {
		item.ComputeLineTotals()
		if err := item.Validate(); err != nil {
			return err
		}
	}
	inv.ApplyItemTotals(inv.Items)

	autoNumber := strings.TrimSpace(inv.Number) == ""
	if autoNumber {
		if inv.Number, err = s.nextNumber(ctx, inv.IssueDate); err != nil {
			return err
		}
	}
	if err := inv.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.GenIDIfEmpty()

	err = db.Try(func() error {
		opErr := s.insertInvoiceTx(ctx, inv)
		if opErr != nil && db.IsPqDuplicateKeyError(opErr) {
			// Could be either the primary key or the invoice number; refresh
			// both where we own the value.
			inv.GenID()
			if autoNumber {
				if number, numErr := s.nextNumber(ctx, inv.IssueDate); numErr == nil {
					inv.Number = number
				}
			}
		}
		return opErr
	})
	if err != nil {
		if db.IsPqDuplicateKeyError(err) {
			return apperr.NewErrorf("invoice number %s already in use", inv.Number).
				WithHint("An invoice with this number already exists.").
				Mark(apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (s *invoiceService) insertInvoiceTx(ctx context.Context, inv *models.Invoice) error {
	breakdown, err := json.Marshal(inv.TaxBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode tax breakdown: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var paidAt sql.NullTime
	if inv.PaidAt != nil {
		paidAt = sql.NullTime{Time: *inv.PaidAt, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, number, client_id, status, payment_method, currency,
			issue_date, due_date, paid_at, subtotal, total_tax, total_amount, tax_breakdown,
			notes, version, pdf_key, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, inv.ID, inv.Number, inv.ClientID, inv.Status, inv.PaymentMethod, inv.Currency,
		inv.IssueDate, inv.DueDate, paidAt, inv.Subtotal, inv.TotalTax, inv.TotalAmount,
		breakdown, inv.Notes, inv.Version, inv.PdfKey, inv.Deleted, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, item := range inv.Items {
		item.GenID()
		item.InvoiceID = inv.ID
		item.Position = i
		item.CreatedAt = now
		item.UpdatedAt = now
		if err := insertItem(ctx, tx, item); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertItem(ctx context.Context, tx *sql.Tx, item *models.InvoiceItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_items (id, invoice_id, position, description, quantity,
			unit_price, vat_rate, subtotal, tax_amount, total, deleted, deleted_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, item.ID, item.InvoiceID, item.Position, item.Description, item.Quantity,
		item.UnitPrice, item.VatRate, item.Subtotal, item.TaxAmount, item.Total,
		item.Deleted, nullTime(item.DeletedAt), item.CreatedAt, item.UpdatedAt)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// FindByID returns an invoice with its visible items loaded, ordered by position.
func (s *invoiceService) FindByID(ctx context.Context, id utils.SixID) (*models.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND NOT deleted
	`, id)

	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewErrorf("invoice %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice %s: %w", id.String(), err)
	}
	if inv.Items, err = s.loadItems(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

// FindByNumber returns an invoice by its human-facing number.
func (s *invoiceService) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE number = $1 AND NOT deleted
	`, number)

	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewErrorf("invoice %s not found", number).Mark(apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice %s: %w", number, err)
	}
	if inv.Items, err = s.loadItems(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) loadItems(ctx context.Context, invoiceID utils.SixID) ([]*models.InvoiceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM invoice_items
		WHERE invoice_id = $1 AND NOT deleted
		ORDER BY position
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for invoice %s: %w", invoiceID.String(), err)
	}
	defer rows.Close()

	var items []*models.InvoiceItem
	for rows.Next() {
		item, err := scanInvoiceItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Update writes the invoice header and items under optimistic locking. A nil
// Items slice leaves the stored items untouched. The invoice number and status
// are not editable here; status changes go through ChangeStatus.
func (s *invoiceService) Update(ctx context.Context, inv *models.Invoice, expectedVersion string) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	for _, item := range inv.Items {
		item.ComputeLineTotals()
		if err := item.Validate(); err != nil {
			return err
		}
	}
	if inv.Items != nil {
		inv.ApplyItemTotals(inv.Items)
	}

	breakdown, err := json.Marshal(inv.TaxBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode tax breakdown: %w", err)
	}

	previousVersion := inv.Version
	inv.NewVersion()
	inv.Touch()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET client_id = $3, payment_method = $4, currency = $5, issue_date = $6,
			due_date = $7, subtotal = $8, total_tax = $9, total_amount = $10,
			tax_breakdown = $11, notes = $12, version = $13, updated_at = $14
		WHERE id = $1 AND version = $2 AND NOT deleted
	`, inv.ID, expectedVersion, inv.ClientID, inv.PaymentMethod, inv.Currency,
		inv.IssueDate, inv.DueDate, inv.Subtotal, inv.TotalTax, inv.TotalAmount,
		breakdown, inv.Notes, inv.Version, inv.UpdatedAt)
	if err != nil {
		inv.Version = previousVersion
		return fmt.Errorf("failed to update invoice %s: %w", inv.ID.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		inv.Version = previousVersion
		return s.updateConflict(ctx, inv.ID)
	}

	if inv.Items != nil {
		if err := s.saveItemsTx(ctx, tx, inv); err != nil {
			inv.Version = previousVersion
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		inv.Version = previousVersion
		return fmt.Errorf("failed to commit invoice update: %w", err)
	}
	return nil
}

// updateConflict distinguishes a missing invoice from a stale version.
func (s *invoiceService) updateConflict(ctx context.Context, id utils.SixID) error {
	var current string
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM invoices WHERE id = $1 AND NOT deleted
	`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NewErrorf("invoice %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query invoice %s: %w", id.String(), err)
	}
	return apperr.NewErrorf("invoice %s was modified concurrently", id.String()).
		WithHint("The invoice changed while you were editing it. Reload and try again.").
		Mark(apperr.ErrVersionConflict)
}

// saveItemsTx reconciles the stored items with inv.Items: rows are updated in
// place by position, extra submitted rows are inserted, and surplus stored
// rows are soft-deleted for later purging.
func (s *invoiceService) saveItemsTx(ctx context.Context, tx *sql.Tx, inv *models.Invoice) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM invoice_items
		WHERE invoice_id = $1 AND NOT deleted
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to query existing items: %w", err)
	}
	var existing []utils.SixID
	for rows.Next() {
		var id utils.SixID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan item id: %w", err)
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, item := range inv.Items {
		item.InvoiceID = inv.ID
		item.Position = i
		item.UpdatedAt = now
		if i < len(existing) {
			item.SetID(existing[i])
			_, err = tx.ExecContext(ctx, `
				UPDATE invoice_items
				SET position = $2, description = $3, quantity = $4, unit_price = $5,
					vat_rate = $6, subtotal = $7, tax_amount = $8, total = $9, updated_at = $10
				WHERE id = $1
			`, item.ID, item.Position, item.Description, item.Quantity, item.UnitPrice,
				item.VatRate, item.Subtotal, item.TaxAmount, item.Total, item.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to update invoice item: %w", err)
			}
			continue
		}
		item.GenIDIfEmpty()
		item.CreatedAt = now
		if err := insertItem(ctx, tx, item); err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}

	if len(inv.Items) < len(existing) {
		surplus := make([]string, 0, len(existing)-len(inv.Items))
		for _, id := range existing[len(inv.Items):] {
			surplus = append(surplus, id.String())
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE invoice_items
			SET deleted = TRUE, deleted_at = $2, updated_at = $2
			WHERE id = ANY($1)
		`, pq.Array(surplus), now)
		if err != nil {
			return fmt.Errorf("failed to soft-delete removed items: %w", err)
		}
	}
	return nil
}

// Delete soft-deletes an invoice.
func (s *invoiceService) Delete(ctx context.Context, id utils.SixID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET deleted = TRUE, updated_at = now()
		WHERE id = $1 AND NOT deleted
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice %s: %w", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("invoice %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// List returns one page of invoices (items not loaded) plus the total match count.
func (s *invoiceService) List(ctx context.Context, opts InvoiceListOptions) ([]*models.Invoice, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = s.cfg.PageSize
	}

	where := "NOT i.deleted"
	args := []any{}
	if opts.Status == models.StatusOverdue {
		where += " AND " + overduePredicate
	} else if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(" AND i.status = $%d", len(args))
	}
	if !opts.ClientID.IsZero() {
		args = append(args, opts.ClientID)
		where += fmt.Sprintf(" AND i.client_id = $%d", len(args))
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		where += fmt.Sprintf(" AND (i.number ILIKE $%d OR c.name ILIKE $%d OR i.notes ILIKE $%d)", n, n, n)
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM invoices i
		JOIN clients c ON c.id = i.client_id
		WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.id, i.number, i.client_id, i.status, i.payment_method, i.currency,
			i.issue_date, i.due_date, i.paid_at, i.subtotal, i.total_tax, i.total_amount,
			i.tax_breakdown, i.notes, i.version, i.pdf_key, i.deleted, i.created_at, i.updated_at
		FROM invoices i
		JOIN clients c ON c.id = i.client_id
		WHERE %s
		ORDER BY i.created_at DESC, i.id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

// Summary aggregates the headline numbers for the invoice list.
func (s *invoiceService) Summary(ctx context.Context) (*InvoiceSummary, error) {
	summary := &InvoiceSummary{}
	var paid, overdue decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(i.total_amount) FILTER (WHERE i.status = 'paid'), 0),
			COALESCE(SUM(i.total_amount) FILTER (WHERE `+overduePredicate+`), 0)
		FROM invoices i
		WHERE NOT i.deleted
	`).Scan(&summary.TotalInvoices, &paid, &overdue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate invoice summary: %w", err)
	}
	summary.TotalPaid = paid.StringFixed(2)
	summary.TotalOverdue = overdue.StringFixed(2)
	return summary, nil
}

// ReconcileItems rebuilds inv.Items from submitted form values. Rows marked
// for removal are dropped; the remainder is renumbered, parsed, validated and
// totalled. The stored rows are only touched by a later Create or Update.
func (s *invoiceService) ReconcileItems(ctx context.Context, inv *models.Invoice, form url.Values) error {
	defaults := formset.NewDefaults(decimal.NewFromFloat(s.cfg.DefaultVatRate))
	rec, err := formset.FromForm(form, formset.DefaultPrefix, defaults)
	if err != nil {
		return err
	}

	if result := rec.Validate(); !result.Valid {
		b := apperr.NewError("invoice items failed validation")
		for _, msg := range result.Errors {
			b = b.WithHint(msg)
		}
		return b.WithReportableDetails(map[string]any{
			"first_invalid_field": result.FirstInvalidField,
		}).Mark(apperr.ErrValidation)
	}

	visible := rec.VisibleRows()
	items := make([]*models.InvoiceItem, 0, len(visible))
	for _, row := range visible {
		item := &models.InvoiceItem{
			Position:    row.Index,
			Description: strings.TrimSpace(row.Description),
			Quantity:    formset.ParseDecimal(row.Quantity),
			UnitPrice:   formset.ParseDecimal(row.UnitPrice),
			VatRate:     formset.ParseDecimal(row.VatRate),
		}
		item.ComputeLineTotals()
		items = append(items, item)
	}
	inv.Items = items
	inv.ApplyItemTotals(items)
	return nil
}

// ChangeStatus moves an invoice along the allowed status transitions. Passing
// an empty expectedVersion skips the caller-side staleness check; the stored
// version is still compared atomically on write.
func (s *invoiceService) ChangeStatus(ctx context.Context, id utils.SixID, next models.InvoiceStatus, expectedVersion string) (*models.Invoice, error) {
	if !next.Valid() {
		return nil, apperr.NewErrorf("invalid invoice status %q", next).Mark(apperr.ErrValidation)
	}

	inv, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != "" && inv.Version != expectedVersion {
		return nil, apperr.NewErrorf("invoice %s was modified concurrently", id.String()).
			WithHint("The invoice changed while you were editing it. Reload and try again.").
			Mark(apperr.ErrVersionConflict)
	}
	if !inv.Status.CanTransitionTo(next) {
		return nil, apperr.NewErrorf("cannot change invoice status from %s to %s", inv.Status, next).
			WithHintf("A %s invoice cannot become %s.", inv.Status, next).
			Mark(apperr.ErrInvalidOperation)
	}

	previousVersion := inv.Version
	inv.Status = next
	inv.NewVersion()
	inv.Touch()
	var paidAt sql.NullTime
	if next == models.StatusPaid {
		now := time.Now().UTC()
		inv.PaidAt = &now
		paidAt = sql.NullTime{Time: now, Valid: true}
	} else if inv.PaidAt != nil {
		paidAt = sql.NullTime{Time: *inv.PaidAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = $3, paid_at = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $2 AND NOT deleted
	`, inv.ID, previousVersion, inv.Status, paidAt, inv.Version, inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to change status of invoice %s: %w", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, s.updateConflict(ctx, id)
	}
	return inv, nil
}

// FindNewlyOverdue returns unpaid pending or sent invoices whose due date has
// passed. Items are not loaded.
func (s *invoiceService) FindNewlyOverdue(ctx context.Context, at time.Time) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE status IN ('pending', 'sent') AND due_date < $1
			AND paid_at IS NULL AND NOT deleted
		ORDER BY due_date
	`, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan overdue invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// RecordPDFKey stores the object key of the rendered PDF. This is metadata
// bookkeeping and does not bump the optimistic-locking version.
func (s *invoiceService) RecordPDFKey(ctx context.Context, id utils.SixID, key string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET pdf_key = $2, updated_at = now()
		WHERE id = $1 AND NOT deleted
	`, id, key)
	if err != nil {
		return fmt.Errorf("failed to record PDF key for invoice %s: %w", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("invoice %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// PurgeDeletedItems hard-deletes soft-deleted items older than the cutoff and
// returns how many were removed.
func (s *invoiceService) PurgeDeletedItems(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM invoice_items
		WHERE deleted AND deleted_at IS NOT NULL AND deleted_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted invoice items: %w", err)
	}
	purged, _ := result.RowsAffected()
	return purged, nil
}
