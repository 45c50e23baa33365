package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// IClientService defines the interface for client operations.
type IClientService interface {
	Create(ctx context.Context, client *models.Client) error
	FindByID(ctx context.Context, id utils.SixID) (*models.Client, error)
	Update(ctx context.Context, client *models.Client) error
	Delete(ctx context.Context, id utils.SixID) error
	List(ctx context.Context, opts ClientListOptions) ([]*models.Client, int, error)
	Stats(ctx context.Context, id utils.SixID) (*models.ClientStats, error)
	AddNote(ctx context.Context, note *models.ClientNote) error
	ListNotes(ctx context.Context, clientID utils.SixID) ([]*models.ClientNote, error)
	ExportCSV(ctx context.Context) ([]byte, error)
}

// ClientListOptions filters and paginates client listings.
type ClientListOptions struct {
	Search     string            // matches name, email, phone, tax number or VAT number, case-insensitive
	ClientType models.ClientType // zero value means no filter
	Page       int               // 1-based
	PageSize   int
}

// clientService implements IClientService.
type clientService struct {
	db             *sql.DB
	cfg            *config.Config
	invoiceService IInvoiceService // used for the recent-invoices part of Stats
}

// NewClientService creates a new ClientService.
func NewClientService(database *sql.DB, cfg *config.Config, invoiceService IInvoiceService) IClientService {
	return &clientService{
		db:             database,
		cfg:            cfg,
		invoiceService: invoiceService,
	}
}

const clientColumns = `id, name, email, phone, client_type, tax_number, vat_number,
	street, city, postal_code, country, bank_iban, bank_swift, deleted, created_at, updated_at`

func scanClient(scanner rowScanner) (*models.Client, error) {
	var c models.Client
	err := scanner.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.ClientType, &c.TaxNumber, &c.VatNumber,
		&c.Street, &c.City, &c.PostalCode, &c.Country, &c.BankIBAN, &c.BankSWIFT,
		&c.Deleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create stores a new client. The ID is generated here; on the (unlikely)
// ID collision the insert is retried with a fresh one.
func (s *clientService) Create(ctx context.Context, client *models.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	client.GenIDIfEmpty()
	now := time.Now().UTC()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	return db.Try(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO clients (id, name, email, phone, client_type, tax_number, vat_number,
				street, city, postal_code, country, bank_iban, bank_swift, deleted, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, client.ID, client.Name, client.Email, client.Phone, client.ClientType,
			client.TaxNumber, client.VatNumber, client.Street, client.City, client.PostalCode,
			client.Country, client.BankIBAN, client.BankSWIFT, client.Deleted,
			client.CreatedAt, client.UpdatedAt)
		if err != nil && db.IsPqDuplicateKeyError(err) {
			client.GenID()
		}
		return err
	})
}

// FindByID returns a client that has not been soft-deleted.
func (s *clientService) FindByID(ctx context.Context, id utils.SixID) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE id = $1 AND NOT deleted
	`, id)

	client, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewErrorf("client %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query client %s: %w", id.String(), err)
	}
	return client, nil
}

// Update replaces all editable fields of a client.
func (s *clientService) Update(ctx context.Context, client *models.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	client.Touch()

	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name = $2, email = $3, phone = $4, client_type = $5, tax_number = $6,
			vat_number = $7, street = $8, city = $9, postal_code = $10, country = $11,
			bank_iban = $12, bank_swift = $13, updated_at = $14
		WHERE id = $1 AND NOT deleted
	`, client.ID, client.Name, client.Email, client.Phone, client.ClientType,
		client.TaxNumber, client.VatNumber, client.Street, client.City, client.PostalCode,
		client.Country, client.BankIBAN, client.BankSWIFT, client.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update client %s: %w", client.ID.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("client %s not found", client.ID.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// Delete soft-deletes a client. Its invoices stay untouched.
func (s *clientService) Delete(ctx context.Context, id utils.SixID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients SET deleted = TRUE, updated_at = now()
		WHERE id = $1 AND NOT deleted
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("client %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// List returns one page of clients plus the total match count.
func (s *clientService) List(ctx context.Context, opts ClientListOptions) ([]*models.Client, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = s.cfg.PageSize
	}

	where := "NOT deleted"
	args := []any{}
	if search := strings.TrimSpace(opts.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		where += fmt.Sprintf(
			" AND (name ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d OR tax_number ILIKE $%d OR vat_number ILIKE $%d)",
			n, n, n, n, n)
	}
	if opts.ClientType != "" {
		args = append(args, opts.ClientType)
		where += fmt.Sprintf(" AND client_type = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count clients: %w", err)
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM clients
		WHERE %s
		ORDER BY name, id
		LIMIT $%d OFFSET $%d
	`, clientColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, total, rows.Err()
}

// Stats aggregates a client's invoicing history.
func (s *clientService) Stats(ctx context.Context, id utils.SixID) (*models.ClientStats, error) {
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}

	stats := &models.ClientStats{}
	var paidTotal decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'paid'), 0),
			COUNT(*) FILTER (WHERE status IN ('pending', 'sent')),
			COUNT(*) FILTER (WHERE status = 'overdue')
		FROM invoices
		WHERE client_id = $1 AND NOT deleted
	`, id).Scan(&stats.InvoiceCount, &paidTotal, &stats.PendingCount, &stats.OverdueCount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats for client %s: %w", id.String(), err)
	}
	stats.PaidTotal = paidTotal.StringFixed(2)

	recent, _, err := s.invoiceService.List(ctx, InvoiceListOptions{
		ClientID: id,
		Page:     1,
		PageSize: s.cfg.RecentItemsLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent invoices for client %s: %w", id.String(), err)
	}
	stats.Recent = recent
	return stats, nil
}

// AddNote attaches a note to a client.
func (s *clientService) AddNote(ctx context.Context, note *models.ClientNote) error {
	if err := note.Validate(); err != nil {
		return err
	}
	if _, err := s.FindByID(ctx, note.ClientID); err != nil {
		return err
	}
	note.GenIDIfEmpty()
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now

	return db.Try(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO client_notes (id, client_id, body, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, note.ID, note.ClientID, note.Body, note.CreatedAt, note.UpdatedAt)
		if err != nil && db.IsPqDuplicateKeyError(err) {
			note.GenID()
		}
		return err
	})
}

// ListNotes returns a client's notes, newest first.
func (s *clientService) ListNotes(ctx context.Context, clientID utils.SixID) ([]*models.ClientNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, body, created_at, updated_at
		FROM client_notes
		WHERE client_id = $1
		ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes for client %s: %w", clientID.String(), err)
	}
	defer rows.Close()

	var notes []*models.ClientNote
	for rows.Next() {
		var n models.ClientNote
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Body, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client note: %w", err)
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// ExportCSV renders all non-deleted clients as a CSV document, header row included.
func (s *clientService) ExportCSV(ctx context.Context) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, email, phone, client_type, tax_number, vat_number, street, city, country, created_at
		FROM clients
		WHERE NOT deleted
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients for export: %w", err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Name", "Email", "Phone", "Type", "Tax Number", "VAT Number", "Address", "City", "Country", "Created At"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for rows.Next() {
		var name, email, phone, clientType, taxNumber, vatNumber, street, city, country string
		var createdAt time.Time
		if err := rows.Scan(&name, &email, &phone, &clientType, &taxNumber, &vatNumber, &street, &city, &country, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan client for export: %w", err)
		}
		record := []string{name, email, phone, clientType, taxNumber, vatNumber, street, city, country, createdAt.UTC().Format(time.RFC3339)}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients for export: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}
