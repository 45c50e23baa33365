package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// IProductService defines the interface for product catalog operations.
type IProductService interface {
	Create(ctx context.Context, product *models.Product) error
	FindByID(ctx context.Context, id utils.SixID) (*models.Product, error)
	Update(ctx context.Context, product *models.Product) error
	Deactivate(ctx context.Context, id utils.SixID) error
	List(ctx context.Context, opts ProductListOptions) ([]*models.Product, int, error)
}

// ProductListOptions filters and paginates the product catalog.
type ProductListOptions struct {
	Search     string
	ActiveOnly bool
	Page       int
	PageSize   int
}

// productService implements IProductService.
type productService struct {
	db  *sql.DB
	cfg *config.Config
}

// NewProductService creates a new ProductService.
func NewProductService(database *sql.DB, cfg *config.Config) IProductService {
	return &productService{
		db:  database,
		cfg: cfg,
	}
}

const productColumns = `id, name, description, unit, unit_price, vat_rate, active, created_at, updated_at`

func scanProduct(scanner rowScanner) (*models.Product, error) {
	var p models.Product
	err := scanner.Scan(
		&p.ID, &p.Name, &p.Description, &p.Unit, &p.UnitPrice, &p.VatRate,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create stores a new catalog product.
func (s *productService) Create(ctx context.Context, product *models.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	product.GenIDIfEmpty()
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	return db.Try(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO products (id, name, description, unit, unit_price, vat_rate, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, product.ID, product.Name, product.Description, product.Unit, product.UnitPrice,
			product.VatRate, product.Active, product.CreatedAt, product.UpdatedAt)
		if err != nil && db.IsPqDuplicateKeyError(err) {
			product.GenID()
		}
		return err
	})
}

// FindByID returns a product, active or not.
func (s *productService) FindByID(ctx context.Context, id utils.SixID) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)

	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewErrorf("product %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product %s: %w", id.String(), err)
	}
	return product, nil
}

// Update replaces all editable fields of a product.
func (s *productService) Update(ctx context.Context, product *models.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	product.Touch()

	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, unit = $4, unit_price = $5, vat_rate = $6,
			active = $7, updated_at = $8
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.Unit, product.UnitPrice,
		product.VatRate, product.Active, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", product.ID.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("product %s not found", product.ID.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// Deactivate hides a product from the catalog without touching invoices that
// already reference its values.
func (s *productService) Deactivate(ctx context.Context, id utils.SixID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products SET active = FALSE, updated_at = now()
		WHERE id = $1 AND active
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate product %s: %w", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("product %s not found or already inactive", id.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// List returns one page of products plus the total match count.
func (s *productService) List(ctx context.Context, opts ProductListOptions) ([]*models.Product, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = s.cfg.PageSize
	}

	where := "TRUE"
	args := []any{}
	if opts.ActiveOnly {
		where = "active"
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM products
		WHERE %s
		ORDER BY name, id
		LIMIT $%d OFFSET $%d
	`, productColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}
	return products, total, rows.Err()
}
