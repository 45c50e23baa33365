package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/db"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// ICompanyService manages the issuer profile printed on invoices. There is at
// most one profile per installation.
type ICompanyService interface {
	GetProfile(ctx context.Context) (*models.CompanyProfile, error)
	SaveProfile(ctx context.Context, profile *models.CompanyProfile) error
	SetLogoKeys(ctx context.Context, id utils.SixID, logoKey, thumbKey string) error
}

// companyService implements ICompanyService.
type companyService struct {
	db *sql.DB
}

// NewCompanyService creates a new CompanyService.
func NewCompanyService(database *sql.DB) ICompanyService {
	return &companyService{db: database}
}

const companyColumns = `id, company_name, address_line1, address_line2, city, state,
	postal_code, country, email, phone, tax_id, bank_iban, bank_swift,
	logo_key, logo_thumb_key, created_at, updated_at`

func scanCompanyProfile(scanner rowScanner) (*models.CompanyProfile, error) {
	var p models.CompanyProfile
	err := scanner.Scan(
		&p.ID, &p.CompanyName, &p.AddressLine1, &p.AddressLine2, &p.City, &p.State,
		&p.PostalCode, &p.Country, &p.Email, &p.Phone, &p.TaxID, &p.BankIBAN, &p.BankSWIFT,
		&p.LogoKey, &p.LogoThumbKey, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile returns the stored profile, or an empty unsaved one (zero ID)
// when none has been configured yet.
func (s *companyService) GetProfile(ctx context.Context) (*models.CompanyProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+companyColumns+`
		FROM company_profiles
		ORDER BY created_at
		LIMIT 1
	`)

	profile, err := scanCompanyProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.CompanyProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query company profile: %w", err)
	}
	return profile, nil
}

// SaveProfile inserts the profile on first save and updates it afterwards.
func (s *companyService) SaveProfile(ctx context.Context, profile *models.CompanyProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	profile.UpdatedAt = now

	if profile.ID.IsZero() {
		profile.GenID()
		profile.CreatedAt = now
		return db.Try(func() error {
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO company_profiles (id, company_name, address_line1, address_line2,
					city, state, postal_code, country, email, phone, tax_id, bank_iban,
					bank_swift, logo_key, logo_thumb_key, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			`, profile.ID, profile.CompanyName, profile.AddressLine1, profile.AddressLine2,
				profile.City, profile.State, profile.PostalCode, profile.Country, profile.Email,
				profile.Phone, profile.TaxID, profile.BankIBAN, profile.BankSWIFT,
				profile.LogoKey, profile.LogoThumbKey, profile.CreatedAt, profile.UpdatedAt)
			if err != nil && db.IsPqDuplicateKeyError(err) {
				profile.GenID()
			}
			return err
		})
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE company_profiles
		SET company_name = $2, address_line1 = $3, address_line2 = $4, city = $5,
			state = $6, postal_code = $7, country = $8, email = $9, phone = $10,
			tax_id = $11, bank_iban = $12, bank_swift = $13, updated_at = $14
		WHERE id = $1
	`, profile.ID, profile.CompanyName, profile.AddressLine1, profile.AddressLine2,
		profile.City, profile.State, profile.PostalCode, profile.Country, profile.Email,
		profile.Phone, profile.TaxID, profile.BankIBAN, profile.BankSWIFT, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update company profile: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("company profile %s not found", profile.ID.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}

// SetLogoKeys records the storage keys of the uploaded logo and its thumbnail.
func (s *companyService) SetLogoKeys(ctx context.Context, id utils.SixID, logoKey, thumbKey string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE company_profiles
		SET logo_key = $2, logo_thumb_key = $3, updated_at = now()
		WHERE id = $1
	`, id, logoKey, thumbKey)
	if err != nil {
		return fmt.Errorf("failed to set logo keys: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewErrorf("company profile %s not found", id.String()).Mark(apperr.ErrNotFound)
	}
	return nil
}
