package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/treasuretrails/payments-backend/internal/models"
)

// VendorRepository handles vendor profile operations
type VendorRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewVendorRepository creates a new vendor repository
func NewVendorRepository(db *sqlx.DB, logger *logrus.Logger) *VendorRepository {
	return &VendorRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a vendor profile
func (r *VendorRepository) Create(ctx context.Context, vendor *models.VendorProfile) error {
	if vendor.ID == uuid.Nil {
		vendor.ID = uuid.New()
	}
	now := time.Now()
	vendor.CreatedAt = now
	vendor.UpdatedAt = now

	query := `
		INSERT INTO vendor_profiles (
			id, vendor_id, name, email, phone,
			bank_account_number, ifsc, account_holder_name,
			commission_rate, active, verified,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		vendor.ID, vendor.VendorID, vendor.Name, vendor.Email, vendor.Phone,
		vendor.BankAccountNumber, vendor.IFSC, vendor.AccountHolderName,
		vendor.CommissionRate, vendor.Active, vendor.Verified,
		vendor.CreatedAt, vendor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create vendor: %w", err)
	}
	return nil
}

// GetByVendorID retrieves a vendor by external vendor id
func (r *VendorRepository) GetByVendorID(ctx context.Context, vendorID string) (*models.VendorProfile, error) {
	var vendor models.VendorProfile
	query := `SELECT * FROM vendor_profiles WHERE vendor_id = $1`
	err := r.db.GetContext(ctx, &vendor, query, vendorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return &vendor, nil
}

// UpdateBankDetails replaces the payout destination for a vendor
func (r *VendorRepository) UpdateBankDetails(ctx context.Context, vendorID, accountNumber, ifsc, holderName string) error {
	query := `
		UPDATE vendor_profiles SET
			bank_account_number = $1, ifsc = $2, account_holder_name = $3,
			verified = FALSE, updated_at = NOW()
		WHERE vendor_id = $4`

	result, err := r.db.ExecContext(ctx, query, accountNumber, ifsc, holderName, vendorID)
	if err != nil {
		return fmt.Errorf("failed to update vendor bank details: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("vendor not found: %s", vendorID)
	}
	return nil
}

// UpdateCommissionRate changes the platform commission for a vendor
func (r *VendorRepository) UpdateCommissionRate(ctx context.Context, vendorID string, rate decimal.Decimal) error {
	query := `UPDATE vendor_profiles SET commission_rate = $1, updated_at = NOW() WHERE vendor_id = $2`
	result, err := r.db.ExecContext(ctx, query, rate, vendorID)
	if err != nil {
		return fmt.Errorf("failed to update commission rate: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("vendor not found: %s", vendorID)
	}
	return nil
}

// SetActive toggles whether the vendor can receive payouts
func (r *VendorRepository) SetActive(ctx context.Context, vendorID string, active bool) error {
	query := `UPDATE vendor_profiles SET active = $1, updated_at = NOW() WHERE vendor_id = $2`
	result, err := r.db.ExecContext(ctx, query, active, vendorID)
	if err != nil {
		return fmt.Errorf("failed to set vendor active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("vendor not found: %s", vendorID)
	}
	return nil
}
