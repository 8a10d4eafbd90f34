package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/pkg/postgres"
)

const invoiceColumns = `
	id, invoice_number, booking_id,
	base_fare, gratuity_amount, airport_fee_amount, surge_pricing_multiplier,
	surge_pricing_amount, subtotal, discount_percentage, discount_amount,
	tax_amount, total_amount, paid_at, created_at, updated_at`

type invoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.BookingID,
		&inv.BaseFare,
		&inv.GratuityAmount,
		&inv.AirportFeeAmount,
		&inv.SurgePricingMultiplier,
		&inv.SurgePricingAmount,
		&inv.Subtotal,
		&inv.DiscountPercentage,
		&inv.DiscountAmount,
		&inv.TaxAmount,
		&inv.TotalAmount,
		&inv.PaidAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create inserts the invoice and maps unique violations to domain errors
func (r *invoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, invoice_number, booking_id,
			base_fare, gratuity_amount, airport_fee_amount, surge_pricing_multiplier,
			surge_pricing_amount, subtotal, discount_percentage, discount_amount,
			tax_amount, total_amount, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		invoice.ID,
		invoice.InvoiceNumber,
		invoice.BookingID,
		invoice.BaseFare,
		invoice.GratuityAmount,
		invoice.AirportFeeAmount,
		invoice.SurgePricingMultiplier,
		invoice.SurgePricingAmount,
		invoice.Subtotal,
		invoice.DiscountPercentage,
		invoice.DiscountAmount,
		invoice.TaxAmount,
		invoice.TotalAmount,
		invoice.PaidAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case postgres.InvoiceBookingConstraint:
				return entity.ErrInvoiceAlreadyExists
			default:
				return fmt.Errorf("%w: %s", entity.ErrDuplicateInvoiceNumber, invoice.InvoiceNumber)
			}
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	return nil
}

func (r *invoiceRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	invoice, err := scanInvoice(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

func (r *invoiceRepository) GetByBookingID(ctx context.Context, bookingID string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE booking_id = $1`

	invoice, err := scanInvoice(r.db.QueryRowContext(ctx, query, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice by booking: %w", err)
	}
	return invoice, nil
}

// Update rewrites the derived amounts; the number and booking never change
func (r *invoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			base_fare = $1, gratuity_amount = $2, airport_fee_amount = $3,
			surge_pricing_multiplier = $4, surge_pricing_amount = $5, subtotal = $6,
			discount_percentage = $7, discount_amount = $8, tax_amount = $9,
			total_amount = $10, paid_at = $11, updated_at = $12
		WHERE id = $13
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		invoice.BaseFare,
		invoice.GratuityAmount,
		invoice.AirportFeeAmount,
		invoice.SurgePricingMultiplier,
		invoice.SurgePricingAmount,
		invoice.Subtotal,
		invoice.DiscountPercentage,
		invoice.DiscountAmount,
		invoice.TaxAmount,
		invoice.TotalAmount,
		invoice.PaidAt,
		now,
		invoice.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entity.ErrInvoiceNotFound
	}

	invoice.UpdatedAt = now
	return nil
}

func (r *invoiceRepository) LatestNumber(ctx context.Context, prefix string) (string, bool, error) {
	query := `
		SELECT invoice_number FROM invoices
		WHERE invoice_number LIKE $1
		ORDER BY invoice_number DESC
		LIMIT 1
	`

	var number string
	err := r.db.QueryRowContext(ctx, query, prefix+"%").Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read latest invoice number: %w", err)
	}
	return number, true, nil
}

func (r *invoiceRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM invoices WHERE invoice_number = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check invoice number: %w", err)
	}
	return exists, nil
}
