package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ds124wfegd/transferbook/config"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
)

// Constraint names the repositories match on when mapping unique violations.
const (
	InvoiceNumberConstraint  = "invoices_invoice_number_key"
	InvoiceBookingConstraint = "invoices_booking_id_key"
)

func DSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
}

func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"dbname": cfg.DBName,
	}).Info("Successfully connected to PostgreSQL")
	return db, nil
}

// Migrations is the ordered schema. Invoice numbers and the booking pairing are
// protected by unique constraints; the services rely on both.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS vehicle_types (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		role VARCHAR(20) NOT NULL DEFAULT 'passenger',
		first_name VARCHAR(255) NOT NULL DEFAULT '',
		last_name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(255),
		phone_number VARCHAR(50),
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id VARCHAR(64) PRIMARY KEY,
		booking_type VARCHAR(20) NOT NULL DEFAULT 'transfer',
		status VARCHAR(40) NOT NULL DEFAULT 'pending',
		passenger_id VARCHAR(64) NOT NULL REFERENCES users(id),
		driver_id VARCHAR(64) REFERENCES users(id),
		vehicle_type_id VARCHAR(64) REFERENCES vehicle_types(id),
		pickup_address TEXT NOT NULL DEFAULT '',
		destination_address TEXT NOT NULL DEFAULT '',
		base_fare NUMERIC(12,2) NOT NULL DEFAULT 0,
		gratuity_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		airport_fee_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		surge_pricing_multiplier NUMERIC(6,2) NOT NULL DEFAULT 1,
		surge_pricing_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		regular_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		discount_percentage NUMERIC(5,2) NOT NULL DEFAULT 0,
		discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		driver_payment NUMERIC(12,2),
		surcharges JSONB NOT NULL DEFAULT '[]'::jsonb,
		payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_intent_id VARCHAR(255) NOT NULL DEFAULT '',
		scheduled_date_time TIMESTAMPTZ NOT NULL,
		booked_at TIMESTAMPTZ,
		assigned_at TIMESTAMPTZ,
		accepted_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		pob_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		auto_cancelled_at TIMESTAMPTZ,
		reminder_sent_at TIMESTAMPTZ,
		marked_completed_at TIMESTAMPTZ,
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id VARCHAR(64) PRIMARY KEY,
		invoice_number VARCHAR(32) NOT NULL,
		booking_id VARCHAR(64) NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		base_fare NUMERIC(12,2) NOT NULL DEFAULT 0,
		gratuity_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		airport_fee_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		surge_pricing_multiplier NUMERIC(6,2) NOT NULL DEFAULT 1,
		surge_pricing_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
		discount_percentage NUMERIC(5,2) NOT NULL DEFAULT 0,
		discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT ` + InvoiceNumberConstraint + ` UNIQUE (invoice_number),
		CONSTRAINT ` + InvoiceBookingConstraint + ` UNIQUE (booking_id)
	)`,

	`CREATE TABLE IF NOT EXISTS system_settings (
		key VARCHAR(128) PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_driver_id ON bookings(driver_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_scheduled ON bookings(scheduled_date_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_scheduled ON bookings(status, scheduled_date_time)`,
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, migration := range Migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i, err)
		}
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}
