package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/lib/pq"
)

const bookingColumns = `
	id, booking_type, status, passenger_id, driver_id, COALESCE(vehicle_type_id, ''),
	pickup_address, destination_address,
	base_fare, gratuity_amount, airport_fee_amount, surge_pricing_multiplier,
	surge_pricing_amount, regular_price, discount_percentage, discount_amount,
	total_amount, driver_payment, surcharges,
	payment_status, payment_intent_id,
	scheduled_date_time, booked_at, assigned_at, accepted_at, started_at, pob_at,
	ended_at, cancelled_at, auto_cancelled_at, reminder_sent_at, marked_completed_at,
	cancel_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) BookingRepository {
	return &bookingRepository{db: db}
}

func scanBooking(row rowScanner) (*entity.Booking, error) {
	var b entity.Booking
	err := row.Scan(
		&b.ID,
		&b.BookingType,
		&b.Status,
		&b.PassengerID,
		&b.DriverID,
		&b.VehicleTypeID,
		&b.PickupAddress,
		&b.DestinationAddress,
		&b.BaseFare,
		&b.GratuityAmount,
		&b.AirportFeeAmount,
		&b.SurgePricingMultiplier,
		&b.SurgePricingAmount,
		&b.RegularPrice,
		&b.DiscountPercentage,
		&b.DiscountAmount,
		&b.TotalAmount,
		&b.DriverPayment,
		&b.Surcharges,
		&b.PaymentStatus,
		&b.PaymentIntentID,
		&b.ScheduledDateTime,
		&b.BookedAt,
		&b.AssignedAt,
		&b.AcceptedAt,
		&b.StartedAt,
		&b.PobAt,
		&b.EndedAt,
		&b.CancelledAt,
		&b.AutoCancelledAt,
		&b.ReminderSentAt,
		&b.MarkedCompletedAt,
		&b.CancelReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a new booking row
func (r *bookingRepository) Create(ctx context.Context, booking *entity.Booking) error {
	query := `
		INSERT INTO bookings (
			id, booking_type, status, passenger_id, driver_id, vehicle_type_id,
			pickup_address, destination_address,
			base_fare, gratuity_amount, airport_fee_amount, surge_pricing_multiplier,
			surge_pricing_amount, regular_price, discount_percentage, discount_amount,
			total_amount, driver_payment, surcharges,
			payment_status, payment_intent_id, scheduled_date_time, booked_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
	`

	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = booking.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		booking.ID,
		booking.BookingType,
		booking.Status,
		booking.PassengerID,
		booking.DriverID,
		booking.VehicleTypeID,
		booking.PickupAddress,
		booking.DestinationAddress,
		booking.BaseFare,
		booking.GratuityAmount,
		booking.AirportFeeAmount,
		booking.SurgePricingMultiplier,
		booking.SurgePricingAmount,
		booking.RegularPrice,
		booking.DiscountPercentage,
		booking.DiscountAmount,
		booking.TotalAmount,
		booking.DriverPayment,
		booking.Surcharges,
		booking.PaymentStatus,
		booking.PaymentIntentID,
		booking.ScheduledDateTime,
		booking.BookedAt,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by its ID
func (r *bookingRepository) GetByID(ctx context.Context, id string) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return booking, nil
}

// Update writes every mutable column of the booking. The stamps owned by the scheduled
// jobs are never cleared, and an auto-cancelled booking keeps its cancellation, so a
// write based on an older read cannot undo a job transition. The booking is refreshed
// with the stored values of those columns.
func (r *bookingRepository) Update(ctx context.Context, booking *entity.Booking) error {
	query := `
		UPDATE bookings SET
			booking_type = $1,
			status = CASE WHEN auto_cancelled_at IS NULL THEN $2 ELSE status END,
			driver_id = $3, vehicle_type_id = NULLIF($4, ''),
			pickup_address = $5, destination_address = $6,
			base_fare = $7, gratuity_amount = $8, airport_fee_amount = $9,
			surge_pricing_multiplier = $10, surge_pricing_amount = $11, regular_price = $12,
			discount_percentage = $13, discount_amount = $14, total_amount = $15,
			driver_payment = $16, surcharges = $17,
			payment_status = $18, payment_intent_id = $19, scheduled_date_time = $20,
			assigned_at = $21, accepted_at = $22, started_at = $23, pob_at = $24,
			ended_at = $25,
			cancelled_at = CASE WHEN auto_cancelled_at IS NULL THEN $26 ELSE cancelled_at END,
			auto_cancelled_at = COALESCE(auto_cancelled_at, $27),
			reminder_sent_at = COALESCE(reminder_sent_at, $28),
			marked_completed_at = $29,
			cancel_reason = CASE WHEN auto_cancelled_at IS NULL THEN $30 ELSE cancel_reason END,
			updated_at = $31
		WHERE id = $32
		RETURNING status, cancelled_at, auto_cancelled_at, reminder_sent_at, cancel_reason
	`

	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query,
		booking.BookingType,
		booking.Status,
		booking.DriverID,
		booking.VehicleTypeID,
		booking.PickupAddress,
		booking.DestinationAddress,
		booking.BaseFare,
		booking.GratuityAmount,
		booking.AirportFeeAmount,
		booking.SurgePricingMultiplier,
		booking.SurgePricingAmount,
		booking.RegularPrice,
		booking.DiscountPercentage,
		booking.DiscountAmount,
		booking.TotalAmount,
		booking.DriverPayment,
		booking.Surcharges,
		booking.PaymentStatus,
		booking.PaymentIntentID,
		booking.ScheduledDateTime,
		booking.AssignedAt,
		booking.AcceptedAt,
		booking.StartedAt,
		booking.PobAt,
		booking.EndedAt,
		booking.CancelledAt,
		booking.AutoCancelledAt,
		booking.ReminderSentAt,
		booking.MarkedCompletedAt,
		booking.CancelReason,
		now,
		booking.ID,
	).Scan(
		&booking.Status,
		&booking.CancelledAt,
		&booking.AutoCancelledAt,
		&booking.ReminderSentAt,
		&booking.CancelReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	booking.UpdatedAt = now
	return nil
}

func (r *bookingRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM bookings WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entity.ErrBookingNotFound
	}

	return nil
}

// ListByStatuses retrieves driver-assigned bookings in any of the given statuses
func (r *bookingRepository) ListByStatuses(ctx context.Context, statuses []entity.BookingStatus) ([]*entity.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = ANY($1) AND driver_id IS NOT NULL
		ORDER BY scheduled_date_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings by status: %w", err)
	}
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}

	return bookings, nil
}

// MarkAutoCancelled cancels the booking unless it was already auto-cancelled or has left the given statuses
func (r *bookingRepository) MarkAutoCancelled(ctx context.Context, id string, at time.Time, reason string, from []entity.BookingStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2, auto_cancelled_at = $3, cancelled_at = COALESCE(cancelled_at, $3),
		    cancel_reason = $4, updated_at = $3
		WHERE id = $1 AND auto_cancelled_at IS NULL AND status = ANY($5)
	`

	result, err := r.db.ExecContext(ctx, query,
		id, entity.BookingStatusCancelled, at, reason, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to auto-cancel booking: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// MarkReminderSent stamps reminder_sent_at once
func (r *bookingRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET reminder_sent_at = $2, updated_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to stamp reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func statusStrings(statuses []entity.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
