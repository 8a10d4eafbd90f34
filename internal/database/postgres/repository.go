package repository

import (
	"context"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *entity.Booking) error
	GetByID(ctx context.Context, id string) (*entity.Booking, error)
	Update(ctx context.Context, booking *entity.Booking) error
	Delete(ctx context.Context, id string) error

	// ListByStatuses returns bookings in any of the given statuses.
	ListByStatuses(ctx context.Context, statuses []entity.BookingStatus) ([]*entity.Booking, error)

	// Conditional job transitions. They report false when another writer got there first.
	MarkAutoCancelled(ctx context.Context, id string, at time.Time, reason string, from []entity.BookingStatus) (bool, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error)
}

type InvoiceRepository interface {
	// Create fails with entity.ErrDuplicateInvoiceNumber or entity.ErrInvoiceAlreadyExists
	// on the respective unique constraint.
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	GetByBookingID(ctx context.Context, bookingID string) (*entity.Invoice, error)
	Update(ctx context.Context, invoice *entity.Invoice) error

	// LatestNumber returns the greatest invoice number starting with prefix.
	LatestNumber(ctx context.Context, prefix string) (string, bool, error)
	NumberExists(ctx context.Context, number string) (bool, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

type VehicleTypeRepository interface {
	GetName(ctx context.Context, id string) (string, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
