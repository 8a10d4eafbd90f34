package service

import (
	"context"

	"github.com/ds124wfegd/transferbook/internal/entity"
)

// SettingKeyCommission holds the platform cut in percent.
const SettingKeyCommission = "SYSTEM_COMMISSION_PERCENTAGE"

// InvoiceService keeps each booking paired with exactly one invoice
type InvoiceService interface {
	GenerateInvoiceNumber(ctx context.Context) (string, error)
	CreateInvoiceForBooking(ctx context.Context, booking *entity.Booking) (*entity.Invoice, error)
	SyncInvoiceWithBooking(ctx context.Context, booking *entity.Booking) (*entity.Invoice, error)

	GetInvoice(ctx context.Context, id string) (*entity.Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID string) (*entity.Invoice, error)
	RenderInvoicePDF(ctx context.Context, id string) ([]byte, *entity.Invoice, error)
}

// BookingService covers the booking lifecycle operations
type BookingService interface {
	CreateBooking(ctx context.Context, req *CreateBookingRequest) (*entity.Booking, error)
	GetBooking(ctx context.Context, id string) (*entity.Booking, error)
	UpdateBooking(ctx context.Context, id string, req *UpdateBookingRequest) (*entity.Booking, error)

	// AddAdditionalCharge does not sync the invoice. Callers must follow it with
	// SyncInvoiceWithBooking, or use ChargeBooking which does both.
	AddAdditionalCharge(ctx context.Context, id string, req *ChargeRequest) (*entity.Booking, error)
	ChargeBooking(ctx context.Context, id string, req *ChargeRequest) (*entity.Booking, error)

	AssignDriverToBooking(ctx context.Context, id, driverID string, payment *entity.Money) (*entity.Booking, error)
}

// SettingsProvider reads and writes system-wide settings
type SettingsProvider interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Notifier delivers messages to passengers and drivers
type Notifier interface {
	SendSMS(ctx context.Context, phoneNumber, text string) error
	SendEmail(ctx context.Context, msg entity.EmailMessage) error
}

// CancellationReporter informs admins about cancelled bookings
type CancellationReporter interface {
	ReportCancellation(ctx context.Context, report entity.CancellationReport) error
}

// EventPublisher emits lifecycle events; nil disables publishing
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}
