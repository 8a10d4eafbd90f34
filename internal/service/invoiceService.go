package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	repository "github.com/ds124wfegd/transferbook/internal/database/postgres"
	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/pkg/invoicepdf"
	"github.com/ds124wfegd/transferbook/pkg/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InvoiceOptions tunes numbering and creation retries.
type InvoiceOptions struct {
	CreateAttempts  int
	CreateBaseDelay time.Duration
	NumberAttempts  int
	NumberDelay     time.Duration
	CompanyName     string
	Currency        string
}

func DefaultInvoiceOptions() InvoiceOptions {
	return InvoiceOptions{
		CreateAttempts:  10,
		CreateBaseDelay: 50 * time.Millisecond,
		NumberAttempts:  3,
		NumberDelay:     50 * time.Millisecond,
		CompanyName:     "TransferBook",
		Currency:        "EUR",
	}
}

type invoiceService struct {
	invoiceRepo repository.InvoiceRepository
	bookingRepo repository.BookingRepository
	userRepo    repository.UserRepository
	numbers     *invoiceNumberGenerator
	backoff     *retry.Backoff
	opts        InvoiceOptions
	now         func() time.Time
}

func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	bookingRepo repository.BookingRepository,
	userRepo repository.UserRepository,
	opts InvoiceOptions,
) InvoiceService {
	return newInvoiceService(invoiceRepo, bookingRepo, userRepo, opts, time.Now)
}

func newInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	bookingRepo repository.BookingRepository,
	userRepo repository.UserRepository,
	opts InvoiceOptions,
	now func() time.Time,
) *invoiceService {
	return &invoiceService{
		invoiceRepo: invoiceRepo,
		bookingRepo: bookingRepo,
		userRepo:    userRepo,
		numbers:     newInvoiceNumberGenerator(invoiceRepo, opts.NumberAttempts, opts.NumberDelay, now),
		backoff:     retry.NewBackoff(opts.CreateAttempts, opts.CreateBaseDelay),
		opts:        opts,
		now:         now,
	}
}

func (s *invoiceService) GenerateInvoiceNumber(ctx context.Context) (string, error) {
	return s.numbers.Generate(ctx)
}

// CreateInvoiceForBooking returns the booking's invoice, creating it on first call.
// Losing the number race retries with a fresh number; any other failure is returned as is.
func (s *invoiceService) CreateInvoiceForBooking(ctx context.Context, booking *entity.Booking) (*entity.Invoice, error) {
	existing, err := s.invoiceRepo.GetByBookingID(ctx, booking.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, entity.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	log := logrus.WithField("booking_id", booking.ID)
	var lastErr error

	for attempt := 0; attempt < s.backoff.MaxAttempts(); attempt++ {
		number, err := s.numbers.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to generate invoice number: %w", err)
		}

		invoice := s.newInvoice(booking, number)
		err = s.invoiceRepo.Create(ctx, invoice)
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{
				"invoice_number": number,
				"attempt":        attempt + 1,
			}).Info("Invoice created")
			return invoice, nil

		case errors.Is(err, entity.ErrInvoiceAlreadyExists):
			// a concurrent call for the same booking won
			return s.invoiceRepo.GetByBookingID(ctx, booking.ID)

		case errors.Is(err, entity.ErrDuplicateInvoiceNumber):
			lastErr = err
			delay := s.backoff.Delay(attempt)
			log.WithFields(logrus.Fields{
				"invoice_number": number,
				"attempt":        attempt + 1,
				"retry_in":       delay,
			}).Warn("Invoice number collision")

			if attempt+1 < s.backoff.MaxAttempts() {
				if err := retry.Sleep(ctx, delay); err != nil {
					return nil, err
				}
			}

		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("invoice for booking %s not created after %d attempts: %w",
		booking.ID, s.backoff.MaxAttempts(), lastErr)
}

// syncRounds bounds how often a sync re-reads a booking that keeps changing under it.
const syncRounds = 3

// SyncInvoiceWithBooking rewrites the invoice from the booking as currently stored.
// The argument only identifies the booking. After writing, the row is read again and
// the sync repeats if it changed, so the sync that finishes last leaves a matching invoice.
func (s *invoiceService) SyncInvoiceWithBooking(ctx context.Context, booking *entity.Booking) (*entity.Invoice, error) {
	log := logrus.WithField("booking_id", booking.ID)

	current, err := s.bookingRepo.GetByID(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking for invoice sync: %w", err)
	}

	for round := 1; ; round++ {
		invoice, err := s.writeInvoice(ctx, current)
		if err != nil {
			return nil, err
		}

		latest, err := s.bookingRepo.GetByID(ctx, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload booking after invoice sync: %w", err)
		}
		if invoiceReflects(invoice, latest) {
			log.WithFields(logrus.Fields{
				"invoice_number": invoice.InvoiceNumber,
				"total":          invoice.TotalAmount.String(),
			}).Debug("Invoice synced")
			return invoice, nil
		}
		if round == syncRounds {
			log.WithField("rounds", round).Warn("Booking kept changing during invoice sync, next mutation will converge it")
			return invoice, nil
		}

		log.WithField("round", round).Debug("Booking changed during invoice sync, syncing again")
		current = latest
	}
}

// writeInvoice creates or updates the invoice from b.
func (s *invoiceService) writeInvoice(ctx context.Context, b *entity.Booking) (*entity.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByBookingID(ctx, b.ID)
	if errors.Is(err, entity.ErrInvoiceNotFound) {
		return s.CreateInvoiceForBooking(ctx, b)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	invoice.ApplyBooking(b)
	paid := b.PaymentStatus == entity.PaymentStatusPaid
	switch {
	case paid && invoice.PaidAt == nil:
		now := s.now().UTC()
		invoice.PaidAt = &now
	case !paid && invoice.PaidAt != nil:
		invoice.PaidAt = nil
	}

	if err := s.invoiceRepo.Update(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to sync invoice %s: %w", invoice.InvoiceNumber, err)
	}
	return invoice, nil
}

// invoiceReflects reports whether inv carries b's billing state.
func invoiceReflects(inv *entity.Invoice, b *entity.Booking) bool {
	var want entity.Invoice
	want.ApplyBooking(b)

	return inv.TotalAmount.Equal(want.TotalAmount) &&
		inv.Subtotal.Equal(want.Subtotal) &&
		inv.DiscountAmount.Equal(want.DiscountAmount) &&
		inv.BaseFare.Equal(want.BaseFare) &&
		inv.GratuityAmount.Equal(want.GratuityAmount) &&
		inv.AirportFeeAmount.Equal(want.AirportFeeAmount) &&
		inv.SurgePricingAmount.Equal(want.SurgePricingAmount) &&
		inv.SurgePricingMultiplier == want.SurgePricingMultiplier &&
		inv.DiscountPercentage == want.DiscountPercentage &&
		(inv.PaidAt != nil) == (b.PaymentStatus == entity.PaymentStatusPaid)
}

func (s *invoiceService) GetInvoice(ctx context.Context, id string) (*entity.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, id)
}

func (s *invoiceService) GetInvoiceByBooking(ctx context.Context, bookingID string) (*entity.Invoice, error) {
	return s.invoiceRepo.GetByBookingID(ctx, bookingID)
}

func (s *invoiceService) RenderInvoicePDF(ctx context.Context, id string) ([]byte, *entity.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	doc := invoicepdf.Document{
		Company:  s.opts.CompanyName,
		Currency: s.opts.Currency,
		Invoice:  invoice,
	}

	booking, err := s.bookingRepo.GetByID(ctx, invoice.BookingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load booking for invoice: %w", err)
	}
	doc.Booking = booking

	if passenger, err := s.userRepo.GetByID(ctx, booking.PassengerID); err == nil {
		doc.Passenger = passenger
	} else {
		logrus.WithError(err).WithField("booking_id", booking.ID).Warn("Invoice PDF without passenger details")
	}

	out, err := invoicepdf.Render(doc)
	if err != nil {
		return nil, nil, err
	}
	return out, invoice, nil
}

func (s *invoiceService) newInvoice(booking *entity.Booking, number string) *entity.Invoice {
	invoice := &entity.Invoice{
		ID:            uuid.NewString(),
		InvoiceNumber: number,
	}
	invoice.ApplyBooking(booking)
	if booking.PaymentStatus == entity.PaymentStatusPaid {
		now := s.now().UTC()
		invoice.PaidAt = &now
	}
	return invoice
}
