package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoiceNumberFormat = regexp.MustCompile(`^INV-\d{4}\d{5}$`)

// flakyInvoices reports a number collision on the first dups inserts.
type flakyInvoices struct {
	*memInvoices
	mu   sync.Mutex
	dups int
}

func (f *flakyInvoices) Create(ctx context.Context, inv *entity.Invoice) error {
	f.mu.Lock()
	if f.dups > 0 {
		f.dups--
		f.mu.Unlock()
		f.memInvoices.mu.Lock()
		f.memInvoices.creates++
		f.memInvoices.mu.Unlock()
		return entity.ErrDuplicateInvoiceNumber
	}
	f.mu.Unlock()
	return f.memInvoices.Create(ctx, inv)
}

func testBooking(id string, total float64) *entity.Booking {
	return &entity.Booking{
		ID:                     id,
		Status:                 entity.BookingStatusPending,
		PassengerID:            "passenger-1",
		BaseFare:               entity.Money(total),
		SurgePricingMultiplier: 1,
		RegularPrice:           entity.Money(total),
		TotalAmount:            entity.Money(total),
		PaymentStatus:          entity.PaymentStatusPending,
		ScheduledDateTime:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGenerateInvoiceNumber(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	t.Run("first number of the year", func(t *testing.T) {
		svc := newInvoiceService(newMemInvoices(), newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		number, err := svc.GenerateInvoiceNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "INV-202600001", number)
	})

	t.Run("continues from the latest number", func(t *testing.T) {
		invoices := newMemInvoices()
		invoices.rows["a"] = entity.Invoice{ID: "a", BookingID: "b1", InvoiceNumber: "INV-202600041"}
		invoices.rows["b"] = entity.Invoice{ID: "b", BookingID: "b2", InvoiceNumber: "INV-202500099"}
		svc := newInvoiceService(invoices, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		number, err := svc.GenerateInvoiceNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "INV-202600042", number)
	})

	t.Run("falls back to the timestamp number when contended", func(t *testing.T) {
		invoices := newMemInvoices()
		invoices.rows["a"] = entity.Invoice{ID: "a", BookingID: "b1", InvoiceNumber: "INV-202600001"}
		invoices.stale = true
		svc := newInvoiceService(invoices, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		number, err := svc.GenerateInvoiceNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("INV-2026%05d", now.UnixMilli()%100000), number)
		assert.Regexp(t, invoiceNumberFormat, number)
	})

	t.Run("falls back once the year's sequence is exhausted", func(t *testing.T) {
		invoices := newMemInvoices()
		invoices.rows["a"] = entity.Invoice{ID: "a", BookingID: "b1", InvoiceNumber: entity.FormatInvoiceNumber(2026, entity.MaxInvoiceSequence)}
		svc := newInvoiceService(invoices, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		number, err := svc.GenerateInvoiceNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fallbackInvoiceNumber(2026, now), number)
		assert.Regexp(t, invoiceNumberFormat, number)
	})
}

func TestCreateInvoiceForBooking(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	t.Run("copies pricing and is idempotent", func(t *testing.T) {
		invoices := newMemInvoices()
		svc := newInvoiceService(invoices, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))
		booking := testBooking("booking-1", 120)
		booking.DiscountAmount = 20
		booking.TotalAmount = 100

		first, err := svc.CreateInvoiceForBooking(ctx, booking)
		require.NoError(t, err)
		second, err := svc.CreateInvoiceForBooking(ctx, booking)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
		assert.Len(t, invoices.rows, 1)
		assert.True(t, first.TotalAmount.Equal(booking.TotalAmount))
		assert.True(t, first.Subtotal.Equal(120))
		assert.Nil(t, first.PaidAt)
	})

	t.Run("paid booking gets paidAt", func(t *testing.T) {
		svc := newInvoiceService(newMemInvoices(), newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))
		booking := testBooking("booking-paid", 50)
		booking.PaymentStatus = entity.PaymentStatusPaid

		invoice, err := svc.CreateInvoiceForBooking(ctx, booking)
		require.NoError(t, err)
		require.NotNil(t, invoice.PaidAt)
		assert.Equal(t, now, *invoice.PaidAt)
	})

	t.Run("retries number collisions", func(t *testing.T) {
		flaky := &flakyInvoices{memInvoices: newMemInvoices(), dups: 3}
		svc := newInvoiceService(flaky, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		invoice, err := svc.CreateInvoiceForBooking(ctx, testBooking("booking-2", 80))
		require.NoError(t, err)
		assert.Regexp(t, invoiceNumberFormat, invoice.InvoiceNumber)
		assert.Equal(t, 4, flaky.creates)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		flaky := &flakyInvoices{memInvoices: newMemInvoices(), dups: 100}
		svc := newInvoiceService(flaky, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		_, err := svc.CreateInvoiceForBooking(ctx, testBooking("booking-3", 80))
		require.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrDuplicateInvoiceNumber)
		assert.Equal(t, 10, flaky.creates)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		invoices := newMemInvoices()
		invoices.createErr = errors.New("connection reset")
		svc := newInvoiceService(invoices, newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		_, err := svc.CreateInvoiceForBooking(ctx, testBooking("booking-4", 80))
		require.Error(t, err)
		assert.Equal(t, 1, invoices.creates)
	})
}

func TestCreateInvoiceForBooking_ConcurrentNumbersAreUnique(t *testing.T) {
	const n = 8
	invoices := newMemInvoices()
	svc := newInvoiceService(invoices, newMemBookings(), &memUsers{}, testInvoiceOptions(), time.Now)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateInvoiceForBooking(context.Background(), testBooking(fmt.Sprintf("booking-%d", i), 10))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	numbers := invoices.numbers()
	require.Len(t, numbers, n)
	seen := map[string]bool{}
	for _, number := range numbers {
		assert.Regexp(t, invoiceNumberFormat, number)
		assert.False(t, seen[number], "duplicate invoice number %s", number)
		seen[number] = true
	}
}

func TestSyncInvoiceWithBooking(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	t.Run("creates the invoice when missing", func(t *testing.T) {
		invoices := newMemInvoices()
		bookings := newMemBookings()
		booking := testBooking("booking-1", 70)
		require.NoError(t, bookings.Create(ctx, booking))
		svc := newInvoiceService(invoices, bookings, &memUsers{}, testInvoiceOptions(), fixedClock(now))

		invoice, err := svc.SyncInvoiceWithBooking(ctx, booking)
		require.NoError(t, err)
		assert.True(t, invoice.TotalAmount.Equal(70))
		assert.Len(t, invoices.rows, 1)
	})

	t.Run("follows totals and payment status", func(t *testing.T) {
		invoices := newMemInvoices()
		bookings := newMemBookings()
		svc := newInvoiceService(invoices, bookings, &memUsers{}, testInvoiceOptions(), fixedClock(now))
		booking := testBooking("booking-2", 100)
		require.NoError(t, bookings.Create(ctx, booking))

		created, err := svc.CreateInvoiceForBooking(ctx, booking)
		require.NoError(t, err)

		booking.TotalAmount = 135
		booking.PaymentStatus = entity.PaymentStatusPaid
		require.NoError(t, bookings.Update(ctx, booking))
		synced, err := svc.SyncInvoiceWithBooking(ctx, booking)
		require.NoError(t, err)
		assert.Equal(t, created.InvoiceNumber, synced.InvoiceNumber)
		assert.True(t, synced.TotalAmount.Equal(135))
		require.NotNil(t, synced.PaidAt)

		booking.PaymentStatus = entity.PaymentStatusRefunded
		require.NoError(t, bookings.Update(ctx, booking))
		synced, err = svc.SyncInvoiceWithBooking(ctx, booking)
		require.NoError(t, err)
		assert.Nil(t, synced.PaidAt)

		stored, err := invoices.GetByBookingID(ctx, booking.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.PaidAt)
		assert.True(t, stored.TotalAmount.Equal(booking.TotalAmount))
	})

	t.Run("uses the stored booking, not the argument", func(t *testing.T) {
		invoices := newMemInvoices()
		bookings := newMemBookings()
		svc := newInvoiceService(invoices, bookings, &memUsers{}, testInvoiceOptions(), fixedClock(now))
		booking := testBooking("booking-3", 100)
		require.NoError(t, bookings.Create(ctx, booking))

		stale := *booking
		stale.TotalAmount = 60
		invoice, err := svc.SyncInvoiceWithBooking(ctx, &stale)
		require.NoError(t, err)
		assert.True(t, invoice.TotalAmount.Equal(100))
	})

	t.Run("missing booking is an error", func(t *testing.T) {
		svc := newInvoiceService(newMemInvoices(), newMemBookings(), &memUsers{}, testInvoiceOptions(), fixedClock(now))

		_, err := svc.SyncInvoiceWithBooking(ctx, testBooking("gone", 10))
		assert.ErrorIs(t, err, entity.ErrBookingNotFound)
	})
}

func TestRenderInvoicePDF(t *testing.T) {
	ctx := context.Background()
	invoices := newMemInvoices()
	bookings := newMemBookings()
	users := &memUsers{users: map[string]*entity.User{
		"passenger-1": {ID: "passenger-1", FirstName: "Ana", LastName: "Silva", Email: "ana@example.com"},
	}}
	svc := newInvoiceService(invoices, bookings, users, testInvoiceOptions(), time.Now)

	booking := testBooking("booking-pdf", 99.5)
	require.NoError(t, bookings.Create(ctx, booking))
	invoice, err := svc.CreateInvoiceForBooking(ctx, booking)
	require.NoError(t, err)

	out, got, err := svc.RenderInvoicePDF(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.InvoiceNumber, got.InvoiceNumber)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	_, _, err = svc.RenderInvoicePDF(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrInvoiceNotFound)
}
