package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"
)

// memBookings is an in-memory BookingRepository.
type memBookings struct {
	mu        sync.Mutex
	rows      map[string]entity.Booking
	createErr error
	updateErr error
	deleteErr error
	deleted   []string
}

func newMemBookings() *memBookings {
	return &memBookings{rows: map[string]entity.Booking{}}
}

func (m *memBookings) Create(_ context.Context, b *entity.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.rows[b.ID] = *b
	return nil
}

func (m *memBookings) GetByID(_ context.Context, id string) (*entity.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	b.Surcharges = append(entity.Surcharges{}, b.Surcharges...)
	return &b, nil
}

func (m *memBookings) Update(_ context.Context, b *entity.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.rows[b.ID]
	if !ok {
		return entity.ErrBookingNotFound
	}
	// Same column rules as the postgres UPDATE: job stamps are never cleared.
	if stored.AutoCancelledAt != nil {
		b.Status = stored.Status
		b.CancelledAt = stored.CancelledAt
		b.AutoCancelledAt = stored.AutoCancelledAt
		b.CancelReason = stored.CancelReason
	}
	if stored.ReminderSentAt != nil {
		b.ReminderSentAt = stored.ReminderSentAt
	}
	m.rows[b.ID] = *b
	return nil
}

func (m *memBookings) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.rows[id]; !ok {
		return entity.ErrBookingNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memBookings) ListByStatuses(_ context.Context, statuses []entity.BookingStatus) ([]*entity.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Booking
	for _, b := range m.rows {
		for _, s := range statuses {
			if b.Status == s && b.HasDriver() {
				c := b
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

func (m *memBookings) MarkAutoCancelled(_ context.Context, id string, at time.Time, reason string, from []entity.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.AutoCancelledAt != nil {
		return false, nil
	}
	for _, s := range from {
		if b.Status == s {
			b.Status = entity.BookingStatusCancelled
			b.AutoCancelledAt = &at
			b.CancelledAt = &at
			b.CancelReason = reason
			m.rows[id] = b
			return true, nil
		}
	}
	return false, nil
}

func (m *memBookings) MarkReminderSent(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.ReminderSentAt != nil {
		return false, nil
	}
	b.ReminderSentAt = &at
	m.rows[id] = b
	return true, nil
}

func (m *memBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memInvoices enforces both unique constraints of the invoices table.
type memInvoices struct {
	mu        sync.Mutex
	rows      map[string]entity.Invoice
	createErr error
	creates   int

	// stale makes LatestNumber ignore the newest rows, simulating readers racing writers.
	stale bool
}

func newMemInvoices() *memInvoices {
	return &memInvoices{rows: map[string]entity.Invoice{}}
}

func (m *memInvoices) Create(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.rows {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return entity.ErrDuplicateInvoiceNumber
		}
		if existing.BookingID == inv.BookingID {
			return entity.ErrInvoiceAlreadyExists
		}
	}
	m.rows[inv.ID] = *inv
	return nil
}

func (m *memInvoices) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok {
		return nil, entity.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (m *memInvoices) GetByBookingID(_ context.Context, bookingID string) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if inv.BookingID == bookingID {
			c := inv
			return &c, nil
		}
	}
	return nil, entity.ErrInvoiceNotFound
}

func (m *memInvoices) Update(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[inv.ID]; !ok {
		return entity.ErrInvoiceNotFound
	}
	m.rows[inv.ID] = *inv
	return nil
}

func (m *memInvoices) LatestNumber(_ context.Context, prefix string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale {
		return "", false, nil
	}
	var numbers []string
	for _, inv := range m.rows {
		if strings.HasPrefix(inv.InvoiceNumber, prefix) {
			numbers = append(numbers, inv.InvoiceNumber)
		}
	}
	if len(numbers) == 0 {
		return "", false, nil
	}
	sort.Strings(numbers)
	return numbers[len(numbers)-1], true, nil
}

func (m *memInvoices) NumberExists(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if inv.InvoiceNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *memInvoices) numbers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, inv := range m.rows {
		out = append(out, inv.InvoiceNumber)
	}
	sort.Strings(out)
	return out
}

type memUsers struct {
	users map[string]*entity.User
}

func (m *memUsers) GetByID(_ context.Context, id string) (*entity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, entity.ErrUserNotFound
	}
	return u, nil
}

type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) Get(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

type sentSMS struct {
	to, text string
}

type recordingNotifier struct {
	mu     sync.Mutex
	sms    []sentSMS
	emails []entity.EmailMessage
	smsErr error
}

func (n *recordingNotifier) SendSMS(_ context.Context, to, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.smsErr != nil {
		return n.smsErr
	}
	n.sms = append(n.sms, sentSMS{to: to, text: text})
	return nil
}

func (n *recordingNotifier) SendEmail(_ context.Context, msg entity.EmailMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, msg)
	return nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *recordingEvents) Publish(_ context.Context, eventType string, _ interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testInvoiceOptions() InvoiceOptions {
	opts := DefaultInvoiceOptions()
	opts.CreateBaseDelay = time.Millisecond
	opts.NumberDelay = time.Millisecond
	return opts
}

func moneyPtr(v float64) *entity.Money {
	m := entity.Money(v)
	return &m
}

func strPtr(s string) *string {
	return &s
}
