package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/internal/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobBookings struct {
	mu   sync.Mutex
	rows map[string]*entity.Booking
}

func (r *jobBookings) Create(context.Context, *entity.Booking) error { return nil }
func (r *jobBookings) Update(context.Context, *entity.Booking) error { return nil }
func (r *jobBookings) Delete(context.Context, string) error { return nil }

func (r *jobBookings) GetByID(_ context.Context, id string) (*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	c := *b
	return &c, nil
}

func (r *jobBookings) ListByStatuses(_ context.Context, statuses []entity.BookingStatus) ([]*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Booking
	for _, b := range r.rows {
		for _, s := range statuses {
			if b.Status == s && b.HasDriver() {
				c := *b
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

func (r *jobBookings) MarkAutoCancelled(_ context.Context, id string, at time.Time, reason string, from []entity.BookingStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok || b.AutoCancelledAt != nil {
		return false, nil
	}
	for _, s := range from {
		if b.Status == s {
			b.Status = entity.BookingStatusCancelled
			b.AutoCancelledAt = &at
			b.CancelledAt = &at
			b.CancelReason = reason
			return true, nil
		}
	}
	return false, nil
}

func (r *jobBookings) MarkReminderSent(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok || b.ReminderSentAt != nil {
		return false, nil
	}
	b.ReminderSentAt = &at
	return true, nil
}

type jobUsers map[string]*entity.User

func (u jobUsers) GetByID(_ context.Context, id string) (*entity.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, entity.ErrUserNotFound
}

type jobVehicles struct{}

func (jobVehicles) GetName(context.Context, string) (string, error) { return "Sedan", nil }

// jobNotifier fails or panics for chosen recipients.
type jobNotifier struct {
	mu       sync.Mutex
	sms      []string
	emails   []string
	failFor  map[string]bool
	panicFor map[string]bool
}

func (n *jobNotifier) SendSMS(_ context.Context, to, _ string) error {
	if n.panicFor[to] {
		panic("sms provider exploded")
	}
	if n.failFor[to] {
		return errors.New("sms provider rejected")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms = append(n.sms, to)
	return nil
}

func (n *jobNotifier) SendEmail(_ context.Context, msg entity.EmailMessage) error {
	if n.failFor[msg.To] {
		return errors.New("smtp rejected")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, msg.To)
	return nil
}

type jobReporter struct {
	mu      sync.Mutex
	reports []entity.CancellationReport
}

func (r *jobReporter) ReportCancellation(_ context.Context, report entity.CancellationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

type jobFixture struct {
	bookings *jobBookings
	notifier *jobNotifier
	reporter *jobReporter
	jobs     *BookingJobs
	now      time.Time
}

func newJobFixture(t *testing.T, concurrent bool) *jobFixture {
	t.Helper()
	f := &jobFixture{
		bookings: &jobBookings{rows: map[string]*entity.Booking{}},
		notifier: &jobNotifier{failFor: map[string]bool{}, panicFor: map[string]bool{}},
		reporter: &jobReporter{},
		now:      time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC),
	}
	users := jobUsers{
		"passenger-a": {ID: "passenger-a", PhoneNumber: "+1000", Email: "a@example.com"},
		"passenger-b": {ID: "passenger-b", PhoneNumber: "+2000", Email: "b@example.com"},
		"driver-1":    {ID: "driver-1", PhoneNumber: "+9000", Email: "driver@example.com"},
	}
	opts := DefaultOptions()
	opts.NotifyConcurrent = concurrent
	f.jobs = NewBookingJobs(Deps{
		Bookings:     f.bookings,
		Users:        users,
		VehicleTypes: jobVehicles{},
		Notifier:     f.notifier,
		Reporter:     f.reporter,
	}, opts)
	f.jobs.now = func() time.Time { return f.now }
	return f
}

func (f *jobFixture) add(id, passenger string, status entity.BookingStatus, scheduled time.Time) {
	driver := "driver-1"
	f.bookings.rows[id] = &entity.Booking{
		ID:                id,
		Status:            status,
		PassengerID:       passenger,
		DriverID:          &driver,
		VehicleTypeID:     "vt-1",
		ScheduledDateTime: scheduled,
	}
}

func (f *jobFixture) get(t *testing.T, id string) *entity.Booking {
	t.Helper()
	b, err := f.bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestAutoCancelExpiredBookings(t *testing.T) {
	f := newJobFixture(t, false)
	f.add("late", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(-31*time.Minute))
	f.add("recent", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(-29*time.Minute))
	f.add("arrived", "passenger-b", entity.BookingStatusArrived, f.now.Add(-2*time.Hour))
	f.add("in-progress", "passenger-b", entity.BookingStatusInProgress, f.now.Add(-2*time.Hour))

	require.NoError(t, f.jobs.AutoCancelExpiredBookings(context.Background()))

	late := f.get(t, "late")
	assert.Equal(t, entity.BookingStatusCancelled, late.Status)
	require.NotNil(t, late.AutoCancelledAt)
	assert.Equal(t, f.now, *late.AutoCancelledAt)
	assert.Equal(t, notification.AutoCancelReason, late.CancelReason)

	assert.Equal(t, entity.BookingStatusConfirmed, f.get(t, "recent").Status)
	assert.Equal(t, entity.BookingStatusCancelled, f.get(t, "arrived").Status)
	assert.Equal(t, entity.BookingStatusInProgress, f.get(t, "in-progress").Status)

	assert.ElementsMatch(t, []string{"+1000", "+2000"}, f.notifier.sms)
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, f.notifier.emails)
	require.Len(t, f.reporter.reports, 2)
	assert.Equal(t, "Sedan", f.reporter.reports[0].VehicleTypeName)
	assert.Equal(t, "system", f.reporter.reports[0].CancelledBy)
}

func TestAutoCancelExpiredBookings_NotReprocessed(t *testing.T) {
	f := newJobFixture(t, false)
	f.add("late", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(-time.Hour))
	stamped := f.now.Add(-10 * time.Minute)
	f.bookings.rows["late"].AutoCancelledAt = &stamped

	require.NoError(t, f.jobs.AutoCancelExpiredBookings(context.Background()))

	assert.Equal(t, entity.BookingStatusConfirmed, f.get(t, "late").Status)
	assert.Empty(t, f.notifier.sms)
	assert.Empty(t, f.reporter.reports)
}

func TestAutoCancelExpiredBookings_NotificationFailureIsIsolated(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		f := newJobFixture(t, concurrent)
		f.notifier.panicFor["+1000"] = true
		f.notifier.failFor["a@example.com"] = true
		f.add("a", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(-time.Hour))
		f.add("b", "passenger-b", entity.BookingStatusOnBoard, f.now.Add(-time.Hour))

		require.NoError(t, f.jobs.AutoCancelExpiredBookings(context.Background()))

		assert.Equal(t, entity.BookingStatusCancelled, f.get(t, "a").Status)
		assert.Equal(t, entity.BookingStatusCancelled, f.get(t, "b").Status)
		assert.Equal(t, []string{"+2000"}, f.notifier.sms)
		assert.Equal(t, []string{"b@example.com"}, f.notifier.emails)
		assert.Len(t, f.reporter.reports, 2)
	}
}

func TestSendDriverReminders(t *testing.T) {
	f := newJobFixture(t, false)
	f.add("due", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(121*time.Minute))
	f.add("too-early", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(130*time.Minute))
	f.add("too-late", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(115*time.Minute))
	f.add("started", "passenger-a", entity.BookingStatusOnTheWay, f.now.Add(121*time.Minute))

	ctx := context.Background()
	require.NoError(t, f.jobs.SendDriverReminders(ctx))

	due := f.get(t, "due")
	require.NotNil(t, due.ReminderSentAt)
	assert.Equal(t, f.now, *due.ReminderSentAt)
	assert.Nil(t, f.get(t, "too-early").ReminderSentAt)
	assert.Nil(t, f.get(t, "too-late").ReminderSentAt)
	assert.Nil(t, f.get(t, "started").ReminderSentAt)
	assert.Equal(t, []string{"+9000"}, f.notifier.sms)
	assert.Equal(t, []string{"driver@example.com"}, f.notifier.emails)

	f.now = f.now.Add(5 * time.Minute)
	require.NoError(t, f.jobs.SendDriverReminders(ctx))
	assert.Len(t, f.notifier.sms, 1)
}

func TestSendDriverReminders_StampedEvenIfSendFails(t *testing.T) {
	f := newJobFixture(t, false)
	f.notifier.failFor["+9000"] = true
	f.add("due", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(120*time.Minute))

	require.NoError(t, f.jobs.SendDriverReminders(context.Background()))

	assert.NotNil(t, f.get(t, "due").ReminderSentAt)
	assert.Empty(t, f.notifier.sms)
	assert.Equal(t, []string{"driver@example.com"}, f.notifier.emails)
}

func TestJobsAreScheduled(t *testing.T) {
	f := newJobFixture(t, false)
	f.add("late", "passenger-a", entity.BookingStatusConfirmed, f.now.Add(-time.Hour))

	jobs := f.jobs.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, JobAutoCancel, jobs[0].Name)
	assert.Equal(t, JobDriverReminders, jobs[1].Name)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := f.jobs.StartScheduledJobs(ctx, time.Hour, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.get(t, "late").Status == entity.BookingStatusCancelled
	}, time.Second, 10*time.Millisecond)

	cancel()
	s.Wait()
}
