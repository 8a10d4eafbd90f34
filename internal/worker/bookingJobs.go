package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ds124wfegd/transferbook/config"
	repository "github.com/ds124wfegd/transferbook/internal/database/postgres"
	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/internal/notification"
	"github.com/ds124wfegd/transferbook/internal/service"
	"github.com/ds124wfegd/transferbook/pkg/events"
	"github.com/ds124wfegd/transferbook/pkg/scheduler"

	"github.com/sirupsen/logrus"
)

const (
	JobAutoCancel      = "auto_cancel_expired_bookings"
	JobDriverReminders = "send_driver_reminders"

	cancelledBySystem = "system"
)

// autoCancelStatuses are the driver-held statuses a late trip can be stuck in.
var autoCancelStatuses = []entity.BookingStatus{
	entity.BookingStatusConfirmed,
	entity.BookingStatusOnTheWay,
	entity.BookingStatusArrived,
	entity.BookingStatusOnBoard,
}

type Options struct {
	AutoCancelGrace  time.Duration
	ReminderFrom     time.Duration
	ReminderTo       time.Duration
	NotifyConcurrent bool
}

func DefaultOptions() Options {
	return Options{
		AutoCancelGrace: 30 * time.Minute,
		ReminderFrom:    115 * time.Minute,
		ReminderTo:      125 * time.Minute,
	}
}

func OptionsFromConfig(cfg config.JobsConfig) Options {
	opts := DefaultOptions()
	if cfg.AutoCancelGrace > 0 {
		opts.AutoCancelGrace = cfg.AutoCancelGrace
	}
	if cfg.ReminderFrom > 0 {
		opts.ReminderFrom = cfg.ReminderFrom
	}
	if cfg.ReminderTo > cfg.ReminderFrom {
		opts.ReminderTo = cfg.ReminderTo
	}
	opts.NotifyConcurrent = cfg.NotifyConcurrent
	return opts
}

// Deps are the collaborators of the booking jobs. Reporter and Events may be nil.
type Deps struct {
	Bookings     repository.BookingRepository
	Users        repository.UserRepository
	VehicleTypes repository.VehicleTypeRepository
	Notifier     service.Notifier
	Reporter     service.CancellationReporter
	Events       service.EventPublisher
}

// BookingJobs runs the time driven booking transitions.
type BookingJobs struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func NewBookingJobs(deps Deps, opts Options) *BookingJobs {
	return &BookingJobs{deps: deps, opts: opts, now: time.Now}
}

// Jobs lists the periodic jobs for the scheduler.
func (w *BookingJobs) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: JobAutoCancel, Run: w.AutoCancelExpiredBookings},
		{Name: JobDriverReminders, Run: w.SendDriverReminders},
	}
}

// StartScheduledJobs runs both jobs now and on every interval until ctx is done.
// locker may be nil for single instance deployments.
func (w *BookingJobs) StartScheduledJobs(ctx context.Context, interval time.Duration, locker scheduler.Locker) (*scheduler.Scheduler, error) {
	s := scheduler.NewScheduler(interval, w.Jobs()...)
	if locker != nil {
		s.WithLocker(locker)
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"interval":    interval,
		"distributed": locker != nil,
	}).Info("Booking jobs started")
	return s, nil
}

// AutoCancelExpiredBookings cancels driver-held bookings whose pickup passed more
// than the grace period ago without the trip completing.
func (w *BookingJobs) AutoCancelExpiredBookings(ctx context.Context) error {
	bookings, err := w.deps.Bookings.ListByStatuses(ctx, autoCancelStatuses)
	if err != nil {
		return fmt.Errorf("failed to list bookings for auto-cancel: %w", err)
	}

	now := w.now().UTC()
	cancelled, failed := 0, 0

	for _, b := range bookings {
		if ctx.Err() != nil {
			logrus.Info("Auto-cancel scan interrupted by context cancellation")
			break
		}
		if !b.HasDriver() || b.AutoCancelledAt != nil || now.Sub(b.ScheduledDateTime) <= w.opts.AutoCancelGrace {
			continue
		}

		var done bool
		err := isolate(func() error {
			var err error
			done, err = w.autoCancel(ctx, b, now)
			return err
		})
		if err != nil {
			logrus.WithError(err).WithField("booking_id", b.ID).Error("Failed to auto-cancel booking")
			failed++
			continue
		}
		if done {
			cancelled++
		}
	}

	logrus.Infof("Auto-cancel scan completed: %d cancelled, %d failed", cancelled, failed)
	if failed > 0 {
		logrus.Warnf("%d bookings failed to auto-cancel during scan", failed)
	}
	return nil
}

func (w *BookingJobs) autoCancel(ctx context.Context, b *entity.Booking, now time.Time) (bool, error) {
	ok, err := w.deps.Bookings.MarkAutoCancelled(ctx, b.ID, now, notification.AutoCancelReason, autoCancelStatuses)
	if err != nil {
		return false, err
	}
	if !ok {
		logrus.WithField("booking_id", b.ID).Debug("Booking changed since scan, skipping auto-cancel")
		return false, nil
	}

	b.Status = entity.BookingStatusCancelled
	b.AutoCancelledAt = &now
	if b.CancelledAt == nil {
		b.CancelledAt = &now
	}
	b.CancelReason = notification.AutoCancelReason

	logrus.WithField("booking_id", b.ID).Info("Booking auto-cancelled")

	w.notifyAutoCancel(ctx, b)
	if w.deps.Events != nil {
		if err := w.deps.Events.Publish(ctx, events.BookingAutoCancelled, b); err != nil {
			logrus.WithError(err).WithField("booking_id", b.ID).Warn("Failed to publish auto-cancel event")
		}
	}
	return true, nil
}

func (w *BookingJobs) notifyAutoCancel(ctx context.Context, b *entity.Booking) {
	log := logrus.WithField("booking_id", b.ID)

	passenger, err := w.deps.Users.GetByID(ctx, b.PassengerID)
	if err != nil {
		log.WithError(err).Warn("Passenger lookup failed, skipping passenger notifications")
		passenger = nil
	}

	var sends []send
	if passenger != nil && passenger.PhoneNumber != "" {
		sends = append(sends, send{"passenger_sms", func() error {
			return w.deps.Notifier.SendSMS(ctx, passenger.PhoneNumber, notification.AutoCancelSMS(b))
		}})
	}
	if passenger != nil && passenger.Email != "" {
		sends = append(sends, send{"passenger_email", func() error {
			return w.deps.Notifier.SendEmail(ctx, notification.AutoCancelEmail(b, passenger))
		}})
	}
	if w.deps.Reporter != nil {
		sends = append(sends, send{"admin_report", func() error {
			return w.deps.Reporter.ReportCancellation(ctx, entity.CancellationReport{
				Booking:         b,
				Passenger:       passenger,
				VehicleTypeName: w.vehicleTypeName(ctx, b),
				CancelledBy:     cancelledBySystem,
				Reason:          notification.AutoCancelReason,
			})
		}})
	}

	w.runSends(log, sends)
}

func (w *BookingJobs) vehicleTypeName(ctx context.Context, b *entity.Booking) string {
	if w.deps.VehicleTypes == nil || b.VehicleTypeID == "" {
		return ""
	}
	name, err := w.deps.VehicleTypes.GetName(ctx, b.VehicleTypeID)
	if err != nil {
		logrus.WithError(err).WithField("booking_id", b.ID).Debug("Vehicle type lookup failed")
		return ""
	}
	return name
}

// SendDriverReminders notifies drivers about confirmed trips starting in about two hours.
// The reminder is stamped before sending, so a crash loses a reminder instead of repeating it.
func (w *BookingJobs) SendDriverReminders(ctx context.Context) error {
	bookings, err := w.deps.Bookings.ListByStatuses(ctx, []entity.BookingStatus{entity.BookingStatusConfirmed})
	if err != nil {
		return fmt.Errorf("failed to list bookings for reminders: %w", err)
	}

	now := w.now().UTC()
	sent, failed := 0, 0

	for _, b := range bookings {
		if ctx.Err() != nil {
			logrus.Info("Reminder scan interrupted by context cancellation")
			break
		}
		if b.Status != entity.BookingStatusConfirmed || !b.HasDriver() || b.ReminderSentAt != nil {
			continue
		}
		until := b.ScheduledDateTime.Sub(now)
		if until <= w.opts.ReminderFrom || until > w.opts.ReminderTo {
			continue
		}

		var done bool
		err := isolate(func() error {
			var err error
			done, err = w.remind(ctx, b, now)
			return err
		})
		if err != nil {
			logrus.WithError(err).WithField("booking_id", b.ID).Error("Failed to send driver reminder")
			failed++
			continue
		}
		if done {
			sent++
		}
	}

	logrus.Infof("Reminder scan completed: %d sent, %d failed", sent, failed)
	return nil
}

func (w *BookingJobs) remind(ctx context.Context, b *entity.Booking, now time.Time) (bool, error) {
	ok, err := w.deps.Bookings.MarkReminderSent(ctx, b.ID, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	b.ReminderSentAt = &now

	log := logrus.WithFields(logrus.Fields{"booking_id": b.ID, "driver_id": *b.DriverID})
	driver, err := w.deps.Users.GetByID(ctx, *b.DriverID)
	if err != nil {
		log.WithError(err).Warn("Driver lookup failed, reminder not delivered")
		return true, nil
	}

	var sends []send
	if driver.PhoneNumber != "" {
		sends = append(sends, send{"driver_sms", func() error {
			return w.deps.Notifier.SendSMS(ctx, driver.PhoneNumber, notification.DriverReminderSMS(b))
		}})
	}
	if driver.Email != "" {
		sends = append(sends, send{"driver_email", func() error {
			return w.deps.Notifier.SendEmail(ctx, notification.DriverReminderEmail(b, driver))
		}})
	}
	w.runSends(log, sends)

	log.Info("Driver reminder sent")
	return true, nil
}

type send struct {
	channel string
	fn      func() error
}

// runSends performs best-effort deliveries. Failures are logged and never returned.
func (w *BookingJobs) runSends(log *logrus.Entry, sends []send) {
	deliver := func(s send) {
		if err := isolate(s.fn); err != nil {
			log.WithError(err).WithField("channel", s.channel).Warn("Notification failed")
		}
	}

	if !w.opts.NotifyConcurrent {
		for _, s := range sends {
			deliver(s)
		}
		return
	}

	var wg sync.WaitGroup
	for _, s := range sends {
		wg.Add(1)
		go func(s send) {
			defer wg.Done()
			deliver(s)
		}(s)
	}
	wg.Wait()
}

// isolate turns a panic in fn into an error.
func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
