package notification

import (
	"fmt"
	"html"
	"strings"

	"github.com/ds124wfegd/transferbook/internal/entity"
)

const timeLayout = "02 Jan 2006 15:04 MST"

// AutoCancelReason is stored on bookings cancelled by the scheduler.
const AutoCancelReason = "Automatically cancelled: trip did not start after the scheduled pickup time"

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}

func AutoCancelSMS(b *entity.Booking) string {
	return fmt.Sprintf("Your booking %s scheduled for %s has been cancelled because the trip did not start. Please contact support if you still need a ride.",
		shortID(b.ID), b.ScheduledDateTime.Format(timeLayout))
}

func AutoCancelEmail(b *entity.Booking, passenger *entity.User) entity.EmailMessage {
	body := fmt.Sprintf(`<p>Dear %s,</p>
<p>Your booking <strong>%s</strong> from %s to %s, scheduled for %s, has been cancelled automatically because the trip did not start.</p>
<p>If you still need a ride please contact our support team.</p>`,
		html.EscapeString(passenger.FullName()),
		shortID(b.ID),
		html.EscapeString(b.PickupAddress),
		html.EscapeString(b.DestinationAddress),
		b.ScheduledDateTime.Format(timeLayout))

	return entity.EmailMessage{
		To:      passenger.Email,
		Subject: "Your booking " + shortID(b.ID) + " was cancelled",
		HTML:    body,
	}
}

func DriverReminderSMS(b *entity.Booking) string {
	return fmt.Sprintf("Reminder: pickup at %s on %s (booking %s).",
		b.PickupAddress, b.ScheduledDateTime.Format(timeLayout), shortID(b.ID))
}

func DriverReminderEmail(b *entity.Booking, driver *entity.User) entity.EmailMessage {
	body := fmt.Sprintf(`<p>Hello %s,</p>
<p>This is a reminder for your upcoming trip <strong>%s</strong>.</p>
<ul><li>Pickup: %s</li><li>Destination: %s</li><li>Time: %s</li></ul>`,
		html.EscapeString(driver.FullName()),
		shortID(b.ID),
		html.EscapeString(b.PickupAddress),
		html.EscapeString(b.DestinationAddress),
		b.ScheduledDateTime.Format(timeLayout))

	return entity.EmailMessage{
		To:      driver.Email,
		Subject: "Upcoming trip " + shortID(b.ID),
		HTML:    body,
	}
}

func DriverAssignedSMS(b *entity.Booking) string {
	payment := "n/a"
	if b.DriverPayment != nil {
		payment = b.DriverPayment.String()
	}
	return fmt.Sprintf("New trip %s assigned: %s -> %s on %s. Payment %s. Please accept in the app.",
		shortID(b.ID), b.PickupAddress, b.DestinationAddress, b.ScheduledDateTime.Format(timeLayout), payment)
}

// CancellationReportText renders the admin report for chat delivery.
func CancellationReportText(r entity.CancellationReport) string {
	var sb strings.Builder
	sb.WriteString("<b>Booking cancelled</b>\n")
	if r.Booking != nil {
		fmt.Fprintf(&sb, "Booking: %s\n", html.EscapeString(r.Booking.ID))
		fmt.Fprintf(&sb, "Scheduled: %s\n", r.Booking.ScheduledDateTime.Format(timeLayout))
		fmt.Fprintf(&sb, "Route: %s -> %s\n", html.EscapeString(r.Booking.PickupAddress), html.EscapeString(r.Booking.DestinationAddress))
		fmt.Fprintf(&sb, "Total: %s\n", r.Booking.TotalAmount.String())
	}
	if r.Passenger != nil {
		fmt.Fprintf(&sb, "Passenger: %s %s\n", html.EscapeString(r.Passenger.FullName()), html.EscapeString(r.Passenger.PhoneNumber))
	}
	if r.VehicleTypeName != "" {
		fmt.Fprintf(&sb, "Vehicle: %s\n", html.EscapeString(r.VehicleTypeName))
	}
	fmt.Fprintf(&sb, "By: %s\n", html.EscapeString(r.CancelledBy))
	fmt.Fprintf(&sb, "Reason: %s", html.EscapeString(r.Reason))
	return sb.String()
}

func CancellationReportEmail(r entity.CancellationReport, to string) entity.EmailMessage {
	subject := "Booking cancelled"
	if r.Booking != nil {
		subject += " " + shortID(r.Booking.ID)
	}
	return entity.EmailMessage{
		To:      to,
		Subject: subject,
		HTML:    "<pre>" + CancellationReportText(r) + "</pre>",
	}
}
