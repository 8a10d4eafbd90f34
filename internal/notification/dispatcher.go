package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/ds124wfegd/transferbook/internal/entity"

	"github.com/sirupsen/logrus"
)

// SMSSender is satisfied by *sms.Client
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// EmailSender is satisfied by *mailer.Mailer
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// ChatSender is satisfied by *telegram.Bot
type ChatSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Dispatcher delivers SMS and email directly. A nil channel is treated as
// disabled: sends are logged and dropped.
type Dispatcher struct {
	sms   SMSSender
	email EmailSender
}

func NewDispatcher(sms SMSSender, email EmailSender) *Dispatcher {
	return &Dispatcher{sms: sms, email: email}
}

func (d *Dispatcher) SendSMS(ctx context.Context, phoneNumber, text string) error {
	if d.sms == nil {
		logrus.WithField("to", phoneNumber).Debug("SMS channel disabled, message dropped")
		return nil
	}
	if phoneNumber == "" {
		return fmt.Errorf("%w: empty phone number", entity.ErrInvalidInput)
	}
	return d.sms.Send(ctx, phoneNumber, text)
}

func (d *Dispatcher) SendEmail(ctx context.Context, msg entity.EmailMessage) error {
	if d.email == nil {
		logrus.WithField("to", msg.To).Debug("Email channel disabled, message dropped")
		return nil
	}
	if msg.To == "" {
		return fmt.Errorf("%w: empty email recipient", entity.ErrInvalidInput)
	}
	return d.email.Send(ctx, msg.To, msg.Subject, msg.HTML)
}

// AdminReporter posts cancellation reports to the admin chat and mailbox.
type AdminReporter struct {
	chat       ChatSender
	chatID     string
	email      EmailSender
	adminEmail string
}

func NewAdminReporter(chat ChatSender, chatID string, email EmailSender, adminEmail string) *AdminReporter {
	return &AdminReporter{
		chat:       chat,
		chatID:     chatID,
		email:      email,
		adminEmail: adminEmail,
	}
}

// ReportCancellation tries every configured channel; one failing does not skip the others.
func (r *AdminReporter) ReportCancellation(ctx context.Context, report entity.CancellationReport) error {
	var errs []error

	if r.chat != nil && r.chatID != "" {
		if err := r.chat.SendMessage(ctx, r.chatID, CancellationReportText(report)); err != nil {
			errs = append(errs, fmt.Errorf("chat report: %w", err))
		}
	}

	if r.email != nil && r.adminEmail != "" {
		msg := CancellationReportEmail(report, r.adminEmail)
		if err := r.email.Send(ctx, msg.To, msg.Subject, msg.HTML); err != nil {
			errs = append(errs, fmt.Errorf("email report: %w", err))
		}
	}

	return errors.Join(errs...)
}
