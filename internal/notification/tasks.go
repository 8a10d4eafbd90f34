package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/pkg/queue"
	"github.com/ds124wfegd/transferbook/pkg/sms"

	"github.com/sirupsen/logrus"
)

const (
	fieldTo      = "to"
	fieldText    = "text"
	fieldSubject = "subject"
	fieldHTML    = "html"
	fieldReport  = "report"
)

// Notifier is the direct delivery side a queue worker drives.
type Notifier interface {
	SendSMS(ctx context.Context, phoneNumber, text string) error
	SendEmail(ctx context.Context, msg entity.EmailMessage) error
}

// Reporter is the admin report side a queue worker drives.
type Reporter interface {
	ReportCancellation(ctx context.Context, report entity.CancellationReport) error
}

func SMSTask(to, text string) *queue.Task {
	return &queue.Task{
		Type: queue.TaskTypeSendSMS,
		Data: map[string]interface{}{fieldTo: to, fieldText: text},
	}
}

func EmailTask(msg entity.EmailMessage) *queue.Task {
	return &queue.Task{
		Type: queue.TaskTypeSendEmail,
		Data: map[string]interface{}{
			fieldTo:      msg.To,
			fieldSubject: msg.Subject,
			fieldHTML:    msg.HTML,
		},
	}
}

// CancellationReportTask stores the report as its JSON object form so it survives the queue round trip.
func CancellationReportTask(report entity.CancellationReport) (*queue.Task, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cancellation report: %w", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to encode cancellation report: %w", err)
	}
	return &queue.Task{
		Type: queue.TaskTypeCancellationReport,
		Data: map[string]interface{}{fieldReport: obj},
	}, nil
}

// TaskHandler returns the queue handler that performs the deliveries.
// Malformed tasks and rejected recipients are not retried.
func TaskHandler(notifier Notifier, reporter Reporter) queue.Handler {
	return func(ctx context.Context, task *queue.Task) error {
		log := logrus.WithFields(logrus.Fields{
			"task_id": task.ID,
			"type":    task.Type,
			"attempt": task.Attempts,
		})

		var err error
		switch task.Type {
		case queue.TaskTypeSendSMS:
			to := task.GetString(fieldTo)
			if to == "" {
				return queue.Permanent(fmt.Errorf("sms task without recipient"))
			}
			err = notifier.SendSMS(ctx, to, task.GetString(fieldText))
			if errors.Is(err, sms.ErrInvalidNumber) || errors.Is(err, entity.ErrInvalidInput) {
				err = queue.Permanent(err)
			}

		case queue.TaskTypeSendEmail:
			msg := entity.EmailMessage{
				To:      task.GetString(fieldTo),
				Subject: task.GetString(fieldSubject),
				HTML:    task.GetString(fieldHTML),
			}
			if msg.To == "" {
				return queue.Permanent(fmt.Errorf("email task without recipient"))
			}
			err = notifier.SendEmail(ctx, msg)

		case queue.TaskTypeCancellationReport:
			if reporter == nil {
				return queue.Permanent(fmt.Errorf("no cancellation reporter configured"))
			}
			report, decodeErr := decodeReport(task.GetObject(fieldReport))
			if decodeErr != nil {
				return queue.Permanent(decodeErr)
			}
			err = reporter.ReportCancellation(ctx, report)

		default:
			return queue.Permanent(fmt.Errorf("unknown task type %q", task.Type))
		}

		if err != nil {
			log.WithError(err).Warn("Notification task failed")
			return err
		}
		log.Debug("Notification task delivered")
		return nil
	}
}

func decodeReport(obj map[string]interface{}) (entity.CancellationReport, error) {
	var report entity.CancellationReport
	if obj == nil {
		return report, fmt.Errorf("cancellation report task without payload")
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return report, fmt.Errorf("failed to decode cancellation report: %w", err)
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return report, fmt.Errorf("failed to decode cancellation report: %w", err)
	}
	return report, nil
}
