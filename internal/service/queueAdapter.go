package service

import (
	"context"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/internal/notification"
	"github.com/ds124wfegd/transferbook/pkg/queue"
)

// QueueAdapter turns notifications into queue tasks so delivery happens on the
// queue workers, with retries and a dead letter queue.
type QueueAdapter struct {
	queue queue.Queue
}

func NewQueueAdapter(q queue.Queue) *QueueAdapter {
	return &QueueAdapter{queue: q}
}

func (a *QueueAdapter) SendSMS(ctx context.Context, phoneNumber, text string) error {
	return a.publish(ctx, notification.SMSTask(phoneNumber, text))
}

func (a *QueueAdapter) SendEmail(ctx context.Context, msg entity.EmailMessage) error {
	return a.publish(ctx, notification.EmailTask(msg))
}

func (a *QueueAdapter) ReportCancellation(ctx context.Context, report entity.CancellationReport) error {
	task, err := notification.CancellationReportTask(report)
	if err != nil {
		return err
	}
	return a.publish(ctx, task)
}

func (a *QueueAdapter) publish(ctx context.Context, task *queue.Task) error {
	if a.queue == nil {
		return nil
	}
	return a.queue.Publish(ctx, task)
}
