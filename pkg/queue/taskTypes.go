package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type TaskType string

const (
	TaskTypeSendSMS            TaskType = "send_sms"
	TaskTypeSendEmail          TaskType = "send_email"
	TaskTypeCancellationReport TaskType = "cancellation_report"
)

// Handler processes one task. Returning a Permanent error skips retries.
type Handler func(ctx context.Context, task *Task) error

// Queue is the producer/consumer contract of RedisQueue
type Queue interface {
	Publish(ctx context.Context, task *Task) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// Task represents a unit of work in the queue
type Task struct {
	ID         string                 `json:"id"`
	Type       TaskType               `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ExecuteAt  time.Time              `json:"execute_at"`
	CreatedAt  time.Time              `json:"created_at"`
	Attempts   int                    `json:"attempts"`
	MaxRetries int                    `json:"max_retries"`
	LastError  string                 `json:"last_error,omitempty"`
}

// Validate checks if the task is valid
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task ID is required")
	}
	if strings.TrimSpace(string(t.Type)) == "" {
		return fmt.Errorf("task type is required")
	}
	if t.Data == nil {
		t.Data = make(map[string]interface{})
	}
	return nil
}

// GetString returns a string value from task data
func (t *Task) GetString(key string) string {
	if val, ok := t.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetObject returns a nested object from task data
func (t *Task) GetObject(key string) map[string]interface{} {
	if val, ok := t.Data[key]; ok {
		if obj, ok := val.(map[string]interface{}); ok {
			return obj
		}
	}
	return nil
}
