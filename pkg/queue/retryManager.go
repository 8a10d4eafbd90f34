package queue

import (
	"errors"
	"time"

	"github.com/ds124wfegd/transferbook/pkg/retry"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryManager manages retry logic for failed tasks
type RetryManager struct {
	backoff *retry.Backoff
}

// NewRetryManager creates a new RetryManager
func NewRetryManager(maxRetries int, baseDelay time.Duration) *RetryManager {
	return &RetryManager{backoff: retry.NewBackoff(maxRetries, baseDelay)}
}

// ShouldRetry determines if a task should be retried and returns the delay
func (r *RetryManager) ShouldRetry(task *Task, err error) (bool, time.Duration) {
	if err == nil || IsPermanent(err) {
		return false, 0
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.backoff.MaxAttempts()
	}
	if task.Attempts >= maxRetries {
		return false, 0
	}

	return true, r.backoff.Delay(task.Attempts - 1)
}
