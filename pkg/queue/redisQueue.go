package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries   = 3
	defaultBaseDelay    = 5 * time.Second
	defaultQueueTimeout = 5 * time.Second
	defaultPollInterval = 5 * time.Second
)

// RedisQueueConfig contains configuration for RedisQueue
type RedisQueueConfig struct {
	Name         string
	MaxRetries   int
	BaseDelay    time.Duration
	QueueTimeout time.Duration
	PollInterval time.Duration
	Workers      int
}

func (c *RedisQueueConfig) withDefaults() *RedisQueueConfig {
	out := *c
	if out.Name == "" {
		out.Name = "notifications"
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = defaultMaxRetries
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = defaultBaseDelay
	}
	if out.QueueTimeout <= 0 {
		out.QueueTimeout = defaultQueueTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	return &out
}

// RedisQueue is a list-backed work queue with a sorted set for delayed retries.
type RedisQueue struct {
	client          *redis.Client
	mainQueue       string
	delayedQueue    string
	processingQueue string
	retryManager    *RetryManager
	dlqHandler      DLQHandler
	config          *RedisQueueConfig
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// NewRedisQueue creates a queue on top of an existing client
func NewRedisQueue(client *redis.Client, cfg *RedisQueueConfig, dlqHandler DLQHandler) *RedisQueue {
	if cfg == nil {
		cfg = &RedisQueueConfig{}
	}
	cfg = cfg.withDefaults()

	if dlqHandler == nil {
		dlqHandler = NewRedisDLQHandler(client, cfg.Name+":dlq")
	}

	q := &RedisQueue{
		client:          client,
		mainQueue:       cfg.Name + ":tasks",
		delayedQueue:    cfg.Name + ":tasks:delayed",
		processingQueue: cfg.Name + ":tasks:processing",
		retryManager:    NewRetryManager(cfg.MaxRetries, cfg.BaseDelay),
		dlqHandler:      dlqHandler,
		config:          cfg,
		stopChan:        make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"main":    q.mainQueue,
		"delayed": q.delayedQueue,
	}).Info("RedisQueue initialized")
	return q
}

// Publish sends a task to the queue
func (r *RedisQueue) Publish(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	r.prepareTask(task)
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if task.ExecuteAt.After(time.Now()) {
		score := float64(task.ExecuteAt.UnixNano()) / 1e9
		if err := r.client.ZAdd(ctx, r.delayedQueue, &redis.Z{Score: score, Member: taskData}).Err(); err != nil {
			return fmt.Errorf("failed to publish delayed task: %w", err)
		}
		return nil
	}

	if err := r.client.LPush(ctx, r.mainQueue, taskData).Err(); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

// Subscribe starts the delayed-task mover and the configured number of workers
func (r *RedisQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.wg.Add(1)
	go r.processDelayedTasks(ctx)

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.processMainQueue(ctx, handler)
	}

	logrus.WithField("workers", r.config.Workers).Info("RedisQueue subscriber started")
	return nil
}

func (r *RedisQueue) processMainQueue(ctx context.Context, handler Handler) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		default:
			if err := r.processOne(ctx, handler); err != nil {
				logrus.WithError(err).Warn("Error processing queue")
				select {
				case <-ctx.Done():
					return
				case <-r.stopChan:
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (r *RedisQueue) processOne(ctx context.Context, handler Handler) error {
	taskData, err := r.client.BRPopLPush(ctx, r.mainQueue, r.processingQueue, r.config.QueueTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to move task to processing queue: %w", err)
	}
	defer func() {
		if err := r.client.LRem(ctx, r.processingQueue, 1, taskData).Err(); err != nil {
			logrus.WithError(err).Warn("Failed to remove task from processing queue")
		}
	}()

	var task Task
	if err := json.Unmarshal([]byte(taskData), &task); err != nil {
		corrupted := &Task{
			ID:        "corrupted_" + uuid.NewString(),
			Type:      "corrupted",
			Data:      map[string]interface{}{"raw_data": taskData},
			CreatedAt: time.Now(),
		}
		r.dlqHandler.HandleFailedTask(ctx, corrupted, fmt.Errorf("invalid task format: %w", err))
		return nil
	}

	r.execute(ctx, &task, handler)
	return nil
}

// execute runs the handler once and reschedules or dead-letters on failure
func (r *RedisQueue) execute(ctx context.Context, task *Task, handler Handler) {
	task.Attempts++
	err := handler(ctx, task)
	if err == nil {
		return
	}

	task.LastError = err.Error()
	retry, delay := r.retryManager.ShouldRetry(task, err)
	if !retry {
		r.dlqHandler.HandleFailedTask(ctx, task, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"attempt":  task.Attempts,
		"retry_in": delay,
	}).Warnf("Task failed, retrying: %v", err)

	task.ExecuteAt = time.Now().Add(delay)
	if pubErr := r.Publish(ctx, task); pubErr != nil {
		r.dlqHandler.HandleFailedTask(ctx, task, fmt.Errorf("reschedule: %w (after %v)", pubErr, err))
	}
}

func (r *RedisQueue) processDelayedTasks(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.moveReadyDelayedTasks(ctx); err != nil {
				logrus.WithError(err).Warn("Failed to process delayed tasks")
			}
		}
	}
}

// moveReadyDelayedTasks moves ready delayed tasks to main queue
func (r *RedisQueue) moveReadyDelayedTasks(ctx context.Context) error {
	now := fmt.Sprintf("%f", float64(time.Now().UnixNano())/1e9)

	tasks, err := r.client.ZRangeByScore(ctx, r.delayedQueue, &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("failed to get delayed tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, taskData := range tasks {
		pipe.LPush(ctx, r.mainQueue, taskData)
		pipe.ZRem(ctx, r.delayedQueue, taskData)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move delayed tasks: %w", err)
	}

	logrus.WithField("count", len(tasks)).Debug("Moved delayed tasks to main queue")
	return nil
}

func (r *RedisQueue) prepareTask(task *Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Data == nil {
		task.Data = make(map[string]interface{})
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = r.config.MaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
}

// QueueStats contains statistics about queue state
type QueueStats struct {
	MainQueue       int64     `json:"main_queue"`
	DelayedQueue    int64     `json:"delayed_queue"`
	ProcessingQueue int64     `json:"processing_queue"`
	DLQ             int64     `json:"dlq"`
	Timestamp       time.Time `json:"timestamp"`
}

// GetQueueStats returns current queue statistics
func (r *RedisQueue) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	pipe := r.client.Pipeline()
	mainLen := pipe.LLen(ctx, r.mainQueue)
	delayedLen := pipe.ZCard(ctx, r.delayedQueue)
	processingLen := pipe.LLen(ctx, r.processingQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	dlqLen, err := r.dlqHandler.Size(ctx)
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		MainQueue:       mainLen.Val(),
		DelayedQueue:    delayedLen.Val(),
		ProcessingQueue: processingLen.Val(),
		DLQ:             dlqLen,
		Timestamp:       time.Now(),
	}, nil
}

// FailedTasks lists the newest dead-lettered tasks.
func (r *RedisQueue) FailedTasks(ctx context.Context, limit int) ([]*FailedTask, error) {
	return r.dlqHandler.GetFailedTasks(ctx, limit)
}

// Close stops the workers. The shared redis client is left open.
func (r *RedisQueue) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	logrus.Info("RedisQueue closed")
	return nil
}
