package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrAlreadyStarted = errors.New("scheduler already started")

// Job is one periodic unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Locker guards a job run across processes. Acquire returns an error when the lock is taken.
type Locker interface {
	Acquire(ctx context.Context, name string) (func(context.Context) error, error)
}

type Scheduler struct {
	jobs     []Job
	interval time.Duration
	locker   Locker

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

func NewScheduler(interval time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		interval: interval,
	}
}

// WithLocker makes every run take the named lock first. Runs that lose the lock are skipped.
func (s *Scheduler) WithLocker(locker Locker) *Scheduler {
	s.locker = locker
	return s
}

// Start runs all jobs once immediately and then on every tick until ctx is done.
// It returns at once; a second call fails with ErrAlreadyStarted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Wait blocks until the loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runAll(ctx)
		case <-ctx.Done():
			logrus.Info("Scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	log := logrus.WithField("job", job.Name)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Job panicked: %v", r)
		}
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, job.Name)
		if err != nil {
			log.WithError(err).Debug("Skipping run, lock not acquired")
			return
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.WithError(err).Warn("Failed to release job lock")
			}
		}()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.WithError(err).Error("Job run failed")
		return
	}
	log.WithField("duration", time.Since(start)).Debug("Job run finished")
}
