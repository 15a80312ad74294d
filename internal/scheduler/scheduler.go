// Package scheduler triggers inbox passes on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/pipeline"
)

const stopTimeout = 30 * time.Second

// Runner performs one pass
type Runner interface {
	Run(ctx context.Context) (*pipeline.PassResult, error)
}

// Scheduler invokes the runner every interval, never overlapping passes
type Scheduler struct {
	runner Runner
	every  time.Duration

	cron      *cron.Cron
	entryID   cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	mu        sync.RWMutex

	log *logrus.Entry
}

// New creates a stopped scheduler
func New(runner Runner, intervalMinutes int) *Scheduler {
	if !model.ValidPollInterval(intervalMinutes) {
		intervalMinutes = model.DefaultPollIntervalMinutes
	}
	return &Scheduler{
		runner: runner,
		every:  time.Duration(intervalMinutes) * time.Minute,
		log:    logrus.WithField("component", "scheduler"),
	}
}

// Start begins periodic passes. A stopped scheduler can be started again.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)

	entryID, err := s.cron.AddFunc(schedule(s.every), s.tick)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	s.log.Infof("Scheduler started with interval: %s", s.every)
	return nil
}

// Stop halts the timer and waits for an in-flight pass to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	ctx := s.cron.Stop()
	s.isRunning = false
	// an in-flight tick takes the lock to record its run
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.log.Info("Scheduler stopped gracefully")
	case <-time.After(stopTimeout):
		s.log.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunOnce runs one pass now, outside the timer
func (s *Scheduler) RunOnce(ctx context.Context) (*pipeline.PassResult, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.log.Info("Running inbox pass once")
	return s.run(ctx)
}

// Reschedule changes the interval, re-arming the timer when running
func (s *Scheduler) Reschedule(intervalMinutes int) error {
	if !model.ValidPollInterval(intervalMinutes) {
		return fmt.Errorf("poll interval must be between %d and %d minutes, got %d",
			model.MinPollIntervalMinutes, model.MaxPollIntervalMinutes, intervalMinutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	every := time.Duration(intervalMinutes) * time.Minute
	if every == s.every {
		return nil
	}
	s.every = every

	if !s.isRunning {
		return nil
	}

	entryID, err := s.cron.AddFunc(schedule(every), s.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.cron.Remove(s.entryID)
	s.entryID = entryID

	s.log.Infof("Scheduler interval changed to %s", every)
	return nil
}

// Interval returns the current interval
func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.every
}

// NextRun returns the time of the next scheduled run
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns when the last pass, scheduled or manual, completed
func (s *Scheduler) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Wait waits for in-flight passes to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		s.log.Info("Scheduler not running, skipping processing cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.run(ctx); err != nil {
		if errors.Is(err, pipeline.ErrPassInProgress) {
			s.log.Info("Previous pass still running, skipping tick")
			return
		}
		s.log.WithError(err).Error("Scheduled pass failed")
	}
}

func (s *Scheduler) run(ctx context.Context) (*pipeline.PassResult, error) {
	result, err := s.runner.Run(ctx)
	if err == nil {
		s.mu.Lock()
		s.lastRun = time.Now()
		s.mu.Unlock()
	}
	return result, err
}

func schedule(every time.Duration) string {
	return fmt.Sprintf("@every %s", every)
}
