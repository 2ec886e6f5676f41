package sip_sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot-core/pkg/jobqueue"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
)

// PlanExecutor runs one sweep over the plans whose next execution has
// arrived
type PlanExecutor interface {
	ExecuteDuePlans(ctx context.Context) (executed, failed int, err error)
}

// Config tunes the sweep schedule
type Config struct {
	// Cron expression with seconds (default: every minute)
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the standard sweep schedule
func DefaultConfig() Config {
	return Config{
		Schedule: "0 * * * * *",
		Timeout:  4 * time.Minute,
	}
}

// Sweeper drives the recurring investment sweep on a cron schedule
type Sweeper struct {
	executor  PlanExecutor
	scheduler *jobqueue.JobScheduler
	config    Config
	logger    *logger.Logger

	mu       sync.RWMutex
	running  bool
	lastRun  time.Time
	lastErr  error
	sweeps   int
	executed int
	failed   int
}

// NewSweeper creates a new sweeper worker
func NewSweeper(executor PlanExecutor, scheduler *jobqueue.JobScheduler, config Config, logger *logger.Logger) *Sweeper {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Sweeper{
		executor:  executor,
		scheduler: scheduler,
		config:    config,
		logger:    logger,
	}
}

// Start registers the sweep job and begins the schedule
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	err := s.scheduler.AddJob(jobqueue.ScheduledJob{
		Name:     "sip-sweep",
		Schedule: s.config.Schedule,
		Timeout:  s.config.Timeout,
		Handler:  s.sweep,
	})
	if err != nil {
		return err
	}

	s.running = true
	s.logger.Info("Recurring investment sweeper started", "schedule", s.config.Schedule)
	return nil
}

// Stop removes the sweep job from the schedule
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.scheduler.RemoveJob("sip-sweep")
	s.running = false
	s.logger.Info("Recurring investment sweeper stopped")
}

// IsRunning reports whether the sweep job is registered
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats reports the sweeper's lifetime counters
func (s *Sweeper) Stats() (sweeps, executed, failed int, lastRun time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sweeps, s.executed, s.failed, s.lastRun
}

func (s *Sweeper) sweep(ctx context.Context) error {
	executed, failed, err := s.executor.ExecuteDuePlans(ctx)

	s.mu.Lock()
	s.sweeps++
	s.executed += executed
	s.failed += failed
	s.lastRun = time.Now().UTC()
	s.lastErr = err
	s.mu.Unlock()

	return err
}
