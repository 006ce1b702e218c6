package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/siteupdater/internal/logger"
)

// IntervalScheduler runs its job on a fixed interval. Runs never overlap.
type IntervalScheduler struct {
	config Config
	runner Runner
	clock  clockwork.Clock

	// Runtime state
	mu          sync.RWMutex
	running     bool
	stopped     bool      // Track if stopped to prevent restart
	stopOnce    sync.Once // Ensure Stop() is idempotent
	closeOnce   sync.Once // Ensure stoppedChan is closed exactly once
	stopChan    chan struct{}
	stoppedChan chan struct{}

	// Statistics
	stats struct {
		lastRunTime    time.Time
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		lastError      string
	}
}

// NewIntervalScheduler creates a scheduler; a nil clock means the real one
func NewIntervalScheduler(config Config, runner Runner, clock clockwork.Clock) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &IntervalScheduler{
		config:      config,
		runner:      runner,
		clock:       clock,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.nextRunTime = s.clock.Now().Add(s.config.Interval)

	ticker := s.clock.NewTicker(s.config.Interval)
	go s.run(ctx, ticker)

	return nil
}

// run is the main scheduling loop
func (s *IntervalScheduler) run(ctx context.Context, ticker clockwork.Ticker) {
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.stoppedChan)
	})
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.execute(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.Chan():
			s.execute(ctx)
		}
	}
}

// execute runs the job once and updates the statistics
func (s *IntervalScheduler) execute(ctx context.Context) {
	s.mu.Lock()
	now := s.clock.Now()
	s.stats.lastRunTime = now
	s.stats.totalRuns++
	s.stats.nextRunTime = now.Add(s.config.Interval)
	s.mu.Unlock()

	err := s.runner.Run(ctx)

	s.mu.Lock()
	if err != nil {
		s.stats.failedRuns++
		s.stats.lastError = err.Error()
	} else {
		s.stats.successfulRuns++
		s.stats.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logger.Get().Error("Scheduled run failed", "error", err)
	}
}

// Stop gracefully stops the scheduler, waiting for a running job to finish
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	<-s.stoppedChan

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	return nil
}

// Done is closed once the scheduling loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.stoppedChan
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		LastRunTime:    s.stats.lastRunTime,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		LastError:      s.stats.lastError,
	}
}
