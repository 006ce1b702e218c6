package scheduler

import (
	"context"
	"time"
)

// Scheduler runs a job repeatedly until stopped
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Interval is the duration between runs
	Interval time.Duration

	// RunOnStart runs the job once immediately instead of waiting an interval
	RunOnStart bool
}

// Runner is the job a scheduler executes
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}
