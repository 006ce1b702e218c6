package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/siteupdater/internal/config"
	"github.com/Ning0612/siteupdater/internal/logger"
	"github.com/Ning0612/siteupdater/internal/scheduler"
)

// Watcher keeps an installation up to date by running update on an interval
type Watcher struct {
	mu        sync.RWMutex
	cfg       *config.Config
	opts      Options
	force     bool
	scheduler *scheduler.IntervalScheduler
}

// WatchStatus represents the current watcher status
type WatchStatus struct {
	Running        bool
	SchedulerStats *scheduler.Status
}

// NewWatcher creates a watcher; force overwrites locally modified files
func NewWatcher(cfg *config.Config, opts Options, force bool) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Watcher{cfg: cfg, opts: opts, force: force}, nil
}

// Start runs update once, then every interval until ctx ends or Stop is called
func (w *Watcher) Start(ctx context.Context, interval time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler != nil {
		return fmt.Errorf("watcher is already running")
	}

	sched, err := scheduler.NewIntervalScheduler(
		scheduler.Config{Interval: interval, RunOnStart: true},
		scheduler.RunnerFunc(w.runUpdate),
		w.opts.Clock,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	w.scheduler = sched

	logger.Get().Info("Watching for updates", "interval", interval.String(), "force", w.force)
	return nil
}

// Wait blocks until the watcher stops
func (w *Watcher) Wait() {
	w.mu.RLock()
	sched := w.scheduler
	w.mu.RUnlock()
	if sched != nil {
		<-sched.Done()
	}
}

// Stop stops the watcher after the running update, if any, finishes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler == nil {
		return fmt.Errorf("watcher is not running")
	}
	err := w.scheduler.Stop()
	w.scheduler = nil
	return err
}

// Status returns the current watcher status
func (w *Watcher) Status() *WatchStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &WatchStatus{Running: w.scheduler != nil}
	if w.scheduler != nil {
		status.SchedulerStats = w.scheduler.Status()
		status.Running = status.SchedulerStats.Running
	}
	return status
}

// runUpdate opens a fresh engine for every run so each one rescans
// the tree and refetches every manifest
func (w *Watcher) runUpdate(ctx context.Context) error {
	engine, err := NewEngine(w.cfg, w.opts)
	if err != nil {
		return err
	}
	if err := engine.Open(ctx, "update"); err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Update(ctx, nil, w.force)
	if err != nil {
		return err
	}
	if len(res.Conflicts) > 0 {
		return fmt.Errorf("%d locally modified file(s) left untouched", len(res.Conflicts))
	}
	return nil
}
