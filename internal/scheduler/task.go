// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package scheduler runs process-owned periodic work.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/fleetauth/pkg/errutil"
)

// Func is one run of a task. Errors are logged and do not stop the task.
type Func func(ctx context.Context) error

// Options configures a Task.
type Options struct {
	// Delay before the first run. Zero runs immediately.
	Delay  time.Duration
	Logger *slog.Logger
}

// Task calls fn every interval until stopped. Runs never overlap.
type Task struct {
	name     string
	interval time.Duration
	delay    time.Duration
	fn       Func
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTask creates a stopped task.
func NewTask(name string, interval time.Duration, fn Func, opts Options) (*Task, error) {
	switch {
	case name == "":
		return nil, oops.Code("SCHEDULER_INVALID_TASK").Errorf("task name is required")
	case interval <= 0:
		return nil, oops.Code("SCHEDULER_INVALID_TASK").With("task", name).Errorf("interval must be positive")
	case fn == nil:
		return nil, oops.Code("SCHEDULER_INVALID_TASK").With("task", name).Errorf("task function is required")
	case opts.Delay < 0:
		return nil, oops.Code("SCHEDULER_INVALID_TASK").With("task", name).Errorf("delay cannot be negative")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Task{
		name:     name,
		interval: interval,
		delay:    opts.Delay,
		fn:       fn,
		logger:   opts.Logger.With("task", name),
	}, nil
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Start begins running the task in the background. Starting a running task
// is an error.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return oops.Code("SCHEDULER_ALREADY_STARTED").With("task", t.name).Errorf("task already started")
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run(ctx)
	return nil
}

// Stop cancels the task and waits for an in-flight run to return. It is
// safe to call more than once.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// RunOnce executes the task function once in the caller's goroutine.
func (t *Task) RunOnce(ctx context.Context) error {
	start := time.Now()
	err := t.fn(ctx)
	runDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
	if err != nil {
		runs.WithLabelValues(t.name, "error").Inc()
		return oops.Code("SCHEDULER_RUN_FAILED").With("task", t.name).Wrap(err)
	}
	runs.WithLabelValues(t.name, "ok").Inc()
	return nil
}

func (t *Task) run(ctx context.Context) {
	defer t.wg.Done()

	if t.delay > 0 {
		timer := time.NewTimer(t.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Task) tick(ctx context.Context) {
	if err := t.RunOnce(ctx); err != nil && ctx.Err() == nil {
		errutil.LogErrorContext(ctx, t.logger, "scheduled task failed", err)
	}
}
