// Package orchestrator runs named batches of independent tasks with a bound
// on how many run at once and a deadline on each.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// Outcome is how a task finished.
type Outcome string

// Task outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// ErrTaskTimeout is matched by every TimeoutError.
var ErrTaskTimeout = errors.New("task timed out")

// TimeoutError reports a task that overran its deadline.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

// Is matches ErrTaskTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTaskTimeout
}

// PanicError wraps a value recovered from a task.
type PanicError struct {
	TaskID string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Value)
}

// Task is one unit of work. It must honor ctx cancellation.
type Task[T any] func(ctx context.Context) (T, error)

// TaskResult is the recorded result of one task.
type TaskResult[T any] struct {
	TaskID   string
	Outcome  Outcome
	Value    T
	Err      error
	Duration time.Duration
}

// OK reports a successful result.
func (r TaskResult[T]) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Config configures the orchestrator.
type Config struct {
	// MaxConcurrentTasks bounds how many tasks run at once.
	MaxConcurrentTasks int
	// DefaultTaskTimeout is each task's deadline.
	DefaultTaskTimeout time.Duration
	// Metrics is optional.
	Metrics *telemetry.MetricsProvider
}

// DefaultConfig returns 4 concurrent tasks with a 300s deadline.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 4,
		DefaultTaskTimeout: 300 * time.Second,
	}
}

// Stats are running counters.
type Stats struct {
	Active         int64 `json:"active"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	TimedOut       int64 `json:"timed_out"`
	MaxConcurrent  int64 `json:"max_concurrent"`
	AvailableSlots int64 `json:"available_slots"`
}

// Orchestrator admits at most MaxConcurrentTasks tasks at a time. A slot is
// held from admission until the task's result is recorded; a timed-out task
// gives its slot back immediately even if its goroutine has not returned.
type Orchestrator struct {
	cfg Config
	sem *semaphore.Weighted

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	return &Orchestrator{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
	}
}

// ExecuteBatch runs every task and returns once each has a recorded result.
// It never returns early on a single task's failure.
func ExecuteBatch[T any](ctx context.Context, o *Orchestrator, tasks map[string]Task[T]) map[string]TaskResult[T] {
	results := make(map[string]TaskResult[T], len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for id, task := range tasks {
		wg.Add(1)
		go func(id string, task Task[T]) {
			defer wg.Done()
			r := run(ctx, o, id, task)
			mu.Lock()
			results[id] = r
			mu.Unlock()
		}(id, task)
	}

	wg.Wait()
	return results
}

// Execute runs a single task under the same admission and deadline rules.
func Execute[T any](ctx context.Context, o *Orchestrator, id string, task Task[T]) TaskResult[T] {
	return run(ctx, o, id, task)
}

type outcome[T any] struct {
	value T
	err   error
}

func run[T any](ctx context.Context, o *Orchestrator, id string, task Task[T]) TaskResult[T] {
	start := time.Now()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failed.Add(1)
		return TaskResult[T]{TaskID: id, Outcome: OutcomeFailure, Err: err, Duration: time.Since(start)}
	}
	o.active.Add(1)
	o.cfg.Metrics.TaskStarted(ctx)

	result := await(ctx, o, id, task, start)

	o.active.Add(-1)
	o.sem.Release(1)
	o.cfg.Metrics.RecordTask(ctx, string(result.Outcome), result.Duration)

	switch result.Outcome {
	case OutcomeSuccess:
		o.completed.Add(1)
	case OutcomeTimeout:
		o.timedOut.Add(1)
	default:
		o.failed.Add(1)
	}
	return result
}

func await[T any](ctx context.Context, o *Orchestrator, id string, task Task[T], start time.Time) TaskResult[T] {
	timeout := o.cfg.DefaultTaskTimeout
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				logging.Error().
					Add(logging.Component("orchestrator")).
					Add(logging.TaskID(id)).
					Add(logging.Str("panic", fmt.Sprint(v))).
					Add(logging.Str("stack", string(debug.Stack()))).
					Msg("task panicked")
				done <- outcome[T]{err: &PanicError{TaskID: id, Value: v}}
			}
		}()
		v, err := task(taskCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		r := TaskResult[T]{TaskID: id, Value: out.value, Err: out.err, Duration: time.Since(start)}
		switch {
		case out.err == nil:
			r.Outcome = OutcomeSuccess
		case errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil && taskCtx.Err() != nil:
			r.Outcome = OutcomeTimeout
			r.Err = &TimeoutError{TaskID: id, Timeout: timeout}
		default:
			r.Outcome = OutcomeFailure
		}
		return r

	case <-taskCtx.Done():
		r := TaskResult[T]{TaskID: id, Duration: time.Since(start)}
		if err := ctx.Err(); err != nil {
			r.Outcome = OutcomeFailure
			r.Err = err
			return r
		}
		logging.Warn().
			Add(logging.Component("orchestrator")).
			Add(logging.TaskID(id)).
			Add(logging.Duration(timeout)).
			Msg("task timed out")
		r.Outcome = OutcomeTimeout
		r.Err = &TimeoutError{TaskID: id, Timeout: timeout}
		return r
	}
}

// Stats returns the running counters.
func (o *Orchestrator) Stats() Stats {
	active := o.active.Load()
	return Stats{
		Active:         active,
		Completed:      o.completed.Load(),
		Failed:         o.failed.Load(),
		TimedOut:       o.timedOut.Load(),
		MaxConcurrent:  int64(o.cfg.MaxConcurrentTasks),
		AvailableSlots: int64(o.cfg.MaxConcurrentTasks) - active,
	}
}

// TaskTimeout returns the per-task deadline.
func (o *Orchestrator) TaskTimeout() time.Duration {
	return o.cfg.DefaultTaskTimeout
}
