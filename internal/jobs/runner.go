package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/casematch/internal/alert"
)

// Runner defaults.
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 30 * time.Second
)

var errPanic = errors.New("job panicked")

// JobMetrics records background job executions. *Metrics implements it.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// Task is one execution of a periodic job.
type Task func(ctx context.Context) error

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Name is the job type label, e.g. JobTypeABAnalysis.
	Name string
	// Interval between executions.
	Interval time.Duration
	// Timeout bounds a single execution.
	Timeout time.Duration
	// RunOnStart executes the task once immediately after Start.
	RunOnStart bool
	Logger     *slog.Logger
	Metrics    JobMetrics
	// Alerts receives a job_failure alert for every failed or panicked
	// execution. Optional.
	Alerts alert.Sink
}

// Runner executes a Task on a fixed interval until stopped.
type Runner struct {
	config RunnerConfig
	task   Task

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// execMu serializes executions between the ticker and RunNow.
	execMu sync.Mutex
}

// NewRunner creates a Runner for task.
func NewRunner(config RunnerConfig, task Task) *Runner {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Logger = config.Logger.With("job", config.Name)
	return &Runner{config: config, task: task}
}

// Name returns the job type label.
func (r *Runner) Name() string { return r.config.Name }

// Start begins the periodic job. It returns immediately; the job runs in a
// background goroutine until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for the current execution to end.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// IsRunning returns whether the job loop is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	if r.config.RunOnStart {
		_ = r.RunNow(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			r.config.Logger.Info("job stopping due to context cancellation")
			return
		case <-r.stopCh:
			r.config.Logger.Info("job stopping due to stop signal")
			return
		case <-ticker.C:
			_ = r.RunNow(ctx)
		}
	}
}

// RunNow executes the task once with the configured timeout and records
// metrics. Executions never overlap.
func (r *Runner) RunNow(parent context.Context) (err error) {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, r.config.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errPanic, p)
		}
		r.finish(ctx, start, err)
	}()

	return r.task(ctx)
}

func (r *Runner) finish(ctx context.Context, start time.Time, err error) {
	duration := time.Since(start)
	if r.config.Metrics != nil {
		r.config.Metrics.ObserveJobDuration(r.config.Name, duration.Seconds())
	}

	if err == nil {
		if r.config.Metrics != nil {
			r.config.Metrics.IncJobsTotal(r.config.Name, StatusSuccess)
		}
		r.config.Logger.Debug("job completed", "duration_ms", duration.Milliseconds())
		return
	}

	errorType := classify(ctx, err)
	if r.config.Metrics != nil {
		r.config.Metrics.IncJobsTotal(r.config.Name, StatusFailure)
		r.config.Metrics.IncJobErrors(r.config.Name, errorType)
	}
	r.config.Logger.Error("job failed",
		"error_type", errorType,
		"duration_ms", duration.Milliseconds(),
		"error", err)

	r.alert(ctx, errorType, duration, err)
}

func (r *Runner) alert(ctx context.Context, errorType string, duration time.Duration, err error) {
	if r.config.Alerts == nil {
		return
	}
	severity := alert.SeverityWarning
	if errorType == ErrorTypePanic {
		severity = alert.SeverityCritical
	}
	a := alert.New(r.config.Name, alert.TypeJobFailure, severity,
		fmt.Sprintf("job %s failed (%s): %v", r.config.Name, errorType, err),
		map[string]float64{"duration_seconds": duration.Seconds()})
	// The execution context may already be past its deadline.
	if emitErr := r.config.Alerts.Emit(context.WithoutCancel(ctx), a); emitErr != nil {
		r.config.Logger.Error("failed to emit job alert", "error", emitErr)
	}
}

func classify(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, errPanic):
		return ErrorTypePanic
	default:
		return ErrorTypeTask
	}
}
