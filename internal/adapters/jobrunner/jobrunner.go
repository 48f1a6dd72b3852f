// Package jobrunner runs the analysis workers that drain the assessment queue.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	domainjob "github.com/psyassess/assessd/internal/domain/job"
	"github.com/psyassess/assessd/internal/domain/model"
	"github.com/psyassess/assessd/internal/observability/metrics"
	"github.com/psyassess/assessd/internal/observability/statsd"
	"github.com/psyassess/assessd/internal/service"
)

const (
	defaultLease        = 15 * time.Minute
	defaultAckTimeout   = 10 * time.Second
	defaultRetryBackoff = time.Second
)

// Executor runs one reserved assessment. Both methods publish the outcome themselves.
type Executor interface {
	Execute(ctx context.Context, assessmentID string) service.ExecutionResult
	Abandon(ctx context.Context, assessmentID string, attempts int) service.ExecutionResult
}

// RunnerOptions configures the analysis runner.
type RunnerOptions struct {
	Queue    core.Queue // Required: analysis queue
	Executor Executor   // Required: per-assessment execution
	Logger   *slog.Logger

	// Lease is the requested reservation lease; it is raised to cover ExecutionTimeout.
	Lease            time.Duration
	ExecutionTimeout time.Duration
	Concurrency      int // number of worker goroutines; defaults to 1
	// MaxAttempts fails an entry without analysis once it was delivered more often. Zero disables the cap.
	MaxAttempts int

	// RetryBackoff is the pause after a failed reservation.
	RetryBackoff time.Duration

	// Optional dependency injections (useful for tests/decoupling)
	Notifier        domainjob.Notifier
	NotifierOptions domainjob.NotifierOptions
	Metrics         statsd.Sink
}

// Runner reserves queued assessments and hands them to the executor.
type Runner struct {
	queue        core.Queue
	executor     Executor
	notifier     domainjob.Notifier
	leasePolicy  *domainjob.LeasePolicy
	logger       *slog.Logger
	workers      int
	maxAttempts  int
	retryBackoff time.Duration
	metrics      statsd.Sink
}

// NewRunner constructs an analysis runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	policy, err := domainjob.NewLeasePolicy(lease, opts.ExecutionTimeout)
	if err != nil {
		return nil, fmt.Errorf("create lease policy: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		nopts := opts.NotifierOptions
		if nopts.Waiter == nil {
			nopts.Waiter = opts.Queue
		}
		notifier, err = domainjob.NewNotifier(nopts)
		if err != nil {
			return nil, fmt.Errorf("create queue notifier: %w", err)
		}
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &Runner{
		queue:        opts.Queue,
		executor:     opts.Executor,
		notifier:     notifier,
		leasePolicy:  policy,
		logger:       logger.With("component", "analysis_runner"),
		workers:      workers,
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: backoff,
		metrics:      opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes assessments until the context is cancelled.
// Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	decision := r.leasePolicy.Resolve()
	if decision.Extended() {
		r.logger.WarnContext(ctx, "lease raised to cover execution timeout", "lease", decision.Lease)
	}
	r.logger.InfoContext(ctx, "starting analysis runner", "workers", r.workers, "lease", decision.Lease)

	unsub, notify := r.notifier.Subscribe()
	defer unsub()

	g, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, notify, decision.Lease)
		})
	}

	err := g.Wait()
	r.logger.InfoContext(ctx, "analysis runner stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}, lease time.Duration) error {
	for ctx.Err() == nil {
		entry, err := r.queue.ReserveNext(ctx, lease)
		switch {
		case err == nil:
			r.processEntry(ctx, entry)
		case errors.Is(err, model.ErrQueueEmpty):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			r.logger.ErrorContext(ctx, "reserve next assessment failed", "error", err)
			metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
				Transition: metrics.TransitionReserved,
				Result:     metrics.ResultError,
				Err:        err,
			})
			if !r.sleep(ctx, r.retryBackoff) {
				return nil
			}
		}
	}
	return nil
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-notify:
		return ok
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) processEntry(ctx context.Context, entry *core.QueueEntry) {
	start := time.Now()
	id := entry.AssessmentID
	log := r.logger.With("assessment_id", id, "attempt", entry.Attempts)
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: metrics.TransitionReserved,
		Result:     metrics.ResultSuccess,
		Attempt:    entry.Attempts,
	})

	var res service.ExecutionResult
	if r.maxAttempts > 0 && entry.Attempts > r.maxAttempts {
		res = r.executor.Abandon(ctx, id, entry.Attempts)
	} else {
		res = r.executor.Execute(ctx, id)
	}

	if res.Abandoned {
		log.InfoContext(ctx, "assessment left for redelivery", "error", res.Err)
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Transition: metrics.TransitionSkipped,
			Result:     metrics.ResultNoop,
			Attempt:    entry.Attempts,
			Duration:   time.Since(start),
		})
		return
	}

	r.ack(ctx, id)

	transition := metrics.TransitionCompleted
	result := metrics.ResultSuccess
	switch {
	case res.Replayed:
		transition = metrics.TransitionSkipped
		result = metrics.ResultNoop
	case res.Outcome != assessment.OutcomeSuccess:
		transition = metrics.TransitionFailed
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Attempt:    entry.Attempts,
		Duration:   time.Since(start),
		Err:        res.Err,
	})

	log.InfoContext(ctx, "assessment processed",
		"outcome", res.Outcome,
		"replayed", res.Replayed,
		"duration", time.Since(start),
		"error", res.Err,
		"publish_error", res.PublishErr,
	)
}

// ack removes the entry even when the worker context is shutting down,
// since the outcome was already recorded.
func (r *Runner) ack(ctx context.Context, id string) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAckTimeout)
	defer cancel()
	if err := r.queue.Ack(ackCtx, id); err != nil {
		r.logger.ErrorContext(ctx, "ack assessment failed", "assessment_id", id, "error", err)
	}
}
