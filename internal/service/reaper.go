package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
	obserrors "github.com/psyassess/assessd/internal/observability/errors"
	"github.com/psyassess/assessd/internal/observability/metrics"
	"github.com/psyassess/assessd/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo      core.ReaperRepository // Required: reaper repository
	Config    config.ReaperConfig   // Required: reaper configuration
	Queue     core.QueueMaintainer  // Optional: releases expired queue leases
	Publisher *OutcomePublisher     // Optional: announces stale pending failures
	Logger    *slog.Logger          // Optional: structured logger
	Metrics   statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService keeps the record store and the queue healthy.
//
// Each pass:
// - fails pending assessments no worker started in time and announces them,
// - releases queue entries whose lease expired,
// - deletes complete and failed assessments past their retention.
type ReaperService struct {
	repo      core.ReaperRepository
	config    config.ReaperConfig
	queue     core.QueueMaintainer
	publisher *OutcomePublisher
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"pending_max_age", opts.Config.PendingMaxAge,
			"complete_max_age", opts.Config.CompleteMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
		)
	}

	return &ReaperService{
		repo:      opts.Repo,
		config:    opts.Config,
		queue:     opts.Queue,
		publisher: opts.Publisher,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Spread instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter sleeps a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// RunOnce performs a single cleanup pass. Steps run independently; their errors are joined.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.failStalePending,
			label:     "fail stale pending assessments",
			operation: "fail_pending",
			result:    &metricsData.pending,
		},
		{
			fn:        s.requeueExpired,
			label:     "requeue expired leases",
			operation: "requeue_expired",
			result:    &metricsData.requeued,
		},
		{
			fn:        s.deleteOldComplete,
			label:     "delete old complete assessments",
			operation: "delete_complete",
			result:    &metricsData.complete,
		},
		{
			fn:        s.deleteOldFailed,
			label:     "delete old failed assessments",
			operation: "delete_failed",
			result:    &metricsData.failed,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step)
		*step.result = operationResult{name: step.operation, count: outcome.count, err: outcome.metricErr}
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	operation string
	result    *operationResult
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(ctx context.Context, step cleanupStep) cleanupStepOutcome {
	count, err := step.fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", step.label, err)
	}
	return outcome
}

// failStalePending fails pending assessments older than the configured max age,
// batch by batch, and publishes a failed outcome for every one of them.
func (s *ReaperService) failStalePending(ctx context.Context) (int64, error) {
	var total int64
	for {
		ids, err := s.repo.FailStalePending(ctx, s.config.PendingMaxAge, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += int64(len(ids))
		for _, id := range ids {
			s.announceStale(ctx, id)
		}
		if len(ids) < s.config.BatchSize || len(ids) == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed stale pending assessments",
			"count", total,
			"max_age", s.config.PendingMaxAge,
		)
	}
	return total, nil
}

func (s *ReaperService) announceStale(ctx context.Context, id string) {
	if s.publisher == nil {
		return
	}
	// Publish errors are logged and counted by the publisher.
	_ = s.publisher.Publish(ctx, id, assessment.OutcomeFailed, assessment.StalePendingText)
}

func (s *ReaperService) requeueExpired(ctx context.Context) (int64, error) {
	if s.queue == nil {
		return 0, nil
	}
	return s.queue.RequeueExpired(ctx)
}

func (s *ReaperService) deleteOldComplete(ctx context.Context) (int64, error) {
	return s.deleteOld(ctx, model.AssessmentStatusComplete, s.config.CompleteMaxAge)
}

func (s *ReaperService) deleteOldFailed(ctx context.Context) (int64, error) {
	return s.deleteOld(ctx, model.AssessmentStatusFailed, s.config.FailedMaxAge)
}

// deleteOld loops until a batch comes back short so large backlogs drain in one pass.
func (s *ReaperService) deleteOld(
	ctx context.Context,
	status model.AssessmentStatus,
	maxAge time.Duration,
) (int64, error) {
	var total int64
	for {
		count, err := s.repo.DeleteOld(ctx, core.DeleteOldAssessmentsParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		total += count
		if count < int64(s.config.BatchSize) || count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old assessments",
			"status", status,
			"count", total,
			"max_age", maxAge,
		)
	}
	return total, nil
}

type operationResult struct {
	name  string
	count int64
	err   error
}

type cleanupMetrics struct {
	pending  operationResult
	requeued operationResult
	complete operationResult
	failed   operationResult
	elapsed  time.Duration
}

func (m cleanupMetrics) operations() []operationResult {
	return []operationResult{m.pending, m.requeued, m.complete, m.failed}
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	var (
		totalCount int64
		firstErr   error
	)
	for _, op := range m.operations() {
		totalCount += op.count
		if firstErr == nil {
			firstErr = op.err
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if m.elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.elapsed, metrics.CloneTags(tags))
	}

	for _, op := range m.operations() {
		s.emitCleanupOperationMetric(op)
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(op operationResult) {
	result := metrics.ResultSuccess
	if op.err != nil {
		result = metrics.ResultError
	} else if op.count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": op.name,
		"result":    result,
	}
	if op.err != nil {
		if class := obserrors.Classify(op.err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if op.err == nil && op.count > 0 {
		s.metrics.Count("reaper.records_processed", op.count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
