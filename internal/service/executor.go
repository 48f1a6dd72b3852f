package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
)

// Failure details announced to subscribers.
const (
	DetailNotFound       = "assessment not found"
	DetailUnavailable    = "analysis processor unavailable"
	DetailSaveReport     = "failed to save report"
	DetailUpdateStatus   = "failed to update status"
	detailAbandonedFmt   = "analysis abandoned after %d attempts"
	unexpectedFailureFmt = "report generation aborted: %v"
)

const defaultPersistTimeout = 30 * time.Second

// AnalysisExecutorOptions groups dependencies for AnalysisExecutor.
type AnalysisExecutorOptions struct {
	Repo       core.AssessmentRepository // Required: job record store
	Publisher  *OutcomePublisher         // Required: outcome announcements
	Analyzer   core.Analyzer             // Optional: nil fails every job with ErrProcessorUnavailable
	Classifier *assessment.Classifier    // Optional: defaults to config.DefaultFailureMarkers
	// AnalysisTimeout bounds one Analyze call. Zero leaves it bounded by ctx only.
	AnalysisTimeout time.Duration
	// PersistTimeout bounds result writes, which run even after ctx is canceled.
	PersistTimeout time.Duration
	Logger         *slog.Logger
}

// ExecutionResult reports what one execution did, for the runner's logs and metrics.
type ExecutionResult struct {
	AssessmentID string
	Outcome      assessment.Outcome
	Detail       string
	Err          error
	PublishErr   error
	// Replayed is set when the record was already terminal and its stored outcome was re-announced.
	Replayed bool
	// Abandoned is set when ctx ended before an outcome was written. Nothing was written or
	// published and the queue entry should be left for redelivery.
	Abandoned bool
}

// AnalysisExecutor runs one assessment through analysis and records the outcome.
type AnalysisExecutor struct {
	repo            core.AssessmentRepository
	publisher       *OutcomePublisher
	analyzer        core.Analyzer
	classifier      *assessment.Classifier
	analysisTimeout time.Duration
	persistTimeout  time.Duration
	logger          *slog.Logger
}

// NewAnalysisExecutor constructs an AnalysisExecutor.
func NewAnalysisExecutor(opts AnalysisExecutorOptions) (*AnalysisExecutor, error) {
	if opts.Repo == nil {
		return nil, errors.New("AssessmentRepository is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("OutcomePublisher is required")
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = assessment.NewClassifier(config.DefaultFailureMarkers)
	}
	persist := opts.PersistTimeout
	if persist <= 0 {
		persist = defaultPersistTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisExecutor{
		repo:            opts.Repo,
		publisher:       opts.Publisher,
		analyzer:        opts.Analyzer,
		classifier:      classifier,
		analysisTimeout: opts.AnalysisTimeout,
		persistTimeout:  persist,
		logger:          logger.With("component", "analysis_executor"),
	}, nil
}

// MustNewAnalysisExecutor constructs an AnalysisExecutor and panics on error.
func MustNewAnalysisExecutor(opts AnalysisExecutorOptions) *AnalysisExecutor {
	e, err := NewAnalysisExecutor(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AnalysisExecutor: %v", err))
	}
	return e
}

// Execute analyzes a reserved assessment and publishes its outcome exactly once.
// Nothing escapes: errors and panics end up in the returned result.
func (e *AnalysisExecutor) Execute(ctx context.Context, assessmentID string) ExecutionResult {
	return e.guard(ctx, assessmentID, e.analyze)
}

// Abandon fails an assessment whose delivery budget is spent without analyzing it again.
func (e *AnalysisExecutor) Abandon(ctx context.Context, assessmentID string, attempts int) ExecutionResult {
	return e.guard(ctx, assessmentID, func(ctx context.Context, id string) ExecutionResult {
		return e.abandon(ctx, id, attempts)
	})
}

type executionStep func(ctx context.Context, assessmentID string) ExecutionResult

// guard runs step behind a recover boundary, then makes the single publish attempt.
func (e *AnalysisExecutor) guard(ctx context.Context, assessmentID string, step executionStep) (res ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "analysis panicked",
				"assessment_id", assessmentID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = e.failUnexpected(ctx, assessmentID, fmt.Errorf("panic: %v", r))
		}
		res.AssessmentID = assessmentID
		if res.Abandoned {
			return
		}
		res.PublishErr = e.publisher.Publish(ctx, assessmentID, res.Outcome, res.Detail)
	}()
	return step(ctx, assessmentID)
}

func (e *AnalysisExecutor) analyze(ctx context.Context, id string) ExecutionResult {
	rec, err := e.repo.GetByID(ctx, id)
	if errors.Is(err, model.ErrAssessmentNotFound) {
		e.logger.WarnContext(ctx, "assessment not found", "assessment_id", id)
		return ExecutionResult{
			Outcome: assessment.OutcomeFailed,
			Detail:  DetailNotFound,
			Err:     fmt.Errorf("%w: %s", ErrJobNotFound, id),
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return e.leaveForRedelivery(ctx, id, err)
		}
		return e.failUnexpected(ctx, id, fmt.Errorf("load assessment: %w", err))
	}
	if rec.Status.IsTerminal() {
		return e.replay(ctx, rec)
	}

	processing := rec.Status == model.AssessmentStatusProcessing
	if !processing {
		status, updErr := e.repo.UpdateStatus(ctx, id, model.AssessmentStatusProcessing)
		if updErr != nil {
			e.logger.WarnContext(ctx, "failed to mark assessment processing",
				"assessment_id", id,
				"status", status,
				"error", updErr,
			)
		}
		if status.IsTerminal() {
			rec.Status = status
			return e.replay(ctx, rec)
		}
		processing = status == model.AssessmentStatusProcessing
	}

	if e.analyzer == nil {
		return e.failUnavailable(ctx, id)
	}

	text, err := e.runAnalyzer(ctx, rec.Snapshot())
	if err != nil {
		if ctx.Err() != nil {
			return e.leaveForRedelivery(ctx, id, err)
		}
		return e.writeResult(ctx, id, assessment.Classification{
			Outcome: assessment.OutcomeFailed,
			Text:    assessment.Truncate(err.Error(), assessment.MaxFailureTextRunes),
		}, fmt.Errorf("%w: %w", ErrAnalysisFailure, err))
	}

	cls := e.classifier.Classify(text)
	if cls.Outcome == assessment.OutcomeSuccess && !processing {
		// complete is only reachable from processing.
		e.retryProcessing(ctx, id)
	}
	var clsErr error
	if cls.Outcome == assessment.OutcomeFailed {
		clsErr = ErrAnalysisFailure
		if cls.Marker != "" {
			clsErr = fmt.Errorf("%w: result contains failure marker %q", ErrAnalysisFailure, cls.Marker)
		}
	}
	return e.writeResult(ctx, id, cls, clsErr)
}

func (e *AnalysisExecutor) retryProcessing(ctx context.Context, id string) {
	ctx, cancel := e.persistContext(ctx)
	defer cancel()
	if _, err := e.repo.UpdateStatus(ctx, id, model.AssessmentStatusProcessing); err != nil {
		e.logger.WarnContext(ctx, "retry of processing mark failed", "assessment_id", id, "error", err)
	}
}

func (e *AnalysisExecutor) runAnalyzer(ctx context.Context, input model.AnalysisInput) (string, error) {
	if e.analysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.analysisTimeout)
		defer cancel()
	}
	return e.analyzer.Analyze(ctx, input)
}

// writeResult stores the text, then the terminal status. A record only
// becomes complete when both writes succeed.
func (e *AnalysisExecutor) writeResult(
	ctx context.Context,
	id string,
	cls assessment.Classification,
	cause error,
) ExecutionResult {
	ctx, cancel := e.persistContext(ctx)
	defer cancel()

	if err := e.repo.SetReportText(ctx, id, cls.Text); err != nil {
		e.logger.ErrorContext(ctx, "failed to save report text", "assessment_id", id, "error", err)
		e.forceFailed(ctx, id)
		return ExecutionResult{
			Outcome: assessment.OutcomeFailed,
			Detail:  DetailSaveReport,
			Err:     fmt.Errorf("%w: %w", ErrPersistenceFailure, err),
		}
	}

	if cls.Outcome == assessment.OutcomeSuccess {
		if _, err := e.repo.UpdateStatus(ctx, id, model.AssessmentStatusComplete); err != nil {
			e.logger.ErrorContext(ctx, "failed to mark assessment complete", "assessment_id", id, "error", err)
			e.forceFailed(ctx, id)
			return ExecutionResult{
				Outcome: assessment.OutcomeFailed,
				Detail:  DetailUpdateStatus,
				Err:     fmt.Errorf("%w: %w", ErrPersistenceFailure, err),
			}
		}
		e.logger.InfoContext(ctx, "assessment report complete", "assessment_id", id)
		return ExecutionResult{Outcome: assessment.OutcomeSuccess}
	}

	res := ExecutionResult{Outcome: assessment.OutcomeFailed, Detail: cls.Text, Err: cause}
	if _, err := e.repo.UpdateStatus(ctx, id, model.AssessmentStatusFailed); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark assessment failed", "assessment_id", id, "error", err)
		res.Err = errors.Join(cause, fmt.Errorf("%w: %w", ErrPersistenceFailure, err))
	}
	e.logger.InfoContext(ctx, "assessment report failed",
		"assessment_id", id,
		"marker", cls.Marker,
		"error", cause,
	)
	return res
}

func (e *AnalysisExecutor) failUnavailable(ctx context.Context, id string) ExecutionResult {
	ctx, cancel := e.persistContext(ctx)
	defer cancel()

	e.logger.ErrorContext(ctx, "no analyzer configured", "assessment_id", id)
	res := ExecutionResult{
		Outcome: assessment.OutcomeFailed,
		Detail:  DetailUnavailable,
		Err:     ErrProcessorUnavailable,
	}
	if _, err := e.repo.UpdateStatus(ctx, id, model.AssessmentStatusFailed); err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("%w: %w", ErrPersistenceFailure, err))
	}
	return res
}

// failUnexpected records a diagnostic as report text and forces the record to failed.
func (e *AnalysisExecutor) failUnexpected(ctx context.Context, id string, cause error) ExecutionResult {
	ctx, cancel := e.persistContext(ctx)
	defer cancel()

	text := assessment.Truncate(fmt.Sprintf(unexpectedFailureFmt, cause), assessment.MaxFailureTextRunes)
	if err := e.repo.SetReportText(ctx, id, text); err != nil {
		e.logger.ErrorContext(ctx, "failed to save failure diagnostic", "assessment_id", id, "error", err)
	}
	e.forceFailed(ctx, id)
	return ExecutionResult{
		Outcome: assessment.OutcomeFailed,
		Detail:  cause.Error(),
		Err:     cause,
	}
}

func (e *AnalysisExecutor) abandon(ctx context.Context, id string, attempts int) ExecutionResult {
	rec, err := e.repo.GetByID(ctx, id)
	if errors.Is(err, model.ErrAssessmentNotFound) {
		return ExecutionResult{
			Outcome: assessment.OutcomeFailed,
			Detail:  DetailNotFound,
			Err:     fmt.Errorf("%w: %s", ErrJobNotFound, id),
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return e.leaveForRedelivery(ctx, id, err)
		}
		return e.failUnexpected(ctx, id, fmt.Errorf("load assessment: %w", err))
	}
	if rec.Status.IsTerminal() {
		return e.replay(ctx, rec)
	}

	detail := fmt.Sprintf(detailAbandonedFmt, attempts)
	e.logger.WarnContext(ctx, "delivery attempts exhausted", "assessment_id", id, "attempts", attempts)
	return e.writeResult(ctx, id, assessment.Classification{
		Outcome: assessment.OutcomeFailed,
		Text:    detail,
	}, fmt.Errorf("%w: %s", ErrAnalysisFailure, detail))
}

// leaveForRedelivery ends an execution interrupted by worker shutdown without
// writing or publishing; the queue entry is redelivered once its lease expires.
func (e *AnalysisExecutor) leaveForRedelivery(ctx context.Context, id string, cause error) ExecutionResult {
	e.logger.InfoContext(ctx, "execution interrupted, leaving assessment for redelivery",
		"assessment_id", id,
		"error", cause,
	)
	return ExecutionResult{Abandoned: true, Err: ctx.Err()}
}

// replay re-announces the stored outcome of a record that already finished.
func (e *AnalysisExecutor) replay(ctx context.Context, rec *model.Assessment) ExecutionResult {
	e.logger.InfoContext(ctx, "assessment already terminal, re-announcing outcome",
		"assessment_id", rec.ID,
		"status", rec.Status,
	)
	res := ExecutionResult{Replayed: true, Outcome: assessment.OutcomeSuccess}
	if rec.Status == model.AssessmentStatusFailed {
		res.Outcome = assessment.OutcomeFailed
		if rec.ReportText != nil {
			res.Detail = strings.TrimSpace(*rec.ReportText)
		}
	}
	return res
}

func (e *AnalysisExecutor) forceFailed(ctx context.Context, id string) {
	if _, err := e.repo.UpdateStatus(ctx, id, model.AssessmentStatusFailed); err != nil {
		e.logger.ErrorContext(ctx, "failed to force assessment to failed", "assessment_id", id, "error", err)
	}
}

// persistContext detaches result writes from cancellation of the worker context.
func (e *AnalysisExecutor) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.persistTimeout)
}
