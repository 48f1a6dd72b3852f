package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
)

var (
	// ErrReportNotReady is returned when a report is requested before the record completed.
	ErrReportNotReady = errors.New("report not ready")
	// ErrReportMissing is returned for a complete record without report text.
	ErrReportMissing = errors.New("report text missing for complete assessment")
)

// Messages returned with a report that is not available.
const (
	MessageReportQueued     = "report is queued"
	MessageReportGenerating = "report is being generated"
	MessageReportFailed     = "report generation failed"
)

// AssessmentServiceOptions groups dependencies for AssessmentService.
type AssessmentServiceOptions struct {
	Repo   core.AssessmentRepository // Required: job record store
	Queue  core.Queue                // Required: analysis queue
	Status *StatusQueryService       // Required: retrying reads
	Logger *slog.Logger              // Optional: structured logger
}

// AssessmentService is the request-tier entry point: it accepts submissions and serves reports.
type AssessmentService struct {
	repo   core.AssessmentRepository
	queue  core.Queue
	status *StatusQueryService
	logger *slog.Logger
}

// NewAssessmentService constructs an AssessmentService.
func NewAssessmentService(opts AssessmentServiceOptions) (*AssessmentService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AssessmentRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Status == nil {
		return nil, errors.New("StatusQueryService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AssessmentService{
		repo:   opts.Repo,
		queue:  opts.Queue,
		status: opts.Status,
		logger: logger.With("component", "assessment_service"),
	}, nil
}

// MustNewAssessmentService constructs an AssessmentService and panics on error.
func MustNewAssessmentService(opts AssessmentServiceOptions) *AssessmentService {
	svc, err := NewAssessmentService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AssessmentService: %v", err))
	}
	return svc
}

// Submit stores a pending record and queues it for analysis.
// A queueing failure is logged and the record is still returned: it stays
// pending until the reaper fails it.
func (s *AssessmentService) Submit(ctx context.Context, req *model.CreateAssessmentRequest) (*model.Assessment, error) {
	rec, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}

	if err := s.queue.Enqueue(ctx, rec.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue assessment",
			"assessment_id", rec.ID,
			"error", err,
		)
		return rec, nil
	}

	s.logger.InfoContext(ctx, "assessment submitted", "assessment_id", rec.ID)
	return rec, nil
}

// Status returns the current status of id.
func (s *AssessmentService) Status(ctx context.Context, id string) (model.AssessmentStatus, error) {
	return s.status.GetStatus(ctx, id)
}

// Report returns the report view of id. A record that is not complete yields
// ErrReportNotReady together with a response carrying the explanatory message.
func (s *AssessmentService) Report(ctx context.Context, id string) (*model.AssessmentReportResponse, error) {
	rec, err := s.status.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &model.AssessmentReportResponse{ID: rec.ID, Status: rec.Status}
	switch rec.Status {
	case model.AssessmentStatusComplete:
		if rec.ReportText == nil || strings.TrimSpace(*rec.ReportText) == "" {
			s.logger.ErrorContext(ctx, "complete assessment has no report text", "assessment_id", id)
			return nil, fmt.Errorf("%w: %s", ErrReportMissing, id)
		}
		resp.ReportText = *rec.ReportText
		return resp, nil
	case model.AssessmentStatusPending:
		resp.Message = MessageReportQueued
	case model.AssessmentStatusProcessing:
		resp.Message = MessageReportGenerating
	case model.AssessmentStatusFailed:
		resp.Message = MessageReportFailed
		if rec.ReportText != nil {
			resp.ReportText = assessment.Truncate(*rec.ReportText, assessment.MaxErrorDetailRunes)
		}
	}
	return resp, ErrReportNotReady
}
