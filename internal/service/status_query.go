package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/model"
)

// StatusQueryServiceOptions groups dependencies for StatusQueryService.
type StatusQueryServiceOptions struct {
	Reader     core.AssessmentReader // Required: record lookup
	Retries    int                   // Optional: extra attempts after a not-found read
	RetryDelay time.Duration         // Optional: pause between attempts
	Logger     *slog.Logger          // Optional: structured logger
}

// StatusQueryService answers point-in-time status reads.
// A freshly submitted record may not be visible on every replica yet, so
// not-found reads are retried a bounded number of times.
type StatusQueryService struct {
	reader     core.AssessmentReader
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewStatusQueryService constructs a StatusQueryService.
func NewStatusQueryService(opts StatusQueryServiceOptions) (*StatusQueryService, error) {
	if opts.Reader == nil {
		return nil, errors.New("AssessmentReader is required")
	}
	if opts.Retries < 0 {
		return nil, errors.New("retries must not be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusQueryService{
		reader:     opts.Reader,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		logger:     logger.With("component", "status_query"),
	}, nil
}

// MustNewStatusQueryService constructs a StatusQueryService and panics on error.
func MustNewStatusQueryService(opts StatusQueryServiceOptions) *StatusQueryService {
	svc, err := NewStatusQueryService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create StatusQueryService: %v", err))
	}
	return svc
}

// Get returns the record for id, retrying not-found reads.
// Returns ErrJobNotFound once retries are spent; other errors return immediately.
func (s *StatusQueryService) Get(ctx context.Context, id string) (*model.Assessment, error) {
	for attempt := 0; ; attempt++ {
		rec, err := s.reader.GetByID(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, model.ErrAssessmentNotFound) {
			return nil, fmt.Errorf("get assessment %s: %w", id, err)
		}
		if attempt >= s.retries {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}

		s.logger.DebugContext(ctx, "assessment not visible yet, retrying",
			"assessment_id", id,
			"attempt", attempt+1,
		)
		if err := sleepContext(ctx, s.retryDelay); err != nil {
			return nil, err
		}
	}
}

// GetStatus returns the current status of id.
func (s *StatusQueryService) GetStatus(ctx context.Context, id string) (model.AssessmentStatus, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
