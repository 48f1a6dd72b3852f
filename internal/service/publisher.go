package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/observability/metrics"
	"github.com/psyassess/assessd/internal/observability/statsd"
)

const defaultPublishTimeout = 3 * time.Second

// OutcomePublisherOptions groups dependencies for OutcomePublisher.
type OutcomePublisherOptions struct {
	Broker        core.Broker   // Required: pub/sub transport
	ChannelPrefix string        // Optional: defaults to config.DefaultChannelPrefix
	Timeout       time.Duration // Optional: bound on a single publish
	Logger        *slog.Logger  // Optional: structured logger
	Metrics       statsd.Sink   // Optional: metrics sink
}

// OutcomePublisher announces terminal outcomes on the per-assessment channel.
type OutcomePublisher struct {
	broker  core.Broker
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewOutcomePublisher constructs an OutcomePublisher.
func NewOutcomePublisher(opts OutcomePublisherOptions) (*OutcomePublisher, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = config.DefaultChannelPrefix
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomePublisher{
		broker:  opts.Broker,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger.With("component", "outcome_publisher"),
		metrics: opts.Metrics,
	}, nil
}

// MustNewOutcomePublisher constructs an OutcomePublisher and panics on error.
func MustNewOutcomePublisher(opts OutcomePublisherOptions) *OutcomePublisher {
	p, err := NewOutcomePublisher(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create OutcomePublisher: %v", err))
	}
	return p
}

// Channel returns the broker channel carrying outcomes for assessmentID.
func (p *OutcomePublisher) Channel(assessmentID string) string {
	return assessment.ChannelName(p.prefix, assessmentID)
}

// Publish sends one outcome message. The publish outlives cancellation of ctx so a
// terminal status that was written is still announced during shutdown.
// Errors are logged and counted; callers only use the return value for reporting.
func (p *OutcomePublisher) Publish(
	ctx context.Context,
	assessmentID string,
	outcome assessment.Outcome,
	detail string,
) error {
	payload, err := assessment.NewOutcomeMessage(assessmentID, outcome, detail).Encode()
	if err != nil {
		metrics.EmitPublish(p.metrics, string(outcome), err)
		return fmt.Errorf("%w: %w", ErrPublishFailure, err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	channel := p.Channel(assessmentID)
	err = p.broker.Publish(pubCtx, channel, payload)
	metrics.EmitPublish(p.metrics, string(outcome), err)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to publish outcome",
			"assessment_id", assessmentID,
			"channel", channel,
			"outcome", outcome,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrPublishFailure, err)
	}

	p.logger.DebugContext(ctx, "outcome published",
		"assessment_id", assessmentID,
		"outcome", outcome,
	)
	return nil
}
